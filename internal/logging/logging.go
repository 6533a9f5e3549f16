// Package logging builds the application logger: colored console output plus optional rotating files.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logFileName   = "inboxrpa.log"
	errorFileName = "inboxrpa-errors.log"
)

// New creates the logger. With a non-empty dir it also writes every record to
// inboxrpa.log and errors to inboxrpa-errors.log; the returned closer releases them.
func New(level, dir string) (*slog.Logger, io.Closer, error) {
	return build(os.Stdout, level, dir)
}

func build(console io.Writer, level, dir string) (*slog.Logger, io.Closer, error) {
	lvl := levelFromString(level)
	handlers := []slog.Handler{
		tint.NewHandler(console, &tint.Options{
			Level:      lvl,
			TimeFormat: time.RFC3339,
			NoColor:    !isTerminal(console),
		}),
	}

	closers := closerList{}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}

		all := rotating(filepath.Join(dir, logFileName))
		errs := rotating(filepath.Join(dir, errorFileName))
		closers = append(closers, all, errs)

		handlers = append(handlers,
			slog.NewTextHandler(all, &slog.HandlerOptions{Level: lvl}),
			slog.NewTextHandler(errs, &slog.HandlerOptions{Level: slog.LevelError}),
		)
	}

	return slog.New(fanout(handlers)), closers, nil
}

func rotating(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}
}

func levelFromString(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "info":
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

type closerList []io.Closer

func (c closerList) Close() error {
	var errs []error
	for _, closer := range c {
		errs = append(errs, closer.Close())
	}
	return errors.Join(errs...)
}
