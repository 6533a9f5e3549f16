package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLevelFromString(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"ERROR":   slog.LevelError,
		"warning": slog.LevelWarn,
		" info ":  slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"":        slog.LevelDebug,
	}
	for input, want := range cases {
		if got := levelFromString(input); got != want {
			t.Fatalf("levelFromString(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestBuildWritesConsoleAndFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var console bytes.Buffer

	logger, closer, err := build(&console, "info", dir)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	component := logger.With("component", "pipeline")
	component.Debug("hidden detail")
	component.Info("record saved", "status", "Success")
	component.Error("open url failed", "url", "https://a.test")

	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	out := console.String()
	if strings.Contains(out, "hidden detail") {
		t.Fatal("debug record should be filtered at info level")
	}
	if !strings.Contains(out, "record saved") || !strings.Contains(out, "component=pipeline") {
		t.Fatalf("console output missing record: %q", out)
	}

	all, err := os.ReadFile(filepath.Join(dir, logFileName))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(all), "record saved") || !strings.Contains(string(all), "open url failed") {
		t.Fatalf("main log missing records: %q", all)
	}

	errorsOnly, err := os.ReadFile(filepath.Join(dir, errorFileName))
	if err != nil {
		t.Fatalf("read error file: %v", err)
	}
	if strings.Contains(string(errorsOnly), "record saved") || !strings.Contains(string(errorsOnly), "open url failed") {
		t.Fatalf("error log should hold only errors: %q", errorsOnly)
	}
}

func TestBuildWithoutDirLogsToConsoleOnly(t *testing.T) {
	t.Parallel()

	var console bytes.Buffer
	logger, closer, err := build(&console, "debug", "")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer closer.Close()

	logger.Debug("visible")
	if !strings.Contains(console.String(), "visible") {
		t.Fatalf("expected debug output, got %q", console.String())
	}
}
