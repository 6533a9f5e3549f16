package main

import (
	"context"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"InboxRPA/internal/app"
	"InboxRPA/internal/config"
	"InboxRPA/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:           "inboxrpa",
	Short:         "Follow links from unread mail and press the button they lead to",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "YAML config file (defaults to $INBOXRPA_CONFIG)")
	rootCmd.PersistentFlags().Bool("debug", false, "log at debug level")

	runCmd.Flags().Bool("forever", false, "repeat runs until interrupted")
	runCmd.Flags().Duration("interval", 0, "pause between runs in forever mode (overrides EXECUTION_INTERVAL)")

	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process unread mail once, or forever with --forever",
	RunE: func(cmd *cobra.Command, args []string) error {
		forever, _ := cmd.Flags().GetBool("forever")
		interval, _ := cmd.Flags().GetDuration("interval")

		cfg, logger, closeLogs, err := setup(cmd)
		if err != nil {
			return err
		}
		defer closeLogs.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		application, err := app.New(cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := application.Close(); err != nil {
				logger.Warn("closing ledger store", "error", err)
			}
		}()

		if forever {
			return application.Serve(ctx, interval)
		}

		_, err = application.RunOnce(ctx)
		return err
	},
}

func setup(cmd *cobra.Command) (config.Config, *slog.Logger, io.Closer, error) {
	path, _ := cmd.Flags().GetString("config")
	debug, _ := cmd.Flags().GetBool("debug")

	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, nil, err
	}

	logger, closer, err := logging.New(cfg.Logging.Level, cfg.Logging.Dir)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, closer, nil
}
