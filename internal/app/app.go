// Package app wires configuration to adapters and the pipeline use case.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"InboxRPA/internal/config"
	"InboxRPA/internal/domain"
	"InboxRPA/internal/infrastructure/browser"
	"InboxRPA/internal/infrastructure/mail"
	"InboxRPA/internal/infrastructure/metrics"
	"InboxRPA/internal/infrastructure/parser"
	"InboxRPA/internal/infrastructure/preflight"
	"InboxRPA/internal/infrastructure/probe"
	"InboxRPA/internal/infrastructure/scheduler"
	"InboxRPA/internal/infrastructure/storage"
	"InboxRPA/internal/infrastructure/telegram"
	"InboxRPA/internal/ledger"
	"InboxRPA/internal/ports"
	"InboxRPA/internal/retry"
	"InboxRPA/internal/selector"
	"InboxRPA/internal/usecase"
)

const (
	shutdownTimeout = 10 * time.Second
	recentFailures  = 5
)

// Application owns the long-lived resources of one process.
type Application struct {
	cfg      config.Config
	pipeline *usecase.Pipeline
	ledger   *ledger.Ledger
	store    *storage.LazyRepository
	recorder *metrics.Recorder
	logger   *slog.Logger
}

// New builds the pipeline without connecting to anything. Close releases the ledger store.
func New(cfg config.Config, logger *slog.Logger) (*Application, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	driver, err := storage.ParseDriver(cfg.Database.Driver)
	if err != nil {
		return nil, domain.NewError(domain.KindConfiguration, "parse database driver", err)
	}
	// Opened on the first record, after preflight has passed.
	store := storage.NewLazyRepository(driver, cfg.Database.DSN, logger)

	extractor, err := parser.NewLinkExtractor(cfg.Links.URLPattern, logger.With("component", "links"))
	if err != nil {
		return nil, domain.NewError(domain.KindConfiguration, "compile url pattern", err)
	}

	recorder := metrics.NewRecorder()
	policy := retry.Policy{
		MaxRetries:   cfg.Retry.MaxRetries,
		InitialDelay: cfg.Retry.Delay,
		MaxDelay:     cfg.Retry.MaxDelay,
		Logger:       logger.With("component", "retry"),
		OnRetry:      func(op string, _ int, _ error) { recorder.Retried(op) },
	}

	book := ledger.New(store, ledger.NewIDGenerator(nil, nil), policy, logger.With("component", "ledger"))

	var notifier ports.Notifier
	tg := cfg.Notifications.Telegram
	if n := telegram.NewNotifier(tg.BotToken, tg.ChatID, tg.BaseURL); n.Enabled() {
		notifier = n
	}

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Preflight: preflight.NewChecker(preflight.Credentials{
			User:     cfg.Mail.User,
			Password: cfg.Mail.Password,
			Server:   cfg.Mail.Server,
		}, logger.With("component", "preflight")),
		Mail: mail.NewIMAPSource(mail.Config{
			Server:   cfg.Mail.Server,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.User,
			Password: cfg.Mail.Password,
			Mailbox:  cfg.Mail.Mailbox,
		}, logger.With("component", "mail")),
		Extractor: extractor,
		Prober:    probe.NewHTTPProber(nil, cfg.Links.ProbeRate, logger.With("component", "probe")),
		Drivers:   newDriverFactory(cfg.Browser, logger.With("component", "browser")),
		Activator: selector.NewEngine(cfg.Browser.AttemptTimeout, policy, logger.With("component", "selector")),
		Ledger:    book,
		Notifier:  notifier,
		Recorder:  recorder,
		Logger:    logger.With("component", "pipeline"),
	}, usecase.PipelineConfig{
		Query:      cfg.Query(),
		Strategies: selector.Chain(cfg.Strategies(), cfg.Override()),
		Retry:      policy,
		Retention:  cfg.Retention(),
	})

	return &Application{
		cfg:      cfg,
		pipeline: pipeline,
		ledger:   book,
		store:    store,
		recorder: recorder,
		logger:   logger,
	}, nil
}

func newDriverFactory(cfg config.BrowserConfig, logger *slog.Logger) ports.DriverFactory {
	if strings.EqualFold(cfg.Driver, config.DriverChrome) {
		return browser.NewChromeDriverFactory(browser.ChromeOptions{
			Headless:    cfg.Headless,
			ExecPath:    cfg.ExecPath,
			PageTimeout: cfg.PageTimeout,
		}, logger)
	}
	return browser.NewHTTPDriverFactory(cfg.PageTimeout, nil, logger)
}

// RunOnce performs a single pass, then logs the ledger totals and the latest failures.
func (a *Application) RunOnce(ctx context.Context) (domain.RunSummary, error) {
	summary, err := a.pipeline.Run(ctx)
	a.logLedger(context.WithoutCancel(ctx))
	return summary, err
}

func (a *Application) logLedger(ctx context.Context) {
	if !a.store.Opened() {
		return
	}
	failures, total, err := a.Records(ctx, recentFailures, true)
	if err != nil {
		a.logger.Warn("read ledger", "error", err)
		return
	}
	a.logger.Info("ledger status", "records", total, "recent_failures", len(failures))
	for _, rec := range failures {
		a.logger.Debug("recent failure",
			"id", rec.ID,
			"process_id", rec.ProcessID,
			"status", rec.Status,
			"url", rec.URL,
			"error", rec.DetailedError)
	}
}

// Serve repeats the pipeline every interval until ctx is done. The metrics endpoint runs
// alongside when an address is configured.
func (a *Application) Serve(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = a.cfg.Scheduler.Interval
	}

	driver := scheduler.NewIntervalScheduler(interval, a.logger.With("component", "scheduler"))
	runs := usecase.NewScheduler(driver, a.pipeline, a.logger.With("component", "scheduler"))

	g, gctx := errgroup.WithContext(ctx)
	if err := runs.Start(gctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.logger.Info("forever mode started", "interval", interval.String())

	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return runs.Stop(stopCtx)
	})

	if addr := a.cfg.Metrics.Addr; addr != "" {
		server := metrics.NewServer(addr, a.recorder, a.logger.With("component", "metrics"))
		g.Go(func() error {
			return server.Run(gctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Records lists recent ledger rows, or only failures when onlyErrors is set, plus the total count.
func (a *Application) Records(ctx context.Context, limit int, onlyErrors bool) ([]domain.OutcomeRecord, int64, error) {
	var (
		rows []domain.OutcomeRecord
		err  error
	)
	if onlyErrors {
		rows, err = a.ledger.Errors(ctx, limit)
	} else {
		rows, err = a.ledger.Recent(ctx, limit)
	}
	if err != nil {
		return nil, 0, err
	}

	total, err := a.ledger.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// Close releases the ledger store.
func (a *Application) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}
