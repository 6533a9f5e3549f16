package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"time"

	"InboxRPA/internal/domain"
	"InboxRPA/internal/ports"
	"InboxRPA/internal/retry"
)

// State is a step of the per-run state machine.
type State string

const (
	StateInit            State = "init"
	StatePreflightCheck  State = "preflight_check"
	StateComponentsReady State = "components_ready"
	StateProcessingUnits State = "processing_units"
	StateCleanup         State = "cleanup"
	StateSummarized      State = "summarized"
)

const (
	systemSender   = "SYSTEM"
	generalSubject = "ERROR_GENERAL"
	generalContent = "System error"
	generalResult  = "General failure"
	linkFailed     = "URL processing failed"
	urlInvalid     = "URL validation failed"
	noLinksResult  = "No links"
)

// Activator runs the element fallback chain on the current page.
type Activator interface {
	Activate(ctx context.Context, driver ports.Driver, strategies []domain.SelectorSpec) (domain.ClickAttemptResult, error)
}

// Ledger persists outcomes under process identifiers.
type Ledger interface {
	NextProcessID() domain.ProcessID
	Record(ctx context.Context, rec domain.OutcomeRecord) error
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Preflight ports.Preflight
	Mail      ports.MailSource
	Extractor ports.LinkExtractor
	Prober    ports.Prober
	Drivers   ports.DriverFactory
	Activator Activator
	Ledger    Ledger
	Notifier  ports.Notifier
	Recorder  ports.Recorder
	Logger    *slog.Logger
	// OnTransition observes state changes.
	OnTransition func(State)
}

// PipelineConfig carries the per-run settings.
type PipelineConfig struct {
	Query      domain.FetchQuery
	Strategies []domain.SelectorSpec
	Retry      retry.Policy
	Retention  time.Duration
}

// Pipeline implements the mailbox-to-browser workflow.
type Pipeline struct {
	preflight ports.Preflight
	mail      ports.MailSource
	extractor ports.LinkExtractor
	prober    ports.Prober
	drivers   ports.DriverFactory
	activator Activator
	ledger    Ledger
	notifier  ports.Notifier
	recorder  ports.Recorder
	logger    *slog.Logger
	observe   func(State)

	cfg PipelineConfig
	now func() time.Time
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps, cfg PipelineConfig) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Retry.Logger == nil {
		cfg.Retry.Logger = logger
	}
	if deps.Recorder != nil && cfg.Retry.OnRetry == nil {
		recorder := deps.Recorder
		cfg.Retry.OnRetry = func(op string, _ int, _ error) { recorder.Retried(op) }
	}

	return &Pipeline{
		preflight: deps.Preflight,
		mail:      deps.Mail,
		extractor: deps.Extractor,
		prober:    deps.Prober,
		drivers:   deps.Drivers,
		activator: deps.Activator,
		ledger:    deps.Ledger,
		notifier:  deps.Notifier,
		recorder:  deps.Recorder,
		logger:    logger,
		observe:   deps.OnTransition,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Run executes one pass. The summary is always returned; the error reports a failed
// preflight, a general failure, or an interrupt.
func (p *Pipeline) Run(ctx context.Context) (domain.RunSummary, error) {
	summary := domain.NewRunSummary(p.now())
	p.enter(StateInit)

	p.enter(StatePreflightCheck)
	if p.preflight != nil {
		if err := p.preflight.Check(ctx); err != nil {
			p.logger.Error("preflight failed", "error", err)
			p.enter(StateSummarized)
			p.summarize(ctx, &summary, false)
			return summary, fmt.Errorf("preflight: %w", err)
		}
	}

	err := p.process(ctx, &summary)

	p.enter(StateSummarized)
	p.summarize(ctx, &summary, true)
	return summary, err
}

func (p *Pipeline) process(ctx context.Context, summary *domain.RunSummary) error {
	p.enter(StateComponentsReady)
	if p.drivers == nil {
		err := domain.Errorf(domain.KindConfiguration, "driver factory is not configured")
		p.recordGeneral(ctx, summary, err)
		return err
	}

	driver, err := retry.Do(ctx, p.cfg.Retry.For(domain.KindAutomation, domain.KindConnection), "start driver", p.drivers.Start)
	if err != nil {
		p.logger.Error("driver start failed", "error", err)
		p.recordGeneral(ctx, summary, err)
		p.enter(StateCleanup)
		return fmt.Errorf("start driver: %w", err)
	}
	defer p.cleanup(driver)

	p.enter(StateProcessingUnits)
	if p.mail == nil {
		err := domain.Errorf(domain.KindConfiguration, "mail source is not configured")
		p.recordGeneral(ctx, summary, err)
		return err
	}

	messages, err := retry.Do(ctx, p.cfg.Retry.For(domain.KindConnection), "fetch messages", func(ctx context.Context) ([]domain.Message, error) {
		return p.mail.Fetch(ctx, p.cfg.Query)
	})
	if err != nil {
		p.logger.Error("fetch messages failed", "error", err)
		p.recordGeneral(ctx, summary, err)
		return fmt.Errorf("fetch messages: %w", err)
	}
	p.logger.Info("messages to process", "count", len(messages))

	for i, msg := range messages {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("run interrupted", "remaining_messages", len(messages)-i)
			return err
		}
		if err := p.processUnit(ctx, driver, i+1, msg, summary); err != nil {
			return err
		}
	}

	return nil
}

// cleanup always closes the session, also while panicking.
func (p *Pipeline) cleanup(driver ports.Driver) {
	p.enter(StateCleanup)
	if driver == nil {
		return
	}
	if err := driver.Close(); err != nil {
		p.logger.Warn("close driver", "error", err)
		return
	}
	p.logger.Info("driver closed")
}

func (p *Pipeline) processUnit(ctx context.Context, driver ports.Driver, number int, msg domain.Message, summary *domain.RunSummary) error {
	var links []string
	if p.extractor != nil {
		links = p.extractor.Extract(msg)
	}
	unit := domain.NewProcessingUnit(msg, links)
	pid := p.nextProcessID()

	if p.recorder != nil {
		p.recorder.UnitProcessed()
	}
	p.logger.Info("processing message",
		"number", number,
		"process_id", pid,
		"sender", unit.Sender,
		"subject", unit.Subject,
		"content_chars", len([]rune(unit.Content)),
		"links", len(unit.Links))

	if len(unit.Links) == 0 {
		p.logger.Warn("no links found in message", "process_id", pid)
		p.record(ctx, summary, unit, pid, outcome{status: domain.StatusNoLinks, final: noLinksResult})
		return nil
	}

	for i, link := range unit.Links {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("run interrupted", "process_id", pid, "remaining_links", len(unit.Links)-i)
			return err
		}

		p.logger.Info("processing url", "process_id", pid, "url", link)
		result := p.visit(ctx, driver, link)
		result.url = link
		p.record(ctx, summary, unit, pid, result)
	}
	return nil
}

type outcome struct {
	url       string
	status    domain.Status
	detail    string
	final     string
	errorKind string
}

// visit handles one link. Every path, including a panic, yields exactly one outcome.
func (p *Pipeline) visit(ctx context.Context, driver ports.Driver, link string) (result outcome) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic while processing url", "url", link, "panic", r, "stack", string(debug.Stack()))
			result = outcome{
				status:    domain.StatusError,
				detail:    fmt.Sprintf("panic: %v", r),
				final:     linkFailed,
				errorKind: "Unexpected Error",
			}
		}
	}()

	if p.prober != nil {
		code, err := p.prober.Probe(ctx, link)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				p.logger.Warn("url probe interrupted", "url", link, "error", err)
				return outcome{status: domain.StatusError, detail: err.Error(), final: linkFailed, errorKind: errorKindName(ctxErr)}
			}
			p.logger.Warn("url validation failed", "url", link, "error", err)
			return outcome{status: domain.StatusInvalidURL, detail: err.Error(), final: urlInvalid, errorKind: "URL Validation Error"}
		}
		if code >= 400 {
			p.logger.Warn("url returned error status", "url", link, "status", code)
			return outcome{
				status:    domain.StatusInvalidURL,
				detail:    fmt.Sprintf("URL returned status code %d", code),
				final:     urlInvalid,
				errorKind: "URL Validation Error",
			}
		}
	}

	err := retry.Run(ctx, p.cfg.Retry.For(domain.KindAutomation, domain.KindConnection), "open url", func(ctx context.Context) error {
		return driver.Open(ctx, link)
	})
	if err != nil {
		p.logger.Error("open url failed", "url", link, "error", err)
		if domain.IsKind(err, domain.KindValidation) {
			return outcome{status: domain.StatusInvalidURL, detail: err.Error(), final: urlInvalid, errorKind: "URL Validation Error"}
		}
		return outcome{status: domain.StatusError, detail: err.Error(), final: linkFailed, errorKind: "Web Automation Error"}
	}

	if title, err := driver.Title(ctx); err != nil {
		p.logger.Warn("read page title", "url", link, "error", err)
	} else {
		p.logger.Info("page opened", "url", link, "title", title)
	}

	if p.activator == nil {
		return outcome{status: domain.StatusPartialSuccess, final: "Partial success - no activation configured"}
	}

	click, err := p.activator.Activate(ctx, driver, p.cfg.Strategies)
	if err != nil {
		p.logger.Error("element activation failed", "url", link, "error", err)
		return outcome{status: domain.StatusError, detail: err.Error(), final: linkFailed, errorKind: "Web Automation Error"}
	}
	if !click.Success {
		return outcome{status: domain.StatusPartialSuccess, final: "Partial success - " + click.Observations}
	}
	return outcome{status: domain.StatusSuccess, final: "Success - " + click.Observations}
}

func (p *Pipeline) record(ctx context.Context, summary *domain.RunSummary, unit domain.ProcessingUnit, pid domain.ProcessID, result outcome) {
	now := p.now()
	rec := domain.OutcomeRecord{
		Timestamp:     now,
		Sender:        unit.Sender,
		Subject:       unit.Subject,
		Content:       unit.Content,
		URL:           result.url,
		Status:        result.status,
		DetailedError: result.detail,
		FinalResult:   result.final,
		ProcessID:     pid,
	}

	summary.Count(rec.Status)
	if !rec.Status.Counted() {
		where := "Email: " + unit.Subject
		if result.url != "" {
			where = "URL: " + result.url
		}
		summary.ErrorDetails = append(summary.ErrorDetails, domain.ErrorDetail{
			Kind:      result.errorKind,
			Message:   result.detail,
			Context:   where,
			Timestamp: now,
		})
	}
	if p.recorder != nil {
		p.recorder.OutcomeRecorded(rec.Status)
	}

	if p.ledger == nil {
		return
	}
	// The outcome of an interrupted link is still written.
	if err := p.ledger.Record(context.WithoutCancel(ctx), rec); err != nil {
		summary.DroppedRecords++
		if p.recorder != nil {
			p.recorder.RecordDropped()
		}
	}
}

func (p *Pipeline) recordGeneral(ctx context.Context, summary *domain.RunSummary, cause error) {
	unit := domain.ProcessingUnit{Sender: systemSender, Subject: generalSubject, Content: generalContent}
	p.record(ctx, summary, unit, p.nextProcessID(), outcome{
		status:    domain.StatusError,
		detail:    "System error: " + cause.Error(),
		final:     generalResult,
		errorKind: errorKindName(cause),
	})
}

func (p *Pipeline) nextProcessID() domain.ProcessID {
	if p.ledger == nil {
		return domain.ProcessID(fmt.Sprintf("RPA_%s_local", p.now().Format("20060102_150405")))
	}
	return p.ledger.NextProcessID()
}

// summarize logs the counters. Pruning and the error report only follow a run that got
// past preflight.
func (p *Pipeline) summarize(ctx context.Context, summary *domain.RunSummary, maintain bool) {
	summary.Elapsed = p.now().Sub(summary.StartedAt)

	p.logger.Info("run summary",
		"processed", summary.TotalProcessed,
		"success", summary.TotalSuccess,
		"errors", summary.TotalErrors,
		"dropped_records", summary.DroppedRecords,
		"success_rate", fmt.Sprintf("%.1f%%", summary.SuccessRate()),
		"elapsed", summary.Elapsed.Round(time.Millisecond))
	for status, count := range summary.ByStatus {
		p.logger.Debug("outcomes by status", "status", status, "count", count)
	}
	if p.recorder != nil {
		p.recorder.RunFinished(summary.Elapsed)
	}

	if !maintain {
		return
	}

	maintenanceCtx := context.WithoutCancel(ctx)
	if p.ledger != nil && p.cfg.Retention > 0 {
		if _, err := p.ledger.Prune(maintenanceCtx, p.cfg.Retention); err != nil {
			p.logger.Warn("prune ledger", "error", err)
		}
	}

	if len(summary.ErrorDetails) == 0 {
		return
	}
	report := BuildErrorReport(summary.TotalErrors, summary.ErrorDetails)
	p.logger.Info("error report generated", "entries", len(summary.ErrorDetails))
	p.logger.Debug(report)

	if p.notifier == nil {
		return
	}
	if err := p.notifier.PublishReport(maintenanceCtx, report); err != nil {
		p.logger.Warn("publish error report", "error", err)
	}
}

func (p *Pipeline) enter(state State) {
	p.logger.Debug("pipeline state", "state", state)
	if p.observe != nil {
		p.observe(state)
	}
}

func errorKindName(err error) string {
	kind, ok := domain.KindOf(err)
	if !ok {
		if errors.Is(err, context.Canceled) {
			return "Interrupted"
		}
		return "System Error"
	}
	switch kind {
	case domain.KindConnection:
		return "Email Connection Error"
	case domain.KindAutomation:
		return "Web Automation Error"
	case domain.KindStorage:
		return "Database Error"
	case domain.KindConfiguration:
		return "Configuration Error"
	default:
		return "Validation Error"
	}
}
