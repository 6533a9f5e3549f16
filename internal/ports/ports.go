package ports

import (
	"context"
	"time"

	"InboxRPA/internal/domain"
)

// MailSource pulls messages from the mailbox without changing their state.
type MailSource interface {
	Fetch(ctx context.Context, query domain.FetchQuery) ([]domain.Message, error)
}

// LinkExtractor turns a message into its ordered candidate links.
type LinkExtractor interface {
	Extract(msg domain.Message) []string
}

// Prober checks that a URL exists without downloading it.
type Prober interface {
	Probe(ctx context.Context, url string) (int, error)
}

// DriverFactory starts one automation session per run.
type DriverFactory interface {
	Start(ctx context.Context) (Driver, error)
}

// Driver is the narrow browser-automation surface the pipeline relies on.
type Driver interface {
	Open(ctx context.Context, url string) error
	Activate(ctx context.Context, spec domain.SelectorSpec, timeout time.Duration) error
	Title(ctx context.Context) (string, error)
	CurrentURL(ctx context.Context) (string, error)
	Close() error
}

// RecordStore is the append-only outcome table.
type RecordStore interface {
	Insert(ctx context.Context, rec domain.OutcomeRecord) (int64, error)
	Recent(ctx context.Context, limit int) ([]domain.OutcomeRecord, error)
	Errors(ctx context.Context, limit int) ([]domain.OutcomeRecord, error)
	Count(ctx context.Context) (int64, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Preflight validates the environment before any side effect.
type Preflight interface {
	Check(ctx context.Context) error
}

// Notifier delivers run reports to an operator channel.
type Notifier interface {
	PublishReport(ctx context.Context, report string) error
}

// Recorder receives pipeline events for metrics. Implementations must be cheap.
type Recorder interface {
	UnitProcessed()
	OutcomeRecorded(status domain.Status)
	RecordDropped()
	Retried(operation string)
	RunFinished(elapsed time.Duration)
}

// Scheduler controls when runs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
