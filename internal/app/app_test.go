package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"InboxRPA/internal/config"
	"InboxRPA/internal/domain"
	"InboxRPA/internal/infrastructure/browser"
)

func testConfig() config.Config {
	return config.Config{
		Mail: config.MailConfig{Port: 993, Mailbox: "INBOX", Limit: 10},
		Browser: config.BrowserConfig{
			Driver:         config.DriverHTTP,
			PageTimeout:    time.Second,
			AttemptTimeout: time.Second,
		},
		Database:  config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"},
		Retry:     config.RetryConfig{MaxRetries: 1, Delay: time.Millisecond},
		Scheduler: config.SchedulerConfig{Interval: time.Minute},
	}
}

func TestNewAndRecordsOnEmptyLedger(t *testing.T) {
	t.Parallel()

	application, err := New(testConfig(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer application.Close()

	rows, total, err := application.Records(context.Background(), 5, false)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(rows) != 0 || total != 0 {
		t.Fatalf("expected empty ledger, got %d rows, total %d", len(rows), total)
	}

	if _, _, err := application.Records(context.Background(), 5, true); err != nil {
		t.Fatalf("error records: %v", err)
	}
}

func TestNewRejectsUnknownDatabaseDriver(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Database.Driver = "oracle"

	if _, err := New(cfg, nil); !domain.IsKind(err, domain.KindConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestRunOnceStopsAtPreflightWithoutCredentials(t *testing.T) {
	t.Parallel()

	application, err := New(testConfig(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer application.Close()

	summary, err := application.RunOnce(context.Background())
	if !domain.IsKind(err, domain.KindConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if summary.TotalProcessed != 0 {
		t.Fatalf("no unit should be processed, got %d", summary.TotalProcessed)
	}

	_, total, err := application.Records(context.Background(), 1, false)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if total != 0 {
		t.Fatalf("preflight failure must not write records, got %d", total)
	}
}

func TestFailedPreflightLeavesLedgerFileUntouched(t *testing.T) {
	t.Parallel()

	dataDir := filepath.Join(t.TempDir(), "data")
	cfg := testConfig()
	cfg.Database.DSN = filepath.Join(dataDir, "ledger.db")

	application, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer application.Close()

	if _, err := application.RunOnce(context.Background()); !domain.IsKind(err, domain.KindConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if application.store.Opened() {
		t.Fatal("ledger store must not be opened when preflight fails")
	}
	if _, err := os.Stat(dataDir); !os.IsNotExist(err) {
		t.Fatalf("database directory should not be created before preflight passes: %v", err)
	}
}

func TestNewDriverFactorySelectsByName(t *testing.T) {
	t.Parallel()

	if _, ok := newDriverFactory(config.BrowserConfig{Driver: "CHROME"}, nil).(*browser.ChromeDriverFactory); !ok {
		t.Fatal("expected chrome factory")
	}
	if _, ok := newDriverFactory(config.BrowserConfig{Driver: config.DriverHTTP}, nil).(*browser.HTTPDriverFactory); !ok {
		t.Fatal("expected http factory")
	}
}
