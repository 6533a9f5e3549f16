package usecase

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"InboxRPA/internal/domain"
	"InboxRPA/internal/ledger"
	"InboxRPA/internal/ports"
	"InboxRPA/internal/retry"
	"InboxRPA/internal/selector"
)

type fakeMail struct {
	messages []domain.Message
	err      error
	calls    int
}

func (f *fakeMail) Fetch(context.Context, domain.FetchQuery) ([]domain.Message, error) {
	f.calls++
	return f.messages, f.err
}

type splitExtractor struct{}

func (splitExtractor) Extract(msg domain.Message) []string {
	var links []string
	for _, field := range strings.Fields(msg.Text) {
		if strings.HasPrefix(field, "https://") {
			links = append(links, field)
		}
	}
	return links
}

type fakeProber struct {
	status map[string]int
}

func (f fakeProber) Probe(_ context.Context, url string) (int, error) {
	if code, ok := f.status[url]; ok {
		return code, nil
	}
	return 200, nil
}

type fakeDriver struct {
	mu          sync.Mutex
	opens       []string
	activations []domain.SelectorSpec
	closed      bool

	openErr   map[string]error
	openPanic map[string]bool
	onOpen    func(url string)
	clickable string
}

func (d *fakeDriver) Open(_ context.Context, url string) error {
	d.mu.Lock()
	d.opens = append(d.opens, url)
	d.mu.Unlock()

	if d.openPanic[url] {
		panic("driver exploded")
	}
	if d.onOpen != nil {
		d.onOpen(url)
	}
	return d.openErr[url]
}

func (d *fakeDriver) Activate(_ context.Context, spec domain.SelectorSpec, _ time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.activations = append(d.activations, spec)
	if d.clickable != "" && spec.Value == d.clickable {
		return nil
	}
	return domain.ErrElementNotFound
}

func (d *fakeDriver) Title(context.Context) (string, error)      { return "Page", nil }
func (d *fakeDriver) CurrentURL(context.Context) (string, error) { return "", nil }

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDriver) openCount(url string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, u := range d.opens {
		if u == url {
			n++
		}
	}
	return n
}

type fakeFactory struct {
	driver *fakeDriver
	err    error
	starts int
}

func (f *fakeFactory) Start(context.Context) (ports.Driver, error) {
	f.starts++
	if f.err != nil {
		return nil, f.err
	}
	return f.driver, nil
}

type memStore struct {
	mu      sync.Mutex
	records []domain.OutcomeRecord
	fail    bool
}

func (s *memStore) Insert(_ context.Context, rec domain.OutcomeRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return 0, domain.Errorf(domain.KindStorage, "disk full")
	}
	s.records = append(s.records, rec)
	return int64(len(s.records)), nil
}

func (s *memStore) Recent(context.Context, int) ([]domain.OutcomeRecord, error) { return nil, nil }
func (s *memStore) Errors(context.Context, int) ([]domain.OutcomeRecord, error) { return nil, nil }
func (s *memStore) Count(context.Context) (int64, error)                        { return 0, nil }
func (s *memStore) PruneBefore(context.Context, time.Time) (int64, error)       { return 0, nil }

type fakePreflight struct{ err error }

func (f fakePreflight) Check(context.Context) error { return f.err }

type fakeNotifier struct{ reports []string }

func (f *fakeNotifier) PublishReport(_ context.Context, report string) error {
	f.reports = append(f.reports, report)
	return nil
}

type harness struct {
	mail     *fakeMail
	driver   *fakeDriver
	factory  *fakeFactory
	store    *memStore
	notifier *fakeNotifier
	prober   fakeProber
	states   []State
}

func newHarness(messages ...domain.Message) *harness {
	driver := &fakeDriver{clickable: "//button"}
	return &harness{
		mail:     &fakeMail{messages: messages},
		driver:   driver,
		factory:  &fakeFactory{driver: driver},
		store:    &memStore{},
		notifier: &fakeNotifier{},
		prober:   fakeProber{status: map[string]int{}},
	}
}

func testPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		Sleep:        func(context.Context, time.Duration) error { return nil },
	}
}

func (h *harness) pipeline(preflight ports.Preflight) *Pipeline {
	policy := testPolicy()
	return NewPipeline(PipelineDeps{
		Preflight:    preflight,
		Mail:         h.mail,
		Extractor:    splitExtractor{},
		Prober:       h.prober,
		Drivers:      h.factory,
		Activator:    selector.NewEngine(time.Second, policy, nil),
		Ledger:       ledger.New(h.store, nil, policy, nil),
		Notifier:     h.notifier,
		OnTransition: func(s State) { h.states = append(h.states, s) },
	}, PipelineConfig{
		Query:      domain.FetchQuery{UnseenOnly: true, Limit: 10, NewestFirst: true},
		Strategies: selector.Chain(nil, nil),
		Retry:      policy,
	})
}

func assertPartition(t *testing.T, s domain.RunSummary) {
	t.Helper()
	if s.TotalProcessed != s.TotalSuccess+s.TotalErrors {
		t.Fatalf("processed %d != success %d + errors %d", s.TotalProcessed, s.TotalSuccess, s.TotalErrors)
	}
}

func message(text string) domain.Message {
	return domain.Message{Sender: "alerts@example.com", Subject: "Action required", Text: text}
}

func TestRunEndToEnd(t *testing.T) {
	t.Parallel()

	h := newHarness(message("Open https://a.test/x or https://bad.test"))
	h.prober.status["https://bad.test"] = 404

	summary, err := h.pipeline(nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(h.store.records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(h.store.records))
	}
	first, second := h.store.records[0], h.store.records[1]
	if first.Status != domain.StatusSuccess || first.URL != "https://a.test/x" || !strings.Contains(first.FinalResult, "strategy #3") {
		t.Fatalf("unexpected first record: %+v", first)
	}
	if second.Status != domain.StatusInvalidURL || second.URL != "https://bad.test" || !strings.Contains(second.DetailedError, "404") {
		t.Fatalf("unexpected second record: %+v", second)
	}
	if first.ProcessID == "" || first.ProcessID != second.ProcessID {
		t.Fatalf("links of one message share the unit process id: %q vs %q", first.ProcessID, second.ProcessID)
	}
	if h.driver.openCount("https://bad.test") != 0 {
		t.Fatal("invalid url must not reach the driver")
	}
	if len(h.driver.activations) != 3 {
		t.Fatalf("expected 3 activation attempts, got %d", len(h.driver.activations))
	}
	if !h.driver.closed {
		t.Fatal("driver was not closed")
	}

	if summary.TotalProcessed != 2 || summary.TotalSuccess != 1 || summary.TotalErrors != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	assertPartition(t, summary)

	wantStates := []State{StateInit, StatePreflightCheck, StateComponentsReady, StateProcessingUnits, StateCleanup, StateSummarized}
	if strings.Join(statesToStrings(h.states), ",") != strings.Join(statesToStrings(wantStates), ",") {
		t.Fatalf("unexpected states %v", h.states)
	}

	if len(h.notifier.reports) != 1 || !strings.Contains(h.notifier.reports[0], "URL: https://bad.test") {
		t.Fatalf("expected one error report, got %v", h.notifier.reports)
	}
}

func TestOpenFailureAfterRetriesRecordsErrorAndContinues(t *testing.T) {
	t.Parallel()

	h := newHarness(message("https://down.test/a https://up.test/b"))
	h.driver.openErr = map[string]error{
		"https://down.test/a": domain.Errorf(domain.KindAutomation, "page crashed"),
	}

	summary, err := h.pipeline(nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := h.driver.openCount("https://down.test/a"); got != 3 {
		t.Fatalf("expected 3 open attempts, got %d", got)
	}
	if h.driver.openCount("https://up.test/b") != 1 {
		t.Fatal("next link was not processed")
	}
	if len(h.store.records) != 2 || h.store.records[0].Status != domain.StatusError || h.store.records[1].Status != domain.StatusSuccess {
		t.Fatalf("unexpected records: %+v", h.store.records)
	}
	if !strings.Contains(h.store.records[0].DetailedError, "page crashed") || h.store.records[0].FinalResult != linkFailed {
		t.Fatalf("unexpected error record: %+v", h.store.records[0])
	}
	if summary.TotalErrors != 1 {
		t.Fatalf("expected 1 error, got %d", summary.TotalErrors)
	}
	assertPartition(t, summary)
}

func TestMessageWithoutLinksRecordsNoLinks(t *testing.T) {
	t.Parallel()

	h := newHarness(message("nothing to click"))

	summary, err := h.pipeline(nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.store.records) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(h.store.records))
	}
	rec := h.store.records[0]
	if rec.Status != domain.StatusNoLinks || rec.URL != "" || rec.FinalResult != noLinksResult {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if summary.TotalSuccess != 1 || summary.TotalErrors != 0 {
		t.Fatalf("no-links unit counts as success: %+v", summary)
	}
	if len(h.driver.opens) != 0 {
		t.Fatal("driver must not be used for a unit without links")
	}
	if len(h.notifier.reports) != 0 {
		t.Fatal("no report expected without errors")
	}
}

func TestPartialSuccessWhenNothingClickable(t *testing.T) {
	t.Parallel()

	h := newHarness(message("https://a.test/x"))
	h.driver.clickable = ""

	summary, err := h.pipeline(nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	rec := h.store.records[0]
	if rec.Status != domain.StatusPartialSuccess || !strings.Contains(rec.FinalResult, selector.NoElementObservation) {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if len(h.driver.activations) != len(selector.DefaultStrategies()) {
		t.Fatalf("expected every strategy to be tried, got %d", len(h.driver.activations))
	}
	if summary.TotalSuccess != 1 {
		t.Fatalf("partial success counts as success: %+v", summary)
	}
}

func TestPartitionAcrossMixedOutcomes(t *testing.T) {
	t.Parallel()

	h := newHarness(
		message("https://a.test/ok https://bad.test/404"),
		message("no links"),
		message("https://down.test/x https://boom.test/p"),
	)
	h.prober.status["https://bad.test/404"] = 410
	h.driver.openErr = map[string]error{"https://down.test/x": domain.Errorf(domain.KindConnection, "reset")}
	h.driver.openPanic = map[string]bool{"https://boom.test/p": true}

	summary, err := h.pipeline(nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	assertPartition(t, summary)
	if summary.TotalProcessed != 5 || summary.TotalSuccess != 2 || summary.TotalErrors != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(h.store.records) != 5 {
		t.Fatalf("expected one record per link or empty unit, got %d", len(h.store.records))
	}
	if len(summary.ErrorDetails) != 3 {
		t.Fatalf("expected 3 error details, got %d", len(summary.ErrorDetails))
	}
	if summary.ByStatus[domain.StatusError] != 2 || summary.ByStatus[domain.StatusInvalidURL] != 1 {
		t.Fatalf("unexpected status breakdown: %v", summary.ByStatus)
	}
}

func TestPanicInLinkIsRecordedAndCleanupRuns(t *testing.T) {
	t.Parallel()

	h := newHarness(message("https://boom.test/p https://a.test/x"))
	h.driver.openPanic = map[string]bool{"https://boom.test/p": true}

	if _, err := h.pipeline(nil).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(h.store.records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(h.store.records))
	}
	if rec := h.store.records[0]; rec.Status != domain.StatusError || !strings.Contains(rec.DetailedError, "driver exploded") {
		t.Fatalf("unexpected panic record: %+v", rec)
	}
	if h.store.records[1].Status != domain.StatusSuccess {
		t.Fatalf("sibling link should still succeed: %+v", h.store.records[1])
	}
	if !h.driver.closed {
		t.Fatal("driver was not closed")
	}
}

func TestPreflightFailureHasNoSideEffects(t *testing.T) {
	t.Parallel()

	h := newHarness(message("https://a.test/x"))
	failure := domain.Errorf(domain.KindConfiguration, "password too short")

	_, err := h.pipeline(fakePreflight{err: failure}).Run(context.Background())
	if !domain.IsKind(err, domain.KindConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if h.mail.calls != 0 || h.factory.starts != 0 || len(h.store.records) != 0 {
		t.Fatalf("side effects after failed preflight: fetch=%d starts=%d records=%d",
			h.mail.calls, h.factory.starts, len(h.store.records))
	}
	if len(h.notifier.reports) != 0 {
		t.Fatal("no report expected after failed preflight")
	}
	want := []State{StateInit, StatePreflightCheck, StateSummarized}
	if len(h.states) != len(want) {
		t.Fatalf("states = %v, want %v", h.states, want)
	}
	for i := range want {
		if h.states[i] != want[i] {
			t.Fatalf("states = %v, want %v", h.states, want)
		}
	}
}

func TestPreflightFailureStillLogsSummary(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := newHarness(message("https://a.test/x"))
	p := h.pipeline(fakePreflight{err: domain.Errorf(domain.KindConfiguration, "bad")})
	p.logger = slog.New(slog.NewTextHandler(&buf, nil))

	summary, err := p.Run(context.Background())
	if err == nil {
		t.Fatal("expected preflight error")
	}

	out := buf.String()
	if !strings.Contains(out, "run summary") {
		t.Fatalf("summary line missing: %q", out)
	}
	for _, field := range []string{"processed=0", "success=0", "errors=0", "success_rate=0.0%", "elapsed="} {
		if !strings.Contains(out, field) {
			t.Fatalf("summary missing %s: %q", field, out)
		}
	}
	if summary.TotalProcessed != 0 {
		t.Fatalf("nothing should be processed, got %d", summary.TotalProcessed)
	}
}

type cancellingProber struct {
	cancel context.CancelFunc
}

func (p cancellingProber) Probe(ctx context.Context, _ string) (int, error) {
	p.cancel()
	return 0, ctx.Err()
}

func TestInterruptDuringProbeIsRecordedAsError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(message("https://a.test/first https://a.test/second"))
	p := h.pipeline(nil)
	p.prober = cancellingProber{cancel: cancel}

	summary, err := p.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}

	if len(h.store.records) != 1 {
		t.Fatalf("expected one record for the interrupted link, got %d", len(h.store.records))
	}
	rec := h.store.records[0]
	if rec.Status != domain.StatusError || rec.FinalResult != linkFailed {
		t.Fatalf("interrupted probe should be an error, got %s / %q", rec.Status, rec.FinalResult)
	}
	if len(summary.ErrorDetails) != 1 || summary.ErrorDetails[0].Kind != "Interrupted" {
		t.Fatalf("unexpected error details %+v", summary.ErrorDetails)
	}
	if len(h.driver.opens) != 0 {
		t.Fatalf("driver should not open after an interrupted probe: %v", h.driver.opens)
	}
	assertPartition(t, summary)
}

func TestInterruptStopsBetweenLinks(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(message("https://a.test/first https://a.test/second"), message("https://a.test/third"))
	h.driver.onOpen = func(string) { cancel() }

	summary, err := h.pipeline(nil).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}

	if h.driver.openCount("https://a.test/second") != 0 || h.driver.openCount("https://a.test/third") != 0 {
		t.Fatalf("links after the interrupt were visited: %v", h.driver.opens)
	}
	if len(h.store.records) != 1 {
		t.Fatalf("expected the interrupted link to be recorded once, got %d", len(h.store.records))
	}
	if !h.driver.closed {
		t.Fatal("driver was not closed after interrupt")
	}
	assertPartition(t, summary)
}

func TestLedgerFailureDoesNotAbortRun(t *testing.T) {
	t.Parallel()

	h := newHarness(message("https://a.test/x https://a.test/y"))
	h.store.fail = true

	summary, err := h.pipeline(nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.driver.openCount("https://a.test/y") != 1 {
		t.Fatal("second link must still be processed")
	}
	if summary.DroppedRecords != 2 || summary.TotalProcessed != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestDriverStartFailureRecordsGeneralError(t *testing.T) {
	t.Parallel()

	h := newHarness(message("https://a.test/x"))
	h.factory.err = domain.Errorf(domain.KindAutomation, "chrome not found")

	summary, err := h.pipeline(nil).Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if h.factory.starts != 3 {
		t.Fatalf("expected 3 start attempts, got %d", h.factory.starts)
	}
	if h.mail.calls != 0 {
		t.Fatal("mailbox must not be read without a driver")
	}
	if len(h.store.records) != 1 {
		t.Fatalf("expected one general record, got %d", len(h.store.records))
	}
	rec := h.store.records[0]
	if rec.Sender != systemSender || rec.Subject != generalSubject || rec.FinalResult != generalResult || rec.Status != domain.StatusError {
		t.Fatalf("unexpected general record: %+v", rec)
	}
	if summary.TotalErrors != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	assertPartition(t, summary)
}

func TestFetchFailureRecordsGeneralErrorAndCloses(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.mail.err = domain.Errorf(domain.KindConnection, "imap timeout")

	if _, err := h.pipeline(nil).Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if h.mail.calls != 3 {
		t.Fatalf("expected 3 fetch attempts, got %d", h.mail.calls)
	}
	if len(h.store.records) != 1 || h.store.records[0].Subject != generalSubject {
		t.Fatalf("unexpected records: %+v", h.store.records)
	}
	if !strings.Contains(h.store.records[0].DetailedError, "imap timeout") {
		t.Fatalf("detail should carry the cause: %q", h.store.records[0].DetailedError)
	}
	if !h.driver.closed {
		t.Fatal("driver was not closed")
	}
}

func TestBuildErrorReport(t *testing.T) {
	t.Parallel()

	if BuildErrorReport(0, nil) != "" {
		t.Fatal("empty details should produce an empty report")
	}

	report := BuildErrorReport(2, []domain.ErrorDetail{
		{Kind: "URL Validation Error", Message: "URL returned status code 404", Context: "URL: https://bad.test", Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{},
	})

	for _, want := range []string{
		"ERROR REPORT - Total Errors: 2",
		"Error #1:",
		"  Type: URL Validation Error",
		"  Context: URL: https://bad.test",
		"  Timestamp: 2024-01-02T03:04:05Z",
		"Error #2:",
		"  Message: No message",
		"  Timestamp: Unknown",
	} {
		if !strings.Contains(report, want) {
			t.Fatalf("report missing %q:\n%s", want, report)
		}
	}
}

func statesToStrings(states []State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
