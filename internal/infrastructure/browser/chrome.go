package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"InboxRPA/internal/domain"
	"InboxRPA/internal/ports"
)

// ChromeOptions mirrors the browser flags exposed through configuration.
type ChromeOptions struct {
	Headless    bool
	ExecPath    string
	PageTimeout time.Duration
}

// ChromeDriverFactory launches a headless or headed Chrome per run.
type ChromeDriverFactory struct {
	opts   ChromeOptions
	logger *slog.Logger
}

var _ ports.DriverFactory = (*ChromeDriverFactory)(nil)

// NewChromeDriverFactory wires the launch options.
func NewChromeDriverFactory(opts ChromeOptions, logger *slog.Logger) *ChromeDriverFactory {
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = defaultPageTimeout
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ChromeDriverFactory{opts: opts, logger: logger}
}

func (f *ChromeDriverFactory) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", f.opts.Headless),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(UserAgent),
	)
	if f.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(f.opts.ExecPath))
	}
	return opts
}

// Start launches the browser. Its lifetime is bound to Close, not to ctx.
func (f *ChromeDriverFactory) Start(ctx context.Context) (ports.Driver, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), f.allocatorOptions()...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			f.logger.Debug(fmt.Sprintf(format, args...))
		}),
	)

	driver := &ChromeDriver{
		ctx:     browserCtx,
		cancel:  func() { cancelBrowser(); cancelAlloc() },
		timeout: f.opts.PageTimeout,
		logger:  f.logger,
	}

	// The first Run allocates the browser and must use the tab context itself.
	if err := chromedp.Run(browserCtx); err != nil {
		driver.cancel()
		return nil, domain.NewError(domain.KindAutomation, "start chrome", err)
	}

	f.logger.Info("chrome started", "headless", f.opts.Headless)
	return driver, nil
}

// ChromeDriver drives one Chrome tab.
type ChromeDriver struct {
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
	timeout time.Duration
	logger  *slog.Logger
}

var _ ports.Driver = (*ChromeDriver)(nil)

// Open navigates the tab and waits for the body to be ready.
func (d *ChromeDriver) Open(ctx context.Context, target string) error {
	err := d.run(ctx, d.timeout,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return d.classify(ctx, "open "+target, err)
	}
	return nil
}

// Activate waits up to timeout for a visible element and clicks it.
func (d *ChromeDriver) Activate(ctx context.Context, spec domain.SelectorSpec, timeout time.Duration) error {
	selector, by, err := chromeLocator(spec)
	if err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = d.timeout
	}

	err = d.run(ctx, timeout, chromedp.Click(selector, by, chromedp.NodeVisible))
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%s: %w", spec, domain.ErrElementNotFound)
	}
	return d.classify(ctx, "click "+spec.String(), err)
}

// Title returns document.title.
func (d *ChromeDriver) Title(ctx context.Context) (string, error) {
	var title string
	if err := d.run(ctx, d.timeout, chromedp.Title(&title)); err != nil {
		return "", d.classify(ctx, "read title", err)
	}
	return strings.TrimSpace(title), nil
}

// CurrentURL returns the tab location.
func (d *ChromeDriver) CurrentURL(ctx context.Context) (string, error) {
	var location string
	if err := d.run(ctx, d.timeout, chromedp.Location(&location)); err != nil {
		return "", d.classify(ctx, "read location", err)
	}
	return location, nil
}

// Close shuts the browser down. Safe to call more than once.
func (d *ChromeDriver) Close() error {
	d.once.Do(func() {
		d.cancel()
		d.logger.Info("chrome closed")
	})
	return nil
}

// run executes actions on the tab, bounded by timeout and by the caller's ctx.
func (d *ChromeDriver) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(d.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

func (d *ChromeDriver) classify(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
	return domain.NewError(domain.KindAutomation, op, err)
}

func chromeLocator(spec domain.SelectorSpec) (string, chromedp.QueryOption, error) {
	value := strings.TrimSpace(spec.Value)
	if value == "" {
		return "", nil, domain.Errorf(domain.KindValidation, "empty %s selector", spec.Kind)
	}

	switch spec.Kind {
	case domain.LocatorXPath:
		return value, chromedp.BySearch, nil
	case domain.LocatorCSS, domain.LocatorTag:
		return value, chromedp.ByQuery, nil
	case domain.LocatorID:
		return value, chromedp.ByID, nil
	case domain.LocatorClass:
		return "." + value, chromedp.ByQuery, nil
	default:
		return "", nil, domain.Errorf(domain.KindValidation, "unsupported locator kind %q", spec.Kind)
	}
}
