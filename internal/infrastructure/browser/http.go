// Package browser implements automation drivers: a DOM-level HTTP driver and a Chrome driver.
package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
	"golang.org/x/net/publicsuffix"

	"InboxRPA/internal/domain"
	"InboxRPA/internal/ports"
)

// UserAgent is sent by both drivers.
const UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

const (
	defaultPageTimeout = 30 * time.Second
	maxPageBytes       = 5 << 20
)

// HTTPDriverFactory starts cookie-aware HTTP sessions that activate elements without running scripts.
type HTTPDriverFactory struct {
	timeout   time.Duration
	transport http.RoundTripper
	logger    *slog.Logger
}

var _ ports.DriverFactory = (*HTTPDriverFactory)(nil)

// NewHTTPDriverFactory wires the page timeout; a nil transport uses http.DefaultTransport.
func NewHTTPDriverFactory(timeout time.Duration, transport http.RoundTripper, logger *slog.Logger) *HTTPDriverFactory {
	if timeout <= 0 {
		timeout = defaultPageTimeout
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &HTTPDriverFactory{timeout: timeout, transport: transport, logger: logger}
}

// Start creates a fresh session with its own cookie jar.
func (f *HTTPDriverFactory) Start(_ context.Context) (ports.Driver, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, domain.NewError(domain.KindAutomation, "create cookie jar", err)
	}
	client := &http.Client{Timeout: f.timeout, Jar: jar, Transport: f.transport}
	f.logger.Debug("http driver session started")
	return &HTTPDriver{client: client, logger: f.logger}, nil
}

// HTTPDriver keeps the current page as a parsed DOM.
type HTTPDriver struct {
	mu      sync.Mutex
	client  *http.Client
	doc     *goquery.Document
	current *url.URL
	closed  bool
	logger  *slog.Logger
}

var _ ports.Driver = (*HTTPDriver)(nil)

// Open loads target and makes it the current page.
func (d *HTTPDriver) Open(ctx context.Context, target string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return domain.Errorf(domain.KindAutomation, "session is closed")
	}
	return d.load(ctx, http.MethodGet, target, nil)
}

// Activate locates the first clickable element matching spec and follows it.
func (d *HTTPDriver) Activate(ctx context.Context, spec domain.SelectorSpec, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return domain.Errorf(domain.KindAutomation, "session is closed")
	}
	if d.doc == nil {
		return domain.Errorf(domain.KindAutomation, "no page is open")
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	nodes, err := d.find(spec)
	if err != nil {
		return err
	}

	target := firstClickable(nodes)
	if target == nil {
		return fmt.Errorf("%s: %w", spec, domain.ErrElementNotFound)
	}

	return d.activate(ctx, target)
}

// Title returns the current page title.
func (d *HTTPDriver) Title(_ context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.doc == nil {
		return "", domain.Errorf(domain.KindAutomation, "no page is open")
	}
	return strings.TrimSpace(d.doc.Find("title").First().Text()), nil
}

// CurrentURL returns the URL of the current page after redirects.
func (d *HTTPDriver) CurrentURL(_ context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.current == nil {
		return "", domain.Errorf(domain.KindAutomation, "no page is open")
	}
	return d.current.String(), nil
}

// Close drops the page and idle connections. Safe to call more than once.
func (d *HTTPDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	d.doc = nil
	d.client.CloseIdleConnections()
	d.logger.Debug("http driver session closed")
	return nil
}

func (d *HTTPDriver) find(spec domain.SelectorSpec) ([]*html.Node, error) {
	value := strings.TrimSpace(spec.Value)
	if value == "" {
		return nil, domain.Errorf(domain.KindValidation, "empty %s selector", spec.Kind)
	}

	switch spec.Kind {
	case domain.LocatorXPath:
		nodes, err := htmlquery.QueryAll(d.doc.Nodes[0], value)
		if err != nil {
			return nil, domain.NewError(domain.KindValidation, "compile xpath", err)
		}
		return nodes, nil
	case domain.LocatorCSS, domain.LocatorTag:
		return d.match(value)
	case domain.LocatorID:
		return d.match(fmt.Sprintf("[id=%q]", value))
	case domain.LocatorClass:
		return d.match(fmt.Sprintf("[class~=%q]", value))
	default:
		return nil, domain.Errorf(domain.KindValidation, "unsupported locator kind %q", spec.Kind)
	}
}

func (d *HTTPDriver) match(css string) ([]*html.Node, error) {
	matcher, err := cascadia.Compile(css)
	if err != nil {
		return nil, domain.NewError(domain.KindValidation, "compile css selector", err)
	}
	return d.doc.FindMatcher(matcher).Nodes, nil
}

func (d *HTTPDriver) activate(ctx context.Context, node *html.Node) error {
	switch node.Data {
	case "a":
		href := strings.TrimSpace(attr(node, "href"))
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			// In-page anchors do not navigate.
			d.logger.Debug("activated in-page anchor", "href", href)
			return nil
		}
		next, err := d.current.Parse(href)
		if err != nil {
			return domain.NewError(domain.KindValidation, "resolve link", err)
		}
		return d.load(ctx, http.MethodGet, next.String(), nil)
	default:
		form := enclosingForm(node)
		if form == nil || strings.EqualFold(attr(node, "type"), "button") {
			d.logger.Debug("activated control without form action", "tag", node.Data)
			return nil
		}
		return d.submit(ctx, form, node)
	}
}

func (d *HTTPDriver) submit(ctx context.Context, form, clicked *html.Node) error {
	values := formValues(form, clicked)

	action, err := d.current.Parse(strings.TrimSpace(attr(form, "action")))
	if err != nil {
		return domain.NewError(domain.KindValidation, "resolve form action", err)
	}

	method := strings.ToUpper(strings.TrimSpace(attr(form, "method")))
	if method != http.MethodPost {
		action.RawQuery = values.Encode()
		return d.load(ctx, http.MethodGet, action.String(), nil)
	}
	return d.load(ctx, http.MethodPost, action.String(), strings.NewReader(values.Encode()))
}

func (d *HTTPDriver) load(ctx context.Context, method, target string, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return domain.NewError(domain.KindValidation, "build request", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("%s %s: %w", method, target, err)
		}
		return domain.NewError(domain.KindAutomation, method+" "+target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return domain.Errorf(domain.KindValidation, "%s %s returned %s", method, target, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return domain.NewError(domain.KindAutomation, "parse document", err)
	}

	d.doc = doc
	d.current = resp.Request.URL
	d.logger.Debug("page loaded", "method", method, "url", d.current.String(), "status", resp.StatusCode)
	return nil
}

func firstClickable(nodes []*html.Node) *html.Node {
	for _, node := range nodes {
		for n := node; n != nil; n = n.Parent {
			if n.Type != html.ElementNode {
				continue
			}
			if clickable(n) {
				return n
			}
		}
	}
	return nil
}

func clickable(n *html.Node) bool {
	if hasAttr(n, "hidden") || hasAttr(n, "disabled") {
		return false
	}
	if style := strings.ReplaceAll(strings.ToLower(attr(n, "style")), " ", ""); strings.Contains(style, "display:none") {
		return false
	}

	switch n.Data {
	case "a":
		return hasAttr(n, "href")
	case "button":
		return true
	case "input":
		switch strings.ToLower(attr(n, "type")) {
		case "submit", "button", "image":
			return true
		}
	}
	return false
}

func enclosingForm(n *html.Node) *html.Node {
	if owner := attr(n, "form"); owner != "" {
		root := n
		for root.Parent != nil {
			root = root.Parent
		}
		if form := htmlquery.FindOne(root, fmt.Sprintf("//form[@id=%q]", owner)); form != nil {
			return form
		}
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.Data == "form" {
			return p
		}
	}
	return nil
}

func formValues(form, clicked *html.Node) url.Values {
	values := url.Values{}

	goquery.NewDocumentFromNode(form).Find("input, textarea, select").Each(func(_ int, s *goquery.Selection) {
		n := s.Nodes[0]
		name := attr(n, "name")
		if name == "" || hasAttr(n, "disabled") {
			return
		}

		switch n.Data {
		case "textarea":
			values.Add(name, s.Text())
		case "select":
			option := s.Find("option[selected]").First()
			if option.Length() == 0 {
				option = s.Find("option").First()
			}
			if option.Length() == 0 {
				return
			}
			value, ok := option.Attr("value")
			if !ok {
				value = strings.TrimSpace(option.Text())
			}
			values.Add(name, value)
		default:
			switch strings.ToLower(attr(n, "type")) {
			case "submit", "button", "image", "reset":
				if n == clicked {
					values.Add(name, attr(n, "value"))
				}
			case "checkbox", "radio":
				if hasAttr(n, "checked") {
					value := attr(n, "value")
					if value == "" {
						value = "on"
					}
					values.Add(name, value)
				}
			case "file":
			default:
				values.Add(name, attr(n, "value"))
			}
		}
	})

	if clicked.Data == "button" {
		if name := attr(clicked, "name"); name != "" {
			values.Add(name, attr(clicked, "value"))
		}
	}
	return values
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}
