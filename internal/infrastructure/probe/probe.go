// Package probe checks link reachability before the browser is involved.
package probe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"InboxRPA/internal/domain"
	"InboxRPA/internal/ports"
)

const (
	defaultTimeout = 10 * time.Second
	userAgent      = "InboxRPA/1.0"
)

// HTTPProber issues HEAD requests, falling back to GET when HEAD is not allowed.
type HTTPProber struct {
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ ports.Prober = (*HTTPProber)(nil)

// NewHTTPProber wires an HTTP client; perSecond <= 0 disables rate limiting.
func NewHTTPProber(client *http.Client, perSecond float64, logger *slog.Logger) *HTTPProber {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if perSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}

	return &HTTPProber{client: client, limiter: limiter, logger: logger}
}

// Probe returns the final status code for target. Malformed URLs are validation errors,
// transport failures are connection errors.
func (p *HTTPProber) Probe(ctx context.Context, target string) (int, error) {
	parsed, err := url.Parse(target)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return 0, domain.Errorf(domain.KindValidation, "invalid url %q", target)
	}

	status, err := p.do(ctx, http.MethodHead, target)
	if err != nil {
		return 0, err
	}
	if status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented {
		p.logger.Debug("head not supported, retrying with get", "url", target, "status", status)
		return p.do(ctx, http.MethodGet, target)
	}
	return status, nil
}

func (p *HTTPProber) do(ctx context.Context, method, target string) (int, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("wait for probe slot: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return 0, domain.NewError(domain.KindValidation, "build probe request", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, domain.NewError(domain.KindConnection, "probe "+method, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return resp.StatusCode, nil
}
