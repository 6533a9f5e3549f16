// Package retry re-invokes fallible operations with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"InboxRPA/internal/domain"
)

// ErrExhausted marks an error returned after the retry budget ran out.
var ErrExhausted = errors.New("retries exhausted")

// Policy defines retry behavior for one kind of operation.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	// MaxDelay caps the backoff; zero leaves it unbounded.
	MaxDelay  time.Duration
	Retryable []domain.Kind
	Logger    *slog.Logger
	// Sleep waits between attempts; nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before every backoff sleep.
	OnRetry func(op string, attempt int, err error)
}

// DefaultPolicy mirrors the defaults used across the pipeline.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// For returns a copy of the policy retrying only the given kinds.
func (p Policy) For(kinds ...domain.Kind) Policy {
	p.Retryable = slices.Clone(kinds)
	return p
}

// ExhaustedError wraps the last error observed once retries are used up.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

// Unwrap exposes both ErrExhausted and the last error.
func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhausted, e.Err}
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the budget runs out.
// fn is invoked at most MaxRetries+1 times.
func Do[T any](ctx context.Context, p Policy, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	delay := p.InitialDelay

	for attempt := 1; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		if !p.retryable(err) {
			return zero, err
		}

		if attempt > p.MaxRetries {
			p.logger().Error("all attempts failed", "operation", op, "attempts", attempt, "error", err)
			return zero, &ExhaustedError{Op: op, Attempts: attempt, Err: err}
		}

		p.logger().Warn("attempt failed, retrying",
			"operation", op,
			"attempt", attempt,
			"delay", delay,
			"error", err)
		if p.OnRetry != nil {
			p.OnRetry(op, attempt, err)
		}

		if err := p.sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("%s: %w", op, err)
		}
		delay = p.next(delay)
	}
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, op string, fn func(context.Context) error) error {
	_, err := Do(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (p Policy) retryable(err error) bool {
	kind, ok := domain.KindOf(err)
	if !ok {
		return false
	}
	return slices.Contains(p.Retryable, kind)
}

func (p Policy) next(delay time.Duration) time.Duration {
	delay *= 2
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p Policy) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
