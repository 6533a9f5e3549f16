// Package selector activates page elements by walking an ordered chain of locator strategies.
package selector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"InboxRPA/internal/domain"
	"InboxRPA/internal/ports"
	"InboxRPA/internal/retry"
)

// DefaultAttemptTimeout bounds how long one strategy may wait for its element.
const DefaultAttemptTimeout = 10 * time.Second

// NoElementObservation is reported when every strategy failed.
const NoElementObservation = "no clickable element found"

// Engine tries strategies in order until one activates an element.
type Engine struct {
	timeout time.Duration
	policy  retry.Policy
	logger  *slog.Logger
}

// NewEngine wires the per-attempt timeout and the retry policy for driver transport failures.
func NewEngine(timeout time.Duration, policy retry.Policy, logger *slog.Logger) *Engine {
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		timeout: timeout,
		policy:  policy.For(domain.KindAutomation),
		logger:  logger,
	}
}

// Activate walks strategies in order. A chain with no successful strategy is a valid
// outcome and returns a nil error; an error means the driver session itself failed.
func (e *Engine) Activate(ctx context.Context, driver ports.Driver, strategies []domain.SelectorSpec) (domain.ClickAttemptResult, error) {
	result := domain.ClickAttemptResult{Observations: NoElementObservation}
	if driver == nil {
		return result, domain.Errorf(domain.KindAutomation, "driver is not started")
	}

	for i, spec := range strategies {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		position := i + 1
		result.Attempts = position
		e.logger.Debug("trying strategy", "position", position, "strategy", spec.String(), "kind", spec.Kind, "selector", spec.Value)

		err := retry.Run(ctx, e.policy, "activate element", func(ctx context.Context) error {
			attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
			defer cancel()
			return driver.Activate(attemptCtx, spec, e.timeout)
		})
		if err == nil {
			result.Success = true
			result.Strategy = position
			result.Observations = fmt.Sprintf("clicked %s (strategy #%d)", spec.String(), position)
			e.logger.Info("element activated", "position", position, "strategy", spec.String())
			return result, nil
		}

		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if errors.Is(err, retry.ErrExhausted) {
			return result, fmt.Errorf("strategy #%d: %w", position, err)
		}

		e.logger.Debug("strategy failed", "position", position, "strategy", spec.String(), "error", err)
	}

	e.logger.Warn(NoElementObservation, "strategies", len(strategies))
	return result, nil
}
