// Package ledger assigns process identifiers and persists outcome records.
package ledger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"InboxRPA/internal/domain"
	"InboxRPA/internal/ports"
	"InboxRPA/internal/retry"
)

// Ledger is the append-only record of every processing unit.
type Ledger struct {
	store  ports.RecordStore
	ids    *IDGenerator
	policy retry.Policy
	now    func() time.Time
	logger *slog.Logger
}

// New wires the store with an id generator and the storage retry policy.
func New(store ports.RecordStore, ids *IDGenerator, policy retry.Policy, logger *slog.Logger) *Ledger {
	if ids == nil {
		ids = NewIDGenerator(nil, nil)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Ledger{
		store:  store,
		ids:    ids,
		policy: policy.For(domain.KindStorage),
		now:    time.Now,
		logger: logger,
	}
}

// NextProcessID generates a fresh identifier without touching the store.
func (l *Ledger) NextProcessID() domain.ProcessID {
	id := l.ids.Next()
	l.logger.Debug("generated process id", "process_id", id)
	return id
}

// Record appends one outcome. Storage failures are retried; a final failure is logged
// and returned so the caller can count the dropped record.
func (l *Ledger) Record(ctx context.Context, rec domain.OutcomeRecord) error {
	if l.store == nil {
		return domain.Errorf(domain.KindStorage, "record store is not configured")
	}
	if rec.ProcessID == "" {
		return fmt.Errorf("record without process id for %q", rec.URL)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now()
	}

	id, err := retry.Do(ctx, l.policy, "save record", func(ctx context.Context) (int64, error) {
		return l.store.Insert(ctx, rec)
	})
	if err != nil {
		l.logger.Error("outcome record dropped",
			"process_id", rec.ProcessID,
			"status", rec.Status,
			"url", rec.URL,
			"error", err)
		return err
	}

	l.logger.Info("record saved", "row_id", id, "status", rec.Status, "process_id", rec.ProcessID)
	return nil
}

// Recent returns the newest records first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]domain.OutcomeRecord, error) {
	return l.store.Recent(ctx, limit)
}

// Errors returns the newest error records first.
func (l *Ledger) Errors(ctx context.Context, limit int) ([]domain.OutcomeRecord, error) {
	return l.store.Errors(ctx, limit)
}

// Count returns the total number of stored records.
func (l *Ledger) Count(ctx context.Context) (int64, error) {
	return l.store.Count(ctx)
}

// Prune deletes records older than the retention window. A non-positive window keeps everything.
func (l *Ledger) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 || l.store == nil {
		return 0, nil
	}
	cutoff := l.now().Add(-retention)
	deleted, err := l.store.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune records: %w", err)
	}
	if deleted > 0 {
		l.logger.Info("pruned old records", "deleted", deleted, "cutoff", cutoff.Format(time.DateTime))
	}
	return deleted, nil
}
