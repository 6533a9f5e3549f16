package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"InboxRPA/internal/domain"
	"InboxRPA/internal/ports"
)

// LazyRepository opens the database on first use, so nothing touches it until a record
// is actually written or read. A failed open is retried on the next call.
type LazyRepository struct {
	mu     sync.Mutex
	driver Driver
	dsn    string
	logger *slog.Logger
	repo   *Repository
	closed bool
}

var _ ports.RecordStore = (*LazyRepository)(nil)

// NewLazyRepository remembers where to connect without connecting.
func NewLazyRepository(driver Driver, dsn string, logger *slog.Logger) *LazyRepository {
	return &LazyRepository{driver: driver, dsn: dsn, logger: logger}
}

func (l *LazyRepository) get(ctx context.Context) (*Repository, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, domain.Errorf(domain.KindStorage, "repository is closed")
	}
	if l.repo != nil {
		return l.repo, nil
	}

	repo, err := Open(ctx, l.driver, l.dsn, l.logger)
	if err != nil {
		return nil, err
	}
	l.repo = repo
	return repo, nil
}

// Opened reports whether a connection has been established.
func (l *LazyRepository) Opened() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.repo != nil
}

func (l *LazyRepository) Insert(ctx context.Context, rec domain.OutcomeRecord) (int64, error) {
	repo, err := l.get(ctx)
	if err != nil {
		return 0, err
	}
	return repo.Insert(ctx, rec)
}

func (l *LazyRepository) Recent(ctx context.Context, limit int) ([]domain.OutcomeRecord, error) {
	repo, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return repo.Recent(ctx, limit)
}

func (l *LazyRepository) Errors(ctx context.Context, limit int) ([]domain.OutcomeRecord, error) {
	repo, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return repo.Errors(ctx, limit)
}

func (l *LazyRepository) Count(ctx context.Context) (int64, error) {
	repo, err := l.get(ctx)
	if err != nil {
		return 0, err
	}
	return repo.Count(ctx)
}

func (l *LazyRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	repo, err := l.get(ctx)
	if err != nil {
		return 0, err
	}
	return repo.PruneBefore(ctx, cutoff)
}

// Close releases the connection if one was opened.
func (l *LazyRepository) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	if l.repo == nil {
		return nil
	}
	err := l.repo.Close()
	l.repo = nil
	return err
}
