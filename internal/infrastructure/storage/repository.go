package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"InboxRPA/internal/domain"
	"InboxRPA/internal/ports"
)

// TimeLayout is the fixed-width UTC layout used for stored timestamps so they sort lexically.
const TimeLayout = "2006-01-02 15:04:05"

const recordsTable = "outcome_records"

// Driver selects the SQL backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// ParseDriver accepts the configured driver name.
func ParseDriver(name string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sqlite", "sqlite3":
		return DriverSQLite, nil
	case "postgres", "postgresql":
		return DriverPostgres, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", name)
	}
}

func (d Driver) sqlDriver() string {
	if d == DriverPostgres {
		return "postgres"
	}
	return "sqlite"
}

func (d Driver) gooseDialect() string {
	if d == DriverPostgres {
		return "postgres"
	}
	return "sqlite3"
}

func (d Driver) migrationsDir() string {
	if d == DriverPostgres {
		return "postgres"
	}
	return "sqlite"
}

func (d Driver) placeholders() sq.PlaceholderFormat {
	if d == DriverPostgres {
		return sq.Dollar
	}
	return sq.Question
}

var recordColumns = []string{
	"id", "recorded_at", "sender", "subject", "message_content", "extracted_url",
	"status", "detailed_error", "final_result", "process_id", "inserted_at",
}

type recordRow struct {
	ID            int64  `db:"id"`
	RecordedAt    string `db:"recorded_at"`
	Sender        string `db:"sender"`
	Subject       string `db:"subject"`
	Content       string `db:"message_content"`
	URL           string `db:"extracted_url"`
	Status        string `db:"status"`
	DetailedError string `db:"detailed_error"`
	FinalResult   string `db:"final_result"`
	ProcessID     string `db:"process_id"`
	InsertedAt    string `db:"inserted_at"`
}

func (r recordRow) toDomain() domain.OutcomeRecord {
	return domain.OutcomeRecord{
		ID:            r.ID,
		Timestamp:     parseTime(r.RecordedAt),
		Sender:        r.Sender,
		Subject:       r.Subject,
		Content:       r.Content,
		URL:           r.URL,
		Status:        domain.Status(r.Status),
		DetailedError: r.DetailedError,
		FinalResult:   r.FinalResult,
		ProcessID:     domain.ProcessID(r.ProcessID),
		InsertedAt:    parseTime(r.InsertedAt),
	}
}

// Repository persists outcome records in SQLite or Postgres.
type Repository struct {
	db      *sqlx.DB
	driver  Driver
	builder sq.StatementBuilderType
	now     func() time.Time
	logger  *slog.Logger
}

var _ ports.RecordStore = (*Repository)(nil)

// Open connects to the database and applies pending migrations.
// For SQLite, ":memory:" gives a private in-memory database.
func Open(ctx context.Context, driver Driver, dsn string, logger *slog.Logger) (*Repository, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if dsn == "" {
		return nil, domain.Errorf(domain.KindConfiguration, "database dsn is empty")
	}

	if driver == DriverSQLite && dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, domain.NewError(domain.KindStorage, "create database directory", err)
			}
		}
	}

	db, err := sqlx.Open(driver.sqlDriver(), dsn)
	if err != nil {
		return nil, domain.NewError(domain.KindStorage, "open database", err)
	}
	if driver == DriverSQLite {
		// Every new connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, domain.NewError(domain.KindStorage, "ping database", err)
	}

	if driver == DriverSQLite {
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
			_ = db.Close()
			return nil, domain.NewError(domain.KindStorage, "set busy timeout", err)
		}
	}

	if err := migrate(db.DB, driver, logger); err != nil {
		_ = db.Close()
		return nil, domain.NewError(domain.KindStorage, "migrate", err)
	}

	return NewRepository(db, driver, logger), nil
}

// NewRepository wraps an already migrated connection.
func NewRepository(db *sqlx.DB, driver Driver, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Repository{
		db:      db,
		driver:  driver,
		builder: sq.StatementBuilder.PlaceholderFormat(driver.placeholders()),
		now:     time.Now,
		logger:  logger.With("component", "storage"),
	}
}

// Close releases the connection pool.
func (r *Repository) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Insert appends one record and returns its row id.
func (r *Repository) Insert(ctx context.Context, rec domain.OutcomeRecord) (int64, error) {
	if r.db == nil {
		return 0, domain.Errorf(domain.KindStorage, "database is not configured")
	}

	recordedAt := rec.Timestamp
	if recordedAt.IsZero() {
		recordedAt = r.now()
	}

	query, args, err := r.builder.
		Insert(recordsTable).
		Columns(recordColumns[1:]...).
		Values(
			formatTime(recordedAt),
			rec.Sender,
			rec.Subject,
			rec.Content,
			rec.URL,
			string(rec.Status),
			rec.DetailedError,
			rec.FinalResult,
			rec.ProcessID.String(),
			formatTime(r.now()),
		).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert: %w", err)
	}

	var id int64
	if err := r.db.QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, domain.NewError(domain.KindStorage, "insert record", err)
	}

	return id, nil
}

// Recent returns up to limit records, newest first.
func (r *Repository) Recent(ctx context.Context, limit int) ([]domain.OutcomeRecord, error) {
	return r.selectRecords(ctx, limit, nil)
}

// Errors returns up to limit Error or InvalidURL records, newest first.
func (r *Repository) Errors(ctx context.Context, limit int) ([]domain.OutcomeRecord, error) {
	return r.selectRecords(ctx, limit, sq.Eq{"status": []string{
		string(domain.StatusError),
		string(domain.StatusInvalidURL),
	}})
}

func (r *Repository) selectRecords(ctx context.Context, limit int, where sq.Sqlizer) ([]domain.OutcomeRecord, error) {
	if r.db == nil {
		return nil, nil
	}

	builder := r.builder.Select(recordColumns...).From(recordsTable).OrderBy("id DESC")
	if where != nil {
		builder = builder.Where(where)
	}
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var rows []recordRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, domain.NewError(domain.KindStorage, "select records", err)
	}

	result := make([]domain.OutcomeRecord, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

// Count returns the number of stored records.
func (r *Repository) Count(ctx context.Context) (int64, error) {
	if r.db == nil {
		return 0, nil
	}

	query, args, err := r.builder.Select("COUNT(*)").From(recordsTable).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}

	var total int64
	if err := r.db.GetContext(ctx, &total, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, domain.NewError(domain.KindStorage, "count records", err)
	}
	return total, nil
}

// PruneBefore deletes records whose timestamp is older than cutoff.
func (r *Repository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if r.db == nil {
		return 0, nil
	}

	query, args, err := r.builder.
		Delete(recordsTable).
		Where(sq.Lt{"recorded_at": formatTime(cutoff)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, domain.NewError(domain.KindStorage, "prune records", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, domain.NewError(domain.KindStorage, "prune rows affected", err)
	}

	r.logger.Debug("pruned records", "deleted", deleted)
	return deleted, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func parseTime(value string) time.Time {
	t, err := time.ParseInLocation(TimeLayout, value, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}
