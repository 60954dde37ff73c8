package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"bds-warehouse/utils"
)

// Supported driver names.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// ErrConflict is returned when an insert violates a UNIQUE constraint.
var ErrConflict = errors.New("storage: unique constraint violated")

// Querier is satisfied by both *sql.DB and *sql.Tx, so store methods can run
// standalone or inside a caller's transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Dialect captures the SQL differences between the supported drivers.
type Dialect struct {
	Name        string
	Placeholder sq.PlaceholderFormat
}

// Builder returns a squirrel statement builder bound to the dialect's
// placeholder format.
func (d Dialect) Builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(d.Placeholder)
}

// DialectFor returns the dialect of a driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case DriverPostgres:
		return Dialect{Name: DriverPostgres, Placeholder: sq.Dollar}, nil
	case DriverSQLite:
		return Dialect{Name: DriverSQLite, Placeholder: sq.Question}, nil
	}
	return Dialect{}, fmt.Errorf("storage: unsupported driver %q", driver)
}

// DB is a database handle plus the dialect it speaks.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Open connects to the database and pings it with exponential back-off until
// it answers or the attempts run out.
func Open(ctx context.Context, driver, dsn string, maxAttempts int, logger *utils.Logger) (*DB, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// SQLite allows a single writer; serialising connections avoids BUSY.
		db.SetMaxOpenConns(1)
	}

	retry := utils.RetryConfig{MaxAttempts: maxAttempts, BaseDelay: 500 * time.Millisecond, Logger: logger}
	if err := retry.Do(ctx, "storage: ping "+driver, func() error {
		return db.PingContext(ctx)
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{DB: db, Dialect: dialect}, nil
}

// OpenMemory returns a migrated in-memory SQLite database for tests.
// The database is closed automatically when the test ends.
func OpenMemory(t testing.TB) *DB {
	t.Helper()
	db, err := sql.Open(DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("storage.OpenMemory: %v", err)
	}
	// every connection to :memory: is a new database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	d := &DB{DB: db, Dialect: Dialect{Name: DriverSQLite, Placeholder: sq.Question}}
	for _, s := range allSchemas {
		if err := d.Migrate(context.Background(), s); err != nil {
			t.Fatalf("storage.OpenMemory: %v", err)
		}
	}
	return d
}

// RunTx executes fn inside a transaction. The transaction is rolled back when
// fn returns an error and retried a few times when SQLite reports BUSY.
func (d *DB) RunTx(ctx context.Context, fn func(*sql.Tx) error) error {
	const maxRetries = 3
	var err error
	for i := 0; i < maxRetries; i++ {
		err = d.runOnce(ctx, fn)
		if err == nil || !isBusy(err) {
			return err
		}
		timer := time.NewTimer(time.Duration(100*(i+1)) * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("storage: tx cancelled during retry: %w", err)
		case <-timer.C:
		}
	}
	return err
}

func (d *DB) runOnce(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}
	return nil
}

// insertReturningID runs an INSERT built with squirrel and returns the
// generated key. lib/pq does not support LastInsertId, so both dialects use
// RETURNING.
func insertReturningID(ctx context.Context, q Querier, b sq.InsertBuilder, idColumn string) (int64, error) {
	query, args, err := b.Suffix("RETURNING " + idColumn).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert: %w", err)
	}
	var id int64
	if err := q.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		if IsUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return 0, err
	}
	return id, nil
}

func execBuilt(ctx context.Context, q Querier, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build statement: %w", err)
	}
	return q.ExecContext(ctx, query, args...)
}

func queryBuilt(ctx context.Context, q Querier, b sq.Sqlizer) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return q.QueryContext(ctx, query, args...)
}

// IsUniqueViolation reports whether err is a UNIQUE constraint violation in
// either supported driver.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}
