// Package postgres implements a registration store shared by every agent pointed at one database.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"embed"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/vshulcz/hostmqtt/internal/domain"
	"github.com/vshulcz/hostmqtt/internal/misc"
	"github.com/vshulcz/hostmqtt/internal/ports"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Store keeps one row per registered host metric. Every statement is idempotent,
// so transient failures are retried.
type Store struct {
	db *sql.DB
}

var _ ports.RegistrationStore = (*Store)(nil)

var retryablePGCodes = map[string]struct{}{
	pgerrcode.ConnectionException:                           {},
	pgerrcode.ConnectionDoesNotExist:                        {},
	pgerrcode.ConnectionFailure:                             {},
	pgerrcode.SQLClientUnableToEstablishSQLConnection:       {},
	pgerrcode.SQLServerRejectedEstablishmentOfSQLConnection: {},
	pgerrcode.TransactionResolutionUnknown:                  {},
	pgerrcode.SerializationFailure:                          {},
	pgerrcode.DeadlockDetected:                              {},
	pgerrcode.LockNotAvailable:                              {},
	pgerrcode.TooManyConnections:                            {},
	pgerrcode.AdminShutdown:                                 {},
	pgerrcode.CrashShutdown:                                 {},
	pgerrcode.CannotConnectNow:                              {},
}

// New wraps an open database handle. The schema must already be migrated.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn, applies migrations and returns a ready store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %w", domain.ErrPersistence, err)
	}
	op := func() error {
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		return Migrate(ctx, db)
	}
	if err := misc.Retry(ctx, misc.DefaultBackoff, IsRetryable, op); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: connect: %w", domain.ErrPersistence, err)
	}
	return New(db), nil
}

// Migrate applies the embedded goose migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// IsRegistered reports whether a row exists for host and m.
func (s *Store) IsRegistered(ctx context.Context, host domain.Host, m domain.Metric) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM discovery_registrations WHERE host=$1 AND metric=$2)`
	var ok bool
	op := func() error {
		return s.db.QueryRowContext(ctx, q, string(host), m.String()).Scan(&ok)
	}
	if err := misc.Retry(ctx, misc.DefaultBackoff, IsRetryable, op); err != nil {
		return false, fmt.Errorf("%w: lookup %s/%s: %w", domain.ErrPersistence, host, m, err)
	}
	return ok, nil
}

// MarkRegistered inserts the row; the commit makes it durable.
func (s *Store) MarkRegistered(ctx context.Context, host domain.Host, m domain.Metric) error {
	const q = `
INSERT INTO discovery_registrations (host, metric, registered_at)
VALUES ($1, $2, now())
ON CONFLICT (host, metric) DO NOTHING`
	op := func() error {
		_, err := s.db.ExecContext(ctx, q, string(host), m.String())
		return err
	}
	if err := misc.Retry(ctx, misc.DefaultBackoff, IsRetryable, op); err != nil {
		return fmt.Errorf("%w: insert %s/%s: %w", domain.ErrPersistence, host, m, err)
	}
	return nil
}

// IsRetryable reports whether err looks like a transient connection or concurrency failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var pqe *pq.Error
	if errors.As(err, &pqe) {
		return isRetryableCode(string(pqe.Code))
	}
	return false
}

func isRetryableCode(code string) bool {
	if _, ok := retryablePGCodes[code]; ok {
		return true
	}
	// Class 08 is connection exceptions, class 40 transaction rollbacks.
	return strings.HasPrefix(code, "08") || strings.HasPrefix(code, "40")
}
