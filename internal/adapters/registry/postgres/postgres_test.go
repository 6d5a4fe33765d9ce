package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io/fs"
	"net"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"

	"github.com/vshulcz/hostmqtt/internal/domain"
	"github.com/vshulcz/hostmqtt/internal/misc"
)

var (
	errConnFailure = &pq.Error{Code: pq.ErrorCode(pgerrcode.ConnectionFailure)}

	existsPat = regexp.QuoteMeta(`SELECT EXISTS (SELECT 1 FROM discovery_registrations WHERE host=$1 AND metric=$2)`)
	insertPat = regexp.QuoteMeta(`INSERT INTO discovery_registrations (host, metric, registered_at)`)
)

func fastBackoff(t *testing.T) {
	t.Helper()
	orig := misc.DefaultBackoff
	misc.DefaultBackoff = []time.Duration{time.Millisecond, time.Millisecond}
	t.Cleanup(func() { misc.DefaultBackoff = orig })
}

func newMock(t *testing.T) (sqlmock.Sqlmock, *Store) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		_ = db.Close()
	})
	return mock, New(db)
}

func TestStore_IsRegistered(t *testing.T) {
	fastBackoff(t)

	tests := []struct {
		name    string
		setup   func(sqlmock.Sqlmock)
		want    bool
		wantErr bool
	}{
		{
			name: "registered",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectQuery(existsPat).WithArgs("pi", "cpu_load").
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
			},
			want: true,
		},
		{
			name: "not registered",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectQuery(existsPat).WithArgs("pi", "cpu_load").
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
			},
			want: false,
		},
		{
			name: "transient then ok",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectQuery(existsPat).WithArgs("pi", "cpu_load").
					WillReturnError(&pq.Error{Code: pq.ErrorCode(pgerrcode.ConnectionFailure)})
				m.ExpectQuery(existsPat).WithArgs("pi", "cpu_load").
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
			},
			want: true,
		},
		{
			name: "permanent error",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectQuery(existsPat).WithArgs("pi", "cpu_load").
					WillReturnError(&pq.Error{Code: pq.ErrorCode(pgerrcode.UndefinedTable)})
			},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mock, st := newMock(t)
			tc.setup(mock)

			got, err := st.IsRegistered(context.Background(), "pi", domain.CPULoad)
			if tc.wantErr {
				if !errors.Is(err, domain.ErrPersistence) {
					t.Fatalf("err = %v, want ErrPersistence", err)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Fatalf("got %v,%v want %v", got, err, tc.want)
			}
		})
	}
}

func TestStore_MarkRegistered(t *testing.T) {
	fastBackoff(t)

	t.Run("insert", func(t *testing.T) {
		mock, st := newMock(t)
		mock.ExpectExec(insertPat).WithArgs("pi", "uptime").
			WillReturnResult(sqlmock.NewResult(0, 1))
		if err := st.MarkRegistered(context.Background(), "pi", domain.Uptime); err != nil {
			t.Fatalf("MarkRegistered: %v", err)
		}
	})

	t.Run("already present is not an error", func(t *testing.T) {
		mock, st := newMock(t)
		mock.ExpectExec(insertPat).WithArgs("pi", "uptime").
			WillReturnResult(sqlmock.NewResult(0, 0))
		if err := st.MarkRegistered(context.Background(), "pi", domain.Uptime); err != nil {
			t.Fatalf("MarkRegistered: %v", err)
		}
	})

	t.Run("connection failure retried", func(t *testing.T) {
		mock, st := newMock(t)
		mock.ExpectExec(insertPat).WithArgs("pi", "uptime").WillReturnError(errConnFailure)
		mock.ExpectExec(insertPat).WithArgs("pi", "uptime").WillReturnResult(sqlmock.NewResult(0, 1))
		if err := st.MarkRegistered(context.Background(), "pi", domain.Uptime); err != nil {
			t.Fatalf("MarkRegistered: %v", err)
		}
	})

	t.Run("exhausted retries", func(t *testing.T) {
		mock, st := newMock(t)
		for i := 0; i < 3; i++ {
			mock.ExpectExec(insertPat).WithArgs("pi", "uptime").WillReturnError(errConnFailure)
		}
		err := st.MarkRegistered(context.Background(), "pi", domain.Uptime)
		var pqe *pq.Error
		if !errors.Is(err, domain.ErrPersistence) || !errors.As(err, &pqe) {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"bad conn", driver.ErrBadConn, true},
		{"net op", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"pg connection class", &pq.Error{Code: "08001"}, true},
		{"pg rollback class", &pq.Error{Code: pq.ErrorCode(pgerrcode.SerializationFailure)}, true},
		{"pg too many connections", &pq.Error{Code: pq.ErrorCode(pgerrcode.TooManyConnections)}, true},
		{"pg syntax", &pq.Error{Code: pq.ErrorCode(pgerrcode.SyntaxError)}, false},
		{"no rows", sql.ErrNoRows, false},
		{"other", errors.New("x"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err); got != tc.want {
				t.Fatalf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestEmbeddedMigrations_Present(t *testing.T) {
	entries, err := fs.ReadDir(embedMigrations, "migrations")
	if err != nil {
		t.Fatalf("cannot read embedded migrations: %v", err)
	}
	if len(entries) == 0 || entries[0].Name() != "0001_discovery_registrations.sql" {
		t.Fatalf("unexpected migrations: %v", entries)
	}
}

func TestStore_ContextCanceled(t *testing.T) {
	orig := misc.DefaultBackoff
	misc.DefaultBackoff = []time.Duration{50 * time.Millisecond, 50 * time.Millisecond}
	defer func() { misc.DefaultBackoff = orig }()

	mock, st := newMock(t)
	mock.ExpectQuery(existsPat).WithArgs("pi", "cpu_load").WillReturnError(errConnFailure)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := st.IsRegistered(ctx, "pi", domain.CPULoad); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}
