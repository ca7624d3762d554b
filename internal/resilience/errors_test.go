package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	sqlite3 "modernc.org/sqlite/lib"
)

type fakeSQLiteError struct{ code int }

func (e fakeSQLiteError) Error() string { return fmt.Sprintf("sqlite error %d", e.code) }
func (e fakeSQLiteError) Code() int     { return e.code }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("invalid input"), false},
		{"explicit", NewTransientError(errors.New("x")), true},
		{"wrapped explicit", fmt.Errorf("copy: %w", NewTransientError(errors.New("x"))), true},
		{"connection exception", &pgconn.PgError{Code: "08006"}, true},
		{"serialization", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock", eris.Wrap(&pgconn.PgError{Code: "40P01"}, "warehouse: expire"), true},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, true},
		{"cannot connect now", &pgconn.PgError{Code: "57P03"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"check violation", &pgconn.PgError{Code: "23514"}, false},
		{"sqlite busy", fakeSQLiteError{code: sqlite3.SQLITE_BUSY}, true},
		{"sqlite busy snapshot", fakeSQLiteError{code: sqlite3.SQLITE_BUSY_SNAPSHOT}, true},
		{"sqlite locked", fakeSQLiteError{code: sqlite3.SQLITE_LOCKED}, true},
		{"sqlite constraint", fakeSQLiteError{code: sqlite3.SQLITE_CONSTRAINT}, false},
		{"net timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, true},
		{"reset", fmt.Errorf("write tcp: %w", syscall.ECONNRESET), true},
		{"refused", fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED), true},
		{"broken pipe text", errors.New("write: broken pipe"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	if got := Classify(&pgconn.PgError{Code: "40P01"}); got != "transient" {
		t.Errorf("expected transient, got %q", got)
	}
	if got := Classify(errors.New("bad")); got != "permanent" {
		t.Errorf("expected permanent, got %q", got)
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("root cause")
	te := NewTransientError(inner)

	if !errors.Is(te, inner) {
		t.Error("TransientError should unwrap to the inner error")
	}
	if te.Error() != "root cause" {
		t.Errorf("unexpected message %q", te.Error())
	}
}
