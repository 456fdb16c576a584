package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/giroflow-backend/pkg/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const (
	// MaxRetryAttempts caps how often a transient store failure is retried.
	MaxRetryAttempts = 7
	defaultRetryBase = 100 * time.Millisecond
	maxRetryDelay    = 10 * time.Second
)

// RetryPolicy retries only connection-loss failures with exponential backoff.
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
	// Sleep waits between attempts; nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (p RetryPolicy) attempts() int {
	if p.Attempts <= 0 || p.Attempts > MaxRetryAttempts {
		return MaxRetryAttempts
	}
	return p.Attempts
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = defaultRetryBase
	}
	d := base << (attempt - 1)
	if d <= 0 || d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

// Do invokes fn until it succeeds, fails with a non-transient error, or the
// attempt budget is spent.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	attempts := p.attempts()
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil || !IsTransient(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		if serr := sleep(ctx, p.delay(attempt)); serr != nil {
			return err
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeTransient, err, fmt.Sprintf("store unavailable after %d attempts", attempts))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsTransient reports connection-level failures (SQLSTATE class 08, broken
// pipes, dropped sockets). Constraint and syntax errors are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "08") || pgErr.Code == "57P01"
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == "08" || pqErr.Code == "57P01"
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
