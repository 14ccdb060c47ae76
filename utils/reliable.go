package utils

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/UltimateTournament/backoff/v4"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

type permanent interface {
	IsPermanent() bool
}

// IsRetryable reports whether a failed store call may be attempted again.
// Permanent errors, cancellation and SQL errors other than serialization
// failures and connection exceptions are not retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var perm permanent
	if errors.As(err, &perm) && perm.IsPermanent() {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || strings.HasPrefix(pgErr.Code, "08")
	}
	return true
}

func newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

// ReliableExec acquires a pool connection and runs f, retrying transient failures.
// Every attempt gets its own tryTimeout.
func ReliableExec(ctx context.Context, pool *pgxpool.Pool, tryTimeout time.Duration, f func(ctx context.Context, conn *pgxpool.Conn) error) error {
	return backoff.Retry(func() error {
		tryCtx, cancel := context.WithTimeout(ctx, tryTimeout)
		defer cancel()
		conn, err := pool.Acquire(tryCtx)
		if err != nil {
			return fmt.Errorf("error in pool.Acquire: %w", err)
		}
		defer conn.Release()

		err = f(tryCtx, conn)
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(newBackoff(), ctx))
}

// ReliableExecInTx is ReliableExec inside a transaction, committed when f returns nil.
func ReliableExecInTx(ctx context.Context, pool *pgxpool.Pool, tryTimeout time.Duration, f func(ctx context.Context, tx pgx.Tx) error) error {
	return ReliableExec(ctx, pool, tryTimeout, func(ctx context.Context, conn *pgxpool.Conn) error {
		tx, err := conn.Begin(ctx)
		if err != nil {
			return fmt.Errorf("error in conn.Begin: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := f(ctx, tx); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("error in tx.Commit: %w", err)
		}
		return nil
	})
}
