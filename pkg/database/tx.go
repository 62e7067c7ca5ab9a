package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes for failures that succeed when the transaction is replayed.
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

// ErrTxAttemptsExhausted is returned by RunInTx when every attempt ended in a
// retryable failure.
var ErrTxAttemptsExhausted = errors.New("transaction attempts exhausted")

// IsRetryable reports whether err is a serialization failure or a deadlock.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == sqlStateSerializationFailure || pgErr.Code == sqlStateDeadlockDetected
}

// TxOptions tunes RunInTx.
type TxOptions struct {
	MaxAttempts int
	BaseBackoff time.Duration
	// OnRetry is called before each replay with the attempt that failed.
	OnRetry func(attempt int, err error)
}

// DefaultTxOptions replays up to three times with a 20ms base backoff.
func DefaultTxOptions() TxOptions {
	return TxOptions{MaxAttempts: 3, BaseBackoff: 20 * time.Millisecond}
}

// RunInTx runs fn inside a transaction and commits it. Retryable failures
// (from fn or from commit) roll back and replay fn; any other error is
// returned as is. When every attempt fails retryably the returned error
// wraps both ErrTxAttemptsExhausted and the last failure.
func RunInTx(ctx context.Context, db DBTX, opts TxOptions, fn func(tx pgx.Tx) error) error {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		lastErr = runOnce(ctx, db, fn)
		if lastErr == nil || !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == opts.MaxAttempts {
			break
		}
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, lastErr)
		}
		if err := sleepCtx(ctx, jittered(opts.BaseBackoff, attempt-1)); err != nil {
			return fmt.Errorf("retry transaction: %w", err)
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrTxAttemptsExhausted, opts.MaxAttempts, lastErr)
}

func runOnce(ctx context.Context, db DBTX, fn func(tx pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
