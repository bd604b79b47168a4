package objdb

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryBackoff is the initial delay between attempts of Retry; later delays
// follow the Fibonacci sequence.
var RetryBackoff = 10 * time.Millisecond

// Retry calls fn until it succeeds, returns an error other than
// RetryableTransactionError, or has been retried maxRetries times. The
// engine itself never retries; fn must run a whole transaction.
func Retry(ctx context.Context, maxRetries uint64, fn func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(maxRetries, retry.NewFibonacci(RetryBackoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		var rerr *RetryableTransactionError
		if errors.As(err, &rerr) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// UpdateRetrying is Update wrapped in Retry.
func (db *DB) UpdateRetrying(ctx context.Context, maxRetries uint64, model *SchemaModel, version uint64, fn func(tx *Tx) error) error {
	return Retry(ctx, maxRetries, func(ctx context.Context) error {
		return db.Update(ctx, model, version, fn)
	})
}
