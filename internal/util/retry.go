package util

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Retry calls fn up to maxAttempts times with exponential backoff starting at
// baseDelay. It returns nil on the first successful call, or the last error
// if all attempts fail. The function respects context cancellation between
// retries.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	return RetryIf(ctx, maxAttempts, baseDelay, func(error) bool { return true }, fn)
}

// RetryIf is Retry that stops at the first error for which retryable
// returns false, returning that error unchanged.
func RetryIf(ctx context.Context, maxAttempts int, baseDelay time.Duration, retryable func(error) bool, fn func() error) error {
	_, err := RetryValue(ctx, maxAttempts, baseDelay, retryable, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryValue is RetryIf for operations that produce a value.
func RetryValue[T any](ctx context.Context, maxAttempts int, baseDelay time.Duration, retryable func(error) bool, fn func() (T, error)) (T, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseDelay
	b.MaxInterval = 30 * time.Second

	v, err := backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err != nil && !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithMaxElapsedTime(0),
	)

	// The final attempt returns its error still wrapped.
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	return v, err
}
