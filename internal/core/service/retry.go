package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rl1809/canteen/internal/core/domain"
)

const readRetries = 3

// readWithRetry retries idempotent reads that failed with ErrStorageFailure.
// Writes never go through here.
func readWithRetry[T any](ctx context.Context, read func() (T, error)) (T, error) {
	var out T
	op := func() error {
		v, err := read()
		if err != nil {
			if errors.Is(err, domain.ErrStorageFailure) {
				return err
			}
			return backoff.Permanent(err)
		}
		out = v
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, readRetries), ctx))
	return out, err
}
