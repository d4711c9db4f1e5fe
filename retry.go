package vfs

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retryConfig bounds the retries applied to provider operations that can
// transiently report absence on eventually-consistent backends.
type retryConfig struct {
	Attempts uint64
	Interval time.Duration
}

var errNotYetVisible = errors.New("vfs: node not yet visible")

// withRetry runs op until it reports success or the attempt budget runs
// out. A (false, nil) result is retried; transport errors abort at once.
// The final negative result surfaces as (false, nil) so callers translate
// it the same way a non-retried miss would be.
func (fs *FileSystem) withRetry(ctx context.Context, op func() (bool, error)) (bool, error) {
	if fs.retry.Attempts <= 1 {
		return op()
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(fs.retry.Interval), fs.retry.Attempts-1),
		ctx)

	err := backoff.Retry(func() error {
		ok, err := op()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errNotYetVisible
		}
		return nil
	}, policy)

	if err == nil {
		return true, nil
	}
	if errors.Is(err, errNotYetVisible) {
		return false, nil
	}
	return false, err
}
