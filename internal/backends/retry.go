package backends

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig bounds retries of transient backend failures.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns two retries starting at 500ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      2,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// retryableError marks a failure worth retrying: connection errors, 429s
// and 5xx responses.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

func isRetryableError(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// statusError classifies a non-200 response.
func statusError(code int, msg string) error {
	err := fmt.Errorf("API error (%d): %s", code, msg)
	if code == http.StatusTooManyRequests || code >= 500 {
		return &retryableError{err: err}
	}
	return err
}

// withRetry runs op until it succeeds, returns a non-retryable error, the
// retry budget is spent or ctx is done.
func withRetry[T any](ctx context.Context, cfg RetryConfig, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	if cfg.InitialInterval > 0 {
		b.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		b.MaxInterval = cfg.MaxInterval
	}
	// The caller's context carries the deadline.
	b.MaxElapsedTime = 0

	var policy backoff.BackOff = b
	if cfg.MaxRetries >= 0 {
		policy = backoff.WithMaxRetries(b, uint64(cfg.MaxRetries))
	}

	return backoff.RetryWithData(func() (T, error) {
		v, err := op()
		if err != nil && !isRetryableError(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithContext(policy, ctx))
}
