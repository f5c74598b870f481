package remote

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds how transport failures are retried. Errors that are
// not transport failures are returned after the first attempt.
type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxTries:        2,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		MaxElapsedTime:  5 * time.Second,
	}
}

// NoRetry runs every operation exactly once.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxTries: 1}
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	return b
}

// Retry runs op under policy.
func Retry[T any](ctx context.Context, policy RetryPolicy, logger *slog.Logger, op func(ctx context.Context) (T, error)) (T, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	tries := policy.MaxTries
	if tries == 0 {
		tries = 1
	}

	result, err := backoff.Retry(ctx, func() (T, error) {
		value, err := op(ctx)
		if err != nil && !IsTransport(err) {
			return value, backoff.Permanent(err)
		}
		return value, err
	},
		backoff.WithBackOff(policy.backOff()),
		backoff.WithMaxTries(tries),
		backoff.WithMaxElapsedTime(policy.MaxElapsedTime),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Debug("retrying remote call", "error", err, "next", next)
		}),
	)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return result, err
}
