package payment

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"lensbook/services/booking"
)

// RetryPolicy bounds the exponential backoff applied to transient processor failures.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy retries up to 3 times, starting at 200ms.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:      3,
	InitialInterval: 200 * time.Millisecond,
	MaxInterval:     5 * time.Second,
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, p.MaxRetries), ctx)
}

// withRetry runs fn until it succeeds, fails permanently, or the retry budget
// is spent. Only transient processor errors are retried.
func withRetry(ctx context.Context, policy RetryPolicy, logger *zap.Logger, op string, onRetry func(), fn func() error) error {
	operation := func() error {
		err := fn()
		if err == nil || booking.IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("transient processor failure, retrying",
			zap.String("op", op), zap.Duration("wait", wait), zap.Error(err))
		if onRetry != nil {
			onRetry()
		}
	}
	return backoff.RetryNotify(operation, policy.backOff(ctx), notify)
}
