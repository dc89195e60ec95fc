package service

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/dronexam-api/pkg/errors"
)

// RetryPolicy re-runs transactions that failed with CONFLICT or
// SERVICE_UNAVAILABLE using exponential backoff with jitter.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Logger     *zap.Logger
	// OnInternal is called once when an operation ends with INTERNAL_ERROR.
	OnInternal func(op string, err error)
}

// DefaultRetryPolicy matches the engine defaults: three retries from 20ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: 20 * time.Millisecond}
}

// Do calls fn until it succeeds, fails with a non-retryable error, or the
// retry budget is spent. Context expiry surfaces as TIMEOUT.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	base := p.BaseDelay
	if base <= 0 {
		base = 20 * time.Millisecond
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return appErrors.FromError(err)
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !appErrors.Retryable(err) || attempt >= p.MaxRetries {
			final := appErrors.FromError(err)
			if final.Kind() == appErrors.KindInternal && p.OnInternal != nil {
				p.OnInternal(op, final)
			}
			return final
		}

		delay := jitter(base << attempt)
		logger.Debug("retrying transaction",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return appErrors.FromError(ctx.Err())
		case <-timer.C:
		}
	}
}

// jitter spreads d uniformly over [d/2, 3d/2).
func jitter(d time.Duration) time.Duration {
	if d <= 1 {
		return d
	}
	return d/2 + time.Duration(rand.Int63n(int64(d)))
}
