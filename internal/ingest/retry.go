package ingest

import (
	"context"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"dota-ingest/internal/opendota"
)

// RetryPolicy bounds retries of transient failures
type RetryPolicy struct {
	MaxAttempts    int // total attempts including the first
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.InitialBackoff),
		backoff.WithMaxInterval(p.MaxBackoff),
		backoff.WithMaxElapsedTime(0),
	)
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

// withRetry runs op until it succeeds, fails permanently or runs out of
// attempts. Only errors opendota.IsTransient accepts are retried.
func withRetry[T any](ctx context.Context, p RetryPolicy, what string, op func() (T, error)) (T, error) {
	attempt := 0
	operation := func() (T, error) {
		attempt++
		v, err := op()
		if err != nil && !opendota.IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	notify := func(err error, wait time.Duration) {
		log.Printf("[Retry] %s attempt %d failed: %v (retrying in %s)", what, attempt, err, wait.Round(time.Millisecond))
	}
	return backoff.RetryNotifyWithData(operation, p.backOff(ctx), notify)
}
