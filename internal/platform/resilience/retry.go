// Package resilience implements the retry, circuit breaker, and rate
// limiting primitives shared by the provider and service tiers.
package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
)

// Retry runs fn with randomized exponential backoff (cenkalti/backoff's
// default randomization factor), capping the total retry budget at maxElapsed. attempts
// bounds the number of tries; a zero or negative attempts disables retry
// entirely (fn is not called and a zero value is returned).
func Retry[T any](ctx context.Context, attempts int, initialInterval, maxElapsed time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	if attempts <= 0 {
		return zero, nil
	}

	meter := otel.Meter("wopa")
	attemptCounter, _ := meter.Int64Counter("wopa_resilience_retry_attempts_total")
	successCounter, _ := meter.Int64Counter("wopa_resilience_retry_success_total")
	failCounter, _ := meter.Int64Counter("wopa_resilience_retry_fail_total")

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialInterval
	bo.MaxElapsedTime = maxElapsed
	bounded := backoff.WithMaxRetries(bo, uint64(attempts-1))
	ticker := backoff.WithContext(bounded, ctx)

	var result T
	var lastErr error
	op := func() error {
		attemptCounter.Add(ctx, 1)
		v, err := fn()
		if err != nil {
			lastErr = err
			return err
		}
		result = v
		return nil
	}
	if err := backoff.Retry(op, ticker); err != nil {
		failCounter.Add(ctx, 1)
		if lastErr != nil {
			return zero, lastErr
		}
		return zero, err
	}
	successCounter.Add(ctx, 1)
	return result, nil
}
