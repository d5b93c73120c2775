// Package retry runs fallible remote operations with bounded, classified
// exponential backoff. Errors are normalized exactly once here; callers and
// everything downstream see budget.Error.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/livinlefevreloca/budgetd/internal/budget"
)

// Policy is the resolved retry policy for one server target.
type Policy struct {
	// MaxRetries is the number of retries after the initial attempt.
	// 0 means exactly one attempt, no delay.
	MaxRetries int

	// BaseDelay is the delay before the first retry; each subsequent
	// retry doubles it.
	BaseDelay time.Duration
}

// Do runs op up to pol.MaxRetries+1 times. Retryable failures (rate limit,
// network class) delay BaseDelay*2^attempt before the next try; anything
// else propagates immediately without consuming retry budget. The final
// error, after budget exhaustion, is the classified error of the last
// attempt. Backoff delays abandon when ctx is cancelled.
func Do[T any](ctx context.Context, logger *slog.Logger, pol Policy, name string, op func() (T, error)) (T, error) {
	wrapped := func() (T, error) {
		result, err := op()
		if err == nil {
			return result, nil
		}

		cerr := budget.Classify(err)
		if !budget.IsRetryable(cerr) {
			return result, backoff.Permanent(cerr)
		}
		return result, cerr
	}

	attempt := 0
	notify := func(err error, delay time.Duration) {
		attempt++
		logger.Warn("retryable failure, backing off",
			"operation", name,
			"attempt", attempt,
			"delay", delay,
			"error", err)
	}

	// The elapsed-time cap is disabled: the attempt budget alone bounds
	// the retries, whatever the configured base delay.
	return backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(newBackOff(pol)),
		backoff.WithMaxTries(uint(pol.MaxRetries)+1),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
}

// newBackOff builds the pure-exponential schedule for a policy: BaseDelay,
// 2*BaseDelay, 4*BaseDelay, ... with no jitter and no interval cap.
func newBackOff(pol Policy) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = pol.BaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = 24 * time.Hour
	return b
}
