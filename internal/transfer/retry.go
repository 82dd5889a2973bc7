package transfer

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mbergen/convoy/internal/remote"
)

// Retrier runs one full transfer attempt at a time with exponential backoff
// between failures. An attempt streams the whole item; partial progress from
// a failed attempt is discarded, never resumed.
type Retrier struct {
	// MaxAttempts bounds the total number of attempts, including the first.
	MaxAttempts int
	// Base is the first backoff interval; attempt n sleeps base * 2^n.
	Base time.Duration
}

// Do invokes op until it succeeds, fails permanently, or attempts run out.
// notify, when non-nil, observes every retryable failure before the backoff
// sleep — the hook where per-item protocol adaptations happen.
// The returned attempt count is the number of times op ran.
func (r Retrier) Do(ctx context.Context, op func(context.Context) error, notify func(error)) (int, error) {
	maxAttempts := r.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	base := r.Base
	if base <= 0 {
		base = time.Second
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = base
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = 5 * time.Minute
	exp.MaxElapsedTime = 0

	var attempts int
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(maxAttempts-1)), ctx)

	err := backoff.RetryNotify(
		func() error {
			attempts++
			err := op(ctx)
			if err == nil {
				return nil
			}
			if !remote.Retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		},
		policy,
		func(err error, _ time.Duration) {
			if notify != nil {
				notify(err)
			}
		},
	)

	return attempts, err
}
