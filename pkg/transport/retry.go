package transport

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/netchunk/netchunk/pkg/errs"
)

// RetryPolicy configures the bounded retry loop of spec.md §4.2:
// default 3 attempts, linear backoff (base_delay * attempt number).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy matches spec.md §4.2's stated defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 1 * time.Second}
}

// linearBackOff implements backoff.BackOff with NextBackOff() =
// base_delay * attempt, matching the spec's "linear backoff" wording
// rather than go-backoff's default exponential curve.
type linearBackOff struct {
	base    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.base * time.Duration(b.attempt)
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}

// Retries tallies the retries made by Do (every attempt after the
// first, whatever its outcome), so the orchestrator can report
// spec.md §4.5's "retries incurred" statistic.
type Retries struct {
	Count int
}

// Do runs fn up to policy.MaxAttempts times, sleeping
// policy.BaseDelay*attempt between attempts, stopping early on a
// non-retryable error or on ctx cancellation. It returns the last
// error if every attempt fails.
func Do(ctx context.Context, policy RetryPolicy, retries *Retries, fn func() error) error {
	bo := backoff.WithContext(&boundedLinear{
		linearBackOff: linearBackOff{base: policy.BaseDelay},
		maxAttempts:   policy.MaxAttempts,
	}, ctx)

	attempt := 0
	operation := func() error {
		attempt++
		if retries != nil && attempt > 1 {
			retries.Count++
		}
		err := fn()
		if err == nil {
			return nil
		}
		if !errs.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(operation, bo)
}

// boundedLinear caps linearBackOff at maxAttempts by returning
// backoff.Stop once exhausted, since cenkalti/backoff has no built-in
// linear policy with a hard attempt ceiling.
type boundedLinear struct {
	linearBackOff
	maxAttempts int
}

func (b *boundedLinear) NextBackOff() time.Duration {
	if b.attempt+1 >= b.maxAttempts {
		b.attempt++
		return backoff.Stop
	}
	return b.linearBackOff.NextBackOff()
}
