package publisher

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy retries retryable failures with exponential backoff.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// timer is swapped out in tests; nil waits on a real timer.
	timer backoff.Timer
}

func NewRetryPolicy(maxAttempts int, base, max time.Duration) RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseBackoff: base,
		MaxBackoff:  max,
	}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// exponential doubles from BaseBackoff up to MaxBackoff, without jitter and
// without an elapsed-time cutoff; attempts are bounded by MaxAttempts.
func (p RetryPolicy) exponential() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseBackoff
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = p.MaxBackoff
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Duration(math.MaxInt64)
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Backoff returns the wait before the given retry (1-based).
func (p RetryPolicy) Backoff(retry int) time.Duration {
	b := p.exponential()
	var d time.Duration
	for i := 0; i < retry; i++ {
		d = b.NextBackOff()
	}
	return d
}

// retryAfterBackOff stretches the next wait to the server's Retry-After
// hint, capped at the policy's max backoff.
type retryAfterBackOff struct {
	backoff.BackOff
	max  time.Duration
	hint time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	hint := b.hint
	if b.max > 0 && hint > b.max {
		hint = b.max
	}
	if hint > next {
		return hint
	}
	return next
}

// Do runs fn until it succeeds, fails with a non-retryable kind, or the
// attempts are used up. It returns the number of attempts made and the last
// error fn returned.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	hinted := &retryAfterBackOff{BackOff: p.exponential(), max: p.MaxBackoff}
	b := backoff.WithContext(backoff.WithMaxRetries(hinted, uint64(p.attempts()-1)), ctx)

	var (
		attempts int
		lastErr  error
	)
	operation := func() error {
		attempts++
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		pubErr := AsError(lastErr)
		if !pubErr.Kind.Retryable() {
			return backoff.Permanent(lastErr)
		}
		hinted.hint = pubErr.RetryAfter
		return lastErr
	}

	// A cancelled context surfaces as ctx.Err(); callers want the
	// classified publish failure instead.
	if err := backoff.RetryNotifyWithTimer(operation, b, nil, p.timer); err != nil {
		if lastErr == nil {
			return attempts, err
		}
		return attempts, lastErr
	}
	return attempts, nil
}
