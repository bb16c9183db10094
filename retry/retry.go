// Package retry builds the backoff policies used by the bootstrap and client
// retry loops on top of cenkalti/backoff.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Strategy selects how the delay grows between attempts.
type Strategy int

const (
	// Linear waits attempt * Delay before the next attempt.
	Linear Strategy = iota
	// Exponential doubles Delay after every attempt, up to MaxDelay.
	Exponential
	// Constant always waits Delay.
	Constant
)

func (s Strategy) String() string {
	switch s {
	case Linear:
		return "linear"
	case Exponential:
		return "exponential"
	case Constant:
		return "constant"
	default:
		return "unknown"
	}
}

// ParseStrategy parses "linear", "exponential" or "constant".
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "linear":
		return Linear, nil
	case "exponential":
		return Exponential, nil
	case "constant":
		return Constant, nil
	default:
		return 0, fmt.Errorf("unknown backoff strategy %q", s)
	}
}

// Policy describes a bounded retry envelope.
type Policy struct {
	Strategy Strategy
	// MaxAttempts includes the first attempt. Values below 1 are treated as 1.
	MaxAttempts int
	Delay       time.Duration
	// MaxDelay caps exponential and linear growth. 0 means no cap.
	MaxDelay time.Duration
}

// LinearBackOff waits Step, 2*Step, 3*Step, ... capped at Max when Max > 0.
type LinearBackOff struct {
	Step    time.Duration
	Max     time.Duration
	attempt int
}

func (b *LinearBackOff) NextBackOff() time.Duration {
	b.attempt++
	d := time.Duration(b.attempt) * b.Step
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

func (b *LinearBackOff) Reset() {
	b.attempt = 0
}

// NewExponentialBackOff returns an exponential backoff without jitter or an
// elapsed-time limit: initial, 2*initial, 4*initial, ... capped at max.
func NewExponentialBackOff(initial, max time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = max
	if max == 0 {
		b.MaxInterval = time.Duration(1<<62 - 1)
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// BackOff builds the cenkalti BackOff for the policy, bounded by MaxAttempts
// and cancelled with ctx.
func (p Policy) BackOff(ctx context.Context) backoff.BackOffContext {
	var b backoff.BackOff
	switch p.Strategy {
	case Exponential:
		b = NewExponentialBackOff(p.Delay, p.MaxDelay)
	case Constant:
		b = backoff.NewConstantBackOff(p.Delay)
	default:
		b = &LinearBackOff{Step: p.Delay, Max: p.MaxDelay}
	}

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Do runs op until it succeeds, returns a permanent error, the attempts are
// exhausted or ctx is done. It returns the number of attempts made and the
// last error. Wrap an error with backoff.Permanent to stop retrying.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error, notify func(err error, next time.Duration)) (int, error) {
	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		return op(ctx, attempts)
	}, p.BackOff(ctx), notify)
	return attempts, err
}
