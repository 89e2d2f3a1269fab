// Package resilience provides the retry and circuit-breaker decorators that
// wrap every external call the agent makes.
package resilience

import (
	"context"
	"math/rand"
	"time"

	"github.com/avast/retry-go"

	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/errors"
)

// GrowthStrategy selects how the delay grows between attempts.
type GrowthStrategy string

const (
	GrowthExponential GrowthStrategy = "exponential"
	GrowthLinear      GrowthStrategy = "linear"
	GrowthFixed       GrowthStrategy = "fixed"
)

// RetryPolicy configures the retry decorator.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Strategy    GrowthStrategy
	Factor      float64
	Jitter      bool
}

// DefaultRetryPolicy is the policy applied when callers do not override it.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Strategy:    GrowthExponential,
		Factor:      2.0,
		Jitter:      true,
	}
}

// DelayFor computes the delay before attempt n (1-based retry count),
// capped at MaxDelay and optionally jittered by ±10%.
func (p RetryPolicy) DelayFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := p.Factor
	if factor <= 0 {
		factor = 2.0
	}
	var delay time.Duration
	switch p.Strategy {
	case GrowthLinear:
		delay = p.BaseDelay * time.Duration(attempt)
	case GrowthFixed:
		delay = p.BaseDelay
	default:
		delay = p.BaseDelay
		for i := 1; i < attempt; i++ {
			delay = time.Duration(float64(delay) * factor)
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter && delay > 0 {
		// ±10%
		spread := float64(delay) * 0.1
		delay = time.Duration(float64(delay) - spread + rand.Float64()*2*spread)
	}
	return delay
}

// Retry invokes fn until it succeeds, the attempt budget is exhausted, or a
// non-retryable failure is returned. The last error is returned unwrapped.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return retry.Do(
		func() error { return fn(ctx) },
		retry.Context(ctx),
		retry.Attempts(uint(attempts)),
		retry.RetryIf(errors.IsRetryable),
		retry.LastErrorOnly(true),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return policy.DelayFor(int(n) + 1)
		}),
	)
}
