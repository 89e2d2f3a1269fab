package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/errors"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Strategy:    GrowthFixed,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(5), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New(errors.CodeKafkaConnection, "broker down")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustsBudget(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		return errors.New(errors.CodeKafkaTimeout, "still down")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, errors.CodeKafkaTimeout, errors.CodeOf(err))
}

func TestRetrySingleAttemptInvokesOnce(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(1), func(ctx context.Context) error {
		calls++
		return errors.New(errors.CodeInternal, "boom")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(5), func(ctx context.Context) error {
		calls++
		return errors.New(errors.CodeValidation, "bad input")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
}

func TestDelayForStrategies(t *testing.T) {
	base := 100 * time.Millisecond

	exp := RetryPolicy{BaseDelay: base, MaxDelay: time.Hour, Strategy: GrowthExponential, Factor: 2}
	assert.Equal(t, base, exp.DelayFor(1))
	assert.Equal(t, 2*base, exp.DelayFor(2))
	assert.Equal(t, 4*base, exp.DelayFor(3))

	lin := RetryPolicy{BaseDelay: base, MaxDelay: time.Hour, Strategy: GrowthLinear}
	assert.Equal(t, base, lin.DelayFor(1))
	assert.Equal(t, 2*base, lin.DelayFor(2))
	assert.Equal(t, 3*base, lin.DelayFor(3))

	fixed := RetryPolicy{BaseDelay: base, MaxDelay: time.Hour, Strategy: GrowthFixed}
	assert.Equal(t, base, fixed.DelayFor(1))
	assert.Equal(t, base, fixed.DelayFor(5))
}

func TestDelayForCapsAtMax(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: 3 * time.Second, Strategy: GrowthExponential, Factor: 10}
	assert.Equal(t, 3*time.Second, p.DelayFor(4))
}

func TestDelayForJitterStaysWithinSpread(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: time.Hour, Strategy: GrowthFixed, Jitter: true}
	for i := 0; i < 50; i++ {
		d := p.DelayFor(1)
		assert.GreaterOrEqual(t, d, 900*time.Millisecond)
		assert.LessOrEqual(t, d, 1100*time.Millisecond)
	}
}
