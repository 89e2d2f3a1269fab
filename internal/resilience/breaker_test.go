package resilience

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/errors"
)

func testSettings() BreakerSettings {
	return BreakerSettings{
		FailureThreshold: 3,
		RecoveryTimeout:  50 * time.Millisecond,
		SuccessThreshold: 2,
		CallTimeout:      time.Second,
	}
}

func failingCall(ctx context.Context) error {
	return errors.New(errors.CodeKafkaConnection, "down")
}

func okCall(ctx context.Context) error { return nil }

func TestBreakerOpensOnNthConsecutiveFailure(t *testing.T) {
	b := NewBreaker("kafka", testSettings())
	ctx := context.Background()

	require.Error(t, b.Execute(ctx, failingCall))
	assert.Equal(t, "closed", b.State())
	require.Error(t, b.Execute(ctx, failingCall))
	assert.Equal(t, "closed", b.State())
	require.Error(t, b.Execute(ctx, failingCall))
	assert.Equal(t, "open", b.State())
}

func TestBreakerFailsFastWhenOpen(t *testing.T) {
	b := NewBreaker("kafka", testSettings())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, failingCall)
	}

	calls := 0
	err := b.Execute(ctx, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, 0, calls)

	typed, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeInternal, typed.Code)
	assert.Equal(t, "open", typed.Details["circuit_state"])
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	b := NewBreaker("kafka", testSettings())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, failingCall)
	}
	require.Equal(t, "open", b.State())

	time.Sleep(60 * time.Millisecond)

	// Two consecutive successes close the breaker again.
	require.NoError(t, b.Execute(ctx, okCall))
	require.NoError(t, b.Execute(ctx, okCall))
	assert.Equal(t, "closed", b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker("kafka", testSettings())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, failingCall)
	}
	time.Sleep(60 * time.Millisecond)

	require.Error(t, b.Execute(ctx, failingCall))
	assert.Equal(t, "open", b.State())
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("kafka", testSettings())
	ctx := context.Background()

	_ = b.Execute(ctx, failingCall)
	_ = b.Execute(ctx, failingCall)
	require.NoError(t, b.Execute(ctx, okCall))
	_ = b.Execute(ctx, failingCall)
	_ = b.Execute(ctx, failingCall)
	// Five calls but never three consecutive failures.
	assert.Equal(t, "closed", b.State())
}

func TestBreakerIgnoresNonRetryableFailures(t *testing.T) {
	b := NewBreaker("kafka", testSettings())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		err := b.Execute(ctx, func(ctx context.Context) error {
			return errors.New(errors.CodeValidation, "bad spec")
		})
		require.Error(t, err)
		assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
	}
	assert.Equal(t, "closed", b.State())
}

func TestBreakerReset(t *testing.T) {
	b := NewBreaker("kafka", testSettings())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, failingCall)
	}
	require.Equal(t, "open", b.State())

	b.Reset()
	assert.Equal(t, "closed", b.State())
	assert.NoError(t, b.Execute(ctx, okCall))
}

func TestBreakerResetDuringConcurrentExecutes(t *testing.T) {
	b := NewBreaker("kafka", testSettings())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = b.Execute(ctx, failingCall)
			}
		}()
	}
	for i := 0; i < 20; i++ {
		b.Reset()
	}
	wg.Wait()

	b.Reset()
	assert.Equal(t, "closed", b.State())
	assert.NoError(t, b.Execute(ctx, okCall))
}

func TestBreakerRegistrySharesInstances(t *testing.T) {
	r := NewBreakerRegistry(testSettings())
	a := r.Get("kafka")
	b := r.Get("kafka")
	assert.Same(t, a, b)
	assert.NotSame(t, a, r.Get("storage"))
}

func TestBreakerRegistryReset(t *testing.T) {
	r := NewBreakerRegistry(testSettings())
	b := r.Get("kafka")
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, failingCall)
	}
	require.Equal(t, "open", b.State())

	r.Reset("kafka")
	assert.Equal(t, "closed", b.State())
}

func TestBreakerAppliesCallTimeout(t *testing.T) {
	settings := testSettings()
	settings.CallTimeout = 20 * time.Millisecond
	b := NewBreaker("slow", settings)

	err := b.Execute(context.Background(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), errors.CodeKafkaTimeout, "call timed out")
		case <-time.After(time.Second):
			return nil
		}
	})
	require.Error(t, err)
	assert.Equal(t, errors.CodeKafkaTimeout, errors.CodeOf(err))
}
