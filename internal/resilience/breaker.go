package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/errors"
)

// BreakerSettings configures one named circuit breaker.
type BreakerSettings struct {
	FailureThreshold uint32
	RecoveryTimeout  time.Duration
	SuccessThreshold uint32
	CallTimeout      time.Duration
}

// DefaultBreakerSettings is applied when callers do not override settings.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 2,
		CallTimeout:      30 * time.Second,
	}
}

// Breaker wraps a three-state circuit breaker around external calls.
// Consecutive failures trip it open; after the recovery timeout it admits
// trial calls, closing again after enough consecutive successes.
type Breaker struct {
	name     string
	settings BreakerSettings

	mu sync.RWMutex
	cb *gobreaker.CircuitBreaker
}

// passthrough smuggles non-retryable failures through the breaker as
// successes so that validation errors never trip it.
type passthrough struct {
	err error
}

// NewBreaker creates a named breaker.
func NewBreaker(name string, settings BreakerSettings) *Breaker {
	b := &Breaker{name: name, settings: settings}
	b.cb = gobreaker.NewCircuitBreaker(b.gobreakerSettings())
	return b
}

func (b *Breaker) gobreakerSettings() gobreaker.Settings {
	failureThreshold := b.settings.FailureThreshold
	if failureThreshold == 0 {
		failureThreshold = 1
	}
	successThreshold := b.settings.SuccessThreshold
	if successThreshold == 0 {
		successThreshold = 1
	}
	return gobreaker.Settings{
		Name:        b.name,
		MaxRequests: successThreshold,
		Timeout:     b.settings.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
	}
}

// Name returns the breaker's resource name.
func (b *Breaker) Name() string { return b.name }

func (b *Breaker) breaker() *gobreaker.CircuitBreaker {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cb
}

// State reports the current breaker state as a lowercase string.
func (b *Breaker) State() string {
	switch b.breaker().State() {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Execute runs fn through the breaker with the per-call timeout applied.
// When the breaker is open the call fails fast without invoking fn.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	result, err := b.breaker().Execute(func() (interface{}, error) {
		callCtx := ctx
		if b.settings.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, b.settings.CallTimeout)
			defer cancel()
		}
		callErr := fn(callCtx)
		if callErr != nil && !errors.IsRetryable(callErr) {
			return passthrough{err: callErr}, nil
		}
		return nil, callErr
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return errors.Newf(errors.CodeInternal, "circuit breaker %s is open", b.name).
			WithDetail("circuit_state", "open").
			WithDetail("breaker", b.name)
	}
	if err != nil {
		return err
	}
	if pt, ok := result.(passthrough); ok {
		return pt.err
	}
	return nil
}

// Reset returns the breaker to closed with cleared counters. Safe to
// call while other goroutines are executing through the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cb = gobreaker.NewCircuitBreaker(b.gobreakerSettings())
}

// BreakerRegistry tracks named breakers so every external resource shares
// one breaker across call sites.
type BreakerRegistry struct {
	mu       sync.Mutex
	defaults BreakerSettings
	breakers map[string]*Breaker
}

// NewBreakerRegistry creates a registry with the given default settings.
func NewBreakerRegistry(defaults BreakerSettings) *BreakerRegistry {
	return &BreakerRegistry{
		defaults: defaults,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for name, creating it with defaults on first use.
func (r *BreakerRegistry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := NewBreaker(name, r.defaults)
	r.breakers[name] = b
	return b
}

// Reset resets the named breaker, if registered.
func (r *BreakerRegistry) Reset(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		b.Reset()
	}
}

// ResetAll resets every registered breaker.
func (r *BreakerRegistry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.breakers {
		b.Reset()
	}
}

// Remove forgets the named breaker entirely.
func (r *BreakerRegistry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.breakers, name)
}
