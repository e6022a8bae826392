package workflow

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(now *time.Time, events *[]CircuitEvent) *CircuitBreaker {
	cb := NewCircuitBreaker("n", CircuitBreakerConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
		HalfOpenMaxCalls: 1,
		SuccessThreshold: 1,
	}, func(e CircuitEvent) { *events = append(*events, e) }, nil)
	cb.now = func() time.Time { return *now }
	return cb
}

func TestCircuitBreaker_Lifecycle(t *testing.T) {
	now := time.Unix(1000, 0)
	var events []CircuitEvent
	cb := newTestBreaker(&now, &events)

	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	err := cb.Allow()
	assert.True(t, errors.Is(err, ErrCircuitOpen))

	now = now.Add(time.Minute)
	require.NoError(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())

	require.Len(t, events, 3)
	assert.Equal(t, CircuitOpen, events[0].To)
	assert.Equal(t, CircuitHalfOpen, events[1].To)
	assert.Equal(t, CircuitClosed, events[2].To)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(1000, 0)
	var events []CircuitEvent
	cb := newTestBreaker(&now, &events)

	cb.RecordFailure()
	cb.RecordFailure()
	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_SuccessThresholdAboveHalfOpenLimit(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker("n", CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  5 * time.Millisecond,
		HalfOpenMaxCalls: 1,
		SuccessThreshold: 2,
	}, nil, nil)
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	require.Equal(t, CircuitOpen, cb.State())
	now = now.Add(20 * time.Millisecond)

	for i := range 2 {
		require.NoError(t, cb.Allow(), "trial call %d", i+1)
		assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen, "half-open limit while %d in flight", i+1)
		cb.RecordSuccess()
	}
	assert.Equal(t, CircuitClosed, cb.State())
	assert.NoError(t, cb.Allow())
}

func TestCircuitBreaker_ZeroThresholdsAreRaised(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker("n", CircuitBreakerConfig{RecoveryTimeout: time.Second}, nil, nil)
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	now = now.Add(time.Second)
	require.NoError(t, cb.Allow())
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	now := time.Unix(1000, 0)
	var events []CircuitEvent
	cb := newTestBreaker(&now, &events)

	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Empty(t, events)
}

func TestCircuitBreakerRegistry(t *testing.T) {
	t.Parallel()
	r := NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig(), nil, nil)
	a := r.Get("a")
	assert.Same(t, a, r.Get("a"))
	r.Get("b")
	assert.Equal(t, map[string]CircuitState{"a": CircuitClosed, "b": CircuitClosed}, r.States())
	assert.Equal(t, "half_open", CircuitHalfOpen.String())
}
