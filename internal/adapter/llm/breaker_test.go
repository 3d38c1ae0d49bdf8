package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("gemini-2.0-flash-001")
	assert.Equal(t, CircuitClosed, cb.GetState())
	assert.True(t, cb.ShouldAttempt())

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.GetState())
	assert.True(t, cb.ShouldAttempt())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.GetState())
	assert.False(t, cb.ShouldAttempt())
}

func TestCircuitBreaker_SuccessResetsStreak(t *testing.T) {
	cb := NewCircuitBreaker("m")
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb := NewCircuitBreaker("m")
	cb.recoveryTimeout = 10 * time.Millisecond
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	assert.False(t, cb.ShouldAttempt())

	time.Sleep(20 * time.Millisecond)
	assert.True(t, cb.ShouldAttempt())
	assert.Equal(t, CircuitHalfOpen, cb.GetState())

	// A failed probe re-opens immediately.
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.GetState())
	assert.False(t, cb.ShouldAttempt())

	time.Sleep(20 * time.Millisecond)
	assert.True(t, cb.ShouldAttempt())
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.GetState())
}

func TestBreakerSet_PerModel(t *testing.T) {
	set := newBreakerSet()
	a := set.get("model-a")
	b := set.get("model-b")
	assert.NotSame(t, a, b)
	assert.Same(t, a, set.get("model-a"))

	for i := 0; i < 3; i++ {
		a.RecordFailure()
	}
	assert.Equal(t, CircuitOpen, a.GetState())
	assert.Equal(t, CircuitClosed, b.GetState())
}

func TestCircuitStateString(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(99).String())
}
