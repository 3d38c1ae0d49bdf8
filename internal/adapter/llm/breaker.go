package llm

import (
	"log/slog"
	"sync"
	"time"
)

// CircuitState represents the state of a per-model circuit breaker.
type CircuitState int

const (
	// CircuitClosed indicates the circuit is allowing requests to pass through.
	CircuitClosed CircuitState = iota
	// CircuitOpen indicates the circuit is blocking requests due to failures.
	CircuitOpen
	// CircuitHalfOpen indicates the circuit is probing recovery with a single request.
	CircuitHalfOpen
)

// String returns a string representation of the circuit state.
func (cs CircuitState) String() string {
	switch cs {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker tracks consecutive failures for one model. Three straight
// failures open the circuit; after the recovery timeout a single probe is
// allowed through.
type CircuitBreaker struct {
	mu               sync.Mutex
	model            string
	failureThreshold int
	recoveryTimeout  time.Duration
	state            CircuitState
	failureCount     int
	lastFailureTime  time.Time
}

// NewCircuitBreaker creates a circuit breaker for a specific model.
func NewCircuitBreaker(model string) *CircuitBreaker {
	return &CircuitBreaker{
		model:            model,
		failureThreshold: 3,
		recoveryTimeout:  30 * time.Second,
		state:            CircuitClosed,
	}
}

// ShouldAttempt reports whether a request may be sent. An open circuit whose
// recovery timeout has elapsed moves to half-open and admits one probe.
func (cb *CircuitBreaker) ShouldAttempt() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		if time.Since(cb.lastFailureTime) > cb.recoveryTimeout {
			cb.state = CircuitHalfOpen
			slog.Info("circuit breaker half-open, probing model",
				slog.String("model", cb.model))
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess resets the failure streak and closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	if cb.state != CircuitClosed {
		cb.state = CircuitClosed
		slog.Info("circuit breaker closed after successful recovery",
			slog.String("model", cb.model))
	}
}

// RecordFailure counts a failure and opens the circuit at the threshold. A
// failed half-open probe re-opens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailureTime = time.Now()

	if cb.state == CircuitHalfOpen || cb.failureCount >= cb.failureThreshold {
		cb.state = CircuitOpen
		slog.Warn("circuit breaker opened",
			slog.String("model", cb.model),
			slog.Int("failure_count", cb.failureCount),
			slog.Int("threshold", cb.failureThreshold))
	}
}

// GetState returns the current circuit state.
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// breakerSet holds one breaker per model.
type breakerSet struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

func newBreakerSet() *breakerSet {
	return &breakerSet{breakers: make(map[string]*CircuitBreaker)}
}

func (s *breakerSet) get(model string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if br, ok := s.breakers[model]; ok {
		return br
	}
	br := NewCircuitBreaker(model)
	s.breakers[model] = br
	return br
}
