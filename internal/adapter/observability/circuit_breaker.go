package observability

import (
	"fmt"
	"sync"
	"time"
)

// BreakerState is the state of a CircuitBreaker.
type BreakerState int

const (
	// BreakerClosed allows all calls.
	BreakerClosed BreakerState = iota
	// BreakerOpen sheds all calls until the cooldown elapses.
	BreakerOpen
	// BreakerHalfOpen admits a limited number of probe calls.
	BreakerHalfOpen
)

// String returns a human readable state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker sheds calls to a failing dependency until it recovers.
// After maxFailures consecutive failures the breaker opens; once the
// cooldown elapses it admits probe calls, and enough consecutive probe
// successes close it again. A failed probe re-opens immediately.
type CircuitBreaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	halfOpenMax int

	mu          sync.Mutex
	state       BreakerState
	failures    int
	successes   int
	lastFailure time.Time
}

// NewCircuitBreaker creates a breaker named for the dependency it guards.
// Non-positive arguments fall back to 5 failures and a 30s cooldown.
func NewCircuitBreaker(name string, maxFailures int, cooldown time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		name:        name,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		halfOpenMax: 3,
	}
}

// Call runs fn unless the breaker refuses the call, in which case fn is
// never invoked and the returned error names the breaker state.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if err := cb.acquire(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == BreakerOpen && time.Since(cb.lastFailure) >= cb.cooldown {
		cb.state = BreakerHalfOpen
		cb.successes = 0
	}

	switch cb.state {
	case BreakerOpen:
		RecordBreakerState(cb.name, int(cb.state))
		return fmt.Errorf("circuit breaker %s is %s", cb.name, cb.state)
	case BreakerHalfOpen:
		if cb.successes >= cb.halfOpenMax {
			return fmt.Errorf("circuit breaker %s is %s", cb.name, cb.state)
		}
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailure = time.Now()
		if cb.state == BreakerHalfOpen || cb.failures >= cb.maxFailures {
			cb.state = BreakerOpen
		}
	} else {
		switch cb.state {
		case BreakerClosed:
			cb.failures = 0
		case BreakerHalfOpen:
			cb.successes++
			if cb.successes >= cb.halfOpenMax {
				cb.state = BreakerClosed
				cb.failures = 0
				cb.successes = 0
			}
		}
	}
	RecordBreakerState(cb.name, int(cb.state))
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker back to closed with a clean failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = BreakerClosed
	cb.failures = 0
	cb.successes = 0
}
