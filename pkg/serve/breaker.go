package serve

import (
	"sync"
	"time"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half_open"
	}
	return "closed"
}

// CircuitBreaker sheds scan load after consecutive scanner failures. The
// breaker opens at failureThreshold consecutive failures, cools down for
// recoveryTimeout, then admits a single half-open probe.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	recoveryTimeout  time.Duration

	state       breakerState
	consecutive int
	openedAt    time.Time
	probing     bool
}

// NewCircuitBreaker builds a closed breaker.
func NewCircuitBreaker(failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
	}
}

// Allow reports whether a request may proceed.
func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case stateOpen:
		if time.Since(c.openedAt) < c.recoveryTimeout {
			return false
		}
		c.state = stateHalfOpen
		c.probing = true
		return true
	case stateHalfOpen:
		if c.probing {
			return false
		}
		c.probing = true
		return true
	}
	return true
}

// RecordResult feeds an outcome back. Returns true when this outcome
// tripped the breaker open.
func (c *CircuitBreaker) RecordResult(success bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateHalfOpen {
		c.probing = false
		if success {
			c.state = stateClosed
			c.consecutive = 0
			return false
		}
		c.state = stateOpen
		c.openedAt = time.Now()
		return true
	}

	if success {
		c.consecutive = 0
		return false
	}
	c.consecutive++
	if c.consecutive >= c.failureThreshold && c.state == stateClosed {
		c.state = stateOpen
		c.openedAt = time.Now()
		return true
	}
	return false
}

// State reports the current breaker state name.
func (c *CircuitBreaker) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.String()
}
