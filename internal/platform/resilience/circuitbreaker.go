package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
)

// ErrCircuitOpen is returned by callers that check Allow() themselves and
// want a sentinel error rather than a bare boolean.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// CircuitBreaker trips after a run of consecutive failures and recovers
// once a single half-open probe succeeds. Provider instances already get
// a slower, out-of-band health judgment from the background prober (see
// internal/provider/health.go's own consecutive-failure counting); this
// breaker's job is the fast, in-band one — stop sending a burst of calls
// at an instance that just started erroring, without waiting for the next
// probe tick. That narrower job doesn't need a rolling failure-rate
// window: a plain consecutive-failure count is enough, and avoids
// carrying threshold-drift machinery nothing in this package reads.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold  int
	halfOpenAfter     time.Duration
	maxHalfOpenProbes int

	state            breakerState
	openedAt         time.Time
	consecutiveFails int
	halfOpenProbes   int
}

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
	default:
		return "closed"
	}
}

// NewCircuitBreaker constructs a breaker that opens after failureThreshold
// consecutive failures, stays open for halfOpenAfter, then admits up to
// maxHalfOpenProbes trial requests; the first trial result recorded decides
// whether it closes or reopens.
func NewCircuitBreaker(failureThreshold int, halfOpenAfter time.Duration, maxHalfOpenProbes int) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 1
	}
	if maxHalfOpenProbes <= 0 {
		maxHalfOpenProbes = 1
	}
	return &CircuitBreaker{
		failureThreshold:  failureThreshold,
		halfOpenAfter:     halfOpenAfter,
		maxHalfOpenProbes: maxHalfOpenProbes,
		state:             stateClosed,
	}
}

// Allow reports whether a request may proceed, transitioning open->half-open
// once the cooldown has elapsed.
func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case stateOpen:
		if time.Since(c.openedAt) < c.halfOpenAfter {
			return false
		}
		c.state = stateHalfOpen
		c.halfOpenProbes = 1
	case stateHalfOpen:
		if c.halfOpenProbes >= c.maxHalfOpenProbes {
			return false
		}
		c.halfOpenProbes++
	}
	return true
}

// RecordResult reports the outcome of a request admitted by Allow.
func (c *CircuitBreaker) RecordResult(success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateClosed:
		if success {
			c.consecutiveFails = 0
			return
		}
		c.consecutiveFails++
		if c.consecutiveFails >= c.failureThreshold {
			c.transitionToOpen()
		}
	case stateHalfOpen:
		// A single probe decides the outcome: success closes the breaker
		// immediately, failure reopens it. maxHalfOpenProbes in Allow only
		// bounds how many concurrent trial requests can be in flight while
		// that decision is pending.
		if success {
			c.reset()
		} else {
			c.transitionToOpen()
		}
	}
}

// State reports the current breaker state as a string, for admin surfaces.
func (c *CircuitBreaker) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.String()
}

func (c *CircuitBreaker) transitionToOpen() {
	c.state = stateOpen
	c.openedAt = time.Now()
	c.consecutiveFails = 0
	counter, _ := otel.Meter("wopa").Int64Counter("wopa_resilience_circuit_open_total")
	counter.Add(context.Background(), 1)
}

func (c *CircuitBreaker) reset() {
	c.state = stateClosed
	c.openedAt = time.Time{}
	c.consecutiveFails = 0
	counter, _ := otel.Meter("wopa").Int64Counter("wopa_resilience_circuit_closed_total")
	counter.Add(context.Background(), 1)
}
