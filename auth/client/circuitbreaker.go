package client

import (
	"sync"
	"time"

	"github.com/nebularis/iam/auth/core"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// CircuitBreaker implements a rolling-window failure-ratio breaker
// guarding calls to the client store: once the failure ratio over a
// minimum sample size crosses the configured threshold, calls fail fast
// with core.ErrCircuitOpen until the cooldown elapses, after which a
// half-open probe phase requires a run of successes before fully
// closing again.
type CircuitBreaker struct {
	mu sync.Mutex

	state          breakerState
	failures       int
	successes      int
	total          int
	openedAt       time.Time
	halfOpenProbes int

	failureThreshold float64
	minimumRequests  int
	cooldownPeriod   time.Duration
	successThreshold int
	clock            core.Clock
}

// NewCircuitBreaker creates a breaker with the given tuning parameters.
func NewCircuitBreaker(failureThreshold float64, minimumRequests int, cooldownPeriod time.Duration, successThreshold int, clock core.Clock) *CircuitBreaker {
	if successThreshold <= 0 {
		successThreshold = 1
	}
	return &CircuitBreaker{
		state:            stateClosed,
		failureThreshold: failureThreshold,
		minimumRequests:  minimumRequests,
		cooldownPeriod:   cooldownPeriod,
		successThreshold: successThreshold,
		clock:            clock,
	}
}

// Allow reports whether a call may proceed, transitioning an open
// breaker to half-open once the cooldown period has elapsed.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateOpen:
		if b.clock.Now().Sub(b.openedAt) >= b.cooldownPeriod {
			b.state = stateHalfOpen
			b.halfOpenProbes = 0
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess registers a successful call.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateHalfOpen:
		b.halfOpenProbes++
		if b.halfOpenProbes >= b.successThreshold {
			b.reset()
		}
	case stateClosed:
		b.total++
		b.successes++
		b.maybeRollWindow()
	}
}

// RecordFailure registers a failed call.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateHalfOpen:
		b.trip()
	case stateClosed:
		b.total++
		b.failures++
		if b.total >= b.minimumRequests && b.failureRatio() >= b.failureThreshold {
			b.trip()
		}
	}
}

func (b *CircuitBreaker) failureRatio() float64 {
	if b.total == 0 {
		return 0
	}
	return float64(b.failures) / float64(b.total)
}

// maybeRollWindow resets the closed-state counters once they've grown
// large enough that old failures would otherwise never age out.
func (b *CircuitBreaker) maybeRollWindow() {
	if b.total >= b.minimumRequests*10 {
		b.total = 0
		b.failures = 0
		b.successes = 0
	}
}

func (b *CircuitBreaker) trip() {
	b.state = stateOpen
	b.openedAt = b.clock.Now()
	b.failures = 0
	b.successes = 0
	b.total = 0
}

func (b *CircuitBreaker) reset() {
	b.state = stateClosed
	b.failures = 0
	b.successes = 0
	b.total = 0
	b.halfOpenProbes = 0
}

// State reports the breaker's current state as a string, for diagnostics.
func (b *CircuitBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}
