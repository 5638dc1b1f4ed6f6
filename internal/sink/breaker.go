package sink

import (
	"sync"
	"time"
)

// circuitState is the state of a sink-reconnect circuit breaker.
type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

func (s circuitState) String() string {
	switch s {
	case circuitClosed:
		return "closed"
	case circuitOpen:
		return "open"
	case circuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// breakerConfig configures a circuitBreaker.
type breakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

func defaultBreakerConfig() breakerConfig {
	return breakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// circuitBreaker guards a network sink's Open/reconnect path: repeated
// connection failures open the circuit so the sink backs off instead of
// hot-looping reconnect attempts. One breaker per sink instance — this
// library has no keyed registry of many simultaneous relay edges to share
// breakers across.
type circuitBreaker struct {
	cfg breakerConfig

	mu              sync.Mutex
	state           circuitState
	failures        int
	successes       int
	lastFailureTime time.Time
}

func newCircuitBreaker(cfg breakerConfig) *circuitBreaker {
	return &circuitBreaker{cfg: cfg, state: circuitClosed}
}

// Allow reports whether a connect attempt may proceed.
func (cb *circuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == circuitOpen && time.Since(cb.lastFailureTime) >= cb.cfg.Timeout {
		cb.state = circuitHalfOpen
		cb.successes = 0
	}
	return cb.state != circuitOpen
}

// RecordSuccess records a successful connect/write.
func (cb *circuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case circuitClosed:
		cb.failures = 0
	case circuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.state = circuitClosed
			cb.failures = 0
			cb.successes = 0
		}
	}
}

// RecordFailure records a failed connect/write.
func (cb *circuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.lastFailureTime = time.Now()
	switch cb.state {
	case circuitClosed:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.state = circuitOpen
			cb.failures = 0
		}
	case circuitHalfOpen:
		cb.state = circuitOpen
		cb.successes = 0
	}
}

// State reports the breaker's current state, resolving a timed-out open
// circuit to half-open without mutating it.
func (cb *circuitBreaker) State() circuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == circuitOpen && time.Since(cb.lastFailureTime) >= cb.cfg.Timeout {
		return circuitHalfOpen
	}
	return cb.state
}
