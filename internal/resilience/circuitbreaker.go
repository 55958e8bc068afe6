// Package resilience provides the transcription gateway primitives: a
// per-provider circuit breaker and an ordered fallback chain.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) that
// stops hammering a provider that keeps failing. [FallbackGroup] puts one
// breaker in front of every provider and tries them in preference order,
// first success wins. [STTFallback] specialises the group for
// [stt.Provider].
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker
// rejects the call without running it.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has elapsed since the last failure.
	StateOpen

	// StateHalfOpen lets up to HalfOpenMax probe calls through. Any probe
	// failure re-opens the breaker; HalfOpenMax successes close it.
	StateHalfOpen
)

// String returns the name used in logs, metrics and the status probe.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// StateChangeFunc observes breaker transitions. It runs after the breaker's
// lock is released and must not block.
type StateChangeFunc func(name string, from, to State)

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker]. Zero values
// select the defaults.
type CircuitBreakerConfig struct {
	// Name identifies the guarded provider in logs and callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that opens a closed
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long an open breaker waits before probing.
	// Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probe calls admitted while half-open.
	// Default: 3.
	HalfOpenMax int

	// OnStateChange, if set, is called on every transition.
	OnStateChange StateChangeFunc

	// Now replaces time.Now. Tests use it to step through the reset timeout.
	Now func() time.Time
}

// CircuitBreaker guards one provider.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu        sync.Mutex
	state     State
	failures  int // consecutive failures while closed
	openedAt  time.Time
	probes    int // probes admitted in the current half-open window
	probeWins int
}

// NewCircuitBreaker creates a closed [CircuitBreaker].
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

// Name returns the configured name.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute runs fn unless the breaker rejects it with [ErrCircuitOpen].
//
// An error wrapping [context.Canceled] is returned to the caller but not
// counted: the caller gave up, the provider did not fail. A deadline is
// counted.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, change, err := cb.admit()
	cb.notify(change)
	if err != nil {
		return err
	}

	err = fn()

	cb.mu.Lock()
	switch {
	case err == nil:
		change = cb.succeeded(probe)
	case errors.Is(err, context.Canceled):
		if probe {
			cb.probes--
		}
		change = transitionNone
	default:
		change = cb.failed(probe)
	}
	cb.mu.Unlock()
	cb.notify(change)
	return err
}

// transitionEvent is a pending OnStateChange call collected under the lock.
type transitionEvent struct {
	from, to State
	ok       bool
}

var transitionNone = transitionEvent{}

// admit decides whether a call may run and whether it counts as a probe.
func (cb *CircuitBreaker) admit() (probe bool, change transitionEvent, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.cfg.Now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return false, transitionNone, ErrCircuitOpen
		}
		change = cb.transition(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.cfg.HalfOpenMax {
			return false, change, ErrCircuitOpen
		}
		cb.probes++
		return true, change, nil
	}
	return false, change, nil
}

// failed records a failure. Must be called with cb.mu held.
func (cb *CircuitBreaker) failed(probe bool) transitionEvent {
	if probe || cb.state == StateHalfOpen {
		return cb.transition(StateOpen)
	}
	cb.failures++
	if cb.failures >= cb.cfg.MaxFailures {
		return cb.transition(StateOpen)
	}
	return transitionNone
}

// succeeded records a success. Must be called with cb.mu held.
func (cb *CircuitBreaker) succeeded(probe bool) transitionEvent {
	if !probe {
		cb.failures = 0
		return transitionNone
	}
	if cb.state != StateHalfOpen {
		// Another probe re-opened the breaker while this one ran.
		return transitionNone
	}
	cb.probeWins++
	if cb.probeWins >= cb.cfg.HalfOpenMax {
		return cb.transition(StateClosed)
	}
	return transitionNone
}

// transition moves to state to and resets the counters that belong to the
// new state. Must be called with cb.mu held.
func (cb *CircuitBreaker) transition(to State) transitionEvent {
	from := cb.state
	cb.state = to
	if to == StateOpen {
		cb.openedAt = cb.cfg.Now()
	}
	if from == to {
		return transitionNone
	}
	switch to {
	case StateOpen:
		slog.Warn("circuit breaker opened", "name", cb.cfg.Name, "from", from.String(), "consecutive_failures", cb.failures)
	case StateHalfOpen:
		cb.probes, cb.probeWins = 0, 0
		slog.Info("circuit breaker probing", "name", cb.cfg.Name)
	case StateClosed:
		cb.failures, cb.probes, cb.probeWins = 0, 0, 0
		slog.Info("circuit breaker closed", "name", cb.cfg.Name, "from", from.String())
	}
	return transitionEvent{from: from, to: to, ok: true}
}

func (cb *CircuitBreaker) notify(e transitionEvent) {
	if e.ok && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, e.from, e.to)
	}
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// Execute.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Failures returns the consecutive failure count of a closed breaker.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset forces the breaker closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	change := cb.transition(StateClosed)
	cb.failures, cb.probes, cb.probeWins = 0, 0, 0
	cb.mu.Unlock()
	cb.notify(change)
}
