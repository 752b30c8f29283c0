// Package breaker implements the per-endpoint circuit breaker:
// closed/open/half-open state with failure accounting, gated to count
// only timeouts, 5xx, connection errors, and 429 as failures.
package breaker

import (
	"sync"
	"time"

	"github.com/airouter/airouter/internal/routerr"
	"github.com/airouter/airouter/internal/types"
)

// Config holds the breaker's tunables.
type Config struct {
	FailureThreshold   int
	OpenCooldown       time.Duration
	HalfOpenSuccesses  int
}

// DefaultConfig mirrors the design defaults.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, OpenCooldown: 60 * time.Second, HalfOpenSuccesses: 3}
}

type state struct {
	mu                  sync.Mutex
	breakerState        types.BreakerState
	consecutiveFailures int
	consecutiveSuccess  int
	openedAt            time.Time
	halfOpenInFlight    bool
}

// Breaker tracks circuit state for a fixed set of endpoints, one state
// machine per endpoint, each independently linearizable.
type Breaker struct {
	cfg   Config
	mu    sync.RWMutex
	byEP  map[string]*state
}

// New builds a Breaker for the given endpoint names.
func New(cfg Config, endpointNames []string) *Breaker {
	b := &Breaker{cfg: cfg, byEP: make(map[string]*state, len(endpointNames))}
	for _, n := range endpointNames {
		b.byEP[n] = &state{breakerState: types.BreakerClosed}
	}
	return b
}

func (b *Breaker) stateFor(name string) *state {
	b.mu.RLock()
	s, ok := b.byEP[name]
	b.mu.RUnlock()
	if ok {
		return s
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.byEP[name]; ok {
		return s
	}
	s = &state{breakerState: types.BreakerClosed}
	b.byEP[name] = s
	return s
}

// Allow reports whether a call to name may proceed right now, and — when it
// may, in the half_open state — reserves the one bounded probe slot so
// concurrent callers don't all pile into the probe window.
func (b *Breaker) Allow(name string) bool {
	s := b.stateFor(name)
	s.mu.Lock()
	defer s.mu.Unlock()

	b.maybeTransitionToHalfOpenLocked(s)

	switch s.breakerState {
	case types.BreakerClosed:
		return true
	case types.BreakerHalfOpen:
		if s.halfOpenInFlight {
			return false
		}
		s.halfOpenInFlight = true
		return true
	default: // open
		return false
	}
}

// maybeTransitionToHalfOpenLocked moves open -> half_open after the
// cooldown elapses. Caller must hold s.mu.
func (b *Breaker) maybeTransitionToHalfOpenLocked(s *state) {
	if s.breakerState == types.BreakerOpen && time.Since(s.openedAt) >= b.cfg.OpenCooldown {
		s.breakerState = types.BreakerHalfOpen
		s.consecutiveSuccess = 0
		s.halfOpenInFlight = false
	}
}

// RecordOutcome feeds the breaker an execution outcome. Only outcomes for
// which routerr.CountsAsBreakerFailure returns true count as failures.
func (b *Breaker) RecordOutcome(name string, kind routerr.Kind, success bool) {
	s := b.stateFor(name)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.breakerState == types.BreakerHalfOpen {
		s.halfOpenInFlight = false
	}

	if success {
		s.consecutiveFailures = 0
		switch s.breakerState {
		case types.BreakerHalfOpen:
			s.consecutiveSuccess++
			if s.consecutiveSuccess >= b.cfg.HalfOpenSuccesses {
				s.breakerState = types.BreakerClosed
				s.consecutiveSuccess = 0
			}
		case types.BreakerOpen:
			// stray success after cooldown race; treat as half-open entry
			s.breakerState = types.BreakerHalfOpen
			s.consecutiveSuccess = 1
		}
		return
	}

	if !routerr.CountsAsBreakerFailure(kind) {
		return
	}

	switch s.breakerState {
	case types.BreakerHalfOpen:
		s.breakerState = types.BreakerOpen
		s.openedAt = time.Now()
		s.consecutiveSuccess = 0
	case types.BreakerClosed:
		s.consecutiveFailures++
		if s.consecutiveFailures >= b.cfg.FailureThreshold {
			s.breakerState = types.BreakerOpen
			s.openedAt = time.Now()
			s.consecutiveFailures = 0
		}
	case types.BreakerOpen:
		s.openedAt = time.Now()
	}
}

// State returns the current (possibly just-transitioned) breaker state for
// name.
func (b *Breaker) State(name string) types.BreakerState {
	s := b.stateFor(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	b.maybeTransitionToHalfOpenLocked(s)
	return s.breakerState
}

// FailureCount returns the current consecutive-failure count for name
// (observability only).
func (b *Breaker) FailureCount(name string) int {
	s := b.stateFor(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutiveFailures
}
