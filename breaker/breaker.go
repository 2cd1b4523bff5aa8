// Package breaker implements a closed/open/half-open circuit breaker
// for the proxy's two outbound dependencies (ICAP and the backend).
// The state machine and the Subscribe-style notification hook are
// grounded on gobeaver-filekit's changetoken.go CallbackChangeToken:
// an atomic state value guarded by a RWMutex-protected callback slice,
// generalized from a one-shot "changed" flag to a three-state machine
// that can flip back and forth.
package breaker

import (
	"sync"
	"time"
)

// State is one of the three circuit breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config tunes trip sensitivity and recovery pacing.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker from Closed to Open.
	FailureThreshold int
	// RecoveryTimeout is how long the breaker stays Open before Allow
	// moves it to HalfOpen.
	RecoveryTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout == 0 {
		c.RecoveryTimeout = 30 * time.Second
	}
	return c
}

// Breaker guards one outbound dependency. Allow must be checked before
// every attempt; RecordSuccess/RecordFailure report the outcome.
type Breaker struct {
	name string
	cfg  Config

	mu              sync.RWMutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	subscribers     []func(from, to State)
}

// New creates a Breaker in the Closed state.
func New(name string, cfg Config) *Breaker {
	return &Breaker{name: name, cfg: cfg.withDefaults(), state: Closed}
}

// Name identifies the guarded dependency, e.g. "icap" or "backend".
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Allow reports whether a new attempt may proceed. When the breaker is
// Open and RecoveryTimeout has elapsed since it tripped, Allow
// transitions it to HalfOpen and lets the calling attempt through.
// While HalfOpen, every attempt is allowed until a RecordSuccess or
// RecordFailure moves the breaker out of that state.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	switch b.state {
	case Closed, HalfOpen:
		b.mu.Unlock()
		return true
	case Open:
		if time.Since(b.openedAt) >= b.cfg.RecoveryTimeout {
			notify := b.transitionLocked(HalfOpen)
			b.mu.Unlock()
			notify()
			return true
		}
		b.mu.Unlock()
		return false
	default:
		b.mu.Unlock()
		return false
	}
}

// RecordSuccess reports a successful attempt. From HalfOpen this closes
// the breaker; from Closed it just resets the failure counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	b.consecutiveFail = 0
	notify := func() {}
	if b.state != Closed {
		notify = b.transitionLocked(Closed)
	}
	b.mu.Unlock()
	notify()
}

// RecordFailure reports a failed attempt. From HalfOpen this reopens
// the breaker immediately; from Closed it increments the failure
// counter and trips to Open once FailureThreshold is reached.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	notify := func() {}
	switch b.state {
	case HalfOpen:
		notify = b.transitionLocked(Open)
	case Closed:
		b.consecutiveFail++
		if b.consecutiveFail >= b.cfg.FailureThreshold {
			notify = b.transitionLocked(Open)
		}
	}
	b.mu.Unlock()
	notify()
}

// transitionLocked must be called with mu held. It mutates state and
// returns a func that fires subscriber callbacks; callers invoke the
// returned func only after releasing mu, so a subscriber calling back
// into the breaker (e.g. to read State()) cannot deadlock.
func (b *Breaker) transitionLocked(to State) func() {
	from := b.state
	if from == to {
		return func() {}
	}
	b.state = to
	if to == Open {
		b.openedAt = time.Now()
	}
	if to == Closed {
		b.consecutiveFail = 0
	}

	subscribers := make([]func(State, State), len(b.subscribers))
	copy(subscribers, b.subscribers)
	return func() {
		for _, fn := range subscribers {
			if fn != nil {
				fn(from, to)
			}
		}
	}
}

// Subscribe registers a callback invoked on every state transition,
// and returns an unregister func. This mirrors CallbackChangeToken's
// RegisterChangeCallback: the slot is nilled rather than removed so
// concurrent Subscribe calls never need to shift indices.
func (b *Breaker) Subscribe(fn func(from, to State)) (unsubscribe func()) {
	b.mu.Lock()
	b.subscribers = append(b.subscribers, fn)
	idx := len(b.subscribers) - 1
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if idx < len(b.subscribers) {
			b.subscribers[idx] = nil
		}
	}
}
