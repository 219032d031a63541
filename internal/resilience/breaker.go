// Package resilience protects upstream engine connections with a circuit
// breaker.
//
// The central type is [Breaker], a classic three-state breaker
// (closed → open → half-open). [GuardedEngine] wraps any [engine.Engine]
// with one so that a flapping transcription upstream fails fast instead of
// stalling every participant trying to start a stream.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Run] when the breaker is open and the
// cooldown has not yet elapsed.
var ErrOpen = errors.New("resilience: breaker is open")

// State represents the current operating mode of a [Breaker].
type State int

const (
	// Closed is the normal operating state, all calls are forwarded.
	Closed State = iota

	// Open means the breaker has tripped on consecutive failures. Calls are
	// rejected immediately with [ErrOpen] until the cooldown elapses.
	Open

	// HalfOpen is the probe state entered after the cooldown. A limited
	// number of calls are allowed through; if they succeed the breaker
	// closes, otherwise it re-opens.
	HalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Settings holds tuning knobs for a [Breaker].
type Settings struct {
	// Name is a human-readable label used in log messages.
	Name string

	// Threshold is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 5.
	Threshold int

	// Cooldown is how long the breaker stays open before transitioning to
	// half-open. Default: 30s.
	Cooldown time.Duration

	// ProbeBudget is the maximum number of probe calls allowed in the
	// half-open state before the breaker decides whether to close or
	// re-open. Default: 3.
	ProbeBudget int

	// Now overrides the clock, for tests. Default: time.Now.
	Now func() time.Time
}

// Breaker implements the three-state circuit breaker pattern.
// It is safe for concurrent use from multiple goroutines.
type Breaker struct {
	name        string
	threshold   int
	cooldown    time.Duration
	probeBudget int
	now         func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probeCalls  int
	probeFails  int
}

// NewBreaker creates a [Breaker] with the supplied settings. Zero-value
// fields are replaced with defaults.
func NewBreaker(s Settings) *Breaker {
	if s.Threshold <= 0 {
		s.Threshold = 5
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 30 * time.Second
	}
	if s.ProbeBudget <= 0 {
		s.ProbeBudget = 3
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return &Breaker{
		name:        s.Name,
		threshold:   s.Threshold,
		cooldown:    s.Cooldown,
		probeBudget: s.ProbeBudget,
		now:         s.Now,
		state:       Closed,
	}
}

// Run executes fn if the breaker allows it. In the open state it returns
// [ErrOpen] without calling fn. In the half-open state a limited number of
// probe calls are permitted.
func (b *Breaker) Run(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case Open:
		if b.now().Sub(b.lastFailure) >= b.cooldown {
			b.state = HalfOpen
			b.probeCalls = 0
			b.probeFails = 0
			slog.Info("breaker transitioning to half-open", "name", b.name)
		} else {
			b.mu.Unlock()
			return ErrOpen
		}

	case HalfOpen:
		if b.probeCalls >= b.probeBudget {
			b.mu.Unlock()
			return ErrOpen
		}
	}

	probing := b.state == HalfOpen
	if probing {
		b.probeCalls++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(probing)
	} else {
		b.onSuccess(probing)
	}
	return err
}

// onFailure handles failure accounting. Must be called with b.mu held.
func (b *Breaker) onFailure(probing bool) {
	b.lastFailure = b.now()

	if probing {
		b.probeFails++
		// Any failure in half-open immediately re-opens.
		b.state = Open
		b.failures = b.threshold
		slog.Warn("breaker re-opened from half-open", "name", b.name)
		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.state = Open
		slog.Warn("breaker opened",
			"name", b.name,
			"consecutive_failures", b.failures)
	}
}

// onSuccess handles success accounting. Must be called with b.mu held.
func (b *Breaker) onSuccess(probing bool) {
	if probing {
		if b.probeCalls-b.probeFails >= b.probeBudget {
			b.state = Closed
			b.failures = 0
			b.probeCalls = 0
			b.probeFails = 0
			slog.Info("breaker closed after successful probes", "name", b.name)
		}
		return
	}
	b.failures = 0
}

// State returns the current [State]. If the breaker is open and the cooldown
// has elapsed, the returned state is [HalfOpen]; the actual transition
// happens on the next [Run] call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open && b.now().Sub(b.lastFailure) >= b.cooldown {
		return HalfOpen
	}
	return b.state
}

// Reset manually forces the breaker back to [Closed], clearing all failure
// counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = Closed
	b.failures = 0
	b.probeCalls = 0
	b.probeFails = 0
	slog.Info("breaker manually reset", "name", b.name)
}
