// Package resilience guards the remote speech and language providers.
//
// A [Breaker] stops calling a backend after repeated failures and probes it
// again once a cool-down has passed. A [Chain] puts a breaker in front of each
// of several interchangeable backends and uses the first one that answers.
// The provider wrappers [LLM], [STT] and [TTS] build on Chain so the tutor and
// the voice subsystem see a single provider.
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

// ErrOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrOpen = errors.New("resilience: backend temporarily disabled")

// State is the operating mode of a [Breaker].
type State int

const (
	// Closed forwards every call.
	Closed State = iota

	// Open rejects calls until the cool-down has passed.
	Open

	// Probing lets a limited number of calls through to test the backend.
	Probing
)

// String returns the lower-case name of s.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case Probing:
		return "probing"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields take the defaults noted below.
type BreakerConfig struct {
	// Name labels log records.
	Name string

	// Threshold is the number of consecutive failures that open the
	// breaker. Default: 3.
	Threshold int

	// Cooldown is how long an open breaker waits before probing. Default: 30s.
	Cooldown time.Duration

	// Probes is the number of successful probe calls that close the breaker
	// again. Default: 1.
	Probes int

	// Now is the clock. Default: time.Now.
	Now func() time.Time
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	probes    int
	now       func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	inFlight int
	passed   int
}

// NewBreaker returns a closed breaker configured by cfg.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{
		name:      cfg.Name,
		threshold: cfg.Threshold,
		cooldown:  cfg.Cooldown,
		probes:    cfg.Probes,
		now:       cfg.Now,
	}
}

// Do runs fn unless the breaker is open. Cancellation errors returned by fn
// are passed through without counting for or against the backend: an
// aborted request says nothing about its health.
func (b *Breaker) Do(fn func() error) error {
	probing, err := b.admit()
	if err != nil {
		return err
	}

	err = fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if probing {
		b.inFlight--
	}
	switch {
	case isCancellation(err):
	case err != nil:
		b.fail(probing)
	default:
		b.succeed(probing)
	}
	return err
}

func (b *Breaker) admit() (probing bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open {
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false, ErrOpen
		}
		b.state = Probing
		b.passed = 0
		slog.Info("resilience: probing backend", "name", b.name)
	}
	if b.state == Probing {
		// One probe at a time; everyone else waits for its verdict.
		if b.inFlight > 0 {
			return false, ErrOpen
		}
		b.inFlight++
		return true, nil
	}
	return false, nil
}

// fail must be called with b.mu held.
func (b *Breaker) fail(probing bool) {
	if probing || b.state == Probing {
		b.trip()
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = b.now()
	slog.Warn("resilience: backend disabled", "name", b.name, "failures", b.failures, "cooldown", b.cooldown)
}

// succeed must be called with b.mu held.
func (b *Breaker) succeed(probing bool) {
	if probing && b.state == Probing {
		b.passed++
		if b.passed < b.probes {
			return
		}
		slog.Info("resilience: backend restored", "name", b.name)
		b.state = Closed
	}
	b.failures = 0
}

// State reports the current state. An open breaker whose cool-down has
// passed reports [Probing].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cooldown {
		return Probing
	}
	return b.state
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.passed = 0
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
