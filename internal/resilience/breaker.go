// Package resilience shields the conversational loop from flaky cloud
// backends. A [Breaker] is a three-state circuit breaker (closed, open,
// half-open) that fails fast once a backend has proven unhealthy, and a
// [Chain] tries a sequence of providers in order, each behind its own
// breaker. The loop stays responsive either way: a turn that cannot reach
// any backend degrades to a fixed phrase instead of hanging on retries.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrOpen = errors.New("resilience: breaker open")

// BreakerState is the operating mode of a [Breaker].
type BreakerState int

const (
	// Closed forwards every call.
	Closed BreakerState = iota

	// Open rejects every call with [ErrOpen] until the cooldown elapses.
	Open

	// HalfOpen lets a bounded number of probe calls through to decide
	// whether the backend has recovered.
	HalfOpen
)

func (s BreakerState) String() string {
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

// BreakerConfig tunes a [Breaker]. Zero fields take defaults.
type BreakerConfig struct {
	// Name labels the breaker in log output.
	Name string

	// Trip is the consecutive-failure count that opens the breaker.
	// Default 5.
	Trip int

	// Cooldown is how long the breaker stays open before probing again.
	// Default 30s.
	Cooldown time.Duration

	// Probes is how many half-open calls must succeed before the breaker
	// closes. Default 3.
	Probes int
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	cfg BreakerConfig
	log *slog.Logger

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  int
}

// BreakerOption configures a [Breaker].
type BreakerOption func(*Breaker)

// WithBreakerLogger sets the logger. Defaults to slog.Default().
func WithBreakerLogger(l *slog.Logger) BreakerOption {
	return func(b *Breaker) { b.log = l }
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig, opts ...BreakerOption) *Breaker {
	if cfg.Trip <= 0 {
		cfg.Trip = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 3
	}
	b := &Breaker{cfg: cfg, log: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Do runs fn unless the breaker rejects the call. The breaker observes
// fn's error to drive its state; the error is returned unchanged.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()
	b.settle(probe, err)
	return err
}

// admit decides whether a call may proceed and whether it counts as a
// half-open probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if time.Since(b.openedAt) < b.cfg.Cooldown {
			return false, ErrOpen
		}
		b.state = HalfOpen
		b.probing = 0
		b.log.Info("breaker probing backend", "name", b.cfg.Name)
		fallthrough
	case HalfOpen:
		if b.probing >= b.cfg.Probes {
			return false, ErrOpen
		}
		b.probing++
		return true, nil
	}
	return false, nil
}

// settle records a call outcome.
func (b *Breaker) settle(probe bool, callErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if callErr != nil {
		b.openedAt = time.Now()
		if probe {
			// One failed probe is enough evidence; back to open.
			b.state = Open
			b.failures = b.cfg.Trip
			b.log.Warn("breaker reopened after failed probe", "name", b.cfg.Name)
			return
		}
		b.failures++
		if b.state == Closed && b.failures >= b.cfg.Trip {
			b.state = Open
			b.log.Warn("breaker opened", "name", b.cfg.Name, "failures", b.failures)
		}
		return
	}

	if probe {
		if b.probing >= b.cfg.Probes && b.state == HalfOpen {
			b.state = Closed
			b.failures = 0
			b.probing = 0
			b.log.Info("breaker closed, backend recovered", "name", b.cfg.Name)
		}
		return
	}
	b.failures = 0
}

// State reports the breaker's mode. An open breaker whose cooldown has
// elapsed reports HalfOpen; the transition itself happens on the next Do.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && time.Since(b.openedAt) >= b.cfg.Cooldown {
		return HalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.probing = 0
}
