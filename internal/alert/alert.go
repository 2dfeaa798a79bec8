// Package alert raises non-blocking alerts when named actions run slow, and
// watches network connectivity for the process lifetime.
package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lumora/murmel/internal/observe"
	"github.com/lumora/murmel/internal/state"
)

// Payload is what a fired watcher delivers.
type Payload struct {
	// Kind names the alert for logs and metrics, e.g. "stt_slow".
	Kind string

	// Phrase is the short spoken text. Empty means tone-only.
	Phrase string
}

// Notifier renders a fired alert. Implementations must not block for long;
// the supervisor calls them from the watcher's own goroutine.
type Notifier interface {
	Notify(ctx context.Context, p Payload)
}

// NotifierFunc adapts a function to the [Notifier] interface.
type NotifierFunc func(ctx context.Context, p Payload)

// Notify implements [Notifier].
func (f NotifierFunc) Notify(ctx context.Context, p Payload) { f(ctx, p) }

// CancelFunc cancels a pending watcher. Safe to call more than once and
// after the watcher has fired.
type CancelFunc func()

// Option configures a [Supervisor].
type Option func(*Supervisor)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.log = l }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// WithGranularity sets the watcher sleep step, which bounds how long a
// cancellation can go unnoticed. Defaults to 50ms.
func WithGranularity(d time.Duration) Option {
	return func(s *Supervisor) { s.granularity = d }
}

// Supervisor spawns cancellable deadline watchers. Each watcher sleeps in
// small steps, checking its own cancel token and the process stop flag, and
// fires its payload exactly once if neither arrives before the delay.
type Supervisor struct {
	flags    *state.Flags
	notifier Notifier

	log         *slog.Logger
	metrics     *observe.Metrics
	granularity time.Duration
	wg          sync.WaitGroup
}

// NewSupervisor creates a supervisor. flags may be nil in tests that do not
// exercise process shutdown.
func NewSupervisor(flags *state.Flags, notifier Notifier, opts ...Option) *Supervisor {
	s := &Supervisor{
		flags:       flags,
		notifier:    notifier,
		log:         slog.Default(),
		granularity: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Watch arms a deadline watcher: if the returned cancel function is not
// called within delay, and the process is not stopping, payload fires once.
// A watcher never fires after its cancel function returned.
func (s *Supervisor) Watch(delay time.Duration, payload Payload) CancelFunc {
	cancelled := make(chan struct{})
	var once sync.Once

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		deadline := time.Now().Add(delay)
		for time.Now().Before(deadline) {
			select {
			case <-cancelled:
				return
			case <-time.After(s.granularity):
			}
			if s.flags != nil && s.flags.Stopping() {
				return
			}
		}
		// Last-instant cancellation still wins over firing.
		select {
		case <-cancelled:
			return
		default:
		}
		s.fire(payload)
	}()

	return func() { once.Do(func() { close(cancelled) }) }
}

// Fire delivers a payload immediately, bypassing any delay. Used for alerts
// that are conclusions rather than timeouts, like a no-speech streak.
func (s *Supervisor) Fire(payload Payload) {
	s.fire(payload)
}

// Wait blocks until every in-flight watcher goroutine has terminated.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

func (s *Supervisor) fire(payload Payload) {
	ctx := context.Background()
	s.metrics.RecordAlert(ctx, payload.Kind)
	if s.flags != nil && s.flags.TTSActive() {
		// Never talk (or beep) over the main reply.
		s.log.Info("alert suppressed during playback", "kind", payload.Kind)
		return
	}
	s.log.Info("alert fired", "kind", payload.Kind, "phrase", payload.Phrase)
	if s.notifier != nil {
		s.notifier.Notify(ctx, payload)
	}
}
