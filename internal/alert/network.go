package alert

import (
	"context"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/lumora/murmel/internal/observe"
	"github.com/lumora/murmel/internal/state"
)

const (
	phraseBackOnline = "I'm back online."
	phraseOffline    = "I lost my internet connection."
)

// NetworkConfig tunes a [NetworkWatcher].
type NetworkConfig struct {
	// ProbeAddr is the TCP address dialled to test connectivity.
	ProbeAddr string

	// ProbeTimeout bounds one dial attempt.
	ProbeTimeout time.Duration

	// PollInterval is the time between probes.
	PollInterval time.Duration

	// AnnounceAfter debounces the offline announcement: a single failed
	// probe is never announced, only an outage that has persisted this
	// long.
	AnnounceAfter time.Duration
}

// NetworkOption configures a [NetworkWatcher].
type NetworkOption func(*NetworkWatcher)

// WithNetworkLogger sets the logger. Defaults to slog.Default().
func WithNetworkLogger(l *slog.Logger) NetworkOption {
	return func(w *NetworkWatcher) { w.log = l }
}

// WithNetworkMetrics sets the metrics sink.
func WithNetworkMetrics(m *observe.Metrics) NetworkOption {
	return func(w *NetworkWatcher) { w.metrics = m }
}

// WithProbe replaces the TCP dial probe, for tests.
func WithProbe(probe func(ctx context.Context) error) NetworkOption {
	return func(w *NetworkWatcher) { w.probe = probe }
}

// NetworkWatcher polls connectivity for the process lifetime and announces
// offline/online transition edges. Every transition is logged; the spoken
// announcements go through the alert notifier, which keeps them off the
// speaker while a reply is playing.
type NetworkWatcher struct {
	cfg      NetworkConfig
	flags    *state.Flags
	notifier Notifier
	probe    func(ctx context.Context) error

	online atomic.Bool

	log     *slog.Logger
	metrics *observe.Metrics
}

// NewNetworkWatcher creates a watcher. The device is assumed online until a
// probe says otherwise.
func NewNetworkWatcher(cfg NetworkConfig, flags *state.Flags, notifier Notifier, opts ...NetworkOption) *NetworkWatcher {
	w := &NetworkWatcher{
		cfg:      cfg,
		flags:    flags,
		notifier: notifier,
		log:      slog.Default(),
	}
	w.online.Store(true)
	w.probe = w.dialProbe
	for _, opt := range opts {
		opt(w)
	}
	if w.metrics == nil {
		w.metrics = observe.DefaultMetrics()
	}
	return w
}

// Online reports the last probed connectivity state.
func (w *NetworkWatcher) Online() bool {
	return w.online.Load()
}

// Run polls until ctx is cancelled or the process stop flag is set.
func (w *NetworkWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	var (
		offlineSince     time.Time
		announcedOffline bool
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if w.flags != nil && w.flags.Stopping() {
			return nil
		}

		err := w.probe(ctx)
		if err != nil {
			if w.online.Load() {
				w.online.Store(false)
				offlineSince = time.Now()
				w.log.Warn("network probe failed", "addr", w.cfg.ProbeAddr, "error", err)
				w.metrics.RecordNetworkTransition(ctx, "offline")
			}
			if !announcedOffline && time.Since(offlineSince) >= w.cfg.AnnounceAfter {
				announcedOffline = true
				w.announce(ctx, Payload{Kind: "offline", Phrase: phraseOffline})
			}
			continue
		}

		if !w.online.Load() {
			w.online.Store(true)
			w.log.Info("network recovered", "outage", time.Since(offlineSince))
			w.metrics.RecordNetworkTransition(ctx, "online")
			if announcedOffline {
				// Only celebrate a recovery the listener was told about.
				announcedOffline = false
				w.announce(ctx, Payload{Kind: "online", Phrase: phraseBackOnline})
			}
		}
	}
}

// announce speaks only when the device is not already talking.
func (w *NetworkWatcher) announce(ctx context.Context, p Payload) {
	if w.flags != nil && w.flags.TTSActive() {
		w.log.Info("network announcement suppressed during playback", "kind", p.Kind)
		return
	}
	if w.notifier != nil {
		w.notifier.Notify(ctx, p)
	}
}

func (w *NetworkWatcher) dialProbe(ctx context.Context) error {
	d := net.Dialer{Timeout: w.cfg.ProbeTimeout}
	conn, err := d.DialContext(ctx, "tcp", w.cfg.ProbeAddr)
	if err != nil {
		return err
	}
	return conn.Close()
}
