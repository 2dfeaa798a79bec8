package alert

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lumora/murmel/internal/state"
)

// fakeProbe flips between success and failure under test control.
type fakeProbe struct {
	failing atomic.Bool
}

func (p *fakeProbe) probe(context.Context) error {
	if p.failing.Load() {
		return errors.New("dial tcp: no route to host")
	}
	return nil
}

func newTestWatcher(t *testing.T, flags *state.Flags) (*NetworkWatcher, *fakeProbe, *countingNotifier) {
	t.Helper()
	probe := &fakeProbe{}
	notifier := &countingNotifier{}
	w := NewNetworkWatcher(NetworkConfig{
		ProbeAddr:     "192.0.2.1:53",
		ProbeTimeout:  time.Second,
		PollInterval:  3 * time.Millisecond,
		AnnounceAfter: 20 * time.Millisecond,
	}, flags, notifier, WithProbe(probe.probe))
	return w, probe, notifier
}

func TestNetworkWatcherAnnouncesOutageOnce(t *testing.T) {
	w, probe, notifier := newTestWatcher(t, state.New())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	if !w.Online() {
		t.Fatal("watcher must assume online at start")
	}

	probe.failing.Store(true)
	time.Sleep(100 * time.Millisecond)
	if w.Online() {
		t.Error("Online() still true during outage")
	}
	if got := notifier.kinds(); len(got) != 1 || got[0] != "offline" {
		t.Fatalf("announcements during outage = %v, want exactly [offline]", got)
	}

	probe.failing.Store(false)
	time.Sleep(50 * time.Millisecond)
	if !w.Online() {
		t.Error("Online() still false after recovery")
	}
	if got := notifier.kinds(); len(got) != 2 || got[1] != "online" {
		t.Fatalf("announcements after recovery = %v, want [offline online]", got)
	}

	cancel()
	<-done
}

func TestNetworkWatcherIgnoresTransientFailure(t *testing.T) {
	w, probe, notifier := newTestWatcher(t, state.New())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// One or two failed probes, well under the announce threshold.
	probe.failing.Store(true)
	time.Sleep(5 * time.Millisecond)
	probe.failing.Store(false)
	time.Sleep(60 * time.Millisecond)

	if got := notifier.count(); got != 0 {
		t.Fatalf("announcements = %v, want none for a transient blip", notifier.kinds())
	}
	if !w.Online() {
		t.Error("Online() false after the blip cleared")
	}
}

func TestNetworkWatcherSuppressedDuringPlayback(t *testing.T) {
	flags := state.New()
	w, probe, notifier := newTestWatcher(t, flags)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	flags.SetTTSActive(true)
	probe.failing.Store(true)
	time.Sleep(100 * time.Millisecond)

	// The transition is tracked but not spoken over the reply.
	if w.Online() {
		t.Error("Online() still true during outage")
	}
	if got := notifier.count(); got != 0 {
		t.Fatalf("announcements = %v while tts active, want none", notifier.kinds())
	}
}

func TestNetworkWatcherStopsOnStopFlag(t *testing.T) {
	flags := state.New()
	w, _, _ := newTestWatcher(t, flags)

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	flags.RequestStop()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v on stop flag, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("watcher did not exit after stop flag")
	}
}

func TestNetworkWatcherStopsOnContext(t *testing.T) {
	w, _, _ := newTestWatcher(t, state.New())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("watcher did not exit after context cancellation")
	}
}
