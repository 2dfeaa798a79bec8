package alert

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lumora/murmel/internal/state"
)

// countingNotifier records every payload it receives.
type countingNotifier struct {
	mu       sync.Mutex
	payloads []Payload
}

func (n *countingNotifier) Notify(_ context.Context, p Payload) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payloads = append(n.payloads, p)
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.payloads)
}

func (n *countingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	kinds := make([]string, len(n.payloads))
	for i, p := range n.payloads {
		kinds[i] = p.Kind
	}
	return kinds
}

func newTestSupervisor(t *testing.T, flags *state.Flags) (*Supervisor, *countingNotifier) {
	t.Helper()
	n := &countingNotifier{}
	s := NewSupervisor(flags, n, WithGranularity(2*time.Millisecond))
	return s, n
}

func TestWatchFiresOnceAfterDelay(t *testing.T) {
	s, n := newTestSupervisor(t, state.New())

	s.Watch(10*time.Millisecond, Payload{Kind: "stt_slow"})
	s.Wait()

	if got := n.count(); got != 1 {
		t.Fatalf("notifier called %d times, want exactly 1", got)
	}
}

func TestWatchCancelledBeforeDelay(t *testing.T) {
	s, n := newTestSupervisor(t, state.New())

	cancel := s.Watch(50*time.Millisecond, Payload{Kind: "llm_slow"})
	time.Sleep(5 * time.Millisecond)
	cancel()
	s.Wait()

	if got := n.count(); got != 0 {
		t.Fatalf("notifier called %d times after cancellation, want 0", got)
	}
}

func TestWatchCancelIdempotent(t *testing.T) {
	s, _ := newTestSupervisor(t, state.New())

	cancel := s.Watch(50*time.Millisecond, Payload{Kind: "llm_slow"})
	cancel()
	cancel()
	s.Wait()

	// Cancelling after the watcher fired must also be harmless.
	cancel2 := s.Watch(time.Millisecond, Payload{Kind: "tts_slow"})
	s.Wait()
	cancel2()
}

func TestWatchStopFlagPreventsFiring(t *testing.T) {
	flags := state.New()
	s, n := newTestSupervisor(t, flags)

	s.Watch(30*time.Millisecond, Payload{Kind: "mic_slow"})
	flags.RequestStop()
	s.Wait()

	if got := n.count(); got != 0 {
		t.Fatalf("notifier called %d times during shutdown, want 0", got)
	}
}

func TestFireSuppressedDuringPlayback(t *testing.T) {
	flags := state.New()
	s, n := newTestSupervisor(t, flags)

	flags.SetTTSActive(true)
	s.Fire(Payload{Kind: "no_speech_streak", Phrase: "Please speak a little louder."})
	if got := n.count(); got != 0 {
		t.Fatalf("notifier called %d times while tts active, want 0", got)
	}

	flags.SetTTSActive(false)
	s.Fire(Payload{Kind: "no_speech_streak"})
	if got := n.count(); got != 1 {
		t.Fatalf("notifier called %d times, want 1", got)
	}
}

func TestWatchManyConcurrent(t *testing.T) {
	s, n := newTestSupervisor(t, state.New())

	var cancels []CancelFunc
	for range 5 {
		cancels = append(cancels, s.Watch(10*time.Millisecond, Payload{Kind: "stt_slow"}))
	}
	// Cancel two, let three fire.
	cancels[0]()
	cancels[3]()
	s.Wait()

	if got := n.count(); got != 3 {
		t.Fatalf("notifier called %d times, want 3", got)
	}
}
