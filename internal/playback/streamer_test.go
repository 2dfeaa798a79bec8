package playback

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lumora/murmel/internal/state"
	audiomock "github.com/lumora/murmel/pkg/audio/mock"
)

func testConfig() Config {
	return Config{
		SampleRate:      24000,
		PrebufferMs:     80,
		BlockBytes:      4096,
		PollGranularity: 5 * time.Millisecond,
	}
}

func newTestStreamer(t *testing.T, out *audiomock.OutputStream) (*Streamer, *state.Flags) {
	t.Helper()
	flags := state.New()
	s, err := New(&audiomock.Device{Output: out}, flags, testConfig())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return s, flags
}

// sendAll feeds chunks into a channel and closes it.
func sendAll(chunks ...[]byte) <-chan []byte {
	ch := make(chan []byte, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

func TestPrebufferBytes(t *testing.T) {
	s, _ := newTestStreamer(t, &audiomock.OutputStream{})
	// 80ms at 24kHz, 16-bit mono.
	if got := s.PrebufferBytes(); got != 3840 {
		t.Errorf("PrebufferBytes = %d, want 3840", got)
	}
}

func TestPlayCompletesSingleChunk(t *testing.T) {
	out := &audiomock.OutputStream{}
	s, _ := newTestStreamer(t, out)

	outcome, err := s.Play(context.Background(), sendAll(bytes.Repeat([]byte{0x7f}, 4000)), 5*time.Second)
	if err != nil {
		t.Fatalf("Play returned error: %v", err)
	}
	if outcome != Completed {
		t.Errorf("outcome = %v, want Completed", outcome)
	}
	if got := out.BytesWritten(); got != 4000 {
		t.Errorf("bytes written = %d, want 4000", got)
	}
}

func TestPlayNoWriteBeforePrebufferFilled(t *testing.T) {
	out := &audiomock.OutputStream{}
	s, _ := newTestStreamer(t, out)

	ch := make(chan []byte)
	done := make(chan Outcome, 1)
	go func() {
		outcome, _ := s.Play(context.Background(), ch, 5*time.Second)
		done <- outcome
	}()

	// 38 chunks of 100 bytes: 3800 < 3840, so nothing may be written yet.
	for range 38 {
		ch <- bytes.Repeat([]byte{0x01}, 100)
	}
	time.Sleep(30 * time.Millisecond)
	if got := out.WriteCount(); got != 0 {
		t.Fatalf("device written to %d times with only 3800 bytes buffered", got)
	}

	// Two more chunks cross the threshold.
	ch <- bytes.Repeat([]byte{0x01}, 100)
	ch <- bytes.Repeat([]byte{0x01}, 100)
	close(ch)

	if outcome := <-done; outcome != Completed {
		t.Fatalf("outcome = %v, want Completed", outcome)
	}
	if got := out.BytesWritten(); got != 4000 {
		t.Errorf("bytes written = %d, want 4000", got)
	}
	if got := out.WriteCount(); got == 0 {
		t.Error("no writes after prebuffer crossed")
	}
}

func TestPlayShortUtteranceBelowPrebufferStillFlushes(t *testing.T) {
	out := &audiomock.OutputStream{}
	s, _ := newTestStreamer(t, out)

	outcome, err := s.Play(context.Background(), sendAll(bytes.Repeat([]byte{0x01}, 1000)), 5*time.Second)
	if err != nil {
		t.Fatalf("Play returned error: %v", err)
	}
	if outcome != Completed {
		t.Errorf("outcome = %v, want Completed", outcome)
	}
	if got := out.BytesWritten(); got != 1000 {
		t.Errorf("bytes written = %d, want 1000", got)
	}
}

func TestPlayBlockSizeCap(t *testing.T) {
	out := &audiomock.OutputStream{}
	s, _ := newTestStreamer(t, out)

	if _, err := s.Play(context.Background(), sendAll(bytes.Repeat([]byte{0x01}, 10000)), 5*time.Second); err != nil {
		t.Fatalf("Play returned error: %v", err)
	}
	for i, w := range out.Writes {
		if len(w) > 4096 {
			t.Errorf("write %d is %d bytes, exceeds block size", i, len(w))
		}
	}
	if got := out.BytesWritten(); got != 10000 {
		t.Errorf("bytes written = %d, want 10000", got)
	}
}

func TestPlayEmptyStream(t *testing.T) {
	out := &audiomock.OutputStream{}
	s, _ := newTestStreamer(t, out)

	outcome, err := s.Play(context.Background(), sendAll(), 5*time.Second)
	if err != nil {
		t.Fatalf("Play returned error: %v", err)
	}
	if outcome != Completed {
		t.Errorf("outcome = %v, want Completed", outcome)
	}
	if got := out.WriteCount(); got != 0 {
		t.Errorf("writes = %d, want 0 for an empty stream", got)
	}
}

func TestPlayStopFlagCancelsWhileWaitingForChunks(t *testing.T) {
	// The synthesis side never sends a terminal chunk; a stop request must
	// still end the session well inside the deadline.
	out := &audiomock.OutputStream{}
	s, flags := newTestStreamer(t, out)

	ch := make(chan []byte, 1)
	ch <- bytes.Repeat([]byte{0x01}, 4096)

	done := make(chan Outcome, 1)
	go func() {
		outcome, _ := s.Play(context.Background(), ch, time.Minute)
		done <- outcome
	}()

	time.Sleep(20 * time.Millisecond)
	if !flags.TTSActive() {
		t.Error("ttsActive not set during playback")
	}
	flags.RequestStop()

	select {
	case outcome := <-done:
		if outcome != Cancelled {
			t.Errorf("outcome = %v, want Cancelled", outcome)
		}
	case <-time.After(time.Second):
		t.Fatal("playback did not stop within a second of the stop request")
	}
	if flags.TTSActive() {
		t.Error("ttsActive still set after playback returned")
	}
}

func TestPlayContextCancel(t *testing.T) {
	out := &audiomock.OutputStream{}
	s, _ := newTestStreamer(t, out)

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan []byte)
	done := make(chan Outcome, 1)
	go func() {
		outcome, _ := s.Play(ctx, ch, time.Minute)
		done <- outcome
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case outcome := <-done:
		if outcome != Cancelled {
			t.Errorf("outcome = %v, want Cancelled", outcome)
		}
	case <-time.After(time.Second):
		t.Fatal("playback did not react to context cancellation")
	}
}

func TestPlayDeadlineFlushesBufferedAudio(t *testing.T) {
	out := &audiomock.OutputStream{}
	s, _ := newTestStreamer(t, out)

	// Enough to start playing, but the channel never closes.
	ch := make(chan []byte, 1)
	ch <- bytes.Repeat([]byte{0x01}, 5000)

	outcome, err := s.Play(context.Background(), ch, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Play returned error: %v", err)
	}
	if outcome != TimedOut {
		t.Errorf("outcome = %v, want TimedOut", outcome)
	}
	if got := out.BytesWritten(); got != 5000 {
		t.Errorf("bytes written = %d, want all 5000 buffered bytes flushed", got)
	}
}

func TestPlayDeviceWriteError(t *testing.T) {
	writeErr := errors.New("alsa gone")
	out := &audiomock.OutputStream{WriteErr: writeErr}
	s, _ := newTestStreamer(t, out)

	outcome, err := s.Play(context.Background(), sendAll(bytes.Repeat([]byte{0x01}, 4096)), 5*time.Second)
	if outcome != DeviceError {
		t.Errorf("outcome = %v, want DeviceError", outcome)
	}
	if !errors.Is(err, writeErr) {
		t.Errorf("error = %v, want wrapped %v", err, writeErr)
	}
}

func TestPlayOpenOutputError(t *testing.T) {
	openErr := errors.New("device busy")
	s, err := New(&audiomock.Device{OpenOutputErr: openErr}, nil, testConfig())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	outcome, err := s.Play(context.Background(), sendAll(), time.Second)
	if outcome != DeviceError {
		t.Errorf("outcome = %v, want DeviceError", outcome)
	}
	if !errors.Is(err, openErr) {
		t.Errorf("error = %v, want wrapped %v", err, openErr)
	}
}

func TestPlaySerializesConcurrentSessions(t *testing.T) {
	// Two goroutines ask for the speaker at once. The write log must show
	// one complete session before the other; interleaved blocks mean both
	// sessions held the device at the same time.
	out := &audiomock.OutputStream{WriteDelay: 10 * time.Millisecond}
	s, _ := newTestStreamer(t, out)

	var wg sync.WaitGroup
	for _, fill := range []byte{0xaa, 0xbb} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Play(context.Background(), sendAll(bytes.Repeat([]byte{fill}, 8192)), 5*time.Second); err != nil {
				t.Errorf("Play(%#x) returned error: %v", fill, err)
			}
		}()
	}
	wg.Wait()

	if got := out.WriteCount(); got != 4 {
		t.Fatalf("writes = %d, want 4", got)
	}
	for i := 1; i < len(out.Writes); i += 2 {
		if out.Writes[i][0] != out.Writes[i-1][0] {
			t.Fatalf("write %d (%#x) interleaves with write %d (%#x): sessions overlapped",
				i, out.Writes[i][0], i-1, out.Writes[i-1][0])
		}
	}
}

func TestPlayBytesWaitsForActiveSession(t *testing.T) {
	out := &audiomock.OutputStream{}
	s, _ := newTestStreamer(t, out)

	ch := make(chan []byte, 1)
	ch <- bytes.Repeat([]byte{0xaa, 0xaa}, 2048)
	done := make(chan Outcome, 1)
	go func() {
		outcome, _ := s.Play(context.Background(), ch, time.Minute)
		done <- outcome
	}()

	// Wait for the session to hold the device, then ask for a cue.
	deadline := time.Now().Add(time.Second)
	for out.WriteCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if out.WriteCount() == 0 {
		t.Fatal("session never started")
	}

	var cueDone atomic.Bool
	go func() {
		if err := s.PlayBytes([]byte{0x77, 0x77}); err != nil {
			t.Errorf("PlayBytes returned error: %v", err)
		}
		cueDone.Store(true)
	}()

	time.Sleep(50 * time.Millisecond)
	if cueDone.Load() {
		t.Fatal("cue played while a session was still active")
	}

	close(ch)
	if outcome := <-done; outcome != Completed {
		t.Fatalf("outcome = %v, want Completed", outcome)
	}
	deadline = time.Now().Add(time.Second)
	for !cueDone.Load() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !cueDone.Load() {
		t.Fatal("cue never played after the session released the device")
	}
	last := out.Writes[len(out.Writes)-1]
	if last[0] != 0x77 {
		t.Errorf("last write = %#x, want the cue after the session", last[0])
	}
}

func TestOutcomeString(t *testing.T) {
	tests := []struct {
		outcome Outcome
		want    string
	}{
		{Completed, "completed"},
		{TimedOut, "timed_out"},
		{Cancelled, "cancelled"},
		{DeviceError, "device_error"},
	}
	for _, tc := range tests {
		if got := tc.outcome.String(); got != tc.want {
			t.Errorf("%d.String() = %q, want %q", int(tc.outcome), got, tc.want)
		}
	}
}
