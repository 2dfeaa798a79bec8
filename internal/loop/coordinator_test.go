package loop

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lumora/murmel/internal/alert"
	"github.com/lumora/murmel/internal/capture"
	"github.com/lumora/murmel/internal/journal"
	"github.com/lumora/murmel/internal/playback"
	"github.com/lumora/murmel/internal/state"
	audiomock "github.com/lumora/murmel/pkg/audio/mock"
	"github.com/lumora/murmel/pkg/provider/llm"
	llmmock "github.com/lumora/murmel/pkg/provider/llm/mock"
	"github.com/lumora/murmel/pkg/provider/stt"
	sttmock "github.com/lumora/murmel/pkg/provider/stt/mock"
	"github.com/lumora/murmel/pkg/provider/tts"
	ttsmock "github.com/lumora/murmel/pkg/provider/tts/mock"
)

// captureResult is one scripted Capture return.
type captureResult struct {
	utt *capture.Utterance
	err error
}

// scriptedRecorder returns its script in order, then blocks until shutdown.
type scriptedRecorder struct {
	mu     sync.Mutex
	script []captureResult
	calls  int
	flags  *state.Flags
}

func (r *scriptedRecorder) Capture(ctx context.Context, _, _ time.Duration) (*capture.Utterance, error) {
	r.mu.Lock()
	idx := r.calls
	r.calls++
	r.mu.Unlock()
	if idx < len(r.script) {
		return r.script[idx].utt, r.script[idx].err
	}
	for {
		if ctx.Err() != nil || (r.flags != nil && r.flags.Stopping()) {
			return nil, context.Canceled
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (r *scriptedRecorder) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// recordingJournal keeps entries in memory.
type recordingJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (j *recordingJournal) Record(_ context.Context, e journal.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return nil
}

func (j *recordingJournal) Close() {}

func (j *recordingJournal) snapshot() []journal.Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]journal.Entry{}, j.entries...)
}

// countingNotifier records fired alert payloads.
type countingNotifier struct {
	mu       sync.Mutex
	payloads []alert.Payload
}

func (n *countingNotifier) Notify(_ context.Context, p alert.Payload) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payloads = append(n.payloads, p)
}

func (n *countingNotifier) byKind(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, p := range n.payloads {
		if p.Kind == kind {
			count++
		}
	}
	return count
}

// trickleProvider emits fixed-size chunks on a cadence and records whether
// its producer goroutine got to finish. A producer that stays blocked after
// the turn ends is a leak.
type trickleProvider struct {
	chunk    []byte
	count    int
	interval time.Duration
	finished atomic.Bool
}

func (p *trickleProvider) SynthesizeStream(ctx context.Context, _ string, _ tts.VoiceProfile) (<-chan []byte, error) {
	ch := make(chan []byte)
	go func() {
		defer close(ch)
		defer p.finished.Store(true)
		for range p.count {
			chunk := append([]byte(nil), p.chunk...)
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
			time.Sleep(p.interval)
		}
	}()
	return ch, nil
}

func (p *trickleProvider) ListVoices(context.Context) ([]tts.VoiceProfile, error) {
	return nil, nil
}

// staticGate silences unconditionally when set.
type staticGate struct{ silenced bool }

func (g staticGate) Silenced(time.Time) (bool, string) {
	if g.silenced {
		return true, "do_not_disturb"
	}
	return false, ""
}

// harness bundles a coordinator with all its doubles.
type harness struct {
	coord    *Coordinator
	flags    *state.Flags
	recorder *scriptedRecorder
	sttp     *sttmock.Provider
	llmp     *llmmock.Provider
	ttsp     *ttsmock.Provider
	journal  *recordingJournal
	notifier *countingNotifier
	output   *audiomock.OutputStream
}

func testUtterance() *capture.Utterance {
	return &capture.Utterance{
		PCM:          bytes.Repeat([]byte{0x01}, 960),
		SampleRate:   16000,
		Frames:       1,
		SpeechFrames: 1,
	}
}

func newHarness(t *testing.T, script []captureResult, mutate func(*harness), cfgMutate func(*Config)) *harness {
	t.Helper()
	h := &harness{
		flags:    state.New(),
		sttp:     &sttmock.Provider{Result: stt.Transcript{Text: "tell me a story"}},
		llmp:     &llmmock.Provider{CompleteResult: &llm.CompletionResponse{Content: "Once upon a time."}},
		ttsp:     &ttsmock.Provider{Chunks: [][]byte{bytes.Repeat([]byte{0x02}, 1024)}},
		journal:  &recordingJournal{},
		notifier: &countingNotifier{},
		output:   &audiomock.OutputStream{},
	}
	h.recorder = &scriptedRecorder{script: script, flags: h.flags}
	if mutate != nil {
		mutate(h)
	}

	player, err := playback.New(&audiomock.Device{Output: h.output}, h.flags, playback.Config{
		SampleRate:      24000,
		PrebufferMs:     1,
		BlockBytes:      512,
		PollGranularity: 2 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("playback.New: %v", err)
	}
	supervisor := alert.NewSupervisor(h.flags, h.notifier, alert.WithGranularity(2*time.Millisecond))

	cfg := Config{
		MaxRecording:      time.Second,
		TrailingSilence:   100 * time.Millisecond,
		SampleRate:        16000,
		Language:          "en",
		NoSpeechLimit:     3,
		PlaybackWait:      200 * time.Millisecond,
		ExitKeywords:      []string{"exit", "quit", "bye"},
		Deadline:          playback.DeadlinePolicy{CharsPerSecond: 9, Overhead: time.Second, Min: time.Second, Max: 5 * time.Second},
		TranscribeWarn:    time.Second,
		ReasonWarn:        time.Second,
		PlaybackStartWarn: time.Second,
		MicOpenWarn:       time.Second,
		PollGranularity:   2 * time.Millisecond,
		SilencedRecheck:   5 * time.Millisecond,
	}
	if cfgMutate != nil {
		cfgMutate(&cfg)
	}

	coord, err := New(Deps{
		Recorder:   h.recorder,
		STT:        h.sttp,
		LLM:        h.llmp,
		TTS:        h.ttsp,
		Player:     player,
		Supervisor: supervisor,
		Flags:      h.flags,
		Journal:    h.journal,
	}, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.coord = coord
	return h
}

// runUntil starts Run and waits for done to report true, then shuts the
// loop down and returns Run's error.
func (h *harness) runUntil(t *testing.T, done func() bool) error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- h.coord.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for !done() {
		select {
		case err := <-errCh:
			if !done() {
				t.Fatalf("Run returned early: %v", err)
			}
			return err
		case <-deadline:
			t.Fatal("condition not reached within 5s")
		case <-time.After(2 * time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
		return nil
	}
}

func TestRunCompletesOneTurn(t *testing.T) {
	h := newHarness(t, []captureResult{{utt: testUtterance()}}, nil, nil)

	err := h.runUntil(t, func() bool { return len(h.journal.snapshot()) > 0 })
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	entries := h.journal.snapshot()
	if len(entries) != 1 {
		t.Fatalf("journal entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Transcript != "tell me a story" || e.Reply != "Once upon a time." || e.Outcome != "ok" {
		t.Errorf("journal entry = %+v", e)
	}

	if got := h.ttsp.CallCount(); got != 1 {
		t.Errorf("tts called %d times, want 1", got)
	}
	if got := h.ttsp.LastCall().Text; got != "Once upon a time." {
		t.Errorf("tts text = %q", got)
	}
	if h.output.BytesWritten() == 0 {
		t.Error("no audio reached the output device")
	}

	reqs := h.llmp.CompleteRequests
	if len(reqs) != 1 || reqs[0].Messages[len(reqs[0].Messages)-1].Content != "tell me a story" {
		t.Errorf("llm requests = %+v", reqs)
	}
}

func TestRunExitKeywordSaysGoodbyeAndStops(t *testing.T) {
	h := newHarness(t, []captureResult{{utt: testUtterance()}}, func(h *harness) {
		h.sttp.Result = stt.Transcript{Text: "bye"}
	}, nil)

	ctx := context.Background()
	errCh := make(chan error, 1)
	go func() { errCh <- h.coord.Run(ctx) }()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not terminate on exit keyword")
	}

	if !h.flags.Stopping() {
		t.Error("stop flag not set after exit keyword")
	}
	if got := h.ttsp.LastCall().Text; got != "Goodbye!" {
		t.Errorf("last synthesized text = %q, want Goodbye!", got)
	}
	if got := h.llmp.CompleteCallCount(); got != 0 {
		t.Errorf("llm called %d times for an exit turn, want 0", got)
	}
	entries := h.journal.snapshot()
	if len(entries) != 1 || entries[0].Outcome != "exit" {
		t.Errorf("journal entries = %+v, want one exit entry", entries)
	}
}

func TestRunNoSpeechStreakFiresOnThirdAndResets(t *testing.T) {
	// Four consecutive empty captures: the louder alert fires exactly on
	// the third, and the fourth starts a fresh streak.
	script := []captureResult{{}, {}, {}, {}}
	h := newHarness(t, script, nil, nil)

	err := h.runUntil(t, func() bool { return h.recorder.callCount() >= 5 })
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if got := h.notifier.byKind("no_speech_streak"); got != 1 {
		t.Errorf("louder alert fired %d times over 4 empty captures, want 1", got)
	}
}

func TestRunFirstSilenceIsFatalWhenConfigured(t *testing.T) {
	h := newHarness(t, []captureResult{{}}, nil, func(cfg *Config) {
		cfg.ExitOnFirstSilence = true
	})

	errCh := make(chan error, 1)
	go func() { errCh <- h.coord.Run(context.Background()) }()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("Run returned nil, want fatal first-silence error")
		}
		if !h.flags.Stopping() {
			t.Error("stop flag not set on fatal first silence")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not terminate on first silence")
	}
}

func TestRunEmptyTranscriptAsksForRepeat(t *testing.T) {
	h := newHarness(t, []captureResult{{utt: testUtterance()}}, func(h *harness) {
		h.sttp.Result = stt.Transcript{Text: "   "}
	}, nil)

	err := h.runUntil(t, func() bool { return h.ttsp.CallCount() > 0 })
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if got := h.ttsp.LastCall().Text; got != phraseRepeat {
		t.Errorf("synthesized %q, want %q", got, phraseRepeat)
	}
	if got := h.llmp.CompleteCallCount(); got != 0 {
		t.Errorf("llm called %d times for an empty transcript, want 0", got)
	}
}

func TestRunTranscriptionErrorAsksForRepeat(t *testing.T) {
	h := newHarness(t, []captureResult{{utt: testUtterance()}}, func(h *harness) {
		h.sttp.Err = errors.New("model not loaded")
	}, nil)

	err := h.runUntil(t, func() bool { return h.ttsp.CallCount() > 0 })
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if got := h.ttsp.LastCall().Text; got != phraseRepeat {
		t.Errorf("synthesized %q, want %q", got, phraseRepeat)
	}
}

func TestRunChatFailureFallsBackToApology(t *testing.T) {
	h := newHarness(t, []captureResult{{utt: testUtterance()}}, func(h *harness) {
		h.llmp.CompleteErr = errors.New("upstream 500")
	}, nil)

	err := h.runUntil(t, func() bool { return len(h.journal.snapshot()) > 0 })
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if got := h.ttsp.LastCall().Text; got != phraseApology {
		t.Errorf("synthesized %q, want %q", got, phraseApology)
	}
}

func TestRunReplyIsSanitizedBeforeSynthesis(t *testing.T) {
	h := newHarness(t, []captureResult{{utt: testUtterance()}}, func(h *harness) {
		h.llmp.CompleteResult = &llm.CompletionResponse{Content: "Great job! \U0001F389"}
	}, nil)

	err := h.runUntil(t, func() bool { return h.ttsp.CallCount() > 0 })
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if got := h.ttsp.LastCall().Text; got != "Great job!" {
		t.Errorf("synthesized %q, want emoji stripped", got)
	}
}

func TestRunCaptureDeviceErrorIsFatal(t *testing.T) {
	h := newHarness(t, []captureResult{{err: errors.New("alsa: device unplugged")}}, nil, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- h.coord.Run(context.Background()) }()

	select {
	case err := <-errCh:
		if err == nil || !strings.Contains(err.Error(), "capture") {
			t.Fatalf("Run returned %v, want capture failure", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not terminate on device error")
	}
}

func TestRunSilencedGateSkipsListening(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	h.coord.deps.Gate = staticGate{silenced: true}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.coord.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	if got := h.coord.State(); got != Silenced {
		t.Errorf("state = %v, want Silenced", got)
	}
	if got := h.recorder.callCount(); got != 0 {
		t.Errorf("recorder called %d times while silenced, want 0", got)
	}
	cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestRunStopDuringEndlessSynthesisExitsWithinGrace(t *testing.T) {
	// The synthesis stream sends one chunk and then never terminates. A
	// stop request during playback must still bring the loop down quickly.
	h := newHarness(t, []captureResult{{utt: testUtterance()}}, func(h *harness) {
		h.ttsp.Chunks = [][]byte{bytes.Repeat([]byte{0x02}, 1024)}
		h.ttsp.NeverFinish = true
	}, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- h.coord.Run(context.Background()) }()

	deadline := time.After(5 * time.Second)
	for !h.flags.TTSActive() {
		select {
		case err := <-errCh:
			t.Fatalf("Run returned early: %v", err)
		case <-deadline:
			t.Fatal("playback never started")
		case <-time.After(2 * time.Millisecond):
		}
	}

	stopAt := time.Now()
	h.flags.RequestStop()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("loop did not exit within the grace window")
	}
	if elapsed := time.Since(stopAt); elapsed > time.Second {
		t.Errorf("shutdown took %v after stop request", elapsed)
	}
	if h.flags.TTSActive() {
		t.Error("ttsActive still set after shutdown")
	}
}

func TestRunTimedOutPlaybackReleasesSynthesisAndRecordsOutcome(t *testing.T) {
	// The stream keeps producing well past the playback deadline. The turn
	// must journal a timed_out outcome, and the synthesis producer must be
	// released rather than left blocked on the abandoned channel.
	h := newHarness(t, []captureResult{{utt: testUtterance()}}, nil, func(cfg *Config) {
		cfg.Deadline = playback.DeadlinePolicy{CharsPerSecond: 9, Overhead: 30 * time.Millisecond, Min: 30 * time.Millisecond, Max: 30 * time.Millisecond}
	})
	trickle := &trickleProvider{
		chunk:    bytes.Repeat([]byte{0x02}, 512),
		count:    40,
		interval: 5 * time.Millisecond,
	}
	h.coord.deps.TTS = trickle

	err := h.runUntil(t, func() bool {
		entries := h.journal.snapshot()
		return len(entries) > 0 && entries[0].Outcome != ""
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	entries := h.journal.snapshot()
	if entries[0].Outcome != "timed_out" {
		t.Errorf("journal outcome = %q, want timed_out", entries[0].Outcome)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !trickle.finished.Load() && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if !trickle.finished.Load() {
		t.Error("synthesis producer still blocked after the turn ended")
	}
}

func TestRunGreetingPlaysWhenConfigured(t *testing.T) {
	h := newHarness(t, nil, nil, func(cfg *Config) {
		cfg.Greeting = "Hi! I'm so happy you're here!"
	})

	err := h.runUntil(t, func() bool { return h.ttsp.CallCount() > 0 })
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if got := h.ttsp.SynthesizeCalls[0].Text; got != "Hi! I'm so happy you're here!" {
		t.Errorf("first synthesized text = %q, want the greeting", got)
	}
}
