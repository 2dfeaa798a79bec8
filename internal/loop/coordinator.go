// Package loop drives the turn-taking state machine: listen, transcribe,
// think, speak, cooldown. It owns the half-duplex policy and sequences the
// external collaborators; everything secondary (backend logging, analytics,
// the journal) is fired alongside a turn and never gates it.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lumora/murmel/internal/alert"
	"github.com/lumora/murmel/internal/analytics"
	"github.com/lumora/murmel/internal/backend"
	"github.com/lumora/murmel/internal/capture"
	"github.com/lumora/murmel/internal/journal"
	"github.com/lumora/murmel/internal/observe"
	"github.com/lumora/murmel/internal/playback"
	"github.com/lumora/murmel/internal/state"
	"github.com/lumora/murmel/pkg/audio"
	"github.com/lumora/murmel/pkg/provider/llm"
	"github.com/lumora/murmel/pkg/provider/stt"
	"github.com/lumora/murmel/pkg/provider/tts"
)

// Fixed child-facing phrases. The originals are part of the device's
// personality; keep them short and warm.
const (
	phraseRepeat  = "Could you repeat that?"
	phraseApology = "Sorry, something went wrong."
	phraseGoodbye = "Goodbye!"
	phraseLouder  = "Please speak a little louder."
)

// historyLimit caps the conversation history passed to the model.
const historyLimit = 20

// Recorder records one utterance, or nil when the window stayed silent.
type Recorder interface {
	Capture(ctx context.Context, maxDuration, trailingSilence time.Duration) (*capture.Utterance, error)
}

// Player drains one chunk stream to the output device.
type Player interface {
	Play(ctx context.Context, chunks <-chan []byte, deadline time.Duration) (playback.Outcome, error)
}

// SilenceGate answers whether the device must stay quiet right now.
type SilenceGate interface {
	Silenced(now time.Time) (bool, string)
}

// Backend is the slice of the fleet client the coordinator uses. All calls
// are best-effort.
type Backend interface {
	FetchDeviceProfile(ctx context.Context) (*backend.DeviceProfile, error)
	MarkGreeted(ctx context.Context, at time.Time) error
	LogRequest(ctx context.Context, text string) (string, error)
	LogReply(ctx context.Context, turnID, text string) error
	LogSentiment(ctx context.Context, turnID, label string, intensity int) error
	LogInterest(ctx context.Context, turnID, topic string, intensity int) error
}

// Config tunes the coordinator.
type Config struct {
	MaxRecording    time.Duration
	TrailingSilence time.Duration
	SampleRate      int
	Language        string

	NoSpeechLimit        int
	GateListenOnPlayback bool
	PlaybackWait         time.Duration
	ExitOnFirstSilence   bool
	ExitKeywords         []string

	SystemPrompt     string
	Greeting         string
	GreetingInterval time.Duration

	Deadline playback.DeadlinePolicy

	TranscribeWarn    time.Duration
	ReasonWarn        time.Duration
	PlaybackStartWarn time.Duration
	MicOpenWarn       time.Duration

	// PollGranularity is the step of every cooldown/silence wait.
	PollGranularity time.Duration

	// SilencedRecheck is how often the parental gate is re-polled while the
	// device is silenced. Defaults to 1s.
	SilencedRecheck time.Duration
}

// Deps are the coordinator's collaborators. Recorder, STT, LLM, TTS, Player,
// Supervisor and Flags are required; the rest may be nil (or Noop for the
// journal).
type Deps struct {
	Recorder   Recorder
	STT        stt.Provider
	LLM        llm.Provider
	TTS        tts.Provider
	Player     Player
	Supervisor *alert.Supervisor
	Flags      *state.Flags

	Gate      SilenceGate
	Backend   Backend
	Extractor *analytics.Extractor
	Journal   journal.Store

	Voice tts.VoiceProfile
}

// Option configures a [Coordinator].
type Option func(*Coordinator)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// Coordinator is the single owner of the turn state machine. Run it from
// exactly one goroutine.
type Coordinator struct {
	deps Deps
	cfg  Config

	turnState atomic.Int32
	history   []llm.Message
	streak    int

	log     *slog.Logger
	metrics *observe.Metrics
}

// New creates a coordinator.
func New(deps Deps, cfg Config, opts ...Option) (*Coordinator, error) {
	switch {
	case deps.Recorder == nil:
		return nil, errors.New("loop: recorder must not be nil")
	case deps.STT == nil:
		return nil, errors.New("loop: stt provider must not be nil")
	case deps.LLM == nil:
		return nil, errors.New("loop: llm provider must not be nil")
	case deps.TTS == nil:
		return nil, errors.New("loop: tts provider must not be nil")
	case deps.Player == nil:
		return nil, errors.New("loop: player must not be nil")
	case deps.Supervisor == nil:
		return nil, errors.New("loop: alert supervisor must not be nil")
	case deps.Flags == nil:
		return nil, errors.New("loop: shared flags must not be nil")
	}
	if deps.Journal == nil {
		deps.Journal = journal.Noop{}
	}
	if cfg.PollGranularity <= 0 {
		cfg.PollGranularity = 50 * time.Millisecond
	}
	if cfg.SilencedRecheck <= 0 {
		cfg.SilencedRecheck = time.Second
	}
	c := &Coordinator{
		deps: deps,
		cfg:  cfg,
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c, nil
}

// State returns the current turn state. Safe to call from any goroutine.
func (c *Coordinator) State() TurnState {
	return TurnState(c.turnState.Load())
}

func (c *Coordinator) setState(s TurnState) {
	prev := TurnState(c.turnState.Swap(int32(s)))
	if prev != s {
		c.log.Debug("turn state", "from", prev.String(), "to", s.String())
	}
}

// Say voices a short phrase through the normal synthesis and playback path.
// It also serves as the alert notifier's speaker.
func (c *Coordinator) Say(ctx context.Context, text string) error {
	chunks, err := c.deps.TTS.SynthesizeStream(ctx, playback.SanitizeForSpeech(text), c.deps.Voice)
	if err != nil {
		return fmt.Errorf("loop: synthesize phrase: %w", err)
	}
	_, playErr := c.deps.Player.Play(ctx, chunks, c.cfg.Deadline.Estimate(text))
	// Playback may end before the stream does; release the synthesis
	// producer so it is not left blocked on the abandoned channel.
	go audio.Drain(chunks)
	if playErr != nil {
		return fmt.Errorf("loop: play phrase: %w", playErr)
	}
	return nil
}

// Run drives turns until the context is cancelled or the stop flag is set.
// A device failure or a fatal startup condition is returned as an error;
// orderly shutdown returns nil.
func (c *Coordinator) Run(ctx context.Context) error {
	c.greet(ctx)

	firstListen := true
	for {
		if c.stopping(ctx) {
			c.setState(ShuttingDown)
			c.log.Info("turn loop shutting down")
			return nil
		}
		if silenced, reason := c.silenced(); silenced {
			if c.State() != Silenced {
				c.log.Info("device silenced", "reason", reason)
			}
			c.setState(Silenced)
			c.sleep(ctx, c.cfg.SilencedRecheck)
			continue
		}

		c.setState(Listening)
		c.waitForQuiet(ctx)

		var cancelMic alert.CancelFunc
		if firstListen {
			cancelMic = c.deps.Supervisor.Watch(c.cfg.MicOpenWarn, alert.Payload{Kind: "mic_slow"})
		}
		captureStart := time.Now()
		utt, err := c.deps.Recorder.Capture(ctx, c.cfg.MaxRecording, c.cfg.TrailingSilence)
		if cancelMic != nil {
			cancelMic()
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				continue
			}
			c.setState(ShuttingDown)
			return fmt.Errorf("loop: capture: %w", err)
		}
		c.metrics.RecordDuration(ctx, c.metrics.CaptureDuration, time.Since(captureStart))

		if utt == nil {
			c.metrics.RecordTurn(ctx, "no_speech")
			if firstListen && c.cfg.ExitOnFirstSilence {
				c.setState(ShuttingDown)
				c.deps.Flags.RequestStop()
				return errors.New("loop: no speech on first listen, giving up (is the microphone connected?)")
			}
			firstListen = false
			c.streak++
			if c.streak >= c.cfg.NoSpeechLimit {
				c.deps.Supervisor.Fire(alert.Payload{Kind: "no_speech_streak", Phrase: phraseLouder})
				c.streak = 0
			}
			c.setState(Idle)
			continue
		}
		firstListen = false
		c.streak = 0

		if exit, err := c.runTurn(ctx, utt); err != nil {
			return err
		} else if exit {
			return nil
		}
	}
}

// runTurn takes one non-empty utterance through transcription, reasoning
// and playback. It reports whether the loop should exit.
func (c *Coordinator) runTurn(ctx context.Context, utt *capture.Utterance) (bool, error) {
	turnStart := time.Now()

	c.setState(Transcribing)
	text, outcome := c.transcribe(ctx, utt)
	if text == "" {
		c.metrics.RecordTurn(ctx, outcome)
		if err := c.Say(ctx, phraseRepeat); err != nil {
			c.log.Warn("repeat prompt failed", "error", err)
		}
		c.setState(Idle)
		return false, nil
	}
	c.log.Info("heard", "text", text)

	if IsExitCommand(text, c.cfg.ExitKeywords) {
		c.metrics.RecordTurn(ctx, "exit")
		c.recordJournal(ctx, journal.Entry{
			StartedAt:  turnStart,
			FinishedAt: time.Now(),
			Transcript: text,
			Outcome:    "exit",
		})
		if err := c.Say(ctx, phraseGoodbye); err != nil {
			c.log.Warn("farewell failed", "error", err)
		}
		c.setState(ShuttingDown)
		c.deps.Flags.RequestStop()
		return true, nil
	}

	c.setState(Thinking)
	reply := c.think(ctx, text)

	c.setState(Speaking)
	outcomeCh := make(chan string, 1)
	go c.finishTurn(context.WithoutCancel(ctx), text, reply, turnStart, outcomeCh)
	playOutcome := c.speak(ctx, reply)
	c.log.Debug("playback finished", "outcome", playOutcome.String())
	label := "ok"
	if playOutcome != playback.Completed {
		label = playOutcome.String()
	}
	outcomeCh <- label

	c.setState(Cooldown)
	c.waitForQuiet(ctx)
	c.metrics.RecordTurn(ctx, label)
	c.setState(Idle)
	return false, nil
}

// transcribe runs the utterance through the STT backend. It returns the
// trimmed transcript and, when that is empty, the turn outcome label.
func (c *Coordinator) transcribe(ctx context.Context, utt *capture.Utterance) (string, string) {
	cancel := c.deps.Supervisor.Watch(c.cfg.TranscribeWarn, alert.Payload{Kind: "stt_slow"})
	defer cancel()

	start := time.Now()
	transcript, err := c.deps.STT.Transcribe(ctx, utt.PCM, stt.TranscribeConfig{
		SampleRate: c.cfg.SampleRate,
		Channels:   1,
		Language:   c.cfg.Language,
	})
	c.metrics.RecordDuration(ctx, c.metrics.STTDuration, time.Since(start))
	if err != nil {
		c.log.Warn("transcription failed", "error", err)
		return "", "stt_error"
	}
	text := strings.TrimSpace(transcript.Text)
	if text == "" {
		return "", "stt_empty"
	}
	return text, ""
}

// think obtains the reply text. A chat failure falls back to a fixed
// apology so the turn always has something to say.
func (c *Coordinator) think(ctx context.Context, userText string) string {
	cancel := c.deps.Supervisor.Watch(c.cfg.ReasonWarn, alert.Payload{Kind: "llm_slow"})
	defer cancel()

	messages := append(append([]llm.Message{}, c.history...), llm.Message{Role: "user", Content: userText})
	start := time.Now()
	resp, err := c.deps.LLM.Complete(ctx, llm.CompletionRequest{
		Messages:     messages,
		SystemPrompt: c.cfg.SystemPrompt,
	})
	c.metrics.RecordDuration(ctx, c.metrics.LLMDuration, time.Since(start))
	if err != nil {
		c.log.Warn("chat completion failed", "error", err)
		return phraseApology
	}
	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		c.log.Warn("chat completion returned empty text")
		return phraseApology
	}
	c.history = append(c.history,
		llm.Message{Role: "user", Content: userText},
		llm.Message{Role: "assistant", Content: reply},
	)
	if len(c.history) > historyLimit {
		c.history = c.history[len(c.history)-historyLimit:]
	}
	return reply
}

// speak synthesizes and plays the reply.
func (c *Coordinator) speak(ctx context.Context, reply string) playback.Outcome {
	cancelWatch := c.deps.Supervisor.Watch(c.cfg.PlaybackStartWarn, alert.Payload{Kind: "tts_slow"})

	synthStart := time.Now()
	chunks, err := c.deps.TTS.SynthesizeStream(ctx, playback.SanitizeForSpeech(reply), c.deps.Voice)
	if err != nil {
		cancelWatch()
		c.log.Warn("synthesis failed to start", "error", err)
		return playback.DeviceError
	}

	// Observe the first chunk to settle the playback-start watcher.
	observed := make(chan []byte)
	go func() {
		defer close(observed)
		first := true
		for chunk := range chunks {
			if first {
				first = false
				cancelWatch()
				c.metrics.RecordDuration(ctx, c.metrics.TTSFirstChunk, time.Since(synthStart))
			}
			select {
			case observed <- chunk:
			case <-ctx.Done():
				return
			}
		}
		cancelWatch()
	}()

	outcome, err := c.deps.Player.Play(ctx, observed, c.cfg.Deadline.Estimate(reply))
	// On a timeout or device error the forwarder is still mid-stream;
	// drain it so it and the synthesis producer behind it can finish.
	go audio.Drain(observed)
	if err != nil {
		c.log.Warn("playback failed", "error", err)
	}
	return outcome
}

// finishTurn runs the secondary, non-gating work of a turn: backend
// logging, analytics extraction, and the journal entry. It waits for the
// turn outcome so the journal records how the turn ended.
func (c *Coordinator) finishTurn(ctx context.Context, transcript, reply string, started time.Time, outcomeCh <-chan string) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var turnID string
	if c.deps.Backend != nil {
		id, err := c.deps.Backend.LogRequest(ctx, transcript)
		if err != nil {
			c.log.Warn("backend request log failed", "error", err)
		} else {
			turnID = id
			if err := c.deps.Backend.LogReply(ctx, turnID, reply); err != nil {
				c.log.Warn("backend reply log failed", "error", err)
			}
		}
	}

	entry := journal.Entry{
		TurnID:     turnID,
		StartedAt:  started,
		Transcript: transcript,
		Reply:      reply,
	}

	if c.deps.Extractor != nil {
		res, err := c.deps.Extractor.Extract(ctx, transcript)
		if err != nil {
			c.log.Debug("analytics extraction dropped", "error", err)
		} else {
			entry.Sentiment = res.Sentiment
			entry.SentimentIntensity = res.SentimentIntensity
			entry.Interest = res.Interest
			entry.InterestIntensity = res.InterestIntensity
			if c.deps.Backend != nil && turnID != "" {
				if err := c.deps.Backend.LogSentiment(ctx, turnID, res.Sentiment, res.SentimentIntensity); err != nil {
					c.log.Warn("backend sentiment log failed", "error", err)
				}
				if res.Interest != "" {
					if err := c.deps.Backend.LogInterest(ctx, turnID, res.Interest, res.InterestIntensity); err != nil {
						c.log.Warn("backend interest log failed", "error", err)
					}
				}
			}
		}
	}

	select {
	case entry.Outcome = <-outcomeCh:
	case <-ctx.Done():
		entry.Outcome = "ok"
	}
	entry.FinishedAt = time.Now()
	c.recordJournal(ctx, entry)
}

func (c *Coordinator) recordJournal(ctx context.Context, e journal.Entry) {
	if err := c.deps.Journal.Record(ctx, e); err != nil {
		c.log.Warn("journal record failed", "error", err)
	}
}

// greet plays the startup greeting unless one already played within the
// configured interval (tracked by the backend so reboots stay quiet).
func (c *Coordinator) greet(ctx context.Context) {
	if c.cfg.Greeting == "" {
		return
	}
	if c.deps.Backend != nil && c.cfg.GreetingInterval > 0 {
		profile, err := c.deps.Backend.FetchDeviceProfile(ctx)
		if err != nil {
			c.log.Warn("device profile fetch failed", "error", err)
		} else if time.Since(profile.LastGreetingAt) < c.cfg.GreetingInterval {
			c.log.Debug("greeting skipped, one played recently", "last", profile.LastGreetingAt)
			return
		}
	}
	if err := c.Say(ctx, c.cfg.Greeting); err != nil {
		c.log.Warn("greeting failed", "error", err)
		return
	}
	if c.deps.Backend != nil {
		if err := c.deps.Backend.MarkGreeted(ctx, time.Now()); err != nil {
			c.log.Warn("greeting mark failed", "error", err)
		}
	}
}

// waitForQuiet blocks until playback has settled, a bounded wait elapses,
// or the process is stopping. This is the half-duplex guard: capture and
// playback must never run against the device at the same time.
func (c *Coordinator) waitForQuiet(ctx context.Context) {
	if !c.cfg.GateListenOnPlayback {
		return
	}
	deadline := time.Now().Add(c.cfg.PlaybackWait)
	for c.deps.Flags.TTSActive() && time.Now().Before(deadline) {
		if c.stopping(ctx) {
			return
		}
		c.sleep(ctx, c.cfg.PollGranularity)
	}
	// Short settle gap so the output driver releases the device.
	c.sleep(ctx, c.cfg.PollGranularity)
}

func (c *Coordinator) silenced() (bool, string) {
	if c.deps.Gate == nil {
		return false, ""
	}
	return c.deps.Gate.Silenced(time.Now())
}

func (c *Coordinator) stopping(ctx context.Context) bool {
	return ctx.Err() != nil || c.deps.Flags.Stopping()
}

func (c *Coordinator) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
