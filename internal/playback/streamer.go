// Package playback drains synthesized audio chunks to the output device,
// with a jitter prebuffer and cooperative cancellation.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lumora/murmel/internal/observe"
	"github.com/lumora/murmel/internal/state"
	"github.com/lumora/murmel/pkg/audio"
)

// Outcome describes how a playback session ended.
type Outcome int

const (
	// Completed means every chunk was received and written.
	Completed Outcome = iota

	// TimedOut means the deadline passed before the chunk sequence ended;
	// audio buffered up to that point was still flushed.
	TimedOut

	// Cancelled means the session was stopped by its context or the
	// process stop flag.
	Cancelled

	// DeviceError means a device open or write failed.
	DeviceError
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	case Cancelled:
		return "cancelled"
	case DeviceError:
		return "device_error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Config tunes a [Streamer].
type Config struct {
	// SampleRate is the playback rate in Hz.
	SampleRate int

	// PrebufferMs is how much audio must be buffered before the first
	// device write.
	PrebufferMs int

	// BlockBytes is the device write granularity.
	BlockBytes int

	// PollGranularity bounds how long a stop request can go unnoticed
	// while waiting for the next chunk. Defaults to 50ms.
	PollGranularity time.Duration
}

// Option configures a [Streamer].
type Option func(*Streamer)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Streamer) { s.log = l }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Streamer) { s.metrics = m }
}

// Streamer plays chunked audio on an output device. A single Streamer is
// reused across replies; each [Streamer.Play] call is one session. Sessions
// are serialized: a Play or PlayBytes call blocks until the session in
// progress has released the device, so at most one session is ever active no
// matter which goroutine asks for the speaker.
type Streamer struct {
	device audio.Device
	flags  *state.Flags
	cfg    Config

	// session guards the output device across Play and PlayBytes.
	session sync.Mutex

	log     *slog.Logger
	metrics *observe.Metrics
}

// New creates a playback streamer. flags may be nil when half-duplex
// signalling is not needed.
func New(device audio.Device, flags *state.Flags, cfg Config, opts ...Option) (*Streamer, error) {
	if device == nil {
		return nil, errors.New("playback: device must not be nil")
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("playback: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.BlockBytes <= 0 || cfg.BlockBytes%2 != 0 {
		return nil, fmt.Errorf("playback: block size must be a positive even number, got %d", cfg.BlockBytes)
	}
	if cfg.PollGranularity <= 0 {
		cfg.PollGranularity = 50 * time.Millisecond
	}
	s := &Streamer{
		device: device,
		flags:  flags,
		cfg:    cfg,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s, nil
}

// PrebufferBytes returns the prebuffer threshold in bytes for 16-bit mono
// audio at the configured sample rate.
func (s *Streamer) PrebufferBytes() int {
	return audio.BytesForDuration(time.Duration(s.cfg.PrebufferMs)*time.Millisecond, s.cfg.SampleRate, 1)
}

// Play drains chunks to the output device and reports how the session
// ended. It returns a non-nil error only alongside [DeviceError].
//
// No device write happens until the buffered bytes reach the prebuffer
// threshold or the chunk sequence ends, whichever first. Cancellation is
// checked at every chunk and every write, so stopping mid-reply halts audio
// within roughly one block. When the deadline passes before the sequence
// ends, audio already buffered is still flushed.
func (s *Streamer) Play(ctx context.Context, chunks <-chan []byte, deadline time.Duration) (Outcome, error) {
	s.session.Lock()
	defer s.session.Unlock()

	start := time.Now()
	if s.flags != nil {
		s.flags.SetTTSActive(true)
		defer s.flags.SetTTSActive(false)
	}

	out, err := s.device.OpenOutput(audio.StreamConfig{
		SampleRate: s.cfg.SampleRate,
		Channels:   1,
	})
	if err != nil {
		return DeviceError, fmt.Errorf("playback: open output: %w", err)
	}
	defer out.Close()

	timeout := time.NewTimer(deadline)
	defer timeout.Stop()
	poll := time.NewTicker(s.cfg.PollGranularity)
	defer poll.Stop()

	var (
		buf      []byte
		started  bool
		finished bool
		timedOut bool
	)
	prebuffer := s.PrebufferBytes()
	if prebuffer < 1 {
		prebuffer = 1
	}

	for {
		if outcome, ok := s.checkCancelled(ctx); ok {
			s.observe(outcome, start)
			return outcome, nil
		}

		// Fill the buffer until there is enough to act on: the prebuffer
		// before the first write, one block afterwards.
		need := s.cfg.BlockBytes
		if !started {
			need = prebuffer
		}
		if started && len(buf) == 0 && !finished && !timedOut {
			// Mid-stream underrun: wait for the next data instead of
			// aborting the session.
			s.log.Warn("playback underrun")
			s.metrics.PlaybackUnderruns.Add(ctx, 1)
		}
		for !finished && !timedOut && len(buf) < need {
			select {
			case chunk, ok := <-chunks:
				if !ok {
					finished = true
					break
				}
				buf = append(buf, chunk...)
			case <-timeout.C:
				timedOut = true
			case <-ctx.Done():
				s.observe(Cancelled, start)
				return Cancelled, nil
			case <-poll.C:
				// Re-check the stop flag below.
			}
			if outcome, ok := s.checkCancelled(ctx); ok {
				s.observe(outcome, start)
				return outcome, nil
			}
		}

		if len(buf) == 0 {
			break
		}
		block := buf
		if len(block) > s.cfg.BlockBytes {
			block = buf[:s.cfg.BlockBytes]
		}
		if err := out.Write(block); err != nil {
			s.observe(DeviceError, start)
			return DeviceError, fmt.Errorf("playback: write block: %w", err)
		}
		started = true
		buf = buf[len(block):]

		if (finished || timedOut) && len(buf) == 0 {
			break
		}
	}

	if timedOut && !finished {
		s.log.Warn("playback deadline passed before stream ended", "deadline", deadline)
		s.observe(TimedOut, start)
		return TimedOut, nil
	}
	s.observe(Completed, start)
	return Completed, nil
}

// PlayBytes writes one pre-rendered PCM buffer to the device, under the same
// session exclusion as [Streamer.Play]. It blocks until any session in
// progress has finished. Used for short cues like alert tones.
func (s *Streamer) PlayBytes(pcm []byte) error {
	s.session.Lock()
	defer s.session.Unlock()

	out, err := s.device.OpenOutput(audio.StreamConfig{
		SampleRate: s.cfg.SampleRate,
		Channels:   1,
	})
	if err != nil {
		return fmt.Errorf("playback: open output: %w", err)
	}
	defer out.Close()
	if err := out.Write(pcm); err != nil {
		return fmt.Errorf("playback: write cue: %w", err)
	}
	return nil
}

// checkCancelled reports whether the session should stop, and why.
func (s *Streamer) checkCancelled(ctx context.Context) (Outcome, bool) {
	if ctx.Err() != nil {
		return Cancelled, true
	}
	if s.flags != nil && s.flags.Stopping() {
		return Cancelled, true
	}
	return 0, false
}

func (s *Streamer) observe(outcome Outcome, start time.Time) {
	s.metrics.RecordDuration(context.Background(), s.metrics.PlaybackDuration, time.Since(start),
		observe.Attr("outcome", outcome.String()))
}
