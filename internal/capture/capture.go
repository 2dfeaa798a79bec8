// Package capture records one utterance from the microphone, gated by voice
// activity detection.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lumora/murmel/internal/state"
	"github.com/lumora/murmel/pkg/audio"
	"github.com/lumora/murmel/pkg/provider/vad"
)

// Utterance is one recorded stretch of speech, including the trailing
// silence that ended it.
type Utterance struct {
	// PCM is 16-bit little-endian mono audio.
	PCM []byte

	// SampleRate is the capture rate in Hz.
	SampleRate int

	// Frames is the total number of classified frames recorded.
	Frames int

	// SpeechFrames is how many of those the detector classified as speech.
	SpeechFrames int
}

// Duration returns the audible length of the utterance.
func (u *Utterance) Duration() time.Duration {
	if u.SampleRate <= 0 {
		return 0
	}
	return audio.AudioFrame{Data: u.PCM, SampleRate: u.SampleRate, Channels: 1}.Duration()
}

// Config tunes a capture session.
type Config struct {
	// SampleRate is the microphone rate in Hz.
	SampleRate int

	// FrameMs is the frame duration the detector is fed.
	FrameMs int

	// WarmupFrames is the number of leading frames discarded after the
	// input opens; they tend to carry device transients.
	WarmupFrames int

	// SpeechThreshold and SilenceThreshold are passed through to the
	// detector.
	SpeechThreshold  float64
	SilenceThreshold float64
}

// Option configures a [Session].
type Option func(*Session)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithReadTimeout overrides the per-frame read timeout.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Session) { s.readTimeout = d }
}

// Session records utterances from an audio device. It holds one detector
// session for its whole lifetime, reset before each capture, but owns no
// device state between calls: every [Session.Capture] opens the input
// stream, records one utterance, and closes the stream again, so the
// microphone is free during playback.
type Session struct {
	device   audio.Device
	detector vad.SessionHandle
	flags    *state.Flags
	cfg      Config

	log         *slog.Logger
	readTimeout time.Duration
}

// New creates a capture session. flags may be nil if microphone-open
// tracking is not needed.
func New(device audio.Device, engine vad.Engine, flags *state.Flags, cfg Config, opts ...Option) (*Session, error) {
	if device == nil {
		return nil, errors.New("capture: device must not be nil")
	}
	if engine == nil {
		return nil, errors.New("capture: vad engine must not be nil")
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("capture: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.FrameMs <= 0 {
		return nil, fmt.Errorf("capture: frame duration must be positive, got %dms", cfg.FrameMs)
	}
	detector, err := engine.NewSession(vad.Config{
		SampleRate:       cfg.SampleRate,
		FrameSizeMs:      cfg.FrameMs,
		SpeechThreshold:  cfg.SpeechThreshold,
		SilenceThreshold: cfg.SilenceThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("capture: create detector: %w", err)
	}
	s := &Session{
		device:      device,
		detector:    detector,
		flags:       flags,
		cfg:         cfg,
		log:         slog.Default(),
		readTimeout: 10 * time.Duration(cfg.FrameMs) * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the detector session.
func (s *Session) Close() error {
	if err := s.detector.Close(); err != nil {
		return fmt.Errorf("capture: close detector: %w", err)
	}
	return nil
}

// Capture records until trailingSilence of accumulated silence follows the
// first detected speech, or until maxDuration of audio has been read,
// whichever comes first. It returns nil (and no error) when the recording
// window passed without any speech at all.
//
// The returned utterance contains every frame from the first speech frame
// through the silence that ended the capture. Frames before the first
// speech frame are discarded.
func (s *Session) Capture(ctx context.Context, maxDuration, trailingSilence time.Duration) (*Utterance, error) {
	frameDur := time.Duration(s.cfg.FrameMs) * time.Millisecond

	// One detector session lives across captures; clear its state so the
	// previous utterance's tail does not bleed into this one.
	s.detector.Reset()

	in, err := s.device.OpenInput(audio.StreamConfig{
		SampleRate:   s.cfg.SampleRate,
		Channels:     1,
		FrameSamples: s.cfg.SampleRate * s.cfg.FrameMs / 1000,
	})
	if err != nil {
		return nil, fmt.Errorf("capture: open input: %w", err)
	}
	if s.flags != nil {
		s.flags.SetMicOpen(true)
		defer s.flags.SetMicOpen(false)
	}
	defer in.Close()

	for range s.cfg.WarmupFrames {
		if _, err := in.ReadFrame(s.readTimeout); err != nil {
			return nil, fmt.Errorf("capture: warmup read: %w", err)
		}
	}

	var (
		utt          Utterance
		speechSeen   bool
		silenceAccum time.Duration
		recorded     time.Duration
	)
	utt.SampleRate = s.cfg.SampleRate

	for recorded < maxDuration {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.flags != nil && s.flags.Stopping() {
			return nil, context.Canceled
		}

		frame, err := in.ReadFrame(s.readTimeout)
		if err != nil {
			if errors.Is(err, audio.ErrEndOfStream) && speechSeen {
				// The device went away mid-utterance; keep what we have.
				s.log.Warn("input stream ended mid-capture", "recorded", recorded)
				return &utt, nil
			}
			return nil, fmt.Errorf("capture: read frame: %w", err)
		}
		recorded += frameDur

		event, err := s.detector.ProcessFrame(frame.Data)
		if err != nil {
			return nil, fmt.Errorf("capture: classify frame: %w", err)
		}

		if event.Type.IsSpeech() {
			speechSeen = true
			silenceAccum = 0
		} else if speechSeen {
			silenceAccum += frameDur
		}

		if speechSeen {
			utt.PCM = append(utt.PCM, frame.Data...)
			utt.Frames++
			if event.Type.IsSpeech() {
				utt.SpeechFrames++
			}
			if silenceAccum >= trailingSilence {
				break
			}
		}
	}

	if !speechSeen {
		s.log.Debug("capture window passed without speech", "window", maxDuration)
		return nil, nil
	}
	s.log.Debug("captured utterance",
		"frames", utt.Frames,
		"speech_frames", utt.SpeechFrames,
		"duration", utt.Duration(),
	)
	return &utt, nil
}
