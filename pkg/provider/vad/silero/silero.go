// Package silero implements vad.Engine using the Silero VAD ONNX model via
// the silero-vad-go bindings. The model operates on 512-sample windows at
// 16 kHz, so the session re-blocks incoming frames internally; classification
// for a frame reflects the most recently completed model window.
package silero

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/lumora/murmel/pkg/provider/vad"
)

// windowSamples is the fixed Silero model window at 16 kHz.
const windowSamples = 512

// Compile-time assertion that Engine satisfies vad.Engine.
var _ vad.Engine = (*Engine)(nil)

// Engine creates Silero-backed VAD sessions. Each session owns its own
// detector instance so sessions do not share model state.
type Engine struct {
	modelPath string
}

// New returns an Engine that loads the ONNX model from modelPath for every
// session.
func New(modelPath string) (*Engine, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("silero: modelPath must not be empty")
	}
	return &Engine{modelPath: modelPath}, nil
}

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate != 16000 {
		return nil, fmt.Errorf("silero: unsupported sample rate %d, the model requires 16000", cfg.SampleRate)
	}
	det, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:  e.modelPath,
		SampleRate: cfg.SampleRate,
		Threshold:  float32(cfg.SpeechThreshold),
	})
	if err != nil {
		return nil, fmt.Errorf("silero: create detector: %w", err)
	}
	return &session{det: det, cfg: cfg}, nil
}

type session struct {
	mu     sync.Mutex
	det    *speech.Detector
	cfg    vad.Config
	window []float32
	active bool
	closed bool
}

// ProcessFrame implements [vad.SessionHandle]. Incoming PCM is appended to
// the model window buffer; every full window is pushed through the streaming
// detector and flips the active state on start/end events.
func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.Event{}, fmt.Errorf("silero: session is closed")
	}

	wasActive := s.active

	for i := 0; i+1 < len(frame); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(frame[i:]))
		s.window = append(s.window, float32(sample)/32768.0)
	}

	for len(s.window) >= windowSamples {
		chunk := s.window[:windowSamples]
		s.window = s.window[windowSamples:]
		ev, err := s.det.DetectStreamFrame(chunk)
		if err != nil {
			// The detector can desynchronise on clipped speech ends; reset
			// and report silence rather than failing the capture loop.
			s.det.Reset()
			s.active = false
			continue
		}
		if ev != nil {
			if ev.IsStart {
				s.active = true
			}
			if ev.IsEnd {
				s.active = false
			}
		}
	}

	var t vad.EventType
	var p float64
	switch {
	case s.active && !wasActive:
		t, p = vad.SpeechStart, 1.0
	case s.active:
		t, p = vad.SpeechContinue, 1.0
	case wasActive:
		t = vad.SpeechEnd
	default:
		t = vad.Silence
	}
	return vad.Event{Type: t, Probability: p}, nil
}

// Reset implements [vad.SessionHandle].
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.det.Reset()
	s.window = s.window[:0]
	s.active = false
}

// Close implements [vad.SessionHandle].
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.det.Destroy()
}
