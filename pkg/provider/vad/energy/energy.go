// Package energy implements vad.Engine with a plain short-term energy
// heuristic. It needs no model file and no CGO, which makes it the fallback
// detector on boards where the ONNX runtime is unavailable. Accuracy is
// adequate for close-talking use; for far-field capture prefer the silero
// engine.
package energy

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/lumora/murmel/pkg/provider/vad"
)

// fullScaleRMS is the RMS reference used to normalise frame energy into a
// pseudo-probability. Chosen so normal speaking volume at arm's length lands
// around 0.6–0.9.
const fullScaleRMS = 6000.0

// Compile-time assertion that Engine satisfies vad.Engine.
var _ vad.Engine = (*Engine)(nil)

// Engine creates energy-based VAD sessions.
type Engine struct{}

// New returns a ready Engine.
func New() *Engine { return &Engine{} }

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: SampleRate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("energy: FrameSizeMs must be positive, got %d", cfg.FrameSizeMs)
	}
	if cfg.SpeechThreshold < 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("energy: SpeechThreshold %v out of range [0,1]", cfg.SpeechThreshold)
	}
	if cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("energy: SilenceThreshold %v exceeds SpeechThreshold %v",
			cfg.SilenceThreshold, cfg.SpeechThreshold)
	}
	return &session{
		cfg:        cfg,
		frameBytes: cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2,
	}, nil
}

// session classifies frames by RMS energy with hysteresis: a frame must
// exceed SpeechThreshold to open a speech run, and the run stays open until
// a frame drops below SilenceThreshold.
type session struct {
	mu         sync.Mutex
	cfg        vad.Config
	frameBytes int
	active     bool
	closed     bool
}

// ProcessFrame implements [vad.SessionHandle].
func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.Event{}, fmt.Errorf("energy: session is closed")
	}
	if len(frame) != s.frameBytes {
		return vad.Event{}, fmt.Errorf("energy: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}

	prob := math.Min(1.0, rms(frame)/fullScaleRMS)

	var t vad.EventType
	switch {
	case !s.active && prob >= s.cfg.SpeechThreshold:
		s.active = true
		t = vad.SpeechStart
	case s.active && prob > s.cfg.SilenceThreshold:
		t = vad.SpeechContinue
	case s.active:
		s.active = false
		t = vad.SpeechEnd
	default:
		t = vad.Silence
	}
	return vad.Event{Type: t, Probability: prob}, nil
}

// Reset implements [vad.SessionHandle].
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
}

// Close implements [vad.SessionHandle].
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// rms computes the root mean square of a 16-bit little-endian PCM frame.
func rms(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(frame[i*2:])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
