// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that sessions are created with the expected Config.
// Use Session to script classifications and inspect the frames submitted for
// processing.
//
// Example:
//
//	sess := &mock.Session{Script: []vad.EventType{vad.SpeechStart, vad.Silence}}
//	eng := &mock.Engine{Session: sess}
package mock

import (
	"sync"

	"github.com/lumora/murmel/pkg/provider/vad"
)

// Compile-time interface assertions.
var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)

// Engine is a mock implementation of [vad.Engine].
type Engine struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by NewSession. If nil,
	// NewSession returns a new zero-value Session.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionConfigs records the Config of every NewSession call in order.
	NewSessionConfigs []vad.Config
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionConfigs = append(e.NewSessionConfigs, cfg)
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Session is a mock implementation of [vad.SessionHandle]. It replays Script
// one element per ProcessFrame call; once the script is exhausted every
// further frame classifies as [vad.Silence].
type Session struct {
	mu sync.Mutex

	// Script is the sequence of classifications to emit, in order.
	Script []vad.EventType

	// ProcessErr, if non-nil, is returned by every ProcessFrame call.
	ProcessErr error

	// Frames records a copy of every frame passed to ProcessFrame.
	Frames [][]byte

	// CallCountReset records how many times Reset was called.
	CallCountReset int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	next int
}

// ProcessFrame implements [vad.SessionHandle].
func (s *Session) ProcessFrame(frame []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	s.Frames = append(s.Frames, cp)
	if s.ProcessErr != nil {
		return vad.Event{}, s.ProcessErr
	}
	t := vad.Silence
	if s.next < len(s.Script) {
		t = s.Script[s.next]
	}
	s.next++
	p := 0.0
	if t.IsSpeech() {
		p = 1.0
	}
	return vad.Event{Type: t, Probability: p}, nil
}

// Reset implements [vad.SessionHandle]. It rewinds the script.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountReset++
	s.next = 0
}

// Close implements [vad.SessionHandle].
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}
