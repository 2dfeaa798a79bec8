// Package mock provides in-memory mock implementations of [audio.Device],
// [audio.InputStream], and [audio.OutputStream] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields the test can set to control return values.
//
// Typical usage:
//
//	in := &mock.InputStream{Frames: [][]byte{speech, speech, silence}}
//	out := &mock.OutputStream{}
//	dev := &mock.Device{Input: in, Output: out}
package mock

import (
	"sync"
	"time"

	"github.com/lumora/murmel/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Device       = (*Device)(nil)
	_ audio.InputStream  = (*InputStream)(nil)
	_ audio.OutputStream = (*OutputStream)(nil)
)

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// Input is returned by OpenInput. May be nil together with OpenInputErr
	// to simulate a missing microphone.
	Input *InputStream

	// Output is returned by OpenOutput.
	Output *OutputStream

	// OpenInputErr, when non-nil, is returned by OpenInput.
	OpenInputErr error

	// OpenOutputErr, when non-nil, is returned by OpenOutput.
	OpenOutputErr error

	// CallCountOpenInput records how many times OpenInput was called.
	CallCountOpenInput int

	// CallCountOpenOutput records how many times OpenOutput was called.
	CallCountOpenOutput int

	// RecordedInputConfigs holds the configs passed to OpenInput, in order.
	RecordedInputConfigs []audio.StreamConfig

	// RecordedOutputConfigs holds the configs passed to OpenOutput, in order.
	RecordedOutputConfigs []audio.StreamConfig
}

// OpenInput implements [audio.Device].
func (d *Device) OpenInput(cfg audio.StreamConfig) (audio.InputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpenInput++
	d.RecordedInputConfigs = append(d.RecordedInputConfigs, cfg)
	if d.OpenInputErr != nil {
		return nil, d.OpenInputErr
	}
	return d.Input, nil
}

// OpenOutput implements [audio.Device].
func (d *Device) OpenOutput(cfg audio.StreamConfig) (audio.OutputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpenOutput++
	d.RecordedOutputConfigs = append(d.RecordedOutputConfigs, cfg)
	if d.OpenOutputErr != nil {
		return nil, d.OpenOutputErr
	}
	return d.Output, nil
}

// InputStream is a mock implementation of [audio.InputStream] that replays a
// scripted sequence of frames. After the script is exhausted it returns
// [audio.ErrEndOfStream] unless ExhaustedErr overrides that.
type InputStream struct {
	mu sync.Mutex

	// Frames is the scripted frame data, returned one element per ReadFrame.
	Frames [][]byte

	// SampleRate stamped on returned frames. Defaults to 16000.
	SampleRate int

	// ErrAt, when non-nil, maps a zero-based read index to an error returned
	// instead of that frame. Used to simulate mid-capture device failures.
	ErrAt map[int]error

	// ExhaustedErr, when non-nil, replaces [audio.ErrEndOfStream] once the
	// script runs out.
	ExhaustedErr error

	// ReadDelay, when non-zero, is slept before each read returns, to
	// simulate real frame cadence.
	ReadDelay time.Duration

	// CallCountRead records how many times ReadFrame was called.
	CallCountRead int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	next int
}

// ReadFrame implements [audio.InputStream].
func (s *InputStream) ReadFrame(_ time.Duration) (audio.AudioFrame, error) {
	s.mu.Lock()
	idx := s.next
	s.next++
	s.CallCountRead++
	delay := s.ReadDelay
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.ErrAt[idx]; ok && err != nil {
		return audio.AudioFrame{}, err
	}
	if idx >= len(s.Frames) {
		if s.ExhaustedErr != nil {
			return audio.AudioFrame{}, s.ExhaustedErr
		}
		return audio.AudioFrame{}, audio.ErrEndOfStream
	}
	rate := s.SampleRate
	if rate == 0 {
		rate = 16000
	}
	frame := audio.AudioFrame{
		Data:       s.Frames[idx],
		SampleRate: rate,
		Channels:   1,
	}
	frame.Timestamp = time.Duration(idx) * frame.Duration()
	return frame, nil
}

// Close implements [audio.InputStream].
func (s *InputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}

// OutputStream is a mock implementation of [audio.OutputStream] that records
// every written block.
type OutputStream struct {
	mu sync.Mutex

	// WriteErr, when non-nil, is returned by every Write call.
	WriteErr error

	// WriteErrAt, when non-nil, maps a zero-based write index to an error
	// returned for that write only.
	WriteErrAt map[int]error

	// WriteDelay, when non-zero, is slept inside each Write to simulate a
	// device that blocks while the block plays out.
	WriteDelay time.Duration

	// Writes holds a copy of every block passed to Write, in order.
	Writes [][]byte

	// WriteTimes holds the time each Write call started, in order.
	WriteTimes []time.Time

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Write implements [audio.OutputStream].
func (s *OutputStream) Write(block []byte) error {
	s.mu.Lock()
	idx := len(s.Writes)
	cp := make([]byte, len(block))
	copy(cp, block)
	s.Writes = append(s.Writes, cp)
	s.WriteTimes = append(s.WriteTimes, time.Now())
	err := s.WriteErr
	if e, ok := s.WriteErrAt[idx]; ok {
		err = e
	}
	delay := s.WriteDelay
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return err
}

// Close implements [audio.OutputStream].
func (s *OutputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}

// BytesWritten returns the total number of bytes written so far.
func (s *OutputStream) BytesWritten() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, w := range s.Writes {
		n += len(w)
	}
	return n
}

// WriteCount returns the number of Write calls so far.
func (s *OutputStream) WriteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Writes)
}
