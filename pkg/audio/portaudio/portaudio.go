// Package portaudio implements [audio.Device] on top of the PortAudio
// library via the gordonklaus/portaudio bindings. It is the only package in
// the repository that touches physical audio hardware.
//
// PortAudio requires a process-wide Initialize/Terminate pair; this package
// performs initialisation lazily on first open and exposes [Terminate] for
// main to defer.
package portaudio

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/lumora/murmel/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Device       = (*Device)(nil)
	_ audio.InputStream  = (*inputStream)(nil)
	_ audio.OutputStream = (*outputStream)(nil)
)

var (
	initOnce sync.Once
	initErr  error
)

func ensureInit() error {
	initOnce.Do(func() {
		initErr = portaudio.Initialize()
	})
	return initErr
}

// Terminate shuts down the PortAudio runtime. Call once from main after all
// streams are closed.
func Terminate() error {
	return portaudio.Terminate()
}

// Device opens default PortAudio input and output streams.
type Device struct{}

// New returns a Device using the host's default input and output devices.
func New() *Device { return &Device{} }

// OpenInput implements [audio.Device]. It opens the default capture device in
// blocking mode with a buffer of exactly one frame, so each ReadFrame call
// maps to one device read.
func (d *Device) OpenInput(cfg audio.StreamConfig) (audio.InputStream, error) {
	if err := ensureInit(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	if cfg.FrameSamples <= 0 {
		return nil, fmt.Errorf("portaudio: FrameSamples must be positive, got %d", cfg.FrameSamples)
	}
	buf := make([]int16, cfg.FrameSamples*cfg.Channels)
	stream, err := portaudio.OpenDefaultStream(cfg.Channels, 0, float64(cfg.SampleRate), cfg.FrameSamples, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open input: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("portaudio: start input: %w", err)
	}
	return &inputStream{
		stream: stream,
		buf:    buf,
		cfg:    cfg,
		opened: time.Now(),
	}, nil
}

// OpenOutput implements [audio.Device].
func (d *Device) OpenOutput(cfg audio.StreamConfig) (audio.OutputStream, error) {
	if err := ensureInit(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	if cfg.BlockSamples <= 0 {
		return nil, fmt.Errorf("portaudio: BlockSamples must be positive, got %d", cfg.BlockSamples)
	}
	buf := make([]int16, cfg.BlockSamples*cfg.Channels)
	stream, err := portaudio.OpenDefaultStream(0, cfg.Channels, float64(cfg.SampleRate), cfg.BlockSamples, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open output: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("portaudio: start output: %w", err)
	}
	return &outputStream{stream: stream, buf: buf, cfg: cfg}, nil
}

// ---- inputStream ----

type inputStream struct {
	stream *portaudio.Stream
	buf    []int16
	cfg    audio.StreamConfig
	opened time.Time

	mu     sync.Mutex
	closed bool
}

// ReadFrame implements [audio.InputStream]. PortAudio blocking reads have no
// native timeout; the device paces reads at the frame cadence, so the timeout
// only matters when the stream has been closed underneath us.
func (s *inputStream) ReadFrame(_ time.Duration) (audio.AudioFrame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return audio.AudioFrame{}, audio.ErrEndOfStream
	}
	s.mu.Unlock()

	if err := s.stream.Read(); err != nil {
		return audio.AudioFrame{}, fmt.Errorf("portaudio: read frame: %w", err)
	}
	data := make([]byte, len(s.buf)*2)
	for i, sample := range s.buf {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(sample))
	}
	return audio.AudioFrame{
		Data:       data,
		SampleRate: s.cfg.SampleRate,
		Channels:   s.cfg.Channels,
		Timestamp:  time.Since(s.opened),
	}, nil
}

// Close implements [audio.InputStream].
func (s *inputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.stream.Stop()
	return s.stream.Close()
}

// ---- outputStream ----

type outputStream struct {
	stream *portaudio.Stream
	buf    []int16
	cfg    audio.StreamConfig

	mu     sync.Mutex
	closed bool
}

// Write implements [audio.OutputStream]. Blocks written short of the device
// block size are zero-padded, which PortAudio requires for a fixed-size
// blocking stream.
func (s *outputStream) Write(block []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("portaudio: write on closed output stream")
	}
	for i := range s.buf {
		s.buf[i] = 0
	}
	n := len(block) / 2
	if n > len(s.buf) {
		n = len(s.buf)
	}
	for i := 0; i < n; i++ {
		s.buf[i] = int16(binary.LittleEndian.Uint16(block[i*2:]))
	}
	if err := s.stream.Write(); err != nil {
		return fmt.Errorf("portaudio: write block: %w", err)
	}
	return nil
}

// Close implements [audio.OutputStream].
func (s *outputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.stream.Stop()
	return s.stream.Close()
}
