// Package audio defines the interfaces and types for audio device access and
// stream management within Murmel.
//
// The two primary abstractions are:
//
//   - [Device] — opens exclusive input (microphone) and output (speaker)
//     streams on the physical audio hardware.
//   - [InputStream] / [OutputStream] — blocking frame reads and block writes
//     against those streams.
//
// Implementations are provided by hardware-specific adapter packages (e.g.,
// audio/portaudio). The interfaces are intentionally narrow so the capture
// and playback layers stay decoupled from driver details.
//
// This package lives under pkg/ because external code (alternative hardware
// adapters) is expected to implement [Device].
package audio

import (
	"errors"
	"time"
)

// ErrEndOfStream is returned by [InputStream.ReadFrame] when the device has
// terminated the stream and no further frames will arrive.
var ErrEndOfStream = errors.New("audio: end of stream")

// StreamConfig describes the PCM format of an input or output stream.
type StreamConfig struct {
	// SampleRate in Hz.
	SampleRate int

	// Channels per sample. Device hardware is mono, so this is 1 in practice.
	Channels int

	// FrameSamples is the fixed number of samples delivered per ReadFrame
	// call on an input stream. Ignored for output streams.
	FrameSamples int

	// BlockSamples is the device write granularity for an output stream.
	// Ignored for input streams.
	BlockSamples int
}

// FrameBytes returns the byte length of one input frame.
func (c StreamConfig) FrameBytes() int { return c.FrameSamples * c.Channels * 2 }

// BlockBytes returns the byte length of one output write block.
func (c StreamConfig) BlockBytes() int { return c.BlockSamples * c.Channels * 2 }

// InputStream is an exclusive handle on the capture side of the device.
//
// Implementations must be safe for use from a single reader goroutine; they
// are not required to support concurrent ReadFrame calls.
type InputStream interface {
	// ReadFrame blocks until one fixed-size frame is available or timeout
	// elapses. A timeout is reported as an error distinct from
	// [ErrEndOfStream]; [ErrEndOfStream] means the stream is finished and
	// ReadFrame will never succeed again.
	ReadFrame(timeout time.Duration) (AudioFrame, error)

	// Close releases the device handle. Safe to call more than once.
	Close() error
}

// OutputStream is an exclusive handle on the playback side of the device.
type OutputStream interface {
	// Write plays one block of 16-bit little-endian PCM. It blocks until the
	// device has consumed the block. Short blocks (the tail of a stream) are
	// permitted.
	Write(block []byte) error

	// Close drains buffered audio and releases the device handle. Safe to
	// call more than once.
	Close() error
}

// Device is the entry point for an audio hardware backend.
//
// Opening a stream acquires an exclusive handle on that direction of the
// device; callers own serialising capture against playback (half-duplex) —
// the Device does not arbitrate between them.
type Device interface {
	// OpenInput opens the microphone. Failure to open is returned to the
	// caller and is not retried internally.
	OpenInput(cfg StreamConfig) (InputStream, error)

	// OpenOutput opens the speaker at the given format.
	OpenOutput(cfg StreamConfig) (OutputStream, error)
}
