// Package tts defines the Provider interface for text-to-speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs) and
// presents a uniform streaming interface: one reply text in, a lazy sequence
// of raw PCM chunks out. Chunks are emitted as they are synthesised so
// playback can begin before the full reply has been rendered.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// VoiceProfile describes a synthesis voice configuration.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// SampleRate is the PCM sample rate of the synthesised audio in Hz.
	SampleRate int

	// Metadata holds provider-specific voice attributes (gender, age,
	// accent, etc.).
	Metadata map[string]string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream starts synthesis of text and returns a channel that
	// emits raw 16-bit little-endian PCM chunks as they become available.
	//
	// The returned channel is a single-pass, finite, non-restartable
	// sequence: it is closed by the implementation when synthesis completes,
	// when a remote error ends the stream early, or when ctx is cancelled.
	// The caller must drain it (see audio.Drain) to release the provider's
	// internal goroutines.
	//
	// Returns a non-nil error only if the stream cannot be started. Errors
	// during synthesis are signalled by closing the channel early; callers
	// should check ctx.Err() to distinguish cancellation from provider
	// failure.
	SynthesizeStream(ctx context.Context, text string, voice VoiceProfile) (<-chan []byte, error)

	// ListVoices returns all voice profiles available from this provider.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
