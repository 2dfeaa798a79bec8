// Package stt defines the Provider interface for speech-to-text backends.
//
// An STT provider wraps a transcription engine (e.g., a local whisper.cpp
// model) behind a single batch call: one captured utterance in, one
// transcript out. The conversational loop records a complete utterance
// before transcribing, so there is no streaming session to manage — each
// Transcribe call is independent and meaningfully made at most once per
// utterance.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// TranscribeConfig describes the audio format and recognition hints for one
// transcription call.
type TranscribeConfig struct {
	// SampleRate is the audio sample rate in Hz. Typical: 16000.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono. Implementations
	// may downmix multi-channel input internally.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en",
	// "de"). An empty string lets the provider auto-detect, if supported.
	Language string
}

// Transcript represents a speech-to-text result.
type Transcript struct {
	// Text is the transcribed speech content. May be empty when the audio
	// contained no recognisable speech.
	Text string

	// Confidence is the overall confidence score (0.0–1.0). Zero if the
	// provider does not report confidence.
	Confidence float64
}

// Provider is the interface implemented by each STT backend.
type Provider interface {
	// Transcribe converts one utterance of raw 16-bit little-endian PCM to
	// text. The context bounds the call; cancellation aborts in-flight work
	// and returns ctx.Err().
	Transcribe(ctx context.Context, pcm []byte, cfg TranscribeConfig) (Transcript, error)
}
