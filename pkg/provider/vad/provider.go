// Package vad defines the Engine interface for voice activity detection
// backends.
//
// A VAD engine wraps a frame-level speech detector (e.g., Silero VAD or a
// plain energy heuristic) and surfaces it as a stateful, per-stream session.
// Each session maintains its own internal state (smoothing history, hangover
// counters) so that sessions are independent of one another.
//
// VAD is synchronous by design: ProcessFrame returns immediately with a
// classification, making it suitable for the capture loop that gates
// recording. Sensitivity is fixed at session creation via [Config]; it is a
// configuration input, not a runtime branch.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle must not be shared across goroutines unless the
// implementation documents otherwise.
package vad

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// PCM frames passed to ProcessFrame.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds. The
	// detectors operate on fixed frame sizes; ProcessFrame returns an error
	// if the supplied frame does not match.
	FrameSizeMs int

	// SpeechThreshold is the probability above which a frame is classified
	// as speech. Range [0.0, 1.0]. Higher values reduce false triggers from
	// room noise at the cost of clipping quiet speech onsets. Typical: 0.5.
	SpeechThreshold float64

	// SilenceThreshold is the probability below which an active speech run
	// is considered ended. Must be ≤ SpeechThreshold. Typical: 0.35.
	SilenceThreshold float64
}

// SessionHandle represents an active VAD session for a single audio stream.
// Reset clears detection state without closing the session.
type SessionHandle interface {
	// ProcessFrame analyses a single frame of raw little-endian 16-bit PCM
	// at the configured SampleRate and FrameSizeMs and returns the
	// classification. It must not block; it is called from the capture loop
	// between device reads.
	ProcessFrame(frame []byte) (Event, error)

	// Reset clears accumulated detection state without closing the session.
	// Call between captures so one utterance's tail does not bleed into the
	// next capture's classification.
	Reset()

	// Close releases all resources associated with the session. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions, implemented by each backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration,
	// immediately ready to accept frames. Returns an error if the
	// configuration is invalid or resources cannot be allocated.
	NewSession(cfg Config) (SessionHandle, error)
}
