package audio

import "time"

// AudioFrame represents a single fixed-duration block of audio flowing through
// the pipeline. Frames are the atomic unit of audio transport — captured from
// the input stream, classified by VAD, and assembled into utterances.
type AudioFrame struct {
	// PCM audio data, 16-bit little-endian signed samples.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for capture, 24000 for synthesis output).
	SampleRate int

	// Channels: 1 for mono capture, which is all the device hardware supports.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the wall-clock length of the frame's audio.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / (2 * f.Channels)
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// BytesPerSecond returns the PCM byte rate for 16-bit audio at the given
// sample rate and channel count.
func BytesPerSecond(sampleRate, channels int) int {
	return sampleRate * channels * 2
}

// BytesForDuration converts a duration to a PCM byte count for 16-bit audio,
// rounding down to a whole number of samples.
func BytesForDuration(d time.Duration, sampleRate, channels int) int {
	b := int(d * time.Duration(BytesPerSecond(sampleRate, channels)) / time.Second)
	return b - b%(2*channels)
}
