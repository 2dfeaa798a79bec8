package config

import (
	"errors"
	"fmt"
)

// ValidVADEngines lists the recognised vad.engine values.
var ValidVADEngines = map[string]bool{
	"silero": true,
	"energy": true,
}

// ValidSTTNames lists the recognised providers.stt.name values.
var ValidSTTNames = map[string]bool{
	"whisper": true,
}

// ValidTTSNames lists the recognised providers.tts.name values.
var ValidTTSNames = map[string]bool{
	"elevenlabs": true,
}

// ValidLLMNames lists the recognised providers.llm.name values.
var ValidLLMNames = map[string]bool{
	"openai": true,
	"anyllm": true,
}

// Validate checks the configuration for consistency. It returns all problems
// found, joined into a single error.
func (c *Config) Validate() error {
	var errs []error

	if !c.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level: unknown level %q", c.Server.LogLevel))
	}
	if c.Audio.CaptureSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.capture_sample_rate: must be positive, got %d", c.Audio.CaptureSampleRate))
	}
	if c.Audio.PlaybackSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.playback_sample_rate: must be positive, got %d", c.Audio.PlaybackSampleRate))
	}
	if c.Audio.FrameMs <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_ms: must be positive, got %d", c.Audio.FrameMs))
	}
	if c.Audio.WarmupFrames < 0 {
		errs = append(errs, fmt.Errorf("audio.warmup_frames: must not be negative, got %d", c.Audio.WarmupFrames))
	}
	if c.Audio.WriteBlockBytes <= 0 || c.Audio.WriteBlockBytes%2 != 0 {
		errs = append(errs, fmt.Errorf("audio.write_block_bytes: must be a positive even number, got %d", c.Audio.WriteBlockBytes))
	}

	if !ValidVADEngines[c.VAD.Engine] {
		errs = append(errs, fmt.Errorf("vad.engine: unknown engine %q", c.VAD.Engine))
	}
	if c.VAD.Engine == "silero" && c.VAD.ModelPath == "" {
		errs = append(errs, errors.New("vad.model_path: required for the silero engine"))
	}
	if c.VAD.SpeechThreshold <= 0 || c.VAD.SpeechThreshold > 1 {
		errs = append(errs, fmt.Errorf("vad.speech_threshold: must be in (0, 1], got %g", c.VAD.SpeechThreshold))
	}
	if c.VAD.SilenceThreshold < 0 || c.VAD.SilenceThreshold > c.VAD.SpeechThreshold {
		errs = append(errs, fmt.Errorf("vad.silence_threshold: must be in [0, speech_threshold], got %g", c.VAD.SilenceThreshold))
	}

	if !ValidSTTNames[c.Providers.STT.Name] {
		errs = append(errs, fmt.Errorf("providers.stt.name: unknown provider %q", c.Providers.STT.Name))
	}
	if c.Providers.STT.Name == "whisper" && c.Providers.STT.ModelPath == "" {
		errs = append(errs, errors.New("providers.stt.model_path: required for whisper"))
	}
	if !ValidTTSNames[c.Providers.TTS.Name] {
		errs = append(errs, fmt.Errorf("providers.tts.name: unknown provider %q", c.Providers.TTS.Name))
	}
	if c.Providers.TTS.Name == "elevenlabs" {
		if c.Providers.TTS.APIKey == "" {
			errs = append(errs, errors.New("providers.tts.api_key: required for elevenlabs"))
		}
		if c.Providers.TTS.VoiceID == "" {
			errs = append(errs, errors.New("providers.tts.voice_id: required for elevenlabs"))
		}
	}
	if !ValidLLMNames[c.Providers.LLM.Name] {
		errs = append(errs, fmt.Errorf("providers.llm.name: unknown provider %q", c.Providers.LLM.Name))
	}
	if c.Providers.LLM.Model == "" {
		errs = append(errs, errors.New("providers.llm.model: required"))
	}
	if c.Providers.LLM.Name == "anyllm" && c.Providers.LLM.Provider == "" {
		errs = append(errs, errors.New("providers.llm.provider: required for anyllm"))
	}

	if c.Turn.MaxRecording <= 0 {
		errs = append(errs, errors.New("turn.max_recording: must be positive"))
	}
	if c.Turn.TrailingSilence <= 0 {
		errs = append(errs, errors.New("turn.trailing_silence: must be positive"))
	}
	if c.Turn.TrailingSilence > c.Turn.MaxRecording {
		errs = append(errs, errors.New("turn.trailing_silence: must not exceed turn.max_recording"))
	}
	if c.Turn.NoSpeechLimit <= 0 {
		errs = append(errs, fmt.Errorf("turn.no_speech_limit: must be positive, got %d", c.Turn.NoSpeechLimit))
	}

	if c.Playback.PrebufferMs < 0 {
		errs = append(errs, fmt.Errorf("playback.prebuffer_ms: must not be negative, got %d", c.Playback.PrebufferMs))
	}
	if c.Playback.Deadline.CharsPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("playback.deadline.chars_per_second: must be positive, got %g", c.Playback.Deadline.CharsPerSecond))
	}
	if c.Playback.Deadline.Min > c.Playback.Deadline.Max {
		errs = append(errs, errors.New("playback.deadline.min: must not exceed playback.deadline.max"))
	}

	if c.Alerts.PollGranularity <= 0 {
		errs = append(errs, errors.New("alerts.poll_granularity: must be positive"))
	}

	if c.Network.ProbeAddr == "" {
		errs = append(errs, errors.New("network.probe_addr: must not be empty"))
	}

	if c.Backend.BaseURL != "" && c.Backend.DeviceMAC == "" {
		errs = append(errs, errors.New("backend.device_mac: required when backend.base_url is set"))
	}

	return errors.Join(errs...)
}
