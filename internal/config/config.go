// Package config provides the configuration schema and loader for the
// Murmel device daemon.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration wraps time.Duration so YAML values like "800ms" or "20m" decode
// directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for Murmel. It is typically
// loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	VAD       VADConfig       `yaml:"vad"`
	Providers ProvidersConfig `yaml:"providers"`
	Turn      TurnConfig      `yaml:"turn"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Network   NetworkConfig   `yaml:"network"`
	Backend   BackendConfig   `yaml:"backend"`
	Journal   JournalConfig   `yaml:"journal"`
}

// ServerConfig holds the admin HTTP endpoint (health + metrics) and logging
// settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the admin server listens on. Empty
	// disables the admin server entirely.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig describes the device PCM formats.
type AudioConfig struct {
	// CaptureSampleRate is the microphone sample rate in Hz.
	CaptureSampleRate int `yaml:"capture_sample_rate"`

	// PlaybackSampleRate is the speaker sample rate in Hz, matching the
	// synthesis output format.
	PlaybackSampleRate int `yaml:"playback_sample_rate"`

	// FrameMs is the capture frame duration in milliseconds.
	FrameMs int `yaml:"frame_ms"`

	// WarmupFrames is the number of leading frames discarded after the
	// input stream opens, before VAD classification begins.
	WarmupFrames int `yaml:"warmup_frames"`

	// WriteBlockBytes is the playback device write granularity in bytes.
	WriteBlockBytes int `yaml:"write_block_bytes"`
}

// VADConfig selects and tunes the voice activity detector.
type VADConfig struct {
	// Engine selects the detector: "silero" or "energy".
	Engine string `yaml:"engine"`

	// ModelPath is the Silero ONNX model file. Required for "silero".
	ModelPath string `yaml:"model_path"`

	// SpeechThreshold is the probability above which a frame counts as
	// speech.
	SpeechThreshold float64 `yaml:"speech_threshold"`

	// SilenceThreshold is the probability below which an active speech run
	// ends.
	SilenceThreshold float64 `yaml:"silence_threshold"`
}

// ProvidersConfig declares the external collaborator backends.
type ProvidersConfig struct {
	STT STTConfig `yaml:"stt"`
	TTS TTSConfig `yaml:"tts"`
	LLM LLMConfig `yaml:"llm"`
}

// STTConfig configures the transcription backend.
type STTConfig struct {
	// Name selects the implementation. Currently "whisper".
	Name string `yaml:"name"`

	// ModelPath is the whisper.cpp model file.
	ModelPath string `yaml:"model_path"`

	// Language is the BCP-47 recognition language hint.
	Language string `yaml:"language"`
}

// TTSConfig configures the synthesis backend.
type TTSConfig struct {
	// Name selects the implementation. Currently "elevenlabs".
	Name string `yaml:"name"`

	// APIKey authenticates against the service. Supports ${ENV} expansion.
	APIKey string `yaml:"api_key"`

	// Model is the provider-specific synthesis model ID.
	Model string `yaml:"model"`

	// VoiceID is the voice used for replies and alerts.
	VoiceID string `yaml:"voice_id"`
}

// LLMConfig configures the chat completion backend.
type LLMConfig struct {
	// Name selects the implementation: "openai" or "anyllm".
	Name string `yaml:"name"`

	// Provider is the any-llm backend name when Name is "anyllm" (e.g.,
	// "ollama", "anthropic").
	Provider string `yaml:"provider"`

	// APIKey authenticates against the service. Supports ${ENV} expansion.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model is the model ID (e.g., "gpt-4o-mini", "llama3.2").
	Model string `yaml:"model"`

	// SystemPrompt is the persona instruction for every reply.
	SystemPrompt string `yaml:"system_prompt"`
}

// TurnConfig drives the turn-taking state machine.
type TurnConfig struct {
	// MaxRecording bounds one capture.
	MaxRecording Duration `yaml:"max_recording"`

	// TrailingSilence ends a capture once this much silence has accumulated
	// after the first detected speech.
	TrailingSilence Duration `yaml:"trailing_silence"`

	// NoSpeechLimit is the consecutive empty-capture streak that triggers a
	// "speak louder" alert.
	NoSpeechLimit int `yaml:"no_speech_limit"`

	// GateListenOnPlayback, when true, keeps the microphone closed until
	// the previous reply has finished playing (half-duplex hardware).
	GateListenOnPlayback bool `yaml:"gate_listen_on_playback"`

	// PlaybackWait bounds how long the coordinator waits for playback to
	// finish before reopening the microphone anyway.
	PlaybackWait Duration `yaml:"playback_wait"`

	// ExitOnFirstSilence terminates the process when the very first capture
	// after startup yields no speech (microphone likely absent).
	ExitOnFirstSilence bool `yaml:"exit_on_first_silence"`

	// ExitKeywords end the conversation when heard. Matched fuzzily.
	ExitKeywords []string `yaml:"exit_keywords"`

	// Greeting is spoken once at startup. Empty disables the greeting.
	Greeting string `yaml:"greeting"`

	// GreetingInterval throttles the spoken startup greeting: no greeting
	// if one already played within this window. Zero plays it every boot.
	GreetingInterval Duration `yaml:"greeting_interval"`
}

// PlaybackConfig tunes the playback streamer.
type PlaybackConfig struct {
	// PrebufferMs is the jitter prebuffer: playback does not start until
	// this much audio is buffered.
	PrebufferMs int `yaml:"prebuffer_ms"`

	// Deadline is the reply-length-based playback deadline policy.
	Deadline DeadlineConfig `yaml:"deadline"`

	// ShutdownGrace bounds how long shutdown waits for an active playback
	// session to cancel.
	ShutdownGrace Duration `yaml:"shutdown_grace"`
}

// DeadlineConfig derives a playback deadline from reply text length:
// len(text)/CharsPerSecond + Overhead, clamped to [Min, Max].
type DeadlineConfig struct {
	CharsPerSecond float64  `yaml:"chars_per_second"`
	Overhead       Duration `yaml:"overhead"`
	Min            Duration `yaml:"min"`
	Max            Duration `yaml:"max"`
}

// AlertsConfig tunes the alert supervisor.
type AlertsConfig struct {
	// Tones enables the short alert tone. Spoken alerts are always on.
	Tones bool `yaml:"tones"`

	// TranscribeWarn fires a "thinking" alert when transcription runs
	// longer than this.
	TranscribeWarn Duration `yaml:"transcribe_warn"`

	// ReasonWarn fires when the chat completion runs longer than this.
	ReasonWarn Duration `yaml:"reason_warn"`

	// PlaybackStartWarn fires when playback has not started this long
	// after synthesis began.
	PlaybackStartWarn Duration `yaml:"playback_start_warn"`

	// MicOpenWarn fires when the input device takes longer than this to
	// open at startup.
	MicOpenWarn Duration `yaml:"mic_open_warn"`

	// PollGranularity is the sleep step of every watcher loop; it bounds
	// end-to-end cancellation latency.
	PollGranularity Duration `yaml:"poll_granularity"`
}

// NetworkConfig tunes the connectivity watcher.
type NetworkConfig struct {
	// ProbeAddr is the TCP address dialled to test connectivity.
	ProbeAddr string `yaml:"probe_addr"`

	// ProbeTimeout bounds one probe dial.
	ProbeTimeout Duration `yaml:"probe_timeout"`

	// PollInterval is the time between probes.
	PollInterval Duration `yaml:"poll_interval"`

	// OfflineAnnounceAfter debounces the offline announcement: the outage
	// must persist this long before it is spoken.
	OfflineAnnounceAfter Duration `yaml:"offline_announce_after"`
}

// BackendConfig configures the fleet backend REST client. An empty BaseURL
// disables all backend calls.
type BackendConfig struct {
	// BaseURL is the backend API root.
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates the device. Supports ${ENV} expansion.
	APIKey string `yaml:"api_key"`

	// DeviceMAC identifies this device to the fleet backend.
	DeviceMAC string `yaml:"device_mac"`

	// Timeout bounds every backend call.
	Timeout Duration `yaml:"timeout"`

	// ParentalPollInterval is the time between parental-controls fetches.
	ParentalPollInterval Duration `yaml:"parental_poll_interval"`

	// HeartbeatInterval is the time between metadata heartbeats.
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
}

// JournalConfig configures the optional local turn journal. An empty DSN
// disables it.
type JournalConfig struct {
	// PostgresDSN is the connection string for the journal database.
	// Supports ${ENV} expansion.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// applyDefaults fills zero values with the device firmware defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Audio.CaptureSampleRate == 0 {
		cfg.Audio.CaptureSampleRate = 16000
	}
	if cfg.Audio.PlaybackSampleRate == 0 {
		cfg.Audio.PlaybackSampleRate = 24000
	}
	if cfg.Audio.FrameMs == 0 {
		cfg.Audio.FrameMs = 30
	}
	if cfg.Audio.WarmupFrames == 0 {
		cfg.Audio.WarmupFrames = 3
	}
	if cfg.Audio.WriteBlockBytes == 0 {
		cfg.Audio.WriteBlockBytes = 4096
	}
	if cfg.VAD.Engine == "" {
		cfg.VAD.Engine = "energy"
	}
	if cfg.VAD.SpeechThreshold == 0 {
		cfg.VAD.SpeechThreshold = 0.5
	}
	if cfg.VAD.SilenceThreshold == 0 {
		cfg.VAD.SilenceThreshold = 0.35
	}
	if cfg.Turn.MaxRecording == 0 {
		cfg.Turn.MaxRecording = Duration(60 * time.Second)
	}
	if cfg.Turn.TrailingSilence == 0 {
		cfg.Turn.TrailingSilence = Duration(800 * time.Millisecond)
	}
	if cfg.Turn.NoSpeechLimit == 0 {
		cfg.Turn.NoSpeechLimit = 3
	}
	if cfg.Turn.PlaybackWait == 0 {
		cfg.Turn.PlaybackWait = Duration(10 * time.Second)
	}
	if len(cfg.Turn.ExitKeywords) == 0 {
		cfg.Turn.ExitKeywords = []string{"exit", "quit", "bye"}
	}
	if cfg.Playback.PrebufferMs == 0 {
		cfg.Playback.PrebufferMs = 80
	}
	if cfg.Playback.Deadline.CharsPerSecond == 0 {
		cfg.Playback.Deadline.CharsPerSecond = 9.0
	}
	if cfg.Playback.Deadline.Overhead == 0 {
		cfg.Playback.Deadline.Overhead = Duration(4 * time.Second)
	}
	if cfg.Playback.Deadline.Min == 0 {
		cfg.Playback.Deadline.Min = Duration(12 * time.Second)
	}
	if cfg.Playback.Deadline.Max == 0 {
		cfg.Playback.Deadline.Max = Duration(45 * time.Second)
	}
	if cfg.Playback.ShutdownGrace == 0 {
		cfg.Playback.ShutdownGrace = Duration(3 * time.Second)
	}
	if cfg.Alerts.TranscribeWarn == 0 {
		cfg.Alerts.TranscribeWarn = Duration(3 * time.Second)
	}
	if cfg.Alerts.ReasonWarn == 0 {
		cfg.Alerts.ReasonWarn = Duration(5 * time.Second)
	}
	if cfg.Alerts.PlaybackStartWarn == 0 {
		cfg.Alerts.PlaybackStartWarn = Duration(2 * time.Second)
	}
	if cfg.Alerts.MicOpenWarn == 0 {
		cfg.Alerts.MicOpenWarn = Duration(3 * time.Second)
	}
	if cfg.Alerts.PollGranularity == 0 {
		cfg.Alerts.PollGranularity = Duration(50 * time.Millisecond)
	}
	if cfg.Network.ProbeAddr == "" {
		cfg.Network.ProbeAddr = "8.8.8.8:53"
	}
	if cfg.Network.ProbeTimeout == 0 {
		cfg.Network.ProbeTimeout = Duration(2 * time.Second)
	}
	if cfg.Network.PollInterval == 0 {
		cfg.Network.PollInterval = Duration(1 * time.Second)
	}
	if cfg.Network.OfflineAnnounceAfter == 0 {
		cfg.Network.OfflineAnnounceAfter = Duration(5 * time.Second)
	}
	if cfg.Backend.Timeout == 0 {
		cfg.Backend.Timeout = Duration(10 * time.Second)
	}
	if cfg.Backend.ParentalPollInterval == 0 {
		cfg.Backend.ParentalPollInterval = Duration(60 * time.Second)
	}
	if cfg.Backend.HeartbeatInterval == 0 {
		cfg.Backend.HeartbeatInterval = Duration(20 * time.Minute)
	}
}
