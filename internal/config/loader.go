package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. Occurrences of ${VAR} in the file are replaced with the value of
// the environment variable VAR before decoding, so secrets such as API keys
// can stay out of the file itself.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := expandEnv(string(raw))

	// Decoding over a pre-populated struct lets absent keys keep their
	// default while explicit false values still override the true defaults.
	cfg := defaultConfig()
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with the boolean defaults set. Numeric and
// string defaults are handled by applyDefaults after decoding.
func defaultConfig() *Config {
	return &Config{
		Turn: TurnConfig{
			GateListenOnPlayback: true,
			ExitOnFirstSilence:   true,
			Greeting:             "Hi there! What would you like to talk about?",
		},
		Alerts: AlertsConfig{
			Tones: true,
		},
	}
}

// expandEnv substitutes ${VAR} references with environment variable values.
// Unset variables expand to the empty string. Bare $VAR is left untouched so
// YAML values containing dollar signs do not need escaping.
func expandEnv(s string) string {
	var b strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			b.WriteString(s)
			return b.String()
		}
		end := strings.Index(s[start:], "}")
		if end < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:start])
		name := s[start+2 : start+end]
		b.WriteString(os.Getenv(name))
		s = s[start+end+1:]
	}
}

// FrameDuration returns the capture frame duration.
func (a AudioConfig) FrameDuration() time.Duration {
	return time.Duration(a.FrameMs) * time.Millisecond
}

// FrameBytes returns the size of one capture frame in bytes (16-bit mono).
func (a AudioConfig) FrameBytes() int {
	return a.CaptureSampleRate * a.FrameMs / 1000 * 2
}
