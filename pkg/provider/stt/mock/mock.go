// Package mock provides a test double for the stt.Provider interface.
//
// Script multiple results by setting Results; a single-result shortcut is
// the Result field. Inspect RecordedPCM to assert on the audio submitted.
package mock

import (
	"context"
	"sync"

	"github.com/lumora/murmel/pkg/provider/stt"
)

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

// Provider is a mock implementation of [stt.Provider].
type Provider struct {
	mu sync.Mutex

	// Result is returned by every Transcribe call when Results is empty.
	Result stt.Transcript

	// Results, when non-empty, is consumed one element per Transcribe call;
	// after exhaustion the last element repeats.
	Results []stt.Transcript

	// Err, if non-nil, is returned by every Transcribe call.
	Err error

	// ErrAt, when non-nil, maps a zero-based call index to an error returned
	// for that call only.
	ErrAt map[int]error

	// RecordedPCM holds a copy of the audio from every call, in order.
	RecordedPCM [][]byte

	// RecordedConfigs holds the config from every call, in order.
	RecordedConfigs []stt.TranscribeConfig
}

// Transcribe implements [stt.Provider].
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, cfg stt.TranscribeConfig) (stt.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := len(p.RecordedPCM)
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	p.RecordedPCM = append(p.RecordedPCM, cp)
	p.RecordedConfigs = append(p.RecordedConfigs, cfg)

	if err, ok := p.ErrAt[idx]; ok && err != nil {
		return stt.Transcript{}, err
	}
	if p.Err != nil {
		return stt.Transcript{}, p.Err
	}
	if len(p.Results) > 0 {
		if idx >= len(p.Results) {
			idx = len(p.Results) - 1
		}
		return p.Results[idx], nil
	}
	return p.Result, nil
}

// CallCount returns the number of Transcribe calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.RecordedPCM)
}
