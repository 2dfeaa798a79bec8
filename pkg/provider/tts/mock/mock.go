// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio chunks to consumers and to verify
// the text and VoiceProfile passed to the backend.
//
//	p := &mock.Provider{Chunks: [][]byte{chunk1, chunk2}}
//	ch, _ := p.SynthesizeStream(ctx, "hello", voice)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/lumora/murmel/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// SynthesizeCall records a single invocation of SynthesizeStream.
type SynthesizeCall struct {
	// Text is the reply text passed to SynthesizeStream.
	Text string

	// Voice is the VoiceProfile passed to SynthesizeStream.
	Voice tts.VoiceProfile
}

// Provider is a mock implementation of [tts.Provider].
type Provider struct {
	mu sync.Mutex

	// Chunks is the sequence of audio byte slices emitted on the channel
	// returned by SynthesizeStream.
	Chunks [][]byte

	// ChunkDelay, when non-zero, is slept before each chunk is emitted, to
	// simulate network jitter.
	ChunkDelay time.Duration

	// NeverFinish, when true, leaves the chunk channel open after Chunks is
	// exhausted until ctx is cancelled — a synthesis stream that never sends
	// a terminal chunk.
	NeverFinish bool

	// SynthesizeErr, if non-nil, is returned from SynthesizeStream instead
	// of starting a stream.
	SynthesizeErr error

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.VoiceProfile

	// ListVoicesErr, if non-nil, is returned by ListVoices.
	ListVoicesErr error

	// SynthesizeCalls records every SynthesizeStream call in order.
	SynthesizeCalls []SynthesizeCall
}

// SynthesizeStream implements [tts.Provider].
func (p *Provider) SynthesizeStream(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, Voice: voice})
	chunks := p.Chunks
	delay := p.ChunkDelay
	hang := p.NeverFinish
	err := p.SynthesizeErr
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	ch := make(chan []byte)
	go func() {
		defer close(ch)
		for _, chunk := range chunks {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if hang {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

// ListVoices implements [tts.Provider].
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ListVoicesErr != nil {
		return nil, p.ListVoicesErr
	}
	return p.ListVoicesResult, nil
}

// CallCount returns the number of SynthesizeStream calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeCalls)
}

// LastCall returns the most recent SynthesizeStream call, or a zero value if
// none was made.
func (p *Provider) LastCall() SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.SynthesizeCalls) == 0 {
		return SynthesizeCall{}
	}
	return p.SynthesizeCalls[len(p.SynthesizeCalls)-1]
}
