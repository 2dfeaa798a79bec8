// Package mock provides a test double for the llm.Provider interface.
//
// Configure CompleteResult / StreamChunks before use; inspect the recorded
// requests after.
package mock

import (
	"context"
	"sync"

	"github.com/lumora/murmel/pkg/provider/llm"
)

// Compile-time interface assertion.
var _ llm.Provider = (*Provider)(nil)

// Provider is a mock implementation of [llm.Provider].
type Provider struct {
	mu sync.Mutex

	// CompleteResult is returned by Complete when CompleteResults is empty.
	CompleteResult *llm.CompletionResponse

	// CompleteResults, when non-empty, is consumed one element per Complete
	// call; after exhaustion the last element repeats.
	CompleteResults []*llm.CompletionResponse

	// CompleteErr, if non-nil, is returned by every Complete call.
	CompleteErr error

	// StreamChunks is the sequence emitted by StreamCompletion.
	StreamChunks []llm.Chunk

	// StreamErr, if non-nil, is returned from StreamCompletion instead of
	// starting a stream.
	StreamErr error

	// CompleteRequests records every Complete request in order.
	CompleteRequests []llm.CompletionRequest

	// StreamRequests records every StreamCompletion request in order.
	StreamRequests []llm.CompletionRequest
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := len(p.CompleteRequests)
	p.CompleteRequests = append(p.CompleteRequests, req)
	if p.CompleteErr != nil {
		return nil, p.CompleteErr
	}
	if len(p.CompleteResults) > 0 {
		if idx >= len(p.CompleteResults) {
			idx = len(p.CompleteResults) - 1
		}
		return p.CompleteResults[idx], nil
	}
	if p.CompleteResult != nil {
		return p.CompleteResult, nil
	}
	return &llm.CompletionResponse{}, nil
}

// StreamCompletion implements [llm.Provider].
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamRequests = append(p.StreamRequests, req)
	chunks := p.StreamChunks
	err := p.StreamErr
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// CompleteCallCount returns the number of Complete calls so far.
func (p *Provider) CompleteCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompleteRequests)
}
