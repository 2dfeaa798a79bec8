package resilience

import (
	"context"
	"log/slog"

	"github.com/lumora/murmel/pkg/provider/llm"
)

// ReliableLLM implements [llm.Provider] across one or more chat backends
// with per-backend circuit breaking. Complete never fails: when every
// backend is down the configured fallback text is returned as the reply,
// so the device always has something to say.
type ReliableLLM struct {
	chain    *Chain[llm.Provider]
	fallback string
	log      *slog.Logger
}

// Compile-time interface assertion.
var _ llm.Provider = (*ReliableLLM)(nil)

// NewReliableLLM wraps primary. fallbackText is spoken verbatim when no
// backend can produce a reply.
func NewReliableLLM(primary llm.Provider, name, fallbackText string, cfg ChainConfig, log *slog.Logger) *ReliableLLM {
	if log == nil {
		log = slog.Default()
	}
	return &ReliableLLM{
		chain:    NewChain(primary, name, cfg, WithChainLogger[llm.Provider](log)),
		fallback: fallbackText,
		log:      log,
	}
}

// Add registers an additional chat backend, tried after the primary.
func (r *ReliableLLM) Add(name string, provider llm.Provider) {
	r.chain.Add(name, provider)
}

// Complete returns the first healthy backend's reply. When the whole chain
// is exhausted it returns the fallback text instead of an error.
func (r *ReliableLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := TryResult(r.chain, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.log.Warn("all chat backends failed, using fallback text", "error", err)
		return &llm.CompletionResponse{Content: r.fallback}, nil
	}
	return resp, nil
}

// StreamCompletion starts a stream on the first healthy backend. Only the
// initial connection participates in failover; mid-stream errors surface
// through the chunk channel as usual.
func (r *ReliableLLM) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return TryResult(r.chain, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}
