package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrExhausted is returned when every entry of a [Chain] failed or was
// rejected by its breaker.
var ErrExhausted = errors.New("resilience: all backends failed")

// ChainConfig configures the per-entry breaker of a [Chain].
type ChainConfig struct {
	Breaker BreakerConfig
}

type chainEntry[T any] struct {
	name    string
	backend T
	breaker *Breaker
}

// Chain tries a primary backend and then its fallbacks in registration
// order. Each entry sits behind its own [Breaker], so a backend that has
// tripped is skipped without waiting on it.
type Chain[T any] struct {
	entries []chainEntry[T]
	cfg     ChainConfig
	log     *slog.Logger
}

// ChainOption configures a [Chain].
type ChainOption[T any] func(*Chain[T])

// WithChainLogger sets the logger. Defaults to slog.Default().
func WithChainLogger[T any](l *slog.Logger) ChainOption[T] {
	return func(c *Chain[T]) { c.log = l }
}

// NewChain creates a chain with primary as its first entry.
func NewChain[T any](primary T, name string, cfg ChainConfig, opts ...ChainOption[T]) *Chain[T] {
	c := &Chain[T]{cfg: cfg, log: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	c.Add(name, primary)
	return c
}

// Add appends a fallback backend. Fallbacks are tried after the primary,
// in the order added.
func (c *Chain[T]) Add(name string, backend T) {
	bcfg := c.cfg.Breaker
	bcfg.Name = name
	c.entries = append(c.entries, chainEntry[T]{
		name:    name,
		backend: backend,
		breaker: NewBreaker(bcfg, WithBreakerLogger(c.log)),
	})
}

// Len reports the number of registered backends.
func (c *Chain[T]) Len() int { return len(c.entries) }

// Try runs fn against each healthy entry until one succeeds. When every
// entry fails, the last error is wrapped in [ErrExhausted].
func (c *Chain[T]) Try(fn func(T) error) error {
	_, err := TryResult(c, func(backend T) (struct{}, error) {
		return struct{}{}, fn(backend)
	})
	return err
}

// TryResult runs fn against each healthy entry of c until one succeeds and
// returns its result. A package-level function because methods cannot carry
// their own type parameters.
func TryResult[T, R any](c *Chain[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range c.entries {
		entry := &c.entries[i]
		var result R
		err := entry.breaker.Do(func() error {
			var callErr error
			result, callErr = fn(entry.backend)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrOpen) {
			c.log.Debug("backend skipped, breaker open", "backend", entry.name)
		} else {
			c.log.Warn("backend failed, trying next", "backend", entry.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrExhausted, lastErr)
}
