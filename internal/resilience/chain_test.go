package resilience

import (
	"errors"
	"testing"
)

func TestChainUsesPrimaryFirst(t *testing.T) {
	c := NewChain("primary", "primary", ChainConfig{Breaker: BreakerConfig{Trip: 3}})
	c.Add("secondary", "secondary")

	var called string
	err := c.Try(func(v string) error {
		called = v
		return nil
	})
	if err != nil {
		t.Fatalf("Try returned error: %v", err)
	}
	if called != "primary" {
		t.Fatalf("called = %q, want primary", called)
	}
}

func TestChainFallsBackWhenPrimaryFails(t *testing.T) {
	c := NewChain("primary", "primary", ChainConfig{Breaker: BreakerConfig{Trip: 3}})
	c.Add("secondary", "secondary")

	var called string
	err := c.Try(func(v string) error {
		if v == "primary" {
			return errBackend
		}
		called = v
		return nil
	})
	if err != nil {
		t.Fatalf("Try returned error: %v", err)
	}
	if called != "secondary" {
		t.Fatalf("called = %q, want secondary", called)
	}
}

func TestChainExhaustedWrapsLastError(t *testing.T) {
	c := NewChain("primary", "primary", ChainConfig{Breaker: BreakerConfig{Trip: 3}})
	c.Add("secondary", "secondary")

	err := c.Try(func(string) error { return errBackend })
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
	if !errors.Is(err, errBackend) {
		t.Fatalf("err = %v, want wrapped backend error", err)
	}
}

func TestChainSkipsTrippedEntry(t *testing.T) {
	c := NewChain("primary", "primary", ChainConfig{Breaker: BreakerConfig{Trip: 2}})
	c.Add("secondary", "secondary")

	// Trip the primary's breaker.
	for i := 0; i < 2; i++ {
		_ = c.Try(func(v string) error {
			if v == "primary" {
				return errBackend
			}
			return nil
		})
	}

	primaryCalls := 0
	err := c.Try(func(v string) error {
		if v == "primary" {
			primaryCalls++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Try returned error: %v", err)
	}
	if primaryCalls != 0 {
		t.Errorf("primary called %d times behind an open breaker, want 0", primaryCalls)
	}
}

func TestChainTryResultReturnsValue(t *testing.T) {
	c := NewChain(2, "doubler", ChainConfig{})

	got, err := TryResult(c, func(v int) (int, error) { return v * 21, nil })
	if err != nil {
		t.Fatalf("TryResult returned error: %v", err)
	}
	if got != 42 {
		t.Errorf("result = %d, want 42", got)
	}
}

func TestChainLen(t *testing.T) {
	c := NewChain("a", "a", ChainConfig{})
	c.Add("b", "b")
	if got := c.Len(); got != 2 {
		t.Errorf("Len = %d, want 2", got)
	}
}
