package resilience

import (
	"errors"
	"testing"
	"time"
)

var errBackend = errors.New("backend unavailable")

func TestNewBreakerDefaults(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "t"})
	if b.cfg.Trip != 5 {
		t.Errorf("trip = %d, want 5", b.cfg.Trip)
	}
	if b.cfg.Cooldown != 30*time.Second {
		t.Errorf("cooldown = %v, want 30s", b.cfg.Cooldown)
	}
	if b.cfg.Probes != 3 {
		t.Errorf("probes = %d, want 3", b.cfg.Probes)
	}
	if b.State() != Closed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
}

func TestBreakerClosedForwardsCalls(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "t", Trip: 3})
	called := false
	if err := b.Do(func() error { called = true; return nil }); err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if !called {
		t.Fatal("fn was not called")
	}
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "t", Trip: 3, Cooldown: time.Hour})
	for i := 0; i < 3; i++ {
		_ = b.Do(func() error { return errBackend })
	}
	if b.State() != Open {
		t.Fatalf("state = %v, want open after 3 failures", b.State())
	}
	err := b.Do(func() error {
		t.Fatal("fn called while open")
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen", err)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "t", Trip: 3})
	_ = b.Do(func() error { return errBackend })
	_ = b.Do(func() error { return errBackend })
	_ = b.Do(func() error { return nil })
	_ = b.Do(func() error { return errBackend })
	_ = b.Do(func() error { return errBackend })
	if b.State() != Closed {
		t.Fatalf("state = %v, want closed (success resets the streak)", b.State())
	}
}

func TestBreakerOpenReportsHalfOpenAfterCooldown(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "t", Trip: 2, Cooldown: 10 * time.Millisecond})
	_ = b.Do(func() error { return errBackend })
	_ = b.Do(func() error { return errBackend })
	if b.State() != Open {
		t.Fatal("expected open")
	}
	time.Sleep(15 * time.Millisecond)
	if b.State() != HalfOpen {
		t.Fatalf("state = %v, want half-open after cooldown", b.State())
	}
}

func TestBreakerClosesAfterSuccessfulProbes(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "t", Trip: 2, Cooldown: 10 * time.Millisecond, Probes: 2})
	_ = b.Do(func() error { return errBackend })
	_ = b.Do(func() error { return errBackend })
	time.Sleep(15 * time.Millisecond)

	for i := 0; i < 2; i++ {
		if err := b.Do(func() error { return nil }); err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
	}
	if b.State() != Closed {
		t.Fatalf("state = %v, want closed after successful probes", b.State())
	}
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "t", Trip: 2, Cooldown: 10 * time.Millisecond, Probes: 3})
	_ = b.Do(func() error { return errBackend })
	_ = b.Do(func() error { return errBackend })
	time.Sleep(15 * time.Millisecond)

	if err := b.Do(func() error { return errBackend }); !errors.Is(err, errBackend) {
		t.Fatalf("probe err = %v, want errBackend", err)
	}
	if b.State() != Open {
		t.Fatalf("state = %v, want open after failed probe", b.State())
	}
}

func TestBreakerReset(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "t", Trip: 2, Cooldown: time.Hour})
	_ = b.Do(func() error { return errBackend })
	_ = b.Do(func() error { return errBackend })
	if b.State() != Open {
		t.Fatal("expected open")
	}
	b.Reset()
	if b.State() != Closed {
		t.Fatalf("state = %v, want closed after reset", b.State())
	}
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("Do after reset: %v", err)
	}
}

func TestBreakerStateString(t *testing.T) {
	tests := []struct {
		state BreakerState
		want  string
	}{
		{Closed, "closed"},
		{Open, "open"},
		{HalfOpen, "half-open"},
		{BreakerState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("BreakerState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
