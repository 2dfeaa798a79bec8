package backend

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// SilencedAt reports whether the controls silence the device at the given
// time, and why ("do_not_disturb", "quiet_time" or "usage_limit").
func (p *ParentalControls) SilencedAt(now time.Time) (bool, string) {
	if p == nil {
		return false, ""
	}
	if p.DoNotDisturb {
		return true, "do_not_disturb"
	}
	for _, w := range p.QuietWindows {
		if w.contains(now) {
			return true, "quiet_time"
		}
	}
	if p.DailyLimitMinutes > 0 && p.UsedMinutes >= p.DailyLimitMinutes {
		return true, "usage_limit"
	}
	return false, ""
}

// contains reports whether now falls inside the window. Windows may wrap
// past midnight ("21:00" to "07:30").
func (w QuietWindow) contains(now time.Time) bool {
	start, err1 := parseClock(w.Start)
	end, err2 := parseClock(w.End)
	if err1 != nil || err2 != nil {
		return false
	}
	minute := now.Hour()*60 + now.Minute()
	if start <= end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s string) (int, error) {
	h, m, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("backend: clock value %q is not HH:MM", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("backend: clock value %q has a bad hour", s)
	}
	min, err := strconv.Atoi(m)
	if err != nil || min < 0 || min > 59 {
		return 0, fmt.Errorf("backend: clock value %q has a bad minute", s)
	}
	return hour*60 + min, nil
}

// Gate polls parental controls and answers "may the device talk right now".
// A Gate with a nil client never silences, so a device without a backend
// behaves normally.
type Gate struct {
	client   *Client
	interval time.Duration
	log      *slog.Logger

	controls atomic.Pointer[ParentalControls]
}

// NewGate creates a gate. client may be nil.
func NewGate(client *Client, interval time.Duration, log *slog.Logger) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{client: client, interval: interval, log: log}
}

// Silenced reports whether the device must stay quiet right now, and why.
func (g *Gate) Silenced(now time.Time) (bool, string) {
	return g.controls.Load().SilencedAt(now)
}

// Run polls parental controls until ctx is cancelled. A failed fetch keeps
// the last known controls in effect.
func (g *Gate) Run(ctx context.Context) error {
	if g.client == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	g.refresh(ctx)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			g.refresh(ctx)
		}
	}
}

func (g *Gate) refresh(ctx context.Context) {
	controls, err := g.client.FetchParentalControls(ctx)
	if err != nil {
		g.log.Warn("parental controls fetch failed", "error", err)
		return
	}
	g.controls.Store(controls)
}
