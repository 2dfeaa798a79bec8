// Package journal records finished turns in a local database. The journal
// is optional: without a configured DSN a no-op implementation is used and
// the loop behaves identically.
package journal

import (
	"context"
	"time"
)

// Entry is one recorded turn.
type Entry struct {
	// TurnID is the backend correlation ID, or a locally generated one when
	// the backend is unavailable.
	TurnID string

	// StartedAt and FinishedAt bound the turn.
	StartedAt  time.Time
	FinishedAt time.Time

	// Transcript is what the child said; Reply what the device answered.
	Transcript string
	Reply      string

	// Outcome is the turn outcome label ("ok", "no_speech", "stt_empty",
	// "stt_error", "exit").
	Outcome string

	// Sentiment and Interest come from the analytics extraction; empty when
	// extraction was skipped or failed.
	Sentiment          string
	SentimentIntensity int
	Interest           string
	InterestIntensity  int
}

// Store persists turn entries.
type Store interface {
	// Record appends one entry. Best-effort from the loop's perspective.
	Record(ctx context.Context, e Entry) error

	// Close releases underlying resources.
	Close()
}

// Open returns the store for the configured DSN: a [PostgresStore] when dsn
// is set, [Noop] otherwise.
func Open(ctx context.Context, dsn string) (Store, error) {
	if dsn == "" {
		return Noop{}, nil
	}
	return NewPostgresStore(ctx, dsn)
}

// Noop discards every entry.
type Noop struct{}

var _ Store = Noop{}

// Record implements [Store].
func (Noop) Record(context.Context, Entry) error { return nil }

// Close implements [Store].
func (Noop) Close() {}
