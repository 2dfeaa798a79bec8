package journal

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is ensured at startup so a fresh device needs no manual setup.
const schema = `
CREATE TABLE IF NOT EXISTS turns (
    id                  TEXT PRIMARY KEY,
    started_at          TIMESTAMPTZ NOT NULL,
    finished_at         TIMESTAMPTZ NOT NULL,
    transcript          TEXT NOT NULL,
    reply               TEXT NOT NULL,
    outcome             TEXT NOT NULL,
    sentiment           TEXT NOT NULL DEFAULT '',
    sentiment_intensity INT  NOT NULL DEFAULT 0,
    interest            TEXT NOT NULL DEFAULT '',
    interest_intensity  INT  NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS turns_started_at_idx ON turns (started_at);`

// PostgresStore is a pgx-backed [Store]. Safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to the database at dsn and ensures the schema
// exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("journal: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal: ensure schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Record implements [Store].
func (s *PostgresStore) Record(ctx context.Context, e Entry) error {
	if e.TurnID == "" {
		e.TurnID = uuid.NewString()
	}
	const q = `
		INSERT INTO turns
		    (id, started_at, finished_at, transcript, reply, outcome,
		     sentiment, sentiment_intensity, interest, interest_intensity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
		    finished_at         = EXCLUDED.finished_at,
		    reply               = EXCLUDED.reply,
		    outcome             = EXCLUDED.outcome,
		    sentiment           = EXCLUDED.sentiment,
		    sentiment_intensity = EXCLUDED.sentiment_intensity,
		    interest            = EXCLUDED.interest,
		    interest_intensity  = EXCLUDED.interest_intensity`

	_, err := s.pool.Exec(ctx, q,
		e.TurnID,
		e.StartedAt,
		e.FinishedAt,
		e.Transcript,
		e.Reply,
		e.Outcome,
		e.Sentiment,
		e.SentimentIntensity,
		e.Interest,
		e.InterestIntensity,
	)
	if err != nil {
		return fmt.Errorf("journal: record turn: %w", err)
	}
	return nil
}

// Close implements [Store].
func (s *PostgresStore) Close() {
	s.pool.Close()
}
