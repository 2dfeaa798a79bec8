package backend

import (
	"context"
	"log/slog"
	"time"
)

// Heartbeater pushes device metadata to the backend on a fixed interval.
type Heartbeater struct {
	client   *Client
	interval time.Duration
	metadata func() Metadata
	log      *slog.Logger
}

// NewHeartbeater creates a heartbeater. metadata is called at each beat so
// the payload reflects current state (battery, connectivity). client may be
// nil, in which case Run just waits for cancellation.
func NewHeartbeater(client *Client, interval time.Duration, metadata func() Metadata, log *slog.Logger) *Heartbeater {
	if log == nil {
		log = slog.Default()
	}
	return &Heartbeater{client: client, interval: interval, metadata: metadata, log: log}
}

// Run beats until ctx is cancelled. The first beat happens immediately so a
// freshly booted device shows up in the fleet right away.
func (h *Heartbeater) Run(ctx context.Context) error {
	if h.client == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	h.beat(ctx)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.beat(ctx)
		}
	}
}

func (h *Heartbeater) beat(ctx context.Context) {
	if err := h.client.Heartbeat(ctx, h.metadata()); err != nil {
		h.log.Warn("heartbeat failed", "error", err)
	}
}
