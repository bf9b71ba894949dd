package client

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/kue-app/backend/internal/logger"
)

// Countdown drives the refill timer shown next to the balance. The server
// performs the refill; when the timer reaches zero the countdown only
// re-fetches the balance.
type Countdown struct {
	view    *QuotaView
	refresh func(ctx context.Context) error
	onTick  func(remaining time.Duration)
	now     func() time.Time
	prev    time.Duration
	// pending is set while a refill-time refresh has failed and must be retried.
	pending bool
	log     zerolog.Logger
}

// NewCountdown creates a countdown over view. onTick may be nil.
func NewCountdown(view *QuotaView, refresh func(ctx context.Context) error, onTick func(time.Duration)) *Countdown {
	return &Countdown{
		view:    view,
		refresh: refresh,
		onTick:  onTick,
		now:     time.Now,
		prev:    -1,
		log:     logger.Component("countdown"),
	}
}

// Run ticks once per second until ctx ends.
func (c *Countdown) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	c.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick recomputes the remaining time and re-fetches the balance when it has
// just reached zero. A failed re-fetch is retried on every following tick
// until one succeeds. It returns the remaining time.
func (c *Countdown) Tick(ctx context.Context) time.Duration {
	remaining := c.view.RefillIn(c.now())
	if c.onTick != nil {
		c.onTick(remaining)
	}

	due := remaining == 0 && (c.prev > 0 || c.pending)
	c.prev = remaining
	if !due || c.view.IsPro() {
		c.pending = false
		return remaining
	}

	if err := c.refresh(ctx); err != nil {
		c.pending = true
		c.log.Warn().Err(err).Msg("failed to refresh balance after refill time")
		return remaining
	}
	c.pending = false
	c.prev = c.view.RefillIn(c.now())
	return remaining
}
