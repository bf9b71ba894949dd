package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kue-app/backend/internal/cache"
	"github.com/kue-app/backend/internal/logger"
)

// RedisBroker publishes events as JSON on the per-user channel
// "credits:<userID>", so every API instance can serve any subscriber.
type RedisBroker struct {
	redis *cache.Redis
	log   zerolog.Logger
}

var _ Broker = (*RedisBroker)(nil)

// NewRedisBroker creates a broker over an existing connection.
func NewRedisBroker(r *cache.Redis) *RedisBroker {
	return &RedisBroker{redis: r, log: logger.Component("realtime")}
}

// Publish implements Broker.
func (b *RedisBroker) Publish(ctx context.Context, evt BalanceEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("realtime: marshal event: %w", err)
	}
	if err := b.redis.Publish(ctx, channelFor(evt.UserID), payload); err != nil {
		return fmt.Errorf("realtime: publish: %w", err)
	}
	return nil
}

// Subscribe implements Broker.
func (b *RedisBroker) Subscribe(ctx context.Context, userID string) (<-chan BalanceEvent, func(), error) {
	sub, err := b.redis.Subscribe(ctx, channelFor(userID))
	if err != nil {
		return nil, nil, err
	}

	out := make(chan BalanceEvent, 1)
	var once sync.Once
	cancel := func() { once.Do(func() { sub.Close() }) }

	go func() {
		defer close(out)
		defer cancel()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var evt BalanceEvent
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					b.log.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed balance event")
					continue
				}
				offer(out, evt)
			}
		}
	}()

	return out, cancel, nil
}
