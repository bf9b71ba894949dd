//go:build integration

package realtime

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kue-app/backend/internal/cache"
	"github.com/kue-app/backend/internal/credits"
)

func newTestRedisBroker(t *testing.T) *RedisBroker {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() { client.Close() })
	return NewRedisBroker(cache.NewRedisFromClient(client))
}

func TestRedisBroker_PublishSubscribe(t *testing.T) {
	b := newTestRedisBroker(t)
	ctx, cancelCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCtx()

	userID := "it-" + time.Now().Format("150405.000000")
	ch, cancel, err := b.Subscribe(ctx, userID)
	require.NoError(t, err)
	defer cancel()

	want := BalanceEvent{UserID: userID, Credits: credits.UnlimitedBalance(), IsPro: true, Version: 7}
	require.NoError(t, b.Publish(ctx, want))

	got := receive(t, ch)
	assert.Equal(t, want.Credits, got.Credits)
	assert.True(t, got.IsPro)
	assert.Equal(t, int64(7), got.Version)
}

func TestRedisBroker_CancelClosesChannel(t *testing.T) {
	b := newTestRedisBroker(t)
	ch, cancel, err := b.Subscribe(context.Background(), "it-cancel")
	require.NoError(t, err)

	cancel()

	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}
