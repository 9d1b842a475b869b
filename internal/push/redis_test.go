package push

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisSource_DeliversThroughHub(t *testing.T) {
	_, client := setupRedis(t)
	src := NewRedisSource(client, "")
	h := newTestHub(src)
	defer h.Close()

	got := make(chan Message, 4)
	unsub := h.Subscribe(EventProductUpdated, func(_ context.Context, m Message) { got <- m })
	defer unsub()

	ctx := context.Background()
	payload, err := EncodeEnvelope(EventProductUpdated, map[string]any{"_id": "p1", "name": "Kanzu", "price": 45000})
	require.NoError(t, err)

	// Publish until the hub's subscription is live; only a delivered publish reports a receiver.
	require.Eventually(t, func() bool {
		n, err := client.Publish(ctx, DefaultRedisChannel, payload).Result()
		return err == nil && n > 0
	}, 2*time.Second, 10*time.Millisecond)

	m := receive(t, got)
	ev, err := DecodeProductEvent(m.Payload)
	require.NoError(t, err)
	assert.Equal(t, "p1", ev.ID)
	assert.Equal(t, "Kanzu", ev.Entity.Title)
	assert.Equal(t, 45000.0, ev.Entity.Price)
}

func TestRedisSource_UnsubscribesWhenLastSubscriberLeaves(t *testing.T) {
	_, client := setupRedis(t)
	src := NewRedisSource(client, "kings:test")
	h := newTestHub(src)
	defer h.Close()

	ctx := context.Background()
	numSub := func() int64 {
		return client.PubSubNumSub(ctx, "kings:test").Val()["kings:test"]
	}

	unsub := h.Subscribe(EventCategoryUpdated, func(context.Context, Message) {})
	require.Eventually(t, func() bool { return numSub() == 1 }, 2*time.Second, 10*time.Millisecond)

	unsub()
	assert.Eventually(t, func() bool { return numSub() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRedisSource_PublishAndRecv(t *testing.T) {
	_, client := setupRedis(t)
	src := NewRedisSource(client, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := src.Open(ctx)
	require.NoError(t, err)
	defer stream.Close()

	require.NoError(t, src.Publish(ctx, EventCategoryUpdated, map[string]string{"_id": "c9", "name": "Bags"}))
	m, err := stream.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, EventCategoryUpdated, m.Event)

	cancel()
	_, err = stream.Recv(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
