package push

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisChannel is the channel the backend publishes catalog changes on.
const DefaultRedisChannel = "kings:catalog"

// RedisSource reads push envelopes from a Redis pub/sub channel.
type RedisSource struct {
	client  *redis.Client
	channel string
}

// NewRedisSource returns a source for channel ("" means DefaultRedisChannel).
func NewRedisSource(client *redis.Client, channel string) *RedisSource {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisSource{client: client, channel: channel}
}

// Open subscribes and waits for the subscription to be confirmed.
func (s *RedisSource) Open(ctx context.Context) (Stream, error) {
	pubsub := s.client.Subscribe(ctx, s.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("push: subscribing to redis channel %q: %w", s.channel, err)
	}
	return &redisStream{pubsub: pubsub, ch: pubsub.Channel()}, nil
}

// Publish sends one envelope on the source's channel.
func (s *RedisSource) Publish(ctx context.Context, event string, data any) error {
	payload, err := EncodeEnvelope(event, data)
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("push: publishing %s: %w", event, err)
	}
	return nil
}

type redisStream struct {
	pubsub *redis.PubSub
	ch     <-chan *redis.Message
}

func (r *redisStream) Recv(ctx context.Context) (Message, error) {
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case m, ok := <-r.ch:
		if !ok {
			return Message{}, ErrStreamClosed
		}
		return DecodeEnvelope([]byte(m.Payload))
	}
}

func (r *redisStream) Close() error {
	return r.pubsub.Close()
}
