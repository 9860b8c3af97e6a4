package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"srcsnap/internal/snap"
)

// DefaultRedisChannel is used when no channel is configured.
const DefaultRedisChannel = "srcsnap:events"

// redisPublisher is the part of *redis.Client the RedisPublisher needs.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher sends events as JSON messages on a Redis pub/sub channel.
type RedisPublisher struct {
	client  redisPublisher
	channel string
}

// NewRedisPublisher publishes on channel through client.
func NewRedisPublisher(client redisPublisher, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

// Publish encodes ev and publishes it. Having no subscribers is not an error.
func (p *RedisPublisher) Publish(ctx context.Context, ev snap.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", p.channel, err)
	}
	return nil
}

var _ Publisher = (*RedisPublisher)(nil)
