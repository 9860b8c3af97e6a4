package notify

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"srcsnap/internal/config"
	"srcsnap/internal/snap"
)

// Notifier is a snap.Notifier that holds resources until closed.
type Notifier interface {
	snap.Notifier
	Close() error
}

type nopNotifier struct{ snap.NopNotifier }

func (nopNotifier) Close() error { return nil }

type redisNotifier struct {
	*AsyncNotifier
	client *redis.Client
}

func (n *redisNotifier) Close() error {
	n.AsyncNotifier.Close()
	if err := n.client.Close(); err != nil {
		return fmt.Errorf("closing redis client: %w", err)
	}
	return nil
}

// NewNotifierFromConfig creates the Notifier selected by cfg.Type.
func NewNotifierFromConfig(cfg config.NotifyConfig, logger snap.Logger) (Notifier, error) {
	switch cfg.Type {
	case "", "none":
		return nopNotifier{}, nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis notifier requires redis_addr")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pub := NewRedisPublisher(client, cfg.RedisChannel)
		return &redisNotifier{
			AsyncNotifier: NewAsyncNotifier(pub, cfg.BufferSize, logger),
			client:        client,
		}, nil
	default:
		return nil, fmt.Errorf("unknown notify type: %q", cfg.Type)
	}
}
