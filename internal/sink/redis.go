package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis mirrors payloads onto a Redis pub/sub channel.
type Redis struct {
	client  *redis.Client
	channel string
	once    sync.Once
}

// NewRedis connects to the server at url and checks it is reachable.
func NewRedis(ctx context.Context, url, channel string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisWithClient(client, channel), nil
}

func NewRedisWithClient(client *redis.Client, channel string) *Redis {
	return &Redis{client: client, channel: channel}
}

// Send publishes one payload.
func (r *Redis) Send(ctx context.Context, payload []byte) error {
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	return nil
}

func (r *Redis) Close(context.Context) error {
	return r.Abort()
}

func (r *Redis) Abort() error {
	var err error
	r.once.Do(func() { err = r.client.Close() })
	return err
}
