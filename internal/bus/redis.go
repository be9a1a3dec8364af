// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/camroom/internal/log"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string // Redis server address (host:port)
	Password string // Redis password (optional)
	DB       int    // Redis database number
}

// NewRedisClient builds a client tuned for small, latency-sensitive
// envelopes. It does not dial; transports tolerate an unreachable server.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     4,
	})
}

// RedisChannel publishes envelopes on a Redis pub/sub channel.
type RedisChannel struct {
	client  *redis.Client
	channel string
	logger  zerolog.Logger
}

func NewRedisChannel(client *redis.Client) *RedisChannel {
	return &RedisChannel{
		client:  client,
		channel: ChannelName,
		logger:  log.WithComponent("bus.redis"),
	}
}

func (c *RedisChannel) Name() string { return "redis_pubsub" }

func (c *RedisChannel) Publish(ctx context.Context, payload []byte) error {
	if err := c.client.Publish(ctx, c.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe waits for the server to confirm the subscription so callers
// learn about an unreachable server immediately.
func (c *RedisChannel) Subscribe(ctx context.Context) (Subscription, error) {
	ps := c.client.Subscribe(ctx, c.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", c.channel, err)
	}

	sub := &redisSub{ps: ps, ch: make(chan []byte, memoryBuffer), done: make(chan struct{})}
	go sub.pump()
	return sub, nil
}

func (c *RedisChannel) Close() error { return nil }

type redisSub struct {
	ps   *redis.PubSub
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

func (s *redisSub) pump() {
	defer close(s.ch)
	in := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.ch <- []byte(msg.Payload):
			case <-s.done:
				return
			}
		}
	}
}

func (s *redisSub) C() <-chan []byte { return s.ch }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

// RedisStore keeps durable keys as plain Redis strings. Watch polls because
// keyspace notifications are disabled on most managed servers.
type RedisStore struct {
	client       *redis.Client
	pollInterval time.Duration
	logger       zerolog.Logger
}

func NewRedisStore(client *redis.Client, pollInterval time.Duration) *RedisStore {
	if pollInterval <= 0 {
		pollInterval = 250 * time.Millisecond
	}
	return &RedisStore{
		client:       client,
		pollInterval: pollInterval,
		logger:       log.WithComponent("bus.redis"),
	}
}

func (s *RedisStore) Name() string { return "redis_store" }

func (s *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// Watch polls keys every pollInterval and reports values that differ from
// the previous observation. The first poll only seeds the baseline.
func (s *RedisStore) Watch(ctx context.Context, keys []string) (<-chan Change, error) {
	out := make(chan Change, memoryBuffer)
	last := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, err := s.Get(ctx, k); err == nil {
			last[k] = v
		}
	}

	go func() {
		defer close(out)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			vals, err := s.client.MGet(ctx, keys...).Result()
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Debug().Err(err).Str("event", "bus.store_poll_failed").Msg("redis poll failed")
				}
				continue
			}
			for i, raw := range vals {
				str, ok := raw.(string)
				if !ok {
					continue
				}
				v := []byte(str)
				if bytes.Equal(last[keys[i]], v) {
					continue
				}
				last[keys[i]] = v
				select {
				case out <- Change{Key: keys[i], Value: v}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *RedisStore) Close() error { return nil }

// Ping checks if Redis is available.
func Ping(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}

var (
	_ Channel = (*RedisChannel)(nil)
	_ Store   = (*RedisStore)(nil)
)
