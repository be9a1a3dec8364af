// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuGH/camroom/internal/config"
	"github.com/redis/go-redis/v9"
)

// Transports are the channel and store selected by configuration. Either
// may be nil when its backend is "none".
type Transports struct {
	Channel Channel
	Store   Store

	cfg   config.BusConfig
	redis *redis.Client
}

// Open builds the configured transports. Redis is shared by the channel and
// the store when both use it.
func Open(cfg config.BusConfig) (*Transports, error) {
	t := &Transports{cfg: cfg}
	redisClient := func() *redis.Client {
		if t.redis == nil {
			t.redis = NewRedisClient(RedisConfig{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
		}
		return t.redis
	}

	switch cfg.Channel {
	case config.ChannelRedis:
		t.Channel = NewRedisChannel(redisClient())
	case config.ChannelMemory:
		t.Channel = NewMemoryChannel()
	case config.ChannelNone, "":
	default:
		return nil, fmt.Errorf("unknown bus channel %q", cfg.Channel)
	}

	switch cfg.Store {
	case config.StoreRedis:
		t.Store = NewRedisStore(redisClient(), cfg.PollInterval)
	case config.StoreFile:
		fs, err := NewFileStore(cfg.FileDir)
		if err != nil {
			_ = t.Close()
			return nil, err
		}
		t.Store = fs
	case config.StoreMemory:
		t.Store = NewMemoryStore()
	case config.StoreNone, "":
	default:
		_ = t.Close()
		return nil, fmt.Errorf("unknown bus store %q", cfg.Store)
	}

	if t.Channel == nil && t.Store == nil {
		return nil, errors.New("bus: both transports are disabled")
	}
	return t, nil
}

// Player returns bus options for a player of room on these transports.
func (t *Transports) Player(room string) Options {
	return t.tune(PlayerOptions(room, t.Channel, t.Store))
}

// Control returns bus options for a control surface of room.
func (t *Transports) Control(room string) Options {
	return t.tune(ControlOptions(room, t.Channel, t.Store))
}

func (t *Transports) tune(o Options) Options {
	o.BreakerThreshold = t.cfg.BreakerThreshold
	o.BreakerReset = t.cfg.BreakerReset
	return o
}

// UsesRedis reports whether any transport talks to Redis.
func (t *Transports) UsesRedis() bool { return t.redis != nil }

// Ping checks the Redis server when one is configured.
func (t *Transports) Ping(ctx context.Context) error {
	if t.redis == nil {
		return nil
	}
	return Ping(ctx, t.redis)
}

// Close releases the transports and the shared Redis client.
func (t *Transports) Close() error {
	var errs []error
	if t.Channel != nil {
		errs = append(errs, t.Channel.Close())
	}
	if t.Store != nil {
		errs = append(errs, t.Store.Close())
	}
	if t.redis != nil {
		errs = append(errs, t.redis.Close())
	}
	return errors.Join(errs...)
}
