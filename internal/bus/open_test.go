// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
	"testing"
	"time"

	"github.com/ManuGH/camroom/internal/config"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_Backends(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name      string
		cfg       config.BusConfig
		channel   string
		store     string
		usesRedis bool
	}{
		{
			name:      "redis both",
			cfg:       config.BusConfig{Channel: config.ChannelRedis, Store: config.StoreRedis, Redis: config.RedisConfig{Addr: mr.Addr()}},
			channel:   "redis_pubsub",
			store:     "redis_store",
			usesRedis: true,
		},
		{
			name:    "memory channel, file store",
			cfg:     config.BusConfig{Channel: config.ChannelMemory, Store: config.StoreFile, FileDir: t.TempDir()},
			channel: "memory_channel",
			store:   "file_store",
		},
		{
			name:  "store only",
			cfg:   config.BusConfig{Channel: config.ChannelNone, Store: config.StoreMemory},
			store: "memory_store",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := Open(tt.cfg)
			require.NoError(t, err)
			defer func() { assert.NoError(t, tr.Close()) }()

			if tt.channel == "" {
				assert.Nil(t, tr.Channel)
			} else {
				require.NotNil(t, tr.Channel)
				assert.Equal(t, tt.channel, tr.Channel.Name())
			}
			require.NotNil(t, tr.Store)
			assert.Equal(t, tt.store, tr.Store.Name())
			assert.Equal(t, tt.usesRedis, tr.UsesRedis())
			assert.NoError(t, tr.Ping(context.Background()))
		})
	}
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(config.BusConfig{Channel: "carrier-pigeon", Store: config.StoreMemory})
	assert.Error(t, err)
	_, err = Open(config.BusConfig{Channel: config.ChannelMemory, Store: "tape"})
	assert.Error(t, err)
	_, err = Open(config.BusConfig{Channel: config.ChannelNone, Store: config.StoreNone})
	assert.Error(t, err)
}

func TestTransports_OptionsCarryBreakerSettings(t *testing.T) {
	tr, err := Open(config.BusConfig{
		Channel:          config.ChannelMemory,
		Store:            config.StoreMemory,
		BreakerThreshold: 7,
		BreakerReset:     3 * time.Second,
	})
	require.NoError(t, err)
	defer func() { _ = tr.Close() }()

	p := tr.Player("lobby")
	assert.Equal(t, 7, p.BreakerThreshold)
	assert.Equal(t, 3*time.Second, p.BreakerReset)
	assert.Equal(t, []string{"camroom_cmd:lobby"}, p.Watch)

	c := tr.Control("lobby")
	assert.Equal(t, []string{"camroom_state:lobby", "camroom_ack:lobby"}, c.Watch)
}

func TestTransports_PingFailsWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	tr, err := Open(config.BusConfig{Channel: config.ChannelRedis, Store: config.StoreNone, Redis: config.RedisConfig{Addr: mr.Addr()}})
	require.NoError(t, err)
	defer func() { _ = tr.Close() }()

	require.NoError(t, tr.Ping(context.Background()))
	mr.Close()
	assert.Error(t, tr.Ping(context.Background()))
}
