// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr string
	}{
		{name: "defaults", mutate: func(*AppConfig) {}},
		{name: "room with colon", mutate: func(c *AppConfig) { c.Room = "a:b" }, wantErr: "room"},
		{name: "layout too large", mutate: func(c *AppConfig) { c.Player.Layout = 13 }, wantErr: "player.layout"},
		{name: "layout negative", mutate: func(c *AppConfig) { c.Player.Layout = -1 }, wantErr: "player.layout"},
		{name: "interval too short", mutate: func(c *AppConfig) { c.Player.IntervalSec = 4 }, wantErr: "intervalSec"},
		{name: "unknown store", mutate: func(c *AppConfig) { c.Bus.Store = "s3" }, wantErr: "bus.store"},
		{name: "file store without dir", mutate: func(c *AppConfig) { c.Bus.FileDir = "" }, wantErr: "fileDir"},
		{name: "redis without addr", mutate: func(c *AppConfig) { c.Bus.Redis.Addr = "" }, wantErr: "redis.addr"},
		{name: "memory bus needs no redis", mutate: func(c *AppConfig) {
			c.Bus.Channel = ChannelMemory
			c.Bus.Store = StoreMemory
			c.Bus.Redis.Addr = ""
		}},
		{name: "bad mode", mutate: func(c *AppConfig) { c.Player.Mode = "shuffle" }, wantErr: "player.mode"},
		{name: "telemetry exporter", mutate: func(c *AppConfig) {
			c.Telemetry.Enabled = true
			c.Telemetry.ExporterType = "zipkin"
		}, wantErr: "telemetry.exporter"},
		{name: "sampling rate", mutate: func(c *AppConfig) { c.Telemetry.SamplingRate = 1.5 }, wantErr: "samplingRate"},
		{name: "bad log level", mutate: func(c *AppConfig) { c.LogLevel = "loud" }, wantErr: "logLevel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults("test")
			tt.mutate(&cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
