// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Layout bounds of the player grid.
const (
	MinLayout = 1
	MaxLayout = 12
)

// Rotation interval bounds in seconds.
const (
	MinIntervalSec = 5
	MaxIntervalSec = 3600
)

// Validate checks the effective configuration. Every returned error wraps
// ErrInvalidConfig.
func Validate(cfg AppConfig) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if cfg.Room == "" || strings.ContainsAny(cfg.Room, " \t\n:") {
		add("room %q must be non-empty without whitespace or ':'", cfg.Room)
	}
	if cfg.LogLevel != "" {
		if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
			add("logLevel %q is not a valid level", cfg.LogLevel)
		}
	}

	switch cfg.Bus.Channel {
	case ChannelRedis, ChannelMemory, ChannelNone:
	default:
		add("bus.channel %q must be one of redis|memory|none", cfg.Bus.Channel)
	}
	switch cfg.Bus.Store {
	case StoreRedis, StoreMemory, StoreNone:
	case StoreFile:
		if cfg.Bus.FileDir == "" {
			add("bus.fileDir is required for the file store")
		}
	default:
		add("bus.store %q must be one of redis|file|memory|none", cfg.Bus.Store)
	}
	if (cfg.Bus.Channel == ChannelRedis || cfg.Bus.Store == StoreRedis) && cfg.Bus.Redis.Addr == "" {
		add("bus.redis.addr is required when a redis transport is selected")
	}
	if cfg.Bus.PollInterval < 10*time.Millisecond {
		add("bus.pollInterval %s is below 10ms", cfg.Bus.PollInterval)
	}
	if cfg.Bus.BreakerThreshold < 1 {
		add("bus.breakerThreshold must be >= 1")
	}

	if cfg.Catalog.Source == "" {
		add("catalog.source is required")
	}
	if cfg.Catalog.Timeout <= 0 {
		add("catalog.timeout must be positive")
	}

	// zero restores the saved layout
	if cfg.Player.Layout != 0 && (cfg.Player.Layout < MinLayout || cfg.Player.Layout > MaxLayout) {
		add("player.layout %d out of range %d..%d", cfg.Player.Layout, MinLayout, MaxLayout)
	}
	if cfg.Player.IntervalSec < MinIntervalSec || cfg.Player.IntervalSec > MaxIntervalSec {
		add("player.intervalSec %d out of range %d..%d", cfg.Player.IntervalSec, MinIntervalSec, MaxIntervalSec)
	}
	switch cfg.Player.Mode {
	case "manual", "rotate":
	default:
		add("player.mode %q must be manual or rotate", cfg.Player.Mode)
	}
	if cfg.Player.Heartbeat <= 0 {
		add("player.heartbeat must be positive")
	}

	if cfg.Control.AckTimeout <= 0 {
		add("control.ackTimeout must be positive")
	}
	if cfg.Control.LiveWindow <= 0 {
		add("control.liveWindow must be positive")
	}
	if cfg.API.RateLimit < 0 {
		add("api.rateLimit must not be negative")
	}

	if cfg.Telemetry.Enabled {
		switch cfg.Telemetry.ExporterType {
		case "grpc", "http":
		default:
			add("telemetry.exporter %q must be grpc or http", cfg.Telemetry.ExporterType)
		}
		if cfg.Telemetry.Endpoint == "" {
			add("telemetry.endpoint is required when telemetry is enabled")
		}
	}
	if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
		add("telemetry.samplingRate %.2f out of range 0..1", cfg.Telemetry.SamplingRate)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
