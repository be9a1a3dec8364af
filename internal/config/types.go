// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// Transport backends for the ephemeral channel.
const (
	ChannelRedis  = "redis"
	ChannelMemory = "memory"
	ChannelNone   = "none"
)

// Backends for the durable keyed store.
const (
	StoreRedis  = "redis"
	StoreFile   = "file"
	StoreMemory = "memory"
	StoreNone   = "none"
)

// AppConfig is the effective configuration of both surfaces.
type AppConfig struct {
	Version  string `yaml:"-"`
	Room     string `yaml:"room"`
	LogLevel string `yaml:"logLevel"`

	Bus       BusConfig       `yaml:"bus"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Player    PlayerConfig    `yaml:"player"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Control   ControlConfig   `yaml:"control"`
	API       APIConfig       `yaml:"api"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// BusConfig selects and tunes the two transports.
type BusConfig struct {
	Channel          string        `yaml:"channel"`
	Store            string        `yaml:"store"`
	Redis            RedisConfig   `yaml:"redis"`
	FileDir          string        `yaml:"fileDir"`
	PollInterval     time.Duration `yaml:"pollInterval"`
	BreakerThreshold int           `yaml:"breakerThreshold"`
	BreakerReset     time.Duration `yaml:"breakerReset"`
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// CatalogConfig points at the catalog document (file path or http(s) URL).
type CatalogConfig struct {
	Source  string        `yaml:"source"`
	Timeout time.Duration `yaml:"timeout"`
}

// PlayerConfig carries the boot parameters of a player surface.
type PlayerConfig struct {
	Autoplay    bool          `yaml:"autoplay"`
	StartID     string        `yaml:"startId"`
	Muted       bool          `yaml:"muted"`
	Mode        string        `yaml:"mode"`
	Tag         string        `yaml:"tag"`
	Layout      int           `yaml:"layout"`
	IntervalSec int           `yaml:"intervalSec"`
	Heartbeat   time.Duration `yaml:"heartbeat"`
	PrefsDir    string        `yaml:"prefsDir"`
}

// PlaybackConfig tunes the slot backends.
type PlaybackConfig struct {
	NativeHLS bool   `yaml:"nativeHls"`
	OEmbedURL string `yaml:"oembedUrl"`
	EmbedURL  string `yaml:"embedUrl"`
	UserAgent string `yaml:"userAgent"`

	// AllowedHosts restricts PLAY_URL sources. Empty allows any host.
	AllowedHosts []string `yaml:"allowedHosts"`
}

// ControlConfig tunes the control surface.
type ControlConfig struct {
	AckTimeout time.Duration `yaml:"ackTimeout"`
	LiveWindow time.Duration `yaml:"liveWindow"`
}

// APIConfig configures the player ops API. An empty ListenAddr disables it.
type APIConfig struct {
	ListenAddr string `yaml:"listenAddr"`
	RateLimit  int    `yaml:"rateLimit"` // requests per minute per client
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"serviceName"`
	ExporterType string  `yaml:"exporter"` // "grpc" or "http"
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}
