// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values shared by both surfaces.
const (
	DefaultRedisAddr    = "localhost:6379"
	DefaultPollInterval = 250 * time.Millisecond
	DefaultHeartbeat    = 1500 * time.Millisecond
	DefaultAckTimeout   = 30 * time.Second
	DefaultLiveWindow   = 4500 * time.Millisecond
	DefaultIntervalSec  = 40
	DefaultOEmbedURL    = "https://www.youtube.com/oembed"
	DefaultEmbedURL     = "https://www.youtube-nocookie.com/embed/"
)

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a new configuration loader
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

// Load loads configuration with precedence: ENV > File > Defaults.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults(l.version)

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnvConfig(&cfg)
	cfg.Version = l.version

	if cfg.Bus.FileDir != "" {
		if abs, err := filepath.Abs(cfg.Bus.FileDir); err == nil {
			cfg.Bus.FileDir = abs
		}
	}

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Defaults returns the built-in configuration.
func Defaults(version string) AppConfig {
	return AppConfig{
		Version:  version,
		Room:     "main",
		LogLevel: "info",
		Bus: BusConfig{
			Channel:          ChannelRedis,
			Store:            StoreFile,
			Redis:            RedisConfig{Addr: DefaultRedisAddr},
			FileDir:          filepath.Join(os.TempDir(), "camroom"),
			PollInterval:     DefaultPollInterval,
			BreakerThreshold: 3,
			BreakerReset:     10 * time.Second,
		},
		Catalog: CatalogConfig{
			Source:  "cams.json",
			Timeout: 10 * time.Second,
		},
		Player: PlayerConfig{
			Autoplay:    true,
			Mode:        "manual",
			IntervalSec: DefaultIntervalSec,
			Heartbeat:   DefaultHeartbeat,
		},
		Playback: PlaybackConfig{
			OEmbedURL: DefaultOEmbedURL,
			EmbedURL:  DefaultEmbedURL,
			UserAgent: "camroom/" + version,
		},
		Control: ControlConfig{
			AckTimeout: DefaultAckTimeout,
			LiveWindow: DefaultLiveWindow,
		},
		API: APIConfig{
			ListenAddr: "127.0.0.1:8090",
			RateLimit:  120,
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "camroom",
			ExporterType: "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}

// loadFile decodes a YAML file over cfg with STRICT parsing.
// Unknown fields will cause a fatal error to prevent misconfiguration.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("strict config parse error: %w: %v", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) mergeEnvConfig(cfg *AppConfig) {
	cfg.Room = l.envString("CAMROOM_ROOM", cfg.Room)
	cfg.LogLevel = l.envString("CAMROOM_LOG_LEVEL", cfg.LogLevel)

	cfg.Bus.Channel = strings.ToLower(l.envString("CAMROOM_BUS_CHANNEL", cfg.Bus.Channel))
	cfg.Bus.Store = strings.ToLower(l.envString("CAMROOM_BUS_STORE", cfg.Bus.Store))
	cfg.Bus.Redis.Addr = l.envString("CAMROOM_REDIS_ADDR", cfg.Bus.Redis.Addr)
	cfg.Bus.Redis.Password = l.envString("CAMROOM_REDIS_PASSWORD", cfg.Bus.Redis.Password)
	cfg.Bus.Redis.DB = l.envInt("CAMROOM_REDIS_DB", cfg.Bus.Redis.DB)
	cfg.Bus.FileDir = l.envString("CAMROOM_STORE_DIR", cfg.Bus.FileDir)
	cfg.Bus.PollInterval = l.envDuration("CAMROOM_STORE_POLL", cfg.Bus.PollInterval)
	cfg.Bus.BreakerThreshold = l.envInt("CAMROOM_BREAKER_THRESHOLD", cfg.Bus.BreakerThreshold)
	cfg.Bus.BreakerReset = l.envDuration("CAMROOM_BREAKER_RESET", cfg.Bus.BreakerReset)

	cfg.Catalog.Source = l.envString("CAMROOM_CATALOG", cfg.Catalog.Source)
	cfg.Catalog.Timeout = l.envDuration("CAMROOM_CATALOG_TIMEOUT", cfg.Catalog.Timeout)

	cfg.Player.Autoplay = l.envBool("CAMROOM_AUTOPLAY", cfg.Player.Autoplay)
	cfg.Player.StartID = l.envString("CAMROOM_START_ID", cfg.Player.StartID)
	cfg.Player.Muted = l.envBool("CAMROOM_MUTE", cfg.Player.Muted)
	cfg.Player.Mode = strings.ToLower(l.envString("CAMROOM_MODE", cfg.Player.Mode))
	cfg.Player.Tag = l.envString("CAMROOM_TAG", cfg.Player.Tag)
	cfg.Player.Layout = l.envInt("CAMROOM_LAYOUT", cfg.Player.Layout)
	cfg.Player.IntervalSec = l.envInt("CAMROOM_INTERVAL_SEC", cfg.Player.IntervalSec)
	cfg.Player.Heartbeat = l.envDuration("CAMROOM_HEARTBEAT", cfg.Player.Heartbeat)
	cfg.Player.PrefsDir = l.envString("CAMROOM_PREFS_DIR", cfg.Player.PrefsDir)

	cfg.Playback.NativeHLS = l.envBool("CAMROOM_NATIVE_HLS", cfg.Playback.NativeHLS)
	cfg.Playback.OEmbedURL = l.envString("CAMROOM_OEMBED_URL", cfg.Playback.OEmbedURL)
	cfg.Playback.EmbedURL = l.envString("CAMROOM_EMBED_URL", cfg.Playback.EmbedURL)
	cfg.Playback.UserAgent = l.envString("CAMROOM_USER_AGENT", cfg.Playback.UserAgent)
	if hosts := l.envString("CAMROOM_ALLOWED_HOSTS", ""); hosts != "" {
		cfg.Playback.AllowedHosts = splitList(hosts)
	}

	cfg.Control.AckTimeout = l.envDuration("CAMROOM_ACK_TIMEOUT", cfg.Control.AckTimeout)
	cfg.Control.LiveWindow = l.envDuration("CAMROOM_LIVE_WINDOW", cfg.Control.LiveWindow)

	cfg.API.ListenAddr = l.envString("CAMROOM_API_LISTEN", cfg.API.ListenAddr)
	cfg.API.RateLimit = l.envInt("CAMROOM_API_RATE_LIMIT", cfg.API.RateLimit)

	cfg.Telemetry.Enabled = l.envBool("CAMROOM_TELEMETRY_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.ServiceName = l.envString("CAMROOM_OTEL_SERVICE_NAME", cfg.Telemetry.ServiceName)
	cfg.Telemetry.ExporterType = strings.ToLower(l.envString("CAMROOM_OTEL_EXPORTER", cfg.Telemetry.ExporterType))
	cfg.Telemetry.Endpoint = l.envString("CAMROOM_OTEL_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = l.envFloat("CAMROOM_OTEL_SAMPLING", cfg.Telemetry.SamplingRate)
}

// splitList splits a comma separated env value, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
