// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command camroom-player runs one player surface: it joins a room on the
// coordination bus, plays catalog entries in its slots and serves the ops
// API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/ManuGH/camroom/internal/api"
	"github.com/ManuGH/camroom/internal/bus"
	"github.com/ManuGH/camroom/internal/catalog"
	"github.com/ManuGH/camroom/internal/config"
	"github.com/ManuGH/camroom/internal/health"
	"github.com/ManuGH/camroom/internal/log"
	"github.com/ManuGH/camroom/internal/platform/httpx"
	platformnet "github.com/ManuGH/camroom/internal/platform/net"
	"github.com/ManuGH/camroom/internal/playback"
	"github.com/ManuGH/camroom/internal/player"
	"github.com/ManuGH/camroom/internal/prefs"
	"github.com/ManuGH/camroom/internal/telemetry"
	"github.com/ManuGH/camroom/internal/version"
	"golang.org/x/sync/errgroup"
)

const pingTimeout = 2 * time.Second

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", os.Getenv("CAMROOM_CONFIG"), "path to YAML configuration file")
	room := flag.String("room", "", "room to join (overrides configuration)")
	listen := flag.String("listen", "", "ops API listen address (overrides configuration)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("camroom-player %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		return
	}

	// safe defaults until the configuration is known
	log.Configure(log.Config{Level: "info", Service: "camroom-player", Version: version.Version})
	logger := log.WithComponent("player-main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.NewLoader(*configPath, version.Version).Load()
	if err != nil {
		logger.Fatal().Err(err).Str(log.FieldEvent, "config.load_failed").Str("path", *configPath).Msg("failed to load configuration")
	}
	if *room != "" {
		cfg.Room = *room
	}
	if *listen != "" {
		cfg.API.ListenAddr = *listen
	}
	if err := config.Validate(cfg); err != nil {
		logger.Fatal().Err(err).Str(log.FieldEvent, "config.invalid").Msg("invalid configuration")
	}

	log.Configure(log.Config{Level: cfg.LogLevel, Service: "camroom-player", Version: version.Version})
	logger = log.WithComponent("player-main")
	logger.Info().
		Str(log.FieldEvent, "player.starting").
		Str(log.FieldRoom, cfg.Room).
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("catalog", cfg.Catalog.Source).
		Msg("starting camroom player")

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Fatal().Err(err).Str(log.FieldEvent, "startup.checks_failed").Msg("startup checks failed")
	}

	if err := run(ctx, cfg); err != nil {
		logger.Fatal().Err(err).Str(log.FieldEvent, "player.failed").Msg("player stopped with error")
	}
	logger.Info().Str(log.FieldEvent, "player.stopped").Msg("player stopped")
}

func run(ctx context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("player-main")

	tp, err := telemetry.NewProvider(ctx, telemetry.FromConfig(cfg.Telemetry, "player", version.Version))
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	tr, err := bus.Open(cfg.Bus)
	if err != nil {
		return err
	}
	defer func() { _ = tr.Close() }()
	b := bus.New(tr.Player(cfg.Room))

	store, err := prefs.Open("badger", cfg.Player.PrefsDir)
	if err != nil {
		return fmt.Errorf("prefs: %w", err)
	}
	defer func() { _ = store.Close() }()

	policy, err := platformnet.NewHostPolicy(cfg.Playback.AllowedHosts)
	if err != nil {
		return fmt.Errorf("playback.allowedHosts: %w", err)
	}

	client := httpx.NewClient(cfg.Catalog.Timeout, cfg.Playback.UserAgent)
	loader := catalog.NewLoader(cfg.Catalog.Source, cfg.Catalog.Timeout).WithClient(client)

	hub := api.NewHub(nil)
	p, err := player.New(player.Options{
		Room:      cfg.Room,
		Version:   version.Version,
		Transport: b,
		Catalog:   loader,
		Backends: playback.Backends{
			Video:  playback.NewVideoBackend(client, playback.VideoOptions{OEmbedURL: cfg.Playback.OEmbedURL, EmbedURL: cfg.Playback.EmbedURL}),
			Stream: playback.NewStreamBackend(client, playback.StreamOptions{Native: cfg.Playback.NativeHLS}),
			Image:  playback.NewImageBackend(client, time.Now),
		},
		Prefs:     store,
		Boot:      player.BootFromConfig(cfg.Player),
		Heartbeat: cfg.Player.Heartbeat,
		URLPolicy: policy,
		OnState:   hub.Publish,
	})
	if err != nil {
		return err
	}

	hm := health.NewManager(version.Version)
	hm.RegisterChecker(health.NewReadyChecker("player", p.Ready))
	hm.RegisterChecker(health.NewCatalogChecker(func() int { return loader.Current().Len() }))
	if tr.UsesRedis() {
		hm.RegisterChecker(health.NewPingChecker("redis", pingTimeout, tr.Ping))
	}
	if !strings.HasPrefix(cfg.Catalog.Source, "http://") && !strings.HasPrefix(cfg.Catalog.Source, "https://") {
		hm.RegisterChecker(health.NewFileChecker("catalog_file", cfg.Catalog.Source))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Run(gctx) })
	if cfg.API.ListenAddr != "" {
		srv := api.New(api.Options{
			ListenAddr:     cfg.API.ListenAddr,
			RateLimit:      cfg.API.RateLimit,
			TracingService: telemetry.FromConfig(cfg.Telemetry, "player", version.Version).ServiceName,
			Player:         p,
			Health:         hm,
			Hub:            hub,
		})
		g.Go(func() error { return srv.Run(gctx) })
	} else {
		logger.Info().Str(log.FieldEvent, "api.disabled").Msg("ops API disabled (no listen address)")
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
