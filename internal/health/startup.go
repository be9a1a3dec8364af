// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ManuGH/camroom/internal/config"
	"github.com/ManuGH/camroom/internal/log"
	"github.com/rs/zerolog"
)

// PerformStartupChecks validates the environment of a player surface before
// it starts serving.
func PerformStartupChecks(_ context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running pre-flight startup checks")

	if cfg.Player.PrefsDir != "" {
		if err := checkDataDir(logger, cfg.Player.PrefsDir); err != nil {
			return fmt.Errorf("prefs directory check failed: %w", err)
		}
	}
	if cfg.Bus.Store == config.StoreFile {
		if err := checkDataDir(logger, cfg.Bus.FileDir); err != nil {
			return fmt.Errorf("bus directory check failed: %w", err)
		}
	}
	if err := checkTargetedValidations(logger, cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	logger.Info().Msg("all startup checks passed")
	return nil
}

// checkDataDir creates path when missing and verifies it is writable.
func checkDataDir(logger zerolog.Logger, path string) error {
	if path == "" {
		return fmt.Errorf("directory not configured")
	}
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(testFile)

	logger.Info().Str("path", path).Msg("directory is writable")
	return nil
}

func checkTargetedValidations(logger zerolog.Logger, cfg config.AppConfig) error {
	if addr := cfg.API.ListenAddr; addr != "" {
		_, port, err := net.SplitHostPort(addr)
		if err != nil {
			return fmt.Errorf("invalid API listen address %q: %w", addr, err)
		}
		portNum, err := strconv.Atoi(port)
		if err != nil || portNum < 0 || portNum > 65535 {
			return fmt.Errorf("invalid API listen port %q in %q", port, addr)
		}
	}

	src := strings.TrimSpace(cfg.Catalog.Source)
	switch {
	case src == "":
		logger.Warn().Msg("no catalog source configured; players will start empty")
	case strings.Contains(src, "://"):
		u, err := url.Parse(src)
		if err != nil {
			return fmt.Errorf("invalid catalog URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("catalog URL scheme must be http or https, got: %s", u.Scheme)
		}
	default:
		if err := checkFileReadable(src); err != nil {
			// the loader fails soft, so a missing document only warns
			logger.Warn().Err(err).Str("path", src).Msg("catalog file not readable yet")
		}
	}
	return nil
}

func checkFileReadable(path string) error {
	f, err := os.Open(path) // #nosec G304 -- path comes from operator config
	if err != nil {
		return err
	}
	return f.Close()
}
