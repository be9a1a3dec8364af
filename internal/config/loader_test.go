// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := NewLoader("", "test").Load()
	require.NoError(t, err)

	assert.Equal(t, "main", cfg.Room)
	assert.Equal(t, ChannelRedis, cfg.Bus.Channel)
	assert.Equal(t, StoreFile, cfg.Bus.Store)
	assert.Equal(t, DefaultHeartbeat, cfg.Player.Heartbeat)
	assert.Equal(t, DefaultAckTimeout, cfg.Control.AckTimeout)
	assert.Equal(t, DefaultIntervalSec, cfg.Player.IntervalSec)
	assert.Equal(t, "test", cfg.Version)
}

func TestLoad_ValidMinimal(t *testing.T) {
	cfg, err := NewLoader(filepath.Join("testdata", "valid-minimal.yaml"), "test").Load()
	require.NoError(t, err)

	assert.Equal(t, "lobby", cfg.Room)
	assert.Equal(t, ChannelMemory, cfg.Bus.Channel)
	assert.Equal(t, 4, cfg.Player.Layout)
	assert.Equal(t, 60, cfg.Player.IntervalSec)
	assert.Equal(t, 2*time.Second, cfg.Player.Heartbeat)
	// untouched keys keep their defaults
	assert.Equal(t, DefaultLiveWindow, cfg.Control.LiveWindow)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("CAMROOM_ROOM", "stage")
	t.Setenv("CAMROOM_LAYOUT", "9")
	t.Setenv("CAMROOM_MUTE", "yes")
	t.Setenv("CAMROOM_ACK_TIMEOUT", "5s")

	l := NewLoader(filepath.Join("testdata", "valid-minimal.yaml"), "test")
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, "stage", cfg.Room)
	assert.Equal(t, 9, cfg.Player.Layout)
	assert.True(t, cfg.Player.Muted)
	assert.Equal(t, 5*time.Second, cfg.Control.AckTimeout)
	assert.Contains(t, l.ConsumedEnvKeys, "CAMROOM_ROOM")
}

func TestLoad_UnknownKeyFails(t *testing.T) {
	_, err := NewLoader(filepath.Join("testdata", "invalid-unknown-key.yaml"), "test").Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownConfigField)
}

func TestLoad_InvalidTypeFails(t *testing.T) {
	_, err := NewLoader(filepath.Join("testdata", "invalid-type.yaml"), "test").Load()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownConfigField)
}

func TestLoad_MultipleDocumentsFail(t *testing.T) {
	_, err := NewLoader(filepath.Join("testdata", "multi-doc.yaml"), "test").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple documents")
}

func TestLoad_RejectsNonYAML(t *testing.T) {
	_, err := NewLoader("config.json", "test").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only YAML supported")
}

func TestLoad_InvalidEnvFailsValidation(t *testing.T) {
	t.Setenv("CAMROOM_BUS_CHANNEL", "carrier-pigeon")
	_, err := NewLoader("", "test").Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
