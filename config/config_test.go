// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "disabled", cfg.LLM.Backend)
	assert.Equal(t, 20*time.Second, cfg.JudgeTimeout())
	assert.Len(t, cfg.PowerZones, 8)
	assert.Len(t, cfg.CyberZones, 5)
	assert.Len(t, cfg.LightZones, 3)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "citypulse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
llm:
  backend: ollama
pipelines:
  seed: 42
  judge_timeout_seconds: 10
recovery:
  initial_delay_seconds: 1
  step_interval_seconds: 2
`), 0640))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "ollama", cfg.LLM.Backend)
	assert.Equal(t, int64(42), cfg.Pipelines.Seed)
	assert.Equal(t, 10*time.Second, cfg.JudgeTimeout())
	assert.Equal(t, time.Second, cfg.RecoveryConfig().InitialDelay)
	// Zone seeds survive a partial file.
	assert.Len(t, cfg.PowerZones, 8)
}

func TestLoadZoneSeeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "citypulse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
power_zones:
  - id: zone_test
    name: Test Zone
    priority: HIGH
    capacity_mw: 10
    current_load_mw: 8
`), 0640))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.PowerZones, 1)
	assert.Equal(t, "zone_test", cfg.PowerZones[0].ID)
	assert.Equal(t, 8.0, cfg.PowerZones[0].CurrentLoadMW)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad port", "server:\n  port: -1\n"},
		{"zero capacity", "power_zones:\n  - id: z\n    capacity_mw: 0\n"},
		{"duplicate zone", "power_zones:\n  - id: z\n    capacity_mw: 5\n  - id: z\n    capacity_mw: 5\n"},
		{"not yaml", "{{{{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0640))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "citypulse.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8080\n"), 0640))

	var reloads atomic.Int32
	var lastPort atomic.Int32
	watcher, err := NewWatcher(path, func(cfg *Config) {
		lastPort.Store(int32(cfg.Server.Port))
		reloads.Add(1)
	}, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { watcher.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watcher.Start(ctx)

	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9191\n"), 0640))

	deadline := time.Now().Add(3 * time.Second)
	for reloads.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.Positive(t, reloads.Load(), "watcher never fired")
	assert.Equal(t, int32(9191), lastPort.Load())
}

func TestWatcherSkipsBrokenFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "citypulse.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8080\n"), 0640))

	var reloads atomic.Int32
	watcher, err := NewWatcher(path, func(*Config) { reloads.Add(1) }, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { watcher.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watcher.Start(ctx)

	require.NoError(t, os.WriteFile(path, []byte("{{{{"), 0640))
	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, reloads.Load())
}
