// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.level.String())
	}
}

func TestNewDefaults(t *testing.T) {
	logger := New(Config{})
	require.NotNil(t, logger)
	require.NotNil(t, logger.Slog())
	assert.NoError(t, logger.Close())
}

func TestFileLogging(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		Level:   LevelDebug,
		LogDir:  dir,
		Service: "testsvc",
		Quiet:   true,
	})
	require.NotNil(t, logger.file, "file logging should be enabled")

	logger.Info("hello", "zone_id", "zone-1")
	require.NoError(t, logger.Close())

	name := "testsvc_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)

	var entry map[string]any
	line := strings.TrimSpace(string(data))
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "zone-1", entry["zone_id"])
	assert.Equal(t, "testsvc", entry["service"])
}

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		Level:   LevelWarn,
		LogDir:  dir,
		Service: "filter",
		Quiet:   true,
	})

	logger.Debug("dropped")
	logger.Info("also dropped")
	logger.Warn("kept")
	require.NoError(t, logger.Close())

	name := "filter_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)

	content := string(data)
	assert.NotContains(t, content, "dropped")
	assert.Contains(t, content, "kept")
}

func TestWithAttributes(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{LogDir: dir, Service: "child", Quiet: true})

	child := logger.With("incident_id", "inc-42")
	child.Info("escalated")
	require.NoError(t, logger.Close())

	name := "child_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Contains(t, string(data), "inc-42")
}
