// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dashboard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/CityPulse/services/lighting"
)

func TestMemoryHistoryRanksByOverlap(t *testing.T) {
	ctx := context.Background()
	history := NewMemoryHistory()

	entries := []lighting.HistoryEntry{
		{ID: "1", Summary: "storm flooding in hospital zone with power loss"},
		{ID: "2", Summary: "routine maintenance window for airport lighting"},
		{ID: "3", Summary: "storm damage near hospital, partial power loss"},
	}
	for _, e := range entries {
		require.NoError(t, history.Record(ctx, e))
	}

	similar, err := history.Similar(ctx, "storm hits hospital zone, power loss expected")
	require.NoError(t, err)
	require.NotEmpty(t, similar)
	// Both storm/hospital incidents match; the maintenance entry does not
	// lead.
	assert.NotEqual(t, "2", similar[0].ID)
}

func TestMemoryHistoryNoMatches(t *testing.T) {
	ctx := context.Background()
	history := NewMemoryHistory()
	require.NoError(t, history.Record(ctx, lighting.HistoryEntry{ID: "1", Summary: "cyclone at the port"}))

	similar, err := history.Similar(ctx, "xyzzy")
	require.NoError(t, err)
	assert.Empty(t, similar)
}

func TestMemoryHistoryLimit(t *testing.T) {
	ctx := context.Background()
	history := NewMemoryHistory()
	for i := 0; i < 10; i++ {
		require.NoError(t, history.Record(ctx, lighting.HistoryEntry{Summary: "storm flooding event"}))
	}

	similar, err := history.Similar(ctx, "storm flooding event")
	require.NoError(t, err)
	assert.Len(t, similar, historyLimit)
}

func TestParseHistoryResponse(t *testing.T) {
	ts := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	data := map[string]models.JSONObject{
		"Get": map[string]any{
			decisionClassName: []any{
				map[string]any{
					"summary":     "storm over hospital zone",
					"actionTaken": "brightness 100%",
					"outcome":     "Resolved",
					"alertLevel":  "HIGH",
					"riskScore":   72.5,
					"timestamp":   ts.Format(time.RFC3339),
					"_additional": map[string]any{"id": "abc-123"},
				},
				// Malformed rows are skipped, not fatal.
				"not a map",
			},
		},
	}

	entries := parseHistoryResponse(data)
	require.Len(t, entries, 1)
	assert.Equal(t, "abc-123", entries[0].ID)
	assert.Equal(t, "storm over hospital zone", entries[0].Summary)
	assert.Equal(t, 72.5, entries[0].RiskScore)
	assert.True(t, entries[0].Timestamp.Equal(ts))
}

func TestParseHistoryResponseEmpty(t *testing.T) {
	assert.Empty(t, parseHistoryResponse(nil))
	assert.Empty(t, parseHistoryResponse(map[string]models.JSONObject{"Get": "bogus"}))
}
