// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lighting

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/CityPulse/services/pipeline"
)

func TestFusionAppliesQualityWeights(t *testing.T) {
	state := pipeline.NewState(map[string]any{
		"zone_id": "zone-1",
		"filtered_data": map[string]any{
			"weather": map[string]any{
				"condition":           "Clear",
				"temperature_celsius": 30.0,
				"wind_kph":            10.0,
				"humidity_percent":    60.0,
				"air_quality_index":   80.0,
			},
		},
		"validation_report": map[string]any{
			"weather_validation": map[string]any{"status": "INVALID"},
		},
	})

	res := NewFusionStage().Run(context.Background(), state)
	assert.Equal(t, pipeline.StatusPartialSuccess, res.Status)

	fused := state.Map("fused_environmental_state")
	require.NotNil(t, fused)
	weather := pipeline.MapMap(fused, "weather_context")
	require.NotEmpty(t, weather)

	// INVALID source is down-weighted by 0.5, never dropped.
	assert.InDelta(t, 15.0, pipeline.MapFloat(weather, "temperature_celsius", 0), 1e-9)
	assert.InDelta(t, 5.0, pipeline.MapFloat(weather, "wind_kph", 0), 1e-9)
	assert.InDelta(t, 40.0, pipeline.MapFloat(weather, "air_quality_index", 0), 1e-9)
	assert.Equal(t, 0.5, pipeline.MapFloat(weather, "quality_weight", 0))
}

// A source absent from input never appears in the fused output.
func TestFusionAbsentSourceOmitted(t *testing.T) {
	state := pipeline.NewState(map[string]any{
		"filtered_data": map[string]any{
			"cctv": map[string]any{
				"pedestrian_count": 10.0,
				"vehicle_count":    20.0,
				"congestion_level": 0.4,
			},
		},
	})

	NewFusionStage().Run(context.Background(), state)

	fused := state.Map("fused_environmental_state")
	assert.Empty(t, pipeline.MapMap(fused, "weather_context"))
	assert.Empty(t, pipeline.MapMap(fused, "environmental_context"))
	assert.NotEmpty(t, pipeline.MapMap(fused, "traffic_context"))

	stats := state.Map("fusion_stats")
	assert.Equal(t, 1.0, pipeline.MapFloat(stats, "sources_fused", -1))
}

func TestFusionWithNoSources(t *testing.T) {
	state := pipeline.NewState(nil)
	res := NewFusionStage().Run(context.Background(), state)

	assert.Equal(t, pipeline.StatusPartialSuccess, res.Status)
	stats := state.Map("fusion_stats")
	assert.Equal(t, 0.0, pipeline.MapFloat(stats, "sources_fused", -1))
}

func TestSituationLevelBands(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{0.95, "critical"},
		{0.85, "critical"},
		{0.84, "high"},
		{0.7, "high"},
		{0.6, "moderate"},
		{0.45, "moderate"},
		{0.1, "low"},
		{0.0, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SituationLevel(tt.score), "score %v", tt.score)
	}
}

// Category mapping is monotonic: a higher score never maps to a lower band.
func TestSituationLevelMonotonic(t *testing.T) {
	rank := map[string]int{"unknown": 0, "low": 1, "moderate": 2, "high": 3, "critical": 4}
	prev := -1
	for s := 0.0; s <= 1.0; s += 0.01 {
		r := rank[SituationLevel(s)]
		assert.GreaterOrEqual(t, r, prev, "band rank dropped at score %.2f", s)
		prev = r
	}
}

// Stacked extreme inputs must land the awareness score in the critical band.
func TestAwarenessStackedExtremes(t *testing.T) {
	state := pipeline.NewState(map[string]any{
		"fused_environmental_state": map[string]any{
			"weather_context": map[string]any{
				"temperature_celsius": 45.0,
				"wind_kph":            40.0,
				"humidity_percent":    50.0,
			},
			"traffic_context": map[string]any{
				"congestion_level":  0.95,
				"incident_detected": true,
				"pedestrian_count":  50.0,
				"vehicle_count":     90.0,
			},
			"environmental_context": map[string]any{
				"air_quality_index": 120.0,
				"noise_level_db":    80.0,
				"ambient_light_lux": 30.0,
			},
		},
		"quality_report": map[string]any{"overall_quality": 0.9},
	})

	res := NewAwarenessStage().Run(context.Background(), state)
	require.Equal(t, pipeline.StatusSuccess, res.Status)

	awareness := state.Map("situational_awareness")
	score := pipeline.MapFloat(awareness, "situational_awareness_score", -1)
	assert.GreaterOrEqual(t, score, 0.85, "stacked extremes must reach the critical band")
	assert.LessOrEqual(t, score, 1.0)
	assert.Equal(t, "critical", pipeline.MapString(awareness, "situation_level", ""))
}

// The composite score stays in [0,1] for out-of-physical-range inputs.
func TestAwarenessScoreBounded(t *testing.T) {
	state := pipeline.NewState(map[string]any{
		"fused_environmental_state": map[string]any{
			"weather_context": map[string]any{
				"temperature_celsius": 1000.0,
				"wind_kph":            5000.0,
				"humidity_percent":    400.0,
			},
			"traffic_context": map[string]any{
				"congestion_level":  50.0,
				"incident_detected": true,
				"pedestrian_count":  1e6,
				"vehicle_count":     1e6,
			},
			"environmental_context": map[string]any{
				"air_quality_index": 1e5,
				"noise_level_db":    1e4,
				"ambient_light_lux": -100.0,
			},
		},
		"quality_report": map[string]any{"overall_quality": 1.0},
	})

	NewAwarenessStage().Run(context.Background(), state)
	score := pipeline.MapFloat(state.Map("situational_awareness"), "situational_awareness_score", -1)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}

func TestAwarenessDefaultsWhenFusedStateMissing(t *testing.T) {
	state := pipeline.NewState(nil)
	res := NewAwarenessStage().Run(context.Background(), state)

	assert.Equal(t, pipeline.StatusSuccess, res.Status)
	awareness := state.Map("situational_awareness")
	require.NotNil(t, awareness)
	// Neutral defaults (temp 20, congestion 0, AQI 50, light 200) plus a
	// neutral quality factor produce a zero score.
	assert.Equal(t, 0.0, pipeline.MapFloat(awareness, "situational_awareness_score", -1))
	assert.Equal(t, "unknown", pipeline.MapString(awareness, "situation_level", ""))
}

func TestCrossValidationDetectsAQIDiscrepancy(t *testing.T) {
	state := pipeline.NewState(map[string]any{
		"fused_environmental_state": map[string]any{
			"weather_context": map[string]any{
				"condition":         "clear",
				"air_quality_index": 150.0,
				"wind_kph":          5.0,
			},
			"traffic_context": map[string]any{
				"congestion_level": 0.5,
				"vehicle_count":    30.0,
			},
			"environmental_context": map[string]any{
				"air_quality_index": 40.0,
				"noise_level_db":    63.0,
			},
		},
	})

	res := NewCrossValidationStage().Run(context.Background(), state)
	require.Equal(t, pipeline.StatusSuccess, res.Status)

	report := state.Map("cross_sensor_validation")
	correlations := pipeline.MapMap(report, "correlation_analysis")
	aqiCorr := pipeline.MapMap(correlations, "weather_iot_correlation")
	assert.Equal(t, "INCONSISTENT", pipeline.MapString(aqiCorr, "status", ""))
	assert.NotEmpty(t, pipeline.MapSlice(report, "anomalies_detected"))
	assert.Less(t, pipeline.MapFloat(report, "overall_consistency", 1), 1.0)
}
