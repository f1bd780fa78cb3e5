// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package blackout

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/CityPulse/services/llm"
	"github.com/AleutianAI/CityPulse/services/pipeline"
)

func normalizedEvent(zoneID string, voltage, frequency, temp float64, relay string) map[string]any {
	return map[string]any{
		"zone_id": zoneID,
		"metrics": map[string]any{
			"voltage_kv":       voltage,
			"frequency_hz":     frequency,
			"transformer_temp": temp,
			"relay_status":     relay,
		},
	}
}

func TestDetectGridAnomalies(t *testing.T) {
	telemetry := map[string]any{
		"normalized_events": []any{
			normalizedEvent("healthy", 12.5, 50.0, 70, "NORMAL"),
			normalizedEvent("brownout", 10.2, 50.0, 70, "NORMAL"),
			normalizedEvent("unstable", 12.5, 50.15, 92, "TRIPPED"),
		},
	}

	anomalies := detectGridAnomalies(telemetry)
	require.Len(t, anomalies, 4)

	byType := map[string]string{}
	for _, raw := range anomalies {
		a, ok := raw.(map[string]any)
		require.True(t, ok)
		byType[pipeline.MapString(a, "type", "")] = pipeline.MapString(a, "severity", "")
	}
	assert.Equal(t, "HIGH", byType["VOLTAGE_LOW"])
	assert.Equal(t, "CRITICAL", byType["FREQUENCY_DEVIATION"])
	assert.Equal(t, "HIGH", byType["TRANSFORMER_OVERHEAT"])
	assert.Equal(t, "CRITICAL", byType["RELAY_TRIP"])
}

func TestCascadeRiskComponents(t *testing.T) {
	freqAnomaly := map[string]any{"type": "FREQUENCY_DEVIATION", "severity": "CRITICAL"}
	relayAnomaly := map[string]any{"type": "RELAY_TRIP", "severity": "CRITICAL"}

	tests := []struct {
		name      string
		anomalies []any
		capLost   float64
		want      float64
	}{
		{"quiet grid", nil, 0, 0},
		{"capacity loss capped at 0.4", nil, 500, 0.4},
		{"one critical anomaly", []any{relayAnomaly}, 0, 0.15},
		{"critical count capped at 0.3", []any{relayAnomaly, relayAnomaly, relayAnomaly}, 0, 0.3},
		{"frequency deviation adds 0.3", []any{freqAnomaly}, 0, 0.45},
		{"everything clamps to 1", []any{freqAnomaly, relayAnomaly, relayAnomaly}, 500, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CascadeRisk(tt.anomalies, tt.capLost), 1e-9)
		})
	}
}

func TestAnalysisStagePriorityBands(t *testing.T) {
	tests := []struct {
		name    string
		capLost float64
		events  []any
		want    string
	}{
		{"calm", 10, nil, "NORMAL"},
		{"elevated loss", 45, nil, "HIGH"},
		{
			"frequency deviation escalates",
			45,
			[]any{normalizedEvent("z", 12.5, 50.15, 70, "NORMAL")},
			"IMMEDIATE",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := pipeline.NewState(map[string]any{
				"incident_id":      "inc-1",
				"cause":            "equipment_failure",
				"severity":         string(SeverityModerate),
				"capacity_lost_mw": tt.capLost,
				"grid_telemetry":   map[string]any{"normalized_events": tt.events},
			})

			res := NewAnalysisStage(nil).Run(context.Background(), state)
			require.Equal(t, pipeline.StatusSuccess, res.Status)

			analysis := state.Map("grid_analysis")
			assert.Equal(t, tt.want, pipeline.MapString(analysis, "recommended_priority", ""))
		})
	}
}

// The LLM annotation is advisory: a failing client leaves the
// deterministic analysis intact with a placeholder assessment.
func TestAnalysisStageLLMFailure(t *testing.T) {
	state := pipeline.NewState(map[string]any{
		"capacity_lost_mw": 30.0,
		"grid_telemetry": map[string]any{
			"normalized_events": []any{
				normalizedEvent("z", 10.0, 50.0, 70, "NORMAL"),
			},
		},
	})

	client := &llm.StaticClient{Err: assert.AnError}
	res := NewAnalysisStage(client).Run(context.Background(), state)
	require.Equal(t, pipeline.StatusSuccess, res.Status)

	analysis := state.Map("grid_analysis")
	assert.Equal(t, annotationUnavailable, pipeline.MapString(analysis, "llm_assessment", ""))
	assert.Equal(t, 1.0, pipeline.MapFloat(analysis, "anomaly_count", -1))
}

func TestSeverityForCapacityLost(t *testing.T) {
	tests := []struct {
		percent float64
		want    Severity
	}{
		{10, SeverityMinor},
		{29.9, SeverityMinor},
		{30, SeverityModerate},
		{60, SeverityModerate},
		{61, SeverityMajor},
		{85, SeverityMajor},
		{86, SeverityCatastrophic},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SeverityForCapacityLost(tt.percent), "%.1f%%", tt.percent)
	}
}
