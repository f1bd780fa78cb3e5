// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package blackout

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/CityPulse/services/llm"
	"github.com/AleutianAI/CityPulse/services/pipeline"
)

// Grid operating thresholds. Readings outside these bands are anomalies.
const (
	voltageLowKV        = 11.0
	voltageHighKV       = 14.0
	frequencyLowHz      = 49.9
	frequencyHighHz     = 50.1
	transformerTempCrit = 85.0
)

// annotationUnavailable is recorded when the advisory model cannot be
// reached. Annotations never gate the deterministic outputs.
const annotationUnavailable = "LLM assessment unavailable"

// annotate asks the advisory model for free-text commentary, substituting
// the fallback on any failure.
func annotate(ctx context.Context, client llm.Client, prompt string) string {
	if client == nil {
		return annotationUnavailable
	}
	text, err := client.Generate(ctx, prompt, llm.GenerationParams{})
	if err != nil {
		return annotationUnavailable
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return annotationUnavailable
	}
	return text
}

// AnalysisStage inspects normalized telemetry for threshold violations and
// scores the risk of cascading failure.
type AnalysisStage struct {
	client llm.Client
}

func NewAnalysisStage(client llm.Client) *AnalysisStage {
	return &AnalysisStage{client: client}
}

func (s *AnalysisStage) Name() string { return "grid_analysis" }

func (s *AnalysisStage) Run(ctx context.Context, state *pipeline.State) pipeline.Result {
	telemetry := state.Map("grid_telemetry")
	anomalies := detectGridAnomalies(telemetry)
	capacityLost := state.Float("capacity_lost_mw", 0)
	risk := CascadeRisk(anomalies, capacityLost)

	criticalZones := make([]any, 0)
	for _, raw := range anomalies {
		a, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if pipeline.MapString(a, "severity", "") == "CRITICAL" {
			criticalZones = append(criticalZones, pipeline.MapString(a, "zone_id", ""))
		}
	}

	stability := pipeline.MapFloat(pipeline.MapMap(telemetry, "aggregate_metrics"), "grid_stability_score", 0)
	prompt := fmt.Sprintf(
		"As a grid operations expert, analyze this blackout incident:\n\n"+
			"Cause: %s\nSeverity: %s\nCapacity Lost: %.1f MW\n"+
			"Grid Stability: %.1f%%\nAnomalies Detected: %d\nCascade Risk: %.0f%%\n\n"+
			"Provide a brief assessment (2-3 sentences) of immediate risks, "+
			"recovery complexity, and priority actions needed.",
		state.String("cause", "unknown"), state.String("severity", "UNKNOWN"),
		capacityLost, stability, len(anomalies), risk*100)

	priority := "NORMAL"
	switch {
	case risk > 0.7:
		priority = "IMMEDIATE"
	case risk > 0.4:
		priority = "HIGH"
	}

	state.Set("grid_analysis", map[string]any{
		"anomalies":            anomalies,
		"anomaly_count":        float64(len(anomalies)),
		"cascade_risk":         round3(risk),
		"grid_stability":       stability,
		"critical_zones":       criticalZones,
		"llm_assessment":       annotate(ctx, s.client, prompt),
		"recommended_priority": priority,
	})

	return pipeline.Success(
		fmt.Sprintf("%d anomalies, cascade risk %.1f%%", len(anomalies), risk*100),
		"anomalies", len(anomalies), "cascade_risk", round3(risk), "priority", priority)
}

// detectGridAnomalies walks the normalized telemetry events and flags
// threshold violations and relay trips.
func detectGridAnomalies(telemetry map[string]any) []any {
	anomalies := make([]any, 0)

	for _, raw := range pipeline.MapSlice(telemetry, "normalized_events") {
		event, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		zoneID := pipeline.MapString(event, "zone_id", "")
		metrics := pipeline.MapMap(event, "metrics")

		if v := pipeline.MapFloat(metrics, "voltage_kv", voltageLowKV); v < voltageLowKV {
			anomalies = append(anomalies, map[string]any{
				"zone_id":   zoneID,
				"type":      "VOLTAGE_LOW",
				"severity":  "HIGH",
				"value":     v,
				"threshold": voltageLowKV,
				"impact":    "Equipment damage risk, brownout conditions",
			})
		}

		if f := pipeline.MapFloat(metrics, "frequency_hz", 50.0); f < frequencyLowHz || f > frequencyHighHz {
			anomalies = append(anomalies, map[string]any{
				"zone_id":  zoneID,
				"type":     "FREQUENCY_DEVIATION",
				"severity": "CRITICAL",
				"value":    f,
				"impact":   "Grid instability, potential cascade failure",
			})
		}

		if t := pipeline.MapFloat(metrics, "transformer_temp", 0); t > transformerTempCrit {
			anomalies = append(anomalies, map[string]any{
				"zone_id":  zoneID,
				"type":     "TRANSFORMER_OVERHEAT",
				"severity": "HIGH",
				"value":    t,
				"impact":   "Transformer failure imminent, automatic shutdown required",
			})
		}

		if pipeline.MapString(metrics, "relay_status", "NORMAL") == "TRIPPED" {
			anomalies = append(anomalies, map[string]any{
				"zone_id":  zoneID,
				"type":     "RELAY_TRIP",
				"severity": "CRITICAL",
				"impact":   "Zone disconnected from grid, immediate restoration needed",
			})
		}
	}

	return anomalies
}

// CascadeRisk scores the likelihood of a cascading failure in [0,1]:
// capacity loss contributes up to 0.4, critical anomalies up to 0.3, and
// any frequency deviation a flat 0.3.
func CascadeRisk(anomalies []any, capacityLostMW float64) float64 {
	risk := min(capacityLostMW/100, 0.4)

	critical := 0.0
	frequencyDeviation := false
	for _, raw := range anomalies {
		a, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if pipeline.MapString(a, "severity", "") == "CRITICAL" {
			critical++
		}
		if pipeline.MapString(a, "type", "") == "FREQUENCY_DEVIATION" {
			frequencyDeviation = true
		}
	}

	risk += min(critical*0.15, 0.3)
	if frequencyDeviation {
		risk += 0.3
	}
	return min(risk, 1.0)
}
