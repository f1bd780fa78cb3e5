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
	"math/rand"
	"time"

	"github.com/AleutianAI/CityPulse/services/pipeline"
)

var telemetrySources = []string{"SCADA", "Smart_Meters", "Substations", "Transmission_Lines"}

// TelemetryStage synthesizes per-zone grid readings and normalizes them
// with health indicators. Healthy zones have voltage in 11-14 kV,
// frequency in 49.9-50.1 Hz, and transformer temperature below 85 C; the
// aggregate stability score is the healthy share of zones times 100.
type TelemetryStage struct {
	rng *rand.Rand
}

// NewTelemetryStage builds the stage with a deterministic reading source.
// A zero seed falls back to the wall clock.
func NewTelemetryStage(seed int64) *TelemetryStage {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &TelemetryStage{rng: rand.New(rand.NewSource(seed))}
}

func (s *TelemetryStage) Name() string { return "grid_telemetry" }

func (s *TelemetryStage) Run(_ context.Context, state *pipeline.State) pipeline.Result {
	zoneIDs := zoneIDsFromState(state)
	if len(zoneIDs) == 0 {
		state.Set("grid_telemetry", map[string]any{
			"raw_events":        []any{},
			"normalized_events": []any{},
			"aggregate_metrics": map[string]any{
				"total_load_mw":        0.0,
				"average_voltage_kv":   0.0,
				"healthy_zones":        0.0,
				"total_zones":          0.0,
				"grid_stability_score": 0.0,
			},
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return pipeline.Partial("no affected zones to sample")
	}

	raw := make([]any, 0, len(zoneIDs))
	normalized := make([]any, 0, len(zoneIDs))
	totalLoad := 0.0
	voltageSum := 0.0
	healthy := 0

	for _, zoneID := range zoneIDs {
		reading := s.sample(zoneID)
		raw = append(raw, reading)

		voltage := pipeline.MapFloat(reading, "voltage_kv", 0)
		frequency := pipeline.MapFloat(reading, "frequency_hz", 0)
		load := pipeline.MapFloat(reading, "load_mw", 0)
		temp := pipeline.MapFloat(reading, "transformer_temp_celsius", 0)

		health := map[string]any{
			"voltage_ok":   voltage >= 11 && voltage <= 14,
			"frequency_ok": frequency >= 49.9 && frequency <= 50.1,
			"temp_ok":      temp < 85,
		}
		if pipeline.MapBool(health, "voltage_ok", false) &&
			pipeline.MapBool(health, "frequency_ok", false) &&
			pipeline.MapBool(health, "temp_ok", false) {
			healthy++
		}

		normalized = append(normalized, map[string]any{
			"zone_id":   zoneID,
			"timestamp": pipeline.MapString(reading, "timestamp", ""),
			"metrics": map[string]any{
				"voltage_kv":       voltage,
				"frequency_hz":     frequency,
				"load_mw":          load,
				"transformer_temp": temp,
				"relay_status":     pipeline.MapString(reading, "relay_status", "NORMAL"),
				"line_losses":      pipeline.MapFloat(reading, "line_losses_percent", 0),
				"power_factor":     pipeline.MapFloat(reading, "power_factor", 0),
			},
			"health_indicators": health,
			"data_source":       pipeline.MapString(reading, "source", "SCADA"),
		})

		totalLoad += load
		voltageSum += voltage
	}

	stability := float64(healthy) / float64(len(zoneIDs)) * 100

	state.Set("grid_telemetry", map[string]any{
		"raw_events":        raw,
		"normalized_events": normalized,
		"aggregate_metrics": map[string]any{
			"total_load_mw":        round2(totalLoad),
			"average_voltage_kv":   round2(voltageSum / float64(len(zoneIDs))),
			"healthy_zones":        float64(healthy),
			"total_zones":          float64(len(zoneIDs)),
			"grid_stability_score": round1(stability),
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})

	return pipeline.Success(
		fmt.Sprintf("sampled %d zones, stability %.1f%%", len(zoneIDs), stability),
		"zones", len(zoneIDs), "stability", round1(stability))
}

// sample produces one synthetic reading for a zone.
func (s *TelemetryStage) sample(zoneID string) map[string]any {
	return map[string]any{
		"zone_id":                  zoneID,
		"timestamp":                time.Now().UTC().Format(time.RFC3339),
		"voltage_kv":               round2(10 + s.rng.Float64()*5),
		"frequency_hz":             round2(49.8 + s.rng.Float64()*0.4),
		"load_mw":                  round2(5 + s.rng.Float64()*45),
		"transformer_temp_celsius": round1(60 + s.rng.Float64()*35),
		"relay_status":             []string{"NORMAL", "TRIPPED", "ALERT"}[s.rng.Intn(3)],
		"line_losses_percent":      round2(2 + s.rng.Float64()*6),
		"power_factor":             round3(0.85 + s.rng.Float64()*0.13),
		"source":                   telemetrySources[s.rng.Intn(len(telemetrySources))],
	}
}
