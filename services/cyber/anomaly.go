// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cyber

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/AleutianAI/CityPulse/services/pipeline"
)

// Baseline event counts per (event type, source). Exceeding a baseline
// flags the source as anomalous.
var baselineThresholds = map[string]int{
	"failed_login":      5,
	"port_scan":         10,
	"anomalous_traffic": 3,
}

// rapidFireWindow flags consecutive events from one source closer
// together than this as machine-driven.
const rapidFireWindow = time.Second

// AnomalyStage counts normalized events per type and source against the
// baselines, grades exceedances, and looks for rapid-fire timing
// patterns.
type AnomalyStage struct{}

func NewAnomalyStage() *AnomalyStage { return &AnomalyStage{} }

func (s *AnomalyStage) Name() string { return "anomaly_detection" }

func (s *AnomalyStage) Run(_ context.Context, state *pipeline.State) pipeline.Result {
	telemetry := state.Slice("normalized_telemetry")
	anomalies := detectAnomalies(telemetry)
	anomalies = append(anomalies, detectRapidFire(telemetry)...)

	state.Set("anomalies", anomalies)

	return pipeline.Success(
		fmt.Sprintf("detected %d anomalies over %d events", len(anomalies), len(telemetry)),
		"anomalies", len(anomalies), "events", len(telemetry))
}

// detectAnomalies counts events per (type, source) and emits a
// threshold_exceeded anomaly for each pair over its baseline.
func detectAnomalies(telemetry []any) []any {
	type key struct{ eventType, sourceIP string }
	counts := make(map[key]int)

	for _, raw := range telemetry {
		event, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		counts[key{
			eventType: pipeline.MapString(event, "event_type", "unknown"),
			sourceIP:  pipeline.MapString(event, "source_ip", "unknown"),
		}]++
	}

	// Stable output order for reproducible reports.
	keys := make([]key, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].eventType != keys[j].eventType {
			return keys[i].eventType < keys[j].eventType
		}
		return keys[i].sourceIP < keys[j].sourceIP
	})

	anomalies := make([]any, 0)
	for _, k := range keys {
		threshold, watched := baselineThresholds[k.eventType]
		count := counts[k]
		if !watched || count <= threshold {
			continue
		}
		anomalies = append(anomalies, map[string]any{
			"type":       "threshold_exceeded",
			"event_type": k.eventType,
			"source_ip":  k.sourceIP,
			"count":      float64(count),
			"threshold":  float64(threshold),
			"severity":   exceedanceSeverity(count, threshold),
			"confidence": min(0.9, float64(count)/float64(threshold*2)),
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
		})
	}
	return anomalies
}

// exceedanceSeverity grades how far over baseline the count landed.
func exceedanceSeverity(count, threshold int) string {
	ratio := float64(count) / float64(threshold)
	switch {
	case ratio > 5:
		return "CRITICAL"
	case ratio > 3:
		return "HIGH"
	case ratio > 1.5:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// detectRapidFire flags consecutive events from the same source arriving
// under a second apart.
func detectRapidFire(telemetry []any) []any {
	type stamped struct {
		sourceIP string
		ts       time.Time
		raw      string
	}

	events := make([]stamped, 0, len(telemetry))
	for _, raw := range telemetry {
		event, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		rawTS := pipeline.MapString(event, "timestamp", "")
		ts, err := time.Parse(time.RFC3339, rawTS)
		if err != nil {
			continue
		}
		events = append(events, stamped{
			sourceIP: pipeline.MapString(event, "source_ip", "unknown"),
			ts:       ts,
			raw:      rawTS,
		})
	}
	// Stable: RFC3339 truncates to seconds, so bursts collapse onto equal
	// timestamps and must keep their arrival order.
	sort.SliceStable(events, func(i, j int) bool { return events[i].ts.Before(events[j].ts) })

	anomalies := make([]any, 0)
	for i := 1; i < len(events); i++ {
		if events[i].sourceIP != events[i-1].sourceIP {
			continue
		}
		if events[i].ts.Sub(events[i-1].ts) < rapidFireWindow {
			anomalies = append(anomalies, map[string]any{
				"type":       "rapid_fire_events",
				"source_ip":  events[i].sourceIP,
				"severity":   "HIGH",
				"confidence": 0.8,
				"timestamp":  events[i].raw,
			})
		}
	}
	return anomalies
}
