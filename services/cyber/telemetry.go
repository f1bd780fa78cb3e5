// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cyber implements the security SOAR chain: telemetry capture with
// PII redaction, anomaly detection, threat intelligence enrichment,
// response playbook generation, and execution validation.
package cyber

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"time"

	"github.com/AleutianAI/CityPulse/services/pipeline"
)

// Redacted replaces any PII/PHI match in event descriptions.
const Redacted = "[REDACTED]"

// piiPatterns covers SSN, email, Aadhaar, PAN, credit card, and phone
// number formats. Order matters: the longer numeric patterns must run
// before the 10-digit phone pattern eats their prefixes.
var piiPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
	regexp.MustCompile(`\b\d{4}\s?\d{4}\s?\d{4}\s?\d{4}\b`),
	regexp.MustCompile(`\b\d{12}\b`),
	regexp.MustCompile(`\b[A-Z]{5}[0-9]{4}[A-Z]\b`),
	regexp.MustCompile(`\b\d{10}\b`),
}

// RedactPII masks personally identifiable information in free text.
func RedactPII(text string) string {
	for _, p := range piiPatterns {
		text = p.ReplaceAllString(text, Redacted)
	}
	return text
}

// enhancedRedactionZones lists zone types under stricter compliance
// regimes; their events get a second redaction pass.
func enhancedRedactionZone(zoneType string) bool {
	return zoneType == "hospital_zone" || zoneType == "education_zone"
}

var sampleEventTypes = []string{
	"firewall_block", "ids_alert", "failed_login", "anomalous_traffic", "port_scan",
}

// TelemetryStage normalizes raw security telemetry into a standard shape
// and redacts PII from descriptions. When no telemetry is seeded it
// synthesizes a sample batch, mirroring a quiet sensor feed.
type TelemetryStage struct {
	rng *rand.Rand
}

func NewTelemetryStage(seed int64) *TelemetryStage {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &TelemetryStage{rng: rand.New(rand.NewSource(seed))}
}

func (s *TelemetryStage) Name() string { return "telemetry" }

func (s *TelemetryStage) Run(_ context.Context, state *pipeline.State) pipeline.Result {
	zoneType := state.String("zone_type", "")
	raw := state.Slice("raw_telemetry")
	synthesized := false
	if len(raw) == 0 {
		raw = s.sampleTelemetry(zoneType)
		synthesized = true
	}

	normalized := make([]any, 0, len(raw))
	for _, item := range raw {
		event, ok := item.(map[string]any)
		if !ok {
			continue
		}
		description := RedactPII(pipeline.MapString(event, "description", ""))
		if enhancedRedactionZone(zoneType) {
			description = RedactPII(description)
		}
		normalized = append(normalized, map[string]any{
			"timestamp":      pipeline.MapString(event, "timestamp", time.Now().UTC().Format(time.RFC3339)),
			"source_ip":      pipeline.MapString(event, "source_ip", "unknown"),
			"destination_ip": pipeline.MapString(event, "destination_ip", "unknown"),
			"event_type":     pipeline.MapString(event, "event_type", "unknown"),
			"severity":       pipeline.MapString(event, "severity", "LOW"),
			"description":    description,
			"raw_event":      event,
		})
	}

	state.Set("normalized_telemetry", normalized)

	return pipeline.Success(
		fmt.Sprintf("normalized %d events", len(normalized)),
		"events", len(normalized), "synthesized", synthesized)
}

// sampleTelemetry synthesizes a small batch of routine security events.
func (s *TelemetryStage) sampleTelemetry(zoneType string) []any {
	n := 5 + s.rng.Intn(11)
	events := make([]any, 0, n)
	severities := []string{"LOW", "MEDIUM", "HIGH", "CRITICAL"}
	now := time.Now().UTC()

	for i := 0; i < n; i++ {
		events = append(events, map[string]any{
			"timestamp":      now.Add(-time.Duration(s.rng.Intn(61)) * time.Minute).Format(time.RFC3339),
			"source_ip":      fmt.Sprintf("192.168.%d.%d", 1+s.rng.Intn(255), 1+s.rng.Intn(255)),
			"destination_ip": fmt.Sprintf("10.0.%d.%d", 1+s.rng.Intn(255), 1+s.rng.Intn(255)),
			"event_type":     sampleEventTypes[s.rng.Intn(len(sampleEventTypes))],
			"severity":       severities[s.rng.Intn(len(severities))],
			"description":    fmt.Sprintf("Security event detected in %s: potential threat activity", zoneType),
			"port":           1 + s.rng.Intn(65535),
		})
	}
	return events
}
