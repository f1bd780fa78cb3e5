// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cyber

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/CityPulse/services/pipeline"
)

func TestMapToMITRE(t *testing.T) {
	anomalies := []any{
		map[string]any{"type": "threshold_exceeded", "event_type": "failed_login"},
		map[string]any{"type": "threshold_exceeded", "event_type": "port_scan"},
		map[string]any{"type": "threshold_exceeded", "event_type": "anomalous_traffic"},
		map[string]any{"type": "rapid_fire_events"},
		// Duplicate attribution collapses.
		map[string]any{"type": "threshold_exceeded", "event_type": "failed_login"},
	}

	ttps := MapToMITRE(anomalies)
	assert.Equal(t, []string{"T1040", "T1071", "T1078", "T1190"}, ttps)
}

func TestMapToMITREUnknownEvents(t *testing.T) {
	anomalies := []any{
		map[string]any{"type": "threshold_exceeded", "event_type": "firewall_block"},
	}
	assert.Empty(t, MapToMITRE(anomalies))
}

func TestMissionImpactScoring(t *testing.T) {
	tests := []struct {
		name      string
		zoneType  string
		ttps      []string
		wantScore float64
		wantLevel string
	}{
		{
			name:     "no techniques",
			zoneType: "airport_zone", ttps: nil,
			wantScore: 0, wantLevel: "MEDIUM",
		},
		{
			// T1040 matches airport common threats: 25 + 10.
			name:     "one matching technique",
			zoneType: "airport_zone", ttps: []string{"T1040"},
			wantScore: 35, wantLevel: "MEDIUM",
		},
		{
			// T1040+T1190 both match: 50 + 20.
			name:     "two matching techniques",
			zoneType: "airport_zone", ttps: []string{"T1040", "T1190"},
			wantScore: 70, wantLevel: "HIGH",
		},
		{
			// Three matches: 75 + 30, capped at 100.
			name:     "full match caps at hundred",
			zoneType: "hospital_zone", ttps: []string{"T1486", "T1078", "T1003"},
			wantScore: 100, wantLevel: "CRITICAL",
		},
		{
			// Unknown zone: nothing matches, 10 per technique.
			name:     "unknown zone type",
			zoneType: "commercial_zone", ttps: []string{"T1078", "T1190"},
			wantScore: 20, wantLevel: "MEDIUM",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			impact := assessMissionImpact(tt.zoneType, tt.ttps)
			assert.Equal(t, tt.wantScore, pipeline.MapFloat(impact, "impact_score", -1))
			assert.Equal(t, tt.wantLevel, pipeline.MapString(impact, "risk_level", ""))
		})
	}
}

func TestIdentifyThreatActors(t *testing.T) {
	tests := []struct {
		name string
		ttps []string
		want []string
	}{
		{"ransomware", []string{"T1486"}, []string{"Ransomware Groups"}},
		{"apt via injection", []string{"T1055"}, []string{"APT Groups"}},
		{"apt via cred dump", []string{"T1003"}, []string{"APT Groups"}},
		{"opportunistic", []string{"T1190"}, []string{"Opportunistic Attackers"}},
		{"nothing known", []string{"T1071"}, []string{"Unknown"}},
		{
			"mixed",
			[]string{"T1486", "T1003", "T1190"},
			[]string{"Ransomware Groups", "APT Groups", "Opportunistic Attackers"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, identifyThreatActors(tt.ttps))
		})
	}
}

func TestIntelStageEnrichesState(t *testing.T) {
	state := pipeline.NewState(map[string]any{
		"zone_id":   "hospital_zone",
		"zone_type": "hospital_zone",
		"anomalies": []any{
			map[string]any{"type": "threshold_exceeded", "event_type": "failed_login"},
		},
	})

	res := NewIntelStage().Run(context.Background(), state)
	require.Equal(t, pipeline.StatusSuccess, res.Status)

	intel := state.Map("threat_intelligence")
	require.NotNil(t, intel)
	assert.Equal(t, []any{"T1078"}, pipeline.MapSlice(intel, "mitre_ttps"))

	descriptions := pipeline.MapMap(intel, "ttp_descriptions")
	assert.Equal(t, "Valid Accounts", pipeline.MapString(descriptions, "T1078", ""))

	impact := pipeline.MapMap(intel, "mission_impact")
	assert.Equal(t, "CRITICAL", pipeline.MapString(impact, "mission_criticality", ""))
	assert.Contains(t, pipeline.MapSlice(impact, "affected_assets"), "patient_records")
}
