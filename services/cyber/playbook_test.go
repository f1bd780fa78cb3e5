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

	"github.com/AleutianAI/CityPulse/services/llm"
	"github.com/AleutianAI/CityPulse/services/pipeline"
)

func TestPlaybookTemplateSelection(t *testing.T) {
	tests := []struct {
		name string
		ttps []string
		want string
	}{
		{"ransomware wins", []string{"T1486", "T1078"}, "Ransomware Response"},
		{"brute force", []string{"T1078"}, "Brute Force Response"},
		{"exfiltration via sniffing", []string{"T1040"}, "Data Exfiltration Response"},
		{"exfiltration via protocol", []string{"T1071"}, "Data Exfiltration Response"},
		{"default zero trust", nil, "Zero Trust Response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			playbook := GeneratePlaybook(tt.ttps, "MEDIUM", "commercial_zone")
			assert.Equal(t, tt.want, pipeline.MapString(playbook, "name", ""))
		})
	}
}

func TestPlaybookAutomationLevel(t *testing.T) {
	tests := []struct {
		risk string
		want string
	}{
		{"CRITICAL", "FULL"},
		{"HIGH", "FULL"},
		{"MEDIUM", "SEMI"},
		{"LOW", "SEMI"},
	}
	for _, tt := range tests {
		playbook := GeneratePlaybook(nil, tt.risk, "commercial_zone")
		assert.Equal(t, tt.want, pipeline.MapString(playbook, "automation_level", ""), tt.risk)
	}
}

// Zone customization brackets the template: a protective pre-step first,
// a zone-specific wrap-up last.
func TestPlaybookZoneCustomization(t *testing.T) {
	tests := []struct {
		zoneType string
		first    string
		last     string
	}{
		{"defence_zone", "activate_zero_trust_mode", "deploy_honeypots"},
		{"hospital_zone", "ensure_life_support_continuity", "notify_medical_staff"},
		{"airport_zone", "verify_ot_ics_isolation", "activate_backup_systems"},
	}
	for _, tt := range tests {
		t.Run(tt.zoneType, func(t *testing.T) {
			playbook := GeneratePlaybook([]string{"T1078"}, "HIGH", tt.zoneType)
			steps := pipeline.MapSlice(playbook, "steps")
			require.GreaterOrEqual(t, len(steps), 6)

			first := steps[0].(map[string]any)
			last := steps[len(steps)-1].(map[string]any)
			assert.Equal(t, tt.first, pipeline.MapString(first, "action", ""))
			assert.Equal(t, tt.last, pipeline.MapString(last, "action", ""))
		})
	}
}

// Estimated time is two minutes per template step, before customization.
func TestPlaybookEstimatedTime(t *testing.T) {
	playbook := GeneratePlaybook([]string{"T1486"}, "HIGH", "commercial_zone")
	assert.Equal(t, 10.0, pipeline.MapFloat(playbook, "estimated_time", -1))
}

func TestPlaybookStageProceedsOnYes(t *testing.T) {
	state := pipeline.NewState(map[string]any{
		"zone_type": "hospital_zone",
		"threat_intelligence": map[string]any{
			"mitre_ttps":     []any{"T1486"},
			"mission_impact": map[string]any{"risk_level": "CRITICAL"},
		},
	})

	client := &llm.StaticClient{Response: "YES - containment is urgent."}
	res := NewPlaybookStage(client).Run(context.Background(), state)
	require.Equal(t, pipeline.StatusSuccess, res.Status)

	playbook := state.Map("response_playbook")
	assert.Equal(t, "Ransomware Response", pipeline.MapString(playbook, "name", ""))
	assert.Equal(t, "FULL", pipeline.MapString(playbook, "automation_level", ""))
	assert.NotEmpty(t, pipeline.MapString(playbook, "playbook_id", ""))
}

func TestPlaybookStageEscalatesOnNo(t *testing.T) {
	state := pipeline.NewState(map[string]any{
		"zone_type": "defence_zone",
		"threat_intelligence": map[string]any{
			"mitre_ttps":     []any{"T1055"},
			"mission_impact": map[string]any{"risk_level": "HIGH"},
		},
	})

	client := &llm.StaticClient{Response: "NO - classified systems need human sign-off."}
	res := NewPlaybookStage(client).Run(context.Background(), state)
	assert.Equal(t, pipeline.StatusPartialSuccess, res.Status)

	playbook := state.Map("response_playbook")
	assert.Equal(t, "manual_review", pipeline.MapString(playbook, "playbook_id", ""))

	steps := pipeline.MapSlice(playbook, "steps")
	require.Len(t, steps, 1)
	step := steps[0].(map[string]any)
	assert.Equal(t, "escalate_to_human_operator", pipeline.MapString(step, "action", ""))
}

// An unreachable model never blocks the response: the deterministic
// playbook proceeds.
func TestPlaybookStageProceedsWhenLLMUnavailable(t *testing.T) {
	state := pipeline.NewState(map[string]any{
		"zone_type": "airport_zone",
		"threat_intelligence": map[string]any{
			"mitre_ttps":     []any{"T1078"},
			"mission_impact": map[string]any{"risk_level": "HIGH"},
		},
	})

	client := &llm.StaticClient{Err: assert.AnError}
	res := NewPlaybookStage(client).Run(context.Background(), state)
	require.Equal(t, pipeline.StatusSuccess, res.Status)

	playbook := state.Map("response_playbook")
	assert.Equal(t, "Brute Force Response", pipeline.MapString(playbook, "name", ""))
}
