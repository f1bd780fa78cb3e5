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
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/CityPulse/services/llm"
	"github.com/AleutianAI/CityPulse/services/pipeline"
)

// PlaybookStep is one response action with an execution priority; lower
// runs first.
type PlaybookStep struct {
	Action   string
	Priority int
}

type playbookTemplate struct {
	Name  string
	Steps []PlaybookStep
}

var playbookTemplates = map[string]playbookTemplate{
	"ransomware": {
		Name: "Ransomware Response",
		Steps: []PlaybookStep{
			{Action: "isolate_affected_systems", Priority: 1},
			{Action: "backup_critical_data", Priority: 2},
			{Action: "block_command_control_ips", Priority: 3},
			{Action: "deploy_edr_scan", Priority: 4},
			{Action: "notify_incident_response_team", Priority: 5},
		},
	},
	"brute_force": {
		Name: "Brute Force Response",
		Steps: []PlaybookStep{
			{Action: "block_source_ip", Priority: 1},
			{Action: "enforce_account_lockout", Priority: 2},
			{Action: "enable_mfa", Priority: 3},
			{Action: "reset_compromised_passwords", Priority: 4},
		},
	},
	"data_exfiltration": {
		Name: "Data Exfiltration Response",
		Steps: []PlaybookStep{
			{Action: "block_outbound_traffic", Priority: 1},
			{Action: "isolate_compromised_endpoint", Priority: 2},
			{Action: "capture_network_traffic", Priority: 3},
			{Action: "forensic_analysis", Priority: 4},
		},
	},
	"zero_trust": {
		Name: "Zero Trust Response",
		Steps: []PlaybookStep{
			{Action: "enforce_microsegmentation", Priority: 1},
			{Action: "continuous_authentication", Priority: 2},
			{Action: "least_privilege_enforcement", Priority: 3},
			{Action: "encrypt_all_traffic", Priority: 4},
		},
	},
}

// PlaybookStage selects a response template from the attributed
// techniques, customizes it for the zone, and asks the advisory model to
// confirm automated response. A NO from the model routes to manual
// review; an unreachable model proceeds with the deterministic playbook.
type PlaybookStage struct {
	client llm.Client
}

func NewPlaybookStage(client llm.Client) *PlaybookStage {
	return &PlaybookStage{client: client}
}

func (s *PlaybookStage) Name() string { return "decision_engine" }

func (s *PlaybookStage) Run(ctx context.Context, state *pipeline.State) pipeline.Result {
	intel := state.Map("threat_intelligence")
	zoneType := state.String("zone_type", "")

	ttps := make([]string, 0)
	for _, raw := range pipeline.MapSlice(intel, "mitre_ttps") {
		if t, ok := raw.(string); ok {
			ttps = append(ttps, t)
		}
	}
	riskLevel := pipeline.MapString(pipeline.MapMap(intel, "mission_impact"), "risk_level", "MEDIUM")

	prompt := fmt.Sprintf(
		"As a cybersecurity decision engine, analyze this threat intelligence "+
			"and confirm the response strategy:\n\n"+
			"Zone: %s\nDetected TTPs: %s\nRisk Level: %s\n\n"+
			"Should we proceed with automated response? Reply with YES or NO and brief reason.",
		zoneType, strings.Join(ttps, ", "), riskLevel)

	verdict := ""
	proceed := true
	if s.client != nil {
		text, err := s.client.Generate(ctx, prompt, llm.GenerationParams{})
		if err == nil && strings.TrimSpace(text) != "" {
			verdict = strings.TrimSpace(text)
			proceed = strings.Contains(strings.ToUpper(verdict), "YES")
		}
	}

	if !proceed {
		state.Set("response_playbook", map[string]any{
			"playbook_id": "manual_review",
			"name":        "Manual Review Required",
			"zone_type":   zoneType,
			"risk_level":  riskLevel,
			"steps": []any{
				map[string]any{"action": "escalate_to_human_operator", "priority": 1.0},
			},
			"reason": verdict,
		})
		return pipeline.Partial("automated response declined, escalating to operator")
	}

	playbook := GeneratePlaybook(ttps, riskLevel, zoneType)
	state.Set("response_playbook", playbook)

	return pipeline.Success(
		fmt.Sprintf("playbook %q with %d steps", pipeline.MapString(playbook, "name", ""),
			len(pipeline.MapSlice(playbook, "steps"))),
		"playbook", pipeline.MapString(playbook, "name", ""),
		"automation_level", pipeline.MapString(playbook, "automation_level", ""))
}

// GeneratePlaybook picks the template matching the technique mix and
// customizes it for the zone. Ransomware techniques dominate, then
// credential abuse, then exfiltration indicators; zero trust is the
// default posture.
func GeneratePlaybook(ttps []string, riskLevel, zoneType string) map[string]any {
	has := make(map[string]bool, len(ttps))
	for _, t := range ttps {
		has[t] = true
	}

	var template playbookTemplate
	switch {
	case has["T1486"]:
		template = playbookTemplates["ransomware"]
	case has["T1078"]:
		template = playbookTemplates["brute_force"]
	case has["T1040"] || has["T1071"]:
		template = playbookTemplates["data_exfiltration"]
	default:
		template = playbookTemplates["zero_trust"]
	}

	automation := "SEMI"
	if riskLevel == "CRITICAL" || riskLevel == "HIGH" {
		automation = "FULL"
	}

	steps := customizeSteps(template.Steps, zoneType)
	return map[string]any{
		"playbook_id":      uuid.NewString()[:8],
		"name":             template.Name,
		"zone_type":        zoneType,
		"risk_level":       riskLevel,
		"steps":            stepsToState(steps),
		"estimated_time":   float64(len(template.Steps) * 2),
		"automation_level": automation,
		"generated_at":     time.Now().UTC().Format(time.RFC3339),
	}
}

// customizeSteps prepends and appends zone-specific actions. High-stakes
// zones get a protective pre-step before any containment runs.
func customizeSteps(steps []PlaybookStep, zoneType string) []PlaybookStep {
	customized := make([]PlaybookStep, len(steps))
	copy(customized, steps)

	switch zoneType {
	case "defence_zone":
		customized = append([]PlaybookStep{{Action: "activate_zero_trust_mode", Priority: 0}}, customized...)
		customized = append(customized, PlaybookStep{Action: "deploy_honeypots", Priority: len(customized)})
	case "hospital_zone":
		customized = append([]PlaybookStep{{Action: "ensure_life_support_continuity", Priority: 0}}, customized...)
		customized = append(customized, PlaybookStep{Action: "notify_medical_staff", Priority: len(customized)})
	case "airport_zone":
		customized = append([]PlaybookStep{{Action: "verify_ot_ics_isolation", Priority: 0}}, customized...)
		customized = append(customized, PlaybookStep{Action: "activate_backup_systems", Priority: len(customized)})
	}

	sort.SliceStable(customized, func(i, j int) bool {
		return customized[i].Priority < customized[j].Priority
	})
	return customized
}

func stepsToState(steps []PlaybookStep) []any {
	out := make([]any, len(steps))
	for i, s := range steps {
		out[i] = map[string]any{"action": s.Action, "priority": float64(s.Priority)}
	}
	return out
}
