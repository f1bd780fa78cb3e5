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

// mitreTTPs names the subset of MITRE ATT&CK techniques the detector can
// attribute.
var mitreTTPs = map[string]string{
	"T1190": "Exploit Public-Facing Application",
	"T1133": "External Remote Services",
	"T1078": "Valid Accounts",
	"T1486": "Data Encrypted for Impact (Ransomware)",
	"T1040": "Network Sniffing",
	"T1055": "Process Injection",
	"T1003": "OS Credential Dumping",
	"T1021": "Remote Services",
	"T1071": "Application Layer Protocol",
	"T1027": "Obfuscated Files or Information",
}

// zoneProfile is the knowledge-graph entry for a zone type: its critical
// assets and the techniques historically aimed at it.
type zoneProfile struct {
	CriticalAssets     []string
	MissionCriticality string
	Dependencies       []string
	CommonThreats      []string
}

var zoneKnowledgeGraph = map[string]zoneProfile{
	"airport_zone": {
		CriticalAssets:     []string{"runway_lighting_system", "air_traffic_control", "baggage_handling"},
		MissionCriticality: "CRITICAL",
		Dependencies:       []string{"power_grid", "network_backbone"},
		CommonThreats:      []string{"T1190", "T1133", "T1040"},
	},
	"hospital_zone": {
		CriticalAssets:     []string{"patient_records", "life_support_systems", "pharmacy_systems"},
		MissionCriticality: "CRITICAL",
		Dependencies:       []string{"database_servers", "medical_devices"},
		CommonThreats:      []string{"T1486", "T1078", "T1003"},
	},
	"defence_zone": {
		CriticalAssets:     []string{"classified_systems", "command_control", "surveillance"},
		MissionCriticality: "CRITICAL",
		Dependencies:       []string{"secure_comms", "satellite_links"},
		CommonThreats:      []string{"T1055", "T1021", "T1071"},
	},
	"education_zone": {
		CriticalAssets:     []string{"student_records", "research_data", "learning_platforms"},
		MissionCriticality: "HIGH",
		Dependencies:       []string{"cloud_services", "databases"},
		CommonThreats:      []string{"T1078", "T1190", "T1486"},
	},
}

// IntelStage maps detected anomalies to MITRE techniques, looks the zone
// up in the knowledge graph, and scores the mission impact.
type IntelStage struct{}

func NewIntelStage() *IntelStage { return &IntelStage{} }

func (s *IntelStage) Name() string { return "threat_intelligence" }

func (s *IntelStage) Run(_ context.Context, state *pipeline.State) pipeline.Result {
	anomalies := state.Slice("anomalies")
	zoneType := state.String("zone_type", "")

	ttps := MapToMITRE(anomalies)
	impact := assessMissionImpact(zoneType, ttps)

	descriptions := make(map[string]any, len(ttps))
	for _, ttp := range ttps {
		desc, ok := mitreTTPs[ttp]
		if !ok {
			desc = "Unknown"
		}
		descriptions[ttp] = desc
	}

	state.Set("threat_intelligence", map[string]any{
		"mitre_ttps":           toAnySlice(ttps),
		"ttp_descriptions":     descriptions,
		"mission_impact":       impact,
		"threat_actors":        toAnySlice(identifyThreatActors(ttps)),
		"recommended_priority": pipeline.MapString(impact, "risk_level", "MEDIUM"),
		"timestamp":            time.Now().UTC().Format(time.RFC3339),
	})

	return pipeline.Success(
		fmt.Sprintf("%d techniques attributed, risk %s", len(ttps),
			pipeline.MapString(impact, "risk_level", "MEDIUM")),
		"ttps", len(ttps), "risk_level", pipeline.MapString(impact, "risk_level", "MEDIUM"))
}

// MapToMITRE attributes each anomaly to a technique: credential events to
// T1078, scans to T1040, traffic anomalies to T1071, and rapid-fire
// bursts to T1190. Duplicates collapse; output order is stable.
func MapToMITRE(anomalies []any) []string {
	seen := make(map[string]bool)
	for _, raw := range anomalies {
		a, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		eventType := pipeline.MapString(a, "event_type", "")
		switch {
		case eventType == "failed_login":
			seen["T1078"] = true
		case eventType == "port_scan":
			seen["T1040"] = true
		case eventType == "anomalous_traffic":
			seen["T1071"] = true
		case pipeline.MapString(a, "type", "") == "rapid_fire_events":
			seen["T1190"] = true
		}
	}

	ttps := make([]string, 0, len(seen))
	for ttp := range seen {
		ttps = append(ttps, ttp)
	}
	sort.Strings(ttps)
	return ttps
}

// assessMissionImpact scores the threat against the zone profile:
// techniques matching the zone's common threats weigh 25 each, any
// attributed technique 10, capped at 100.
func assessMissionImpact(zoneType string, ttps []string) map[string]any {
	profile, known := zoneKnowledgeGraph[zoneType]

	matching := 0
	if known {
		common := make(map[string]bool, len(profile.CommonThreats))
		for _, t := range profile.CommonThreats {
			common[t] = true
		}
		for _, ttp := range ttps {
			if common[ttp] {
				matching++
			}
		}
	}

	score := min(100, matching*25+len(ttps)*10)

	riskLevel := "MEDIUM"
	switch {
	case score > 75:
		riskLevel = "CRITICAL"
	case score > 50:
		riskLevel = "HIGH"
	}

	criticality := "MEDIUM"
	assets := []string{}
	if known {
		criticality = profile.MissionCriticality
		assets = profile.CriticalAssets
	}

	return map[string]any{
		"mission_criticality": criticality,
		"affected_assets":     toAnySlice(assets),
		"impact_score":        float64(score),
		"risk_level":          riskLevel,
	}
}

// identifyThreatActors infers likely actor classes from the technique
// mix.
func identifyThreatActors(ttps []string) []string {
	has := make(map[string]bool, len(ttps))
	for _, t := range ttps {
		has[t] = true
	}

	actors := make([]string, 0, 3)
	if has["T1486"] {
		actors = append(actors, "Ransomware Groups")
	}
	if has["T1055"] || has["T1003"] {
		actors = append(actors, "APT Groups")
	}
	if has["T1190"] {
		actors = append(actors, "Opportunistic Attackers")
	}
	if len(actors) == 0 {
		actors = append(actors, "Unknown")
	}
	return actors
}

func toAnySlice(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
