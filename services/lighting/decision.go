// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lighting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/CityPulse/services/pipeline"
)

// HistoryEntry is one persisted decision, retrievable later by summary
// similarity to inform future decisions.
type HistoryEntry struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	ActionTaken string    `json:"action_taken"`
	Outcome     string    `json:"outcome"`
	RiskScore   float64   `json:"risk_score"`
	AlertLevel  string    `json:"alert_level"`
	Timestamp   time.Time `json:"timestamp"`
}

// DecisionHistory is the retrieval store consulted before each decision and
// appended to after it. A disabled store returns ErrHistoryDisabled from
// Similar; the stage degrades to its no-history text.
type DecisionHistory interface {
	Similar(ctx context.Context, summary string) ([]HistoryEntry, error)
	Record(ctx context.Context, entry HistoryEntry) error
}

// NoHistoryContext is recorded when the history store has nothing relevant
// or is unavailable.
const NoHistoryContext = "No similar historical incidents found."

// Risk thresholds on the [0,100] scale.
const (
	criticalRiskThreshold = 80.0
	highRiskThreshold     = 60.0
	moderateRiskThreshold = 40.0

	immediateResponseMinutes = 5
	urgentResponseMinutes    = 15
	standardResponseMinutes  = 30
)

// DecisionStage turns the anomaly assessment into an operational decision:
// comprehensive risk score on [0,100], risk level, response timeline,
// prioritized recommendations, and a resource allocation plan. Historical
// context is consulted from the decision history store and the new decision
// is persisted back.
type DecisionStage struct {
	history DecisionHistory
}

func NewDecisionStage(history DecisionHistory) *DecisionStage {
	return &DecisionStage{history: history}
}

func (s *DecisionStage) Name() string { return "decision_engine" }

func (s *DecisionStage) Run(ctx context.Context, state *pipeline.State) pipeline.Result {
	assessment := state.Map("anomaly_assessment")
	if assessment == nil {
		state.SetStageError(s.Name(), map[string]any{"error": "anomaly assessment not found in state"})
		return pipeline.Errorf(pipeline.ErrMissingKey(s.Name(), "anomaly_assessment"))
	}

	summary := pipeline.MapString(assessment, "summary", "No summary available")

	historicalContext := NoHistoryContext
	if s.history != nil {
		if entries, err := s.history.Similar(ctx, summary); err == nil && len(entries) > 0 {
			historicalContext = formatHistoricalContext(entries)
		}
	}

	riskScore := ComprehensiveRiskScore(assessment)
	riskLevel := RiskLevel(riskScore)
	metadata := pipeline.MapMap(assessment, "detection_metadata")
	totalAnomalies := int(pipeline.MapFloat(metadata, "total_anomalies", 0))
	timeline := responseTimeline(riskLevel, totalAnomalies)
	recommendations := operationalRecommendations(assessment, historicalContext)
	resourcePlan := resourceAllocationPlan(riskLevel, assessment)

	categories := pipeline.MapMap(metadata, "detection_categories")
	crossModal := int(pipeline.MapFloat(categories, "cross_modal", 0))

	confidence := pipeline.Clamp(85+float64(min(10, totalAnomalies*2))-float64(crossModal*5), 50, 100)
	dataQualityScore := 95.0 - float64(crossModal*10)
	grade := "B"
	if dataQualityScore >= 90 {
		grade = "A"
	}
	sensorConsistency := "Good"
	if crossModal > 0 {
		sensorConsistency = "Issues Detected"
	}

	analysis := map[string]any{
		"comprehensive_risk_score":    riskScore,
		"risk_level":                  riskLevel,
		"operational_recommendations": recommendations,
		"resource_allocation_plan":    resourcePlan,
		"decision_confidence":         confidence,
		"execution_timeline_minutes":  timeline,
		"historical_context_used":     historicalContext,
		"data_quality_assessment": map[string]any{
			"score":              dataQualityScore,
			"grade":              grade,
			"sensor_consistency": sensorConsistency,
		},
	}
	state.Set("decision_analysis", analysis)

	if s.history != nil {
		entry := HistoryEntry{
			ID:          uuid.NewString(),
			Summary:     summary,
			ActionTaken: joinTopActions(recommendations, 3),
			Outcome:     "Pending",
			RiskScore:   riskScore,
			AlertLevel:  riskLevel,
			Timestamp:   time.Now().UTC(),
		}
		// Persistence failure never degrades the decision itself.
		if err := s.history.Record(ctx, entry); err != nil {
			state.SetStageError("decision_history", map[string]any{"error": err.Error()})
		}
	}

	return pipeline.Success(fmt.Sprintf("decision analysis completed: %s risk level", riskLevel),
		"risk_score", riskScore,
		"risk_level", riskLevel,
		"recommendations", len(recommendations))
}

// ComprehensiveRiskScore sums the status base, severity weights, and
// category weights, clamped to [0,100].
func ComprehensiveRiskScore(assessment map[string]any) float64 {
	if len(assessment) == 0 {
		return 0
	}

	base := 50.0
	switch pipeline.MapString(assessment, "system_status", "NOMINAL") {
	case "CRITICAL":
		base = 90
	case "WARNING":
		base = 60
	case "NOMINAL":
		base = 10
	case "ERROR":
		base = 100
	}

	metadata := pipeline.MapMap(assessment, "detection_metadata")
	breakdown := pipeline.MapMap(metadata, "severity_breakdown")
	severityRisk := pipeline.MapFloat(breakdown, "critical", 0)*25 +
		pipeline.MapFloat(breakdown, "high", 0)*15 +
		pipeline.MapFloat(breakdown, "medium", 0)*8 +
		pipeline.MapFloat(breakdown, "low", 0)*3

	categories := pipeline.MapMap(metadata, "detection_categories")
	categoryRisk := pipeline.MapFloat(categories, "environmental", 0)*10 +
		pipeline.MapFloat(categories, "traffic", 0)*8 +
		pipeline.MapFloat(categories, "weather", 0)*6 +
		pipeline.MapFloat(categories, "cross_modal", 0)*5

	return pipeline.Clamp(base+severityRisk+categoryRisk, 0, 100)
}

// RiskLevel maps a risk score on [0,100] to its band, highest first.
func RiskLevel(score float64) string {
	switch {
	case score >= criticalRiskThreshold:
		return "CRITICAL"
	case score >= highRiskThreshold:
		return "HIGH"
	case score >= moderateRiskThreshold:
		return "MODERATE"
	default:
		return "LOW"
	}
}

func responseTimeline(riskLevel string, anomalyCount int) int {
	if riskLevel == "CRITICAL" {
		return immediateResponseMinutes
	}
	if riskLevel == "HIGH" || anomalyCount >= 3 {
		return urgentResponseMinutes
	}
	return standardResponseMinutes
}

func operationalRecommendations(assessment map[string]any, historicalContext string) []any {
	seen := make(map[string]bool)
	var recs []string
	add := func(items ...string) {
		for _, item := range items {
			if !seen[item] {
				seen[item] = true
				recs = append(recs, item)
			}
		}
	}

	metadata := pipeline.MapMap(assessment, "detection_metadata")
	categories := pipeline.MapMap(metadata, "detection_categories")
	status := pipeline.MapString(assessment, "system_status", "NOMINAL")

	anomalies := pipeline.MapSlice(assessment, "anomalies_detected")
	anomalyHas := func(typeSub, severity string) bool {
		for _, raw := range anomalies {
			a, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			t := pipeline.MapString(a, "type", "")
			sv := pipeline.MapString(a, "severity", "")
			// Empty typeSub matches any anomaly type.
			if (typeSub == "" || containsSub(t, typeSub)) && (severity == "" || sv == severity) {
				return true
			}
		}
		return false
	}

	if pipeline.MapFloat(categories, "environmental", 0) > 0 {
		if anomalyHas("", "CRITICAL") || anomalyHas("", "HIGH") {
			add("Deploy environmental monitoring teams to affected areas",
				"Consider issuing public health advisories")
		}
		if anomalyHas("NOISE", "") {
			add("Investigate noise sources and implement mitigation measures")
		}
	}
	if pipeline.MapFloat(categories, "traffic", 0) > 0 {
		if anomalyHas("INCIDENT", "") {
			add("Dispatch emergency response teams immediately",
				"Implement traffic diversion protocols",
				"Coordinate with emergency services")
		}
		if anomalyHas("CONGESTION", "") {
			add("Activate dynamic traffic signal optimization",
				"Deploy traffic management personnel to key intersections")
		}
	}
	if pipeline.MapFloat(categories, "weather", 0) > 0 {
		if anomalyHas("SEVERE", "") || anomalyHas("EXTREME", "") {
			add("Activate severe weather emergency protocols",
				"Issue weather-related safety warnings to public")
		} else {
			add("Monitor weather conditions for potential escalation")
		}
	}
	if pipeline.MapFloat(categories, "cross_modal", 0) > 0 {
		add("Perform immediate sensor calibration and validation checks",
			"Cross-reference readings with backup monitoring systems")
	}

	switch status {
	case "CRITICAL":
		add("Activate emergency operations center",
			"Establish incident command structure",
			"Implement real-time monitoring protocols")
	case "WARNING":
		add("Escalate monitoring frequency",
			"Place response teams on standby",
			"Prepare contingency response plans")
	}

	if containsSub(historicalContext, "historical") && containsSub(historicalContext, "successful") {
		add("Apply proven strategies from similar historical incidents")
	}

	// Insertion order is priority order; the leading recommendations feed
	// the persisted ActionTaken.
	out := make([]any, len(recs))
	for i, r := range recs {
		out[i] = r
	}
	return out
}

func resourceAllocationPlan(riskLevel string, assessment map[string]any) map[string]any {
	metadata := pipeline.MapMap(assessment, "detection_metadata")
	categories := pipeline.MapMap(metadata, "detection_categories")

	requirements := map[string]any{}

	if pipeline.MapFloat(categories, "environmental", 0) > 0 {
		count := 1
		if riskLevel == "HIGH" || riskLevel == "CRITICAL" {
			count = 2
		}
		requirements["environmental_team"] = map[string]any{
			"count":          count,
			"specialization": "Air quality and noise monitoring specialists",
		}
	}
	if pipeline.MapFloat(categories, "traffic", 0) > 0 {
		units := 1
		if riskLevel == "CRITICAL" {
			units = 2
		}
		requirements["traffic_management"] = map[string]any{
			"patrol_units":        units,
			"traffic_controllers": units,
		}
	}
	if pipeline.MapFloat(categories, "weather", 0) > 0 {
		officers := 1
		if riskLevel == "CRITICAL" {
			officers = 2
		}
		requirements["weather_response"] = map[string]any{
			"meteorology_team":       1,
			"public_safety_officers": officers,
		}
	}
	if pipeline.MapFloat(categories, "cross_modal", 0) > 0 {
		requirements["technical_support"] = map[string]any{
			"sensor_technicians": 2,
			"it_support":         1,
		}
	}
	if riskLevel == "HIGH" || riskLevel == "CRITICAL" {
		requirements["coordination"] = map[string]any{
			"incident_commander":     1,
			"communications_officer": 1,
		}
	}

	return map[string]any{
		"priority_level":        riskLevel,
		"total_incidents":       int(pipeline.MapFloat(metadata, "total_anomalies", 0)),
		"resource_requirements": requirements,
	}
}

func formatHistoricalContext(entries []HistoryEntry) string {
	ctx := "Found similar historical incidents:\n"
	for _, e := range entries {
		ctx += fmt.Sprintf("- Summary: %q -> Action: %q -> Outcome: %q\n",
			e.Summary, e.ActionTaken, e.Outcome)
	}
	return ctx
}

func joinTopActions(recommendations []any, n int) string {
	out := ""
	for i, r := range recommendations {
		if i >= n {
			break
		}
		if i > 0 {
			out += "; "
		}
		out += fmt.Sprintf("%v", r)
	}
	return out
}

func containsSub(s, sub string) bool {
	if sub == "" {
		return false
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
