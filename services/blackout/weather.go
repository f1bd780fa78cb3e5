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
	"time"

	"github.com/AleutianAI/CityPulse/services/llm"
	"github.com/AleutianAI/CityPulse/services/pipeline"
)

// weatherEffect captures how a weather condition amplifies an outage.
type weatherEffect struct {
	SeverityMultiplier float64
	RecoveryDelayHours float64
	CascadeRisk        float64
}

// Unknown conditions fall back to "clear".
var weatherEffects = map[string]weatherEffect{
	"storm":    {SeverityMultiplier: 1.5, RecoveryDelayHours: 4, CascadeRisk: 0.3},
	"heatwave": {SeverityMultiplier: 1.3, RecoveryDelayHours: 2, CascadeRisk: 0.2},
	"flooding": {SeverityMultiplier: 1.4, RecoveryDelayHours: 8, CascadeRisk: 0.4},
	"cyclone":  {SeverityMultiplier: 2.0, RecoveryDelayHours: 12, CascadeRisk: 0.6},
	"clear":    {SeverityMultiplier: 1.0, RecoveryDelayHours: 0, CascadeRisk: 0.0},
	"rain":     {SeverityMultiplier: 1.1, RecoveryDelayHours: 1, CascadeRisk: 0.1},
}

// weatherCausedBlackout reports whether the stated cause implicates weather.
func weatherCausedBlackout(cause string) bool {
	switch strings.ToLower(cause) {
	case "weather_damage", "lightning", "storm", "flooding":
		return true
	}
	return false
}

// WeatherStage folds the prevailing weather condition into the incident
// assessment: severity amplification, recovery delay, added cascade risk,
// and crew safety constraints.
type WeatherStage struct {
	client llm.Client
}

func NewWeatherStage(client llm.Client) *WeatherStage {
	return &WeatherStage{client: client}
}

func (s *WeatherStage) Name() string { return "weather_impact" }

func (s *WeatherStage) Run(ctx context.Context, state *pipeline.State) pipeline.Result {
	condition := strings.ToLower(state.String("weather_condition", "clear"))
	if condition == "" {
		condition = "clear"
	}
	effect, ok := weatherEffects[condition]
	if !ok {
		effect = weatherEffects["clear"]
	}

	cause := state.String("cause", "unknown")
	caused := weatherCausedBlackout(cause)
	combined := effect.SeverityMultiplier
	if caused {
		combined *= 1.3
	}

	impact := map[string]any{
		"weather_condition":        condition,
		"weather_caused_blackout":  caused,
		"severity_multiplier":      effect.SeverityMultiplier,
		"recovery_delay_hours":     effect.RecoveryDelayHours,
		"additional_cascade_risk":  effect.CascadeRisk,
		"combined_severity_factor": round2(combined),
		"outdoor_work_safe":        condition == "clear" || condition == "rain",
		"equipment_exposure_risk":  condition == "storm" || condition == "cyclone" || condition == "flooding",
	}

	prompt := fmt.Sprintf(
		"As a meteorological disaster analyst, assess this scenario:\n\n"+
			"Blackout Cause: %s\nCurrent Weather: %s\nWeather-Caused: %t\n"+
			"Recovery Delay: %.0f hours\nOutdoor Work Safe: %t\n\n"+
			"Provide 2 critical weather-related considerations for power restoration teams.",
		cause, condition, caused, effect.RecoveryDelayHours,
		pipeline.MapBool(impact, "outdoor_work_safe", true))

	state.Set("weather_impact", map[string]any{
		"impact_assessment":   impact,
		"recommendations":     weatherRecommendations(impact),
		"llm_weather_advice":  annotate(ctx, s.client, prompt),
		"severity_adjustment": round2(combined),
		"timestamp":           time.Now().UTC().Format(time.RFC3339),
	})

	return pipeline.Success(
		fmt.Sprintf("weather %s, severity multiplier %.1f", condition, effect.SeverityMultiplier),
		"condition", condition, "combined_severity", round2(combined))
}

// weatherRecommendations derives crew guidance from the impact assessment.
func weatherRecommendations(impact map[string]any) []any {
	recs := make([]any, 0, 8)

	if !pipeline.MapBool(impact, "outdoor_work_safe", true) {
		recs = append(recs,
			"Deploy indoor repair crews only until weather clears",
			"Postpone non-critical outdoor maintenance")
	}
	if pipeline.MapBool(impact, "equipment_exposure_risk", false) {
		recs = append(recs,
			"Protect exposed equipment with weatherproof covers",
			"Deploy emergency drainage systems near critical infrastructure")
	}
	if pipeline.MapBool(impact, "weather_caused_blackout", false) {
		recs = append(recs,
			"Inspect all weather-exposed infrastructure for damage",
			"Activate weather emergency protocols")
	}
	if delay := pipeline.MapFloat(impact, "recovery_delay_hours", 0); delay > 4 {
		recs = append(recs,
			fmt.Sprintf("Extend recovery timeline by %.0f hours", delay),
			"Arrange temporary shelter for affected populations")
	}

	return recs
}
