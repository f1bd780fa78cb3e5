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

	"github.com/AleutianAI/CityPulse/services/pipeline"
)

// Anomaly is one detected finding. Lists of anomalies are concatenated
// across detectors, never edited after creation.
type Anomaly struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// Detection thresholds for the lighting domain.
const (
	criticalAQI         = 150.0
	warningAQI          = 100.0
	criticalNoiseDB     = 85.0
	warningNoiseDB      = 75.0
	criticalCongestion  = 0.9
	warningCongestion   = 0.7
	highPedestrianCount = 45.0
	highVehicleCount    = 90.0
	extremeTempLow      = 0.0
	extremeTempHigh     = 40.0
	highWindKPH         = 30.0
	lowLightLux         = 20.0
	criticalLowLight    = 5.0
)

var severeConditions = []string{
	"storm", "heavy rain", "snow", "blizzard", "thunderstorm", "hail", "tornado", "cyclone",
}

// AnomalyStage scans the fused contexts against fixed thresholds plus
// cross-modal checks and writes anomaly_assessment: system status
// (NOMINAL/WARNING/CRITICAL), alert level (GREEN/YELLOW/RED), monitoring
// priority, and recommended actions.
type AnomalyStage struct{}

func NewAnomalyStage() *AnomalyStage { return &AnomalyStage{} }

func (s *AnomalyStage) Name() string { return "anomaly_detection" }

func (s *AnomalyStage) Run(_ context.Context, state *pipeline.State) pipeline.Result {
	fused := state.Map("fused_environmental_state")
	envCtx := pipeline.MapMap(fused, "environmental_context")
	trafficCtx := pipeline.MapMap(fused, "traffic_context")
	weatherCtx := pipeline.MapMap(fused, "weather_context")

	var anomalies []Anomaly
	anomalies = append(anomalies, detectEnvironmental(envCtx)...)
	anomalies = append(anomalies, detectTraffic(trafficCtx)...)
	anomalies = append(anomalies, detectWeather(weatherCtx)...)
	anomalies = append(anomalies, detectCrossModal(weatherCtx, trafficCtx, envCtx)...)

	status := systemStatus(anomalies)
	breakdown := severityBreakdown(anomalies)
	categories := categoryBreakdown(anomalies)
	criticalCount := breakdown["critical"] + breakdown["high"]

	alertLevel := "GREEN"
	switch status {
	case "CRITICAL":
		alertLevel = "RED"
	case "WARNING":
		alertLevel = "YELLOW"
	}

	priority := "routine"
	if status == "CRITICAL" || criticalCount > 0 {
		priority = "immediate"
	} else if status == "WARNING" {
		priority = "elevated"
	}

	assessment := map[string]any{
		"system_status":       status,
		"anomalies_detected":  anomalyList(anomalies),
		"summary":             assessmentSummary(status, anomalies, breakdown),
		"recommended_actions": recommendedActions(anomalies, status),
		"alert_level":         alertLevel,
		"monitoring_priority": priority,
		"detection_metadata": map[string]any{
			"total_anomalies": len(anomalies),
			"severity_breakdown": map[string]any{
				"critical": breakdown["critical"],
				"high":     breakdown["high"],
				"medium":   breakdown["medium"],
				"low":      breakdown["low"],
			},
			"detection_categories": map[string]any{
				"environmental": categories["environmental"],
				"traffic":       categories["traffic"],
				"weather":       categories["weather"],
				"cross_modal":   categories["cross_modal"],
			},
		},
	}

	state.Set("anomaly_assessment", assessment)

	return pipeline.Success(fmt.Sprintf("anomaly detection completed: %s status", status),
		"system_status", status,
		"anomalies_detected", len(anomalies),
		"alert_level", alertLevel)
}

func detectEnvironmental(env map[string]any) []Anomaly {
	if len(env) == 0 {
		return nil
	}
	var out []Anomaly

	aqi := pipeline.MapFloat(env, "air_quality_index", 0)
	noise := pipeline.MapFloat(env, "noise_level_db", 0)
	light := pipeline.MapFloat(env, "ambient_light_lux", 100)

	if aqi >= criticalAQI {
		out = append(out, Anomaly{"ENVIRONMENTAL_CRITICAL",
			fmt.Sprintf("Critical air quality detected: AQI %.0f", aqi), "CRITICAL"})
	} else if aqi >= warningAQI {
		out = append(out, Anomaly{"ENVIRONMENTAL_WARNING",
			fmt.Sprintf("Poor air quality: AQI %.0f", aqi), "MEDIUM"})
	}

	if noise >= criticalNoiseDB {
		out = append(out, Anomaly{"NOISE_CRITICAL",
			fmt.Sprintf("Excessive noise levels: %.0f dB", noise), "HIGH"})
	} else if noise >= warningNoiseDB {
		out = append(out, Anomaly{"NOISE_WARNING",
			fmt.Sprintf("Elevated noise levels: %.0f dB", noise), "MEDIUM"})
	}

	if light <= criticalLowLight {
		out = append(out, Anomaly{"LIGHTING_CRITICAL",
			fmt.Sprintf("Extremely low ambient light: %.0f lux", light), "HIGH"})
	} else if light <= lowLightLux {
		out = append(out, Anomaly{"LIGHTING_WARNING",
			fmt.Sprintf("Low ambient light conditions: %.0f lux", light), "LOW"})
	}
	return out
}

func detectTraffic(traffic map[string]any) []Anomaly {
	if len(traffic) == 0 {
		return nil
	}
	var out []Anomaly

	congestion := pipeline.MapFloat(traffic, "congestion_level", 0)
	pedestrians := pipeline.MapFloat(traffic, "pedestrian_count", 0)
	vehicles := pipeline.MapFloat(traffic, "vehicle_count", 0)

	if pipeline.MapBool(traffic, "incident_detected", false) {
		details := pipeline.MapString(traffic, "incident_details", "No details available")
		out = append(out, Anomaly{"TRAFFIC_INCIDENT",
			"Traffic incident detected: " + details, "CRITICAL"})
	}

	if congestion >= criticalCongestion {
		out = append(out, Anomaly{"TRAFFIC_CONGESTION_CRITICAL",
			fmt.Sprintf("Severe traffic congestion: %.0f%% capacity", congestion*100), "HIGH"})
	} else if congestion >= warningCongestion {
		out = append(out, Anomaly{"TRAFFIC_CONGESTION_WARNING",
			fmt.Sprintf("Heavy traffic conditions: %.0f%% capacity", congestion*100), "MEDIUM"})
	}

	if pedestrians >= highPedestrianCount {
		out = append(out, Anomaly{"PEDESTRIAN_SURGE",
			fmt.Sprintf("High pedestrian activity detected: %.0f people", pedestrians), "MEDIUM"})
	}
	if vehicles >= highVehicleCount {
		out = append(out, Anomaly{"VEHICLE_SURGE",
			fmt.Sprintf("High vehicle density: %.0f vehicles", vehicles), "MEDIUM"})
	}
	return out
}

func detectWeather(weather map[string]any) []Anomaly {
	if len(weather) == 0 {
		return nil
	}
	var out []Anomaly

	temp := pipeline.MapFloat(weather, "temperature_celsius", 20)
	wind := pipeline.MapFloat(weather, "wind_kph", 0)
	humidity := pipeline.MapFloat(weather, "humidity_percent", 50)
	condition := strings.ToLower(pipeline.MapString(weather, "condition", ""))

	if temp <= extremeTempLow {
		out = append(out, Anomaly{"WEATHER_EXTREME_COLD",
			fmt.Sprintf("Extreme cold conditions: %.1f C", temp), "HIGH"})
	} else if temp >= extremeTempHigh {
		out = append(out, Anomaly{"WEATHER_EXTREME_HEAT",
			fmt.Sprintf("Extreme heat conditions: %.1f C", temp), "HIGH"})
	}

	if wind >= highWindKPH {
		out = append(out, Anomaly{"WEATHER_HIGH_WIND",
			fmt.Sprintf("High wind conditions: %.0f km/h", wind), "MEDIUM"})
	}

	for _, severe := range severeConditions {
		if strings.Contains(condition, severe) {
			out = append(out, Anomaly{"WEATHER_SEVERE",
				"Severe weather conditions detected: " + condition, "HIGH"})
			break
		}
	}

	if humidity >= 90 {
		out = append(out, Anomaly{"WEATHER_HIGH_HUMIDITY",
			fmt.Sprintf("Extremely high humidity: %.0f%%", humidity), "LOW"})
	} else if humidity <= 10 {
		out = append(out, Anomaly{"WEATHER_LOW_HUMIDITY",
			fmt.Sprintf("Extremely low humidity: %.0f%%", humidity), "LOW"})
	}
	return out
}

func detectCrossModal(weather, traffic, env map[string]any) []Anomaly {
	var out []Anomaly

	weatherAQI := pipeline.MapFloat(weather, "air_quality_index", 50)
	iotAQI := pipeline.MapFloat(env, "air_quality_index", 50)
	diff := weatherAQI - iotAQI
	if diff < 0 {
		diff = -diff
	}
	if diff > 50 {
		out = append(out, Anomaly{"SENSOR_INCONSISTENCY",
			fmt.Sprintf("Large AQI discrepancy: weather reports %.0f, IoT sensors report %.0f",
				weatherAQI, iotAQI), "MEDIUM"})
	}

	congestion := pipeline.MapFloat(traffic, "congestion_level", 0)
	noise := pipeline.MapFloat(env, "noise_level_db", 50)
	if congestion > 0.8 && noise < 45 {
		out = append(out, Anomaly{"TRAFFIC_NOISE_INCONSISTENCY",
			fmt.Sprintf("High congestion (%.0f%%) but low noise (%.0f dB), possible sensor malfunction",
				congestion*100, noise), "MEDIUM"})
	}
	if congestion < 0.3 && noise > 80 {
		out = append(out, Anomaly{"NOISE_SOURCE_ANOMALY",
			fmt.Sprintf("Low traffic (%.0f%%) but high noise (%.0f dB), possible non-traffic noise source",
				congestion*100, noise), "MEDIUM"})
	}
	return out
}

// systemStatus collapses the anomaly list: any CRITICAL or HIGH severity is
// a CRITICAL system state, MEDIUM or LOW is WARNING, none is NOMINAL.
func systemStatus(anomalies []Anomaly) string {
	if len(anomalies) == 0 {
		return "NOMINAL"
	}
	for _, a := range anomalies {
		if a.Severity == "CRITICAL" || a.Severity == "HIGH" {
			return "CRITICAL"
		}
	}
	return "WARNING"
}

func severityBreakdown(anomalies []Anomaly) map[string]int {
	b := map[string]int{"critical": 0, "high": 0, "medium": 0, "low": 0}
	for _, a := range anomalies {
		b[strings.ToLower(a.Severity)]++
	}
	return b
}

func categoryBreakdown(anomalies []Anomaly) map[string]int {
	c := map[string]int{"environmental": 0, "traffic": 0, "weather": 0, "cross_modal": 0}
	for _, a := range anomalies {
		switch {
		case strings.Contains(a.Type, "INCONSISTENCY") || strings.Contains(a.Type, "NOISE_SOURCE"):
			c["cross_modal"]++
		case strings.Contains(a.Type, "ENVIRONMENTAL") || strings.Contains(a.Type, "NOISE") ||
			strings.Contains(a.Type, "LIGHTING"):
			c["environmental"]++
		case strings.Contains(a.Type, "TRAFFIC") || strings.Contains(a.Type, "PEDESTRIAN") ||
			strings.Contains(a.Type, "VEHICLE"):
			c["traffic"]++
		case strings.Contains(a.Type, "WEATHER"):
			c["weather"]++
		}
	}
	return c
}

func assessmentSummary(status string, anomalies []Anomaly, breakdown map[string]int) string {
	if status == "NOMINAL" {
		return "All monitoring systems operating within normal parameters. No anomalies detected."
	}
	high := breakdown["critical"] + breakdown["high"]
	if status == "CRITICAL" {
		return fmt.Sprintf(
			"Critical situation detected: %d high-priority anomalies among %d total issues require immediate attention.",
			high, len(anomalies))
	}
	return fmt.Sprintf(
		"Warning status: %d anomalies detected (%d high, %d medium, %d low severity) requiring enhanced monitoring.",
		len(anomalies), high, breakdown["medium"], breakdown["low"])
}

func recommendedActions(anomalies []Anomaly, status string) []any {
	var actions []string
	hasType := func(substrs ...string) bool {
		for _, a := range anomalies {
			for _, sub := range substrs {
				if strings.Contains(a.Type, sub) {
					return true
				}
			}
		}
		return false
	}

	if hasType("ENVIRONMENTAL", "NOISE") {
		actions = append(actions, "Activate enhanced environmental monitoring protocols")
		if hasType("CRITICAL") {
			actions = append(actions, "Consider issuing public health advisory for air quality")
		}
	}
	if hasType("TRAFFIC", "CONGESTION") {
		actions = append(actions, "Implement traffic flow optimization measures")
		if hasType("TRAFFIC_INCIDENT") {
			actions = append(actions, "Dispatch emergency response teams to incident location")
		}
	}
	if hasType("WEATHER") {
		actions = append(actions, "Activate severe weather response protocols")
		if hasType("EXTREME") {
			actions = append(actions, "Issue weather safety warnings to public")
		}
	}
	if hasType("INCONSISTENCY", "SENSOR") {
		actions = append(actions,
			"Perform sensor calibration and maintenance checks",
			"Cross-validate readings with backup monitoring systems")
	}
	if hasType("PEDESTRIAN", "VEHICLE") {
		actions = append(actions,
			"Deploy additional crowd management resources",
			"Monitor for potential public safety concerns")
	}

	switch status {
	case "CRITICAL":
		actions = append(actions,
			"Notify emergency management authorities",
			"Increase monitoring frequency to real-time")
	case "WARNING":
		actions = append(actions,
			"Continue enhanced monitoring",
			"Prepare contingency response measures")
	}

	if len(actions) == 0 {
		actions = []string{"Continue routine monitoring procedures"}
	}
	out := make([]any, len(actions))
	for i, a := range actions {
		out[i] = a
	}
	return out
}

func anomalyList(anomalies []Anomaly) []any {
	out := make([]any, len(anomalies))
	for i, a := range anomalies {
		out[i] = map[string]any{
			"type":        a.Type,
			"description": a.Description,
			"severity":    a.Severity,
		}
	}
	return out
}
