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

// invalidSourceWeight is the multiplicative quality weight applied to a
// source flagged INVALID by validation. Down-weighted, never dropped.
const invalidSourceWeight = 0.5

// FusionStage merges the filtered sensor sources into one
// fused_environmental_state, scaling numeric fields by each source's
// quality weight. An absent source leaves its context block empty; fusion
// never fails outright for missing sources.
type FusionStage struct{}

func NewFusionStage() *FusionStage { return &FusionStage{} }

func (s *FusionStage) Name() string { return "sensor_fusion" }

func (s *FusionStage) Run(_ context.Context, state *pipeline.State) pipeline.Result {
	filtered := state.Map("filtered_data")
	validation := state.Map("validation_report")
	quality := state.Map("quality_report")
	overallQuality := pipeline.MapFloat(quality, "overall_quality", 0.5)

	weights := map[string]float64{"weather": 1.0, "cctv": 1.0, "iot_data": 1.0}
	for _, source := range []string{"weather", "cctv", "iot"} {
		entry := pipeline.MapMap(validation, source+"_validation")
		if pipeline.MapString(entry, "status", "VALID") == "INVALID" {
			key := source
			if source == "iot" {
				key = "iot_data"
			}
			weights[key] = invalidSourceWeight
		}
	}

	fused := map[string]any{
		"zone_id":               state.String("zone_id", "unknown"),
		"weather_context":       map[string]any{},
		"traffic_context":       map[string]any{},
		"environmental_context": map[string]any{},
		"fusion_metadata": map[string]any{
			"quality_weights_applied": map[string]any{
				"weather":  weights["weather"],
				"cctv":     weights["cctv"],
				"iot_data": weights["iot_data"],
			},
			"overall_data_quality": overallQuality,
		},
	}

	sourcesFused := 0
	fieldsMerged := 0

	if weather := pipeline.MapMap(filtered, "weather"); weather != nil {
		w := weights["weather"]
		fused["weather_context"] = map[string]any{
			"condition":           strings.ToLower(pipeline.MapString(weather, "condition", "unknown")),
			"temperature_celsius": pipeline.MapFloat(weather, "temperature_celsius", 20) * w,
			"wind_kph":            pipeline.MapFloat(weather, "wind_kph", 0) * w,
			"humidity_percent":    pipeline.MapFloat(weather, "humidity_percent", 50) * w,
			"air_quality_index":   pipeline.MapFloat(weather, "air_quality_index", 50) * w,
			"data_source":         "WeatherAPI",
			"quality_weight":      w,
		}
		sourcesFused++
		fieldsMerged += 5
	}

	if cctv := pipeline.MapMap(filtered, "cctv"); cctv != nil {
		w := weights["cctv"]
		traffic := map[string]any{
			"pedestrian_count":  pipeline.MapFloat(cctv, "pedestrian_count", 0) * w,
			"vehicle_count":     pipeline.MapFloat(cctv, "vehicle_count", 0) * w,
			"congestion_level":  pipeline.MapFloat(cctv, "congestion_level", 0) * w,
			"incident_detected": pipeline.MapBool(cctv, "incident_detected", false),
			"data_source":       "CCTV_Network",
			"quality_weight":    w,
		}
		if details, ok := cctv["incident_details"]; ok {
			traffic["incident_details"] = details
		}
		fused["traffic_context"] = traffic
		sourcesFused++
		fieldsMerged += 4
	}

	if iot := pipeline.MapMap(filtered, "iot_data"); iot != nil {
		w := weights["iot_data"]
		fused["environmental_context"] = map[string]any{
			"air_quality_index":  pipeline.MapFloat(iot, "air_quality_index", 50) * w,
			"noise_level_db":     pipeline.MapFloat(iot, "noise_level_db", 50) * w,
			"ambient_light_lux":  pipeline.MapFloat(iot, "ambient_light_lux", 200) * w,
			"additional_metrics": pipeline.MapMap(iot, "additional_metrics"),
			"data_source":        "IoT_Sensor_Network",
			"quality_weight":     w,
		}
		sourcesFused++
		fieldsMerged += 4
	}

	weighted := weights["weather"] != 1.0 || weights["cctv"] != 1.0 || weights["iot_data"] != 1.0

	state.Set("fused_environmental_state", fused)
	state.Set("fusion_stats", map[string]any{
		"sources_fused":    sourcesFused,
		"fields_merged":    fieldsMerged,
		"quality_weighted": weighted,
	})

	if sourcesFused == 0 {
		return pipeline.Partial("no sources available for fusion", "sources_fused", 0)
	}
	if sourcesFused < 3 {
		return pipeline.Partial(fmt.Sprintf("fused %d of 3 sources", sourcesFused),
			"sources_fused", sourcesFused)
	}
	return pipeline.Success("environmental state fused",
		"sources_fused", sourcesFused, "quality_weighted", weighted)
}

// AwarenessStage computes the situational awareness score on [0,1] from the
// fused contexts, with bounded per-dimension contributions:
// weather <=0.3, traffic <=0.4, environment <=0.3, quality adjustment +-0.1.
type AwarenessStage struct{}

func NewAwarenessStage() *AwarenessStage { return &AwarenessStage{} }

func (s *AwarenessStage) Name() string { return "situational_awareness" }

func (s *AwarenessStage) Run(_ context.Context, state *pipeline.State) pipeline.Result {
	fused := state.Map("fused_environmental_state")
	quality := state.Map("quality_report")

	weatherCtx := pipeline.MapMap(fused, "weather_context")
	trafficCtx := pipeline.MapMap(fused, "traffic_context")
	envCtx := pipeline.MapMap(fused, "environmental_context")

	components := map[string]float64{}

	temp := pipeline.MapFloat(weatherCtx, "temperature_celsius", 20)
	wind := pipeline.MapFloat(weatherCtx, "wind_kph", 0)
	humidity := pipeline.MapFloat(weatherCtx, "humidity_percent", 50)
	weatherScore := 0.0
	if temp < 5 || temp > 35 {
		weatherScore += 0.15
	}
	if wind > 25 {
		weatherScore += 0.1
	}
	if humidity > 85 || humidity < 20 {
		weatherScore += 0.05
	}
	components["weather"] = weatherScore

	congestion := pipeline.MapFloat(trafficCtx, "congestion_level", 0)
	pedestrians := pipeline.MapFloat(trafficCtx, "pedestrian_count", 0)
	vehicles := pipeline.MapFloat(trafficCtx, "vehicle_count", 0)
	incident := pipeline.MapBool(trafficCtx, "incident_detected", false)
	trafficScore := congestion * 0.25
	if pedestrians > 40 {
		trafficScore += 0.1
	}
	if vehicles > 80 {
		trafficScore += 0.05
	}
	if incident {
		trafficScore += 0.2
	}
	components["traffic"] = trafficScore

	aqi := pipeline.MapFloat(envCtx, "air_quality_index", 50)
	noise := pipeline.MapFloat(envCtx, "noise_level_db", 50)
	light := pipeline.MapFloat(envCtx, "ambient_light_lux", 200)
	envScore := 0.0
	if aqi > 100 {
		envScore += 0.15
	}
	if noise > 70 {
		envScore += 0.1
	}
	if light < 50 {
		envScore += 0.05
	}
	components["environmental"] = envScore

	overallQuality := pipeline.MapFloat(quality, "overall_quality", 0.5)
	qualityAdjustment := (overallQuality - 0.5) * 0.2
	components["quality_adjustment"] = qualityAdjustment

	score := pipeline.Clamp(weatherScore+trafficScore+envScore+qualityAdjustment, 0, 1)
	level := SituationLevel(score)

	state.Set("situational_awareness", map[string]any{
		"situational_awareness_score": score,
		"situation_level":             level,
		"score_components": map[string]any{
			"weather":            components["weather"],
			"traffic":            components["traffic"],
			"environmental":      components["environmental"],
			"quality_adjustment": components["quality_adjustment"],
		},
		"quality_factor": overallQuality,
	})

	return pipeline.Success("situational awareness calculated",
		"awareness_score", score, "situation_level", level)
}

// SituationLevel maps an awareness score on [0,1] to its qualitative band,
// checking the highest band first.
func SituationLevel(score float64) string {
	switch {
	case score >= 0.85:
		return "critical"
	case score >= 0.7:
		return "high"
	case score >= 0.45:
		return "moderate"
	case score > 0:
		return "low"
	default:
		return "unknown"
	}
}

// CrossValidationStage correlates independent sensors against each other
// and scores the overall logical consistency of the fused picture.
type CrossValidationStage struct{}

func NewCrossValidationStage() *CrossValidationStage { return &CrossValidationStage{} }

func (s *CrossValidationStage) Name() string { return "cross_sensor_validation" }

func (s *CrossValidationStage) Run(_ context.Context, state *pipeline.State) pipeline.Result {
	fused := state.Map("fused_environmental_state")
	weatherCtx := pipeline.MapMap(fused, "weather_context")
	trafficCtx := pipeline.MapMap(fused, "traffic_context")
	envCtx := pipeline.MapMap(fused, "environmental_context")

	correlations := map[string]any{}
	var anomalies []string
	checked := 0
	consistent := 0

	if len(weatherCtx) > 0 && len(envCtx) > 0 {
		weatherAQI := pipeline.MapFloat(weatherCtx, "air_quality_index", 50)
		iotAQI := pipeline.MapFloat(envCtx, "air_quality_index", 50)
		diff := weatherAQI - iotAQI
		if diff < 0 {
			diff = -diff
		}
		status := "CONSISTENT"
		if diff > 25 {
			status = "INCONSISTENT"
		} else {
			consistent++
		}
		if diff > 50 {
			anomalies = append(anomalies, "Large AQI discrepancy between weather and IoT sensors")
		}
		correlations["weather_iot_correlation"] = map[string]any{
			"weather_aqi": weatherAQI,
			"iot_aqi":     iotAQI,
			"difference":  diff,
			"status":      status,
		}
		checked++
	}

	if len(trafficCtx) > 0 && len(envCtx) > 0 {
		congestion := pipeline.MapFloat(trafficCtx, "congestion_level", 0)
		vehicles := pipeline.MapFloat(trafficCtx, "vehicle_count", 0)
		noise := pipeline.MapFloat(envCtx, "noise_level_db", 50)
		expectedNoise := 45 + congestion*30 + vehicles*0.1
		delta := noise - expectedNoise
		if delta < 0 {
			delta = -delta
		}
		correlation := 1 - min(1, delta/30)
		status := "CONSISTENT"
		if correlation <= 0.7 {
			status = "INCONSISTENT"
		} else {
			consistent++
		}
		if correlation < 0.5 {
			anomalies = append(anomalies, "Noise levels inconsistent with traffic volume")
		}
		correlations["traffic_environmental_impact"] = map[string]any{
			"noise_traffic_correlation": correlation,
			"actual_noise_db":           noise,
			"expected_noise_db":         expectedNoise,
			"status":                    status,
		}
		checked++
	}

	if len(weatherCtx) > 0 && len(trafficCtx) > 0 {
		condition := pipeline.MapString(weatherCtx, "condition", "unknown")
		congestion := pipeline.MapFloat(trafficCtx, "congestion_level", 0)
		wind := pipeline.MapFloat(weatherCtx, "wind_kph", 0)
		impactExpected := strings.Contains(condition, "rain") ||
			strings.Contains(condition, "snow") || wind > 20
		status := "CONSISTENT"
		if impactExpected && congestion < 0.3 {
			status = "INCONSISTENT"
			anomalies = append(anomalies, "Low traffic despite adverse weather conditions")
		} else {
			consistent++
		}
		correlations["weather_traffic_correlation"] = map[string]any{
			"weather_condition":       condition,
			"traffic_congestion":      congestion,
			"weather_impact_expected": impactExpected,
			"status":                  status,
		}
		checked++
	}

	consistency := 1.0
	if checked > 0 {
		consistency = float64(consistent) / float64(checked)
	}

	anomalyList := make([]any, len(anomalies))
	for i, a := range anomalies {
		anomalyList[i] = a
	}
	state.Set("cross_sensor_validation", map[string]any{
		"correlation_analysis": correlations,
		"overall_consistency":  consistency,
		"anomalies_detected":   anomalyList,
		"correlations_checked": checked,
	})

	return pipeline.Success("cross-sensor validation completed",
		"correlations_checked", checked, "consistency_score", consistency)
}
