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

	"github.com/AleutianAI/CityPulse/services/pipeline"
)

// expectedRange bounds a sensor field; out-of-range readings are replaced
// with the range midpoint and counted as corrected outliers.
type expectedRange struct {
	lo, hi float64
}

func (r expectedRange) mid() float64 { return (r.lo + r.hi) / 2 }

// PreprocessStage normalizes raw sensor payloads, clamps outliers, validates
// each source, and grades overall data quality. Outputs:
//
//	filtered_data     per-source cleaned readings
//	validation_report per-source VALID/INVALID status with issues
//	quality_report    completeness/accuracy/consistency scores + overall_quality
type PreprocessStage struct{}

func NewPreprocessStage() *PreprocessStage { return &PreprocessStage{} }

func (s *PreprocessStage) Name() string { return "data_preprocessing" }

func (s *PreprocessStage) Run(_ context.Context, state *pipeline.State) pipeline.Result {
	weather := state.Map("weather_data")
	cctv := state.Map("cctv_data")
	iot := state.Map("iot_data")

	filtered := make(map[string]any, 3)
	outliers := 0

	smooth := func(m map[string]any, field string, r expectedRange, fallback float64) float64 {
		v := pipeline.MapFloat(m, field, fallback)
		if v < r.lo || v > r.hi {
			outliers++
			return r.mid()
		}
		return v
	}

	if weather != nil {
		filtered["weather"] = map[string]any{
			"condition":           pipeline.MapString(weather, "condition", "unknown"),
			"temperature_celsius": smooth(weather, "temperature_celsius", expectedRange{-20, 50}, 20),
			"wind_kph":            smooth(weather, "wind_kph", expectedRange{0, 100}, 10),
			"humidity_percent":    smooth(weather, "humidity_percent", expectedRange{0, 100}, 50),
			"air_quality_index":   pipeline.MapFloat(weather, "air_quality_index", 50),
		}
	}
	if cctv != nil {
		entry := map[string]any{
			"zone_id":           pipeline.MapString(cctv, "zone_id", "unknown"),
			"pedestrian_count":  smooth(cctv, "pedestrian_count", expectedRange{0, 200}, 10),
			"vehicle_count":     smooth(cctv, "vehicle_count", expectedRange{0, 300}, 20),
			"congestion_level":  smooth(cctv, "congestion_level", expectedRange{0, 1}, 0.3),
			"incident_detected": pipeline.MapBool(cctv, "incident_detected", false),
		}
		if details, ok := cctv["incident_details"]; ok {
			entry["incident_details"] = details
		}
		filtered["cctv"] = entry
	}
	if iot != nil {
		filtered["iot_data"] = map[string]any{
			"zone_id":            pipeline.MapString(iot, "zone_id", "unknown"),
			"air_quality_index":  smooth(iot, "air_quality_index", expectedRange{0, 300}, 50),
			"noise_level_db":     smooth(iot, "noise_level_db", expectedRange{20, 120}, 50),
			"ambient_light_lux":  smooth(iot, "ambient_light_lux", expectedRange{0, 2000}, 200),
			"additional_metrics": pipeline.MapMap(iot, "additional_metrics"),
		}
	}

	validation, failRate := validateSources(filtered)
	quality := qualityMetrics(filtered, failRate, outliers)

	state.Set("filtered_data", filtered)
	state.Set("validation_report", validation)
	state.Set("quality_report", quality)

	if len(filtered) == 0 {
		return pipeline.Partial("no sensor sources available for preprocessing")
	}
	return pipeline.Success("preprocessing completed",
		"sources", len(filtered),
		"outliers_corrected", outliers,
		"overall_quality", quality["overall_quality"])
}

// validateSources checks each cleaned source against hard physical limits.
// Post-smoothing values are normally in range, but validation still guards
// sources whose fields the smoother does not cover.
func validateSources(filtered map[string]any) (map[string]any, float64) {
	report := make(map[string]any)
	total, failed := 0, 0

	check := func(source string, checks []struct {
		ok  bool
		msg string
	}) {
		var issues []string
		for _, c := range checks {
			total++
			if !c.ok {
				issues = append(issues, c.msg)
				failed++
			}
		}
		status := "VALID"
		if len(issues) > 0 {
			status = "INVALID"
		}
		report[source+"_validation"] = map[string]any{
			"status":           status,
			"issues":           issues,
			"fields_validated": len(checks),
			"fields_passed":    len(checks) - len(issues),
		}
	}

	if w := pipeline.MapMap(filtered, "weather"); w != nil {
		temp := pipeline.MapFloat(w, "temperature_celsius", 20)
		wind := pipeline.MapFloat(w, "wind_kph", 0)
		humidity := pipeline.MapFloat(w, "humidity_percent", 50)
		check("weather", []struct {
			ok  bool
			msg string
		}{
			{temp >= -50 && temp <= 60, fmt.Sprintf("temperature out of range: %.1f", temp)},
			{wind >= 0 && wind <= 200, fmt.Sprintf("wind speed out of range: %.1f kph", wind)},
			{humidity >= 0 && humidity <= 100, fmt.Sprintf("humidity out of range: %.0f%%", humidity)},
		})
	}
	if c := pipeline.MapMap(filtered, "cctv"); c != nil {
		peds := pipeline.MapFloat(c, "pedestrian_count", 0)
		vehicles := pipeline.MapFloat(c, "vehicle_count", 0)
		congestion := pipeline.MapFloat(c, "congestion_level", 0)
		check("cctv", []struct {
			ok  bool
			msg string
		}{
			{peds >= 0 && peds <= 1000, fmt.Sprintf("pedestrian count out of range: %.0f", peds)},
			{vehicles >= 0 && vehicles <= 500, fmt.Sprintf("vehicle count out of range: %.0f", vehicles)},
			{congestion >= 0 && congestion <= 1, fmt.Sprintf("congestion level out of range: %.3f", congestion)},
		})
	}
	if i := pipeline.MapMap(filtered, "iot_data"); i != nil {
		aqi := pipeline.MapFloat(i, "air_quality_index", 50)
		noise := pipeline.MapFloat(i, "noise_level_db", 50)
		light := pipeline.MapFloat(i, "ambient_light_lux", 200)
		check("iot", []struct {
			ok  bool
			msg string
		}{
			{aqi >= 0 && aqi <= 500, fmt.Sprintf("AQI out of range: %.0f", aqi)},
			{noise >= 0 && noise <= 150, fmt.Sprintf("noise level out of range: %.0f dB", noise)},
			{light >= 0 && light <= 50000, fmt.Sprintf("light level out of range: %.0f lux", light)},
		})
	}

	successRate := 1.0
	if total > 0 {
		successRate = float64(total-failed) / float64(total)
	}
	overall := "VALID"
	if failed > 0 {
		overall = "INVALID"
	}
	report["overall_status"] = overall
	report["validation_summary"] = map[string]any{
		"total_validations":  total,
		"failed_validations": failed,
		"success_rate":       successRate,
	}
	return report, successRate
}

func qualityMetrics(filtered map[string]any, accuracy float64, outliers int) map[string]any {
	completeness := float64(len(filtered)) / 3.0

	// Cross-source consistency checks.
	var consistency []bool
	w := pipeline.MapMap(filtered, "weather")
	c := pipeline.MapMap(filtered, "cctv")
	i := pipeline.MapMap(filtered, "iot_data")
	if w != nil && i != nil {
		diff := pipeline.MapFloat(w, "air_quality_index", 50) - pipeline.MapFloat(i, "air_quality_index", 50)
		if diff < 0 {
			diff = -diff
		}
		consistency = append(consistency, diff <= 50)
	}
	if c != nil && i != nil {
		congestion := pipeline.MapFloat(c, "congestion_level", 0)
		noise := pipeline.MapFloat(i, "noise_level_db", 50)
		consistency = append(consistency, congestion <= 0.7 || noise > 60)
	}
	consistencyScore := 1.0
	if len(consistency) > 0 {
		passed := 0
		for _, ok := range consistency {
			if ok {
				passed++
			}
		}
		consistencyScore = float64(passed) / float64(len(consistency))
	}

	// Synthetic readings are collected in-process, so timeliness stays high.
	timeliness := 0.9

	overall := 0.3*completeness + 0.3*accuracy + 0.2*consistencyScore + 0.2*timeliness

	grade := "D"
	switch {
	case overall > 0.8:
		grade = "A"
	case overall > 0.6:
		grade = "B"
	case overall > 0.4:
		grade = "C"
	}

	return map[string]any{
		"completeness_score": completeness,
		"accuracy_score":     accuracy,
		"consistency_score":  consistencyScore,
		"timeliness_score":   timeliness,
		"overall_quality":    overall,
		"processing_summary": map[string]any{
			"data_sources_active": len(filtered),
			"outliers_corrected":  outliers,
			"quality_grade":       grade,
		},
	}
}
