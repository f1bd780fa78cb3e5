// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package lighting implements the weather-driven street-lighting pipeline:
// collect -> preprocess -> fuse -> detect anomalies -> decide -> control,
// with an optional LLM judge as the terminal stage.
package lighting

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/AleutianAI/CityPulse/services/pipeline"
)

// Collector produces one sensor reading for a zone. Implementations are
// synthetic in this deployment; a real deployment would plug in WeatherAPI,
// a CCTV analytics feed, and an IoT gateway behind the same contract.
type Collector interface {
	Source() string
	Collect(ctx context.Context, scenario, location, zoneID string) map[string]any
}

// WeatherCollector synthesizes WeatherAPI-shaped readings. The scenario
// string steers conditions so simulations are reproducible per request.
type WeatherCollector struct {
	rng *rand.Rand
}

func NewWeatherCollector(seed int64) *WeatherCollector {
	return &WeatherCollector{rng: rand.New(rand.NewSource(seed))}
}

func (c *WeatherCollector) Source() string { return "weather" }

func (c *WeatherCollector) Collect(_ context.Context, scenario, location, _ string) map[string]any {
	condition := "clear"
	temp := 18 + c.rng.Float64()*10
	wind := c.rng.Float64() * 15
	humidity := 40 + c.rng.Float64()*30
	aqi := 30 + c.rng.Float64()*40

	switch {
	case strings.Contains(scenario, "storm"):
		condition = "thunderstorm"
		wind = 30 + c.rng.Float64()*30
		humidity = 85 + c.rng.Float64()*10
	case strings.Contains(scenario, "heatwave"):
		condition = "clear"
		temp = 40 + c.rng.Float64()*8
		humidity = 15 + c.rng.Float64()*10
	case strings.Contains(scenario, "rain"):
		condition = "heavy rain"
		wind = 18 + c.rng.Float64()*12
		humidity = 80 + c.rng.Float64()*15
	case strings.Contains(scenario, "snow"):
		condition = "snow"
		temp = -5 + c.rng.Float64()*5
	case strings.Contains(scenario, "smog"):
		condition = "haze"
		aqi = 140 + c.rng.Float64()*80
	}

	return map[string]any{
		"condition":           condition,
		"temperature_celsius": round2(temp),
		"wind_kph":            round2(wind),
		"humidity_percent":    float64(int(humidity)),
		"air_quality_index":   float64(int(aqi)),
		"collection_metadata": map[string]any{
			"source":            "WeatherAPI",
			"location_resolved": location,
			"collected_at":      time.Now().UTC().Format(time.RFC3339),
		},
	}
}

// CCTVCollector synthesizes traffic analytics from a camera network.
type CCTVCollector struct {
	rng *rand.Rand
}

func NewCCTVCollector(seed int64) *CCTVCollector {
	return &CCTVCollector{rng: rand.New(rand.NewSource(seed))}
}

func (c *CCTVCollector) Source() string { return "cctv" }

func (c *CCTVCollector) Collect(_ context.Context, scenario, _, zoneID string) map[string]any {
	congestion := 0.3 + c.rng.Float64()*0.4
	pedestrians := 20 + c.rng.Intn(60)
	vehicles := 20 + c.rng.Intn(50)
	incident := c.rng.Float64() < 0.25

	if strings.Contains(scenario, "rush") || strings.Contains(scenario, "congestion") {
		congestion = 0.7 + c.rng.Float64()*0.25
		pedestrians = 50 + c.rng.Intn(100)
		vehicles = 80 + c.rng.Intn(60)
	}
	if strings.Contains(scenario, "incident") {
		incident = true
	}

	data := map[string]any{
		"zone_id":           zoneID,
		"pedestrian_count":  float64(pedestrians),
		"vehicle_count":     float64(vehicles),
		"congestion_level":  round3(congestion),
		"incident_detected": incident,
		"camera_metadata": map[string]any{
			"camera_id":            "cam-" + zoneID,
			"detection_confidence": 0.9,
		},
		"collected_at": time.Now().UTC().Format(time.RFC3339),
	}
	if incident {
		data["incident_details"] = "Stalled vehicle blocking lane near " + zoneID
	}
	return data
}

// IoTCollector synthesizes environmental readings from street-level sensors.
type IoTCollector struct {
	rng *rand.Rand
}

func NewIoTCollector(seed int64) *IoTCollector {
	return &IoTCollector{rng: rand.New(rand.NewSource(seed))}
}

func (c *IoTCollector) Source() string { return "iot_data" }

func (c *IoTCollector) Collect(_ context.Context, scenario, _, zoneID string) map[string]any {
	aqi := 40 + c.rng.Float64()*50
	noise := 45 + c.rng.Float64()*25
	light := 150 + c.rng.Float64()*250

	if strings.Contains(scenario, "smog") {
		aqi = 150 + c.rng.Float64()*60
	}
	if strings.Contains(scenario, "night") || strings.Contains(scenario, "storm") {
		light = c.rng.Float64() * 30
	}

	return map[string]any{
		"zone_id":           zoneID,
		"air_quality_index": float64(int(aqi)),
		"noise_level_db":    float64(int(noise)),
		"ambient_light_lux": float64(int(light)),
		"additional_metrics": map[string]any{
			"vibration_level": round2(c.rng.Float64() * 2),
		},
		"sensor_metadata": map[string]any{
			"sensor_network_id": "iot-" + zoneID,
			"data_reliability":  0.9,
		},
		"collected_at": time.Now().UTC().Format(time.RFC3339),
	}
}

// CollectStage runs every collector and writes "<source>_data" keys
// (weather_data, cctv_data, iot_data). A missing collector simply leaves
// its key absent; downstream stages default around it.
type CollectStage struct {
	collectors []Collector
}

func NewCollectStage(collectors ...Collector) *CollectStage {
	return &CollectStage{collectors: collectors}
}

// DefaultCollectors returns the standard three-source synthetic set.
func DefaultCollectors(seed int64) []Collector {
	return []Collector{
		NewWeatherCollector(seed),
		NewCCTVCollector(seed + 1),
		NewIoTCollector(seed + 2),
	}
}

func (s *CollectStage) Name() string { return "data_collection" }

func (s *CollectStage) Run(ctx context.Context, state *pipeline.State) pipeline.Result {
	scenario := strings.ToLower(state.String("scenario", ""))
	location := state.String("location", "unknown")
	zoneID := state.String("zone_id", "unknown")

	collected := 0
	for _, c := range s.collectors {
		data := c.Collect(ctx, scenario, location, zoneID)
		if data == nil {
			continue
		}
		key := c.Source()
		if !strings.HasSuffix(key, "_data") {
			key += "_data"
		}
		state.Set(key, data)
		collected++
	}

	if collected == 0 {
		state.SetStageError(s.Name(), map[string]any{"error": "no sensor data collected"})
		return pipeline.Result{Status: pipeline.StatusError, Message: "no sensor data collected"}
	}
	if collected < len(s.collectors) {
		return pipeline.Partial("partial sensor collection", "sources", collected)
	}
	return pipeline.Success("sensor data collected", "sources", collected)
}

func round2(v float64) float64 { return float64(int(v*100)) / 100 }
func round3(v float64) float64 { return float64(int(v*1000)) / 1000 }
