// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package blackout

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/CityPulse/services/llm"
	"github.com/AleutianAI/CityPulse/services/pipeline"
)

// Config carries the tunables for pipeline assembly.
type Config struct {
	// Seed drives the synthetic telemetry source; zero means time-based.
	Seed int64

	// JudgeTimeout bounds the terminal LLM call. Zero uses the engine
	// default.
	JudgeTimeout time.Duration

	// FatalStages lists stages whose failure aborts the run. Empty keeps
	// the default best-effort behavior.
	FatalStages []string
}

// NewPipeline assembles the blackout response chain:
// telemetry -> analysis -> weather impact -> allocation -> execution ->
// judge.
func NewPipeline(cfg Config, client llm.Client, logger *slog.Logger) *pipeline.Pipeline {
	stages := []pipeline.Stage{
		NewTelemetryStage(cfg.Seed),
		NewAnalysisStage(client),
		NewWeatherStage(client),
		NewAllocationStage(client),
		NewExecutionStage(client),
		pipeline.NewJudge(client, JudgeSummary, cfg.JudgeTimeout),
	}

	opts := []pipeline.Option{pipeline.WithLogger(logger)}
	if len(cfg.FatalStages) > 0 {
		opts = append(opts, pipeline.WithFatalStages(cfg.FatalStages...))
	}
	return pipeline.New("blackout", stages, opts...)
}

// JudgeSummary distills the final state for the judge prompt.
func JudgeSummary(state *pipeline.State) string {
	analysis := state.Map("grid_analysis")
	plan := state.Map("power_allocation_plan")
	validation := state.Map("validation_results")

	return fmt.Sprintf(
		"Blackout incident %s (cause %s, severity %s): %d grid anomalies, "+
			"cascade risk %.1f%%. Allocated %.1f MW of %.1f MW available. "+
			"Execution status %s with post-allocation stability %.1f%%.",
		state.String("incident_id", "unknown"),
		state.String("cause", "unknown"),
		state.String("severity", "UNKNOWN"),
		int(pipeline.MapFloat(analysis, "anomaly_count", 0)),
		pipeline.MapFloat(analysis, "cascade_risk", 0)*100,
		pipeline.MapFloat(plan, "total_allocated_mw", 0),
		pipeline.MapFloat(plan, "available_capacity_mw", 0),
		pipeline.MapString(validation, "overall_status", "UNKNOWN"),
		pipeline.MapFloat(validation, "grid_stability_post_allocation", 0),
	)
}
