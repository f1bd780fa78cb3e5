// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cyber

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/CityPulse/services/llm"
	"github.com/AleutianAI/CityPulse/services/pipeline"
)

// Config carries the tunables for pipeline assembly.
type Config struct {
	// Seed drives the synthetic telemetry and the simulated enforcement
	// outcomes; zero means time-based.
	Seed int64

	// JudgeTimeout bounds the terminal LLM call. Zero uses the engine
	// default.
	JudgeTimeout time.Duration

	// FatalStages lists stages whose failure aborts the run. Empty keeps
	// the default best-effort behavior.
	FatalStages []string
}

// NewPipeline assembles the SOAR chain:
// telemetry -> anomaly detection -> threat intelligence -> playbook ->
// execution -> judge.
func NewPipeline(cfg Config, client llm.Client, logger *slog.Logger) *pipeline.Pipeline {
	stages := []pipeline.Stage{
		NewTelemetryStage(cfg.Seed),
		NewAnomalyStage(),
		NewIntelStage(),
		NewPlaybookStage(client),
		NewExecutionStage(cfg.Seed),
		pipeline.NewJudge(client, JudgeSummary, cfg.JudgeTimeout),
	}

	opts := []pipeline.Option{pipeline.WithLogger(logger)}
	if len(cfg.FatalStages) > 0 {
		opts = append(opts, pipeline.WithFatalStages(cfg.FatalStages...))
	}
	return pipeline.New("cyber", stages, opts...)
}

// JudgeSummary distills the final state for the judge prompt.
func JudgeSummary(state *pipeline.State) string {
	intel := state.Map("threat_intelligence")
	playbook := state.Map("response_playbook")
	validation := state.Map("validation_results")

	ttps := make([]string, 0)
	for _, raw := range pipeline.MapSlice(intel, "mitre_ttps") {
		if t, ok := raw.(string); ok {
			ttps = append(ttps, t)
		}
	}

	return fmt.Sprintf(
		"Security incident in zone %s (%s): %d anomalies, techniques [%s], "+
			"risk level %s. Playbook %q executed, validation passed: %t, "+
			"final security state %s.",
		state.String("zone_id", "unknown"),
		state.String("zone_type", "unknown"),
		len(state.Slice("anomalies")),
		strings.Join(ttps, ", "),
		pipeline.MapString(pipeline.MapMap(intel, "mission_impact"), "risk_level", "UNKNOWN"),
		pipeline.MapString(playbook, "name", "unknown"),
		pipeline.MapBool(validation, "validation_passed", false),
		state.String("security_state", StateYellow),
	)
}
