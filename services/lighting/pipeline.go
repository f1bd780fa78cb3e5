// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lighting

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/CityPulse/services/llm"
	"github.com/AleutianAI/CityPulse/services/pipeline"
)

// Config carries the tunables for pipeline assembly.
type Config struct {
	// Seed drives the synthetic collectors; zero means time-based.
	Seed int64

	// JudgeTimeout bounds the terminal LLM call. Zero uses the engine
	// default.
	JudgeTimeout time.Duration

	// FatalStages lists stages whose failure aborts the run. Empty keeps
	// the default best-effort behavior.
	FatalStages []string
}

// NewPipeline assembles the full lighting chain:
// collect -> preprocess -> fuse -> awareness -> cross-validate ->
// detect anomalies -> decide -> control -> judge.
func NewPipeline(cfg Config, client llm.Client, history DecisionHistory, logger *slog.Logger) *pipeline.Pipeline {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	stages := []pipeline.Stage{
		NewCollectStage(DefaultCollectors(seed)...),
		NewPreprocessStage(),
		NewFusionStage(),
		NewAwarenessStage(),
		NewCrossValidationStage(),
		NewAnomalyStage(),
		NewDecisionStage(history),
		NewControlStage(),
		pipeline.NewJudge(client, JudgeSummary, cfg.JudgeTimeout),
	}

	opts := []pipeline.Option{pipeline.WithLogger(logger)}
	if len(cfg.FatalStages) > 0 {
		opts = append(opts, pipeline.WithFatalStages(cfg.FatalStages...))
	}
	return pipeline.New("lighting", stages, opts...)
}

// JudgeSummary distills the final state for the judge prompt.
func JudgeSummary(state *pipeline.State) string {
	awareness := state.Map("situational_awareness")
	assessment := state.Map("anomaly_assessment")
	analysis := state.Map("decision_analysis")
	action := state.Map("control_action")

	return fmt.Sprintf(
		"Zone %s: situation level %s (score %.3f), system status %s with %d anomalies. "+
			"Risk level %s (score %.1f). Action taken: brightness %v%%.",
		state.String("zone_id", "unknown"),
		pipeline.MapString(awareness, "situation_level", "unknown"),
		pipeline.MapFloat(awareness, "situational_awareness_score", 0),
		pipeline.MapString(assessment, "system_status", "UNKNOWN"),
		int(pipeline.MapFloat(pipeline.MapMap(assessment, "detection_metadata"), "total_anomalies", 0)),
		pipeline.MapString(analysis, "risk_level", "UNKNOWN"),
		pipeline.MapFloat(analysis, "comprehensive_risk_score", 0),
		pipeline.MapFloat(action, "brightness_percent", DefaultBrightness),
	)
}
