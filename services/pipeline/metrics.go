// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "citypulse",
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Wall-clock duration of each pipeline stage.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"pipeline", "stage"})

	stageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "citypulse",
		Subsystem: "pipeline",
		Name:      "stage_failures_total",
		Help:      "Stages that returned an error result, including panics.",
	}, []string{"pipeline", "stage"})

	pipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "citypulse",
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Completed pipeline executions by outcome (success, degraded, aborted).",
	}, []string{"pipeline", "outcome"})

	judgeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "citypulse",
		Subsystem: "pipeline",
		Name:      "judge_latency_seconds",
		Help:      "Latency of the terminal LLM judge call.",
		Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
	})
)
