// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

// Stage is one unit of pipeline computation. Run reads any existing State
// keys (defaulting absent ones) and writes its output keys. A Stage must
// never panic through to the driver; the driver recovers anyway and records
// the panic as a stage error, but well-behaved stages handle their own
// failures and return an error Result themselves.
type Stage interface {
	Name() string
	Run(ctx context.Context, state *State) Result
}

// StageFunc adapts a function to the Stage interface.
type StageFunc struct {
	StageName string
	Fn        func(ctx context.Context, state *State) Result
}

func (s StageFunc) Name() string { return s.StageName }

func (s StageFunc) Run(ctx context.Context, state *State) Result {
	return s.Fn(ctx, state)
}

// StageRecord captures one stage's outcome within an execution.
type StageRecord struct {
	Stage    string        `json:"stage"`
	Result   Result        `json:"result"`
	Duration time.Duration `json:"duration"`
}

// Execution is the outcome of one full pipeline run: the final state plus
// the ordered per-stage records.
type Execution struct {
	State  *State        `json:"-"`
	Stages []StageRecord `json:"stages"`
}

// Failed reports how many stages ended with an error status.
func (e *Execution) Failed() int {
	n := 0
	for _, rec := range e.Stages {
		if rec.Result.Status == StatusError {
			n++
		}
	}
	return n
}

// Pipeline executes an ordered list of stages against one State. The chain
// is strictly linear: the first stage is the entry point and the run is
// complete after the last stage. Stage errors do not stop the run unless
// the stage name appears in FatalStages.
type Pipeline struct {
	name        string
	stages      []Stage
	fatalStages map[string]bool
	logger      *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithFatalStages names stages whose error Result aborts the run. The
// default is none: every stage failure is recorded and the run continues.
func WithFatalStages(names ...string) Option {
	return func(p *Pipeline) {
		for _, n := range names {
			p.fatalStages[n] = true
		}
	}
}

// WithLogger sets the structured logger used for per-stage records.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// New builds a Pipeline from an ordered stage list.
func New(name string, stages []Stage, opts ...Option) *Pipeline {
	p := &Pipeline{
		name:        name,
		stages:      stages,
		fatalStages: make(map[string]bool),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the pipeline's name as used in logs and metrics.
func (p *Pipeline) Name() string { return p.name }

// Execute runs every stage in order against a State seeded from the
// caller's request fields and returns the final State with per-stage
// records. Stages run strictly sequentially; concurrent Execute calls are
// independent and share no State.
func (p *Pipeline) Execute(ctx context.Context, seed map[string]any) (*Execution, error) {
	state := NewState(seed)
	exec := &Execution{State: state, Stages: make([]StageRecord, 0, len(p.stages))}

	p.logger.Info("pipeline started", "pipeline", p.name, "stages", len(p.stages))
	start := time.Now()

	for _, stage := range p.stages {
		rec := p.runStage(ctx, stage, state)
		exec.Stages = append(exec.Stages, rec)

		if rec.Result.Status == StatusError && p.fatalStages[stage.Name()] {
			pipelineRuns.WithLabelValues(p.name, "aborted").Inc()
			p.logger.Error("pipeline aborted on fatal stage",
				"pipeline", p.name, "stage", stage.Name(), "message", rec.Result.Message)
			return exec, fmt.Errorf("pipeline %s: fatal stage %s failed: %s",
				p.name, stage.Name(), rec.Result.Message)
		}
	}

	outcome := "success"
	if exec.Failed() > 0 {
		outcome = "degraded"
	}
	pipelineRuns.WithLabelValues(p.name, outcome).Inc()
	p.logger.Info("pipeline finished",
		"pipeline", p.name,
		"outcome", outcome,
		"failed_stages", exec.Failed(),
		"duration_ms", time.Since(start).Milliseconds())
	return exec, nil
}

// runStage invokes one stage with panic recovery. A panicking stage yields
// an error Result and a "<stage>_error" diagnostic key; the state keeps
// every key written before the panic.
func (p *Pipeline) runStage(ctx context.Context, stage Stage, state *State) (rec StageRecord) {
	name := stage.Name()
	start := time.Now()

	defer func() {
		rec.Stage = name
		rec.Duration = time.Since(start)
		stageDuration.WithLabelValues(p.name, name).Observe(rec.Duration.Seconds())

		if r := recover(); r != nil {
			rec.Result = Result{
				Status:  StatusError,
				Message: fmt.Sprintf("stage panic: %v", r),
			}
			state.SetStageError(name, map[string]any{
				"error": fmt.Sprintf("%v", r),
				"stage": name,
			})
			p.logger.Error("stage panicked",
				"pipeline", p.name, "stage", name, "panic", fmt.Sprintf("%v", r),
				"trace", string(debug.Stack()))
		}

		if rec.Result.Status == StatusError {
			stageFailures.WithLabelValues(p.name, name).Inc()
			p.logger.Warn("stage failed",
				"pipeline", p.name, "stage", name, "message", rec.Result.Message)
		} else {
			p.logger.Debug("stage completed",
				"pipeline", p.name, "stage", name,
				"status", string(rec.Result.Status),
				"duration_ms", rec.Duration.Milliseconds())
		}
	}()

	rec.Result = stage.Run(ctx, state)
	return rec
}
