// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/CityPulse/services/llm"
)

func writerStage(name, key string, value any) Stage {
	return StageFunc{
		StageName: name,
		Fn: func(_ context.Context, state *State) Result {
			state.Set(key, value)
			return Success("wrote " + key)
		},
	}
}

func panicStage(name string) Stage {
	return StageFunc{
		StageName: name,
		Fn: func(_ context.Context, _ *State) Result {
			panic("malformed telemetry")
		},
	}
}

func errorStage(name string) Stage {
	return StageFunc{
		StageName: name,
		Fn: func(_ context.Context, state *State) Result {
			state.SetStageError(name, map[string]any{"error": "upstream unavailable"})
			return Errorf(errors.New("upstream unavailable"))
		},
	}
}

func TestExecuteRunsAllStagesInOrder(t *testing.T) {
	var order []string
	mk := func(name string) Stage {
		return StageFunc{
			StageName: name,
			Fn: func(_ context.Context, state *State) Result {
				order = append(order, name)
				state.Set(name+"_out", true)
				return Success("ok")
			},
		}
	}

	p := New("test", []Stage{mk("collect"), mk("fuse"), mk("decide")})
	exec, err := p.Execute(context.Background(), map[string]any{"zone_id": "zone-1"})
	require.NoError(t, err)

	assert.Equal(t, []string{"collect", "fuse", "decide"}, order)
	assert.Len(t, exec.Stages, 3)
	assert.Equal(t, 0, exec.Failed())
	assert.True(t, exec.State.Bool("decide_out", false))
	assert.Equal(t, "zone-1", exec.State.String("zone_id", ""))
}

// Keys only accumulate between stages; nothing is ever removed.
func TestStateAdditivity(t *testing.T) {
	var keyCounts []int
	observe := StageFunc{
		StageName: "observe",
		Fn: func(_ context.Context, state *State) Result {
			keyCounts = append(keyCounts, state.Len())
			return Success("ok")
		},
	}

	p := New("test", []Stage{
		observe,
		writerStage("a", "a_data", 1),
		observe,
		panicStage("boom"),
		observe,
		writerStage("b", "b_data", 2),
		observe,
	})
	_, err := p.Execute(context.Background(), map[string]any{"seed": true})
	require.NoError(t, err)

	for i := 1; i < len(keyCounts); i++ {
		assert.GreaterOrEqual(t, keyCounts[i], keyCounts[i-1],
			"state keys must never shrink between stages")
	}
}

// A panicking stage is recorded as an error, writes its diagnostic key, and
// every downstream stage still runs with defaults.
func TestPanicIsolation(t *testing.T) {
	downstream := false
	tail := StageFunc{
		StageName: "tail",
		Fn: func(_ context.Context, state *State) Result {
			downstream = true
			// Upstream payload absent; the default must flow through.
			assert.Equal(t, 20.0, state.Float("temperature_celsius", 20.0))
			return Success("ok")
		},
	}

	p := New("test", []Stage{panicStage("telemetry"), tail})
	exec, err := p.Execute(context.Background(), nil)
	require.NoError(t, err)

	assert.True(t, downstream, "downstream stage must execute after a panic")
	assert.Equal(t, 1, exec.Failed())
	assert.Equal(t, StatusError, exec.Stages[0].Result.Status)

	diag := exec.State.Map("telemetry_error")
	require.NotNil(t, diag, "panic must write a <stage>_error key")
	assert.Contains(t, diag["error"], "malformed telemetry")
}

func TestErrorStageDoesNotAbortByDefault(t *testing.T) {
	p := New("test", []Stage{errorStage("fuse"), writerStage("decide", "decision", "ok")})
	exec, err := p.Execute(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, exec.Failed())
	assert.True(t, exec.State.Has("fuse_error"))
	assert.Equal(t, "ok", exec.State.String("decision", ""))
}

func TestFatalStageAbortsRun(t *testing.T) {
	ran := false
	tail := StageFunc{
		StageName: "tail",
		Fn: func(_ context.Context, _ *State) Result {
			ran = true
			return Success("ok")
		},
	}

	p := New("test", []Stage{errorStage("collect"), tail},
		WithFatalStages("collect"))
	exec, err := p.Execute(context.Background(), nil)

	require.Error(t, err)
	assert.False(t, ran, "stages after a fatal failure must not run")
	assert.Len(t, exec.Stages, 1)
	assert.True(t, exec.State.Has("collect_error"))
}

func TestStateTypedHelpers(t *testing.T) {
	s := NewState(map[string]any{
		"count":  3,
		"ratio":  0.5,
		"label":  "high",
		"active": true,
		"nested": map[string]any{"inner": 7.0},
		"items":  []any{"a", "b"},
	})

	assert.Equal(t, 3.0, s.Float("count", -1))
	assert.Equal(t, 0.5, s.Float("ratio", -1))
	assert.Equal(t, -1.0, s.Float("missing", -1))
	assert.Equal(t, -1.0, s.Float("label", -1), "non-numeric falls back")
	assert.Equal(t, "high", s.String("label", ""))
	assert.True(t, s.Bool("active", false))
	assert.Equal(t, 7.0, MapFloat(s.Map("nested"), "inner", -1))
	assert.Len(t, s.Slice("items"), 2)
	assert.Nil(t, s.Map("items"), "wrong shape yields nil")
}

func TestJudgeRecordsVerdict(t *testing.T) {
	client := &llm.StaticClient{Response: "APPROVE\nDecision is proportionate to the detected anomalies."}
	judge := NewJudge(client, func(_ *State) string { return "two anomalies, dim to 60%" }, 0)

	state := NewState(nil)
	res := judge.Run(context.Background(), state)

	assert.Equal(t, StatusSuccess, res.Status)
	verdict := state.String("final_verdict", "")
	assert.True(t, len(verdict) > 0)
	assert.Contains(t, verdict, "APPROVE")
}

func TestJudgeFallbackOnFailure(t *testing.T) {
	client := &llm.StaticClient{Err: errors.New("connection refused")}
	judge := NewJudge(client, func(_ *State) string { return "summary" }, time.Second)

	state := NewState(nil)
	res := judge.Run(context.Background(), state)

	assert.Equal(t, StatusPartialSuccess, res.Status)
	assert.Equal(t, FallbackVerdict, state.String("final_verdict", ""))
	assert.True(t, state.Has("judge_error"))
}

func TestJudgeFallbackOnEmptyOutput(t *testing.T) {
	client := &llm.StaticClient{Response: "   "}
	judge := NewJudge(client, func(_ *State) string { return "summary" }, time.Second)

	state := NewState(nil)
	res := judge.Run(context.Background(), state)

	assert.Equal(t, StatusPartialSuccess, res.Status)
	assert.Equal(t, FallbackVerdict, state.String("final_verdict", ""))
}
