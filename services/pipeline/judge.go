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
	"strings"
	"time"

	"github.com/AleutianAI/CityPulse/services/llm"
)

// DefaultJudgeTimeout bounds the terminal LLM call. The judge is
// observability only, so a slow model degrades to the fallback verdict
// instead of stalling the pipeline.
const DefaultJudgeTimeout = 20 * time.Second

// FallbackVerdict is recorded when the judge cannot obtain a model verdict
// within the timeout or the call fails.
const FallbackVerdict = "APPROVE (auto): judge unavailable, deterministic pipeline output stands"

// SummaryFunc extracts a natural-language situation summary from the final
// state for the judge prompt.
type SummaryFunc func(state *State) string

// Judge is the optional terminal stage: it asks an LLM to sanity-check the
// pipeline's outcome and records the raw text under "final_verdict". The
// verdict is an annotation, never control flow; downstream consumers must
// not parse it into decisions.
type Judge struct {
	client    llm.Client
	summarize SummaryFunc
	timeout   time.Duration
}

// NewJudge builds a judge stage. A zero timeout falls back to
// DefaultJudgeTimeout.
func NewJudge(client llm.Client, summarize SummaryFunc, timeout time.Duration) *Judge {
	if timeout <= 0 {
		timeout = DefaultJudgeTimeout
	}
	return &Judge{client: client, summarize: summarize, timeout: timeout}
}

func (j *Judge) Name() string { return "judge" }

// Run implements the Stage interface. Failure or malformed output is
// recorded as-is; the stage always completes.
func (j *Judge) Run(ctx context.Context, state *State) Result {
	summary := j.summarize(state)
	prompt := fmt.Sprintf(
		"You are reviewing an automated smart city operations decision.\n"+
			"Situation summary:\n%s\n\n"+
			"Reply with APPROVE or REJECT on the first line, followed by a one-paragraph justification.",
		summary)

	callCtx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	start := time.Now()
	text, err := j.client.Generate(callCtx, prompt, llm.GenerationParams{})
	judgeLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		state.Set("final_verdict", FallbackVerdict)
		state.SetStageError("judge", map[string]any{"error": err.Error()})
		return Partial("judge call failed, fallback verdict recorded", "error", err.Error())
	}

	text = strings.TrimSpace(text)
	if text == "" {
		state.Set("final_verdict", FallbackVerdict)
		return Partial("judge returned empty verdict, fallback recorded")
	}

	state.Set("final_verdict", text)
	approved := strings.HasPrefix(strings.ToUpper(text), "APPROVE")
	return Success("verdict recorded", "approved", approved)
}
