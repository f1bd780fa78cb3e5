// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import "context"

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// Client defines the standard interface for any LLM backend.
//
// Pipelines treat the backend as an external capability: fallible,
// potentially slow, no structured-output guarantee. Callers that consume
// generated text must parse defensively and keep a fallback value.
type Client interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}
