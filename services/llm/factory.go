// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"fmt"
	"log/slog"
)

// NewFromBackend builds a Client for the configured backend type.
//
// Supported backends: "openai", "ollama", "disabled". The disabled backend
// returns a static client so pipelines keep their shape without a live model;
// judge stages record its canned output instead of a real verdict.
func NewFromBackend(backend string) (Client, error) {
	switch backend {
	case "openai":
		return NewOpenAIClient()
	case "ollama":
		return NewOllamaClient()
	case "disabled", "":
		slog.Warn("LLM backend disabled, using static responses")
		return &StaticClient{Response: "LLM commentary unavailable (backend disabled)."}, nil
	default:
		return nil, fmt.Errorf("unknown LLM backend type: %q", backend)
	}
}

// StaticClient returns a fixed response for every prompt. Used when no LLM
// backend is configured and as a test double.
type StaticClient struct {
	Response string
	Err      error
}

// Generate implements the Client interface.
func (s *StaticClient) Generate(_ context.Context, _ string, _ GenerationParams) (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	return s.Response, nil
}
