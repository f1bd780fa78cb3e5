// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/CityPulse/services/lighting"
)

// historyLimit caps how many past decisions feed one new decision.
const historyLimit = 3

// decisionClassName is the Weaviate class holding decision records.
const decisionClassName = "DecisionHistory"

// WeaviateHistory stores lighting decision records in Weaviate and
// retrieves the closest past incidents by BM25 over their summaries.
// Implements lighting.DecisionHistory.
type WeaviateHistory struct {
	client *weaviate.Client
	logger *slog.Logger
}

// NewWeaviateHistory wraps an existing Weaviate client. Call EnsureSchema
// once before first use.
func NewWeaviateHistory(client *weaviate.Client, logger *slog.Logger) *WeaviateHistory {
	if logger == nil {
		logger = slog.Default()
	}
	return &WeaviateHistory{client: client, logger: logger}
}

// EnsureSchema creates the DecisionHistory class if it does not exist.
// Vectorization is disabled; retrieval is keyword-based so the store works
// without an embedding module.
func (h *WeaviateHistory) EnsureSchema(ctx context.Context) error {
	_, err := h.client.Schema().ClassGetter().WithClassName(decisionClassName).Do(ctx)
	if err == nil {
		return nil
	}

	class := &models.Class{
		Class:      decisionClassName,
		Vectorizer: "none",
		Properties: []*models.Property{
			{Name: "summary", DataType: []string{"text"}},
			{Name: "actionTaken", DataType: []string{"text"}},
			{Name: "outcome", DataType: []string{"text"}},
			{Name: "alertLevel", DataType: []string{"text"}},
			{Name: "riskScore", DataType: []string{"number"}},
			{Name: "timestamp", DataType: []string{"date"}},
		},
	}
	if err := h.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create %s schema: %w", decisionClassName, err)
	}
	h.logger.Info("created decision history schema", "class", decisionClassName)
	return nil
}

// Similar returns up to historyLimit past decisions ranked by BM25 match
// against the summary.
func (h *WeaviateHistory) Similar(ctx context.Context, summary string) ([]lighting.HistoryEntry, error) {
	bm25 := h.client.GraphQL().Bm25ArgBuilder().
		WithQuery(summary).
		WithProperties("summary")

	fields := []graphql.Field{
		{Name: "summary"},
		{Name: "actionTaken"},
		{Name: "outcome"},
		{Name: "alertLevel"},
		{Name: "riskScore"},
		{Name: "timestamp"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}},
	}

	resp, err := h.client.GraphQL().Get().
		WithClassName(decisionClassName).
		WithFields(fields...).
		WithBM25(bm25).
		WithLimit(historyLimit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("query decision history: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("decision history query: %s", resp.Errors[0].Message)
	}

	return parseHistoryResponse(resp.Data), nil
}

// Record persists one decision.
func (h *WeaviateHistory) Record(ctx context.Context, entry lighting.HistoryEntry) error {
	_, err := h.client.Data().Creator().
		WithClassName(decisionClassName).
		WithProperties(map[string]any{
			"summary":     entry.Summary,
			"actionTaken": entry.ActionTaken,
			"outcome":     entry.Outcome,
			"alertLevel":  entry.AlertLevel,
			"riskScore":   entry.RiskScore,
			"timestamp":   entry.Timestamp.Format(time.RFC3339),
		}).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("record decision %s: %w", entry.ID, err)
	}
	return nil
}

// parseHistoryResponse walks the untyped GraphQL payload defensively: any
// shape mismatch yields fewer entries, never an error.
func parseHistoryResponse(data map[string]models.JSONObject) []lighting.HistoryEntry {
	get, ok := data["Get"].(map[string]any)
	if !ok {
		return nil
	}
	rows, ok := get[decisionClassName].([]any)
	if !ok {
		return nil
	}

	entries := make([]lighting.HistoryEntry, 0, len(rows))
	for _, raw := range rows {
		row, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		entry := lighting.HistoryEntry{
			Summary:     stringField(row, "summary"),
			ActionTaken: stringField(row, "actionTaken"),
			Outcome:     stringField(row, "outcome"),
			AlertLevel:  stringField(row, "alertLevel"),
		}
		if score, ok := row["riskScore"].(float64); ok {
			entry.RiskScore = score
		}
		if ts, err := time.Parse(time.RFC3339, stringField(row, "timestamp")); err == nil {
			entry.Timestamp = ts
		}
		if additional, ok := row["_additional"].(map[string]any); ok {
			entry.ID = stringField(additional, "id")
		}
		entries = append(entries, entry)
	}
	return entries
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// MemoryHistory is the in-process fallback DecisionHistory used when no
// Weaviate deployment is configured. Similarity is word overlap between
// summaries, which is enough for the dashboard's short incident texts.
type MemoryHistory struct {
	mu      sync.RWMutex
	entries []lighting.HistoryEntry
}

func NewMemoryHistory() *MemoryHistory { return &MemoryHistory{} }

func (h *MemoryHistory) Similar(_ context.Context, summary string) ([]lighting.HistoryEntry, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	type scored struct {
		entry lighting.HistoryEntry
		score int
	}
	query := tokenize(summary)

	matches := make([]scored, 0)
	for _, entry := range h.entries {
		score := overlap(query, tokenize(entry.Summary))
		if score > 0 {
			matches = append(matches, scored{entry: entry, score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })

	out := make([]lighting.HistoryEntry, 0, historyLimit)
	for i, m := range matches {
		if i == historyLimit {
			break
		}
		out = append(out, m.entry)
	}
	return out, nil
}

func (h *MemoryHistory) Record(_ context.Context, entry lighting.HistoryEntry) error {
	h.mu.Lock()
	h.entries = append(h.entries, entry)
	h.mu.Unlock()
	return nil
}

func tokenize(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, word := range strings.Fields(strings.ToLower(s)) {
		word = strings.Trim(word, ".,:;!?\"'()")
		if len(word) > 2 {
			tokens[word] = true
		}
	}
	return tokens
}

func overlap(a, b map[string]bool) int {
	count := 0
	for word := range a {
		if b[word] {
			count++
		}
	}
	return count
}
