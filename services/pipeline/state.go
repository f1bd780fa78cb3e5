// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline implements the generic stage-execution engine shared by
// the lighting, blackout, and cyber services.
//
// A pipeline is an ordered list of stages threaded through one append-only
// State. Each stage reads whatever upstream keys it needs (substituting
// documented defaults for absent ones), performs a bounded computation, and
// writes new keys. Keys are never removed; a stage may overwrite only keys
// it owns. Stage failures are isolated: a failing stage records a
// "<stage>_error" diagnostic and the run continues.
package pipeline

import (
	"fmt"
	"sync"
)

// State is the append-only key/value bag threaded through a pipeline
// execution. Values are heterogeneous (scalars, slices, nested maps).
// Safe for concurrent reads; writes happen from the single goroutine
// driving the pipeline, but the mutex keeps observers (judge summaries,
// response projection) safe regardless.
type State struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewState creates a State pre-seeded with the caller's request fields.
// A nil seed yields an empty state.
func NewState(seed map[string]any) *State {
	s := &State{data: make(map[string]any, len(seed)+16)}
	for k, v := range seed {
		s.data[k] = v
	}
	return s
}

// Set writes a key. Overwriting is permitted only for the owning stage;
// the engine does not police ownership, the stage contract does.
func (s *State) Set(key string, value any) {
	s.mu.Lock()
	s.data[key] = value
	s.mu.Unlock()
}

// SetStageError records a stage failure diagnostic under "<stage>_error"
// without touching the stage's normal payload key.
func (s *State) SetStageError(stage string, payload any) {
	s.Set(stage+"_error", payload)
}

// Get returns the raw value and whether the key exists.
func (s *State) Get(key string) (any, bool) {
	s.mu.RLock()
	v, ok := s.data[key]
	s.mu.RUnlock()
	return v, ok
}

// Has reports whether the key has been written.
func (s *State) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Keys returns a snapshot of all keys currently present.
func (s *State) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of keys currently present.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Snapshot returns a shallow copy of the full state, used by the transport
// layer to project response keys after the terminal stage.
func (s *State) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// ===== Typed read helpers =====
//
// Stages must tolerate absent or oddly-shaped upstream keys by substituting
// a stage-defined default. These helpers implement that contract: any miss
// or shape mismatch yields the fallback, never an error.

// Map returns the key as a map[string]any, or nil when absent or not a map.
func (s *State) Map(key string) map[string]any {
	v, ok := s.Get(key)
	if !ok {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return m
}

// Float returns the key as float64, accepting any numeric type, or the
// fallback when absent or non-numeric.
func (s *State) Float(key string, fallback float64) float64 {
	v, ok := s.Get(key)
	if !ok {
		return fallback
	}
	return AsFloat(v, fallback)
}

// String returns the key as a string, or the fallback.
func (s *State) String(key, fallback string) string {
	v, ok := s.Get(key)
	if !ok {
		return fallback
	}
	str, ok := v.(string)
	if !ok {
		return fallback
	}
	return str
}

// Bool returns the key as a bool, or the fallback.
func (s *State) Bool(key string, fallback bool) bool {
	v, ok := s.Get(key)
	if !ok {
		return fallback
	}
	b, ok := v.(bool)
	if !ok {
		return fallback
	}
	return b
}

// Slice returns the key as []any, or nil.
func (s *State) Slice(key string) []any {
	v, ok := s.Get(key)
	if !ok {
		return nil
	}
	sl, ok := v.([]any)
	if !ok {
		return nil
	}
	return sl
}

// ===== Map field helpers =====
//
// Nested payloads from upstream stages arrive as map[string]any. The same
// defaulting rules apply one level down.

// MapFloat reads a numeric field from a nested map with a fallback.
func MapFloat(m map[string]any, key string, fallback float64) float64 {
	if m == nil {
		return fallback
	}
	v, ok := m[key]
	if !ok {
		return fallback
	}
	return AsFloat(v, fallback)
}

// MapString reads a string field from a nested map with a fallback.
func MapString(m map[string]any, key, fallback string) string {
	if m == nil {
		return fallback
	}
	v, ok := m[key]
	if !ok {
		return fallback
	}
	str, ok := v.(string)
	if !ok {
		return fallback
	}
	return str
}

// MapBool reads a bool field from a nested map with a fallback.
func MapBool(m map[string]any, key string, fallback bool) bool {
	if m == nil {
		return fallback
	}
	v, ok := m[key]
	if !ok {
		return fallback
	}
	b, ok := v.(bool)
	if !ok {
		return fallback
	}
	return b
}

// MapMap reads a nested map field, or nil.
func MapMap(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	v, ok := m[key]
	if !ok {
		return nil
	}
	sub, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return sub
}

// MapSlice reads a []any field, or nil.
func MapSlice(m map[string]any, key string) []any {
	if m == nil {
		return nil
	}
	v, ok := m[key]
	if !ok {
		return nil
	}
	sl, ok := v.([]any)
	if !ok {
		return nil
	}
	return sl
}

// AsFloat coerces common numeric types to float64. JSON decoding yields
// float64, but seeds and stage payloads built in Go may carry int or
// float32 values.
func AsFloat(v any, fallback float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	default:
		return fallback
	}
}

// Clamp bounds v to the closed interval [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ErrMissingKey reports an expected key a stage could not default around.
// Stages convert it to an error Result rather than propagating it.
func ErrMissingKey(stage, key string) error {
	return fmt.Errorf("stage %s: required state key %q missing", stage, key)
}
