// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

// Status is the uniform outcome classification of a stage run.
type Status string

const (
	StatusSuccess        Status = "success"
	StatusPartialSuccess Status = "partial_success"
	StatusError          Status = "error"
)

// Result is the compact, stage-local summary a stage returns to the driver.
// The full payload goes into State; Result carries only counts, scores, and
// identifiers for logging and metrics. An error Result never aborts the
// pipeline unless the stage is configured fatal.
type Result struct {
	Status  Status         `json:"status"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Success builds a success Result. Optional key/value pairs populate Fields.
func Success(message string, kv ...any) Result {
	return Result{Status: StatusSuccess, Message: message, Fields: fieldMap(kv)}
}

// Partial builds a partial_success Result for stages that completed with
// degraded inputs (missing sources, failed external calls).
func Partial(message string, kv ...any) Result {
	return Result{Status: StatusPartialSuccess, Message: message, Fields: fieldMap(kv)}
}

// Errorf builds an error Result from a stage-local failure.
func Errorf(err error) Result {
	return Result{Status: StatusError, Message: err.Error()}
}

func fieldMap(kv []any) map[string]any {
	if len(kv) == 0 {
		return nil
	}
	fields := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		fields[key] = kv[i+1]
	}
	return fields
}
