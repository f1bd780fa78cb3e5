// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package blackout implements the blackout response chain: grid telemetry,
// grid analysis, weather impact, power allocation, and execution validation.
package blackout

import (
	"math"

	"github.com/AleutianAI/CityPulse/services/pipeline"
)

// ZonePriority orders zones for power allocation.
type ZonePriority string

const (
	PriorityCritical ZonePriority = "CRITICAL"
	PriorityHigh     ZonePriority = "HIGH"
	PriorityMedium   ZonePriority = "MEDIUM"
	PriorityLow      ZonePriority = "LOW"
)

// Weight returns the allocation weight for the priority tier. Critical
// zones are handled out of band (full demand first); the weight matters
// for distributing whatever capacity remains.
func (p ZonePriority) Weight() float64 {
	switch p {
	case PriorityCritical:
		return 1.0
	case PriorityHigh:
		return 0.7
	case PriorityMedium:
		return 0.4
	case PriorityLow:
		return 0.2
	default:
		return 0.2
	}
}

// Severity grades a blackout incident by share of grid capacity lost.
type Severity string

const (
	SeverityMinor        Severity = "MINOR"
	SeverityModerate     Severity = "MODERATE"
	SeverityMajor        Severity = "MAJOR"
	SeverityCatastrophic Severity = "CATASTROPHIC"
)

// SeverityForCapacityLost maps the percentage of grid capacity lost to a
// severity grade: <30 minor, 30-60 moderate, 60-85 major, >85 catastrophic.
func SeverityForCapacityLost(percent float64) Severity {
	switch {
	case percent > 85:
		return SeverityCatastrophic
	case percent > 60:
		return SeverityMajor
	case percent >= 30:
		return SeverityModerate
	default:
		return SeverityMinor
	}
}

// Zone is the allocation-relevant view of a power zone. The dashboard
// layer owns the full zone record; the pipeline only needs demand,
// priority, and backup parameters.
type Zone struct {
	ID                  string
	Name                string
	Priority            ZonePriority
	DemandMW            float64
	BackupAvailable     bool
	BackupCapacityMW    float64
	BackupDurationHours float64
}

// zonesFromState reads the typed zone list seeded by the caller. Absent or
// oddly-shaped values yield nil, and downstream stages degrade.
func zonesFromState(state *pipeline.State) []Zone {
	v, ok := state.Get("zones")
	if !ok {
		return nil
	}
	zones, ok := v.([]Zone)
	if !ok {
		return nil
	}
	return zones
}

// zoneIDsFromState reads the affected zone id list, accepting either the
// typed form from Go callers or the decoded-JSON form.
func zoneIDsFromState(state *pipeline.State) []string {
	v, ok := state.Get("affected_zones")
	if !ok {
		return nil
	}
	switch ids := v.(type) {
	case []string:
		return ids
	case []any:
		out := make([]string, 0, len(ids))
		for _, raw := range ids {
			if s, ok := raw.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
