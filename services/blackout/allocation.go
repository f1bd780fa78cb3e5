// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package blackout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/CityPulse/services/llm"
	"github.com/AleutianAI/CityPulse/services/pipeline"
)

// AllocationStage distributes the remaining grid capacity across the
// affected zones. Critical zones are satisfied in full before any other
// tier sees a megawatt; when even the critical tier does not fit, capacity
// is split proportionally among critical zones and everything else gets
// zero.
type AllocationStage struct {
	client llm.Client
}

func NewAllocationStage(client llm.Client) *AllocationStage {
	return &AllocationStage{client: client}
}

func (s *AllocationStage) Name() string { return "power_allocation" }

func (s *AllocationStage) Run(ctx context.Context, state *pipeline.State) pipeline.Result {
	zones := zonesFromState(state)
	capacity := state.Float("available_capacity_mw", 0)

	allocations := ZoneAllocations(zones, capacity)
	backup := BackupStrategy(zones, allocations)

	analysis := state.Map("grid_analysis")
	impact := pipeline.MapMap(state.Map("weather_impact"), "impact_assessment")

	prompt := fmt.Sprintf(
		"As a power grid allocation strategist, recommend the allocation approach:\n\n"+
			"Incident Severity: %s\nCapacity Lost: %.1f MW\nAffected Zones: %d\n"+
			"Cascade Risk: %.0f%%\nWeather Impact: %s\n\n"+
			"Should we prioritize:\n"+
			"1. Maintain critical infrastructure at 100%%\n"+
			"2. Distribute power more evenly\n"+
			"3. Focus on population centers\n\n"+
			"Respond with the number (1, 2, or 3) and a one-sentence justification.",
		state.String("severity", "UNKNOWN"), state.Float("capacity_lost_mw", 0), len(zones),
		pipeline.MapFloat(analysis, "cascade_risk", 0)*100,
		pipeline.MapString(impact, "weather_condition", "unknown"))

	perZone := make(map[string]any, len(allocations))
	totalAllocated := 0.0
	for id, mw := range allocations {
		perZone[id] = mw
		totalAllocated += mw
	}

	state.Set("power_allocation_plan", map[string]any{
		"plan_id":                 uuid.NewString()[:12],
		"allocations":             perZone,
		"total_allocated_mw":      round2(totalAllocated),
		"available_capacity_mw":   capacity,
		"backup_plan":             backup,
		"strategy":                annotate(ctx, s.client, prompt),
		"cascade_risk_considered": pipeline.MapFloat(analysis, "cascade_risk", 0),
		"weather_adjusted":        pipeline.MapFloat(impact, "combined_severity_factor", 1.0),
		"timestamp":               time.Now().UTC().Format(time.RFC3339),
	})

	if len(zones) == 0 {
		return pipeline.Partial("no zone data available for allocation")
	}
	return pipeline.Success(
		fmt.Sprintf("allocated %.1f of %.1f MW across %d zones", totalAllocated, capacity, len(zones)),
		"allocated_mw", round2(totalAllocated), "zones", len(zones))
}

// ZoneAllocations computes the per-zone megawatt allocation. The returned
// allocations never sum to more than the available capacity.
func ZoneAllocations(zones []Zone, availableCapacityMW float64) map[string]float64 {
	allocations := make(map[string]float64, len(zones))
	if availableCapacityMW <= 0 {
		for _, z := range zones {
			allocations[z.ID] = 0
		}
		return allocations
	}

	criticalDemand := 0.0
	for _, z := range zones {
		if z.Priority == PriorityCritical {
			criticalDemand += z.DemandMW
		}
	}

	// Not enough even for critical: split it proportionally among the
	// critical tier, everything else goes dark.
	if criticalDemand > availableCapacityMW {
		for _, z := range zones {
			if z.Priority == PriorityCritical && criticalDemand > 0 {
				allocations[z.ID] = round2(z.DemandMW / criticalDemand * availableCapacityMW)
			} else {
				allocations[z.ID] = 0
			}
		}
		return allocations
	}

	// Critical tier gets full demand; the remainder is distributed by
	// demand weighted by priority tier.
	remaining := availableCapacityMW - criticalDemand
	weightedDemand := 0.0
	for _, z := range zones {
		if z.Priority == PriorityCritical {
			allocations[z.ID] = z.DemandMW
			continue
		}
		weightedDemand += z.DemandMW * z.Priority.Weight()
	}

	for _, z := range zones {
		if z.Priority == PriorityCritical {
			continue
		}
		if weightedDemand <= 0 {
			allocations[z.ID] = 0
			continue
		}
		// The full remainder is handed out; a zone can receive more than
		// its demand when capacity is ample.
		allocations[z.ID] = round2(z.DemandMW * z.Priority.Weight() / weightedDemand * remaining)
	}

	return allocations
}

// BackupStrategy assigns each under-allocated zone's shortfall to its
// backup supply when the shortfall fits under the backup ceiling. The
// aggregate duration estimate is the plain average of the participating
// zones' rated durations.
func BackupStrategy(zones []Zone, allocations map[string]float64) map[string]any {
	onBackup := make([]any, 0)
	totalBackup := 0.0
	durationSum := 0.0

	for _, z := range zones {
		deficit := z.DemandMW - allocations[z.ID]
		if deficit <= 0 || !z.BackupAvailable {
			continue
		}
		if deficit > z.BackupCapacityMW {
			continue
		}
		onBackup = append(onBackup, map[string]any{
			"zone_id":        z.ID,
			"backup_load_mw": round2(deficit),
			"duration_hours": z.BackupDurationHours,
		})
		totalBackup += deficit
		durationSum += z.BackupDurationHours
	}

	avgDuration := 0.0
	if len(onBackup) > 0 {
		avgDuration = round1(durationSum / float64(len(onBackup)))
	}

	return map[string]any{
		"zones_on_backup":                 onBackup,
		"total_backup_capacity_mw":        round2(totalBackup),
		"estimated_backup_duration_hours": avgDuration,
	}
}
