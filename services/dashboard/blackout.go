// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dashboard

import (
	"math"

	"github.com/AleutianAI/CityPulse/services/blackout"
)

// PowerStateForAllocation maps an allocation percentage to the delivered
// power state.
func PowerStateForAllocation(percent float64) string {
	switch {
	case percent >= 90:
		return PowerFull
	case percent >= 50:
		return PowerReduced
	case percent > 0:
		return PowerBackup
	default:
		return PowerNone
	}
}

// OutageEffect is the immediate per-zone consequence of a blackout at a
// given severity.
type OutageEffect struct {
	PowerState        string
	AllocationPercent float64
}

// OutageEffectFor derives a zone's power state when a blackout of the
// given severity hits it. Low-tier zones lose power entirely under a
// catastrophic outage; protected zones fall back to their reserves.
func OutageEffectFor(severity blackout.Severity, zone PowerZone) OutageEffect {
	switch severity {
	case blackout.SeverityCatastrophic:
		if zone.Priority == "LOW" || zone.Priority == "MEDIUM" {
			return OutageEffect{PowerState: PowerNone, AllocationPercent: 0}
		}
		return OutageEffect{PowerState: PowerBackup, AllocationPercent: 50}
	case blackout.SeverityMajor:
		if zone.BackupAvailable {
			return OutageEffect{PowerState: PowerBackup, AllocationPercent: 40}
		}
		return OutageEffect{PowerState: PowerNone, AllocationPercent: 0}
	case blackout.SeverityModerate:
		return OutageEffect{PowerState: PowerReduced, AllocationPercent: 60}
	default:
		return OutageEffect{PowerState: PowerReduced, AllocationPercent: 80}
	}
}

// GridHealth scores overall grid condition on [0,100] from the share of
// total capacity lost. The 1.2 factor makes health hit zero before the
// entire grid is gone.
func GridHealth(totalCapacityMW, capacityLostMW float64) float64 {
	if totalCapacityMW <= 0 {
		return 0
	}
	lostPercent := capacityLostMW / totalCapacityMW * 100
	return math.Max(0, 100-lostPercent*1.2)
}

// EstimatedRecoveryHours projects time to restoration from severity,
// stretched by adverse weather.
func EstimatedRecoveryHours(severity blackout.Severity, weather string) float64 {
	base := 2.0
	switch severity {
	case blackout.SeverityModerate:
		base = 6
	case blackout.SeverityMajor:
		base = 12
	case blackout.SeverityCatastrophic:
		base = 24
	}

	multiplier := 1.0
	switch weather {
	case "storm", "cyclone":
		multiplier = 1.5
	case "flooding":
		multiplier = 2.0
	case "rain":
		multiplier = 1.2
	}
	return base * multiplier
}

// IncidentCascadeRisk is the headline risk figure shown on the incident
// card: a severity base plus a spread term for how many zones are hit.
func IncidentCascadeRisk(severity blackout.Severity, affectedZones int) float64 {
	base := 0.1
	switch severity {
	case blackout.SeverityModerate:
		base = 0.3
	case blackout.SeverityMajor:
		base = 0.6
	case blackout.SeverityCatastrophic:
		base = 0.9
	}
	return math.Min(1.0, base+math.Min(float64(affectedZones)/10, 0.3))
}

// pipelineZones converts store records to the pipeline's zone model.
func pipelineZones(zones []PowerZone) []blackout.Zone {
	out := make([]blackout.Zone, 0, len(zones))
	for _, z := range zones {
		out = append(out, blackout.Zone{
			ID:                  z.ID,
			Name:                z.Name,
			Priority:            blackout.ZonePriority(z.Priority),
			DemandMW:            z.CurrentLoadMW,
			BackupAvailable:     z.BackupAvailable,
			BackupCapacityMW:    z.BackupCapacityMW,
			BackupDurationHours: z.BackupDurationHours,
		})
	}
	return out
}
