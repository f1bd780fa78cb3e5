// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dashboard

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/CityPulse/services/blackout"
	"github.com/AleutianAI/CityPulse/services/pipeline"
)

// HandleBlackoutState returns the grid view: power zones, active blackout
// incidents, and the overall health score.
func HandleBlackoutState(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		zones, err := d.PowerZones.List(ctx)
		if err != nil {
			requestError(c, http.StatusInternalServerError, err.Error())
			return
		}
		incidents, err := d.Incidents.List(ctx)
		if err != nil {
			requestError(c, http.StatusInternalServerError, err.Error())
			return
		}

		blackouts := make([]Incident, 0)
		for _, incident := range incidents {
			if incident.Kind == "blackout" {
				blackouts = append(blackouts, incident)
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"zones":       zones,
			"incidents":   blackouts,
			"grid_health": currentGridHealth(zones, incidents),
		})
	}
}

// HandleBlackoutZone returns one power zone's detail.
func HandleBlackoutZone(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		zone, err := d.PowerZones.Get(c.Request.Context(), c.Param("zoneId"))
		if errors.Is(err, ErrNotFound) {
			requestError(c, http.StatusNotFound, "unknown power zone: "+c.Param("zoneId"))
			return
		}
		if err != nil {
			requestError(c, http.StatusInternalServerError, err.Error())
			return
		}
		c.JSON(http.StatusOK, zone)
	}
}

// HandleBlackoutSimulate triggers a blackout: it degrades the affected
// zones, opens an incident, runs the response pipeline, applies its
// allocation plan, and schedules recovery.
func HandleBlackoutSimulate(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req BlackoutSimulationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			requestError(c, http.StatusBadRequest, err.Error())
			return
		}

		ctx := c.Request.Context()
		allZones, err := d.PowerZones.List(ctx)
		if err != nil {
			requestError(c, http.StatusInternalServerError, err.Error())
			return
		}

		byID := make(map[string]PowerZone, len(allZones))
		totalCapacity := 0.0
		for _, z := range allZones {
			byID[z.ID] = z
			totalCapacity += z.CapacityMW
		}

		affected := make([]PowerZone, 0, len(req.AffectedZones))
		for _, zoneID := range req.AffectedZones {
			zone, ok := byID[zoneID]
			if !ok {
				requestError(c, http.StatusNotFound, "unknown power zone: "+zoneID)
				return
			}
			affected = append(affected, zone)
		}

		capacityLost := req.CapacityLostMW
		if capacityLost == 0 {
			for _, zone := range affected {
				capacityLost += zone.CurrentLoadMW
			}
		}
		severity := blackout.SeverityForCapacityLost(capacityLost / totalCapacity * 100)

		incident := Incident{
			ID:                     uuid.NewString(),
			Kind:                   "blackout",
			Status:                 IncidentActive,
			Cause:                  req.Cause,
			Severity:               string(severity),
			AffectedZones:          req.AffectedZones,
			CapacityLostMW:         capacityLost,
			CascadeRisk:            IncidentCascadeRisk(severity, len(req.AffectedZones)),
			EstimatedRecoveryHours: EstimatedRecoveryHours(severity, req.Weather),
			CreatedAt:              time.Now().UTC(),
		}
		if err := d.Incidents.Upsert(ctx, incident); err != nil {
			requestError(c, http.StatusInternalServerError, err.Error())
			return
		}

		for _, zone := range affected {
			effect := OutageEffectFor(severity, zone)
			unlock := d.Locks.Lock(zone.ID)
			zone.PowerState = effect.PowerState
			zone.AllocationPercent = effect.AllocationPercent
			err := d.PowerZones.Upsert(ctx, zone)
			unlock()
			if err != nil {
				requestError(c, http.StatusInternalServerError, err.Error())
				return
			}
		}

		zones, _ := d.PowerZones.List(ctx)
		incidents, _ := d.Incidents.List(ctx)
		d.Hub.Publish(Event{Type: "blackout_alert", Data: map[string]any{
			"incident":    incident,
			"grid_health": currentGridHealth(zones, incidents),
		}})
		d.Logger.Info("blackout simulation started",
			"incident_id", incident.ID, "cause", req.Cause,
			"severity", incident.Severity, "capacity_lost_mw", capacityLost)

		exec, err := d.Blackout.Execute(ctx, map[string]any{
			"incident_id":           incident.ID,
			"cause":                 req.Cause,
			"severity":              string(severity),
			"affected_zones":        req.AffectedZones,
			"capacity_lost_mw":      capacityLost,
			"available_capacity_mw": totalCapacity - capacityLost,
			"weather_condition":     req.Weather,
			"zones":                 pipelineZones(affected),
		})
		if err != nil {
			requestError(c, http.StatusInternalServerError, err.Error())
			return
		}

		d.applyAllocationPlan(c, exec, affected)

		d.Hub.Publish(Event{Type: "blackout_update", Data: map[string]any{
			"incident_id":           incident.ID,
			"power_allocation_plan": exec.State.Map("power_allocation_plan"),
			"validation_results":    exec.State.Map("validation_results"),
		}})

		d.Recovery.Schedule(incident.ID)

		response := projectState(exec,
			"grid_analysis", "weather_impact", "power_allocation_plan",
			"validation_results", "final_verdict")
		response["incident"] = incident
		c.JSON(http.StatusOK, response)
	}
}

// applyAllocationPlan turns the pipeline's per-zone MW allocations into
// zone allocation percentages and power states.
func (d *Deps) applyAllocationPlan(c *gin.Context, exec *pipeline.Execution, affected []PowerZone) {
	allocations := pipeline.MapMap(exec.State.Map("power_allocation_plan"), "allocations")
	if allocations == nil {
		return
	}

	ctx := c.Request.Context()
	for _, zone := range affected {
		allocatedMW, ok := allocations[zone.ID]
		if !ok || zone.CurrentLoadMW <= 0 {
			continue
		}
		percent := pipeline.Clamp(pipeline.AsFloat(allocatedMW, 0)/zone.CurrentLoadMW*100, 0, 100)

		unlock := d.Locks.Lock(zone.ID)
		if current, err := d.PowerZones.Get(ctx, zone.ID); err == nil {
			current.AllocationPercent = percent
			current.PowerState = PowerStateForAllocation(percent)
			if err := d.PowerZones.Upsert(ctx, current); err != nil {
				d.Logger.Error("allocation apply failed", "zone_id", zone.ID, "error", err)
			}
		}
		unlock()
	}
}

// HandleManualAllocate lets an operator override one zone's allocation.
func HandleManualAllocate(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ManualAllocationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			requestError(c, http.StatusBadRequest, err.Error())
			return
		}

		ctx := c.Request.Context()
		unlock := d.Locks.Lock(req.ZoneID)
		defer unlock()

		zone, err := d.PowerZones.Get(ctx, req.ZoneID)
		if errors.Is(err, ErrNotFound) {
			requestError(c, http.StatusNotFound, "unknown power zone: "+req.ZoneID)
			return
		}
		if err != nil {
			requestError(c, http.StatusInternalServerError, err.Error())
			return
		}

		zone.AllocationPercent = pipeline.Clamp(req.AllocationPercent, 0, 100)
		zone.PowerState = PowerStateForAllocation(zone.AllocationPercent)
		if err := d.PowerZones.Upsert(ctx, zone); err != nil {
			requestError(c, http.StatusInternalServerError, err.Error())
			return
		}

		d.Hub.Publish(Event{Type: "manual_allocation", Data: map[string]any{
			"zone_id":            zone.ID,
			"allocation_percent": zone.AllocationPercent,
			"power_state":        zone.PowerState,
		}})
		d.Logger.Info("manual allocation applied",
			"zone_id", zone.ID, "allocation_percent", zone.AllocationPercent)
		c.JSON(http.StatusOK, zone)
	}
}

// HandleBlackoutResolve resolves an incident immediately: recovery is
// cancelled, affected zones return to full power, the incident is removed.
func HandleBlackoutResolve(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		incidentID := c.Param("incidentId")
		ctx := c.Request.Context()

		incident, err := d.Incidents.Get(ctx, incidentID)
		if errors.Is(err, ErrNotFound) {
			requestError(c, http.StatusNotFound, "unknown incident: "+incidentID)
			return
		}
		if err != nil {
			requestError(c, http.StatusInternalServerError, err.Error())
			return
		}

		d.Recovery.Cancel(incidentID)
		RestoreZones(ctx, d.PowerZones, d.Locks, d.Logger, incident.AffectedZones)

		if err := d.Incidents.Delete(ctx, incidentID); err != nil && !errors.Is(err, ErrNotFound) {
			requestError(c, http.StatusInternalServerError, err.Error())
			return
		}

		d.Hub.Publish(Event{Type: "blackout_resolved", Data: map[string]any{
			"incident_id": incidentID,
			"zones":       incident.AffectedZones,
		}})
		d.Logger.Info("blackout resolved manually", "incident_id", incidentID)
		c.JSON(http.StatusOK, gin.H{"resolved": incidentID})
	}
}
