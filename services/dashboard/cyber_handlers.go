// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dashboard

import (
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/CityPulse/services/cyber"
	"github.com/AleutianAI/CityPulse/services/pipeline"
)

// eventLogCapacity bounds the dashboard's recent security event feed.
const eventLogCapacity = 50

// feedEventLimit is how many of one incident's anomalies reach the feed.
const feedEventLimit = 5

// EventLog is a bounded, newest-first feed of security events shown on
// the dashboard. Safe for concurrent use.
type EventLog struct {
	mu     sync.RWMutex
	events []SecurityEvent
}

func NewEventLog() *EventLog { return &EventLog{} }

// Add prepends events, trimming the oldest past capacity.
func (l *EventLog) Add(events ...SecurityEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(events, l.events...)
	if len(l.events) > eventLogCapacity {
		l.events = l.events[:eventLogCapacity]
	}
}

// Recent returns a copy of the feed, newest first.
func (l *EventLog) Recent() []SecurityEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]SecurityEvent, len(l.events))
	copy(out, l.events)
	return out
}

// HandleCyberState returns the security view: zones, open cyber incidents,
// and the recent event feed.
func HandleCyberState(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		zones, err := d.CyberZones.List(ctx)
		if err != nil {
			requestError(c, http.StatusInternalServerError, err.Error())
			return
		}
		incidents, err := d.Incidents.List(ctx)
		if err != nil {
			requestError(c, http.StatusInternalServerError, err.Error())
			return
		}

		open := make([]Incident, 0)
		for _, incident := range incidents {
			if incident.Kind == "cyber" {
				open = append(open, incident)
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"zones":         zones,
			"incidents":     open,
			"recent_events": d.Events.Recent(),
		})
	}
}

// HandleCyberZone returns one cyber zone's detail.
func HandleCyberZone(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		zone, err := d.CyberZones.Get(c.Request.Context(), c.Param("zoneId"))
		if errors.Is(err, ErrNotFound) {
			requestError(c, http.StatusNotFound, "unknown cyber zone: "+c.Param("zoneId"))
			return
		}
		if err != nil {
			requestError(c, http.StatusInternalServerError, err.Error())
			return
		}
		c.JSON(http.StatusOK, zone)
	}
}

// HandleCyberEvents returns the recent security event feed.
func HandleCyberEvents(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"events": d.Events.Recent()})
	}
}

// HandleCyberSimulate launches an attack scenario against one zone: the
// zone goes RED, an incident opens, the SOAR pipeline runs, and the
// validated outcome settles the zone's final state.
func HandleCyberSimulate(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CyberSimulationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			requestError(c, http.StatusBadRequest, err.Error())
			return
		}
		if req.Severity == "" {
			req.Severity = "HIGH"
		}

		ctx := c.Request.Context()
		zone, err := d.CyberZones.Get(ctx, req.ZoneID)
		if errors.Is(err, ErrNotFound) {
			requestError(c, http.StatusNotFound, "unknown cyber zone: "+req.ZoneID)
			return
		}
		if err != nil {
			requestError(c, http.StatusInternalServerError, err.Error())
			return
		}

		unlock := d.Locks.Lock(req.ZoneID)
		defer unlock()

		zone.SecurityState = cyber.StateRed
		if err := d.CyberZones.Upsert(ctx, zone); err != nil {
			requestError(c, http.StatusInternalServerError, err.Error())
			return
		}

		incident := Incident{
			ID:            uuid.NewString(),
			Kind:          "cyber",
			Status:        IncidentInvestigating,
			Severity:      req.Severity,
			AffectedZones: []string{req.ZoneID},
			AttackType:    req.AttackType,
			CreatedAt:     time.Now().UTC(),
		}
		if err := d.Incidents.Upsert(ctx, incident); err != nil {
			requestError(c, http.StatusInternalServerError, err.Error())
			return
		}

		d.Hub.Publish(Event{Type: "cyber_alert", Data: map[string]any{
			"incident": incident,
			"zone_id":  zone.ID,
		}})
		d.Logger.Info("attack simulation started",
			"incident_id", incident.ID, "zone_id", zone.ID,
			"attack_type", req.AttackType, "severity", req.Severity)

		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		exec, err := d.Cyber.Execute(ctx, map[string]any{
			"zone_id":       zone.ID,
			"zone_type":     zone.ZoneType,
			"attack_type":   req.AttackType,
			"severity":      req.Severity,
			"raw_telemetry": cyber.AttackTelemetry(rng, req.AttackType, req.Severity),
		})
		if err != nil {
			requestError(c, http.StatusInternalServerError, err.Error())
			return
		}

		d.Events.Add(feedEvents(zone.ID, exec.State.Slice("anomalies"))...)

		validationPassed := pipeline.MapBool(exec.State.Map("validation_results"), "validation_passed", false)
		if validationPassed {
			incident.Status = IncidentMitigated
			zone.SecurityState = cyber.StateGreen
			if err := d.Incidents.Delete(ctx, incident.ID); err != nil && !errors.Is(err, ErrNotFound) {
				d.Logger.Error("incident cleanup failed", "incident_id", incident.ID, "error", err)
			}
		} else {
			zone.SecurityState = exec.State.String("security_state", cyber.StateYellow)
			if err := d.Incidents.Upsert(ctx, incident); err != nil {
				d.Logger.Error("incident update failed", "incident_id", incident.ID, "error", err)
			}
		}
		if err := d.CyberZones.Upsert(ctx, zone); err != nil {
			requestError(c, http.StatusInternalServerError, err.Error())
			return
		}

		d.Hub.Publish(Event{Type: "cyber_update", Data: map[string]any{
			"incident_id":       incident.ID,
			"zone_id":           zone.ID,
			"security_state":    zone.SecurityState,
			"incident_status":   incident.Status,
			"validation_passed": validationPassed,
		}})
		d.Logger.Info("attack simulation complete",
			"incident_id", incident.ID, "zone_id", zone.ID,
			"security_state", zone.SecurityState, "validation_passed", validationPassed)

		response := projectState(exec,
			"anomalies", "threat_intelligence", "response_playbook",
			"validation_results", "security_state", "final_verdict")
		response["incident"] = incident
		c.JSON(http.StatusOK, response)
	}
}

// feedEvents converts detected anomalies into dashboard feed entries.
func feedEvents(zoneID string, anomalies []any) []SecurityEvent {
	events := make([]SecurityEvent, 0, feedEventLimit)
	for _, raw := range anomalies {
		if len(events) == feedEventLimit {
			break
		}
		anomaly, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		anomalyType := pipeline.MapString(anomaly, "type", "unknown")
		description := anomalyType
		if eventType := pipeline.MapString(anomaly, "event_type", ""); eventType != "" {
			description = fmt.Sprintf("%s: %s over baseline", anomalyType, eventType)
		}
		events = append(events, SecurityEvent{
			Timestamp:   pipeline.MapString(anomaly, "timestamp", time.Now().UTC().Format(time.RFC3339)),
			ZoneID:      zoneID,
			SourceIP:    pipeline.MapString(anomaly, "source_ip", "unknown"),
			EventType:   pipeline.MapString(anomaly, "event_type", anomalyType),
			Severity:    pipeline.MapString(anomaly, "severity", "LOW"),
			Description: description,
		})
	}
	return events
}
