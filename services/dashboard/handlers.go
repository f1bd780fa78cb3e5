// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dashboard

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/CityPulse/services/pipeline"
)

// Deps bundles the collaborators the handlers close over. Stores and
// pipelines are injected so tests run against in-memory stores and fake
// LLM clients.
type Deps struct {
	Logger *slog.Logger
	Hub    *Hub

	PowerZones Store[PowerZone]
	CyberZones Store[CyberZone]
	LightZones Store[LightZone]
	Incidents  Store[Incident]
	Locks      *KeyedMutex
	Recovery   *RecoveryScheduler
	Events     *EventLog

	Lighting *pipeline.Pipeline
	Blackout *pipeline.Pipeline
	Cyber    *pipeline.Pipeline
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// The dashboard frontend is served from a separate origin.
		return true
	},
}

// HealthCheck reports service liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleWebSocket upgrades the connection, pushes the full initial state,
// and registers the client for broadcasts.
func HandleWebSocket(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			d.Logger.Error("websocket upgrade failed", "error", err)
			return
		}

		snapshot := initialState(c.Request.Context(), d)
		if err := d.Hub.Send(conn, Event{Type: "initial_state", Data: snapshot}); err != nil {
			d.Logger.Warn("initial state push failed", "error", err)
			conn.Close()
			return
		}
		d.Hub.Register(conn)
	}
}

// HandleInitialState serves the same snapshot over plain HTTP for clients
// that poll instead of subscribing.
func HandleInitialState(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, initialState(c.Request.Context(), d))
	}
}

// initialState assembles the full dashboard snapshot: every zone family,
// active incidents, grid health, and the recent security event feed.
func initialState(ctx context.Context, d *Deps) map[string]any {
	powerZones, _ := d.PowerZones.List(ctx)
	cyberZones, _ := d.CyberZones.List(ctx)
	lightZones, _ := d.LightZones.List(ctx)
	incidents, _ := d.Incidents.List(ctx)

	if powerZones == nil {
		powerZones = []PowerZone{}
	}
	if cyberZones == nil {
		cyberZones = []CyberZone{}
	}
	if lightZones == nil {
		lightZones = []LightZone{}
	}
	if incidents == nil {
		incidents = []Incident{}
	}

	return map[string]any{
		"power_zones":   powerZones,
		"cyber_zones":   cyberZones,
		"light_zones":   lightZones,
		"incidents":     incidents,
		"grid_health":   currentGridHealth(powerZones, incidents),
		"recent_events": d.Events.Recent(),
	}
}

// currentGridHealth folds the capacity lost across all active blackout
// incidents into one health score.
func currentGridHealth(zones []PowerZone, incidents []Incident) float64 {
	totalCapacity := 0.0
	for _, z := range zones {
		totalCapacity += z.CapacityMW
	}

	lost := 0.0
	for _, incident := range incidents {
		if incident.Kind == "blackout" && incident.Status != IncidentResolved {
			lost += incident.CapacityLostMW * (1 - incident.RecoveryPercent/100)
		}
	}
	return GridHealth(totalCapacity, lost)
}

// requestError rejects a request before any pipeline runs, in a uniform
// shape the frontend can surface.
func requestError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

// projectState extracts the documented response keys from a finished
// pipeline execution. Callers never see the whole state bag.
func projectState(exec *pipeline.Execution, keys ...string) map[string]any {
	out := make(map[string]any, len(keys)+1)
	for _, key := range keys {
		if v, ok := exec.State.Get(key); ok {
			out[key] = v
		}
	}
	out["stages_failed"] = exec.Failed()
	return out
}
