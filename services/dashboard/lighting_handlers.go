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

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/CityPulse/services/lighting"
	"github.com/AleutianAI/CityPulse/services/pipeline"
)

// ZoneConfigRequest updates a lighting zone's weather and pole roster.
// Omitted fields keep their current values.
type ZoneConfigRequest struct {
	Weather string      `json:"weather" binding:"omitempty,oneof=clear rain storm heatwave flooding cyclone fog"`
	Poles   []LightPole `json:"poles" binding:"omitempty,dive"`
}

// HandleZoneConfigGet returns one lighting zone's configuration.
func HandleZoneConfigGet(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		zone, err := d.LightZones.Get(c.Request.Context(), c.Param("zoneId"))
		if errors.Is(err, ErrNotFound) {
			requestError(c, http.StatusNotFound, "unknown lighting zone: "+c.Param("zoneId"))
			return
		}
		if err != nil {
			requestError(c, http.StatusInternalServerError, err.Error())
			return
		}
		c.JSON(http.StatusOK, zone)
	}
}

// HandleZoneConfigSet applies a partial configuration update to one
// lighting zone.
func HandleZoneConfigSet(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ZoneConfigRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			requestError(c, http.StatusBadRequest, err.Error())
			return
		}

		zoneID := c.Param("zoneId")
		unlock := d.Locks.Lock(zoneID)
		defer unlock()

		zone, err := d.LightZones.Get(c.Request.Context(), zoneID)
		if errors.Is(err, ErrNotFound) {
			requestError(c, http.StatusNotFound, "unknown lighting zone: "+zoneID)
			return
		}
		if err != nil {
			requestError(c, http.StatusInternalServerError, err.Error())
			return
		}

		if req.Weather != "" {
			zone.Weather = req.Weather
		}
		if req.Poles != nil {
			zone.Poles = req.Poles
		}
		if err := d.LightZones.Upsert(c.Request.Context(), zone); err != nil {
			requestError(c, http.StatusInternalServerError, err.Error())
			return
		}

		d.Logger.Info("zone config updated", "zone_id", zoneID, "weather", zone.Weather)
		c.JSON(http.StatusOK, zone)
	}
}

// HandleWeatherSimulate runs the lighting pipeline for one zone under the
// requested weather condition, applies the decided brightness to its
// online poles, and broadcasts the change.
func HandleWeatherSimulate(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req WeatherSimulationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			requestError(c, http.StatusBadRequest, err.Error())
			return
		}

		ctx := c.Request.Context()
		zone, err := d.LightZones.Get(ctx, req.ZoneID)
		if errors.Is(err, ErrNotFound) {
			requestError(c, http.StatusNotFound, "unknown lighting zone: "+req.ZoneID)
			return
		}
		if err != nil {
			requestError(c, http.StatusInternalServerError, err.Error())
			return
		}

		unlock := d.Locks.Lock(req.ZoneID)
		defer unlock()

		// The condition doubles as the collector scenario: synthetic
		// sensors bias their readings toward it.
		exec, err := d.Lighting.Execute(ctx, map[string]any{
			"zone_id":  req.ZoneID,
			"location": zone.Name,
			"scenario": req.Condition,
		})
		if err != nil {
			requestError(c, http.StatusInternalServerError, err.Error())
			return
		}

		action := exec.State.Map("control_action")
		brightness := int(pipeline.MapFloat(action, "brightness_percent", lighting.DefaultBrightness))

		// Manual-maintenance and offline poles keep their settings.
		zone.Weather = req.Condition
		for i := range zone.Poles {
			if zone.Poles[i].Status == PoleOnline {
				zone.Poles[i].Brightness = brightness
			}
		}
		if err := d.LightZones.Upsert(ctx, zone); err != nil {
			requestError(c, http.StatusInternalServerError, err.Error())
			return
		}

		d.Hub.Publish(Event{Type: "weather_update", Data: map[string]any{
			"zone_id":    zone.ID,
			"condition":  req.Condition,
			"brightness": brightness,
			"poles":      zone.Poles,
		}})
		d.Logger.Info("weather simulation complete",
			"zone_id", zone.ID, "condition", req.Condition,
			"brightness", brightness, "stages_failed", exec.Failed())

		response := projectState(exec, "control_action", "decision_analysis", "final_verdict")
		response["zone"] = zone
		c.JSON(http.StatusOK, response)
	}
}

// HandleOverride manually sets one pole's brightness and status, bypassing
// the pipeline.
func HandleOverride(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req OverrideRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			requestError(c, http.StatusBadRequest, err.Error())
			return
		}

		ctx := c.Request.Context()
		zones, err := d.LightZones.List(ctx)
		if err != nil {
			requestError(c, http.StatusInternalServerError, err.Error())
			return
		}

		for _, zone := range zones {
			for i, pole := range zone.Poles {
				if pole.ID != req.PoleID {
					continue
				}

				unlock := d.Locks.Lock(zone.ID)
				zone.Poles[i].Brightness = req.Brightness
				if req.Status != "" {
					zone.Poles[i].Status = req.Status
				}
				err := d.LightZones.Upsert(ctx, zone)
				unlock()
				if err != nil {
					requestError(c, http.StatusInternalServerError, err.Error())
					return
				}

				d.Hub.Publish(Event{Type: "pole_override", Data: map[string]any{
					"zone_id": zone.ID,
					"pole":    zone.Poles[i],
				}})
				d.Logger.Info("pole override applied",
					"pole_id", req.PoleID, "brightness", req.Brightness, "status", req.Status)
				c.JSON(http.StatusOK, zone.Poles[i])
				return
			}
		}
		requestError(c, http.StatusNotFound, "unknown pole: "+req.PoleID)
	}
}
