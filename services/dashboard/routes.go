// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dashboard

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes wires the dashboard API onto the gin engine.
func SetupRoutes(router *gin.Engine, d *Deps) {
	router.GET("/health", HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws/updates", HandleWebSocket(d))

	api := router.Group("/api")
	{
		api.GET("/initial-state", HandleInitialState(d))
		api.POST("/simulate", HandleWeatherSimulate(d))
		api.POST("/override", HandleOverride(d))
		api.GET("/zones/:zoneId/config", HandleZoneConfigGet(d))
		api.POST("/zones/:zoneId/config", HandleZoneConfigSet(d))

		blackoutAPI := api.Group("/blackout")
		{
			blackoutAPI.GET("/initial-state", HandleBlackoutState(d))
			blackoutAPI.GET("/zone/:zoneId", HandleBlackoutZone(d))
			blackoutAPI.POST("/simulate", HandleBlackoutSimulate(d))
			blackoutAPI.POST("/manual-allocate", HandleManualAllocate(d))
			blackoutAPI.POST("/resolve/:incidentId", HandleBlackoutResolve(d))
		}

		cyberAPI := api.Group("/cyber")
		{
			cyberAPI.GET("/initial-state", HandleCyberState(d))
			cyberAPI.GET("/zone/:zoneId", HandleCyberZone(d))
			cyberAPI.GET("/events", HandleCyberEvents(d))
			cyberAPI.POST("/simulate", HandleCyberSimulate(d))
		}
	}
}
