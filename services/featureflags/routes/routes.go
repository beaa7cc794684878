// Copyright (C) 2026 Kodiak Systems (dev@kodiakmq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kodiakmq/kodiak/services/featureflags"
	"github.com/kodiakmq/kodiak/services/featureflags/handlers"
)

// SetupRoutes registers the feature-flag HTTP surface on router: the
// peer RPC endpoints, the admin endpoints the CLI calls, health, and
// Prometheus metrics.
func SetupRoutes(router *gin.Engine, coord *featureflags.Coordinator, membership featureflags.Membership) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		flags := v1.Group("/flags")
		{
			flags.GET("", handlers.ListFlags(coord))
			flags.POST("/supported", handlers.AreSupportedLocally(coord))
			flags.GET("/compat", handlers.CompatSets(coord))
			flags.POST("/:name/enable-local", handlers.MarkEnabledLocally(coord))
			flags.POST("/:name/enable", handlers.Enable(coord))
		}
		cluster := v1.Group("/cluster")
		{
			cluster.GET("/compatibility/:peer", handlers.CheckCompatibility(coord, membership))
		}
	}
}
