// Copyright (C) 2026 Kodiak Systems (dev@kodiakmq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the HTTP surface of the feature-flag
// coordinator: the peer RPC endpoints siblings call during enables and
// compatibility checks, plus the local admin endpoints the CLI uses.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kodiakmq/kodiak/services/featureflags"
)

// SupportedRequest is the body of POST /v1/flags/supported.
type SupportedRequest struct {
	Names []featureflags.FlagName `json:"names" binding:"required"`
}

// SupportedResponse answers a support query.
type SupportedResponse struct {
	Supported bool `json:"supported"`
}

// CompatResponse carries this node's sets for the two-sided
// compatibility check.
type CompatResponse struct {
	Enabled   []featureflags.FlagName `json:"enabled"`
	Supported []featureflags.FlagName `json:"supported"`
}

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListFlags serves GET /v1/flags?filter=all|enabled|disabled from the
// local registry.
func ListFlags(coord *featureflags.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, err := featureflags.ParseFilter(c.Query("filter"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"flags": coord.List(filter)})
	}
}

// AreSupportedLocally serves POST /v1/flags/supported. Peers call this
// during their support checks; the answer comes from the local registry
// only, never from further cluster queries.
func AreSupportedLocally(coord *featureflags.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SupportedRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "names is required"})
			return
		}
		registry := coord.Registry()
		for _, name := range req.Names {
			if !registry.IsSupported(name) {
				c.JSON(http.StatusOK, SupportedResponse{Supported: false})
				return
			}
		}
		c.JSON(http.StatusOK, SupportedResponse{Supported: true})
	}
}

// MarkEnabledLocally serves POST /v1/flags/:name/enable-local, the
// propagation entry point of a sibling's enable.
func MarkEnabledLocally(coord *featureflags.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := featureflags.FlagName(c.Param("name"))
		slog.Info("peer requested local enable", "flag", string(name))
		if err := coord.MarkEnabledLocally(c.Request.Context(), name); err != nil {
			slog.Error("local enable for peer failed", "flag", string(name), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "enabled", "flag": name})
	}
}

// CompatSets serves GET /v1/flags/compat with this node's enabled and
// supported name sets.
func CompatSets(coord *featureflags.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		registry := coord.Registry()
		c.JSON(http.StatusOK, CompatResponse{
			Enabled:   registry.EnabledNames(),
			Supported: registry.SupportedNames(),
		})
	}
}

// Enable serves POST /v1/flags/:name/enable, the admin entry point that
// runs the full cluster-wide enable protocol.
func Enable(coord *featureflags.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := featureflags.FlagName(c.Param("name"))
		err := coord.Enable(c.Request.Context(), name)
		if err == nil {
			c.JSON(http.StatusOK, gin.H{"status": "enabled", "flag": name})
			return
		}

		var crash *featureflags.MigrationCrashError
		switch {
		case errors.Is(err, featureflags.ErrUnsupported):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "kind": "unsupported"})
		case errors.As(err, &crash):
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": err.Error(),
				"kind":  "migration_fun_crash",
				"trace": crash.Trace,
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
	}
}

// CheckCompatibility serves GET /v1/cluster/compatibility/:peer,
// running the two-sided check against a named running peer.
func CheckCompatibility(coord *featureflags.Coordinator, membership featureflags.Membership) gin.HandlerFunc {
	return func(c *gin.Context) {
		peerName := c.Param("peer")
		_, running, err := membership.Members(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		for _, peer := range running {
			if peer.Name() != peerName {
				continue
			}
			if err := coord.CheckNodeCompatibility(c.Request.Context(), peer, 0); err != nil {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "kind": "incompatible_feature_flags"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "compatible", "peer": peerName})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "peer is not a running cluster member", "peer": peerName})
	}
}
