// Copyright (C) 2026 Kodiak Systems (dev@kodiakmq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodiakmq/kodiak/services/featureflags"
)

// emptyMembership runs the handlers as a single-node cluster.
type emptyMembership struct{}

func (emptyMembership) Members(ctx context.Context) ([]string, []featureflags.Peer, error) {
	return nil, nil, nil
}

func newTestRouter(t *testing.T, flags featureflags.FlagMap) (*gin.Engine, *featureflags.Coordinator) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	catalog := featureflags.NewAppCatalog()
	catalog.RegisterDeclared("test_app", flags)
	coord, err := featureflags.NewCoordinator(featureflags.CoordinatorConfig{
		Store:      featureflags.NewFileStore(filepath.Join(t.TempDir(), "enabled_flags.json")),
		Catalog:    catalog,
		Membership: emptyMembership{},
	})
	require.NoError(t, err)
	require.NoError(t, coord.Init(context.Background()))

	router := gin.New()
	router.GET("/v1/flags", ListFlags(coord))
	router.POST("/v1/flags/supported", AreSupportedLocally(coord))
	router.GET("/v1/flags/compat", CompatSets(coord))
	router.POST("/v1/flags/:name/enable-local", MarkEnabledLocally(coord))
	router.POST("/v1/flags/:name/enable", Enable(coord))
	return router, coord
}

// TestListFlags_FilterValidation rejects unknown filters and honours
// the enabled filter.
func TestListFlags_FilterValidation(t *testing.T) {
	router, coord := newTestRouter(t, featureflags.FlagMap{"ff_a": {}, "ff_b": {}})
	require.NoError(t, coord.Enable(context.Background(), "ff_a"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/flags?filter=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/flags?filter=enabled", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var payload struct {
		Flags map[featureflags.FlagName]featureflags.Flag `json:"flags"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	assert.Len(t, payload.Flags, 1)
	assert.Contains(t, payload.Flags, featureflags.FlagName("ff_a"))
}

// TestAreSupportedLocally answers from the local registry only.
func TestAreSupportedLocally(t *testing.T) {
	router, _ := newTestRouter(t, featureflags.FlagMap{"ff_a": {}})

	body := strings.NewReader(`{"names": ["ff_a"]}`)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/flags/supported", body))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"supported": true}`, w.Body.String())

	body = strings.NewReader(`{"names": ["ff_a", "ff_unknown"]}`)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/flags/supported", body))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"supported": false}`, w.Body.String())
}

// TestAreSupportedLocally_MissingBody rejects a request without names.
func TestAreSupportedLocally_MissingBody(t *testing.T) {
	router, _ := newTestRouter(t, featureflags.FlagMap{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/flags/supported", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestMarkEnabledLocally persists the flag like a sibling's propagation
// call.
func TestMarkEnabledLocally(t *testing.T) {
	router, coord := newTestRouter(t, featureflags.FlagMap{"ff_a": {}})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/flags/ff_a/enable-local", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, coord.IsEnabled("ff_a"))
}

// TestCompatSets returns both name sets.
func TestCompatSets(t *testing.T) {
	router, coord := newTestRouter(t, featureflags.FlagMap{"ff_a": {}, "ff_b": {}})
	require.NoError(t, coord.Enable(context.Background(), "ff_b"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/flags/compat", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var payload CompatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	assert.ElementsMatch(t, []featureflags.FlagName{"ff_b"}, payload.Enabled)
	assert.ElementsMatch(t, []featureflags.FlagName{"ff_a", "ff_b"}, payload.Supported)
}

// TestEnable_UnsupportedMapsToConflict verifies the admin endpoint's
// error mapping.
func TestEnable_UnsupportedMapsToConflict(t *testing.T) {
	router, _ := newTestRouter(t, featureflags.FlagMap{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/flags/ff_missing/enable", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "unsupported")
}

// TestEnable_Success runs the protocol end to end over HTTP.
func TestEnable_Success(t *testing.T) {
	router, coord := newTestRouter(t, featureflags.FlagMap{
		"ff_a": {},
		"ff_b": {DependsOn: []featureflags.FlagName{"ff_a"}},
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/flags/ff_b/enable", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, coord.IsEnabled("ff_a"))
	assert.True(t, coord.IsEnabled("ff_b"))
}
