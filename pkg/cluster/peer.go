// Copyright (C) 2026 Kodiak Systems (dev@kodiakmq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cluster provides the HTTP implementations of the feature-flag
// coordinator's cluster collaborators: a peer RPC client speaking the
// /v1/flags surface, and a static, config-driven membership oracle that
// probes peer liveness.
package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/kodiakmq/kodiak/services/featureflags"
)

// instanceID stamps outgoing peer RPCs so a node's calls can be
// correlated in peer logs across restarts.
var instanceID = uuid.NewString()

// Node names one cluster member and its base URL.
type Node struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
}

// HTTPPeer is a featureflags.Peer over the peer's HTTP surface.
//
// # Description
//
// Each method is one JSON round trip against the peer's /v1/flags
// endpoints. Timeouts come from the caller's context; the underlying
// http.Client carries none of its own. Transport failures and non-2xx
// statuses are returned as errors, which the coordinator maps to its
// "treat as unsupported" / "fatal during propagation" policies.
type HTTPPeer struct {
	node   Node
	client *http.Client
}

// NewHTTPPeer creates a peer client for node. A nil httpClient uses
// http.DefaultClient.
func NewHTTPPeer(node Node, httpClient *http.Client) *HTTPPeer {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPPeer{node: node, client: httpClient}
}

// Name identifies the peer in logs and errors.
func (p *HTTPPeer) Name() string { return p.node.Name }

// ListFlags returns the names the peer's registry holds for filter.
func (p *HTTPPeer) ListFlags(ctx context.Context, filter featureflags.Filter) ([]featureflags.FlagName, error) {
	var resp struct {
		Flags map[featureflags.FlagName]featureflags.Flag `json:"flags"`
	}
	url := fmt.Sprintf("%s/v1/flags?filter=%s", p.node.BaseURL, filter)
	if err := p.getJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	names := make([]featureflags.FlagName, 0, len(resp.Flags))
	for name := range resp.Flags {
		names = append(names, name)
	}
	return names, nil
}

// AreSupportedLocally asks the peer's registry whether it supports all
// of names.
func (p *HTTPPeer) AreSupportedLocally(ctx context.Context, names []featureflags.FlagName) (bool, error) {
	req := struct {
		Names []featureflags.FlagName `json:"names"`
	}{Names: names}
	var resp struct {
		Supported bool `json:"supported"`
	}
	url := p.node.BaseURL + "/v1/flags/supported"
	if err := p.postJSON(ctx, url, req, &resp); err != nil {
		return false, err
	}
	return resp.Supported, nil
}

// MarkEnabledLocally asks the peer to persist name as enabled and
// rebuild its registry.
func (p *HTTPPeer) MarkEnabledLocally(ctx context.Context, name featureflags.FlagName) error {
	url := fmt.Sprintf("%s/v1/flags/%s/enable-local", p.node.BaseURL, name)
	return p.postJSON(ctx, url, struct{}{}, nil)
}

// CompatSets fetches the peer's enabled and supported sets in one call.
func (p *HTTPPeer) CompatSets(ctx context.Context) (enabled, supported []featureflags.FlagName, err error) {
	var resp struct {
		Enabled   []featureflags.FlagName `json:"enabled"`
		Supported []featureflags.FlagName `json:"supported"`
	}
	if err := p.getJSON(ctx, p.node.BaseURL+"/v1/flags/compat", &resp); err != nil {
		return nil, nil, err
	}
	return resp.Enabled, resp.Supported, nil
}

// Healthy probes the peer's health endpoint.
func (p *HTTPPeer) Healthy(ctx context.Context) bool {
	return p.getJSON(ctx, p.node.BaseURL+"/health", nil) == nil
}

func (p *HTTPPeer) postJSON(ctx context.Context, url string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request for %s: %w", url, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return p.do(req, out)
}

func (p *HTTPPeer) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return p.do(req, out)
}

func (p *HTTPPeer) do(req *http.Request, out any) error {
	req.Header.Set("X-Kodiak-Instance", instanceID)
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("peer %s: %w", p.node.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("peer %s: %s returned status %d", p.node.Name, req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("peer %s: decode %s response: %w", p.node.Name, req.URL.Path, err)
	}
	return nil
}
