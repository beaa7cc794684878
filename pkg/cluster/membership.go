// Copyright (C) 2026 Kodiak Systems (dev@kodiakmq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cluster

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kodiakmq/kodiak/services/featureflags"
)

// defaultProbeTimeout bounds each liveness probe during Members.
const defaultProbeTimeout = 2 * time.Second

// StaticMembership is a featureflags.Membership over a configured node
// list.
//
// # Description
//
// Membership is authoritative from configuration: all members are the
// configured nodes minus this one, and the running subset is discovered
// by probing each member's health endpoint concurrently on every
// Members call. A member that fails its probe is simply absent from the
// running set; the coordinator's protocol treats it as not
// participating.
//
// # Thread Safety
//
// Safe for concurrent use.
type StaticMembership struct {
	self    string
	peers   []*HTTPPeer
	timeout time.Duration
}

// MembershipConfig configures NewStaticMembership.
//
// # Fields
//
//   - Self: this node's name; excluded from membership answers.
//   - Nodes: every cluster member, this node included.
//   - HTTPClient: shared client for peer RPCs. Nil uses the default.
//   - ProbeTimeout: per-peer liveness probe bound. Zero means 2s.
type MembershipConfig struct {
	Self         string
	Nodes        []Node
	HTTPClient   *http.Client
	ProbeTimeout time.Duration
}

// NewStaticMembership creates the oracle from a configured node list.
func NewStaticMembership(cfg MembershipConfig) *StaticMembership {
	timeout := cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	peers := make([]*HTTPPeer, 0, len(cfg.Nodes))
	for _, node := range cfg.Nodes {
		if node.Name == cfg.Self {
			continue
		}
		peers = append(peers, NewHTTPPeer(node, cfg.HTTPClient))
	}
	return &StaticMembership{self: cfg.Self, peers: peers, timeout: timeout}
}

// Members returns every configured member name (minus self) and a peer
// handle for each member that answered its health probe.
func (m *StaticMembership) Members(ctx context.Context) (all []string, running []featureflags.Peer, err error) {
	all = make([]string, 0, len(m.peers))
	for _, peer := range m.peers {
		all = append(all, peer.Name())
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, peer := range m.peers {
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(gctx, m.timeout)
			defer cancel()
			if !peer.Healthy(probeCtx) {
				return nil
			}
			mu.Lock()
			running = append(running, peer)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	// Stable order keeps propagation and log output deterministic.
	sort.Slice(running, func(i, j int) bool { return running[i].Name() < running[j].Name() })
	return all, running, nil
}
