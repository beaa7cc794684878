// Copyright (C) 2026 Kodiak Systems (dev@kodiakmq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package featureflags

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/kodiakmq/kodiak/services/featureflags/observability"
)

// tracerName identifies coordinator spans in the trace backend.
const tracerName = "kodiak/featureflags"

// DefaultRPCTimeout bounds each peer call when the coordinator's config
// does not set one.
const DefaultRPCTimeout = 30 * time.Second

// =============================================================================
// Cluster Collaborator Interfaces
// =============================================================================

// Peer is one remote node's feature-flag surface.
//
// Implementations live in pkg/cluster; the coordinator only depends on
// this interface so tests can substitute in-process fakes. Every method
// honours ctx cancellation and returns transport failures as errors.
type Peer interface {
	// Name identifies the peer for logs and error wrapping.
	Name() string

	// ListFlags returns the names the peer's registry holds for filter.
	ListFlags(ctx context.Context, filter Filter) ([]FlagName, error)

	// AreSupportedLocally reports whether the peer's own registry
	// supports every one of names. Peers never recurse into the cluster
	// for this answer.
	AreSupportedLocally(ctx context.Context, names []FlagName) (bool, error)

	// MarkEnabledLocally persists name as enabled on the peer and
	// rebuilds its registry. The peer does not run the flag's migration;
	// migrations execute on the node driving the enable.
	MarkEnabledLocally(ctx context.Context, name FlagName) error

	// CompatSets returns the peer's enabled and supported name sets in
	// one round trip, for the two-sided compatibility check.
	CompatSets(ctx context.Context) (enabled, supported []FlagName, err error)
}

// Membership is the cluster-membership oracle.
//
// All returns every configured member name excluding this node; running
// returns a Peer handle for each member currently reachable. The
// coordinator treats membership as authoritative: a member missing from
// running is simply absent from the protocol.
type Membership interface {
	Members(ctx context.Context) (all []string, running []Peer, err error)
}

// =============================================================================
// Coordinator
// =============================================================================

// Coordinator drives the cluster-wide feature-flag protocol on one node.
//
// # Description
//
// Coordinator owns the node's Registry, EnabledStore, and AppCatalog and
// talks to peers through the Membership oracle. Enable calls are
// serialised on the coordinator, so two concurrent enables on the same
// node cannot interleave; between nodes there is no global order (two
// nodes racing to enable distinct flags both converge, because each
// propagates its own flag to the other).
//
// # Failure Model
//
// No retries anywhere. Migration panics are captured and surfaced as
// *MigrationCrashError. Peer transport errors read as "unsupported"
// during support queries and are fatal during enable propagation; a
// propagation failure leaves the cluster partially enabled and recovery
// is manual.
type Coordinator struct {
	registry   *Registry
	store      EnabledStore
	catalog    *AppCatalog
	membership Membership
	rpcTimeout time.Duration
	metrics    *observability.Metrics

	// enableMu serialises Enable, Init, and MarkEnabledLocally so a
	// propagated remote enable cannot interleave with a local one.
	enableMu sync.Mutex
}

// CoordinatorConfig wires a Coordinator's collaborators.
//
// # Fields
//
//   - Store: enabled-flag persistence. Required.
//   - Catalog: application flag declarations. Required.
//   - Membership: cluster oracle. Required; single-node deployments pass
//     a membership that returns no members.
//   - RPCTimeout: per-peer-call bound. Zero means DefaultRPCTimeout.
//   - Metrics: optional observability handle; nil disables metrics.
type CoordinatorConfig struct {
	Store      EnabledStore
	Catalog    *AppCatalog
	Membership Membership
	RPCTimeout time.Duration
	Metrics    *observability.Metrics
}

// NewCoordinator creates a Coordinator over an empty registry. Call Init
// to perform the first rebuild before serving queries.
//
// # Inputs
//
//   - cfg: collaborator wiring; see CoordinatorConfig.
//
// # Outputs
//
//   - *Coordinator: ready for Init.
//   - error: non-nil when a required collaborator is missing.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("featureflags: store is required")
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("featureflags: catalog is required")
	}
	if cfg.Membership == nil {
		return nil, fmt.Errorf("featureflags: membership is required")
	}
	timeout := cfg.RPCTimeout
	if timeout <= 0 {
		timeout = DefaultRPCTimeout
	}
	return &Coordinator{
		registry:   NewRegistry(),
		store:      cfg.Store,
		catalog:    cfg.Catalog,
		membership: cfg.Membership,
		rpcTimeout: timeout,
		metrics:    cfg.Metrics,
	}, nil
}

// Registry exposes the coordinator's registry for read-side callers
// (handlers, the watcher). Callers must not publish snapshots.
func (c *Coordinator) Registry() *Registry { return c.registry }

// Init performs the first registry build from the catalog and the
// persisted record.
//
// # Inputs
//
//   - ctx: cancellation for the store read.
//
// # Outputs
//
//   - error: non-nil when the persisted record cannot be read.
func (c *Coordinator) Init(ctx context.Context) error {
	c.enableMu.Lock()
	defer c.enableMu.Unlock()
	return c.rebuildLocked(ctx)
}

// List returns the flags selected by filter from the local registry.
func (c *Coordinator) List(filter Filter) FlagMap {
	return c.registry.List(filter)
}

// IsEnabled reports whether name is enabled per the local registry.
func (c *Coordinator) IsEnabled(name FlagName) bool {
	return c.registry.IsEnabled(name)
}

// IsSupported reports whether name is supported on this node and on
// every running peer.
func (c *Coordinator) IsSupported(ctx context.Context, name FlagName) bool {
	return c.AreSupported(ctx, []FlagName{name})
}

// AreSupported reports whether every name is supported on this node and
// on every running peer. A peer transport failure reads as "peer does
// not support".
func (c *Coordinator) AreSupported(ctx context.Context, names []FlagName) bool {
	for _, name := range names {
		if !c.registry.IsSupported(name) {
			return false
		}
	}
	return c.areSupportedRemotely(ctx, names)
}

// Disable always fails; disabling an enabled flag is not a supported
// transition.
func (c *Coordinator) Disable(name FlagName) error {
	return ErrDisableUnsupported
}

// Enable transitions name to enabled across the cluster.
//
// # Description
//
// The enable algorithm, in order:
//
//  1. Already enabled locally: return nil (idempotent, no migration).
//  2. Verify support on this node and every running peer; any "no" or
//     transport failure aborts with ErrUnsupported.
//  3. Enable each dependency in declared order; first failure aborts.
//  4. Run the flag's migration with EventEnable. A panic becomes
//     *MigrationCrashError; a non-nil return is surfaced unchanged.
//  5. Persist the flag and republish the local registry.
//  6. Mark the flag enabled on every running peer, awaiting each. The
//     first peer failure is returned as a *PeerError.
//
// Steps 2 and 6 form the cluster contract. The algorithm is not
// transactional: a step 6 failure leaves the cluster partially enabled.
//
// # Inputs
//
//   - ctx: cancellation; each peer call is additionally bounded by the
//     configured RPC timeout.
//   - name: flag to enable.
//
// # Outputs
//
//   - error: nil on success; ErrUnsupported, the migration's error, a
//     *MigrationCrashError, or a *PeerError otherwise.
func (c *Coordinator) Enable(ctx context.Context, name FlagName) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "featureflags.enable")
	span.SetAttributes(attribute.String("flag", string(name)))
	defer span.End()

	c.enableMu.Lock()
	defer c.enableMu.Unlock()

	start := time.Now()
	err := c.enableLocked(ctx, name)
	c.metrics.ObserveEnable(string(name), err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// enableLocked is the recursive body of Enable. Callers hold enableMu.
func (c *Coordinator) enableLocked(ctx context.Context, name FlagName) error {
	if c.registry.IsEnabled(name) {
		return nil
	}

	slog.Info("enabling feature flag", "flag", string(name))

	if !c.registry.IsSupported(name) {
		return fmt.Errorf("%w: %s not supported on this node", ErrUnsupported, name)
	}
	if !c.areSupportedRemotely(ctx, []FlagName{name}) {
		return fmt.Errorf("%w: %s not supported on every running peer", ErrUnsupported, name)
	}

	flag, _ := c.registry.Flag(name)
	for _, dep := range flag.DependsOn {
		if err := c.enableLocked(ctx, dep); err != nil {
			return fmt.Errorf("enable dependency %s of %s: %w", dep, name, err)
		}
	}

	if err := runMigration(name, flag.Migration); err != nil {
		return err
	}

	if err := c.persistEnabledLocked(ctx, name); err != nil {
		return err
	}

	_, running, err := c.membership.Members(ctx)
	if err != nil {
		return fmt.Errorf("resolve cluster members: %w", err)
	}
	for _, peer := range running {
		callCtx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
		err := peer.MarkEnabledLocally(callCtx, name)
		cancel()
		if err != nil {
			c.metrics.IncPeerFailure(peer.Name())
			return &PeerError{Peer: peer.Name(), Err: fmt.Errorf("mark %s enabled: %w", name, err)}
		}
		slog.Debug("feature flag marked enabled on peer",
			"flag", string(name),
			"peer", peer.Name(),
		)
	}

	slog.Info("feature flag enabled", "flag", string(name))
	return nil
}

// MarkEnabledLocally is the propagation entry point peers invoke during
// their own Enable (step 6). It persists name and republishes the local
// registry without re-running the migration or contacting further peers.
//
// Unknown names are persisted too; the registry build drops them until a
// declaring application loads, which mirrors what a node joining with
// fewer applications sees.
func (c *Coordinator) MarkEnabledLocally(ctx context.Context, name FlagName) error {
	c.enableMu.Lock()
	defer c.enableMu.Unlock()

	if c.registry.IsEnabled(name) {
		return nil
	}
	return c.persistEnabledLocked(ctx, name)
}

// persistEnabledLocked appends name to the persisted record and
// republishes the registry. Callers hold enableMu.
func (c *Coordinator) persistEnabledLocked(ctx context.Context, name FlagName) error {
	names, err := c.store.Read(ctx)
	if err != nil {
		return fmt.Errorf("read enabled flags: %w", err)
	}
	for _, existing := range names {
		if existing == name {
			return c.rebuildLocked(ctx)
		}
	}
	names = append(names, name)
	if err := c.store.Write(ctx, names); err != nil {
		return fmt.Errorf("persist enabled flags: %w", err)
	}
	c.registry.Publish(c.catalog.Merge(), names)
	c.metrics.IncRebuild()
	return nil
}

// rebuildLocked republishes the registry from the catalog and the
// persisted record. Callers hold enableMu.
func (c *Coordinator) rebuildLocked(ctx context.Context) error {
	names, err := c.store.Read(ctx)
	if err != nil {
		return fmt.Errorf("read enabled flags: %w", err)
	}
	start := time.Now()
	c.registry.Publish(c.catalog.Merge(), names)
	c.metrics.ObserveRebuild(time.Since(start))
	return nil
}

// Rebuild republishes the registry from current catalog and store
// contents. The watcher calls this when the record changes out-of-band.
func (c *Coordinator) Rebuild(ctx context.Context) error {
	c.enableMu.Lock()
	defer c.enableMu.Unlock()
	return c.rebuildLocked(ctx)
}

// areSupportedRemotely asks every running peer whether it supports all
// of names. With no running peers the answer is true (single-node
// degenerate case). The first "no" or transport failure short-circuits.
func (c *Coordinator) areSupportedRemotely(ctx context.Context, names []FlagName) bool {
	_, running, err := c.membership.Members(ctx)
	if err != nil {
		slog.Warn("membership lookup failed during support check", "error", err)
		return false
	}
	for _, peer := range running {
		callCtx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
		ok, err := peer.AreSupportedLocally(callCtx, names)
		cancel()
		if err != nil {
			// A peer we cannot ask is a peer that does not support.
			slog.Warn("peer support query failed, treating as unsupported",
				"peer", peer.Name(),
				"error", err,
			)
			c.metrics.IncPeerFailure(peer.Name())
			return false
		}
		if !ok {
			return false
		}
	}
	return true
}

// =============================================================================
// Node Compatibility
// =============================================================================

// CheckNodeCompatibility verifies that this node and peer can share a
// cluster: every locally enabled flag must be supported by the peer, and
// every peer-enabled flag must be supported locally.
//
// # Inputs
//
//   - ctx: cancellation.
//   - peer: the candidate peer.
//   - timeout: bound for the whole check. Zero means the configured RPC
//     timeout.
//
// # Outputs
//
//   - error: nil when compatible; ErrIncompatible (wrapped with the
//     failing direction) otherwise. A transport failure during either
//     half reads as incompatible.
func (c *Coordinator) CheckNodeCompatibility(ctx context.Context, peer Peer, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.rpcTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	// Half one: locally enabled ⊆ peer supported.
	g.Go(func() error {
		enabled := c.registry.EnabledNames()
		if len(enabled) == 0 {
			return nil
		}
		ok, err := peer.AreSupportedLocally(gctx, enabled)
		if err != nil {
			return fmt.Errorf("%w: support query on %s failed: %v", ErrIncompatible, peer.Name(), err)
		}
		if !ok {
			return fmt.Errorf("%w: %s does not support this node's enabled flags", ErrIncompatible, peer.Name())
		}
		return nil
	})

	// Half two: peer enabled ⊆ locally supported.
	g.Go(func() error {
		peerEnabled, _, err := peer.CompatSets(gctx)
		if err != nil {
			return fmt.Errorf("%w: enabled-set query on %s failed: %v", ErrIncompatible, peer.Name(), err)
		}
		for _, name := range peerEnabled {
			if !c.registry.IsSupported(name) {
				return fmt.Errorf("%w: flag %s enabled on %s is not supported here", ErrIncompatible, name, peer.Name())
			}
		}
		return nil
	})

	return g.Wait()
}

// IsNodeCompatible is CheckNodeCompatibility collapsed to a boolean.
func (c *Coordinator) IsNodeCompatible(ctx context.Context, peer Peer, timeout time.Duration) bool {
	return c.CheckNodeCompatibility(ctx, peer, timeout) == nil
}

// =============================================================================
// Migration Execution
// =============================================================================

// runMigration executes a flag's migration callback for EventEnable,
// converting a panic into *MigrationCrashError. A nil migration is ok.
func runMigration(name FlagName, fn MigrationFunc) (err error) {
	if fn == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = &MigrationCrashError{
				Flag:   name,
				Reason: r,
				Trace:  string(debug.Stack()),
			}
		}
	}()
	return fn(EventEnable)
}
