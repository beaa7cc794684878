// Copyright (C) 2026 Kodiak Systems (dev@kodiakmq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package featureflags

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// =============================================================================
// Registry Snapshot
// =============================================================================

// snapshot is one immutable published registry value. Readers receive a
// *snapshot from the atomic pointer and never mutate it; replacing the
// registry means publishing a new snapshot.
type snapshot struct {
	all     FlagMap
	enabled map[FlagName]struct{}
}

// emptySnapshot is published before the first rebuild so reads are valid
// from construction onward.
var emptySnapshot = &snapshot{
	all:     FlagMap{},
	enabled: map[FlagName]struct{}{},
}

// Registry exposes the node's supported and enabled flag sets.
//
// # Description
//
// Registry answers the hot-path queries of the coordinator: which flags
// this node supports, and which are enabled. Queries read a published
// immutable snapshot through an atomic pointer, so they take no locks
// and return in O(1) per name.
//
// Rebuilds are rare (startup, enable, out-of-band record change) and are
// serialised by a mutex owned by the Registry, so two concurrent
// rebuilds cannot interleave their publications.
//
// # Thread Safety
//
// All methods are safe for concurrent use. A query returns either the
// pre-rebuild or the post-rebuild snapshot, never a mix.
type Registry struct {
	current atomic.Pointer[snapshot]

	// rebuildMu serialises Publish calls node-wide. Held only by
	// writers; readers never touch it.
	rebuildMu sync.Mutex
}

// NewRegistry creates a Registry holding an empty snapshot.
//
// # Outputs
//
//   - *Registry: ready for queries; Publish installs real content.
func NewRegistry() *Registry {
	r := &Registry{}
	r.current.Store(emptySnapshot)
	return r
}

// List returns the flags selected by filter.
//
// # Inputs
//
//   - filter: FilterAll, FilterEnabled, or FilterDisabled.
//
// # Outputs
//
//   - FlagMap: a fresh map the caller may modify. FilterDisabled is
//     computed as the supported set minus the enabled set.
func (r *Registry) List(filter Filter) FlagMap {
	s := r.current.Load()
	out := make(FlagMap, len(s.all))
	for name, flag := range s.all {
		_, enabled := s.enabled[name]
		switch filter {
		case FilterEnabled:
			if !enabled {
				continue
			}
		case FilterDisabled:
			if enabled {
				continue
			}
		}
		out[name] = flag
	}
	return out
}

// IsSupported reports whether name is declared by any loaded application.
// Unknown names return false.
func (r *Registry) IsSupported(name FlagName) bool {
	_, ok := r.current.Load().all[name]
	return ok
}

// IsEnabled reports whether name is enabled on this node. Unknown names
// return false.
func (r *Registry) IsEnabled(name FlagName) bool {
	_, ok := r.current.Load().enabled[name]
	return ok
}

// Flag returns the declaration for name and whether it exists.
func (r *Registry) Flag(name FlagName) (Flag, bool) {
	f, ok := r.current.Load().all[name]
	return f, ok
}

// EnabledNames returns the enabled flag names in unspecified order.
func (r *Registry) EnabledNames() []FlagName {
	s := r.current.Load()
	out := make([]FlagName, 0, len(s.enabled))
	for name := range s.enabled {
		out = append(out, name)
	}
	return out
}

// SupportedNames returns every supported flag name in unspecified order.
func (r *Registry) SupportedNames() []FlagName {
	s := r.current.Load()
	out := make([]FlagName, 0, len(s.all))
	for name := range s.all {
		out = append(out, name)
	}
	return out
}

// Publish builds and installs a new snapshot from the merged flag
// declarations and the persisted enabled names.
//
// # Description
//
// Enforces the enabled ⊆ supported invariant at build time: a persisted
// name with no matching declaration is dropped from the snapshot with a
// warning. This happens when an application carrying the declaration was
// unloaded after the flag was enabled.
//
// # Inputs
//
//   - all: merged declarations from every application.
//   - enabledNames: the persisted enabled list, in any order.
func (r *Registry) Publish(all FlagMap, enabledNames []FlagName) {
	r.rebuildMu.Lock()
	defer r.rebuildMu.Unlock()

	enabled := make(map[FlagName]struct{}, len(enabledNames))
	for _, name := range enabledNames {
		if _, ok := all[name]; !ok {
			slog.Warn("dropping enabled feature flag with no declaration",
				"flag", string(name),
			)
			continue
		}
		enabled[name] = struct{}{}
	}

	frozen := make(FlagMap, len(all))
	for name, flag := range all {
		frozen[name] = flag
	}

	r.current.Store(&snapshot{all: frozen, enabled: enabled})
}
