// Copyright (C) 2026 Kodiak Systems (dev@kodiakmq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package featureflags implements cluster-wide feature flag coordination
// for Kodiak broker nodes.
//
// Each node advertises the set of flags its loaded applications declare
// (the "supported" set) and persists the subset it has enabled. Enabling
// a flag is a cluster-wide transition: every running peer must support
// the flag, dependency flags are enabled first, the flag's migration
// callback runs exactly once per enable, and the enabled state is pushed
// to every running peer.
//
// # Components
//
//   - Registry: immutable supported/enabled snapshot, atomic publication
//   - EnabledStore: persisted enabled-flag record (file or BadgerDB)
//   - AppCatalog: per-application flag declarations (static or computed)
//   - Coordinator: the enable protocol and compatibility checks
//   - Watcher: rebuilds the registry when the record changes out-of-band
//
// # Thread Safety
//
// All exported types are safe for concurrent use. Registry reads are
// lock-free; snapshot rebuilds and Enable calls are serialised.
package featureflags

import "fmt"

// FlagName identifies a feature flag. Names are unique across the
// cluster; every declaring application shares one namespace.
type FlagName string

// Event is the lifecycle event passed to a flag's migration callback.
type Event string

const (
	// EventEnable is delivered when the flag transitions to enabled on
	// this node. It is the only event currently defined.
	EventEnable Event = "enable"
)

// Stability labels for flag declarations. Informational only; the
// coordinator never branches on stability.
const (
	StabilityRequired     = "required"
	StabilityStable       = "stable"
	StabilityExperimental = "experimental"
)

// MigrationFunc is a flag's migration callback, invoked with the
// triggering event during Enable. Returning a non-nil error aborts the
// enable and surfaces the error to the caller unchanged.
//
// A panicking migration is recovered by the coordinator and reported as
// a *MigrationCrashError; it never takes the node down.
type MigrationFunc func(event Event) error

// Flag holds the declared properties of a feature flag.
//
// # Fields
//
//   - Desc: human description, opaque to the coordinator.
//   - DependsOn: flags that must be enabled before this one, in order.
//   - Migration: optional callback run on enable. Nil means no-op.
//   - Stability: informational label (required/stable/experimental).
type Flag struct {
	Desc      string        `json:"desc"`
	DependsOn []FlagName    `json:"depends_on,omitempty"`
	Migration MigrationFunc `json:"-"`
	Stability string        `json:"stability,omitempty"`
}

// FlagMap is a set of flag declarations keyed by name.
type FlagMap map[FlagName]Flag

// Filter selects which flags a List call returns.
type Filter string

const (
	// FilterAll returns every supported flag.
	FilterAll Filter = "all"

	// FilterEnabled returns only enabled flags.
	FilterEnabled Filter = "enabled"

	// FilterDisabled returns supported flags that are not enabled.
	FilterDisabled Filter = "disabled"
)

// ParseFilter converts a wire-level filter string into a Filter.
//
// # Inputs
//
//   - s: one of "all", "enabled", "disabled". Empty means "all".
//
// # Outputs
//
//   - Filter: the parsed filter.
//   - error: non-nil when s is not a recognised filter.
func ParseFilter(s string) (Filter, error) {
	switch Filter(s) {
	case FilterAll, "":
		return FilterAll, nil
	case FilterEnabled:
		return FilterEnabled, nil
	case FilterDisabled:
		return FilterDisabled, nil
	default:
		return "", fmt.Errorf("unknown flag filter %q", s)
	}
}
