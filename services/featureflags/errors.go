// Copyright (C) 2026 Kodiak Systems (dev@kodiakmq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package featureflags

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Taxonomy
// =============================================================================

// Errors surfaced by the Coordinator. Nothing in this package retries or
// recovers silently; every failure bubbles to the caller as one of these
// values (possibly wrapped with peer identity or flag name context).

var (
	// ErrUnsupported is returned by Enable when at least one node in the
	// cluster (this one included) does not support the flag.
	ErrUnsupported = errors.New("feature flag unsupported by cluster")

	// ErrDisableUnsupported is returned by Disable unconditionally.
	// Disabling an enabled flag is not a supported transition.
	ErrDisableUnsupported = errors.New("disabling a feature flag is unsupported")

	// ErrIncompatible is returned by CheckNodeCompatibility when either
	// half of the two-sided check fails: a locally enabled flag the peer
	// does not support, or a peer-enabled flag this node does not support.
	ErrIncompatible = errors.New("incompatible feature flags")
)

// MigrationCrashError reports a migration callback that panicked.
//
// The coordinator recovers the panic, captures the stack, and returns
// this error from Enable. The flag is left disabled.
type MigrationCrashError struct {
	Flag   FlagName
	Reason any
	Trace  string
}

func (e *MigrationCrashError) Error() string {
	return fmt.Sprintf("migration for feature flag %q crashed: %v", e.Flag, e.Reason)
}

// InvalidMigrationError reports a flag declaration whose migration
// reference is not callable. Declarations arrive through the catalog as
// Go values, which are callable by construction, so no code path in
// this package returns this error.
type InvalidMigrationError struct {
	Flag  FlagName
	Value any
}

func (e *InvalidMigrationError) Error() string {
	return fmt.Sprintf("feature flag %q declares an invalid migration: %v", e.Flag, e.Value)
}

// PeerError wraps a transport or remote failure from a named peer.
//
// Only enable propagation produces a PeerError: there a peer failure is
// fatal and returned to the Enable caller verbatim (wrapped with the
// peer name). A peer failure during a support query is not wrapped; it
// reads as "peer does not support".
type PeerError struct {
	Peer string
	Err  error
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("peer %s: %v", e.Peer, e.Err)
}

func (e *PeerError) Unwrap() error { return e.Err }
