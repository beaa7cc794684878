// Copyright (C) 2026 Kodiak Systems (dev@kodiakmq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package featureflags

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
)

// =============================================================================
// Application Flag Catalog
// =============================================================================

// ComputedFlags is a provider callback yielding an application's flag
// declarations at registry-build time. Providers that error or panic are
// treated as declaring nothing; a failing provider never aborts startup.
type ComputedFlags func() (FlagMap, error)

// AppCatalog enumerates loaded broker applications and their declared
// feature flags.
//
// # Description
//
// Each application registers either a static FlagMap or a ComputedFlags
// provider under its name. The catalog merges all declarations into one
// namespace when the registry rebuilds; on a duplicate flag name the
// later-registered application wins and a warning is logged, matching
// the last-writer-wins merge rule.
//
// # Thread Safety
//
// Safe for concurrent use. Registration normally happens at startup,
// but late registration followed by a registry rebuild is allowed.
type AppCatalog struct {
	mu    sync.RWMutex
	order []string
	apps  map[string]appEntry
}

type appEntry struct {
	declared FlagMap
	computed ComputedFlags
}

// NewAppCatalog creates an empty catalog.
func NewAppCatalog() *AppCatalog {
	return &AppCatalog{apps: make(map[string]appEntry)}
}

// RegisterDeclared registers app with a static flag map. Registering the
// same application twice replaces its declarations but keeps its
// original position in the merge order.
func (c *AppCatalog) RegisterDeclared(app string, flags FlagMap) {
	c.register(app, appEntry{declared: flags})
}

// RegisterComputed registers app with a provider invoked at each
// registry rebuild.
func (c *AppCatalog) RegisterComputed(app string, provider ComputedFlags) {
	c.register(app, appEntry{computed: provider})
}

func (c *AppCatalog) register(app string, entry appEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.apps[app]; !exists {
		c.order = append(c.order, app)
	}
	c.apps[app] = entry
}

// Applications returns the registered application names in registration
// order.
func (c *AppCatalog) Applications() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// FlagsFor returns app's declarations and whether the application is
// registered. A computed provider that fails yields an empty map with
// ok=true; the failure is logged and startup continues.
func (c *AppCatalog) FlagsFor(app string) (FlagMap, bool) {
	c.mu.RLock()
	entry, ok := c.apps[app]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return resolveEntry(app, entry), true
}

// Merge collects every application's declarations into one namespace.
//
// # Description
//
// Applications are visited in registration order; on a duplicate flag
// name the later declaration replaces the earlier one and a warning
// names both applications. Merge never fails: a broken provider only
// costs its own declarations.
//
// # Outputs
//
//   - FlagMap: the merged declarations, never nil.
func (c *AppCatalog) Merge() FlagMap {
	c.mu.RLock()
	order := make([]string, len(c.order))
	copy(order, c.order)
	apps := make(map[string]appEntry, len(c.apps))
	for name, entry := range c.apps {
		apps[name] = entry
	}
	c.mu.RUnlock()

	merged := FlagMap{}
	owner := map[FlagName]string{}
	for _, app := range order {
		flags := resolveEntry(app, apps[app])
		// Deterministic iteration keeps duplicate warnings stable.
		names := make([]string, 0, len(flags))
		for name := range flags {
			names = append(names, string(name))
		}
		sort.Strings(names)
		for _, raw := range names {
			name := FlagName(raw)
			if prev, dup := owner[name]; dup {
				slog.Warn("duplicate feature flag declaration, later application wins",
					"flag", raw,
					"previous_app", prev,
					"app", app,
				)
			}
			merged[name] = flags[name]
			owner[name] = app
		}
	}
	return merged
}

// resolveEntry evaluates one application's declarations, converting
// provider errors and panics into "declares nothing".
func resolveEntry(app string, entry appEntry) FlagMap {
	if entry.computed == nil {
		if entry.declared == nil {
			return FlagMap{}
		}
		return entry.declared
	}

	flags, err := safeCompute(entry.computed)
	if err != nil {
		slog.Warn("feature flag provider failed, treating application as declaring no flags",
			"app", app,
			"error", err,
		)
		return FlagMap{}
	}
	if flags == nil {
		return FlagMap{}
	}
	return flags
}

// safeCompute invokes provider, converting a panic into an error.
func safeCompute(provider ComputedFlags) (flags FlagMap, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("flag provider panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return provider()
}
