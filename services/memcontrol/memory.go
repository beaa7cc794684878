// Copyright (C) 2026 Kodiak Systems (dev@kodiakmq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package memcontrol

import (
	"bytes"
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// =============================================================================
// Memory Oracle
// =============================================================================

// MemoryOracle provides the raw memory budget the controller scales by
// MemScale. An error means "unavailable"; the controller then falls back
// to DefaultMemoryLimit.
type MemoryOracle interface {
	LimitBytes() (uint64, error)
}

// cgroup v2 memory interface files. When the node runs in a container
// these bound the budget tighter than the machine total.
const (
	cgroupLimitPath = "/sys/fs/cgroup/memory.max"
	cgroupUsagePath = "/sys/fs/cgroup/memory.current"
)

// SystemMemory reads the node's memory budget and consumption from the
// kernel.
//
// # Description
//
// The budget is the cgroup v2 limit when one is set (containerised
// deployments), otherwise total machine memory from sysinfo(2).
// Consumption follows the same preference: cgroup usage when available,
// otherwise total minus free minus buffers.
//
// # Thread Safety
//
// Stateless; safe for concurrent use.
type SystemMemory struct{}

// NewSystemMemory returns the kernel-backed oracle.
func NewSystemMemory() *SystemMemory { return &SystemMemory{} }

// LimitBytes returns the raw memory budget.
func (s *SystemMemory) LimitBytes() (uint64, error) {
	if limit, ok := readCgroupValue(cgroupLimitPath); ok {
		return limit, nil
	}
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, fmt.Errorf("sysinfo: %w", err)
	}
	return uint64(info.Totalram) * uint64(info.Unit), nil
}

// UsedBytes returns current memory consumption.
func (s *SystemMemory) UsedBytes() (uint64, error) {
	if used, ok := readCgroupValue(cgroupUsagePath); ok {
		return used, nil
	}
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, fmt.Errorf("sysinfo: %w", err)
	}
	unit := uint64(info.Unit)
	total := uint64(info.Totalram) * unit
	idle := (uint64(info.Freeram) + uint64(info.Bufferram)) * unit
	if idle > total {
		return 0, nil
	}
	return total - idle, nil
}

// readCgroupValue parses a single-value cgroup file. "max" (no limit)
// and absent files read as not-ok so callers fall through to sysinfo.
func readCgroupValue(path string) (uint64, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	trimmed := string(bytes.TrimSpace(data))
	if trimmed == "max" {
		return 0, false
	}
	value, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// StaticMemory is a fixed-value oracle for tests and hosts that manage
// the budget themselves.
type StaticMemory struct {
	Limit uint64
	Used  uint64
}

// LimitBytes returns the configured budget.
func (s *StaticMemory) LimitBytes() (uint64, error) { return s.Limit, nil }

// UsedBytes returns the configured consumption.
func (s *StaticMemory) UsedBytes() (uint64, error) { return s.Used, nil }
