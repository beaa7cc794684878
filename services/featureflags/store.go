// Copyright (C) 2026 Kodiak Systems (dev@kodiakmq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package featureflags

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// =============================================================================
// Enabled-Flag Persistence
// =============================================================================

// EnabledStore persists the node's enabled flag names.
//
// # Description
//
// The record is a single JSON array of flag names. Only the coordinator
// reads and writes it during normal operation; the Watcher re-reads it
// when the backing record changes out-of-band.
//
// # Thread Safety
//
// Implementations must tolerate concurrent Read calls. Write calls are
// serialised by the coordinator.
type EnabledStore interface {
	// Read returns the persisted enabled names. A missing record is not
	// an error; it reads as an empty list.
	Read(ctx context.Context) ([]FlagName, error)

	// Write atomically replaces the record with names.
	Write(ctx context.Context, names []FlagName) error

	// Close releases backing resources.
	Close() error
}

// FileStore persists enabled flags as a JSON array in a single file.
//
// Writes go to a temp file in the same directory followed by a rename,
// so readers never observe a torn record.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore at path. The parent directory is
// created on the first Write if it does not exist.
//
// # Inputs
//
//   - path: location of the record, e.g. <data_dir>/enabled_flags.json.
//
// # Outputs
//
//   - *FileStore: ready for Read/Write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file location. The Watcher observes it.
func (s *FileStore) Path() string { return s.path }

// Read returns the persisted enabled names, or an empty slice when the
// record does not exist yet.
func (s *FileStore) Read(ctx context.Context) ([]FlagName, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return []FlagName{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read enabled flags record: %w", err)
	}

	var names []FlagName
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("decode enabled flags record %s: %w", s.path, err)
	}
	return names, nil
}

// Write replaces the record with names via write-then-rename.
func (s *FileStore) Write(ctx context.Context, names []FlagName) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if names == nil {
		names = []FlagName{}
	}
	data, err := json.Marshal(names)
	if err != nil {
		return fmt.Errorf("encode enabled flags record: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create enabled flags directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".enabled_flags-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp record: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("install enabled flags record: %w", err)
	}
	return nil
}

// Close is a no-op; the store holds no open handles between calls.
func (s *FileStore) Close() error { return nil }
