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
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// =============================================================================
// BadgerDB-Backed Enabled-Flag Persistence
// =============================================================================

// enabledFlagsKey is the single key the record lives under. The value is
// the same JSON array the FileStore writes, so switching backends keeps
// the record portable.
var enabledFlagsKey = []byte("featureflags/enabled")

// BadgerStore persists the enabled-flag record in an embedded BadgerDB.
//
// # Description
//
// Nodes that already run an embedded BadgerDB for broker state can keep
// the enabled-flag record in the same engine instead of a loose file.
// A single-key update in Badger is atomic, which gives Write the same
// no-torn-record guarantee as the FileStore's write-then-rename.
//
// # Thread Safety
//
// Safe for concurrent use; BadgerDB transactions provide isolation.
type BadgerStore struct {
	db     *badger.DB
	ownsDB bool
}

// BadgerStoreConfig configures OpenBadgerStore.
//
// # Fields
//
//   - Path: directory for database files. Required unless InMemory.
//   - InMemory: in-memory mode, for tests.
//   - SyncWrites: synchronous writes for durability. Off unless set,
//     in memory and persistent mode alike.
//   - Logger: optional logger for BadgerDB internals; nil disables them.
type BadgerStoreConfig struct {
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     *slog.Logger
}

// OpenBadgerStore opens (or creates) a BadgerDB at cfg.Path and returns
// a store over it. The store owns the database and closes it on Close.
//
// # Inputs
//
//   - cfg: database location and tuning.
//
// # Outputs
//
//   - *BadgerStore: ready for Read/Write. Caller must Close.
//   - error: non-nil when the database cannot be opened.
func OpenBadgerStore(cfg BadgerStoreConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for a persistent badger store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerSlogAdapter{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &BadgerStore{db: db, ownsDB: true}, nil
}

// NewBadgerStore wraps an already-open database shared with other broker
// subsystems. Close leaves the database open for the owner.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// Read returns the persisted enabled names, or an empty slice when the
// key has never been written.
func (s *BadgerStore) Read(ctx context.Context) ([]FlagName, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(enabledFlagsKey)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return []FlagName{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read enabled flags record: %w", err)
	}

	var names []FlagName
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("decode enabled flags record: %w", err)
	}
	return names, nil
}

// Write replaces the record with names in a single transaction.
func (s *BadgerStore) Write(ctx context.Context, names []FlagName) error {
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

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(enabledFlagsKey, data)
	})
	if err != nil {
		return fmt.Errorf("write enabled flags record: %w", err)
	}
	return nil
}

// Close closes the database when this store opened it.
func (s *BadgerStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

// badgerSlogAdapter bridges slog to BadgerDB's printf-style logger.
type badgerSlogAdapter struct {
	logger *slog.Logger
}

func (l *badgerSlogAdapter) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerSlogAdapter) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerSlogAdapter) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerSlogAdapter) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
