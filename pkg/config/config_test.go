// Copyright (C) 2026 Kodiak Systems (dev@kodiakmq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
	return path
}

// TestLoad_FullConfig parses every field.
func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
node_name: kodiak-2
listen_addr: 0.0.0.0:15672
data_dir: /var/lib/kodiak
store_backend: badger
rpc_timeout: 10s
probe_timeout: 1s
memory_interval: 2500ms
peers:
  - name: kodiak-1
    base_url: http://kodiak-1:15672
  - name: kodiak-2
    base_url: http://kodiak-2:15672
log:
  level: debug
  json: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "kodiak-2", cfg.NodeName)
	assert.Equal(t, "badger", cfg.StoreBackend)
	assert.Equal(t, 10*time.Second, cfg.RPCTimeout.Std())
	assert.Equal(t, 2500*time.Millisecond, cfg.MemoryInterval.Std())
	require.Len(t, cfg.Peers, 2)
	assert.Equal(t, "http://kodiak-1:15672", cfg.Peers[0].BaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
}

// TestLoad_EmptyPathUsesDefaults loads a single-node default config.
func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "kodiak-1", cfg.NodeName)
	assert.Equal(t, "file", cfg.StoreBackend)
	assert.Empty(t, cfg.Peers)
}

// TestLoad_InvalidBackend fails validation.
func TestLoad_InvalidBackend(t *testing.T) {
	path := writeConfig(t, `
node_name: kodiak-1
listen_addr: 127.0.0.1:15672
data_dir: /var/lib/kodiak
store_backend: etcd
`)
	_, err := Load(path)
	assert.Error(t, err)
}

// TestLoad_PeerMissingURL fails validation on a nested field.
func TestLoad_PeerMissingURL(t *testing.T) {
	path := writeConfig(t, `
node_name: kodiak-1
listen_addr: 127.0.0.1:15672
data_dir: /var/lib/kodiak
peers:
  - name: kodiak-2
`)
	_, err := Load(path)
	assert.Error(t, err)
}

// TestLoad_EnvOverrides injects deployment values over the file.
func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
node_name: kodiak-1
listen_addr: 127.0.0.1:15672
data_dir: /var/lib/kodiak
`)
	t.Setenv("KODIAK_NODE_NAME", "kodiak-override")
	t.Setenv("KODIAK_DATA_DIR", "/srv/kodiak")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "kodiak-override", cfg.NodeName)
	assert.Equal(t, "/srv/kodiak", cfg.DataDir)
}

// TestLoad_MissingFile surfaces the read error.
func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
