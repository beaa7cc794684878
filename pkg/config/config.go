// Copyright (C) 2026 Kodiak Systems (dev@kodiakmq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads and validates the Kodiak node configuration.
//
// Configuration comes from a YAML file with environment-variable
// overrides for the fields deployment tooling most often injects
// (KODIAK_NODE_NAME, KODIAK_LISTEN_ADDR, KODIAK_DATA_DIR). Validation
// runs at load time; an invalid config never reaches the services.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "10s" or "2500ms".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like \"10s\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts to a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// PeerConfig names one cluster member.
type PeerConfig struct {
	Name    string `yaml:"name" validate:"required"`
	BaseURL string `yaml:"base_url" validate:"required,url"`
}

// LogConfig controls the node logger.
type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// Config is the full node configuration.
//
// # Fields
//
//   - NodeName: this node's cluster-unique name.
//   - ListenAddr: HTTP listen address for the peer/admin surface.
//   - DataDir: node-local state; the enabled-flags record lives here.
//   - StoreBackend: enabled-flag persistence, "file" or "badger".
//   - Peers: every cluster member including this node; membership
//     excludes the entry matching NodeName.
//   - RPCTimeout: per-peer-call bound for the flag protocol.
//   - ProbeTimeout: per-peer liveness probe bound.
//   - MemoryInterval: memory controller tick cadence.
//   - OTLPEndpoint: optional trace collector address; empty disables
//     tracing.
//   - Log: logger settings.
type Config struct {
	NodeName       string       `yaml:"node_name" validate:"required"`
	ListenAddr     string       `yaml:"listen_addr" validate:"required,hostname_port"`
	DataDir        string       `yaml:"data_dir" validate:"required"`
	StoreBackend   string       `yaml:"store_backend" validate:"omitempty,oneof=file badger"`
	Peers          []PeerConfig `yaml:"peers" validate:"dive"`
	RPCTimeout     Duration     `yaml:"rpc_timeout"`
	ProbeTimeout   Duration     `yaml:"probe_timeout"`
	MemoryInterval Duration     `yaml:"memory_interval"`
	OTLPEndpoint   string       `yaml:"otlp_endpoint"`
	Log            LogConfig    `yaml:"log"`
}

// Default returns the configuration a bare node runs with: a single
// member cluster listening on the loopback interface.
func Default() Config {
	return Config{
		NodeName:     "kodiak-1",
		ListenAddr:   "127.0.0.1:15672",
		DataDir:      "/var/lib/kodiak",
		StoreBackend: "file",
	}
}

// Load reads path, applies environment overrides, and validates.
//
// # Inputs
//
//   - path: YAML file location. Empty loads defaults plus environment
//     overrides only.
//
// # Outputs
//
//   - Config: the validated configuration.
//   - error: non-nil on read, parse, or validation failure.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides injects the deployment-injected fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KODIAK_NODE_NAME"); v != "" {
		cfg.NodeName = v
	}
	if v := os.Getenv("KODIAK_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("KODIAK_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("KODIAK_OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}
}
