// Copyright (C) 2026 Kodiak Systems (dev@kodiakmq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// kodiakd is the Kodiak node daemon and operator CLI.
//
// "kodiakd serve" runs the node-local coordination services: the
// feature-flag coordinator with its peer HTTP surface, and the
// memory-pressure controller. The "flags" subcommands talk to a running
// daemon for day-two operations.
package main

import (
	"log"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "kodiakd",
	Short: "Kodiak broker node daemon",
	Long: `kodiakd runs the node-local coordination services of a Kodiak broker
cluster and provides operator subcommands against a running daemon.

Examples:
  kodiakd serve --config /etc/kodiak/node.yaml
  kodiakd flags list --filter enabled
  kodiakd flags enable stream_queues
  kodiakd flags check kodiak-2`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to the node YAML configuration")
}
