// Copyright (C) 2026 Kodiak Systems (dev@kodiakmq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/kodiakmq/kodiak/services/featureflags"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	flagsDaemonURL  string // Base URL of the running daemon
	flagsListFilter string // all | enabled | disabled
	flagsJSONOutput bool   // Output as JSON
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var flagsCmd = &cobra.Command{
	Use:   "flags",
	Short: "Inspect and enable cluster feature flags on a running daemon",
}

var flagsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List feature flags known to this node",
	RunE:  runFlagsList,
}

var flagsEnableCmd = &cobra.Command{
	Use:   "enable <flag>",
	Short: "Enable a feature flag across the cluster",
	Args:  cobra.ExactArgs(1),
	RunE:  runFlagsEnable,
}

var flagsCheckCmd = &cobra.Command{
	Use:   "check <peer>",
	Short: "Check feature-flag compatibility with a running peer",
	Args:  cobra.ExactArgs(1),
	RunE:  runFlagsCheck,
}

func init() {
	flagsCmd.PersistentFlags().StringVar(&flagsDaemonURL, "daemon",
		"http://127.0.0.1:15672", "Base URL of the kodiakd daemon")
	flagsListCmd.Flags().StringVar(&flagsListFilter, "filter", "all",
		"Which flags to list: all, enabled, or disabled")
	flagsListCmd.Flags().BoolVar(&flagsJSONOutput, "json", false,
		"Output as JSON")
	flagsCmd.AddCommand(flagsListCmd, flagsEnableCmd, flagsCheckCmd)
	rootCmd.AddCommand(flagsCmd)
}

var cliClient = &http.Client{Timeout: 60 * time.Second}

func runFlagsList(cmd *cobra.Command, args []string) error {
	endpoint := fmt.Sprintf("%s/v1/flags?filter=%s", flagsDaemonURL, url.QueryEscape(flagsListFilter))
	resp, err := cliClient.Get(endpoint)
	if err != nil {
		return fmt.Errorf("reach daemon: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return daemonError(resp)
	}

	var payload struct {
		Flags map[featureflags.FlagName]featureflags.Flag `json:"flags"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode daemon response: %w", err)
	}

	if flagsJSONOutput {
		return json.NewEncoder(os.Stdout).Encode(payload.Flags)
	}

	names := make([]string, 0, len(payload.Flags))
	for name := range payload.Flags {
		names = append(names, string(name))
	}
	sort.Strings(names)
	for _, name := range names {
		flag := payload.Flags[featureflags.FlagName(name)]
		fmt.Printf("%-30s %-14s %s\n", name, flag.Stability, flag.Desc)
	}
	return nil
}

func runFlagsEnable(cmd *cobra.Command, args []string) error {
	endpoint := fmt.Sprintf("%s/v1/flags/%s/enable", flagsDaemonURL, url.PathEscape(args[0]))
	resp, err := cliClient.Post(endpoint, "application/json", nil)
	if err != nil {
		return fmt.Errorf("reach daemon: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return daemonError(resp)
	}
	fmt.Printf("Feature flag %s enabled across the cluster\n", args[0])
	return nil
}

func runFlagsCheck(cmd *cobra.Command, args []string) error {
	endpoint := fmt.Sprintf("%s/v1/cluster/compatibility/%s", flagsDaemonURL, url.PathEscape(args[0]))
	resp, err := cliClient.Get(endpoint)
	if err != nil {
		return fmt.Errorf("reach daemon: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return daemonError(resp)
	}
	fmt.Printf("Node %s is feature-flag compatible\n", args[0])
	return nil
}

// daemonError surfaces the daemon's error body on a non-200 status.
func daemonError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, payload.Error)
	}
	return fmt.Errorf("daemon returned %d", resp.StatusCode)
}
