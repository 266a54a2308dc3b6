// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemos Contributors

package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show store statistics",
		RunE:  runStats,
	}
}

func runStats(cmd *cobra.Command, _ []string) error {
	env, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer env.Close()

	stats := env.Store.Stats()
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Records:  %d total, %d active, %d expired\n", stats.Total, stats.Active, stats.Expired)

	if len(stats.TypeCounts) > 0 {
		fmt.Fprintln(w, "Types:")
		for _, k := range sortedKeys(stats.TypeCounts) {
			fmt.Fprintf(w, "  %-20s %d\n", k, stats.TypeCounts[k])
		}
	}

	if len(stats.TagCounts) > 0 {
		fmt.Fprintln(w, "Tags:")
		for _, k := range sortedKeys(stats.TagCounts) {
			fmt.Fprintf(w, "  %-20s %d\n", k, stats.TagCounts[k])
		}
	}

	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Prune expired and over-capacity records",
		Long:  "Run the retention pass: delete expired records, then evict the least important records until the store is under its capacity.",
		RunE:  runSweep,
	}
}

func runSweep(cmd *cobra.Command, _ []string) error {
	env, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}

	removed := env.Store.Sweep()
	if err := env.SaveAndClose(cmd.Context()); err != nil {
		return err
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %d record(s), %d remain\n", removed, env.Store.Count())
	return err
}
