// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemos Contributors

package main

import (
	"github.com/spf13/cobra"
)

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search records by keywords and tags",
		Long:  "Rank records by keyword matches against their payloads, optionally filtered to records carrying every --tag. Expired records never match.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSearch,
	}

	cmd.Flags().StringSliceP("tag", "t", nil, "require this tag (repeatable; a parent tag matches nested tags)")
	cmd.Flags().IntP("limit", "n", 0, "maximum results (default 10)")

	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := ""
	if len(args) == 1 {
		query = args[0]
	}
	tags, _ := cmd.Flags().GetStringSlice("tag")
	limit, _ := cmd.Flags().GetInt("limit")

	env, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}

	recs, err := env.Store.Search(query, tags, limit)
	if err != nil {
		_ = env.Close()
		return err
	}

	// Persist the refreshed access metadata on the returned records.
	if err := env.SaveAndClose(cmd.Context()); err != nil {
		return err
	}

	return printRecords(cmd, recs)
}

func newRecentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List recent records",
		Long:  "List non-expired records newest first. Listing does not count as an access.",
		RunE:  runRecent,
	}

	cmd.Flags().IntP("limit", "n", 0, "maximum results (default 10)")

	return cmd
}

func runRecent(cmd *cobra.Command, _ []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	env, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer env.Close()

	recs, err := env.Store.Recent(limit)
	if err != nil {
		return err
	}

	return printRecords(cmd, recs)
}
