// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemos Contributors

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newTagCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tag",
		Short: "Manage record tags",
	}

	cmd.AddCommand(newTagAddCmd(), newTagRemoveCmd())
	return cmd
}

func newTagAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <id> <tag>...",
		Short: "Add tags to a record",
		Long:  "Add tags to an existing record. Adding a sensitive tag encrypts the record's payload.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutateTags(cmd, args[0], args[1:], true)
		},
	}
}

func newTagRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id> <tag>...",
		Short: "Remove tags from a record",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutateTags(cmd, args[0], args[1:], false)
		},
	}
}

func mutateTags(cmd *cobra.Command, id string, tags []string, add bool) error {
	env, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}

	if add {
		err = env.Store.AddTags(id, tags)
	} else {
		err = env.Store.RemoveTags(id, tags)
	}
	if err != nil {
		_ = env.Close()
		return err
	}

	current, err := env.Store.TagsOf(id)
	if err != nil {
		_ = env.Close()
		return err
	}

	if err := env.SaveAndClose(cmd.Context()); err != nil {
		return err
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: [%s]\n", id, strings.Join(current, ", "))
	return err
}
