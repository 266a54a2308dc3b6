// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemos Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Retrieve a record by id",
		Long:  "Retrieve one record, decrypting it if needed. Retrieval counts as an access for retention scoring.",
		Args:  cobra.ExactArgs(1),
		RunE:  runGet,
	}
}

func runGet(cmd *cobra.Command, args []string) error {
	env, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}

	rec, err := env.Store.Get(args[0])
	if err != nil {
		_ = env.Close()
		return err
	}

	// Persist the refreshed access metadata.
	if err := env.SaveAndClose(cmd.Context()); err != nil {
		return err
	}

	return printRecord(cmd, rec)
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}

			if err := env.Store.Delete(args[0]); err != nil {
				_ = env.Close()
				return err
			}

			if err := env.SaveAndClose(cmd.Context()); err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return err
		},
	}
}
