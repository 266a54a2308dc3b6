// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemos Contributors

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage snapshot backups",
	}

	cmd.AddCommand(newBackupCreateCmd(), newBackupListCmd(), newBackupRestoreCmd(), newBackupRunCmd())
	return cmd
}

func newBackupRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run periodic backups until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			// Save first so the archives reflect current state.
			if err := env.Store.Save(cmd.Context()); err != nil {
				return err
			}

			mgr, err := env.newBackupManager()
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			mgr.Run(ctx)
			return nil
		},
	}
}

func newBackupCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create a backup of the current snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}

			// Save first so the archive reflects current state.
			if err := env.Store.Save(cmd.Context()); err != nil {
				_ = env.Close()
				return err
			}

			mgr, err := env.newBackupManager()
			if err != nil {
				_ = env.Close()
				return err
			}

			path, err := mgr.Create()
			if err != nil {
				_ = env.Close()
				return err
			}
			if err := env.Close(); err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
			return err
		},
	}
}

func newBackupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List backups, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			mgr, err := env.newBackupManager()
			if err != nil {
				return err
			}

			backups, err := mgr.List()
			if err != nil {
				return err
			}
			if len(backups) == 0 {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "no backups")
				return err
			}
			for _, b := range backups {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), b); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newBackupRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Restore the newest backup over the current snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}

			mgr, err := env.newBackupManager()
			if err != nil {
				_ = env.Close()
				return err
			}

			// Release the backend before overwriting its file.
			if err := env.Close(); err != nil {
				return err
			}

			archive, err := mgr.RestoreLatest()
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "restored %s\n", archive)
			return err
		},
	}
}
