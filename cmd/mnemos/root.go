// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemos Contributors

package main

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mnemos-dev/mnemos/internal/config"
	mnerr "github.com/mnemos-dev/mnemos/pkg/errors"
)

// NewRootCmd creates the root mnemos command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mnemos",
		Short:         "Mnemos — persistent tagged memory store",
		Long:          "Mnemos stores structured records with hierarchical tags, keyword search, retention pruning, and selective at-rest encryption.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initViper(cmd)
		},
	}

	// Global flags — these map to viper keys via initViper.
	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().String("data-dir", "", "path to data directory")

	// Register subcommands
	root.AddCommand(
		newPutCmd(),
		newGetCmd(),
		newDeleteCmd(),
		newTagCmd(),
		newSearchCmd(),
		newRecentCmd(),
		newStatsCmd(),
		newSweepCmd(),
		newBackupCmd(),
		newDoctorCmd(),
		newVersionCmd(),
	)

	return root
}

// initViper sets up the global Viper with defaults, env bindings, flag
// bindings, and optional config file so the standard precedence
// (flag > env > file > defaults) is handled uniformly.
func initViper(cmd *cobra.Command) error {
	v := viper.GetViper()

	config.SetDefaults(v)
	config.SetupEnv(v)

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return mnerr.Errorf(mnerr.CodeConfigLoadReadFailure, "reading config file: %w", err)
		}
	} else {
		// Auto-discover mnemos.yaml from standard locations.
		// Note: SetConfigType is intentionally omitted. When set, Viper
		// falls back to trying the bare config name without extension,
		// which collides with the ./mnemos binary in the project root.
		v.SetConfigName("mnemos")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/mnemos")
		v.AddConfigPath("/etc/mnemos")
		// No config file is fine — defaults and env vars still apply.
		// Parse or permission errors must surface.
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return mnerr.Errorf(mnerr.CodeConfigLoadReadFailure, "reading config: %w", err)
			}
			// No config found anywhere — bootstrap a default to ~/.config/mnemos/.
			if path := config.BootstrapConfig(); path != "" {
				v.SetConfigFile(path)
				if err := v.ReadInConfig(); err != nil {
					return mnerr.Errorf(mnerr.CodeConfigLoadReadFailure, "reading bootstrapped config: %w", err)
				}
			}
		}
	}

	config.WarnInsecurePermissions(v.ConfigFileUsed())

	// Bind persistent flags to viper keys.
	if err := v.BindPFlag("data_dir", cmd.Root().PersistentFlags().Lookup("data-dir")); err != nil {
		return mnerr.Errorf(mnerr.CodeCLISetupFailure, "binding data-dir flag: %w", err)
	}

	return nil
}
