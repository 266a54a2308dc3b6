// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemos Contributors

package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostics",
		Long:  "Check binary health, configuration, the data directory, snapshot integrity, key material, and backups.",
		RunE:  runDoctor,
	}
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()

	checks := []struct {
		name string
		fn   func(*cobra.Command) string
	}{
		{"Binary", checkBinary},
		{"Platform", checkPlatform},
		{"Config", checkConfig},
		{"Data Dir", checkDataDir},
		{"Snapshot", checkSnapshot},
		{"Encryption", checkEncryption},
		{"Backups", checkBackups},
	}

	for _, c := range checks {
		if _, err := fmt.Fprintf(w, "%-12s %s\n", c.name+":", c.fn(cmd)); err != nil {
			return err
		}
	}

	return nil
}

func checkBinary(_ *cobra.Command) string {
	return fmt.Sprintf("mnemos %s (%s/%s)", version, runtime.GOOS, runtime.GOARCH)
}

func checkPlatform(_ *cobra.Command) string {
	return fmt.Sprintf("%s/%s, Go %s", runtime.GOOS, runtime.GOARCH, runtime.Version())
}

func checkConfig(_ *cobra.Command) string {
	cfgFile := viper.ConfigFileUsed()
	if cfgFile != "" {
		return fmt.Sprintf("loaded from %s", cfgFile)
	}
	return "using defaults (no config file found)"
}

func checkDataDir(_ *cobra.Command) string {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Sprintf("config error: %s", err)
	}
	info, err := os.Stat(cfg.DataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Sprintf("%s (will be created on first write)", cfg.DataDir)
		}
		return fmt.Sprintf("error: %s", err)
	}
	if !info.IsDir() {
		return fmt.Sprintf("%s exists but is not a directory", cfg.DataDir)
	}
	return cfg.DataDir
}

func checkSnapshot(cmd *cobra.Command) string {
	env, err := openEnv(cmd.Context())
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	defer env.Close()

	if err := env.Store.VerifyIntegrity(); err != nil {
		return fmt.Sprintf("index inconsistency: %s", err)
	}
	return fmt.Sprintf("%d record(s) at %s", env.Store.Count(), env.Snapshots.Path())
}

func checkEncryption(_ *cobra.Command) string {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Sprintf("config error: %s", err)
	}
	if !cfg.Encryption.Enabled {
		return "disabled"
	}
	if _, err := newGate(cfg); err != nil {
		return fmt.Sprintf("key material unavailable: %s", err)
	}
	return fmt.Sprintf("enabled (%s key store, %d sensitive tag(s))",
		cfg.Encryption.KeyStore, len(cfg.Encryption.SensitiveTags))
}

func checkBackups(_ *cobra.Command) string {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Sprintf("config error: %s", err)
	}
	if !cfg.Backup.Enabled {
		return "disabled"
	}

	entries, err := os.ReadDir(cfg.BackupDir())
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Sprintf("enabled, none yet in %s", cfg.BackupDir())
		}
		return fmt.Sprintf("error: %s", err)
	}
	return fmt.Sprintf("%d archive(s) in %s", len(entries), cfg.BackupDir())
}
