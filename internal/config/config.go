// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemos Contributors

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	mnerr "github.com/mnemos-dev/mnemos/pkg/errors"
)

// Config is the top-level Mnemos configuration.
type Config struct {
	DataDir    string           `mapstructure:"data_dir"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Retention  RetentionConfig  `mapstructure:"retention"`
	Encryption EncryptionConfig `mapstructure:"encryption"`
	Backup     BackupConfig     `mapstructure:"backup"`
}

// StorageConfig selects the snapshot backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
}

// RetentionConfig bounds the store's size and record lifetime.
type RetentionConfig struct {
	MaxRecords     int `mapstructure:"max_records"`
	DefaultTTLDays int `mapstructure:"default_ttl_days"`
}

// EncryptionConfig controls selective at-rest encryption.
type EncryptionConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	SensitiveTags []string `mapstructure:"sensitive_tags"`
	RotationDays  int      `mapstructure:"rotation_days"`

	// KeyStore selects where key material lives: "keyring" for the OS
	// credential store, "file" for a file under the data directory.
	KeyStore string `mapstructure:"key_store"`
}

// BackupConfig controls periodic snapshot backups.
type BackupConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	IntervalMinutes int    `mapstructure:"interval_minutes"`
	MaxBackups      int    `mapstructure:"max_backups"`
	Location        string `mapstructure:"location"`
}

// BackupDir returns the effective backup directory, defaulting to
// <data_dir>/backups when no location is configured.
func (c *Config) BackupDir() string {
	if c.Backup.Location != "" {
		return c.Backup.Location
	}
	return filepath.Join(c.DataDir, "backups")
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix MNEMOS_).
func Load(path string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)
	SetupEnv(v)

	// File
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, mnerr.Errorf(mnerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, mnerr.Errorf(mnerr.CodeConfigValidateInvalidValue, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, mnerr.Errorf(mnerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// SetupEnv binds MNEMOS_-prefixed environment variables on a viper
// instance, with dots in keys mapped to underscores.
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix("MNEMOS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// SetDefaults installs the default values on a viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("storage.backend", "file")
	v.SetDefault("retention.max_records", 10000)
	v.SetDefault("retention.default_ttl_days", 365)
	v.SetDefault("encryption.enabled", true)
	v.SetDefault("encryption.sensitive_tags", []string{"personal", "private", "credentials"})
	v.SetDefault("encryption.rotation_days", 90)
	v.SetDefault("encryption.key_store", "keyring")
	v.SetDefault("backup.enabled", false)
	v.SetDefault("backup.interval_minutes", 30)
	v.SetDefault("backup.max_backups", 5)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mnemos"
	}
	return filepath.Join(home, ".local", "share", "mnemos")
}

// Validate checks the configuration for logical errors.
// It returns a slice of all validation errors found, collecting all issues
// rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, mnerr.Errorf(mnerr.CodeConfigValidateInvalidValue, "config: data_dir must not be empty"))
	}

	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateRetention()...)
	errs = append(errs, c.validateEncryption()...)
	errs = append(errs, c.validateBackup()...)

	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	validBackends := map[string]bool{"file": true, "sqlite": true}
	if !validBackends[c.Storage.Backend] {
		errs = append(errs, mnerr.Errorf(mnerr.CodeConfigValidateInvalidValue,
			"config: storage.backend must be one of [file, sqlite], got %q",
			c.Storage.Backend,
		))
	}

	return errs
}

func (c *Config) validateRetention() []error {
	var errs []error

	if c.Retention.MaxRecords <= 0 {
		errs = append(errs, mnerr.Errorf(mnerr.CodeConfigValidateInvalidValue,
			"config: retention.max_records must be greater than 0, got %d",
			c.Retention.MaxRecords,
		))
	}

	if c.Retention.DefaultTTLDays <= 0 {
		errs = append(errs, mnerr.Errorf(mnerr.CodeConfigValidateInvalidValue,
			"config: retention.default_ttl_days must be greater than 0, got %d",
			c.Retention.DefaultTTLDays,
		))
	}

	return errs
}

func (c *Config) validateEncryption() []error {
	var errs []error

	if !c.Encryption.Enabled {
		return errs
	}

	if len(c.Encryption.SensitiveTags) == 0 {
		errs = append(errs, mnerr.Errorf(mnerr.CodeConfigValidateInvalidValue,
			"config: encryption.sensitive_tags must not be empty when encryption is enabled"))
	}
	for i, tag := range c.Encryption.SensitiveTags {
		if strings.TrimSpace(tag) == "" {
			errs = append(errs, mnerr.Errorf(mnerr.CodeConfigValidateInvalidValue,
				"config: encryption.sensitive_tags[%d] must not be blank", i))
		}
	}

	if c.Encryption.RotationDays <= 0 {
		errs = append(errs, mnerr.Errorf(mnerr.CodeConfigValidateInvalidValue,
			"config: encryption.rotation_days must be greater than 0, got %d",
			c.Encryption.RotationDays,
		))
	}

	validKeyStores := map[string]bool{"keyring": true, "file": true}
	if !validKeyStores[c.Encryption.KeyStore] {
		errs = append(errs, mnerr.Errorf(mnerr.CodeConfigValidateInvalidValue,
			"config: encryption.key_store must be one of [keyring, file], got %q",
			c.Encryption.KeyStore,
		))
	}

	return errs
}

func (c *Config) validateBackup() []error {
	var errs []error

	if !c.Backup.Enabled {
		return errs
	}

	if c.Backup.IntervalMinutes <= 0 {
		errs = append(errs, mnerr.Errorf(mnerr.CodeConfigValidateInvalidValue,
			"config: backup.interval_minutes must be greater than 0, got %d",
			c.Backup.IntervalMinutes,
		))
	}

	if c.Backup.MaxBackups <= 0 {
		errs = append(errs, mnerr.Errorf(mnerr.CodeConfigValidateInvalidValue,
			"config: backup.max_backups must be greater than 0, got %d",
			c.Backup.MaxBackups,
		))
	}

	return errs
}
