// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemos Contributors

package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/mnemos-dev/mnemos/internal/backup"
	"github.com/mnemos-dev/mnemos/internal/config"
	"github.com/mnemos-dev/mnemos/internal/keys"
	"github.com/mnemos-dev/mnemos/internal/store"
	_ "github.com/mnemos-dev/mnemos/internal/store/file"   // register file backend
	_ "github.com/mnemos-dev/mnemos/internal/store/sqlite" // register sqlite backend
	mnerr "github.com/mnemos-dev/mnemos/pkg/errors"
)

const keyringService = "mnemos"

// Env holds the wired subsystems for one CLI invocation.
type Env struct {
	Config    *config.Config
	Store     *store.Store
	Snapshots store.SnapshotStore
}

// loadConfig builds the validated Config from the global viper state that
// initViper prepared.
func loadConfig() (*config.Config, error) {
	var cfg config.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, mnerr.Errorf(mnerr.CodeConfigValidateInvalidValue, "unmarshalling config: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, mnerr.Join(errs...)
	}
	return &cfg, nil
}

// openEnv wires the key store, encryption gate, snapshot backend, and
// store, then loads the persisted snapshot.
func openEnv(ctx context.Context) (*Env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, mnerr.Errorf(mnerr.CodeCLISetupFailure, "creating data directory: %w", err)
	}

	gate, err := newGate(cfg)
	if err != nil {
		return nil, mnerr.Wrap(err, mnerr.CodeCLISetupFailure, "initializing encryption")
	}

	snapshots, err := store.NewSnapshotStore(&store.SnapshotConfig{Backend: cfg.Storage.Backend}, cfg.DataDir)
	if err != nil {
		return nil, mnerr.Wrap(err, mnerr.CodeCLISetupFailure, "opening snapshot backend",
			mnerr.FieldBackend(cfg.Storage.Backend))
	}

	s := store.New(store.Options{
		MaxRecords: cfg.Retention.MaxRecords,
		DefaultTTL: time.Duration(cfg.Retention.DefaultTTLDays) * 24 * time.Hour,
	}, gate, snapshots)

	if err := s.Load(ctx); err != nil {
		_ = snapshots.Close()
		return nil, err
	}

	return &Env{Config: cfg, Store: s, Snapshots: snapshots}, nil
}

// newGate builds the encryption gate from config, or returns nil when
// encryption is disabled.
func newGate(cfg *config.Config) (*store.EncryptionGate, error) {
	if !cfg.Encryption.Enabled {
		return nil, nil
	}

	var ks keys.Store
	var err error
	switch cfg.Encryption.KeyStore {
	case "file":
		ks, err = keys.NewFileStore(filepath.Join(cfg.DataDir, "keys.json"))
	default:
		ks, err = keys.NewKeyringStore(keyringService)
	}
	if err != nil {
		return nil, err
	}

	return store.NewEncryptionGate(store.GateConfig{
		Enabled:        true,
		SensitiveTags:  cfg.Encryption.SensitiveTags,
		RotationPeriod: time.Duration(cfg.Encryption.RotationDays) * 24 * time.Hour,
	}, ks)
}

// newBackupManager builds the backup manager for the wired snapshot path.
func (e *Env) newBackupManager() (*backup.Manager, error) {
	return backup.New(backup.Options{
		SourcePath: e.Snapshots.Path(),
		Dir:        e.Config.BackupDir(),
		MaxBackups: e.Config.Backup.MaxBackups,
		Interval:   time.Duration(e.Config.Backup.IntervalMinutes) * time.Minute,
	})
}

// SaveAndClose persists the store and releases the snapshot backend.
func (e *Env) SaveAndClose(ctx context.Context) error {
	saveErr := e.Store.Save(ctx)
	closeErr := e.Snapshots.Close()
	if saveErr != nil {
		return saveErr
	}
	return closeErr
}

// Close releases the snapshot backend without saving.
func (e *Env) Close() error {
	return e.Snapshots.Close()
}
