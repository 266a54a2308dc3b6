// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemos Contributors

package store

import (
	"context"
	"sync"
	"time"

	mnerr "github.com/mnemos-dev/mnemos/pkg/errors"
)

// SnapshotVersion is the current persisted container format version.
const SnapshotVersion = 1

// Snapshot is the versioned container persisted by the durable backends:
// the full record table plus the encryption flag in effect when it was
// written. A flag mismatching the live gate configuration on load triggers
// a one-time bulk migration pass.
type Snapshot struct {
	Version   int                `json:"version"`
	Timestamp time.Time          `json:"timestamp"`
	Encrypted bool               `json:"encrypted"`
	Records   map[string]*Record `json:"records"`
}

// SnapshotStore persists the full record table. Implementations are not
// required to be safe against concurrent store mutation; the Store holds
// its exclusive lock around Save and Load.
type SnapshotStore interface {
	// Save writes the snapshot, replacing any prior one atomically.
	Save(ctx context.Context, snap *Snapshot) error

	// Load reads the latest snapshot. Returns an error satisfying
	// errors.Is(err, ErrSnapshotMissing) when none exists; a partial or
	// corrupt snapshot is rejected wholesale, never returned in part.
	Load(ctx context.Context) (*Snapshot, error)

	// Path returns the backing file location, for diagnostics and backups.
	Path() string

	Close() error
}

// SnapshotConfig selects the persistence backend.
type SnapshotConfig struct {
	Backend string // "file" (default) or "sqlite"
}

// SnapshotFactory creates a snapshot store rooted in the given data
// directory.
type SnapshotFactory func(dataDir string) (SnapshotStore, error)

var (
	snapshotFactories = map[string]SnapshotFactory{}
	factoriesMu       sync.RWMutex
)

// RegisterBackend registers a factory for a named snapshot backend.
// Backend packages call this from init(). Goroutine-safe.
func RegisterBackend(name string, f SnapshotFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	snapshotFactories[name] = f
}

// resolveBackend returns the effective backend name, defaulting to "file".
func resolveBackend(cfg *SnapshotConfig) string {
	if cfg == nil || cfg.Backend == "" {
		return "file"
	}
	return cfg.Backend
}

// NewSnapshotStore creates the snapshot store for the configured backend.
func NewSnapshotStore(cfg *SnapshotConfig, dataDir string) (SnapshotStore, error) {
	backend := resolveBackend(cfg)

	factoriesMu.RLock()
	factory, ok := snapshotFactories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, mnerr.Errorf(mnerr.CodeSnapshotBackendUnsupported, "unsupported snapshot backend: %q", backend)
	}

	return factory(dataDir)
}
