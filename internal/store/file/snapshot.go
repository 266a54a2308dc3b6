// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemos Contributors

// Package file persists snapshots as a single JSON document on disk.
package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/mnemos-dev/mnemos/internal/store"
	mnerr "github.com/mnemos-dev/mnemos/pkg/errors"
)

const snapshotFile = "memory.json"

func init() {
	store.RegisterBackend("file", func(dataDir string) (store.SnapshotStore, error) {
		return New(dataDir)
	})
}

// SnapshotStore writes the snapshot container to <dataDir>/memory.json.
// Saves are atomic: the document is written to a temp file in the same
// directory and renamed over the target, so a crash mid-write leaves the
// prior snapshot intact.
type SnapshotStore struct {
	path string
}

var _ store.SnapshotStore = (*SnapshotStore)(nil)

// New creates the data directory if needed and returns a store rooted there.
func New(dataDir string) (*SnapshotStore, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, mnerr.Wrap(err, mnerr.CodeSnapshotSaveFailure, "creating data directory",
			mnerr.FieldPath(dataDir))
	}
	return &SnapshotStore{path: filepath.Join(dataDir, snapshotFile)}, nil
}

func (s *SnapshotStore) Save(_ context.Context, snap *store.Snapshot) error {
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return mnerr.Wrap(err, mnerr.CodeSnapshotSaveFailure, "serializing snapshot")
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".memory-*.json")
	if err != nil {
		return mnerr.Wrap(err, mnerr.CodeSnapshotSaveFailure, "creating temp file", mnerr.FieldPath(s.path))
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return mnerr.Wrap(err, mnerr.CodeSnapshotSaveFailure, "writing snapshot", mnerr.FieldPath(s.path))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return mnerr.Wrap(err, mnerr.CodeSnapshotSaveFailure, "closing temp file", mnerr.FieldPath(s.path))
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return mnerr.Wrap(err, mnerr.CodeSnapshotSaveFailure, "setting snapshot permissions", mnerr.FieldPath(s.path))
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return mnerr.Wrap(err, mnerr.CodeSnapshotSaveFailure, "replacing snapshot", mnerr.FieldPath(s.path))
	}
	return nil
}

func (s *SnapshotStore) Load(_ context.Context) (*store.Snapshot, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, mnerr.Wrap(store.ErrSnapshotMissing, mnerr.CodeSnapshotNotFound,
				"no snapshot on disk", mnerr.FieldPath(s.path))
		}
		return nil, mnerr.Wrap(err, mnerr.CodeSnapshotLoadFailure, "reading snapshot", mnerr.FieldPath(s.path))
	}

	var snap store.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, mnerr.Wrap(err, mnerr.CodeSnapshotFormatInvalid, "parsing snapshot", mnerr.FieldPath(s.path))
	}
	if snap.Records == nil {
		snap.Records = make(map[string]*store.Record)
	}
	return &snap, nil
}

func (s *SnapshotStore) Path() string { return s.path }

func (s *SnapshotStore) Close() error { return nil }
