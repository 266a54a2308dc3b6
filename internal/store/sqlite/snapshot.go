// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemos Contributors

// Package sqlite persists snapshots in a SQLite database, one row per
// record. Durability semantics match the file backend: Save replaces the
// whole snapshot transactionally, Load reads it back wholesale.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mnemos-dev/mnemos/internal/store"
	mnerr "github.com/mnemos-dev/mnemos/pkg/errors"
)

const dbFile = "memory.db"

const schema = `
CREATE TABLE IF NOT EXISTS snapshot_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS records (
	id     TEXT PRIMARY KEY,
	record TEXT NOT NULL
);
`

func init() {
	store.RegisterBackend("sqlite", func(dataDir string) (store.SnapshotStore, error) {
		return New(dataDir)
	})
}

// SnapshotStore stores the snapshot in <dataDir>/memory.db.
type SnapshotStore struct {
	db   *sql.DB
	path string
}

var _ store.SnapshotStore = (*SnapshotStore)(nil)

// New opens (creating if needed) the database and applies the schema.
func New(dataDir string) (*SnapshotStore, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, mnerr.Wrap(err, mnerr.CodeSnapshotSaveFailure, "creating data directory",
			mnerr.FieldPath(dataDir))
	}

	path := filepath.Join(dataDir, dbFile)
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, mnerr.Wrap(err, mnerr.CodeSnapshotLoadFailure, "opening database", mnerr.FieldPath(path))
	}
	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY churn under WAL.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, mnerr.Wrap(err, mnerr.CodeSnapshotLoadFailure, "applying schema", mnerr.FieldPath(path))
	}

	return &SnapshotStore{db: db, path: path}, nil
}

func (s *SnapshotStore) Save(ctx context.Context, snap *store.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mnerr.Wrap(err, mnerr.CodeSnapshotSaveFailure, "beginning transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return mnerr.Wrap(err, mnerr.CodeSnapshotSaveFailure, "clearing prior snapshot")
	}

	insert, err := tx.PrepareContext(ctx, `INSERT INTO records (id, record) VALUES (?, ?)`)
	if err != nil {
		return mnerr.Wrap(err, mnerr.CodeSnapshotSaveFailure, "preparing insert")
	}
	defer insert.Close()

	for id, rec := range snap.Records {
		raw, err := json.Marshal(rec)
		if err != nil {
			return mnerr.Wrap(err, mnerr.CodeSnapshotSaveFailure, "serializing record", mnerr.FieldRecordID(id))
		}
		if _, err := insert.ExecContext(ctx, id, string(raw)); err != nil {
			return mnerr.Wrap(err, mnerr.CodeSnapshotSaveFailure, "inserting record", mnerr.FieldRecordID(id))
		}
	}

	meta := map[string]string{
		"version":   strconv.Itoa(snap.Version),
		"timestamp": snap.Timestamp.UTC().Format(time.RFC3339Nano),
		"encrypted": strconv.FormatBool(snap.Encrypted),
	}
	for key, value := range meta {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO snapshot_meta (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
		if err != nil {
			return mnerr.Wrap(err, mnerr.CodeSnapshotSaveFailure, "writing snapshot metadata")
		}
	}

	if err := tx.Commit(); err != nil {
		return mnerr.Wrap(err, mnerr.CodeSnapshotSaveFailure, "committing snapshot")
	}
	return nil
}

func (s *SnapshotStore) Load(ctx context.Context) (*store.Snapshot, error) {
	meta, err := s.loadMeta(ctx)
	if err != nil {
		return nil, err
	}
	if len(meta) == 0 {
		return nil, mnerr.Wrap(store.ErrSnapshotMissing, mnerr.CodeSnapshotNotFound,
			"no snapshot in database", mnerr.FieldPath(s.path))
	}

	snap := &store.Snapshot{Records: make(map[string]*store.Record)}
	if snap.Version, err = strconv.Atoi(meta["version"]); err != nil {
		return nil, mnerr.Wrap(err, mnerr.CodeSnapshotFormatInvalid, "parsing snapshot version")
	}
	if snap.Timestamp, err = time.Parse(time.RFC3339Nano, meta["timestamp"]); err != nil {
		return nil, mnerr.Wrap(err, mnerr.CodeSnapshotFormatInvalid, "parsing snapshot timestamp")
	}
	snap.Encrypted = meta["encrypted"] == "true"

	rows, err := s.db.QueryContext(ctx, `SELECT id, record FROM records`)
	if err != nil {
		return nil, mnerr.Wrap(err, mnerr.CodeSnapshotLoadFailure, "querying records")
	}
	defer rows.Close()

	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, mnerr.Wrap(err, mnerr.CodeSnapshotLoadFailure, "scanning record row")
		}
		var rec store.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, mnerr.Wrap(err, mnerr.CodeSnapshotFormatInvalid, "parsing stored record",
				mnerr.FieldRecordID(id))
		}
		snap.Records[id] = &rec
	}
	if err := rows.Err(); err != nil {
		return nil, mnerr.Wrap(err, mnerr.CodeSnapshotLoadFailure, "iterating record rows")
	}

	return snap, nil
}

func (s *SnapshotStore) loadMeta(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM snapshot_meta`)
	if err != nil {
		return nil, mnerr.Wrap(err, mnerr.CodeSnapshotLoadFailure, "querying snapshot metadata")
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, mnerr.Wrap(err, mnerr.CodeSnapshotLoadFailure, "scanning metadata row")
		}
		meta[key] = value
	}
	return meta, rows.Err()
}

func (s *SnapshotStore) Path() string { return s.path }

func (s *SnapshotStore) Close() error { return s.db.Close() }
