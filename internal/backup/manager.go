// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemos Contributors

// Package backup copies the snapshot file into timestamped gzip archives
// and rotates old ones out.
package backup

import (
	"compress/gzip"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	mnerr "github.com/mnemos-dev/mnemos/pkg/errors"
)

const (
	defaultMaxBackups = 5
	defaultInterval   = 30 * time.Minute

	// timeLayout produces names that sort lexicographically by creation time.
	timeLayout = "20060102-150405"
)

// Options configures a Manager.
type Options struct {
	// SourcePath is the snapshot file to back up.
	SourcePath string

	// Dir receives the archives. Created on first use.
	Dir string

	// MaxBackups is how many archives to retain. Defaults to 5.
	MaxBackups int

	// Interval between automatic backups when running the loop.
	// Defaults to 30 minutes.
	Interval time.Duration

	Logger *slog.Logger

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Manager creates, lists, rotates, and restores snapshot backups.
type Manager struct {
	src        string
	dir        string
	maxBackups int
	interval   time.Duration
	logger     *slog.Logger
	clock      func() time.Time
}

// New validates options and returns a Manager.
func New(opts Options) (*Manager, error) {
	if opts.SourcePath == "" {
		return nil, mnerr.New(mnerr.CodeBackupCreateFailure, "backup source path is required")
	}
	if opts.Dir == "" {
		return nil, mnerr.New(mnerr.CodeBackupCreateFailure, "backup directory is required")
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = defaultMaxBackups
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Manager{
		src:        opts.SourcePath,
		dir:        opts.Dir,
		maxBackups: opts.MaxBackups,
		interval:   opts.Interval,
		logger:     opts.Logger,
		clock:      opts.Clock,
	}, nil
}

// Create writes a gzip archive of the source file and prunes archives
// beyond the retention count. Returns the archive path.
func (m *Manager) Create() (string, error) {
	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return "", mnerr.Wrap(err, mnerr.CodeBackupCreateFailure, "creating backup directory", mnerr.FieldPath(m.dir))
	}

	src, err := os.Open(m.src)
	if err != nil {
		if os.IsNotExist(err) {
			return "", mnerr.Wrap(err, mnerr.CodeBackupCreateFailure, "nothing to back up", mnerr.FieldPath(m.src))
		}
		return "", mnerr.Wrap(err, mnerr.CodeBackupCreateFailure, "opening source", mnerr.FieldPath(m.src))
	}
	defer src.Close()

	base := filepath.Base(m.src)
	name := base + "." + m.clock().UTC().Format(timeLayout) + ".gz"
	path := filepath.Join(m.dir, name)

	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", mnerr.Wrap(err, mnerr.CodeBackupCreateFailure, "creating archive", mnerr.FieldPath(path))
	}

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		out.Close()
		os.Remove(path)
		return "", mnerr.Wrap(err, mnerr.CodeBackupCreateFailure, "compressing snapshot", mnerr.FieldPath(path))
	}
	if err := gz.Close(); err != nil {
		out.Close()
		os.Remove(path)
		return "", mnerr.Wrap(err, mnerr.CodeBackupCreateFailure, "finalizing archive", mnerr.FieldPath(path))
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", mnerr.Wrap(err, mnerr.CodeBackupCreateFailure, "closing archive", mnerr.FieldPath(path))
	}

	pruned, err := m.prune()
	if err != nil {
		m.logger.Warn("backup rotation failed", "error", err)
	}

	m.logger.Info("created backup", "path", path, "rotated_out", pruned)
	return path, nil
}

// List returns archive paths, newest first.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, mnerr.Wrap(err, mnerr.CodeBackupNotFound, "reading backup directory", mnerr.FieldPath(m.dir))
	}

	prefix := filepath.Base(m.src) + "."
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), prefix) && strings.HasSuffix(e.Name(), ".gz") {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(m.dir, n)
	}
	return paths, nil
}

// RestoreLatest decompresses the newest archive over the source path.
// The write goes through a temp file and rename, so a failed restore
// leaves the current snapshot in place.
func (m *Manager) RestoreLatest() (string, error) {
	backups, err := m.List()
	if err != nil {
		return "", err
	}
	if len(backups) == 0 {
		return "", mnerr.New(mnerr.CodeBackupNotFound, "no backups to restore", mnerr.FieldPath(m.dir))
	}
	return backups[0], m.Restore(backups[0])
}

// Restore decompresses the given archive over the source path.
func (m *Manager) Restore(archive string) error {
	in, err := os.Open(archive)
	if err != nil {
		return mnerr.Wrap(err, mnerr.CodeBackupRestoreFailure, "opening archive", mnerr.FieldPath(archive))
	}
	defer in.Close()

	gz, err := gzip.NewReader(in)
	if err != nil {
		return mnerr.Wrap(err, mnerr.CodeBackupRestoreFailure, "reading archive", mnerr.FieldPath(archive))
	}
	defer gz.Close()

	tmp, err := os.CreateTemp(filepath.Dir(m.src), ".restore-*")
	if err != nil {
		return mnerr.Wrap(err, mnerr.CodeBackupRestoreFailure, "creating temp file", mnerr.FieldPath(m.src))
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, gz); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return mnerr.Wrap(err, mnerr.CodeBackupRestoreFailure, "decompressing archive", mnerr.FieldPath(archive))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return mnerr.Wrap(err, mnerr.CodeBackupRestoreFailure, "closing temp file", mnerr.FieldPath(tmpName))
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return mnerr.Wrap(err, mnerr.CodeBackupRestoreFailure, "setting permissions", mnerr.FieldPath(tmpName))
	}
	if err := os.Rename(tmpName, m.src); err != nil {
		os.Remove(tmpName)
		return mnerr.Wrap(err, mnerr.CodeBackupRestoreFailure, "replacing snapshot", mnerr.FieldPath(m.src))
	}

	m.logger.Info("restored backup", "archive", archive, "target", m.src)
	return nil
}

// prune removes archives beyond the retention count, oldest first.
// Returns the number removed.
func (m *Manager) prune() (int, error) {
	backups, err := m.List()
	if err != nil {
		return 0, err
	}
	if len(backups) <= m.maxBackups {
		return 0, nil
	}

	removed := 0
	for _, path := range backups[m.maxBackups:] {
		if err := os.Remove(path); err != nil {
			return removed, mnerr.Wrap(err, mnerr.CodeBackupCreateFailure, "removing old archive", mnerr.FieldPath(path))
		}
		removed++
	}
	return removed, nil
}

// Run creates a backup on each interval tick until the context ends.
// Errors are logged and the loop continues; a missing source (nothing
// saved yet) is not worth reporting.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("backup loop started", "interval", m.interval, "dir", m.dir)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("backup loop stopped")
			return
		case <-ticker.C:
			if _, err := m.Create(); err != nil {
				if _, statErr := os.Stat(m.src); os.IsNotExist(statErr) {
					continue
				}
				m.logger.Error("periodic backup failed", "error", err)
			}
		}
	}
}
