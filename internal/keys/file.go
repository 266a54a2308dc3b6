// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemos Contributors

package keys

import (
	"encoding/json"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	mnerr "github.com/mnemos-dev/mnemos/pkg/errors"
)

// FileStore persists key material as a 0600 JSON file, for systems
// without a usable OS keyring (headless servers, containers).
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore writing to path.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, mnerr.New(mnerr.CodeKeysInvalidInput, "key file: path must not be empty")
	}
	return &FileStore{path: path}, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Save(m Material) error {
	if err := m.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(m)
	if err != nil {
		return mnerr.Wrap(err, mnerr.CodeKeysStoreFailure, "encoding key material")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return mnerr.Wrapf(err, mnerr.CodeKeysStoreFailure, "creating key directory for %s", s.path)
	}

	// Write-then-rename so a crash never leaves a truncated key file.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return mnerr.Wrapf(err, mnerr.CodeKeysStoreFailure, "writing key file %s", tmp)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return mnerr.Wrapf(err, mnerr.CodeKeysStoreFailure, "replacing key file %s", s.path)
	}
	return nil
}

func (s *FileStore) Load() (Material, error) {
	warnInsecureKeyFile(s.path)

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Material{}, mnerr.Errorf(mnerr.CodeKeysNotFound, "no key file at %s", s.path)
		}
		return Material{}, mnerr.Wrapf(err, mnerr.CodeKeysLoadFailure, "reading key file %s", s.path)
	}

	var m Material
	if err := json.Unmarshal(raw, &m); err != nil {
		return Material{}, mnerr.Wrapf(err, mnerr.CodeKeysLoadFailure, "decoding key file %s", s.path)
	}
	return m, nil
}

// warnInsecureKeyFile alerts the operator when the key file is group- or
// world-readable. Best effort: it never fails the load.
func warnInsecureKeyFile(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}

	const groupRead fs.FileMode = 0o040
	const otherRead fs.FileMode = 0o004

	if info.Mode().Perm()&(groupRead|otherRead) != 0 {
		slog.Warn(
			"key file has insecure permissions — encryption keys may be exposed to other users",
			"path", path,
			"mode", info.Mode(),
			"recommended", "0600",
		)
	}
}
