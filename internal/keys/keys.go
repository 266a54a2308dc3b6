// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemos Contributors

// Package keys persists encryption key material for the store's
// encryption gate. Implementations may use the OS keyring or a
// permission-restricted file in the data directory.
package keys

import (
	"crypto/rand"
	"time"

	mnerr "github.com/mnemos-dev/mnemos/pkg/errors"
)

// KeySize is the symmetric key length in bytes.
const KeySize = 32

// Material holds the current key, at most one previous key retained for
// decrypting records written before the last rotation, and the current
// key's creation time (which drives rotation).
type Material struct {
	Current   []byte    `json:"current"`
	Previous  []byte    `json:"previous,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists key material.
type Store interface {
	// Save writes the material, replacing any prior state.
	Save(m Material) error

	// Load reads the material. Returns an error with code
	// CodeKeysNotFound when none has been saved yet.
	Load() (Material, error)
}

// NewKey generates a fresh random symmetric key.
func NewKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, mnerr.Wrap(err, mnerr.CodeKeysStoreFailure, "generating key material")
	}
	return key, nil
}

// Validate checks material invariants before save.
func (m Material) Validate() error {
	if len(m.Current) != KeySize {
		return mnerr.Errorf(mnerr.CodeKeysInvalidInput, "current key must be %d bytes, got %d", KeySize, len(m.Current))
	}
	if m.Previous != nil && len(m.Previous) != KeySize {
		return mnerr.Errorf(mnerr.CodeKeysInvalidInput, "previous key must be %d bytes, got %d", KeySize, len(m.Previous))
	}
	if m.CreatedAt.IsZero() {
		return mnerr.New(mnerr.CodeKeysInvalidInput, "key material missing creation time")
	}
	return nil
}
