// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemos Contributors

package keys

import (
	"encoding/json"
	"errors"

	"github.com/zalando/go-keyring"

	mnerr "github.com/mnemos-dev/mnemos/pkg/errors"
)

// materialKey is the keyring entry name under which the JSON-encoded
// material document is stored.
const materialKey = "key-material"

// KeyringStore persists key material in the OS keyring via
// zalando/go-keyring. On macOS it uses Keychain, on Linux secret-service
// (D-Bus), and on Windows the Credential Manager.
type KeyringStore struct {
	service string
}

// NewKeyringStore returns a KeyringStore scoped to the given service name
// (typically "mnemos").
func NewKeyringStore(service string) (*KeyringStore, error) {
	if service == "" {
		return nil, mnerr.New(mnerr.CodeKeysInvalidInput, "keyring: service must not be empty")
	}
	return &KeyringStore{service: service}, nil
}

func (s *KeyringStore) Save(m Material) error {
	if err := m.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(m)
	if err != nil {
		return mnerr.Wrap(err, mnerr.CodeKeysStoreFailure, "encoding key material")
	}

	if err := keyring.Set(s.service, materialKey, string(data)); err != nil {
		return mnerr.Wrapf(err, mnerr.CodeKeysStoreFailure, "storing key material for service %s", s.service)
	}
	return nil
}

func (s *KeyringStore) Load() (Material, error) {
	raw, err := keyring.Get(s.service, materialKey)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return Material{}, mnerr.Errorf(mnerr.CodeKeysNotFound, "no key material for service %s", s.service)
		}
		return Material{}, mnerr.Wrapf(err, mnerr.CodeKeysLoadFailure, "retrieving key material for service %s", s.service)
	}

	var m Material
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Material{}, mnerr.Wrapf(err, mnerr.CodeKeysLoadFailure, "decoding key material for service %s", s.service)
	}
	return m, nil
}
