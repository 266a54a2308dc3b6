// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemos Contributors

package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemos-dev/mnemos/internal/store"
	mnerr "github.com/mnemos-dev/mnemos/pkg/errors"
)

func newTestGate(t *testing.T, clock func() time.Time) *store.EncryptionGate {
	t.Helper()
	gate, err := store.NewEncryptionGate(store.GateConfig{
		Enabled:       true,
		SensitiveTags: []string{"personal", "credentials"},
		Clock:         clock,
	}, nil)
	require.NoError(t, err)
	return gate
}

func TestGateShouldEncrypt(t *testing.T) {
	gate := newTestGate(t, nil)

	tests := []struct {
		name string
		tags []string
		want bool
	}{
		{"direct sensitive tag", []string{"personal"}, true},
		{"hierarchical child of sensitive", []string{"personal:health"}, true},
		{"deep child", []string{"personal:health:dental"}, true},
		{"case insensitive", []string{"PERSONAL"}, true},
		{"non-sensitive", []string{"work"}, false},
		{"substring is not a prefix level", []string{"personality"}, false},
		{"mixed set", []string{"work", "credentials:github"}, true},
		{"no tags", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, gate.ShouldEncrypt(tt.tags))
		})
	}
}

func TestGateDisabledNeverEncrypts(t *testing.T) {
	gate, err := store.NewEncryptionGate(store.GateConfig{
		Enabled:       false,
		SensitiveTags: []string{"personal"},
	}, nil)
	require.NoError(t, err)

	assert.False(t, gate.Enabled())
	assert.False(t, gate.ShouldEncrypt([]string{"personal"}))
}

func TestGateEncryptDecryptRoundTrip(t *testing.T) {
	gate := newTestGate(t, nil)

	payload := store.Payload{"type": "note", "content": "ssn is 123-45-6789"}
	blob, err := gate.Encrypt(payload)
	require.NoError(t, err)
	assert.NotContains(t, blob, "123-45-6789")

	got, err := gate.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, "note", got["type"])
	assert.Equal(t, "ssn is 123-45-6789", got["content"])
}

func TestGateDecryptWithPreviousKeyAfterRotation(t *testing.T) {
	gate := newTestGate(t, nil)

	blob, err := gate.Encrypt(store.Payload{"content": "sealed before rotation"})
	require.NoError(t, err)

	require.NoError(t, gate.Rotate())

	got, err := gate.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, "sealed before rotation", got["content"])
}

func TestGateDecryptFailsAfterTwoRotations(t *testing.T) {
	gate := newTestGate(t, nil)

	blob, err := gate.Encrypt(store.Payload{"content": "ancient"})
	require.NoError(t, err)

	require.NoError(t, gate.Rotate())
	require.NoError(t, gate.Rotate())

	_, err = gate.Decrypt(blob)
	require.Error(t, err)
	assert.True(t, mnerr.IsDecryptionFailure(err))
}

func TestGateDecryptRejectsGarbage(t *testing.T) {
	gate := newTestGate(t, nil)

	_, err := gate.Decrypt("not base64 at all!!!")
	require.Error(t, err)
	assert.True(t, mnerr.IsDecryptionFailure(err))

	_, err = gate.Decrypt("YWJj") // valid base64, shorter than a nonce
	require.Error(t, err)
	assert.True(t, mnerr.IsDecryptionFailure(err))
}

func TestGateRotatesWhenKeyAges(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	gate := newTestGate(t, clock)

	blob, err := gate.Encrypt(store.Payload{"content": "first key"})
	require.NoError(t, err)

	// Advance past the rotation period; the next encrypt rotates first.
	now = now.Add(store.DefaultRotationPeriod + time.Hour)
	_, err = gate.Encrypt(store.Payload{"content": "second key"})
	require.NoError(t, err)

	// The old blob still opens with the retained previous key.
	got, err := gate.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, "first key", got["content"])
}
