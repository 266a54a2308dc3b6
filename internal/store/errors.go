// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemos Contributors

package store

import "errors"

// Sentinel errors for store operations.
// These errors can be checked using errors.Is() for classification; the
// returned errors additionally carry a pkg/errors code for structured
// handling by external collaborators.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput indicates the input parameters are invalid or malformed.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSnapshotMissing indicates no snapshot exists at the configured
	// location. Loading a fresh store is not a failure.
	ErrSnapshotMissing = errors.New("snapshot missing")
)
