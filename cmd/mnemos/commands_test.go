// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemos Contributors

package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetFlow(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := runCLI(t, "put", `{"type":"note","content":"remember the milk"}`, "--tag", "errand", "--config", cfg)
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	require.NotEmpty(t, id)

	out, err = runCLI(t, "get", id, "--config", cfg)
	require.NoError(t, err)

	var rec struct {
		ID      string         `json:"id"`
		Payload map[string]any `json:"payload"`
		Tags    []string       `json:"tags"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, "remember the milk", rec.Payload["content"])
	assert.Equal(t, []string{"errand"}, rec.Tags)
}

func TestPutRejectsBadPayload(t *testing.T) {
	cfg := writeTestConfig(t)

	_, err := runCLI(t, "put", `{not json`, "--config", cfg)
	assert.Error(t, err)

	_, err = runCLI(t, "put", "--config", cfg)
	assert.Error(t, err, "payload argument or --file is required")
}

func TestSearchCommand(t *testing.T) {
	cfg := writeTestConfig(t)

	_, err := runCLI(t, "put", `{"content":"quarterly budget review"}`, "--tag", "work", "--config", cfg)
	require.NoError(t, err)
	_, err = runCLI(t, "put", `{"content":"weekend hiking plan"}`, "--config", cfg)
	require.NoError(t, err)

	out, err := runCLI(t, "search", "budget", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "quarterly budget review")
	assert.NotContains(t, out, "hiking")

	out, err = runCLI(t, "search", "--tag", "work", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "quarterly budget review")
}

func TestEncryptedRecordSurvivesRestart(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := runCLI(t, "put", `{"content":"blood type AB"}`, "--tag", "personal:health", "--config", cfg)
	require.NoError(t, err)
	id := strings.TrimSpace(out)

	// A separate invocation re-reads key material from the file store.
	out, err = runCLI(t, "get", id, "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "blood type AB")
	assert.Contains(t, out, `"encrypted": true`)
}

func TestDeleteCommand(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := runCLI(t, "put", `{"content":"ephemeral"}`, "--config", cfg)
	require.NoError(t, err)
	id := strings.TrimSpace(out)

	_, err = runCLI(t, "delete", id, "--config", cfg)
	require.NoError(t, err)

	_, err = runCLI(t, "get", id, "--config", cfg)
	assert.Error(t, err)
}

func TestTagCommands(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := runCLI(t, "put", `{"content":"taggable"}`, "--tag", "one", "--config", cfg)
	require.NoError(t, err)
	id := strings.TrimSpace(out)

	out, err = runCLI(t, "tag", "add", id, "two", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "one, two")

	out, err = runCLI(t, "tag", "remove", id, "one", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "[two]")
}

func TestStatsCommand(t *testing.T) {
	cfg := writeTestConfig(t)

	_, err := runCLI(t, "put", `{"type":"note","content":"counted"}`, "--tag", "work", "--config", cfg)
	require.NoError(t, err)

	out, err := runCLI(t, "stats", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "1 total")
	assert.Contains(t, out, "note")
	assert.Contains(t, out, "work")
}

func TestSweepCommand(t *testing.T) {
	cfg := writeTestConfig(t)

	_, err := runCLI(t, "put", `{"content":"short lived"}`, "--ttl", "1ns", "--config", cfg)
	require.NoError(t, err)

	out, err := runCLI(t, "sweep", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "removed 1 record(s)")
}

func TestBackupCreateAndList(t *testing.T) {
	cfg := writeTestConfig(t)

	_, err := runCLI(t, "put", `{"content":"backed up"}`, "--config", cfg)
	require.NoError(t, err)

	out, err := runCLI(t, "backup", "create", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, ".gz")

	out, err = runCLI(t, "backup", "list", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, ".gz")
}

func TestDoctorCommand(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := runCLI(t, "doctor", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Binary:")
	assert.Contains(t, out, "Config:")
	assert.Contains(t, out, "Snapshot:")
	assert.Contains(t, out, "Encryption:")
}

func TestRecentCommand(t *testing.T) {
	cfg := writeTestConfig(t)

	_, err := runCLI(t, "put", `{"content":"first"}`, "--config", cfg)
	require.NoError(t, err)
	_, err = runCLI(t, "put", `{"content":"second"}`, "--config", cfg)
	require.NoError(t, err)

	out, err := runCLI(t, "recent", "-n", "1", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "second")
	assert.NotContains(t, out, "first")
}
