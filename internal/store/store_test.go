// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemos Contributors

package store_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemos-dev/mnemos/internal/store"
	"github.com/mnemos-dev/mnemos/internal/store/file"
	mnerr "github.com/mnemos-dev/mnemos/pkg/errors"
)

// testClock is a manually advanced clock shared by a store under test.
type testClock struct {
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestStore(t *testing.T, opts store.Options, gate *store.EncryptionGate) *store.Store {
	t.Helper()
	return store.New(opts, gate, nil)
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t, store.Options{}, nil)

	id, err := s.Put(store.Payload{"type": "note", "content": "hello"}, []string{"Work", "work", ""})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, "hello", rec.Payload["content"])
	assert.Equal(t, []string{"work"}, rec.Tags)
	assert.Equal(t, 1, rec.AccessCount)
	assert.False(t, rec.LastAccessedAt.IsZero())
}

func TestGetReturnsDeepCopy(t *testing.T) {
	s := newTestStore(t, store.Options{}, nil)

	id, err := s.Put(store.Payload{
		"content": "nested",
		"meta":    map[string]any{"project": "atlas"},
		"links":   []any{"a", "b"},
	}, nil)
	require.NoError(t, err)

	rec, err := s.Get(id)
	require.NoError(t, err)
	rec.Payload["meta"].(map[string]any)["project"] = "mutated"
	rec.Payload["links"].([]any)[0] = "mutated"
	rec.Tags = append(rec.Tags, "mutated")

	fresh, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "atlas", fresh.Payload["meta"].(map[string]any)["project"])
	assert.Equal(t, "a", fresh.Payload["links"].([]any)[0])
	assert.Empty(t, fresh.Tags)
}

func TestGetUnknownID(t *testing.T) {
	s := newTestStore(t, store.Options{}, nil)

	_, err := s.Get("missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNotFound))
	assert.True(t, mnerr.IsNotFound(err))
}

func TestGetRefreshesAccessMetadata(t *testing.T) {
	clock := newTestClock()
	s := newTestStore(t, store.Options{Clock: clock.Now}, nil)

	id, err := s.Put(store.Payload{"content": "counted"}, nil)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	rec, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.AccessCount)
	assert.Equal(t, clock.Now(), rec.LastAccessedAt)

	rec, err = s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.AccessCount)
}

func TestGetReturnsCopies(t *testing.T) {
	s := newTestStore(t, store.Options{}, nil)

	id, err := s.Put(store.Payload{"content": "original"}, []string{"work"})
	require.NoError(t, err)

	rec, err := s.Get(id)
	require.NoError(t, err)
	rec.Payload["content"] = "mutated"
	rec.Tags[0] = "mutated"

	again, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "original", again.Payload["content"])
	assert.Equal(t, []string{"work"}, again.Tags)
}

func TestGetIgnoresExpiry(t *testing.T) {
	clock := newTestClock()
	s := newTestStore(t, store.Options{Clock: clock.Now}, nil)

	id, err := s.Put(store.Payload{"content": "short lived"}, nil, store.WithTTL(time.Minute))
	require.NoError(t, err)

	clock.Advance(time.Hour)

	// Direct retrieval still succeeds for a logically expired record;
	// only queries and the prune honor expiry.
	rec, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "short lived", rec.Payload["content"])

	results, err := s.Search("lived", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestUpdatePreservesIdentityAndTags(t *testing.T) {
	s := newTestStore(t, store.Options{}, nil)

	id, err := s.Put(store.Payload{"content": "before"}, []string{"work"})
	require.NoError(t, err)

	require.NoError(t, s.Update(id, store.Payload{"content": "after"}))

	rec, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "after", rec.Payload["content"])
	assert.Equal(t, []string{"work"}, rec.Tags)

	// Search follows the new payload.
	results, err := s.Search("after", nil, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	results, err = s.Search("before", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, results)

	assert.True(t, mnerr.IsNotFound(s.Update("missing", store.Payload{})))
}

func TestDeleteIsNotIdempotent(t *testing.T) {
	s := newTestStore(t, store.Options{}, nil)

	id, err := s.Put(store.Payload{"content": "doomed"}, []string{"work"})
	require.NoError(t, err)

	require.NoError(t, s.Delete(id))
	assert.Equal(t, 0, s.Count())

	err = s.Delete(id)
	require.Error(t, err)
	assert.True(t, mnerr.IsNotFound(err))

	// Indices hold no trace.
	require.NoError(t, s.VerifyIntegrity())
	results, err := s.ByTags([]string{"work"}, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestAddRemoveTags(t *testing.T) {
	s := newTestStore(t, store.Options{}, nil)

	id, err := s.Put(store.Payload{"content": "tagged"}, []string{"work"})
	require.NoError(t, err)

	require.NoError(t, s.AddTags(id, []string{"urgent", "Work"}))
	tags, err := s.TagsOf(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"urgent", "work"}, tags)

	require.NoError(t, s.RemoveTags(id, []string{"work"}))
	tags, err = s.TagsOf(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"urgent"}, tags)

	assert.True(t, mnerr.IsNotFound(s.AddTags("missing", []string{"x"})))
	assert.True(t, mnerr.IsNotFound(s.RemoveTags("missing", []string{"x"})))
}

func TestSearchByQueryAndTags(t *testing.T) {
	s := newTestStore(t, store.Options{}, nil)

	_, err := s.Put(store.Payload{"content": "quarterly budget review"}, []string{"work:finance"})
	require.NoError(t, err)
	id2, err := s.Put(store.Payload{"content": "budget for vacation"}, []string{"personal"})
	require.NoError(t, err)
	_, err = s.Put(store.Payload{"content": "team standup notes"}, []string{"work"})
	require.NoError(t, err)

	// Query only.
	results, err := s.Search("budget", nil, 0)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	// Query plus tag filter, hierarchical.
	results, err = s.Search("budget", []string{"work"}, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "quarterly budget review", results[0].Payload["content"])

	// Tag filter with no query considers every record.
	results, err = s.Search("", []string{"personal"}, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id2, results[0].ID)

	// Unknown tag yields empty, not error.
	results, err = s.Search("budget", []string{"missing"}, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchLimit(t *testing.T) {
	s := newTestStore(t, store.Options{}, nil)

	for i := 0; i < 15; i++ {
		_, err := s.Put(store.Payload{"content": "common token"}, nil)
		require.NoError(t, err)
	}

	results, err := s.Search("common", nil, 0)
	require.NoError(t, err)
	assert.Len(t, results, store.DefaultLimit)

	results, err = s.Search("common", nil, 3)
	require.NoError(t, err)
	assert.Len(t, results, 3)

	_, err = s.Search("common", nil, -1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrInvalidInput))
}

func TestSearchRefreshesOnlyReturnedRecords(t *testing.T) {
	clock := newTestClock()
	s := newTestStore(t, store.Options{Clock: clock.Now}, nil)

	first, err := s.Put(store.Payload{"content": "shared token"}, nil)
	require.NoError(t, err)
	second, err := s.Put(store.Payload{"content": "shared token"}, nil)
	require.NoError(t, err)

	results, err := s.Search("shared", nil, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, first, results[0].ID)
	assert.Equal(t, 1, results[0].AccessCount)

	// The record cut off by the limit was not touched.
	rec, err := s.Get(second)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.AccessCount)
}

func TestByTagsNewestFirst(t *testing.T) {
	clock := newTestClock()
	s := newTestStore(t, store.Options{Clock: clock.Now}, nil)

	older, err := s.Put(store.Payload{"content": "one"}, []string{"work"})
	require.NoError(t, err)
	clock.Advance(time.Minute)
	newer, err := s.Put(store.Payload{"content": "two"}, []string{"work"})
	require.NoError(t, err)

	results, err := s.ByTags([]string{"work"}, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, newer, results[0].ID)
	assert.Equal(t, older, results[1].ID)
}

func TestRecentDoesNotTouch(t *testing.T) {
	clock := newTestClock()
	s := newTestStore(t, store.Options{Clock: clock.Now}, nil)

	id, err := s.Put(store.Payload{"content": "listed"}, nil)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = s.Put(store.Payload{"content": "newer"}, nil)
	require.NoError(t, err)

	results, err := s.Recent(0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "newer", results[0].Payload["content"])

	rec, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.AccessCount, "listing must not count as access")
}

func TestCapacityEvictsLeastImportant(t *testing.T) {
	clock := newTestClock()
	s := newTestStore(t, store.Options{MaxRecords: 2, Clock: clock.Now}, nil)

	stale, err := s.Put(store.Payload{"content": "stale"}, nil)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	hot, err := s.Put(store.Payload{"content": "hot"}, nil)
	require.NoError(t, err)

	// Reads raise importance.
	_, err = s.Get(hot)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = s.Put(store.Payload{"content": "third"}, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, s.Count())
	_, err = s.Get(stale)
	assert.True(t, mnerr.IsNotFound(err), "never-read oldest record is evicted first")
	_, err = s.Get(hot)
	assert.NoError(t, err)
}

func TestSweepRemovesExpired(t *testing.T) {
	clock := newTestClock()
	s := newTestStore(t, store.Options{Clock: clock.Now}, nil)

	_, err := s.Put(store.Payload{"content": "short"}, nil, store.WithTTL(time.Minute))
	require.NoError(t, err)
	keep, err := s.Put(store.Payload{"content": "long"}, nil)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 1, s.Count())

	_, err = s.Get(keep)
	assert.NoError(t, err)
	require.NoError(t, s.VerifyIntegrity())
}

func TestPutWithExpiresAt(t *testing.T) {
	clock := newTestClock()
	s := newTestStore(t, store.Options{Clock: clock.Now}, nil)

	deadline := clock.Now().Add(30 * time.Minute)
	id, err := s.Put(store.Payload{"content": "pinned"}, nil, store.WithExpiresAt(deadline))
	require.NoError(t, err)

	rec, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, deadline, rec.ExpiresAt)
}

func TestEncryptionGating(t *testing.T) {
	gate := newTestGate(t, nil)
	s := newTestStore(t, store.Options{}, gate)

	plain, err := s.Put(store.Payload{"content": "public note"}, []string{"work"})
	require.NoError(t, err)
	sealed, err := s.Put(store.Payload{"content": "medical history"}, []string{"personal:health"})
	require.NoError(t, err)

	plainRec, err := s.Get(plain)
	require.NoError(t, err)
	assert.False(t, plainRec.Encrypted)

	sealedRec, err := s.Get(sealed)
	require.NoError(t, err)
	assert.True(t, sealedRec.Encrypted)
	assert.Equal(t, "medical history", sealedRec.Payload["content"], "reads decrypt transparently")

	// Token search still reaches the sealed record.
	results, err := s.Search("medical", nil, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, sealed, results[0].ID)
}

func TestAddSensitiveTagSealsRecord(t *testing.T) {
	gate := newTestGate(t, nil)
	s := newTestStore(t, store.Options{}, gate)

	id, err := s.Put(store.Payload{"content": "was public"}, []string{"work"})
	require.NoError(t, err)

	require.NoError(t, s.AddTags(id, []string{"personal"}))

	rec, err := s.Get(id)
	require.NoError(t, err)
	assert.True(t, rec.Encrypted)
	assert.Equal(t, "was public", rec.Payload["content"])
}

func TestAddSensitiveTagFailedSealLeavesRecordUntouched(t *testing.T) {
	gate := newTestGate(t, nil)
	s := newTestStore(t, store.Options{}, gate)

	// NaN makes the payload unserializable, so sealing it must fail.
	id, err := s.Put(store.Payload{"content": "plain", "metric": math.NaN()}, []string{"work"})
	require.NoError(t, err)

	err = s.AddTags(id, []string{"personal"})
	require.Error(t, err)
	assert.True(t, mnerr.HasCode(err, mnerr.CodeStoreEncryptFailure))

	// The sensitive tag must not stick to a record that stayed plaintext.
	tags, err := s.TagsOf(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"work"}, tags)

	rec, err := s.Get(id)
	require.NoError(t, err)
	assert.False(t, rec.Encrypted)
	assert.Equal(t, "plain", rec.Payload["content"])
}

func TestRemoveSensitiveTagKeepsRecordSealed(t *testing.T) {
	gate := newTestGate(t, nil)
	s := newTestStore(t, store.Options{}, gate)

	id, err := s.Put(store.Payload{"content": "sealed once"}, []string{"personal", "work"})
	require.NoError(t, err)

	require.NoError(t, s.RemoveTags(id, []string{"personal"}))

	rec, err := s.Get(id)
	require.NoError(t, err)
	assert.True(t, rec.Encrypted, "the encrypted flag never downgrades on tag removal")
	assert.Equal(t, "sealed once", rec.Payload["content"])
}

func TestStats(t *testing.T) {
	clock := newTestClock()
	s := newTestStore(t, store.Options{Clock: clock.Now}, nil)

	_, err := s.Put(store.Payload{"type": "note", "content": "a"}, []string{"work"})
	require.NoError(t, err)
	_, err = s.Put(store.Payload{"type": "note", "content": "b"}, []string{"work:project"})
	require.NoError(t, err)
	_, err = s.Put(store.Payload{"content": "untyped"}, nil, store.WithTTL(time.Minute))
	require.NoError(t, err)

	clock.Advance(time.Hour)

	stats := s.Stats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Active)
	assert.Equal(t, 1, stats.Expired)
	assert.Equal(t, 2, stats.TypeCounts["note"])
	assert.Equal(t, 2, stats.TagCounts["work"])
	assert.Equal(t, 1, stats.TagCounts["work:project"])
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend, err := file.New(t.TempDir())
	require.NoError(t, err)

	s := store.New(store.Options{}, nil, backend)
	id, err := s.Put(store.Payload{"type": "note", "content": "durable"}, []string{"work:project"})
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx))

	restored := store.New(store.Options{}, nil, backend)
	require.NoError(t, restored.Load(ctx))

	rec, err := restored.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "durable", rec.Payload["content"])
	assert.Equal(t, []string{"work:project"}, rec.Tags)

	// Both indices are rebuilt.
	results, err := restored.Search("durable", []string{"work"}, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, restored.VerifyIntegrity())
}

func TestLoadMissingSnapshotIsNotAnError(t *testing.T) {
	backend, err := file.New(t.TempDir())
	require.NoError(t, err)

	s := store.New(store.Options{}, nil, backend)
	require.NoError(t, s.Load(context.Background()))
	assert.Equal(t, 0, s.Count())
}

func TestLoadEncryptsPlaintextSnapshotWhenGateComesOn(t *testing.T) {
	ctx := context.Background()
	backend, err := file.New(t.TempDir())
	require.NoError(t, err)

	plain := store.New(store.Options{}, nil, backend)
	id, err := plain.Put(store.Payload{"content": "now sensitive"}, []string{"personal"})
	require.NoError(t, err)
	require.NoError(t, plain.Save(ctx))

	gate := newTestGate(t, nil)
	secured := store.New(store.Options{}, gate, backend)
	require.NoError(t, secured.Load(ctx))

	rec, err := secured.Get(id)
	require.NoError(t, err)
	assert.True(t, rec.Encrypted, "sensitive plaintext records are sealed by the bulk migration pass")
	assert.Equal(t, "now sensitive", rec.Payload["content"])
}

func TestEncryptedSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	backend, err := file.New(dir)
	require.NoError(t, err)

	gate := newTestGate(t, nil)
	s := store.New(store.Options{}, gate, backend)
	id, err := s.Put(store.Payload{"content": "sealed at rest"}, []string{"personal"})
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx))

	// Same gate instance: same key material.
	restored := store.New(store.Options{}, gate, backend)
	require.NoError(t, restored.Load(ctx))

	rec, err := restored.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "sealed at rest", rec.Payload["content"])

	results, err := restored.Search("sealed", nil, 0)
	require.NoError(t, err)
	assert.Len(t, results, 1, "token index is rebuilt from decrypted payloads")
}
