// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemos Contributors

// Package store implements the tagged memory store: a capacity-bounded
// record table with hierarchical tag and token search indices, time- and
// importance-based retention, and selective at-rest encryption.
package store

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	mnerr "github.com/mnemos-dev/mnemos/pkg/errors"
)

// Store is the top-level facade. It exclusively owns all record instances;
// the tag and search indices hold identifiers only. A single RWMutex
// guards the record table and both indices, so index mutation, queries,
// and the two-phase prune observe a consistent view.
type Store struct {
	mu sync.RWMutex

	records map[string]*Record
	tags    *TagIndex
	search  *SearchIndex

	policy    RetentionPolicy
	gate      *EncryptionGate
	snapshots SnapshotStore

	logger *slog.Logger
	clock  func() time.Time
}

// New builds a Store. The gate may be nil for a store with no at-rest
// encryption; snapshots may be nil for a purely in-memory store (Save and
// Load then fail with a persistence error).
func New(opts Options, gate *EncryptionGate, snapshots SnapshotStore) *Store {
	if opts.MaxRecords <= 0 {
		opts.MaxRecords = defaultMaxRecords
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = defaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Store{
		records:   make(map[string]*Record),
		tags:      NewTagIndex(),
		search:    NewSearchIndex(),
		policy:    RetentionPolicy{MaxRecords: opts.MaxRecords, DefaultTTL: opts.DefaultTTL},
		gate:      gate,
		snapshots: snapshots,
		logger:    opts.Logger,
		clock:     opts.Clock,
	}
}

// PutOption customizes a single Put call.
type PutOption func(*putOptions)

type putOptions struct {
	ttl       time.Duration
	expiresAt time.Time
}

// WithTTL sets the record's expiry to now + d instead of the default
// retention period.
func WithTTL(d time.Duration) PutOption {
	return func(o *putOptions) { o.ttl = d }
}

// WithExpiresAt sets an explicit expiry timestamp.
func WithExpiresAt(t time.Time) PutOption {
	return func(o *putOptions) { o.expiresAt = t }
}

// Put stores a new record and returns its assigned id. Empty tag strings
// are ignored. The capacity check runs synchronously on this caller's
// path, so the record count is back under MaxRecords when Put returns.
func (s *Store) Put(payload Payload, tags []string, opts ...PutOption) (string, error) {
	var po putOptions
	for _, opt := range opts {
		opt(&po)
	}

	if payload == nil {
		payload = Payload{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	id := uuid.NewString()

	rec := &Record{
		ID:        id,
		CreatedAt: now,
		ExpiresAt: now.Add(s.policy.DefaultTTL),
	}
	if po.ttl > 0 {
		rec.ExpiresAt = now.Add(po.ttl)
	}
	if !po.expiresAt.IsZero() {
		rec.ExpiresAt = po.expiresAt
	}

	rec.Tags = s.tags.Add(id, tags)

	if s.gate != nil && s.gate.ShouldEncrypt(rec.Tags) {
		blob, err := s.gate.Encrypt(payload)
		if err != nil {
			s.tags.RemoveAll(id)
			return "", err
		}
		rec.Ciphertext = blob
		rec.Encrypted = true
	} else {
		rec.Payload = payload
	}

	s.records[id] = rec
	// Tokens always derive from the plaintext serialization, sealed or not.
	s.search.Index(id, payload)

	s.pruneLocked(now)

	s.logger.Debug("stored record", "id", id, "tags", rec.Tags, "encrypted", rec.Encrypted)
	return id, nil
}

// Get returns the record by id, decrypting the payload transparently.
// A successful read increments AccessCount and refreshes LastAccessedAt.
// Get does not check expiry: direct retrieval succeeds for logically
// expired records until they are physically pruned. This asymmetry with
// Search/ByTags is a deliberate compatibility choice.
func (s *Store) Get(id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, notFound(id)
	}

	out, err := s.readableLocked(rec)
	if err != nil {
		return nil, err
	}

	s.touchLocked(rec)
	out.AccessCount = rec.AccessCount
	out.LastAccessedAt = rec.LastAccessedAt
	return out, nil
}

// Update replaces the record's payload, re-running the encryption gate
// and re-indexing search tokens. Id, tags, and timestamps are preserved.
func (s *Store) Update(id string, payload Payload) error {
	if payload == nil {
		payload = Payload{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return notFound(id)
	}

	if s.gate != nil && s.gate.ShouldEncrypt(rec.Tags) {
		blob, err := s.gate.Encrypt(payload)
		if err != nil {
			return err
		}
		rec.Ciphertext = blob
		rec.Encrypted = true
		rec.Payload = nil
	} else {
		rec.Payload = payload
		rec.Ciphertext = ""
		rec.Encrypted = false
	}

	s.search.Index(id, payload)
	return nil
}

// Delete removes the record and every index entry referencing it.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return notFound(id)
	}

	s.deleteLocked(id)
	return nil
}

// AddTags adds tags to an existing record. If a newly added tag is
// sensitive, the payload is sealed before the tags are registered, so a
// failed seal leaves the record's tag set and plaintext state untouched.
func (s *Store) AddTags(id string, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return notFound(id)
	}

	combined := append(append([]string(nil), rec.Tags...), tags...)
	if s.gate != nil && !rec.Encrypted && s.gate.ShouldEncrypt(combined) {
		blob, err := s.gate.Encrypt(rec.Payload)
		if err != nil {
			return err
		}
		rec.Ciphertext = blob
		rec.Encrypted = true
		rec.Payload = nil
	}

	rec.Tags = s.tags.Add(id, tags)
	return nil
}

// RemoveTags removes tags from an existing record. A record sealed while
// sensitive stays sealed; the encrypted flag never downgrades.
func (s *Store) RemoveTags(id string, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return notFound(id)
	}

	rec.Tags = s.tags.Remove(id, tags)
	return nil
}

// Search ranks candidate records matching the query text, filtered to
// those holding ALL given tags (after hierarchical expansion) and not yet
// expired. Returned records get their access metadata refreshed. An empty
// query considers every record, in insertion order.
func (s *Store) Search(query string, tags []string, limit int) ([]*Record, error) {
	limit, err := effectiveLimit(limit)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []string
	if strings.TrimSpace(query) == "" {
		candidates = s.search.AllIDs()
	} else {
		candidates = s.search.Query(query)
	}

	var tagged map[string]struct{}
	if len(normalizeTags(tags)) > 0 {
		tagged = s.tags.IDsForAll(tags)
		if tagged == nil {
			return []*Record{}, nil
		}
	}

	return s.collectLocked(candidates, tagged, limit, true), nil
}

// ByTags returns non-expired records holding ALL the given tags, newest
// first, with access metadata refreshed.
func (s *Store) ByTags(tags []string, limit int) ([]*Record, error) {
	limit, err := effectiveLimit(limit)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.tags.IDsForAll(tags)
	if ids == nil {
		return []*Record{}, nil
	}

	ordered := make([]string, 0, len(ids))
	for id := range ids {
		ordered = append(ordered, id)
	}
	sort.Slice(ordered, func(i, j int) bool {
		ri, rj := s.records[ordered[i]], s.records[ordered[j]]
		if ri == nil || rj == nil {
			return rj == nil
		}
		if !ri.CreatedAt.Equal(rj.CreatedAt) {
			return ri.CreatedAt.After(rj.CreatedAt)
		}
		return ordered[i] < ordered[j]
	})

	return s.collectLocked(ordered, nil, limit, true), nil
}

// Recent returns non-expired records sorted by creation time descending.
// Listing is not a read: access metadata is left untouched.
func (s *Store) Recent(limit int) ([]*Record, error) {
	limit, err := effectiveLimit(limit)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ordered := make([]string, 0, len(s.records))
	for id := range s.records {
		ordered = append(ordered, id)
	}
	sort.Slice(ordered, func(i, j int) bool {
		ri, rj := s.records[ordered[i]], s.records[ordered[j]]
		if !ri.CreatedAt.Equal(rj.CreatedAt) {
			return ri.CreatedAt.After(rj.CreatedAt)
		}
		return ordered[i] < ordered[j]
	})

	return s.collectLocked(ordered, nil, limit, false), nil
}

// collectLocked walks candidate ids in order, keeping present, tag-matching,
// non-expired records up to limit. When touch is set, kept records get
// their access metadata refreshed.
func (s *Store) collectLocked(candidates []string, tagged map[string]struct{}, limit int, touch bool) []*Record {
	now := s.clock()
	out := make([]*Record, 0, limit)

	for _, id := range candidates {
		if len(out) >= limit {
			break
		}
		if tagged != nil {
			if _, ok := tagged[id]; !ok {
				continue
			}
		}
		rec, ok := s.records[id]
		if !ok {
			continue
		}
		if rec.Expired(now) {
			continue
		}

		readable, err := s.readableLocked(rec)
		if err != nil {
			// Record-level failure: skip it, never abort the query.
			s.logger.Warn("skipping unreadable record in query results", "id", id, "error", err)
			continue
		}

		if touch {
			s.touchLocked(rec)
			readable.AccessCount = rec.AccessCount
			readable.LastAccessedAt = rec.LastAccessedAt
		}
		out = append(out, readable)
	}

	return out
}

// readableLocked returns a caller-safe copy with the payload decrypted.
func (s *Store) readableLocked(rec *Record) (*Record, error) {
	out := rec.clone()
	if !rec.Encrypted {
		return out, nil
	}

	if s.gate == nil {
		return nil, mnerr.New(mnerr.CodeStoreDecryptFailure, "record is encrypted but no encryption gate is configured",
			mnerr.FieldRecordID(rec.ID))
	}
	payload, err := s.gate.Decrypt(rec.Ciphertext)
	if err != nil {
		return nil, mnerr.With(err, mnerr.FieldRecordID(rec.ID))
	}
	out.Payload = payload
	out.Ciphertext = ""
	return out, nil
}

func (s *Store) touchLocked(rec *Record) {
	rec.AccessCount++
	rec.LastAccessedAt = s.clock()
}

func (s *Store) deleteLocked(id string) {
	delete(s.records, id)
	s.tags.RemoveAll(id)
	s.search.Remove(id)
}

// Count returns the number of records currently stored, expired or not.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// TagsOf returns the record's current leaf tags.
func (s *Store) TagsOf(id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.records[id]; !ok {
		return nil, notFound(id)
	}
	return s.tags.Tags(id), nil
}

// Stats summarizes the store: totals, expiry split, per-type counts over
// active records, and per-tag counts (hierarchical levels included).
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock()
	stats := Stats{
		Total:      len(s.records),
		TypeCounts: make(map[string]int),
		TagCounts:  s.tags.Counts(),
	}

	for _, rec := range s.records {
		if rec.Expired(now) {
			stats.Expired++
			continue
		}
		stats.Active++

		typ := rec.Type()
		if rec.Encrypted && s.gate != nil {
			if payload, err := s.gate.Decrypt(rec.Ciphertext); err == nil {
				typ = (&Record{Payload: payload}).Type()
			}
		}
		stats.TypeCounts[typ]++
	}

	return stats
}

// Save persists the full record table through the snapshot backend. The
// store's exclusive lock is held for the duration, serializing persistence
// against mutation.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapshots == nil {
		return mnerr.New(mnerr.CodeSnapshotSaveFailure, "no snapshot backend configured")
	}

	records := make(map[string]*Record, len(s.records))
	for id, rec := range s.records {
		records[id] = rec.clone()
	}

	snap := &Snapshot{
		Version:   SnapshotVersion,
		Timestamp: s.clock(),
		Encrypted: s.gate != nil && s.gate.Enabled(),
		Records:   records,
	}

	if err := s.snapshots.Save(ctx, snap); err != nil {
		return err
	}

	s.logger.Info("saved snapshot", "records", len(records), "path", s.snapshots.Path())
	return nil
}

// Load replaces the in-memory state from the snapshot backend and rebuilds
// both indices. A missing snapshot leaves the store empty and is not an
// error. On any load failure the in-memory state is untouched: partial
// snapshots are rejected wholesale, never merged.
//
// When the snapshot's encrypted flag mismatches the live gate
// configuration, a one-time bulk migration pass runs over all loaded
// records before the store becomes available for queries.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapshots == nil {
		return mnerr.New(mnerr.CodeSnapshotLoadFailure, "no snapshot backend configured")
	}

	snap, err := s.snapshots.Load(ctx)
	if err != nil {
		if mnerr.IsNotFound(err) {
			s.logger.Debug("no snapshot to load", "path", s.snapshots.Path())
			return nil
		}
		return err
	}

	if snap.Version != SnapshotVersion {
		return mnerr.Errorf(mnerr.CodeSnapshotFormatInvalid, "unsupported snapshot version %d", snap.Version)
	}

	records := make(map[string]*Record, len(snap.Records))
	for id, rec := range snap.Records {
		if rec == nil || id == "" {
			return mnerr.New(mnerr.CodeSnapshotFormatInvalid, "snapshot contains an empty record entry")
		}
		rec.ID = id
		rec.Tags = normalizeTags(rec.Tags)
		records[id] = rec
	}

	gateEnabled := s.gate != nil && s.gate.Enabled()
	if snap.Encrypted != gateEnabled {
		s.migrateEncryption(records, gateEnabled)
	}

	s.records = records
	s.rebuildLocked()

	s.logger.Info("loaded snapshot",
		"records", len(records),
		"snapshot_time", snap.Timestamp,
		"path", s.snapshots.Path(),
	)
	return nil
}

// migrateEncryption runs the bulk pass reconciling loaded records with the
// live gate configuration: sealing newly sensitive plaintext when the gate
// came on, or opening sealed records when it went off. Records that fail
// to open stay sealed and unreadable until a correct key is available.
func (s *Store) migrateEncryption(records map[string]*Record, gateEnabled bool) {
	migrated := 0
	for id, rec := range records {
		switch {
		case gateEnabled && !rec.Encrypted && s.gate.ShouldEncrypt(rec.Tags):
			blob, err := s.gate.Encrypt(rec.Payload)
			if err != nil {
				s.logger.Warn("bulk encryption pass failed for record", "id", id, "error", err)
				continue
			}
			rec.Ciphertext = blob
			rec.Encrypted = true
			rec.Payload = nil
			migrated++

		case !gateEnabled && rec.Encrypted && s.gate != nil:
			payload, err := s.gate.Decrypt(rec.Ciphertext)
			if err != nil {
				s.logger.Warn("bulk decryption pass failed for record", "id", id, "error", err)
				continue
			}
			rec.Payload = payload
			rec.Ciphertext = ""
			rec.Encrypted = false
			migrated++
		}
	}

	if migrated > 0 {
		s.logger.Info("migrated records after encryption flag change",
			"migrated", migrated, "encryption_enabled", gateEnabled)
	}
}

// RebuildIndexes discards and reconstructs both indices from the record
// table. This is the repair path for any internal inconsistency: index
// state is never patched around at read time.
func (s *Store) RebuildIndexes() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebuildLocked()
}

// rebuildLocked reconstructs every index entry, assigning search insertion
// order by record creation time.
func (s *Store) rebuildLocked() {
	s.tags = NewTagIndex()
	s.search = NewSearchIndex()

	ordered := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		ordered = append(ordered, rec)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})

	for _, rec := range ordered {
		rec.Tags = s.tags.Add(rec.ID, rec.Tags)

		payload := rec.Payload
		if rec.Encrypted {
			if s.gate == nil {
				s.logger.Warn("cannot index encrypted record without a gate", "id", rec.ID)
				continue
			}
			p, err := s.gate.Decrypt(rec.Ciphertext)
			if err != nil {
				s.logger.Warn("cannot index unreadable record", "id", rec.ID, "error", err)
				continue
			}
			payload = p
		}
		s.search.Index(rec.ID, payload)
	}
}

// VerifyIntegrity checks that every id referenced by either index
// corresponds to a record currently present. A dangling reference is a
// logic fault; the caller repairs it with RebuildIndexes.
func (s *Store) VerifyIntegrity() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var dangling []string
	seen := make(map[string]struct{})

	for id := range s.tags.IDs() {
		if _, ok := s.records[id]; !ok {
			dangling = append(dangling, id)
			seen[id] = struct{}{}
		}
	}
	for id := range s.search.IDs() {
		if _, ok := s.records[id]; ok {
			continue
		}
		if _, dup := seen[id]; !dup {
			dangling = append(dangling, id)
		}
	}

	if len(dangling) == 0 {
		return nil
	}

	sort.Strings(dangling)
	return mnerr.New(mnerr.CodeStoreIndexDangling,
		"index references records not present in the store",
		mnerr.Field("dangling_count", len(dangling)),
		mnerr.Field("dangling_ids", dangling),
	)
}

func notFound(id string) error {
	return mnerr.Wrap(ErrNotFound, mnerr.CodeStoreRecordNotFound, "record "+id, mnerr.FieldRecordID(id))
}

func effectiveLimit(limit int) (int, error) {
	if limit < 0 {
		return 0, mnerr.Wrapf(ErrInvalidInput, mnerr.CodeStoreInvalidInput, "limit must not be negative, got %d", limit)
	}
	if limit == 0 {
		return DefaultLimit, nil
	}
	return limit, nil
}
