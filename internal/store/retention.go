// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemos Contributors

package store

import (
	"sort"
	"time"
)

// RetentionPolicy computes importance and drives the two-phase prune that
// keeps the store under its configured capacity.
type RetentionPolicy struct {
	MaxRecords int
	DefaultTTL time.Duration
}

// Importance ranks a record for eviction: frequently accessed, recently
// touched records outrank stale ones. Lowest importance is evicted first.
//
//	importance = access_count * 10 - age_in_days
//
// where age counts from the last access, or creation if never read.
func (p RetentionPolicy) Importance(rec *Record, now time.Time) float64 {
	last := rec.LastAccessedAt
	if last.IsZero() {
		last = rec.CreatedAt
	}
	ageDays := now.Sub(last).Seconds() / 86400
	return float64(rec.AccessCount)*10 - ageDays
}

// pruneLocked runs the two-phase prune and returns the number of records
// removed. Phase 1 deletes every expired record unconditionally. Phase 2
// evicts lowest-importance records (ties broken by oldest CreatedAt) until
// the store is back under MaxRecords.
//
// Caller must hold the write lock.
func (s *Store) pruneLocked(now time.Time) int {
	pruned := 0

	for id, rec := range s.records {
		if rec.Expired(now) {
			s.deleteLocked(id)
			pruned++
		}
	}

	if len(s.records) <= s.policy.MaxRecords {
		if pruned > 0 {
			s.logger.Debug("pruned expired records", "count", pruned)
		}
		return pruned
	}

	type candidate struct {
		id         string
		importance float64
		createdAt  time.Time
	}
	candidates := make([]candidate, 0, len(s.records))
	for id, rec := range s.records {
		candidates = append(candidates, candidate{
			id:         id,
			importance: s.policy.Importance(rec, now),
			createdAt:  rec.CreatedAt,
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].importance != candidates[j].importance {
			return candidates[i].importance < candidates[j].importance
		}
		return candidates[i].createdAt.Before(candidates[j].createdAt)
	})

	evicted := 0
	for _, c := range candidates {
		if len(s.records) <= s.policy.MaxRecords {
			break
		}
		s.deleteLocked(c.id)
		evicted++
	}
	pruned += evicted

	s.logger.Info("pruned records over capacity",
		"expired", pruned-evicted,
		"evicted", evicted,
		"remaining", len(s.records),
	)
	return pruned
}

// Sweep runs the two-phase prune outside the insert path, for callers
// driving a periodic retention pass. Returns the number of records removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked(s.clock())
}
