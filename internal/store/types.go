// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemos Contributors

package store

import (
	"log/slog"
	"time"
)

// Payload is the opaque structured value a caller stores with a record.
// Arbitrary nested key/value data is preserved verbatim unless the
// encryption gate seals it at rest.
type Payload = map[string]any

// Record is the atomic stored unit: payload, tags, and access metadata.
type Record struct {
	ID string `json:"id"`

	// Payload holds the plaintext value. Nil when the record is stored
	// encrypted; reads return decrypted copies without mutating storage.
	Payload Payload `json:"payload,omitempty"`

	// Ciphertext holds the sealed payload blob when Encrypted is true.
	Ciphertext string `json:"ciphertext,omitempty"`

	// Encrypted marks the payload as ciphertext at rest. Set by the
	// encryption gate when the record's tags intersect the sensitive set.
	Encrypted bool `json:"encrypted"`

	// Tags are the normalized leaf tags on the record. Hierarchical
	// `a:b:c` tags are kept whole here; prefix expansion lives in the
	// tag index only.
	Tags []string `json:"tags,omitempty"`

	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	AccessCount    int       `json:"access_count"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Expired reports whether the record is logically expired at now.
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !r.ExpiresAt.After(now)
}

// Type returns the record's caller-declared type from payload["type"],
// or "unknown" when absent or unreadable.
func (r *Record) Type() string {
	if r.Payload == nil {
		return "unknown"
	}
	if t, ok := r.Payload["type"].(string); ok && t != "" {
		return t
	}
	return "unknown"
}

// clone returns a copy safe to hand to callers: the tag slice and the
// payload (including nested maps and slices) are copied so caller
// mutation cannot reach the store's own record.
func (r *Record) clone() *Record {
	out := *r
	if r.Tags != nil {
		out.Tags = append([]string(nil), r.Tags...)
	}
	if r.Payload != nil {
		out.Payload = clonePayload(r.Payload)
	}
	return &out
}

func clonePayload(p Payload) Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue deep-copies the JSON-shaped value types a payload can hold.
// Scalars and any other types are shared, which is safe for immutables.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Stats summarizes the store's contents.
type Stats struct {
	Total      int            `json:"total"`
	Active     int            `json:"active"`
	Expired    int            `json:"expired"`
	TypeCounts map[string]int `json:"type_counts"`
	TagCounts  map[string]int `json:"tag_counts"`
}

// Options configures a Store.
type Options struct {
	// MaxRecords caps the record count after every insert. Defaults to 10000.
	MaxRecords int

	// DefaultTTL is applied when the caller supplies no explicit
	// expiry. Defaults to 365 days.
	DefaultTTL time.Duration

	Logger *slog.Logger

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

const (
	defaultMaxRecords = 10000
	defaultTTL        = 365 * 24 * time.Hour

	// DefaultLimit applies to query operations called with limit 0.
	DefaultLimit = 10
)
