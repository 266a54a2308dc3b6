// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemos Contributors

package store

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// tokenPattern matches word runs, Unicode letters and digits included.
// Tokens of length <= 2 runes are dropped below, so punctuation and short
// noise words never index.
var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// SearchIndex maintains token -> record-id sets derived from each record's
// serialized payload, for ranked keyword lookup. It also remembers every
// record's insertion sequence so equal-score results order stably.
//
// SearchIndex is not goroutine-safe; the owning Store serializes access.
type SearchIndex struct {
	byToken map[string]map[string]struct{}
	byID    map[string]map[string]struct{}
	seq     map[string]uint64
	nextSeq uint64
}

// NewSearchIndex returns an empty SearchIndex.
func NewSearchIndex() *SearchIndex {
	return &SearchIndex{
		byToken: make(map[string]map[string]struct{}),
		byID:    make(map[string]map[string]struct{}),
		seq:     make(map[string]uint64),
	}
}

// TokenizePayload derives the token set for a payload from its JSON
// serialization: lowercase word tokens of length > 2.
func TokenizePayload(p Payload) map[string]struct{} {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	return tokenizeText(string(raw))
}

func tokenizeText(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		if utf8.RuneCountInString(tok) > 2 {
			tokens[tok] = struct{}{}
		}
	}
	return tokens
}

// Index registers id under every token of the payload, replacing any prior
// tokens for that id. The record's insertion sequence is assigned on first
// sight and preserved across re-indexing on update.
func (x *SearchIndex) Index(id string, payload Payload) {
	x.unindex(id)

	tokens := TokenizePayload(payload)
	x.byID[id] = tokens
	for tok := range tokens {
		set, ok := x.byToken[tok]
		if !ok {
			set = make(map[string]struct{})
			x.byToken[tok] = set
		}
		set[id] = struct{}{}
	}

	if _, ok := x.seq[id]; !ok {
		x.nextSeq++
		x.seq[id] = x.nextSeq
	}
}

// Remove drops id from the index entirely, sequence included.
func (x *SearchIndex) Remove(id string) {
	x.unindex(id)
	delete(x.seq, id)
}

func (x *SearchIndex) unindex(id string) {
	for tok := range x.byID[id] {
		set := x.byToken[tok]
		delete(set, id)
		if len(set) == 0 {
			delete(x.byToken, tok)
		}
	}
	delete(x.byID, id)
}

// Query tokenizes the query text and returns candidate ids ranked by the
// number of query tokens each record's payload matched, descending. Equal
// scores order by insertion sequence ascending.
func (x *SearchIndex) Query(query string) []string {
	tokens := tokenizeText(query)
	if len(tokens) == 0 {
		return nil
	}

	scores := make(map[string]int)
	for tok := range tokens {
		for id := range x.byToken[tok] {
			scores[id]++
		}
	}
	if len(scores) == 0 {
		return nil
	}

	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return x.seq[ids[i]] < x.seq[ids[j]]
	})
	return ids
}

// AllIDs returns every indexed id in insertion order.
func (x *SearchIndex) AllIDs() []string {
	ids := make([]string, 0, len(x.byID))
	for id := range x.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return x.seq[ids[i]] < x.seq[ids[j]] })
	return ids
}

// IDs returns every record id referenced anywhere in the index, as a set.
func (x *SearchIndex) IDs() map[string]struct{} {
	out := make(map[string]struct{}, len(x.byID))
	for id := range x.byID {
		out[id] = struct{}{}
	}
	return out
}
