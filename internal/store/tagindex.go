// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemos Contributors

package store

import (
	"sort"
	"strings"
)

// TagIndex maintains tag -> record-id sets with hierarchical expansion.
// A tag "a:b:c" is registered at every prefix level ("a", "a:b", "a:b:c"),
// so a query for "a" matches records tagged at any depth below it. Prefix
// matching happens on ':' boundaries only, never as substring match.
//
// TagIndex is not goroutine-safe; the owning Store serializes access.
type TagIndex struct {
	byTag map[string]map[string]struct{} // tag (incl. prefixes) -> ids
	byID  map[string]map[string]struct{} // id -> leaf tags
}

// NewTagIndex returns an empty TagIndex.
func NewTagIndex() *TagIndex {
	return &TagIndex{
		byTag: make(map[string]map[string]struct{}),
		byID:  make(map[string]map[string]struct{}),
	}
}

// NormalizeTag trims whitespace and lowercases a raw tag. An empty result
// means the tag is malformed and must be ignored.
func NormalizeTag(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// normalizeTags normalizes all tags, dropping empties and duplicates while
// preserving first-seen order.
func normalizeTags(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		n := NormalizeTag(t)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// expandTag returns every ':'-prefix of a normalized tag, shortest first,
// including the tag itself.
func expandTag(tag string) []string {
	parts := strings.Split(tag, ":")
	out := make([]string, 0, len(parts))
	for i := 1; i <= len(parts); i++ {
		out = append(out, strings.Join(parts[:i], ":"))
	}
	return out
}

// Add registers the given tags (normalized, empties ignored) for id and
// returns the leaf tags now on the record, sorted.
func (x *TagIndex) Add(id string, tags []string) []string {
	leaves, ok := x.byID[id]
	if !ok {
		leaves = make(map[string]struct{})
		x.byID[id] = leaves
	}

	for _, tag := range normalizeTags(tags) {
		leaves[tag] = struct{}{}
		for _, level := range expandTag(tag) {
			set, ok := x.byTag[level]
			if !ok {
				set = make(map[string]struct{})
				x.byTag[level] = set
			}
			set[id] = struct{}{}
		}
	}

	return x.Tags(id)
}

// Remove unregisters the given tags from id. Prefix levels still covered
// by another of the record's tags are retained.
func (x *TagIndex) Remove(id string, tags []string) []string {
	leaves, ok := x.byID[id]
	if !ok {
		return nil
	}

	for _, tag := range normalizeTags(tags) {
		delete(leaves, tag)
	}

	if len(leaves) == 0 {
		delete(x.byID, id)
	}
	x.reindex(id)

	return x.Tags(id)
}

// RemoveAll unregisters id from every tag entry.
func (x *TagIndex) RemoveAll(id string) {
	delete(x.byID, id)
	x.reindex(id)
}

// reindex reconciles byTag membership for id against its remaining leaf
// tags. Empty tag entries are dropped entirely.
func (x *TagIndex) reindex(id string) {
	want := make(map[string]struct{})
	for leaf := range x.byID[id] {
		for _, level := range expandTag(leaf) {
			want[level] = struct{}{}
		}
	}

	for tag, set := range x.byTag {
		if _, member := set[id]; !member {
			continue
		}
		if _, keep := want[tag]; keep {
			continue
		}
		delete(set, id)
		if len(set) == 0 {
			delete(x.byTag, tag)
		}
	}
}

// Tags returns the sorted leaf tags registered for id.
func (x *TagIndex) Tags(id string) []string {
	leaves, ok := x.byID[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(leaves))
	for t := range leaves {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// IDsForAll returns ids carrying every one of the given tags (after
// hierarchical expansion). Unknown tags yield an empty result.
func (x *TagIndex) IDsForAll(tags []string) map[string]struct{} {
	normalized := normalizeTags(tags)
	if len(normalized) == 0 {
		return nil
	}

	var result map[string]struct{}
	for _, tag := range normalized {
		set, ok := x.byTag[tag]
		if !ok {
			return nil
		}
		if result == nil {
			result = make(map[string]struct{}, len(set))
			for id := range set {
				result[id] = struct{}{}
			}
			continue
		}
		for id := range result {
			if _, ok := set[id]; !ok {
				delete(result, id)
			}
		}
		if len(result) == 0 {
			return nil
		}
	}
	return result
}

// IDsForAny returns ids carrying at least one of the given tags.
func (x *TagIndex) IDsForAny(tags []string) map[string]struct{} {
	result := make(map[string]struct{})
	for _, tag := range normalizeTags(tags) {
		for id := range x.byTag[tag] {
			result[id] = struct{}{}
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// Counts returns the number of records under every registered tag entry,
// prefix levels included.
func (x *TagIndex) Counts() map[string]int {
	out := make(map[string]int, len(x.byTag))
	for tag, set := range x.byTag {
		out[tag] = len(set)
	}
	return out
}

// IDs returns every record id referenced anywhere in the index.
func (x *TagIndex) IDs() map[string]struct{} {
	out := make(map[string]struct{})
	for _, set := range x.byTag {
		for id := range set {
			out[id] = struct{}{}
		}
	}
	return out
}
