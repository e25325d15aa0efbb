// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"cmp"
	"maps"
	"slices"
)

// Policy is one stored entry: the key it applies to and its result.
type Policy struct {
	Key    Key    `json:"key"`
	Result Result `json:"result"`
}

// Bucket is a named set of policy entries plus a default result used
// when no entry matches. A Bucket is not safe for concurrent use; the
// engine owns all buckets from a single goroutine.
type Bucket struct {
	ID      string
	Default Result

	entries map[Key]Result
}

// NewBucket returns an empty bucket.
func NewBucket(id string, defaultResult Result) *Bucket {
	return &Bucket{
		ID:      id,
		Default: defaultResult,
		entries: make(map[Key]Result),
	}
}

// Find returns the result of the most specific entry matching key, or
// the bucket default when nothing matches.
func (b *Bucket) Find(key Key) Result {
	if result, ok := b.lookup(key); ok {
		return result
	}
	return b.Default
}

// Lookup is Find without the default fallback.
func (b *Bucket) Lookup(key Key) (Result, bool) {
	return b.lookup(key)
}

func (b *Bucket) lookup(key Key) (Result, bool) {
	if len(b.entries) == 0 {
		return Result{}, false
	}
	// Candidates come in descending specificity, so the first hit is
	// the best match. Two matching entries with the same wildcard
	// shape would have the same key, so there are no ties.
	for _, candidate := range key.candidates() {
		if result, ok := b.entries[candidate]; ok {
			return result, true
		}
	}
	return Result{}, false
}

// Set stores result under key, replacing any existing entry.
func (b *Bucket) Set(key Key, result Result) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if b.entries == nil {
		b.entries = make(map[Key]Result)
	}
	b.entries[key] = result
	return nil
}

// Delete removes the entry stored under exactly key. It reports
// whether an entry was removed.
func (b *Bucket) Delete(key Key) bool {
	if _, ok := b.entries[key]; !ok {
		return false
	}
	delete(b.entries, key)
	return true
}

// SetDefault replaces the bucket default.
func (b *Bucket) SetDefault(result Result) {
	b.Default = result
}

// Len returns the number of stored entries.
func (b *Bucket) Len() int {
	return len(b.entries)
}

// Filter returns the entries selected by an admin filter, sorted by
// key. Filter components may use [Any].
func (b *Bucket) Filter(filter Key) []Policy {
	var policies []Policy
	for key, result := range b.entries {
		if key.MatchedBy(filter) {
			policies = append(policies, Policy{Key: key, Result: result})
		}
	}
	sortPolicies(policies)
	return policies
}

// Policies returns every entry sorted by key.
func (b *Bucket) Policies() []Policy {
	return b.Filter(Key{Client: Any, User: Any, Privilege: Any})
}

// DeleteMatching removes every entry selected by filter and returns
// how many were removed.
func (b *Bucket) DeleteMatching(filter Key) int {
	removed := 0
	for key := range b.entries {
		if key.MatchedBy(filter) {
			delete(b.entries, key)
			removed++
		}
	}
	return removed
}

// DeleteFunc removes every entry for which remove returns true and
// returns how many were removed.
func (b *Bucket) DeleteFunc(remove func(Key, Result) bool) int {
	removed := 0
	for key, result := range b.entries {
		if remove(key, result) {
			delete(b.entries, key)
			removed++
		}
	}
	return removed
}

// Clone returns a deep copy of the bucket.
func (b *Bucket) Clone() *Bucket {
	clone := &Bucket{ID: b.ID, Default: b.Default}
	if b.entries != nil {
		clone.entries = maps.Clone(b.entries)
	} else {
		clone.entries = make(map[Key]Result)
	}
	return clone
}

func sortPolicies(policies []Policy) {
	slices.SortFunc(policies, func(a, b Policy) int {
		return cmp.Or(
			cmp.Compare(a.Key.Client, b.Key.Client),
			cmp.Compare(a.Key.User, b.Key.User),
			cmp.Compare(a.Key.Privilege, b.Key.Privilege),
		)
	})
}
