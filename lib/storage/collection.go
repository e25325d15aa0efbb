// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/lukaszwojciechowski/cynara/lib/policy"
)

// DefaultBucketID is the id of the bucket checks start in when the
// caller names none. It always exists.
const DefaultBucketID = ""

// Collection maps bucket ids to buckets. Buckets reference each other
// by id only, so cyclic chains are plain data here; the engine detects
// cycles while walking.
type Collection struct {
	buckets map[string]*policy.Bucket
}

// NewCollection returns a collection holding only the default bucket,
// which denies everything.
func NewCollection() *Collection {
	return &Collection{buckets: map[string]*policy.Bucket{
		DefaultBucketID: policy.NewBucket(DefaultBucketID, policy.DenyResult("")),
	}}
}

// Bucket returns the bucket with the given id. The caller must not
// keep the pointer past the current event or mutate it.
func (c *Collection) Bucket(id string) (*policy.Bucket, error) {
	bucket, ok := c.buckets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBucketNotFound, id)
	}
	return bucket, nil
}

// Exists reports whether a bucket with the given id exists.
func (c *Collection) Exists(id string) bool {
	_, ok := c.buckets[id]
	return ok
}

// IDs returns the bucket ids in sorted order. The default bucket, with
// the empty id, sorts first.
func (c *Collection) IDs() []string {
	return slices.Sorted(maps.Keys(c.buckets))
}

// Len returns the number of buckets.
func (c *Collection) Len() int {
	return len(c.buckets)
}

// shallowClone copies the map but shares the buckets. Mutations
// replace the buckets they touch with clones via own.
func (c *Collection) shallowClone() *Collection {
	return &Collection{buckets: maps.Clone(c.buckets)}
}

// own replaces the shared bucket id with a private clone and returns
// it. Calling own twice for the same id in one mutation returns the
// same clone.
func (c *Collection) own(id string, owned map[string]bool) *policy.Bucket {
	if owned[id] {
		return c.buckets[id]
	}
	clone := c.buckets[id].Clone()
	c.buckets[id] = clone
	owned[id] = true
	return clone
}

// validate checks the invariants every persisted collection holds: the
// default bucket exists, its default is not NONE, and every BUCKET
// result names an existing bucket.
func (c *Collection) validate() error {
	root, ok := c.buckets[DefaultBucketID]
	if !ok {
		return fmt.Errorf("%w: default bucket missing", ErrBucketNotFound)
	}
	if root.Default.Type == policy.TypeNone {
		return fmt.Errorf("%w: NONE default", ErrDefaultBucket)
	}
	for _, id := range c.IDs() {
		bucket := c.buckets[id]
		if err := c.validateResult(bucket.Default); err != nil {
			return fmt.Errorf("bucket %q default: %w", id, err)
		}
		for _, entry := range bucket.Policies() {
			if entry.Result.Type == policy.TypeNone {
				return fmt.Errorf("bucket %q entry %s: %w: NONE is only valid as a default", id, entry.Key, ErrInvalidPolicy)
			}
			if err := c.validateResult(entry.Result); err != nil {
				return fmt.Errorf("bucket %q entry %s: %w", id, entry.Key, err)
			}
		}
	}
	return nil
}

func (c *Collection) validateResult(result policy.Result) error {
	target, ok := result.TargetBucket()
	if !ok {
		return nil
	}
	if !c.Exists(target) {
		return fmt.Errorf("%w: %q", ErrBucketNotFound, target)
	}
	return nil
}

// ValidateBucketID checks that id can be stored and printed in the
// bulk format. The empty id names the default bucket and is valid.
func ValidateBucketID(id string) error {
	if strings.ContainsAny(id, ";\n\r") {
		return fmt.Errorf("%w: %q", ErrInvalidBucketID, id)
	}
	return nil
}
