// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/lukaszwojciechowski/cynara/lib/policy"
)

// Storage owns the bucket collection and keeps it in sync with a
// backend. It is not safe for concurrent use: the engine loop is its
// only caller.
type Storage struct {
	backend    Backend
	logger     *slog.Logger
	collection *Collection
	fresh      bool
}

// Entry addresses one policy in one bucket.
type Entry struct {
	Bucket string        `json:"bucket"`
	Key    policy.Key    `json:"key"`
	Result policy.Result `json:"result"`
}

// Batch groups policy insertions and removals into one mutation. Sets
// are applied before removals. Removal entries ignore Result.
type Batch struct {
	Set    []Entry `json:"set,omitempty"`
	Remove []Entry `json:"remove,omitempty"`
}

// New returns a Storage holding only the default bucket. Call Load
// before serving.
func New(backend Backend, logger *slog.Logger) *Storage {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Storage{
		backend:    backend,
		logger:     logger,
		collection: NewCollection(),
	}
}

// Load replaces the in-memory collection with the backend's contents.
// When the backend is empty it persists a default bucket that denies
// everything and marks the storage fresh.
func (s *Storage) Load(ctx context.Context) error {
	buckets, err := s.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading buckets: %w", err)
	}

	if len(buckets) == 0 {
		collection := NewCollection()
		root, _ := collection.Bucket(DefaultBucketID)
		if err := s.backend.Save(ctx, Changes{Updated: []*policy.Bucket{root}}); err != nil {
			return fmt.Errorf("creating default bucket: %w", err)
		}
		s.collection = collection
		s.fresh = true
		s.logger.Info("initialized empty policy database")
		return nil
	}

	collection := &Collection{buckets: make(map[string]*policy.Bucket, len(buckets))}
	for _, bucket := range buckets {
		if collection.Exists(bucket.ID) {
			return &BucketSerializationError{BucketID: bucket.ID, Err: fmt.Errorf("loaded twice")}
		}
		collection.buckets[bucket.ID] = bucket
	}
	if err := collection.validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageCorrupt, err)
	}
	s.collection = collection
	s.fresh = false
	s.logger.Info("policy database loaded", "buckets", collection.Len())
	return nil
}

// Fresh reports whether the last Load found an empty backend.
func (s *Storage) Fresh() bool {
	return s.fresh
}

// Bucket returns the bucket with the given id, or ErrBucketNotFound.
// The returned bucket is shared; callers must not mutate it.
func (s *Storage) Bucket(id string) (*policy.Bucket, error) {
	return s.collection.Bucket(id)
}

// Exists reports whether a bucket exists.
func (s *Storage) Exists(id string) bool {
	return s.collection.Exists(id)
}

// Buckets returns a copy of every bucket, sorted by id.
func (s *Storage) Buckets() []*policy.Bucket {
	ids := s.collection.IDs()
	buckets := make([]*policy.Bucket, 0, len(ids))
	for _, id := range ids {
		buckets = append(buckets, s.collection.buckets[id].Clone())
	}
	return buckets
}

// ListPolicies returns the entries of a bucket selected by filter.
func (s *Storage) ListPolicies(bucketID string, filter policy.Key) ([]policy.Policy, error) {
	if err := filter.ValidateFilter(); err != nil {
		return nil, err
	}
	bucket, err := s.collection.Bucket(bucketID)
	if err != nil {
		return nil, err
	}
	return bucket.Filter(filter), nil
}

// SetBucket creates a bucket or replaces the default of an existing
// one.
func (s *Storage) SetBucket(ctx context.Context, id string, defaultResult policy.Result) error {
	if err := ValidateBucketID(id); err != nil {
		return err
	}
	if id == DefaultBucketID && defaultResult.Type == policy.TypeNone {
		return fmt.Errorf("%w: the default bucket needs a decision as its default", ErrDefaultBucket)
	}
	if target, ok := defaultResult.TargetBucket(); ok && target == id {
		return fmt.Errorf("%w: bucket %q cannot default to itself", ErrInvalidPolicy, id)
	}

	err := s.mutate(ctx, func(m *mutation) error {
		if m.next.Exists(id) {
			m.own(id).SetDefault(defaultResult)
			return nil
		}
		m.create(policy.NewBucket(id, defaultResult))
		return nil
	})
	if err != nil {
		return fmt.Errorf("setting bucket %q: %w", id, err)
	}
	s.logger.Info("bucket set", "bucket", id, "default_type", defaultResult.Type)
	return nil
}

// DeleteBucket removes a bucket and every entry in other buckets that
// redirects to it. The default bucket cannot be deleted.
func (s *Storage) DeleteBucket(ctx context.Context, id string) error {
	if id == DefaultBucketID {
		return ErrDefaultBucket
	}
	removedLinks := 0
	err := s.mutate(ctx, func(m *mutation) error {
		if !m.next.Exists(id) {
			return fmt.Errorf("%w: %q", ErrBucketNotFound, id)
		}
		for _, otherID := range m.next.IDs() {
			if otherID == id {
				continue
			}
			other := m.next.buckets[otherID]
			if target, ok := other.Default.TargetBucket(); ok && target == id {
				return fmt.Errorf("%w: %q", ErrBucketInUse, otherID)
			}
			if !redirectsTo(other, id) {
				continue
			}
			removedLinks += m.own(otherID).DeleteFunc(func(_ policy.Key, result policy.Result) bool {
				target, ok := result.TargetBucket()
				return ok && target == id
			})
		}
		m.delete(id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting bucket %q: %w", id, err)
	}
	s.logger.Info("bucket deleted", "bucket", id, "removed_links", removedLinks)
	return nil
}

func redirectsTo(bucket *policy.Bucket, id string) bool {
	for _, entry := range bucket.Policies() {
		if target, ok := entry.Result.TargetBucket(); ok && target == id {
			return true
		}
	}
	return false
}

// SetPolicies inserts and removes entries as one mutation.
func (s *Storage) SetPolicies(ctx context.Context, batch Batch) error {
	err := s.mutate(ctx, func(m *mutation) error {
		for _, entry := range batch.Set {
			if !m.next.Exists(entry.Bucket) {
				return fmt.Errorf("%w: %q", ErrBucketNotFound, entry.Bucket)
			}
			if entry.Result.Type == policy.TypeNone {
				return fmt.Errorf("%w: NONE is only valid as a bucket default", ErrInvalidPolicy)
			}
			if err := m.own(entry.Bucket).Set(entry.Key, entry.Result); err != nil {
				return err
			}
		}
		for _, entry := range batch.Remove {
			if !m.next.Exists(entry.Bucket) {
				return fmt.Errorf("%w: %q", ErrBucketNotFound, entry.Bucket)
			}
			if err := entry.Key.Validate(); err != nil {
				return err
			}
			m.own(entry.Bucket).Delete(entry.Key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("setting policies: %w", err)
	}
	s.logger.Info("policies set", "inserted", len(batch.Set), "removed", len(batch.Remove))
	return nil
}

// Erase removes the entries selected by filter from startBucket. With
// recursive set it continues into every bucket reachable from there
// through BUCKET entries and defaults, visiting each bucket once. It
// returns how many entries were removed.
func (s *Storage) Erase(ctx context.Context, startBucket string, recursive bool, filter policy.Key) (int, error) {
	if err := filter.ValidateFilter(); err != nil {
		return 0, err
	}
	removed := 0
	err := s.mutate(ctx, func(m *mutation) error {
		if !m.next.Exists(startBucket) {
			return fmt.Errorf("%w: %q", ErrBucketNotFound, startBucket)
		}
		visited := map[string]bool{startBucket: true}
		queue := []string{startBucket}
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			bucket := m.next.buckets[id]

			if recursive {
				for _, target := range linkedBuckets(bucket) {
					if !visited[target] && m.next.Exists(target) {
						visited[target] = true
						queue = append(queue, target)
					}
				}
			}
			if len(bucket.Filter(filter)) > 0 {
				removed += m.own(id).DeleteMatching(filter)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("erasing from bucket %q: %w", startBucket, err)
	}
	s.logger.Info("policies erased",
		"bucket", startBucket,
		"recursive", recursive,
		"filter", filter.String(),
		"removed", removed,
	)
	return removed, nil
}

func linkedBuckets(bucket *policy.Bucket) []string {
	var targets []string
	if target, ok := bucket.Default.TargetBucket(); ok {
		targets = append(targets, target)
	}
	for _, entry := range bucket.Policies() {
		if target, ok := entry.Result.TargetBucket(); ok {
			targets = append(targets, target)
		}
	}
	return targets
}

// Replace swaps the whole collection for buckets, as an import does.
// buckets must include the default bucket.
func (s *Storage) Replace(ctx context.Context, buckets []*policy.Bucket) error {
	collection := &Collection{buckets: make(map[string]*policy.Bucket, len(buckets))}
	for _, bucket := range buckets {
		if err := ValidateBucketID(bucket.ID); err != nil {
			return err
		}
		if collection.Exists(bucket.ID) {
			return fmt.Errorf("%w: %q appears twice", ErrInvalidBucketID, bucket.ID)
		}
		collection.buckets[bucket.ID] = bucket.Clone()
	}
	if err := collection.validate(); err != nil {
		return fmt.Errorf("replacing policies: %w", err)
	}

	updated := make([]*policy.Bucket, 0, collection.Len())
	for _, id := range collection.IDs() {
		updated = append(updated, collection.buckets[id])
	}
	if err := s.backend.Save(ctx, Changes{Replace: true, Updated: updated}); err != nil {
		return fmt.Errorf("replacing policies: %w", err)
	}
	s.collection = collection
	s.logger.Info("policies replaced", "buckets", collection.Len())
	return nil
}

// Close closes the backend.
func (s *Storage) Close() error {
	return s.backend.Close()
}

// mutation tracks the buckets one admin operation touches.
type mutation struct {
	next    *Collection
	owned   map[string]bool
	deleted []string
}

func (m *mutation) own(id string) *policy.Bucket {
	return m.next.own(id, m.owned)
}

func (m *mutation) create(bucket *policy.Bucket) {
	m.next.buckets[bucket.ID] = bucket
	m.owned[bucket.ID] = true
	m.deleted = slices.DeleteFunc(m.deleted, func(id string) bool { return id == bucket.ID })
}

func (m *mutation) delete(id string) {
	delete(m.next.buckets, id)
	delete(m.owned, id)
	m.deleted = append(m.deleted, id)
}

func (m *mutation) changes() Changes {
	var changes Changes
	for id := range m.owned {
		changes.Updated = append(changes.Updated, m.next.buckets[id])
	}
	slices.SortFunc(changes.Updated, func(a, b *policy.Bucket) int {
		return cmp.Compare(a.ID, b.ID)
	})
	changes.Deleted = slices.Clone(m.deleted)
	slices.Sort(changes.Deleted)
	return changes
}

// mutate runs apply against a copy-on-write view of the collection,
// validates the result, persists the touched buckets, and commits. Any
// failure leaves s.collection untouched.
func (s *Storage) mutate(ctx context.Context, apply func(*mutation) error) error {
	m := &mutation{next: s.collection.shallowClone(), owned: make(map[string]bool)}
	if err := apply(m); err != nil {
		return err
	}
	if err := m.next.validate(); err != nil {
		return err
	}
	changes := m.changes()
	if len(changes.Updated) > 0 || len(changes.Deleted) > 0 {
		if err := s.backend.Save(ctx, changes); err != nil {
			s.logger.Warn("persisting mutation failed, in-memory state unchanged", "error", err)
			return err
		}
	}
	s.collection = m.next
	return nil
}
