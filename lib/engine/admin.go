// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"

	"github.com/lukaszwojciechowski/cynara/lib/policy"
	"github.com/lukaszwojciechowski/cynara/lib/storage"
)

// Admin mutations persist through storage and then clear the cache.
// A failed mutation leaves both storage and cache as they were.

// SetBucket creates a bucket or replaces its default.
func (l *Logic) SetBucket(ctx context.Context, id string, defaultResult policy.Result) error {
	if err := l.storage.SetBucket(ctx, id, defaultResult); err != nil {
		return err
	}
	l.invalidate("set-bucket")
	return nil
}

// DeleteBucket deletes a bucket and every redirect to it.
func (l *Logic) DeleteBucket(ctx context.Context, id string) error {
	if err := l.storage.DeleteBucket(ctx, id); err != nil {
		return err
	}
	l.invalidate("delete-bucket")
	return nil
}

// SetPolicies applies a batch of insertions and removals.
func (l *Logic) SetPolicies(ctx context.Context, batch storage.Batch) error {
	if err := l.storage.SetPolicies(ctx, batch); err != nil {
		return err
	}
	l.invalidate("set-policies")
	return nil
}

// Erase removes the policies matching filter, see [storage.Storage.Erase].
func (l *Logic) Erase(ctx context.Context, start string, recursive bool, filter policy.Key) (int, error) {
	removed, err := l.storage.Erase(ctx, start, recursive, filter)
	if err != nil {
		return 0, err
	}
	l.invalidate("erase")
	return removed, nil
}

// ListPolicies lists the policies of a bucket matching filter.
func (l *Logic) ListPolicies(bucket string, filter policy.Key) ([]policy.Policy, error) {
	return l.storage.ListPolicies(bucket, filter)
}

// AdminCheck evaluates key from bucket without agents and without the
// cache. With recursive unset only bucket itself is consulted and its
// result is returned as is, which may be a BUCKET or plugin result.
func (l *Logic) AdminCheck(bucket string, recursive bool, key policy.Key) (policy.Decision, error) {
	if err := key.Validate(); err != nil {
		return policy.Decision{}, err
	}
	if !recursive {
		found, err := l.storage.Bucket(bucket)
		if err != nil {
			return policy.Decision{}, err
		}
		return policy.Decided(found.Find(key)), nil
	}

	var decision policy.Decision
	w := &walk{
		key:      key,
		start:    bucket,
		simple:   true,
		visited:  make(map[string]bool),
		callback: func(d policy.Decision) { decision = d },
	}
	l.enter(w, bucket)
	return decision, nil
}

// Descriptions lists the known policy types.
func (l *Logic) Descriptions() []Description {
	return l.plugins.Descriptions()
}

// Export encodes every bucket as a snapshot.
func (l *Logic) Export() ([]byte, error) {
	return storage.EncodeSnapshot(l.storage.Buckets())
}

// Import replaces all policies with the contents of a snapshot.
func (l *Logic) Import(ctx context.Context, snapshot []byte) error {
	buckets, err := storage.DecodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	if err := l.storage.Replace(ctx, buckets); err != nil {
		return err
	}
	l.invalidate("import")
	return nil
}

func (l *Logic) invalidate(operation string) {
	dropped := l.cache.Clear()
	l.generation++
	l.logger.Debug("decision cache cleared", "operation", operation, "entries", dropped)
}
