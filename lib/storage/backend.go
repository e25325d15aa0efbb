// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"sync"

	"github.com/lukaszwojciechowski/cynara/lib/policy"
)

// Backend persists buckets. Storage calls it from one goroutine.
type Backend interface {
	// Load returns every persisted bucket. An empty result means a
	// fresh database.
	Load(ctx context.Context) ([]*policy.Bucket, error)

	// Save applies changes atomically: either all of them are
	// durable when Save returns nil, or none are.
	Save(ctx context.Context, changes Changes) error

	Close() error
}

// Changes is one admin mutation as seen by a backend.
type Changes struct {
	// Replace discards everything persisted before applying Updated.
	Replace bool

	// Updated buckets are written in full, replacing their previous
	// contents.
	Updated []*policy.Bucket

	// Deleted lists bucket ids to remove together with their entries.
	Deleted []string
}

// MemoryBackend keeps a copy of the saved buckets in memory. It is
// safe for concurrent use.
type MemoryBackend struct {
	mu      sync.Mutex
	buckets map[string]*policy.Bucket

	failSave error
	saves    int
}

// NewMemoryBackend returns an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{buckets: make(map[string]*policy.Bucket)}
}

func (m *MemoryBackend) Load(ctx context.Context) ([]*policy.Bucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buckets := make([]*policy.Bucket, 0, len(m.buckets))
	for _, bucket := range m.buckets {
		buckets = append(buckets, bucket.Clone())
	}
	return buckets, nil
}

func (m *MemoryBackend) Save(ctx context.Context, changes Changes) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave != nil {
		return m.failSave
	}
	if changes.Replace {
		m.buckets = make(map[string]*policy.Bucket)
	}
	for _, id := range changes.Deleted {
		delete(m.buckets, id)
	}
	for _, bucket := range changes.Updated {
		m.buckets[bucket.ID] = bucket.Clone()
	}
	m.saves++
	return nil
}

// FailSaves makes every following Save return err without applying
// anything. Pass nil to restore normal operation.
func (m *MemoryBackend) FailSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSave = err
}

// Saves returns how many Save calls succeeded.
func (m *MemoryBackend) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *MemoryBackend) Close() error { return nil }
