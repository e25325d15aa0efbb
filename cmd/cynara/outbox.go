// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package main

import "sync"

// outbox queues frames for one stream connection. The engine loop
// pushes without ever blocking on a slow peer; the connection's
// handler drains and writes.
type outbox[T any] struct {
	mu    sync.Mutex
	items []T
	ready chan struct{}
}

func newOutbox[T any]() *outbox[T] {
	return &outbox[T]{ready: make(chan struct{}, 1)}
}

// Push appends item and signals Ready.
func (o *outbox[T]) Push(item T) {
	o.mu.Lock()
	o.items = append(o.items, item)
	o.mu.Unlock()
	select {
	case o.ready <- struct{}{}:
	default:
	}
}

// Ready receives after Push. One signal may stand for many items.
func (o *outbox[T]) Ready() <-chan struct{} {
	return o.ready
}

// Drain removes and returns everything queued.
func (o *outbox[T]) Drain() []T {
	o.mu.Lock()
	defer o.mu.Unlock()
	items := o.items
	o.items = nil
	return items
}
