// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage owns the policy buckets and persists them.
//
// [Storage] holds the in-memory [Collection], the arena of buckets by
// id that the engine resolves against, and a [Backend] that makes
// admin mutations durable. The collection always contains the default
// bucket, whose id is the empty string.
//
// Every admin mutation is all-or-nothing. The affected buckets are
// cloned, the change is applied and validated on the clones, the
// backend persists them, and only then does the collection switch to
// the new buckets. A backend failure leaves memory exactly as it was.
//
// Referential integrity is enforced here, at admin time: a BUCKET
// result may only name an existing bucket, and deleting a bucket
// removes the entries that redirect to it. The engine still treats a
// missing bucket during resolution as a failure rather than trusting
// this.
//
// Two backends are provided. [SQLiteBackend] stores one row per bucket
// and one per policy, with a BLAKE3 checksum of each bucket's
// deterministic CBOR encoding so a tampered or half-written database
// is refused at load. [MemoryBackend] keeps nothing and is used by
// tests and --in-memory runs.
//
// [Lock] serializes daemons on one database with flock(2), and
// [WriteSnapshot]/[ReadSnapshot] implement the admin export format.
package storage
