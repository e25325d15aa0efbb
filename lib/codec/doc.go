// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the shared CBOR configuration used by every
// Cynara socket protocol and on-disk format.
//
// The encoder uses Core Deterministic Encoding: sorted map keys,
// smallest integer encoding, no indefinite-length items. Determinism
// matters beyond the wire. Bucket checksums in the policy database and
// the agent request payload both hash or compare encoded bytes, so the
// same logical bucket must always produce the same encoding.
//
// For buffer-oriented operations (database rows, snapshots):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (sockets):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Types that are also printed by the admin tool with --json carry
// `json` struct tags; fxamacker/cbor falls back to them when no `cbor`
// tag is present. Purely internal types use `cbor` tags.
package codec
