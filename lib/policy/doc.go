// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy defines the value types of the authorization model:
// the lookup [Key], the [Result] of a single policy entry, the
// [Decision] delivered to callers, and the [Bucket] that groups
// entries under one default result.
//
// # Keys
//
// A key is a (client, user, privilege) triple. Each component is a
// concrete string or the wildcard "*". A stored entry matches a
// request when every component is equal or wildcard. When several
// entries match, the most specific one wins: an exact client outranks
// an exact user, which outranks an exact privilege.
//
// Admin queries (list, erase) use filters, which may also contain "#"
// to select any stored value, wildcards included.
//
// # Results
//
// Result types are 16-bit numbers. Four are predefined:
//
//	0x0000  DENY    the privilege is refused
//	0x0001  NONE    this bucket has no opinion
//	0xFFFE  BUCKET  continue in the bucket named by the metadata
//	0xFFFF  ALLOW   the privilege is granted
//
// Every other value is a plugin type. A plugin result defers the
// decision to an external agent; its metadata is an opaque payload
// handed to that agent.
package policy
