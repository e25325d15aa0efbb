// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

// Cyad is the cynara administration tool. It talks to the daemon's
// admin socket and manages buckets and policies.
//
// Policies are printed and read in the bulk line format
//
//	bucket;client;user;privilege;type;metadata
//
// where type is a number (decimal or 0x hex), a predefined name
// (deny, none, bucket, allow), or a plugin name known to the daemon.
// Lines starting with '#' and blank lines are ignored on input.
package main
