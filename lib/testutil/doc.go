// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by Cynara tests.
//
// [SocketDir] returns a short directory under /tmp for Unix sockets,
// whose paths are limited to 108 bytes. t.TempDir() paths can exceed
// that.
//
// [RequireReceive], [RequireSend] and [RequireClosed] wrap the select
// with a wall-clock fallback so a broken test fails instead of
// hanging. Tests never sleep to synchronize; they wait on channels
// through these helpers or drive a fake clock.
//
// [UniqueID] produces distinct identifiers for sessions and request
// ids within one test binary.
package testutil
