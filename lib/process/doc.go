// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds entrypoint helpers for the Cynara binaries:
// reporting a fatal error to stderr before (or instead of) the
// structured logger, and exiting with a specific status.
package process
