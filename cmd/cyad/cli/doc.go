// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for cyad.
//
// The central type is [Command], which represents a named subcommand
// with optional nested [Command.Subcommands], a [pflag.FlagSet]
// factory, and a Run function. Commands are assembled into a tree in
// cmd/cyad and dispatched via [Command.Execute], which handles flag
// parsing, subcommand routing, and structured help output with
// examples.
//
// When a user types an unknown subcommand or flag, the framework
// computes Levenshtein edit distance against all known names and
// suggests the closest match (threshold: distance <= 3).
//
// [JSONOutput] adds a --json flag to commands whose results are
// structured, and [ExitError] lets a command choose its exit status
// after printing its own output.
package cli
