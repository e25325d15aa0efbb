// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

// Cynara-agent-prompt answers agent requests by asking the person at
// the terminal.
//
// It registers with the daemon's agent socket for one agent type
// (default "prompt"), shows each request as a box naming the client,
// user and privilege, and answers ALLOW on "y" or DENY on "n".
// Requests are shown one at a time in arrival order. A request the
// daemon withdraws (the client cancelled or went away, or the request
// timed out) is dropped without an answer. "q" or Ctrl-C exits; any
// requests left unanswered stay with the daemon until another agent
// of the same type registers.
//
// Usage:
//
//	cynara-agent-prompt [--socket PATH] [--agent-type TYPE]
package main
