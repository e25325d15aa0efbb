// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent tracks checks that are waiting for an external agent.
//
// When resolution reaches a plugin policy, the engine builds a
// [PendingCheck] and hands it to the [Manager]. The manager coalesces
// pending checks with the same agent type, payload and session onto a
// single outstanding call, so at most one request per such key is in
// flight. When the agent answers, every waiter that has not been
// cancelled is handed back to the engine through [Resumer], which
// continues resolution with the answer.
//
// The manager performs no I/O and is not safe for concurrent use. It
// belongs to the engine loop; the transport reaches it by posting
// events to that loop. Requests leave through a [Channel], which the
// daemon implements over the agent socket.
package agent
