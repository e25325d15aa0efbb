// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

// Package client is the Go API for talking to a running cynara daemon.
//
// [Client] speaks to the client socket: one-shot checks that never
// wait for an agent, and a [Session] whose checks may be answered by
// an interactive agent and can be cancelled. [Admin] speaks to the
// admin socket and wraps every policy management action. [AgentConn]
// is the agent side of the agent socket.
//
// All three are thin wrappers around [service.ServiceClient]; the
// message types live in lib/schema.
package client
