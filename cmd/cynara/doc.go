// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

// Cynara is the authorization daemon. It loads the policy database,
// then serves three Unix sockets:
//
//   - the client socket, where applications ask for decisions with a
//     one-shot "check" or over a "session" stream whose checks may wait
//     for an agent
//   - the admin socket (mode 0660), where cyad manages buckets and
//     policies
//   - the agent socket, where agents register for an agent type and
//     answer the requests plugin policies produce
//
// All engine state is owned by a single event loop. Socket handlers
// post closures to it and wait for their results.
//
// Usage:
//
//	cynara --config /etc/cynara/cynara.yaml
//	cynara --config cynara.yaml --in-memory
package main
