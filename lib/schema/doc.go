// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the CBOR messages exchanged over the cynara
// sockets. The daemon, the Go client and the admin tool all encode
// these types, so field names and tags here are the protocol.
//
// Three sockets carry three vocabularies:
//
//   - client socket: [CheckRequest], the "session" stream of
//     [SessionFrame] and [SessionResult], and [StatusResponse]
//   - admin socket: bucket and policy mutations, listing, admin
//     checks, descriptions and snapshot export/import
//   - agent socket: the "agent" stream of [AgentRegister],
//     [AgentFrame] and [AgentAnswer]
//
// [AgentPayload] is the body the daemon hands to an agent inside
// [AgentFrame.Payload].
//
// This package depends on no other cynara packages except lib/codec.
package schema
