// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the Unix socket plumbing shared by the
// cynara daemon, its Go client and its admin tool.
//
// A [SocketServer] speaks CBOR over a Unix socket. Every connection
// starts with one request carrying an "action" field. Actions
// registered with [SocketServer.Handle] answer with a single
// [Response] envelope and the connection closes. Actions registered
// with [SocketServer.HandleStream] take over the connection: the
// handler writes a [Response] as its acknowledgement and then
// exchanges CBOR values with the client until either side closes.
//
// The server reads the connecting process's credentials with
// SO_PEERCRED and makes them available to handlers through
// [PeerFromContext].
//
// [ServiceClient] is the matching client: [ServiceClient.Call] for
// request/response actions and [ServiceClient.OpenStream] for streams.
// Failed responses surface as [*ServiceError] carrying the server's
// error code.
package service
