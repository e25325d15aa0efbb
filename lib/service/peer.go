// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package service

import "context"

// Peer is the identity of the process on the other end of a socket
// connection, as reported by the kernel.
type Peer struct {
	PID int32
	UID uint32
	GID uint32
}

type peerKey struct{}

// WithPeer returns a context carrying peer.
func WithPeer(ctx context.Context, peer Peer) context.Context {
	return context.WithValue(ctx, peerKey{}, peer)
}

// PeerFromContext returns the peer stored by the socket server, if the
// kernel reported one.
func PeerFromContext(ctx context.Context) (Peer, bool) {
	peer, ok := ctx.Value(peerKey{}).(Peer)
	return peer, ok
}
