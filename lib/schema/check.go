// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package schema

// CheckRequest asks for a decision on one key against the default
// bucket. It is the body of the one-shot "check" action, which never
// waits for an agent.
type CheckRequest struct {
	Client    string `cbor:"client"`
	User      string `cbor:"user"`
	Privilege string `cbor:"privilege"`
}

// CheckResponse is a decision. Failure is empty for ordinary results
// and names the resolution failure otherwise (Type is then DENY).
type CheckResponse struct {
	Type     uint16 `cbor:"type"`
	Metadata string `cbor:"metadata,omitempty"`
	Failure  string `cbor:"failure,omitempty"`
}

// Session frame kinds.
const (
	FrameCheck  = "check"
	FrameCancel = "cancel"
	FrameResult = "result"
)

// SessionFrame is sent by a client on the session stream. A check
// frame carries a key; a cancel frame only the id of an earlier check.
// Ids are chosen by the client and must be unique within the session.
type SessionFrame struct {
	Kind      string `cbor:"kind"`
	ID        uint64 `cbor:"id"`
	Client    string `cbor:"client,omitempty"`
	User      string `cbor:"user,omitempty"`
	Privilege string `cbor:"privilege,omitempty"`
}

// SessionResult answers one check frame. Error is set instead of a
// decision when the frame itself was invalid.
type SessionResult struct {
	Kind     string `cbor:"kind"`
	ID       uint64 `cbor:"id"`
	Type     uint16 `cbor:"type"`
	Metadata string `cbor:"metadata,omitempty"`
	Failure  string `cbor:"failure,omitempty"`
	Error    string `cbor:"error,omitempty"`
}

// SessionAck is the acknowledgement data of the session stream.
type SessionAck struct {
	Session string `cbor:"session"`
}

// StatusResponse reports daemon health.
type StatusResponse struct {
	Version       string   `cbor:"version"`
	UptimeSeconds float64  `cbor:"uptime_seconds"`
	Buckets       int      `cbor:"buckets"`
	CacheEntries  int      `cbor:"cache_entries"`
	PendingCalls  int      `cbor:"pending_calls"`
	Agents        []string `cbor:"agents,omitempty"`
}
