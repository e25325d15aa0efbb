// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "github.com/lukaszwojciechowski/cynara/lib/codec"

// AgentRegister is the body of the request that opens the agent
// stream.
type AgentRegister struct {
	AgentType string `cbor:"agent_type"`
}

// Agent frame kinds sent by the daemon.
const (
	AgentFrameRequest = "request"
	AgentFrameCancel  = "cancel"
)

// AgentFrame is sent by the daemon to an agent. A cancel frame only
// carries the id; the agent should drop any prompt it shows for it.
type AgentFrame struct {
	Kind      string `cbor:"kind"`
	ID        string `cbor:"id"`
	AgentType string `cbor:"agent_type,omitempty"`
	Session   string `cbor:"session,omitempty"`
	Payload   []byte `cbor:"payload,omitempty"`
}

// AgentAnswer is sent by an agent for a request id. Type is the
// decision, usually ALLOW or DENY.
type AgentAnswer struct {
	ID       string `cbor:"id"`
	Type     uint16 `cbor:"type"`
	Metadata string `cbor:"metadata,omitempty"`
}

// AgentPayload describes the check an agent is asked about. Metadata
// is the plugin policy's metadata.
type AgentPayload struct {
	Client    string `cbor:"client"`
	User      string `cbor:"user"`
	Privilege string `cbor:"privilege"`
	Metadata  string `cbor:"metadata,omitempty"`
}

// Encode returns the deterministic encoding of p. Equal payloads
// encode to equal bytes, which is what agent call coalescing keys on.
func (p AgentPayload) Encode() ([]byte, error) {
	return codec.Marshal(p)
}

// DecodeAgentPayload parses an encoded payload.
func DecodeAgentPayload(data []byte) (AgentPayload, error) {
	var payload AgentPayload
	err := codec.Unmarshal(data, &payload)
	return payload, err
}
