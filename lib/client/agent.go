// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/lukaszwojciechowski/cynara/lib/policy"
	"github.com/lukaszwojciechowski/cynara/lib/schema"
	"github.com/lukaszwojciechowski/cynara/lib/service"
)

// AgentRequest is one question the daemon asks an agent, or the
// retraction of an earlier one when Cancelled is set.
type AgentRequest struct {
	ID        string
	Session   string
	Cancelled bool

	// Payload describes the check. It is zero for cancellations.
	Payload schema.AgentPayload
}

// AgentConn is a registered agent connection. Receive must be called
// from one goroutine; Answer may be called from any.
type AgentConn struct {
	stream    *service.Stream
	agentType string

	sendMu sync.Mutex
}

// RegisterAgent connects to the agent socket and registers as the
// handler for agentType. Requests still waiting for this agent type
// are re-sent right after registration.
func RegisterAgent(ctx context.Context, socketPath, agentType string) (*AgentConn, error) {
	client := service.NewServiceClient(socketPath)
	stream, err := client.OpenStream(ctx, schema.ActionAgent, schema.AgentRegister{AgentType: agentType})
	if err != nil {
		return nil, fmt.Errorf("registering agent %q: %w", agentType, err)
	}
	return &AgentConn{stream: stream, agentType: agentType}, nil
}

// AgentType returns the registered agent type.
func (a *AgentConn) AgentType() string {
	return a.agentType
}

// Receive blocks for the next frame from the daemon.
func (a *AgentConn) Receive() (AgentRequest, error) {
	for {
		var frame schema.AgentFrame
		if err := a.stream.Receive(&frame); err != nil {
			return AgentRequest{}, err
		}
		switch frame.Kind {
		case schema.AgentFrameCancel:
			return AgentRequest{ID: frame.ID, Cancelled: true}, nil
		case schema.AgentFrameRequest:
			payload, err := schema.DecodeAgentPayload(frame.Payload)
			if err != nil {
				return AgentRequest{}, fmt.Errorf("decoding payload of request %s: %w", frame.ID, err)
			}
			return AgentRequest{ID: frame.ID, Session: frame.Session, Payload: payload}, nil
		}
	}
}

// Answer replies to request id. The daemon continues policy resolution
// with result, which is normally ALLOW or DENY.
func (a *AgentConn) Answer(id string, result policy.Result) error {
	a.sendMu.Lock()
	defer a.sendMu.Unlock()
	answer := schema.AgentAnswer{ID: id, Type: uint16(result.Type), Metadata: result.Metadata}
	if err := a.stream.Send(answer); err != nil {
		return fmt.Errorf("answering request %s: %w", id, err)
	}
	return nil
}

// Close disconnects the agent. Requests it did not answer stay
// outstanding until another agent of the same type registers.
func (a *AgentConn) Close() error {
	return a.stream.Close()
}
