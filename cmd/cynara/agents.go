// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/lukaszwojciechowski/cynara/lib/agent"
	"github.com/lukaszwojciechowski/cynara/lib/clock"
	"github.com/lukaszwojciechowski/cynara/lib/codec"
	"github.com/lukaszwojciechowski/cynara/lib/engine"
	"github.com/lukaszwojciechowski/cynara/lib/policy"
	"github.com/lukaszwojciechowski/cynara/lib/schema"
	"github.com/lukaszwojciechowski/cynara/lib/service"
)

// agentAnswerBuffer is the channel capacity for answers read from one
// agent before the handler posts them to the loop.
const agentAnswerBuffer = 16

// agentHub carries agent requests over the agent socket. It implements
// [agent.Channel]. All of its state belongs to the engine loop: the
// stream handlers only touch it through posted closures.
type agentHub struct {
	loop    *engine.Loop
	logic   *engine.Logic
	clock   clock.Clock
	timeout time.Duration
	logger  *slog.Logger

	// conns holds the connection serving each agent type. A new
	// registration for a type replaces the previous one.
	conns map[string]*agentConnection

	// requests maps outstanding request ids to their agent type, for
	// routing cancellations.
	requests map[string]string
	timers   map[string]*clock.Timer
}

// agentConnection is one registered agent stream.
type agentConnection struct {
	id        string
	agentType string
	frames    *outbox[schema.AgentFrame]
}

func newAgentHub(loop *engine.Loop, clk clock.Clock, timeout time.Duration, logger *slog.Logger) *agentHub {
	return &agentHub{
		loop:     loop,
		clock:    clk,
		timeout:  timeout,
		logger:   logger,
		conns:    make(map[string]*agentConnection),
		requests: make(map[string]string),
		timers:   make(map[string]*clock.Timer),
	}
}

// Request sends a request to the agent registered for its type. It
// fails when no such agent is connected.
func (h *agentHub) Request(request agent.Request) error {
	conn, ok := h.conns[request.AgentType]
	if !ok {
		return fmt.Errorf("no agent registered for type %q", request.AgentType)
	}
	h.requests[request.ID] = request.AgentType
	if h.timeout > 0 {
		id := request.ID
		h.timers[id] = h.clock.AfterFunc(h.timeout, func() {
			err := h.loop.Post(context.Background(), func() { h.expire(id) })
			if err != nil {
				h.logger.Debug("posting agent timeout", "request_id", id, "error", err)
			}
		})
	}
	conn.frames.Push(requestFrame(request))
	h.logger.Debug("agent request sent",
		"request_id", request.ID,
		"agent_type", request.AgentType,
		"session", request.Session,
	)
	return nil
}

// Cancel tells the agent a request was abandoned by all its waiters.
func (h *agentHub) Cancel(id string) {
	agentType, ok := h.forget(id)
	if !ok {
		return
	}
	if conn, ok := h.conns[agentType]; ok {
		conn.frames.Push(schema.AgentFrame{Kind: schema.AgentFrameCancel, ID: id})
	}
}

// forget drops the bookkeeping of a request and stops its timer.
func (h *agentHub) forget(id string) (string, bool) {
	agentType, ok := h.requests[id]
	if !ok {
		return "", false
	}
	delete(h.requests, id)
	if timer, ok := h.timers[id]; ok {
		timer.Stop()
		delete(h.timers, id)
	}
	return agentType, true
}

// expire fails a request whose agent did not answer in time.
func (h *agentHub) expire(id string) {
	delete(h.timers, id)
	agentType, ok := h.forget(id)
	if !ok {
		return
	}
	if h.logic.FailAgentCall(id, policy.FailureAgentTimeout) {
		h.logger.Info("agent request timed out",
			"request_id", id,
			"agent_type", agentType,
			"timeout", h.timeout,
		)
	}
	if conn, ok := h.conns[agentType]; ok {
		conn.frames.Push(schema.AgentFrame{Kind: schema.AgentFrameCancel, ID: id})
	}
}

// answer completes a request with an agent's answer. Only an agent of
// the type the request was sent to may answer it.
func (h *agentHub) answer(conn *agentConnection, answer schema.AgentAnswer) {
	agentType, ok := h.requests[answer.ID]
	if !ok {
		h.logger.Debug("discarding answer for unknown request",
			"request_id", answer.ID,
			"agent_type", conn.agentType,
		)
		return
	}
	if agentType != conn.agentType {
		h.logger.Warn("discarding answer from wrong agent type",
			"request_id", answer.ID,
			"agent_type", conn.agentType,
			"request_agent_type", agentType,
		)
		return
	}
	h.forget(answer.ID)
	result := policy.Result{Type: policy.Type(answer.Type), Metadata: answer.Metadata}
	h.logic.DeliverAgentAnswer(answer.ID, result)
}

// attach makes conn the agent for its type and re-sends every request
// still waiting for that type.
func (h *agentHub) attach(conn *agentConnection) int {
	if previous, ok := h.conns[conn.agentType]; ok {
		h.logger.Info("agent registration replaced",
			"agent_type", conn.agentType,
			"previous", previous.id,
		)
	}
	h.conns[conn.agentType] = conn
	outstanding := h.logic.Agents().Outstanding(conn.agentType)
	for _, request := range outstanding {
		conn.frames.Push(requestFrame(request))
	}
	return len(outstanding)
}

// detach removes conn unless a newer registration replaced it.
// Requests sent to it stay outstanding.
func (h *agentHub) detach(conn *agentConnection) {
	if h.conns[conn.agentType] == conn {
		delete(h.conns, conn.agentType)
	}
}

// registeredTypes lists the agent types with a connected agent.
func (h *agentHub) registeredTypes() []string {
	types := make([]string, 0, len(h.conns))
	for agentType := range h.conns {
		types = append(types, agentType)
	}
	slices.Sort(types)
	return types
}

// handleAgent serves one agent stream.
//
// Wire protocol after the acknowledgement:
//
//	Server → Agent: AgentFrame{Kind: "request", ID, AgentType, Session, Payload}
//	Server → Agent: AgentFrame{Kind: "cancel", ID}
//	Agent → Server: AgentAnswer{ID, Type, Metadata}
func (h *agentHub) handleAgent(ctx context.Context, raw []byte, netConn net.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	encoder := codec.NewEncoder(netConn)
	var register schema.AgentRegister
	if err := codec.Unmarshal(raw, &register); err != nil {
		service.RejectStream(encoder, schema.CodeInvalid, fmt.Sprintf("invalid registration: %v", err))
		return
	}
	if register.AgentType == "" {
		service.RejectStream(encoder, schema.CodeInvalid, "agent_type is required")
		return
	}
	if !slices.Contains(h.logic.Plugins().AgentTypes(), register.AgentType) {
		service.RejectStream(encoder, schema.CodeInvalid,
			fmt.Sprintf("no plugin is answered by agent type %q", register.AgentType))
		return
	}

	conn := &agentConnection{
		id:        uuid.NewString(),
		agentType: register.AgentType,
		frames:    newOutbox[schema.AgentFrame](),
	}
	logger := h.logger.With("agent_type", conn.agentType, "connection", conn.id)
	if peer, ok := service.PeerFromContext(ctx); ok {
		logger = logger.With("pid", peer.PID, "uid", peer.UID)
	}

	if err := service.AcceptStream(encoder, nil); err != nil {
		logger.Debug("writing agent acknowledgement", "error", err)
		return
	}
	resent, err := engine.Call(ctx, h.loop, func() (int, error) {
		return h.attach(conn), nil
	})
	if err != nil {
		logger.Debug("registering agent", "error", err)
		return
	}
	logger.Info("agent registered", "resent", resent)

	defer func() {
		err := h.loop.Post(context.Background(), func() { h.detach(conn) })
		if err != nil {
			logger.Debug("detaching agent", "error", err)
		}
		logger.Info("agent disconnected")
	}()

	answers := make(chan schema.AgentAnswer, agentAnswerBuffer)
	readDone := make(chan error, 1)
	go func() {
		decoder := codec.NewDecoder(netConn)
		for {
			var answer schema.AgentAnswer
			if err := decoder.Decode(&answer); err != nil {
				readDone <- err
				return
			}
			select {
			case answers <- answer:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case err := <-readDone:
			logger.Debug("agent stream closed", "reason", err)
			return

		case answer := <-answers:
			if err := h.loop.Post(ctx, func() { h.answer(conn, answer) }); err != nil {
				logger.Debug("posting agent answer", "request_id", answer.ID, "error", err)
				return
			}

		case <-conn.frames.Ready():
			for _, frame := range conn.frames.Drain() {
				netConn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
				if err := encoder.Encode(frame); err != nil {
					logger.Debug("agent write failed", "error", err)
					return
				}
			}
		}
	}
}

func requestFrame(request agent.Request) schema.AgentFrame {
	return schema.AgentFrame{
		Kind:      schema.AgentFrameRequest,
		ID:        request.ID,
		AgentType: request.AgentType,
		Session:   request.Session,
		Payload:   request.Payload,
	}
}
