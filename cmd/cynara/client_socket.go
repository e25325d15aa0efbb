// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/lukaszwojciechowski/cynara/lib/codec"
	"github.com/lukaszwojciechowski/cynara/lib/engine"
	"github.com/lukaszwojciechowski/cynara/lib/policy"
	"github.com/lukaszwojciechowski/cynara/lib/schema"
	"github.com/lukaszwojciechowski/cynara/lib/service"
	"github.com/lukaszwojciechowski/cynara/lib/storage"
	"github.com/lukaszwojciechowski/cynara/lib/version"
)

// streamWriteTimeout bounds each frame written to a session or agent.
// A peer that stops reading for this long is disconnected.
const streamWriteTimeout = 10 * time.Second

// sessionFrameBuffer is the channel capacity for frames read from one
// session before the handler processes them.
const sessionFrameBuffer = 16

func (d *Daemon) registerClientActions(server *service.SocketServer) {
	server.Handle(schema.ActionCheck, d.handleCheck)
	server.Handle(schema.ActionStatus, d.handleStatus)
	server.HandleStream(schema.ActionSession, d.handleSession)
}

// handleCheck answers a one-shot check. It is a simple check: a plugin
// policy on the path yields DENY instead of waiting for an agent, so
// the decision is always available before the loop event returns.
func (d *Daemon) handleCheck(ctx context.Context, raw []byte) (any, error) {
	var request schema.CheckRequest
	if err := decodeRequest(raw, &request); err != nil {
		return nil, err
	}
	key := policy.NewKey(request.Client, request.User, request.Privilege)

	decision, err := engine.Call(ctx, d.loop, func() (policy.Decision, error) {
		var (
			decision  policy.Decision
			delivered bool
		)
		err := d.logic.Check(engine.CheckRequest{
			Key:    key,
			Bucket: storage.DefaultBucketID,
			Simple: true,
		}, func(result policy.Decision) {
			decision = result
			delivered = true
		})
		if err != nil {
			return policy.Decision{}, err
		}
		if !delivered {
			return policy.Decision{}, errors.New("simple check did not complete")
		}
		return decision, nil
	})
	if err != nil {
		return nil, err
	}
	return checkResponse(decision), nil
}

func (d *Daemon) handleStatus(ctx context.Context, _ []byte) (any, error) {
	return engine.Call(ctx, d.loop, func() (schema.StatusResponse, error) {
		return schema.StatusResponse{
			Version:       version.Short(),
			UptimeSeconds: d.clock.Now().Sub(d.startedAt).Seconds(),
			Buckets:       len(d.logic.Storage().Buckets()),
			CacheEntries:  d.logic.Cache().Len(),
			PendingCalls:  d.logic.Agents().Len(),
			Agents:        d.agents.registeredTypes(),
		}, nil
	})
}

// handleSession serves one session stream. Checks sent on it may wait
// for an agent; results are written as they complete, in completion
// order. Closing the connection cancels every check still waiting.
//
// Wire protocol after the acknowledgement:
//
//	Client → Server: SessionFrame{Kind: "check", ID, Client, User, Privilege}
//	Client → Server: SessionFrame{Kind: "cancel", ID}
//	Server → Client: SessionResult{Kind: "result", ID, Type, Metadata, Failure}
func (d *Daemon) handleSession(ctx context.Context, _ []byte, conn net.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sessionID := uuid.NewString()
	encoder := codec.NewEncoder(conn)
	if err := service.AcceptStream(encoder, schema.SessionAck{Session: sessionID}); err != nil {
		d.logger.Debug("writing session acknowledgement", "error", err)
		return
	}
	logger := d.logger.With("session", sessionID)
	if peer, ok := service.PeerFromContext(ctx); ok {
		logger = logger.With("pid", peer.PID, "uid", peer.UID)
	}
	logger.Debug("session opened")

	defer func() {
		err := d.loop.Post(context.Background(), func() {
			if cancelled := d.logic.CancelSession(sessionID); cancelled > 0 {
				logger.Debug("cancelled pending checks of closed session", "checks", cancelled)
			}
		})
		if err != nil {
			logger.Debug("cancelling session checks", "error", err)
		}
	}()

	results := newOutbox[schema.SessionResult]()
	frames := make(chan schema.SessionFrame, sessionFrameBuffer)
	readDone := make(chan error, 1)
	go func() {
		decoder := codec.NewDecoder(conn)
		for {
			var frame schema.SessionFrame
			if err := decoder.Decode(&frame); err != nil {
				readDone <- err
				return
			}
			select {
			case frames <- frame:
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
			logger.Debug("session closed", "reason", err)
			return

		case frame := <-frames:
			d.handleSessionFrame(ctx, sessionID, frame, results)

		case <-results.Ready():
			for _, result := range results.Drain() {
				conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
				if err := encoder.Encode(result); err != nil {
					logger.Debug("session write failed", "error", err)
					return
				}
			}
		}
	}
}

func (d *Daemon) handleSessionFrame(ctx context.Context, sessionID string, frame schema.SessionFrame, results *outbox[schema.SessionResult]) {
	switch frame.Kind {
	case schema.FrameCheck:
		key := policy.NewKey(frame.Client, frame.User, frame.Privilege)
		id := frame.ID
		err := d.loop.Post(ctx, func() {
			err := d.logic.Check(engine.CheckRequest{
				Key:       key,
				Bucket:    storage.DefaultBucketID,
				Session:   sessionID,
				RequestID: id,
			}, func(decision policy.Decision) {
				results.Push(sessionResult(id, decision))
			})
			if err != nil {
				results.Push(sessionError(id, err))
			}
		})
		if err != nil {
			results.Push(sessionError(id, err))
		}

	case schema.FrameCancel:
		id := frame.ID
		if err := d.loop.Post(ctx, func() { d.logic.Cancel(sessionID, id) }); err != nil {
			d.logger.Debug("posting cancel", "session", sessionID, "id", id, "error", err)
		}

	default:
		results.Push(sessionError(frame.ID, fmt.Errorf("unknown frame kind %q", frame.Kind)))
	}
}

func checkResponse(decision policy.Decision) schema.CheckResponse {
	return schema.CheckResponse{
		Type:     uint16(decision.Result.Type),
		Metadata: decision.Result.Metadata,
		Failure:  decision.Failure.String(),
	}
}

func sessionResult(id uint64, decision policy.Decision) schema.SessionResult {
	return schema.SessionResult{
		Kind:     schema.FrameResult,
		ID:       id,
		Type:     uint16(decision.Result.Type),
		Metadata: decision.Result.Metadata,
		Failure:  decision.Failure.String(),
	}
}

func sessionError(id uint64, err error) schema.SessionResult {
	return schema.SessionResult{
		Kind:  schema.FrameResult,
		ID:    id,
		Type:  uint16(policy.TypeDeny),
		Error: err.Error(),
	}
}
