// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/lukaszwojciechowski/cynara/lib/codec"
	"github.com/lukaszwojciechowski/cynara/lib/policy"
	"github.com/lukaszwojciechowski/cynara/lib/schema"
	"github.com/lukaszwojciechowski/cynara/lib/service"
	"github.com/lukaszwojciechowski/cynara/lib/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startServer runs server until the test ends.
func startServer(t *testing.T, server *service.SocketServer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, done, 5*time.Second, "Serve did not return"); err != nil {
			t.Errorf("Serve returned error: %v", err)
		}
	})
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "server did not become ready")
}

// closeOnDone unblocks a stream handler's reads when the server stops.
func closeOnDone(ctx context.Context, conn net.Conn) {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
}

func TestClientCheck(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "client.sock")
	server := service.NewSocketServer(socketPath, testLogger())
	server.Handle(schema.ActionCheck, func(ctx context.Context, raw []byte) (any, error) {
		var request schema.CheckRequest
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, err
		}
		if request.Client == "broken" {
			return schema.CheckResponse{Type: uint16(policy.TypeDeny), Failure: "policy_cycle"}, nil
		}
		return schema.CheckResponse{Type: uint16(policy.TypeAllow), Metadata: request.Privilege}, nil
	})
	startServer(t, server)

	client := New(socketPath)
	decision, err := client.Check(context.Background(), policy.NewKey("app", "1000", "camera"))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !decision.Allowed() || decision.Result.Metadata != "camera" {
		t.Errorf("decision = %+v, want ALLOW with metadata camera", decision)
	}

	decision, err = client.Check(context.Background(), policy.NewKey("broken", "1000", "camera"))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if decision.Failure != policy.FailurePolicyCycle || decision.Allowed() {
		t.Errorf("decision = %+v, want DENY with policy cycle failure", decision)
	}
}

func TestClientCheckServiceError(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "client.sock")
	server := service.NewSocketServer(socketPath, testLogger())
	server.SetErrorClassifier(func(error) string { return schema.CodeInvalid })
	server.Handle(schema.ActionCheck, func(ctx context.Context, raw []byte) (any, error) {
		return nil, errors.New("invalid policy key")
	})
	startServer(t, server)

	_, err := New(socketPath).Check(context.Background(), policy.NewKey("", "1000", "camera"))
	var serviceErr *service.ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("Check error = %v, want *service.ServiceError", err)
	}
	if serviceErr.Code != schema.CodeInvalid {
		t.Errorf("Code = %q, want %q", serviceErr.Code, schema.CodeInvalid)
	}
}

// sessionServer answers checks for client "app" immediately, holds
// every other check, and reports cancel frames and disconnects.
type sessionServer struct {
	cancels      chan uint64
	disconnected chan struct{}
	held         chan schema.SessionFrame
	encoder      chan *codec.Encoder
}

func startSessionServer(t *testing.T) string {
	t.Helper()
	socketPath, _ := startSessionServerWith(t)
	return socketPath
}

func startSessionServerWith(t *testing.T) (string, *sessionServer) {
	t.Helper()
	fake := &sessionServer{
		cancels:      make(chan uint64, 8),
		disconnected: make(chan struct{}),
		held:         make(chan schema.SessionFrame, 8),
		encoder:      make(chan *codec.Encoder, 1),
	}
	socketPath := filepath.Join(testutil.SocketDir(t), "client.sock")
	server := service.NewSocketServer(socketPath, testLogger())
	server.HandleStream(schema.ActionSession, func(ctx context.Context, raw []byte, conn net.Conn) {
		closeOnDone(ctx, conn)
		encoder := codec.NewEncoder(conn)
		if err := service.AcceptStream(encoder, schema.SessionAck{Session: "session-1"}); err != nil {
			return
		}
		fake.encoder <- encoder
		decoder := codec.NewDecoder(conn)
		for {
			var frame schema.SessionFrame
			if err := decoder.Decode(&frame); err != nil {
				close(fake.disconnected)
				return
			}
			switch {
			case frame.Kind == schema.FrameCancel:
				fake.cancels <- frame.ID
			case frame.Client == "app":
				encoder.Encode(schema.SessionResult{
					Kind: schema.FrameResult,
					ID:   frame.ID,
					Type: uint16(policy.TypeAllow),
				})
			case frame.Client == "bad":
				encoder.Encode(schema.SessionResult{
					Kind:  schema.FrameResult,
					ID:    frame.ID,
					Error: "invalid policy key",
				})
			default:
				fake.held <- frame
			}
		}
	})
	startServer(t, server)
	return socketPath, fake
}

func TestSessionCheck(t *testing.T) {
	socketPath := startSessionServer(t)
	session, err := New(socketPath).OpenSession(context.Background())
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	defer session.Close()

	if session.ID() != "session-1" {
		t.Errorf("ID = %q, want session-1", session.ID())
	}

	firstID, first, err := session.Check(policy.NewKey("app", "1000", "camera"))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	secondID, second, err := session.Check(policy.NewKey("app", "1000", "mic"))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if firstID == secondID {
		t.Fatalf("two checks share id %d", firstID)
	}

	for _, results := range []<-chan Result{first, second} {
		result := testutil.RequireReceive(t, results, 5*time.Second, "no result for session check")
		if result.Err != nil || !result.Decision.Allowed() {
			t.Errorf("result = %+v, want ALLOW", result)
		}
	}
}

func TestSessionCheckRejectedFrame(t *testing.T) {
	socketPath := startSessionServer(t)
	session, err := New(socketPath).OpenSession(context.Background())
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	defer session.Close()

	_, results, err := session.Check(policy.NewKey("bad", "1000", "camera"))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	result := testutil.RequireReceive(t, results, 5*time.Second, "no result for rejected frame")
	if result.Err == nil {
		t.Errorf("result = %+v, want an error", result)
	}
}

func TestSessionCancel(t *testing.T) {
	socketPath, fake := startSessionServerWith(t)
	session, err := New(socketPath).OpenSession(context.Background())
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	defer session.Close()

	id, results, err := session.Check(policy.NewKey("prompted", "1000", "camera"))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	testutil.RequireReceive(t, fake.held, 5*time.Second, "server did not receive the check")

	if err := session.Cancel(id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got := testutil.RequireReceive(t, fake.cancels, 5*time.Second, "server did not receive the cancel"); got != id {
		t.Errorf("cancelled id = %d, want %d", got, id)
	}
	if _, ok := <-results; ok {
		t.Error("cancelled check delivered a result")
	}
	if err := session.Cancel(id); err != nil {
		t.Errorf("second Cancel: %v", err)
	}
}

func TestSessionCloseEndsPendingChecks(t *testing.T) {
	socketPath, fake := startSessionServerWith(t)
	session, err := New(socketPath).OpenSession(context.Background())
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	_, results, err := session.Check(policy.NewKey("prompted", "1000", "camera"))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	testutil.RequireReceive(t, fake.held, 5*time.Second, "server did not receive the check")

	if err := session.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	testutil.RequireClosed(t, fake.disconnected, 5*time.Second, "server did not see the disconnect")
	if _, ok := <-results; ok {
		t.Error("pending check delivered a result after Close")
	}
	if _, _, err := session.Check(policy.NewKey("app", "1000", "camera")); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Check after Close error = %v, want ErrSessionClosed", err)
	}
	if session.Err() != nil {
		t.Errorf("Err after Close = %v, want nil", session.Err())
	}
}

func TestSessionLateResult(t *testing.T) {
	socketPath, fake := startSessionServerWith(t)
	session, err := New(socketPath).OpenSession(context.Background())
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	defer session.Close()

	_, results, err := session.Check(policy.NewKey("prompted", "1000", "camera"))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	held := testutil.RequireReceive(t, fake.held, 5*time.Second, "server did not receive the check")

	// The held check is answered after the client moved on.
	encoder := testutil.RequireReceive(t, fake.encoder, 5*time.Second, "no server encoder")
	encoder.Encode(schema.SessionResult{Kind: schema.FrameResult, ID: held.ID, Type: uint16(policy.TypeDeny)})
	result := testutil.RequireReceive(t, results, 5*time.Second, "no result for held check")
	if result.Decision.Allowed() {
		t.Errorf("result = %+v, want DENY", result)
	}
}

func TestSessionRejected(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "client.sock")
	server := service.NewSocketServer(socketPath, testLogger())
	server.HandleStream(schema.ActionSession, func(ctx context.Context, raw []byte, conn net.Conn) {
		service.RejectStream(codec.NewEncoder(conn), schema.CodeInternal, "engine stopped")
	})
	startServer(t, server)

	_, err := New(socketPath).OpenSession(context.Background())
	var serviceErr *service.ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code != schema.CodeInternal {
		t.Fatalf("OpenSession error = %v, want internal ServiceError", err)
	}
}
