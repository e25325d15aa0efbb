// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lukaszwojciechowski/cynara/lib/client"
	"github.com/lukaszwojciechowski/cynara/lib/policy"
	"github.com/lukaszwojciechowski/cynara/lib/schema"
	"github.com/lukaszwojciechowski/cynara/lib/testutil"
)

type answer struct {
	id     string
	result policy.Result
}

type fakeAnswerer struct {
	answers chan answer
}

func (f *fakeAnswerer) Answer(id string, result policy.Result) error {
	f.answers <- answer{id: id, result: result}
	return nil
}

// lockedBuffer is written by the prompter goroutine and read by the test.
type lockedBuffer struct {
	mu     sync.Mutex
	buffer bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffer.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffer.String()
}

type promptHarness struct {
	answers  chan answer
	requests chan client.AgentRequest
	keys     chan byte
	output   *lockedBuffer
	done     chan error
	cancel   context.CancelFunc
}

func startPrompter(t *testing.T) *promptHarness {
	t.Helper()
	h := &promptHarness{
		answers:  make(chan answer, 8),
		requests: make(chan client.AgentRequest),
		keys:     make(chan byte),
		output:   &lockedBuffer{},
		done:     make(chan error, 1),
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	p := newPrompter(&fakeAnswerer{answers: h.answers}, h.output, "\n")
	go func() {
		h.done <- p.run(ctx, h.requests, h.keys)
	}()
	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, h.done, 5*time.Second, "prompter did not stop")
	})
	return h
}

func request(id, clientName string) client.AgentRequest {
	return client.AgentRequest{ID: id, Payload: schema.AgentPayload{Client: clientName, User: "1000", Privilege: "camera"}}
}

func TestActionForKey(t *testing.T) {
	tests := map[byte]keyAction{
		'y': keyAllow, 'Y': keyAllow,
		'n': keyDeny, 'N': keyDeny,
		'q': keyQuit, ctrlC: keyQuit,
		'x': keyIgnored, '\r': keyIgnored,
	}
	for key, want := range tests {
		if got := actionForKey(key); got != want {
			t.Errorf("actionForKey(%q) = %v, want %v", key, got, want)
		}
	}
}

func TestRenderRequest(t *testing.T) {
	rendered := renderRequest(newPromptStyles(), client.AgentRequest{
		ID:      "r1",
		Payload: schema.AgentPayload{Client: "org.example.app", User: "1000", Privilege: "camera", Metadata: "once"},
	}, 2)
	for _, want := range []string{"org.example.app", "1000", "camera", "once", "2 more waiting", "[y] allow"} {
		if !strings.Contains(rendered, want) {
			t.Errorf("rendered request missing %q:\n%s", want, rendered)
		}
	}
}

func TestPrompterAnswersInOrder(t *testing.T) {
	h := startPrompter(t)
	testutil.RequireSend(t, h.requests, request("r1", "first"), 5*time.Second, "sending r1")
	testutil.RequireSend(t, h.requests, request("r2", "second"), 5*time.Second, "sending r2")

	testutil.RequireSend(t, h.keys, 'x', 5*time.Second, "sending ignored key")
	testutil.RequireSend(t, h.keys, 'y', 5*time.Second, "sending y")
	got := testutil.RequireReceive(t, h.answers, 5*time.Second, "first answer")
	if got.id != "r1" || got.result.Type != policy.TypeAllow {
		t.Errorf("first answer = %+v, want ALLOW for r1", got)
	}

	testutil.RequireSend(t, h.keys, 'n', 5*time.Second, "sending n")
	got = testutil.RequireReceive(t, h.answers, 5*time.Second, "second answer")
	if got.id != "r2" || got.result.Type != policy.TypeDeny {
		t.Errorf("second answer = %+v, want DENY for r2", got)
	}

	// Nothing queued: the key is ignored.
	testutil.RequireSend(t, h.keys, 'y', 5*time.Second, "sending y to empty queue")
	testutil.RequireSend(t, h.keys, 'q', 5*time.Second, "sending q")
	if err := testutil.RequireReceive(t, h.done, 5*time.Second, "quit"); err != nil {
		t.Errorf("run returned %v after quit", err)
	}
	h.done <- nil
	testutil.RequireNoReceive(t, h.answers, 10*time.Millisecond, "answer for an empty queue")

	if !strings.Contains(h.output.String(), "second") {
		t.Errorf("output never showed the second request:\n%s", h.output.String())
	}
}

func TestPrompterDropsWithdrawnRequests(t *testing.T) {
	h := startPrompter(t)
	testutil.RequireSend(t, h.requests, request("r1", "first"), 5*time.Second, "sending r1")
	testutil.RequireSend(t, h.requests, request("r2", "second"), 5*time.Second, "sending r2")
	testutil.RequireSend(t, h.requests, client.AgentRequest{ID: "r1", Cancelled: true}, 5*time.Second, "cancelling r1")
	testutil.RequireSend(t, h.requests, client.AgentRequest{ID: "unknown", Cancelled: true}, 5*time.Second, "cancelling unknown")

	testutil.RequireSend(t, h.keys, 'y', 5*time.Second, "sending y")
	got := testutil.RequireReceive(t, h.answers, 5*time.Second, "answer")
	if got.id != "r2" {
		t.Errorf("answered %q, want r2", got.id)
	}
	if !strings.Contains(h.output.String(), "Request withdrawn.") {
		t.Errorf("output does not mention the withdrawal:\n%s", h.output.String())
	}
}

func TestPrompterDaemonClosed(t *testing.T) {
	h := startPrompter(t)
	close(h.requests)
	err := testutil.RequireReceive(t, h.done, 5*time.Second, "run did not return")
	if !errors.Is(err, errDaemonClosed) {
		t.Errorf("run error = %v, want errDaemonClosed", err)
	}
	h.done <- nil
}
