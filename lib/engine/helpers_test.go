// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/lukaszwojciechowski/cynara/lib/agent"
	"github.com/lukaszwojciechowski/cynara/lib/policy"
	"github.com/lukaszwojciechowski/cynara/lib/storage"
)

const askUser policy.Type = 0x10

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeChannel records agent requests. Setting refuse makes every new
// request fail.
type fakeChannel struct {
	requests  []agent.Request
	cancelled []string
	refuse    bool
}

func (c *fakeChannel) Request(request agent.Request) error {
	if c.refuse {
		return errors.New("no agent connected")
	}
	c.requests = append(c.requests, request)
	return nil
}

func (c *fakeChannel) Cancel(id string) {
	c.cancelled = append(c.cancelled, id)
}

// countingSource counts bucket reads made by the walk.
type countingSource struct {
	store *storage.Storage
	reads int
}

func (s *countingSource) Bucket(id string) (*policy.Bucket, error) {
	s.reads++
	return s.store.Bucket(id)
}

type testEngine struct {
	logic   *Logic
	store   *storage.Storage
	backend *storage.MemoryBackend
	channel *fakeChannel
	source  *countingSource
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	backend := storage.NewMemoryBackend()
	store := storage.New(backend, testLogger())
	if err := store.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	plugins, err := NewPlugins([]Plugin{{Type: askUser, Name: "ask-user", Agent: "prompt"}})
	if err != nil {
		t.Fatalf("NewPlugins: %v", err)
	}
	channel := &fakeChannel{}
	source := &countingSource{store: store}
	logic := NewLogic(Config{
		Storage: store,
		Plugins: plugins,
		Channel: channel,
		Logger:  testLogger(),
		Buckets: source,
	})
	return &testEngine{logic: logic, store: store, backend: backend, channel: channel, source: source}
}

func (e *testEngine) setBucket(t *testing.T, id string, defaultResult policy.Result) {
	t.Helper()
	if err := e.logic.SetBucket(context.Background(), id, defaultResult); err != nil {
		t.Fatalf("SetBucket(%q): %v", id, err)
	}
}

func (e *testEngine) setPolicy(t *testing.T, bucket string, key policy.Key, result policy.Result) {
	t.Helper()
	batch := storage.Batch{Set: []storage.Entry{{Bucket: bucket, Key: key, Result: result}}}
	if err := e.logic.SetPolicies(context.Background(), batch); err != nil {
		t.Fatalf("SetPolicies(%q, %s): %v", bucket, key, err)
	}
}

// recorder collects the decisions delivered to one check.
type recorder struct {
	decisions []policy.Decision
}

func (r *recorder) callback(decision policy.Decision) {
	r.decisions = append(r.decisions, decision)
}

// only returns the single delivered decision, failing otherwise.
func (r *recorder) only(t *testing.T) policy.Decision {
	t.Helper()
	if len(r.decisions) != 1 {
		t.Fatalf("delivered %d decisions, want exactly 1", len(r.decisions))
	}
	return r.decisions[0]
}

func (e *testEngine) check(t *testing.T, request CheckRequest) *recorder {
	t.Helper()
	r := &recorder{}
	if err := e.logic.Check(request, r.callback); err != nil {
		t.Fatalf("Check(%s): %v", request.Key, err)
	}
	return r
}

func (e *testEngine) checkNow(t *testing.T, bucket string, key policy.Key) policy.Decision {
	t.Helper()
	return e.check(t, CheckRequest{Key: key, Bucket: bucket}).only(t)
}
