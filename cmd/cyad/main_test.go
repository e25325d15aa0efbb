// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lukaszwojciechowski/cynara/cmd/cyad/cli"
	"github.com/lukaszwojciechowski/cynara/lib/client"
	"github.com/lukaszwojciechowski/cynara/lib/codec"
	"github.com/lukaszwojciechowski/cynara/lib/policy"
	"github.com/lukaszwojciechowski/cynara/lib/schema"
	"github.com/lukaszwojciechowski/cynara/lib/service"
	"github.com/lukaszwojciechowski/cynara/lib/testutil"
)

const askUser = policy.Type(0x10)

var errBusy = errors.New("database is locked")

// fakeDaemon serves the admin actions cyad uses. It records requests,
// answers checks from a canned decision, and fails every action with
// errBusy while busy is set.
type fakeDaemon struct {
	socket string

	mu       sync.Mutex
	requests map[string][]byte
	check    schema.CheckResponse
	busy     bool
}

func (d *fakeDaemon) request(action string) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests[action]
}

func (d *fakeDaemon) setBusy(busy bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.busy = busy
}

func startFakeDaemon(t *testing.T) *fakeDaemon {
	t.Helper()
	daemon := &fakeDaemon{
		socket:   filepath.Join(testutil.SocketDir(t), "admin.sock"),
		requests: make(map[string][]byte),
		check:    schema.CheckResponse{Type: uint16(policy.TypeAllow)},
	}
	server := service.NewSocketServer(daemon.socket, slog.New(slog.DiscardHandler))
	server.SetErrorClassifier(func(err error) string {
		if errors.Is(err, errBusy) {
			return schema.CodeBusy
		}
		return schema.CodeInvalid
	})

	responses := map[string]func() any{
		schema.ActionSetBucket:    func() any { return nil },
		schema.ActionDeleteBucket: func() any { return nil },
		schema.ActionSetPolicies:  func() any { return nil },
		schema.ActionImport:       func() any { return nil },
		schema.ActionErase:        func() any { return schema.EraseResponse{Removed: 2} },
		schema.ActionListPolicies: func() any {
			return schema.ListPoliciesResponse{Policies: []schema.PolicyEntry{
				{Bucket: "apps", Client: "app", User: "*", Privilege: "camera", Type: uint16(policy.TypeAllow)},
				{Bucket: "apps", Client: "app", User: "1000", Privilege: "mic", Type: uint16(askUser), Metadata: "a;b"},
			}}
		},
		schema.ActionAdminCheck: func() any {
			daemon.mu.Lock()
			defer daemon.mu.Unlock()
			return daemon.check
		},
		schema.ActionDescriptions: func() any {
			return schema.DescriptionsResponse{Descriptions: []schema.Description{
				{Type: uint16(policy.TypeDeny), Name: "DENY"},
				{Type: uint16(policy.TypeAllow), Name: "ALLOW"},
				{Type: uint16(askUser), Name: "ask-user"},
			}}
		},
		schema.ActionExport: func() any { return schema.SnapshotMessage{Snapshot: []byte("snapshot-bytes")} },
	}
	for action, respond := range responses {
		server.Handle(action, func(ctx context.Context, raw []byte) (any, error) {
			daemon.mu.Lock()
			daemon.requests[action] = raw
			busy := daemon.busy
			daemon.mu.Unlock()
			if busy {
				return nil, errBusy
			}
			return respond(), nil
		})
	}

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
	return daemon
}

// runCyad executes one cyad command line against daemon.
func runCyad(t *testing.T, daemon *fakeDaemon, stdin string, args ...string) (string, error) {
	t.Helper()
	var stdout bytes.Buffer
	env := &environment{stdin: strings.NewReader(stdin), stdout: &stdout, stderr: io.Discard}
	full := append([]string{args[0], "--socket", daemon.socket}, args[1:]...)
	err := root(env).Execute(full)
	return stdout.String(), err
}

func decodeRequest[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var request T
	if err := codec.Unmarshal(raw, &request); err != nil {
		t.Fatalf("decoding request: %v", err)
	}
	return request
}

func TestParseBulk(t *testing.T) {
	daemon := startFakeDaemon(t)
	types := newTypeResolver(client.NewAdmin(daemon.socket))
	input := strings.Join([]string{
		"# camera policies",
		"",
		";app;*;camera;allow",
		"apps;app;1000;mic;ask-user;prompt;twice",
		"apps;*;*;*;0xFFFE;other",
	}, "\n")

	entries, err := parseBulk(context.Background(), strings.NewReader(input), types)
	if err != nil {
		t.Fatalf("parseBulk: %v", err)
	}
	want := []schema.PolicyEntry{
		{Bucket: "", Client: "app", User: "*", Privilege: "camera", Type: uint16(policy.TypeAllow)},
		{Bucket: "apps", Client: "app", User: "1000", Privilege: "mic", Type: uint16(askUser), Metadata: "prompt;twice"},
		{Bucket: "apps", Client: "*", User: "*", Privilege: "*", Type: uint16(policy.TypeBucket), Metadata: "other"},
	}
	if len(entries) != len(want) {
		t.Fatalf("parseBulk returned %d entries, want %d", len(entries), len(want))
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, entries[i], want[i])
		}
	}
}

func TestParseBulkErrors(t *testing.T) {
	daemon := startFakeDaemon(t)
	types := newTypeResolver(client.NewAdmin(daemon.socket))
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"too few fields", "apps;app;1000", "line 1"},
		{"unknown type", "\napps;app;1000;mic;maybe", "line 2"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := parseBulk(context.Background(), strings.NewReader(test.input), types)
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Errorf("parseBulk error = %v, want mention of %q", err, test.want)
			}
		})
	}
}

func TestFormatEntryParsesBack(t *testing.T) {
	daemon := startFakeDaemon(t)
	types := newTypeResolver(client.NewAdmin(daemon.socket))
	entry := schema.PolicyEntry{Bucket: "apps", Client: "app", User: "*", Privilege: "camera", Type: uint16(askUser), Metadata: "x;y"}

	line := formatEntry(entry)
	if line != "apps;app;*;camera;16;x;y" {
		t.Errorf("formatEntry = %q", line)
	}
	entries, err := parseBulk(context.Background(), strings.NewReader(line), types)
	if err != nil {
		t.Fatalf("parseBulk: %v", err)
	}
	if len(entries) != 1 || entries[0] != entry {
		t.Errorf("parsed back %+v, want %+v", entries, entry)
	}
}

func TestSetBucketResolvesPluginName(t *testing.T) {
	daemon := startFakeDaemon(t)
	if _, err := runCyad(t, daemon, "", "set-bucket", "apps", "--type", "Ask-User", "--metadata", "why"); err != nil {
		t.Fatalf("set-bucket: %v", err)
	}
	request := decodeRequest[schema.SetBucketRequest](t, daemon.request(schema.ActionSetBucket))
	if request.Bucket != "apps" || request.Type != uint16(askUser) || request.Metadata != "why" {
		t.Errorf("set-bucket request = %+v", request)
	}
}

func TestSetPolicySingleAndBulk(t *testing.T) {
	daemon := startFakeDaemon(t)

	if _, err := runCyad(t, daemon, "", "set-policy", "-c", "app", "-u", "*", "-p", "camera", "-t", "deny"); err != nil {
		t.Fatalf("set-policy: %v", err)
	}
	single := decodeRequest[schema.SetPoliciesRequest](t, daemon.request(schema.ActionSetPolicies))
	if len(single.Set) != 1 || single.Set[0].Client != "app" || single.Set[0].Type != uint16(policy.TypeDeny) {
		t.Errorf("single set-policy request = %+v", single)
	}

	bulk := "apps;app;*;camera;allow\napps;app;*;mic;ask-user\n"
	if _, err := runCyad(t, daemon, bulk, "set-policy", "--bulk", "-"); err != nil {
		t.Fatalf("set-policy --bulk: %v", err)
	}
	many := decodeRequest[schema.SetPoliciesRequest](t, daemon.request(schema.ActionSetPolicies))
	if len(many.Set) != 2 || many.Set[1].Type != uint16(askUser) {
		t.Errorf("bulk set-policy request = %+v", many)
	}

	if _, err := runCyad(t, daemon, "", "set-policy", "-c", "app", "-t", "allow"); err == nil {
		t.Error("set-policy without --user and --privilege should fail")
	}
}

func TestEraseAndListPolicies(t *testing.T) {
	daemon := startFakeDaemon(t)

	output, err := runCyad(t, daemon, "", "erase", "--bucket", "apps", "--recursive", "--client", "app")
	if err != nil {
		t.Fatalf("erase: %v", err)
	}
	if output != "removed 2 policies\n" {
		t.Errorf("erase output = %q", output)
	}
	erase := decodeRequest[schema.EraseRequest](t, daemon.request(schema.ActionErase))
	if !erase.Recursive || erase.Filter.Client != "app" || erase.Filter.User != policy.Any {
		t.Errorf("erase request = %+v", erase)
	}

	output, err = runCyad(t, daemon, "", "list-policies", "--bucket", "apps")
	if err != nil {
		t.Fatalf("list-policies: %v", err)
	}
	want := "apps;app;*;camera;ALLOW;\napps;app;1000;mic;16;a;b\n"
	if output != want {
		t.Errorf("list-policies output = %q, want %q", output, want)
	}

	output, err = runCyad(t, daemon, "", "list-policies", "--bucket", "apps", "--json")
	if err != nil {
		t.Fatalf("list-policies --json: %v", err)
	}
	var entries []map[string]any
	if err := json.Unmarshal([]byte(output), &entries); err != nil {
		t.Fatalf("list-policies --json output is not JSON: %v\n%s", err, output)
	}
	if len(entries) != 2 {
		t.Errorf("list-policies --json returned %d entries, want 2", len(entries))
	}
}

func TestListDescriptions(t *testing.T) {
	daemon := startFakeDaemon(t)
	output, err := runCyad(t, daemon, "", "list-policies-descriptions")
	if err != nil {
		t.Fatalf("list-policies-descriptions: %v", err)
	}
	if output != "0;DENY\n65535;ALLOW\n16;ask-user\n" {
		t.Errorf("output = %q", output)
	}
}

func TestCheckExitStatus(t *testing.T) {
	daemon := startFakeDaemon(t)

	output, err := runCyad(t, daemon, "", "check", "-r", "-c", "app", "-u", "1000", "-p", "camera")
	if err != nil {
		t.Fatalf("check ALLOW: %v", err)
	}
	if output != "65535;\n" {
		t.Errorf("check output = %q, want %q", output, "65535;\n")
	}
	request := decodeRequest[schema.AdminCheckRequest](t, daemon.request(schema.ActionAdminCheck))
	if !request.Recursive || request.Privilege != "camera" {
		t.Errorf("check request = %+v", request)
	}

	daemon.mu.Lock()
	daemon.check = schema.CheckResponse{Type: uint16(policy.TypeDeny), Failure: policy.FailurePolicyCycle.String()}
	daemon.mu.Unlock()

	output, err = runCyad(t, daemon, "", "check", "-c", "app", "-u", "1000", "-p", "camera")
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 1 {
		t.Fatalf("check DENY error = %v, want exit code 1", err)
	}
	if output != "0; (policy_cycle)\n" {
		t.Errorf("check DENY output = %q", output)
	}
}

func TestBusyDaemonReportsServiceUnavailable(t *testing.T) {
	daemon := startFakeDaemon(t)
	daemon.setBusy(true)

	_, err := runCyad(t, daemon, "", "delete-bucket", "apps")
	if err == nil || !strings.HasPrefix(err.Error(), "service unavailable: ") {
		t.Errorf("delete-bucket error = %v, want service unavailable", err)
	}
}

func TestExportImport(t *testing.T) {
	daemon := startFakeDaemon(t)

	output, err := runCyad(t, daemon, "", "export")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if output != "snapshot-bytes" {
		t.Errorf("export output = %q", output)
	}

	path := filepath.Join(t.TempDir(), "policies.snapshot")
	if _, err := runCyad(t, daemon, "", "export", "--output", path); err != nil {
		t.Fatalf("export --output: %v", err)
	}
	if _, err := runCyad(t, daemon, "", "import", "--input", path); err != nil {
		t.Fatalf("import: %v", err)
	}
	request := decodeRequest[schema.SnapshotMessage](t, daemon.request(schema.ActionImport))
	if string(request.Snapshot) != "snapshot-bytes" {
		t.Errorf("import snapshot = %q", request.Snapshot)
	}
}
