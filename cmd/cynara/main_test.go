// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/lukaszwojciechowski/cynara/lib/config"
	"github.com/lukaszwojciechowski/cynara/lib/engine"
	"github.com/lukaszwojciechowski/cynara/lib/policy"
)

const seedJSONC = `{
  // Camera requests go through the apps bucket.
  "buckets": [
    {"id": "apps", "default": "allow"},
  ],
  "policies": [
    {"bucket": "", "client": "*", "user": "*", "privilege": "camera",
     "type": "bucket", "metadata": "apps"},
    {"bucket": "apps", "client": "app", "user": "*", "privilege": "camera",
     "type": "ask-user"},
  ],
}`

func TestOpenStorageSeedsOnlyFreshDatabase(t *testing.T) {
	directory := t.TempDir()
	seedPath := filepath.Join(directory, "seed.jsonc")
	if err := os.WriteFile(seedPath, []byte(seedJSONC), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Paths.RunDir = directory
	cfg.Paths.StateDir = directory
	cfg.Paths.SeedFile = seedPath
	cfg.ExpandVariables()

	plugins, err := engine.NewPlugins([]engine.Plugin{{Type: askUser, Name: "ask-user", Agent: promptAgent}})
	if err != nil {
		t.Fatalf("NewPlugins: %v", err)
	}
	ctx := context.Background()

	// A nil logger must be accepted: seeding logs through it.
	store, err := openStorage(ctx, cfg, plugins, nil)
	if err != nil {
		t.Fatalf("openStorage: %v", err)
	}
	apps, err := store.Bucket("apps")
	if err != nil {
		t.Fatalf("seeded bucket missing: %v", err)
	}
	if got := apps.Find(policy.NewKey("app", "1000", "camera")); got.Type != askUser {
		t.Errorf("seeded policy = %v, want ask-user plugin", got)
	}
	// Removing the seeded bucket must survive a restart.
	if err := store.DeleteBucket(ctx, "apps"); err != nil {
		t.Fatalf("DeleteBucket: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := openStorage(ctx, cfg, plugins, nil)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer reopened.Close()
	if reopened.Exists("apps") {
		t.Error("seed was applied to a database that was not empty")
	}
}

func TestOpenStorageRejectsBadSeed(t *testing.T) {
	directory := t.TempDir()
	seedPath := filepath.Join(directory, "seed.jsonc")
	bad := `{"policies": [{"bucket": "", "client": "a", "user": "b", "privilege": "c", "type": "ask-admin"}]}`
	if err := os.WriteFile(seedPath, []byte(bad), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Storage.Backend = config.BackendMemory
	cfg.Paths.SeedFile = seedPath
	cfg.ExpandVariables()
	plugins, _ := engine.NewPlugins(nil)

	if _, err := openStorage(context.Background(), cfg, plugins, nil); err == nil {
		t.Fatal("openStorage accepted a seed with an unknown type")
	}
}

func TestRunVersion(t *testing.T) {
	if err := run([]string{"--version"}); err != nil {
		t.Fatalf("run --version: %v", err)
	}
}

func TestRunRejectsUnknownFlag(t *testing.T) {
	if err := run([]string{"--no-such-flag"}); err == nil {
		t.Fatal("run accepted an unknown flag")
	}
}
