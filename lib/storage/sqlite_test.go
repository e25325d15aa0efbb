// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/lukaszwojciechowski/cynara/lib/policy"
	"github.com/lukaszwojciechowski/cynara/lib/sqlitepool"
)

func openTestSQLite(t *testing.T, path string) *SQLiteBackend {
	t.Helper()
	backend, err := OpenSQLite(SQLiteConfig{Path: path, Logger: testLogger()})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	return backend
}

func TestSQLiteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.db")
	ctx := context.Background()

	store := New(openTestSQLite(t, path), testLogger())
	if err := store.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	mustSetBucket(t, store, "apps", policy.NoneResult())
	mustSetPolicy(t, store, DefaultBucketID, policy.NewKey("app", "*", "*"), policy.BucketResult("apps"))
	mustSetPolicy(t, store, "apps", policy.NewKey("app", "1000", "camera"), policy.AllowResult("audited"))
	mustSetPolicy(t, store, "apps", policy.NewKey("app", "*", "mic"), policy.PluginResult(16, "ask"))

	reloaded := New(openTestSQLite(t, path), testLogger())
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Fresh() {
		t.Error("reloaded storage reports fresh")
	}
	apps, err := reloaded.Bucket("apps")
	if err != nil {
		t.Fatalf("Bucket(apps): %v", err)
	}
	if apps.Default.Type != policy.TypeNone {
		t.Errorf("apps default = %v, want NONE", apps.Default)
	}
	if got := apps.Find(policy.NewKey("app", "1000", "camera")); got != policy.AllowResult("audited") {
		t.Errorf("camera = %v, want ALLOW audited", got)
	}
	if got := apps.Find(policy.NewKey("app", "2000", "mic")); got != policy.PluginResult(16, "ask") {
		t.Errorf("mic = %v, want plugin 16", got)
	}
	root, _ := reloaded.Bucket(DefaultBucketID)
	if got := root.Find(policy.NewKey("app", "1", "x")); got != policy.BucketResult("apps") {
		t.Errorf("root redirect = %v", got)
	}
}

func TestSQLiteDeleteBucketPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.db")
	ctx := context.Background()

	store := New(openTestSQLite(t, path), testLogger())
	if err := store.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	mustSetBucket(t, store, "apps", policy.DenyResult(""))
	mustSetPolicy(t, store, "apps", policy.NewKey("a", "b", "c"), policy.AllowResult(""))
	if err := store.DeleteBucket(ctx, "apps"); err != nil {
		t.Fatalf("DeleteBucket: %v", err)
	}

	backend := openTestSQLite(t, path)
	buckets, err := backend.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(buckets) != 1 || buckets[0].ID != DefaultBucketID {
		t.Errorf("persisted buckets = %d, want only the default bucket", len(buckets))
	}
}

func TestSQLiteChecksumMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.db")
	ctx := context.Background()

	store := New(openTestSQLite(t, path), testLogger())
	if err := store.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	mustSetPolicy(t, store, DefaultBucketID, policy.NewKey("app", "*", "camera"), policy.DenyResult(""))

	// Flip the stored decision behind the backend's back.
	pool, err := sqlitepool.Open(sqlitepool.Config{Path: path, PoolSize: 1})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	conn, err := pool.Take(ctx)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	err = sqlitex.Execute(conn, `UPDATE policies SET type = ? WHERE client = 'app'`, &sqlitex.ExecOptions{
		Args: []any{int64(policy.TypeAllow)},
	})
	pool.Put(conn)
	pool.Close()
	if err != nil {
		t.Fatalf("tampering: %v", err)
	}

	err = New(openTestSQLite(t, path), testLogger()).Load(ctx)
	if !errors.Is(err, ErrStorageCorrupt) {
		t.Fatalf("Load of tampered database: error = %v, want ErrStorageCorrupt", err)
	}
	var serialization *BucketSerializationError
	if !errors.As(err, &serialization) {
		t.Fatalf("error %v is not a *BucketSerializationError", err)
	}
	if serialization.BucketID != DefaultBucketID {
		t.Errorf("BucketID = %q, want the default bucket", serialization.BucketID)
	}
}

func TestSQLiteBusy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.db")
	ctx := context.Background()

	store := New(openTestSQLite(t, path), testLogger())
	if err := store.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	// A second backend with no busy timeout contends with a writer
	// that holds the lock.
	contender, err := OpenSQLite(SQLiteConfig{Path: path, BusyTimeout: -1, Logger: testLogger()})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer contender.Close()

	holder, err := sqlitepool.Open(sqlitepool.Config{Path: path, PoolSize: 1})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer holder.Close()
	conn, err := holder.Take(ctx)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer holder.Put(conn)
	if err := sqlitex.ExecuteTransient(conn, "BEGIN IMMEDIATE", nil); err != nil {
		t.Fatalf("BEGIN IMMEDIATE: %v", err)
	}
	defer sqlitex.ExecuteTransient(conn, "ROLLBACK", nil)

	err = contender.Save(ctx, Changes{Updated: []*policy.Bucket{policy.NewBucket("x", policy.DenyResult(""))}})
	if !errors.Is(err, ErrStorageBusy) {
		t.Fatalf("Save under contention: error = %v, want ErrStorageBusy", err)
	}
}

func TestSQLiteRejectsOutOfRangeType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.db")
	ctx := context.Background()
	backend := openTestSQLite(t, path)
	if _, err := backend.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{Path: path, PoolSize: 1})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pool.Close()
	conn, err := pool.Take(ctx)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	err = sqlitex.Execute(conn,
		`INSERT INTO buckets (id, default_type, default_metadata, checksum) VALUES ('', 70000, '', x'00')`, nil)
	pool.Put(conn)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	_, err = backend.Load(ctx)
	var serialization *BucketSerializationError
	if !errors.As(err, &serialization) {
		t.Fatalf("error = %v, want *BucketSerializationError", err)
	}
}
