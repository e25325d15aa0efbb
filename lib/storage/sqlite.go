// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/lukaszwojciechowski/cynara/lib/codec"
	"github.com/lukaszwojciechowski/cynara/lib/policy"
	"github.com/lukaszwojciechowski/cynara/lib/sqlitepool"
)

const schema = `
CREATE TABLE IF NOT EXISTS buckets (
	id               TEXT PRIMARY KEY NOT NULL,
	default_type     INTEGER NOT NULL,
	default_metadata TEXT NOT NULL,
	checksum         BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS policies (
	bucket    TEXT NOT NULL,
	client    TEXT NOT NULL,
	user      TEXT NOT NULL,
	privilege TEXT NOT NULL,
	type      INTEGER NOT NULL,
	metadata  TEXT NOT NULL,
	PRIMARY KEY (bucket, client, user, privilege)
);
`

// SQLiteConfig holds the parameters for OpenSQLite.
type SQLiteConfig struct {
	// Path is the database file. It is created if missing.
	Path string

	// BusyTimeout bounds how long a save waits for another writer.
	// Zero uses the sqlitepool default.
	BusyTimeout time.Duration

	Logger *slog.Logger
}

// SQLiteBackend persists buckets in a SQLite database.
type SQLiteBackend struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the policy database.
func OpenSQLite(cfg SQLiteConfig) (*SQLiteBackend, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:        cfg.Path,
		BusyTimeout: cfg.BusyTimeout,
		Logger:      logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite backend: %w", err)
	}
	return &SQLiteBackend{pool: pool, logger: logger}, nil
}

// Load reads every bucket and verifies its checksum.
func (b *SQLiteBackend) Load(ctx context.Context) (buckets []*policy.Bucket, err error) {
	conn, err := b.pool.Take(ctx)
	if err != nil {
		return nil, classify(fmt.Errorf("sqlite backend: %w", err))
	}
	defer b.pool.Put(conn)

	// One read transaction so buckets and policies come from the same
	// snapshot.
	endTransaction := sqlitex.Transaction(conn)
	defer endTransaction(&err)

	byID := make(map[string]*policy.Bucket)
	stored := make(map[string][]byte)
	var order []string
	err = sqlitex.Execute(conn,
		`SELECT id, default_type, default_metadata, checksum FROM buckets ORDER BY id`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				id := stmt.ColumnText(0)
				defaultType, err := columnType(stmt, 1)
				if err != nil {
					return &BucketSerializationError{BucketID: id, Err: err}
				}
				sum := make([]byte, stmt.ColumnLen(3))
				stmt.ColumnBytes(3, sum)

				byID[id] = policy.NewBucket(id, policy.Result{Type: defaultType, Metadata: stmt.ColumnText(2)})
				stored[id] = sum
				order = append(order, id)
				return nil
			},
		})
	if err != nil {
		return nil, classify(fmt.Errorf("reading buckets: %w", err))
	}

	err = sqlitex.Execute(conn,
		`SELECT bucket, client, user, privilege, type, metadata FROM policies`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				id := stmt.ColumnText(0)
				bucket, ok := byID[id]
				if !ok {
					return &BucketSerializationError{BucketID: id, Err: fmt.Errorf("policy row for a bucket that does not exist")}
				}
				resultType, err := columnType(stmt, 4)
				if err != nil {
					return &BucketSerializationError{BucketID: id, Err: err}
				}
				key := policy.NewKey(stmt.ColumnText(1), stmt.ColumnText(2), stmt.ColumnText(3))
				if err := bucket.Set(key, policy.Result{Type: resultType, Metadata: stmt.ColumnText(5)}); err != nil {
					return &BucketSerializationError{BucketID: id, Err: err}
				}
				return nil
			},
		})
	if err != nil {
		return nil, classify(fmt.Errorf("reading policies: %w", err))
	}

	buckets = make([]*policy.Bucket, 0, len(order))
	for _, id := range order {
		bucket := byID[id]
		sum, err := checksum(bucket)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(sum[:], stored[id]) {
			return nil, &BucketSerializationError{BucketID: id, Err: fmt.Errorf("checksum mismatch")}
		}
		buckets = append(buckets, bucket)
	}
	b.logger.Debug("buckets read from database", "buckets", len(buckets))
	return buckets, nil
}

func columnType(stmt *sqlite.Stmt, column int) (policy.Type, error) {
	value := stmt.ColumnInt64(column)
	if value < 0 || value > 0xFFFF {
		return 0, fmt.Errorf("policy type %d out of range", value)
	}
	return policy.Type(value), nil
}

// Save writes changes in one IMMEDIATE transaction.
func (b *SQLiteBackend) Save(ctx context.Context, changes Changes) (err error) {
	// Checksums are computed before the transaction so an encoding
	// failure never leaves a half-written database.
	sums := make([]codec.Digest, len(changes.Updated))
	for i, bucket := range changes.Updated {
		if sums[i], err = checksum(bucket); err != nil {
			return err
		}
	}

	conn, err := b.pool.Take(ctx)
	if err != nil {
		return classify(fmt.Errorf("sqlite backend: %w", err))
	}
	defer b.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return classify(fmt.Errorf("begin transaction: %w", err))
	}
	defer endTransaction(&err)

	if changes.Replace {
		if err := sqlitex.ExecuteScript(conn, `DELETE FROM policies; DELETE FROM buckets;`, nil); err != nil {
			return classify(fmt.Errorf("clearing database: %w", err))
		}
	}
	for _, id := range changes.Deleted {
		if err := deleteBucketRows(conn, id); err != nil {
			return classify(err)
		}
	}
	for i, bucket := range changes.Updated {
		if err := writeBucket(conn, bucket, sums[i]); err != nil {
			return classify(err)
		}
	}
	return nil
}

func deleteBucketRows(conn *sqlite.Conn, id string) error {
	if err := sqlitex.Execute(conn, `DELETE FROM policies WHERE bucket = ?`, &sqlitex.ExecOptions{
		Args: []any{id},
	}); err != nil {
		return fmt.Errorf("deleting policies of %q: %w", id, err)
	}
	if err := sqlitex.Execute(conn, `DELETE FROM buckets WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{id},
	}); err != nil {
		return fmt.Errorf("deleting bucket %q: %w", id, err)
	}
	return nil
}

func writeBucket(conn *sqlite.Conn, bucket *policy.Bucket, sum codec.Digest) error {
	if err := deleteBucketRows(conn, bucket.ID); err != nil {
		return err
	}
	err := sqlitex.Execute(conn,
		`INSERT INTO buckets (id, default_type, default_metadata, checksum) VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{bucket.ID, int64(bucket.Default.Type), bucket.Default.Metadata, sum[:]},
		})
	if err != nil {
		return fmt.Errorf("writing bucket %q: %w", bucket.ID, err)
	}
	for _, entry := range bucket.Policies() {
		err := sqlitex.Execute(conn,
			`INSERT INTO policies (bucket, client, user, privilege, type, metadata) VALUES (?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{
					bucket.ID,
					entry.Key.Client,
					entry.Key.User,
					entry.Key.Privilege,
					int64(entry.Result.Type),
					entry.Result.Metadata,
				},
			})
		if err != nil {
			return fmt.Errorf("writing policy %s in bucket %q: %w", entry.Key, bucket.ID, err)
		}
	}
	return nil
}

// classify maps SQLITE_BUSY and SQLITE_LOCKED to ErrStorageBusy.
func classify(err error) error {
	switch sqlite.ErrCode(err).ToPrimary() {
	case sqlite.ResultBusy, sqlite.ResultLocked:
		return fmt.Errorf("%w: %w", ErrStorageBusy, err)
	}
	return err
}

// Close closes the connection pool.
func (b *SQLiteBackend) Close() error {
	return b.pool.Close()
}
