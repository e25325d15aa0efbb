// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens the SQLite connection pool behind the
// policy database.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool and applies the same
// pragmas to every connection:
//
//   - journal_mode=WAL: readers do not block the single writer.
//   - synchronous=FULL: a committed admin mutation survives power loss.
//   - foreign_keys=OFF: the storage layer removes policy rows together
//     with their bucket explicitly.
//   - temp_store=MEMORY.
//
// The busy timeout is configurable. When it expires SQLite returns
// SQLITE_BUSY, which the storage layer reports to admin callers as
// "service busy" instead of retrying forever.
//
// Callers write SQL directly with sqlitex.Execute and manage
// transactions with sqlitex.ImmediateTransaction:
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:   "/var/lib/cynara/policies.db",
//	    Logger: logger,
//	    OnConnect: func(conn *sqlite.Conn) error {
//	        return sqlitex.ExecuteScript(conn, schema, nil)
//	    },
//	})
package sqlitepool
