// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/lukaszwojciechowski/cynara/lib/clock"
)

// lockPollInterval is how often AcquireLock retries a lock held by
// another process.
const lockPollInterval = 200 * time.Millisecond

// Lock is an exclusive flock(2) on the database lock file. Only one
// daemon may load and write a policy database at a time.
type Lock struct {
	file *os.File
}

// AcquireLock opens (creating if needed) the lock file at path and
// takes an exclusive lock on it. While another process holds the lock
// it waits, polling on clk, until the lock is free or ctx ends.
func AcquireLock(ctx context.Context, path string, clk clock.Clock, logger *slog.Logger) (*Lock, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|unix.O_CLOEXEC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	logged := false
	for {
		err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return &Lock{file: file}, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
			file.Close()
			return nil, fmt.Errorf("locking %s: %w", path, err)
		}
		if !logged && logger != nil {
			logger.Info("waiting for database lock held by another process", "path", path)
			logged = true
		}
		select {
		case <-ctx.Done():
			file.Close()
			return nil, fmt.Errorf("waiting for lock on %s: %w", path, ctx.Err())
		case <-clk.After(lockPollInterval):
		}
	}
}

// Release drops the lock and closes the file.
func (l *Lock) Release() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		l.file.Close()
		return fmt.Errorf("unlocking: %w", err)
	}
	return l.file.Close()
}
