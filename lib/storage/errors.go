// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrBucketNotFound is returned when an operation names a bucket
	// that does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrDefaultBucket is returned when deleting the default bucket
	// or giving it a NONE default.
	ErrDefaultBucket = errors.New("operation not permitted on the default bucket")

	// ErrBucketInUse is returned when deleting a bucket that another
	// bucket's default redirects to.
	ErrBucketInUse = errors.New("bucket is referenced by another bucket's default")

	// ErrInvalidBucketID is returned for bucket ids that cannot be
	// represented in the bulk text format.
	ErrInvalidBucketID = errors.New("invalid bucket id")

	// ErrInvalidPolicy is returned for results that may not be stored
	// where they were given, such as a NONE entry or a BUCKET result
	// without a target.
	ErrInvalidPolicy = errors.New("invalid policy")

	// ErrStorageBusy is returned when the database is locked by
	// another writer. The mutation was not applied; the caller may
	// retry.
	ErrStorageBusy = errors.New("storage busy")

	// ErrStorageCorrupt is returned when persisted data cannot be
	// trusted. Every *BucketSerializationError matches it.
	ErrStorageCorrupt = errors.New("storage corrupt")
)

// BucketSerializationError reports a bucket that could not be encoded,
// decoded, or verified.
type BucketSerializationError struct {
	BucketID string
	Err      error
}

func (e *BucketSerializationError) Error() string {
	return fmt.Sprintf("bucket %q: serialization failed: %v", e.BucketID, e.Err)
}

func (e *BucketSerializationError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrStorageCorrupt) hold for every
// serialization error.
func (e *BucketSerializationError) Is(target error) bool {
	return target == ErrStorageCorrupt
}
