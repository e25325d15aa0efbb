// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"github.com/lukaszwojciechowski/cynara/lib/codec"
	"github.com/lukaszwojciechowski/cynara/lib/policy"
)

// bucketRecord is the canonical encoding of a bucket. Its
// deterministic CBOR form is what checksums cover and what snapshots
// contain.
type bucketRecord struct {
	ID       string          `cbor:"id"`
	Default  policy.Result   `cbor:"default"`
	Policies []policy.Policy `cbor:"policies"`
}

func recordOf(bucket *policy.Bucket) bucketRecord {
	return bucketRecord{
		ID:       bucket.ID,
		Default:  bucket.Default,
		Policies: bucket.Policies(),
	}
}

func (r bucketRecord) bucket() (*policy.Bucket, error) {
	bucket := policy.NewBucket(r.ID, r.Default)
	for _, entry := range r.Policies {
		if err := bucket.Set(entry.Key, entry.Result); err != nil {
			return nil, &BucketSerializationError{BucketID: r.ID, Err: err}
		}
	}
	return bucket, nil
}

// checksum returns the digest stored alongside a bucket row.
func checksum(bucket *policy.Bucket) (codec.Digest, error) {
	digest, err := codec.Fingerprint(recordOf(bucket))
	if err != nil {
		return codec.Digest{}, &BucketSerializationError{BucketID: bucket.ID, Err: err}
	}
	return digest, nil
}
