// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/lukaszwojciechowski/cynara/lib/codec"
	"github.com/lukaszwojciechowski/cynara/lib/policy"
)

// A snapshot is a fixed header followed by a zstd frame:
//
//	magic    6 bytes  "CYNSNP"
//	version  1 byte
//	reserved 1 byte   zero
//	digest   32 bytes BLAKE3 of the uncompressed body
//	body     zstd-compressed CBOR snapshotBody
const (
	snapshotMagic   = "CYNSNP"
	snapshotVersion = 1
	headerSize      = len(snapshotMagic) + 2 + codec.DigestSize

	// maxSnapshotBody bounds decompression so a hostile import cannot
	// exhaust memory.
	maxSnapshotBody = 64 << 20
)

// ErrInvalidSnapshot is returned for data that is not a snapshot this
// version can read, or whose digest does not match.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

type snapshotBody struct {
	Buckets []bucketRecord `cbor:"buckets"`
}

var (
	snapshotEncoder *zstd.Encoder
	snapshotDecoder *zstd.Decoder
)

func init() {
	var err error
	snapshotEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("storage: zstd encoder initialization failed: " + err.Error())
	}
	snapshotDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxSnapshotBody))
	if err != nil {
		panic("storage: zstd decoder initialization failed: " + err.Error())
	}
}

// EncodeSnapshot serializes buckets into the export format.
func EncodeSnapshot(buckets []*policy.Bucket) ([]byte, error) {
	body := snapshotBody{Buckets: make([]bucketRecord, 0, len(buckets))}
	for _, bucket := range buckets {
		body.Buckets = append(body.Buckets, recordOf(bucket))
	}
	encoded, err := codec.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	digest := codec.Sum(encoded)

	out := make([]byte, 0, headerSize+len(encoded)/2)
	out = append(out, snapshotMagic...)
	out = append(out, snapshotVersion, 0)
	out = append(out, digest[:]...)
	return snapshotEncoder.EncodeAll(encoded, out), nil
}

// DecodeSnapshot parses and verifies a snapshot.
func DecodeSnapshot(data []byte) ([]*policy.Bucket, error) {
	if len(data) < headerSize || string(data[:len(snapshotMagic)]) != snapshotMagic {
		return nil, fmt.Errorf("%w: bad header", ErrInvalidSnapshot)
	}
	if version := data[len(snapshotMagic)]; version != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidSnapshot, version)
	}
	var want codec.Digest
	copy(want[:], data[len(snapshotMagic)+2:headerSize])

	encoded, err := snapshotDecoder.DecodeAll(data[headerSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompressing: %v", ErrInvalidSnapshot, err)
	}
	if codec.Sum(encoded) != want {
		return nil, fmt.Errorf("%w: digest mismatch", ErrInvalidSnapshot)
	}

	var body snapshotBody
	if err := codec.Unmarshal(encoded, &body); err != nil {
		return nil, fmt.Errorf("%w: decoding: %v", ErrInvalidSnapshot, err)
	}
	buckets := make([]*policy.Bucket, 0, len(body.Buckets))
	for _, record := range body.Buckets {
		bucket, err := record.bucket()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
		}
		buckets = append(buckets, bucket)
	}
	return buckets, nil
}

// WriteSnapshot encodes buckets to w.
func WriteSnapshot(w io.Writer, buckets []*policy.Bucket) error {
	data, err := EncodeSnapshot(buckets)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, bytes.NewReader(data))
	return err
}

// ReadSnapshot reads and decodes a whole snapshot from r.
func ReadSnapshot(r io.Reader) ([]*policy.Bucket, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxSnapshotBody))
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	return DecodeSnapshot(data)
}
