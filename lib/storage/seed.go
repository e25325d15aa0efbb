// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"

	"github.com/lukaszwojciechowski/cynara/lib/policy"
)

// Seed is the initial policy set loaded into an empty database. It is
// written as JSONC so operators can comment their defaults:
//
//	{
//	  "buckets": [
//	    {"id": "", "default": "deny"},
//	    {"id": "apps", "default": "none"}, // defer to the root default
//	  ],
//	  "policies": [
//	    {"bucket": "", "client": "*", "user": "*", "privilege": "camera",
//	     "type": "bucket", "metadata": "apps"},
//	  ],
//	}
type Seed struct {
	Buckets  []SeedBucket `json:"buckets"`
	Policies []SeedPolicy `json:"policies"`
}

// SeedBucket declares one bucket and its default.
type SeedBucket struct {
	ID              string `json:"id"`
	Default         string `json:"default"`
	DefaultMetadata string `json:"default_metadata"`
}

// SeedPolicy declares one entry.
type SeedPolicy struct {
	Bucket    string `json:"bucket"`
	Client    string `json:"client"`
	User      string `json:"user"`
	Privilege string `json:"privilege"`
	Type      string `json:"type"`
	Metadata  string `json:"metadata"`
}

// TypeParser resolves a type name or number. The engine's plugin
// registry provides one that also knows plugin names.
type TypeParser func(string) (policy.Type, error)

// ParseSeed parses JSONC seed data.
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := json.Unmarshal(jsonc.ToJSON(data), &seed); err != nil {
		return nil, fmt.Errorf("parsing seed: %w", err)
	}
	return &seed, nil
}

// ReadSeedFile reads and parses a JSONC seed file.
func ReadSeedFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	seed, err := ParseSeed(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return seed, nil
}

// BuildBuckets builds the buckets the seed declares. A missing default
// bucket is added with a DENY default. Referential checks happen when
// the result is passed to Storage.Replace.
func (s *Seed) BuildBuckets(parseType TypeParser) ([]*policy.Bucket, error) {
	if parseType == nil {
		parseType = policy.ParseType
	}

	byID := make(map[string]*policy.Bucket)
	var buckets []*policy.Bucket
	for _, declared := range s.Buckets {
		if _, ok := byID[declared.ID]; ok {
			return nil, fmt.Errorf("bucket %q declared twice", declared.ID)
		}
		defaultType := policy.TypeDeny
		if declared.Default != "" {
			parsed, err := parseType(declared.Default)
			if err != nil {
				return nil, fmt.Errorf("bucket %q default: %w", declared.ID, err)
			}
			defaultType = parsed
		}
		bucket := policy.NewBucket(declared.ID, policy.Result{Type: defaultType, Metadata: declared.DefaultMetadata})
		byID[declared.ID] = bucket
		buckets = append(buckets, bucket)
	}
	if _, ok := byID[DefaultBucketID]; !ok {
		root := policy.NewBucket(DefaultBucketID, policy.DenyResult(""))
		byID[DefaultBucketID] = root
		buckets = append([]*policy.Bucket{root}, buckets...)
	}

	for i, declared := range s.Policies {
		bucket, ok := byID[declared.Bucket]
		if !ok {
			return nil, fmt.Errorf("policies[%d]: %w: %q", i, ErrBucketNotFound, declared.Bucket)
		}
		resultType, err := parseType(declared.Type)
		if err != nil {
			return nil, fmt.Errorf("policies[%d]: %w", i, err)
		}
		key := policy.NewKey(declared.Client, declared.User, declared.Privilege)
		if err := bucket.Set(key, policy.Result{Type: resultType, Metadata: declared.Metadata}); err != nil {
			return nil, fmt.Errorf("policies[%d]: %w", i, err)
		}
	}
	return buckets, nil
}
