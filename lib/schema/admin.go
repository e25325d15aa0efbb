// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package schema

// PolicyEntry is one policy on the wire. Type and Metadata are unused
// in removal lists.
type PolicyEntry struct {
	Bucket    string `cbor:"bucket" json:"bucket"`
	Client    string `cbor:"client" json:"client"`
	User      string `cbor:"user" json:"user"`
	Privilege string `cbor:"privilege" json:"privilege"`
	Type      uint16 `cbor:"type" json:"type"`
	Metadata  string `cbor:"metadata,omitempty" json:"metadata,omitempty"`
}

// SetBucketRequest creates a bucket or changes its default.
type SetBucketRequest struct {
	Bucket   string `cbor:"bucket"`
	Type     uint16 `cbor:"type"`
	Metadata string `cbor:"metadata,omitempty"`
}

// DeleteBucketRequest deletes a bucket.
type DeleteBucketRequest struct {
	Bucket string `cbor:"bucket"`
}

// SetPoliciesRequest inserts and removes policies in one mutation.
type SetPoliciesRequest struct {
	Set    []PolicyEntry `cbor:"set,omitempty"`
	Remove []PolicyEntry `cbor:"remove,omitempty"`
}

// Filter selects policies by key. "#" in any field matches every
// stored value.
type Filter struct {
	Client    string `cbor:"client"`
	User      string `cbor:"user"`
	Privilege string `cbor:"privilege"`
}

// EraseRequest removes the policies matching Filter.
type EraseRequest struct {
	Bucket    string `cbor:"bucket"`
	Recursive bool   `cbor:"recursive"`
	Filter    Filter `cbor:"filter"`
}

// EraseResponse reports how many policies were removed.
type EraseResponse struct {
	Removed int `cbor:"removed" json:"removed"`
}

// ListPoliciesRequest lists a bucket's policies matching Filter.
type ListPoliciesRequest struct {
	Bucket string `cbor:"bucket"`
	Filter Filter `cbor:"filter"`
}

// ListPoliciesResponse carries policies sorted by key.
type ListPoliciesResponse struct {
	Policies []PolicyEntry `cbor:"policies"`
}

// AdminCheckRequest evaluates a key against a chosen bucket without
// consulting agents. Without Recursive only that bucket is consulted
// and a BUCKET result is returned as is.
type AdminCheckRequest struct {
	Bucket    string `cbor:"bucket"`
	Recursive bool   `cbor:"recursive"`
	Client    string `cbor:"client"`
	User      string `cbor:"user"`
	Privilege string `cbor:"privilege"`
}

// Description names one policy type.
type Description struct {
	Type uint16 `cbor:"type" json:"type"`
	Name string `cbor:"name" json:"name"`
}

// DescriptionsResponse lists the predefined types then the plugin
// types, each in ascending numeric order.
type DescriptionsResponse struct {
	Descriptions []Description `cbor:"descriptions"`
}

// SnapshotMessage carries an encoded policy snapshot, returned by
// export and accepted by import.
type SnapshotMessage struct {
	Snapshot []byte `cbor:"snapshot"`
}
