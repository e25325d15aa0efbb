// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import "fmt"

// Result is the outcome of a single policy entry or of a bucket
// default. For BUCKET results Metadata holds the target bucket id; for
// plugin results it is the opaque payload handed to the agent. ALLOW
// and DENY metadata is passed through to the caller unchanged.
type Result struct {
	Type     Type   `json:"type"`
	Metadata string `json:"metadata,omitempty"`
}

// AllowResult returns an ALLOW result with optional metadata.
func AllowResult(metadata string) Result {
	return Result{Type: TypeAllow, Metadata: metadata}
}

// DenyResult returns a DENY result with optional metadata.
func DenyResult(metadata string) Result {
	return Result{Type: TypeDeny, Metadata: metadata}
}

// NoneResult returns a NONE result: this bucket has no opinion and the
// decision falls back to the default of the redirecting bucket.
func NoneResult() Result {
	return Result{Type: TypeNone}
}

// BucketResult redirects resolution to the bucket with the given id.
func BucketResult(bucketID string) Result {
	return Result{Type: TypeBucket, Metadata: bucketID}
}

// PluginResult defers the decision to the agent serving pluginType.
func PluginResult(pluginType Type, payload string) Result {
	return Result{Type: pluginType, Metadata: payload}
}

// TargetBucket returns the bucket id of a BUCKET result and whether r
// is one.
func (r Result) TargetBucket() (string, bool) {
	if r.Type != TypeBucket {
		return "", false
	}
	return r.Metadata, true
}

// String returns "type;metadata", the format printed by admin checks.
func (r Result) String() string {
	return fmt.Sprintf("%d;%s", uint16(r.Type), r.Metadata)
}
