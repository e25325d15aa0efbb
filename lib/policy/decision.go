// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package policy

// Failure marks a decision that was forced to DENY because resolution
// could not complete. Auditors use it to tell an explicit deny from a
// fail-closed one.
type Failure uint8

const (
	FailureNone Failure = iota
	FailureBucketNotFound
	FailurePolicyCycle
	FailureAgentUnavailable
	FailureAgentTimeout
)

var failureNames = [...]string{
	FailureNone:             "",
	FailureBucketNotFound:   "bucket_not_found",
	FailurePolicyCycle:      "policy_cycle",
	FailureAgentUnavailable: "agent_unavailable",
	FailureAgentTimeout:     "agent_timeout",
}

func (f Failure) String() string {
	if int(f) < len(failureNames) {
		return failureNames[f]
	}
	return "unknown"
}

// ParseFailure is the inverse of [Failure.String]. Unknown names map
// to FailureNone.
func ParseFailure(name string) Failure {
	for i, candidate := range failureNames {
		if candidate == name {
			return Failure(i)
		}
	}
	return FailureNone
}

// Decision is what a check delivers to its caller.
type Decision struct {
	Result  Result
	Failure Failure
}

// Allowed reports whether the decision grants the privilege.
func (d Decision) Allowed() bool {
	return d.Failure == FailureNone && d.Result.Type == TypeAllow
}

// Decided wraps a terminal result.
func Decided(result Result) Decision {
	return Decision{Result: result}
}

// Failed returns a fail-closed DENY carrying the failure marker.
func Failed(failure Failure) Decision {
	return Decision{Result: DenyResult(""), Failure: failure}
}
