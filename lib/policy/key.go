// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// Wildcard matches any value of a key component. It may appear in
	// stored entries.
	Wildcard = "*"

	// Any selects every stored value of a component, wildcards
	// included. It is only meaningful in admin filters.
	Any = "#"
)

// ErrInvalidKey is returned for keys with empty components or
// characters that cannot be represented in the bulk text format.
var ErrInvalidKey = errors.New("invalid policy key")

// Key identifies what is being asked: may Client, acting as User,
// use Privilege.
type Key struct {
	Client    string `json:"client"`
	User      string `json:"user"`
	Privilege string `json:"privilege"`
}

// NewKey returns a key with the given components.
func NewKey(client, user, privilege string) Key {
	return Key{Client: client, User: user, Privilege: privilege}
}

// String returns "client;user;privilege".
func (k Key) String() string {
	return k.Client + ";" + k.User + ";" + k.Privilege
}

// Validate checks that every component is usable in a stored entry or
// a check request. [Any] is rejected; use [Key.ValidateFilter] for
// admin filters.
func (k Key) Validate() error {
	for _, component := range k.components() {
		if err := validateComponent(component); err != nil {
			return err
		}
		if component == Any {
			return fmt.Errorf("%w: %q is only allowed in filters", ErrInvalidKey, Any)
		}
	}
	return nil
}

// ValidateFilter checks a key used to select stored entries. Unlike
// Validate it accepts [Any].
func (k Key) ValidateFilter() error {
	for _, component := range k.components() {
		if err := validateComponent(component); err != nil {
			return err
		}
	}
	return nil
}

func validateComponent(component string) error {
	if component == "" {
		return fmt.Errorf("%w: empty component", ErrInvalidKey)
	}
	if strings.ContainsAny(component, ";\n\r") {
		return fmt.Errorf("%w: component %q contains a separator", ErrInvalidKey, component)
	}
	return nil
}

func (k Key) components() [3]string {
	return [3]string{k.Client, k.User, k.Privilege}
}

// Matches reports whether the stored entry key k applies to the
// request key. Each component of k must equal the request's component
// or be the wildcard.
func (k Key) Matches(request Key) bool {
	return componentMatches(k.Client, request.Client) &&
		componentMatches(k.User, request.User) &&
		componentMatches(k.Privilege, request.Privilege)
}

func componentMatches(entry, request string) bool {
	return entry == Wildcard || entry == request
}

// MatchedBy reports whether the stored key k is selected by an admin
// filter. A filter component of [Any] selects everything; any other
// value selects only identical components, so a filter of "*" selects
// wildcard entries and nothing else.
func (k Key) MatchedBy(filter Key) bool {
	return filterMatches(filter.Client, k.Client) &&
		filterMatches(filter.User, k.User) &&
		filterMatches(filter.Privilege, k.Privilege)
}

func filterMatches(filter, value string) bool {
	return filter == Any || filter == value
}

// Specificity ranks a stored key: an exact client counts 4, an exact
// user 2 and an exact privilege 1. Among entries that match the same
// request, the higher score wins.
func (k Key) Specificity() int {
	score := 0
	if k.Client != Wildcard {
		score += 4
	}
	if k.User != Wildcard {
		score += 2
	}
	if k.Privilege != Wildcard {
		score++
	}
	return score
}

// candidates returns the stored keys that could match request, most
// specific first. Components of request that are already wildcards
// produce duplicates, which are harmless for lookups.
func (k Key) candidates() [8]Key {
	var result [8]Key
	for i := range 8 {
		mask := 7 - i
		candidate := Key{Client: Wildcard, User: Wildcard, Privilege: Wildcard}
		if mask&4 != 0 {
			candidate.Client = k.Client
		}
		if mask&2 != 0 {
			candidate.User = k.User
		}
		if mask&1 != 0 {
			candidate.Privilege = k.Privilege
		}
		result[i] = candidate
	}
	return result
}
