// Copyright 2026 The Cynara Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Type is the numeric kind of a policy result.
type Type uint16

const (
	TypeDeny   Type = 0x0000
	TypeNone   Type = 0x0001
	TypeBucket Type = 0xFFFE
	TypeAllow  Type = 0xFFFF
)

// ErrInvalidType is returned when a type string cannot be parsed.
var ErrInvalidType = errors.New("invalid policy type")

var predefinedNames = map[Type]string{
	TypeDeny:   "DENY",
	TypeNone:   "NONE",
	TypeBucket: "BUCKET",
	TypeAllow:  "ALLOW",
}

// Predefined returns the built-in types in ascending numeric order.
func Predefined() []Type {
	return []Type{TypeDeny, TypeNone, TypeBucket, TypeAllow}
}

// IsPredefined reports whether t is one of DENY, NONE, BUCKET or ALLOW.
func (t Type) IsPredefined() bool {
	_, ok := predefinedNames[t]
	return ok
}

// IsPlugin reports whether t defers to an external agent.
func (t Type) IsPlugin() bool {
	return !t.IsPredefined()
}

// IsTerminal reports whether t is a final answer (ALLOW or DENY).
func (t Type) IsTerminal() bool {
	return t == TypeAllow || t == TypeDeny
}

// Name returns the upper-case name of a predefined type, or "" for
// plugin types.
func (t Type) Name() string {
	return predefinedNames[t]
}

// String returns the predefined name, or the decimal value for plugin
// types.
func (t Type) String() string {
	if name, ok := predefinedNames[t]; ok {
		return name
	}
	return strconv.FormatUint(uint64(t), 10)
}

// ParseType accepts a predefined name (case-insensitive), a decimal
// number, or a 0x-prefixed hexadecimal number. Plugin names are not
// known here; see the engine's plugin registry for those.
func ParseType(text string) (Type, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidType)
	}
	for value, name := range predefinedNames {
		if strings.EqualFold(trimmed, name) {
			return value, nil
		}
	}

	base := 10
	digits := trimmed
	if strings.HasPrefix(digits, "0x") || strings.HasPrefix(digits, "0X") {
		base = 16
		digits = digits[2:]
	}
	value, err := strconv.ParseUint(digits, base, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidType, text)
	}
	return Type(value), nil
}
