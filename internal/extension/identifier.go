// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package extension defines the data model shared by the extension host
// orchestration subsystem: identifiers, descriptors, running locations,
// activation records and per-extension status.
package extension

import (
	"strings"
)

// Identifier is the case-insensitive unique key of an extension.
//
// The display value is preserved as written in the manifest; identity is
// always decided on the lowercase form returned by Key.
type Identifier struct {
	value string
	key   string
}

// NewIdentifier creates an identifier from its display value.
func NewIdentifier(value string) Identifier {
	return Identifier{value: value, key: strings.ToLower(value)}
}

// Value returns the identifier as declared.
func (id Identifier) Value() string { return id.value }

// Key returns the normalized lowercase form used for identity.
func (id Identifier) Key() string { return id.key }

// String implements fmt.Stringer.
func (id Identifier) String() string { return id.value }

// IsZero reports whether the identifier is empty.
func (id Identifier) IsZero() bool { return id.key == "" }

// Equal compares two identifiers case-insensitively.
func (id Identifier) Equal(other Identifier) bool { return id.key == other.key }

// MarshalText implements encoding.TextMarshaler.
func (id Identifier) MarshalText() ([]byte, error) {
	return []byte(id.value), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identifier) UnmarshalText(text []byte) error {
	*id = NewIdentifier(string(text))
	return nil
}

// IdentifierFor builds the canonical "publisher.name" identifier.
func IdentifierFor(publisher, name string) Identifier {
	return NewIdentifier(publisher + "." + name)
}

// ReservedSegmentNames are the profile segment ids owned by the host itself.
// They never contain a '.', so a well-formed "publisher.name" identifier
// cannot collide with them.
var ReservedSegmentNames = []string{"idle", "program", "gc", "self"}

// IsReservedSegmentName reports whether s is one of the reserved profile
// segment ids. Comparison is case-insensitive.
func IsReservedSegmentName(s string) bool {
	lower := strings.ToLower(s)
	for _, r := range ReservedSegmentNames {
		if lower == r {
			return true
		}
	}
	return false
}
