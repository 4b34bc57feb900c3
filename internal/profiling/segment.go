// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package profiling aggregates sampled host profiles into per-segment totals.
package profiling

import (
	"github.com/holomush/exthost/internal/extension"
)

// Reserved segment identifiers as they appear in raw profile data.
const (
	SegmentIdle    = "idle"
	SegmentProgram = "program"
	SegmentGC      = "gc"
	SegmentSelf    = "self"
)

// Segment is an attribution bucket. It is a closed sum type: Idle, Program,
// GarbageCollection, SelfTime and ExtensionSegment.
type Segment interface {
	// ID is the raw segment identifier.
	ID() string
	isSegment()
}

// Idle is time the host spent waiting for work.
type Idle struct{}

// Program is time spent in host code on behalf of extensions.
type Program struct{}

// GarbageCollection is time spent in the collector.
type GarbageCollection struct{}

// SelfTime is host bookkeeping not attributable to anything else.
type SelfTime struct{}

// ExtensionSegment is time spent executing one extension's code. Key is
// the normalized identifier.
type ExtensionSegment struct {
	Key string
}

func (Idle) isSegment()              {}
func (Program) isSegment()           {}
func (GarbageCollection) isSegment() {}
func (SelfTime) isSegment()          {}
func (ExtensionSegment) isSegment()  {}

// ID implements Segment.
func (Idle) ID() string { return SegmentIdle }

// ID implements Segment.
func (Program) ID() string { return SegmentProgram }

// ID implements Segment.
func (GarbageCollection) ID() string { return SegmentGC }

// ID implements Segment.
func (SelfTime) ID() string { return SegmentSelf }

// ID implements Segment.
func (e ExtensionSegment) ID() string { return e.Key }

// ParseSegment classifies a raw segment identifier. Reserved names never
// collide with extensions because identifiers always contain a '.'.
func ParseSegment(id string) Segment {
	switch id {
	case SegmentIdle:
		return Idle{}
	case SegmentProgram:
		return Program{}
	case SegmentGC:
		return GarbageCollection{}
	case SegmentSelf:
		return SelfTime{}
	default:
		return ExtensionSegment{Key: extension.NewIdentifier(id).Key()}
	}
}

// ForExtension returns the segment attributed to id.
func ForExtension(id extension.Identifier) Segment {
	return ExtensionSegment{Key: id.Key()}
}
