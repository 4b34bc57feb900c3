// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package profiling

import (
	"context"
	"encoding/json"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/exthost/internal/extension"
)

// Data is a raw profile as captured by a host. Times are microseconds since
// the Unix epoch; Deltas[i] microseconds are attributed to IDs[i].
type Data struct {
	ID        string          `json:"id"`
	StartTime int64           `json:"startTime"`
	EndTime   int64           `json:"endTime"`
	Deltas    []int64         `json:"deltas"`
	IDs       []string        `json:"ids"`
	Trace     json.RawMessage `json:"trace,omitempty"`
}

// Duration is EndTime - StartTime.
func (d *Data) Duration() time.Duration {
	return time.Duration(d.EndTime-d.StartTime) * time.Microsecond
}

// Session is a running capture on some host.
type Session interface {
	Stop(ctx context.Context) (*Data, error)
}

// Profile is an aggregated profile.
type Profile struct {
	// Data is the raw capture; Trace is passed through untouched.
	Data *Data
	// Totals holds microseconds per segment. The values sum to
	// Data.EndTime - Data.StartTime.
	Totals map[Segment]int64
}

// Total returns the microseconds attributed to seg.
func (p *Profile) Total(seg Segment) int64 {
	return p.Totals[seg]
}

// ByExtension returns the totals of extension segments keyed by
// normalized identifier.
func (p *Profile) ByExtension() map[string]int64 {
	out := make(map[string]int64)
	for seg, us := range p.Totals {
		if e, ok := seg.(ExtensionSegment); ok {
			out[e.Key] = us
		}
	}
	return out
}

// Aggregate sums the samples of data per segment.
//
// Samples running past EndTime are truncated and unattributed time before
// EndTime is counted as idle, so the totals always sum to the session span.
func Aggregate(data *Data) (*Profile, error) {
	if data == nil {
		return nil, oops.Code(extension.CodeProfileInvalid).In("profiling").Errorf("profile has no data")
	}
	errb := oops.Code(extension.CodeProfileInvalid).In("profiling").With("profile", data.ID)
	if data.EndTime < data.StartTime {
		return nil, errb.Errorf("profile ends before it starts (%d < %d)", data.EndTime, data.StartTime)
	}
	if len(data.Deltas) != len(data.IDs) {
		return nil, errb.Errorf("profile has %d deltas but %d segment ids", len(data.Deltas), len(data.IDs))
	}

	span := data.EndTime - data.StartTime
	totals := make(map[Segment]int64)
	var used int64
	for i, delta := range data.Deltas {
		if delta < 0 {
			return nil, errb.With("sample", i).Errorf("negative delta %d at sample %d", delta, i)
		}
		if used == span {
			break
		}
		delta = min(delta, span-used)
		totals[ParseSegment(data.IDs[i])] += delta
		used += delta
	}
	if used < span {
		totals[Idle{}] += span - used
	}
	for seg, us := range totals {
		if us == 0 {
			delete(totals, seg)
		}
	}
	return &Profile{Data: data, Totals: totals}, nil
}

// Collect stops s and aggregates its data.
func Collect(ctx context.Context, s Session) (*Profile, error) {
	data, err := s.Stop(ctx)
	if err != nil {
		return nil, err
	}
	return Aggregate(data)
}
