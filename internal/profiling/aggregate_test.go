// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package profiling_test

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/exthost/internal/extension"
	"github.com/holomush/exthost/internal/profiling"
	"github.com/holomush/exthost/pkg/errutil"
)

func sum(p *profiling.Profile) int64 {
	var n int64
	for _, us := range p.Totals {
		n += us
	}
	return n
}

func TestAggregate_InterleavedSegments(t *testing.T) {
	data := &profiling.Data{
		StartTime: 1_000,
		EndTime:   1_100,
		Deltas:    []int64{10, 5, 20, 5, 30, 10, 20},
		IDs:       []string{"acme.a", "self", "acme.b", "program", "acme.a", "idle", "acme.b"},
	}

	p, err := profiling.Aggregate(data)
	require.NoError(t, err)

	assert.Equal(t, int64(40), p.Total(profiling.ExtensionSegment{Key: "acme.a"}))
	assert.Equal(t, int64(40), p.Total(profiling.ExtensionSegment{Key: "acme.b"}))
	assert.Equal(t, int64(5), p.Total(profiling.SelfTime{}))
	assert.Equal(t, int64(5), p.Total(profiling.Program{}))
	assert.Equal(t, int64(10), p.Total(profiling.Idle{}))
	assert.Equal(t, data.EndTime-data.StartTime, sum(p))
	assert.Equal(t, map[string]int64{"acme.a": 40, "acme.b": 40}, p.ByExtension())
}

func TestAggregate_GapCountsAsIdle(t *testing.T) {
	p, err := profiling.Aggregate(&profiling.Data{
		StartTime: 0, EndTime: 100,
		Deltas: []int64{30}, IDs: []string{"acme.a"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(70), p.Total(profiling.Idle{}))
	assert.Equal(t, int64(100), sum(p))
}

func TestAggregate_OverrunIsTruncated(t *testing.T) {
	p, err := profiling.Aggregate(&profiling.Data{
		StartTime: 0, EndTime: 50,
		Deltas: []int64{40, 40, 40}, IDs: []string{"acme.a", "gc", "acme.b"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(40), p.Total(profiling.ExtensionSegment{Key: "acme.a"}))
	assert.Equal(t, int64(10), p.Total(profiling.GarbageCollection{}))
	assert.Zero(t, p.Total(profiling.ExtensionSegment{Key: "acme.b"}))
	assert.Equal(t, int64(50), sum(p))
}

func TestAggregate_SumEqualsSpanForRandomSessions(t *testing.T) {
	ids := []string{"idle", "program", "gc", "self", "acme.a", "Acme.B", "other.c"}
	rng := rand.New(rand.NewPCG(1, 2))
	for range 200 {
		start := rng.Int64N(1 << 40)
		n := rng.IntN(40)
		data := &profiling.Data{StartTime: start}
		var total int64
		for range n {
			d := rng.Int64N(1000)
			data.Deltas = append(data.Deltas, d)
			data.IDs = append(data.IDs, ids[rng.IntN(len(ids))])
			total += d
		}
		data.EndTime = start + total + rng.Int64N(2000) - 1000
		if data.EndTime < start {
			data.EndTime = start
		}

		p, err := profiling.Aggregate(data)
		require.NoError(t, err)
		assert.Equal(t, data.EndTime-data.StartTime, sum(p))
	}
}

func TestAggregate_CaseInsensitiveExtensionSegments(t *testing.T) {
	p, err := profiling.Aggregate(&profiling.Data{
		StartTime: 0, EndTime: 20,
		Deltas: []int64{10, 10}, IDs: []string{"Acme.A", "acme.a"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(20), p.Total(profiling.ForExtension(extension.NewIdentifier("ACME.A"))))
}

func TestAggregate_TracePassedThrough(t *testing.T) {
	trace := json.RawMessage(`{"traceEvents":[{"name":"acme.a","ph":"X","ts":0,"dur":5}]}`)
	p, err := profiling.Aggregate(&profiling.Data{StartTime: 0, EndTime: 5, Deltas: []int64{5}, IDs: []string{"acme.a"}, Trace: trace})
	require.NoError(t, err)
	assert.JSONEq(t, string(trace), string(p.Data.Trace))
}

func TestAggregate_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data *profiling.Data
	}{
		{"no data", nil},
		{"end before start", &profiling.Data{StartTime: 10, EndTime: 5}},
		{"length mismatch", &profiling.Data{EndTime: 5, Deltas: []int64{1}, IDs: nil}},
		{"negative delta", &profiling.Data{EndTime: 5, Deltas: []int64{-1}, IDs: []string{"idle"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := profiling.Aggregate(tt.data)
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, extension.CodeProfileInvalid)
		})
	}
}

func TestParseSegment(t *testing.T) {
	assert.Equal(t, profiling.Idle{}, profiling.ParseSegment("idle"))
	assert.Equal(t, profiling.Program{}, profiling.ParseSegment("program"))
	assert.Equal(t, profiling.GarbageCollection{}, profiling.ParseSegment("gc"))
	assert.Equal(t, profiling.SelfTime{}, profiling.ParseSegment("self"))
	assert.Equal(t, profiling.ExtensionSegment{Key: "acme.a"}, profiling.ParseSegment("ACME.a"))
}

type stubSession struct {
	data *profiling.Data
	err  error
}

func (s stubSession) Stop(context.Context) (*profiling.Data, error) { return s.data, s.err }

func TestCollect(t *testing.T) {
	p, err := profiling.Collect(context.Background(), stubSession{data: &profiling.Data{EndTime: 3, Deltas: []int64{3}, IDs: []string{"self"}}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), p.Total(profiling.SelfTime{}))

	_, err = profiling.Collect(context.Background(), stubSession{})
	errutil.AssertErrorCode(t, err, extension.CodeProfileInvalid)

	boom := errors.New("boom")
	_, err = profiling.Collect(context.Background(), stubSession{err: boom})
	assert.ErrorIs(t, err, boom)
}
