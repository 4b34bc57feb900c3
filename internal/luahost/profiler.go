// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package luahost

import (
	"encoding/json"
	"runtime/debug"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/holomush/exthost/internal/profiling"
)

type traceEvent struct {
	Name  string `json:"name"`
	Phase string `json:"ph"`
	TS    int64  `json:"ts"`
	Dur   int64  `json:"dur"`
	PID   int    `json:"pid"`
	TID   int    `json:"tid"`
}

// profiler attributes wall time to segments as the runtime switches
// between idle, its own bookkeeping, host functions and extension code.
//
// Samples are differences of consecutive microsecond timestamps, so they
// telescope to exactly EndTime - StartTime.
type profiler struct {
	mu      sync.Mutex
	now     func() time.Time
	pid     int
	active  bool
	id      string
	start   int64
	last    int64
	current string
	elapsed int64
	gcPause time.Duration
	deltas  []int64
	ids     []string
	events  []traceEvent
}

func newProfiler(now func() time.Time, pid int) *profiler {
	return &profiler{now: now, pid: pid, current: profiling.SegmentIdle}
}

func gcPauseTotal() time.Duration {
	var stats debug.GCStats
	debug.ReadGCStats(&stats)
	return stats.PauseTotal
}

// begin starts a capture and returns its id.
func (p *profiler) begin() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		return p.id, false
	}
	p.active = true
	p.id = ulid.Make().String()
	p.start = p.now().UnixMicro()
	p.last = p.start
	p.elapsed = 0
	p.gcPause = gcPauseTotal()
	p.deltas, p.ids, p.events = nil, nil, nil
	return p.id, true
}

// enter switches the current segment and returns the previous one.
func (p *profiler) enter(segment string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.current
	if p.active && segment != prev {
		p.flushLocked(p.now().UnixMicro())
	}
	p.current = segment
	return prev
}

func (p *profiler) flushLocked(at int64) {
	delta := at - p.last
	if delta <= 0 {
		return
	}
	pause := gcPauseTotal()
	gc := min((pause - p.gcPause).Microseconds(), delta)
	p.gcPause = pause

	if own := delta - gc; own > 0 {
		p.recordLocked(p.current, own)
	}
	if gc > 0 {
		p.recordLocked(profiling.SegmentGC, gc)
	}
	p.last = at
}

func (p *profiler) recordLocked(segment string, delta int64) {
	ts := p.elapsed
	p.elapsed += delta
	p.deltas = append(p.deltas, delta)
	p.ids = append(p.ids, segment)
	p.events = append(p.events, traceEvent{Name: segment, Phase: "X", TS: ts, Dur: delta, PID: p.pid, TID: 1})
}

// finish ends the capture with the given id.
func (p *profiler) finish(id string) (*profiling.Data, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active || id != p.id {
		return nil, false
	}
	end := p.now().UnixMicro()
	p.flushLocked(end)
	if end < p.last {
		end = p.last
	}
	p.active = false

	trace, _ := json.Marshal(map[string]any{"traceEvents": p.events})
	return &profiling.Data{
		ID:        p.id,
		StartTime: p.start,
		EndTime:   end,
		Deltas:    p.deltas,
		IDs:       p.ids,
		Trace:     trace,
	}, true
}
