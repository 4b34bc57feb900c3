// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package activation tracks activation events: which have been dispatched,
// which are still in flight, and which are done.
package activation

import (
	"context"
	"sort"
	"sync"

	"github.com/holomush/exthost/internal/extension"
)

// DispatchFunc performs the host work for one activation event. ctx is
// cancelled when the tracker is reset.
type DispatchFunc func(ctx context.Context, event string) error

// Operation is one dispatch of an activation event, shared by every caller
// that asked for the event while it was in flight.
type Operation struct {
	event  string
	gen    uint64
	done   chan struct{}
	bypass chan struct{}
	err    error

	settleOnce sync.Once
	bypassOnce sync.Once
}

// Event returns the activation event.
func (o *Operation) Event() string { return o.event }

// Done is closed once the operation has settled.
func (o *Operation) Done() <-chan struct{} { return o.done }

// Err returns the outcome. Only valid after Done is closed.
func (o *Operation) Err() error { return o.err }

// Wait blocks until the operation settles or ctx is done. A cancelled
// caller stops waiting; the operation itself keeps running.
func (o *Operation) Wait(ctx context.Context) error {
	select {
	case <-o.done:
		return o.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Operation) settle(err error) {
	o.settleOnce.Do(func() {
		o.err = err
		close(o.done)
	})
}

func (o *Operation) skipGate() {
	o.bypassOnce.Do(func() { close(o.bypass) })
}

// Tracker deduplicates activation events for one host session.
type Tracker struct {
	mu     sync.Mutex
	ops    map[string]*Operation
	done   map[string]struct{}
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc
	closed error

	ready     chan struct{}
	readyOnce sync.Once
}

// NewTracker creates a tracker whose ready gate is closed.
func NewTracker() *Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		ops:    make(map[string]*Operation),
		done:   make(map[string]struct{}),
		ctx:    ctx,
		cancel: cancel,
		ready:  make(chan struct{}),
	}
}

// MarkReady opens the gate that normal activations wait on.
func (t *Tracker) MarkReady() {
	t.readyOnce.Do(func() { close(t.ready) })
}

// WhenReady is closed once MarkReady has been called.
func (t *Tracker) WhenReady() <-chan struct{} { return t.ready }

// Start returns the operation for event, dispatching it if no operation is
// in flight. Immediate requests skip the ready gate, including for an
// operation that is already waiting on it.
func (t *Tracker) Start(event string, kind extension.ActivationKind, dispatch DispatchFunc) *Operation {
	t.mu.Lock()
	defer t.mu.Unlock()

	if op, ok := t.ops[event]; ok {
		if kind == extension.ActivationImmediate {
			op.skipGate()
		}
		return op
	}
	op := &Operation{event: event, gen: t.gen, done: make(chan struct{}), bypass: make(chan struct{})}
	if t.closed != nil {
		op.settle(t.closed)
		return op
	}
	if _, ok := t.done[event]; ok {
		op.settle(nil)
		return op
	}
	if kind == extension.ActivationImmediate {
		op.skipGate()
	}
	t.ops[event] = op
	go t.run(t.ctx, op, dispatch)
	return op
}

// ActivateByEvent dispatches event once and waits for it to settle.
func (t *Tracker) ActivateByEvent(ctx context.Context, event string, kind extension.ActivationKind, dispatch DispatchFunc) error {
	return t.Start(event, kind, dispatch).Wait(ctx)
}

func (t *Tracker) run(ctx context.Context, op *Operation, dispatch DispatchFunc) {
	select {
	case <-t.ready:
	case <-op.bypass:
	case <-ctx.Done():
		return
	}

	err := dispatch(ctx, op.event)

	t.mu.Lock()
	defer t.mu.Unlock()
	if op.gen != t.gen {
		// Reset already settled this operation.
		return
	}
	delete(t.ops, op.event)
	if err == nil {
		t.done[op.event] = struct{}{}
	}
	op.settle(err)
}

// IsDone reports whether event has been dispatched successfully in this
// session.
func (t *Tracker) IsDone(event string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.done[event]
	return ok
}

// InFlight returns the events currently being dispatched, sorted.
func (t *Tracker) InFlight() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.ops))
	for event := range t.ops {
		out = append(out, event)
	}
	sort.Strings(out)
	return out
}

// Reset starts a new session: every in-flight operation settles with cause,
// the dispatch context is cancelled, and no event is done any more.
func (t *Tracker) Reset(cause error) {
	t.mu.Lock()
	ops := t.ops
	t.gen++
	t.ops = make(map[string]*Operation)
	t.done = make(map[string]struct{})
	t.cancel()
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.mu.Unlock()

	for _, op := range ops {
		op.settle(cause)
	}
}

// Close settles in-flight operations with cause. Later requests fail with
// cause without dispatching.
func (t *Tracker) Close(cause error) {
	t.mu.Lock()
	t.closed = cause
	t.mu.Unlock()
	t.Reset(cause)
	t.mu.Lock()
	t.cancel()
	t.mu.Unlock()
}
