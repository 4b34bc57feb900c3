// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package event provides typed fan-out for observable event streams.
package event

import (
	"log/slog"
	"sync"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 100

// Emitter distributes values of one event type to subscribers.
type Emitter[T any] struct {
	name   string
	buffer int

	mu     sync.RWMutex
	subs   map[chan T]struct{}
	closed bool
}

// NewEmitter creates an emitter. name identifies the stream in logs.
func NewEmitter[T any](name string) *Emitter[T] {
	return &Emitter[T]{
		name:   name,
		buffer: DefaultBuffer,
		subs:   make(map[chan T]struct{}),
	}
}

// Subscribe returns a channel receiving every later event, and a function
// that removes the subscription and closes the channel.
func (e *Emitter[T]) Subscribe() (<-chan T, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan T, e.buffer)
	if e.closed {
		close(ch)
		return ch, func() {}
	}
	e.subs[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() { e.unsubscribe(ch) })
	}
}

func (e *Emitter[T]) unsubscribe(ch chan T) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.subs[ch]; ok {
		delete(e.subs, ch)
		close(ch)
	}
}

// Emit delivers v to every subscriber without blocking. A subscriber with a
// full buffer misses the event.
func (e *Emitter[T]) Emit(v T) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for ch := range e.subs {
		select {
		case ch <- v:
		default:
			slog.Warn("event dropped: subscriber buffer full", "stream", e.name)
		}
	}
}

// Len returns the number of subscribers.
func (e *Emitter[T]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}

// Close closes every subscriber channel. Later subscriptions receive a
// closed channel.
func (e *Emitter[T]) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for ch := range e.subs {
		close(ch)
	}
	e.subs = make(map[chan T]struct{})
}
