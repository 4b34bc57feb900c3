// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package extension

import (
	"sync"
)

// Registry is an ordered, concurrency-safe set of descriptors keyed by
// identifier. Insertion order is preserved for deterministic activation.
type Registry struct {
	mu    sync.RWMutex
	order []string
	byKey map[string]*Descriptor
}

// NewRegistry creates a registry holding descs.
func NewRegistry(descs ...*Descriptor) *Registry {
	r := &Registry{byKey: make(map[string]*Descriptor)}
	r.Add(descs...)
	return r
}

// Add inserts descriptors that are not already present and returns the
// ones actually added.
func (r *Registry) Add(descs ...*Descriptor) []*Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	var added []*Descriptor
	for _, d := range descs {
		if _, ok := r.byKey[d.Key()]; ok {
			continue
		}
		r.byKey[d.Key()] = d
		r.order = append(r.order, d.Key())
		added = append(added, d)
	}
	return added
}

// Remove deletes the given identifiers and returns the removed descriptors.
func (r *Registry) Remove(ids ...Identifier) []*Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []*Descriptor
	for _, id := range ids {
		d, ok := r.byKey[id.Key()]
		if !ok {
			continue
		}
		delete(r.byKey, id.Key())
		removed = append(removed, d)
	}
	if len(removed) == 0 {
		return nil
	}
	order := r.order[:0]
	for _, k := range r.order {
		if _, ok := r.byKey[k]; ok {
			order = append(order, k)
		}
	}
	r.order = order
	return removed
}

// Get looks up a descriptor.
func (r *Registry) Get(id Identifier) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byKey[id.Key()]
	return d, ok
}

// Contains reports whether id is registered.
func (r *Registry) Contains(id Identifier) bool {
	_, ok := r.Get(id)
	return ok
}

// All returns descriptors in insertion order.
func (r *Registry) All() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.byKey[k])
	}
	return out
}

// Len returns the number of descriptors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Interested returns descriptors that declare event, in insertion order.
func (r *Registry) Interested(event string) []*Descriptor {
	var out []*Descriptor
	for _, d := range r.All() {
		if d.DeclaresActivationEvent(event) {
			out = append(out, d)
		}
	}
	return out
}
