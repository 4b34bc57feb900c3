// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package registration keeps process-wide contributions that must be
// installed once no matter how many owners ask for them.
package registration

import (
	"sort"
	"sync"

	"github.com/samber/oops"
)

// InstallFunc installs a contribution and returns how to remove it.
type InstallFunc func() (release func(), err error)

type entry struct {
	owners  map[string]struct{}
	release func()
}

// Table maps contribution ids to their owners. A contribution is installed
// when its first owner acquires it and released when its last owner lets
// go.
type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Default is the process-wide table.
var Default = NewTable()

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[string]*entry)}
}

// Acquire records owner for id, running install if id has no owners yet.
// Acquiring twice with the same owner is a no-op.
func (t *Table) Acquire(id, owner string, install InstallFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[id]; ok {
		e.owners[owner] = struct{}{}
		return nil
	}

	var release func()
	if install != nil {
		r, err := install()
		if err != nil {
			return oops.In("registration").With("contribution", id).With("owner", owner).Wrap(err)
		}
		release = r
	}
	t.entries[id] = &entry{owners: map[string]struct{}{owner: {}}, release: release}
	return nil
}

// Release drops owner from id. It reports whether this removed the
// contribution. Releasing an unknown owner is a no-op.
func (t *Table) Release(id, owner string) bool {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return false
	}
	if _, owned := e.owners[owner]; !owned {
		t.mu.Unlock()
		return false
	}
	delete(e.owners, owner)
	if len(e.owners) > 0 {
		t.mu.Unlock()
		return false
	}
	delete(t.entries, id)
	t.mu.Unlock()

	if e.release != nil {
		e.release()
	}
	return true
}

// ReleaseAll drops owner from every contribution.
func (t *Table) ReleaseAll(owner string) {
	for _, id := range t.IDs() {
		t.Release(id, owner)
	}
}

// Owners returns the number of owners of id.
func (t *Table) Owners(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[id]; ok {
		return len(e.owners)
	}
	return 0
}

// IDs returns the installed contribution ids, sorted.
func (t *Table) IDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.entries))
	for id := range t.entries {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
