// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package capability gates extension access to restricted API proposals.
//
// Grants are API proposal names, optionally written as patterns. Pattern
// matching uses gobwas/glob with '.' as the segment separator:
//   - '*' matches a single segment (does not cross '.')
//   - '**' matches zero or more segments (crosses '.')
//
// Examples:
//   - "terminal.*" matches "terminal.shell" but NOT "terminal.shell.env"
//   - "terminal.**" matches both
//   - "environment" matches only "environment"
package capability

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gobwas/glob"
)

// compiledGrant holds a pattern and its compiled glob for efficient matching.
type compiledGrant struct {
	pattern string
	glob    glob.Glob
}

// Enforcer checks extension proposal grants at runtime.
//
// Enforcer is safe for concurrent use. The zero value is ready to use.
type Enforcer struct {
	grants map[string][]compiledGrant // extension key -> compiled grants
	mu     sync.RWMutex
}

// NewEnforcer creates a proposal enforcer.
func NewEnforcer() *Enforcer {
	return &Enforcer{
		grants: make(map[string][]compiledGrant),
	}
}

// SetGrants replaces the grants of an extension. All patterns are compiled
// before any state changes, so a failed call leaves the enforcer untouched.
func (e *Enforcer) SetGrants(extension string, proposals []string) error {
	if extension == "" {
		return errors.New("extension key cannot be empty")
	}

	compiled := make([]compiledGrant, len(proposals))
	for i, pattern := range proposals {
		if pattern == "" {
			return fmt.Errorf("proposal %d: empty proposal pattern", i)
		}
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return fmt.Errorf("proposal %d (%q): %w", i, pattern, err)
		}
		compiled[i] = compiledGrant{pattern: pattern, glob: g}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.grants == nil {
		e.grants = make(map[string][]compiledGrant)
	}
	e.grants[extension] = compiled
	return nil
}

// IsRegistered reports whether SetGrants was called for the extension.
func (e *Enforcer) IsRegistered(extension string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, ok := e.grants[extension]
	return ok
}

// RemoveGrants forgets an extension. Safe for unknown extensions.
func (e *Enforcer) RemoveGrants(extension string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.grants, extension)
}

// GetGrants returns a copy of the granted patterns, or nil if unregistered.
func (e *Enforcer) GetGrants(extension string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	grants, ok := e.grants[extension]
	if !ok {
		return nil
	}
	patterns := make([]string, len(grants))
	for i, g := range grants {
		patterns[i] = g.pattern
	}
	return patterns
}

// Check returns true if the extension was granted the proposal. Unknown
// extensions and empty proposals are denied.
func (e *Enforcer) Check(extension, proposal string) bool {
	if proposal == "" {
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, grant := range e.grants[extension] {
		if grant.glob.Match(proposal) {
			return true
		}
	}
	return false
}

// Require is Check with a descriptive error on denial.
func (e *Enforcer) Require(extensionID, proposal string, key string) error {
	if e.Check(key, proposal) {
		return nil
	}
	return ErrProposalNotEnabled(extensionID, e.GetGrants(key), proposal)
}
