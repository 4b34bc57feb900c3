// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package coordinator

import (
	"context"

	"github.com/samber/oops"

	"github.com/holomush/exthost/internal/extension"
	"github.com/holomush/exthost/internal/protocol"
)

// DeltaExtensions adds and removes extensions. Removed extensions are
// dropped from the hosts they were resident on.
func (c *Coordinator) DeltaExtensions(ctx context.Context, added []*extension.Descriptor, removed []extension.Identifier) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errHostsStopped()
	}
	newDescs := c.exts.Add(added...)
	for _, d := range newDescs {
		c.records[d.Key()] = &record{desc: d}
	}

	removals := make(map[*host][]string)
	gone := c.exts.Remove(removed...)
	for _, d := range gone {
		rec := c.records[d.Key()]
		delete(c.records, d.Key())
		if rec == nil || rec.status.RunningLocation == nil {
			continue
		}
		h := c.hosts[rec.status.RunningLocation.String()]
		if h == nil || h.adapter.Extensions().Remove(d.Identifier) == nil || h.ch == nil {
			continue
		}
		removals[h] = append(removals[h], d.Identifier.Value())
	}
	c.mu.Unlock()

	var errs []error
	for h, ids := range removals {
		err := h.ch.Call(ctx, protocol.MethodDeltaExtensions, protocol.DeltaExtensionsParams{Removed: ids}, nil)
		if err != nil {
			errs = append(errs, oops.In("coordinator").With("host", h.id).Hint("failed to remove extensions from host").Wrap(err))
		}
	}
	if len(newDescs)+len(gone) > 0 {
		c.logger.Info("extensions changed", "added", len(newDescs), "removed", len(gone))
		c.onDidChangeExts.Emit(struct{}{})
	}
	if len(errs) > 0 {
		return oops.Join(errs...)
	}
	return nil
}

// GetExtensions returns the registered extensions in registration order.
func (c *Coordinator) GetExtensions() []*extension.Descriptor {
	return c.exts.All()
}

// GetExtension looks up one extension. The second result is false when it
// is not registered.
func (c *Coordinator) GetExtension(id extension.Identifier) (*extension.Descriptor, bool) {
	return c.exts.Get(id)
}

// GetExtensionsStatus snapshots the status of every extension, keyed by
// normalized identifier.
func (c *Coordinator) GetExtensionsStatus() map[string]extension.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]extension.Status, len(c.records))
	for key, rec := range c.records {
		out[key] = rec.status.Clone()
	}
	return out
}

// CanAddExtension reports whether d is new and has somewhere to run.
func (c *Coordinator) CanAddExtension(d *extension.Descriptor) bool {
	if c.exts.Contains(d.Identifier) {
		return false
	}
	_, err := c.resolver.Resolve(d, c.cfg.Capabilities)
	return err == nil
}

// CanRemoveExtension reports whether the extension is registered and not
// running.
func (c *Coordinator) CanRemoveExtension(d *extension.Descriptor) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[d.Key()]
	if !ok {
		return false
	}
	return rec.status.State != extension.StateActive && rec.status.State != extension.StateActivating
}
