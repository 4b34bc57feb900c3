// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/holomush/exthost/internal/extension"
	"github.com/holomush/exthost/internal/protocol"
)

// group is the set of extensions one activation sends to one host.
type group struct {
	loc   extension.RunningLocation
	descs []*extension.Descriptor
}

func isStartupEvent(event string) bool {
	return event == "*" || event == "onStartupFinished"
}

// ActivateByEvent activates every extension interested in event and waits
// for the result. Only host start and resolution failures are returned; an
// extension whose own activation fails is recorded in its status.
func (c *Coordinator) ActivateByEvent(ctx context.Context, event string, kind extension.ActivationKind) error {
	if c.tracker.IsDone(event) {
		return nil
	}
	op := c.tracker.Start(event, kind, c.dispatch)
	c.onWillActivate.Emit(WillActivateEvent{Event: event, Activation: op})
	return op.Wait(ctx)
}

// ActivationEventIsDone reports whether event has completed successfully in
// this host session.
func (c *Coordinator) ActivationEventIsDone(event string) bool {
	return c.tracker.IsDone(event)
}

// ActivateByID activates one extension regardless of its activation events.
func (c *Coordinator) ActivateByID(ctx context.Context, id extension.Identifier, reason extension.ActivationReason) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return errHostsStopped()
	}
	rec, ok := c.records[id.Key()]
	if !ok {
		c.mu.Unlock()
		return extension.ErrUnknownExtension(id)
	}
	gen := c.gen
	groups, errs, changed := c.planLocked([]*extension.Descriptor{rec.desc})
	c.mu.Unlock()
	c.emitStatus(changed)

	if reason.ExtensionID.IsZero() {
		reason.ExtensionID = id
	}
	errs = append(errs, c.activateGroups(ctx, gen, groups, reason)...)

	c.mu.Lock()
	superseded, stopped := c.gen != gen, c.stopped
	c.mu.Unlock()
	if superseded {
		if stopped {
			return errHostsStopped()
		}
		return errHostRestarted()
	}
	if len(errs) > 0 {
		return oops.Join(errs...)
	}
	return nil
}

// dispatch is the tracker's worker for one activation event.
func (c *Coordinator) dispatch(ctx context.Context, event string) error {
	ctx, span := c.tracer.Start(ctx, "coordinator.activate",
		trace.WithAttributes(attribute.String("event", event)))
	defer span.End()

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return errHostsStopped()
	}
	gen := c.gen
	groups, errs, changed := c.planLocked(c.exts.Interested(event))
	c.mu.Unlock()
	c.emitStatus(changed)

	span.SetAttributes(attribute.Int("hosts", len(groups)))
	reason := extension.ActivationReason{Startup: isStartupEvent(event), ActivationEvent: event}
	errs = append(errs, c.activateGroups(ctx, gen, groups, reason)...)
	if len(errs) > 0 {
		err := oops.Join(errs...)
		span.RecordError(err)
		span.SetStatus(codes.Error, "activation failed")
		return err
	}
	return nil
}

// planLocked resolves the location of each extension that still needs
// activating and groups them by host. Resolution failures mark the
// extension failed and are returned.
func (c *Coordinator) planLocked(descs []*extension.Descriptor) (groups []*group, errs []error, changed []extension.Identifier) {
	index := make(map[string]*group)
	for _, d := range descs {
		rec, ok := c.records[d.Key()]
		if !ok {
			continue
		}
		switch rec.status.State {
		case extension.StateActive:
			continue
		case extension.StateFailed:
			if !rec.hostFailed {
				continue
			}
		}

		loc := rec.status.RunningLocation
		if loc == nil {
			resolved, err := c.resolver.Resolve(d, c.cfg.Capabilities)
			if err != nil {
				rec.status.State = extension.StateFailed
				rec.status.Messages = append(rec.status.Messages, extension.Message{
					Type:        extension.SeverityError,
					Text:        err.Error(),
					ExtensionID: d.Identifier,
				})
				c.logger.Warn("extension location unresolved", "extension", d.Identifier.Value(), "error", err)
				errs = append(errs, err)
				changed = append(changed, d.Identifier)
				continue
			}
			loc = resolved
			rec.status.RunningLocation = loc
		}
		if rec.status.State != extension.StateAssigned && rec.status.State != extension.StateActivating {
			rec.status.State = extension.StateAssigned
			changed = append(changed, d.Identifier)
		}

		key := loc.String()
		g, ok := index[key]
		if !ok {
			g = &group{loc: loc}
			index[key] = g
			groups = append(groups, g)
		}
		g.descs = append(g.descs, d)
	}
	return groups, errs, changed
}

func (c *Coordinator) activateGroups(ctx context.Context, gen uint64, groups []*group, reason extension.ActivationReason) []error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, grp := range groups {
		g.Go(func() error {
			if err := c.activateOnHost(ctx, gen, grp, reason); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

func (c *Coordinator) activateOnHost(ctx context.Context, gen uint64, grp *group, reason extension.ActivationReason) error {
	started := time.Now()
	_, ch, err := c.ensureHost(ctx, grp.loc, grp.descs)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.failExtensions(gen, grp.loc, grp.descs, err)
		return err
	}

	ids := c.markActivating(gen, grp.descs)
	if len(ids) == 0 {
		return nil
	}
	var res protocol.ActivateResult
	err = ch.Call(ctx, protocol.MethodActivate, protocol.ActivateParams{ExtensionIDs: ids, Reason: reason}, &res)
	if err != nil {
		if ctx.Err() != nil {
			c.revertActivating(gen, grp.descs)
			return ctx.Err()
		}
		c.failExtensions(gen, grp.loc, grp.descs, err)
		return oops.In("coordinator").With("host", grp.loc.String()).Hint("activation request failed").Wrap(err)
	}
	c.applyResults(gen, grp.loc, res.Results, reason, time.Since(started))
	return nil
}

// failExtensions marks extensions waiting on a host as failed because of
// cause. Nothing changes if the host session moved on.
func (c *Coordinator) failExtensions(gen uint64, loc extension.RunningLocation, descs []*extension.Descriptor, cause error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	var ids []extension.Identifier
	for _, d := range descs {
		rec, ok := c.records[d.Key()]
		if !ok {
			continue
		}
		if rec.status.State != extension.StateAssigned && rec.status.State != extension.StateActivating {
			continue
		}
		rec.status.State = extension.StateFailed
		rec.hostFailed = true
		rec.status.Messages = append(rec.status.Messages, extension.Message{
			Type:        extension.SeverityError,
			Text:        cause.Error(),
			ExtensionID: d.Identifier,
		})
		c.metrics.ActivationFinished(loc.String(), false, 0)
		ids = append(ids, d.Identifier)
	}
	c.mu.Unlock()

	if len(ids) > 0 {
		c.logger.Warn("extensions failed with their host", "host", loc.String(), "count", len(ids), "error", cause)
	}
	c.emitStatus(ids)
}

// markActivating returns the wire ids of the extensions to activate.
func (c *Coordinator) markActivating(gen uint64, descs []*extension.Descriptor) []string {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return nil
	}
	var (
		ids     []string
		changed []extension.Identifier
	)
	for _, d := range descs {
		rec, ok := c.records[d.Key()]
		if !ok || rec.status.State == extension.StateActive {
			continue
		}
		if rec.status.State != extension.StateActivating {
			rec.status.State = extension.StateActivating
			changed = append(changed, d.Identifier)
		}
		ids = append(ids, d.Identifier.Value())
	}
	c.mu.Unlock()
	c.emitStatus(changed)
	return ids
}

func (c *Coordinator) revertActivating(gen uint64, descs []*extension.Descriptor) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	var changed []extension.Identifier
	for _, d := range descs {
		if rec, ok := c.records[d.Key()]; ok && rec.status.State == extension.StateActivating {
			rec.status.State = extension.StateAssigned
			changed = append(changed, d.Identifier)
		}
	}
	c.mu.Unlock()
	c.emitStatus(changed)
}

// applyResults records what the host reported for each extension.
func (c *Coordinator) applyResults(gen uint64, loc extension.RunningLocation, results []protocol.ActivationResult, reason extension.ActivationReason, took time.Duration) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	var changed []extension.Identifier
	for _, r := range results {
		id := extension.NewIdentifier(r.ExtensionID)
		rec, ok := c.records[id.Key()]
		if !ok {
			continue
		}
		if r.Error != nil {
			code := r.Error.Code
			if code == "" {
				code = extension.CodeActivationFailed
			}
			rec.status.State = extension.StateFailed
			rec.hostFailed = false
			rec.status.RuntimeErrors = append(rec.status.RuntimeErrors, extension.RuntimeError{
				Message: r.Error.Message,
				Stack:   r.Error.Stack,
				Code:    code,
				At:      time.Now(),
			})
			c.metrics.ActivationFinished(loc.String(), false, took)
			c.logger.Warn("extension activation failed", "extension", id.Value(), "error", r.Error.Message)
			changed = append(changed, id)
			continue
		}
		if rec.status.State == extension.StateActive {
			continue
		}
		rec.status.State = extension.StateActive
		rec.hostFailed = false
		if rec.status.ActivationTimes == nil {
			times := r.Times.ActivationTimes(reason)
			rec.status.ActivationTimes = &times
		}
		if !r.AlreadyActive {
			c.metrics.ActivationFinished(loc.String(), true, took)
		}
		changed = append(changed, id)
	}
	c.mu.Unlock()
	c.emitStatus(changed)
}
