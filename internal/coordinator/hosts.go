// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package coordinator

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/holomush/exthost/internal/extension"
	"github.com/holomush/exthost/internal/hostadapter"
	"github.com/holomush/exthost/internal/observability"
	"github.com/holomush/exthost/internal/protocol"
)

// host is one adapter owned by the coordinator. Fields other than the
// immutable ones are guarded by Coordinator.mu.
type host struct {
	id      string
	loc     extension.RunningLocation
	adapter hostadapter.Adapter

	ctx    context.Context
	cancel context.CancelFunc

	ch         protocol.Channel
	watching   bool
	responsive bool
	retireOnce sync.Once
}

// retire stops the host's watchers. Called with Coordinator.mu held.
func (h *host) retire(m *observability.Metrics, unexpected bool) {
	h.retireOnce.Do(func() {
		h.cancel()
		if h.watching {
			m.HostStopped(h.loc.String(), unexpected)
		}
	})
}

func isTerminal(s hostadapter.State) bool {
	return s == hostadapter.StateExited || s == hostadapter.StateDisposed
}

func (c *Coordinator) adapterConfig(id string, loc extension.RunningLocation) hostadapter.Config {
	cfg := hostadapter.Config{
		ID:       id,
		Location: loc,
		Lazy:     c.cfg.LazyStart,
		Grants:   c.cfg.Proposals.EffectiveProposals,
		Logger:   c.logger,
	}
	switch loc.(type) {
	case extension.LocalWorker, extension.LocalProcess:
	case extension.Remote:
		cfg.Authority = c.cfg.Capabilities.RemoteAuthority
		cfg.Environment = maps.Clone(c.remoteEnv)
	default:
		extension.UnknownLocation(loc)
	}
	return cfg
}

// hostFor returns the live host for loc, creating it if needed, and makes
// descs resident on it. delta reports whether the host may already have
// been initialized, in which case new residents must be sent explicitly.
func (c *Coordinator) hostFor(loc extension.RunningLocation, descs []*extension.Descriptor) (h *host, added []*extension.Descriptor, delta bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return nil, nil, false, errHostsStopped()
	}
	id := loc.String()
	h = c.hosts[id]
	if h != nil && isTerminal(h.adapter.State()) {
		delete(c.hosts, id)
		h.retire(c.metrics, false)
		h = nil
	}
	if h == nil {
		ad, err := c.cfg.Factory.Create(c.adapterConfig(id, loc))
		if err != nil {
			c.metrics.HostStarted(id, false)
			return nil, nil, false, err
		}
		ctx, cancel := context.WithCancel(context.Background())
		h = &host{id: id, loc: loc, adapter: ad, ctx: ctx, cancel: cancel, responsive: true}
		c.hosts[id] = h
	}
	// Residents must be added before the state is read: a start that has
	// not begun yet will include them in its initialize snapshot.
	added = h.adapter.Extensions().Add(descs...)
	delta = h.adapter.State() != hostadapter.StateUninitialized
	return h, added, delta, nil
}

// startBackoff doubles the wait between start attempts, beginning at
// RetryBackoff, for at most StartRetries retries.
func startBackoff(cfg Config) retry.Backoff {
	return retry.WithMaxRetries(cfg.StartRetries, retry.NewExponential(cfg.RetryBackoff))
}

// ensureHost starts the host for loc with descs resident on it. Failed
// starts are retried with a fresh adapter up to Config.StartRetries times.
func (c *Coordinator) ensureHost(ctx context.Context, loc extension.RunningLocation, descs []*extension.Descriptor) (*host, protocol.Channel, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.ensureHost",
		trace.WithAttributes(attribute.String("host", loc.String())))
	defer span.End()

	var (
		got *host
		ch  protocol.Channel
	)
	attempt := 0
	err := retry.Do(ctx, startBackoff(c.cfg), func(ctx context.Context) error {
		attempt++
		h, added, delta, err := c.hostFor(loc, descs)
		if err != nil {
			return err
		}
		started, err := h.adapter.Start(ctx)
		if err != nil {
			if ctx.Err() == nil && extension.HasCode(err, extension.CodeAdapterStartFailed) {
				c.metrics.HostStarted(h.id, false)
				c.logger.Warn("extension host failed to start", "host", h.id, "attempt", attempt, "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		c.watch(h, started)
		if delta && len(added) > 0 {
			if err := c.sendAdded(ctx, h, started, added); err != nil {
				return err
			}
		}
		got, ch = h, started
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "host start failed")
		return nil, nil, err
	}
	return got, ch, nil
}

func (c *Coordinator) sendAdded(ctx context.Context, h *host, ch protocol.Channel, added []*extension.Descriptor) error {
	infos := make([]protocol.ExtensionInfo, 0, len(added))
	for _, d := range added {
		infos = append(infos, protocol.InfoFor(d, c.cfg.Proposals.EffectiveProposals(d)))
	}
	if err := ch.Call(ctx, protocol.MethodDeltaExtensions, protocol.DeltaExtensionsParams{Added: infos}, nil); err != nil {
		return oops.In("coordinator").With("host", h.id).Hint("failed to add extensions to host").Wrap(err)
	}
	return nil
}

// watch starts the per-host goroutines once the host is running.
func (c *Coordinator) watch(h *host, ch protocol.Channel) {
	c.mu.Lock()
	if h.watching || c.hosts[h.id] != h {
		c.mu.Unlock()
		return
	}
	h.watching = true
	h.ch = ch
	c.wg.Add(3)
	c.mu.Unlock()

	c.metrics.HostStarted(h.id, true)
	c.metrics.SetResponsive(h.id, true)
	c.logger.Info("extension host running", "host", h.id, "inspect_port", h.adapter.InspectPort())

	go c.pumpNotifications(h, ch)
	go c.watchExit(h)
	go c.heartbeat(h, ch)
}

func (c *Coordinator) pumpNotifications(h *host, ch protocol.Channel) {
	defer c.wg.Done()
	for {
		select {
		case n, ok := <-ch.Notifications():
			if !ok {
				return
			}
			c.handleNotification(h, n)
		case <-ch.Done():
			return
		case <-h.ctx.Done():
			return
		}
	}
}

func (c *Coordinator) handleNotification(h *host, n protocol.Notification) {
	switch n.Method {
	case protocol.NotifyRuntimeError:
		var p protocol.RuntimeErrorParams
		if err := n.Decode(&p); err != nil {
			c.logger.Warn("malformed runtime error notification", "host", h.id, "error", err)
			return
		}
		id := extension.NewIdentifier(p.ExtensionID)
		if !c.updateRecord(id, func(rec *record) {
			rec.status.RuntimeErrors = append(rec.status.RuntimeErrors, extension.RuntimeError{
				Message: p.Message,
				Stack:   p.Stack,
				Code:    extension.CodeRuntimeError,
				At:      time.Now(),
			})
		}) {
			return
		}
		c.metrics.RuntimeError(h.loc.String())
		c.logger.Warn("extension runtime error", "host", h.id, "extension", id.Value(), "message", p.Message)
		c.emitStatus([]extension.Identifier{id})

	case protocol.NotifyMessage:
		var p protocol.MessageParams
		if err := n.Decode(&p); err != nil {
			c.logger.Warn("malformed message notification", "host", h.id, "error", err)
			return
		}
		id := extension.NewIdentifier(p.ExtensionID)
		if !c.updateRecord(id, func(rec *record) {
			rec.status.Messages = append(rec.status.Messages, extension.Message{
				Type:             extension.ParseSeverity(p.Severity),
				Text:             p.Text,
				ExtensionID:      id,
				ExtensionPointID: p.ExtensionPointID,
			})
		}) {
			return
		}
		c.emitStatus([]extension.Identifier{id})

	default:
		c.logger.Debug("ignoring host notification", "host", h.id, "method", n.Method)
	}
}

func (c *Coordinator) updateRecord(id extension.Identifier, fn func(*record)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[id.Key()]
	if !ok {
		return false
	}
	fn(rec)
	return true
}

// watchExit handles a host exiting on its own. Hosts removed by the
// coordinator are retired first, so their exit is ignored.
func (c *Coordinator) watchExit(h *host) {
	defer c.wg.Done()
	select {
	case <-h.adapter.Exited():
	case <-h.ctx.Done():
		return
	}
	status := h.adapter.ExitStatus()

	c.mu.Lock()
	if c.hosts[h.id] != h {
		c.mu.Unlock()
		return
	}
	delete(c.hosts, h.id)
	h.retire(c.metrics, true)

	text := fmt.Sprintf("extension host %s terminated unexpectedly: %s", h.id, status)
	var ids []extension.Identifier
	for _, rec := range c.records {
		loc := rec.status.RunningLocation
		if loc == nil || !loc.Equal(h.loc) {
			continue
		}
		if rec.status.State != extension.StateActive && rec.status.State != extension.StateActivating {
			continue
		}
		rec.status.State = extension.StateFailed
		rec.hostFailed = true
		rec.status.Messages = append(rec.status.Messages, extension.Message{
			Type:        extension.SeverityError,
			Text:        text,
			ExtensionID: rec.desc.Identifier,
		})
		ids = append(ids, rec.desc.Identifier)
	}
	c.mu.Unlock()

	c.logger.Warn("extension host exited", "host", h.id, "exit", status.String(), "affected", len(ids))
	c.emitStatus(ids)
}

func (c *Coordinator) heartbeat(h *host, ch protocol.Channel) {
	defer c.wg.Done()
	if c.cfg.HeartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ch.Done():
			return
		case <-ticker.C:
		}
		seq++
		ctx, cancel := context.WithTimeout(h.ctx, c.cfg.HeartbeatTimeout)
		var pong protocol.PingResult
		err := ch.Call(ctx, protocol.MethodPing, protocol.PingParams{Seq: seq}, &pong)
		cancel()
		if h.ctx.Err() != nil {
			return
		}
		c.setResponsive(h, err == nil && pong.Seq == seq)
	}
}

func (c *Coordinator) setResponsive(h *host, responsive bool) {
	c.mu.Lock()
	if h.responsive == responsive || c.hosts[h.id] != h {
		c.mu.Unlock()
		return
	}
	h.responsive = responsive
	c.mu.Unlock()

	c.metrics.SetResponsive(h.id, responsive)
	if responsive {
		c.logger.Info("extension host responsive again", "host", h.id)
	} else {
		c.logger.Warn("extension host unresponsive", "host", h.id)
	}
	c.onDidChangeResponse.Emit(ResponsiveStateChangeEvent{
		HostID:       h.id,
		Kind:         h.loc.Kind(),
		IsResponsive: responsive,
	})
}

// takeHostsLocked removes every host from the coordinator.
func (c *Coordinator) takeHostsLocked() []*host {
	hosts := make([]*host, 0, len(c.hosts))
	for _, h := range c.hosts {
		h.retire(c.metrics, false)
		hosts = append(hosts, h)
	}
	c.hosts = make(map[string]*host)
	return hosts
}

// resetLocked starts a new host session: hosts are taken and every
// extension goes back to having no location.
func (c *Coordinator) resetLocked() ([]*host, []extension.Identifier) {
	c.gen++
	hosts := c.takeHostsLocked()
	ids := make([]extension.Identifier, 0, len(c.records))
	for _, d := range c.exts.All() {
		rec := c.records[d.Key()]
		rec.status.RunningLocation = nil
		rec.status.ActivationTimes = nil
		rec.status.State = extension.StateUnresolved
		rec.hostFailed = false
		ids = append(ids, d.Identifier)
	}
	return hosts, ids
}

func (c *Coordinator) disposeHosts(hosts []*host) {
	for _, h := range hosts {
		h.adapter.Dispose()
	}
}

// shutdownHosts asks running hosts to shut down, then disposes them.
func (c *Coordinator) shutdownHosts(ctx context.Context, hosts []*host) {
	var g errgroup.Group
	for _, h := range hosts {
		if h.ch == nil {
			continue
		}
		g.Go(func() error {
			if err := h.ch.Call(ctx, protocol.MethodShutdown, struct{}{}, nil); err != nil {
				c.logger.Debug("extension host shutdown request failed", "host", h.id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	c.disposeHosts(hosts)
}

// StopExtensionHosts disposes every host. Pending activations fail with
// HOSTS_STOPPED, and later activations fail the same way until
// StartExtensionHosts.
func (c *Coordinator) StopExtensionHosts(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	hosts, ids := c.resetLocked()
	c.mu.Unlock()

	c.tracker.Reset(errHostsStopped())
	c.shutdownHosts(ctx, hosts)
	c.logger.Info("extension hosts stopped", "hosts", len(hosts))
	c.emitStatus(ids)
	return nil
}

// StartExtensionHosts allows hosts to run again. Unless hosts start
// lazily, the hosts every extension needs are started now.
func (c *Coordinator) StartExtensionHosts(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errHostsStopped()
	}
	c.stopped = false
	c.mu.Unlock()

	if !c.cfg.LazyStart {
		return c.startAll(ctx)
	}
	return nil
}

// RestartExtensionHosts disposes every host and forgets activation state.
// Pending activations fail with HOST_RESTARTED. Locations are resolved
// again on next need.
func (c *Coordinator) RestartExtensionHosts(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errHostsStopped()
	}
	hosts, ids := c.resetLocked()
	c.stopped = false
	c.mu.Unlock()

	c.tracker.Reset(errHostRestarted())
	c.shutdownHosts(ctx, hosts)
	c.logger.Info("extension hosts restarted", "hosts", len(hosts))
	c.emitStatus(ids)

	if !c.cfg.LazyStart {
		return c.startAll(ctx)
	}
	return nil
}

// startAll resolves every extension and starts the hosts they need.
func (c *Coordinator) startAll(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return errHostsStopped()
	}
	gen := c.gen
	groups, errs, changed := c.planLocked(c.exts.All())
	c.mu.Unlock()
	c.emitStatus(changed)

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	for _, grp := range groups {
		g.Go(func() error {
			if _, _, err := c.ensureHost(ctx, grp.loc, grp.descs); err != nil {
				if ctx.Err() == nil {
					c.failExtensions(gen, grp.loc, grp.descs, err)
				}
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if len(errs) > 0 {
		return oops.Join(errs...)
	}
	return nil
}

func (c *Coordinator) runningHost(hostID string) *host {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.hosts[hostID]
	if h == nil || h.ch == nil || h.adapter.State() != hostadapter.StateRunning {
		return nil
	}
	return h
}

func (c *Coordinator) runningHosts(match func(*host) bool) []*host {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*host
	for _, h := range c.hosts {
		if h.ch == nil || h.adapter.State() != hostadapter.StateRunning {
			continue
		}
		if match == nil || match(h) {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// GetInspectPort returns the inspector port of a running host, trying to
// enable the inspector first when tryEnable is set. It returns 0 when no
// port is available.
func (c *Coordinator) GetInspectPort(ctx context.Context, hostID string, tryEnable bool) int {
	h := c.runningHost(hostID)
	if h == nil {
		return 0
	}
	return inspectPort(ctx, h, tryEnable)
}

func inspectPort(ctx context.Context, h *host, tryEnable bool) int {
	port := h.adapter.InspectPort()
	if port == 0 && tryEnable && h.adapter.EnableInspectPort(ctx) {
		port = h.adapter.InspectPort()
	}
	return port
}

// GetInspectPorts collects the inspector ports of running hosts of kind.
// Hosts without a port are omitted.
func (c *Coordinator) GetInspectPorts(ctx context.Context, kind extension.HostKind, tryEnable bool) []InspectPort {
	hosts := c.runningHosts(func(h *host) bool { return h.loc.Kind() == kind })

	var (
		g   errgroup.Group
		mu  sync.Mutex
		out []InspectPort
	)
	for _, h := range hosts {
		g.Go(func() error {
			if port := inspectPort(ctx, h, tryEnable); port != 0 {
				mu.Lock()
				out = append(out, InspectPort{HostID: h.id, Port: port})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	sort.Slice(out, func(i, j int) bool { return out[i].HostID < out[j].HostID })
	return out
}

// SetRemoteEnvironment merges env into the environment of remote hosts,
// including ones started later.
func (c *Coordinator) SetRemoteEnvironment(ctx context.Context, env map[string]string) error {
	c.mu.Lock()
	for k, v := range env {
		c.remoteEnv[k] = v
	}
	c.mu.Unlock()

	wire := make(map[string]*string, len(env))
	for k, v := range env {
		wire[k] = &v
	}
	var errs []error
	for _, h := range c.runningHosts(func(h *host) bool { return h.loc.Kind() == extension.HostKindRemote }) {
		if err := h.ch.Call(ctx, protocol.MethodSetEnvironment, protocol.SetEnvironmentParams{Env: wire}, nil); err != nil {
			errs = append(errs, oops.In("coordinator").With("host", h.id).Wrap(err))
		}
	}
	if len(errs) > 0 {
		return oops.Join(errs...)
	}
	return nil
}
