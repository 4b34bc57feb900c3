// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package coordinator owns the extension hosts of one session: it decides
// where extensions run, starts hosts on demand, routes activation events to
// them and keeps the status of every extension.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/exthost/internal/activation"
	"github.com/holomush/exthost/internal/capability"
	"github.com/holomush/exthost/internal/event"
	"github.com/holomush/exthost/internal/extension"
	"github.com/holomush/exthost/internal/hostadapter"
	"github.com/holomush/exthost/internal/location"
	"github.com/holomush/exthost/internal/observability"
)

// Defaults applied by New.
const (
	DefaultRetryBackoff     = 200 * time.Millisecond
	DefaultHeartbeatTimeout = 5 * time.Second
)

const tracerName = "github.com/holomush/exthost/internal/coordinator"

// Config configures a Coordinator.
type Config struct {
	Capabilities location.Capabilities
	Affinity     location.AffinityPolicy
	Proposals    capability.Policy
	Factory      hostadapter.Factory

	// LazyStart defers starting hosts until an activation needs them.
	LazyStart bool
	// StartRetries is the number of extra start attempts per host.
	StartRetries uint64
	RetryBackoff time.Duration

	// HeartbeatInterval enables responsiveness pings when positive.
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	// RemoteEnvironment is passed to remote hosts when they start.
	RemoteEnvironment map[string]string

	// Registerer receives the coordinator metrics. Nil disables metrics.
	Registerer prometheus.Registerer
	Logger     *slog.Logger
}

// record is the coordinator's view of one extension.
type record struct {
	desc   *extension.Descriptor
	status extension.Status
	// hostFailed marks a failure caused by the host rather than the
	// extension; such extensions are retried by later activations.
	hostFailed bool
}

// Coordinator implements Service.
type Coordinator struct {
	cfg      Config
	id       ulid.ULID
	logger   *slog.Logger
	resolver *location.Resolver
	tracker  *activation.Tracker
	tracer   trace.Tracer
	metrics  *observability.Metrics
	release  func()

	mu        sync.Mutex
	exts      *extension.Registry
	records   map[string]*record
	hosts     map[string]*host
	gen       uint64
	stopped   bool
	closed    bool
	remoteEnv map[string]string
	wg        sync.WaitGroup

	registered     chan struct{}
	registeredOnce sync.Once

	onDidRegister       *event.Emitter[struct{}]
	onDidChangeStatus   *event.Emitter[[]extension.Identifier]
	onDidChangeExts     *event.Emitter[struct{}]
	onWillActivate      *event.Emitter[WillActivateEvent]
	onDidChangeResponse *event.Emitter[ResponsiveStateChangeEvent]
}

// New creates a coordinator. cfg.Factory is required.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Factory == nil {
		return nil, oops.In("coordinator").Errorf("host factory is required")
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	id := event.NewULID()
	c := &Coordinator{
		cfg:                 cfg,
		id:                  id,
		logger:              logger.With("session", id.String()),
		resolver:            location.NewResolver(cfg.Affinity),
		tracker:             activation.NewTracker(),
		tracer:              otel.Tracer(tracerName),
		release:             func() {},
		exts:                extension.NewRegistry(),
		records:             make(map[string]*record),
		hosts:               make(map[string]*host),
		remoteEnv:           make(map[string]string),
		registered:          make(chan struct{}),
		onDidRegister:       event.NewEmitter[struct{}]("did-register-extensions"),
		onDidChangeStatus:   event.NewEmitter[[]extension.Identifier]("did-change-extensions-status"),
		onDidChangeExts:     event.NewEmitter[struct{}]("did-change-extensions"),
		onWillActivate:      event.NewEmitter[WillActivateEvent]("will-activate-by-event"),
		onDidChangeResponse: event.NewEmitter[ResponsiveStateChangeEvent]("did-change-responsive"),
	}
	for k, v := range cfg.RemoteEnvironment {
		c.remoteEnv[k] = v
	}
	if cfg.Registerer != nil {
		m, release, err := observability.Shared(cfg.Registerer, "coordinator:"+id.String())
		if err != nil {
			return nil, oops.In("coordinator").Hint("failed to register metrics").Wrap(err)
		}
		c.metrics, c.release = m, release
	}
	return c, nil
}

// SessionID identifies this coordinator in logs.
func (c *Coordinator) SessionID() string { return c.id.String() }

// RegisterInstalled adds the installed extensions, opens the gate normal
// activations wait on and, unless hosts start lazily, starts the hosts the
// extensions need.
func (c *Coordinator) RegisterInstalled(ctx context.Context, descs []*extension.Descriptor) error {
	if err := c.DeltaExtensions(ctx, descs, nil); err != nil {
		return err
	}
	first := false
	c.registeredOnce.Do(func() {
		first = true
		close(c.registered)
		c.tracker.MarkReady()
	})
	if first {
		c.logger.Info("installed extensions registered", "count", len(descs))
		c.onDidRegister.Emit(struct{}{})
	}
	if !c.cfg.LazyStart {
		return c.startAll(ctx)
	}
	return nil
}

// WhenInstalledExtensionsRegistered waits for RegisterInstalled.
func (c *Coordinator) WhenInstalledExtensionsRegistered(ctx context.Context) (bool, error) {
	select {
	case <-c.registered:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// OnDidRegisterExtensions fires once installed extensions are registered.
func (c *Coordinator) OnDidRegisterExtensions() (<-chan struct{}, func()) {
	return c.onDidRegister.Subscribe()
}

// OnDidChangeExtensionsStatus carries the extensions whose status changed.
func (c *Coordinator) OnDidChangeExtensionsStatus() (<-chan []extension.Identifier, func()) {
	return c.onDidChangeStatus.Subscribe()
}

// OnDidChangeExtensions fires when the set of extensions changes.
func (c *Coordinator) OnDidChangeExtensions() (<-chan struct{}, func()) {
	return c.onDidChangeExts.Subscribe()
}

// OnWillActivateByEvent fires before an activation event is awaited.
func (c *Coordinator) OnWillActivateByEvent() (<-chan WillActivateEvent, func()) {
	return c.onWillActivate.Subscribe()
}

// OnDidChangeResponsiveChange fires when a host stops or resumes answering
// heartbeats.
func (c *Coordinator) OnDidChangeResponsiveChange() (<-chan ResponsiveStateChangeEvent, func()) {
	return c.onDidChangeResponse.Subscribe()
}

func (c *Coordinator) emitStatus(ids []extension.Identifier) {
	if len(ids) > 0 {
		c.onDidChangeStatus.Emit(ids)
	}
}

// Close disposes every host and settles pending activations. The
// coordinator cannot be used afterwards.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopped = true
	c.gen++
	hosts := c.takeHostsLocked()
	c.mu.Unlock()

	c.tracker.Close(errHostsStopped())
	c.disposeHosts(hosts)
	c.wg.Wait()

	c.onDidRegister.Close()
	c.onDidChangeStatus.Close()
	c.onDidChangeExts.Close()
	c.onWillActivate.Close()
	c.onDidChangeResponse.Close()
	c.release()
	c.logger.Debug("coordinator closed")
}

func errHostRestarted() error {
	return oops.Code(extension.CodeHostRestarted).In("coordinator").Errorf("extension hosts restarted")
}

func errHostsStopped() error {
	return oops.Code(extension.CodeHostsStopped).In("coordinator").Errorf("extension hosts are stopped")
}

func errUnknownHost(hostID string) error {
	return oops.Code(extension.CodeUnknownHost).In("coordinator").With("host", hostID).
		Errorf("no running extension host %s", hostID)
}
