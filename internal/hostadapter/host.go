// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package hostadapter

import (
	"context"
	"log/slog"
	"sync"

	"github.com/holomush/exthost/internal/extension"
	"github.com/holomush/exthost/internal/protocol"
)

// LaunchSpec tells a launcher which target to bring up.
type LaunchSpec struct {
	HostID    string
	Location  extension.RunningLocation
	Authority string
}

// Session is a launched execution target.
type Session struct {
	Channel protocol.Channel
	// Exit delivers the target's exit status. When nil, the channel
	// closing is treated as the exit.
	Exit <-chan ExitStatus
	// Close releases the target. Called at most once.
	Close func()
	// EnableInspector is nil when the target cannot be inspected.
	EnableInspector func(ctx context.Context) (int, error)
}

// Launcher brings up one kind of execution target.
type Launcher interface {
	// Launch creates the target. ctx is cancelled when the adapter is
	// disposed; a failed launch must release everything it acquired.
	Launch(ctx context.Context, spec LaunchSpec) (*Session, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, spec LaunchSpec) (*Session, error)

// Launch implements Launcher.
func (f LauncherFunc) Launch(ctx context.Context, spec LaunchSpec) (*Session, error) {
	return f(ctx, spec)
}

// Config describes one adapter.
type Config struct {
	ID        string
	Location  extension.RunningLocation
	Authority string
	Lazy      bool
	// Grants returns the proposals to grant an extension on this host.
	Grants func(*extension.Descriptor) []string
	// Environment is passed to the host at initialization.
	Environment map[string]string
	Logger      *slog.Logger
}

// Host implements Adapter on top of a Launcher. After launching, Host
// negotiates the protocol with initialize; a failed negotiation fails the
// start.
type Host struct {
	cfg      Config
	launcher Launcher
	exts     *extension.Registry
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	session     *Session
	ch          protocol.Channel
	startErr    error
	inspectPort int

	startDone chan struct{}
	disposed  chan struct{}
	exited    chan struct{}
	exitOnce  sync.Once
	status    ExitStatus
}

var _ Adapter = (*Host)(nil)

// New creates an adapter that launches its target through launcher.
func New(cfg Config, launcher Launcher) *Host {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Host{
		cfg:       cfg,
		launcher:  launcher,
		exts:      extension.NewRegistry(),
		logger:    logger.With("host", cfg.ID, "location", cfg.Location.String()),
		ctx:       ctx,
		cancel:    cancel,
		startDone: make(chan struct{}),
		disposed:  make(chan struct{}),
		exited:    make(chan struct{}),
	}
}

// ID implements Adapter.
func (h *Host) ID() string { return h.cfg.ID }

// Location implements Adapter.
func (h *Host) Location() extension.RunningLocation { return h.cfg.Location }

// RemoteAuthority implements Adapter.
func (h *Host) RemoteAuthority() string { return h.cfg.Authority }

// LazyStart implements Adapter.
func (h *Host) LazyStart() bool { return h.cfg.Lazy }

// Extensions implements Adapter.
func (h *Host) Extensions() *extension.Registry { return h.exts }

// State implements Adapter.
func (h *Host) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Exited implements Adapter.
func (h *Host) Exited() <-chan struct{} { return h.exited }

// ExitStatus implements Adapter.
func (h *Host) ExitStatus() ExitStatus {
	<-h.exited
	return h.status
}

// Start implements Adapter.
func (h *Host) Start(ctx context.Context) (protocol.Channel, error) {
	h.mu.Lock()
	switch h.state {
	case StateUninitialized:
		h.state = StateStarting
		go h.run()
	case StateDisposed:
		h.mu.Unlock()
		return nil, disposedError(h.cfg.ID)
	case StateExited:
		err := h.startErr
		h.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return nil, exitedError(h.cfg.ID, h.status)
	case StateStarting, StateRunning:
	}
	h.mu.Unlock()

	select {
	case <-h.startDone:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.ch, h.startErr
	case <-h.disposed:
		return nil, disposedError(h.cfg.ID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Host) run() {
	defer close(h.startDone)

	sess, err := h.launcher.Launch(h.ctx, LaunchSpec{
		HostID:    h.cfg.ID,
		Location:  h.cfg.Location,
		Authority: h.cfg.Authority,
	})
	if err == nil {
		if err = h.initialize(sess); err != nil {
			sess.Close()
		}
	}

	h.mu.Lock()
	if h.state == StateDisposed {
		h.startErr = disposedError(h.cfg.ID)
		h.mu.Unlock()
		if err == nil {
			sess.Close()
		}
		return
	}
	if err != nil {
		h.startErr = startFailed(h.cfg.ID, h.cfg.Location, err)
		h.state = StateExited
		h.mu.Unlock()
		h.logger.Warn("extension host failed to start", "error", err)
		h.cancel()
		h.fireExit(ExitStatus{Code: -1, Reason: err.Error()})
		return
	}
	h.session = sess
	h.ch = sess.Channel
	h.state = StateRunning
	h.mu.Unlock()

	h.logger.Info("extension host started", "inspect_port", h.InspectPort())
	go h.watch(sess)
}

func (h *Host) initialize(sess *Session) error {
	infos := make([]protocol.ExtensionInfo, 0, h.exts.Len())
	for _, d := range h.exts.All() {
		var grants []string
		if h.cfg.Grants != nil {
			grants = h.cfg.Grants(d)
		}
		infos = append(infos, protocol.InfoFor(d, grants))
	}

	var res protocol.InitializeResult
	if err := sess.Channel.Call(h.ctx, protocol.MethodInitialize, protocol.InitializeParams{
		ProtocolVersion: protocol.Version,
		HostID:          h.cfg.ID,
		Location:        h.cfg.Location.String(),
		Authority:       h.cfg.Authority,
		Extensions:      infos,
		Environment:     h.cfg.Environment,
	}, &res); err != nil {
		return err
	}
	if res.ProtocolVersion != protocol.Version {
		return &protocol.Error{Code: protocol.CodeInvalidRequest, Message: "protocol version mismatch"}
	}
	if h.cfg.Authority != "" && res.Authority != h.cfg.Authority {
		return &protocol.Error{Code: protocol.CodeInvalidRequest, Message: "peer answered for authority " + res.Authority}
	}

	h.mu.Lock()
	h.inspectPort = res.InspectPort
	h.mu.Unlock()
	return nil
}

func (h *Host) watch(sess *Session) {
	var status ExitStatus
	if sess.Exit != nil {
		select {
		case status = <-sess.Exit:
		case <-h.ctx.Done():
			return
		}
	} else {
		select {
		case <-sess.Channel.Done():
			status = ExitStatus{Reason: "connection closed"}
		case <-h.ctx.Done():
			return
		}
	}

	h.mu.Lock()
	if h.state != StateRunning {
		h.mu.Unlock()
		return
	}
	h.state = StateExited
	h.mu.Unlock()

	h.logger.Warn("extension host exited", "exit", status.String())
	h.cancel()
	sess.Close()
	h.fireExit(status)
}

func (h *Host) fireExit(status ExitStatus) {
	h.exitOnce.Do(func() {
		h.status = status
		close(h.exited)
	})
}

// InspectPort implements Adapter.
func (h *Host) InspectPort() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inspectPort
}

// EnableInspectPort implements Adapter.
func (h *Host) EnableInspectPort(ctx context.Context) bool {
	h.mu.Lock()
	if h.inspectPort != 0 {
		h.mu.Unlock()
		return true
	}
	sess := h.session
	running := h.state == StateRunning
	h.mu.Unlock()

	if !running || sess.EnableInspector == nil {
		return false
	}
	port, err := sess.EnableInspector(ctx)
	if err != nil || port == 0 {
		h.logger.Debug("inspector unavailable", "error", err)
		return false
	}

	h.mu.Lock()
	h.inspectPort = port
	h.mu.Unlock()
	return true
}

// Dispose implements Adapter.
func (h *Host) Dispose() {
	h.mu.Lock()
	if h.state == StateDisposed {
		h.mu.Unlock()
		return
	}
	prev := h.state
	h.state = StateDisposed
	sess := h.session
	h.mu.Unlock()

	close(h.disposed)
	h.cancel()
	if sess != nil && prev == StateRunning {
		sess.Close()
	}
	h.logger.Debug("extension host disposed", "previous_state", prev.String())
	h.fireExit(ExitStatus{Reason: "disposed"})
}
