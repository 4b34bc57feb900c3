// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//nolint:gocritic // captLocal: L is the idiomatic name for lua.LState
package luahost

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/exthost/internal/capability"
	"github.com/holomush/exthost/internal/extension"
	"github.com/holomush/exthost/internal/profiling"
	"github.com/holomush/exthost/internal/protocol"
)

// InspectorFunc enables an inspector and returns its port.
type InspectorFunc func(ctx context.Context) (int, error)

// module is one extension resident in the runtime.
type module struct {
	info      protocol.ExtensionInfo
	id        extension.Identifier
	state     *lua.LState
	activated bool
	failure   *protocol.RemoteError
	times     protocol.Times
}

type command struct {
	owner *module
	fn    *lua.LFunction
}

// Runtime hosts Lua extensions and serves protocol requests for them.
//
// Lua states are not safe for concurrent use, so requests are serialized.
type Runtime struct {
	mu        sync.Mutex
	factory   *StateFactory
	enforcer  *capability.Enforcer
	notifier  protocol.Notifier
	logger    *slog.Logger
	inspector InspectorFunc
	profiler  *profiler
	mux       *protocol.Mux

	hostID      string
	initialized bool
	closed      bool
	modules     map[string]*module
	commands    map[string]command
	env         map[string]string
	inspectPort int
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger used for extension log output.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) { r.logger = logger }
}

// WithInspector enables the enableInspector request.
func WithInspector(fn InspectorFunc) Option {
	return func(r *Runtime) { r.inspector = fn }
}

// WithInspectPort records an inspector that is already running.
func WithInspectPort(port int) Option {
	return func(r *Runtime) { r.inspectPort = port }
}

// WithClock overrides the profiler clock.
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) { r.profiler.now = now }
}

// New creates a runtime that sends notifications through notifier.
func New(notifier protocol.Notifier, opts ...Option) *Runtime {
	r := &Runtime{
		factory:  NewStateFactory(),
		enforcer: capability.NewEnforcer(),
		notifier: notifier,
		logger:   slog.Default(),
		profiler: newProfiler(time.Now, os.Getpid()),
		modules:  make(map[string]*module),
		commands: make(map[string]command),
		env:      make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.mux = protocol.NewMux()
	r.mux.RouteFunc(protocol.MethodInitialize, r.initialize)
	r.mux.RouteFunc(protocol.MethodDeltaExtensions, r.deltaExtensions)
	r.mux.RouteFunc(protocol.MethodActivate, r.activate)
	r.mux.RouteFunc(protocol.MethodExecuteCommand, r.executeCommand)
	r.mux.RouteFunc(protocol.MethodPing, r.ping)
	r.mux.RouteFunc(protocol.MethodStartProfile, r.startProfile)
	r.mux.RouteFunc(protocol.MethodStopProfile, r.stopProfile)
	r.mux.RouteFunc(protocol.MethodEnableInspector, r.enableInspector)
	r.mux.RouteFunc(protocol.MethodSetEnvironment, r.setEnvironment)
	r.mux.RouteFunc(protocol.MethodShutdown, r.shutdown)
	return r
}

// Handle implements protocol.Handler.
func (r *Runtime) Handle(ctx context.Context, method string, params json.RawMessage) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.profiler.enter(profiling.SegmentSelf)
	defer r.profiler.enter(profiling.SegmentIdle)

	if r.closed {
		return nil, oops.Code(extension.CodeAdapterExited).In("luahost").Errorf("runtime is shut down")
	}
	if !r.initialized && method != protocol.MethodInitialize && method != protocol.MethodPing {
		return nil, &protocol.Error{Code: protocol.CodeInvalidRequest, Message: "host not initialized"}
	}
	return r.mux.Handle(ctx, method, params)
}

// Close releases every Lua state.
func (r *Runtime) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked()
}

func (r *Runtime) closeLocked() {
	r.closed = true
	for _, m := range r.modules {
		if m.state != nil {
			m.state.Close()
			m.state = nil
		}
	}
	r.modules = make(map[string]*module)
	r.commands = make(map[string]command)
}

func (r *Runtime) initialize(_ context.Context, raw json.RawMessage) (any, error) {
	var params protocol.InitializeParams
	if err := protocol.Decode(raw, &params); err != nil {
		return nil, err
	}
	if params.ProtocolVersion != protocol.Version {
		return nil, &protocol.Error{
			Code:    protocol.CodeInvalidRequest,
			Message: "unsupported protocol version",
		}
	}
	if r.initialized {
		return nil, &protocol.Error{Code: protocol.CodeInvalidRequest, Message: "host already initialized"}
	}

	r.hostID = params.HostID
	for k, v := range params.Environment {
		r.env[k] = v
	}
	if err := r.addLocked(params.Extensions); err != nil {
		return nil, err
	}
	r.initialized = true
	r.logger.Debug("host initialized", "host", r.hostID, "extensions", len(params.Extensions))

	return protocol.InitializeResult{
		ProtocolVersion: protocol.Version,
		Authority:       params.Authority,
		PID:             os.Getpid(),
		InspectPort:     r.inspectPort,
	}, nil
}

func (r *Runtime) addLocked(infos []protocol.ExtensionInfo) error {
	for _, info := range infos {
		id := extension.NewIdentifier(info.ID)
		if _, ok := r.modules[id.Key()]; ok {
			continue
		}
		if err := r.enforcer.SetGrants(id.Key(), info.EnabledAPIProposals); err != nil {
			return &protocol.Error{Code: protocol.CodeInvalidParams, Message: err.Error()}
		}
		r.modules[id.Key()] = &module{info: info, id: id}
	}
	return nil
}

func (r *Runtime) deltaExtensions(_ context.Context, raw json.RawMessage) (any, error) {
	var params protocol.DeltaExtensionsParams
	if err := protocol.Decode(raw, &params); err != nil {
		return nil, err
	}
	for _, id := range params.Removed {
		key := extension.NewIdentifier(id).Key()
		m, ok := r.modules[key]
		if !ok {
			continue
		}
		for name, cmd := range r.commands {
			if cmd.owner == m {
				delete(r.commands, name)
			}
		}
		if m.state != nil {
			m.state.Close()
		}
		r.enforcer.RemoveGrants(key)
		delete(r.modules, key)
	}
	if err := r.addLocked(params.Added); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

func (r *Runtime) activate(ctx context.Context, raw json.RawMessage) (any, error) {
	var params protocol.ActivateParams
	if err := protocol.Decode(raw, &params); err != nil {
		return nil, err
	}

	result := protocol.ActivateResult{Results: make([]protocol.ActivationResult, 0, len(params.ExtensionIDs))}
	for _, id := range params.ExtensionIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.Results = append(result.Results, r.activateOne(ctx, extension.NewIdentifier(id)))
	}
	return result, nil
}

func (r *Runtime) activateOne(ctx context.Context, id extension.Identifier) protocol.ActivationResult {
	out := protocol.ActivationResult{ExtensionID: id.Value()}

	m, ok := r.modules[id.Key()]
	if !ok {
		out.Error = &protocol.RemoteError{Message: "unknown extension " + id.Value(), Code: extension.CodeUnknownExtension}
		return out
	}
	if m.activated || m.failure != nil {
		out.AlreadyActive = m.activated
		out.Times = m.times
		out.Error = m.failure
		return out
	}

	start := time.Now()
	L, err := r.load(ctx, m)
	loaded := time.Now()
	if err != nil {
		return r.fail(ctx, m, out, err)
	}

	var resolved time.Time
	called := loaded
	if fn, ok := L.GetGlobal("activate").(*lua.LFunction); ok {
		ret, err := r.call(ctx, m, fn, 1, r.contextTable(L, m))
		called = time.Now()
		if err == nil {
			if deferred, ok := ret[0].(*lua.LFunction); ok {
				_, err = r.call(ctx, m, deferred, 0)
			}
		}
		if err != nil {
			return r.fail(ctx, m, out, err)
		}
	}
	resolved = time.Now()

	m.activated = true
	m.times = protocol.TimesFrom(loaded.Sub(start), called.Sub(loaded), resolved.Sub(called))
	out.Times = m.times
	r.logger.Debug("extension activated", "extension", id.Value(), "host", r.hostID)
	return out
}

// fail records a failed activation. Failures caused by cancellation are not
// remembered, so a later request may activate the extension again.
func (r *Runtime) fail(ctx context.Context, m *module, out protocol.ActivationResult, err error) protocol.ActivationResult {
	out.Error = remoteError(err)
	if ctx.Err() != nil {
		if m.state != nil {
			m.state.Close()
			m.state = nil
		}
		return out
	}
	m.failure = out.Error
	return out
}

// load reads the entry script and runs it in a fresh state.
func (r *Runtime) load(ctx context.Context, m *module) (*lua.LState, error) {
	path := filepath.Clean(filepath.Join(m.info.Location, m.info.Main))
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.In("luahost").With("extension", m.id.Value()).With("path", path).Hint("failed to read entry file").Wrap(err)
	}

	L, err := r.factory.NewState(ctx)
	if err != nil {
		return nil, oops.In("luahost").With("extension", m.id.Value()).Hint("failed to create state").Wrap(err)
	}
	r.register(L, m)

	prev := r.profiler.enter(m.id.Key())
	err = L.DoString(string(code))
	r.profiler.enter(prev)
	if err != nil {
		L.Close()
		return nil, err
	}
	m.state = L
	return L, nil
}

// call runs fn in the extension's segment and returns nret results.
func (r *Runtime) call(ctx context.Context, m *module, fn *lua.LFunction, nret int, args ...lua.LValue) ([]lua.LValue, error) {
	L := m.state
	L.SetContext(ctx)
	defer L.RemoveContext()

	prev := r.profiler.enter(m.id.Key())
	defer r.profiler.enter(prev)

	if err := L.CallByParam(lua.P{Fn: fn, NRet: nret, Protect: true}, args...); err != nil {
		return nil, err
	}
	out := make([]lua.LValue, nret)
	for i := nret - 1; i >= 0; i-- {
		out[i] = L.Get(-1)
		L.Pop(1)
	}
	return out, nil
}

func (r *Runtime) contextTable(L *lua.LState, m *module) *lua.LTable {
	t := L.NewTable()
	L.SetField(t, "extension_id", lua.LString(m.id.Value()))
	L.SetField(t, "extension_path", lua.LString(m.info.Location))
	L.SetField(t, "register_command", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		fn := L.CheckFunction(2)
		if existing, ok := r.commands[name]; ok && existing.owner != m {
			L.RaiseError("command %s already registered by %s", name, existing.owner.id.Value())
			return 0
		}
		r.commands[name] = command{owner: m, fn: fn}
		return 0
	}))
	return t
}

func (r *Runtime) executeCommand(ctx context.Context, raw json.RawMessage) (any, error) {
	var params protocol.ExecuteCommandParams
	if err := protocol.Decode(raw, &params); err != nil {
		return nil, err
	}
	cmd, ok := r.commands[params.Command]
	if !ok {
		return nil, &protocol.Error{Code: protocol.CodeCommandNotFound, Message: "command not found: " + params.Command}
	}

	L := cmd.owner.state
	args := make([]lua.LValue, 0, len(params.Args))
	for _, a := range params.Args {
		args = append(args, toLua(L, a))
	}
	ret, err := r.call(ctx, cmd.owner, cmd.fn, 1, args...)
	if err != nil {
		rerr := remoteError(err)
		r.notify(ctx, protocol.NotifyRuntimeError, protocol.RuntimeErrorParams{
			ExtensionID: cmd.owner.id.Value(),
			Message:     rerr.Message,
			Stack:       rerr.Stack,
		})
		return nil, oops.Code(extension.CodeRuntimeError).
			In("luahost").
			With("extension", cmd.owner.id.Value()).
			With("command", params.Command).
			Errorf("%s", rerr.Message)
	}
	return protocol.ExecuteCommandResult{Result: fromLua(ret[0])}, nil
}

func (r *Runtime) ping(_ context.Context, raw json.RawMessage) (any, error) {
	var params protocol.PingParams
	if err := protocol.Decode(raw, &params); err != nil {
		return nil, err
	}
	return protocol.PingResult(params), nil
}

func (r *Runtime) startProfile(context.Context, json.RawMessage) (any, error) {
	id, ok := r.profiler.begin()
	if !ok {
		return nil, &protocol.Error{Code: protocol.CodeInvalidRequest, Message: "profile " + id + " already running"}
	}
	return protocol.StartProfileResult{SessionID: id}, nil
}

func (r *Runtime) stopProfile(_ context.Context, raw json.RawMessage) (any, error) {
	var params protocol.StopProfileParams
	if err := protocol.Decode(raw, &params); err != nil {
		return nil, err
	}
	data, ok := r.profiler.finish(params.SessionID)
	if !ok {
		return nil, &protocol.Error{Code: protocol.CodeInvalidParams, Message: "no running profile " + params.SessionID}
	}
	return protocol.StopProfileResult{Profile: *data}, nil
}

func (r *Runtime) enableInspector(ctx context.Context, _ json.RawMessage) (any, error) {
	if r.inspectPort != 0 || r.inspector == nil {
		return protocol.EnableInspectorResult{Port: r.inspectPort}, nil
	}
	port, err := r.inspector(ctx)
	if err != nil {
		return nil, oops.In("luahost").Hint("failed to start inspector").Wrap(err)
	}
	r.inspectPort = port
	return protocol.EnableInspectorResult{Port: port}, nil
}

func (r *Runtime) setEnvironment(_ context.Context, raw json.RawMessage) (any, error) {
	var params protocol.SetEnvironmentParams
	if err := protocol.Decode(raw, &params); err != nil {
		return nil, err
	}
	for k, v := range params.Env {
		if v == nil {
			delete(r.env, k)
			continue
		}
		r.env[k] = *v
	}
	return struct{}{}, nil
}

func (r *Runtime) shutdown(context.Context, json.RawMessage) (any, error) {
	r.closeLocked()
	return struct{}{}, nil
}

func remoteError(err error) *protocol.RemoteError {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		msg := apiErr.Error()
		if apiErr.Object != nil {
			msg = apiErr.Object.String()
		}
		return &protocol.RemoteError{Message: msg, Stack: apiErr.StackTrace, Code: extension.CodeActivationFailed}
	}
	return &protocol.RemoteError{Message: err.Error(), Code: extension.CodeActivationFailed}
}
