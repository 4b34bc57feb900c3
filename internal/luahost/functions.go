// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//nolint:gocritic // captLocal: L is the idiomatic name for lua.LState
package luahost

import (
	"context"

	"github.com/oklog/ulid/v2"
	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/exthost/internal/profiling"
	"github.com/holomush/exthost/internal/protocol"
)

// ProposalEnvironment gates exthost.getenv.
const ProposalEnvironment = "environment"

// register installs the exthost table into the extension's state.
func (r *Runtime) register(L *lua.LState, m *module) {
	mod := L.NewTable()

	L.SetField(mod, "log", L.NewFunction(r.hostFn(r.logFn(m))))
	L.SetField(mod, "new_request_id", L.NewFunction(r.hostFn(newRequestIDFn)))
	L.SetField(mod, "report_error", L.NewFunction(r.hostFn(r.reportErrorFn(m))))
	L.SetField(mod, "show_message", L.NewFunction(r.hostFn(r.showMessageFn(m))))
	L.SetField(mod, "require_proposal", L.NewFunction(r.hostFn(r.requireProposalFn(m))))
	L.SetField(mod, "getenv", L.NewFunction(r.hostFn(r.wrap(m, ProposalEnvironment, r.getenvFn()))))

	L.SetGlobal("exthost", mod)
}

// hostFn attributes the time spent in fn to the program segment.
func (r *Runtime) hostFn(fn lua.LGFunction) lua.LGFunction {
	return func(L *lua.LState) int {
		prev := r.profiler.enter(profiling.SegmentProgram)
		defer r.profiler.enter(prev)
		return fn(L)
	}
}

// wrap denies fn unless the extension was granted proposal.
func (r *Runtime) wrap(m *module, proposal string, fn lua.LGFunction) lua.LGFunction {
	return func(L *lua.LState) int {
		if err := r.enforcer.Require(m.id.Value(), proposal, m.id.Key()); err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		return fn(L)
	}
}

func (r *Runtime) logFn(m *module) lua.LGFunction {
	return func(L *lua.LState) int {
		level := L.CheckString(1)
		message := L.CheckString(2)

		logger := r.logger.With("extension", m.id.Value())
		switch level {
		case "debug":
			logger.Debug(message)
		case "warn":
			logger.Warn(message)
		case "error":
			logger.Error(message)
		default:
			logger.Info(message)
		}
		return 0
	}
}

func newRequestIDFn(L *lua.LState) int {
	L.Push(lua.LString(ulid.Make().String()))
	return 1
}

func (r *Runtime) reportErrorFn(m *module) lua.LGFunction {
	return func(L *lua.LState) int {
		message := L.CheckString(1)
		stack := L.OptString(2, "")
		r.notify(stateContext(L), protocol.NotifyRuntimeError, protocol.RuntimeErrorParams{
			ExtensionID: m.id.Value(),
			Message:     message,
			Stack:       stack,
		})
		return 0
	}
}

func (r *Runtime) showMessageFn(m *module) lua.LGFunction {
	return func(L *lua.LState) int {
		severity := L.CheckString(1)
		text := L.CheckString(2)
		point := L.OptString(3, "")
		r.notify(stateContext(L), protocol.NotifyMessage, protocol.MessageParams{
			ExtensionID:      m.id.Value(),
			Severity:         severity,
			Text:             text,
			ExtensionPointID: point,
		})
		return 0
	}
}

func (r *Runtime) requireProposalFn(m *module) lua.LGFunction {
	return func(L *lua.LState) int {
		proposal := L.CheckString(1)
		if err := r.enforcer.Require(m.id.Value(), proposal, m.id.Key()); err != nil {
			L.RaiseError("%s", err.Error())
		}
		return 0
	}
}

func (r *Runtime) getenvFn() lua.LGFunction {
	return func(L *lua.LState) int {
		name := L.CheckString(1)
		value, ok := r.env[name]
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(value))
		return 1
	}
}

func (r *Runtime) notify(ctx context.Context, method string, params any) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Notify(ctx, method, params); err != nil {
		r.logger.Warn("notification dropped", "method", method, "error", err)
	}
}

func stateContext(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
