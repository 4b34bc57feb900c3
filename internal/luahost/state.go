// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package luahost runs Lua extensions inside an extension host and serves
// the host side of the coordinator protocol.
package luahost

import (
	"context"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
)

// Default sandbox limits.
const (
	DefaultCallStackSize   = 256
	DefaultRegistryMaxSize = 64 * 1024
)

// sandboxLibraries are opened in every extension state. os, io, debug and
// package are never opened.
var sandboxLibraries = []struct {
	name string
	open lua.LGFunction
}{
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
}

// strippedGlobals reach the filesystem or compile chunks at run time.
var strippedGlobals = []string{"dofile", "loadfile", "loadstring", "load", "require", "module"}

// StateFactory creates one sandboxed Lua state per extension.
type StateFactory struct {
	CallStackSize   int
	RegistryMaxSize int
}

// NewStateFactory returns a factory using the default limits.
func NewStateFactory() *StateFactory {
	return &StateFactory{
		CallStackSize:   DefaultCallStackSize,
		RegistryMaxSize: DefaultRegistryMaxSize,
	}
}

// NewState returns a sandboxed state bound to ctx. Cancelling ctx aborts
// whatever extension code is running in it.
func (f *StateFactory) NewState(ctx context.Context) (*lua.LState, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:    true,
		CallStackSize:   f.CallStackSize,
		RegistryMaxSize: f.RegistryMaxSize,
	})

	for _, lib := range sandboxLibraries {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		if err := L.PCall(1, 0, nil); err != nil {
			L.Close()
			return nil, oops.In("luahost").With("library", lib.name).Hint("failed to open library").Wrap(err)
		}
	}
	for _, name := range strippedGlobals {
		L.SetGlobal(name, lua.LNil)
	}

	if ctx != nil {
		L.SetContext(ctx)
	}
	return L, nil
}
