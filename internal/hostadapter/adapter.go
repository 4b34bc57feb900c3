// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package hostadapter wraps the execution targets extensions run in behind
// one lifecycle contract.
//
// An adapter moves through uninitialized → starting → running and ends in
// exited or disposed. Start runs at most once; every caller shares its
// result. Exit is signalled exactly once.
package hostadapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/oops"

	"github.com/holomush/exthost/internal/extension"
	"github.com/holomush/exthost/internal/protocol"
)

// Sentinel errors returned by Start.
var (
	ErrAdapterExited   = errors.New("extension host has exited")
	ErrAdapterDisposed = errors.New("extension host was disposed")
)

// State is the lifecycle state of an adapter.
type State int

// Adapter states.
const (
	StateUninitialized State = iota
	StateStarting
	StateRunning
	StateExited
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateDisposed:
		return "disposed"
	default:
		return "uninitialized"
	}
}

// ExitStatus is the final status of an adapter.
type ExitStatus struct {
	Code int
	// Signal names the terminating signal, if the platform reports one.
	Signal string
	// Reason is a human-readable cause such as "disposed".
	Reason string
}

func (s ExitStatus) String() string {
	switch {
	case s.Signal != "":
		return fmt.Sprintf("signal %s", s.Signal)
	case s.Reason != "":
		return fmt.Sprintf("code %d (%s)", s.Code, s.Reason)
	default:
		return fmt.Sprintf("code %d", s.Code)
	}
}

// Adapter is the lifecycle wrapper around one execution target.
type Adapter interface {
	// ID is unique among the adapters of one host session.
	ID() string
	Location() extension.RunningLocation
	// RemoteAuthority is empty for local targets.
	RemoteAuthority() string
	// LazyStart reports whether starting is deferred until first need.
	LazyStart() bool
	// Extensions is the live set of extensions resident on this target.
	Extensions() *extension.Registry
	State() State

	// Start launches the target once and returns its channel. Later calls
	// share the first call's result. ctx bounds only the caller's wait.
	Start(ctx context.Context) (protocol.Channel, error)
	// InspectPort returns the inspector port, or 0.
	InspectPort() int
	// EnableInspectPort tries to enable the inspector.
	EnableInspectPort(ctx context.Context) bool
	// Exited is closed once the adapter has exited or been disposed.
	Exited() <-chan struct{}
	// ExitStatus is valid once Exited is closed.
	ExitStatus() ExitStatus
	// Dispose tears the target down. It is idempotent and cancels an
	// in-flight start.
	Dispose()
}

func startFailed(id string, loc extension.RunningLocation, cause error) error {
	return oops.Code(extension.CodeAdapterStartFailed).
		In("hostadapter").
		With("host", id).
		With("location", loc.String()).
		Errorf("extension host %s failed to start: %s", id, cause.Error())
}

func exitedError(id string, status ExitStatus) error {
	return oops.Code(extension.CodeAdapterExited).
		In("hostadapter").
		With("host", id).
		With("exit", status.String()).
		Wrap(ErrAdapterExited)
}

func disposedError(id string) error {
	return oops.Code(extension.CodeAdapterDisposed).
		In("hostadapter").
		With("host", id).
		Wrap(ErrAdapterDisposed)
}
