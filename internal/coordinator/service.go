// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package coordinator

import (
	"context"

	"github.com/holomush/exthost/internal/activation"
	"github.com/holomush/exthost/internal/extension"
	"github.com/holomush/exthost/internal/profiling"
)

// WillActivateEvent is emitted before an activation event is awaited.
type WillActivateEvent struct {
	Event      string
	Activation *activation.Operation
}

// ResponsiveStateChangeEvent reports a host starting or stopping to answer
// heartbeats.
type ResponsiveStateChangeEvent struct {
	HostID       string
	Kind         extension.HostKind
	IsResponsive bool
}

// InspectPort is the inspector port of one host.
type InspectPort struct {
	HostID string
	Port   int
}

// Service is the extension service consumed by the rest of the
// application.
type Service interface {
	ActivateByEvent(ctx context.Context, event string, kind extension.ActivationKind) error
	ActivateByID(ctx context.Context, id extension.Identifier, reason extension.ActivationReason) error
	ActivationEventIsDone(event string) bool
	WhenInstalledExtensionsRegistered(ctx context.Context) (bool, error)

	GetExtensions() []*extension.Descriptor
	GetExtension(id extension.Identifier) (*extension.Descriptor, bool)
	GetExtensionsStatus() map[string]extension.Status
	CanAddExtension(d *extension.Descriptor) bool
	CanRemoveExtension(d *extension.Descriptor) bool
	DeltaExtensions(ctx context.Context, added []*extension.Descriptor, removed []extension.Identifier) error

	RestartExtensionHosts(ctx context.Context) error
	StopExtensionHosts(ctx context.Context) error
	StartExtensionHosts(ctx context.Context) error

	GetInspectPort(ctx context.Context, hostID string, tryEnable bool) int
	GetInspectPorts(ctx context.Context, kind extension.HostKind, tryEnable bool) []InspectPort
	SetRemoteEnvironment(ctx context.Context, env map[string]string) error

	ExecuteCommand(ctx context.Context, command string, args ...any) (any, error)
	StartProfiling(ctx context.Context, hostID string) (profiling.Session, error)

	OnDidRegisterExtensions() (<-chan struct{}, func())
	OnDidChangeExtensionsStatus() (<-chan []extension.Identifier, func())
	OnDidChangeExtensions() (<-chan struct{}, func())
	OnWillActivateByEvent() (<-chan WillActivateEvent, func())
	OnDidChangeResponsiveChange() (<-chan ResponsiveStateChangeEvent, func())
}

var (
	_ Service = (*Coordinator)(nil)
	_ Service = NullService{}
)

// NullService is the Service used when no extension hosts run at all. Every
// call returns immediately with an empty result and no error.
type NullService struct{}

func (NullService) ActivateByEvent(context.Context, string, extension.ActivationKind) error {
	return nil
}

func (NullService) ActivateByID(context.Context, extension.Identifier, extension.ActivationReason) error {
	return nil
}

func (NullService) ActivationEventIsDone(string) bool { return false }

func (NullService) WhenInstalledExtensionsRegistered(context.Context) (bool, error) {
	return true, nil
}

func (NullService) GetExtensions() []*extension.Descriptor { return nil }

func (NullService) GetExtension(extension.Identifier) (*extension.Descriptor, bool) {
	return nil, false
}

func (NullService) GetExtensionsStatus() map[string]extension.Status {
	return map[string]extension.Status{}
}

func (NullService) CanAddExtension(*extension.Descriptor) bool    { return false }
func (NullService) CanRemoveExtension(*extension.Descriptor) bool { return false }

func (NullService) DeltaExtensions(context.Context, []*extension.Descriptor, []extension.Identifier) error {
	return nil
}

func (NullService) RestartExtensionHosts(context.Context) error { return nil }
func (NullService) StopExtensionHosts(context.Context) error    { return nil }
func (NullService) StartExtensionHosts(context.Context) error   { return nil }

func (NullService) GetInspectPort(context.Context, string, bool) int { return 0 }

func (NullService) GetInspectPorts(context.Context, extension.HostKind, bool) []InspectPort {
	return nil
}

func (NullService) SetRemoteEnvironment(context.Context, map[string]string) error { return nil }

func (NullService) ExecuteCommand(context.Context, string, ...any) (any, error) { return nil, nil }

func (NullService) StartProfiling(context.Context, string) (profiling.Session, error) {
	return nullSession{}, nil
}

func (NullService) OnDidRegisterExtensions() (<-chan struct{}, func()) {
	return make(chan struct{}), func() {}
}

func (NullService) OnDidChangeExtensionsStatus() (<-chan []extension.Identifier, func()) {
	return make(chan []extension.Identifier), func() {}
}

func (NullService) OnDidChangeExtensions() (<-chan struct{}, func()) {
	return make(chan struct{}), func() {}
}

func (NullService) OnWillActivateByEvent() (<-chan WillActivateEvent, func()) {
	return make(chan WillActivateEvent), func() {}
}

func (NullService) OnDidChangeResponsiveChange() (<-chan ResponsiveStateChangeEvent, func()) {
	return make(chan ResponsiveStateChangeEvent), func() {}
}

type nullSession struct{}

func (nullSession) Stop(context.Context) (*profiling.Data, error) {
	return &profiling.Data{}, nil
}
