// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package hostadapter

import (
	"github.com/samber/oops"

	"github.com/holomush/exthost/internal/extension"
)

// Factory creates the adapter for a running location.
type Factory interface {
	Create(cfg Config) (Adapter, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(cfg Config) (Adapter, error)

// Create implements Factory.
func (f FactoryFunc) Create(cfg Config) (Adapter, error) { return f(cfg) }

// Launchers is the default Factory: one launcher per target kind. A nil
// launcher means the kind is unavailable.
type Launchers struct {
	Worker  Launcher
	Process Launcher
	Remote  Launcher
}

// Create implements Factory.
func (l Launchers) Create(cfg Config) (Adapter, error) {
	var launcher Launcher
	switch cfg.Location.(type) {
	case extension.LocalWorker:
		launcher = l.Worker
	case extension.LocalProcess:
		launcher = l.Process
	case extension.Remote:
		launcher = l.Remote
	default:
		extension.UnknownLocation(cfg.Location)
	}
	if launcher == nil {
		return nil, oops.Code(extension.CodeAdapterStartFailed).
			In("hostadapter").
			With("location", cfg.Location.String()).
			Errorf("no launcher for %s hosts", cfg.Location.Kind())
	}
	return New(cfg, launcher), nil
}
