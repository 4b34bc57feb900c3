// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package worker runs extensions in an isolated in-process worker. The
// worker owns its own Lua runtime and talks to the coordinator over an
// in-memory message port.
package worker

import (
	"context"
	"log/slog"

	"github.com/holomush/exthost/internal/hostadapter"
	"github.com/holomush/exthost/internal/luahost"
	"github.com/holomush/exthost/internal/protocol"
)

// Launcher starts in-process workers.
type Launcher struct {
	Logger *slog.Logger
}

var _ hostadapter.Launcher = (*Launcher)(nil)

// Launch implements hostadapter.Launcher. The worker exits when its port
// is closed.
func (l *Launcher) Launch(ctx context.Context, spec hostadapter.LaunchSpec) (*hostadapter.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var rt *luahost.Runtime
	port := protocol.NewPipe(func(n protocol.Notifier) protocol.Handler {
		rt = luahost.New(n, luahost.WithLogger(logger.With("host", spec.HostID)))
		return rt
	})

	return &hostadapter.Session{
		Channel: port,
		Close: func() {
			_ = port.Close()
			port.Wait()
			rt.Close()
		},
	}, nil
}
