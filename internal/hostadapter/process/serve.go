// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package process

import (
	"context"
	"log/slog"
	"os"

	"github.com/hashicorp/go-hclog"

	"github.com/holomush/exthost/internal/luahost"
	"github.com/holomush/exthost/internal/protocol"
)

// RunWorker serves a Lua extension runtime as the worker side of a
// process host. It blocks until the coordinator disconnects.
func RunWorker(logger *slog.Logger) {
	inspector := &Inspector{}
	defer func() { _ = inspector.Close() }()

	hostID := os.Getenv(EnvHostID)
	logger = logger.With("host", hostID, "pid", os.Getpid())

	Serve(&ServeConfig{
		NewHandler: func(n protocol.Notifier) protocol.Handler {
			opts := []luahost.Option{
				luahost.WithLogger(logger),
				luahost.WithInspector(inspector.Start),
			}
			if os.Getenv(EnvInspect) != "" {
				if port, err := inspector.Start(context.Background()); err != nil {
					logger.Warn("inspector unavailable", "error", err)
				} else {
					opts = append(opts, luahost.WithInspectPort(port))
				}
			}
			return luahost.New(n, opts...)
		},
		Logger: hclog.New(&hclog.LoggerOptions{
			Name:       "exthost.worker",
			Level:      hclog.Info,
			Output:     os.Stderr,
			JSONFormat: true,
		}),
	})
}
