// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/holomush/exthost/internal/config"
	"github.com/holomush/exthost/internal/hostadapter"
	"github.com/holomush/exthost/internal/hostadapter/process"
	"github.com/holomush/exthost/internal/hostadapter/remote"
	"github.com/holomush/exthost/internal/hostadapter/worker"
	"github.com/holomush/exthost/internal/observability"
	"github.com/holomush/exthost/internal/xdg"
)

// Deps contains injectable dependencies for the subcommands.
// All fields with nil values will use their default implementations.
type Deps struct {
	// ConfigFileGetter returns the default config file path.
	// Default: xdg.ConfigFile
	ConfigFileGetter func() (string, error)

	// ExtensionsDirGetter returns the extensions directory used when none
	// is configured.
	// Default: xdg.ExtensionsDir
	ExtensionsDirGetter func() (string, error)

	// LaunchersFactory creates the launcher of each execution target.
	// Default: defaultLaunchers
	LaunchersFactory func(cfg *config.Config, logger *slog.Logger) hostadapter.Factory

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer

	// ListenerFactory creates a network listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)

	// WorkerRunner serves the worker side of a process host.
	// Default: process.RunWorker
	WorkerRunner func(logger *slog.Logger)

	// LogOutput receives log output.
	// Default: os.Stderr
	LogOutput io.Writer
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Registry() prometheus.Registerer
}

// withDefaults returns a copy of d with every nil field defaulted.
func (d *Deps) withDefaults() *Deps {
	out := &Deps{}
	if d != nil {
		*out = *d
	}
	if out.ConfigFileGetter == nil {
		out.ConfigFileGetter = xdg.ConfigFile
	}
	if out.ExtensionsDirGetter == nil {
		out.ExtensionsDirGetter = xdg.ExtensionsDir
	}
	if out.LaunchersFactory == nil {
		out.LaunchersFactory = defaultLaunchers
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker)
		}
	}
	if out.ListenerFactory == nil {
		out.ListenerFactory = net.Listen
	}
	if out.WorkerRunner == nil {
		out.WorkerRunner = process.RunWorker
	}
	if out.LogOutput == nil {
		out.LogOutput = os.Stderr
	}
	return out
}

// defaultLaunchers wires the worker, process and remote launchers.
func defaultLaunchers(cfg *config.Config, logger *slog.Logger) hostadapter.Factory {
	pluginLogger := hclog.New(&hclog.LoggerOptions{
		Name:       "exthost.plugin",
		Level:      hclog.LevelFromString(cfg.Log.Level),
		Output:     os.Stderr,
		JSONFormat: strings.EqualFold(cfg.Log.Format, "json"),
	})
	return hostadapter.Launchers{
		Worker: &worker.Launcher{Logger: logger},
		Process: &process.Launcher{
			Executable:    cfg.Hosts.Process.Executable,
			Env:           []string{EnvWorkerLogLevel + "=" + cfg.Log.Level},
			Inspect:       cfg.Hosts.Process.Inspect,
			ClientFactory: &process.DefaultClientFactory{Logger: pluginLogger},
			Logger:        logger,
		},
		Remote: &remote.Launcher{
			DialTimeout: cfg.Hosts.Remote.DialTimeout,
			Logger:      logger,
		},
	}
}
