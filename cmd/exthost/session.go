// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/holomush/exthost/internal/capability"
	"github.com/holomush/exthost/internal/config"
	"github.com/holomush/exthost/internal/coordinator"
	"github.com/holomush/exthost/internal/extension"
	"github.com/holomush/exthost/internal/manifest"
	"github.com/holomush/exthost/pkg/errutil"
)

// shutdownTimeout bounds graceful host shutdown.
const shutdownTimeout = 5 * time.Second

// discover finds the installed extensions named by cfg.
func discover(ctx context.Context, cfg *config.Config, deps *Deps, logger *slog.Logger) ([]*extension.Descriptor, []manifest.Problem, error) {
	dirs := cfg.Extensions.Dirs
	if len(dirs) == 0 {
		dir, err := deps.ExtensionsDirGetter()
		if err != nil {
			return nil, nil, oops.In("cli").Hint("no extensions directory configured").Wrap(err)
		}
		dirs = []string{dir}
	}
	d := &manifest.Discoverer{
		Dirs:          dirs,
		DevPaths:      cfg.Extensions.DevPaths,
		EngineVersion: cfg.EngineVersion,
		Logger:        logger,
	}
	return d.Discover(ctx)
}

// session is a coordinator built from configuration with the installed
// extensions registered.
type session struct {
	coord    *coordinator.Coordinator
	descs    []*extension.Descriptor
	problems []manifest.Problem
	logger   *slog.Logger
}

// openSession discovers extensions and registers them with a new
// coordinator. A failed eager host start is logged; hosts are started
// again when an activation needs them.
func openSession(ctx context.Context, cfg *config.Config, deps *Deps, logger *slog.Logger, reg prometheus.Registerer) (*session, error) {
	descs, problems, err := discover(ctx, cfg, deps, logger)
	if err != nil {
		return nil, err
	}

	coord, err := coordinator.New(coordinator.Config{
		Capabilities:      cfg.Capabilities(descs),
		Affinity:          cfg.AffinityPolicy(),
		Proposals:         capability.Policy{EnableProposedAPI: cfg.Extensions.EnableProposedAPI},
		Factory:           deps.LaunchersFactory(cfg, logger),
		LazyStart:         cfg.Hosts.LazyStart,
		StartRetries:      cfg.Hosts.StartRetries,
		RetryBackoff:      cfg.Hosts.RetryBackoff,
		HeartbeatInterval: cfg.Heartbeat.Interval,
		HeartbeatTimeout:  cfg.Heartbeat.Timeout,
		Registerer:        reg,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}

	if err := coord.RegisterInstalled(ctx, descs); err != nil {
		if ctx.Err() != nil {
			coord.Close()
			return nil, ctx.Err()
		}
		errutil.LogError(logger, "failed to start extension hosts", err)
	}
	logger.Info("extension session opened",
		"session", coord.SessionID(),
		"extensions", len(descs),
		"problems", len(problems),
	)
	return &session{coord: coord, descs: descs, problems: problems, logger: logger}, nil
}

// close stops the hosts gracefully, then releases the coordinator.
func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.coord.StopExtensionHosts(ctx); err != nil {
		s.logger.Warn("error stopping extension hosts", "error", err)
	}
	s.coord.Close()
}
