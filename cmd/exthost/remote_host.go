// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"os/signal"
	"syscall"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/exthost/internal/hostadapter/remote"
	"github.com/holomush/exthost/internal/luahost"
	"github.com/holomush/exthost/internal/protocol"
)

// remoteHostConfig holds configuration for the remote-host command.
type remoteHostConfig struct {
	authority string
}

// newRemoteHostCmd creates the remote-host subcommand.
func newRemoteHostCmd(deps *Deps) *cobra.Command {
	cfg := &remoteHostConfig{}

	cmd := &cobra.Command{
		Use:   "remote-host",
		Short: "Serve extensions for remote coordinators",
		Long: `Listen on hosts.remote.address and run a fresh extension runtime for
each coordinator that connects. Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRemoteHost(cmd, cfg, deps)
		},
	}

	cmd.Flags().StringVar(&cfg.authority, "authority", "", "authority this host answers for (default: accept any)")

	return cmd
}

// runRemoteHost executes the remote-host command.
func runRemoteHost(cmd *cobra.Command, opts *remoteHostConfig, deps *Deps) error {
	deps = deps.withDefaults()
	cfg, err := loadConfig(cmd, deps)
	if err != nil {
		return err
	}
	logger, err := setupLogger(cfg, deps, "exthost-remote")
	if err != nil {
		return oops.In("cli").Hint("failed to set up logging").Wrap(err)
	}

	ln, err := deps.ListenerFactory("tcp", cfg.Hosts.Remote.Address)
	if err != nil {
		return oops.In("cli").With("addr", cfg.Hosts.Remote.Address).Hint("failed to listen").Wrap(err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := &remote.Server{
		Authority: opts.authority,
		NewHandler: func(n protocol.Notifier) protocol.Handler {
			return luahost.New(n, luahost.WithLogger(logger))
		},
		Logger: logger,
	}
	cmd.Printf("Remote extension host listening on %s\n", ln.Addr())
	logger.Info("remote extension host listening", "addr", ln.Addr().String(), "authority", opts.authority)
	return srv.Serve(ctx, ln)
}
