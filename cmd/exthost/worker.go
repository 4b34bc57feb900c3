// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/exthost/internal/hostadapter/process"
	"github.com/holomush/exthost/internal/logging"
)

// EnvWorkerLogLevel sets the log level of worker processes.
const EnvWorkerLogLevel = "EXTHOST_LOG_LEVEL"

// newWorkerCmd creates the hidden worker subcommand spawned for local
// process hosts.
func newWorkerCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:    "worker",
		Short:  "Serve a local process extension host (spawned by run)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runWorker(deps)
		},
	}
}

// runWorker serves the worker side of the plugin handshake. Output goes to
// stderr, which the parent relays into its own log.
func runWorker(deps *Deps) error {
	deps = deps.withDefaults()
	level := os.Getenv(EnvWorkerLogLevel)
	if level == "" {
		level = "info"
	}
	logger, err := logging.Setup("exthost-worker", version, logging.Options{
		Format: "json",
		Level:  level,
		HostID: os.Getenv(process.EnvHostID),
	}, deps.LogOutput)
	if err != nil {
		return oops.In("cli").Hint("failed to set up logging").Wrap(err)
	}
	deps.WorkerRunner(logger)
	return nil
}
