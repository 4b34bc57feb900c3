// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/holomush/exthost/internal/config"
	"github.com/holomush/exthost/internal/logging"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the exthost CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(nil)
}

func newRootCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exthost",
		Short: "exthost - extension host orchestration",
		Long: `exthost decides where extensions run (in-process worker, local
process or remote peer), starts those hosts on demand and activates
extensions when the events they declare occur.`,
		Version:      versionString(),
		SilenceUsage: true,
	}
	cmd.SetVersionTemplate("exthost {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/exthost/config.yaml)")
	config.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(newRunCmd(deps))
	cmd.AddCommand(newActivateCmd(deps))
	cmd.AddCommand(newStatusCmd(deps))
	cmd.AddCommand(newProfileCmd(deps))
	cmd.AddCommand(newValidateCmd(deps))
	cmd.AddCommand(newRemoteHostCmd(deps))
	cmd.AddCommand(newWorkerCmd(deps))

	return cmd
}

// loadConfig layers defaults, the config file and the flags of cmd. The
// default config file is optional; one named with --config must exist.
func loadConfig(cmd *cobra.Command, deps *Deps) (*config.Config, error) {
	path := configFile
	required := path != ""
	if path == "" {
		if p, err := deps.ConfigFileGetter(); err == nil {
			path = p
		}
	}
	return config.Load(path, required, cmd.Flags())
}

// setupLogger builds the command logger from cfg and installs it as the
// slog default.
func setupLogger(cfg *config.Config, deps *Deps, service string) (*slog.Logger, error) {
	logger, err := logging.Setup(service, version, logging.Options{
		Format: cfg.Log.Format,
		Level:  cfg.Log.Level,
	}, deps.LogOutput)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return logger, nil
}
