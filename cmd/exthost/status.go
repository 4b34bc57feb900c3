// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/exthost/internal/location"
)

// statusConfig holds configuration for the status command.
type statusConfig struct {
	jsonOutput bool
}

// newStatusCmd creates the status subcommand.
func newStatusCmd(deps *Deps) *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show installed extensions and where they would run",
		Long: `Discover installed extensions and resolve the execution target of each
with the configured capabilities and affinity policy. No host is started.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg, deps)
		},
	}

	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")

	return cmd
}

// runStatus executes the status command.
func runStatus(cmd *cobra.Command, opts *statusConfig, deps *Deps) error {
	deps = deps.withDefaults()
	cfg, err := loadConfig(cmd, deps)
	if err != nil {
		return err
	}
	logger, err := setupLogger(cfg, deps, "exthost")
	if err != nil {
		return oops.In("cli").Hint("failed to set up logging").Wrap(err)
	}

	descs, problems, err := discover(cmd.Context(), cfg, deps, logger)
	if err != nil {
		return err
	}

	caps := cfg.Capabilities(descs)
	resolver := location.NewResolver(cfg.AffinityPolicy())
	report := newReport(problems)
	for _, d := range descs {
		row := ExtensionReport{
			ID:          d.Identifier.Value(),
			Version:     d.Version,
			Development: d.IsUnderDevelopment,
		}
		loc, err := resolver.Resolve(d, caps)
		if err != nil {
			row.Location = "-"
			row.Errors = []string{err.Error()}
		} else {
			row.Location = loc.String()
		}
		report.Extensions = append(report.Extensions, row)
	}

	output, err := formatReport(report, opts.jsonOutput)
	if err != nil {
		return err
	}
	cmd.Println(output)
	return nil
}
