// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/exthost/internal/extension"
)

// activateConfig holds configuration for the activate command.
type activateConfig struct {
	immediate  bool
	jsonOutput bool
	commands   []string
}

// newActivateCmd creates the activate subcommand.
func newActivateCmd(deps *Deps) *cobra.Command {
	cfg := &activateConfig{}

	cmd := &cobra.Command{
		Use:   "activate EVENT...",
		Short: "Activate extensions for events and report their status",
		Long: `Start a coordinator session, fire each activation event in order and
print the resulting status of every installed extension. Hosts are
stopped when the command exits.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runActivate(cmd, args, cfg, deps)
		},
	}

	cmd.Flags().BoolVar(&cfg.immediate, "immediate", false, "do not wait for installed extensions to be registered")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")
	cmd.Flags().StringSliceVar(&cfg.commands, "command", nil, "extension command to execute after activation (repeatable)")

	return cmd
}

// runActivate executes the activate command. Activation failures of single
// extensions are reported in the status; only failures to reach a host
// fail the command.
func runActivate(cmd *cobra.Command, events []string, opts *activateConfig, deps *Deps) error {
	deps = deps.withDefaults()
	cfg, err := loadConfig(cmd, deps)
	if err != nil {
		return err
	}
	logger, err := setupLogger(cfg, deps, "exthost")
	if err != nil {
		return oops.In("cli").Hint("failed to set up logging").Wrap(err)
	}

	ctx := cmd.Context()
	sess, err := openSession(ctx, cfg, deps, logger, nil)
	if err != nil {
		return err
	}
	defer sess.close()

	kind := extension.ActivationNormal
	if opts.immediate {
		kind = extension.ActivationImmediate
	}
	var activationErr error
	for _, event := range events {
		if err := sess.coord.ActivateByEvent(ctx, event, kind); err != nil {
			activationErr = oops.In("cli").With("event", event).Wrapf(err, "activation of %s failed", event)
			break
		}
	}
	if activationErr == nil {
		for _, command := range opts.commands {
			result, err := sess.coord.ExecuteCommand(ctx, command)
			if err != nil {
				activationErr = oops.In("cli").With("command", command).Wrapf(err, "command %s failed", command)
				break
			}
			cmd.Printf("%s: %v\n", command, result)
		}
	}

	statuses := sess.coord.GetExtensionsStatus()
	report := newReport(sess.problems)
	for _, d := range sess.coord.GetExtensions() {
		report.addStatus(d, statuses[d.Key()])
	}
	output, err := formatReport(report, opts.jsonOutput)
	if err != nil {
		return err
	}
	cmd.Println(output)
	return activationErr
}
