// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/exthost/internal/manifest"
)

// newValidateCmd creates the validate subcommand.
func newValidateCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [DIR...]",
		Short: "Validate extension manifests",
		Long: `Validate the extension.yaml of each directory against the manifest
schema, the engine version and the presence of the entry script. Without
arguments every configured extension directory is checked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args, deps)
		},
	}
}

// runValidate executes the validate command.
func runValidate(cmd *cobra.Command, dirs []string, deps *Deps) error {
	deps = deps.withDefaults()
	cfg, err := loadConfig(cmd, deps)
	if err != nil {
		return err
	}
	logger, err := setupLogger(cfg, deps, "exthost")
	if err != nil {
		return oops.In("cli").Hint("failed to set up logging").Wrap(err)
	}

	failed := 0
	if len(dirs) == 0 {
		descs, problems, err := discover(cmd.Context(), cfg, deps, logger)
		if err != nil {
			return err
		}
		for _, d := range descs {
			if err := checkEntry(d.Location, d.Main); err != nil {
				cmd.Printf("FAIL  %s: %v\n", d.Location, err)
				failed++
				continue
			}
			cmd.Printf("ok    %s %s (%s)\n", d.Identifier.Value(), d.Version, d.Location)
		}
		for _, p := range problems {
			cmd.Printf("FAIL  %s: %v\n", p.Dir, p.Err)
		}
		failed += len(problems)
	} else {
		for _, dir := range dirs {
			m, err := validateDir(dir, cfg.EngineVersion)
			if err != nil {
				cmd.Printf("FAIL  %s: %v\n", dir, err)
				failed++
				continue
			}
			cmd.Printf("ok    %s %s (%s)\n", m.Identifier().Value(), m.Version, dir)
		}
	}

	if failed > 0 {
		return oops.In("cli").With("failed", failed).Errorf("%d extension(s) failed validation", failed)
	}
	return nil
}

// validateDir loads the manifest in dir and checks that it can run on
// engine.
func validateDir(dir, engine string) (*manifest.Manifest, error) {
	m, err := manifest.Load(dir)
	if err != nil {
		return nil, err
	}
	if err := m.CheckEngine(engine); err != nil {
		return nil, err
	}
	if err := checkEntry(dir, m.Main); err != nil {
		return nil, err
	}
	return m, nil
}

func checkEntry(dir, entry string) error {
	if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(entry))); err != nil {
		return oops.In("cli").With("main", entry).Hint("entry script not found").Wrap(err)
	}
	return nil
}
