// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package manifest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/samber/oops"

	"github.com/holomush/exthost/internal/extension"
)

// Discoverer finds installed extensions.
type Discoverer struct {
	// Dirs hold one extension per subdirectory.
	Dirs []string
	// DevPaths are single extension directories under development. They
	// take precedence over installed copies of the same extension.
	DevPaths []string
	// EngineVersion is checked against each manifest's engine constraint.
	// Empty skips the check.
	EngineVersion string
	Logger        *slog.Logger
}

// Problem is an extension directory that was skipped.
type Problem struct {
	Dir string
	Err error
}

// Discover returns the valid extensions, sorted by identifier, and the
// directories it skipped. A missing directory is not a problem.
func (d *Discoverer) Discover(ctx context.Context) ([]*extension.Descriptor, []Problem, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		found    []*extension.Descriptor
		problems []Problem
	)
	seen := make(map[string]string)
	add := func(dir string, dev bool) {
		desc, err := d.load(dir, dev)
		if err != nil {
			logger.Warn("skipping extension", "dir", dir, "error", err)
			problems = append(problems, Problem{Dir: dir, Err: err})
			return
		}
		if prev, dup := seen[desc.Key()]; dup {
			logger.Warn("skipping duplicate extension", "extension", desc.Identifier.Value(), "dir", dir, "kept", prev)
			return
		}
		seen[desc.Key()] = dir
		found = append(found, desc)
	}

	for _, dir := range d.DevPaths {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		add(dir, true)
	}
	for _, root := range d.Dirs {
		entries, err := os.ReadDir(root)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, nil, oops.In("manifest").With("dir", root).Hint("failed to read extensions directory").Wrap(err)
		}
		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
			if !entry.IsDir() {
				continue
			}
			add(filepath.Join(root, entry.Name()), false)
		}
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Key() < found[j].Key() })
	return found, problems, nil
}

func (d *Discoverer) load(dir string, dev bool) (*extension.Descriptor, error) {
	m, err := Load(dir)
	if err != nil {
		return nil, err
	}
	if d.EngineVersion != "" {
		if err := m.CheckEngine(d.EngineVersion); err != nil {
			return nil, err
		}
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, oops.In("manifest").With("dir", dir).Wrap(err)
	}
	return m.Descriptor(abs, dev), nil
}

// Load reads and validates the manifest in dir.
func Load(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName)) //nolint:gosec // dir comes from configuration or ReadDir entries
	if err != nil {
		return nil, oops.In("manifest").With("dir", dir).Hint("missing or unreadable manifest").Wrap(err)
	}
	if err := ValidateSchema(data); err != nil {
		return nil, err
	}
	return Parse(data)
}
