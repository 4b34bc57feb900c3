// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package manifest reads extension.yaml files and turns them into
// descriptors.
package manifest

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/holomush/exthost/internal/extension"
)

// FileName is the manifest file looked for in each extension directory.
const FileName = "extension.yaml"

// Manifest represents an extension.yaml file.
type Manifest struct {
	Name                string   `yaml:"name" jsonschema:"required,pattern=^[a-z]([a-z0-9-]*[a-z0-9])?$,maxLength=64"`
	Publisher           string   `yaml:"publisher" jsonschema:"required,pattern=^[a-z]([a-z0-9-]*[a-z0-9])?$,maxLength=64"`
	Version             string   `yaml:"version" jsonschema:"required"`
	Engine              string   `yaml:"engine,omitempty" jsonschema:"description=Semver constraint on the host engine version"`
	Main                string   `yaml:"main" jsonschema:"required"`
	ActivationEvents    []string `yaml:"activation_events,omitempty"`
	EnabledAPIProposals []string `yaml:"enabled_api_proposals,omitempty"`
	Kinds               []string `yaml:"kinds,omitempty" jsonschema:"enum=worker,enum=process,enum=remote"`
	TargetPlatform      string   `yaml:"target_platform,omitempty"`
	Builtin             bool     `yaml:"builtin,omitempty"`
}

// maxNameLength is the maximum allowed length for names and publishers.
const maxNameLength = 64

// namePattern validates name segments: must start with lowercase letter,
// followed by lowercase letters, digits, or hyphens. A segment never
// contains a dot, so "publisher.name" is unambiguous.
var namePattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// Parse parses and validates an extension.yaml file.
func Parse(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, oops.In("manifest").Errorf("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, oops.In("manifest").Hint("invalid YAML").Wrap(err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

func validateSegment(field, value string) error {
	if value == "" || !namePattern.MatchString(value) {
		return oops.In("manifest").With(field, value).
			Errorf("%s %q must start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", field, value)
	}
	if len(value) > maxNameLength {
		return oops.In("manifest").With(field, value).
			Errorf("%s must be %d characters or less, got %d", field, maxNameLength, len(value))
	}
	return nil
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	if err := validateSegment("publisher", m.Publisher); err != nil {
		return err
	}
	if err := validateSegment("name", m.Name); err != nil {
		return err
	}
	if extension.IsReservedSegmentName(m.Name) {
		return oops.In("manifest").With("name", m.Name).Errorf("name %q is reserved", m.Name)
	}

	if m.Version == "" {
		return oops.In("manifest").Errorf("version is required")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return oops.In("manifest").With("version", m.Version).Wrapf(err, "version %q is not semver", m.Version)
	}
	if m.Engine != "" {
		if _, err := semver.NewConstraint(m.Engine); err != nil {
			return oops.In("manifest").With("engine", m.Engine).Wrapf(err, "engine %q is not a semver constraint", m.Engine)
		}
	}

	if m.Main == "" {
		return oops.In("manifest").Errorf("main is required")
	}
	if filepath.IsAbs(m.Main) || strings.HasPrefix(filepath.Clean(m.Main), "..") {
		return oops.In("manifest").With("main", m.Main).Errorf("main must be a path inside the extension directory")
	}

	for _, e := range m.ActivationEvents {
		if strings.TrimSpace(e) == "" {
			return oops.In("manifest").Errorf("activation_events must not contain empty events")
		}
	}
	for _, k := range m.Kinds {
		switch extension.Kind(k) {
		case extension.KindWorker, extension.KindProcess, extension.KindRemote:
		default:
			return oops.In("manifest").With("kind", k).Errorf("kinds must be worker, process or remote, got %q", k)
		}
	}
	return nil
}

// Identifier is the canonical "publisher.name" identifier.
func (m *Manifest) Identifier() extension.Identifier {
	return extension.IdentifierFor(m.Publisher, m.Name)
}

// CheckEngine reports whether the manifest accepts engine version engine.
// An empty engine constraint accepts every version.
func (m *Manifest) CheckEngine(engine string) error {
	if m.Engine == "" {
		return nil
	}
	v, err := semver.NewVersion(engine)
	if err != nil {
		return oops.In("manifest").With("engine_version", engine).Wrapf(err, "host engine version %q is not semver", engine)
	}
	c, err := semver.NewConstraint(m.Engine)
	if err != nil {
		return oops.In("manifest").With("engine", m.Engine).Wrap(err)
	}
	if ok, errs := c.Validate(v); !ok {
		return oops.In("manifest").
			With("extension", m.Identifier().Value()).
			With("engine", m.Engine).
			Errorf("engine %s does not satisfy %s: %v", engine, m.Engine, oops.Join(errs...))
	}
	return nil
}

// Descriptor builds the descriptor of the extension installed in dir.
func (m *Manifest) Descriptor(dir string, underDevelopment bool) *extension.Descriptor {
	kinds := make([]extension.Kind, 0, len(m.Kinds))
	for _, k := range m.Kinds {
		kinds = append(kinds, extension.Kind(k))
	}
	return &extension.Descriptor{
		Identifier:          m.Identifier(),
		Name:                m.Name,
		Publisher:           m.Publisher,
		Version:             m.Version,
		Engine:              m.Engine,
		Main:                m.Main,
		Location:            dir,
		TargetPlatform:      m.TargetPlatform,
		ActivationEvents:    append([]string(nil), m.ActivationEvents...),
		EnabledAPIProposals: append([]string(nil), m.EnabledAPIProposals...),
		Kinds:               kinds,
		IsBuiltin:           m.Builtin,
		IsUnderDevelopment:  underDevelopment,
	}
}
