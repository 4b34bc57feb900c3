// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivate_RunsCommandOnWorker(t *testing.T) {
	root := t.TempDir()
	writeExtension(t, root, "greeter", greeterManifest, greeterScript)

	out, err := execute(t, testDeps(t),
		"activate", "onCommand:acme.greet",
		"--extensions-dir", root,
		"--command", "acme.greet",
	)
	require.NoError(t, err)

	assert.Contains(t, out, "acme.greet: hello")
	assert.Contains(t, out, "acme.greeter")
	assert.Contains(t, out, "LocalWorker")
	assert.Contains(t, out, "active")
}

func TestActivate_RecordsExtensionFailure(t *testing.T) {
	root := t.TempDir()
	writeExtension(t, root, "greeter", greeterManifest, `function activate(context) error("boom") end`)

	out, err := execute(t, testDeps(t),
		"activate", "onCommand:acme.greet",
		"--extensions-dir", root,
		"--json",
	)
	require.NoError(t, err, "a failing extension does not fail the activation event")

	var report Report
	require.NoError(t, json.Unmarshal([]byte(out[strings.Index(out, "{"):]), &report))
	require.Len(t, report.Extensions, 1)
	row := report.Extensions[0]
	assert.Equal(t, "activation-failed", row.State)
	require.NotEmpty(t, row.Errors)
	assert.Contains(t, strings.Join(row.Errors, " "), "boom")
}

func TestActivate_UnknownCommandFails(t *testing.T) {
	root := t.TempDir()
	writeExtension(t, root, "greeter", greeterManifest, greeterScript)

	_, err := execute(t, testDeps(t),
		"activate", "*",
		"--extensions-dir", root,
		"--command", "acme.missing",
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "acme.missing")
}

func TestActivate_RequiresEvent(t *testing.T) {
	_, err := execute(t, testDeps(t), "activate")
	require.Error(t, err)
}
