// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const greeterManifest = `
name: greeter
publisher: acme
version: 1.0.0
engine: ">=1.0.0"
main: main.lua
activation_events:
  - onCommand:acme.greet
kinds:
  - worker
`

const greeterScript = `
function activate(context)
    context.register_command("acme.greet", function()
        return "hello"
    end)
end
`

// writeExtension creates an extension directory under root.
func writeExtension(t *testing.T, root, name, manifest, script string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "extension.yaml"), []byte(manifest), 0o600))
	if script != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "main.lua"), []byte(script), 0o600))
	}
	return dir
}

// testDeps isolates commands from the user's XDG directories.
func testDeps(t *testing.T) *Deps {
	t.Helper()
	absent := filepath.Join(t.TempDir(), "absent.yaml")
	extDir := t.TempDir()
	return &Deps{
		ConfigFileGetter:    func() (string, error) { return absent, nil },
		ExtensionsDirGetter: func() (string, error) { return extDir, nil },
		LogOutput:           io.Discard,
	}
}

// execute runs the root command with args and returns its output.
func execute(t *testing.T, deps *Deps, args ...string) (string, error) {
	t.Helper()
	configFile = ""
	cmd := newRootCmd(deps)
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
