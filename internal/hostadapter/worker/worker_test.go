// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package worker_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/holomush/exthost/internal/extension"
	"github.com/holomush/exthost/internal/hostadapter"
	"github.com/holomush/exthost/internal/hostadapter/worker"
	"github.com/holomush/exthost/internal/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestWorker_ActivatesResidentExtension(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.lua"), []byte(`
function activate(context)
    context.register_command("acme.ping", function() return "pong" end)
end
`), 0o600))

	h := hostadapter.New(hostadapter.Config{
		ID:       "LocalWorker",
		Location: extension.LocalWorker{},
	}, &worker.Launcher{})
	h.Extensions().Add(&extension.Descriptor{
		Identifier: extension.NewIdentifier("acme.pinger"),
		Location:   dir,
		Main:       "main.lua",
	})

	ch, err := h.Start(context.Background())
	require.NoError(t, err)

	var res protocol.ActivateResult
	require.NoError(t, ch.Call(context.Background(), protocol.MethodActivate, protocol.ActivateParams{
		ExtensionIDs: []string{"acme.pinger"},
	}, &res))
	require.Len(t, res.Results, 1)
	assert.Nil(t, res.Results[0].Error)

	var out protocol.ExecuteCommandResult
	require.NoError(t, ch.Call(context.Background(), protocol.MethodExecuteCommand, protocol.ExecuteCommandParams{Command: "acme.ping"}, &out))
	assert.Equal(t, "pong", out.Result)

	assert.False(t, h.EnableInspectPort(context.Background()))
	assert.Zero(t, h.InspectPort())

	h.Dispose()
	select {
	case <-h.Exited():
	case <-time.After(time.Second):
		t.Fatal("worker did not exit")
	}
	assert.Equal(t, "disposed", h.ExitStatus().Reason)
}

func TestWorker_TornDownPortExits(t *testing.T) {
	h := hostadapter.New(hostadapter.Config{ID: "LocalWorker", Location: extension.LocalWorker{}}, &worker.Launcher{})
	defer h.Dispose()

	ch, err := h.Start(context.Background())
	require.NoError(t, err)
	require.NoError(t, ch.Close())

	select {
	case <-h.Exited():
	case <-time.After(time.Second):
		t.Fatal("closing the port did not exit the worker")
	}
	assert.Equal(t, hostadapter.StateExited, h.State())
}
