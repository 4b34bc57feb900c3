// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package process

import (
	"context"
	"encoding/json"
	"net"
	"net/rpc"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/exthost/internal/protocol"
)

// pipeBroker stands in for plugin.MuxBroker using in-memory connections.
type pipeBroker struct {
	mu      sync.Mutex
	next    uint32
	pending map[uint32]chan net.Conn
	conns   []net.Conn
}

func newPipeBroker() *pipeBroker {
	return &pipeBroker{pending: make(map[uint32]chan net.Conn)}
}

func (b *pipeBroker) slot(id uint32) chan net.Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.pending[id]
	if !ok {
		c = make(chan net.Conn, 1)
		b.pending[id] = c
	}
	return c
}

func (b *pipeBroker) NextId() uint32 { //nolint:revive // matches plugin.MuxBroker
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	return b.next
}

func (b *pipeBroker) AcceptAndServe(id uint32, v any) {
	srv := rpc.NewServer()
	if err := srv.RegisterName("Plugin", v); err != nil {
		panic(err)
	}
	srv.ServeConn(<-b.slot(id))
}

func (b *pipeBroker) Dial(id uint32) (net.Conn, error) {
	local, remote := net.Pipe()
	b.mu.Lock()
	b.conns = append(b.conns, local, remote)
	b.mu.Unlock()
	b.slot(id) <- remote
	return local, nil
}

func (b *pipeBroker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.conns {
		_ = c.Close()
	}
}

// connectPair wires an RPCServer and an unattached RPCClient together.
func connectPair(t *testing.T, newHandler func(protocol.Notifier) protocol.Handler) (*RPCClient, *RPCServer) {
	t.Helper()
	b := newPipeBroker()
	server := &RPCServer{broker: b, newHandler: newHandler}

	rpcSrv := rpc.NewServer()
	require.NoError(t, rpcSrv.RegisterName("Plugin", server))
	local, remote := net.Pipe()
	go rpcSrv.ServeConn(remote)

	client := newRPCClient(b, rpc.NewClient(local))
	t.Cleanup(func() {
		_ = client.Close()
		server.close()
		b.close()
		_ = remote.Close()
	})
	return client, server
}

type echoArgs struct {
	Text string `json:"text"`
}

func echoHandler(n protocol.Notifier) protocol.Handler {
	return protocol.HandlerFunc(func(ctx context.Context, method string, params json.RawMessage) (any, error) {
		switch method {
		case "echo":
			var in echoArgs
			if err := protocol.Decode(params, &in); err != nil {
				return nil, err
			}
			if err := n.Notify(ctx, protocol.NotifyMessage, protocol.MessageParams{Text: "echoed " + in.Text}); err != nil {
				return nil, err
			}
			return in, nil
		case "hang":
			time.Sleep(200 * time.Millisecond)
			return nil, nil
		default:
			return nil, protocol.MethodNotFound(method)
		}
	})
}

func TestRPC_CallAndNotify(t *testing.T) {
	client, _ := connectPair(t, echoHandler)
	require.NoError(t, client.attach(context.Background()))

	var out echoArgs
	require.NoError(t, client.Call(context.Background(), "echo", echoArgs{Text: "hi"}, &out))
	assert.Equal(t, "hi", out.Text)

	select {
	case n := <-client.Notifications():
		var msg protocol.MessageParams
		require.NoError(t, n.Decode(&msg))
		assert.Equal(t, "echoed hi", msg.Text)
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestRPC_RemoteErrorsKeepCode(t *testing.T) {
	client, _ := connectPair(t, echoHandler)
	require.NoError(t, client.attach(context.Background()))

	err := client.Call(context.Background(), "missing", nil, nil)
	var pe *protocol.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, protocol.CodeMethodNotFound, pe.Code)
}

func TestRPC_CallBeforeAttach(t *testing.T) {
	client, _ := connectPair(t, echoHandler)

	err := client.Call(context.Background(), "echo", echoArgs{}, nil)
	var pe *protocol.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, protocol.CodeInvalidRequest, pe.Code)
}

func TestRPC_CloseSettlesPendingCall(t *testing.T) {
	client, _ := connectPair(t, echoHandler)
	require.NoError(t, client.attach(context.Background()))

	errc := make(chan error, 1)
	go func() { errc <- client.Call(context.Background(), "hang", nil, nil) }()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, client.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, protocol.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("pending call did not settle")
	}
}

func TestRPC_CancelledCallerStopsWaiting(t *testing.T) {
	client, _ := connectPair(t, echoHandler)
	require.NoError(t, client.attach(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := client.Call(ctx, "hang", nil, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
