// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package remote connects to extension hosts running on another machine
// over JSON-RPC 2.0.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strconv"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/holomush/exthost/internal/protocol"
)

// Conn is a protocol.Channel over a JSON-RPC 2.0 stream. The same type
// serves both ends: the coordinator side receives notifications, and the
// host side answers requests with its handler.
type Conn struct {
	conn    *jsonrpc2.Conn
	handler protocol.Handler
	notes   chan protocol.Notification
	ready   chan struct{}
}

var (
	_ protocol.Channel  = (*Conn)(nil)
	_ protocol.Notifier = (*Conn)(nil)
)

// NewConn starts serving rwc. newHandler may be nil when the local side
// only makes calls.
func NewConn(ctx context.Context, rwc io.ReadWriteCloser, newHandler func(protocol.Notifier) protocol.Handler) *Conn {
	c := &Conn{
		notes: make(chan protocol.Notification, 64),
		ready: make(chan struct{}),
	}
	if newHandler != nil {
		c.handler = newHandler(c)
	}
	stream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{})
	c.conn = jsonrpc2.NewConn(ctx, stream, jsonrpc2.HandlerWithError(c.handle))
	close(c.ready)
	return c
}

func (c *Conn) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	<-c.ready

	var params json.RawMessage
	if req.Params != nil {
		params = *req.Params
	}
	if req.Notif {
		select {
		case c.notes <- protocol.Notification{Method: req.Method, Params: params}:
		case <-conn.DisconnectNotify():
		}
		return nil, nil
	}
	if c.handler == nil {
		return nil, toWire(protocol.MethodNotFound(req.Method))
	}
	result, err := c.handler.Handle(ctx, req.Method, params)
	if err != nil {
		return nil, toWire(protocol.ToError(err))
	}
	return result, nil
}

// Call implements protocol.Channel.
func (c *Conn) Call(ctx context.Context, method string, params, result any) error {
	err := c.conn.Call(ctx, method, params, result)
	if err == nil {
		return nil
	}
	if errors.Is(err, jsonrpc2.ErrClosed) {
		return protocol.ClosedError(method)
	}
	var we *jsonrpc2.Error
	if errors.As(err, &we) {
		return fromWire(we)
	}
	return err
}

// Notify implements protocol.Notifier.
func (c *Conn) Notify(ctx context.Context, method string, params any) error {
	if err := c.conn.Notify(ctx, method, params); err != nil {
		if errors.Is(err, jsonrpc2.ErrClosed) {
			return protocol.ErrClosed
		}
		return err
	}
	return nil
}

// Notifications implements protocol.Channel.
func (c *Conn) Notifications() <-chan protocol.Notification { return c.notes }

// Done implements protocol.Channel.
func (c *Conn) Done() <-chan struct{} { return c.conn.DisconnectNotify() }

// Close implements protocol.Channel.
func (c *Conn) Close() error {
	err := c.conn.Close()
	if errors.Is(err, jsonrpc2.ErrClosed) {
		return nil
	}
	return err
}

func toWire(pe *protocol.Error) *jsonrpc2.Error {
	out := &jsonrpc2.Error{Code: int64(pe.Code), Message: pe.Message}
	if pe.Kind != "" {
		data := json.RawMessage(strconv.Quote(pe.Kind))
		out.Data = &data
	}
	return out
}

func fromWire(we *jsonrpc2.Error) *protocol.Error {
	out := &protocol.Error{Code: int(we.Code), Message: we.Message}
	if we.Data != nil {
		_ = json.Unmarshal(*we.Data, &out.Kind)
	}
	return out
}
