// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package protocol defines the request/response messages exchanged between
// the coordinator and extension hosts, and the transports that carry them.
//
// Every request carries a correlation id assigned by the transport. A
// caller whose context is cancelled stops waiting for its response; the
// host may still finish the work.
package protocol

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/samber/oops"

	"github.com/holomush/exthost/internal/extension"
)

// Version is the protocol version negotiated by initialize.
const Version = 1

// ErrClosed is returned by calls on a closed channel.
var ErrClosed = errors.New("channel closed")

// Channel is the coordinator's side of a connection to a host.
type Channel interface {
	// Call sends a request and decodes the response into result, which may
	// be nil to discard it.
	Call(ctx context.Context, method string, params, result any) error
	// Notifications delivers host-initiated notifications. It is never
	// closed; stop reading when Done is closed.
	Notifications() <-chan Notification
	// Done is closed once the channel is closed from either side.
	Done() <-chan struct{}
	// Close releases the channel. Pending calls fail with ErrClosed.
	Close() error
}

// Notification is a one-way message from a host.
type Notification struct {
	Method string
	Params json.RawMessage
}

// Decode unmarshals the notification parameters.
func (n Notification) Decode(v any) error {
	return Decode(n.Params, v)
}

// Handler serves requests on the host side.
type Handler interface {
	Handle(ctx context.Context, method string, params json.RawMessage) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, method string, params json.RawMessage) (any, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, method string, params json.RawMessage) (any, error) {
	return f(ctx, method, params)
}

// Notifier sends notifications from a host to the coordinator.
type Notifier interface {
	Notify(ctx context.Context, method string, params any) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, method string, params any) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, method string, params any) error {
	return f(ctx, method, params)
}

// Decode unmarshals params into v, reporting failures as invalid params.
func Decode(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return &Error{Code: CodeInvalidParams, Message: err.Error()}
	}
	return nil
}

// ClosedError reports a call on a closed channel. It wraps ErrClosed.
func ClosedError(method string) error {
	return oops.Code(extension.CodeChannelClosed).
		In("protocol").
		With("method", method).
		Wrap(ErrClosed)
}
