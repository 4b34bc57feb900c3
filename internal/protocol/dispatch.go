// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package protocol

import (
	"context"
	"encoding/json"
)

// Dispatch runs one request through h and encodes the outcome for a
// transport that carries results as raw JSON.
func Dispatch(ctx context.Context, h Handler, method string, params json.RawMessage) (json.RawMessage, *Error) {
	out, err := h.Handle(ctx, method, params)
	if err != nil {
		return nil, ToError(err)
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return raw, nil
}

// Mux routes requests to per-method handlers.
type Mux struct {
	routes map[string]Handler
}

// NewMux creates an empty router.
func NewMux() *Mux {
	return &Mux{routes: make(map[string]Handler)}
}

// Route registers h for method.
func (m *Mux) Route(method string, h Handler) {
	m.routes[method] = h
}

// RouteFunc registers fn for method.
func (m *Mux) RouteFunc(method string, fn func(ctx context.Context, params json.RawMessage) (any, error)) {
	m.routes[method] = HandlerFunc(func(ctx context.Context, _ string, params json.RawMessage) (any, error) {
		return fn(ctx, params)
	})
}

// Handle implements Handler. Unknown methods fail with MethodNotFound.
func (m *Mux) Handle(ctx context.Context, method string, params json.RawMessage) (any, error) {
	h, ok := m.routes[method]
	if !ok {
		return nil, MethodNotFound(method)
	}
	return h.Handle(ctx, method, params)
}
