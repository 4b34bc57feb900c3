// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package protocol

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
)

// Error codes, shared with JSON-RPC 2.0.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// CodeCommandNotFound is returned by executeCommand for a command no
	// resident extension registered.
	CodeCommandNotFound = -32001
)

// Error is a failure reported by the remote side of a call.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	// Kind carries the oops code of the original error, if any.
	Kind string `json:"kind,omitempty"`
}

func (e *Error) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Kind)
	}
	return e.Message
}

// MethodNotFound reports an unknown method.
func MethodNotFound(method string) *Error {
	return &Error{Code: CodeMethodNotFound, Message: "method not found: " + method}
}

// ToError converts a handler error into its wire form.
func ToError(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	out := &Error{Code: CodeInternalError, Message: err.Error()}
	if oopsErr, ok := oops.AsOops(err); ok {
		if code, ok := oopsErr.Code().(string); ok {
			out.Kind = code
		}
	}
	return out
}
