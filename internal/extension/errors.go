// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package extension

import (
	"github.com/samber/oops"
)

// Error codes shared across the subsystem.
const (
	CodeResolutionFailed   = "RESOLUTION_FAILED"
	CodeAdapterStartFailed = "ADAPTER_START_FAILED"
	CodeActivationFailed   = "ACTIVATION_FAILED"
	CodeRuntimeError       = "RUNTIME_ERROR"
	CodeProposalNotEnabled = "PROPOSAL_NOT_ENABLED"
	CodeHostRestarted      = "HOST_RESTARTED"
	CodeHostsStopped       = "HOSTS_STOPPED"
	CodeAdapterExited      = "ADAPTER_EXITED"
	CodeAdapterDisposed    = "ADAPTER_DISPOSED"
	CodeChannelClosed      = "CHANNEL_CLOSED"
	CodeUnknownHost        = "UNKNOWN_HOST"
	CodeUnknownExtension   = "UNKNOWN_EXTENSION"
	CodeCommandNotFound    = "COMMAND_NOT_FOUND"
	CodeProfileInvalid     = "PROFILE_INVALID"
)

// ErrResolution reports that no running location could be determined.
func ErrResolution(id Identifier, reason string) error {
	return oops.Code(CodeResolutionFailed).
		In("extension").
		With("extension", id.Value()).
		Errorf("cannot resolve running location for %s: %s", id.Value(), reason)
}

// ErrActivation wraps an error thrown by an extension's activation code.
func ErrActivation(id Identifier, event string, cause error) error {
	return oops.Code(CodeActivationFailed).
		In("extension").
		With("extension", id.Value()).
		With("event", event).
		Wrapf(cause, "activating %s", id.Value())
}

// ErrUnknownExtension reports an identifier that is not registered.
func ErrUnknownExtension(id Identifier) error {
	return oops.Code(CodeUnknownExtension).
		In("extension").
		With("extension", id.Value()).
		Errorf("unknown extension %s", id.Value())
}

// HasCode reports whether err is an oops error carrying code.
func HasCode(err error, code string) bool {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return false
	}
	return oopsErr.Code() == code
}
