// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package protocol

import (
	"time"

	"github.com/holomush/exthost/internal/extension"
	"github.com/holomush/exthost/internal/profiling"
)

// Request methods served by hosts.
const (
	MethodInitialize      = "initialize"
	MethodDeltaExtensions = "deltaExtensions"
	MethodActivate        = "activate"
	MethodExecuteCommand  = "executeCommand"
	MethodPing            = "ping"
	MethodStartProfile    = "startProfile"
	MethodStopProfile     = "stopProfile"
	MethodEnableInspector = "enableInspector"
	MethodSetEnvironment  = "setEnvironment"
	MethodShutdown        = "shutdown"
)

// Notifications sent by hosts.
const (
	NotifyRuntimeError = "runtimeError"
	NotifyMessage      = "message"
)

// ExtensionInfo is the part of a descriptor a host needs to run it.
type ExtensionInfo struct {
	ID                  string   `json:"id"`
	Location            string   `json:"location"`
	Main                string   `json:"main"`
	ActivationEvents    []string `json:"activationEvents,omitempty"`
	EnabledAPIProposals []string `json:"enabledApiProposals,omitempty"`
}

// InfoFor builds the wire form of d with the given granted proposals.
func InfoFor(d *extension.Descriptor, proposals []string) ExtensionInfo {
	return ExtensionInfo{
		ID:                  d.Identifier.Value(),
		Location:            d.Location,
		Main:                d.Main,
		ActivationEvents:    d.ActivationEvents,
		EnabledAPIProposals: proposals,
	}
}

// InitializeParams opens a session with a host.
type InitializeParams struct {
	ProtocolVersion int               `json:"protocolVersion"`
	HostID          string            `json:"hostId"`
	Location        string            `json:"location"`
	Authority       string            `json:"authority,omitempty"`
	Extensions      []ExtensionInfo   `json:"extensions"`
	Environment     map[string]string `json:"environment,omitempty"`
}

// InitializeResult is the host's answer to initialize.
type InitializeResult struct {
	ProtocolVersion int    `json:"protocolVersion"`
	Authority       string `json:"authority,omitempty"`
	PID             int    `json:"pid,omitempty"`
	InspectPort     int    `json:"inspectPort,omitempty"`
}

// DeltaExtensionsParams changes the resident extension set of a host.
type DeltaExtensionsParams struct {
	Added   []ExtensionInfo `json:"added,omitempty"`
	Removed []string        `json:"removed,omitempty"`
}

// ActivateParams asks a host to activate extensions.
type ActivateParams struct {
	ExtensionIDs []string                   `json:"extensionIds"`
	Reason       extension.ActivationReason `json:"reason"`
}

// ActivateResult reports one outcome per requested extension.
type ActivateResult struct {
	Results []ActivationResult `json:"results"`
}

// ActivationResult is the outcome of activating one extension. Error is set
// when the extension's activation code failed.
type ActivationResult struct {
	ExtensionID string       `json:"extensionId"`
	Times       Times        `json:"times"`
	Error       *RemoteError `json:"error,omitempty"`
	// AlreadyActive is set when the extension had been activated before.
	AlreadyActive bool `json:"alreadyActive,omitempty"`
}

// Times are activation durations in microseconds.
type Times struct {
	CodeLoading      int64 `json:"codeLoadingTime"`
	ActivateCall     int64 `json:"activateCallTime"`
	ActivateResolved int64 `json:"activateResolvedTime"`
}

// TimesFrom converts durations to their wire form.
func TimesFrom(load, call, resolved time.Duration) Times {
	return Times{
		CodeLoading:      load.Microseconds(),
		ActivateCall:     call.Microseconds(),
		ActivateResolved: resolved.Microseconds(),
	}
}

// ActivationTimes builds the record for reason.
func (t Times) ActivationTimes(reason extension.ActivationReason) extension.ActivationTimes {
	return extension.ActivationTimes{
		CodeLoading:      time.Duration(t.CodeLoading) * time.Microsecond,
		ActivateCall:     time.Duration(t.ActivateCall) * time.Microsecond,
		ActivateResolved: time.Duration(t.ActivateResolved) * time.Microsecond,
		Reason:           reason,
	}
}

// RemoteError describes an error raised by extension code.
type RemoteError struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
	Code    string `json:"code,omitempty"`
}

// ExecuteCommandParams runs a command registered by an extension.
type ExecuteCommandParams struct {
	Command string `json:"command"`
	Args    []any  `json:"args,omitempty"`
}

// ExecuteCommandResult carries the command's return value.
type ExecuteCommandResult struct {
	Result any `json:"result,omitempty"`
}

// PingParams is a heartbeat request; hosts echo Seq.
type PingParams struct {
	Seq uint64 `json:"seq"`
}

// PingResult answers a heartbeat.
type PingResult struct {
	Seq uint64 `json:"seq"`
}

// StartProfileResult identifies a running capture.
type StartProfileResult struct {
	SessionID string `json:"sessionId"`
}

// StopProfileParams ends a capture.
type StopProfileParams struct {
	SessionID string `json:"sessionId"`
}

// StopProfileResult carries the raw capture.
type StopProfileResult struct {
	Profile profiling.Data `json:"profile"`
}

// EnableInspectorResult reports the inspector port, 0 if unavailable.
type EnableInspectorResult struct {
	Port int `json:"port"`
}

// SetEnvironmentParams updates environment variables visible to extensions.
// A nil value removes the variable.
type SetEnvironmentParams struct {
	Env map[string]*string `json:"env"`
}

// RuntimeErrorParams reports an error raised after activation.
type RuntimeErrorParams struct {
	ExtensionID string `json:"extensionId"`
	Message     string `json:"message"`
	Stack       string `json:"stack,omitempty"`
}

// MessageParams attaches a diagnostic message to an extension.
type MessageParams struct {
	ExtensionID      string `json:"extensionId"`
	Severity         string `json:"severity"`
	Text             string `json:"text"`
	ExtensionPointID string `json:"extensionPointId,omitempty"`
}
