// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package extension

import "time"

// ActivationKind controls whether an activation waits for the installed
// extensions to be registered.
type ActivationKind int

const (
	// ActivationNormal waits until installed extensions are registered.
	ActivationNormal ActivationKind = iota
	// ActivationImmediate skips that wait. It can activate extensions before
	// the extension points of their dependencies are processed, so use it
	// only when an event cannot be delayed.
	ActivationImmediate
)

func (k ActivationKind) String() string {
	if k == ActivationImmediate {
		return "immediate"
	}
	return "normal"
}

// ActivationReason records why an extension was activated.
type ActivationReason struct {
	Startup         bool       `json:"startup"`
	ExtensionID     Identifier `json:"extensionId"`
	ActivationEvent string     `json:"activationEvent"`
}

// ActivationTimes is the immutable activation record of one extension.
type ActivationTimes struct {
	CodeLoading      time.Duration    `json:"codeLoadingTime"`
	ActivateCall     time.Duration    `json:"activateCallTime"`
	ActivateResolved time.Duration    `json:"activateResolvedTime"`
	Reason           ActivationReason `json:"activationReason"`
}

// Total is the wall time the activation took from code load to resolution.
func (t ActivationTimes) Total() time.Duration {
	return t.CodeLoading + t.ActivateCall + t.ActivateResolved
}
