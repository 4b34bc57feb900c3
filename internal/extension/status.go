// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package extension

import (
	"slices"
	"time"
)

// Severity of a status message.
type Severity int

// Message severities.
const (
	SeverityIgnore Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "ignore"
	}
}

// ParseSeverity maps a textual severity onto Severity, defaulting to info.
func ParseSeverity(s string) Severity {
	switch s {
	case "ignore":
		return SeverityIgnore
	case "warn", "warning":
		return SeverityWarning
	case "error":
		return SeverityError
	default:
		return SeverityInfo
	}
}

// Message is a diagnostic attached to an extension.
type Message struct {
	Type             Severity   `json:"type"`
	Text             string     `json:"message"`
	ExtensionID      Identifier `json:"extensionId"`
	ExtensionPointID string     `json:"extensionPointId"`
}

// RuntimeError is an error reported by a host after activation, or thrown
// by the extension's activate function.
type RuntimeError struct {
	Message string    `json:"message"`
	Stack   string    `json:"stack,omitempty"`
	Code    string    `json:"code,omitempty"`
	At      time.Time `json:"at"`
}

// State is the per-extension lifecycle within one host session.
type State int

// Extension states. Failed is terminal until a restart.
const (
	StateUnresolved State = iota
	StateAssigned
	StateActivating
	StateActive
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAssigned:
		return "assigned"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateFailed:
		return "activation-failed"
	default:
		return "unresolved-location"
	}
}

// Status is the best-known state of one extension.
type Status struct {
	Messages        []Message        `json:"messages"`
	ActivationTimes *ActivationTimes `json:"activationTimes,omitempty"`
	RuntimeErrors   []RuntimeError   `json:"runtimeErrors"`
	RunningLocation RunningLocation  `json:"-"`
	State           State            `json:"state"`
}

// Clone returns a deep copy safe to hand to readers.
func (s *Status) Clone() Status {
	out := Status{
		Messages:        slices.Clone(s.Messages),
		RuntimeErrors:   slices.Clone(s.RuntimeErrors),
		RunningLocation: s.RunningLocation,
		State:           s.State,
	}
	if s.ActivationTimes != nil {
		t := *s.ActivationTimes
		out.ActivationTimes = &t
	}
	return out
}

// ErrorCount counts messages of error severity plus runtime errors.
func (s *Status) ErrorCount() int {
	n := len(s.RuntimeErrors)
	for _, m := range s.Messages {
		if m.Type == SeverityError {
			n++
		}
	}
	return n
}
