// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package location decides where each extension runs.
package location

import (
	"strings"

	"github.com/holomush/exthost/internal/extension"
)

// Capabilities describes the execution targets this host session offers.
type Capabilities struct {
	// Worker enables the in-process worker target.
	Worker bool
	// Process enables separate local processes.
	Process bool
	// RemoteAuthority names the remote peer. Empty means no remote target.
	RemoteAuthority string
}

// Resolver maps descriptors to running locations. It holds no mutable
// state, so results are stable for a given descriptor and configuration.
type Resolver struct {
	policy AffinityPolicy
}

// NewResolver creates a resolver. A nil policy means SingleAffinity.
func NewResolver(policy AffinityPolicy) *Resolver {
	if policy == nil {
		policy = SingleAffinity{}
	}
	return &Resolver{policy: policy}
}

// Resolve picks the first kind in the extension's preference list that the
// host supports.
func (r *Resolver) Resolve(d *extension.Descriptor, caps Capabilities) (extension.RunningLocation, error) {
	var unavailable []string
	for _, kind := range d.PreferredKinds() {
		switch kind {
		case extension.KindWorker:
			if caps.Worker {
				return extension.LocalWorker{}, nil
			}
		case extension.KindRemote:
			if caps.RemoteAuthority != "" {
				return extension.Remote{}, nil
			}
		case extension.KindProcess:
			if caps.Process {
				return extension.LocalProcess{Group: r.policy.Affinity(d)}, nil
			}
		default:
			return nil, extension.ErrResolution(d.Identifier, "unknown execution kind "+string(kind))
		}
		unavailable = append(unavailable, string(kind))
	}
	return nil, extension.ErrResolution(d.Identifier,
		"no supported execution kind available (wanted "+strings.Join(unavailable, ", ")+")")
}

// WebWorkerMode is the configured worker availability.
type WebWorkerMode string

// Worker modes. Auto enables the worker only when some extension can run
// nowhere else.
const (
	WebWorkerOn   WebWorkerMode = "true"
	WebWorkerOff  WebWorkerMode = "false"
	WebWorkerAuto WebWorkerMode = "auto"
)

// ParseWebWorkerMode accepts true, false and auto.
func ParseWebWorkerMode(s string) (WebWorkerMode, bool) {
	switch m := WebWorkerMode(strings.ToLower(strings.TrimSpace(s))); m {
	case WebWorkerOn, WebWorkerOff, WebWorkerAuto:
		return m, true
	default:
		return "", false
	}
}

// WorkerEnabled evaluates mode against the installed extensions.
func WorkerEnabled(mode WebWorkerMode, descs []*extension.Descriptor) bool {
	switch mode {
	case WebWorkerOn:
		return true
	case WebWorkerAuto:
		for _, d := range descs {
			if d.IsWorkerOnly() {
				return true
			}
		}
		return false
	default:
		return false
	}
}
