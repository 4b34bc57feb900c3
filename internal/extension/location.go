// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package extension

import (
	"fmt"
	"strconv"
	"strings"
)

// HostKind is the coarse execution target kind of a RunningLocation.
type HostKind int

// Host kinds. The numbering is stable and used on the wire.
const (
	HostKindLocalProcess HostKind = 1
	HostKindLocalWorker  HostKind = 2
	HostKindRemote       HostKind = 3
)

// String returns the display name of the kind.
func (k HostKind) String() string {
	switch k {
	case HostKindLocalProcess:
		return "LocalProcess"
	case HostKindLocalWorker:
		return "LocalWorker"
	case HostKindRemote:
		return "Remote"
	default:
		return "None"
	}
}

// RunningLocation is the execution target assigned to an extension.
//
// It is a closed sum type: the only implementations are LocalWorker,
// LocalProcess and Remote. Switches over it should list all three and
// panic in the default branch via UnknownLocation.
type RunningLocation interface {
	Kind() HostKind
	Affinity() int
	Equal(other RunningLocation) bool
	String() string

	isRunningLocation()
}

// LocalWorker runs an extension in an isolated in-process worker.
type LocalWorker struct{}

// LocalProcess runs an extension in a separate OS process. Extensions with
// the same affinity share a process.
type LocalProcess struct {
	Group int
}

// Remote runs an extension on the remote peer.
type Remote struct{}

func (LocalWorker) isRunningLocation()  {}
func (LocalProcess) isRunningLocation() {}
func (Remote) isRunningLocation()       {}

// Kind implements RunningLocation.
func (LocalWorker) Kind() HostKind { return HostKindLocalWorker }

// Affinity is always 0 for workers.
func (LocalWorker) Affinity() int { return 0 }

// Equal implements RunningLocation.
func (LocalWorker) Equal(other RunningLocation) bool {
	_, ok := other.(LocalWorker)
	return ok
}

func (LocalWorker) String() string { return "LocalWorker" }

// Kind implements RunningLocation.
func (LocalProcess) Kind() HostKind { return HostKindLocalProcess }

// Affinity returns the process group.
func (l LocalProcess) Affinity() int { return l.Group }

// Equal implements RunningLocation.
func (l LocalProcess) Equal(other RunningLocation) bool {
	o, ok := other.(LocalProcess)
	return ok && o.Group == l.Group
}

func (l LocalProcess) String() string {
	if l.Group == 0 {
		return "LocalProcess"
	}
	return "LocalProcess" + strconv.Itoa(l.Group)
}

// Kind implements RunningLocation.
func (Remote) Kind() HostKind { return HostKindRemote }

// Affinity is always 0 for remote peers.
func (Remote) Affinity() int { return 0 }

// Equal implements RunningLocation.
func (Remote) Equal(other RunningLocation) bool {
	_, ok := other.(Remote)
	return ok
}

func (Remote) String() string { return "Remote" }

// UnknownLocation panics for a RunningLocation outside the closed set.
// It is the default branch of every exhaustive switch.
func UnknownLocation(loc RunningLocation) {
	panic(fmt.Sprintf("extension: unknown running location %T", loc))
}

// LocationEqual compares two possibly-nil locations.
func LocationEqual(a, b RunningLocation) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(b)
}

// ParseLocation parses the String form of a RunningLocation.
func ParseLocation(s string) (RunningLocation, error) {
	switch {
	case s == "LocalWorker":
		return LocalWorker{}, nil
	case s == "Remote":
		return Remote{}, nil
	case s == "LocalProcess":
		return LocalProcess{}, nil
	case strings.HasPrefix(s, "LocalProcess"):
		n, err := strconv.Atoi(strings.TrimPrefix(s, "LocalProcess"))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid running location %q", s)
		}
		return LocalProcess{Group: n}, nil
	default:
		return nil, fmt.Errorf("invalid running location %q", s)
	}
}
