// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package extension

import (
	"slices"
)

// Kind names an execution kind an extension may declare support for.
type Kind string

// Execution kinds, in the vocabulary used by manifests.
const (
	KindWorker  Kind = "worker"
	KindProcess Kind = "process"
	KindRemote  Kind = "remote"
)

// WildcardActivationEvent activates an extension on every activation event.
const WildcardActivationEvent = "*"

// Descriptor is the immutable metadata of a discovered extension.
//
// Descriptors are produced by discovery and only read by this subsystem.
// Slices returned by accessors are copies.
type Descriptor struct {
	Identifier          Identifier
	Name                string
	Publisher           string
	Version             string
	Engine              string
	Main                string
	Location            string
	TargetPlatform      string
	ActivationEvents    []string
	EnabledAPIProposals []string
	Kinds               []Kind
	IsBuiltin           bool
	IsUserBuiltin       bool
	IsUnderDevelopment  bool
}

// NullDescriptor stands in for "no extension" in logs and messages.
var NullDescriptor = &Descriptor{
	Identifier: NewIdentifier("nullExtensionDescription"),
	Name:       "Null Extension Description",
	Publisher:  "exthost",
	Version:    "0.0.0",
	Location:   "void:location",
}

// Key is shorthand for d.Identifier.Key().
func (d *Descriptor) Key() string { return d.Identifier.Key() }

// DeclaresActivationEvent reports whether the extension wants to be activated
// for event, either directly or through the wildcard event.
func (d *Descriptor) DeclaresActivationEvent(event string) bool {
	for _, e := range d.ActivationEvents {
		if e == event || e == WildcardActivationEvent {
			return true
		}
	}
	return false
}

// PreferredKinds returns the declared kinds, defaulting to a separate process.
func (d *Descriptor) PreferredKinds() []Kind {
	if len(d.Kinds) == 0 {
		return []Kind{KindProcess}
	}
	return slices.Clone(d.Kinds)
}

// IsWorkerOnly reports whether the extension may only run in a worker.
func (d *Descriptor) IsWorkerOnly() bool {
	return len(d.Kinds) > 0 && !slices.ContainsFunc(d.Kinds, func(k Kind) bool { return k != KindWorker })
}

// IsRemotePinned reports whether the extension may only run on a remote peer.
func (d *Descriptor) IsRemotePinned() bool {
	return len(d.Kinds) > 0 && !slices.ContainsFunc(d.Kinds, func(k Kind) bool { return k != KindRemote })
}

// Type classifies the extension as system or user.
func (d *Descriptor) Type() string {
	if d.IsBuiltin {
		return "system"
	}
	return "user"
}
