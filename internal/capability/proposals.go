// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package capability

import (
	"slices"
	"strings"

	"github.com/samber/oops"

	"github.com/holomush/exthost/internal/extension"
)

// IsProposedAPIEnabled reports whether the descriptor declares proposal.
func IsProposedAPIEnabled(d *extension.Descriptor, proposal string) bool {
	return slices.Contains(d.EnabledAPIProposals, proposal)
}

// CheckProposedAPIEnabled fails when the descriptor does not declare proposal.
func CheckProposedAPIEnabled(d *extension.Descriptor, proposal string) error {
	if IsProposedAPIEnabled(d, proposal) {
		return nil
	}
	return ErrProposalNotEnabled(d.Identifier.Value(), d.EnabledAPIProposals, proposal)
}

// ErrProposalNotEnabled builds the capability error raised to extension code.
// The message names the extension, its declared proposals and the opt-in flag.
func ErrProposalNotEnabled(extensionID string, declared []string, proposal string) error {
	list := "[]"
	if len(declared) > 0 {
		list = strings.Join(declared, ", ")
	}
	return oops.Code(extension.CodeProposalNotEnabled).
		In("capability").
		With("extension", extensionID).
		With("proposal", proposal).
		With("declared", declared).
		Hint("add the proposal to enabled_api_proposals and run in development mode or pass --enable-proposed-api "+extensionID).
		Errorf("Extension '%s' CANNOT use API proposal: %s.\nIts manifest enabled_api_proposals declares: %s but NOT %s.\nThe missing proposal MUST be added and you must start in extension development mode or use the following command line switch: --enable-proposed-api %s",
			extensionID, proposal, list, proposal, extensionID)
}

// Policy decides which declared proposals are honored for an extension.
type Policy struct {
	// EnableProposedAPI lists extension ids allowed to use proposals outside
	// development mode. The single entry "*" allows every extension.
	EnableProposedAPI []string
}

// Allowed reports whether d may use the proposals it declares.
func (p Policy) Allowed(d *extension.Descriptor) bool {
	if d.IsBuiltin || d.IsUnderDevelopment {
		return true
	}
	for _, id := range p.EnableProposedAPI {
		if id == "*" || extension.NewIdentifier(id).Equal(d.Identifier) {
			return true
		}
	}
	return false
}

// EffectiveProposals returns the proposals a host should grant d.
func (p Policy) EffectiveProposals(d *extension.Descriptor) []string {
	if !p.Allowed(d) {
		return nil
	}
	return slices.Clone(d.EnabledAPIProposals)
}
