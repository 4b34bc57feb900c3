// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package capability_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/exthost/internal/capability"
	"github.com/holomush/exthost/internal/extension"
	"github.com/holomush/exthost/pkg/errutil"
)

func TestCheckProposedAPIEnabled(t *testing.T) {
	d := &extension.Descriptor{
		Identifier:          extension.NewIdentifier("acme.tool"),
		EnabledAPIProposals: []string{"inputBoxSeverity"},
	}

	assert.True(t, capability.IsProposedAPIEnabled(d, "inputBoxSeverity"))
	require.NoError(t, capability.CheckProposedAPIEnabled(d, "inputBoxSeverity"))

	err := capability.CheckProposedAPIEnabled(d, "environment")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, extension.CodeProposalNotEnabled)
	errutil.AssertErrorContext(t, err, "proposal", "environment")
	assert.Contains(t, err.Error(), "acme.tool")
	assert.Contains(t, err.Error(), "inputBoxSeverity")
	assert.Contains(t, err.Error(), "--enable-proposed-api acme.tool")
}

func TestCheckProposedAPIEnabled_NoDeclaredProposals(t *testing.T) {
	d := &extension.Descriptor{Identifier: extension.NewIdentifier("acme.bare")}
	err := capability.CheckProposedAPIEnabled(d, "environment")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declares: []")
}

func TestPolicy_EffectiveProposals(t *testing.T) {
	user := &extension.Descriptor{
		Identifier:          extension.NewIdentifier("acme.user"),
		EnabledAPIProposals: []string{"environment"},
	}
	dev := &extension.Descriptor{
		Identifier:          extension.NewIdentifier("acme.dev"),
		EnabledAPIProposals: []string{"environment"},
		IsUnderDevelopment:  true,
	}

	var p capability.Policy
	assert.Nil(t, p.EffectiveProposals(user))
	assert.Equal(t, []string{"environment"}, p.EffectiveProposals(dev))

	p.EnableProposedAPI = []string{"ACME.USER"}
	assert.Equal(t, []string{"environment"}, p.EffectiveProposals(user))

	p.EnableProposedAPI = []string{"*"}
	assert.True(t, p.Allowed(user))
}
