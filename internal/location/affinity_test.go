// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package location_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/holomush/exthost/internal/location"
)

func TestShardedAffinity_InRangeAndCaseInsensitive(t *testing.T) {
	p := location.ShardedAffinity{Shards: 3}
	for _, id := range []string{"acme.a", "acme.b", "other.c", "x.y"} {
		g := p.Affinity(desc(id))
		assert.GreaterOrEqual(t, g, 0)
		assert.Less(t, g, 3)
	}
	assert.Equal(t, p.Affinity(desc("Acme.Tool")), p.Affinity(desc("acme.tool")))
}

func TestShardedAffinity_SingleShard(t *testing.T) {
	assert.Equal(t, 0, location.ShardedAffinity{Shards: 1}.Affinity(desc("acme.a")))
	assert.Equal(t, 0, location.ShardedAffinity{}.Affinity(desc("acme.a")))
}

func TestIsolatedAffinity(t *testing.T) {
	p := location.NewIsolatedAffinity([]string{"zed.untrusted", "Acme.Untrusted", "acme.untrusted"}, 0, nil)

	assert.Equal(t, 1, p.Affinity(desc("acme.untrusted")))
	assert.Equal(t, 2, p.Affinity(desc("zed.untrusted")))
	assert.Equal(t, 0, p.Affinity(desc("acme.trusted")))
}

func TestPinnedAffinity(t *testing.T) {
	p := location.NewPinnedAffinity(map[string]int{"Acme.Heavy": 5}, nil)
	assert.Equal(t, 5, p.Affinity(desc("acme.heavy")))
	assert.Equal(t, 0, p.Affinity(desc("acme.light")))
}

func TestNewPolicy_IsolatedGroupsDoNotOverlapShards(t *testing.T) {
	p := location.NewPolicy(location.PolicyConfig{
		Shards:  4,
		Isolate: []string{"acme.untrusted"},
		Pinned:  map[string]int{"acme.pinned": 7},
	})

	assert.Equal(t, 7, p.Affinity(desc("acme.pinned")))
	assert.Equal(t, 8, p.Affinity(desc("acme.untrusted")))
	assert.Less(t, p.Affinity(desc("acme.other")), 4)
}

func TestNewPolicy_Default(t *testing.T) {
	p := location.NewPolicy(location.PolicyConfig{})
	assert.Equal(t, 0, p.Affinity(desc("acme.any")))
}
