// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package location

import (
	"slices"

	"github.com/cespare/xxhash/v2"

	"github.com/holomush/exthost/internal/extension"
)

// AffinityPolicy partitions process-hosted extensions into process groups.
// Implementations must be deterministic.
type AffinityPolicy interface {
	Affinity(d *extension.Descriptor) int
}

// SingleAffinity puts every extension into group 0.
type SingleAffinity struct{}

// Affinity implements AffinityPolicy.
func (SingleAffinity) Affinity(*extension.Descriptor) int { return 0 }

// ShardedAffinity spreads extensions over Shards groups by hashing the
// identifier key.
type ShardedAffinity struct {
	Shards int
}

// Affinity implements AffinityPolicy.
func (s ShardedAffinity) Affinity(d *extension.Descriptor) int {
	if s.Shards <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(d.Key()) % uint64(s.Shards))
}

// IsolatedAffinity gives each listed extension a private group. Other
// extensions are placed by Fallback, which defaults to SingleAffinity.
//
// Private groups are numbered from Base+1 in sorted key order, so they
// never overlap groups below Base.
type IsolatedAffinity struct {
	keys     []string
	base     int
	fallback AffinityPolicy
}

// NewIsolatedAffinity creates the policy. base should be at least the
// number of groups fallback can produce minus one.
func NewIsolatedAffinity(ids []string, base int, fallback AffinityPolicy) *IsolatedAffinity {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, extension.NewIdentifier(id).Key())
	}
	slices.Sort(keys)
	keys = slices.Compact(keys)
	if fallback == nil {
		fallback = SingleAffinity{}
	}
	return &IsolatedAffinity{keys: keys, base: base, fallback: fallback}
}

// Affinity implements AffinityPolicy.
func (p *IsolatedAffinity) Affinity(d *extension.Descriptor) int {
	if i, ok := slices.BinarySearch(p.keys, d.Key()); ok {
		return p.base + i + 1
	}
	return p.fallback.Affinity(d)
}

// PinnedAffinity assigns groups from an explicit table.
type PinnedAffinity struct {
	groups   map[string]int
	fallback AffinityPolicy
}

// NewPinnedAffinity creates the policy from identifier → group entries.
func NewPinnedAffinity(groups map[string]int, fallback AffinityPolicy) *PinnedAffinity {
	byKey := make(map[string]int, len(groups))
	for id, g := range groups {
		byKey[extension.NewIdentifier(id).Key()] = g
	}
	if fallback == nil {
		fallback = SingleAffinity{}
	}
	return &PinnedAffinity{groups: byKey, fallback: fallback}
}

// Affinity implements AffinityPolicy.
func (p *PinnedAffinity) Affinity(d *extension.Descriptor) int {
	if g, ok := p.groups[d.Key()]; ok {
		return g
	}
	return p.fallback.Affinity(d)
}

// PolicyConfig is the declarative form of an affinity policy.
type PolicyConfig struct {
	Shards  int
	Isolate []string
	Pinned  map[string]int
}

// NewPolicy builds the policy described by cfg. Pinned entries win over
// isolation, which wins over sharding.
func NewPolicy(cfg PolicyConfig) AffinityPolicy {
	var p AffinityPolicy = SingleAffinity{}
	base := 0
	if cfg.Shards > 1 {
		p = ShardedAffinity{Shards: cfg.Shards}
		base = cfg.Shards - 1
	}
	if len(cfg.Pinned) > 0 {
		for _, g := range cfg.Pinned {
			base = max(base, g)
		}
	}
	if len(cfg.Isolate) > 0 {
		p = NewIsolatedAffinity(cfg.Isolate, base, p)
	}
	if len(cfg.Pinned) > 0 {
		p = NewPinnedAffinity(cfg.Pinned, p)
	}
	return p
}
