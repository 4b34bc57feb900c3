// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package event

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// IDGenerator issues ULIDs that sort in issue order, including IDs issued
// within the same millisecond.
type IDGenerator struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// NewIDGenerator returns a generator seeded from crypto/rand.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{entropy: ulid.Monotonic(rand.Reader, 0), now: time.Now}
}

// Next returns the next ID.
func (g *IDGenerator) Next() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy)
}

var ids = NewIDGenerator()

// NewULID returns an ID from the process-wide generator. Coordinator
// sessions, profiles and extension requests draw from it.
func NewULID() ulid.ULID { return ids.Next() }
