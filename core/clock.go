package core

import "github.com/benbjohnson/clock"

// Clock abstracts wall-clock access so mining, validation and TTL
// bookkeeping are deterministically testable (no wall-clock sleeps in
// tests). Production code uses clock.New(); tests use clock.NewMock() and
// advance virtual time explicitly.
type Clock = clock.Clock

// NewRealClock returns the production wall-clock implementation.
func NewRealClock() Clock { return clock.New() }
