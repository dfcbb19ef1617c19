// Package clock exposes the time sources Turnstile checks run against.
package clock

import (
	"time"

	internalclock "github.com/SmitUplenchwar2687/Turnstile/internal/clock"
)

// Clock supplies the current time to the limiter and the memory store.
type Clock = internalclock.Clock

// RealClock reads the wall clock.
type RealClock = internalclock.RealClock

// VirtualClock only moves when told to, for deterministic tests and
// simulations.
type VirtualClock = internalclock.VirtualClock

// NewRealClock returns a wall clock.
func NewRealClock() *RealClock {
	return internalclock.NewRealClock()
}

// NewVirtualClock returns a virtual clock frozen at start.
func NewVirtualClock(start time.Time) *VirtualClock {
	return internalclock.NewVirtualClock(start)
}
