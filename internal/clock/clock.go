// Package clock abstracts time so limiters can be driven by the wall clock in
// production and by a virtual clock in tests.
package clock

import "time"

// Clock supplies the "now" that every limiter decision is computed against.
// Limiters never call time.Now directly.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// Since returns the duration elapsed since t.
	Since(t time.Time) time.Duration
}

// RealClock delegates to the standard time package.
type RealClock struct{}

// NewRealClock returns the wall clock.
func NewRealClock() *RealClock {
	return &RealClock{}
}

func (c *RealClock) Now() time.Time {
	return time.Now()
}

func (c *RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}
