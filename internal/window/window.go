// Package window parses the compact window notation used by rate limit
// policies: a positive integer followed by one of s, m, h or d.
//
//	"30s" "15m" "1h" "1d"
package window

import (
	"math"
	"regexp"
	"strconv"
	"time"

	"github.com/zeebo/errs"
)

// Error is the class of all parse failures.
var Error = errs.Class("window")

var pattern = regexp.MustCompile(`^(\d+)([smhd])$`)

var units = map[string]time.Duration{
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
	"d": 24 * time.Hour,
}

// Parse converts s into a duration. Anything outside the grammar, a zero
// amount, or an amount that overflows time.Duration is an error.
func Parse(s string) (time.Duration, error) {
	m := pattern.FindStringSubmatch(s)
	if m == nil {
		return 0, Error.New("invalid window %q: want <digits><s|m|h|d>", s)
	}

	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, Error.New("invalid window %q: %v", s, err)
	}
	if n == 0 {
		return 0, Error.New("invalid window %q: must be positive", s)
	}

	unit := units[m[2]]
	if n > math.MaxInt64/int64(unit) {
		return 0, Error.New("invalid window %q: too large", s)
	}
	return time.Duration(n) * unit, nil
}

// MustParse is like Parse but panics on error. Intended for package level
// tables built from literals.
func MustParse(s string) time.Duration {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Format renders d in the largest unit that divides it exactly, so that
// Parse(Format(d)) == d for any whole number of seconds.
func Format(d time.Duration) string {
	switch {
	case d <= 0 || d%time.Second != 0:
		return d.String()
	case d%(24*time.Hour) == 0:
		return strconv.FormatInt(int64(d/(24*time.Hour)), 10) + "d"
	case d%time.Hour == 0:
		return strconv.FormatInt(int64(d/time.Hour), 10) + "h"
	case d%time.Minute == 0:
		return strconv.FormatInt(int64(d/time.Minute), 10) + "m"
	default:
		return strconv.FormatInt(int64(d/time.Second), 10) + "s"
	}
}
