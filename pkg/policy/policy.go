// Package policy exposes the tier and endpoint policy table.
package policy

import (
	internalpolicy "github.com/SmitUplenchwar2687/Turnstile/internal/policy"
)

type (
	// Tier is a caller class.
	Tier = internalpolicy.Tier
	// Policy is a limit over a window.
	Policy = internalpolicy.Policy
	// Table maps a tier and endpoint class to a Policy.
	Table = internalpolicy.Table
)

const (
	TierAnonymous     = internalpolicy.TierAnonymous
	TierAuthenticated = internalpolicy.TierAuthenticated
	TierPremium       = internalpolicy.TierPremium
	TierAPI           = internalpolicy.TierAPI
)

// ParseTier parses a tier name.
func ParseTier(s string) (Tier, error) {
	return internalpolicy.ParseTier(s)
}

// DefaultTable returns the shipped policy table.
func DefaultTable() *Table {
	return internalpolicy.DefaultTable()
}

// LoadFile overlays a JSON policy file on the shipped table.
func LoadFile(path string) (*Table, error) {
	return internalpolicy.LoadFile(path)
}
