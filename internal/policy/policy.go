// Package policy maps a caller tier and endpoint class to the limit and window
// a request is checked against.
package policy

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/errs"

	"github.com/SmitUplenchwar2687/Turnstile/internal/window"
)

// Error is the class of policy table failures.
var Error = errs.Class("policy")

// Tier classifies a caller.
type Tier string

const (
	TierAnonymous     Tier = "anonymous"
	TierAuthenticated Tier = "authenticated"
	TierPremium       Tier = "premium"
	TierAPI           Tier = "api"
)

// Tiers lists every valid tier.
var Tiers = []Tier{TierAnonymous, TierAuthenticated, TierPremium, TierAPI}

// Endpoint classes with shipped defaults. Any other class resolves through
// the tier's default entry.
const (
	EndpointAuth    = "auth"
	EndpointAPI     = "api"
	EndpointUpload  = "upload"
	EndpointDefault = "default"
)

// ParseTier validates s as a Tier.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", Error.New("unknown tier %q, must be one of: anonymous, authenticated, premium, api", s)
	}
	return t, nil
}

// Valid reports whether t is one of Tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierAnonymous, TierAuthenticated, TierPremium, TierAPI:
		return true
	}
	return false
}

func (t Tier) String() string { return string(t) }

// Policy is a request limit over a sliding window.
type Policy struct {
	Limit  int           `json:"limit"`
	Window time.Duration `json:"window"`
}

func (p Policy) String() string {
	return fmt.Sprintf("%d/%s", p.Limit, window.Format(p.Window))
}

func (p Policy) validate() error {
	if p.Limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d", p.Limit)
	}
	if p.Window < time.Millisecond {
		return fmt.Errorf("window must be at least 1ms, got %s", p.Window)
	}
	return nil
}

// Fallback is used when neither the exact entry nor the tier default exists.
var Fallback = Policy{Limit: 60, Window: time.Minute}

// Table is an immutable (tier, endpoint class) -> Policy lookup.
type Table struct {
	entries  map[Tier]map[string]Policy
	fallback Policy
}

// DefaultTable returns the shipped policies: tight on anonymous auth
// endpoints, generous for API clients.
func DefaultTable() *Table {
	p := func(limit int, w string) Policy {
		return Policy{Limit: limit, Window: window.MustParse(w)}
	}
	return &Table{
		fallback: Fallback,
		entries: map[Tier]map[string]Policy{
			TierAnonymous: {
				EndpointAuth:    p(5, "15m"),
				EndpointAPI:     p(20, "1m"),
				EndpointUpload:  p(5, "1h"),
				EndpointDefault: p(60, "1m"),
			},
			TierAuthenticated: {
				EndpointAuth:    p(10, "15m"),
				EndpointAPI:     p(100, "1m"),
				EndpointUpload:  p(20, "1h"),
				EndpointDefault: p(300, "1m"),
			},
			TierPremium: {
				EndpointAuth:    p(20, "15m"),
				EndpointAPI:     p(500, "1m"),
				EndpointUpload:  p(100, "1h"),
				EndpointDefault: p(1000, "1m"),
			},
			TierAPI: {
				EndpointAuth:    p(50, "15m"),
				EndpointAPI:     p(1000, "1m"),
				EndpointUpload:  p(200, "1h"),
				EndpointDefault: p(2000, "1m"),
			},
		},
	}
}

// Resolve returns the policy for (tier, endpoint), falling back to
// (tier, "default") and then to the table fallback. It never fails.
func (t *Table) Resolve(tier Tier, endpoint string) Policy {
	if byClass, ok := t.entries[tier]; ok {
		if p, ok := byClass[endpoint]; ok {
			return p
		}
		if p, ok := byClass[EndpointDefault]; ok {
			return p
		}
	}
	return t.fallback
}

// Validate checks every entry. Run it at startup so a bad table is rejected
// before it can be consulted.
func (t *Table) Validate() error {
	var group errs.Group
	if err := t.fallback.validate(); err != nil {
		group.Add(Error.New("fallback: %w", err))
	}
	for tier, byClass := range t.entries {
		if !tier.Valid() {
			group.Add(Error.New("unknown tier %q", tier))
		}
		for class, p := range byClass {
			if class == "" {
				group.Add(Error.New("%s: empty endpoint class", tier))
			}
			if err := p.validate(); err != nil {
				group.Add(Error.New("%s/%s: %w", tier, class, err))
			}
		}
	}
	return group.Err()
}

// Entry is one row of a table listing.
type Entry struct {
	Tier     Tier   `json:"tier"`
	Endpoint string `json:"endpoint"`
	Policy   Policy `json:"policy"`
}

// Entries lists the table in tier, then endpoint order.
func (t *Table) Entries() []Entry {
	var out []Entry
	for tier, byClass := range t.entries {
		for class, p := range byClass {
			out = append(out, Entry{Tier: tier, Endpoint: class, Policy: p})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier < out[j].Tier
		}
		return out[i].Endpoint < out[j].Endpoint
	})
	return out
}

// clone returns a deep copy so overlays never alias the defaults.
func (t *Table) clone() *Table {
	out := &Table{fallback: t.fallback, entries: make(map[Tier]map[string]Policy, len(t.entries))}
	for tier, byClass := range t.entries {
		m := make(map[string]Policy, len(byClass))
		for class, p := range byClass {
			m[class] = p
		}
		out.entries[tier] = m
	}
	return out
}

// rawPolicy is the file representation with a string window.
type rawPolicy struct {
	Limit  int    `json:"limit"`
	Window string `json:"window"`
}

type rawTable struct {
	Fallback *rawPolicy                      `json:"fallback"`
	Policies map[string]map[string]rawPolicy `json:"policies"`
}

// LoadJSON overlays a JSON policy document on base and validates the result.
// Entries not named in the document keep their base values.
//
//	{
//	  "fallback": {"limit": 30, "window": "1m"},
//	  "policies": {"anonymous": {"auth": {"limit": 3, "window": "15m"}}}
//	}
func LoadJSON(r io.Reader, base *Table) (*Table, error) {
	if base == nil {
		base = DefaultTable()
	}

	var raw rawTable
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, Error.New("parsing policy document: %w", err)
	}

	out := base.clone()
	if raw.Fallback != nil {
		p, err := raw.Fallback.policy()
		if err != nil {
			return nil, Error.New("fallback: %w", err)
		}
		out.fallback = p
	}
	for tierName, byClass := range raw.Policies {
		tier, err := ParseTier(tierName)
		if err != nil {
			return nil, err
		}
		if out.entries[tier] == nil {
			out.entries[tier] = make(map[string]Policy)
		}
		for class, rp := range byClass {
			p, err := rp.policy()
			if err != nil {
				return nil, Error.New("%s/%s: %w", tier, class, err)
			}
			out.entries[tier][class] = p
		}
	}

	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

func (rp rawPolicy) policy() (Policy, error) {
	w, err := window.Parse(rp.Window)
	if err != nil {
		return Policy{}, err
	}
	return Policy{Limit: rp.Limit, Window: w}, nil
}

// LoadFile reads a policy document from path and overlays it on the defaults.
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Error.New("opening policy file: %w", err)
	}
	defer f.Close()
	return LoadJSON(f, DefaultTable())
}
