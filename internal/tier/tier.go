// Package tier maps subscription tiers to their daily earning caps.
package tier

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Tier is a subscription level.
type Tier string

const (
	Freemium Tier = "freemium"
	Starter  Tier = "starter"
	Gold     Tier = "gold"
	Elite    Tier = "elite"
)

// DefaultCaps are the daily caps shipped with the product.
var DefaultCaps = map[Tier]decimal.Decimal{
	Freemium: decimal.RequireFromString("0.5"),
	Starter:  decimal.RequireFromString("1"),
	Gold:     decimal.RequireFromString("2.5"),
	Elite:    decimal.RequireFromString("5"),
}

// Parse normalizes a tier name. Unknown or empty names fall back to
// Freemium with ok=false, so a malformed remote record never lifts a cap.
func Parse(s string) (Tier, bool) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case Freemium, Starter, Gold, Elite:
		return t, true
	case "alpha", "pro":
		// legacy names
		return Starter, true
	default:
		return Freemium, false
	}
}

// Table resolves daily caps per tier.
type Table struct {
	caps map[Tier]decimal.Decimal
}

// NewTable builds a cap table. Overrides replace the default cap for a tier;
// nil overrides yield the defaults.
func NewTable(overrides map[Tier]decimal.Decimal) (*Table, error) {
	caps := make(map[Tier]decimal.Decimal, len(DefaultCaps))
	for t, c := range DefaultCaps {
		caps[t] = c
	}
	for t, c := range overrides {
		if _, ok := DefaultCaps[t]; !ok {
			return nil, fmt.Errorf("unknown tier %q", t)
		}
		if c.Sign() <= 0 {
			return nil, fmt.Errorf("tier %q: daily cap must be positive, got %s", t, c)
		}
		caps[t] = c
	}
	return &Table{caps: caps}, nil
}

// DailyCap returns the cap for t; unknown tiers get the Freemium cap.
func (tb *Table) DailyCap(t Tier) decimal.Decimal {
	if c, ok := tb.caps[t]; ok {
		return c
	}
	return tb.caps[Freemium]
}
