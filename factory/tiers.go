/*
Package factory converts JSON tier definitions into a booking.TierTable.

PURPOSE:
  Tier targets change with the studio's pricing. Keeping them in
  configuration lets operators add or retune a tier without a release.

JSON SCHEMA:
  {
    "tiers": [
      {"name": "ultimate",         "weekly": true,  "target": 3},
      {"name": "ultimate_medium",  "weekly": true,  "target": 1},
      {"name": "standard_pilates", "weekly": false}
    ]
  }

  A missing or zero target means the balance comes from the subscription's
  package credits. Tiers absent from the JSON keep their built-in rule.

USAGE:
  tiers, err := factory.NewTierFactory().ParseTiers(cfg.Tiers)
  if err != nil { ... }
  opts := booking.Options{Tiers: tiers}

SEE ALSO:
  - booking/types.go: TierTable and DefaultTiers
*/
package factory

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/warp/reservation-engine/booking"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// TierTableJSON is the JSON representation of a tier table.
type TierTableJSON struct {
	Tiers []TierJSON `json:"tiers"`
}

// TierJSON is the JSON representation of one tier.
type TierJSON struct {
	Name   string `json:"name"`
	Weekly bool   `json:"weekly"`
	Target int    `json:"target,omitempty"`
}

// =============================================================================
// TIER FACTORY
// =============================================================================

// TierFactory converts JSON tier tables to booking.TierTable.
type TierFactory struct {
	base booking.TierTable
}

// NewTierFactory creates a factory that layers parsed tiers over
// booking.DefaultTiers.
func NewTierFactory() *TierFactory {
	return &TierFactory{base: booking.DefaultTiers()}
}

// ParseTiers parses a JSON tier table. An empty string yields the defaults.
func (f *TierFactory) ParseTiers(jsonStr string) (booking.TierTable, error) {
	if strings.TrimSpace(jsonStr) == "" {
		return f.clone(), nil
	}
	var tj TierTableJSON
	if err := json.Unmarshal([]byte(jsonStr), &tj); err != nil {
		return nil, fmt.Errorf("failed to parse tier JSON: %w", err)
	}
	return f.FromJSON(tj)
}

// FromJSON validates tj and merges it over the defaults.
func (f *TierFactory) FromJSON(tj TierTableJSON) (booking.TierTable, error) {
	table := f.clone()
	seen := make(map[string]bool, len(tj.Tiers))
	for i, t := range tj.Tiers {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return nil, fmt.Errorf("tier %d: name is required", i)
		}
		if seen[name] {
			return nil, fmt.Errorf("tier %q defined twice", name)
		}
		seen[name] = true
		if t.Target < 0 {
			return nil, fmt.Errorf("tier %q: target must not be negative, got %d", name, t.Target)
		}
		if t.Weekly && t.Target == 0 {
			return nil, fmt.Errorf("tier %q: weekly tiers need a target", name)
		}
		table[booking.Tier(name)] = booking.TierRule{Target: t.Target, Weekly: t.Weekly}
	}
	return table, nil
}

// ToJSON converts a tier table back to its JSON form, sorted by name.
func (f *TierFactory) ToJSON(table booking.TierTable) TierTableJSON {
	out := TierTableJSON{Tiers: make([]TierJSON, 0, len(table))}
	for tier, rule := range table {
		out.Tiers = append(out.Tiers, TierJSON{Name: string(tier), Weekly: rule.Weekly, Target: rule.Target})
	}
	sort.Slice(out.Tiers, func(i, j int) bool { return out.Tiers[i].Name < out.Tiers[j].Name })
	return out
}

func (f *TierFactory) clone() booking.TierTable {
	t := make(booking.TierTable, len(f.base))
	for k, v := range f.base {
		t[k] = v
	}
	return t
}
