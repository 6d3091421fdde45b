package engine

import (
	"math/rand"
	"slices"
)

// normalizeSelections validates every faction id and drops duplicates while
// keeping the submitted order.
func normalizeSelections(in []Faction) ([]Faction, error) {
	out := make([]Faction, 0, len(in))
	for _, f := range in {
		if _, ok := ParseFaction(string(f)); !ok {
			return nil, ErrInvalidSelection
		}
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out, nil
}

// padSelections tops a partial pool up to want picks, walking the faction
// enumeration in order and skipping anything already picked.
func padSelections(picks []Faction, want int) []Faction {
	out := slices.Clone(picks)
	for _, f := range AllFactions {
		if len(out) >= want {
			break
		}
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out
}

func removeFaction(pool []Faction, banned Faction) []Faction {
	out := make([]Faction, 0, len(pool))
	for _, f := range pool {
		if f != banned {
			out = append(out, f)
		}
	}
	return out
}

// randomBan picks a faction uniformly from the pool. Tests stub this out to
// make ban timeouts deterministic.
var randomBan = func(pool []Faction) Faction {
	if len(pool) == 0 {
		return ""
	}
	return pool[rand.Intn(len(pool))]
}
