package engine

// Faction is one of the six playable Gwent factions. The set is closed and
// shared with the client.
type Faction string

const (
	FactionMonsters  Faction = "monsters"
	FactionNilfgaard Faction = "nilfgaard"
	FactionNorthern  Faction = "northern"
	FactionScoiatael Faction = "scoiatael"
	FactionSkellige  Faction = "skellige"
	FactionSyndicate Faction = "syndicate"
)

// AllFactions is the canonical ordering, used as the auto-fill tie-break.
var AllFactions = []Faction{
	FactionMonsters,
	FactionNilfgaard,
	FactionNorthern,
	FactionScoiatael,
	FactionSkellige,
	FactionSyndicate,
}

func ParseFaction(s string) (Faction, bool) {
	f := Faction(s)
	for _, known := range AllFactions {
		if f == known {
			return f, true
		}
	}
	return "", false
}

type Format string

const (
	FormatBo3 Format = "bo3"
	FormatBo5 Format = "bo5"
)

// ParseFormat falls back to bo3, mirroring the lobby creation default.
func ParseFormat(s string) Format {
	if Format(s) == FormatBo5 {
		return FormatBo5
	}
	return FormatBo3
}

// RequiredPicks is the size of a confirmed draft pool for this format.
func (f Format) RequiredPicks() int {
	if f == FormatBo5 {
		return 4
	}
	return 3
}
