package tabletop

import "strings"

// Stat bounds: the five core stats are dots on the sheet, extra stats are
// free-form sliders with a wider range.
const (
	CoreStatMax  = 10
	ExtraStatMax = 20
)

// Stats is the fixed five-stat block every character carries.
type Stats struct {
	Strength int `json:"strength"`
	Agility  int `json:"agility"`
	Wits     int `json:"wits"`
	Will     int `json:"will"`
	Scouting int `json:"scouting"`
}

// Health tracks current/max hit points plus a temporary shield overlay.
type Health struct {
	Current int `json:"current"`
	Max     int `json:"max"`
	Shield  int `json:"shield"`
}

// Character is one card on the shared sheet. Characters are addressed by
// their position in the table's list, not by a stable id, so concurrent
// reorders invalidate in-flight index-based events.
type Character struct {
	Name        string         `json:"name"`
	Class       string         `json:"class"`
	Level       int            `json:"level"`
	Image       string         `json:"img,omitempty"`
	Health      Health         `json:"health"`
	Stats       Stats          `json:"stats"`
	ExtraStats  map[string]int `json:"extraStats,omitempty"`
	Passive     string         `json:"passive"`
	Inspiration int            `json:"inspiration"`
	Owner       string         `json:"owner,omitempty"`
}

// NewCharacter returns a blank card with valid defaults.
func NewCharacter(name string) Character {
	return Character{
		Name:   name,
		Class:  "",
		Level:  1,
		Health: Health{Current: 10, Max: 10},
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Clamp normalizes every field into its valid range. It never rejects a
// character; out-of-range values from remote peers are pulled back in bounds.
func (c *Character) Clamp() {
	if c.Level < 1 {
		c.Level = 1
	}
	if c.Health.Max < 1 {
		c.Health.Max = 1
	}
	if c.Health.Shield < 0 {
		c.Health.Shield = 0
	}
	c.Health.Current = clampInt(c.Health.Current, 0, c.Health.Max)

	c.Stats.Strength = clampInt(c.Stats.Strength, 0, CoreStatMax)
	c.Stats.Agility = clampInt(c.Stats.Agility, 0, CoreStatMax)
	c.Stats.Wits = clampInt(c.Stats.Wits, 0, CoreStatMax)
	c.Stats.Will = clampInt(c.Stats.Will, 0, CoreStatMax)
	c.Stats.Scouting = clampInt(c.Stats.Scouting, 0, CoreStatMax)

	if c.Inspiration < 0 {
		c.Inspiration = 0
	}
	if len(c.ExtraStats) > 0 {
		c.ExtraStats = NormalizeExtraStats(c.ExtraStats)
	}
	c.Owner = NormalizeOwner(c.Owner)
}

// NormalizeExtraStats uppercases and trims stat names and clamps values.
// Names that collide case-insensitively fold into a single entry.
func NormalizeExtraStats(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for name, val := range in {
		key := strings.ToUpper(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		out[key] = clampInt(val, 0, ExtraStatMax)
	}
	return out
}

// NormalizeOwner lowercases an owner identity; empty means unowned.
func NormalizeOwner(owner string) string {
	return strings.ToLower(strings.TrimSpace(owner))
}
