// Package efficiency holds the derived-score tables: experience-to-level,
// efficient hours played (EHP) and efficient hours bossed (EHB). The review
// components consume these as opaque scoring functions.
package efficiency

import (
	"math"

	"runetrack/internal/domain"
)

// skillRates is experience per efficient hour, per skill. Overall has no
// rate of its own; its EHP is the sum over the trained skills.
var skillRates = map[domain.Metric]float64{
	domain.Attack:       190_000,
	domain.Defence:      190_000,
	domain.Strength:     190_000,
	domain.Hitpoints:    250_000,
	domain.Ranged:       330_000,
	domain.Prayer:       520_000,
	domain.Magic:        250_000,
	domain.Cooking:      490_000,
	domain.Woodcutting:  110_000,
	domain.Fletching:    1_300_000,
	domain.Fishing:      90_000,
	domain.Firemaking:   450_000,
	domain.Crafting:     310_000,
	domain.Smithing:     380_000,
	domain.Mining:       88_000,
	domain.Herblore:     440_000,
	domain.Agility:      75_000,
	domain.Thieving:     230_000,
	domain.Slayer:       45_000,
	domain.Farming:      700_000,
	domain.Runecrafting: 56_000,
	domain.Hunter:       150_000,
	domain.Construction: 900_000,
}

// bossRates is kills per efficient hour, per boss.
var bossRates = map[domain.Metric]float64{
	domain.Barrows:         7,
	domain.GiantMole:       95,
	domain.KingBlackDragon: 75,
	domain.Zulrah:          30,
	domain.Vorkath:         32,
	domain.ChambersOfXeric: 3,
	domain.TheatreOfBlood:  3,
	domain.TheGauntlet:     10,
}

// stackableSkills are the easily macroable skills whose share of a gain is
// reported to manual reviewers.
var stackableSkills = map[domain.Metric]struct{}{
	domain.Cooking:    {},
	domain.Crafting:   {},
	domain.Smithing:   {},
	domain.Fletching:  {},
	domain.Firemaking: {},
	domain.Thieving:   {},
}

// IsStackable reports whether m is a stackable (easily macroable) skill.
func IsStackable(m domain.Metric) bool {
	_, ok := stackableSkills[m]
	return ok
}

// SkillEHP returns the efficient hours represented by exp in one skill.
func SkillEHP(metric domain.Metric, exp int64) float64 {
	rate, ok := skillRates[metric]
	if !ok || rate <= 0 || exp <= 0 {
		return 0
	}
	return float64(exp) / rate
}

// BossEHB returns the efficient hours represented by kills at one boss.
func BossEHB(metric domain.Metric, kills int64) float64 {
	rate, ok := bossRates[metric]
	if !ok || rate <= 0 || kills <= 0 {
		return 0
	}
	return float64(kills) / rate
}

// EHP sums the efficient hours played across every skill in data.
func EHP(data domain.SnapshotData) float64 {
	var total float64
	for _, m := range domain.Skills {
		if m == domain.Overall {
			continue
		}
		if v, ok := data[m]; ok {
			total += SkillEHP(m, v.Value)
		}
	}
	return total
}

// EHB sums the efficient hours bossed across every boss in data.
func EHB(data domain.SnapshotData) float64 {
	var total float64
	for _, m := range domain.Bosses {
		if v, ok := data[m]; ok {
			total += BossEHB(m, v.Value)
		}
	}
	return total
}

// xpTable[L] is the experience required for level L, for L in [1, 99].
var xpTable = buildXPTable()

func buildXPTable() [100]int64 {
	var table [100]int64
	points := 0.0
	for lvl := 1; lvl <= 99; lvl++ {
		table[lvl] = int64(points / 4)
		points += math.Floor(float64(lvl) + 300*math.Pow(2, float64(lvl)/7))
	}
	return table
}

// Level returns the skill level for an experience amount, clamped to [1, 99].
func Level(exp int64) int {
	if exp <= 0 {
		return 1
	}
	for lvl := 99; lvl >= 1; lvl-- {
		if exp >= xpTable[lvl] {
			return lvl
		}
	}
	return 1
}

// TotalLevel sums the levels of every skill in data. Overall is excluded.
func TotalLevel(data domain.SnapshotData) int {
	total := 0
	for _, m := range domain.Skills {
		if m == domain.Overall {
			continue
		}
		exp := int64(0)
		if v, ok := data[m]; ok && v.Value > 0 {
			exp = v.Value
		}
		total += Level(exp)
	}
	return total
}
