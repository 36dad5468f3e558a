package domain

// Metric identifies a single hiscores metric. Skills track experience,
// bosses track kill counts.
type Metric string

const (
	Overall      Metric = "overall"
	Attack       Metric = "attack"
	Defence      Metric = "defence"
	Strength     Metric = "strength"
	Hitpoints    Metric = "hitpoints"
	Ranged       Metric = "ranged"
	Prayer       Metric = "prayer"
	Magic        Metric = "magic"
	Cooking      Metric = "cooking"
	Woodcutting  Metric = "woodcutting"
	Fletching    Metric = "fletching"
	Fishing      Metric = "fishing"
	Firemaking   Metric = "firemaking"
	Crafting     Metric = "crafting"
	Smithing     Metric = "smithing"
	Mining       Metric = "mining"
	Herblore     Metric = "herblore"
	Agility      Metric = "agility"
	Thieving     Metric = "thieving"
	Slayer       Metric = "slayer"
	Farming      Metric = "farming"
	Runecrafting Metric = "runecrafting"
	Hunter       Metric = "hunter"
	Construction Metric = "construction"
)

const (
	Barrows         Metric = "barrows"
	GiantMole       Metric = "giant_mole"
	KingBlackDragon Metric = "king_black_dragon"
	Zulrah          Metric = "zulrah"
	Vorkath         Metric = "vorkath"
	ChambersOfXeric Metric = "chambers_of_xeric"
	TheatreOfBlood  Metric = "theatre_of_blood"
	TheGauntlet     Metric = "the_gauntlet"
)

// Skills lists every skill metric in hiscores order. Overall is first.
var Skills = []Metric{
	Overall, Attack, Defence, Strength, Hitpoints, Ranged, Prayer, Magic,
	Cooking, Woodcutting, Fletching, Fishing, Firemaking, Crafting, Smithing,
	Mining, Herblore, Agility, Thieving, Slayer, Farming, Runecrafting,
	Hunter, Construction,
}

// Bosses lists every boss metric in hiscores order.
var Bosses = []Metric{
	Barrows, GiantMole, KingBlackDragon, Zulrah, Vorkath,
	ChambersOfXeric, TheatreOfBlood, TheGauntlet,
}

var skillSet = buildMetricSet(Skills)
var bossSet = buildMetricSet(Bosses)

func buildMetricSet(metrics []Metric) map[Metric]struct{} {
	set := make(map[Metric]struct{}, len(metrics))
	for _, m := range metrics {
		set[m] = struct{}{}
	}
	return set
}

func (m Metric) IsSkill() bool {
	_, ok := skillSet[m]
	return ok
}

func (m Metric) IsBoss() bool {
	_, ok := bossSet[m]
	return ok
}

// MetricValue is one (rank, value) pair inside a snapshot. Value is
// experience for skills and kill count for bosses. -1 means unranked.
type MetricValue struct {
	Rank  int   `json:"rank"`
	Value int64 `json:"value"`
}

// SnapshotData maps every tracked metric to its (rank, value) pair.
type SnapshotData map[Metric]MetricValue
