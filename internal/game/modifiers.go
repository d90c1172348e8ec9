package game

import (
	"math"
	"slices"
	"strconv"
	"time"

	"lootarena/internal/rules"
)

// Anomaly is a day-wide global shift of rewards and risk.
type Anomaly struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	SCMultiplier     float64 `json:"sc_multiplier"`
	RCMultiplier     float64 `json:"rc_multiplier"`
	HCMultiplier     float64 `json:"hc_multiplier"`
	SeasonMultiplier float64 `json:"season_multiplier"`
	RiskShift        float64 `json:"risk_shift"`
	PreferredMode    Mode    `json:"preferred_mode"`
}

type ResultRule string

const (
	RequireSuccess       ResultRule = "success"
	RequireSuccessOrNear ResultRule = "success_or_near"
	RequireAny           ResultRule = "any"
)

// Contract is a day-wide objective; meeting it adds a bonus on top of the
// anomaly stage.
type Contract struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	RequiredMode  Mode       `json:"required_mode,omitempty"`
	FocusFamilies []string   `json:"focus_families"`
	RequireResult ResultRule `json:"require_result"`
	SCMultiplier  float64    `json:"sc_multiplier"`
	RCFlatBonus   int64      `json:"rc_flat_bonus"`
	SeasonBonus   int64      `json:"season_bonus"`
	WarBonus      int64      `json:"war_bonus"`
}

const maxRiskShift = 0.25

var anomalyCatalog = []Anomaly{
	{ID: "calm_skies", Name: "Calm Skies", SCMultiplier: 1.0, RCMultiplier: 1.0, HCMultiplier: 1.0, SeasonMultiplier: 1.0, RiskShift: -0.05, PreferredMode: ModeSafe},
	{ID: "gold_rush", Name: "Gold Rush", SCMultiplier: 1.1, RCMultiplier: 1.0, HCMultiplier: 1.0, SeasonMultiplier: 1.0, RiskShift: 0.05, PreferredMode: ModeAggressive},
	{ID: "blood_moon", Name: "Blood Moon", SCMultiplier: 1.05, RCMultiplier: 1.15, HCMultiplier: 1.0, SeasonMultiplier: 1.1, RiskShift: 0.15, PreferredMode: ModeAggressive},
	{ID: "still_water", Name: "Still Water", SCMultiplier: 0.95, RCMultiplier: 1.05, HCMultiplier: 1.0, SeasonMultiplier: 1.2, RiskShift: -0.1, PreferredMode: ModeBalanced},
	{ID: "mint_surge", Name: "Mint Surge", SCMultiplier: 1.0, RCMultiplier: 1.0, HCMultiplier: 1.5, SeasonMultiplier: 1.0, RiskShift: 0.1, PreferredMode: ModeBalanced},
	{ID: "storm_front", Name: "Storm Front", SCMultiplier: 1.2, RCMultiplier: 0.9, HCMultiplier: 1.0, SeasonMultiplier: 0.9, RiskShift: 0.3, PreferredMode: ModeSafe},
}

var contractCatalog = []Contract{
	{ID: "arena_clean_sweep", Name: "Clean Sweep", FocusFamilies: []string{"arena"}, RequireResult: RequireSuccess, SCMultiplier: 1.08, RCFlatBonus: 2, SeasonBonus: 5, WarBonus: 1},
	{ID: "raid_vanguard", Name: "Vanguard", FocusFamilies: []string{"raid"}, RequireResult: RequireSuccessOrNear, SCMultiplier: 1.06, RCFlatBonus: 3, SeasonBonus: 4, WarBonus: 3},
	{ID: "duelist_oath", Name: "Duelist's Oath", RequiredMode: ModeBalanced, FocusFamilies: []string{"pvp"}, RequireResult: RequireSuccess, SCMultiplier: 1.1, RCFlatBonus: 2, SeasonBonus: 6, WarBonus: 2},
	{ID: "daredevil", Name: "Daredevil", RequiredMode: ModeAggressive, FocusFamilies: []string{"arena", "pvp"}, RequireResult: RequireSuccessOrNear, SCMultiplier: 1.12, RCFlatBonus: 1, SeasonBonus: 3, WarBonus: 1},
	{ID: "steady_hand", Name: "Steady Hand", RequiredMode: ModeSafe, FocusFamilies: []string{"arena", "raid", "pvp"}, RequireResult: RequireAny, SCMultiplier: 1.03, RCFlatBonus: 1, SeasonBonus: 2},
	{ID: "war_drums", Name: "War Drums", FocusFamilies: []string{"raid", "pvp"}, RequireResult: RequireAny, SCMultiplier: 1.04, RCFlatBonus: 0, SeasonBonus: 2, WarBonus: 4},
}

// Daily is the pair of modifiers in force for one season day.
type Daily struct {
	SeasonID int64    `json:"season_id"`
	DateKey  string   `json:"date_key"`
	Anomaly  Anomaly  `json:"anomaly"`
	Contract Contract `json:"contract"`
}

func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// ResolveDaily derives the anomaly and contract for the UTC day containing at.
// It needs no storage: the same season and day always yield the same pair.
func ResolveDaily(seasonID int64, at time.Time) Daily {
	return Daily{
		SeasonID: seasonID,
		DateKey:  DateKey(at),
		Anomaly:  DailyAnomaly(seasonID, at),
		Contract: DailyContract(seasonID, at),
	}
}

func DailyAnomaly(seasonID int64, at time.Time) Anomaly {
	idx := dailyIndex("anomaly", seasonID, at, len(anomalyCatalog), func(i int) string { return anomalyCatalog[i].ID })
	a := anomalyCatalog[idx]
	a.RiskShift = math.Max(-maxRiskShift, math.Min(maxRiskShift, a.RiskShift))
	return a
}

func DailyContract(seasonID int64, at time.Time) Contract {
	idx := dailyIndex("contract", seasonID, at, len(contractCatalog), func(i int) string { return contractCatalog[i].ID })
	c := contractCatalog[idx]
	c.FocusFamilies = slices.Clone(c.FocusFamilies)
	return c
}

// dailyIndex seeds today's pick with the prior day's unchained pick and steps
// past that id when the two collide.
func dailyIndex(namespace string, seasonID int64, at time.Time, n int, idOf func(int) string) int {
	season := strconv.FormatInt(seasonID, 10)
	prior := int(SeededHash(namespace, season+"|"+DateKey(at.AddDate(0, 0, -1))) % uint64(n))
	idx := int(SeededHash(namespace, season+"|"+DateKey(at)+"|"+idOf(prior)) % uint64(n))
	if idx == prior && n > 1 {
		idx = (idx + 1) % n
	}
	return idx
}

// Matches reports whether an attempt in family with the given mode and outcome
// satisfies the contract.
func (c Contract) Matches(mode Mode, family string, outcome Outcome) bool {
	if c.RequiredMode != "" && c.RequiredMode != mode {
		return false
	}
	if len(c.FocusFamilies) > 0 && !slices.Contains(c.FocusFamilies, family) {
		return false
	}
	switch c.RequireResult {
	case RequireSuccess:
		return outcome == OutcomeWin
	case RequireSuccessOrNear:
		return outcome == OutcomeWin || outcome == OutcomeNear
	default:
		return true
	}
}

// EffectiveSCMultiplier grows the contract multiplier a little per combo unit.
func (c Contract) EffectiveSCMultiplier(combo int, cr rules.ContractRules) float64 {
	if combo < 0 {
		combo = 0
	}
	return c.SCMultiplier + math.Min(cr.ComboCap, float64(combo)*cr.ComboStep)
}

// AnomalyCatalog returns a copy of the anomaly catalog.
func AnomalyCatalog() []Anomaly {
	return slices.Clone(anomalyCatalog)
}

// ContractCatalog returns a copy of the contract catalog.
func ContractCatalog() []Contract {
	out := slices.Clone(contractCatalog)
	for i := range out {
		out[i].FocusFamilies = slices.Clone(out[i].FocusFamilies)
	}
	return out
}
