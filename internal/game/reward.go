package game

import (
	"math"

	"lootarena/internal/rules"
)

const (
	StageBase        = "base"
	StageMode        = "mode"
	StageShop        = "shop"
	StageCombo       = "combo"
	StageHiddenBonus = "hidden_bonus"
	StageAnomaly     = "anomaly"
	StageContract    = "contract"
)

const (
	EffectSCBoost     = "sc_boost"
	EffectSeasonBoost = "season_boost"

	defaultEffectBonus = 0.10
	maxShopSCBoost     = 0.50
	preferredModeBonus = 1.07
)

// Stage is the audit record of one pipeline step: the multipliers and flat
// amounts it applied and the triple it produced.
type Stage struct {
	Name         string  `json:"stage"`
	SCMultiplier float64 `json:"sc_multiplier"`
	HCMultiplier float64 `json:"hc_multiplier"`
	RCMultiplier float64 `json:"rc_multiplier"`
	Flat         Reward  `json:"flat"`
	After        Reward  `json:"after"`
}

// RewardInput is everything the pipeline needs for one participant.
type RewardInput struct {
	Ref      string
	UserID   string
	Variant  Variant
	Outcome  Outcome
	Score    int64
	Combo    int
	Mode     Mode
	Shop     ShopBoosts
	Anomaly  Anomaly
	Contract *Contract
}

// ShopBoosts are the summed active shop effects of a player.
type ShopBoosts struct {
	SC     float64 `json:"sc"`
	Season float64 `json:"season"`
}

// SumShopEffects folds active effects into boosts. Unknown keys are ignored.
func SumShopEffects(effects []ShopEffect) ShopBoosts {
	var b ShopBoosts
	for _, e := range effects {
		bonus := defaultEffectBonus
		if v, ok := e.Meta["bonus"].(float64); ok && v > 0 {
			bonus = v
		}
		switch e.EffectKey {
		case EffectSCBoost:
			b.SC += bonus
		case EffectSeasonBoost:
			b.Season += bonus
		}
	}
	b.SC = math.Min(b.SC, maxShopSCBoost)
	return b
}

// BaseReward picks the payout band for outcome and score: the band with the
// highest MinScore not above score.
func BaseReward(table rules.PayoutTable, outcome Outcome, score int64) Reward {
	var bands []rules.PayoutBand
	switch outcome {
	case OutcomeWin:
		bands = table.Win
	case OutcomeNear:
		bands = table.Near
	default:
		bands = table.Loss
	}
	var out Reward
	best := int64(math.MinInt64)
	for _, b := range bands {
		if b.MinScore <= score && b.MinScore >= best {
			best = b.MinScore
			out = Reward{SC: b.SC, HC: b.HC, RC: b.RC}
		}
	}
	return out.nonNegative()
}

// ComputeReward runs the fixed pipeline from base through contract.
func ComputeReward(base Reward, in RewardInput, r *rules.Rules) (Reward, []Stage) {
	cur := base.nonNegative()
	stages := make([]Stage, 0, 7)
	record := func(name string, sc, hc, rc float64, flat Reward) {
		stages = append(stages, Stage{Name: name, SCMultiplier: sc, HCMultiplier: hc, RCMultiplier: rc, Flat: flat, After: cur})
	}
	record(StageBase, 1, 1, 1, Reward{})

	delta := r.Modes[string(in.Mode)]
	modeSC, modeRC := 1+delta.SC, 1+delta.RC
	cur = scale(cur, modeSC, 1, modeRC)
	record(StageMode, modeSC, 1, modeRC, Reward{})

	shopSC := 1 + in.Shop.SC
	cur = scale(cur, shopSC, 1, 1)
	record(StageShop, shopSC, 1, 1, Reward{})

	combo := in.Combo
	if combo < 0 {
		combo = 0
	}
	comboMul := 1 + math.Min(r.Combo.Cap, float64(combo)*r.Combo.Step)
	cur = scale(cur, comboMul, 1, comboMul)
	if combo > 1 && cur.SC < 1 {
		cur.SC = 1
	}
	record(StageCombo, comboMul, 1, comboMul, Reward{})

	flat := hiddenBonus(in, r.HiddenBonus)
	cur = Reward{SC: cur.SC + flat.SC, HC: cur.HC + flat.HC, RC: cur.RC + flat.RC}.nonNegative()
	record(StageHiddenBonus, 1, 1, 1, flat)

	aSC, aHC, aRC := nonZero(in.Anomaly.SCMultiplier), nonZero(in.Anomaly.HCMultiplier), nonZero(in.Anomaly.RCMultiplier)
	if in.Anomaly.PreferredMode != "" && in.Anomaly.PreferredMode == in.Mode {
		aSC *= preferredModeBonus
		aRC *= preferredModeBonus
	}
	cur = scale(cur, aSC, aHC, aRC)
	record(StageAnomaly, aSC, aHC, aRC, Reward{})

	if in.Contract != nil {
		cSC := in.Contract.EffectiveSCMultiplier(combo, r.Contract)
		cur = scale(cur, cSC, 1, 1)
		add := Reward{RC: in.Contract.RCFlatBonus}
		cur.RC += add.RC
		cur = cur.nonNegative()
		record(StageContract, cSC, 1, 1, add)
	} else {
		record(StageContract, 1, 1, 1, Reward{})
	}
	return cur, stages
}

// hiddenBonus rolls the seeded per-participant dice against the mode threshold.
func hiddenBonus(in RewardInput, hb rules.HiddenBonusRules) Reward {
	threshold := hb.Thresholds[string(in.Mode)]
	if threshold <= 0 {
		return Reward{}
	}
	if SeededFloat("hidden_bonus", in.Ref+":"+in.UserID) >= threshold {
		return Reward{}
	}
	var f rules.FlatBonus
	switch in.Outcome {
	case OutcomeWin:
		f = hb.Win
	case OutcomeNear:
		f = hb.Near
	default:
		f = hb.Loss
	}
	return Reward{SC: f.SC, RC: f.RC}
}

func scale(r Reward, sc, hc, rc float64) Reward {
	return Reward{
		SC: int64(math.Round(float64(r.SC) * sc)),
		HC: int64(math.Round(float64(r.HC) * hc)),
		RC: int64(math.Round(float64(r.RC) * rc)),
	}.nonNegative()
}

func nonZero(m float64) float64 {
	if m <= 0 {
		return 1
	}
	return m
}

// SeasonPoints is the season accrual for one participant.
func SeasonPoints(vr rules.VariantRules, outcome Outcome, anomaly Anomaly, contract *Contract, shop ShopBoosts) int64 {
	base := float64(outcomeInt(vr.SeasonPoints, outcome))
	pts := int64(math.Round(base * nonZero(anomaly.SeasonMultiplier) * (1 + shop.Season)))
	if contract != nil {
		pts += contract.SeasonBonus
	}
	if pts < 0 {
		return 0
	}
	return pts
}

// WarPoints is the war pool delta for one participant, excluding raid damage share.
func WarPoints(vr rules.VariantRules, outcome Outcome, contract *Contract) int64 {
	pts := outcomeInt(vr.WarPoints, outcome)
	if contract != nil {
		pts += contract.WarBonus
	}
	if pts < 0 {
		return 0
	}
	return pts
}

func outcomeInt(v rules.OutcomeInts, outcome Outcome) int64 {
	switch outcome {
	case OutcomeWin:
		return v.Win
	case OutcomeNear:
		return v.Near
	default:
		return v.Loss
	}
}
