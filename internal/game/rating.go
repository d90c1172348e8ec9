package game

import (
	"math"

	"lootarena/internal/rules"
)

// RatingDelta is the solo-variant rating change: a fixed step per outcome
// plus a capped momentum term earned from the session score.
func RatingDelta(rr rules.RatingRules, outcome Outcome, score int64) int {
	momentum := 0
	if rr.MomentumDivisor > 0 && score > 0 {
		momentum = int(score / rr.MomentumDivisor)
	}
	if momentum > rr.MomentumCap {
		momentum = rr.MomentumCap
	}
	switch outcome {
	case OutcomeWin:
		return rr.Win + momentum
	case OutcomeNear:
		return rr.Near + momentum/2
	default:
		return rr.Loss + momentum/2
	}
}

// EloDelta is the duel rating change for a player rated own against opp. A
// draw counts as half a win.
func EloDelta(rr rules.RatingRules, own, opp int, outcome Outcome) int {
	expected := 1 / (1 + math.Pow(10, float64(opp-own)/400))
	actual := 0.0
	switch outcome {
	case OutcomeWin:
		actual = 1
	case OutcomeNear:
		actual = 0.5
	}
	return int(math.Round(rr.KFactor * (actual - expected)))
}
