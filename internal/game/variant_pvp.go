package game

import (
	"context"
	"math"

	"lootarena/internal/rules"
)

type pvpVariant struct{}

func (pvpVariant) rules(cfg *rules.Rules) rules.VariantRules {
	return cfg.PvP.VariantRules
}

func (pvpVariant) prepare(ctx context.Context, tx Tx, sc *startCtx) (*Session, error) {
	paired, err := matchWaiting(ctx, tx, sc)
	if err != nil || paired != nil {
		return paired, err
	}
	pr := sc.cfg.PvP
	sc.draft.PvP = &PvPState{
		OpponentType:   OpponentShadow,
		Transport:      pr.Transport,
		TickMS:         pr.TickMS,
		ActionWindowMS: pr.ActionWindowMS,
	}
	return nil, nil
}

func (pvpVariant) created(ctx context.Context, tx Tx, sc *startCtx, sess *Session) error {
	return enqueueWaiting(ctx, tx, sc, sess)
}

// settle decides the winner side by score difference. Without a live
// opponent the right side is a shadow whose score is the left score scaled by
// a seeded jitter.
func (pvpVariant) settle(ctx context.Context, _ Tx, rc *resolveCtx) (settlement, error) {
	sess := rc.sess
	pr := rc.cfg.PvP
	live := sess.PvP != nil && sess.PvP.OpponentType == OpponentLive && sess.PvP.UserRightID != nil

	left := sess.SideState
	var right SideState
	jitter := 0.0
	if live {
		right = sess.PvP.Right
	} else {
		jitter = ShadowJitter(pr, sess.Ref)
		right = SideState{Score: ShadowScore(pr, sess.Ref, left.Score)}
	}
	winner := WinnerSide(pr.DrawBand, left.Score, right.Score)
	floor := pr.MinActionsToResolve
	leftForfeit := left.ActionCount < floor
	rightForfeit := live && right.ActionCount < floor
	switch {
	case leftForfeit && !rightForfeit:
		winner = SideRight
	case rightForfeit && !leftForfeit:
		winner = SideLeft
	}

	leftRating, err := rc.deps.Ratings.Rating(ctx, sess.UserID)
	if err != nil {
		return settlement{}, err
	}
	rightRating := leftRating
	if live {
		rightRating, err = rc.deps.Ratings.Rating(ctx, *sess.PvP.UserRightID)
		if err != nil {
			return settlement{}, err
		}
	}

	leftOutcome := sideResult(winner, SideLeft)
	sides := []sideOutcome{{
		userID:      sess.UserID,
		side:        SideLeft,
		mode:        sess.ModeSuggested,
		outcome:     leftOutcome,
		state:       left,
		ratingDelta: EloDelta(rc.cfg.Rating, leftRating.Rating, rightRating.Rating, leftOutcome),
		forfeit:     leftForfeit,
	}}
	if live {
		rightOutcome := sideResult(winner, SideRight)
		sides = append(sides, sideOutcome{
			userID:      *sess.PvP.UserRightID,
			side:        SideRight,
			mode:        sess.PvP.RightMode,
			outcome:     rightOutcome,
			state:       right,
			ratingDelta: EloDelta(rc.cfg.Rating, rightRating.Rating, leftRating.Rating, rightOutcome),
			forfeit:     rightForfeit,
		})
	}

	opponent := OpponentShadow
	if live {
		opponent = OpponentLive
	}
	meta := map[string]any{
		"winner_side":   winner,
		"opponent_type": opponent,
		"score_left":    left.Score,
		"score_right":   right.Score,
	}
	if !live {
		meta["shadow_jitter"] = jitter
	}
	return settlement{sides: sides, meta: meta}, nil
}

// WinnerSide returns left, right, or draw when the scores are within band.
func WinnerSide(band, left, right int64) string {
	diff := left - right
	if diff < 0 {
		if -diff <= band {
			return SideDraw
		}
		return SideRight
	}
	if diff <= band {
		return SideDraw
	}
	return SideLeft
}

func sideResult(winner, side string) Outcome {
	switch winner {
	case SideDraw:
		return OutcomeNear
	case side:
		return OutcomeWin
	default:
		return OutcomeLoss
	}
}

// ShadowJitter is the seeded multiplier in [min, max) for session ref.
func ShadowJitter(pr rules.PvPRules, ref string) float64 {
	return pr.ShadowJitterMin + (pr.ShadowJitterMax-pr.ShadowJitterMin)*SeededFloat("shadow", ref)
}

// ShadowScore synthesises the shadow opponent's score from the player's.
func ShadowScore(pr rules.PvPRules, ref string, playerScore int64) int64 {
	base := playerScore
	if base <= 0 {
		base = pr.ShadowFloor
	}
	return int64(math.Round(float64(base) * ShadowJitter(pr, ref)))
}
