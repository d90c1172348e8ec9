package game

import (
	"context"

	"lootarena/internal/rules"
)

type arenaVariant struct{}

func (arenaVariant) rules(cfg *rules.Rules) rules.VariantRules {
	return cfg.Arena
}

func (arenaVariant) prepare(context.Context, Tx, *startCtx) (*Session, error) {
	return nil, nil
}

func (arenaVariant) created(context.Context, Tx, *startCtx, *Session) error {
	return nil
}

func (arenaVariant) settle(_ context.Context, _ Tx, rc *resolveCtx) (settlement, error) {
	sess := rc.sess
	outcome := scoreOutcome(rc.cfg.Arena, sess.Score)
	return settlement{
		sides: []sideOutcome{{
			userID:      sess.UserID,
			side:        SideLeft,
			mode:        sess.ModeSuggested,
			outcome:     outcome,
			state:       sess.SideState,
			ratingDelta: RatingDelta(rc.cfg.Rating, outcome, sess.Score),
		}},
		meta: map[string]any{
			"score":     sess.Score,
			"combo_max": sess.ComboMax,
			"hits":      sess.Hits,
			"misses":    sess.Misses,
		},
	}, nil
}
