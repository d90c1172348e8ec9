package game

import (
	"context"
	"time"

	"lootarena/internal/rules"
)

// variantStrategy holds what differs between arena, raid and pvp. The
// lifecycle in Service is shared.
type variantStrategy interface {
	rules(cfg *rules.Rules) rules.VariantRules
	// prepare runs after the ticket is paid and before the session row is
	// written. It fills variant fields on sc.draft, or returns an existing
	// session the player joined instead.
	prepare(ctx context.Context, tx Tx, sc *startCtx) (*Session, error)
	created(ctx context.Context, tx Tx, sc *startCtx, sess *Session) error
	settle(ctx context.Context, tx Tx, rc *resolveCtx) (settlement, error)
}

// sharedSettler is implemented by variants whose resolve changes state shared
// across sessions. applyShared runs in its own short transaction ahead of
// settlement and must be idempotent per session, so the shared row is not
// held locked while rewards are paid.
type sharedSettler interface {
	applyShared(ctx context.Context, tx Tx, rc *resolveCtx) error
}

type startCtx struct {
	profile  Profile
	cfg      *rules.Rules
	now      time.Time
	seasonID int64
	mode     Mode
	draft    *Session
}

type resolveCtx struct {
	deps Deps
	cfg  *rules.Rules
	now  time.Time
	sess *Session
}

type settlement struct {
	sides []sideOutcome
	meta  map[string]any
}

// sideOutcome is one real participant's settled game result, before rewards.
type sideOutcome struct {
	userID      string
	side        string
	mode        Mode
	outcome     Outcome
	state       SideState
	ratingDelta int
	warExtra    int64
	forfeit     bool
}

// scoreOutcome grades a solo score against the win and near thresholds.
func scoreOutcome(vr rules.VariantRules, score int64) Outcome {
	switch {
	case score >= vr.WinScore:
		return OutcomeWin
	case score >= vr.NearScore:
		return OutcomeNear
	default:
		return OutcomeLoss
	}
}
