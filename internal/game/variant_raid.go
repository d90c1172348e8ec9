package game

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"lootarena/internal/rules"
)

type raidVariant struct{}

func (raidVariant) rules(cfg *rules.Rules) rules.VariantRules {
	return cfg.Raid.VariantRules
}

func (raidVariant) prepare(ctx context.Context, tx Tx, sc *startCtx) (*Session, error) {
	cycle, err := ensureBossCycle(ctx, tx, sc.seasonID, sc.cfg.Raid, sc.now)
	if err != nil {
		return nil, err
	}
	id := cycle.ID
	sc.draft.BossCycleID = &id
	return nil, nil
}

func (raidVariant) created(context.Context, Tx, *startCtx, *Session) error {
	return nil
}

func (raidVariant) applyShared(ctx context.Context, tx Tx, rc *resolveCtx) error {
	_, err := bossHit(ctx, tx, rc)
	return err
}

// bossHit converts the run into boss damage and applies it once per session.
func bossHit(ctx context.Context, tx Tx, rc *resolveCtx) (BossHit, error) {
	sess := rc.sess
	rr := rc.cfg.Raid
	if sess.BossCycleID == nil {
		return BossHit{}, fmt.Errorf("raid session %s has no boss cycle", sess.Ref)
	}
	damage := BossDamage(rr, sess.SideState)
	return tx.RecordBossHit(ctx, sess.ID, *sess.BossCycleID, damage, rc.now.Add(rr.Cooldown), rc.now)
}

// settle reads the session's boss hit, recorded ahead of settlement, and
// grades the outcome on damage dealt, so a player hitting an already-defeated
// boss is not penalised.
func (raidVariant) settle(ctx context.Context, tx Tx, rc *resolveCtx) (settlement, error) {
	sess := rc.sess
	rr := rc.cfg.Raid
	hit, err := bossHit(ctx, tx, rc)
	if err != nil {
		return settlement{}, err
	}
	damage := hit.Damage

	outcome := OutcomeLoss
	switch {
	case hit.Defeated || damage >= rr.WinDamage:
		outcome = OutcomeWin
	case damage >= rr.NearDamage:
		outcome = OutcomeNear
	}
	share := int64(math.Round(float64(hit.Applied) * rr.WarDamageShare))

	return settlement{
		sides: []sideOutcome{{
			userID:      sess.UserID,
			side:        SideLeft,
			mode:        sess.ModeSuggested,
			outcome:     outcome,
			state:       sess.SideState,
			ratingDelta: RatingDelta(rc.cfg.Rating, outcome, sess.Score),
			warExtra:    share,
		}},
		meta: map[string]any{
			"score":             sess.Score,
			"damage_done":       damage,
			"damage_applied":    hit.Applied,
			"boss_cycle_id":     hit.Cycle.ID,
			"wave_index":        hit.Cycle.WaveIndex,
			"boss_hp_remaining": hit.Remaining,
			"boss_defeated":     hit.Defeated,
		},
	}, nil
}

// BossDamage is the damage a raid run deals: score plus a combo bonus.
func BossDamage(rr rules.RaidRules, st SideState) int64 {
	d := st.Score*rr.DamagePerPoint + int64(st.ComboMax)*rr.ComboDamage
	if d < 0 {
		return 0
	}
	return d
}

// WaveHP is the boss pool for wave (1-based).
func WaveHP(rr rules.RaidRules, wave int) int64 {
	if wave < 1 {
		wave = 1
	}
	growth := rr.WaveHPGrowth
	if growth <= 0 {
		growth = 1
	}
	return int64(math.Round(float64(rr.BossHP) * math.Pow(growth, float64(wave-1))))
}

// ensureBossCycle returns the season's current boss cycle, opening the first
// wave or the next one once a cooldown has elapsed.
func ensureBossCycle(ctx context.Context, tx Tx, seasonID int64, rr rules.RaidRules, now time.Time) (*BossCycle, error) {
	latest, err := tx.LatestBossCycle(ctx, seasonID)
	if errors.Is(err, ErrNotFound) {
		c, _, err := tx.CreateBossCycle(ctx, &BossCycle{
			SeasonID:    seasonID,
			WaveIndex:   1,
			HPTotal:     WaveHP(rr, 1),
			HPRemaining: WaveHP(rr, 1),
			State:       BossActive,
		})
		return c, err
	}
	if err != nil {
		return nil, err
	}
	if latest.State != BossCooldown || latest.CooldownUntil == nil || now.Before(*latest.CooldownUntil) {
		return latest, nil
	}
	wave := latest.WaveIndex + 1
	c, _, err := tx.CreateBossCycle(ctx, &BossCycle{
		SeasonID:    seasonID,
		WaveIndex:   wave,
		HPTotal:     WaveHP(rr, wave),
		HPRemaining: WaveHP(rr, wave),
		State:       BossActive,
	})
	return c, err
}
