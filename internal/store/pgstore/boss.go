package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"lootarena/internal/game"
)

const bossColumns = `id, season_id, wave_index, hp_total, hp_remaining, state, cooldown_until, defeated_at`

func scanBoss(row pgx.Row) (*game.BossCycle, error) {
	var c game.BossCycle
	var state string
	if err := row.Scan(&c.ID, &c.SeasonID, &c.WaveIndex, &c.HPTotal, &c.HPRemaining, &state, &c.CooldownUntil, &c.DefeatedAt); err != nil {
		return nil, mapErr(err)
	}
	c.State = game.BossState(state)
	return &c, nil
}

func (t *tx) LatestBossCycle(ctx context.Context, seasonID int64) (*game.BossCycle, error) {
	return scanBoss(t.tx.QueryRow(ctx, `
		SELECT `+bossColumns+`
		FROM game.boss_cycles
		WHERE season_id = $1
		ORDER BY wave_index DESC
		LIMIT 1
	`, seasonID))
}

func (t *tx) BossCycleByID(ctx context.Context, id int64) (*game.BossCycle, error) {
	return scanBoss(t.tx.QueryRow(ctx, `SELECT `+bossColumns+` FROM game.boss_cycles WHERE id = $1`, id))
}

func (t *tx) CreateBossCycle(ctx context.Context, c *game.BossCycle) (*game.BossCycle, bool, error) {
	stored, err := scanBoss(t.tx.QueryRow(ctx, `
		INSERT INTO game.boss_cycles (season_id, wave_index, hp_total, hp_remaining, state)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (season_id, wave_index) DO NOTHING
		RETURNING `+bossColumns,
		c.SeasonID, c.WaveIndex, c.HPTotal, c.HPRemaining, string(c.State)))
	if errors.Is(err, game.ErrNotFound) {
		stored, err = scanBoss(t.tx.QueryRow(ctx, `
			SELECT `+bossColumns+`
			FROM game.boss_cycles
			WHERE season_id = $1 AND wave_index = $2
		`, c.SeasonID, c.WaveIndex))
		return stored, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return stored, true, nil
}

// DamageBoss decrements in a single statement. The CTE takes the row lock and
// exposes the pre-update HP and state, so applied damage and the one-time
// cooldown flip are computed against the value this statement replaced.
func (t *tx) DamageBoss(ctx context.Context, cycleID, damage int64, cooldownUntil, now time.Time) (game.BossHit, error) {
	if damage < 0 {
		damage = 0
	}
	var prevHP int64
	var prevState string
	var c game.BossCycle
	var state string
	err := t.tx.QueryRow(ctx, `
		WITH prev AS (
			SELECT id, hp_remaining, state
			FROM game.boss_cycles
			WHERE id = $1
			FOR UPDATE
		)
		UPDATE game.boss_cycles b
		SET hp_remaining = GREATEST(b.hp_remaining - $2, 0),
			state = CASE WHEN b.state = 'active' AND b.hp_remaining - $2 <= 0 THEN 'cooldown' ELSE b.state END,
			cooldown_until = CASE WHEN b.state = 'active' AND b.hp_remaining - $2 <= 0 THEN $3 ELSE b.cooldown_until END,
			defeated_at = CASE WHEN b.state = 'active' AND b.hp_remaining - $2 <= 0 THEN $4 ELSE b.defeated_at END
		FROM prev
		WHERE b.id = prev.id
		RETURNING prev.hp_remaining, prev.state,
			b.id, b.season_id, b.wave_index, b.hp_total, b.hp_remaining, b.state, b.cooldown_until, b.defeated_at
	`, cycleID, damage, cooldownUntil, now).Scan(
		&prevHP, &prevState,
		&c.ID, &c.SeasonID, &c.WaveIndex, &c.HPTotal, &c.HPRemaining, &state, &c.CooldownUntil, &c.DefeatedAt,
	)
	if err != nil {
		return game.BossHit{}, mapErr(err)
	}
	c.State = game.BossState(state)
	return game.BossHit{
		Damage:    damage,
		Applied:   prevHP - c.HPRemaining,
		Remaining: c.HPRemaining,
		Defeated:  prevState == string(game.BossActive) && c.State == game.BossCooldown,
		Cycle:     c,
	}, nil
}

// RecordBossHit claims the session's hit row first; only the claiming
// transaction touches the boss cycle.
func (t *tx) RecordBossHit(ctx context.Context, sessionID, cycleID, damage int64, cooldownUntil, now time.Time) (game.BossHit, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO game.raid_boss_hits (session_id, cycle_id, damage, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO NOTHING
	`, sessionID, cycleID, damage, now)
	if err != nil {
		return game.BossHit{}, mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return t.storedHit(ctx, sessionID)
	}
	hit, err := t.DamageBoss(ctx, cycleID, damage, cooldownUntil, now)
	if err != nil {
		return game.BossHit{}, err
	}
	_, err = t.tx.Exec(ctx, `
		UPDATE game.raid_boss_hits
		SET applied = $2, remaining = $3, defeated = $4
		WHERE session_id = $1
	`, sessionID, hit.Applied, hit.Remaining, hit.Defeated)
	if err != nil {
		return game.BossHit{}, mapErr(err)
	}
	return hit, nil
}

func (t *tx) storedHit(ctx context.Context, sessionID int64) (game.BossHit, error) {
	var h game.BossHit
	var cycleID int64
	err := t.tx.QueryRow(ctx, `
		SELECT cycle_id, damage, applied, remaining, defeated
		FROM game.raid_boss_hits
		WHERE session_id = $1
	`, sessionID).Scan(&cycleID, &h.Damage, &h.Applied, &h.Remaining, &h.Defeated)
	if err != nil {
		return game.BossHit{}, mapErr(err)
	}
	c, err := t.BossCycleByID(ctx, cycleID)
	if err != nil {
		return game.BossHit{}, err
	}
	h.Cycle = *c
	return h, nil
}
