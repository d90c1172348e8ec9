package economy

import (
	"context"
	"encoding/json"
	"math"

	"lootarena/internal/game"
)

// riskRejectCeiling is the number of rejected actions in a day that maps to
// the maximum risk score of 1.
const riskRejectCeiling = 60

func (s *Service) RecordEvent(ctx context.Context, userID, eventType string, meta map[string]any) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO game.behavior_events (user_id, event_type, meta)
		VALUES ($1, $2, $3::jsonb)
	`, userID, eventType, string(raw))
	return err
}

// RiskScore is the share of the daily rejection ceiling the player has used.
func (s *Service) RiskScore(ctx context.Context, userID string) (float64, error) {
	var rejected int64
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(1)
		FROM game.behavior_events
		WHERE user_id = $1 AND event_type = $2 AND created_at > now() - interval '24 hours'
	`, userID, game.EventActionRejected).Scan(&rejected)
	if err != nil {
		return 0, err
	}
	return math.Min(1, float64(rejected)/riskRejectCeiling), nil
}

func (s *Service) ActiveEffects(ctx context.Context, userID string) ([]game.ShopEffect, error) {
	rows, err := s.db.Query(ctx, `
		SELECT effect_key, meta
		FROM game.shop_effects
		WHERE user_id = $1 AND expires_at > now()
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []game.ShopEffect
	for rows.Next() {
		var e game.ShopEffect
		var raw []byte
		if err := rows.Scan(&e.EffectKey, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &e.Meta); err != nil {
			s.log.Warn("skipping shop effect with bad meta", "user_id", userID, "effect", e.EffectKey, "err", err)
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
