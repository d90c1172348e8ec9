package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"lootarena/internal/game"
)

const baseColumns = `id, session_ref, user_id, season_id, status, mode_suggested, mode_final,
	score, combo, combo_max, hits, misses, action_count, ticket_cost,
	expires_at, created_at, updated_at, resolved_at`

const pvpColumns = `user_right_id, opponent_type, right_mode, right_score, right_combo,
	right_combo_max, right_hits, right_misses, right_action_count,
	transport, tick_ms, action_window_ms`

const actionColumns = `session_id, actor_user_id, action_seq, input_action, expected_action,
	accepted, reject_reason, score_delta, score_after, combo_after, next_expected,
	latency_ms, client_ts, created_at`

// Table names are derived from the closed Variant set, never from input.
func sessionsTable(v game.Variant) string { return "game." + string(v) + "_sessions" }
func actionsTable(v game.Variant) string  { return "game." + string(v) + "_session_actions" }
func resultsTable(v game.Variant) string  { return "game." + string(v) + "_session_results" }

func sessionColumns(v game.Variant) string {
	switch v {
	case game.VariantRaid:
		return baseColumns + ", boss_cycle_id"
	case game.VariantPvP:
		return baseColumns + ", " + pvpColumns
	}
	return baseColumns
}

// participant is the WHERE fragment matching either side of a session.
func participant(v game.Variant, arg int) string {
	if v == game.VariantPvP {
		return fmt.Sprintf("(user_id = $%d OR user_right_id = $%d)", arg, arg)
	}
	return fmt.Sprintf("user_id = $%d", arg)
}

func scanSession(row pgx.Row, v game.Variant) (*game.Session, error) {
	s := &game.Session{Variant: v}
	var status, modeSuggested, modeFinal string
	dest := []any{
		&s.ID, &s.Ref, &s.UserID, &s.SeasonID, &status, &modeSuggested, &modeFinal,
		&s.Score, &s.Combo, &s.ComboMax, &s.Hits, &s.Misses, &s.ActionCount, &s.TicketCost,
		&s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt, &s.ResolvedAt,
	}
	var pvp game.PvPState
	var rightMode string
	switch v {
	case game.VariantRaid:
		dest = append(dest, &s.BossCycleID)
	case game.VariantPvP:
		dest = append(dest,
			&pvp.UserRightID, &pvp.OpponentType, &rightMode, &pvp.Right.Score, &pvp.Right.Combo,
			&pvp.Right.ComboMax, &pvp.Right.Hits, &pvp.Right.Misses, &pvp.Right.ActionCount,
			&pvp.Transport, &pvp.TickMS, &pvp.ActionWindowMS,
		)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, mapErr(err)
	}
	s.Status = game.Status(status)
	s.ModeSuggested = game.Mode(modeSuggested)
	s.ModeFinal = game.Mode(modeFinal)
	if v == game.VariantPvP {
		pvp.RightMode = game.Mode(rightMode)
		s.PvP = &pvp
	}
	return s, nil
}

func (t *tx) ExpireStale(ctx context.Context, v game.Variant, userID string, now time.Time) (int64, error) {
	cmd, err := t.tx.Exec(ctx, `
		UPDATE `+sessionsTable(v)+`
		SET status = 'expired', updated_at = $1
		WHERE status = 'active' AND expires_at <= $1 AND `+participant(v, 2), now, userID)
	if err != nil {
		return 0, mapErr(err)
	}
	return cmd.RowsAffected(), nil
}

func (t *tx) ExpireAll(ctx context.Context, v game.Variant, now time.Time) (int64, error) {
	cmd, err := t.tx.Exec(ctx, `
		UPDATE `+sessionsTable(v)+`
		SET status = 'expired', updated_at = $1
		WHERE status = 'active' AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, mapErr(err)
	}
	return cmd.RowsAffected(), nil
}

func (t *tx) FindActive(ctx context.Context, v game.Variant, userID string) (*game.Session, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+sessionColumns(v)+`
		FROM `+sessionsTable(v)+`
		WHERE status = 'active' AND `+participant(v, 1)+`
		ORDER BY id DESC
		LIMIT 1
	`, userID)
	return scanSession(row, v)
}

func (t *tx) SessionByRef(ctx context.Context, v game.Variant, ref string, lock bool) (*game.Session, error) {
	q := `SELECT ` + sessionColumns(v) + ` FROM ` + sessionsTable(v) + ` WHERE session_ref = $1`
	if lock {
		q += ` FOR UPDATE`
	}
	return scanSession(t.tx.QueryRow(ctx, q, ref), v)
}

func (t *tx) LatestResolved(ctx context.Context, v game.Variant, userID string, since time.Time) (*game.Session, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+sessionColumns(v)+`
		FROM `+sessionsTable(v)+`
		WHERE status = 'resolved' AND resolved_at >= $2 AND `+participant(v, 1)+`
		ORDER BY resolved_at DESC
		LIMIT 1
	`, userID, since)
	return scanSession(row, v)
}

func (t *tx) CreateSession(ctx context.Context, s *game.Session) (*game.Session, bool, error) {
	cols := []string{"session_ref", "user_id", "season_id", "status", "mode_suggested", "ticket_cost", "expires_at", "created_at", "updated_at"}
	args := []any{s.Ref, s.UserID, s.SeasonID, string(s.Status), string(s.ModeSuggested), s.TicketCost, s.ExpiresAt, s.CreatedAt, s.UpdatedAt}
	switch s.Variant {
	case game.VariantRaid:
		cols = append(cols, "boss_cycle_id")
		args = append(args, s.BossCycleID)
	case game.VariantPvP:
		if s.PvP == nil {
			return nil, false, fmt.Errorf("pvp session %s has no pvp state", s.Ref)
		}
		cols = append(cols, "user_right_id", "opponent_type", "right_mode", "transport", "tick_ms", "action_window_ms")
		args = append(args, s.PvP.UserRightID, s.PvP.OpponentType, string(s.PvP.RightMode), s.PvP.Transport, s.PvP.TickMS, s.PvP.ActionWindowMS)
	}
	marks := make([]string, len(args))
	for i := range marks {
		marks[i] = fmt.Sprintf("$%d", i+1)
	}

	row := t.tx.QueryRow(ctx, `
		INSERT INTO `+sessionsTable(s.Variant)+` (`+strings.Join(cols, ", ")+`)
		VALUES (`+strings.Join(marks, ", ")+`)
		ON CONFLICT (session_ref) DO NOTHING
		RETURNING `+sessionColumns(s.Variant), args...)
	stored, err := scanSession(row, s.Variant)
	if errors.Is(err, game.ErrNotFound) {
		stored, err = t.SessionByRef(ctx, s.Variant, s.Ref, false)
		return stored, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return stored, true, nil
}

func (t *tx) UpdateSession(ctx context.Context, s *game.Session) error {
	sets := []string{
		"status = $2", "mode_final = $3", "score = $4", "combo = $5", "combo_max = $6",
		"hits = $7", "misses = $8", "action_count = $9", "expires_at = $10",
		"updated_at = $11", "resolved_at = $12",
	}
	args := []any{
		s.ID, string(s.Status), string(s.ModeFinal), s.Score, s.Combo, s.ComboMax,
		s.Hits, s.Misses, s.ActionCount, s.ExpiresAt, s.UpdatedAt, s.ResolvedAt,
	}
	if s.Variant == game.VariantPvP && s.PvP != nil {
		sets = append(sets,
			"user_right_id = $13", "opponent_type = $14", "right_mode = $15", "right_score = $16",
			"right_combo = $17", "right_combo_max = $18", "right_hits = $19", "right_misses = $20",
			"right_action_count = $21",
		)
		r := s.PvP.Right
		args = append(args, s.PvP.UserRightID, s.PvP.OpponentType, string(s.PvP.RightMode), r.Score,
			r.Combo, r.ComboMax, r.Hits, r.Misses, r.ActionCount)
	}
	cmd, err := t.tx.Exec(ctx, `UPDATE `+sessionsTable(s.Variant)+` SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
	if err != nil {
		return mapErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return game.ErrNotFound
	}
	return nil
}

func scanAction(row pgx.Row) (*game.Action, error) {
	var a game.Action
	if err := row.Scan(
		&a.SessionID, &a.ActorUserID, &a.ActionSeq, &a.InputAction, &a.ExpectedAction,
		&a.Accepted, &a.RejectReason, &a.ScoreDelta, &a.ScoreAfter, &a.ComboAfter, &a.NextExpected,
		&a.LatencyMS, &a.ClientTS, &a.CreatedAt,
	); err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

func (t *tx) ActionBySeq(ctx context.Context, v game.Variant, sessionID int64, actor string, seq int) (*game.Action, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+actionColumns+`
		FROM `+actionsTable(v)+`
		WHERE session_id = $1 AND actor_user_id = $2 AND action_seq = $3
	`, sessionID, actor, seq)
	return scanAction(row)
}

func (t *tx) InsertAction(ctx context.Context, v game.Variant, a *game.Action) (*game.Action, bool, error) {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO `+actionsTable(v)+` (`+actionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (session_id, actor_user_id, action_seq) DO NOTHING
		RETURNING `+actionColumns,
		a.SessionID, a.ActorUserID, a.ActionSeq, a.InputAction, a.ExpectedAction,
		a.Accepted, a.RejectReason, a.ScoreDelta, a.ScoreAfter, a.ComboAfter, a.NextExpected,
		a.LatencyMS, a.ClientTS, a.CreatedAt)
	stored, err := scanAction(row)
	if errors.Is(err, game.ErrNotFound) {
		stored, err = t.ActionBySeq(ctx, v, a.SessionID, a.ActorUserID, a.ActionSeq)
		return stored, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return stored, true, nil
}

func (t *tx) ResultBySession(ctx context.Context, v game.Variant, sessionID int64) (*game.Result, error) {
	r := game.Result{SessionID: sessionID}
	var outcome string
	var participants, metadata []byte
	err := t.tx.QueryRow(ctx, `
		SELECT outcome, reward_sc, reward_hc, reward_rc, rating_delta, participants, metadata, created_at
		FROM `+resultsTable(v)+`
		WHERE session_id = $1
	`, sessionID).Scan(&outcome, &r.Reward.SC, &r.Reward.HC, &r.Reward.RC, &r.RatingDelta, &participants, &metadata, &r.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	r.Outcome = game.Outcome(outcome)
	if err := json.Unmarshal(participants, &r.Participants); err != nil {
		return nil, fmt.Errorf("decode result participants: %w", err)
	}
	if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
		return nil, fmt.Errorf("decode result metadata: %w", err)
	}
	return &r, nil
}

func (t *tx) InsertResult(ctx context.Context, v game.Variant, r *game.Result) (*game.Result, bool, error) {
	participants, err := json.Marshal(r.Participants)
	if err != nil {
		return nil, false, err
	}
	metadata, err := json.Marshal(r.Metadata)
	if err != nil {
		return nil, false, err
	}
	cmd, err := t.tx.Exec(ctx, `
		INSERT INTO `+resultsTable(v)+` (session_id, outcome, reward_sc, reward_hc, reward_rc, rating_delta, participants, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9)
		ON CONFLICT (session_id) DO NOTHING
	`, r.SessionID, string(r.Outcome), r.Reward.SC, r.Reward.HC, r.Reward.RC, r.RatingDelta, string(participants), string(metadata), r.CreatedAt)
	if err != nil {
		return nil, false, mapErr(err)
	}
	stored, err := t.ResultBySession(ctx, v, r.SessionID)
	return stored, cmd.RowsAffected() > 0, err
}
