package pgstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"lootarena/internal/game"
)

const queueColumns = `id, user_id, session_ref, status, matched_with, COALESCE(request_ref, ''), created_at, expires_at`

func scanEntry(row pgx.Row) (game.QueueEntry, error) {
	var e game.QueueEntry
	var status string
	if err := row.Scan(&e.ID, &e.UserID, &e.SessionRef, &status, &e.MatchedWith, &e.RequestRef, &e.CreatedAt, &e.ExpiresAt); err != nil {
		return e, mapErr(err)
	}
	e.Status = game.QueueStatus(status)
	return e, nil
}

// ClaimWaiting uses SKIP LOCKED so concurrent starts scan past each other's
// candidates instead of queueing on them.
func (t *tx) ClaimWaiting(ctx context.Context, exclude string, now time.Time, limit int) ([]game.QueueEntry, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+queueColumns+`
		FROM game.pvp_queue
		WHERE status = 'waiting' AND user_id <> $1 AND expires_at > $2
		ORDER BY created_at, id
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`, exclude, now, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []game.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, mapErr(rows.Err())
}

func (t *tx) Enqueue(ctx context.Context, e *game.QueueEntry) (*game.QueueEntry, error) {
	stored, err := scanEntry(t.tx.QueryRow(ctx, `
		INSERT INTO game.pvp_queue (user_id, session_ref, status, matched_with, request_ref, created_at, expires_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
		RETURNING `+queueColumns,
		e.UserID, e.SessionRef, string(e.Status), e.MatchedWith, e.RequestRef, e.CreatedAt, e.ExpiresAt))
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

func (t *tx) QueueEntryByRequest(ctx context.Context, userID, requestRef string) (*game.QueueEntry, error) {
	e, err := scanEntry(t.tx.QueryRow(ctx, `
		SELECT `+queueColumns+`
		FROM game.pvp_queue
		WHERE user_id = $1 AND request_ref = $2
	`, userID, requestRef))
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *tx) SetQueueStatus(ctx context.Context, id int64, status game.QueueStatus, matchedWith *string) error {
	cmd, err := t.tx.Exec(ctx, `
		UPDATE game.pvp_queue
		SET status = $2, matched_with = COALESCE($3, matched_with)
		WHERE id = $1
	`, id, string(status), matchedWith)
	if err != nil {
		return mapErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return game.ErrNotFound
	}
	return nil
}

func (t *tx) ExpireQueue(ctx context.Context, now time.Time) (int64, error) {
	cmd, err := t.tx.Exec(ctx, `
		UPDATE game.pvp_queue
		SET status = 'expired'
		WHERE status = 'waiting' AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, mapErr(err)
	}
	return cmd.RowsAffected(), nil
}
