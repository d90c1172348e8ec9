package economy

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"

	"lootarena/internal/game"
)

func (s *Service) Rating(ctx context.Context, userID string) (game.RatingState, error) {
	st := game.RatingState{UserID: userID, Rating: s.initialRating}
	err := s.db.QueryRow(ctx, `
		SELECT rating, games, wins, losses FROM game.ratings WHERE user_id = $1
	`, userID).Scan(&st.Rating, &st.Games, &st.Wins, &st.Losses)
	if errors.Is(err, pgx.ErrNoRows) {
		return st, nil
	}
	return st, err
}

// ApplyOutcome moves the rating by delta, floored at zero, and counts the game.
// A replayed key leaves the row untouched and returns its current state.
func (s *Service) ApplyOutcome(ctx context.Context, userID string, delta int, outcome game.Outcome, idemKey string) (game.RatingState, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return game.RatingState{}, err
	}
	defer tx.Rollback(ctx)

	if err := claimIdempotency(ctx, tx, userID, idemKey, "rating"); err != nil {
		if errors.Is(err, ErrDuplicateIdempotency) {
			return s.Rating(ctx, userID)
		}
		return game.RatingState{}, err
	}

	win, loss := 0, 0
	switch outcome {
	case game.OutcomeWin:
		win = 1
	case game.OutcomeLoss:
		loss = 1
	}
	st := game.RatingState{UserID: userID}
	err = tx.QueryRow(ctx, `
		INSERT INTO game.ratings (user_id, rating, games, wins, losses)
		VALUES ($1, GREATEST($2 + $3, 0), 1, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET rating = GREATEST(game.ratings.rating + $3, 0),
			games = game.ratings.games + 1,
			wins = game.ratings.wins + $4,
			losses = game.ratings.losses + $5,
			updated_at = now()
		RETURNING rating, games, wins, losses
	`, userID, s.initialRating, delta, win, loss).Scan(&st.Rating, &st.Games, &st.Wins, &st.Losses)
	if err != nil {
		return game.RatingState{}, err
	}
	return st, tx.Commit(ctx)
}

func (s *Service) AddSeasonPoints(ctx context.Context, userID string, seasonID, points int64, idemKey string) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := claimIdempotency(ctx, tx, userID, idemKey, "season_points"); err != nil {
		if errors.Is(err, ErrDuplicateIdempotency) {
			return nil
		}
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO game.season_points (user_id, season_id, points)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, season_id) DO UPDATE
		SET points = game.season_points.points + EXCLUDED.points
	`, userID, seasonID, points); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// IncrementWarPool adds delta to the season's shared pool. Keys are claimed
// under a per-season owner since the pool belongs to no single player.
func (s *Service) IncrementWarPool(ctx context.Context, seasonID, delta int64, idemKey string) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	owner := "season:" + strconv.FormatInt(seasonID, 10)
	if err := claimIdempotency(ctx, tx, owner, idemKey, "war_pool"); err != nil {
		if errors.Is(err, ErrDuplicateIdempotency) {
			return nil
		}
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO game.war_pools (season_id, total)
		VALUES ($1, $2)
		ON CONFLICT (season_id) DO UPDATE
		SET total = game.war_pools.total + EXCLUDED.total, updated_at = now()
	`, seasonID, delta); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
