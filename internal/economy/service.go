// Package economy is the Postgres side of the collaborators the session engine
// calls out to: wallets and their ledger, ratings, season and war aggregates,
// shop effects, behaviour events and player profiles.
package economy

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"lootarena/internal/game"
)

// StarterRC is the RC balance a new player's wallet opens with.
const StarterRC = 50

var ErrDuplicateIdempotency = errors.New("duplicate idempotency key")

type Service struct {
	db            *pgxpool.Pool
	log           *slog.Logger
	initialRating int
}

func NewService(db *pgxpool.Pool, logger *slog.Logger, initialRating int) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, log: logger, initialRating: initialRating}
}

func (s *Service) ActiveSeasonID(ctx context.Context) (int64, error) {
	var seasonID int64
	err := s.db.QueryRow(ctx, `
		SELECT id
		FROM game.seasons
		WHERE status = 'active'
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&seasonID)
	if err == nil {
		return seasonID, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}

	err = s.db.QueryRow(ctx, `
		INSERT INTO game.seasons (name, status, starts_at, ends_at)
		VALUES ($1, 'active', now(), now() + interval '90 days')
		RETURNING id
	`, "Season 1").Scan(&seasonID)
	if err != nil {
		return 0, err
	}
	return seasonID, nil
}

// EnsurePlayer creates the profile and opening wallets on first sight of a user.
func (s *Service) EnsurePlayer(ctx context.Context, userID, username string) error {
	username = strings.TrimSpace(username)

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO users.profiles (user_id, username)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, username)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO game.wallets (user_id, currency, balance)
		VALUES ($1, 'sc', 0), ($1, 'hc', 0), ($1, 'rc', $2)
		ON CONFLICT (user_id, currency) DO NOTHING
	`, userID, StarterRC)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Service) GetProfile(ctx context.Context, userID string) (game.Profile, error) {
	p := game.Profile{UserID: userID}
	err := s.db.QueryRow(ctx, `
		SELECT kingdom_tier, current_streak, reputation_score
		FROM users.profiles
		WHERE user_id = $1
	`, userID).Scan(&p.KingdomTier, &p.CurrentStreak, &p.ReputationScore)
	if errors.Is(err, pgx.ErrNoRows) {
		if err := s.EnsurePlayer(ctx, userID, ""); err != nil {
			return p, err
		}
		p.KingdomTier = 1
		return p, nil
	}
	return p, err
}

func claimIdempotency(ctx context.Context, tx pgx.Tx, userID, key, action string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("idempotency key is required")
	}
	cmd, err := tx.Exec(ctx, `
		INSERT INTO game.idempotency_keys (user_id, key, action, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, key) DO NOTHING
	`, userID, key, action)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrDuplicateIdempotency
	}
	return nil
}
