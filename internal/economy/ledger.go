package economy

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"lootarena/internal/game"
)

const (
	ReasonAlreadyApplied    = "already_applied"
	ReasonInsufficientFunds = "insufficient_funds"
)

// Debit takes amount of currency from the wallet once per idemKey.
func (s *Service) Debit(ctx context.Context, userID string, currency game.Currency, amount int64, reason, idemKey string) (game.DebitResult, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return game.DebitResult{}, err
	}
	defer tx.Rollback(ctx)

	if err := claimIdempotency(ctx, tx, userID, idemKey, "debit"); err != nil {
		if errors.Is(err, ErrDuplicateIdempotency) {
			return game.DebitResult{Applied: true, Reason: ReasonAlreadyApplied}, nil
		}
		return game.DebitResult{}, err
	}

	var balance int64
	err = tx.QueryRow(ctx, `
		SELECT balance
		FROM game.wallets
		WHERE user_id = $1 AND currency = $2
		FOR UPDATE
	`, userID, string(currency)).Scan(&balance)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return game.DebitResult{}, err
	}
	if balance < amount {
		return game.DebitResult{Applied: false, Reason: ReasonInsufficientFunds}, nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE game.wallets
		SET balance = balance - $3, updated_at = now()
		WHERE user_id = $1 AND currency = $2
	`, userID, string(currency), amount); err != nil {
		return game.DebitResult{}, err
	}
	if err := appendLedgerEntries(ctx, tx, userID, currency, reason, -amount); err != nil {
		return game.DebitResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return game.DebitResult{}, err
	}
	return game.DebitResult{Applied: true}, nil
}

// CreditReward pays each non-zero currency of reward once per its key.
func (s *Service) CreditReward(ctx context.Context, userID string, reward game.Reward, reason string, idemKeys map[game.Currency]string) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, c := range []game.Currency{game.CurrencySC, game.CurrencyHC, game.CurrencyRC} {
		amount := reward.Amount(c)
		if amount <= 0 {
			continue
		}
		err := claimIdempotency(ctx, tx, userID, idemKeys[c], "credit")
		if errors.Is(err, ErrDuplicateIdempotency) {
			continue
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO game.wallets (user_id, currency, balance)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, currency) DO UPDATE
			SET balance = game.wallets.balance + EXCLUDED.balance, updated_at = now()
		`, userID, string(c), amount); err != nil {
			return err
		}
		if err := appendLedgerEntries(ctx, tx, userID, c, reason, amount); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// appendLedgerEntries writes the wallet leg and its opposite "treasury" leg
// under one group id, so every group sums to zero.
func appendLedgerEntries(ctx context.Context, tx pgx.Tx, userID string, currency game.Currency, reason string, delta int64) error {
	groupID := uuid.NewString()
	meta, _ := json.Marshal(map[string]any{"reason": reason})
	_, err := tx.Exec(ctx, `
		INSERT INTO game.ledger_entries (tx_group_id, user_id, currency, account, delta, metadata)
		VALUES
		($1, $2, $3, 'wallet', $4, $6::jsonb),
		($1, $2, $3, 'treasury', $5, $6::jsonb)
	`, groupID, userID, string(currency), delta, -delta, string(meta))
	return err
}
