// Package pgstore implements game.Store on Postgres. Each variant keeps its
// own session, action and result tables, so one variant can be provisioned
// without the others.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"lootarena/internal/game"
)

const maxAttempts = 5

type Store struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func New(db *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, log: logger}
}

// InTx runs fn in a read-committed transaction and retries it when Postgres
// reports a serialization failure or deadlock.
func (s *Store) InTx(ctx context.Context, fn func(tx game.Tx) error) error {
	retryDelay := 50 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := s.once(ctx, fn)
		if err == nil || !isRetryable(err) {
			return mapErr(err)
		}
		s.log.Warn("retrying session transaction", "attempt", attempt+1, "err", err)
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		retryDelay *= 2
	}
	return fmt.Errorf("session transaction: gave up after %d attempts", maxAttempts)
}

func (s *Store) once(ctx context.Context, fn func(tx game.Tx) error) error {
	pgtx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer pgtx.Rollback(ctx)

	if err := fn(&tx{tx: pgtx}); err != nil {
		return err
	}
	return pgtx.Commit(ctx)
}

type tx struct {
	tx pgx.Tx
}

func (t *tx) LockUser(ctx context.Context, v game.Variant, userID string) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, string(v)+":"+userID)
	return mapErr(err)
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// mapErr turns driver conditions the engine cares about into game sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return game.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
		return fmt.Errorf("%w: %s", game.ErrTablesMissing, pgErr.Message)
	}
	return err
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ game.Store = (*Store)(nil)
