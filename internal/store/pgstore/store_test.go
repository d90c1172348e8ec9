package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"lootarena/internal/game"
)

func TestMapErr(t *testing.T) {
	if mapErr(nil) != nil {
		t.Fatal("nil error mapped to non-nil")
	}
	if err := mapErr(fmt.Errorf("select: %w", pgx.ErrNoRows)); !errors.Is(err, game.ErrNotFound) {
		t.Fatalf("no rows got %v", err)
	}
	err := mapErr(&pgconn.PgError{Code: "42P01", Message: `relation "game.pvp_sessions" does not exist`})
	if !errors.Is(err, game.ErrTablesMissing) || !strings.Contains(err.Error(), "pvp_sessions") {
		t.Fatalf("undefined table got %v", err)
	}
	other := &pgconn.PgError{Code: "23505"}
	if err := mapErr(other); err != other {
		t.Fatalf("unique violation got %v", err)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&pgconn.PgError{Code: "40001"}, true},
		{fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40P01"}), true},
		{&pgconn.PgError{Code: "23505"}, false},
		{errors.New("conn reset"), false},
	}
	for _, tt := range tests {
		if got := isRetryable(tt.err); got != tt.want {
			t.Errorf("isRetryable(%v) = %v want %v", tt.err, got, tt.want)
		}
	}
}

func TestSessionSQLFragments(t *testing.T) {
	if got := sessionsTable(game.VariantRaid); got != "game.raid_sessions" {
		t.Fatalf("sessions table %q", got)
	}
	if got := actionsTable(game.VariantPvP); got != "game.pvp_session_actions" {
		t.Fatalf("actions table %q", got)
	}
	if got := resultsTable(game.VariantArena); got != "game.arena_session_results" {
		t.Fatalf("results table %q", got)
	}
	if !strings.HasSuffix(sessionColumns(game.VariantRaid), "boss_cycle_id") {
		t.Fatal("raid columns missing boss_cycle_id")
	}
	if strings.Contains(sessionColumns(game.VariantArena), "boss_cycle_id") {
		t.Fatal("arena columns carry raid fields")
	}
	if got := participant(game.VariantPvP, 2); got != "(user_id = $2 OR user_right_id = $2)" {
		t.Fatalf("pvp participant %q", got)
	}
	if got := participant(game.VariantArena, 1); got != "user_id = $1" {
		t.Fatalf("arena participant %q", got)
	}
}

func TestSleepWithContextCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepWithContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v want context.Canceled", err)
	}
	if err := sleepWithContext(context.Background(), time.Millisecond); err != nil {
		t.Fatal(err)
	}
}
