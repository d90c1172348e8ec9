package game

import (
	"context"
	"time"
)

// Store runs one request's mutations atomically. Implementations roll the
// whole unit back when fn returns an error.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of session-store operations available inside one transaction.
// Lookups that match nothing return ErrNotFound; a store whose schema is not
// provisioned returns ErrTablesMissing. The Create/Insert methods are
// insert-if-absent: on a unique-key conflict they return the stored row and
// inserted=false.
type Tx interface {
	// LockUser serialises session creation for one user and variant.
	LockUser(ctx context.Context, v Variant, userID string) error
	// ExpireStale marks the user's past-TTL active sessions expired.
	ExpireStale(ctx context.Context, v Variant, userID string, now time.Time) (int64, error)
	// ExpireAll marks every past-TTL active session of v expired.
	ExpireAll(ctx context.Context, v Variant, now time.Time) (int64, error)

	FindActive(ctx context.Context, v Variant, userID string) (*Session, error)
	SessionByRef(ctx context.Context, v Variant, ref string, lock bool) (*Session, error)
	LatestResolved(ctx context.Context, v Variant, userID string, since time.Time) (*Session, error)
	CreateSession(ctx context.Context, s *Session) (*Session, bool, error)
	UpdateSession(ctx context.Context, s *Session) error

	ActionBySeq(ctx context.Context, v Variant, sessionID int64, actorUserID string, seq int) (*Action, error)
	InsertAction(ctx context.Context, v Variant, a *Action) (*Action, bool, error)

	ResultBySession(ctx context.Context, v Variant, sessionID int64) (*Result, error)
	InsertResult(ctx context.Context, v Variant, r *Result) (*Result, bool, error)

	LatestBossCycle(ctx context.Context, seasonID int64) (*BossCycle, error)
	BossCycleByID(ctx context.Context, id int64) (*BossCycle, error)
	CreateBossCycle(ctx context.Context, c *BossCycle) (*BossCycle, bool, error)
	// DamageBoss atomically subtracts damage from the cycle's remaining HP,
	// never below zero, and flips it to cooldown the first time HP hits zero.
	DamageBoss(ctx context.Context, cycleID, damage int64, cooldownUntil, now time.Time) (BossHit, error)
	// RecordBossHit applies a raid session's damage through DamageBoss at
	// most once. A repeat for the same session returns the stored hit and
	// leaves the cycle row untouched.
	RecordBossHit(ctx context.Context, sessionID, cycleID, damage int64, cooldownUntil, now time.Time) (BossHit, error)

	// ClaimWaiting locks up to limit live waiting entries, oldest first,
	// skipping rows another transaction holds and entries owned by excludeUserID.
	ClaimWaiting(ctx context.Context, excludeUserID string, now time.Time, limit int) ([]QueueEntry, error)
	Enqueue(ctx context.Context, e *QueueEntry) (*QueueEntry, error)
	// QueueEntryByRequest finds the entry userID filed when joining another
	// player's session under its own start ref.
	QueueEntryByRequest(ctx context.Context, userID, requestRef string) (*QueueEntry, error)
	SetQueueStatus(ctx context.Context, id int64, status QueueStatus, matchedWith *string) error
	ExpireQueue(ctx context.Context, now time.Time) (int64, error)
}

// BossHit is the outcome of one atomic boss decrement.
type BossHit struct {
	Damage    int64
	Applied   int64
	Remaining int64
	Defeated  bool
	Cycle     BossCycle
}
