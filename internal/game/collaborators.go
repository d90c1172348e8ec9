package game

import "context"

type ProfileLookup interface {
	GetProfile(ctx context.Context, userID string) (Profile, error)
}

// DebitResult reports whether a debit took effect. A replayed idempotency key
// reports Applied with Reason "already_applied".
type DebitResult struct {
	Applied bool
	Reason  string
}

type Ledger interface {
	Debit(ctx context.Context, userID string, currency Currency, amount int64, reason, idemKey string) (DebitResult, error)
	CreditReward(ctx context.Context, userID string, reward Reward, reason string, idemKeys map[Currency]string) error
}

type RiskRecorder interface {
	RecordEvent(ctx context.Context, userID, eventType string, meta map[string]any) error
	RiskScore(ctx context.Context, userID string) (float64, error)
}

type ShopEffects interface {
	ActiveEffects(ctx context.Context, userID string) ([]ShopEffect, error)
}

type SeasonAggregates interface {
	ActiveSeasonID(ctx context.Context) (int64, error)
	AddSeasonPoints(ctx context.Context, userID string, seasonID, points int64, idemKey string) error
	IncrementWarPool(ctx context.Context, seasonID, delta int64, idemKey string) error
}

type RatingStore interface {
	Rating(ctx context.Context, userID string) (RatingState, error)
	ApplyOutcome(ctx context.Context, userID string, delta int, outcome Outcome, idemKey string) (RatingState, error)
}

// Deps bundles the collaborators the controller calls out to.
type Deps struct {
	Store    Store
	Ledger   Ledger
	Risk     RiskRecorder
	Shop     ShopEffects
	Seasons  SeasonAggregates
	Ratings  RatingStore
	Profiles ProfileLookup
}

const (
	EventSessionStarted  = "session_started"
	EventSessionResolved = "session_resolved"
	EventActionRejected  = "action_rejected"
)
