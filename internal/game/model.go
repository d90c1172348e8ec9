package game

import (
	"errors"
	"strings"
	"time"
)

type Variant string

const (
	VariantArena Variant = "arena"
	VariantRaid  Variant = "raid"
	VariantPvP   Variant = "pvp"
)

func ParseVariant(s string) (Variant, error) {
	switch v := Variant(strings.ToLower(strings.TrimSpace(s))); v {
	case VariantArena, VariantRaid, VariantPvP:
		return v, nil
	default:
		return "", NewError(CodeInvalidVariant, "variant must be arena, raid or pvp")
	}
}

type Status string

const (
	StatusActive   Status = "active"
	StatusResolved Status = "resolved"
	StatusExpired  Status = "expired"
)

type Mode string

const (
	ModeSafe       Mode = "safe"
	ModeBalanced   Mode = "balanced"
	ModeAggressive Mode = "aggressive"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return "", nil
	case ModeSafe, ModeBalanced, ModeAggressive:
		return m, nil
	default:
		return "", NewError(CodeInvalidInput, "mode must be safe, balanced or aggressive")
	}
}

type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeNear Outcome = "near"
	OutcomeLoss Outcome = "loss"
)

type Currency string

const (
	CurrencySC Currency = "sc"
	CurrencyHC Currency = "hc"
	CurrencyRC Currency = "rc"
)

const (
	OpponentLive   = "live"
	OpponentShadow = "shadow"
)

const (
	SideLeft  = "left"
	SideRight = "right"
	SideDraw  = "draw"
)

var (
	// ErrNotFound is returned by stores when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrTablesMissing is returned by stores when the session schema is not provisioned.
	ErrTablesMissing = errors.New("session tables missing")
)

// Reward is the currency triple every pipeline stage transforms.
type Reward struct {
	SC int64 `json:"sc"`
	HC int64 `json:"hc"`
	RC int64 `json:"rc"`
}

func (r Reward) nonNegative() Reward {
	if r.SC < 0 {
		r.SC = 0
	}
	if r.HC < 0 {
		r.HC = 0
	}
	if r.RC < 0 {
		r.RC = 0
	}
	return r
}

func (r Reward) Amount(c Currency) int64 {
	switch c {
	case CurrencySC:
		return r.SC
	case CurrencyHC:
		return r.HC
	case CurrencyRC:
		return r.RC
	}
	return 0
}

// SideState is the per-player combat state. Arena and raid sessions have one
// side; PvP sessions have a left and a right side.
type SideState struct {
	Score       int64 `json:"score"`
	Combo       int   `json:"combo"`
	ComboMax    int   `json:"combo_max"`
	Hits        int   `json:"hits"`
	Misses      int   `json:"misses"`
	ActionCount int   `json:"action_count"`
}

type Session struct {
	ID            int64
	Ref           string
	Variant       Variant
	UserID        string
	SeasonID      int64
	Status        Status
	ModeSuggested Mode
	ModeFinal     Mode
	SideState
	TicketCost  int64
	ExpiresAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ResolvedAt  *time.Time
	BossCycleID *int64
	PvP         *PvPState
}

type PvPState struct {
	UserRightID    *string
	OpponentType   string
	RightMode      Mode
	Right          SideState
	Transport      string
	TickMS         int
	ActionWindowMS int
}

// IsParticipant reports whether userID plays on either side of the session.
func (s *Session) IsParticipant(userID string) bool {
	if s.UserID == userID {
		return true
	}
	return s.PvP != nil && s.PvP.UserRightID != nil && *s.PvP.UserRightID == userID
}

// Side returns the mutable side state for userID and its side label.
func (s *Session) Side(userID string) (*SideState, string) {
	if s.PvP != nil && s.PvP.UserRightID != nil && *s.PvP.UserRightID == userID && s.UserID != userID {
		return &s.PvP.Right, SideRight
	}
	return &s.SideState, SideLeft
}

func (s *Session) ExpiredAt(now time.Time) bool {
	return s.Status == StatusActive && !now.Before(s.ExpiresAt)
}

type Action struct {
	SessionID      int64     `json:"-"`
	ActorUserID    string    `json:"actor_user_id"`
	ActionSeq      int       `json:"action_seq"`
	InputAction    string    `json:"input_action"`
	ExpectedAction string    `json:"expected_action"`
	Accepted       bool      `json:"accepted"`
	RejectReason   string    `json:"reject_reason,omitempty"`
	ScoreDelta     int64     `json:"score_delta"`
	ScoreAfter     int64     `json:"score_after"`
	ComboAfter     int       `json:"combo_after"`
	NextExpected   string    `json:"next_expected_action,omitempty"`
	LatencyMS      int64     `json:"latency_ms"`
	ClientTS       int64     `json:"client_ts,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ParticipantResult is one settled side of a session.
type ParticipantResult struct {
	UserID          string  `json:"user_id"`
	Side            string  `json:"side"`
	Mode            Mode    `json:"mode"`
	Outcome         Outcome `json:"outcome"`
	Score           int64   `json:"score"`
	Reward          Reward  `json:"reward"`
	Stages          []Stage `json:"stages"`
	ContractMatched bool    `json:"contract_matched"`
	RatingDelta     int     `json:"rating_delta"`
	RatingAfter     int     `json:"rating_after"`
	SeasonPoints    int64   `json:"season_points"`
	WarDelta        int64   `json:"war_delta"`
	// Forfeit marks a live side that never reached the action floor; it is
	// settled as a loss and paid nothing.
	Forfeit bool `json:"forfeit,omitempty"`
}

type Result struct {
	SessionID    int64               `json:"-"`
	Outcome      Outcome             `json:"outcome"`
	Reward       Reward              `json:"reward"`
	RatingDelta  int                 `json:"rating_delta"`
	Participants []ParticipantResult `json:"participants"`
	Metadata     map[string]any      `json:"metadata"`
	CreatedAt    time.Time           `json:"created_at"`
}

// For returns the settled entry for userID, falling back to the primary side.
func (r *Result) For(userID string) ParticipantResult {
	for _, p := range r.Participants {
		if p.UserID == userID {
			return p
		}
	}
	if len(r.Participants) > 0 {
		return r.Participants[0]
	}
	return ParticipantResult{Outcome: r.Outcome, Reward: r.Reward, RatingDelta: r.RatingDelta}
}

type BossState string

const (
	BossActive   BossState = "active"
	BossCooldown BossState = "cooldown"
)

type BossCycle struct {
	ID            int64      `json:"id"`
	SeasonID      int64      `json:"season_id"`
	WaveIndex     int        `json:"wave_index"`
	HPTotal       int64      `json:"hp_total"`
	HPRemaining   int64      `json:"hp_remaining"`
	State         BossState  `json:"state"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	DefeatedAt    *time.Time `json:"defeated_at,omitempty"`
}

type QueueStatus string

const (
	QueueWaiting   QueueStatus = "waiting"
	QueueMatched   QueueStatus = "matched"
	QueueCancelled QueueStatus = "cancelled"
	QueueExpired   QueueStatus = "expired"
)

type QueueEntry struct {
	ID          int64
	UserID      string
	SessionRef  string
	Status      QueueStatus
	MatchedWith *string
	// RequestRef is the joiner's own start ref when it differs from SessionRef.
	RequestRef string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

type RatingState struct {
	UserID string `json:"user_id"`
	Rating int    `json:"rating"`
	Games  int    `json:"games"`
	Wins   int    `json:"wins"`
	Losses int    `json:"losses"`
}

type Profile struct {
	UserID          string  `json:"user_id"`
	KingdomTier     int     `json:"kingdom_tier"`
	CurrentStreak   int     `json:"current_streak"`
	ReputationScore float64 `json:"reputation_score"`
}

type ShopEffect struct {
	EffectKey string         `json:"effect_key"`
	Meta      map[string]any `json:"meta"`
}
