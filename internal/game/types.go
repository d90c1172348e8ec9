package game

import "time"

type StartInput struct {
	RequestID string
	Mode      string
}

type ActionInput struct {
	SessionRef  string
	ActionSeq   int
	InputAction string
	LatencyMS   int64
	ClientTS    int64
}

type StartResult struct {
	OK        bool        `json:"ok"`
	Duplicate bool        `json:"duplicate"`
	Session   SessionView `json:"session"`
}

type ActionResult struct {
	OK        bool        `json:"ok"`
	Duplicate bool        `json:"duplicate"`
	Action    Action      `json:"action"`
	Session   SessionView `json:"session"`
}

type ResolveResult struct {
	OK          bool              `json:"ok"`
	Duplicate   bool              `json:"duplicate"`
	Outcome     Outcome           `json:"outcome"`
	Reward      Reward            `json:"reward"`
	RatingDelta int               `json:"rating_delta"`
	Participant ParticipantResult `json:"participant"`
	Session     SessionView       `json:"session"`
}

type StateResult struct {
	OK      bool         `json:"ok"`
	Session *SessionView `json:"session"`
}

// SessionView is the client-facing snapshot of a session as seen by one
// participant. It is always built from persisted rows.
type SessionView struct {
	Ref                 string      `json:"session_ref"`
	Variant             Variant     `json:"variant"`
	Status              Status      `json:"status"`
	SeasonID            int64       `json:"season_id"`
	ModeSuggested       Mode        `json:"mode_suggested"`
	ModeFinal           Mode        `json:"mode_final,omitempty"`
	Side                string      `json:"side"`
	State               SideState   `json:"state"`
	MaxActions          int         `json:"max_actions"`
	MinActionsToResolve int         `json:"min_actions_to_resolve"`
	NextExpectedAction  string      `json:"next_expected_action,omitempty"`
	TicketCost          int64       `json:"ticket_cost"`
	ExpiresAt           time.Time   `json:"expires_at"`
	CreatedAt           time.Time   `json:"created_at"`
	ResolvedAt          *time.Time  `json:"resolved_at,omitempty"`
	Boss                *BossCycle  `json:"boss,omitempty"`
	PvP                 *PvPView    `json:"pvp,omitempty"`
	Result              *ResultView `json:"result,omitempty"`
}

type PvPView struct {
	OpponentType   string    `json:"opponent_type"`
	UserLeftID     string    `json:"user_left_id"`
	UserRightID    *string   `json:"user_right_id"`
	Opponent       SideState `json:"opponent"`
	Transport      string    `json:"transport"`
	TickMS         int       `json:"tick_ms"`
	ActionWindowMS int       `json:"action_window_ms"`
}

type ResultView struct {
	Outcome     Outcome           `json:"outcome"`
	Reward      Reward            `json:"reward"`
	RatingDelta int               `json:"rating_delta"`
	Participant ParticipantResult `json:"participant"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// SweepReport summarises one hygiene pass.
type SweepReport struct {
	ExpiredSessions map[Variant]int64 `json:"expired_sessions"`
	ExpiredQueue    int64             `json:"expired_queue"`
	BossWave        int               `json:"boss_wave"`
}
