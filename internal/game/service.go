package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"lootarena/internal/rules"
)

const maxRefLen = 128

// Publisher receives a participant's view of a PvP session after every change.
type Publisher interface {
	Publish(ref, userID, kind string, view SessionView)
}

type Service struct {
	deps      Deps
	log       *slog.Logger
	now       func() time.Time
	variants  map[Variant]variantStrategy
	publisher Publisher
}

func NewService(deps Deps, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		deps: deps,
		log:  logger,
		now:  time.Now,
		variants: map[Variant]variantStrategy{
			VariantArena: arenaVariant{},
			VariantRaid:  raidVariant{},
			VariantPvP:   pvpVariant{},
		},
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) SetPublisher(p Publisher) {
	s.publisher = p
}

type event struct {
	userID string
	kind   string
	meta   map[string]any
}

func (s *Service) strategy(v Variant) (variantStrategy, error) {
	st, ok := s.variants[v]
	if !ok {
		return nil, NewError(CodeInvalidVariant, "variant must be arena, raid or pvp")
	}
	return st, nil
}

// Start opens a session for the player, or returns the one already open.
func (s *Service) Start(ctx context.Context, v Variant, p Profile, cfg *rules.Rules, in StartInput) (StartResult, error) {
	var out StartResult
	strat, err := s.strategy(v)
	if err != nil {
		return out, err
	}
	ref, err := normalizeRef(in.RequestID)
	if err != nil {
		return out, err
	}
	mode, err := ParseMode(in.Mode)
	if err != nil {
		return out, err
	}
	vr := strat.rules(cfg)
	seasonID, err := s.deps.Seasons.ActiveSeasonID(ctx)
	if err != nil {
		return out, err
	}
	if mode == "" {
		mode = s.suggestMode(ctx, p, cfg.Risk)
	}

	now := s.now()
	var events []event
	var joined bool
	err = s.deps.Store.InTx(ctx, func(tx Tx) error {
		events = events[:0]
		if err := tx.LockUser(ctx, v, p.UserID); err != nil {
			return err
		}
		if _, err := tx.ExpireStale(ctx, v, p.UserID, now); err != nil {
			return err
		}

		existing, err := tx.FindActive(ctx, v, p.UserID)
		switch {
		case err == nil:
			view, err := s.view(ctx, tx, existing, p.UserID, vr, now)
			if err != nil {
				return err
			}
			out = StartResult{OK: true, Duplicate: true, Session: view}
			return nil
		case !errors.Is(err, ErrNotFound):
			return err
		}

		existing, err = tx.SessionByRef(ctx, v, ref, false)
		switch {
		case err == nil:
			if !existing.IsParticipant(p.UserID) {
				return NewError(CodeInvalidInput, "session_ref is already in use")
			}
			view, err := s.view(ctx, tx, existing, p.UserID, vr, now)
			if err != nil {
				return err
			}
			out = StartResult{OK: true, Duplicate: true, Session: view}
			return nil
		case !errors.Is(err, ErrNotFound):
			return err
		}

		if v == VariantPvP {
			joined, err := joinedByRequest(ctx, tx, p.UserID, ref)
			switch {
			case err == nil:
				view, err := s.view(ctx, tx, joined, p.UserID, vr, now)
				if err != nil {
					return err
				}
				out = StartResult{OK: true, Duplicate: true, Session: view}
				return nil
			case !errors.Is(err, ErrNotFound):
				return err
			}
		}

		if vr.TicketCostRC > 0 {
			res, err := s.deps.Ledger.Debit(ctx, p.UserID, CurrencyRC, vr.TicketCostRC, "ticket:"+string(v), ticketKey(v, p.UserID, ref))
			if err != nil {
				return err
			}
			if !res.Applied {
				return WithMetadata(CodeInsufficientRC, "not enough RC for the session ticket", map[string]any{
					"required": vr.TicketCostRC,
					"reason":   res.Reason,
				})
			}
		}

		sc := &startCtx{
			profile:  p,
			cfg:      cfg,
			now:      now,
			seasonID: seasonID,
			mode:     mode,
			draft: &Session{
				Ref:           ref,
				Variant:       v,
				UserID:        p.UserID,
				SeasonID:      seasonID,
				Status:        StatusActive,
				ModeSuggested: mode,
				TicketCost:    vr.TicketCostRC,
				ExpiresAt:     now.Add(vr.SessionTTL),
				CreatedAt:     now,
				UpdatedAt:     now,
			},
		}
		paired, err := strat.prepare(ctx, tx, sc)
		if err != nil {
			return err
		}
		sess := paired
		if paired == nil {
			stored, inserted, err := tx.CreateSession(ctx, sc.draft)
			if err != nil {
				return err
			}
			if !inserted {
				return NewError(CodeInvalidInput, "session_ref is already in use")
			}
			if err := strat.created(ctx, tx, sc, stored); err != nil {
				return err
			}
			sess = stored
		}

		view, err := s.view(ctx, tx, sess, p.UserID, vr, now)
		if err != nil {
			return err
		}
		out = StartResult{OK: true, Session: view}
		joined = paired != nil
		events = append(events, event{userID: p.UserID, kind: EventSessionStarted, meta: map[string]any{
			"variant":      string(v),
			"session_ref":  sess.Ref,
			"mode":         string(mode),
			"ticket_cost":  vr.TicketCostRC,
			"kingdom_tier": p.KingdomTier,
			"joined":       joined,
		}})
		return nil
	})
	if err != nil {
		return StartResult{}, storeErr(v, err)
	}
	s.emit(ctx, events)
	if joined {
		s.publish(ctx, v, cfg, out.Session.Ref, "joined")
	}
	return out, nil
}

// ApplyAction evaluates and records one input. A replayed sequence number
// returns the stored action verbatim.
func (s *Service) ApplyAction(ctx context.Context, v Variant, p Profile, cfg *rules.Rules, in ActionInput) (ActionResult, error) {
	var out ActionResult
	strat, err := s.strategy(v)
	if err != nil {
		return out, err
	}
	ref, err := normalizeRef(in.SessionRef)
	if err != nil {
		return out, err
	}
	if strings.TrimSpace(in.InputAction) == "" {
		return out, NewError(CodeInvalidInput, "input_action is required")
	}
	vr := strat.rules(cfg)
	if in.ActionSeq < 1 || in.ActionSeq > vr.MaxActions {
		return out, WithMetadata(CodeInvalidActionSeq, "action_seq is out of range", map[string]any{"max": vr.MaxActions})
	}

	now := s.now()
	var expired bool
	var events []event
	err = s.deps.Store.InTx(ctx, func(tx Tx) error {
		events = events[:0]
		expired = false
		sess, err := tx.SessionByRef(ctx, v, ref, true)
		if errors.Is(err, ErrNotFound) {
			return errSessionNotFound()
		}
		if err != nil {
			return err
		}
		if !sess.IsParticipant(p.UserID) {
			return errSessionNotFound()
		}
		side, label := sess.Side(p.UserID)

		if in.ActionSeq <= side.ActionCount {
			stored, err := tx.ActionBySeq(ctx, v, sess.ID, p.UserID, in.ActionSeq)
			if errors.Is(err, ErrNotFound) {
				return WithMetadata(CodeInvalidActionSeq, "action_seq was never recorded", map[string]any{"expected": side.ActionCount + 1})
			}
			if err != nil {
				return err
			}
			view, err := s.view(ctx, tx, sess, p.UserID, vr, now)
			if err != nil {
				return err
			}
			out = ActionResult{OK: true, Duplicate: true, Action: *stored, Session: view}
			return nil
		}

		switch sess.Status {
		case StatusExpired:
			return errSessionExpired()
		case StatusResolved:
			return errSessionNotActive(sess.Status)
		}
		if sess.ExpiredAt(now) {
			sess.Status = StatusExpired
			sess.UpdatedAt = now
			expired = true
			return tx.UpdateSession(ctx, sess)
		}
		if in.ActionSeq != side.ActionCount+1 {
			return WithMetadata(CodeInvalidActionSeq, "action_seq skips ahead", map[string]any{
				"expected": side.ActionCount + 1,
				"got":      in.ActionSeq,
			})
		}

		ev := Evaluate(sess.Ref, *side, EvalInput{ActionSeq: in.ActionSeq, InputAction: in.InputAction, LatencyMS: in.LatencyMS}, vr)
		latency := in.LatencyMS
		if latency < 0 {
			latency = 0
		}
		act := &Action{
			SessionID:      sess.ID,
			ActorUserID:    p.UserID,
			ActionSeq:      in.ActionSeq,
			InputAction:    strings.ToLower(strings.TrimSpace(in.InputAction)),
			ExpectedAction: ev.Expected,
			Accepted:       ev.Accepted,
			RejectReason:   ev.Reason,
			ScoreDelta:     ev.ScoreDelta,
			ScoreAfter:     ev.Next.Score,
			ComboAfter:     ev.Next.Combo,
			NextExpected:   ev.NextExpected,
			LatencyMS:      latency,
			ClientTS:       in.ClientTS,
			CreatedAt:      now,
		}
		stored, inserted, err := tx.InsertAction(ctx, v, act)
		if err != nil {
			return err
		}
		if inserted {
			*side = ev.Next
			sess.UpdatedAt = now
			if err := tx.UpdateSession(ctx, sess); err != nil {
				return err
			}
			if !ev.Accepted {
				events = append(events, event{userID: p.UserID, kind: EventActionRejected, meta: map[string]any{
					"variant":     string(v),
					"session_ref": sess.Ref,
					"side":        label,
					"action_seq":  in.ActionSeq,
					"reason":      ev.Reason,
					"latency_ms":  latency,
				}})
			}
		}

		fresh, err := tx.SessionByRef(ctx, v, ref, false)
		if err != nil {
			return err
		}
		view, err := s.view(ctx, tx, fresh, p.UserID, vr, now)
		if err != nil {
			return err
		}
		out = ActionResult{OK: true, Duplicate: !inserted, Action: *stored, Session: view}
		return nil
	})
	if err != nil {
		return ActionResult{}, storeErr(v, err)
	}
	if expired {
		return ActionResult{}, errSessionExpired()
	}
	s.emit(ctx, events)
	if v == VariantPvP && !out.Duplicate {
		s.publish(ctx, v, cfg, ref, "action")
	}
	return out, nil
}

// Resolve settles the session exactly once and returns the caller's share.
func (s *Service) Resolve(ctx context.Context, v Variant, p Profile, cfg *rules.Rules, sessionRef string) (ResolveResult, error) {
	var out ResolveResult
	strat, err := s.strategy(v)
	if err != nil {
		return out, err
	}
	ref, err := normalizeRef(sessionRef)
	if err != nil {
		return out, err
	}
	vr := strat.rules(cfg)

	now := s.now()
	if ss, ok := strat.(sharedSettler); ok {
		if err := s.applyShared(ctx, ss, v, p, cfg, vr, ref, now); err != nil {
			return out, storeErr(v, err)
		}
	}
	var expired bool
	var events []event
	err = s.deps.Store.InTx(ctx, func(tx Tx) error {
		events = events[:0]
		expired = false
		sess, err := tx.SessionByRef(ctx, v, ref, true)
		if errors.Is(err, ErrNotFound) {
			return errSessionNotFound()
		}
		if err != nil {
			return err
		}
		if !sess.IsParticipant(p.UserID) {
			return errSessionNotFound()
		}

		if sess.Status == StatusResolved {
			res, err := tx.ResultBySession(ctx, v, sess.ID)
			if err != nil {
				return err
			}
			out, err = s.resolveResult(ctx, tx, sess, res, p.UserID, vr, now)
			out.Duplicate = true
			return err
		}
		if sess.Status == StatusExpired {
			return errSessionExpired()
		}
		if sess.ExpiredAt(now) {
			sess.Status = StatusExpired
			sess.UpdatedAt = now
			expired = true
			return tx.UpdateSession(ctx, sess)
		}
		if sess.Status != StatusActive {
			return errSessionNotActive(sess.Status)
		}
		side, _ := sess.Side(p.UserID)
		if side.ActionCount < vr.MinActionsToResolve {
			return WithMetadata(CodeSessionNotReady, "not enough actions to resolve", map[string]any{
				"required": vr.MinActionsToResolve,
				"current":  side.ActionCount,
			})
		}

		daily := ResolveDaily(sess.SeasonID, now)
		rc := &resolveCtx{deps: s.deps, cfg: cfg, now: now, sess: sess}
		st, err := strat.settle(ctx, tx, rc)
		if err != nil {
			return err
		}

		meta := st.meta
		if meta == nil {
			meta = map[string]any{}
		}
		meta["date_key"] = daily.DateKey
		meta["anomaly_id"] = daily.Anomaly.ID
		meta["contract_id"] = daily.Contract.ID

		res := &Result{SessionID: sess.ID, Metadata: meta, CreatedAt: now}
		for _, so := range st.sides {
			pr, err := s.settleParticipant(ctx, sess, so, daily, cfg, vr)
			if err != nil {
				return err
			}
			res.Participants = append(res.Participants, pr)
			events = append(events, event{userID: pr.UserID, kind: EventSessionResolved, meta: map[string]any{
				"variant":     string(v),
				"session_ref": sess.Ref,
				"outcome":     string(pr.Outcome),
				"score":       pr.Score,
				"mode":        string(pr.Mode),
			}})
		}
		if len(res.Participants) == 0 {
			return fmt.Errorf("settle produced no participants for session %s", sess.Ref)
		}
		primary := res.Participants[0]
		res.Outcome = primary.Outcome
		res.Reward = primary.Reward
		res.RatingDelta = primary.RatingDelta

		sess.Status = StatusResolved
		sess.ModeFinal = primary.Mode
		sess.ResolvedAt = &now
		sess.UpdatedAt = now
		if err := tx.UpdateSession(ctx, sess); err != nil {
			return err
		}
		if _, _, err := tx.InsertResult(ctx, v, res); err != nil {
			return err
		}
		stored, err := tx.ResultBySession(ctx, v, sess.ID)
		if err != nil {
			return err
		}
		out, err = s.resolveResult(ctx, tx, sess, stored, p.UserID, vr, now)
		return err
	})
	if err != nil {
		return ResolveResult{}, storeErr(v, err)
	}
	if expired {
		return ResolveResult{}, errSessionExpired()
	}
	s.emit(ctx, events)
	if v == VariantPvP && !out.Duplicate {
		s.publish(ctx, v, cfg, ref, "resolved")
	}
	return out, nil
}

// applyShared commits a resolvable session's shared-state effect. Sessions
// that are not ready to settle are left for the main resolve to reject.
func (s *Service) applyShared(ctx context.Context, ss sharedSettler, v Variant, p Profile, cfg *rules.Rules, vr rules.VariantRules, ref string, now time.Time) error {
	return s.deps.Store.InTx(ctx, func(tx Tx) error {
		sess, err := tx.SessionByRef(ctx, v, ref, true)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !sess.IsParticipant(p.UserID) || sess.Status != StatusActive || sess.ExpiredAt(now) {
			return nil
		}
		if side, _ := sess.Side(p.UserID); side.ActionCount < vr.MinActionsToResolve {
			return nil
		}
		return ss.applyShared(ctx, tx, &resolveCtx{deps: s.deps, cfg: cfg, now: now, sess: sess})
	})
}

// GetState returns the referenced session, else the active one, else the most
// recent resolved one inside the recency window. It never writes.
func (s *Service) GetState(ctx context.Context, v Variant, p Profile, cfg *rules.Rules, sessionRef string) (StateResult, error) {
	out := StateResult{OK: true}
	strat, err := s.strategy(v)
	if err != nil {
		return out, err
	}
	vr := strat.rules(cfg)
	ref := strings.TrimSpace(sessionRef)

	now := s.now()
	err = s.deps.Store.InTx(ctx, func(tx Tx) error {
		out.Session = nil
		var sess *Session
		var err error
		if ref != "" {
			sess, err = tx.SessionByRef(ctx, v, ref, false)
			if err == nil && !sess.IsParticipant(p.UserID) {
				err = ErrNotFound
			}
		} else {
			sess, err = tx.FindActive(ctx, v, p.UserID)
			if err == nil && sess.ExpiredAt(now) {
				err = ErrNotFound
			}
			if errors.Is(err, ErrNotFound) {
				sess, err = tx.LatestResolved(ctx, v, p.UserID, now.Add(-cfg.RecentWindow))
			}
		}
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		view, err := s.view(ctx, tx, sess, p.UserID, vr, now)
		if err != nil {
			return err
		}
		out.Session = &view
		return nil
	})
	if err != nil {
		return StateResult{}, storeErr(v, err)
	}
	return out, nil
}

// Daily returns today's anomaly and contract for the active season.
func (s *Service) Daily(ctx context.Context) (Daily, error) {
	seasonID, err := s.deps.Seasons.ActiveSeasonID(ctx)
	if err != nil {
		return Daily{}, err
	}
	return ResolveDaily(seasonID, s.now()), nil
}

// Sweep expires stale sessions and queue entries and opens the next boss wave
// when a cooldown has elapsed. Correctness never depends on it: every
// operation also expires lazily.
func (s *Service) Sweep(ctx context.Context, cfg *rules.Rules) (SweepReport, error) {
	report := SweepReport{ExpiredSessions: map[Variant]int64{}}
	now := s.now()
	for _, v := range []Variant{VariantArena, VariantRaid, VariantPvP} {
		var n int64
		err := s.deps.Store.InTx(ctx, func(tx Tx) error {
			var err error
			n, err = tx.ExpireAll(ctx, v, now)
			return err
		})
		if errors.Is(err, ErrTablesMissing) {
			s.log.Warn("sweep skipped variant", "variant", v, "err", err)
			continue
		}
		if err != nil {
			return report, fmt.Errorf("expire %s sessions: %w", v, err)
		}
		report.ExpiredSessions[v] = n
	}

	err := s.deps.Store.InTx(ctx, func(tx Tx) error {
		var err error
		report.ExpiredQueue, err = tx.ExpireQueue(ctx, now)
		return err
	})
	if err != nil && !errors.Is(err, ErrTablesMissing) {
		return report, fmt.Errorf("expire queue: %w", err)
	}

	seasonID, err := s.deps.Seasons.ActiveSeasonID(ctx)
	if err != nil {
		return report, err
	}
	err = s.deps.Store.InTx(ctx, func(tx Tx) error {
		c, err := ensureBossCycle(ctx, tx, seasonID, cfg.Raid, now)
		if err != nil {
			return err
		}
		report.BossWave = c.WaveIndex
		return nil
	})
	if err != nil && !errors.Is(err, ErrTablesMissing) {
		return report, fmt.Errorf("boss rollover: %w", err)
	}
	return report, nil
}

func (s *Service) settleParticipant(ctx context.Context, sess *Session, so sideOutcome, daily Daily, cfg *rules.Rules, vr rules.VariantRules) (ParticipantResult, error) {
	mode := s.finalMode(ctx, so.userID, so.mode, daily.Anomaly, cfg.Risk)
	if so.forfeit {
		return s.settleForfeit(ctx, sess, so, mode)
	}
	var contract *Contract
	if daily.Contract.Matches(mode, string(sess.Variant), so.outcome) {
		c := daily.Contract
		contract = &c
	}
	effects, err := s.deps.Shop.ActiveEffects(ctx, so.userID)
	if err != nil {
		return ParticipantResult{}, err
	}
	boosts := SumShopEffects(effects)

	base := BaseReward(vr.Payouts, so.outcome, so.state.Score)
	reward, stages := ComputeReward(base, RewardInput{
		Ref:      sess.Ref,
		UserID:   so.userID,
		Variant:  sess.Variant,
		Outcome:  so.outcome,
		Score:    so.state.Score,
		Combo:    so.state.ComboMax,
		Mode:     mode,
		Shop:     boosts,
		Anomaly:  daily.Anomaly,
		Contract: contract,
	}, cfg)

	keys := map[Currency]string{
		CurrencySC: creditKey(sess, CurrencySC, so.userID),
		CurrencyHC: creditKey(sess, CurrencyHC, so.userID),
		CurrencyRC: creditKey(sess, CurrencyRC, so.userID),
	}
	if err := s.deps.Ledger.CreditReward(ctx, so.userID, reward, "session_reward:"+string(sess.Variant), keys); err != nil {
		return ParticipantResult{}, fmt.Errorf("credit reward: %w", err)
	}

	aggKey := fmt.Sprintf("%s:%d:%s", sess.Variant, sess.ID, so.userID)
	rating, err := s.deps.Ratings.ApplyOutcome(ctx, so.userID, so.ratingDelta, so.outcome, "rating:"+aggKey)
	if err != nil {
		return ParticipantResult{}, fmt.Errorf("apply rating: %w", err)
	}
	season := SeasonPoints(vr, so.outcome, daily.Anomaly, contract, boosts)
	if season > 0 {
		if err := s.deps.Seasons.AddSeasonPoints(ctx, so.userID, sess.SeasonID, season, "season:"+aggKey); err != nil {
			return ParticipantResult{}, fmt.Errorf("add season points: %w", err)
		}
	}
	war := WarPoints(vr, so.outcome, contract) + so.warExtra
	if war > 0 {
		if err := s.deps.Seasons.IncrementWarPool(ctx, sess.SeasonID, war, "war:"+aggKey); err != nil {
			return ParticipantResult{}, fmt.Errorf("increment war pool: %w", err)
		}
	}

	return ParticipantResult{
		UserID:          so.userID,
		Side:            so.side,
		Mode:            mode,
		Outcome:         so.outcome,
		Score:           so.state.Score,
		Reward:          reward,
		Stages:          stages,
		ContractMatched: contract != nil,
		RatingDelta:     so.ratingDelta,
		RatingAfter:     rating.Rating,
		SeasonPoints:    season,
		WarDelta:        war,
	}, nil
}

// settleForfeit records the rating loss of a side that never reached the
// action floor. No reward, season points or war share is paid.
func (s *Service) settleForfeit(ctx context.Context, sess *Session, so sideOutcome, mode Mode) (ParticipantResult, error) {
	aggKey := fmt.Sprintf("%s:%d:%s", sess.Variant, sess.ID, so.userID)
	rating, err := s.deps.Ratings.ApplyOutcome(ctx, so.userID, so.ratingDelta, so.outcome, "rating:"+aggKey)
	if err != nil {
		return ParticipantResult{}, fmt.Errorf("apply rating: %w", err)
	}
	return ParticipantResult{
		UserID:      so.userID,
		Side:        so.side,
		Mode:        mode,
		Outcome:     so.outcome,
		Score:       so.state.Score,
		RatingDelta: so.ratingDelta,
		RatingAfter: rating.Rating,
		Forfeit:     true,
	}, nil
}

// suggestMode picks a starting mode from the player's risk score and streak.
func (s *Service) suggestMode(ctx context.Context, p Profile, rr rules.RiskRules) Mode {
	risk, err := s.deps.Risk.RiskScore(ctx, p.UserID)
	if err != nil {
		s.log.Warn("risk score lookup failed", "user_id", p.UserID, "err", err)
		return ModeBalanced
	}
	switch {
	case risk >= rr.SuggestSafeAt:
		return ModeSafe
	case risk < rr.SuggestAggressiveBelow && p.CurrentStreak >= 3:
		return ModeAggressive
	default:
		return ModeBalanced
	}
}

// finalMode forces safe play for players whose risk, shifted by the day's
// anomaly, crosses the force threshold.
func (s *Service) finalMode(ctx context.Context, userID string, suggested Mode, a Anomaly, rr rules.RiskRules) Mode {
	if suggested == "" {
		suggested = ModeBalanced
	}
	risk, err := s.deps.Risk.RiskScore(ctx, userID)
	if err != nil {
		s.log.Warn("risk score lookup failed", "user_id", userID, "err", err)
		return suggested
	}
	if risk+a.RiskShift >= rr.ForceSafeAt {
		return ModeSafe
	}
	return suggested
}

func (s *Service) emit(ctx context.Context, events []event) {
	for _, e := range events {
		if err := s.deps.Risk.RecordEvent(ctx, e.userID, e.kind, e.meta); err != nil {
			s.log.Warn("record behaviour event failed", "user_id", e.userID, "event", e.kind, "err", err)
		}
	}
}

func (s *Service) publish(ctx context.Context, v Variant, cfg *rules.Rules, ref, kind string) {
	if s.publisher == nil {
		return
	}
	strat, err := s.strategy(v)
	if err != nil {
		return
	}
	vr := strat.rules(cfg)
	now := s.now()
	type update struct {
		userID string
		view   SessionView
	}
	var updates []update
	err = s.deps.Store.InTx(ctx, func(tx Tx) error {
		updates = updates[:0]
		sess, err := tx.SessionByRef(ctx, v, ref, false)
		if err != nil {
			return err
		}
		users := []string{sess.UserID}
		if sess.PvP != nil && sess.PvP.UserRightID != nil {
			users = append(users, *sess.PvP.UserRightID)
		}
		for _, u := range users {
			view, err := s.view(ctx, tx, sess, u, vr, now)
			if err != nil {
				return err
			}
			updates = append(updates, update{userID: u, view: view})
		}
		return nil
	})
	if err != nil {
		s.log.Warn("live publish failed", "session_ref", ref, "err", err)
		return
	}
	for _, u := range updates {
		s.publisher.Publish(ref, u.userID, kind, u.view)
	}
}

func (s *Service) resolveResult(ctx context.Context, tx Tx, sess *Session, res *Result, viewer string, vr rules.VariantRules, now time.Time) (ResolveResult, error) {
	view, err := s.view(ctx, tx, sess, viewer, vr, now)
	if err != nil {
		return ResolveResult{}, err
	}
	pr := res.For(viewer)
	return ResolveResult{
		OK:          true,
		Outcome:     pr.Outcome,
		Reward:      pr.Reward,
		RatingDelta: pr.RatingDelta,
		Participant: pr,
		Session:     view,
	}, nil
}

// view builds the viewer's snapshot from persisted rows. Status reads as
// expired once the TTL has passed even if nobody has written that yet.
func (s *Service) view(ctx context.Context, tx Tx, sess *Session, viewer string, vr rules.VariantRules, now time.Time) (SessionView, error) {
	cp := *sess
	side, label := cp.Side(viewer)
	out := SessionView{
		Ref:                 cp.Ref,
		Variant:             cp.Variant,
		Status:              cp.Status,
		SeasonID:            cp.SeasonID,
		ModeSuggested:       cp.ModeSuggested,
		ModeFinal:           cp.ModeFinal,
		Side:                label,
		State:               *side,
		MaxActions:          vr.MaxActions,
		MinActionsToResolve: vr.MinActionsToResolve,
		TicketCost:          cp.TicketCost,
		ExpiresAt:           cp.ExpiresAt,
		CreatedAt:           cp.CreatedAt,
		ResolvedAt:          cp.ResolvedAt,
	}
	if cp.ExpiredAt(now) {
		out.Status = StatusExpired
	}
	if out.Status == StatusActive {
		out.NextExpectedAction = NextExpectedAction(cp.Ref, side.ActionCount, vr.MaxActions)
	}
	if cp.BossCycleID != nil {
		boss, err := tx.BossCycleByID(ctx, *cp.BossCycleID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return out, err
		}
		out.Boss = boss
	}
	if cp.PvP != nil {
		pv := &PvPView{
			OpponentType:   cp.PvP.OpponentType,
			UserLeftID:     cp.UserID,
			UserRightID:    cp.PvP.UserRightID,
			Transport:      cp.PvP.Transport,
			TickMS:         cp.PvP.TickMS,
			ActionWindowMS: cp.PvP.ActionWindowMS,
		}
		if label == SideRight {
			pv.Opponent = cp.SideState
		} else if cp.PvP.UserRightID != nil {
			pv.Opponent = cp.PvP.Right
		}
		out.PvP = pv
	}
	if cp.Status == StatusResolved {
		res, err := tx.ResultBySession(ctx, cp.Variant, cp.ID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return out, err
		}
		if res != nil {
			pr := res.For(viewer)
			out.Result = &ResultView{
				Outcome:     pr.Outcome,
				Reward:      pr.Reward,
				RatingDelta: pr.RatingDelta,
				Participant: pr,
				Metadata:    res.Metadata,
				CreatedAt:   res.CreatedAt,
			}
		}
	}
	return out, nil
}

func normalizeRef(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", NewError(CodeInvalidInput, "session_ref is required")
	}
	if len(ref) > maxRefLen {
		return "", NewError(CodeInvalidInput, "session_ref is too long")
	}
	return ref, nil
}

func ticketKey(v Variant, userID, ref string) string {
	return fmt.Sprintf("ticket:%s:%s:%s", v, userID, ref)
}

// creditKey is stable per session, currency and participant so a retried
// resolve never credits twice.
func creditKey(sess *Session, c Currency, userID string) string {
	return fmt.Sprintf("resolve:%s:%d:%s:%s", sess.Variant, sess.ID, c, userID)
}
