package game_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"lootarena/internal/game"
	"lootarena/internal/game/gametest"
	"lootarena/internal/rules"
	"lootarena/internal/store/memstore"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	svc   *game.Service
	store *memstore.Store
	econ  *gametest.Economy
	cfg   *rules.Rules
	clock *clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := rules.Defaults()
	cfg.HiddenBonus.Thresholds = map[string]float64{}
	store := memstore.New()
	econ := gametest.NewEconomy()
	clk := &clock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	svc := game.NewService(econ.Deps(store), nil)
	svc.SetClock(clk.Now)
	return &harness{svc: svc, store: store, econ: econ, cfg: &cfg, clock: clk}
}

func player(id string) game.Profile {
	return game.Profile{UserID: id}
}

func (h *harness) start(t *testing.T, v game.Variant, user, ref string) game.StartResult {
	t.Helper()
	out, err := h.svc.Start(context.Background(), v, player(user), h.cfg, game.StartInput{RequestID: ref})
	if err != nil {
		t.Fatalf("start %s/%s: %v", user, ref, err)
	}
	return out
}

func (h *harness) act(t *testing.T, v game.Variant, user, ref string, seq int, input string) game.ActionResult {
	t.Helper()
	out, err := h.svc.ApplyAction(context.Background(), v, player(user), h.cfg, game.ActionInput{
		SessionRef:  ref,
		ActionSeq:   seq,
		InputAction: input,
		LatencyMS:   120,
	})
	if err != nil {
		t.Fatalf("action %s/%s#%d: %v", user, ref, seq, err)
	}
	return out
}

// play submits n correct inputs for user starting after the side's last seq.
func (h *harness) play(t *testing.T, v game.Variant, user, ref string, from, n int) {
	t.Helper()
	for seq := from; seq < from+n; seq++ {
		out := h.act(t, v, user, ref, seq, game.ExpectedAction(ref, seq))
		if !out.Action.Accepted {
			t.Fatalf("seq %d rejected: %s", seq, out.Action.RejectReason)
		}
	}
}

func wrongInput(expected string) string {
	for _, a := range game.ActionVocabulary {
		if a != expected {
			return a
		}
	}
	return ""
}

func wantCode(t *testing.T, err error, code game.Code) *game.Error {
	t.Helper()
	if err == nil {
		t.Fatalf("got nil error want %s", code)
	}
	var ge *game.Error
	if !errors.As(err, &ge) {
		t.Fatalf("got %v want domain error %s", err, code)
	}
	if ge.Code != code {
		t.Fatalf("got code %s want %s (%v)", ge.Code, code, err)
	}
	return ge
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []string
}

func (p *recordingPublisher) Publish(ref, userID, kind string, _ game.SessionView) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, fmt.Sprintf("%s:%s:%s", ref, userID, kind))
}

func (p *recordingPublisher) has(entry string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.sent {
		if s == entry {
			return true
		}
	}
	return false
}

func TestStartDebitsTicketOnce(t *testing.T) {
	h := newHarness(t)
	h.econ.Fund("alice", game.CurrencyRC, 20)

	first := h.start(t, game.VariantArena, "alice", "run-1")
	if first.Duplicate {
		t.Fatal("first start reported duplicate")
	}
	if first.Session.Status != game.StatusActive || first.Session.NextExpectedAction != game.ExpectedAction("run-1", 1) {
		t.Fatalf("unexpected session %+v", first.Session)
	}
	if got := h.econ.Balance("alice", game.CurrencyRC); got != 15 {
		t.Fatalf("rc got %d want 15", got)
	}

	again := h.start(t, game.VariantArena, "alice", "run-1")
	if !again.Duplicate || again.Session.Ref != "run-1" {
		t.Fatalf("retry got duplicate=%v ref=%s", again.Duplicate, again.Session.Ref)
	}
	other := h.start(t, game.VariantArena, "alice", "run-2")
	if !other.Duplicate || other.Session.Ref != "run-1" {
		t.Fatalf("second ref while active got duplicate=%v ref=%s", other.Duplicate, other.Session.Ref)
	}
	if got := h.econ.Balance("alice", game.CurrencyRC); got != 15 {
		t.Fatalf("rc after retries got %d want 15", got)
	}
	if got := h.store.SessionCount(game.VariantArena); got != 1 {
		t.Fatalf("sessions got %d want 1", got)
	}
	if got := len(h.econ.Events(game.EventSessionStarted)); got != 1 {
		t.Fatalf("started events got %d want 1", got)
	}
}

func TestStartRequiresTicket(t *testing.T) {
	h := newHarness(t)
	h.econ.Fund("bob", game.CurrencyRC, 2)

	_, err := h.svc.Start(context.Background(), game.VariantArena, player("bob"), h.cfg, game.StartInput{RequestID: "broke"})
	ge := wantCode(t, err, game.CodeInsufficientRC)
	if ge.Metadata["required"] != int64(5) {
		t.Fatalf("required got %v want 5", ge.Metadata["required"])
	}
	if got := h.store.SessionCount(game.VariantArena); got != 0 {
		t.Fatalf("sessions got %d want 0", got)
	}
	if got := h.econ.Balance("bob", game.CurrencyRC); got != 2 {
		t.Fatalf("rc got %d want 2", got)
	}
}

func TestStartRejectsForeignRef(t *testing.T) {
	h := newHarness(t)
	h.econ.Fund("alice", game.CurrencyRC, 20)
	h.econ.Fund("bob", game.CurrencyRC, 20)
	h.start(t, game.VariantArena, "alice", "shared")

	_, err := h.svc.Start(context.Background(), game.VariantArena, player("bob"), h.cfg, game.StartInput{RequestID: "shared"})
	wantCode(t, err, game.CodeInvalidInput)
}

func TestStartUnknownVariant(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Start(context.Background(), game.Variant("chess"), player("alice"), h.cfg, game.StartInput{RequestID: "x"})
	wantCode(t, err, game.CodeInvalidVariant)
}

func TestConcurrentStartsOpenOneSession(t *testing.T) {
	h := newHarness(t)
	h.econ.Fund("alice", game.CurrencyRC, 100)

	const n = 12
	refs := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := h.svc.Start(context.Background(), game.VariantArena, player("alice"), h.cfg, game.StartInput{RequestID: fmt.Sprintf("burst-%d", i)})
			refs[i], errs[i] = out.Session.Ref, err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		if refs[i] != refs[0] {
			t.Fatalf("start %d returned %s want %s", i, refs[i], refs[0])
		}
	}
	if got := h.store.SessionCount(game.VariantArena); got != 1 {
		t.Fatalf("sessions got %d want 1", got)
	}
	if got := h.econ.Balance("alice", game.CurrencyRC); got != 95 {
		t.Fatalf("rc got %d want 95", got)
	}
}

func TestApplyActionReplayReturnsStoredAction(t *testing.T) {
	h := newHarness(t)
	h.econ.Fund("alice", game.CurrencyRC, 20)
	h.start(t, game.VariantArena, "alice", "replay")

	expected := game.ExpectedAction("replay", 1)
	first := h.act(t, game.VariantArena, "alice", "replay", 1, expected)
	if !first.Action.Accepted || first.Action.ScoreDelta != 10 {
		t.Fatalf("first action %+v", first.Action)
	}

	replay := h.act(t, game.VariantArena, "alice", "replay", 1, wrongInput(expected))
	if !replay.Duplicate {
		t.Fatal("replay not flagged duplicate")
	}
	if replay.Action.InputAction != expected || !replay.Action.Accepted {
		t.Fatalf("replay returned %+v", replay.Action)
	}
	if replay.Session.State.Score != 10 || replay.Session.State.ActionCount != 1 {
		t.Fatalf("state changed on replay: %+v", replay.Session.State)
	}
}

func TestApplyActionRejectsSequenceGap(t *testing.T) {
	h := newHarness(t)
	h.econ.Fund("alice", game.CurrencyRC, 20)
	h.start(t, game.VariantArena, "alice", "gap")

	_, err := h.svc.ApplyAction(context.Background(), game.VariantArena, player("alice"), h.cfg, game.ActionInput{
		SessionRef: "gap", ActionSeq: 3, InputAction: "up", LatencyMS: 100,
	})
	ge := wantCode(t, err, game.CodeInvalidActionSeq)
	if ge.Metadata["expected"] != 1 || ge.Metadata["got"] != 3 {
		t.Fatalf("metadata got %v", ge.Metadata)
	}

	_, err = h.svc.ApplyAction(context.Background(), game.VariantArena, player("alice"), h.cfg, game.ActionInput{
		SessionRef: "gap", ActionSeq: 0, InputAction: "up",
	})
	wantCode(t, err, game.CodeInvalidActionSeq)

	st, err := h.svc.GetState(context.Background(), game.VariantArena, player("alice"), h.cfg, "gap")
	if err != nil {
		t.Fatal(err)
	}
	if st.Session.State.ActionCount != 0 {
		t.Fatalf("action count got %d want 0", st.Session.State.ActionCount)
	}
}

func TestApplyActionRejectionIsRecorded(t *testing.T) {
	h := newHarness(t)
	h.econ.Fund("alice", game.CurrencyRC, 20)
	h.start(t, game.VariantArena, "alice", "miss")

	out := h.act(t, game.VariantArena, "alice", "miss", 1, wrongInput(game.ExpectedAction("miss", 1)))
	if out.Action.Accepted || out.Action.RejectReason != game.ReasonPatternMismatch {
		t.Fatalf("action %+v", out.Action)
	}
	if out.Session.State.ActionCount != 1 || out.Session.State.Misses != 1 {
		t.Fatalf("state %+v", out.Session.State)
	}
	if got := len(h.econ.Events(game.EventActionRejected)); got != 1 {
		t.Fatalf("rejected events got %d want 1", got)
	}
}

func TestActionOnOtherPlayersSessionIsNotFound(t *testing.T) {
	h := newHarness(t)
	h.econ.Fund("alice", game.CurrencyRC, 20)
	h.start(t, game.VariantArena, "alice", "mine")

	_, err := h.svc.ApplyAction(context.Background(), game.VariantArena, player("mallory"), h.cfg, game.ActionInput{
		SessionRef: "mine", ActionSeq: 1, InputAction: "up",
	})
	wantCode(t, err, game.CodeSessionNotFound)
}

func TestResolveNeedsMinimumActions(t *testing.T) {
	h := newHarness(t)
	h.econ.Fund("alice", game.CurrencyRC, 20)
	h.start(t, game.VariantArena, "alice", "early")
	h.play(t, game.VariantArena, "alice", "early", 1, 2)

	_, err := h.svc.Resolve(context.Background(), game.VariantArena, player("alice"), h.cfg, "early")
	ge := wantCode(t, err, game.CodeSessionNotReady)
	if ge.Metadata["required"] != 5 || ge.Metadata["current"] != 2 {
		t.Fatalf("metadata got %v", ge.Metadata)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.econ.Fund("alice", game.CurrencyRC, 20)
	h.start(t, game.VariantArena, "alice", "win")
	h.play(t, game.VariantArena, "alice", "win", 1, 15)

	first, err := h.svc.Resolve(context.Background(), game.VariantArena, player("alice"), h.cfg, "win")
	if err != nil {
		t.Fatal(err)
	}
	if first.Duplicate || first.Outcome != game.OutcomeWin {
		t.Fatalf("first resolve duplicate=%v outcome=%s", first.Duplicate, first.Outcome)
	}
	if first.Participant.Score != 245 {
		t.Fatalf("score got %d want 245", first.Participant.Score)
	}
	if len(first.Participant.Stages) != 7 {
		t.Fatalf("stages got %d want 7", len(first.Participant.Stages))
	}
	if first.Session.Status != game.StatusResolved || first.Session.Result == nil {
		t.Fatalf("session not resolved: %+v", first.Session)
	}
	sc := h.econ.Balance("alice", game.CurrencySC)
	rc := h.econ.Balance("alice", game.CurrencyRC)
	if sc != first.Reward.SC || rc != 15+first.Reward.RC {
		t.Fatalf("balances sc=%d rc=%d for reward %+v", sc, rc, first.Reward)
	}
	points := h.econ.SeasonPoints("alice")
	credits := h.econ.Credits()

	second, err := h.svc.Resolve(context.Background(), game.VariantArena, player("alice"), h.cfg, "win")
	if err != nil {
		t.Fatal(err)
	}
	if !second.Duplicate || second.Reward != first.Reward || second.Outcome != first.Outcome {
		t.Fatalf("second resolve %+v", second)
	}
	if h.econ.Balance("alice", game.CurrencySC) != sc || h.econ.Balance("alice", game.CurrencyRC) != rc {
		t.Fatal("second resolve moved money")
	}
	if h.econ.SeasonPoints("alice") != points || h.econ.Credits() != credits {
		t.Fatal("second resolve changed aggregates")
	}
	if got := len(h.econ.Events(game.EventSessionResolved)); got != 1 {
		t.Fatalf("resolved events got %d want 1", got)
	}

	// replays stay answerable after settlement
	replay := h.act(t, game.VariantArena, "alice", "win", 15, "up")
	if !replay.Duplicate {
		t.Fatal("replay after resolve not duplicate")
	}
	_, err = h.svc.ApplyAction(context.Background(), game.VariantArena, player("alice"), h.cfg, game.ActionInput{
		SessionRef: "win", ActionSeq: 16, InputAction: "up",
	})
	wantCode(t, err, game.CodeSessionNotActive)
}

func TestResolveLossScoresBelowNear(t *testing.T) {
	h := newHarness(t)
	h.econ.Fund("alice", game.CurrencyRC, 20)
	h.start(t, game.VariantArena, "alice", "short")
	h.play(t, game.VariantArena, "alice", "short", 1, 5)

	out, err := h.svc.Resolve(context.Background(), game.VariantArena, player("alice"), h.cfg, "short")
	if err != nil {
		t.Fatal(err)
	}
	if out.Outcome != game.OutcomeLoss || out.Participant.Score != 60 {
		t.Fatalf("outcome %s score %d", out.Outcome, out.Participant.Score)
	}
	if out.RatingDelta != h.cfg.Rating.Loss {
		t.Fatalf("rating delta got %d want %d", out.RatingDelta, h.cfg.Rating.Loss)
	}
}

func TestSessionExpiresLazily(t *testing.T) {
	h := newHarness(t)
	h.econ.Fund("alice", game.CurrencyRC, 20)
	h.start(t, game.VariantArena, "alice", "stale")
	h.clock.Advance(h.cfg.Arena.SessionTTL + time.Second)

	_, err := h.svc.ApplyAction(context.Background(), game.VariantArena, player("alice"), h.cfg, game.ActionInput{
		SessionRef: "stale", ActionSeq: 1, InputAction: "up",
	})
	wantCode(t, err, game.CodeSessionExpired)
	_, err = h.svc.Resolve(context.Background(), game.VariantArena, player("alice"), h.cfg, "stale")
	wantCode(t, err, game.CodeSessionExpired)

	report, err := h.svc.Sweep(context.Background(), h.cfg)
	if err != nil {
		t.Fatal(err)
	}
	if got := report.ExpiredSessions[game.VariantArena]; got != 0 {
		t.Fatalf("sweep expired %d sessions, want the lazy expiry to have persisted", got)
	}

	st, err := h.svc.GetState(context.Background(), game.VariantArena, player("alice"), h.cfg, "stale")
	if err != nil {
		t.Fatal(err)
	}
	if st.Session == nil || st.Session.Status != game.StatusExpired {
		t.Fatalf("state %+v", st.Session)
	}

	next := h.start(t, game.VariantArena, "alice", "fresh")
	if next.Duplicate || next.Session.Ref != "fresh" {
		t.Fatalf("start after expiry got duplicate=%v ref=%s", next.Duplicate, next.Session.Ref)
	}
}

func TestGetStateSkipsPastTTLActiveSession(t *testing.T) {
	h := newHarness(t)
	h.econ.Fund("alice", game.CurrencyRC, 20)
	h.start(t, game.VariantArena, "alice", "first")
	h.play(t, game.VariantArena, "alice", "first", 1, 5)
	if _, err := h.svc.Resolve(context.Background(), game.VariantArena, player("alice"), h.cfg, "first"); err != nil {
		t.Fatal(err)
	}
	h.start(t, game.VariantArena, "alice", "second")
	h.clock.Advance(h.cfg.Arena.SessionTTL + time.Second)

	st, err := h.svc.GetState(context.Background(), game.VariantArena, player("alice"), h.cfg, "")
	if err != nil {
		t.Fatal(err)
	}
	if st.Session == nil || st.Session.Ref != "first" || st.Session.Status != game.StatusResolved {
		t.Fatalf("state %+v", st.Session)
	}
}

func TestSweepExpiresUntouchedSessions(t *testing.T) {
	h := newHarness(t)
	h.econ.Fund("alice", game.CurrencyRC, 20)
	h.econ.Fund("bob", game.CurrencyRC, 20)
	h.start(t, game.VariantArena, "alice", "a")
	h.start(t, game.VariantPvP, "bob", "b")
	h.clock.Advance(time.Hour)

	report, err := h.svc.Sweep(context.Background(), h.cfg)
	if err != nil {
		t.Fatal(err)
	}
	if report.ExpiredSessions[game.VariantArena] != 1 || report.ExpiredSessions[game.VariantPvP] != 1 {
		t.Fatalf("report %+v", report.ExpiredSessions)
	}
	if report.ExpiredQueue != 1 {
		t.Fatalf("expired queue got %d want 1", report.ExpiredQueue)
	}
	if report.BossWave != 1 {
		t.Fatalf("boss wave got %d want 1", report.BossWave)
	}
}

func TestGetStateFallsBackToRecentResult(t *testing.T) {
	h := newHarness(t)
	h.econ.Fund("alice", game.CurrencyRC, 20)

	empty, err := h.svc.GetState(context.Background(), game.VariantArena, player("alice"), h.cfg, "")
	if err != nil {
		t.Fatal(err)
	}
	if empty.Session != nil {
		t.Fatalf("got session %+v want none", empty.Session)
	}

	h.start(t, game.VariantArena, "alice", "recent")
	h.play(t, game.VariantArena, "alice", "recent", 1, 5)
	if _, err := h.svc.Resolve(context.Background(), game.VariantArena, player("alice"), h.cfg, "recent"); err != nil {
		t.Fatal(err)
	}

	st, err := h.svc.GetState(context.Background(), game.VariantArena, player("alice"), h.cfg, "")
	if err != nil {
		t.Fatal(err)
	}
	if st.Session == nil || st.Session.Ref != "recent" || st.Session.Result == nil {
		t.Fatalf("state %+v", st.Session)
	}

	h.clock.Advance(h.cfg.RecentWindow + time.Minute)
	st, err = h.svc.GetState(context.Background(), game.VariantArena, player("alice"), h.cfg, "")
	if err != nil {
		t.Fatal(err)
	}
	if st.Session != nil {
		t.Fatalf("stale result still served: %+v", st.Session)
	}
}

func TestTablesMissing(t *testing.T) {
	h := newHarness(t)
	h.econ.Fund("alice", game.CurrencyRC, 20)
	h.store.SetMissing(game.VariantRaid, true)

	_, err := h.svc.Start(context.Background(), game.VariantRaid, player("alice"), h.cfg, game.StartInput{RequestID: "r"})
	code := game.CodeOf(err)
	if code != game.TablesMissing(game.VariantRaid) || !game.IsTablesMissing(code) {
		t.Fatalf("got %v want raid_tables_missing", err)
	}
	if got := h.econ.Balance("alice", game.CurrencyRC); got != 20 {
		t.Fatalf("rc got %d want 20", got)
	}

	h.start(t, game.VariantArena, "alice", "still-works")
	if _, err := h.svc.Sweep(context.Background(), h.cfg); err != nil {
		t.Fatalf("sweep with missing raid tables: %v", err)
	}
}

func TestPvPShadowFallback(t *testing.T) {
	h := newHarness(t)
	h.econ.Fund("alice", game.CurrencyRC, 20)

	started := h.start(t, game.VariantPvP, "alice", "duel")
	if started.Session.PvP == nil || started.Session.PvP.OpponentType != game.OpponentShadow {
		t.Fatalf("pvp view %+v", started.Session.PvP)
	}
	if started.Session.PvP.Transport != h.cfg.PvP.Transport {
		t.Fatalf("transport got %q", started.Session.PvP.Transport)
	}
	h.play(t, game.VariantPvP, "alice", "duel", 1, 6)

	out, err := h.svc.Resolve(context.Background(), game.VariantPvP, player("alice"), h.cfg, "duel")
	if err != nil {
		t.Fatal(err)
	}
	shadow := game.ShadowScore(h.cfg.PvP, "duel", 75)
	want := game.OutcomeNear
	switch game.WinnerSide(h.cfg.PvP.DrawBand, 75, shadow) {
	case game.SideLeft:
		want = game.OutcomeWin
	case game.SideRight:
		want = game.OutcomeLoss
	}
	if out.Outcome != want {
		t.Fatalf("outcome got %s want %s (shadow %d)", out.Outcome, want, shadow)
	}
	meta := out.Session.Result.Metadata
	if meta["opponent_type"] != game.OpponentShadow {
		t.Fatalf("metadata %v", meta)
	}
	if got, ok := meta["score_right"].(float64); !ok || int64(got) != shadow {
		t.Fatalf("score_right got %v want %d", meta["score_right"], shadow)
	}
	if len(h.econ.Events(game.EventSessionResolved)) != 1 {
		t.Fatal("shadow resolve should settle one participant")
	}
}

func TestPvPLivePairing(t *testing.T) {
	h := newHarness(t)
	pub := &recordingPublisher{}
	h.svc.SetPublisher(pub)
	h.econ.Fund("alice", game.CurrencyRC, 20)
	h.econ.Fund("bob", game.CurrencyRC, 20)

	a := h.start(t, game.VariantPvP, "alice", "a-duel")
	if a.Session.PvP.OpponentType != game.OpponentShadow {
		t.Fatalf("first player got %s", a.Session.PvP.OpponentType)
	}
	b := h.start(t, game.VariantPvP, "bob", "b-duel")
	if b.Session.Ref != "a-duel" || b.Session.Side != game.SideRight {
		t.Fatalf("joiner got ref=%s side=%s", b.Session.Ref, b.Session.Side)
	}
	if b.Session.PvP.OpponentType != game.OpponentLive {
		t.Fatalf("joiner opponent type %s", b.Session.PvP.OpponentType)
	}
	if h.store.SessionCount(game.VariantPvP) != 1 {
		t.Fatalf("sessions got %d want 1", h.store.SessionCount(game.VariantPvP))
	}
	if h.econ.Balance("bob", game.CurrencyRC) != 14 {
		t.Fatalf("joiner ticket not debited: %d", h.econ.Balance("bob", game.CurrencyRC))
	}
	if !pub.has("a-duel:alice:joined") || !pub.has("a-duel:bob:joined") {
		t.Fatalf("published %v", pub.sent)
	}
	var matched int
	for _, e := range h.store.QueueEntries() {
		if e.Status == game.QueueMatched {
			matched++
		}
	}
	if matched != 2 {
		t.Fatalf("matched queue entries got %d want 2", matched)
	}

	h.play(t, game.VariantPvP, "alice", "a-duel", 1, 6)
	h.play(t, game.VariantPvP, "bob", "a-duel", 1, 5)

	st, err := h.svc.GetState(context.Background(), game.VariantPvP, player("bob"), h.cfg, "a-duel")
	if err != nil {
		t.Fatal(err)
	}
	if st.Session.State.Score != 60 || st.Session.PvP.Opponent.Score != 75 {
		t.Fatalf("bob sees own=%d opponent=%d", st.Session.State.Score, st.Session.PvP.Opponent.Score)
	}

	left, err := h.svc.Resolve(context.Background(), game.VariantPvP, player("alice"), h.cfg, "a-duel")
	if err != nil {
		t.Fatal(err)
	}
	if left.Outcome != game.OutcomeWin || left.RatingDelta != 12 {
		t.Fatalf("alice outcome %s delta %d", left.Outcome, left.RatingDelta)
	}
	right, err := h.svc.Resolve(context.Background(), game.VariantPvP, player("bob"), h.cfg, "a-duel")
	if err != nil {
		t.Fatal(err)
	}
	if !right.Duplicate || right.Outcome != game.OutcomeLoss || right.Participant.Side != game.SideRight {
		t.Fatalf("bob resolve %+v", right)
	}
	if right.Participant.RatingAfter != 988 {
		t.Fatalf("bob rating got %d want 988", right.Participant.RatingAfter)
	}
	if len(h.econ.Events(game.EventSessionResolved)) != 2 {
		t.Fatal("live resolve should settle both participants")
	}
	if !pub.has("a-duel:bob:resolved") {
		t.Fatalf("published %v", pub.sent)
	}
}

func TestPvPJoinerRetryAfterResolveIsDuplicate(t *testing.T) {
	h := newHarness(t)
	h.econ.Fund("alice", game.CurrencyRC, 20)
	h.econ.Fund("bob", game.CurrencyRC, 20)

	h.start(t, game.VariantPvP, "alice", "a-duel")
	if b := h.start(t, game.VariantPvP, "bob", "b-req"); b.Session.Ref != "a-duel" {
		t.Fatalf("joiner got ref %s", b.Session.Ref)
	}
	h.play(t, game.VariantPvP, "alice", "a-duel", 1, 5)
	h.play(t, game.VariantPvP, "bob", "a-duel", 1, 5)
	if _, err := h.svc.Resolve(context.Background(), game.VariantPvP, player("alice"), h.cfg, "a-duel"); err != nil {
		t.Fatal(err)
	}
	rcBefore := h.econ.Balance("bob", game.CurrencyRC)

	again := h.start(t, game.VariantPvP, "bob", "b-req")
	if !again.Duplicate || again.Session.Ref != "a-duel" || again.Session.Status != game.StatusResolved {
		t.Fatalf("retry got duplicate=%v ref=%s status=%s", again.Duplicate, again.Session.Ref, again.Session.Status)
	}
	if got := h.econ.Balance("bob", game.CurrencyRC); got != rcBefore {
		t.Fatalf("bob rc before=%d after=%d", rcBefore, got)
	}
	if got := h.store.SessionCount(game.VariantPvP); got != 1 {
		t.Fatalf("sessions got %d want 1", got)
	}

	fresh := h.start(t, game.VariantPvP, "bob", "b-next")
	if fresh.Duplicate || fresh.Session.Ref != "b-next" {
		t.Fatalf("new request got duplicate=%v ref=%s", fresh.Duplicate, fresh.Session.Ref)
	}
	if got := h.econ.Balance("bob", game.CurrencyRC); got != rcBefore-h.cfg.PvP.TicketCostRC {
		t.Fatalf("new request rc got %d want %d", got, rcBefore-h.cfg.PvP.TicketCostRC)
	}
}

func TestPvPIdleLiveSideForfeits(t *testing.T) {
	h := newHarness(t)
	h.econ.Fund("alice", game.CurrencyRC, 20)
	h.econ.Fund("bob", game.CurrencyRC, 20)

	h.start(t, game.VariantPvP, "alice", "a-duel")
	h.start(t, game.VariantPvP, "bob", "b-duel")
	h.play(t, game.VariantPvP, "alice", "a-duel", 1, 5)
	bobRC := h.econ.Balance("bob", game.CurrencyRC)

	left, err := h.svc.Resolve(context.Background(), game.VariantPvP, player("alice"), h.cfg, "a-duel")
	if err != nil {
		t.Fatal(err)
	}
	if left.Outcome != game.OutcomeWin || left.Participant.Forfeit {
		t.Fatalf("alice outcome %s forfeit=%v", left.Outcome, left.Participant.Forfeit)
	}

	right, err := h.svc.Resolve(context.Background(), game.VariantPvP, player("bob"), h.cfg, "a-duel")
	if err != nil {
		t.Fatal(err)
	}
	bob := right.Participant
	if !bob.Forfeit || bob.Outcome != game.OutcomeLoss || bob.Reward != (game.Reward{}) {
		t.Fatalf("bob participant %+v", bob)
	}
	if bob.RatingAfter != 988 {
		t.Fatalf("bob rating got %d want 988", bob.RatingAfter)
	}
	if h.econ.Balance("bob", game.CurrencyRC) != bobRC || h.econ.Balance("bob", game.CurrencySC) != 0 {
		t.Fatal("forfeiting side was paid")
	}
	if h.econ.SeasonPoints("bob") != 0 {
		t.Fatalf("bob season points %d", h.econ.SeasonPoints("bob"))
	}
}

func TestPvPDoesNotPairWithSelfOrPlayedSessions(t *testing.T) {
	h := newHarness(t)
	h.econ.Fund("alice", game.CurrencyRC, 20)
	h.econ.Fund("bob", game.CurrencyRC, 20)

	h.start(t, game.VariantPvP, "alice", "busy")
	h.act(t, game.VariantPvP, "alice", "busy", 1, game.ExpectedAction("busy", 1))

	b := h.start(t, game.VariantPvP, "bob", "solo")
	if b.Session.Ref != "solo" || b.Session.PvP.OpponentType != game.OpponentShadow {
		t.Fatalf("bob paired into a played session: %+v", b.Session)
	}
	for _, e := range h.store.QueueEntries() {
		if e.SessionRef == "busy" && e.Status != game.QueueCancelled {
			t.Fatalf("played candidate still %s", e.Status)
		}
	}
}

type flakyLedger struct {
	*gametest.Economy
	fails int
}

func (l *flakyLedger) CreditReward(ctx context.Context, userID string, reward game.Reward, reason string, keys map[game.Currency]string) error {
	if l.fails > 0 {
		l.fails--
		return errors.New("ledger unavailable")
	}
	return l.Economy.CreditReward(ctx, userID, reward, reason, keys)
}

func TestRaidRetryAfterFailedPayoutDamagesBossOnce(t *testing.T) {
	h := newHarness(t)
	deps := h.econ.Deps(h.store)
	deps.Ledger = &flakyLedger{Economy: h.econ, fails: 1}
	h.svc = game.NewService(deps, nil)
	h.svc.SetClock(h.clock.Now)

	h.econ.Fund("p1", game.CurrencyRC, 20)
	out := h.start(t, game.VariantRaid, "p1", "raid-retry")
	cycleID := out.Session.Boss.ID
	h.play(t, game.VariantRaid, "p1", "raid-retry", 1, 5)

	if _, err := h.svc.Resolve(context.Background(), game.VariantRaid, player("p1"), h.cfg, "raid-retry"); err == nil {
		t.Fatal("expected payout failure")
	}
	afterFailure, _ := h.store.BossCycle(cycleID)
	if afterFailure.HPRemaining >= afterFailure.HPTotal {
		t.Fatalf("damage not recorded ahead of payout: %+v", afterFailure)
	}

	res, err := h.svc.Resolve(context.Background(), game.VariantRaid, player("p1"), h.cfg, "raid-retry")
	if err != nil {
		t.Fatal(err)
	}
	afterRetry, _ := h.store.BossCycle(cycleID)
	if afterRetry.HPRemaining != afterFailure.HPRemaining {
		t.Fatalf("retry damaged boss again: %d -> %d", afterFailure.HPRemaining, afterRetry.HPRemaining)
	}
	if got := res.Session.Result.Metadata["damage_applied"]; got != float64(afterRetry.HPTotal-afterRetry.HPRemaining) {
		t.Fatalf("damage_applied got %v", got)
	}
}

func TestRaidDamageSumsToPool(t *testing.T) {
	h := newHarness(t)
	h.cfg.Raid.BossHP = 1000
	players := []string{"p1", "p2", "p3"}
	for _, p := range players {
		h.econ.Fund(p, game.CurrencyRC, 20)
		out := h.start(t, game.VariantRaid, p, "raid-"+p)
		if out.Session.Boss == nil || out.Session.Boss.HPTotal != 1000 {
			t.Fatalf("boss %+v", out.Session.Boss)
		}
		h.play(t, game.VariantRaid, p, "raid-"+p, 1, 5)
	}

	results := make([]game.ResolveResult, len(players))
	errs := make([]error, len(players))
	var wg sync.WaitGroup
	for i, p := range players {
		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			results[i], errs[i] = h.svc.Resolve(context.Background(), game.VariantRaid, player(p), h.cfg, "raid-"+p)
		}(i, p)
	}
	wg.Wait()

	var applied float64
	defeats := 0
	var cycleID int64
	for i, res := range results {
		if errs[i] != nil {
			t.Fatalf("resolve %s: %v", players[i], errs[i])
		}
		meta := res.Session.Result.Metadata
		if d, ok := meta["damage_done"].(float64); !ok || d != 725 {
			t.Fatalf("damage_done got %v want 725", meta["damage_done"])
		}
		applied += meta["damage_applied"].(float64)
		if meta["boss_defeated"] == true {
			defeats++
		}
		cycleID = int64(meta["boss_cycle_id"].(float64))
	}
	if applied != 1000 {
		t.Fatalf("applied damage got %v want 1000", applied)
	}
	if defeats != 1 {
		t.Fatalf("defeat flips got %d want 1", defeats)
	}
	boss, ok := h.store.BossCycle(cycleID)
	if !ok || boss.HPRemaining != 0 || boss.State != game.BossCooldown {
		t.Fatalf("boss %+v", boss)
	}

	h.clock.Advance(h.cfg.Raid.Cooldown + time.Minute)
	report, err := h.svc.Sweep(context.Background(), h.cfg)
	if err != nil {
		t.Fatal(err)
	}
	if report.BossWave != 2 {
		t.Fatalf("boss wave got %d want 2", report.BossWave)
	}
	next := h.start(t, game.VariantRaid, "p1", "raid-p1-again")
	if next.Session.Boss == nil || next.Session.Boss.WaveIndex != 2 || next.Session.Boss.HPTotal != game.WaveHP(h.cfg.Raid, 2) {
		t.Fatalf("next wave %+v", next.Session.Boss)
	}
}

func TestRaidStartDuringCooldownKeepsCycle(t *testing.T) {
	h := newHarness(t)
	h.cfg.Raid.BossHP = 100
	h.econ.Fund("p1", game.CurrencyRC, 40)
	h.start(t, game.VariantRaid, "p1", "r1")
	h.play(t, game.VariantRaid, "p1", "r1", 1, 5)
	if _, err := h.svc.Resolve(context.Background(), game.VariantRaid, player("p1"), h.cfg, "r1"); err != nil {
		t.Fatal(err)
	}

	out := h.start(t, game.VariantRaid, "p1", "r2")
	if out.Session.Boss.WaveIndex != 1 || out.Session.Boss.State != game.BossCooldown {
		t.Fatalf("boss during cooldown %+v", out.Session.Boss)
	}
}

func TestDailyUsesActiveSeason(t *testing.T) {
	h := newHarness(t)
	h.econ.SeasonID = 4
	d, err := h.svc.Daily(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := game.ResolveDaily(4, h.clock.Now())
	if d.SeasonID != 4 || d.Anomaly.ID != want.Anomaly.ID || d.Contract.ID != want.Contract.ID {
		t.Fatalf("got %+v want %+v", d, want)
	}
}
