// Package memstore is an in-process game.Store. Every transaction holds one
// store-wide mutex, so transactions are serial, and a failed transaction
// restores the snapshot taken when it began.
package memstore

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"lootarena/internal/game"
)

type actionKey struct {
	sessionID int64
	actor     string
	seq       int
}

type state struct {
	nextID   int64
	sessions map[game.Variant]map[int64]*game.Session
	refs     map[game.Variant]map[string]int64
	actions  map[game.Variant]map[actionKey]game.Action
	results  map[game.Variant]map[int64][]byte
	bosses   map[int64]game.BossCycle
	hits     map[int64]game.BossHit
	queue    map[int64]game.QueueEntry
}

type Store struct {
	mu      sync.Mutex
	st      state
	missing map[game.Variant]bool
}

func New() *Store {
	s := &Store{missing: map[game.Variant]bool{}}
	s.st = state{
		sessions: map[game.Variant]map[int64]*game.Session{},
		refs:     map[game.Variant]map[string]int64{},
		actions:  map[game.Variant]map[actionKey]game.Action{},
		results:  map[game.Variant]map[int64][]byte{},
		bosses:   map[int64]game.BossCycle{},
		hits:     map[int64]game.BossHit{},
		queue:    map[int64]game.QueueEntry{},
	}
	for _, v := range []game.Variant{game.VariantArena, game.VariantRaid, game.VariantPvP} {
		s.st.sessions[v] = map[int64]*game.Session{}
		s.st.refs[v] = map[string]int64{}
		s.st.actions[v] = map[actionKey]game.Action{}
		s.st.results[v] = map[int64][]byte{}
	}
	return s
}

// SetMissing makes every operation on variant v fail with game.ErrTablesMissing.
func (s *Store) SetMissing(v game.Variant, missing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.missing[v] = missing
}

func (s *Store) InTx(ctx context.Context, fn func(tx game.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.st.clone()
	if err := fn(&tx{s: s}); err != nil {
		s.st = snap
		return err
	}
	return nil
}

// BossCycle returns a copy of a boss cycle outside any transaction.
func (s *Store) BossCycle(id int64) (game.BossCycle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.st.bosses[id]
	return c, ok
}

// SessionCount reports how many sessions of v exist in any status.
func (s *Store) SessionCount(v game.Variant) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.sessions[v])
}

// QueueEntries returns a copy of the matchmaking queue ordered by id.
func (s *Store) QueueEntries() []game.QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]game.QueueEntry, 0, len(s.st.queue))
	for _, e := range s.st.queue {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b game.QueueEntry) int { return int(a.ID - b.ID) })
	return out
}

func (st state) clone() state {
	out := state{
		nextID:   st.nextID,
		sessions: make(map[game.Variant]map[int64]*game.Session, len(st.sessions)),
		refs:     make(map[game.Variant]map[string]int64, len(st.refs)),
		actions:  make(map[game.Variant]map[actionKey]game.Action, len(st.actions)),
		results:  make(map[game.Variant]map[int64][]byte, len(st.results)),
		bosses:   make(map[int64]game.BossCycle, len(st.bosses)),
		hits:     make(map[int64]game.BossHit, len(st.hits)),
		queue:    make(map[int64]game.QueueEntry, len(st.queue)),
	}
	for v, m := range st.sessions {
		cp := make(map[int64]*game.Session, len(m))
		for id, sess := range m {
			cp[id] = cloneSession(sess)
		}
		out.sessions[v] = cp
	}
	for v, m := range st.refs {
		out.refs[v] = cloneMap(m)
	}
	for v, m := range st.actions {
		out.actions[v] = cloneMap(m)
	}
	for v, m := range st.results {
		out.results[v] = cloneMap(m)
	}
	for id, c := range st.bosses {
		out.bosses[id] = cloneBoss(c)
	}
	for id, h := range st.hits {
		h.Cycle = cloneBoss(h.Cycle)
		out.hits[id] = h
	}
	for id, e := range st.queue {
		out.queue[id] = cloneEntry(e)
	}
	return out
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneSession(s *game.Session) *game.Session {
	cp := *s
	if s.ResolvedAt != nil {
		t := *s.ResolvedAt
		cp.ResolvedAt = &t
	}
	if s.BossCycleID != nil {
		id := *s.BossCycleID
		cp.BossCycleID = &id
	}
	if s.PvP != nil {
		p := *s.PvP
		if s.PvP.UserRightID != nil {
			u := *s.PvP.UserRightID
			p.UserRightID = &u
		}
		cp.PvP = &p
	}
	return &cp
}

func cloneBoss(c game.BossCycle) game.BossCycle {
	if c.CooldownUntil != nil {
		t := *c.CooldownUntil
		c.CooldownUntil = &t
	}
	if c.DefeatedAt != nil {
		t := *c.DefeatedAt
		c.DefeatedAt = &t
	}
	return c
}

func cloneEntry(e game.QueueEntry) game.QueueEntry {
	if e.MatchedWith != nil {
		m := *e.MatchedWith
		e.MatchedWith = &m
	}
	return e
}

type tx struct {
	s *Store
}

func (t *tx) id() int64 {
	t.s.st.nextID++
	return t.s.st.nextID
}

func (t *tx) check(v game.Variant) error {
	if t.s.missing[v] {
		return game.ErrTablesMissing
	}
	return nil
}

func (t *tx) LockUser(_ context.Context, v game.Variant, _ string) error {
	return t.check(v)
}

func (t *tx) ExpireStale(_ context.Context, v game.Variant, userID string, now time.Time) (int64, error) {
	if err := t.check(v); err != nil {
		return 0, err
	}
	var n int64
	for _, sess := range t.s.st.sessions[v] {
		if sess.IsParticipant(userID) && sess.ExpiredAt(now) {
			sess.Status = game.StatusExpired
			sess.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (t *tx) ExpireAll(_ context.Context, v game.Variant, now time.Time) (int64, error) {
	if err := t.check(v); err != nil {
		return 0, err
	}
	var n int64
	for _, sess := range t.s.st.sessions[v] {
		if sess.ExpiredAt(now) {
			sess.Status = game.StatusExpired
			sess.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (t *tx) FindActive(_ context.Context, v game.Variant, userID string) (*game.Session, error) {
	if err := t.check(v); err != nil {
		return nil, err
	}
	var found *game.Session
	for _, sess := range t.s.st.sessions[v] {
		if sess.Status != game.StatusActive || !sess.IsParticipant(userID) {
			continue
		}
		if found == nil || sess.ID > found.ID {
			found = sess
		}
	}
	if found == nil {
		return nil, game.ErrNotFound
	}
	return cloneSession(found), nil
}

func (t *tx) SessionByRef(_ context.Context, v game.Variant, ref string, _ bool) (*game.Session, error) {
	if err := t.check(v); err != nil {
		return nil, err
	}
	id, ok := t.s.st.refs[v][ref]
	if !ok {
		return nil, game.ErrNotFound
	}
	return cloneSession(t.s.st.sessions[v][id]), nil
}

func (t *tx) LatestResolved(_ context.Context, v game.Variant, userID string, since time.Time) (*game.Session, error) {
	if err := t.check(v); err != nil {
		return nil, err
	}
	var found *game.Session
	for _, sess := range t.s.st.sessions[v] {
		if sess.Status != game.StatusResolved || sess.ResolvedAt == nil || !sess.IsParticipant(userID) {
			continue
		}
		if sess.ResolvedAt.Before(since) {
			continue
		}
		if found == nil || sess.ResolvedAt.After(*found.ResolvedAt) {
			found = sess
		}
	}
	if found == nil {
		return nil, game.ErrNotFound
	}
	return cloneSession(found), nil
}

func (t *tx) CreateSession(_ context.Context, sess *game.Session) (*game.Session, bool, error) {
	if err := t.check(sess.Variant); err != nil {
		return nil, false, err
	}
	if id, ok := t.s.st.refs[sess.Variant][sess.Ref]; ok {
		return cloneSession(t.s.st.sessions[sess.Variant][id]), false, nil
	}
	row := cloneSession(sess)
	row.ID = t.id()
	t.s.st.sessions[sess.Variant][row.ID] = row
	t.s.st.refs[sess.Variant][row.Ref] = row.ID
	return cloneSession(row), true, nil
}

func (t *tx) UpdateSession(_ context.Context, sess *game.Session) error {
	if err := t.check(sess.Variant); err != nil {
		return err
	}
	if _, ok := t.s.st.sessions[sess.Variant][sess.ID]; !ok {
		return game.ErrNotFound
	}
	t.s.st.sessions[sess.Variant][sess.ID] = cloneSession(sess)
	return nil
}

func (t *tx) ActionBySeq(_ context.Context, v game.Variant, sessionID int64, actor string, seq int) (*game.Action, error) {
	if err := t.check(v); err != nil {
		return nil, err
	}
	a, ok := t.s.st.actions[v][actionKey{sessionID, actor, seq}]
	if !ok {
		return nil, game.ErrNotFound
	}
	return &a, nil
}

func (t *tx) InsertAction(_ context.Context, v game.Variant, a *game.Action) (*game.Action, bool, error) {
	if err := t.check(v); err != nil {
		return nil, false, err
	}
	key := actionKey{a.SessionID, a.ActorUserID, a.ActionSeq}
	if stored, ok := t.s.st.actions[v][key]; ok {
		return &stored, false, nil
	}
	row := *a
	t.s.st.actions[v][key] = row
	return &row, true, nil
}

func (t *tx) ResultBySession(_ context.Context, v game.Variant, sessionID int64) (*game.Result, error) {
	if err := t.check(v); err != nil {
		return nil, err
	}
	raw, ok := t.s.st.results[v][sessionID]
	if !ok {
		return nil, game.ErrNotFound
	}
	var r game.Result
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	r.SessionID = sessionID
	return &r, nil
}

// InsertResult stores the result as JSON so reads see exactly what a
// relational store would hand back.
func (t *tx) InsertResult(ctx context.Context, v game.Variant, r *game.Result) (*game.Result, bool, error) {
	if err := t.check(v); err != nil {
		return nil, false, err
	}
	if _, ok := t.s.st.results[v][r.SessionID]; ok {
		stored, err := t.ResultBySession(ctx, v, r.SessionID)
		return stored, false, err
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, false, err
	}
	t.s.st.results[v][r.SessionID] = raw
	stored, err := t.ResultBySession(ctx, v, r.SessionID)
	return stored, true, err
}

func (t *tx) LatestBossCycle(_ context.Context, seasonID int64) (*game.BossCycle, error) {
	if err := t.check(game.VariantRaid); err != nil {
		return nil, err
	}
	var found *game.BossCycle
	for _, c := range t.s.st.bosses {
		if c.SeasonID != seasonID {
			continue
		}
		if found == nil || c.WaveIndex > found.WaveIndex {
			cp := cloneBoss(c)
			found = &cp
		}
	}
	if found == nil {
		return nil, game.ErrNotFound
	}
	return found, nil
}

func (t *tx) BossCycleByID(_ context.Context, id int64) (*game.BossCycle, error) {
	if err := t.check(game.VariantRaid); err != nil {
		return nil, err
	}
	c, ok := t.s.st.bosses[id]
	if !ok {
		return nil, game.ErrNotFound
	}
	cp := cloneBoss(c)
	return &cp, nil
}

func (t *tx) CreateBossCycle(_ context.Context, c *game.BossCycle) (*game.BossCycle, bool, error) {
	if err := t.check(game.VariantRaid); err != nil {
		return nil, false, err
	}
	for _, existing := range t.s.st.bosses {
		if existing.SeasonID == c.SeasonID && existing.WaveIndex == c.WaveIndex {
			cp := cloneBoss(existing)
			return &cp, false, nil
		}
	}
	row := cloneBoss(*c)
	row.ID = t.id()
	t.s.st.bosses[row.ID] = row
	cp := cloneBoss(row)
	return &cp, true, nil
}

func (t *tx) DamageBoss(_ context.Context, cycleID, damage int64, cooldownUntil, now time.Time) (game.BossHit, error) {
	if err := t.check(game.VariantRaid); err != nil {
		return game.BossHit{}, err
	}
	c, ok := t.s.st.bosses[cycleID]
	if !ok {
		return game.BossHit{}, game.ErrNotFound
	}
	if damage < 0 {
		damage = 0
	}
	applied := min(damage, c.HPRemaining)
	c.HPRemaining -= applied
	defeated := false
	if c.HPRemaining == 0 && c.State == game.BossActive {
		until, at := cooldownUntil, now
		c.State = game.BossCooldown
		c.CooldownUntil = &until
		c.DefeatedAt = &at
		defeated = true
	}
	t.s.st.bosses[cycleID] = c
	return game.BossHit{Damage: damage, Applied: applied, Remaining: c.HPRemaining, Defeated: defeated, Cycle: cloneBoss(c)}, nil
}

func (t *tx) RecordBossHit(ctx context.Context, sessionID, cycleID, damage int64, cooldownUntil, now time.Time) (game.BossHit, error) {
	if err := t.check(game.VariantRaid); err != nil {
		return game.BossHit{}, err
	}
	if h, ok := t.s.st.hits[sessionID]; ok {
		h.Cycle = cloneBoss(h.Cycle)
		return h, nil
	}
	hit, err := t.DamageBoss(ctx, cycleID, damage, cooldownUntil, now)
	if err != nil {
		return game.BossHit{}, err
	}
	t.s.st.hits[sessionID] = hit
	hit.Cycle = cloneBoss(hit.Cycle)
	return hit, nil
}

func (t *tx) ClaimWaiting(_ context.Context, exclude string, now time.Time, limit int) ([]game.QueueEntry, error) {
	if err := t.check(game.VariantPvP); err != nil {
		return nil, err
	}
	var out []game.QueueEntry
	for _, e := range t.s.st.queue {
		if e.Status == game.QueueWaiting && e.UserID != exclude && now.Before(e.ExpiresAt) {
			out = append(out, cloneEntry(e))
		}
	}
	slices.SortFunc(out, func(a, b game.QueueEntry) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return int(a.ID - b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *tx) Enqueue(_ context.Context, e *game.QueueEntry) (*game.QueueEntry, error) {
	if err := t.check(game.VariantPvP); err != nil {
		return nil, err
	}
	row := cloneEntry(*e)
	row.ID = t.id()
	t.s.st.queue[row.ID] = row
	cp := cloneEntry(row)
	return &cp, nil
}

func (t *tx) QueueEntryByRequest(_ context.Context, userID, requestRef string) (*game.QueueEntry, error) {
	if err := t.check(game.VariantPvP); err != nil {
		return nil, err
	}
	if requestRef == "" {
		return nil, game.ErrNotFound
	}
	for _, e := range t.s.st.queue {
		if e.UserID == userID && e.RequestRef == requestRef {
			cp := cloneEntry(e)
			return &cp, nil
		}
	}
	return nil, game.ErrNotFound
}

func (t *tx) SetQueueStatus(_ context.Context, id int64, status game.QueueStatus, matchedWith *string) error {
	if err := t.check(game.VariantPvP); err != nil {
		return err
	}
	e, ok := t.s.st.queue[id]
	if !ok {
		return game.ErrNotFound
	}
	e.Status = status
	if matchedWith != nil {
		m := *matchedWith
		e.MatchedWith = &m
	}
	t.s.st.queue[id] = e
	return nil
}

func (t *tx) ExpireQueue(_ context.Context, now time.Time) (int64, error) {
	if err := t.check(game.VariantPvP); err != nil {
		return 0, err
	}
	var n int64
	for id, e := range t.s.st.queue {
		if e.Status == game.QueueWaiting && !now.Before(e.ExpiresAt) {
			e.Status = game.QueueExpired
			t.s.st.queue[id] = e
			n++
		}
	}
	return n, nil
}

var _ game.Store = (*Store)(nil)
