// Package gametest provides in-memory collaborators for exercising the
// session controller without Postgres.
package gametest

import (
	"context"
	"sync"

	"lootarena/internal/game"
)

// Event is one recorded behaviour event.
type Event struct {
	UserID string
	Kind   string
	Meta   map[string]any
}

// Economy implements every collaborator interface the controller needs.
// Idempotency keys are honoured the same way the Postgres ledger honours them.
type Economy struct {
	mu sync.Mutex

	SeasonID      int64
	InitialRating int

	balances map[string]map[game.Currency]int64
	keys     map[string]bool
	ratings  map[string]game.RatingState
	points   map[string]int64
	warPool  map[int64]int64
	risk     map[string]float64
	effects  map[string][]game.ShopEffect
	profiles map[string]game.Profile
	events   []Event
	credits  int
}

func NewEconomy() *Economy {
	return &Economy{
		SeasonID:      1,
		InitialRating: 1000,
		balances:      map[string]map[game.Currency]int64{},
		keys:          map[string]bool{},
		ratings:       map[string]game.RatingState{},
		points:        map[string]int64{},
		warPool:       map[int64]int64{},
		risk:          map[string]float64{},
		effects:       map[string][]game.ShopEffect{},
		profiles:      map[string]game.Profile{},
	}
}

// Deps wires e into every collaborator slot around store.
func (e *Economy) Deps(store game.Store) game.Deps {
	return game.Deps{
		Store:    store,
		Ledger:   e,
		Risk:     e,
		Shop:     e,
		Seasons:  e,
		Ratings:  e,
		Profiles: e,
	}
}

func (e *Economy) Fund(userID string, c game.Currency, amount int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.wallet(userID)[c] += amount
}

func (e *Economy) Balance(userID string, c game.Currency) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wallet(userID)[c]
}

func (e *Economy) SetRisk(userID string, score float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.risk[userID] = score
}

func (e *Economy) SetEffects(userID string, effects ...game.ShopEffect) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.effects[userID] = effects
}

func (e *Economy) SetProfile(p game.Profile) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.profiles[p.UserID] = p
}

func (e *Economy) SeasonPoints(userID string) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.points[userID]
}

func (e *Economy) WarPool(seasonID int64) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.warPool[seasonID]
}

func (e *Economy) Events(kind string) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Event
	for _, ev := range e.events {
		if kind == "" || ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// Credits counts credit legs that actually moved money.
func (e *Economy) Credits() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.credits
}

func (e *Economy) wallet(userID string) map[game.Currency]int64 {
	w, ok := e.balances[userID]
	if !ok {
		w = map[game.Currency]int64{}
		e.balances[userID] = w
	}
	return w
}

// claim reports false when key was already used.
func (e *Economy) claim(key string) bool {
	if key == "" {
		return true
	}
	if e.keys[key] {
		return false
	}
	e.keys[key] = true
	return true
}

func (e *Economy) Debit(_ context.Context, userID string, c game.Currency, amount int64, _ string, idemKey string) (game.DebitResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.keys[idemKey] {
		return game.DebitResult{Applied: true, Reason: "already_applied"}, nil
	}
	w := e.wallet(userID)
	if w[c] < amount {
		return game.DebitResult{Reason: "insufficient_funds"}, nil
	}
	e.claim(idemKey)
	w[c] -= amount
	return game.DebitResult{Applied: true}, nil
}

func (e *Economy) CreditReward(_ context.Context, userID string, reward game.Reward, _ string, idemKeys map[game.Currency]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	w := e.wallet(userID)
	for _, c := range []game.Currency{game.CurrencySC, game.CurrencyHC, game.CurrencyRC} {
		amount := reward.Amount(c)
		if amount <= 0 || !e.claim(idemKeys[c]) {
			continue
		}
		w[c] += amount
		e.credits++
	}
	return nil
}

func (e *Economy) RecordEvent(_ context.Context, userID, eventType string, meta map[string]any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, Event{UserID: userID, Kind: eventType, Meta: meta})
	return nil
}

func (e *Economy) RiskScore(_ context.Context, userID string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.risk[userID], nil
}

func (e *Economy) ActiveEffects(_ context.Context, userID string) ([]game.ShopEffect, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]game.ShopEffect(nil), e.effects[userID]...), nil
}

func (e *Economy) ActiveSeasonID(context.Context) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.SeasonID, nil
}

func (e *Economy) AddSeasonPoints(_ context.Context, userID string, _ int64, points int64, idemKey string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.claim(idemKey) {
		e.points[userID] += points
	}
	return nil
}

func (e *Economy) IncrementWarPool(_ context.Context, seasonID, delta int64, idemKey string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.claim(idemKey) {
		e.warPool[seasonID] += delta
	}
	return nil
}

func (e *Economy) Rating(_ context.Context, userID string) (game.RatingState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rating(userID), nil
}

func (e *Economy) rating(userID string) game.RatingState {
	r, ok := e.ratings[userID]
	if !ok {
		r = game.RatingState{UserID: userID, Rating: e.InitialRating}
	}
	return r
}

func (e *Economy) ApplyOutcome(_ context.Context, userID string, delta int, outcome game.Outcome, idemKey string) (game.RatingState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.rating(userID)
	if !e.claim(idemKey) {
		return r, nil
	}
	r.Rating += delta
	r.Games++
	switch outcome {
	case game.OutcomeWin:
		r.Wins++
	case game.OutcomeLoss:
		r.Losses++
	}
	e.ratings[userID] = r
	return r, nil
}

func (e *Economy) EnsurePlayer(_ context.Context, userID, _ string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.profiles[userID]; !ok {
		e.profiles[userID] = game.Profile{UserID: userID, KingdomTier: 1}
	}
	return nil
}

func (e *Economy) GetProfile(_ context.Context, userID string) (game.Profile, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.profiles[userID]
	if !ok {
		return game.Profile{UserID: userID}, nil
	}
	return p, nil
}
