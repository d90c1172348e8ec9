package rules

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	r := Defaults()
	if err := r.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *Rules)
	}{
		{"zero ttl", func(r *Rules) { r.Arena.SessionTTL = 0 }},
		{"min above max", func(r *Rules) { r.Raid.MinActionsToResolve = r.Raid.MaxActions + 1 }},
		{"hard below soft", func(r *Rules) { r.PvP.LatencyHardMS = r.PvP.LatencySoftMS - 1 }},
		{"negative cost", func(r *Rules) { r.Arena.TicketCostRC = -1 }},
		{"jitter inverted", func(r *Rules) { r.PvP.ShadowJitterMax = r.PvP.ShadowJitterMin / 2 }},
		{"negative draw band", func(r *Rules) { r.PvP.DrawBand = -1 }},
		{"no boss", func(r *Rules) { r.Raid.BossHP = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Defaults()
			tt.mutate(&r)
			if err := r.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	body := `
arena:
  ticket_cost_rc: 9
  session_ttl: 3m
raid:
  boss_hp: 5000
  cooldown: 10m
pvp:
  draw_band: 5
  max_actions: 20
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	r, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if r.Arena.TicketCostRC != 9 || r.Arena.SessionTTL != 3*time.Minute {
		t.Fatalf("arena got cost=%d ttl=%s", r.Arena.TicketCostRC, r.Arena.SessionTTL)
	}
	if r.Raid.BossHP != 5000 || r.Raid.Cooldown != 10*time.Minute {
		t.Fatalf("raid got hp=%d cooldown=%s", r.Raid.BossHP, r.Raid.Cooldown)
	}
	if r.PvP.DrawBand != 5 || r.PvP.MaxActions != 20 {
		t.Fatalf("pvp got band=%d max=%d", r.PvP.DrawBand, r.PvP.MaxActions)
	}
	if r.Arena.MaxActions != Defaults().Arena.MaxActions {
		t.Fatalf("untouched key changed: %d", r.Arena.MaxActions)
	}
	if r.Raid.TicketCostRC != Defaults().Raid.TicketCostRC {
		t.Fatalf("inline raid key changed: %d", r.Raid.TicketCostRC)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte("arena:\n  max_actions: 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid rules")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestTTLPolicy(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := TTLPolicy{TTL: time.Minute}
	if !p.Stale(time.Time{}, now) {
		t.Fatal("zero fetch time should be stale")
	}
	if p.Stale(now.Add(-30*time.Second), now) {
		t.Fatal("fresh snapshot reported stale")
	}
	if !p.Stale(now.Add(-time.Minute), now) {
		t.Fatal("expired snapshot reported fresh")
	}
	if (TTLPolicy{}).Stale(now.Add(-time.Hour), now) {
		t.Fatal("zero ttl should never go stale")
	}
}

type scriptedLoader struct {
	calls int
	fail  bool
	cost  int64
}

func (l *scriptedLoader) Load(context.Context) (Rules, error) {
	l.calls++
	if l.fail {
		return Rules{}, errors.New("rules source down")
	}
	r := Defaults()
	r.Arena.TicketCostRC = l.cost
	return r, nil
}

func TestCacheRefreshesAndFallsBack(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	loader := &scriptedLoader{cost: 5}
	c := NewCache(loader, TTLPolicy{TTL: time.Minute}, nil)
	c.now = func() time.Time { return now }

	r, err := c.Get(context.Background())
	if err != nil || r.Arena.TicketCostRC != 5 {
		t.Fatalf("first get cost=%v err=%v", r, err)
	}
	if _, err := c.Get(context.Background()); err != nil || loader.calls != 1 {
		t.Fatalf("fresh get reloaded: calls=%d err=%v", loader.calls, err)
	}

	now = now.Add(2 * time.Minute)
	loader.cost = 7
	r, err = c.Get(context.Background())
	if err != nil || r.Arena.TicketCostRC != 7 {
		t.Fatalf("stale get cost=%d err=%v", r.Arena.TicketCostRC, err)
	}

	now = now.Add(2 * time.Minute)
	loader.fail = true
	r, err = c.Get(context.Background())
	if err != nil {
		t.Fatalf("failed refresh should serve previous snapshot: %v", err)
	}
	if r.Arena.TicketCostRC != 7 {
		t.Fatalf("fallback cost got %d want 7", r.Arena.TicketCostRC)
	}
}

func TestCacheFailsWithoutSnapshot(t *testing.T) {
	c := NewCache(&scriptedLoader{fail: true}, TTLPolicy{TTL: time.Minute}, nil)
	if _, err := c.Get(context.Background()); err == nil {
		t.Fatal("expected error with no snapshot")
	}
}

func TestStaticCache(t *testing.T) {
	r := Defaults()
	r.PvP.DrawBand = 9
	got, err := Static(r).Get(context.Background())
	if err != nil || got.PvP.DrawBand != 9 {
		t.Fatalf("static got %v err %v", got, err)
	}
}

func TestFileLoaderEmptyPathServesDefaults(t *testing.T) {
	r, err := FileLoader{}.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if r.Arena.TicketCostRC != Defaults().Arena.TicketCostRC {
		t.Fatalf("cost got %d", r.Arena.TicketCostRC)
	}
}
