package game

import (
	"testing"
	"time"

	"lootarena/internal/rules"
)

func TestResolveDailyIsDeterministic(t *testing.T) {
	at := time.Date(2026, 3, 10, 5, 0, 0, 0, time.UTC)
	later := time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC)
	a := ResolveDaily(7, at)
	b := ResolveDaily(7, later)
	if a.Anomaly.ID != b.Anomaly.ID || a.Contract.ID != b.Contract.ID {
		t.Fatalf("same day resolved differently: %s/%s vs %s/%s", a.Anomaly.ID, a.Contract.ID, b.Anomaly.ID, b.Contract.ID)
	}
	if a.DateKey != "2026-03-10" {
		t.Fatalf("date key got %q", a.DateKey)
	}
}

func TestDailyIndexStepsPastPriorPick(t *testing.T) {
	n := len(anomalyCatalog)
	idOf := func(i int) string { return anomalyCatalog[i].ID }
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for d := 0; d < 90; d++ {
		at := start.AddDate(0, 0, d)
		prior := int(SeededHash("anomaly", "3|"+DateKey(at.AddDate(0, 0, -1))) % uint64(n))
		if got := dailyIndex("anomaly", 3, at, n, idOf); got == prior {
			t.Fatalf("%s: picked prior index %d", DateKey(at), got)
		}
	}
}

func TestDailyAnomalyClampsRiskShift(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for d := 0; d < 365; d++ {
		a := DailyAnomaly(1, start.AddDate(0, 0, d))
		if a.RiskShift > maxRiskShift || a.RiskShift < -maxRiskShift {
			t.Fatalf("%s: risk shift %v out of range", a.ID, a.RiskShift)
		}
	}
}

func TestDailyContractIsACopy(t *testing.T) {
	at := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	c := DailyContract(1, at)
	if len(c.FocusFamilies) > 0 {
		c.FocusFamilies[0] = "mutated"
	}
	if again := DailyContract(1, at); len(again.FocusFamilies) > 0 && again.FocusFamilies[0] == "mutated" {
		t.Fatal("catalog mutated through returned contract")
	}
}

func TestContractMatches(t *testing.T) {
	oath := Contract{RequiredMode: ModeBalanced, FocusFamilies: []string{"pvp"}, RequireResult: RequireSuccess}
	vanguard := Contract{FocusFamilies: []string{"raid"}, RequireResult: RequireSuccessOrNear}
	drums := Contract{RequireResult: RequireAny}

	tests := []struct {
		name     string
		contract Contract
		mode     Mode
		family   string
		outcome  Outcome
		want     bool
	}{
		{"all conditions", oath, ModeBalanced, "pvp", OutcomeWin, true},
		{"wrong mode", oath, ModeSafe, "pvp", OutcomeWin, false},
		{"wrong family", oath, ModeBalanced, "arena", OutcomeWin, false},
		{"near not enough", oath, ModeBalanced, "pvp", OutcomeNear, false},
		{"near accepted", vanguard, ModeAggressive, "raid", OutcomeNear, true},
		{"loss rejected", vanguard, ModeAggressive, "raid", OutcomeLoss, false},
		{"any result any family", drums, ModeSafe, "arena", OutcomeLoss, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.contract.Matches(tt.mode, tt.family, tt.outcome); got != tt.want {
				t.Fatalf("got %v want %v", got, tt.want)
			}
		})
	}
}

func TestContractEffectiveSCMultiplier(t *testing.T) {
	cr := rules.Defaults().Contract
	c := Contract{SCMultiplier: 1.08}
	if got := c.EffectiveSCMultiplier(0, cr); got != 1.08 {
		t.Fatalf("got %v want 1.08", got)
	}
	if got := c.EffectiveSCMultiplier(100, cr); got != 1.08+cr.ComboCap {
		t.Fatalf("got %v want %v", got, 1.08+cr.ComboCap)
	}
}

func TestSeededFloatRange(t *testing.T) {
	for i := 0; i < 200; i++ {
		f := SeededFloat("range", seqKey("ref", i))
		if f < 0 || f >= 1 {
			t.Fatalf("got %v", f)
		}
	}
}

func TestCatalogsAreCopies(t *testing.T) {
	anomalies := AnomalyCatalog()
	contracts := ContractCatalog()
	if len(anomalies) == 0 || len(contracts) == 0 {
		t.Fatal("empty catalog")
	}
	id := anomalies[0].ID
	anomalies[0].ID = "changed"
	if AnomalyCatalog()[0].ID != id {
		t.Fatal("anomaly catalog mutated through copy")
	}
	for i, c := range contracts {
		if len(c.FocusFamilies) == 0 {
			continue
		}
		family := c.FocusFamilies[0]
		contracts[i].FocusFamilies[0] = "changed"
		if ContractCatalog()[i].FocusFamilies[0] != family {
			t.Fatal("contract focus families share backing storage")
		}
		return
	}
}

func TestSeededHashKnownValues(t *testing.T) {
	tests := []struct {
		ns, key string
		want    uint64
	}{
		{"", "", 0xaf63f14c8602103b},
		{"action", "ref:1", 0xeab9f50498afe397},
		{"shadow", "a-duel", 0xcf73f2b8e94d3f33},
	}
	for _, tt := range tests {
		if got := SeededHash(tt.ns, tt.key); got != tt.want {
			t.Errorf("SeededHash(%q, %q) = %#x want %#x", tt.ns, tt.key, got, tt.want)
		}
	}
	if SeededHash("a", "b") == SeededHash("ab", "") {
		t.Fatal("separator not mixed between namespace and key")
	}
}
