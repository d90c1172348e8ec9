// Package rules holds the economy runtime configuration consumed by the session
// engine: ticket costs, TTLs, latency thresholds, payout tables and the tuning
// constants of the reward pipeline. A Rules value is an immutable snapshot; the
// Cache decides when a fresh one is loaded.
package rules

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Rules struct {
	Arena        VariantRules         `yaml:"arena"`
	Raid         RaidRules            `yaml:"raid"`
	PvP          PvPRules             `yaml:"pvp"`
	Modes        map[string]ModeDelta `yaml:"modes"`
	HiddenBonus  HiddenBonusRules     `yaml:"hidden_bonus"`
	Combo        ComboRules           `yaml:"combo"`
	Contract     ContractRules        `yaml:"contract"`
	Rating       RatingRules          `yaml:"rating"`
	Risk         RiskRules            `yaml:"risk"`
	RecentWindow time.Duration        `yaml:"recent_window"`
}

// VariantRules are the knobs shared by every mini-game variant.
type VariantRules struct {
	TicketCostRC        int64         `yaml:"ticket_cost_rc"`
	SessionTTL          time.Duration `yaml:"session_ttl"`
	MaxActions          int           `yaml:"max_actions"`
	MinActionsToResolve int           `yaml:"min_actions_to_resolve"`
	LatencySoftMS       int64         `yaml:"latency_soft_ms"`
	LatencyHardMS       int64         `yaml:"latency_hard_ms"`
	AcceptPoints        int64         `yaml:"accept_points"`
	MissPenalty         int64         `yaml:"miss_penalty"`
	TimingPenalty       int64         `yaml:"timing_penalty"`
	WinScore            int64         `yaml:"win_score"`
	NearScore           int64         `yaml:"near_score"`
	Payouts             PayoutTable   `yaml:"payouts"`
	SeasonPoints        OutcomeInts   `yaml:"season_points"`
	WarPoints           OutcomeInts   `yaml:"war_points"`
}

type RaidRules struct {
	VariantRules   `yaml:",inline"`
	BossHP         int64         `yaml:"boss_hp"`
	WaveHPGrowth   float64       `yaml:"wave_hp_growth"`
	Cooldown       time.Duration `yaml:"cooldown"`
	DamagePerPoint int64         `yaml:"damage_per_point"`
	ComboDamage    int64         `yaml:"combo_damage"`
	WinDamage      int64         `yaml:"win_damage"`
	NearDamage     int64         `yaml:"near_damage"`
	WarDamageShare float64       `yaml:"war_damage_share"`
}

type PvPRules struct {
	VariantRules    `yaml:",inline"`
	QueueTTL        time.Duration `yaml:"queue_ttl"`
	PairScanLimit   int           `yaml:"pair_scan_limit"`
	DrawBand        int64         `yaml:"draw_band"`
	ShadowJitterMin float64       `yaml:"shadow_jitter_min"`
	ShadowJitterMax float64       `yaml:"shadow_jitter_max"`
	ShadowFloor     int64         `yaml:"shadow_floor"`
	Transport       string        `yaml:"transport"`
	TickMS          int           `yaml:"tick_ms"`
	ActionWindowMS  int           `yaml:"action_window_ms"`
}

type OutcomeInts struct {
	Win  int64 `yaml:"win"`
	Near int64 `yaml:"near"`
	Loss int64 `yaml:"loss"`
}

// PayoutTable lists score bands per outcome. The band with the highest
// MinScore not above the session score pays out.
type PayoutTable struct {
	Win  []PayoutBand `yaml:"win"`
	Near []PayoutBand `yaml:"near"`
	Loss []PayoutBand `yaml:"loss"`
}

type PayoutBand struct {
	MinScore int64 `yaml:"min_score"`
	SC       int64 `yaml:"sc"`
	HC       int64 `yaml:"hc"`
	RC       int64 `yaml:"rc"`
}

// ModeDelta is added to 1.0 to form the mode multiplier. HC is never touched.
type ModeDelta struct {
	SC float64 `yaml:"sc"`
	RC float64 `yaml:"rc"`
}

type FlatBonus struct {
	SC int64 `yaml:"sc"`
	RC int64 `yaml:"rc"`
}

type HiddenBonusRules struct {
	Thresholds map[string]float64 `yaml:"thresholds"`
	Win        FlatBonus          `yaml:"win"`
	Near       FlatBonus          `yaml:"near"`
	Loss       FlatBonus          `yaml:"loss"`
}

type ComboRules struct {
	Step float64 `yaml:"step"`
	Cap  float64 `yaml:"cap"`
}

type ContractRules struct {
	ComboStep float64 `yaml:"combo_step"`
	ComboCap  float64 `yaml:"combo_cap"`
}

type RatingRules struct {
	Initial         int     `yaml:"initial"`
	KFactor         float64 `yaml:"k_factor"`
	Win             int     `yaml:"win"`
	Near            int     `yaml:"near"`
	Loss            int     `yaml:"loss"`
	MomentumDivisor int64   `yaml:"momentum_divisor"`
	MomentumCap     int     `yaml:"momentum_cap"`
}

type RiskRules struct {
	ForceSafeAt            float64 `yaml:"force_safe_at"`
	SuggestSafeAt          float64 `yaml:"suggest_safe_at"`
	SuggestAggressiveBelow float64 `yaml:"suggest_aggressive_below"`
}

// Variant returns the shared knobs for the named variant.
func (r *Rules) Variant(name string) (VariantRules, error) {
	switch name {
	case "arena":
		return r.Arena, nil
	case "raid":
		return r.Raid.VariantRules, nil
	case "pvp":
		return r.PvP.VariantRules, nil
	default:
		return VariantRules{}, fmt.Errorf("unknown variant %q", name)
	}
}

func (r *Rules) Validate() error {
	for _, name := range []string{"arena", "raid", "pvp"} {
		v, _ := r.Variant(name)
		if v.SessionTTL <= 0 {
			return fmt.Errorf("%s.session_ttl must be > 0", name)
		}
		if v.MaxActions <= 0 {
			return fmt.Errorf("%s.max_actions must be > 0", name)
		}
		if v.MinActionsToResolve < 1 || v.MinActionsToResolve > v.MaxActions {
			return fmt.Errorf("%s.min_actions_to_resolve must be within 1..max_actions", name)
		}
		if v.LatencySoftMS <= 0 || v.LatencyHardMS < v.LatencySoftMS {
			return fmt.Errorf("%s latency thresholds must satisfy 0 < soft <= hard", name)
		}
		if v.TicketCostRC < 0 {
			return fmt.Errorf("%s.ticket_cost_rc must be >= 0", name)
		}
	}
	if r.PvP.ShadowJitterMin <= 0 || r.PvP.ShadowJitterMax < r.PvP.ShadowJitterMin {
		return fmt.Errorf("pvp shadow jitter range must satisfy 0 < min <= max")
	}
	if r.PvP.DrawBand < 0 {
		return fmt.Errorf("pvp.draw_band must be >= 0")
	}
	if r.PvP.QueueTTL <= 0 {
		return fmt.Errorf("pvp.queue_ttl must be > 0")
	}
	if r.Raid.BossHP <= 0 {
		return fmt.Errorf("raid.boss_hp must be > 0")
	}
	return nil
}

// Load overlays the YAML file at path onto Defaults.
func Load(path string) (Rules, error) {
	r := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return r, fmt.Errorf("reading rules file: %w", err)
	}
	if err := yaml.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("parsing rules file: %w", err)
	}
	if err := r.Validate(); err != nil {
		return r, fmt.Errorf("invalid rules: %w", err)
	}
	return r, nil
}

func Defaults() Rules {
	base := VariantRules{
		TicketCostRC:        5,
		SessionTTL:          10 * time.Minute,
		MaxActions:          40,
		MinActionsToResolve: 5,
		LatencySoftMS:       900,
		LatencyHardMS:       2500,
		AcceptPoints:        10,
		MissPenalty:         4,
		TimingPenalty:       12,
		WinScore:            200,
		NearScore:           120,
		Payouts: PayoutTable{
			Win: []PayoutBand{
				{MinScore: 0, SC: 30, HC: 1, RC: 4},
				{MinScore: 300, SC: 45, HC: 2, RC: 6},
			},
			Near: []PayoutBand{
				{MinScore: 0, SC: 15, RC: 2},
			},
			Loss: []PayoutBand{
				{MinScore: 0, SC: 4},
				{MinScore: 60, SC: 6, RC: 1},
			},
		},
		SeasonPoints: OutcomeInts{Win: 12, Near: 6, Loss: 2},
		WarPoints:    OutcomeInts{Win: 3, Near: 1, Loss: 0},
	}

	raid := base
	raid.TicketCostRC = 8
	raid.SessionTTL = 5 * time.Minute
	raid.MaxActions = 30

	pvp := base
	pvp.TicketCostRC = 6
	pvp.SessionTTL = 6 * time.Minute
	pvp.MaxActions = 30
	pvp.LatencySoftMS = 700
	pvp.LatencyHardMS = 2000

	return Rules{
		Arena: base,
		Raid: RaidRules{
			VariantRules:   raid,
			BossHP:         250_000,
			WaveHPGrowth:   1.15,
			Cooldown:       30 * time.Minute,
			DamagePerPoint: 10,
			ComboDamage:    25,
			WinDamage:      2_500,
			NearDamage:     1_200,
			WarDamageShare: 0.001,
		},
		PvP: PvPRules{
			VariantRules:    pvp,
			QueueTTL:        90 * time.Second,
			PairScanLimit:   5,
			DrawBand:        2,
			ShadowJitterMin: 0.85,
			ShadowJitterMax: 1.15,
			ShadowFloor:     40,
			Transport:       "ws",
			TickMS:          100,
			ActionWindowMS:  1500,
		},
		Modes: map[string]ModeDelta{
			"safe":       {SC: -0.15, RC: -0.05},
			"balanced":   {SC: 0, RC: 0},
			"aggressive": {SC: 0.25, RC: 0.10},
		},
		HiddenBonus: HiddenBonusRules{
			Thresholds: map[string]float64{
				"aggressive": 0.12,
				"balanced":   0.08,
				"safe":       0.04,
			},
			Win:  FlatBonus{SC: 5, RC: 1},
			Near: FlatBonus{SC: 3},
			Loss: FlatBonus{SC: 1},
		},
		Combo:    ComboRules{Step: 0.05, Cap: 0.25},
		Contract: ContractRules{ComboStep: 0.005, ComboCap: 0.05},
		Rating: RatingRules{
			Initial:         1000,
			KFactor:         24,
			Win:             16,
			Near:            4,
			Loss:            -12,
			MomentumDivisor: 100,
			MomentumCap:     4,
		},
		Risk: RiskRules{
			ForceSafeAt:            0.85,
			SuggestSafeAt:          0.6,
			SuggestAggressiveBelow: 0.15,
		},
		RecentWindow: 15 * time.Minute,
	}
}
