package game

import (
	"strings"

	"lootarena/internal/rules"
)

// ActionVocabulary is the symbolic input set expected actions are drawn from.
var ActionVocabulary = []string{"up", "down", "left", "right", "strike", "guard"}

const (
	ReasonPatternMismatch = "pattern_mismatch"
	ReasonLateInput       = "late_input"
	ReasonTimingViolation = "timing_violation"
)

const comboScoreCap = 10

type EvalInput struct {
	ActionSeq   int
	InputAction string
	LatencyMS   int64
}

type Evaluation struct {
	Accepted     bool
	Reason       string
	Expected     string
	NextExpected string
	ScoreDelta   int64
	Next         SideState
}

// ExpectedAction is the authoritative input for step seq of session ref.
func ExpectedAction(ref string, seq int) string {
	idx := SeededHash("action", seqKey(ref, seq)) % uint64(len(ActionVocabulary))
	return ActionVocabulary[idx]
}

// NextExpectedAction returns the input expected after seq, or "" once the
// session has no steps left.
func NextExpectedAction(ref string, seq, maxActions int) string {
	if seq >= maxActions {
		return ""
	}
	return ExpectedAction(ref, seq+1)
}

// Evaluate decides one submitted input against the expected pattern. It is pure:
// the caller persists Next and the returned deltas.
func Evaluate(ref string, state SideState, in EvalInput, vr rules.VariantRules) Evaluation {
	expected := ExpectedAction(ref, in.ActionSeq)
	input := strings.ToLower(strings.TrimSpace(in.InputAction))
	latency := in.LatencyMS
	if latency < 0 {
		latency = 0
	}

	out := Evaluation{
		Expected:     expected,
		NextExpected: NextExpectedAction(ref, in.ActionSeq, vr.MaxActions),
	}
	next := state
	next.ActionCount++

	switch {
	case latency > vr.LatencyHardMS:
		out.Reason = ReasonTimingViolation
		out.ScoreDelta = -vr.TimingPenalty
	case input != expected:
		out.Reason = ReasonPatternMismatch
		out.ScoreDelta = -vr.MissPenalty
	case latency > vr.LatencySoftMS:
		out.Reason = ReasonLateInput
		out.ScoreDelta = -vr.MissPenalty
	default:
		out.Accepted = true
		combo := state.Combo
		if combo > comboScoreCap {
			combo = comboScoreCap
		}
		out.ScoreDelta = vr.AcceptPoints * int64(10+combo) / 10
	}

	next.Score += out.ScoreDelta
	if out.Accepted {
		next.Combo++
		next.Hits++
		if next.Combo > next.ComboMax {
			next.ComboMax = next.Combo
		}
	} else {
		next.Combo = 0
		next.Misses++
	}
	out.Next = next
	return out
}
