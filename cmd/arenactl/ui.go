package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"lootarena/internal/game"

	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func setupColor() {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		color.NoColor = true
	}
}

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

// promptSecret reads without echo when stdin is a terminal.
func promptSecret(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptRequired(label)
	}
	for {
		fmt.Printf("%s: ", label)
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		if text := strings.TrimSpace(string(raw)); text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptChoice(label string, options []string, defaultValue string) (string, error) {
	normalized := make(map[string]struct{}, len(options))
	for _, opt := range options {
		normalized[strings.ToLower(strings.TrimSpace(opt))] = struct{}{}
	}
	for {
		fmt.Printf("%s (%s) [%s]: ", label, strings.Join(options, "/"), defaultValue)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.ToLower(strings.TrimSpace(text))
		if text == "" {
			text = strings.ToLower(strings.TrimSpace(defaultValue))
		}
		if _, ok := normalized[text]; ok {
			return text, nil
		}
		printWarn("Invalid option. Please pick one of the listed values.")
	}
}

func renderSession(s game.SessionView) {
	accent.Printf("\n== %s SESSION %s ==\n", strings.ToUpper(string(s.Variant)), s.Ref)
	fmt.Printf("Status:        %s\n", colorizeStatus(s.Status))
	fmt.Printf("Season:        %d\n", s.SeasonID)
	mode := string(s.ModeSuggested)
	if s.ModeFinal != "" {
		mode = fmt.Sprintf("%s (final %s)", s.ModeSuggested, s.ModeFinal)
	}
	fmt.Printf("Mode:          %s\n", mode)
	fmt.Printf("Ticket:        %d rc\n", s.TicketCost)
	fmt.Printf("Actions:       %d / %d (resolve after %d)\n", s.State.ActionCount, s.MaxActions, s.MinActionsToResolve)
	fmt.Printf("Score:         %d  combo %d (max %d)  hits %d  misses %d\n",
		s.State.Score, s.State.Combo, s.State.ComboMax, s.State.Hits, s.State.Misses)
	if s.NextExpectedAction != "" {
		fmt.Printf("Next input:    %s\n", accent.Sprint(s.NextExpectedAction))
	}
	fmt.Printf("Expires:       %s\n", s.ExpiresAt.Local().Format("15:04:05"))
	if s.Boss != nil {
		fmt.Printf("Boss wave %d:   %d / %d hp (%s)\n", s.Boss.WaveIndex, s.Boss.HPRemaining, s.Boss.HPTotal, s.Boss.State)
	}
	if s.PvP != nil {
		fmt.Printf("Opponent:      %s  score %d  actions %d  via %s\n",
			s.PvP.OpponentType, s.PvP.Opponent.Score, s.PvP.Opponent.ActionCount, s.PvP.Transport)
	}
	if s.Result != nil {
		fmt.Printf("Outcome:       %s\n", colorizeOutcome(s.Result.Outcome))
		fmt.Printf("Reward:        %s\n", formatReward(s.Result.Reward))
	}
	fmt.Println()
}

func renderAction(out game.ActionResult) {
	a := out.Action
	if out.Duplicate {
		printWarn(fmt.Sprintf("Action #%d was already recorded.", a.ActionSeq))
	}
	if a.Accepted {
		success.Printf("#%d %s accepted  %+d -> %d  combo %d\n", a.ActionSeq, a.InputAction, a.ScoreDelta, a.ScoreAfter, a.ComboAfter)
	} else {
		danger.Printf("#%d %s rejected (%s, expected %s)  %+d -> %d\n", a.ActionSeq, a.InputAction, a.RejectReason, a.ExpectedAction, a.ScoreDelta, a.ScoreAfter)
	}
	if a.NextExpected != "" {
		fmt.Printf("Next input: %s\n", accent.Sprint(a.NextExpected))
	}
}

func renderResolve(out game.ResolveResult) {
	if out.Duplicate {
		printWarn("Session was already resolved.")
	}
	accent.Printf("\n== RESULT %s ==\n", out.Session.Ref)
	fmt.Printf("Outcome:       %s\n", colorizeOutcome(out.Outcome))
	fmt.Printf("Score:         %d\n", out.Participant.Score)
	fmt.Printf("Reward:        %s\n", formatReward(out.Reward))
	if out.RatingDelta != 0 || out.Session.Variant == game.VariantPvP {
		fmt.Printf("Rating:        %+d -> %d\n", out.RatingDelta, out.Participant.RatingAfter)
	}
	fmt.Printf("Season points: %d\n", out.Participant.SeasonPoints)
	if out.Participant.ContractMatched {
		printSuccess("Daily contract completed.")
	}
	if len(out.Participant.Stages) > 0 {
		fmt.Println()
		fmt.Printf("%-14s %8s %8s %8s\n", "STAGE", "SC", "HC", "RC")
		for _, st := range out.Participant.Stages {
			fmt.Printf("%-14s %8d %8d %8d\n", st.Name, st.After.SC, st.After.HC, st.After.RC)
		}
	}
	fmt.Println()
}

func renderDaily(d game.Daily) {
	accent.Printf("\n== DAILY %s (season %d) ==\n", d.DateKey, d.SeasonID)
	fmt.Printf("Anomaly:   %s (%s)\n", d.Anomaly.Name, d.Anomaly.ID)
	fmt.Printf("           sc x%.2f  rc x%.2f  hc x%.2f  season x%.2f  risk %+.2f\n",
		d.Anomaly.SCMultiplier, d.Anomaly.RCMultiplier, d.Anomaly.HCMultiplier, d.Anomaly.SeasonMultiplier, d.Anomaly.RiskShift)
	if d.Anomaly.PreferredMode != "" {
		fmt.Printf("           favours %s mode\n", d.Anomaly.PreferredMode)
	}
	fmt.Printf("Contract:  %s (%s)\n", d.Contract.Name, d.Contract.ID)
	req := []string{}
	if d.Contract.RequiredMode != "" {
		req = append(req, "mode "+string(d.Contract.RequiredMode))
	}
	if len(d.Contract.FocusFamilies) > 0 {
		req = append(req, "in "+strings.Join(d.Contract.FocusFamilies, "/"))
	}
	if d.Contract.RequireResult != "" {
		req = append(req, "result "+string(d.Contract.RequireResult))
	}
	if len(req) > 0 {
		fmt.Printf("           requires %s\n", strings.Join(req, ", "))
	}
	fmt.Printf("           sc x%.2f  +%d rc  +%d season  +%d war\n",
		d.Contract.SCMultiplier, d.Contract.RCFlatBonus, d.Contract.SeasonBonus, d.Contract.WarBonus)
	fmt.Println()
}

func renderCatalog(anomalies []game.Anomaly, contracts []game.Contract) {
	accent.Println("\n== ANOMALIES ==")
	for _, a := range anomalies {
		fmt.Printf("%-18s sc x%.2f  season x%.2f  risk %+.2f  %s\n", a.ID, a.SCMultiplier, a.SeasonMultiplier, a.RiskShift, a.Name)
	}
	accent.Println("\n== CONTRACTS ==")
	for _, c := range contracts {
		fmt.Printf("%-18s sc x%.2f  +%d rc  %s\n", c.ID, c.SCMultiplier, c.RCFlatBonus, c.Name)
	}
	fmt.Println()
}

func formatReward(r game.Reward) string {
	return fmt.Sprintf("%s sc  %s hc  %s rc", success.Sprint(r.SC), success.Sprint(r.HC), success.Sprint(r.RC))
}

func colorizeStatus(s game.Status) string {
	switch s {
	case game.StatusActive:
		return success.Sprint(s)
	case game.StatusExpired:
		return danger.Sprint(s)
	default:
		return neutral.Sprint(s)
	}
}

func colorizeOutcome(o game.Outcome) string {
	switch o {
	case game.OutcomeWin:
		return success.Sprint(strings.ToUpper(string(o)))
	case game.OutcomeNear:
		return warn.Sprint(strings.ToUpper(string(o)))
	default:
		return danger.Sprint(strings.ToUpper(string(o)))
	}
}
