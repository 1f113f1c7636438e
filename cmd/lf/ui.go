package main

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"lawfirm/internal/game"

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

// promptSecret reads a line without echo when stdin is a terminal.
func promptSecret(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(text), nil
	}
	fmt.Printf("%s: ", label)
	raw, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", err
	}
	secret := strings.TrimSpace(string(raw))
	if secret == "" {
		return "", fmt.Errorf("%s is required", strings.ToLower(label))
	}
	return secret, nil
}

func renderGameState(gs game.GameState) {
	stage := warn.Sprint(string(gs.Stage))
	if gs.Stage == game.StageActive {
		stage = success.Sprint(string(gs.Stage))
	}
	accent.Printf("\n== ROUND %d / %d ==\n", gs.CurrentRound, game.MaxRounds)
	fmt.Printf("Stage: %s\n\n", stage)
}

func renderRoundReport(r game.RoundReport) {
	accent.Printf("\n== ROUND %d RESOLVED ==\n", r.FromRound)
	if len(r.Outcome.Teams) == 0 {
		printInfo("No firms were resolved.")
	}
	for _, t := range r.Outcome.Teams {
		fmt.Printf("%-22s %14s  profit %s  capacity %d/%d\n",
			truncate(t.TeamName, 22),
			game.FormatMoney(t.Money),
			colorizeMoney(t.Profit),
			t.CapacityUsed,
			t.TotalCapacity,
		)
		for _, p := range t.Projects {
			result := danger.Sprint("failed")
			if p.Succeeded {
				result = success.Sprint("delivered")
			}
			fmt.Printf("  %-28s %12s  %s\n", truncate(p.ProjectName, 28), game.FormatMoney(p.BidAmount), result)
		}
	}
	if len(r.Outcome.Skipped) > 0 {
		fmt.Println()
		for _, s := range r.Outcome.Skipped {
			printWarn(fmt.Sprintf("Skipped %s: %s", s.TeamID, s.Reason))
		}
	}
	fmt.Printf("\nNow in round %d.\n\n", r.ToRound)
}

func renderProjects(projects []game.Project, round int) {
	title := "PROJECT CATALOG"
	if round > 0 {
		title = fmt.Sprintf("PROJECTS FOR ROUND %d", round)
	}
	accent.Printf("\n== %s ==\n", title)
	if len(projects) == 0 {
		printInfo("No projects found.")
		return
	}
	fmt.Printf("%-36s %-28s %6s %6s %12s  %s\n", "ID", "NAME", "CPLX", "CAP", "EST. COST", "ROUNDS")
	for _, p := range projects {
		fmt.Printf("%-36s %-28s %6d %6d %12s  %s\n",
			p.ID,
			truncate(p.Name, 28),
			p.Complexity,
			p.CapacityCost,
			game.FormatMoney(p.EstimatedCost),
			joinInts(p.Rounds),
		)
	}
	fmt.Println()
}

func renderTeams(teams []game.Team) {
	accent.Println("\n== FIRMS ==")
	if len(teams) == 0 {
		printInfo("No firms registered.")
		return
	}
	fmt.Printf("%-36s %-22s %14s %-8s %-6s\n", "ID", "NAME", "CASH", "SETUP", "READY")
	for _, t := range teams {
		setup := success.Sprint("done  ")
		if t.NeedsSetup {
			setup = warn.Sprint("needed")
		}
		ready := neutral.Sprint("no")
		if t.Ready {
			ready = success.Sprint("yes")
		}
		fmt.Printf("%-36s %-22s %14s %-8s %-6s\n", t.ID, truncate(t.Name, 22), game.FormatMoney(t.Money), setup, ready)
	}
	fmt.Println()
}

func renderTeamView(v game.TeamView) {
	accent.Printf("\n== %s ==\n", v.Name)
	if v.NeedsSetup {
		printWarn("Firm setup pending. Run `lf team setup`.")
		fmt.Println()
		return
	}
	fmt.Printf("Cash:                %s\n", colorizeMoney(v.Money))
	fmt.Printf("Office / Tech:       %s / %s\n", v.Config.Office, v.Config.Tech)
	fmt.Printf("Productivity:        %.1f (%d%% cost discount, grunt rate %s)\n", v.Metrics.Productivity, v.DiscountPercent, game.FormatMoney(v.GruntRate))
	fmt.Printf("Client satisfaction: %.1f\n", v.Metrics.ClientSatisfaction)
	fmt.Printf("Competency:          %.0f\n", v.Competency)
	fmt.Printf("Leverage:            %.2f\n", v.Leverage)
	fmt.Printf("Capacity:            %d committed of %d\n", v.CommittedCapacity, v.TotalCapacity)

	fmt.Println()
	accent.Println("Staff")
	for _, tier := range game.Tiers {
		fmt.Printf("  %-8s %3d\n", tier, v.Employees[tier])
	}
	fmt.Println()
	accent.Println("Upgrades")
	for _, track := range game.UpgradeTracks {
		fmt.Printf("  %-8s level %d, next %s\n", track, v.Upgrades[track], game.FormatMoney(v.UpgradeCosts[track]))
	}
	ready := warn.Sprint("not submitted")
	if v.Ready {
		ready = success.Sprint("submitted")
	}
	fmt.Printf("\nBids: %d open, strategy %s\n\n", len(v.Bids), ready)
}

func renderLogs(logs []game.LogEntry) {
	accent.Println("\n== ROUND REPORTS ==")
	if len(logs) == 0 {
		printInfo("No reports yet.")
		return
	}
	round := -1
	for _, l := range logs {
		if l.Round != round {
			round = l.Round
			accent.Printf("\nRound %d\n", round)
		}
		fmt.Printf("  %s\n", l.Message)
	}
	fmt.Println()
}

func renderLeaderboard(rows []game.LeaderboardRow) {
	accent.Println("\n== LEADERBOARD ==")
	if len(rows) == 0 {
		printInfo("No leaderboard rows yet.")
		return
	}
	fmt.Printf("%-6s %-22s %14s %8s %8s\n", "RANK", "FIRM", "CASH", "PROD", "CSAT")
	for _, row := range rows {
		fmt.Printf("%-6d %-22s %14s %8.1f %8.1f\n",
			row.Rank,
			truncate(row.Name, 22),
			game.FormatMoney(row.Money),
			row.Productivity,
			row.ClientSatisfaction,
		)
	}
	fmt.Println()
}

func colorizeMoney(v int64) string {
	text := game.FormatMoney(v)
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ",")
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
