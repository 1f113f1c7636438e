package game

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type RoundInput struct {
	Round    int
	Teams    []Team
	Projects []Project
	Bids     []Bid
}

type ProjectOutcome struct {
	ProjectID     string  `json:"project_id"`
	ProjectName   string  `json:"project_name"`
	BidAmount     int64   `json:"bid_amount"`
	ExecutionCost int64   `json:"execution_cost"`
	SuccessChance float64 `json:"success_chance"`
	Succeeded     bool    `json:"succeeded"`
	Profit        int64   `json:"profit"`
}

type TeamOutcome struct {
	TeamID         string           `json:"team_id"`
	TeamName       string           `json:"team_name"`
	StartMoney     int64            `json:"start_money"`
	Money          int64            `json:"money"`
	Profit         int64            `json:"profit"`
	Metrics        Metrics          `json:"metrics"`
	TotalCapacity  int              `json:"total_capacity"`
	CapacityUsed   int              `json:"capacity_used"`
	BurnoutPenalty float64          `json:"burnout_penalty"`
	GruntIncome    int64            `json:"grunt_income"`
	Projects       []ProjectOutcome `json:"projects"`
	Logs           []string         `json:"logs"`
}

type SkippedTeam struct {
	TeamID string `json:"team_id"`
	Reason string `json:"reason"`
}

type RoundOutcome struct {
	Round       int           `json:"round"`
	Competition Competition   `json:"competition"`
	Teams       []TeamOutcome `json:"teams"`
	Skipped     []SkippedTeam `json:"skipped"`
}

// LogsFor returns the ordered messages produced for teamID.
func (o RoundOutcome) LogsFor(teamID string) []string {
	for _, t := range o.Teams {
		if t.TeamID == teamID {
			return t.Logs
		}
	}
	for _, s := range o.Skipped {
		if s.TeamID == teamID {
			return []string{skippedMessage(o.Round, s.Reason)}
		}
	}
	return nil
}

// ResolveRound is the pure round pipeline: bid competition first, then each
// set-up team independently. Teams still awaiting setup are neither resolved
// nor logged. A malformed team is skipped, keeps its state and gets one log
// line; the rest of the league proceeds.
func ResolveRound(in RoundInput, rng Rand) RoundOutcome {
	out := RoundOutcome{Round: in.Round}

	var eligible []Team
	for _, t := range in.Teams {
		if t.NeedsSetup {
			continue
		}
		if err := t.Validate(); err != nil {
			out.Skipped = append(out.Skipped, SkippedTeam{TeamID: t.ID, Reason: err.Error()})
			continue
		}
		eligible = append(eligible, t)
	}

	out.Competition = SelectWinners(in.Bids, eligible, in.Projects)

	competitionLogs := make(map[string][]string)
	for _, res := range out.Competition.Results {
		for _, rb := range res.Ranking {
			competitionLogs[rb.Bid.TeamID] = append(competitionLogs[rb.Bid.TeamID], rankingMessage(res, rb))
		}
	}

	for _, t := range eligible {
		var won []wonBid
		for _, p := range in.Projects {
			w, ok := out.Competition.Winners[p.ID]
			if ok && w.Bid.TeamID == t.ID {
				won = append(won, wonBid{project: p, amount: w.Bid.Amount})
			}
		}
		outcome := resolveTeam(t, won, rng)
		outcome.Logs = append(competitionLogs[t.ID], outcome.Logs...)
		out.Teams = append(out.Teams, outcome)
	}
	return out
}

type wonBid struct {
	project Project
	amount  int64
}

func resolveTeam(t Team, won []wonBid, rng Rand) TeamOutcome {
	out := TeamOutcome{
		TeamID:     t.ID,
		TeamName:   t.Name,
		StartMoney: t.Money,
		Metrics:    t.Metrics.Clamped(),
	}
	logf := func(format string, args ...any) {
		out.Logs = append(out.Logs, fmt.Sprintf(format, args...))
	}

	out.TotalCapacity = TotalCapacity(t)
	for _, w := range won {
		out.CapacityUsed += w.project.CapacityCost
	}

	penalty, overload := BurnoutPenalty(out.CapacityUsed, out.TotalCapacity)
	out.BurnoutPenalty = penalty
	if penalty > 0 {
		logf("Overworked! %d/%d capacity (%s over). Project quality -%.0f%%",
			out.CapacityUsed, out.TotalCapacity, formatPercent(overload), penalty*100)
	} else if len(won) > 0 {
		logf("Capacity: %d/%d used", out.CapacityUsed, out.TotalCapacity)
	}

	for _, w := range won {
		cost := ProjectExecutionCost(t, w.project)
		chance := SuccessChance(t, w.project, penalty, rng)
		po := ProjectOutcome{
			ProjectID:     w.project.ID,
			ProjectName:   w.project.Name,
			BidAmount:     w.amount,
			ExecutionCost: cost,
			SuccessChance: chance,
			Succeeded:     rng.Float64() < chance,
		}
		if po.Succeeded {
			po.Profit = w.amount - cost
			out.Metrics.ClientSatisfaction += SuccessSatisfactionGain
			logf("Completed %q for %s (cost: %s, profit: %s)",
				w.project.Name, FormatMoney(w.amount), FormatMoney(cost), FormatMoney(po.Profit))
		} else {
			po.Profit = -int64(math.Floor(float64(cost) * FailureCostShare))
			out.Metrics.ClientSatisfaction -= FailureSatisfactionLoss
			logf("Failed %q: quality issues. Paid %s penalty (%.0f%% success chance)",
				w.project.Name, FormatMoney(-po.Profit), chance*100)
		}
		out.Metrics = out.Metrics.Clamped()
		out.Profit += po.Profit
		out.Projects = append(out.Projects, po)
	}

	out.GruntIncome = GruntWorkIncome(t, out.CapacityUsed)
	if out.GruntIncome > 0 {
		out.Profit += out.GruntIncome
		logf("Grunt work on %d unused capacity earned %s",
			out.TotalCapacity-out.CapacityUsed, FormatMoney(out.GruntIncome))
	}
	if len(won) == 0 && out.GruntIncome == 0 {
		logf("No projects won and no grunt work income this round")
	}

	out.Metrics = out.Metrics.Clamped()
	out.Money = t.Money + out.Profit
	logf("Round summary: net profit %s, cash %s", FormatMoney(out.Profit), FormatMoney(out.Money))
	return out
}

func rankingMessage(res ProjectResult, rb RankedBid) string {
	if rb.Winner {
		return fmt.Sprintf("Won %q with a bid of %s (score %.1f, %d bid(s))",
			res.Project.Name, FormatMoney(rb.Bid.Amount), rb.Total, len(res.Ranking))
	}
	winner := res.Ranking[0]
	return fmt.Sprintf("Lost %q to %s (rank %d, score %.1f vs %.1f): %s",
		res.Project.Name, winner.TeamName, rb.Rank, rb.Total, winner.Total, strings.Join(rb.LossReasons, "; "))
}

func skippedMessage(round int, reason string) string {
	return fmt.Sprintf("Round %d could not be processed for this firm: %s", round, reason)
}

func formatPercent(fraction float64) string {
	if math.IsInf(fraction, 0) {
		return "all"
	}
	return fmt.Sprintf("%.0f%%", fraction*100)
}

// FormatMoney renders an amount with thousands separators, e.g. "-€12,500".
func FormatMoney(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return sign + "€" + comma(v)
}

func comma(v int64) string {
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		b.WriteByte(',')
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}
