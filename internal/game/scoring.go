package game

import (
	"fmt"
	"math"
	"sort"
)

const (
	priceWeight      = 0.40
	reputationWeight = 0.35
	competencyWeight = 0.25

	maxPriceRatioScore = 120.0
	maxCompetencyScore = 100.0
	competencyScale    = 80.0

	reputationGapThreshold = 2.0
	competencyGapThreshold = 2.0
	priceGapThreshold      = 3.0
)

type BidScore struct {
	Bid        Bid     `json:"bid"`
	TeamName   string  `json:"team_name"`
	Price      float64 `json:"price_score"`
	Reputation float64 `json:"reputation_score"`
	Competency float64 `json:"competency_score"`
	Total      float64 `json:"total_score"`
}

type RankedBid struct {
	BidScore
	Rank        int      `json:"rank"`
	Winner      bool     `json:"winner"`
	LossReasons []string `json:"loss_reasons,omitempty"`
}

type ProjectResult struct {
	Project Project     `json:"project"`
	Ranking []RankedBid `json:"ranking"`
}

type Competition struct {
	Winners map[string]BidScore `json:"winners"`
	Results []ProjectResult     `json:"results"`
}

// ScoreBid computes the weighted score of a single bid.
func ScoreBid(b Bid, t Team, p Project) BidScore {
	s := BidScore{Bid: b, TeamName: t.Name}

	if b.Amount > 0 {
		s.Price = math.Min(maxPriceRatioScore, float64(p.HiddenMarketPrice)/float64(b.Amount)*100) * priceWeight
	} else {
		s.Price = maxPriceRatioScore * priceWeight
	}
	s.Reputation = t.Metrics.ClientSatisfaction * reputationWeight

	required := RequiredCompetency(p)
	fit := maxCompetencyScore
	if required > 0 {
		fit = math.Min(maxCompetencyScore, ActualCompetency(t)/required*competencyScale)
	}
	s.Competency = fit * competencyWeight

	s.Total = s.Price + s.Reputation + s.Competency
	return s
}

// SelectWinners scores every bid against its project and picks one winner per
// project. Bids referencing projects outside the given set, or teams outside
// the roster, are ignored. Projects with no bids produce no result.
func SelectWinners(bids []Bid, teams []Team, projects []Project) Competition {
	teamByID := make(map[string]Team, len(teams))
	for _, t := range teams {
		teamByID[t.ID] = t
	}
	projectByID := make(map[string]Project, len(projects))
	for _, p := range projects {
		projectByID[p.ID] = p
	}

	grouped := make(map[string][]Bid)
	for _, b := range bids {
		if _, ok := projectByID[b.ProjectID]; !ok {
			continue
		}
		if _, ok := teamByID[b.TeamID]; !ok {
			continue
		}
		grouped[b.ProjectID] = append(grouped[b.ProjectID], b)
	}

	out := Competition{Winners: map[string]BidScore{}}
	for _, p := range projects {
		group := grouped[p.ID]
		if len(group) == 0 {
			continue
		}
		scores := make([]BidScore, 0, len(group))
		for _, b := range group {
			scores = append(scores, ScoreBid(b, teamByID[b.TeamID], p))
		}
		sort.SliceStable(scores, func(i, j int) bool {
			return scores[i].Total > scores[j].Total
		})

		winner := scores[0]
		out.Winners[p.ID] = winner
		ranking := make([]RankedBid, 0, len(scores))
		for i, s := range scores {
			rb := RankedBid{BidScore: s, Rank: i + 1, Winner: i == 0}
			if i > 0 {
				rb.LossReasons = lossReasons(s, winner)
			}
			ranking = append(ranking, rb)
		}
		out.Results = append(out.Results, ProjectResult{Project: p, Ranking: ranking})
	}
	return out
}

func lossReasons(loser, winner BidScore) []string {
	var reasons []string
	otherLagged := false
	if gap := winner.Reputation - loser.Reputation; gap > reputationGapThreshold {
		reasons = append(reasons, fmt.Sprintf("%s has a stronger client reputation (+%.1f points)", winner.TeamName, gap))
		otherLagged = true
	}
	if gap := winner.Competency - loser.Competency; gap > competencyGapThreshold {
		reasons = append(reasons, fmt.Sprintf("%s is a better competency fit (+%.1f points)", winner.TeamName, gap))
		otherLagged = true
	}
	if gap := winner.Price - loser.Price; gap > priceGapThreshold {
		reasons = append(reasons, fmt.Sprintf("%s offered a more competitive price (+%.1f points)", winner.TeamName, gap))
	}
	if loser.Price > winner.Price && otherLagged {
		reasons = append(reasons, fmt.Sprintf("Outbid on reputation/competency despite a lower price (your price score %.1f vs %.1f)", loser.Price, winner.Price))
	}
	if len(reasons) == 0 {
		reasons = append(reasons, fmt.Sprintf("Close competition: %.1f vs %.1f total score", loser.Total, winner.Total))
	}
	return reasons
}
