package game

import (
	"math"
	"strings"
	"testing"
)

func TestScoreBid(t *testing.T) {
	team := firm(0, 0, 0, 2) // competency 40
	team.Metrics.ClientSatisfaction = 60
	p := Project{ID: "p1", Complexity: 50, HiddenMarketPrice: 100_000}

	s := ScoreBid(Bid{ProjectID: "p1", TeamID: team.ID, Amount: 100_000}, team, p)
	if math.Abs(s.Price-40) > 1e-9 {
		t.Fatalf("price score got=%v want=40", s.Price)
	}
	if math.Abs(s.Reputation-21) > 1e-9 {
		t.Fatalf("reputation score got=%v want=21", s.Reputation)
	}
	if math.Abs(s.Competency-25) > 1e-9 {
		t.Fatalf("competency score got=%v want=25 (capped)", s.Competency)
	}
	if math.Abs(s.Total-86) > 1e-9 {
		t.Fatalf("total got=%v want=86", s.Total)
	}

	cheap := ScoreBid(Bid{Amount: 10_000}, team, p)
	if math.Abs(cheap.Price-48) > 1e-9 {
		t.Fatalf("price ratio should cap at 120, got=%v", cheap.Price)
	}
}

func TestSelectWinnersOnePerProject(t *testing.T) {
	a := firm(0, 0, 0, 2)
	a.ID, a.Name = "a", "Alpha"
	b := firm(0, 0, 0, 2)
	b.ID, b.Name = "b", "Beta"
	projects := []Project{
		{ID: "p1", Name: "One", Complexity: 30, HiddenMarketPrice: 40_000},
		{ID: "p2", Name: "Two", Complexity: 30, HiddenMarketPrice: 60_000},
		{ID: "p3", Name: "Three", Complexity: 30, HiddenMarketPrice: 60_000},
	}
	bids := []Bid{
		{ProjectID: "p1", TeamID: "a", Amount: 50_000},
		{ProjectID: "p1", TeamID: "b", Amount: 40_000},
		{ProjectID: "p2", TeamID: "a", Amount: 45_000},
		{ProjectID: "gone", TeamID: "a", Amount: 45_000},
		{ProjectID: "p2", TeamID: "ghost", Amount: 35_000},
	}

	c := SelectWinners(bids, []Team{a, b}, projects)
	if len(c.Winners) != 2 {
		t.Fatalf("expected 2 winners, got %d", len(c.Winners))
	}
	if c.Winners["p1"].Bid.TeamID != "b" {
		t.Fatalf("lower price with equal standing should win p1, got %s", c.Winners["p1"].Bid.TeamID)
	}
	if c.Winners["p2"].Bid.TeamID != "a" {
		t.Fatalf("p2 should go to its only valid bidder")
	}
	if _, ok := c.Winners["p3"]; ok {
		t.Fatalf("project without bids must have no winner")
	}
	if len(c.Results) != 2 {
		t.Fatalf("expected results for 2 projects, got %d", len(c.Results))
	}
	loser := c.Results[0].Ranking[1]
	if loser.Winner || loser.Rank != 2 || len(loser.LossReasons) == 0 {
		t.Fatalf("unexpected loser ranking: %+v", loser)
	}
}

func TestSelectWinnersStableOnTie(t *testing.T) {
	a := firm(0, 0, 0, 2)
	a.ID = "a"
	b := firm(0, 0, 0, 2)
	b.ID = "b"
	p := Project{ID: "p1", Complexity: 30, HiddenMarketPrice: 60_000}
	bids := []Bid{
		{ProjectID: "p1", TeamID: "b", Amount: 50_000},
		{ProjectID: "p1", TeamID: "a", Amount: 50_000},
	}
	c := SelectWinners(bids, []Team{a, b}, []Project{p})
	if c.Winners["p1"].Bid.TeamID != "b" {
		t.Fatalf("tie should keep submission order, got %s", c.Winners["p1"].Bid.TeamID)
	}
	reasons := c.Results[0].Ranking[1].LossReasons
	if len(reasons) != 1 || !strings.HasPrefix(reasons[0], "Close competition") {
		t.Fatalf("tie reasons got=%v", reasons)
	}
}

func TestLossReasons(t *testing.T) {
	tests := []struct {
		name    string
		winner  BidScore
		loser   BidScore
		reasons []string
	}{
		{
			name:    "reputation gap",
			winner:  BidScore{TeamName: "Alpha", Price: 40, Reputation: 30, Competency: 25},
			loser:   BidScore{TeamName: "Beta", Price: 40, Reputation: 20, Competency: 25},
			reasons: []string{"client reputation"},
		},
		{
			name:    "reputation gap at threshold",
			winner:  BidScore{TeamName: "Alpha", Price: 40, Reputation: 22, Competency: 25, Total: 87},
			loser:   BidScore{TeamName: "Beta", Price: 40, Reputation: 20, Competency: 25, Total: 85},
			reasons: []string{"Close competition"},
		},
		{
			name:    "competency gap",
			winner:  BidScore{TeamName: "Alpha", Price: 40, Reputation: 20, Competency: 25},
			loser:   BidScore{TeamName: "Beta", Price: 40, Reputation: 20, Competency: 15},
			reasons: []string{"competency fit"},
		},
		{
			name:    "competency gap at threshold",
			winner:  BidScore{TeamName: "Alpha", Price: 40, Reputation: 20, Competency: 17, Total: 77},
			loser:   BidScore{TeamName: "Beta", Price: 40, Reputation: 20, Competency: 15, Total: 75},
			reasons: []string{"Close competition"},
		},
		{
			name:    "price gap",
			winner:  BidScore{TeamName: "Alpha", Price: 45, Reputation: 20, Competency: 25},
			loser:   BidScore{TeamName: "Beta", Price: 40, Reputation: 20, Competency: 25},
			reasons: []string{"competitive price"},
		},
		{
			name:    "price gap at threshold",
			winner:  BidScore{TeamName: "Alpha", Price: 43, Reputation: 20, Competency: 25, Total: 88},
			loser:   BidScore{TeamName: "Beta", Price: 40, Reputation: 20, Competency: 25, Total: 85},
			reasons: []string{"Close competition"},
		},
		{
			name:    "outbid despite lower price",
			winner:  BidScore{TeamName: "Alpha", Price: 30, Reputation: 20, Competency: 25},
			loser:   BidScore{TeamName: "Beta", Price: 40, Reputation: 20, Competency: 15},
			reasons: []string{"competency fit", "Outbid on reputation/competency"},
		},
		{
			name:    "cheaper loser without other lag",
			winner:  BidScore{TeamName: "Alpha", Price: 39, Reputation: 21, Competency: 26, Total: 86},
			loser:   BidScore{TeamName: "Beta", Price: 40, Reputation: 20, Competency: 25, Total: 85},
			reasons: []string{"Close competition"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := lossReasons(tc.loser, tc.winner)
			if len(got) != len(tc.reasons) {
				t.Fatalf("reasons got=%v want %d matching %v", got, len(tc.reasons), tc.reasons)
			}
			for i, want := range tc.reasons {
				if !strings.Contains(got[i], want) {
					t.Fatalf("reason %d got=%q want it to contain %q", i, got[i], want)
				}
			}
		})
	}
}

func TestLossReasonsReputation(t *testing.T) {
	winner := BidScore{TeamName: "Alpha", Price: 30, Reputation: 35, Competency: 25}
	loser := BidScore{TeamName: "Beta", Price: 40, Reputation: 17.5, Competency: 25}
	reasons := lossReasons(loser, winner)
	if len(reasons) != 2 {
		t.Fatalf("expected reputation + price-despite reasons, got %v", reasons)
	}
	if !strings.Contains(reasons[0], "client reputation") {
		t.Fatalf("first reason got=%q", reasons[0])
	}
	if !strings.HasPrefix(reasons[1], "Outbid on reputation/competency") {
		t.Fatalf("second reason got=%q", reasons[1])
	}
}
