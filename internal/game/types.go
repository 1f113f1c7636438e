package game

type RoundReport struct {
	FromRound int          `json:"from_round"`
	ToRound   int          `json:"to_round"`
	Outcome   RoundOutcome `json:"outcome"`
}

type TeamView struct {
	Team
	TotalCapacity     int                    `json:"total_capacity"`
	CommittedCapacity int                    `json:"committed_capacity"`
	Competency        float64                `json:"competency"`
	Leverage          float64                `json:"leverage"`
	DiscountPercent   int                    `json:"productivity_discount_percent"`
	GruntRate         int64                  `json:"grunt_rate"`
	UpgradeCosts      map[UpgradeTrack]int64 `json:"upgrade_costs"`
}

type LeaderboardRow struct {
	Rank               int     `json:"rank"`
	TeamID             string  `json:"team_id"`
	Name               string  `json:"name"`
	Money              int64   `json:"money"`
	Productivity       float64 `json:"productivity"`
	ClientSatisfaction float64 `json:"client_satisfaction"`
}

type ProjectInput struct {
	Name              string `json:"name"`
	Complexity        int    `json:"complexity"`
	CapacityCost      int    `json:"capacity_cost"`
	EstimatedCost     int64  `json:"estimated_cost"`
	HiddenMarketPrice int64  `json:"hidden_market_price"`
	Rounds            []int  `json:"rounds"`
	// Round is the legacy single-round form.
	Round int `json:"round,omitempty"`
}
