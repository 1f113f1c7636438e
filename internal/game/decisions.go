package game

import (
	"fmt"
	"strings"
)

type SetupInput struct {
	TeamID    string       `json:"team_id"`
	Office    string       `json:"office"`
	Tech      string       `json:"tech"`
	Employees map[Tier]int `json:"employees"`
}

type HireInput struct {
	TeamID string       `json:"team_id"`
	Deltas map[Tier]int `json:"deltas"`
}

type UpgradeInput struct {
	TeamID string       `json:"team_id"`
	Track  UpgradeTrack `json:"track"`
}

type BidInput struct {
	TeamID    string `json:"team_id"`
	ProjectID string `json:"project_id"`
	Amount    int64  `json:"amount"`
}

// SetupCost is the one-time spend of a firm configuration.
func SetupCost(in SetupInput) (int64, error) {
	office, ok := OfficeSpecs[strings.ToLower(strings.TrimSpace(in.Office))]
	if !ok {
		return 0, fmt.Errorf("%w: office %q", ErrUnknownOption, in.Office)
	}
	tech, ok := TechSpecs[strings.ToLower(strings.TrimSpace(in.Tech))]
	if !ok {
		return 0, fmt.Errorf("%w: tech %q", ErrUnknownOption, in.Tech)
	}
	total := office.Cost + tech.Cost
	for tier, n := range in.Employees {
		spec, ok := TierSpecs[tier]
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
		}
		if n < 0 {
			return 0, fmt.Errorf("%w: %s headcount must be >= 0", ErrInvalidInput, tier)
		}
		total += int64(n) * spec.HireCost
	}
	return total, nil
}

// ApplySetup configures a firm that is still awaiting setup. Every field the
// engine reads is explicitly populated here.
func ApplySetup(t Team, in SetupInput) (Team, error) {
	if !t.NeedsSetup {
		return t, ErrAlreadySetup
	}
	cost, err := SetupCost(in)
	if err != nil {
		return t, err
	}
	if in.Employees[TierPartner] < 1 {
		return t, ErrPartnerRequired
	}
	if cost > StartingCapital {
		return t, fmt.Errorf("%w: setup costs %s of %s starting capital", ErrInsufficientFunds, FormatMoney(cost), FormatMoney(StartingCapital))
	}

	office := OfficeSpecs[strings.ToLower(strings.TrimSpace(in.Office))]
	tech := TechSpecs[strings.ToLower(strings.TrimSpace(in.Tech))]

	t.Money = StartingCapital - cost
	t.Config = FirmConfig{
		Office: strings.ToLower(strings.TrimSpace(in.Office)),
		Tech:   strings.ToLower(strings.TrimSpace(in.Tech)),
	}
	t.Employees = emptyEmployees()
	for tier, n := range in.Employees {
		t.Employees[tier] = n
	}
	t.Upgrades = emptyUpgrades()
	t.Metrics = Metrics{
		Productivity:       BaseProductivity + tech.ProdBoost,
		ClientSatisfaction: BaseClientSatisfaction + office.ClientBoost,
	}.Clamped()
	t.Bids = map[string]int64{}
	t.Ready = false
	t.NeedsSetup = false
	return t, nil
}

// ApplyHire changes headcount by the signed deltas. Firing is free; hiring
// may not push money below zero.
func ApplyHire(t Team, deltas map[Tier]int) (Team, int64, error) {
	if err := canDecide(t); err != nil {
		return t, 0, err
	}
	next := make(map[Tier]int, len(Tiers))
	for _, tier := range Tiers {
		next[tier] = t.Employees[tier]
	}
	var cost int64
	for tier, d := range deltas {
		spec, ok := TierSpecs[tier]
		if !ok {
			return t, 0, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
		}
		next[tier] += d
		if next[tier] < 0 {
			return t, 0, fmt.Errorf("%w: cannot fire more %s staff than employed", ErrInvalidInput, tier)
		}
		if d > 0 {
			cost += int64(d) * spec.HireCost
		}
	}
	if next[TierPartner] < 1 {
		return t, 0, ErrPartnerRequired
	}
	if cost > 0 && t.Money-cost < 0 {
		return t, 0, fmt.Errorf("%w: hiring costs %s, cash %s", ErrInsufficientFunds, FormatMoney(cost), FormatMoney(t.Money))
	}
	t.Employees = next
	t.Money -= cost
	return t, cost, nil
}

// UpgradeCost is the price of moving track from its current level to the next.
func UpgradeCost(t Team, track UpgradeTrack) (int64, error) {
	spec, ok := UpgradeSpecs[track]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUpgrade, track)
	}
	return spec.BaseCost * int64(t.Upgrades[track]+1), nil
}

func ApplyUpgrade(t Team, track UpgradeTrack) (Team, int64, error) {
	if err := canDecide(t); err != nil {
		return t, 0, err
	}
	cost, err := UpgradeCost(t, track)
	if err != nil {
		return t, 0, err
	}
	if t.Money-cost < 0 {
		return t, 0, fmt.Errorf("%w: upgrade costs %s, cash %s", ErrInsufficientFunds, FormatMoney(cost), FormatMoney(t.Money))
	}
	upgrades := make(map[UpgradeTrack]int, len(UpgradeTracks))
	for _, tr := range UpgradeTracks {
		upgrades[tr] = t.Upgrades[tr]
	}
	upgrades[track]++
	t.Upgrades = upgrades

	effect := UpgradeSpecs[track].EffectPerLv
	switch track {
	case UpgradeAI:
		t.Metrics.Productivity += effect
	case UpgradeClient:
		t.Metrics.ClientSatisfaction += effect
	}
	t.Metrics = t.Metrics.Clamped()
	t.Money -= cost
	return t, cost, nil
}

// ValidateBid checks a bid at submission time. It is not re-checked at
// resolution.
func ValidateBid(t Team, p Project, round int, amount int64) error {
	if err := canDecide(t); err != nil {
		return err
	}
	if !p.ActiveIn(round) {
		return fmt.Errorf("%w: %q in round %d", ErrProjectNotActive, p.Name, round)
	}
	if _, ok := t.Bids[p.ID]; ok {
		return ErrBidExists
	}
	if amount <= p.EstimatedCost {
		return fmt.Errorf("%w (%s)", ErrBidTooLow, FormatMoney(p.EstimatedCost))
	}
	required := RequiredCompetency(p)
	if have := ActualCompetency(t); have < required {
		return fmt.Errorf("%w: need %.0f, have %.0f", ErrInsufficientCompetency, required, have)
	}
	return nil
}

// CommittedCapacity sums the capacity cost of the team's open bids.
func CommittedCapacity(t Team, catalog []Project) int {
	total := 0
	for _, p := range catalog {
		if _, ok := t.Bids[p.ID]; ok {
			total += p.CapacityCost
		}
	}
	return total
}

func canDecide(t Team) error {
	if t.NeedsSetup {
		return ErrNeedsSetup
	}
	if t.Ready {
		return ErrTeamReady
	}
	return nil
}
