package game

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	MaxRounds       = 10
	StartingCapital = int64(8_000_000)

	BaseProductivity       = 0.0
	BaseClientSatisfaction = 50.0
)

// Formula constants. All round math reads from here.
const (
	BaseCostPerComplexity     = 1000.0
	LeverageCostIncrease      = 0.05
	MinCompetencyRatio        = 0.60
	SuccessBase               = 1.2
	MaxAcceptableLeverage     = 5.5
	LeverageQualityMultiplier = 0.72
	MaxSuccessChance          = 0.95
	VarianceMin               = 0.9
	VarianceSpan              = 0.2
	OverworkThreshold         = 1.0
	BurnoutQualityPenalty     = 0.10
	GruntBaseRate             = 800.0
	FailureCostShare          = 0.5
	SuccessSatisfactionGain   = 3.0
	FailureSatisfactionLoss   = 5.0
)

var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrTeamNotFound           = errors.New("team not found")
	ErrProjectNotFound        = errors.New("project not found")
	ErrProjectNotActive       = errors.New("project is not biddable this round")
	ErrBidTooLow              = errors.New("bid must exceed the estimated cost")
	ErrBidExists              = errors.New("bid already placed for this project")
	ErrNeedsSetup             = errors.New("firm setup not completed")
	ErrAlreadySetup           = errors.New("firm already set up")
	ErrTeamReady              = errors.New("team already submitted its round strategy")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrInsufficientCompetency = errors.New("insufficient competency")
	ErrPartnerRequired        = errors.New("firm must keep at least one partner")
	ErrUnknownTier            = errors.New("unknown employee tier")
	ErrUnknownUpgrade         = errors.New("unknown upgrade track")
	ErrUnknownOption          = errors.New("unknown setup option")
	ErrUnauthorized           = errors.New("unauthorized")

	ErrGameNotStarted = errors.New("game has not started")
	ErrGameInProgress = errors.New("game already in progress")
	ErrGameOver       = errors.New("game over: max rounds reached")
	ErrTeamsNotReady  = errors.New("not all teams are ready")
	ErrNoTeams        = errors.New("no teams to resolve")
	ErrNoProjects     = errors.New("no projects defined for the current round")

	ErrRoundConflict = errors.New("round was advanced concurrently")
	ErrTxConflict    = errors.New("transaction conflict, please retry")
)

type Tier string

const (
	TierJunior  Tier = "junior"
	TierMedior  Tier = "medior"
	TierSenior  Tier = "senior"
	TierPartner Tier = "partner"
)

// Tiers is the canonical iteration order for employee tiers.
var Tiers = []Tier{TierJunior, TierMedior, TierSenior, TierPartner}

type TierSpec struct {
	Capacity   int     `json:"capacity"`
	Competency float64 `json:"competency"`
	HireCost   int64   `json:"hire_cost"`
}

var TierSpecs = map[Tier]TierSpec{
	TierJunior:  {Capacity: 8, Competency: 1, HireCost: 20_000},
	TierMedior:  {Capacity: 6, Competency: 4, HireCost: 40_000},
	TierSenior:  {Capacity: 4, Competency: 10, HireCost: 80_000},
	TierPartner: {Capacity: 3, Competency: 20, HireCost: 150_000},
}

type UpgradeTrack string

const (
	UpgradeAI     UpgradeTrack = "ai"
	UpgradeClient UpgradeTrack = "client"
)

var UpgradeTracks = []UpgradeTrack{UpgradeAI, UpgradeClient}

type UpgradeSpec struct {
	BaseCost    int64   `json:"base_cost"`
	EffectPerLv float64 `json:"effect_per_level"`
}

var UpgradeSpecs = map[UpgradeTrack]UpgradeSpec{
	UpgradeAI:     {BaseCost: 100_000, EffectPerLv: 10},
	UpgradeClient: {BaseCost: 50_000, EffectPerLv: 5},
}

type OfficeSpec struct {
	Name        string  `json:"name"`
	Cost        int64   `json:"cost"`
	ClientBoost float64 `json:"client_boost"`
}

var OfficeSpecs = map[string]OfficeSpec{
	"basic":   {Name: "Basic Office", Cost: 250_000, ClientBoost: 0},
	"modern":  {Name: "Modern Office", Cost: 750_000, ClientBoost: 5},
	"premium": {Name: "Premium HQ", Cost: 1_500_000, ClientBoost: 12},
}

type TechSpec struct {
	Name      string  `json:"name"`
	Cost      int64   `json:"cost"`
	ProdBoost float64 `json:"productivity_boost"`
}

var TechSpecs = map[string]TechSpec{
	"basic":        {Name: "Basic Stack", Cost: 100_000, ProdBoost: 0},
	"advanced":     {Name: "Advanced Stack", Cost: 500_000, ProdBoost: 10},
	"cutting-edge": {Name: "Cutting-Edge Stack", Cost: 1_000_000, ProdBoost: 20},
}

type Metrics struct {
	Productivity       float64 `json:"productivity"`
	ClientSatisfaction float64 `json:"client_satisfaction"`
}

// Clamped returns the metrics bounded to [0, 100].
func (m Metrics) Clamped() Metrics {
	return Metrics{
		Productivity:       clamp(m.Productivity, 0, 100),
		ClientSatisfaction: clamp(m.ClientSatisfaction, 0, 100),
	}
}

type FirmConfig struct {
	Office string `json:"office"`
	Tech   string `json:"tech"`
}

type Team struct {
	ID         string               `json:"id"`
	Name       string               `json:"name"`
	Money      int64                `json:"money"`
	Employees  map[Tier]int         `json:"employees"`
	Metrics    Metrics              `json:"metrics"`
	Upgrades   map[UpgradeTrack]int `json:"upgrades"`
	Config     FirmConfig           `json:"config"`
	Bids       map[string]int64     `json:"bids"`
	Ready      bool                 `json:"ready"`
	NeedsSetup bool                 `json:"needs_setup"`
	CreatedAt  time.Time            `json:"created_at"`
}

// Validate reports whether the record is complete enough to be resolved.
func (t Team) Validate() error {
	if t.Employees == nil {
		return fmt.Errorf("%w: team %s has no employees map", ErrInvalidInput, t.ID)
	}
	for _, tier := range Tiers {
		if t.Employees[tier] < 0 {
			return fmt.Errorf("%w: team %s has negative %s headcount", ErrInvalidInput, t.ID, tier)
		}
	}
	if t.Employees[TierPartner] < 1 {
		return fmt.Errorf("%w: team %s", ErrPartnerRequired, t.ID)
	}
	return nil
}

// NewTeam builds a freshly registered team awaiting firm setup.
func NewTeam(id, name string, now time.Time) Team {
	return Team{
		ID:         id,
		Name:       name,
		Employees:  emptyEmployees(),
		Upgrades:   emptyUpgrades(),
		Bids:       map[string]int64{},
		NeedsSetup: true,
		CreatedAt:  now,
	}
}

func emptyEmployees() map[Tier]int {
	out := make(map[Tier]int, len(Tiers))
	for _, tier := range Tiers {
		out[tier] = 0
	}
	return out
}

func emptyUpgrades() map[UpgradeTrack]int {
	out := make(map[UpgradeTrack]int, len(UpgradeTracks))
	for _, track := range UpgradeTracks {
		out[track] = 0
	}
	return out
}

type Project struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Complexity        int    `json:"complexity"`
	CapacityCost      int    `json:"capacity_cost"`
	EstimatedCost     int64  `json:"estimated_cost"`
	HiddenMarketPrice int64  `json:"hidden_market_price"`
	Rounds            []int  `json:"rounds"`
}

// UnmarshalJSON accepts the legacy singular "round" field as a one-element set.
func (p *Project) UnmarshalJSON(data []byte) error {
	type plain Project
	var raw struct {
		plain
		Round *int `json:"round"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Project(raw.plain)
	if len(p.Rounds) == 0 && raw.Round != nil {
		p.Rounds = []int{*raw.Round}
	}
	p.Rounds = normalizeRounds(p.Rounds)
	return nil
}

// ActiveIn reports whether the project is biddable in round.
func (p Project) ActiveIn(round int) bool {
	for _, r := range p.Rounds {
		if r == round {
			return true
		}
	}
	return false
}

func (p Project) Validate() error {
	switch {
	case strings.TrimSpace(p.Name) == "":
		return fmt.Errorf("%w: project name is required", ErrInvalidInput)
	case p.Complexity < 0 || p.Complexity > 100:
		return fmt.Errorf("%w: complexity must be within 0..100", ErrInvalidInput)
	case p.CapacityCost < 0:
		return fmt.Errorf("%w: capacity cost must be >= 0", ErrInvalidInput)
	case p.EstimatedCost < 0 || p.HiddenMarketPrice < 0:
		return fmt.Errorf("%w: costs must be >= 0", ErrInvalidInput)
	}
	for _, r := range p.Rounds {
		if r < 1 || r > MaxRounds {
			return fmt.Errorf("%w: round %d outside 1..%d", ErrInvalidInput, r, MaxRounds)
		}
	}
	return nil
}

func normalizeRounds(rounds []int) []int {
	if len(rounds) == 0 {
		return []int{}
	}
	seen := make(map[int]struct{}, len(rounds))
	out := make([]int, 0, len(rounds))
	for _, r := range rounds {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Ints(out)
	return out
}

type Bid struct {
	ProjectID string    `json:"project_id"`
	TeamID    string    `json:"team_id"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

type Stage string

const (
	StageUnstarted Stage = "unstarted"
	StageActive    Stage = "active"
)

type GameState struct {
	CurrentRound int   `json:"current_round"`
	Stage        Stage `json:"stage"`
}

type LogEntry struct {
	ID        string    `json:"id"`
	TeamID    string    `json:"team_id"`
	Round     int       `json:"round"`
	Seq       int       `json:"seq"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

var teamNameRE = regexp.MustCompile(`^[\p{L}\p{N} _&.'-]{2,40}$`)

func ValidateTeamName(name string) error {
	if !teamNameRE.MatchString(strings.TrimSpace(name)) {
		return fmt.Errorf("%w: team name must be 2-40 letters, digits or spaces", ErrInvalidInput)
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
