package game

import (
	"math"
	mathrand "math/rand"
	"sync"
)

// Rand is the single source of non-determinism for round resolution.
type Rand interface {
	Float64() float64
}

type lockedRand struct {
	mu sync.Mutex
	r  *mathrand.Rand
}

// NewRand returns a goroutine-safe Rand seeded with seed.
func NewRand(seed int64) Rand {
	return &lockedRand{r: mathrand.New(mathrand.NewSource(seed))}
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func TotalCapacity(t Team) int {
	total := 0
	for _, tier := range Tiers {
		total += t.Employees[tier] * TierSpecs[tier].Capacity
	}
	return total
}

func BaseCompetency(t Team) float64 {
	total := 0.0
	for _, tier := range Tiers {
		total += float64(t.Employees[tier]) * TierSpecs[tier].Competency
	}
	return total
}

// ActualCompetency is independent of productivity.
func ActualCompetency(t Team) float64 {
	return BaseCompetency(t)
}

func LeverageRatio(t Team) float64 {
	partners := t.Employees[TierPartner]
	if partners < 1 {
		partners = 1
	}
	return float64(t.Employees[TierJunior]) / float64(partners)
}

func ProductivityMultiplier(productivity float64) float64 {
	return 100 / (100 + productivity)
}

func ProductivityDiscountPercent(productivity float64) int {
	return int(math.Round((1 - ProductivityMultiplier(productivity)) * 100))
}

func GruntWorkRate(productivity float64) int64 {
	return int64(math.Round(GruntBaseRate * (1 + productivity/100)))
}

func GruntWorkIncome(t Team, capacityUsed int) int64 {
	free := TotalCapacity(t) - capacityUsed
	if free <= 0 {
		return 0
	}
	return int64(free) * GruntWorkRate(t.Metrics.Productivity)
}

func RequiredCompetency(p Project) float64 {
	return float64(p.Complexity) * MinCompetencyRatio
}

func ProjectExecutionCost(t Team, p Project) int64 {
	cost := float64(p.Complexity) * BaseCostPerComplexity *
		ProductivityMultiplier(t.Metrics.Productivity) *
		(1 + LeverageRatio(t)*LeverageCostIncrease)
	return int64(math.Floor(cost))
}

// BaseSuccessChance is the deterministic part of SuccessChance, before the
// variance draw and the cap.
func BaseSuccessChance(t Team, p Project, burnoutPenalty float64) float64 {
	// A project with no competency requirement saturates the ratio so that
	// every variance draw still reaches the cap before penalties apply.
	chance := MaxSuccessChance / VarianceMin
	if required := RequiredCompetency(p); required > 0 {
		chance = ActualCompetency(t) / required * SuccessBase
	}
	if lev := LeverageRatio(t); lev > MaxAcceptableLeverage {
		chance *= math.Pow(LeverageQualityMultiplier, lev-MaxAcceptableLeverage)
	}
	if burnoutPenalty > 0 {
		chance *= 1 - burnoutPenalty
	}
	return chance
}

// SuccessChance draws exactly one variance sample from rng. Call it once per
// resolved attempt.
func SuccessChance(t Team, p Project, burnoutPenalty float64, rng Rand) float64 {
	variance := VarianceMin + rng.Float64()*VarianceSpan
	chance := BaseSuccessChance(t, p, burnoutPenalty) * variance
	return clamp(chance, 0, MaxSuccessChance)
}

// BurnoutPenalty returns the quality penalty for committing used capacity out
// of total. Every 10% over capacity adds one BurnoutQualityPenalty.
func BurnoutPenalty(used, total int) (penalty, overload float64) {
	if float64(used) <= float64(total)*OverworkThreshold {
		return 0, 0
	}
	if total <= 0 {
		// No capacity at all: any commitment is a full burnout.
		return 1, math.Inf(1)
	}
	overload = float64(used-total) / float64(total)
	return overload / 0.1 * BurnoutQualityPenalty, overload
}
