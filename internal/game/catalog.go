package game

import "fmt"

const ProjectsPerRound = 10

type ProjectTemplate struct {
	Name              string
	Complexity        int
	CapacityCost      int
	EstimatedCost     int64
	HiddenMarketPrice int64
}

var ProjectTemplates = []ProjectTemplate{
	{"Simple Contract Review", 30, 10, 30_000, 60_000},
	{"Startup Incorporation", 40, 15, 50_000, 90_000},
	{"Employment Dispute", 50, 20, 80_000, 140_000},
	{"Mid-Market M&A", 70, 35, 180_000, 300_000},
	{"Patent Litigation", 90, 50, 300_000, 450_000},
	{"Real Estate Zoning", 45, 20, 60_000, 110_000},
	{"Corporate Restructuring", 80, 45, 250_000, 400_000},
	{"IPO Filing", 100, 60, 400_000, 700_000},
	{"Small Claims Court", 20, 5, 10_000, 25_000},
	{"Data Privacy Audit", 60, 25, 100_000, 180_000},
	{"Tax Advisory", 55, 20, 90_000, 160_000},
	{"Global Antitrust Filing", 95, 55, 350_000, 600_000},
}

func (pt ProjectTemplate) Project(id string, rounds ...int) Project {
	return Project{
		ID:                id,
		Name:              pt.Name,
		Complexity:        pt.Complexity,
		CapacityCost:      pt.CapacityCost,
		EstimatedCost:     pt.EstimatedCost,
		HiddenMarketPrice: pt.HiddenMarketPrice,
		Rounds:            normalizeRounds(rounds),
	}
}

// DefaultCatalog spreads the templates over the game: simpler matters recur
// in every round, complex ones open up as the game progresses.
func DefaultCatalog(newID func() string) []Project {
	out := make([]Project, 0, len(ProjectTemplates))
	for _, pt := range ProjectTemplates {
		first := 1
		switch {
		case pt.Complexity >= 90:
			first = 5
		case pt.Complexity >= 70:
			first = 3
		}
		rounds := make([]int, 0, MaxRounds)
		for r := first; r <= MaxRounds; r++ {
			rounds = append(rounds, r)
		}
		out = append(out, pt.Project(newID(), rounds...))
	}
	return out
}

// GenerateRoundProjects draws a mix for one round: 3-5 simple, 3-5 complex,
// the rest medium.
func GenerateRoundProjects(round int, rng Rand, newID func() string) []Project {
	var simple, medium, hard []ProjectTemplate
	for _, pt := range ProjectTemplates {
		switch {
		case pt.Complexity <= 45:
			simple = append(simple, pt)
		case pt.Complexity >= 70:
			hard = append(hard, pt)
		default:
			medium = append(medium, pt)
		}
	}
	numSimple := 3 + int(rng.Float64()*3)
	numComplex := 3 + int(rng.Float64()*3)
	numMedium := ProjectsPerRound - numSimple - numComplex

	out := make([]Project, 0, ProjectsPerRound)
	pick := func(pool []ProjectTemplate, n int) {
		for i := 0; i < n; i++ {
			pt := pool[int(rng.Float64()*float64(len(pool)))%len(pool)]
			p := pt.Project(newID(), round)
			p.Name = fmt.Sprintf("%s #%d-%d", pt.Name, round, len(out)+1)
			out = append(out, p)
		}
	}
	pick(simple, numSimple)
	pick(hard, numComplex)
	pick(medium, numMedium)
	return out
}
