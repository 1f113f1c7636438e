package game

import "fmt"

// InitialState is the game record before the first start.
func InitialState() GameState {
	return GameState{CurrentRound: 1, Stage: StageUnstarted}
}

// StartState moves an unstarted game into round 1.
func StartState(gs GameState) (GameState, error) {
	if gs.Stage == StageActive {
		return gs, ErrGameInProgress
	}
	return GameState{CurrentRound: 1, Stage: StageActive}, nil
}

// CheckAdvance applies the advance gates in order. The max-round gate is
// applied before the ready gate so force can never bypass it.
func CheckAdvance(gs GameState, teams []Team, activeProjects []Project, force bool) error {
	if gs.Stage != StageActive {
		return ErrGameNotStarted
	}
	if gs.CurrentRound+1 > MaxRounds {
		return fmt.Errorf("%w (%d)", ErrGameOver, MaxRounds)
	}
	setUp := 0
	var notReady []string
	for _, t := range teams {
		if t.NeedsSetup {
			continue
		}
		setUp++
		if !t.Ready {
			notReady = append(notReady, t.Name)
		}
	}
	if setUp == 0 {
		return ErrNoTeams
	}
	if len(activeProjects) == 0 {
		return fmt.Errorf("%w (round %d)", ErrNoProjects, gs.CurrentRound)
	}
	if len(notReady) > 0 && !force {
		return fmt.Errorf("%w: waiting on %d team(s)", ErrTeamsNotReady, len(notReady))
	}
	return nil
}

func NextState(gs GameState) GameState {
	return GameState{CurrentRound: gs.CurrentRound + 1, Stage: gs.Stage}
}

// ResetState is the game record after a hard reset.
func ResetState() GameState {
	return GameState{CurrentRound: 1, Stage: StageActive}
}

// ResetTeam returns t as it stood right after signup.
func ResetTeam(t Team) Team {
	return NewTeam(t.ID, t.Name, t.CreatedAt)
}

// ActiveProjects filters the catalog to the projects biddable in round.
func ActiveProjects(catalog []Project, round int) []Project {
	var out []Project
	for _, p := range catalog {
		if p.ActiveIn(round) {
			out = append(out, p)
		}
	}
	return out
}
