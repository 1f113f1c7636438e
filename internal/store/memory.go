package store

import (
	"context"
	"sort"
	"sync"

	"lawfirm/internal/game"
)

// Memory is a process-local game.Store. Every read returns deep copies.
type Memory struct {
	mu       sync.Mutex
	state    game.GameState
	teams    map[string]game.Team
	projects map[string]game.Project
	order    []string
	bids     []game.Bid
	logs     []game.LogEntry
}

func NewMemory() *Memory {
	return &Memory{
		state:    game.InitialState(),
		teams:    map[string]game.Team{},
		projects: map[string]game.Project{},
	}
}

func (m *Memory) GameState(ctx context.Context) (game.GameState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, nil
}

func (m *Memory) SaveGameState(ctx context.Context, gs game.GameState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = gs
	return nil
}

func (m *Memory) Teams(ctx context.Context) ([]game.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]game.Team, 0, len(m.teams))
	for _, t := range m.teams {
		out = append(out, m.withBids(t))
	}
	sortTeams(out)
	return out, nil
}

func (m *Memory) Team(ctx context.Context, id string) (game.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.teams[id]
	if !ok {
		return game.Team{}, game.ErrTeamNotFound
	}
	return m.withBids(t), nil
}

func (m *Memory) CreateTeam(ctx context.Context, t game.Team) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.teams[t.ID]; ok {
		return errDuplicateTeam(t.ID)
	}
	m.teams[t.ID] = copyTeam(t)
	return nil
}

func (m *Memory) UpdateTeam(ctx context.Context, t game.Team) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.teams[t.ID]; !ok {
		return game.ErrTeamNotFound
	}
	m.teams[t.ID] = copyTeam(t)
	return nil
}

func (m *Memory) DeleteTeam(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.teams[id]; !ok {
		return game.ErrTeamNotFound
	}
	delete(m.teams, id)
	m.bids = filterBids(m.bids, func(b game.Bid) bool { return b.TeamID != id })
	logs := m.logs[:0]
	for _, l := range m.logs {
		if l.TeamID != id {
			logs = append(logs, l)
		}
	}
	m.logs = logs
	return nil
}

func (m *Memory) Projects(ctx context.Context) ([]game.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]game.Project, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, copyProject(m.projects[id]))
	}
	return out, nil
}

func (m *Memory) Project(ctx context.Context, id string) (game.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return game.Project{}, game.ErrProjectNotFound
	}
	return copyProject(p), nil
}

func (m *Memory) SaveProject(ctx context.Context, p game.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[p.ID]; !ok {
		m.order = append(m.order, p.ID)
	}
	m.projects[p.ID] = copyProject(p)
	return nil
}

func (m *Memory) PlaceBid(ctx context.Context, b game.Bid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.teams[b.TeamID]; !ok {
		return game.ErrTeamNotFound
	}
	if _, ok := m.projects[b.ProjectID]; !ok {
		return game.ErrProjectNotFound
	}
	for _, existing := range m.bids {
		if existing.ProjectID == b.ProjectID && existing.TeamID == b.TeamID {
			return game.ErrBidExists
		}
	}
	m.bids = append(m.bids, b)
	return nil
}

func (m *Memory) Bids(ctx context.Context, projectIDs []string) ([]game.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := toSet(projectIDs)
	var out []game.Bid
	for _, b := range m.bids {
		if _, ok := want[b.ProjectID]; ok {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *Memory) Logs(ctx context.Context, teamID string) ([]game.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []game.LogEntry
	for _, l := range m.logs {
		if l.TeamID == teamID {
			out = append(out, l)
		}
	}
	sortLogs(out)
	return out, nil
}

func (m *Memory) CommitRound(ctx context.Context, c game.RoundCommit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.CurrentRound != c.FromRound {
		return game.ErrRoundConflict
	}
	for _, r := range c.Results {
		if _, ok := m.teams[r.TeamID]; !ok {
			return game.ErrTeamNotFound
		}
	}

	for _, r := range c.Results {
		t := m.teams[r.TeamID]
		t.Money = r.Money
		t.Metrics = r.Metrics
		m.teams[r.TeamID] = t
	}
	for id, t := range m.teams {
		t.Ready = false
		m.teams[id] = t
	}
	consumed := toSet(c.ProjectIDs)
	m.bids = filterBids(m.bids, func(b game.Bid) bool {
		_, gone := consumed[b.ProjectID]
		return !gone
	})
	m.logs = append(m.logs, c.Logs...)
	m.state = c.Next
	return nil
}

func (m *Memory) Reset(ctx context.Context, gs game.GameState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.teams {
		m.teams[id] = game.ResetTeam(t)
	}
	m.bids = nil
	m.logs = nil
	m.state = gs
	return nil
}

func (m *Memory) withBids(t game.Team) game.Team {
	out := copyTeam(t)
	out.Bids = map[string]int64{}
	for _, b := range m.bids {
		if b.TeamID == t.ID {
			out.Bids[b.ProjectID] = b.Amount
		}
	}
	return out
}

func copyTeam(t game.Team) game.Team {
	out := t
	if t.Employees != nil {
		out.Employees = make(map[game.Tier]int, len(t.Employees))
		for k, v := range t.Employees {
			out.Employees[k] = v
		}
	}
	if t.Upgrades != nil {
		out.Upgrades = make(map[game.UpgradeTrack]int, len(t.Upgrades))
		for k, v := range t.Upgrades {
			out.Upgrades[k] = v
		}
	}
	out.Bids = nil
	return out
}

func copyProject(p game.Project) game.Project {
	out := p
	out.Rounds = append([]int(nil), p.Rounds...)
	return out
}

func filterBids(bids []game.Bid, keep func(game.Bid) bool) []game.Bid {
	out := bids[:0]
	for _, b := range bids {
		if keep(b) {
			out = append(out, b)
		}
	}
	return out
}

func toSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func sortTeams(teams []game.Team) {
	sort.SliceStable(teams, func(i, j int) bool {
		if !teams[i].CreatedAt.Equal(teams[j].CreatedAt) {
			return teams[i].CreatedAt.Before(teams[j].CreatedAt)
		}
		return teams[i].ID < teams[j].ID
	})
}

func sortLogs(logs []game.LogEntry) {
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].Round != logs[j].Round {
			return logs[i].Round < logs[j].Round
		}
		return logs[i].Seq < logs[j].Seq
	})
}
