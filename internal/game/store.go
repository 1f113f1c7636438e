package game

import "context"

// Store is the persistence boundary of the game. Implementations live in
// internal/store. Team reads populate Team.Bids from the bid records.
type Store interface {
	GameState(ctx context.Context) (GameState, error)
	SaveGameState(ctx context.Context, gs GameState) error

	Teams(ctx context.Context) ([]Team, error)
	Team(ctx context.Context, id string) (Team, error)
	CreateTeam(ctx context.Context, t Team) error
	// UpdateTeam writes team-owned decisions and their money effect. It never
	// touches bids.
	UpdateTeam(ctx context.Context, t Team) error
	DeleteTeam(ctx context.Context, id string) error

	Projects(ctx context.Context) ([]Project, error)
	Project(ctx context.Context, id string) (Project, error)
	SaveProject(ctx context.Context, p Project) error

	// PlaceBid inserts a bid and fails with ErrBidExists on a duplicate.
	PlaceBid(ctx context.Context, b Bid) error
	Bids(ctx context.Context, projectIDs []string) ([]Bid, error)

	Logs(ctx context.Context, teamID string) ([]LogEntry, error)

	// CommitRound applies one resolved round atomically, or nothing.
	CommitRound(ctx context.Context, c RoundCommit) error
	// Reset applies a hard reset atomically. The project catalog is kept.
	Reset(ctx context.Context, gs GameState) error
}

type TeamResult struct {
	TeamID  string  `json:"team_id"`
	Money   int64   `json:"money"`
	Metrics Metrics `json:"metrics"`
}

type RoundCommit struct {
	// FromRound must equal the stored current round, else ErrRoundConflict.
	FromRound  int          `json:"from_round"`
	Next       GameState    `json:"next"`
	Results    []TeamResult `json:"results"`
	Logs       []LogEntry   `json:"logs"`
	ProjectIDs []string     `json:"project_ids"`
}
