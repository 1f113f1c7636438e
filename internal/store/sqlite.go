package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"lawfirm/internal/game"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS game_state (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    current_round INTEGER NOT NULL,
    stage TEXT NOT NULL
);
INSERT OR IGNORE INTO game_state (id, current_round, stage) VALUES (1, 1, 'unstarted');

CREATE TABLE IF NOT EXISTS teams (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    money INTEGER NOT NULL DEFAULT 0,
    employees TEXT NOT NULL,
    productivity REAL NOT NULL DEFAULT 0,
    client_satisfaction REAL NOT NULL DEFAULT 0,
    upgrades TEXT NOT NULL,
    office TEXT NOT NULL DEFAULT '',
    tech TEXT NOT NULL DEFAULT '',
    ready INTEGER NOT NULL DEFAULT 0,
    needs_setup INTEGER NOT NULL DEFAULT 1,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS projects (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    complexity INTEGER NOT NULL,
    capacity_cost INTEGER NOT NULL,
    estimated_cost INTEGER NOT NULL,
    hidden_market_price INTEGER NOT NULL,
    rounds TEXT NOT NULL,
    position INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS bids (
    project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    team_id TEXT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
    amount INTEGER NOT NULL,
    created_at TEXT NOT NULL,
    PRIMARY KEY (project_id, team_id)
);

CREATE TABLE IF NOT EXISTS round_logs (
    id TEXT PRIMARY KEY,
    team_id TEXT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
    round INTEGER NOT NULL,
    seq INTEGER NOT NULL,
    message TEXT NOT NULL,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_round_logs_team ON round_logs(team_id, round, seq);
`

// SQLite is a game.Store over database/sql with the modernc driver. The
// handle must be limited to one open connection.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

func (s *SQLite) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("migrate sqlite: %w", err)
	}
	return nil
}

func (s *SQLite) GameState(ctx context.Context) (game.GameState, error) {
	var gs game.GameState
	var stage string
	err := s.db.QueryRowContext(ctx, `SELECT current_round, stage FROM game_state WHERE id = 1`).
		Scan(&gs.CurrentRound, &stage)
	if errors.Is(err, sql.ErrNoRows) {
		return game.InitialState(), nil
	}
	if err != nil {
		return gs, fmt.Errorf("load game state: %w", err)
	}
	gs.Stage = game.Stage(stage)
	return gs, nil
}

func (s *SQLite) SaveGameState(ctx context.Context, gs game.GameState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO game_state (id, current_round, stage) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET current_round = excluded.current_round, stage = excluded.stage
	`, gs.CurrentRound, string(gs.Stage))
	if err != nil {
		return fmt.Errorf("save game state: %w", err)
	}
	return nil
}

const sqliteTeamColumns = `id, name, money, employees, productivity, client_satisfaction, upgrades, office, tech, ready, needs_setup, created_at`

func (s *SQLite) Teams(ctx context.Context) ([]game.Team, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteTeamColumns+` FROM teams ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	var teams []game.Team
	for rows.Next() {
		t, err := scanSQLiteTeam(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		teams = append(teams, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	bids, err := s.allBids(ctx)
	if err != nil {
		return nil, err
	}
	for i := range teams {
		for _, b := range bids {
			if b.TeamID == teams[i].ID {
				teams[i].Bids[b.ProjectID] = b.Amount
			}
		}
	}
	return teams, nil
}

func (s *SQLite) Team(ctx context.Context, id string) (game.Team, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteTeamColumns+` FROM teams WHERE id = ?`, id)
	t, err := scanSQLiteTeam(row)
	if errors.Is(err, sql.ErrNoRows) {
		return game.Team{}, game.ErrTeamNotFound
	}
	if err != nil {
		return game.Team{}, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT project_id, amount FROM bids WHERE team_id = ?`, id)
	if err != nil {
		return game.Team{}, fmt.Errorf("load team bids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var projectID string
		var amount int64
		if err := rows.Scan(&projectID, &amount); err != nil {
			return game.Team{}, err
		}
		t.Bids[projectID] = amount
	}
	return t, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteTeam(sc scanner) (game.Team, error) {
	var r teamRow
	var createdAt string
	if err := sc.Scan(&r.ID, &r.Name, &r.Money, &r.Employees, &r.Productivity, &r.ClientSatisfaction,
		&r.Upgrades, &r.Office, &r.Tech, &r.Ready, &r.NeedsSetup, &createdAt); err != nil {
		return game.Team{}, err
	}
	r.CreatedAt = parseSQLiteTime(createdAt)
	return decodeTeam(r), nil
}

func (s *SQLite) CreateTeam(ctx context.Context, t game.Team) error {
	r, err := encodeTeam(t)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO teams (`+sqliteTeamColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, r.ID, r.Name, r.Money, r.Employees, r.Productivity, r.ClientSatisfaction,
		r.Upgrades, r.Office, r.Tech, r.Ready, r.NeedsSetup, formatSQLiteTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("create team: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errDuplicateTeam(t.ID)
	}
	return nil
}

func (s *SQLite) UpdateTeam(ctx context.Context, t game.Team) error {
	r, err := encodeTeam(t)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE teams
		SET name = ?, money = ?, employees = ?, productivity = ?, client_satisfaction = ?,
		    upgrades = ?, office = ?, tech = ?, ready = ?, needs_setup = ?
		WHERE id = ?
	`, r.Name, r.Money, r.Employees, r.Productivity, r.ClientSatisfaction,
		r.Upgrades, r.Office, r.Tech, r.Ready, r.NeedsSetup, r.ID)
	if err != nil {
		return fmt.Errorf("update team: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return game.ErrTeamNotFound
	}
	return nil
}

func (s *SQLite) DeleteTeam(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM bids WHERE team_id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM round_logs WHERE team_id = ?`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM teams WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return game.ErrTeamNotFound
		}
		return nil
	})
}

func (s *SQLite) Projects(ctx context.Context) ([]game.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, complexity, capacity_cost, estimated_cost, hidden_market_price, rounds
		FROM projects ORDER BY position
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()
	var out []game.Project
	for rows.Next() {
		p, err := scanSQLiteProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLite) Project(ctx context.Context, id string) (game.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, complexity, capacity_cost, estimated_cost, hidden_market_price, rounds
		FROM projects WHERE id = ?
	`, id)
	p, err := scanSQLiteProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return game.Project{}, game.ErrProjectNotFound
	}
	return p, err
}

func scanSQLiteProject(sc scanner) (game.Project, error) {
	var p game.Project
	var rounds string
	if err := sc.Scan(&p.ID, &p.Name, &p.Complexity, &p.CapacityCost, &p.EstimatedCost, &p.HiddenMarketPrice, &rounds); err != nil {
		return game.Project{}, err
	}
	decoded, err := decodeRounds(rounds)
	if err != nil {
		return game.Project{}, fmt.Errorf("project %s: %w", p.ID, err)
	}
	p.Rounds = decoded
	return p, nil
}

func (s *SQLite) SaveProject(ctx context.Context, p game.Project) error {
	rounds, err := encodeRounds(p.Rounds)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, complexity, capacity_cost, estimated_cost, hidden_market_price, rounds, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM projects))
		ON CONFLICT (id) DO UPDATE SET
		    name = excluded.name,
		    complexity = excluded.complexity,
		    capacity_cost = excluded.capacity_cost,
		    estimated_cost = excluded.estimated_cost,
		    hidden_market_price = excluded.hidden_market_price,
		    rounds = excluded.rounds
	`, p.ID, p.Name, p.Complexity, p.CapacityCost, p.EstimatedCost, p.HiddenMarketPrice, rounds)
	if err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	return nil
}

func (s *SQLite) PlaceBid(ctx context.Context, b game.Bid) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO bids (project_id, team_id, amount, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (project_id, team_id) DO NOTHING
	`, b.ProjectID, b.TeamID, b.Amount, formatSQLiteTime(b.CreatedAt))
	if err != nil {
		return fmt.Errorf("place bid: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return game.ErrBidExists
	}
	return nil
}

func (s *SQLite) Bids(ctx context.Context, projectIDs []string) ([]game.Bid, error) {
	if len(projectIDs) == 0 {
		return nil, nil
	}
	args := make([]any, len(projectIDs))
	for i, id := range projectIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id, team_id, amount, created_at FROM bids
		WHERE project_id IN (`+placeholders(len(projectIDs))+`)
		ORDER BY created_at, rowid
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list bids: %w", err)
	}
	defer rows.Close()
	return scanSQLiteBids(rows)
}

func (s *SQLite) allBids(ctx context.Context) ([]game.Bid, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT project_id, team_id, amount, created_at FROM bids ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("list bids: %w", err)
	}
	defer rows.Close()
	return scanSQLiteBids(rows)
}

func scanSQLiteBids(rows *sql.Rows) ([]game.Bid, error) {
	var out []game.Bid
	for rows.Next() {
		var b game.Bid
		var createdAt string
		if err := rows.Scan(&b.ProjectID, &b.TeamID, &b.Amount, &createdAt); err != nil {
			return nil, err
		}
		b.CreatedAt = parseSQLiteTime(createdAt)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *SQLite) Logs(ctx context.Context, teamID string) ([]game.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, team_id, round, seq, message, created_at FROM round_logs
		WHERE team_id = ? ORDER BY round, seq
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()
	var out []game.LogEntry
	for rows.Next() {
		var l game.LogEntry
		var createdAt string
		if err := rows.Scan(&l.ID, &l.TeamID, &l.Round, &l.Seq, &l.Message, &createdAt); err != nil {
			return nil, err
		}
		l.CreatedAt = parseSQLiteTime(createdAt)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *SQLite) CommitRound(ctx context.Context, c game.RoundCommit) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE game_state SET current_round = ?, stage = ? WHERE id = 1 AND current_round = ?
		`, c.Next.CurrentRound, string(c.Next.Stage), c.FromRound)
		if err != nil {
			return fmt.Errorf("advance game state: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return game.ErrRoundConflict
		}
		for _, r := range c.Results {
			res, err := tx.ExecContext(ctx, `
				UPDATE teams SET money = ?, productivity = ?, client_satisfaction = ? WHERE id = ?
			`, r.Money, r.Metrics.Productivity, r.Metrics.ClientSatisfaction, r.TeamID)
			if err != nil {
				return fmt.Errorf("apply result for team %s: %w", r.TeamID, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return game.ErrTeamNotFound
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE teams SET ready = 0`); err != nil {
			return fmt.Errorf("clear ready flags: %w", err)
		}
		if len(c.ProjectIDs) > 0 {
			args := make([]any, len(c.ProjectIDs))
			for i, id := range c.ProjectIDs {
				args[i] = id
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM bids WHERE project_id IN (`+placeholders(len(args))+`)`, args...); err != nil {
				return fmt.Errorf("clear consumed bids: %w", err)
			}
		}
		for _, l := range c.Logs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO round_logs (id, team_id, round, seq, message, created_at) VALUES (?, ?, ?, ?, ?, ?)
			`, l.ID, l.TeamID, l.Round, l.Seq, l.Message, formatSQLiteTime(l.CreatedAt)); err != nil {
				return fmt.Errorf("append round log: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLite) Reset(ctx context.Context, gs game.GameState) error {
	employees, upgrades := resetTeamColumns()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM bids`); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM round_logs`); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE teams
			SET money = 0, employees = ?, productivity = 0, client_satisfaction = 0,
			    upgrades = ?, office = '', tech = '', ready = 0, needs_setup = 1
		`, employees, upgrades); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE game_state SET current_round = ?, stage = ? WHERE id = 1`,
			gs.CurrentRound, string(gs.Stage))
		return err
	})
}

func (s *SQLite) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// sqliteTimeLayout has a fixed width so that text ordering matches time order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
