package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"lawfirm/internal/game"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE SCHEMA IF NOT EXISTS lawfirm;

CREATE TABLE IF NOT EXISTS lawfirm.game_state (
    id SMALLINT PRIMARY KEY CHECK (id = 1),
    current_round INTEGER NOT NULL,
    stage TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
INSERT INTO lawfirm.game_state (id, current_round, stage) VALUES (1, 1, 'unstarted')
ON CONFLICT (id) DO NOTHING;

CREATE TABLE IF NOT EXISTS lawfirm.teams (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    money BIGINT NOT NULL DEFAULT 0,
    employees JSONB NOT NULL,
    productivity DOUBLE PRECISION NOT NULL DEFAULT 0,
    client_satisfaction DOUBLE PRECISION NOT NULL DEFAULT 0,
    upgrades JSONB NOT NULL,
    office TEXT NOT NULL DEFAULT '',
    tech TEXT NOT NULL DEFAULT '',
    ready BOOLEAN NOT NULL DEFAULT false,
    needs_setup BOOLEAN NOT NULL DEFAULT true,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS lawfirm.projects (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    complexity INTEGER NOT NULL,
    capacity_cost INTEGER NOT NULL,
    estimated_cost BIGINT NOT NULL,
    hidden_market_price BIGINT NOT NULL,
    rounds JSONB NOT NULL,
    position BIGSERIAL
);

CREATE TABLE IF NOT EXISTS lawfirm.bids (
    project_id TEXT NOT NULL REFERENCES lawfirm.projects(id) ON DELETE CASCADE,
    team_id TEXT NOT NULL REFERENCES lawfirm.teams(id) ON DELETE CASCADE,
    amount BIGINT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    seq BIGSERIAL,
    PRIMARY KEY (project_id, team_id)
);

CREATE TABLE IF NOT EXISTS lawfirm.round_logs (
    id TEXT PRIMARY KEY,
    team_id TEXT NOT NULL REFERENCES lawfirm.teams(id) ON DELETE CASCADE,
    round INTEGER NOT NULL,
    seq INTEGER NOT NULL,
    message TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS round_logs_team_idx ON lawfirm.round_logs(team_id, round, seq);
`

// Postgres is a game.Store over pgxpool. Multi-statement writes run in
// serializable transactions and are retried on serialization failures.
type Postgres struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func NewPostgres(db *pgxpool.Pool, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{db: db, log: logger}
}

func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}

func (p *Postgres) GameState(ctx context.Context) (game.GameState, error) {
	var gs game.GameState
	var stage string
	err := p.db.QueryRow(ctx, `SELECT current_round, stage FROM lawfirm.game_state WHERE id = 1`).
		Scan(&gs.CurrentRound, &stage)
	if err == pgx.ErrNoRows {
		return game.InitialState(), nil
	}
	if err != nil {
		return gs, fmt.Errorf("load game state: %w", err)
	}
	gs.Stage = game.Stage(stage)
	return gs, nil
}

func (p *Postgres) SaveGameState(ctx context.Context, gs game.GameState) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO lawfirm.game_state (id, current_round, stage) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET current_round = EXCLUDED.current_round, stage = EXCLUDED.stage, updated_at = now()
	`, gs.CurrentRound, string(gs.Stage))
	if err != nil {
		return fmt.Errorf("save game state: %w", err)
	}
	return nil
}

const pgTeamColumns = `id, name, money, employees::text, productivity, client_satisfaction, upgrades::text, office, tech, ready, needs_setup, created_at`

func (p *Postgres) Teams(ctx context.Context) ([]game.Team, error) {
	rows, err := p.db.Query(ctx, `SELECT `+pgTeamColumns+` FROM lawfirm.teams ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	teams, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (game.Team, error) {
		return scanPGTeam(row)
	})
	if err != nil {
		return nil, err
	}

	bids, err := p.queryBids(ctx, `SELECT project_id, team_id, amount, created_at FROM lawfirm.bids ORDER BY seq`)
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

func (p *Postgres) Team(ctx context.Context, id string) (game.Team, error) {
	t, err := scanPGTeam(p.db.QueryRow(ctx, `SELECT `+pgTeamColumns+` FROM lawfirm.teams WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return game.Team{}, game.ErrTeamNotFound
	}
	if err != nil {
		return game.Team{}, err
	}
	bids, err := p.queryBids(ctx, `SELECT project_id, team_id, amount, created_at FROM lawfirm.bids WHERE team_id = $1 ORDER BY seq`, id)
	if err != nil {
		return game.Team{}, err
	}
	for _, b := range bids {
		t.Bids[b.ProjectID] = b.Amount
	}
	return t, nil
}

func scanPGTeam(row pgx.Row) (game.Team, error) {
	var r teamRow
	if err := row.Scan(&r.ID, &r.Name, &r.Money, &r.Employees, &r.Productivity, &r.ClientSatisfaction,
		&r.Upgrades, &r.Office, &r.Tech, &r.Ready, &r.NeedsSetup, &r.CreatedAt); err != nil {
		return game.Team{}, err
	}
	return decodeTeam(r), nil
}

func (p *Postgres) CreateTeam(ctx context.Context, t game.Team) error {
	r, err := encodeTeam(t)
	if err != nil {
		return err
	}
	tag, err := p.db.Exec(ctx, `
		INSERT INTO lawfirm.teams
		    (id, name, money, employees, productivity, client_satisfaction, upgrades, office, tech, ready, needs_setup, created_at)
		VALUES
		    ($1, $2, $3, $4::jsonb, $5, $6, $7::jsonb, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`, r.ID, r.Name, r.Money, r.Employees, r.Productivity, r.ClientSatisfaction,
		r.Upgrades, r.Office, r.Tech, r.Ready, r.NeedsSetup, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("create team: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errDuplicateTeam(t.ID)
	}
	return nil
}

func (p *Postgres) UpdateTeam(ctx context.Context, t game.Team) error {
	r, err := encodeTeam(t)
	if err != nil {
		return err
	}
	tag, err := p.db.Exec(ctx, `
		UPDATE lawfirm.teams
		SET name = $1, money = $2, employees = $3::jsonb, productivity = $4, client_satisfaction = $5,
		    upgrades = $6::jsonb, office = $7, tech = $8, ready = $9, needs_setup = $10
		WHERE id = $11
	`, r.Name, r.Money, r.Employees, r.Productivity, r.ClientSatisfaction,
		r.Upgrades, r.Office, r.Tech, r.Ready, r.NeedsSetup, r.ID)
	if err != nil {
		return fmt.Errorf("update team: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return game.ErrTeamNotFound
	}
	return nil
}

func (p *Postgres) DeleteTeam(ctx context.Context, id string) error {
	tag, err := p.db.Exec(ctx, `DELETE FROM lawfirm.teams WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete team: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return game.ErrTeamNotFound
	}
	return nil
}

const pgProjectColumns = `id, name, complexity, capacity_cost, estimated_cost, hidden_market_price, rounds::text`

func (p *Postgres) Projects(ctx context.Context) ([]game.Project, error) {
	rows, err := p.db.Query(ctx, `SELECT `+pgProjectColumns+` FROM lawfirm.projects ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (game.Project, error) {
		return scanPGProject(row)
	})
}

func (p *Postgres) Project(ctx context.Context, id string) (game.Project, error) {
	pr, err := scanPGProject(p.db.QueryRow(ctx, `SELECT `+pgProjectColumns+` FROM lawfirm.projects WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return game.Project{}, game.ErrProjectNotFound
	}
	return pr, err
}

func scanPGProject(row pgx.Row) (game.Project, error) {
	var pr game.Project
	var rounds string
	if err := row.Scan(&pr.ID, &pr.Name, &pr.Complexity, &pr.CapacityCost, &pr.EstimatedCost, &pr.HiddenMarketPrice, &rounds); err != nil {
		return game.Project{}, err
	}
	decoded, err := decodeRounds(rounds)
	if err != nil {
		return game.Project{}, fmt.Errorf("project %s: %w", pr.ID, err)
	}
	pr.Rounds = decoded
	return pr, nil
}

func (p *Postgres) SaveProject(ctx context.Context, pr game.Project) error {
	rounds, err := encodeRounds(pr.Rounds)
	if err != nil {
		return err
	}
	_, err = p.db.Exec(ctx, `
		INSERT INTO lawfirm.projects (id, name, complexity, capacity_cost, estimated_cost, hidden_market_price, rounds)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
		ON CONFLICT (id) DO UPDATE SET
		    name = EXCLUDED.name,
		    complexity = EXCLUDED.complexity,
		    capacity_cost = EXCLUDED.capacity_cost,
		    estimated_cost = EXCLUDED.estimated_cost,
		    hidden_market_price = EXCLUDED.hidden_market_price,
		    rounds = EXCLUDED.rounds
	`, pr.ID, pr.Name, pr.Complexity, pr.CapacityCost, pr.EstimatedCost, pr.HiddenMarketPrice, rounds)
	if err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	return nil
}

func (p *Postgres) PlaceBid(ctx context.Context, b game.Bid) error {
	tag, err := p.db.Exec(ctx, `
		INSERT INTO lawfirm.bids (project_id, team_id, amount, created_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, team_id) DO NOTHING
	`, b.ProjectID, b.TeamID, b.Amount, b.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("place bid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return game.ErrBidExists
	}
	return nil
}

func (p *Postgres) Bids(ctx context.Context, projectIDs []string) ([]game.Bid, error) {
	if len(projectIDs) == 0 {
		return nil, nil
	}
	return p.queryBids(ctx, `
		SELECT project_id, team_id, amount, created_at FROM lawfirm.bids
		WHERE project_id = ANY($1) ORDER BY seq
	`, projectIDs)
}

func (p *Postgres) queryBids(ctx context.Context, sql string, args ...any) ([]game.Bid, error) {
	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list bids: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (game.Bid, error) {
		var b game.Bid
		err := row.Scan(&b.ProjectID, &b.TeamID, &b.Amount, &b.CreatedAt)
		return b, err
	})
}

func (p *Postgres) Logs(ctx context.Context, teamID string) ([]game.LogEntry, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id, team_id, round, seq, message, created_at FROM lawfirm.round_logs
		WHERE team_id = $1 ORDER BY round, seq
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (game.LogEntry, error) {
		var l game.LogEntry
		err := row.Scan(&l.ID, &l.TeamID, &l.Round, &l.Seq, &l.Message, &l.CreatedAt)
		return l, err
	})
}

func (p *Postgres) CommitRound(ctx context.Context, c game.RoundCommit) error {
	return p.inTx(ctx, "commit_round", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE lawfirm.game_state
			SET current_round = $1, stage = $2, updated_at = now()
			WHERE id = 1 AND current_round = $3
		`, c.Next.CurrentRound, string(c.Next.Stage), c.FromRound)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return game.ErrRoundConflict
		}

		batch := &pgx.Batch{}
		for _, r := range c.Results {
			batch.Queue(`
				UPDATE lawfirm.teams SET money = $1, productivity = $2, client_satisfaction = $3 WHERE id = $4
			`, r.Money, r.Metrics.Productivity, r.Metrics.ClientSatisfaction, r.TeamID)
		}
		batch.Queue(`UPDATE lawfirm.teams SET ready = false`)
		if len(c.ProjectIDs) > 0 {
			batch.Queue(`DELETE FROM lawfirm.bids WHERE project_id = ANY($1)`, c.ProjectIDs)
		}
		for _, l := range c.Logs {
			batch.Queue(`
				INSERT INTO lawfirm.round_logs (id, team_id, round, seq, message, created_at)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, l.ID, l.TeamID, l.Round, l.Seq, l.Message, l.CreatedAt.UTC())
		}
		br := tx.SendBatch(ctx, batch)
		for i := 0; i < len(c.Results); i++ {
			tag, err := br.Exec()
			if err != nil {
				br.Close()
				return fmt.Errorf("apply result for team %s: %w", c.Results[i].TeamID, err)
			}
			if tag.RowsAffected() == 0 {
				br.Close()
				return game.ErrTeamNotFound
			}
		}
		if err := br.Close(); err != nil {
			return err
		}
		return nil
	})
}

func (p *Postgres) Reset(ctx context.Context, gs game.GameState) error {
	employees, upgrades := resetTeamColumns()
	return p.inTx(ctx, "reset", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM lawfirm.bids`); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM lawfirm.round_logs`); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE lawfirm.teams
			SET money = 0, employees = $1::jsonb, productivity = 0, client_satisfaction = 0,
			    upgrades = $2::jsonb, office = '', tech = '', ready = false, needs_setup = true
		`, employees, upgrades); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			UPDATE lawfirm.game_state SET current_round = $1, stage = $2, updated_at = now() WHERE id = 1
		`, gs.CurrentRound, string(gs.Stage))
		return err
	})
}

// inTx runs fn in a serializable transaction, retrying with backoff when
// Postgres reports a serialization failure.
func (p *Postgres) inTx(ctx context.Context, op string, fn func(pgx.Tx) error) error {
	const maxAttempts = 8
	retryDelay := 75 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := func() error {
			tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
			if err != nil {
				return err
			}
			defer tx.Rollback(ctx)
			if err := fn(tx); err != nil {
				return err
			}
			return tx.Commit(ctx)
		}()
		if err == nil {
			return nil
		}
		if !isSerializationError(err) {
			return err
		}
		p.log.Warn("serialization conflict, retrying", "op", op, "attempt", attempt+1)
		if attempt == maxAttempts-1 {
			break
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}
	return game.ErrTxConflict
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
