// Package store holds the game.Store implementations: an in-process Memory
// store, SQLite for single-node deployments and Postgres.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"lawfirm/internal/game"
)

var (
	_ game.Store = (*Memory)(nil)
	_ game.Store = (*SQLite)(nil)
	_ game.Store = (*Postgres)(nil)
)

func errDuplicateTeam(id string) error {
	return fmt.Errorf("%w: team %s already exists", game.ErrInvalidInput, id)
}

// teamRow is the column layout shared by the SQL stores. Maps and round sets
// are stored as JSON text.
type teamRow struct {
	ID                 string
	Name               string
	Money              int64
	Employees          string
	Productivity       float64
	ClientSatisfaction float64
	Upgrades           string
	Office             string
	Tech               string
	Ready              bool
	NeedsSetup         bool
	CreatedAt          time.Time
}

func encodeTeam(t game.Team) (teamRow, error) {
	employees, err := json.Marshal(t.Employees)
	if err != nil {
		return teamRow{}, fmt.Errorf("encode employees: %w", err)
	}
	upgrades, err := json.Marshal(t.Upgrades)
	if err != nil {
		return teamRow{}, fmt.Errorf("encode upgrades: %w", err)
	}
	return teamRow{
		ID:                 t.ID,
		Name:               t.Name,
		Money:              t.Money,
		Employees:          string(employees),
		Productivity:       t.Metrics.Productivity,
		ClientSatisfaction: t.Metrics.ClientSatisfaction,
		Upgrades:           string(upgrades),
		Office:             t.Config.Office,
		Tech:               t.Config.Tech,
		Ready:              t.Ready,
		NeedsSetup:         t.NeedsSetup,
		CreatedAt:          t.CreatedAt.UTC(),
	}, nil
}

// decodeTeam leaves Employees nil when the stored column is not a JSON object,
// so the engine skips the record instead of resolving it with guessed values.
func decodeTeam(r teamRow) game.Team {
	t := game.Team{
		ID:    r.ID,
		Name:  r.Name,
		Money: r.Money,
		Metrics: game.Metrics{
			Productivity:       r.Productivity,
			ClientSatisfaction: r.ClientSatisfaction,
		},
		Config:     game.FirmConfig{Office: r.Office, Tech: r.Tech},
		Bids:       map[string]int64{},
		Ready:      r.Ready,
		NeedsSetup: r.NeedsSetup,
		CreatedAt:  r.CreatedAt.UTC(),
	}
	var employees map[game.Tier]int
	if err := json.Unmarshal([]byte(r.Employees), &employees); err == nil {
		t.Employees = employees
	}
	upgrades := map[game.UpgradeTrack]int{}
	_ = json.Unmarshal([]byte(r.Upgrades), &upgrades)
	t.Upgrades = upgrades
	return t
}

func encodeRounds(rounds []int) (string, error) {
	if rounds == nil {
		rounds = []int{}
	}
	b, err := json.Marshal(rounds)
	if err != nil {
		return "", fmt.Errorf("encode rounds: %w", err)
	}
	return string(b), nil
}

func decodeRounds(raw string) ([]int, error) {
	var rounds []int
	if err := json.Unmarshal([]byte(raw), &rounds); err != nil {
		return nil, fmt.Errorf("decode rounds: %w", err)
	}
	if rounds == nil {
		rounds = []int{}
	}
	return rounds, nil
}

func resetTeamColumns() (employees, upgrades string) {
	blank := game.NewTeam("", "", time.Time{})
	e, _ := json.Marshal(blank.Employees)
	u, _ := json.Marshal(blank.Upgrades)
	return string(e), string(u)
}
