package game_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"lawfirm/internal/game"
	"lawfirm/internal/pubsub"
	"lawfirm/internal/store"
)

type flakyStore struct {
	game.Store
	failCommits int
}

func (f *flakyStore) CommitRound(ctx context.Context, c game.RoundCommit) error {
	if f.failCommits > 0 {
		f.failCommits--
		return errors.New("connection reset")
	}
	return f.Store.CommitRound(ctx, c)
}

type recorder struct {
	events []pubsub.Event
}

func (r *recorder) Publish(e pubsub.Event) { r.events = append(r.events, e) }

func newTestService(t *testing.T, st game.Store) (*game.Service, *recorder) {
	t.Helper()
	n := 0
	rec := &recorder{}
	svc := game.NewService(st, slog.New(slog.NewTextHandler(io.Discard, nil)),
		game.WithRand(game.NewRand(42)),
		game.WithPublisher(rec),
		game.WithClock(func() time.Time { return time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC) }),
		game.WithIDs(func() string { n++; return fmt.Sprintf("id-%03d", n) }),
	)
	return svc, rec
}

// seedLeague registers and sets up n firms and one round-1 project.
func seedLeague(t *testing.T, svc *game.Service, n int) ([]game.Team, game.Project) {
	t.Helper()
	ctx := context.Background()
	var teams []game.Team
	for i := 0; i < n; i++ {
		tm, err := svc.RegisterTeam(ctx, fmt.Sprintf("Firm %d", i+1))
		if err != nil {
			t.Fatalf("register: %v", err)
		}
		tm, err = svc.SetupFirm(ctx, game.SetupInput{
			TeamID:    tm.ID,
			Office:    "basic",
			Tech:      "basic",
			Employees: map[game.Tier]int{game.TierJunior: 2, game.TierPartner: 2},
		})
		if err != nil {
			t.Fatalf("setup: %v", err)
		}
		teams = append(teams, tm)
	}
	p, err := svc.CreateProject(ctx, game.ProjectInput{
		Name:              "Contract Review",
		Complexity:        30,
		CapacityCost:      10,
		EstimatedCost:     30_000,
		HiddenMarketPrice: 60_000,
		Rounds:            []int{1, 2, 3},
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return teams, p
}

func TestAdvanceRoundEndToEnd(t *testing.T) {
	ctx := context.Background()
	svc, rec := newTestService(t, store.NewMemory())
	teams, p := seedLeague(t, svc, 2)

	if _, err := svc.AdvanceRound(ctx, false); !errors.Is(err, game.ErrGameNotStarted) {
		t.Fatalf("advance before start got=%v", err)
	}
	if _, err := svc.StartGame(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := svc.PlaceBid(ctx, game.BidInput{TeamID: teams[0].ID, ProjectID: p.ID, Amount: 30_000}); !errors.Is(err, game.ErrBidTooLow) {
		t.Fatalf("bid at estimated cost got=%v", err)
	}
	if err := svc.PlaceBid(ctx, game.BidInput{TeamID: teams[0].ID, ProjectID: p.ID, Amount: 45_000}); err != nil {
		t.Fatalf("bid: %v", err)
	}
	if err := svc.PlaceBid(ctx, game.BidInput{TeamID: teams[0].ID, ProjectID: p.ID, Amount: 40_000}); !errors.Is(err, game.ErrBidExists) {
		t.Fatalf("second bid got=%v", err)
	}
	if err := svc.PlaceBid(ctx, game.BidInput{TeamID: teams[1].ID, ProjectID: p.ID, Amount: 55_000}); err != nil {
		t.Fatalf("bid: %v", err)
	}

	if _, err := svc.SetReady(ctx, teams[0].ID, true); err != nil {
		t.Fatalf("ready: %v", err)
	}
	if _, err := svc.AdvanceRound(ctx, false); !errors.Is(err, game.ErrTeamsNotReady) {
		t.Fatalf("advance with unready team got=%v", err)
	}

	report, err := svc.AdvanceRound(ctx, true)
	if err != nil {
		t.Fatalf("forced advance: %v", err)
	}
	if report.FromRound != 1 || report.ToRound != 2 {
		t.Fatalf("report rounds got=%d->%d", report.FromRound, report.ToRound)
	}
	if w := report.Outcome.Competition.Winners[p.ID]; w.Bid.TeamID != teams[0].ID {
		t.Fatalf("cheaper equal firm should win, got %s", w.Bid.TeamID)
	}

	gs, _ := svc.State(ctx)
	if gs.CurrentRound != 2 {
		t.Fatalf("round got=%d want=2", gs.CurrentRound)
	}
	for _, tm := range teams {
		view, err := svc.TeamView(ctx, tm.ID)
		if err != nil {
			t.Fatalf("view: %v", err)
		}
		if view.Ready || len(view.Bids) != 0 {
			t.Fatalf("team %s not cleared after round: ready=%v bids=%v", tm.ID, view.Ready, view.Bids)
		}
		logs, err := svc.Logs(ctx, tm.ID)
		if err != nil || len(logs) == 0 {
			t.Fatalf("expected round logs for %s, err=%v", tm.ID, err)
		}
		for i, l := range logs {
			if l.Round != 1 || l.Seq != i {
				t.Fatalf("log %d out of order: %+v", i, l)
			}
		}
	}
	loserLogs, _ := svc.Logs(ctx, teams[1].ID)
	if !strings.HasPrefix(loserLogs[0].Message, "Lost ") {
		t.Fatalf("loser first log got=%q", loserLogs[0].Message)
	}

	found := false
	for _, e := range rec.events {
		if e.Type == pubsub.EventRoundAdvanced {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected round.advanced event")
	}
}

func TestAdvanceRoundRetryAfterFailedCommit(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyStore{Store: store.NewMemory()}
	svc, _ := newTestService(t, flaky)
	teams, p := seedLeague(t, svc, 1)
	if _, err := svc.StartGame(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.PlaceBid(ctx, game.BidInput{TeamID: teams[0].ID, ProjectID: p.ID, Amount: 50_000}); err != nil {
		t.Fatalf("bid: %v", err)
	}
	before, _ := svc.TeamView(ctx, teams[0].ID)

	flaky.failCommits = 1
	if _, err := svc.AdvanceRound(ctx, true); err == nil || !strings.Contains(err.Error(), "commit round 1") {
		t.Fatalf("expected commit failure, got %v", err)
	}
	after, _ := svc.TeamView(ctx, teams[0].ID)
	if after.Money != before.Money || len(after.Bids) != 1 {
		t.Fatalf("failed commit leaked state: before=%d after=%d bids=%v", before.Money, after.Money, after.Bids)
	}
	if logs, _ := svc.Logs(ctx, teams[0].ID); len(logs) != 0 {
		t.Fatalf("failed commit wrote logs: %v", logs)
	}

	if _, err := svc.AdvanceRound(ctx, true); err != nil {
		t.Fatalf("retry: %v", err)
	}
	gs, _ := svc.State(ctx)
	if gs.CurrentRound != 2 {
		t.Fatalf("round after retry got=%d want=2", gs.CurrentRound)
	}
}

func TestAdvanceRoundFromRejectsRepeat(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, store.NewMemory())
	teams, _ := seedLeague(t, svc, 1)
	if _, err := svc.StartGame(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.AdvanceRoundFrom(ctx, 1, true); err != nil {
		t.Fatalf("first advance: %v", err)
	}
	before, _ := svc.TeamView(ctx, teams[0].ID)

	// The caller never saw the first reply and sends the same request again.
	if _, err := svc.AdvanceRoundFrom(ctx, 1, true); !errors.Is(err, game.ErrRoundConflict) {
		t.Fatalf("repeat advance got=%v want ErrRoundConflict", err)
	}
	gs, _ := svc.State(ctx)
	after, _ := svc.TeamView(ctx, teams[0].ID)
	if gs.CurrentRound != 2 || after.Money != before.Money {
		t.Fatalf("repeat advance mutated state: round=%d money %d -> %d", gs.CurrentRound, before.Money, after.Money)
	}
	if _, err := svc.AdvanceRoundFrom(ctx, 2, true); err != nil {
		t.Fatalf("advance from 2: %v", err)
	}
}

func TestAdvanceRoundStopsAtMax(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	svc, _ := newTestService(t, st)
	teams, _ := seedLeague(t, svc, 1)
	if err := st.SaveGameState(ctx, game.GameState{CurrentRound: game.MaxRounds, Stage: game.StageActive}); err != nil {
		t.Fatalf("save state: %v", err)
	}
	if _, err := svc.CreateProject(ctx, game.ProjectInput{Name: "Final", Complexity: 10, Rounds: []int{game.MaxRounds}}); err != nil {
		t.Fatalf("project: %v", err)
	}
	before, _ := svc.TeamView(ctx, teams[0].ID)

	if _, err := svc.AdvanceRound(ctx, true); !errors.Is(err, game.ErrGameOver) {
		t.Fatalf("advance at max got=%v", err)
	}
	gs, _ := svc.State(ctx)
	after, _ := svc.TeamView(ctx, teams[0].ID)
	if gs.CurrentRound != game.MaxRounds || after.Money != before.Money {
		t.Fatalf("game over must not mutate state")
	}
}

func TestAdvanceRoundGates(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	svc, _ := newTestService(t, st)
	if _, err := svc.RegisterTeam(ctx, "Solo"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.StartGame(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.StartGame(ctx); !errors.Is(err, game.ErrGameInProgress) {
		t.Fatalf("second start got=%v", err)
	}
	if _, err := svc.AdvanceRound(ctx, true); !errors.Is(err, game.ErrNoTeams) {
		t.Fatalf("only unset teams got=%v", err)
	}

	seedLeague(t, svc, 1)
	if err := st.SaveGameState(ctx, game.GameState{CurrentRound: 5, Stage: game.StageActive}); err != nil {
		t.Fatalf("save state: %v", err)
	}
	if _, err := svc.AdvanceRound(ctx, true); !errors.Is(err, game.ErrNoProjects) {
		t.Fatalf("round without projects got=%v", err)
	}
	if _, err := svc.GenerateProjects(ctx, 0); !errors.Is(err, game.ErrInvalidInput) {
		t.Fatalf("generate round 0 got=%v", err)
	}
	generated, err := svc.GenerateProjects(ctx, 5)
	if err != nil || len(generated) != game.ProjectsPerRound {
		t.Fatalf("generate got=%d err=%v", len(generated), err)
	}
	if _, err := svc.AdvanceRound(ctx, true); err != nil {
		t.Fatalf("advance with generated projects: %v", err)
	}
}

func TestHardReset(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, store.NewMemory())
	teams, p := seedLeague(t, svc, 2)
	if _, err := svc.StartGame(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.AdvanceRound(ctx, true); err != nil {
		t.Fatalf("advance: %v", err)
	}

	if err := svc.HardReset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	gs, _ := svc.State(ctx)
	if gs.CurrentRound != 1 {
		t.Fatalf("round after reset got=%d", gs.CurrentRound)
	}
	for _, tm := range teams {
		view, err := svc.TeamView(ctx, tm.ID)
		if err != nil {
			t.Fatalf("view: %v", err)
		}
		if !view.NeedsSetup || view.Money != 0 {
			t.Fatalf("team not reset: %+v", view.Team)
		}
		if logs, _ := svc.Logs(ctx, tm.ID); len(logs) != 0 {
			t.Fatalf("logs survived reset: %d", len(logs))
		}
	}
	catalog, _ := svc.Projects(ctx, 0)
	if len(catalog) != 1 || catalog[0].ID != p.ID {
		t.Fatalf("catalog must survive reset, got %v", catalog)
	}
}

func TestRegisterTeamRejectsDuplicateName(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, store.NewMemory())
	if _, err := svc.RegisterTeam(ctx, "Pearson Hardman"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.RegisterTeam(ctx, "pearson hardman"); !errors.Is(err, game.ErrInvalidInput) {
		t.Fatalf("duplicate name got=%v", err)
	}
	if _, err := svc.RegisterTeam(ctx, "x"); !errors.Is(err, game.ErrInvalidInput) {
		t.Fatalf("short name got=%v", err)
	}
}

func TestLeaderboardAndSeed(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, store.NewMemory())
	n, err := svc.SeedDefaults(ctx)
	if err != nil || n != len(game.ProjectTemplates) {
		t.Fatalf("seed got n=%d err=%v", n, err)
	}
	if n, _ := svc.SeedDefaults(ctx); n != 0 {
		t.Fatalf("second seed must be a no-op, got %d", n)
	}

	teams, _ := seedLeague(t, svc, 2)
	if _, err := svc.Hire(ctx, game.HireInput{TeamID: teams[1].ID, Deltas: map[game.Tier]int{game.TierSenior: 1}}); err != nil {
		t.Fatalf("hire: %v", err)
	}
	if _, err := svc.RegisterTeam(ctx, "Late Comer"); err != nil {
		t.Fatalf("register: %v", err)
	}
	rows, err := svc.Leaderboard(ctx)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("unset teams are not ranked, got %d rows", len(rows))
	}
	if rows[0].TeamID != teams[0].ID || rows[0].Rank != 1 || rows[1].Rank != 2 {
		t.Fatalf("unexpected ranking %+v", rows)
	}
}
