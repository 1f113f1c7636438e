package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"lawfirm/internal/pubsub"

	"github.com/google/uuid"
)

// Publisher receives change notifications after successful commits.
type Publisher interface {
	Publish(pubsub.Event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(pubsub.Event) {}

type Service struct {
	store  Store
	log    *slog.Logger
	events Publisher
	rand   Rand
	now    func() time.Time
	newID  func() string

	// mu serialises every mutating call so that a snapshot read for a round
	// advance cannot interleave with team decisions in this process.
	mu sync.Mutex
}

type Option func(*Service)

func WithRand(r Rand) Option {
	return func(s *Service) { s.rand = r }
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDs(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

func NewService(store Store, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:  store,
		log:    logger,
		events: noopPublisher{},
		rand:   NewRand(time.Now().UnixNano()),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) State(ctx context.Context) (GameState, error) {
	return s.store.GameState(ctx)
}

func (s *Service) StartGame(ctx context.Context) (GameState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gs, err := s.store.GameState(ctx)
	if err != nil {
		return gs, err
	}
	next, err := StartState(gs)
	if err != nil {
		return gs, err
	}
	if err := s.store.SaveGameState(ctx, next); err != nil {
		return gs, fmt.Errorf("save game state: %w", err)
	}
	s.log.Info("game started", "round", next.CurrentRound)
	s.publish(pubsub.EventGameStarted, map[string]any{"round": next.CurrentRound})
	return next, nil
}

// AdvanceRound resolves the current round and commits it as one unit. When
// the commit fails nothing is applied and the call may be retried from the
// same pre-round state.
func (s *Service) AdvanceRound(ctx context.Context, force bool) (RoundReport, error) {
	return s.AdvanceRoundFrom(ctx, 0, force)
}

// AdvanceRoundFrom is AdvanceRound guarded by the round the caller believes
// is current. A retry whose first attempt already committed gets
// ErrRoundConflict instead of resolving the next round. Zero skips the check.
func (s *Service) AdvanceRoundFrom(ctx context.Context, expectedRound int, force bool) (RoundReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var report RoundReport
	started := time.Now()

	gs, err := s.store.GameState(ctx)
	if err != nil {
		return report, err
	}
	if expectedRound > 0 && gs.CurrentRound != expectedRound {
		return report, fmt.Errorf("expected round %d, current is %d: %w", expectedRound, gs.CurrentRound, ErrRoundConflict)
	}
	teams, err := s.store.Teams(ctx)
	if err != nil {
		return report, err
	}
	catalog, err := s.store.Projects(ctx)
	if err != nil {
		return report, err
	}
	active := ActiveProjects(catalog, gs.CurrentRound)
	if err := CheckAdvance(gs, teams, active, force); err != nil {
		return report, err
	}

	projectIDs := make([]string, 0, len(active))
	for _, p := range active {
		projectIDs = append(projectIDs, p.ID)
	}
	bids, err := s.store.Bids(ctx, projectIDs)
	if err != nil {
		return report, err
	}

	outcome := ResolveRound(RoundInput{
		Round:    gs.CurrentRound,
		Teams:    teams,
		Projects: active,
		Bids:     bids,
	}, s.rand)

	next := NextState(gs)
	commit := RoundCommit{
		FromRound:  gs.CurrentRound,
		Next:       next,
		ProjectIDs: projectIDs,
	}
	now := s.now()
	for _, t := range outcome.Teams {
		commit.Results = append(commit.Results, TeamResult{TeamID: t.TeamID, Money: t.Money, Metrics: t.Metrics})
		commit.Logs = append(commit.Logs, s.logEntries(t.TeamID, gs.CurrentRound, t.Logs, now)...)
	}
	for _, sk := range outcome.Skipped {
		s.log.Warn("team skipped in round resolution", "team_id", sk.TeamID, "round", gs.CurrentRound, "reason", sk.Reason)
		commit.Logs = append(commit.Logs, s.logEntries(sk.TeamID, gs.CurrentRound, outcome.LogsFor(sk.TeamID), now)...)
	}

	if err := s.store.CommitRound(ctx, commit); err != nil {
		s.log.Error("round commit failed", "round", gs.CurrentRound, "err", err)
		return report, fmt.Errorf("commit round %d: %w", gs.CurrentRound, err)
	}

	s.log.Info("round advanced",
		"from", gs.CurrentRound,
		"to", next.CurrentRound,
		"teams", len(outcome.Teams),
		"skipped", len(outcome.Skipped),
		"projects", len(active),
		"bids", len(bids),
		"forced", force,
		"took", time.Since(started).String(),
	)
	s.publish(pubsub.EventRoundAdvanced, map[string]any{"from": gs.CurrentRound, "to": next.CurrentRound})

	report = RoundReport{FromRound: gs.CurrentRound, ToRound: next.CurrentRound, Outcome: outcome}
	return report, nil
}

// HardReset sends every team back to firm setup, deletes all round logs and
// bids and returns the game to round 1. Projects are kept.
func (s *Service) HardReset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Reset(ctx, ResetState()); err != nil {
		return fmt.Errorf("reset game: %w", err)
	}
	s.log.Info("game hard reset")
	s.publish(pubsub.EventGameReset, nil)
	return nil
}

func (s *Service) RegisterTeam(ctx context.Context, name string) (Team, error) {
	name = strings.TrimSpace(name)
	if err := ValidateTeamName(name); err != nil {
		return Team{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	teams, err := s.store.Teams(ctx)
	if err != nil {
		return Team{}, err
	}
	for _, t := range teams {
		if strings.EqualFold(t.Name, name) {
			return Team{}, fmt.Errorf("%w: team name %q already taken", ErrInvalidInput, name)
		}
	}
	t := NewTeam(s.newID(), name, s.now())
	if err := s.store.CreateTeam(ctx, t); err != nil {
		return Team{}, err
	}
	s.publish(pubsub.EventTeamUpdated, map[string]any{"team_id": t.ID})
	return t, nil
}

func (s *Service) Teams(ctx context.Context) ([]Team, error) {
	return s.store.Teams(ctx)
}

func (s *Service) TeamView(ctx context.Context, teamID string) (TeamView, error) {
	t, err := s.store.Team(ctx, teamID)
	if err != nil {
		return TeamView{}, err
	}
	catalog, err := s.store.Projects(ctx)
	if err != nil {
		return TeamView{}, err
	}
	view := TeamView{
		Team:              t,
		TotalCapacity:     TotalCapacity(t),
		CommittedCapacity: CommittedCapacity(t, catalog),
		Competency:        ActualCompetency(t),
		Leverage:          LeverageRatio(t),
		DiscountPercent:   ProductivityDiscountPercent(t.Metrics.Productivity),
		GruntRate:         GruntWorkRate(t.Metrics.Productivity),
		UpgradeCosts:      map[UpgradeTrack]int64{},
	}
	for _, track := range UpgradeTracks {
		cost, _ := UpgradeCost(t, track)
		view.UpgradeCosts[track] = cost
	}
	return view, nil
}

func (s *Service) DeleteTeam(ctx context.Context, teamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.DeleteTeam(ctx, teamID); err != nil {
		return err
	}
	s.log.Info("team removed", "team_id", teamID)
	s.publish(pubsub.EventTeamUpdated, map[string]any{"team_id": teamID, "deleted": true})
	return nil
}

func (s *Service) SetupFirm(ctx context.Context, in SetupInput) (Team, error) {
	return s.mutateTeam(ctx, in.TeamID, func(t Team) (Team, error) {
		return ApplySetup(t, in)
	})
}

func (s *Service) Hire(ctx context.Context, in HireInput) (Team, error) {
	return s.mutateTeam(ctx, in.TeamID, func(t Team) (Team, error) {
		next, _, err := ApplyHire(t, in.Deltas)
		return next, err
	})
}

func (s *Service) BuyUpgrade(ctx context.Context, in UpgradeInput) (Team, error) {
	return s.mutateTeam(ctx, in.TeamID, func(t Team) (Team, error) {
		next, _, err := ApplyUpgrade(t, in.Track)
		return next, err
	})
}

func (s *Service) SetReady(ctx context.Context, teamID string, ready bool) (Team, error) {
	return s.mutateTeam(ctx, teamID, func(t Team) (Team, error) {
		if t.NeedsSetup {
			return t, ErrNeedsSetup
		}
		t.Ready = ready
		return t, nil
	})
}

func (s *Service) mutateTeam(ctx context.Context, teamID string, fn func(Team) (Team, error)) (Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.store.Team(ctx, teamID)
	if err != nil {
		return Team{}, err
	}
	next, err := fn(t)
	if err != nil {
		return t, err
	}
	if err := s.store.UpdateTeam(ctx, next); err != nil {
		return t, err
	}
	s.publish(pubsub.EventTeamUpdated, map[string]any{"team_id": teamID})
	return next, nil
}

// PlaceBid validates and records a bid. A rejected bid changes nothing.
func (s *Service) PlaceBid(ctx context.Context, in BidInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	gs, err := s.store.GameState(ctx)
	if err != nil {
		return err
	}
	if gs.Stage != StageActive {
		return ErrGameNotStarted
	}
	t, err := s.store.Team(ctx, in.TeamID)
	if err != nil {
		return err
	}
	p, err := s.store.Project(ctx, in.ProjectID)
	if err != nil {
		return err
	}
	if err := ValidateBid(t, p, gs.CurrentRound, in.Amount); err != nil {
		return err
	}
	if err := s.store.PlaceBid(ctx, Bid{
		ProjectID: p.ID,
		TeamID:    t.ID,
		Amount:    in.Amount,
		CreatedAt: s.now(),
	}); err != nil {
		return err
	}
	s.publish(pubsub.EventBidPlaced, map[string]any{"team_id": t.ID, "project_id": p.ID})
	return nil
}

func (s *Service) CreateProject(ctx context.Context, in ProjectInput) (Project, error) {
	rounds := in.Rounds
	if len(rounds) == 0 && in.Round > 0 {
		rounds = []int{in.Round}
	}
	p := Project{
		ID:                s.newID(),
		Name:              strings.TrimSpace(in.Name),
		Complexity:        in.Complexity,
		CapacityCost:      in.CapacityCost,
		EstimatedCost:     in.EstimatedCost,
		HiddenMarketPrice: in.HiddenMarketPrice,
		Rounds:            normalizeRounds(rounds),
	}
	if err := p.Validate(); err != nil {
		return Project{}, err
	}
	if err := s.store.SaveProject(ctx, p); err != nil {
		return Project{}, err
	}
	s.publish(pubsub.EventProjectCreated, map[string]any{"project_id": p.ID})
	return p, nil
}

// Projects lists the catalog, or only the projects active in round when
// round > 0.
func (s *Service) Projects(ctx context.Context, round int) ([]Project, error) {
	catalog, err := s.store.Projects(ctx)
	if err != nil {
		return nil, err
	}
	if round > 0 {
		return ActiveProjects(catalog, round), nil
	}
	return catalog, nil
}

// SeedDefaults fills an empty catalog with the reference projects.
func (s *Service) SeedDefaults(ctx context.Context) (int, error) {
	catalog, err := s.store.Projects(ctx)
	if err != nil {
		return 0, err
	}
	if len(catalog) > 0 {
		return 0, nil
	}
	seed := DefaultCatalog(s.newID)
	for _, p := range seed {
		if err := s.store.SaveProject(ctx, p); err != nil {
			return 0, fmt.Errorf("seed project %q: %w", p.Name, err)
		}
	}
	s.log.Info("seeded project catalog", "projects", len(seed))
	return len(seed), nil
}

func (s *Service) GenerateProjects(ctx context.Context, round int) ([]Project, error) {
	if round < 1 || round > MaxRounds {
		return nil, fmt.Errorf("%w: round %d outside 1..%d", ErrInvalidInput, round, MaxRounds)
	}
	generated := GenerateRoundProjects(round, s.rand, s.newID)
	for _, p := range generated {
		if err := s.store.SaveProject(ctx, p); err != nil {
			return nil, err
		}
	}
	s.publish(pubsub.EventProjectCreated, map[string]any{"round": round, "count": len(generated)})
	return generated, nil
}

func (s *Service) Logs(ctx context.Context, teamID string) ([]LogEntry, error) {
	if _, err := s.store.Team(ctx, teamID); err != nil {
		return nil, err
	}
	return s.store.Logs(ctx, teamID)
}

func (s *Service) Leaderboard(ctx context.Context) ([]LeaderboardRow, error) {
	teams, err := s.store.Teams(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]LeaderboardRow, 0, len(teams))
	for _, t := range teams {
		if t.NeedsSetup {
			continue
		}
		rows = append(rows, LeaderboardRow{
			TeamID:             t.ID,
			Name:               t.Name,
			Money:              t.Money,
			Productivity:       t.Metrics.Productivity,
			ClientSatisfaction: t.Metrics.ClientSatisfaction,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Money != rows[j].Money {
			return rows[i].Money > rows[j].Money
		}
		return rows[i].Name < rows[j].Name
	})
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows, nil
}

// AllReady reports whether the game is active and every set-up team has
// submitted its strategy.
func (s *Service) AllReady(ctx context.Context) (bool, error) {
	gs, err := s.store.GameState(ctx)
	if err != nil {
		return false, err
	}
	if gs.Stage != StageActive {
		return false, nil
	}
	teams, err := s.store.Teams(ctx)
	if err != nil {
		return false, err
	}
	setUp := 0
	for _, t := range teams {
		if t.NeedsSetup {
			continue
		}
		setUp++
		if !t.Ready {
			return false, nil
		}
	}
	return setUp > 0, nil
}

func (s *Service) logEntries(teamID string, round int, messages []string, now time.Time) []LogEntry {
	out := make([]LogEntry, 0, len(messages))
	for i, msg := range messages {
		out = append(out, LogEntry{
			ID:        s.newID(),
			TeamID:    teamID,
			Round:     round,
			Seq:       i,
			Message:   msg,
			CreatedAt: now,
		})
	}
	return out
}

func (s *Service) publish(eventType string, payload map[string]any) {
	s.events.Publish(pubsub.Event{Type: eventType, At: s.now(), Payload: payload})
}

// IsValidation reports whether err is a caller-facing validation failure.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrInvalidInput, ErrBidTooLow, ErrProjectNotActive, ErrBidExists, ErrNeedsSetup,
		ErrAlreadySetup, ErrTeamReady, ErrInsufficientFunds, ErrInsufficientCompetency,
		ErrPartnerRequired, ErrUnknownTier, ErrUnknownUpgrade, ErrUnknownOption,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
