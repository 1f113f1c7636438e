package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lawfirm/internal/config"
	"lawfirm/internal/game"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"
)

type Server struct {
	cfg   config.APIConfig
	log   *slog.Logger
	game  *game.Service
	mux   *chi.Mux
	idems *idempotencyCache
}

func New(cfg config.APIConfig, logger *slog.Logger, gameSvc *game.Service) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:   cfg,
		log:   logger,
		game:  gameSvc,
		mux:   chi.NewRouter(),
		idems: newIdempotencyCache(10*time.Minute, time.Now),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/game", s.handleGameState)
		r.Get("/projects", s.handleProjectsList)
		r.Get("/leaderboard", s.handleLeaderboard)

		r.Group(func(r chi.Router) {
			r.Use(s.idems.middleware)
			r.Post("/teams", s.handleRegisterTeam)
			r.Post("/teams/{id}/setup", s.handleSetup)
			r.Post("/teams/{id}/bids", s.handleBid)
			r.Post("/teams/{id}/hire", s.handleHire)
			r.Post("/teams/{id}/upgrades", s.handleUpgrade)
			r.Post("/teams/{id}/ready", s.handleReady)
		})
		r.Get("/teams/{id}", s.handleTeamView)
		r.Get("/teams/{id}/logs", s.handleTeamLogs)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.adminMiddleware)
			r.Post("/game/start", s.handleStartGame)
			r.Post("/game/advance", s.handleAdvance)
			r.Post("/game/reset", s.handleReset)
			r.Post("/projects", s.handleCreateProject)
			r.Post("/projects/generate", s.handleGenerateProjects)
			r.Get("/teams", s.handleTeamsList)
			r.Delete("/teams/{id}", s.handleDeleteTeam)
		})
	})
}

func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if !s.adminTokenValid(token) {
			writeError(w, http.StatusUnauthorized, game.ErrUnauthorized.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) adminTokenValid(token string) bool {
	if s.cfg.AdminTokenHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(s.cfg.AdminTokenHash), []byte(token)) == nil
	}
	if s.cfg.AdminToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) == 1
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(started),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleGameState(w http.ResponseWriter, r *http.Request) {
	gs, err := s.game.State(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"game":       gs,
		"max_rounds": game.MaxRounds,
	})
}

// publicProject hides the market price teams compete against.
type publicProject struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Complexity    int    `json:"complexity"`
	CapacityCost  int    `json:"capacity_cost"`
	EstimatedCost int64  `json:"estimated_cost"`
	Rounds        []int  `json:"rounds"`
}

func (s *Server) handleProjectsList(w http.ResponseWriter, r *http.Request) {
	round := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("round")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid round")
			return
		}
		round = n
	}
	projects, err := s.game.Projects(r.Context(), round)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]publicProject, 0, len(projects))
	for _, p := range projects {
		out = append(out, publicProject{
			ID:            p.ID,
			Name:          p.Name,
			Complexity:    p.Complexity,
			CapacityCost:  p.CapacityCost,
			EstimatedCost: p.EstimatedCost,
			Rounds:        p.Rounds,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": out})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	rows, err := s.game.Leaderboard(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": rows})
}

func (s *Server) handleRegisterTeam(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	team, err := s.game.RegisterTeam(r.Context(), in.Name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"team": team})
}

func (s *Server) handleTeamView(w http.ResponseWriter, r *http.Request) {
	view, err := s.game.TeamView(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"team": view})
}

func (s *Server) handleTeamLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.game.Logs(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Office    string            `json:"office"`
		Tech      string            `json:"tech"`
		Employees map[game.Tier]int `json:"employees"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	team, err := s.game.SetupFirm(r.Context(), game.SetupInput{
		TeamID:    chi.URLParam(r, "id"),
		Office:    in.Office,
		Tech:      in.Tech,
		Employees: in.Employees,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"team": team})
}

func (s *Server) handleBid(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ProjectID string `json:"project_id"`
		Amount    int64  `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	err := s.game.PlaceBid(r.Context(), game.BidInput{
		TeamID:    chi.URLParam(r, "id"),
		ProjectID: strings.TrimSpace(in.ProjectID),
		Amount:    in.Amount,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true})
}

func (s *Server) handleHire(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Deltas map[game.Tier]int `json:"deltas"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	team, err := s.game.Hire(r.Context(), game.HireInput{
		TeamID: chi.URLParam(r, "id"),
		Deltas: in.Deltas,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"team": team})
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Track game.UpgradeTrack `json:"track"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	team, err := s.game.BuyUpgrade(r.Context(), game.UpgradeInput{
		TeamID: chi.URLParam(r, "id"),
		Track:  in.Track,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"team": team})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	in := struct {
		Ready *bool `json:"ready"`
	}{}
	if err := decodeOptionalJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ready := true
	if in.Ready != nil {
		ready = *in.Ready
	}
	team, err := s.game.SetReady(r.Context(), chi.URLParam(r, "id"), ready)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"team": team})
}

func (s *Server) handleStartGame(w http.ResponseWriter, r *http.Request) {
	gs, err := s.game.StartGame(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"game": gs})
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Force         bool `json:"force"`
		ExpectedRound int  `json:"expected_round"`
	}
	if err := decodeOptionalJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.ExpectedRound < 0 {
		writeError(w, http.StatusBadRequest, "expected_round must not be negative")
		return
	}
	report, err := s.game.AdvanceRoundFrom(r.Context(), in.ExpectedRound, in.Force)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"report": report})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.game.HardReset(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	gs, err := s.game.State(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"game": gs})
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var in game.ProjectInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.game.CreateProject(r.Context(), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"project": p})
}

func (s *Server) handleGenerateProjects(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Round int `json:"round"`
	}
	if err := decodeOptionalJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.Round == 0 {
		gs, err := s.game.State(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		in.Round = gs.CurrentRound
	}
	projects, err := s.game.GenerateProjects(r.Context(), in.Round)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"projects": projects})
}

func (s *Server) handleTeamsList(w http.ResponseWriter, r *http.Request) {
	teams, err := s.game.Teams(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"teams": teams})
}

func (s *Server) handleDeleteTeam(w http.ResponseWriter, r *http.Request) {
	if err := s.game.DeleteTeam(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, game.ErrTeamNotFound), errors.Is(err, game.ErrProjectNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, game.ErrTeamsNotReady):
		writeErrorCode(w, http.StatusConflict, "teams_not_ready", err.Error())
	case errors.Is(err, game.ErrGameOver):
		writeErrorCode(w, http.StatusGone, "max_rounds_reached", err.Error())
	case errors.Is(err, game.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case game.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, game.ErrGameNotStarted), errors.Is(err, game.ErrGameInProgress),
		errors.Is(err, game.ErrNoTeams), errors.Is(err, game.ErrNoProjects):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, game.ErrRoundConflict), errors.Is(err, game.ErrTxConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return nil
	}
	if err := decodeJSON(r, out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message), "code": code})
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
