package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lawfirm/internal/config"
	"lawfirm/internal/game"
	"lawfirm/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testAdminToken = "s3cret"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	n := 0
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := game.NewService(store.NewMemory(), logger,
		game.WithRand(game.NewRand(7)),
		game.WithClock(func() time.Time { return time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC) }),
		game.WithIDs(func() string { n++; return fmt.Sprintf("id-%03d", n) }),
	)
	srv := httptest.NewServer(New(config.APIConfig{AdminToken: testAdminToken}, logger, svc).Handler())
	t.Cleanup(srv.Close)
	return srv
}

type call struct {
	method string
	path   string
	body   any
	admin  bool
	idem   string
}

func do(t *testing.T, srv *httptest.Server, c call, out any) int {
	t.Helper()
	var body io.Reader
	if c.body != nil {
		raw, err := json.Marshal(c.body)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(c.method, srv.URL+c.path, body)
	require.NoError(t, err)
	if c.admin {
		req.Header.Set("Authorization", "Bearer "+testAdminToken)
	}
	if c.idem != "" {
		req.Header.Set("Idempotency-Key", c.idem)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type teamEnvelope struct {
	Team game.TeamView `json:"team"`
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func registerAndSetup(t *testing.T, srv *httptest.Server, name string) string {
	t.Helper()
	var created teamEnvelope
	require.Equal(t, http.StatusCreated, do(t, srv, call{method: http.MethodPost, path: "/v1/teams", body: map[string]any{"name": name}}, &created))
	require.True(t, created.Team.NeedsSetup)

	status := do(t, srv, call{
		method: http.MethodPost,
		path:   "/v1/teams/" + created.Team.ID + "/setup",
		body: map[string]any{
			"office":    "basic",
			"tech":      "basic",
			"employees": map[string]int{"junior": 2, "partner": 2},
		},
	}, nil)
	require.Equal(t, http.StatusOK, status)
	return created.Team.ID
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	var out map[string]any
	require.Equal(t, http.StatusOK, do(t, srv, call{method: http.MethodGet, path: "/healthz"}, &out))
	assert.Equal(t, true, out["ok"])
}

func TestAdminRoutesRequireToken(t *testing.T) {
	srv := newTestServer(t)
	var out errorBody
	require.Equal(t, http.StatusUnauthorized, do(t, srv, call{method: http.MethodPost, path: "/v1/admin/game/start"}, &out))
	assert.Equal(t, "missing bearer token", out.Error)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/admin/teams", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRoundFlowOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	a := registerAndSetup(t, srv, "Pearson Hardman")
	b := registerAndSetup(t, srv, "Bluth Legal")

	var created struct {
		Project game.Project `json:"project"`
	}
	require.Equal(t, http.StatusCreated, do(t, srv, call{
		method: http.MethodPost,
		path:   "/v1/admin/projects",
		admin:  true,
		body: map[string]any{
			"name":                "Merger Filing",
			"complexity":          30,
			"capacity_cost":       10,
			"estimated_cost":      30_000,
			"hidden_market_price": 60_000,
			"round":               1,
		},
	}, &created))
	assert.Equal(t, []int{1}, created.Project.Rounds)

	var listed map[string][]map[string]any
	require.Equal(t, http.StatusOK, do(t, srv, call{method: http.MethodGet, path: "/v1/projects?round=1"}, &listed))
	require.Len(t, listed["projects"], 1)
	assert.NotContains(t, listed["projects"][0], "hidden_market_price")

	var eb errorBody
	require.Equal(t, http.StatusConflict, do(t, srv, call{
		method: http.MethodPost,
		path:   "/v1/teams/" + a + "/bids",
		body:   map[string]any{"project_id": created.Project.ID, "amount": 50_000},
	}, &eb))

	require.Equal(t, http.StatusOK, do(t, srv, call{method: http.MethodPost, path: "/v1/admin/game/start", admin: true}, nil))

	require.Equal(t, http.StatusBadRequest, do(t, srv, call{
		method: http.MethodPost,
		path:   "/v1/teams/" + a + "/bids",
		body:   map[string]any{"project_id": created.Project.ID, "amount": 20_000},
	}, &eb))
	for _, id := range []string{a, b} {
		require.Equal(t, http.StatusCreated, do(t, srv, call{
			method: http.MethodPost,
			path:   "/v1/teams/" + id + "/bids",
			body:   map[string]any{"project_id": created.Project.ID, "amount": 50_000},
		}, nil))
	}

	require.Equal(t, http.StatusOK, do(t, srv, call{method: http.MethodPost, path: "/v1/teams/" + a + "/ready"}, nil))

	eb = errorBody{}
	require.Equal(t, http.StatusConflict, do(t, srv, call{method: http.MethodPost, path: "/v1/admin/game/advance", admin: true}, &eb))
	assert.Equal(t, "teams_not_ready", eb.Code)

	var advanced struct {
		Report game.RoundReport `json:"report"`
	}
	require.Equal(t, http.StatusOK, do(t, srv, call{
		method: http.MethodPost,
		path:   "/v1/admin/game/advance",
		admin:  true,
		body:   map[string]any{"force": true},
	}, &advanced))
	assert.Equal(t, 1, advanced.Report.FromRound)
	assert.Equal(t, 2, advanced.Report.ToRound)

	var gs struct {
		Game game.GameState `json:"game"`
	}
	require.Equal(t, http.StatusOK, do(t, srv, call{method: http.MethodGet, path: "/v1/game"}, &gs))
	assert.Equal(t, 2, gs.Game.CurrentRound)

	var logs struct {
		Logs []game.LogEntry `json:"logs"`
	}
	require.Equal(t, http.StatusOK, do(t, srv, call{method: http.MethodGet, path: "/v1/teams/" + a + "/logs"}, &logs))
	assert.NotEmpty(t, logs.Logs)

	var board struct {
		Leaderboard []game.LeaderboardRow `json:"leaderboard"`
	}
	require.Equal(t, http.StatusOK, do(t, srv, call{method: http.MethodGet, path: "/v1/leaderboard"}, &board))
	require.Len(t, board.Leaderboard, 2)
	assert.Equal(t, 1, board.Leaderboard[0].Rank)
	assert.GreaterOrEqual(t, board.Leaderboard[0].Money, board.Leaderboard[1].Money)
}

func TestAdvancePastMaxRoundsIsGone(t *testing.T) {
	srv := newTestServer(t)
	registerAndSetup(t, srv, "Wolfram Hart")
	require.Equal(t, http.StatusOK, do(t, srv, call{method: http.MethodPost, path: "/v1/admin/game/start", admin: true}, nil))

	for round := 1; round < game.MaxRounds; round++ {
		require.Equal(t, http.StatusCreated, do(t, srv, call{
			method: http.MethodPost,
			path:   "/v1/admin/projects/generate",
			admin:  true,
			body:   map[string]any{"round": round},
		}, nil))
		require.Equal(t, http.StatusOK, do(t, srv, call{
			method: http.MethodPost,
			path:   "/v1/admin/game/advance",
			admin:  true,
			body:   map[string]any{"force": true},
		}, nil), "round %d", round)
	}

	var eb errorBody
	require.Equal(t, http.StatusGone, do(t, srv, call{
		method: http.MethodPost,
		path:   "/v1/admin/game/advance",
		admin:  true,
		body:   map[string]any{"force": true},
	}, &eb))
	assert.Equal(t, "max_rounds_reached", eb.Code)
}

func TestAdvanceExpectedRoundIsSafeToRetry(t *testing.T) {
	srv := newTestServer(t)
	registerAndSetup(t, srv, "Pearson Specter")
	require.Equal(t, http.StatusOK, do(t, srv, call{method: http.MethodPost, path: "/v1/admin/game/start", admin: true}, nil))
	require.Equal(t, http.StatusCreated, do(t, srv, call{
		method: http.MethodPost,
		path:   "/v1/admin/projects/generate",
		admin:  true,
		body:   map[string]any{"round": 1},
	}, nil))

	advance := call{
		method: http.MethodPost,
		path:   "/v1/admin/game/advance",
		admin:  true,
		body:   map[string]any{"force": true, "expected_round": 1},
	}
	require.Equal(t, http.StatusOK, do(t, srv, advance, nil))
	require.Equal(t, http.StatusConflict, do(t, srv, advance, nil))

	var state struct {
		Game game.GameState `json:"game"`
	}
	require.Equal(t, http.StatusOK, do(t, srv, call{method: http.MethodGet, path: "/v1/game"}, &state))
	assert.Equal(t, 2, state.Game.CurrentRound)

	require.Equal(t, http.StatusBadRequest, do(t, srv, call{
		method: http.MethodPost,
		path:   "/v1/admin/game/advance",
		admin:  true,
		body:   map[string]any{"expected_round": -1},
	}, nil))
}

func TestDomainErrorStatuses(t *testing.T) {
	srv := newTestServer(t)
	var eb errorBody

	assert.Equal(t, http.StatusNotFound, do(t, srv, call{method: http.MethodGet, path: "/v1/teams/missing"}, &eb))
	assert.Equal(t, http.StatusBadRequest, do(t, srv, call{method: http.MethodPost, path: "/v1/teams", body: map[string]any{"name": "x"}}, &eb))
	assert.Equal(t, http.StatusBadRequest, do(t, srv, call{method: http.MethodPost, path: "/v1/teams", body: map[string]any{"nickname": "Acme"}}, &eb))
	assert.Equal(t, http.StatusBadRequest, do(t, srv, call{method: http.MethodGet, path: "/v1/projects?round=zero"}, &eb))

	var team teamEnvelope
	require.Equal(t, http.StatusCreated, do(t, srv, call{method: http.MethodPost, path: "/v1/teams", body: map[string]any{"name": "Acme Law"}}, &team))
	assert.Equal(t, http.StatusBadRequest, do(t, srv, call{method: http.MethodPost, path: "/v1/teams/" + team.Team.ID + "/ready"}, &eb))
	assert.Equal(t, http.StatusBadRequest, do(t, srv, call{
		method: http.MethodPost,
		path:   "/v1/teams/" + team.Team.ID + "/setup",
		body:   map[string]any{"office": "castle", "tech": "basic"},
	}, &eb))

	assert.Equal(t, http.StatusConflict, do(t, srv, call{method: http.MethodPost, path: "/v1/admin/game/advance", admin: true}, &eb))
	require.Equal(t, http.StatusOK, do(t, srv, call{method: http.MethodPost, path: "/v1/admin/game/start", admin: true}, nil))
	assert.Equal(t, http.StatusConflict, do(t, srv, call{method: http.MethodPost, path: "/v1/admin/game/start", admin: true}, &eb))
}

func TestIdempotencyKeyReplaysResponse(t *testing.T) {
	srv := newTestServer(t)
	id := registerAndSetup(t, srv, "Crane Poole")

	hire := call{
		method: http.MethodPost,
		path:   "/v1/teams/" + id + "/hire",
		body:   map[string]any{"deltas": map[string]int{"junior": 1}},
		idem:   "hire-1",
	}
	var first, second teamEnvelope
	require.Equal(t, http.StatusOK, do(t, srv, hire, &first))
	require.Equal(t, http.StatusOK, do(t, srv, hire, &second))
	assert.Equal(t, first.Team.Money, second.Team.Money)

	var view teamEnvelope
	require.Equal(t, http.StatusOK, do(t, srv, call{method: http.MethodGet, path: "/v1/teams/" + id}, &view))
	assert.Equal(t, 3, view.Team.Employees[game.TierJunior])
}

func TestResetAndDeleteTeam(t *testing.T) {
	srv := newTestServer(t)
	id := registerAndSetup(t, srv, "Denny Crane")

	var gs struct {
		Game game.GameState `json:"game"`
	}
	require.Equal(t, http.StatusOK, do(t, srv, call{method: http.MethodPost, path: "/v1/admin/game/reset", admin: true}, &gs))
	assert.Equal(t, game.GameState{CurrentRound: 1, Stage: game.StageActive}, gs.Game)

	var view teamEnvelope
	require.Equal(t, http.StatusOK, do(t, srv, call{method: http.MethodGet, path: "/v1/teams/" + id}, &view))
	assert.True(t, view.Team.NeedsSetup)

	require.Equal(t, http.StatusOK, do(t, srv, call{method: http.MethodDelete, path: "/v1/admin/teams/" + id, admin: true}, nil))
	var teams struct {
		Teams []game.Team `json:"teams"`
	}
	require.Equal(t, http.StatusOK, do(t, srv, call{method: http.MethodGet, path: "/v1/admin/teams", admin: true}, &teams))
	assert.Empty(t, teams.Teams)
}

func TestAdminTokenHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hashed-secret"), bcrypt.MinCost)
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := game.NewService(store.NewMemory(), logger)
	srv := httptest.NewServer(New(config.APIConfig{AdminTokenHash: string(hash)}, logger, svc).Handler())
	t.Cleanup(srv.Close)

	for token, want := range map[string]int{
		"hashed-secret": http.StatusOK,
		"wrong":         http.StatusUnauthorized,
	} {
		req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/admin/teams", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := srv.Client().Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, want, resp.StatusCode, token)
	}
}
