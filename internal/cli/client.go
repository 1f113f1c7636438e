package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"lawfirm/internal/game"
)

type Client struct {
	BaseURL    string
	AdminToken string
	HTTP       *http.Client
}

func NewClient(baseURL, adminToken string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		AdminToken: adminToken,
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
	Code    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api status %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// IsNetworkError reports whether err means the server could not be reached,
// as opposed to the server rejecting the request.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}
	var netErr net.Error
	var urlErr *url.Error
	return errors.As(err, &netErr) || errors.As(err, &urlErr)
}

type StartResult struct {
	Game game.GameState `json:"game"`
}

func (c *Client) GameState(ctx context.Context) (game.GameState, error) {
	var out struct {
		Game game.GameState `json:"game"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/game", "", nil, &out, "")
	return out.Game, err
}

func (c *Client) StartGame(ctx context.Context) (game.GameState, error) {
	var out StartResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/game/start", c.AdminToken, nil, &out, "")
	return out.Game, err
}

// AdvanceRound resolves the current round. A non-zero expectedRound makes the
// server refuse with a conflict when another advance got there first.
func (c *Client) AdvanceRound(ctx context.Context, force bool, expectedRound int) (game.RoundReport, error) {
	var out struct {
		Report game.RoundReport `json:"report"`
	}
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/game/advance", c.AdminToken, map[string]any{
		"force":          force,
		"expected_round": expectedRound,
	}, &out, "")
	return out.Report, err
}

func (c *Client) ResetGame(ctx context.Context) (game.GameState, error) {
	var out StartResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/game/reset", c.AdminToken, nil, &out, "")
	return out.Game, err
}

func (c *Client) ListProjects(ctx context.Context, round int) ([]game.Project, error) {
	path := "/v1/projects"
	if round > 0 {
		path += "?round=" + strconv.Itoa(round)
	}
	var out struct {
		Projects []game.Project `json:"projects"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, "", nil, &out, "")
	return out.Projects, err
}

func (c *Client) CreateProject(ctx context.Context, in game.ProjectInput) (game.Project, error) {
	var out struct {
		Project game.Project `json:"project"`
	}
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/projects", c.AdminToken, in, &out, "")
	return out.Project, err
}

func (c *Client) GenerateProjects(ctx context.Context, round int) ([]game.Project, error) {
	var out struct {
		Projects []game.Project `json:"projects"`
	}
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/projects/generate", c.AdminToken, map[string]any{
		"round": round,
	}, &out, "")
	return out.Projects, err
}

func (c *Client) ListTeams(ctx context.Context) ([]game.Team, error) {
	var out struct {
		Teams []game.Team `json:"teams"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/admin/teams", c.AdminToken, nil, &out, "")
	return out.Teams, err
}

func (c *Client) RemoveTeam(ctx context.Context, teamID string) error {
	return c.jsonRequest(ctx, http.MethodDelete, "/v1/admin/teams/"+url.PathEscape(teamID), c.AdminToken, nil, nil, "")
}

func (c *Client) RegisterTeam(ctx context.Context, name string) (game.Team, error) {
	var out struct {
		Team game.Team `json:"team"`
	}
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/teams", "", map[string]any{"name": name}, &out, "")
	return out.Team, err
}

func (c *Client) Team(ctx context.Context, teamID string) (game.TeamView, error) {
	var out struct {
		Team game.TeamView `json:"team"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/teams/"+url.PathEscape(teamID), "", nil, &out, "")
	return out.Team, err
}

func (c *Client) TeamLogs(ctx context.Context, teamID string) ([]game.LogEntry, error) {
	var out struct {
		Logs []game.LogEntry `json:"logs"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/teams/"+url.PathEscape(teamID)+"/logs", "", nil, &out, "")
	return out.Logs, err
}

func (c *Client) Leaderboard(ctx context.Context) ([]game.LeaderboardRow, error) {
	var out struct {
		Leaderboard []game.LeaderboardRow `json:"leaderboard"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/leaderboard", "", nil, &out, "")
	return out.Leaderboard, err
}

// TeamWrite sends one of the team decision endpoints (setup, bids, hire,
// upgrades, ready). These are the writes the CLI queues while offline.
func (c *Client) TeamWrite(ctx context.Context, method, path string, body map[string]any, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, method, path, "", body, &out, idem)
	return out, err
}

func TeamPath(teamID, action string) string {
	return "/v1/teams/" + url.PathEscape(teamID) + "/" + action
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accessToken string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var payload struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
			apiErr.Code = payload.Code
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
