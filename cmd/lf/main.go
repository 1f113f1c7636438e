package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	cl "lawfirm/internal/cli"
	"lawfirm/internal/config"
	"lawfirm/internal/game"
	"lawfirm/internal/syncq"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type globals struct {
	apiBase    string
	adminToken string
	teamID     string
}

func main() {
	cfg := config.LoadCLIFromEnv()
	g := &globals{apiBase: cfg.APIBaseURL, adminToken: os.Getenv("LAWFIRM_ADMIN_TOKEN")}

	root := &cobra.Command{
		Use:          "lf",
		Short:        "Law firm simulation client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&g.apiBase, "api", g.apiBase, "API base URL")
	root.PersistentFlags().StringVar(&g.adminToken, "admin-token", g.adminToken, "game master token for admin commands")
	root.PersistentFlags().StringVar(&g.teamID, "team", "", "team id (defaults to the saved session)")

	root.AddCommand(
		newGameCmd(g),
		newProjectsCmd(g),
		newTeamsCmd(g),
		newTeamCmd(g),
		newLeaderboardCmd(g),
		newUseCmd(g),
		newAdminCmd(g),
		newSyncCmd(g),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// client resolves the base URL and admin token, falling back to the session
// for values not given on the command line.
func (g *globals) client() *cl.Client {
	sess, _ := cl.LoadSession()
	base := strings.TrimSpace(g.apiBase)
	if base == "" {
		base = sess.APIBaseURL
	}
	token := strings.TrimSpace(g.adminToken)
	if token == "" {
		token = sess.AdminToken
	}
	return cl.NewClient(base, token)
}

func (g *globals) team(args []string) (string, error) {
	if len(args) > 0 {
		return strings.TrimSpace(args[0]), nil
	}
	sess, err := cl.LoadSession()
	if err != nil {
		return "", err
	}
	return sess.RequireTeam(g.teamID)
}

func timeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 30*time.Second)
}

func newGameCmd(g *globals) *cobra.Command {
	gameCmd := &cobra.Command{
		Use:   "game",
		Short: "Game state and round control",
	}
	gameCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the current round",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := timeout(cmd)
			defer cancel()
			gs, err := g.client().GameState(ctx)
			if err != nil {
				return err
			}
			renderGameState(gs)
			return nil
		},
	})
	gameCmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start the game at round 1",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := timeout(cmd)
			defer cancel()
			gs, err := g.client().StartGame(ctx)
			if err != nil {
				return err
			}
			printSuccess("Game started.")
			renderGameState(gs)
			return nil
		},
	})

	var (
		force     bool
		fromRound int
	)
	advance := &cobra.Command{
		Use:   "advance",
		Short: "Resolve the current round",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()
			report, err := g.client().AdvanceRound(ctx, force, fromRound)
			if err != nil {
				return err
			}
			renderRoundReport(report)
			return nil
		},
	}
	advance.Flags().BoolVar(&force, "force", false, "advance even when some teams are not ready")
	advance.Flags().IntVar(&fromRound, "round", 0, "only advance if this is the current round (safe to retry)")
	gameCmd.AddCommand(advance)

	var yes bool
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Wipe every firm back to signup state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				answer, err := promptChoice("Reset all firms, bids and logs?", []string{"yes", "no"}, "no")
				if err != nil {
					return err
				}
				if answer != "yes" {
					printInfo("Reset cancelled.")
					return nil
				}
			}
			ctx, cancel := timeout(cmd)
			defer cancel()
			gs, err := g.client().ResetGame(ctx)
			if err != nil {
				return err
			}
			printWarn("Game reset.")
			renderGameState(gs)
			return nil
		},
	}
	reset.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	gameCmd.AddCommand(reset)
	return gameCmd
}

func newProjectsCmd(g *globals) *cobra.Command {
	projects := &cobra.Command{
		Use:     "projects",
		Short:   "Project catalog",
		Aliases: []string{"project"},
	}

	var round int
	list := &cobra.Command{
		Use:   "list",
		Short: "List projects, optionally for one round",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := timeout(cmd)
			defer cancel()
			out, err := g.client().ListProjects(ctx, round)
			if err != nil {
				return err
			}
			renderProjects(out, round)
			return nil
		},
	}
	list.Flags().IntVar(&round, "round", 0, "only projects biddable in this round")
	projects.AddCommand(list)

	var in game.ProjectInput
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a project to the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Name = args[0]
			ctx, cancel := timeout(cmd)
			defer cancel()
			p, err := g.client().CreateProject(ctx, in)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Project %s created (%s).", p.Name, p.ID))
			return nil
		},
	}
	add.Flags().IntVar(&in.Complexity, "complexity", 30, "complexity 0-100")
	add.Flags().IntVar(&in.CapacityCost, "capacity", 10, "capacity cost")
	add.Flags().Int64Var(&in.EstimatedCost, "estimated", 30_000, "estimated cost; bids must exceed it")
	add.Flags().Int64Var(&in.HiddenMarketPrice, "market", 60_000, "hidden market price")
	add.Flags().IntSliceVar(&in.Rounds, "rounds", []int{1}, "rounds the project is biddable in")
	projects.AddCommand(add)

	var genRound int
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Draw a fresh batch of projects for a round",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := timeout(cmd)
			defer cancel()
			c := g.client()
			if genRound == 0 {
				gs, err := c.GameState(ctx)
				if err != nil {
					return err
				}
				genRound = gs.CurrentRound
			}
			out, err := c.GenerateProjects(ctx, genRound)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Generated %d projects for round %d.", len(out), genRound))
			return nil
		},
	}
	generate.Flags().IntVar(&genRound, "round", 0, "round to generate for (default current)")
	projects.AddCommand(generate)
	return projects
}

func newTeamsCmd(g *globals) *cobra.Command {
	teams := &cobra.Command{
		Use:   "teams",
		Short: "Firm registry",
	}
	teams.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every firm (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := timeout(cmd)
			defer cancel()
			out, err := g.client().ListTeams(ctx)
			if err != nil {
				return err
			}
			renderTeams(out)
			return nil
		},
	})
	teams.AddCommand(&cobra.Command{
		Use:   "register <name>",
		Short: "Register a new firm and select it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := timeout(cmd)
			defer cancel()
			t, err := g.client().RegisterTeam(ctx, args[0])
			if err != nil {
				return err
			}
			if err := saveTeam(g, t.ID, t.Name); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Registered %s (%s). Run `lf team setup` next.", t.Name, t.ID))
			return nil
		},
	})
	teams.AddCommand(&cobra.Command{
		Use:   "show [team-id]",
		Short: "Show a firm's numbers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := g.team(args)
			if err != nil {
				return err
			}
			ctx, cancel := timeout(cmd)
			defer cancel()
			view, err := g.client().Team(ctx, id)
			if err != nil {
				return err
			}
			renderTeamView(view)
			return nil
		},
	})
	teams.AddCommand(&cobra.Command{
		Use:   "logs [team-id]",
		Short: "Show a firm's round reports",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := g.team(args)
			if err != nil {
				return err
			}
			ctx, cancel := timeout(cmd)
			defer cancel()
			logs, err := g.client().TeamLogs(ctx, id)
			if err != nil {
				return err
			}
			renderLogs(logs)
			return nil
		},
	})
	teams.AddCommand(&cobra.Command{
		Use:   "remove <team-id>",
		Short: "Delete a firm (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := timeout(cmd)
			defer cancel()
			if err := g.client().RemoveTeam(ctx, args[0]); err != nil {
				return err
			}
			printSuccess("Team removed.")
			return nil
		},
	})
	return teams
}

func newTeamCmd(g *globals) *cobra.Command {
	team := &cobra.Command{
		Use:   "team",
		Short: "Decisions for the selected firm",
	}

	var office, tech string
	setupCounts := map[game.Tier]*int{}
	setup := &cobra.Command{
		Use:   "setup",
		Short: "Choose office, tech and starting staff",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := g.team(nil)
			if err != nil {
				return err
			}
			if office == "" {
				if office, err = promptChoice("Office", sortedKeys(game.OfficeSpecs), "basic"); err != nil {
					return err
				}
			}
			if tech == "" {
				if tech, err = promptChoice("Tech", sortedKeys(game.TechSpecs), "basic"); err != nil {
					return err
				}
			}
			employees := map[string]int{}
			for tier, n := range setupCounts {
				employees[string(tier)] = *n
			}
			return teamWrite(cmd, g, id, "setup", map[string]any{
				"office":    office,
				"tech":      tech,
				"employees": employees,
			}, "Firm set up.")
		},
	}
	setup.Flags().StringVar(&office, "office", "", "basic, modern or premium")
	setup.Flags().StringVar(&tech, "tech", "", "basic, advanced or cutting-edge")
	for _, tier := range game.Tiers {
		def := 0
		if tier == game.TierPartner {
			def = 1
		}
		setupCounts[tier] = setup.Flags().Int(string(tier), def, fmt.Sprintf("%s headcount", tier))
	}
	team.AddCommand(setup)

	team.AddCommand(&cobra.Command{
		Use:   "bid <project-id> <amount>",
		Short: "Place a sealed bid on a project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := g.team(nil)
			if err != nil {
				return err
			}
			amount, err := strconv.ParseInt(strings.ReplaceAll(args[1], ",", ""), 10, 64)
			if err != nil || amount <= 0 {
				return fmt.Errorf("invalid amount %q", args[1])
			}
			return teamWrite(cmd, g, id, "bids", map[string]any{
				"project_id": args[0],
				"amount":     amount,
			}, fmt.Sprintf("Bid of %s placed.", game.FormatMoney(amount)))
		},
	})

	hireCounts := map[game.Tier]*int{}
	hire := &cobra.Command{
		Use:   "hire",
		Short: "Hire (positive) or let go (negative) staff",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := g.team(nil)
			if err != nil {
				return err
			}
			deltas := map[string]int{}
			for tier, n := range hireCounts {
				if *n != 0 {
					deltas[string(tier)] = *n
				}
			}
			if len(deltas) == 0 {
				return fmt.Errorf("nothing to change: pass e.g. --junior 2")
			}
			return teamWrite(cmd, g, id, "hire", map[string]any{"deltas": deltas}, "Headcount updated.")
		},
	}
	for _, tier := range game.Tiers {
		hireCounts[tier] = hire.Flags().Int(string(tier), 0, fmt.Sprintf("%s change", tier))
	}
	team.AddCommand(hire)

	team.AddCommand(&cobra.Command{
		Use:       "upgrade <track>",
		Short:     "Buy the next level of an upgrade track",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(game.UpgradeAI), string(game.UpgradeClient)},
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := g.team(nil)
			if err != nil {
				return err
			}
			return teamWrite(cmd, g, id, "upgrades", map[string]any{"track": args[0]}, "Upgrade purchased.")
		},
	})

	var undo bool
	ready := &cobra.Command{
		Use:   "ready",
		Short: "Submit this round's strategy",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := g.team(nil)
			if err != nil {
				return err
			}
			msg := "Strategy submitted."
			if undo {
				msg = "Strategy reopened."
			}
			return teamWrite(cmd, g, id, "ready", map[string]any{"ready": !undo}, msg)
		},
	}
	ready.Flags().BoolVar(&undo, "undo", false, "withdraw the ready flag")
	team.AddCommand(ready)
	return team
}

func newLeaderboardCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "leaderboard",
		Short: "Rank firms by cash",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := timeout(cmd)
			defer cancel()
			rows, err := g.client().Leaderboard(ctx)
			if err != nil {
				return err
			}
			renderLeaderboard(rows)
			return nil
		},
	}
}

func newUseCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "use <team-id>",
		Short: "Select the firm this terminal plays",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := timeout(cmd)
			defer cancel()
			view, err := g.client().Team(ctx, args[0])
			if err != nil {
				return err
			}
			if err := saveTeam(g, view.ID, view.Name); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Now playing as %s.", view.Name))
			return nil
		},
	}
}

func newAdminCmd(g *globals) *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Game master credentials",
	}
	admin.AddCommand(&cobra.Command{
		Use:   "login",
		Short: "Save the admin token for later commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			token := strings.TrimSpace(g.adminToken)
			if token == "" {
				var err error
				if token, err = promptSecret("Admin token"); err != nil {
					return err
				}
			}
			g.adminToken = token
			ctx, cancel := timeout(cmd)
			defer cancel()
			if _, err := g.client().ListTeams(ctx); err != nil {
				return fmt.Errorf("token rejected: %w", err)
			}
			sess, err := cl.LoadSession()
			if err != nil {
				return err
			}
			sess.AdminToken = token
			if err := cl.SaveSession(sess); err != nil {
				return err
			}
			printSuccess("Admin token saved.")
			return nil
		},
	})
	admin.AddCommand(&cobra.Command{
		Use:   "logout",
		Short: "Forget the saved admin token",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return err
			}
			sess.AdminToken = ""
			if err := cl.SaveSession(sess); err != nil {
				return err
			}
			printSuccess("Admin token cleared.")
			return nil
		},
	})
	return admin
}

func newSyncCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay decisions queued while the server was unreachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := syncq.Load()
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			client := g.client()
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			sent, remaining := syncq.Replay(queue, func(q syncq.Command) error {
				_, err := client.TeamWrite(ctx, q.Method, q.Path, q.Body, q.IdempotencyKey)
				return err
			}, cl.IsNetworkError, func(q syncq.Command, err error) {
				printError(fmt.Sprintf("Dropped %s %s: %v", q.Method, q.Path, err))
			})
			if err := syncq.Save(remaining); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d remaining=%d", sent, len(remaining)))
			return nil
		},
	}
}

// teamWrite sends a team decision, queueing it for `lf sync` when the server
// cannot be reached.
func teamWrite(cmd *cobra.Command, g *globals, teamID, action string, body map[string]any, okMsg string) error {
	idem := uuid.NewString()
	path := cl.TeamPath(teamID, action)
	ctx, cancel := timeout(cmd)
	defer cancel()
	_, err := g.client().TeamWrite(ctx, http.MethodPost, path, body, idem)
	if err != nil {
		return queueOnNetworkError(err, syncq.Command{
			Method:         http.MethodPost,
			Path:           path,
			Body:           body,
			IdempotencyKey: idem,
		})
	}
	printSuccess(okMsg)
	return nil
}

func queueOnNetworkError(err error, q syncq.Command) error {
	if !cl.IsNetworkError(err) {
		return err
	}
	if qErr := syncq.Push(q); qErr != nil {
		return fmt.Errorf("request failed (%v) and could not be queued: %w", err, qErr)
	}
	printWarn(fmt.Sprintf("Server unreachable, queued %s. Run `lf sync` later.", q.Path))
	return nil
}

func saveTeam(g *globals, id, name string) error {
	sess, err := cl.LoadSession()
	if err != nil {
		return err
	}
	sess.TeamID = id
	sess.TeamName = name
	sess.APIBaseURL = strings.TrimSpace(g.apiBase)
	if g.adminToken != "" {
		sess.AdminToken = g.adminToken
	}
	return cl.SaveSession(sess)
}
