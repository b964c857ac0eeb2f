package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"archon/internal/app"
	"archon/internal/config"
	"archon/internal/db"
	"archon/internal/domain"
	"archon/internal/engine"
	"archon/internal/migrate"
	"archon/internal/repo"
	"archon/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "archon",
	Short: "Archon CLI",
	Long: `Archon orchestrates AI-driven software builds through gated phases.
- Workspace: your .archon directory holding the project database; archon.yml binds providers to roles.
- Phases: vision_intake -> system_design -> detailed_design -> build_decomposition -> build_supervision -> validation.
- Gates: human decision points; exactly one can be pending, and each takes exactly one response.
- Tasks: decomposed build units with dependencies, leveled into parallel groups per tier.
- Dispatch: runs a tier's groups in order, tasks within a group concurrently.
- Review: three-stage verification of each task's manifest before acceptance.
- Event log: diary of changes, view with 'archon events tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("ARCHON")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().Bool("force", false, "force operation")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("force", rootCmd.PersistentFlags().Lookup("force"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(intakeCmd())
	rootCmd.AddCommand(designCmd())
	rootCmd.AddCommand(gateCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(dispatchCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(estimateCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	boot := engine.New(conn, nil)
	_, cfg, err := app.ResolveProjectAndConfig(ctx, resolveProjectOverride(workspace), viper.GetString("actor-id"), boot)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	if conns := engine.ConnectorsFromConfig(cfg); conns != nil {
		e.Connectors = conns
	}
	return fn(ctx, e)
}

// resolveProjectOverride prefers --project, then the workspace archon.yml.
func resolveProjectOverride(workspace string) string {
	if p := viper.GetString("project"); p != "" {
		return p
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil || cfg == nil {
		return ""
	}
	return cfg.Project.ID
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func initCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize an Archon workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			if id == "" {
				id = engine.NewID("proj")
			}
			if name == "" {
				name = id
			}
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault(id)), 0o644); err != nil {
					return err
				}
				fmt.Println("wrote", cfgPath)
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn, nil)
			p, err := e.InitProject(cmd.Context(), id, name, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			if err := e.Repo.UpsertProjectConfig(cmd.Context(), p.ID, cfg); err != nil {
				return err
			}
			fmt.Printf("initialized project %s (phase %s)\n", p.ID, p.Phase)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show project status",
		Long:  "The scoreboard for your project: phase, pending gate, tier, task counts, and token spend.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectID := e.Config.Project.ID
				p, err := e.Repo.GetProject(ctx, projectID)
				if err != nil {
					return err
				}
				health, err := e.Health(ctx, projectID)
				if err != nil {
					return err
				}
				counts, err := e.Repo.CountTasksByStatus(ctx, projectID)
				if err != nil {
					return err
				}
				out := map[string]any{
					"project_id":   p.ID,
					"phase":        p.Phase,
					"status":       p.Status,
					"current_tier": p.CurrentTier,
					"blocked_on":   p.BlockedOn,
					"health":       health,
					"task_counts":  counts,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Project: %s (%s)\n", p.ID, p.Status)
				fmt.Printf("Phase: %s, tier %d\n", p.Phase, p.CurrentTier)
				if p.BlockedOn != "" {
					fmt.Printf("Blocked: %s\n", p.BlockedOn)
				}
				fmt.Printf("Tasks: %d total, %d completed, %d rejected\n", health.TasksTotal, health.TasksCompleted, health.TasksRejected)
				fmt.Printf("Tokens: %d in / %d out\n", health.TokensUsed.InputTokens, health.TokensUsed.OutputTokens)
				for status, c := range counts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				return nil
			})
		},
	}
	return cmd
}

func intakeCmd() *cobra.Command {
	var brief, briefFile string
	cmd := &cobra.Command{
		Use:   "intake",
		Short: "Run vision intake on a project brief",
		RunE: func(cmd *cobra.Command, args []string) error {
			if brief == "" && briefFile != "" {
				data, err := os.ReadFile(briefFile)
				if err != nil {
					return err
				}
				brief = string(data)
			}
			if strings.TrimSpace(brief) == "" {
				return fmt.Errorf("provide --brief or --brief-file")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				gate, contract, err := e.RunVisionIntake(ctx, e.Config.Project.ID, brief, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"gate": gate, "vision_contract": contract})
				}
				fmt.Printf("Gate %s created: %s\n", gate.ID, gate.Title)
				fmt.Printf("Respond with: archon gate respond %s --type choose\n", gate.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&brief, "brief", "", "project brief text")
	cmd.Flags().StringVar(&briefFile, "brief-file", "", "path to a brief file")
	return cmd
}

func designCmd() *cobra.Command {
	design := &cobra.Command{Use: "design", Short: "System design phase"}
	design.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Generate architecture options and open the design gate",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				gate, err := e.RunSystemDesign(ctx, e.Config.Project.ID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(gate)
				}
				fmt.Printf("Gate %s created with %d option(s)\n", gate.ID, len(gate.Options))
				for _, opt := range gate.Options {
					marker := " "
					if opt.Recommended {
						marker = "*"
					}
					fmt.Printf("  [%s]%s %s\n", opt.Label, marker, opt.Summary)
				}
				return nil
			})
		},
	})
	design.AddCommand(&cobra.Command{
		Use:   "apply",
		Short: "Fold the resolved design gate into the architecture template",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.ProcessDesignResponse(ctx, e.Config.Project.ID, viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Println("architecture template updated")
				return nil
			})
		},
	})
	return design
}

func gateCmd() *cobra.Command {
	gate := &cobra.Command{Use: "gate", Short: "Manage gates"}
	gate.AddCommand(gateListCmd())
	gate.AddCommand(gateRaiseCmd())
	gate.AddCommand(gateRespondCmd())
	gate.AddCommand(gateDeferCmd())
	return gate
}

func gateRaiseCmd() *cobra.Command {
	var gateType, title, description string
	cmd := &cobra.Command{
		Use:   "raise",
		Short: "Raise a scope_change or constitutional exception gate",
		RunE: func(cmd *cobra.Command, args []string) error {
			gt := domain.GateType(gateType)
			if gt != domain.GateScopeChange && gt != domain.GateConstitutional {
				return fmt.Errorf("--type must be scope_change or constitutional")
			}
			if strings.TrimSpace(title) == "" {
				return fmt.Errorf("--title is required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProject(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				g, err := e.CreateGate(ctx, p.ID, gt, p.Phase, title, description, nil, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	cmd.Flags().StringVar(&gateType, "type", "scope_change", "gate type (scope_change or constitutional)")
	cmd.Flags().StringVar(&title, "title", "", "gate title")
	cmd.Flags().StringVar(&description, "description", "", "gate description")
	return cmd
}

func gateListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List gates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				gates, err := e.Repo.ListGates(ctx, e.Config.Project.ID, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(gates)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Phase", "Title", "Status"})
				for _, g := range gates {
					tw.AppendRow(table.Row{g.ID, g.Type, g.Phase, g.Title, g.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, approved, rejected, deferred)")
	return cmd
}

func gateRespondCmd() *cobra.Command {
	var responseType, choice string
	var modifications []string
	cmd := &cobra.Command{
		Use:   "respond <gate-id>",
		Short: "Respond to a gate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.RespondGate(ctx, args[0], engine.GateResponse{
					Type:          domain.GateResponseType(responseType),
					Choice:        choice,
					Modifications: modifications,
				}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(g)
				}
				fmt.Printf("Gate %s %s\n", g.ID, g.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&responseType, "type", "choose", "response type (choose, choose_with_modifications, combine, revise_and_proceed, explore_differently, reject)")
	cmd.Flags().StringVar(&choice, "choice", "", "chosen option label or free-form choice")
	cmd.Flags().StringArrayVar(&modifications, "mod", nil, "modification (repeatable)")
	return cmd
}

func gateDeferCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "defer <gate-id>",
		Short: "Defer a gate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.DeferGate(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				fmt.Printf("Gate %s deferred\n", g.ID)
				return nil
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Inspect tasks"}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskLevelsCmd())
	task.AddCommand(taskSetStatusCmd())
	return task
}

func taskListCmd() *cobra.Command {
	var status string
	var tier int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
					ProjectID: e.Config.Project.ID,
					Status:    status,
					BuildTier: tier,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Tier", "Group", "Type", "Status", "Provider"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Name, t.BuildTier, t.ParallelGroup, t.Type, t.Status, t.AssignedProvider})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().IntVar(&tier, "tier", 0, "filter by build tier")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskLevelsCmd() *cobra.Command {
	var tier int
	cmd := &cobra.Command{
		Use:   "levels",
		Short: "Show tasks grouped by parallel level",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: e.Config.Project.ID, BuildTier: tier})
				if err != nil {
					return err
				}
				groups := engine.GroupByLevel(tasks)
				if viper.GetBool("json") {
					return printJSON(groups)
				}
				for _, group := range groups {
					fmt.Printf("Level %d:\n", group[0].ParallelGroup)
					for _, t := range group {
						fmt.Printf("  %s  %s (%s)\n", t.ID, t.Name, t.Status)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&tier, "tier", 0, "filter by build tier")
	return cmd
}

func taskSetStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-status <task-id> <status>",
		Short: "Set a task status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.SetTaskStatus(ctx, args[0], domain.TaskStatus(args[1]), viper.GetString("actor-id"), viper.GetBool("force"))
				if err != nil {
					return err
				}
				fmt.Printf("Task %s -> %s\n", t.ID, t.Status)
				return nil
			})
		},
	}
	return cmd
}

func planCmd() *cobra.Command {
	var tier int
	var fromFile string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Decompose a build tier into tasks",
		Long:  "Asks the architect provider for a decomposition, or parses one from a file with --from-file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor := viper.GetString("actor-id")
				var (
					tasks []domain.Task
					notes []string
					err   error
				)
				if fromFile != "" {
					data, readErr := os.ReadFile(fromFile)
					if readErr != nil {
						return readErr
					}
					tasks, notes, err = e.DecomposeFromText(ctx, e.Config.Project.ID, tier, string(data), actor)
				} else {
					tasks, notes, err = e.Decompose(ctx, e.Config.Project.ID, tier, actor)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"tasks": tasks, "notes": notes})
				}
				fmt.Printf("Planned %d task(s) for tier %d\n", len(tasks), tier)
				for _, n := range notes {
					fmt.Println("note:", n)
				}
				est := e.EstimateCost(tasks)
				fmt.Printf("Estimated tokens: %d - %d (mid %d)\n", est.LowTokens, est.HighTokens, est.MidTokens)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&tier, "tier", 1, "build tier")
	cmd.Flags().StringVar(&fromFile, "from-file", "", "parse decomposition from file instead of calling the architect")
	return cmd
}

func dispatchCmd() *cobra.Command {
	var tier int
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Dispatch a build tier to builder providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				result, err := e.DispatchTier(ctx, e.Config.Project.ID, tier, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(result)
				}
				fmt.Printf("Dispatched %d task(s): %d completed, %d failed\n", result.TotalTasks, result.Completed, result.Failed)
				fmt.Printf("Tokens: %d in / %d out\n", result.TokenUsage.InputTokens, result.TokenUsage.OutputTokens)
				for _, item := range result.Incomplete {
					fmt.Println("incomplete:", item)
				}
				for _, q := range result.Questions {
					fmt.Println("question:", q)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&tier, "tier", 1, "build tier")
	return cmd
}

func reviewCmd() *cobra.Command {
	var tier int
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Review a build tier's completed tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				results, err := e.ReviewTier(ctx, e.Config.Project.ID, tier, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(results)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Task", "Verdict", "Feedback"})
				for _, r := range results {
					tw.AppendRow(table.Row{r.TaskID, r.Verdict, truncate(r.Stage2Feedback, 60)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&tier, "tier", 1, "build tier")
	return cmd
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func estimateCmd() *cobra.Command {
	var tier int
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate token cost for a tier",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: e.Config.Project.ID, BuildTier: tier})
				if err != nil {
					return err
				}
				est := e.EstimateCost(tasks)
				if viper.GetBool("json") {
					return printJSON(est)
				}
				fmt.Printf("%d task(s): %d - %d tokens (mid %d)\n", len(tasks), est.LowTokens, est.HighTokens, est.MidTokens)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&tier, "tier", 0, "build tier (0 means all)")
	return cmd
}

func eventsCmd() *cobra.Command {
	events := &cobra.Command{Use: "events", Short: "Inspect the event log"}
	var limit int
	var after int64
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var (
					items []domain.Event
					err   error
				)
				if after > 0 {
					items, err = e.Repo.EventsAfter(ctx, e.Config.Project.ID, after, limit)
				} else {
					items, err = e.Repo.LatestEvents(ctx, e.Config.Project.ID, limit)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				for _, evt := range items {
					fmt.Printf("%d %s %s %s/%s actor=%s\n", evt.ID, evt.TS, evt.Type, evt.EntityKind, evt.EntityID, evt.ActorID)
				}
				return nil
			})
		},
	}
	tail.Flags().IntVar(&limit, "limit", 50, "max events")
	tail.Flags().Int64Var(&after, "after", 0, "only events after this id")
	events.AddCommand(tail)
	return events
}

func apikeyCmd() *cobra.Command {
	apikey := &cobra.Command{Use: "apikey", Short: "Manage API keys for the HTTP server"}
	apikey.AddCommand(apikeyCreateCmd())
	apikey.AddCommand(apikeyListCmd())
	apikey.AddCommand(apikeyDeleteCmd())
	return apikey
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				raw := make([]byte, 24)
				if _, err := rand.Read(raw); err != nil {
					return err
				}
				secret := "ak_" + hex.EncodeToString(raw)
				key := domain.APIKey{
					ID:        engine.NewID("key"),
					ActorID:   viper.GetString("actor-id"),
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				fmt.Printf("created %s\n", key.ID)
				fmt.Println("secret (save it now, it is not stored):", secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			boot := engine.New(conn, nil)
			_, cfg, err := app.ResolveProjectAndConfig(cmd.Context(), resolveProjectOverride(workspace), viper.GetString("actor-id"), boot)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			if conns := engine.ConnectorsFromConfig(cfg); conns != nil {
				e.Connectors = conns
			}
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("ARCHON_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("ARCHON_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Archon API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}
