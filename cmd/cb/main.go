package main

import (
	"context"
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

	"crewboard/internal/config"
	"crewboard/internal/domain"
	"crewboard/internal/engine"
	"crewboard/internal/server"
	"crewboard/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "cb",
	Short: "Crewboard CLI",
	Long: `Crewboard coordinates a crew of worker agents over a shared board.
Work items flow through a fixed pipeline: intake -> ready -> in-test ->
in-build -> review -> verify -> done, with blocked as the escalation
parking lot. The board document is the source of truth; item markdown
files mirror it stage directory by stage directory.

Agents claim items, move them forward, and reject work back for another
pass. Dependencies gate forward movement, WIP limits gate stage entry,
and every mutation lands in the activity feed.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		envelope := struct {
			Error *domain.Error `json:"error"`
		}{Error: domain.AsError(err)}
		enc := json.NewEncoder(os.Stderr)
		enc.SetIndent("", "  ")
		_ = enc.Encode(envelope)
		os.Exit(domain.ExitStatus(err))
	}
}

func initConfig() {
	viper.SetEnvPrefix("CREWBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("dir", "d", ".", "board directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().StringP("agent", "a", "", "agent identifier")
	_ = viper.BindPFlag("dir", rootCmd.PersistentFlags().Lookup("dir"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("agent", rootCmd.PersistentFlags().Lookup("agent"))
}

func registerCommands() {
	rootCmd.AddCommand(missionCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(depsCmd())
	rootCmd.AddCommand(boardCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func missionCmd() *cobra.Command {
	mission := &cobra.Command{Use: "mission", Short: "Mission lifecycle"}
	mission.AddCommand(missionInitCmd())
	mission.AddCommand(missionStatusCmd())
	mission.AddCommand(missionPrecheckCmd())
	mission.AddCommand(missionPostcheckCmd())
	mission.AddCommand(missionArchiveCmd())
	return mission
}

func missionInitCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a board directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := viper.GetString("dir")
			cfg, err := config.LoadOptional(dir)
			if err != nil {
				return err
			}
			board, err := engine.InitMission(cmd.Context(), dir, name, cfg)
			if err != nil {
				return err
			}
			return printJSONOrTable(board)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "mission name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func missionStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show mission and board statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				board, err := e.Board()
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"mission": board.Mission,
						"stats":   board.Stats,
						"agents":  board.Agents,
					})
				}
				fmt.Printf("Mission: %s (%s)\n", board.Mission.Name, board.Mission.Status)
				if board.Mission.StartedAt != "" {
					fmt.Printf("Started: %s\n", board.Mission.StartedAt)
				}
				if board.Mission.CompletedAt != "" {
					fmt.Printf("Completed: %s\n", board.Mission.CompletedAt)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Stage", "Items"})
				for _, stage := range domain.Stages {
					tw.AppendRow(table.Row{stage, len(board.Phases[stage])})
				}
				tw.AppendFooter(table.Row{"total", board.Stats.Total})
				tw.Render()
				fmt.Printf("Completed: %d  In flight: %d  Blocked: %d  Rejections: %d\n",
					board.Stats.Completed, board.Stats.InFlight, board.Stats.Blocked, board.Stats.Rejections)
				return nil
			})
		},
	}
	return cmd
}

func missionPrecheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "precheck",
		Short: "Validate the board before work starts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				report, err := e.Precheck()
				if err != nil {
					return err
				}
				if err := printJSONOrTable(report); err != nil {
					return err
				}
				if !report.OK {
					return domain.Errf(domain.CodeValidation, "", "precheck found %d problem(s)", len(report.Problems))
				}
				return nil
			})
		},
	}
	return cmd
}

func missionPostcheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "postcheck",
		Short: "Verify every item reached done",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				report, err := e.Postcheck(ctx)
				if err != nil {
					return err
				}
				if err := printJSONOrTable(report); err != nil {
					return err
				}
				if !report.Passed {
					return domain.Errf(domain.CodeValidation, "", "%d item(s) not done", len(report.Pending))
				}
				return nil
			})
		},
	}
	return cmd
}

func missionArchiveCmd() *cobra.Command {
	var ids []string
	var complete, dryRun bool
	var verdict string
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Archive completed items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				result, err := e.Archive(ctx, engine.ArchiveOptions{
					IDs:      ids,
					Complete: complete,
					DryRun:   dryRun,
					Verdict:  verdict,
					Agent:    viper.GetString("agent"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(result)
			})
		},
	}
	cmd.Flags().StringSliceVar(&ids, "id", nil, "item ids to archive (default: everything in done)")
	cmd.Flags().BoolVar(&complete, "complete", false, "mark the mission completed and write the summary")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report the selection without archiving")
	cmd.Flags().StringVar(&verdict, "verdict", "", "final review verdict recorded with --complete")
	return cmd
}

func itemCmd() *cobra.Command {
	item := &cobra.Command{Use: "item", Short: "Manage work items"}
	item.AddCommand(itemCreateCmd())
	item.AddCommand(itemListCmd())
	item.AddCommand(itemShowCmd())
	item.AddCommand(itemUpdateCmd())
	item.AddCommand(itemMoveCmd())
	item.AddCommand(itemClaimCmd())
	item.AddCommand(itemReleaseCmd())
	item.AddCommand(itemRejectCmd())
	return item
}

func itemCreateCmd() *cobra.Command {
	var id, title, itemType, group, bodyFile string
	var deps []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a work item in intake",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var body string
				if bodyFile != "" {
					data, err := os.ReadFile(bodyFile)
					if err != nil {
						return err
					}
					body = string(data)
				}
				result, err := e.CreateItem(ctx, engine.CreateOptions{
					ID:            id,
					Title:         title,
					Type:          itemType,
					Dependencies:  deps,
					ParallelGroup: group,
					Body:          body,
					Agent:         viper.GetString("agent"),
				})
				if err != nil {
					return err
				}
				for _, w := range result.Warnings {
					fmt.Fprintf(os.Stderr, "warning: depends on nonexistent %s\n", w.DependsOn)
				}
				return printJSONOrTable(result)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "item id (default: generated)")
	cmd.Flags().StringVar(&title, "title", "", "item title")
	cmd.Flags().StringVar(&itemType, "type", "", "item type")
	cmd.Flags().StringSliceVar(&deps, "dep", nil, "dependency item id (repeatable)")
	cmd.Flags().StringVar(&group, "group", "", "parallel group")
	cmd.Flags().StringVar(&bodyFile, "body-file", "", "markdown body file")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func itemListCmd() *cobra.Command {
	var stage, agent, itemType, group string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				filters := engine.ListFilters{Agent: agent, Type: itemType, Group: group}
				if stage != "" {
					parsed, err := domain.ParseStage(stage)
					if err != nil {
						return err
					}
					filters.Stage = parsed
				}
				items, err := e.ListItems(filters)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					if items == nil {
						items = []*domain.WorkItem{}
					}
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Stage", "Type", "Title", "Agent", "Rejections"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Stage, it.Type, it.Title, it.AssignedAgent, it.RejectionCount})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "filter by stage")
	cmd.Flags().StringVar(&agent, "agent-filter", "", "filter by assigned agent")
	cmd.Flags().StringVar(&itemType, "type", "", "filter by item type")
	cmd.Flags().StringVar(&group, "group", "", "filter by parallel group")
	return cmd
}

func itemShowCmd() *cobra.Command {
	var withBody bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				item, body, err := e.GetItem(args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"item": item, "content": string(body)})
				}
				if err := printJSONOrTable(item); err != nil {
					return err
				}
				if withBody {
					fmt.Println(string(body))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&withBody, "body", false, "print the markdown body")
	return cmd
}

func itemUpdateCmd() *cobra.Command {
	var title, itemType, group string
	var addDeps, removeDeps []string
	var outputs []string
	var strict bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Edit item metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.UpdateOptions{
					ID:         args[0],
					Title:      title,
					Type:       itemType,
					AddDeps:    addDeps,
					RemoveDeps: removeDeps,
					Strict:     strict,
					Agent:      viper.GetString("agent"),
				}
				if cmd.Flags().Changed("group") {
					opts.SetGroup = &group
				}
				if len(outputs) > 0 {
					opts.Outputs = map[string]string{}
					for _, kv := range outputs {
						name, path, ok := strings.Cut(kv, "=")
						if !ok {
							return domain.Errf(domain.CodeValidation, args[0],
								"--output wants name=path, got %q", kv)
						}
						opts.Outputs[name] = path
					}
				}
				result, err := e.UpdateItem(ctx, opts)
				if err != nil {
					return err
				}
				for _, w := range result.Warnings {
					fmt.Fprintf(os.Stderr, "warning: %s depends on nonexistent %s\n", w.ItemID, w.DependsOn)
				}
				return printJSONOrTable(result)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&itemType, "type", "", "new type")
	cmd.Flags().StringSliceVar(&addDeps, "add-dep", nil, "add a dependency")
	cmd.Flags().StringSliceVar(&removeDeps, "remove-dep", nil, "remove a dependency")
	cmd.Flags().StringVar(&group, "group", "", "set parallel group (empty clears)")
	cmd.Flags().StringSliceVar(&outputs, "output", nil, "record an output as name=path")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail instead of warn when a dependency edit closes a cycle")
	return cmd
}

func itemMoveCmd() *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "move <id> <stage>",
		Short: "Move an item to another stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				to, err := domain.ParseStage(args[1])
				if err != nil {
					return err
				}
				result, err := e.Move(ctx, engine.MoveOptions{
					ID:    args[0],
					To:    to,
					Agent: viper.GetString("agent"),
					Token: token,
				})
				if err != nil {
					return err
				}
				if result.FinalReviewDue && !viper.GetBool("json") {
					fmt.Fprintln(os.Stderr, "all items done; mission awaits final review")
				}
				return printJSONOrTable(result)
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "claim token to carry into the new stage")
	return cmd
}

func itemClaimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claim <id>",
		Short: "Claim an item for the current agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				assignment, err := e.Claim(ctx, args[0], viper.GetString("agent"))
				if err != nil {
					return err
				}
				return printJSONOrTable(assignment)
			})
		},
	}
	return cmd
}

func itemReleaseCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "release <id>",
		Short: "Release a claimed item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				result, err := e.Release(ctx, args[0], viper.GetString("agent"), note)
				if err != nil {
					return err
				}
				return printJSONOrTable(result)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "work log note recorded on release")
	return cmd
}

func itemRejectCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject an item back for another pass",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				result, err := e.Reject(ctx, args[0], reason, viper.GetString("agent"))
				if err != nil {
					return err
				}
				if result.Escalated && !viper.GetBool("json") {
					fmt.Fprintf(os.Stderr, "item %s escalated to blocked after %d rejections\n",
						args[0], result.Item.RejectionCount)
				}
				return printJSONOrTable(result)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func depsCmd() *cobra.Command {
	deps := &cobra.Command{Use: "deps", Short: "Dependency graph engine"}
	deps.AddCommand(depsCheckCmd())
	deps.AddCommand(depsReadyCmd())
	deps.AddCommand(depsWavesCmd())
	return deps
}

func depsCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the dependency graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				report, _, err := e.DepsReport()
				if err != nil {
					return err
				}
				if err := printJSONOrTable(report); err != nil {
					return err
				}
				if !report.Valid {
					return domain.Errf(domain.CodeDependencyCycle, "",
						"dependency graph is invalid (%d cycle(s), %d missing)",
						len(report.Cycles), len(report.Missing))
				}
				return nil
			})
		},
	}
	return cmd
}

func depsReadyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ready",
		Short: "List intake items whose dependencies are all done",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				_, ready, err := e.DepsReport()
				if err != nil {
					return err
				}
				if ready == nil {
					ready = []string{}
				}
				return printJSONOrTable(ready)
			})
		},
	}
	return cmd
}

func depsWavesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "waves",
		Short: "Show parallel execution waves",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				report, _, err := e.DepsReport()
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report.Waves)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Wave", "Items"})
				for i, wave := range report.Waves {
					tw.AppendRow(table.Row{i, strings.Join(wave, ", ")})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func boardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Show the board, stage by stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				board, err := e.Board()
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(board)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Stage", "Item", "Agent"})
				for _, stage := range domain.Stages {
					for _, id := range board.Phases[stage] {
						tw.AppendRow(table.Row{stage, id, board.Assignments[id].Agent})
					}
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Activity feed"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent activity lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				lines, err := e.Events.Tail(limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					if lines == nil {
						lines = []string{}
					}
					return printJSON(lines)
				}
				for _, line := range lines {
					fmt.Println(line)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of lines")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the read-only HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				handler, err := server.New(server.Config{
					Engine:   e,
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: os.Getenv("CREWBOARD_JWT_SECRET")},
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Crewboard API on http://%s%s\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8337", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	dir := viper.GetString("dir")
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	e := engine.New(store.New(dir), cfg)
	return fn(ctx, e)
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
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
