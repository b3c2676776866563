package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"devmatch/internal/app"
	"devmatch/internal/config"
	"devmatch/internal/db"
	"devmatch/internal/domain"
	"devmatch/internal/engine"
	"devmatch/internal/migrate"
	"devmatch/internal/repo"
	"devmatch/internal/server"
	"devmatch/internal/sweeper"
)

var rootCmd = &cobra.Command{
	Use:   "dm",
	Short: "devmatch CLI",
	Long: `devmatch offers client projects to freelance developers in timed batches.
- Batch: one round of offers for a project, split into expert, mid and fresher slots.
- Rotation: a cursor per (skill, level) makes sure every eligible developer gets a turn.
- Fallback: empty senior slots are filled from the next level down.
- Accept: the first developer to accept wins the project; other offers are withdrawn.
- Expiry: offers not answered before their deadline expire ('dm sweep' or 'dm serve').`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", describeError(err))
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("DEVMATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/devmatch.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "", "actor recorded in the event log")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(directoryCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(batchCmd())
	rootCmd.AddCommand(candidateCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(cursorCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default devmatch.yml and create the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.DefaultYAML), 0o644); err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				fmt.Printf("Initialized devmatch workspace at %s (database %s)\n", workspace, db.Path(workspace))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(cmd.Context(), conn); err != nil {
				return err
			}
			v, err := migrate.Version(cmd.Context(), conn)
			if err != nil {
				return err
			}
			return printJSONOrTable(map[string]int{"schema_version": v})
		},
	}
}

func directoryCmd() *cobra.Command {
	dir := &cobra.Command{Use: "directory", Short: "Manage skills and developers"}
	dir.AddCommand(directoryImportCmd())
	dir.AddCommand(directorySkillsCmd())
	dir.AddCommand(directoryDevelopersCmd())
	dir.AddCommand(directoryAvailabilityCmd())
	return dir
}

func directoryImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import skills, developers and projects from YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := app.LoadSeed(file)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				sum, err := a.ImportSeed(ctx, seed)
				if err != nil {
					return err
				}
				return printJSONOrTable(sum)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "seed YAML file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func directorySkillsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "skills",
		Short: "List skills",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListSkills(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Name")
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Name})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func directoryDevelopersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "developers",
		Short: "List developers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListDevelopers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "User", "Level", "Approval", "Availability", "Skills")
				for _, d := range items {
					skills := make([]string, 0, len(d.SkillYears))
					for s, y := range d.SkillYears {
						skills = append(skills, fmt.Sprintf("%s:%d", s, y))
					}
					tw.AppendRow(table.Row{d.ID, d.UserID, d.Level, d.ApprovalStatus, d.Availability, strings.Join(skills, " ")})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func directoryAvailabilityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "availability <developer-id> <state>",
		Short: "Set a developer's availability",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.Repo.SetAvailability(ctx, args[0], args[1]); err != nil {
					return err
				}
				d, err := a.Engine.Repo.GetDeveloper(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectStatusCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var p app.SeedProject
	var skills string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			p.SkillIDs = splitList(skills)
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				created, err := a.CreateProject(ctx, p)
				if err != nil {
					return err
				}
				if !created {
					return fmt.Errorf("project %s already exists", p.ID)
				}
				out, err := a.Engine.Repo.GetProject(ctx, p.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringVar(&p.ID, "id", "", "project id")
	cmd.Flags().StringVar(&p.ClientID, "client", "", "client user id")
	cmd.Flags().StringVar(&p.Title, "title", "", "title")
	cmd.Flags().StringVar(&skills, "skills", "", "comma separated skill ids")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("client")
	_ = cmd.MarkFlagRequired("skills")
	return cmd
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Client", "Title", "Status", "Skills", "Revealed")
				for _, p := range items {
					revealed := ""
					if p.ContactRevealedDeveloperID != nil {
						revealed = *p.ContactRevealedDeveloperID
					}
					tw.AppendRow(table.Row{p.ID, p.ClientID, p.Title, p.Status, strings.Join(p.SkillIDs, ","), revealed})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <project-id> <status>",
		Short: "Set a project's lifecycle status (completed, cancelled, ...)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.Repo.UpdateProjectStatus(ctx, args[0], args[1]); err != nil {
					return err
				}
				p, err := a.Engine.Repo.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func batchCmd() *cobra.Command {
	b := &cobra.Command{Use: "batch", Short: "Generate and inspect candidate batches"}
	b.AddCommand(batchGenerateCmd("generate", "Generate a batch for a project", false))
	b.AddCommand(batchGenerateCmd("refresh", "Replace the project's current batch", true))
	b.AddCommand(batchShowCmd())
	b.AddCommand(batchListCmd())
	return b
}

func batchGenerateCmd(use, short string, refresh bool) *cobra.Command {
	var counts domain.LevelCounts
	cmd := &cobra.Command{
		Use:   use + " <project-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.BatchOptions{ProjectID: args[0], ActorID: viper.GetString("actor-id")}
			if cmd.Flags().Changed("expert") || cmd.Flags().Changed("mid") || cmd.Flags().Changed("fresher") {
				opts.Counts = &counts
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				generate := a.Engine.GenerateBatch
				if refresh {
					generate = a.Engine.RefreshBatch
				}
				res, err := generate(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Batch #%d (%s) for %s: %d offers, shortfall %d, withdrawn %d\n",
					res.Batch.BatchNumber, res.Batch.ID, res.Project.ID, len(res.Candidates), res.Shortfall.Total(), len(res.Invalidated))
				printCandidates(res.Candidates)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&counts.Expert, "expert", 0, "expert slots")
	cmd.Flags().IntVar(&counts.Mid, "mid", 0, "mid slots")
	cmd.Flags().IntVar(&counts.Fresher, "fresher", 0, "fresher slots")
	return cmd
}

func batchShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show the project's current batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				view, err := a.Engine.CurrentBatch(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				tally, err := a.Engine.Repo.CountByResponse(ctx, view.Batch.ID)
				if err != nil {
					return err
				}
				fmt.Printf("Project %s [%s], batch #%d [%s], pending %d, accepted %d, rejected %d, expired %d\n",
					view.Project.ID, view.Project.Status, view.Batch.BatchNumber, view.Batch.Status,
					tally[domain.ResponsePending], tally[domain.ResponseAccepted], tally[domain.ResponseRejected], tally[domain.ResponseExpired])
				printCandidates(view.Candidates)
				return nil
			})
		},
	}
}

func batchListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <project-id>",
		Short: "List every batch generated for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListBatches(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("#", "ID", "Status", "Expert", "Mid", "Fresher", "Created")
				for _, b := range items {
					tw.AppendRow(table.Row{b.BatchNumber, b.ID, b.Status, b.Selection.Expert, b.Selection.Mid, b.Selection.Fresher, b.CreatedAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func candidateCmd() *cobra.Command {
	c := &cobra.Command{Use: "candidate", Short: "Respond to offers"}
	c.PersistentFlags().String("user", "", "responding developer's user id")
	_ = viper.BindPFlag("user", c.PersistentFlags().Lookup("user"))
	c.AddCommand(candidateRespondCmd("accept", "Accept an offer", true))
	c.AddCommand(candidateRespondCmd("reject", "Decline an offer", false))
	c.AddCommand(candidateOffersCmd())
	return c
}

func candidateRespondCmd(use, short string, accept bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <candidate-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user := viper.GetString("user")
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				respond := a.Engine.RejectCandidate
				if accept {
					respond = a.Engine.AcceptCandidate
				}
				res, err := respond(ctx, args[0], user)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
}

func candidateOffersCmd() *cobra.Command {
	var status string
	var n int
	cmd := &cobra.Command{
		Use:   "offers",
		Short: "List offers addressed to --user",
		RunE: func(cmd *cobra.Command, args []string) error {
			user := viper.GetString("user")
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.CandidatesForDeveloper(ctx, user, status, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				printCandidates(items)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "response status filter")
	cmd.Flags().IntVar(&n, "n", 0, "maximum number of offers (0 for all)")
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire offers past their deadline once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				n, err := a.Engine.ExpirePendingCandidates(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]int{"expired": n})
			})
		},
	}
}

func cursorCmd() *cobra.Command {
	c := &cobra.Command{Use: "cursor", Short: "Inspect rotation cursors"}
	c.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List rotation cursors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListCursors(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("Skill", "Level", "Last developer", "Updated")
				for _, c := range items {
					tw.AppendRow(table.Row{c.SkillID, c.Level, c.LastDeveloperID, c.UpdatedAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	})
	return c
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var projectID, evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Engine.Repo.ListEvents(ctx, repo.EventFilters{ProjectID: projectID, Type: evtType, Limit: n})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable("TS", "Type", "Project", "Entity", "Actor")
				for _, e := range events {
					tw.AppendRow(table.Row{e.TS, e.Type, e.ProjectID, e.EntityKind + ":" + e.EntityID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&projectID, "project", "", "project filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var legacyHeader, noSweeper bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the expiry sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if addr == "" {
					addr = a.Config.Server.Addr
				}
				if basePath == "" {
					basePath = a.Config.Server.BasePath
				}
				authCfg := server.AuthConfig{
					JWTSecret:             viper.GetString("jwt-secret"),
					AllowLegacyUserHeader: legacyHeader,
					Logger:                a.Log.Named("auth"),
				}
				if authCfg.JWTSecret == "" && !authCfg.AllowLegacyUserHeader {
					return fmt.Errorf("DEVMATCH_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{Engine: a.Engine, BasePath: basePath, Auth: authCfg, Logger: a.Log.Named("http")})
				if err != nil {
					return err
				}

				var sw *sweeper.Sweeper
				if a.Config.Sweeper.Enabled && !noSweeper {
					sw, err = sweeper.New(a.Engine, a.Config.Sweeper.Interval, a.Log.Named("sweeper"))
					if err != nil {
						return err
					}
					if err := sw.Start(); err != nil {
						return err
					}
				}

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					a.Log.Info("serving devmatch API", zap.String("addr", addr), zap.String("base_path", basePath))
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if sw != nil {
						if err := sw.Stop(); err != nil {
							a.Log.Warn("stop sweeper", zap.Error(err))
						}
					}
					return srv.Shutdown(shutdownCtx)
				})
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	cmd.Flags().BoolVar(&legacyHeader, "allow-legacy-user-header", false, "trust X-User-Id without a token (development only)")
	cmd.Flags().BoolVar(&noSweeper, "no-sweeper", false, "do not run the expiry sweeper")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, viper.GetString("workspace"), app.Options{ConfigPath: viper.GetString("config")})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func printCandidates(items []domain.AssignmentCandidate) {
	tw := newTable("ID", "Developer", "Skill", "Level", "Status", "Deadline", "Response (s)")
	for _, c := range items {
		level := string(c.Level)
		if c.Promoted() {
			level = fmt.Sprintf("%s (from %s)", c.Level, c.SourceLevel)
		}
		secs := ""
		if c.ResponseSeconds != nil {
			secs = fmt.Sprint(*c.ResponseSeconds)
		}
		status := c.StatusText
		if c.IsFirstAccepted {
			status += " *"
		}
		tw.AppendRow(table.Row{c.ID, c.DeveloperID, c.SkillID, level, status, c.AcceptanceDeadline.Format(time.RFC3339), secs})
	}
	tw.Render()
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

func describeError(err error) string {
	var ee *engine.Error
	if errors.As(err, &ee) {
		return fmt.Sprintf("%s: %s", ee.Kind, ee.Message)
	}
	return err.Error()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
