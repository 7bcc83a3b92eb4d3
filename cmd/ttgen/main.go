package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/app"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/catalog"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/config"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/domain"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/engine"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/logging"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/orchestrator"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/progress"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/readiness"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/repo"
	timetablesdk "github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "ttgen",
	Short: "Timetable generation CLI",
	Long: `ttgen drives academic timetable generation against a generation service.
- Readiness: six validation domains (teachers, classrooms, programs, courses, policies, calendar) must be complete before anything is submitted.
- Settings: pick an algorithm and goals; parameters the algorithm does not use are never sent.
- Generate: submit, then follow the job through its seven phases until it completes or fails.
- Service: 'ttgen serve' runs a local development service that simulates generation jobs.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TTGEN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("server", "", "generation service URL (overrides config)")
	flags.String("token", "", "bearer token for the generation service")
	flags.String("api-key", "", "API key for the generation service")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("actor-id", "local-user", "actor recorded on local service changes")
	for _, name := range []string{"workspace", "json", "server", "token", "api-key", "log-level", "actor-id"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(readinessCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(jobsCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(serviceCmd())
	rootCmd.AddCommand(logCmd())
}

func initCmd() *cobra.Command {
	var name string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default timetable.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(name)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "Timetable", "timetable name")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Inspect timetable.yml"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective config (file, flags and environment)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(c)
			}
			out, err := c.Marshal()
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate timetable.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := config.Load(workspace); err != nil {
				return err
			}
			fmt.Printf("%s is valid\n", config.Path(workspace))
			return nil
		},
	})
	return cfg
}

func readinessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "readiness",
		Short: "Show validation readiness per domain",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, cfg *config.Config, c *timetablesdk.Client, log *logging.Logger) error {
				snap, err := readiness.NewReader(c).Read(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(snap)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Domain", "Status", "Count", "Blocking issues"})
				for _, d := range domain.ValidationDomains {
					st := snap.Domains[d]
					tw.AppendRow(table.Row{d, st.Status, st.Count, st.Issues.BlockingCount()})
				}
				tw.Render()
				fmt.Println(renderReadiness(snap))
				return nil
			})
		},
	}
}

func catalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List algorithms and optimization goals offered by the service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, cfg *config.Config, c *timetablesdk.Client, log *logging.Logger) error {
				cat, err := catalog.Load(ctx, c)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"algorithms": cat.Algorithms(), "optimization_goals": cat.Goals()})
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Algorithm", "Name", "Parameters"})
				for _, a := range cat.Algorithms() {
					tw.AppendRow(table.Row{a.ID, a.Name, strings.Join(a.Parameters, ", ")})
				}
				tw.Render()
				gw := newTable()
				gw.AppendHeader(table.Row{"Goal", "Name", "Description"})
				for _, g := range cat.Goals() {
					gw.AppendRow(table.Row{g.ID, g.Name, g.Description})
				}
				gw.Render()
				return nil
			})
		},
	}
}

func generateCmd() *cobra.Command {
	var (
		algorithm      string
		maxIterations  int
		populationSize int
		crossoverRate  float64
		mutationRate   float64
		toggleGoals    []string
		name           string
		noWait         bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Submit a generation request and follow it to completion",
		Long:  "Reads readiness, applies flag overrides to the configured default settings, submits the request and polls the job. Nothing is sent while any validation domain is incomplete.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, cfg *config.Config, c *timetablesdk.Client, log *logging.Logger) error {
				s, _, err := app.LoadSettings(ctx, c, cfg)
				if err != nil {
					return err
				}
				flags := cmd.Flags()
				// Algorithm first: applicability of the other parameters depends on it.
				if flags.Changed("algorithm") {
					if err := s.SetAlgorithm(algorithm); err != nil {
						return err
					}
				}
				if flags.Changed("max-iterations") {
					if err := s.SetMaxIterations(maxIterations); err != nil {
						return err
					}
				}
				if flags.Changed("population-size") {
					if err := s.SetPopulationSize(populationSize); err != nil {
						return err
					}
				}
				if flags.Changed("crossover-rate") {
					if err := s.SetCrossoverRate(crossoverRate); err != nil {
						return err
					}
				}
				if flags.Changed("mutation-rate") {
					if err := s.SetMutationRate(mutationRate); err != nil {
						return err
					}
				}
				for _, g := range toggleGoals {
					if err := s.ToggleGoal(g); err != nil {
						return err
					}
				}
				if flags.Changed("name") {
					cfg.Generation.Request.Name = name
				}
				req, err := app.Request(s, cfg)
				if err != nil {
					return err
				}
				asJSON := viper.GetBool("json")
				printer := newProgressPrinter(os.Stdout)
				view, err := app.Generate(ctx, c, c, req, cfg, log.Logger, app.GenerateOptions{
					Wait: !noWait,
					OnUpdate: func(v orchestrator.View) {
						if !asJSON {
							printer.Update(v)
						}
					},
				})
				if asJSON {
					if perr := printJSON(view); perr != nil {
						return perr
					}
					return err
				}
				var notReady *orchestrator.NotReadyError
				if errors.As(err, &notReady) {
					fmt.Println(renderBlocked(notReady))
					return err
				}
				if noWait && err == nil {
					fmt.Printf("Submitted job %s\n", view.JobID)
					return nil
				}
				fmt.Println(renderView(view))
				return err
			})
		},
	}
	cmd.Flags().StringVar(&algorithm, "algorithm", "", "algorithm id")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "maximum iterations")
	cmd.Flags().IntVar(&populationSize, "population-size", 0, "population size (population-based algorithms)")
	cmd.Flags().Float64Var(&crossoverRate, "crossover-rate", 0, "crossover rate in [0,1]")
	cmd.Flags().Float64Var(&mutationRate, "mutation-rate", 0, "mutation rate in [0,1]")
	cmd.Flags().StringArrayVar(&toggleGoals, "toggle-goal", []string{}, "toggle an optimization goal (repeatable)")
	cmd.Flags().StringVar(&name, "name", "", "timetable name")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "return once the job is accepted")
	return cmd
}

func jobCmd() *cobra.Command {
	job := &cobra.Command{Use: "job", Short: "Inspect a generation job"}
	job.AddCommand(&cobra.Command{
		Use:   "status <id>",
		Short: "Show job status and phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, cfg *config.Config, c *timetablesdk.Client, log *logging.Logger) error {
				j, err := c.FetchJobStatus(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(j)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Algorithm", "Status", "Progress", "Created"})
				tw.AppendRow(table.Row{j.ID, j.Name, j.Algorithm, j.Status, progressText(j), j.CreatedAt})
				tw.Render()
				proj := progress.Complete(len(progress.Phases))
				if !j.Status.Terminal() && j.Progress != nil {
					proj = progress.Project(*j.Progress, len(progress.Phases))
				}
				if j.Status == domain.JobStatusCompleted || !j.Status.Terminal() {
					fmt.Println(renderPhases(proj))
				} else if j.Message != "" {
					fmt.Println(j.Message)
				}
				return nil
			})
		},
	})
	return job
}

func jobsCmd() *cobra.Command {
	jobs := &cobra.Command{Use: "jobs", Short: "List generation jobs"}
	var status string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, cfg *config.Config, c *timetablesdk.Client, log *logging.Logger) error {
				items, err := c.ListJobs(ctx, domain.JobStatus(status), limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Algorithm", "Status", "Progress", "Created by", "Created"})
				for _, j := range items {
					tw.AppendRow(table.Row{j.ID, j.Name, j.Algorithm, j.Status, progressText(j), j.CreatedBy, j.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "status filter")
	list.Flags().IntVar(&limit, "limit", 20, "maximum jobs")
	jobs.AddCommand(list)
	return jobs
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var ready bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local development generation service",
		Long:  "Serves the generation API backed by the workspace database. Jobs advance through the seven phases on a simulated clock. OpenAPI at <base-path>/openapi.json, Swagger UI at /docs.",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("base-path") {
				cfg.Server.BasePath = basePath
			}
			log, err := app.NewLogger(workspace, cfg)
			if err != nil {
				return err
			}
			defer log.Close()
			ctx := cmd.Context()
			e, closeDB, err := app.OpenEngine(ctx, workspace, cfg, log.Logger)
			if err != nil {
				return err
			}
			defer closeDB()
			if ready {
				if err := app.Seed(ctx, e, true); err != nil {
					return err
				}
			}
			secret, generated, err := app.ServiceSecret(cfg)
			if err != nil {
				return err
			}
			if generated {
				fmt.Println("No server.jwt_secret configured; using a random secret for this run.")
			}
			handler, err := app.NewService(e, cfg, secret, log.Logger)
			if err != nil {
				return err
			}
			fmt.Printf("Serving timetable generation API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n",
				cfg.Server.Addr, cfg.Server.BasePath, cfg.Server.BasePath)
			return app.Serve(ctx, e, cfg, handler, log.Logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&ready, "ready", false, "mark unrecorded validation domains completed on start")
	return cmd
}

func serviceCmd() *cobra.Command {
	svc := &cobra.Command{
		Use:   "service",
		Short: "Administer the local development service data",
	}
	svc.AddCommand(serviceDomainCmd())
	svc.AddCommand(serviceAPIKeyCmd())
	return svc
}

func serviceDomainCmd() *cobra.Command {
	dom := &cobra.Command{Use: "domain", Short: "Manage validation domains"}
	var status string
	var count, issues int
	set := &cobra.Command{
		Use:   "set <domain>",
		Short: "Record the validation state of a domain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				state := domain.DomainState{
					Status: domain.DomainStatus(status),
					Count:  count,
					Issues: domain.Issues{Count: issues},
				}
				snap, err := e.SetDomain(ctx, domain.ValidationDomain(args[0]), state, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(snap)
				}
				fmt.Println(renderReadiness(snap))
				return nil
			})
		},
	}
	set.Flags().StringVar(&status, "status", string(domain.DomainStatusCompleted), "status: unknown, pending, completed")
	set.Flags().IntVar(&count, "count", 0, "number of records in the domain")
	set.Flags().IntVar(&issues, "issues", 0, "number of blocking issues")
	dom.AddCommand(set)
	return dom
}

func serviceAPIKeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "Manage service API keys"}
	var actor, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (the secret is shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(actor) == "" {
				actor = viper.GetString("actor-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, secret, err := e.CreateAPIKey(ctx, actor, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor_id": key.ActorID, "name": key.Name, "key": secret})
				}
				fmt.Printf("API key %s for %s\n%s\n", key.ID, key.ActorID, secret)
				return nil
			})
		},
	}
	create.Flags().StringVar(&actor, "actor", "", "actor the key authenticates as (defaults to --actor-id)")
	create.Flags().StringVar(&name, "name", "", "key label")
	keys.AddCommand(create)
	return keys
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Inspect the local service event log"}
	var n int
	var f repo.EventFilters
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Limit = n
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Actor", "Payload"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + "/" + evt.EntityID, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&f.Type, "type", "", "event type filter")
	tail.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	lg.AddCommand(tail)
	return lg
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	return app.LoadConfig(viper.GetString("workspace"), app.Overrides{
		ServerURL: viper.GetString("server"),
		Token:     viper.GetString("token"),
		APIKey:    viper.GetString("api-key"),
		LogLevel:  viper.GetString("log-level"),
	})
}

func withClient(ctx context.Context, fn func(context.Context, *config.Config, *timetablesdk.Client, *logging.Logger) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := app.NewLogger(viper.GetString("workspace"), cfg)
	if err != nil {
		return err
	}
	defer log.Close()
	return fn(ctx, cfg, app.NewClient(cfg), log)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	e, closeDB, err := app.OpenEngine(ctx, viper.GetString("workspace"), cfg, nil)
	if err != nil {
		return err
	}
	defer closeDB()
	return fn(ctx, e)
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func progressText(j domain.GenerationJob) string {
	if j.Progress == nil {
		return ""
	}
	return fmt.Sprintf("%.0f", *j.Progress)
}
