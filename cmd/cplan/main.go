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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"capplan/internal/app"
	"capplan/internal/config"
	"capplan/internal/db"
	"capplan/internal/domain"
	"capplan/internal/engine"
	"capplan/internal/logger"
	"capplan/internal/metrics"
	"capplan/internal/server"
	"capplan/internal/snapshot"
)

var errFindings = errors.New("snapshot has blocking findings")

var rootCmd = &cobra.Command{
	Use:   "cplan",
	Short: "Calendar-aware capacity planner",
	Long: `cplan schedules tasks onto working days and reports team capacity.
- Workspace: a .cplan directory holding the database with the imported snapshot and config.
- Snapshot: team, leave, public holidays, workstreams and tasks, imported from YAML or JSON.
- Plan: every task expanded onto working days, skipping weekends, holidays and leave.
- Capacity: allocated versus available days per person per week or month.
- Findings: validation warnings and errors; nothing aborts a run.
- Event log: imports and key changes, view with 'cplan log tail'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errFindings) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CPLAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier")
	flags.String("file", "", "plan from a snapshot file instead of the workspace")
	flags.String("from", "", "report window start (YYYY-MM-DD)")
	flags.String("to", "", "report window end (YYYY-MM-DD)")
	flags.String("granularity", "", "capacity buckets: week or month")
	for _, name := range []string{"workspace", "json", "actor-id", "file", "from", "to", "granularity"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(capacityCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(summaryCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialise a workspace",
		Long:  "Create the workspace database and seed the planner config from planner.yml or defaults.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if name == "" {
					name = e.Config.Workspace.Name
				}
				info, err := e.InitWorkspace(ctx, name, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(info)
				}
				fmt.Printf("Workspace %q ready at %s\n", info.Name, db.Path(viper.GetString("workspace")))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "workspace name (defaults to the config name)")
	return cmd
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Manage planner config"}
	cfgCmd.AddCommand(configShowCmd())
	cfgCmd.AddCommand(configImportCmd())
	cfgCmd.AddCommand(configValidateCmd())
	cfgCmd.AddCommand(configDefaultCmd())
	return cfgCmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if viper.GetBool("json") {
					return printJSON(e.Config)
				}
				out, err := e.Config.YAML()
				if err != nil {
					return err
				}
				fmt.Print(string(out))
				return nil
			})
		},
	}
}

func configImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Validate and store the config at --file in the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			file := viper.GetString("file")
			if file == "" {
				return fmt.Errorf("--file required")
			}
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.ImportConfig(ctx, cfg, viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Printf("Imported config from %s\n", file)
				return nil
			})
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate --file (default planner.yml) without storing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			file := viper.GetString("file")
			if file == "" {
				file = config.Path(viper.GetString("workspace"))
			}
			if _, err := config.FromFile(file); err != nil {
				return err
			}
			fmt.Printf("%s is valid\n", file)
			return nil
		},
	}
}

func configDefaultCmd() *cobra.Command {
	var name string
	var write bool
	cmd := &cobra.Command{
		Use:   "default",
		Short: "Print or write the default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := config.GenerateDefault(name)
			if !write {
				fmt.Print(body)
				return nil
			}
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "workspace", "workspace name")
	cmd.Flags().BoolVar(&write, "write", false, "write planner.yml into the workspace")
	return cmd
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Replace the workspace snapshot with --file",
		RunE: func(cmd *cobra.Command, args []string) error {
			file := viper.GetString("file")
			if file == "" {
				return fmt.Errorf("--file required")
			}
			doc, err := snapshot.Load(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ImportSnapshot(ctx, doc, viper.GetString("actor-id"))
				if err != nil {
					if len(res.Findings) > 0 && !viper.GetBool("json") {
						renderFindings(res.Findings)
					}
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Imported snapshot %s: %d people, %d workstreams, %d tasks\n",
					res.SnapshotID, res.Counts["people"], res.Counts["workstreams"], res.Counts["tasks"])
				if len(res.Findings) > 0 {
					renderFindings(res.Findings)
				}
				return nil
			})
		},
	}
}

func exportCmd() *cobra.Command {
	var out, format string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the workspace snapshot as YAML or JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				doc, err := e.ExportSnapshot(ctx)
				if err != nil {
					return err
				}
				f := snapshot.Format(format)
				if f == "" {
					f = snapshot.FormatFor(out)
				}
				if out == "" {
					return doc.Encode(os.Stdout, f)
				}
				fh, err := os.Create(out)
				if err != nil {
					return err
				}
				if err := doc.Encode(fh, f); err != nil {
					fh.Close()
					return err
				}
				return fh.Close()
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output path (stdout when empty)")
	cmd.Flags().StringVar(&format, "format", "", "yaml or json (defaults from the output extension)")
	return cmd
}

func planCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show the scheduled tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withResult(cmd.Context(), func(res engine.Result) error {
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"snapshot_id": res.SnapshotID,
						"tasks":       res.Tasks,
						"excluded":    res.Excluded,
					})
				}
				renderTasks(res.Tasks)
				if len(res.Excluded) > 0 {
					fmt.Printf("\n%d task(s) excluded; run cplan validate for details\n", len(res.Excluded))
				}
				return nil
			})
		},
	}
}

func capacityCmd() *cobra.Command {
	var person string
	cmd := &cobra.Command{
		Use:   "capacity",
		Short: "Show allocated versus available days per person",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withResult(cmd.Context(), func(res engine.Result) error {
				buckets := res.Buckets
				if person != "" {
					buckets = nil
					for _, b := range res.Buckets {
						if strings.EqualFold(b.Person, person) {
							buckets = append(buckets, b)
						}
					}
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"granularity": res.Granularity,
						"buckets":     nonNil(buckets),
						"concurrency": res.Concurrency,
					})
				}
				renderBuckets(buckets)
				if len(res.Concurrency) > 0 {
					fmt.Println()
					renderConcurrency(res.Concurrency)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&person, "person", "", "only this person")
	return cmd
}

func validateCmd() *cobra.Command {
	var severity string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "List findings; exits 1 when any error or invariant finding exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter domain.Severity
			if severity != "" {
				s, ok := domain.ParseSeverity(severity)
				if !ok {
					return fmt.Errorf("--severity must be error, warning or invariant")
				}
				filter = s
			}
			return withResult(cmd.Context(), func(res engine.Result) error {
				findings := res.Findings
				if filter != "" {
					findings = nil
					for _, f := range res.Findings {
						if f.Severity == filter {
							findings = append(findings, f)
						}
					}
				}
				if viper.GetBool("json") {
					if err := printJSON(map[string]any{
						"findings": nonNil(findings),
						"counts":   domain.CountBySeverity(res.Findings),
					}); err != nil {
						return err
					}
				} else if len(findings) == 0 {
					fmt.Println("No findings")
				} else {
					renderFindings(findings)
				}
				if res.HasErrors() {
					return errFindings
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&severity, "severity", "", "only this severity")
	return cmd
}

func summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show the portfolio summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withResult(cmd.Context(), func(res engine.Result) error {
				if viper.GetBool("json") {
					return printJSON(res.Summary)
				}
				renderSummary(res)
				return nil
			})
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show workspace status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				info, err := e.Workspace(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(info)
				}
				fmt.Printf("Workspace: %s (created %s)\n", info.Name, info.CreatedAt)
				if info.SnapshotID == "" {
					fmt.Println("Snapshot: none imported")
				} else {
					fmt.Printf("Snapshot: %s (imported %s)\n", info.SnapshotID, info.ImportedAt)
				}
				for _, table := range []string{"people", "leave", "public_holidays", "workstreams", "tasks"} {
					fmt.Printf("  %s: %d\n", table, info.Counts[table])
				}
				return nil
			})
		},
	}
}

func apiKeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	keys.AddCommand(apiKeyCreateCmd())
	keys.AddCommand(apiKeyListCmd())
	keys.AddCommand(apiKeyDeleteCmd())
	return keys
}

func apiKeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for --actor-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, plain, err := e.CreateAPIKey(ctx, viper.GetString("actor-id"), name)
				if err != nil {
					return err
				}
				out := map[string]any{"id": key.ID, "actor_id": key.ActorID, "name": key.Name, "key": plain}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Created key %s for %s\n", key.ID, key.ActorID)
				fmt.Printf("Key (shown once): %s\n", plain)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor := viper.GetString("actor-id")
				if all {
					actor = ""
				}
				keys, err := e.Repo.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "list keys of every actor")
	return cmd
}

func apiKeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.RevokeAPIKey(ctx, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Printf("Revoked key %s\n", args[0])
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	logs := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	logs.AddCommand(logTailCmd())
	return logs
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, evtType)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin, actorHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.New("server")
			rec, err := metrics.NewPromRecorder(prometheus.DefaultRegisterer)
			if err != nil {
				return err
			}
			ws, err := app.Open(cmd.Context(), app.Options{
				Workspace: viper.GetString("workspace"),
				Logger:    log,
				Metrics:   rec,
			})
			if err != nil {
				return err
			}
			defer ws.Close()
			authCfg := server.AuthConfig{
				JWTSecret:              viper.GetString("jwt-secret"),
				AllowDevLogin:          devLogin,
				AllowLegacyActorHeader: actorHeader,
				Logger:                 log,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("CPLAN_JWT_SECRET is required for bearer auth")
			}
			if basePath == "" {
				basePath = ws.Engine.Config.Server.BasePath
			}
			handler, err := server.New(server.Config{
				Engine:   ws.Engine,
				BasePath: basePath,
				Auth:     authCfg,
				Gatherer: prometheus.DefaultGatherer,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			log.Infof("serving planner API on http://%s%s (OpenAPI at %s/openapi.json, metrics at /metrics)", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to server.base_path in the config)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable POST /auth/dev/login")
	cmd.Flags().BoolVar(&actorHeader, "allow-actor-header", false, "accept X-Actor-Id without credentials")
	return cmd
}

// --- helpers ---

// withEngine opens the workspace, creating .cplan on first use.
func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withEngineAt(ctx, viper.GetString("workspace"), fn)
}

func withEngineAt(ctx context.Context, workspace string, fn func(context.Context, engine.Engine) error) error {
	ws, err := app.Open(ctx, app.Options{
		Workspace: workspace,
		Logger:    logger.New("cli"),
	})
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws.Engine)
}

// withResult runs the planner over --file when given, else over the
// workspace snapshot.
func withResult(ctx context.Context, fn func(engine.Result) error) error {
	opts, err := runOptions()
	if err != nil {
		return err
	}
	if file := viper.GetString("file"); file != "" {
		res, err := runFile(ctx, viper.GetString("workspace"), file, opts)
		if err != nil {
			return err
		}
		return fn(res)
	}
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		res, err := e.RunWorkspace(ctx, opts)
		if err != nil {
			return err
		}
		return fn(res)
	})
}

// runFile plans a snapshot file. An existing workspace lends its stored
// config; otherwise the workspace directory is left untouched.
func runFile(ctx context.Context, workspace, file string, opts engine.RunOptions) (engine.Result, error) {
	doc, err := snapshot.Load(file)
	if err != nil {
		return engine.Result{}, err
	}
	if !db.Exists(workspace) {
		e, err := app.Detached(app.Options{Workspace: workspace, Logger: logger.New("cli")})
		if err != nil {
			return engine.Result{}, err
		}
		return e.RunDocument(doc, opts), nil
	}
	var res engine.Result
	err = withEngineAt(ctx, workspace, func(_ context.Context, e engine.Engine) error {
		res = e.RunDocument(doc, opts)
		return nil
	})
	return res, err
}

func runOptions() (engine.RunOptions, error) {
	var opts engine.RunOptions
	if g := viper.GetString("granularity"); g != "" {
		parsed, ok := domain.ParseGranularity(g)
		if !ok {
			return opts, fmt.Errorf("--granularity must be week or month")
		}
		opts.Granularity = parsed
	}
	for _, bound := range []struct {
		flag string
		dst  **time.Time
	}{{"from", &opts.From}, {"to", &opts.To}} {
		raw := viper.GetString(bound.flag)
		if raw == "" {
			continue
		}
		d, err := snapshot.ParseDate(raw)
		if err != nil {
			return opts, fmt.Errorf("--%s: %w", bound.flag, err)
		}
		*bound.dst = &d
	}
	if opts.From != nil && opts.To != nil && opts.To.Before(*opts.From) {
		return opts, fmt.Errorf("--to is before --from")
	}
	return opts, nil
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

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
