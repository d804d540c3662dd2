package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stepline/internal/app"
	"stepline/internal/config"
	"stepline/internal/db"
	"stepline/internal/domain"
	"stepline/internal/engine"
	"stepline/internal/server"
	"stepline/internal/stepper"
	"stepline/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "stepline",
	Short: "Stepline CLI",
	Long: `Stepline stores nested documents and drives projects, modules and tasks through ordered steps.
- Documents: typed records (projects, modules, tasks, users, ...) normalized on write and hydrated on read.
- Steps: a project runs its modules step by step; a module runs its tasks step by step.
- Workflow: start, advance, complete, restart, archive and reschedule projects or modules.
- Workspace: a directory holding stepline.yml and the .stepline database.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("STEPLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "users/local", "actor identifier")
	flags.Bool("dev", false, "drop unknown fields instead of rejecting them")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	for _, name := range []string{"workspace", "json", "actor-id", "dev", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(docCmd())
	rootCmd.AddCommand(workflowCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create stepline.yml and the workspace database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if viper.GetBool("json") {
					return printJSON(map[string]any{"config": path, "database": db.Path(workspace)})
				}
				fmt.Printf("Initialized %s and %s\n", path, db.Path(workspace))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing stepline.yml")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Inspect workspace config"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate stepline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})
	return cfg
}

func docCmd() *cobra.Command {
	doc := &cobra.Command{
		Use:   "doc",
		Short: "Create, update and read documents",
		Long:  "Documents are addressed by type (projects, modules, tasks, users, ranks, comments, moduleTemplates) and key.",
	}
	doc.AddCommand(docCreateCmd())
	doc.AddCommand(docUpdateCmd())
	doc.AddCommand(docGetCmd())
	doc.AddCommand(docListCmd())
	return doc
}

func docCreateCmd() *cobra.Command {
	var data, file string
	cmd := &cobra.Command{
		Use:   "create <type>",
		Short: "Create a document and every nested document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readDocument(data, file)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				created, err := a.Documents.Create(ctx, actor(), nil, args[0], body)
				if err != nil {
					return err
				}
				out, err := a.Documents.Get(ctx, actor(), args[0], store.IDOf(created))
				if err != nil {
					return err
				}
				return printDocument(out)
			})
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "document JSON")
	cmd.Flags().StringVarP(&file, "file", "f", "", "document JSON file (- for stdin)")
	return cmd
}

func docUpdateCmd() *cobra.Command {
	var data, file string
	cmd := &cobra.Command{
		Use:   "update <type> <key>",
		Short: "Update fields of a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := readDocument(data, file)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if _, err := a.Documents.Update(ctx, actor(), nil, args[0], args[1], patch); err != nil {
					return err
				}
				out, err := a.Documents.Get(ctx, actor(), args[0], args[1])
				if err != nil {
					return err
				}
				return printDocument(out)
			})
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "patch JSON")
	cmd.Flags().StringVarP(&file, "file", "f", "", "patch JSON file (- for stdin)")
	return cmd
}

func docGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <type> <key>",
		Short: "Show a hydrated document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				out, err := a.Documents.Get(ctx, actor(), args[0], args[1])
				if err != nil {
					return err
				}
				return printDocument(out)
			})
		},
	}
}

func docListCmd() *cobra.Command {
	var columns []string
	cmd := &cobra.Command{
		Use:   "list <type>",
		Short: "List documents of a type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Documents.List(ctx, actor(), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				header := table.Row{"ID"}
				for _, c := range columns {
					header = append(header, c)
				}
				tw.AppendHeader(header)
				for _, item := range items {
					row := table.Row{store.IDOf(item)}
					for _, c := range columns {
						row = append(row, cell(item[c]))
					}
					tw.AppendRow(row)
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&columns, "columns", []string{"title", "status"}, "fields shown as table columns")
	return cmd
}

func workflowCmd() *cobra.Command {
	wf := &cobra.Command{
		Use:   "workflow",
		Short: "Drive projects, modules and tasks through their steps",
		Long:  "Workflow commands take a document id such as projects/launch or modules/intake.",
	}
	actions := []struct {
		use   string
		short string
		fn    func(e engine.Engine) func(context.Context, domain.Actor, string) (domain.WorkflowState, error)
	}{
		{"start", "Start an AWAITING entity", func(e engine.Engine) func(context.Context, domain.Actor, string) (domain.WorkflowState, error) {
			return e.Start
		}},
		{"advance", "Advance past finished steps", func(e engine.Engine) func(context.Context, domain.Actor, string) (domain.WorkflowState, error) {
			return e.AutomaticAdvance
		}},
		{"restart", "Reset descendants and start again", func(e engine.Engine) func(context.Context, domain.Actor, string) (domain.WorkflowState, error) {
			return e.Restart
		}},
		{"archive", "Archive an entity", func(e engine.Engine) func(context.Context, domain.Actor, string) (domain.WorkflowState, error) {
			return e.Archive
		}},
		{"reschedule", "Recompute time to complete and suspense dates", func(e engine.Engine) func(context.Context, domain.Actor, string) (domain.WorkflowState, error) {
			return e.Reschedule
		}},
	}
	for _, act := range actions {
		act := act
		wf.AddCommand(&cobra.Command{
			Use:   act.use + " <id>",
			Short: act.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
					state, err := act.fn(a.Engine)(ctx, actor(), args[0])
					if err != nil {
						return err
					}
					return printStates(state)
				})
			},
		})
	}
	wf.AddCommand(workflowCompleteCmd())
	wf.AddCommand(workflowShowCmd())
	return wf
}

func workflowCompleteCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete an entity whose descendants are done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				state, err := a.Engine.Complete(ctx, actor(), args[0], engine.CompleteOptions{Force: force})
				if err != nil {
					return err
				}
				return printStates(state)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "complete every module and task below the entity")
	return cmd
}

func workflowShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an entity and its children step by step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				root, err := a.Engine.State(ctx, args[0])
				if err != nil {
					return err
				}
				doc, err := a.Store.Get(ctx, args[0])
				if err != nil {
					return err
				}
				states := []domain.WorkflowState{root}
				stepOf := []int{-1}
				field := domain.FieldModules
				if root.Kind == domain.CollectionModules {
					field = domain.FieldTasks
				}
				if root.Kind != domain.CollectionTasks {
					steps, err := stepper.Strings(doc[field])
					if err != nil {
						return err
					}
					err = stepper.ForEachInOrder(ctx, steps, func(ctx context.Context, i int, ids []string) error {
						for _, id := range ids {
							child, err := a.Engine.State(ctx, id)
							if err != nil {
								return err
							}
							states = append(states, child)
							stepOf = append(stepOf, i)
						}
						return nil
					})
					if err != nil {
						return err
					}
				}
				if viper.GetBool("json") {
					return printJSON(states)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Step", "Kind", "ID", "Title", "Status", "Current", "TTC", "Suspense", "%"})
				for i, s := range states {
					step := ""
					if stepOf[i] >= 0 {
						step = fmt.Sprint(stepOf[i])
					}
					tw.AppendRow(table.Row{step, s.Kind, s.ID, s.Title, s.Status, s.CurrentStep, s.TTC, s.Suspense, s.PercentComplete})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Close tasks"}
	var status string
	complete := &cobra.Command{
		Use:   "complete <key>",
		Short: "Mark a task COMPLETED or WAIVED and advance its module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if !strings.Contains(id, "/") {
				id = domain.CollectionTasks + "/" + id
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				state, err := a.Engine.CompleteTask(ctx, actor(), id, domain.Status(strings.ToUpper(status)))
				if err != nil {
					return err
				}
				return printStates(state)
			})
		},
	}
	complete.Flags().StringVar(&status, "status", string(domain.StatusCompleted), "COMPLETED or WAIVED")
	task.AddCommand(complete)
	return task
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				sc := a.Config.Server
				if cmd.Flags().Changed("addr") {
					sc.Addr = addr
				}
				if cmd.Flags().Changed("base-path") {
					sc.BasePath = basePath
				}
				if secret := os.Getenv("STEPLINE_JWT_SECRET"); secret != "" {
					sc.JWTSecret = secret
				}
				handler, err := server.New(server.Config{
					Documents: a.Documents,
					Workflows: a.Engine,
					BasePath:  sc.BasePath,
					Auth:      server.AuthConfig{JWTSecret: sc.JWTSecret, AllowActorHeader: sc.AllowActorHeader},
					Log:       a.Log.With("component", "server"),
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: sc.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				a.Log.Info("serving stepline API", "addr", sc.Addr, "base_path", sc.BasePath, "openapi", sc.BasePath+"/openapi.json", "docs", "/docs")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (overrides server.base_path)")
	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if viper.GetBool("dev") {
		cfg.Dev = true
	}
	if level := viper.GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		Config:    cfg,
		Log:       app.NewLogger(cfg, os.Stderr),
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func actor() domain.Actor {
	return domain.Actor{ID: viper.GetString("actor-id")}
}

func readDocument(data, file string) (store.Document, error) {
	var raw []byte
	switch {
	case data != "" && file != "":
		return nil, errors.New("use either --data or --file")
	case data != "":
		raw = []byte(data)
	case file == "-":
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, err
		}
		raw = b
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		raw = b
	default:
		return nil, errors.New("--data or --file required")
	}
	doc := store.Document{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

func printDocument(doc store.Document) error {
	if viper.GetBool("json") {
		return printJSON(doc)
	}
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Field", "Value"})
	for _, k := range keys {
		tw.AppendRow(table.Row{k, cell(doc[k])})
	}
	tw.Render()
	return nil
}

func printStates(states ...domain.WorkflowState) error {
	if viper.GetBool("json") {
		if len(states) == 1 {
			return printJSON(states[0])
		}
		return printJSON(states)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Kind", "ID", "Status", "Current", "TTC", "Suspense", "%"})
	for _, s := range states {
		tw.AppendRow(table.Row{s.Kind, s.ID, s.Status, s.CurrentStep, s.TTC, s.Suspense, s.PercentComplete})
	}
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func cell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]any, []any:
		b, _ := json.Marshal(t)
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}
