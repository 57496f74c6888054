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

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"checkline/internal/app"
	"checkline/internal/config"
	"checkline/internal/db"
	"checkline/internal/domain"
	"checkline/internal/engine"
	"checkline/internal/repo"
	"checkline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cl",
	Short: "Checkline CLI",
	Long: `Checkline runs the compliance checklist for a food-service shift.
Core concepts:
- Workspace: your .checkline directory holding the database and report files.
- Catalog: the templates for every check (fridge temps, hot holding, closedown),
  each with a section, a frequency, and an optional numeric limit.
- Shift: open one at the start of service; it seeds the due checks. Only one
  shift is open at a time.
- Checks: complete them with a reading or a photo; readings are judged against
  the template limit on the spot.
- Escalation: two failed readings in a row halve the check interval until
  three clean passes restore it.
- Reports: closing a shift writes the shift log; 'cl report inspector' builds
  the pack an inspector would ask for.`,
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
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CHECKLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(shiftCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter checkline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config tunes the venue name, the escalation thresholds, and where the catalog comes from. Missing file means defaults.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return printJSONOrTable(a.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func catalogCmd() *cobra.Command {
	cat := &cobra.Command{
		Use:   "catalog",
		Short: "Browse check templates",
	}
	cat.AddCommand(catalogListCmd())
	cat.AddCommand(catalogShowCmd())
	return cat
}

func catalogListCmd() *cobra.Command {
	var section string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List check templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				templates := a.Catalog.All()
				if section != "" {
					templates = a.Catalog.BySection(section)
				}
				if viper.GetBool("json") {
					return printJSON(templates)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Section", "Check", "Frequency", "Limit"})
				for _, tpl := range templates {
					tw.AppendRow(table.Row{tpl.ID, tpl.Section, tpl.Title, tpl.Freq, tpl.LimitText})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&section, "section", "", "section filter (opening, service, closing)")
	return cmd
}

func catalogShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a check template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tpl, ok := a.Catalog.Lookup(args[0])
				if !ok {
					return fmt.Errorf("template %s: %w", args[0], repo.ErrNotFound)
				}
				return printJSONOrTable(tpl)
			})
		},
	}
	return cmd
}

func shiftCmd() *cobra.Command {
	shift := &cobra.Command{
		Use:   "shift",
		Short: "Manage shifts",
		Long:  "A shift bounds the checklist: 'cl shift start' opens it and seeds the due checks, 'cl shift close' seals it and writes the shift log.",
	}
	shift.AddCommand(shiftStartCmd())
	shift.AddCommand(shiftStatusCmd())
	shift.AddCommand(shiftCloseCmd())
	shift.AddCommand(shiftListCmd())
	shift.AddCommand(shiftEscalationsCmd())
	return shift
}

func shiftStartCmd() *cobra.Command {
	var manager string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Open a shift and seed its checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Engine.StartShift(ctx, manager, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("Shift %s opened at %s (manager %s)\n", s.ID, s.OpenedAt, s.Manager)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&manager, "manager", "", "duty manager name (config default when empty)")
	return cmd
}

func shiftStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the open shift and its checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, instances, err := a.Engine.CurrentShift(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"shift": s, "instances": instances})
				}
				fmt.Printf("Shift %s (manager %s), opened %s\n", s.ID, s.Manager, s.OpenedAt)
				renderInstances(a, instances)
				return nil
			})
		},
	}
	return cmd
}

func shiftCloseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close",
		Short: "Close the shift and write its log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rep, err := a.Engine.CloseShift(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rep)
				}
				fmt.Printf("Shift closed. Log written to %s\n", rep.DocumentRef)
				return nil
			})
		},
	}
	return cmd
}

func shiftListCmd() *cobra.Command {
	var since string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List past shifts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var shifts []domain.Shift
				var err error
				if since != "" {
					shifts, err = a.Engine.Repo.ListShiftsSince(ctx, since)
				} else {
					shifts, err = a.Engine.Repo.ListShifts(ctx)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(shifts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Date", "Manager", "Opened", "Closed"})
				for _, s := range shifts {
					closed := "open"
					if s.ClosedAt != nil {
						closed = *s.ClosedAt
					}
					tw.AppendRow(table.Row{s.ID, s.Date, s.Manager, s.OpenedAt, closed})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "only shifts on or after this date (YYYY-MM-DD)")
	return cmd
}

func shiftEscalationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "escalations",
		Short: "Show escalated checks on the open shift",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Engine.Repo.CurrentShift(ctx)
				if errors.Is(err, repo.ErrNotFound) {
					return engine.ErrNoCurrentShift
				}
				if err != nil {
					return err
				}
				states, err := a.Engine.Repo.ListEscalations(ctx, s.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(states)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Template", "Override (min)", "Fail Streak", "Pass Streak"})
				for _, es := range states {
					tw.AppendRow(table.Row{es.TemplateID, es.OverrideMinutes, es.FailStreak, es.PassStreak})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Work the checklist",
		Long:  "Checks on the open shift. Complete one with a reading ('cl task complete <id> --value 4') or a photo; on-demand checks are added with 'cl task next <template-id>'.",
	}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskCompleteCmd())
	task.AddCommand(taskNextCmd())
	return task
}

func taskListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List checks on the open shift",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				_, instances, err := a.Engine.CurrentShift(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(instances)
				}
				renderInstances(a, instances)
				return nil
			})
		},
	}
	return cmd
}

func taskCompleteCmd() *cobra.Command {
	var value float64
	var photoRef, notes, corrective string
	var nonCompliant bool
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete a check",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.CompleteOptions{
				InstanceID: args[0],
				ActorID:    viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("value") {
				opts.Value = &value
			}
			if photoRef != "" {
				opts.PhotoRef = &photoRef
			}
			if notes != "" {
				opts.Notes = &notes
			}
			if corrective != "" {
				opts.CorrectiveAction = &corrective
			}
			if nonCompliant {
				fail := false
				opts.Compliant = &fail
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				in, err := a.Engine.CompleteInstance(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(in)
				}
				fmt.Printf("%s recorded as %s\n", in.ID, engine.DisplayStatus(in, time.Now().UTC()))
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&value, "value", 0, "measured reading")
	cmd.Flags().StringVar(&photoRef, "photo", "", "photo reference")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	cmd.Flags().StringVar(&corrective, "corrective-action", "", "corrective action taken")
	cmd.Flags().BoolVar(&nonCompliant, "non-compliant", false, "mark the check failed regardless of reading")
	return cmd
}

func taskNextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "next <template-id>",
		Short: "Schedule an on-demand check now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				in, err := a.Engine.ScheduleNextForTemplate(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(in)
				}
				fmt.Printf("Scheduled %s, due %s\n", in.ID, in.DueAt)
				return nil
			})
		},
	}
	return cmd
}

func reportCmd() *cobra.Command {
	rep := &cobra.Command{
		Use:   "report",
		Short: "Reports and inspector packs",
	}
	rep.AddCommand(reportListCmd())
	rep.AddCommand(reportInspectorCmd())
	return rep
}

func reportListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List generated reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				reports, err := a.Engine.Repo.ListReports(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(reports)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Shift", "Document", "Created"})
				for _, r := range reports {
					tw.AppendRow(table.Row{r.ID, r.Kind, r.ShiftID, r.DocumentRef, r.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func reportInspectorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspector",
		Short: "Generate the inspector pack",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rep, err := a.Engine.InspectorPack(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rep)
				}
				fmt.Printf("Inspector pack written to %s\n", rep.DocumentRef)
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: shifts opened, checks completed, escalations, reports.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var shiftID, evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Engine.Repo.LatestEvents(ctx, n, shiftID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&shiftID, "shift", "", "shift id filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys for the HTTP server",
	}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	cmd.AddCommand(apikeyDeleteCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Mint an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := make([]byte, 32)
			if _, err := rand.Read(raw); err != nil {
				return err
			}
			secret := hex.EncodeToString(raw)
			key := domain.APIKey{
				ID:        uuid.NewString(),
				ActorID:   viper.GetString("actor-id"),
				Name:      name,
				KeyHash:   repo.HashAPIKey(secret),
				CreatedAt: time.Now().UTC().Format(time.RFC3339),
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tx, err := a.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := a.Engine.Repo.InsertAPIKey(ctx, tx, key); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "key": secret})
				}
				fmt.Printf("Key %s created. Save the secret now, it is not stored:\n%s\n", key.ID, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "label for the key")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				keys, err := a.Engine.Repo.ListAPIKeys(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacyActor bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				authCfg := server.AuthConfig{
					JWTSecret:              os.Getenv("CHECKLINE_JWT_SECRET"),
					AllowLegacyActorHeader: allowLegacyActor,
				}
				if authCfg.JWTSecret == "" && !allowLegacyActor {
					return fmt.Errorf("CHECKLINE_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{Engine: a.Engine, BasePath: basePath, Auth: authCfg})
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
				fmt.Printf("Serving Checkline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacyActor, "allow-legacy-actor", false, "accept the X-Actor-Id header without a token (dev only)")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func renderInstances(a *app.App, instances []domain.TaskInstance) {
	now := time.Now().UTC()
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Check", "Due", "Status", "Value"})
	for _, in := range instances {
		title := in.TemplateID
		if tpl, ok := a.Catalog.Lookup(in.TemplateID); ok {
			title = tpl.Title
		}
		value := ""
		if in.Value != nil {
			value = fmt.Sprintf("%g", *in.Value)
		}
		tw.AppendRow(table.Row{in.ID, title, in.DueAt, engine.DisplayStatus(in, now), value})
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
