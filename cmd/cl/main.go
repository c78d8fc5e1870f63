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

	"careline/internal/config"
	"careline/internal/db"
	"careline/internal/domain"
	"careline/internal/repo"
	"careline/internal/server"
	"careline/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "cl",
	Short: "Careline CLI",
	Long: `Careline keeps a patient's care plan in a local store: scheduled
activities (medications, exercises, assessments), their daily events, and
what got done. Events are created lazily the first time a day is viewed
and every change lands in an audit feed that webhooks and companion apps
can follow.`,
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
	viper.SetEnvPrefix("CARELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("dir", "d", ".", "store directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("dir", rootCmd.PersistentFlags().Lookup("dir"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(activityCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(adherenceCmd())
	rootCmd.AddCommand(thresholdsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the store directory and database",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := db.EnsureDir(viper.GetString("dir"))
			if err != nil {
				return err
			}
			s, err := store.Open(db.Config{Dir: dir})
			if err != nil {
				return err
			}
			defer s.Close()
			fmt.Printf("initialized store at %s\n", db.Path(dir))
			return nil
		},
	}
}

func planCmd() *cobra.Command {
	plan := &cobra.Command{Use: "plan", Short: "Manage the care plan document"}
	plan.AddCommand(planImportCmd())
	plan.AddCommand(planShowCmd())
	plan.AddCommand(planTemplateCmd())
	return plan
}

func planImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a care plan YAML document",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = config.Path(viper.GetString("dir"))
			}
			plan, err := config.FromFile(file)
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), func(ctx context.Context, s *store.Store) error {
				summary, err := s.ImportPlan(ctx, plan)
				if err != nil {
					return err
				}
				return printJSONOrTable(summary)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "plan file (default <dir>/careplan.yml)")
	return cmd
}

func planShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the stored care plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s *store.Store) error {
				plan, err := s.PlanConfig(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(plan)
			})
		},
	}
}

func planTemplateCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Print a sample care plan document",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(config.GenerateDefault(id))
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "care-plan-1", "plan identifier")
	return cmd
}

func activityCmd() *cobra.Command {
	act := &cobra.Command{Use: "activity", Short: "Manage activities"}
	act.AddCommand(activityAddCmd())
	act.AddCommand(activityListCmd())
	act.AddCommand(activityGetCmd())
	act.AddCommand(activityRemoveCmd())
	act.AddCommand(activitySetEndDateCmd())
	return act
}

func activityAddCmd() *cobra.Command {
	var (
		identifier, group, typ, title, text, instructions string
		scheduleType, start, end                          string
		occurrences                                       []int
		skip                                              int
		optional, resettable                              bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if identifier == "" || title == "" {
				return fmt.Errorf("--id and --title are required")
			}
			sc := config.ScheduleConfig{Type: scheduleType, Start: start, End: end, Occurrences: occurrences, Skip: skip}
			ac := config.ActivityConfig{
				Identifier:       identifier,
				Group:            group,
				Type:             typ,
				Title:            title,
				Text:             text,
				Instructions:     instructions,
				Optional:         optional,
				ResultResettable: resettable,
				Schedule:         sc,
			}
			plan := &config.Plan{Activities: []config.ActivityConfig{ac}}
			activities, err := plan.DomainActivities()
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), func(ctx context.Context, s *store.Store) error {
				added, err := s.AddActivity(ctx, activities[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(added)
			})
		},
	}
	cmd.Flags().StringVar(&identifier, "id", "", "activity identifier")
	cmd.Flags().StringVar(&group, "group", "", "group identifier")
	cmd.Flags().StringVar(&typ, "type", "intervention", "intervention|assessment|readonly")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&text, "text", "", "short description")
	cmd.Flags().StringVar(&instructions, "instructions", "", "long instructions")
	cmd.Flags().StringVar(&scheduleType, "schedule", "daily", "daily|weekly|monthly")
	cmd.Flags().StringVar(&start, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "end date (YYYY-MM-DD)")
	cmd.Flags().IntSliceVar(&occurrences, "occurrences", []int{1}, "occurrence counts per period slot")
	cmd.Flags().IntVar(&skip, "skip", 0, "periods to skip between active periods")
	cmd.Flags().BoolVar(&optional, "optional", false, "exclude from completion totals")
	cmd.Flags().BoolVar(&resettable, "result-resettable", false, "results may be replaced")
	return cmd
}

func activityListCmd() *cobra.Command {
	var typ, group string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List activities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s *store.Store) error {
				var (
					items []domain.Activity
					err   error
				)
				switch {
				case typ != "":
					items, err = s.ActivitiesOfType(ctx, domain.ActivityType(typ))
				case group != "":
					items, err = s.ActivitiesWithGroupIdentifier(ctx, group)
				default:
					items, err = s.Activities(ctx)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Identifier", "Type", "Title", "Schedule", "Start", "End"})
				for _, a := range items {
					end := ""
					if a.Schedule.EndDate != nil {
						end = a.Schedule.EndDate.String()
					}
					tw.AppendRow(table.Row{a.Identifier, a.Type, a.Title, a.Schedule.Type, a.Schedule.StartDate, end})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "filter by activity type")
	cmd.Flags().StringVar(&group, "group", "", "filter by group identifier")
	return cmd
}

func activityGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <identifier>",
		Short: "Show one activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s *store.Store) error {
				a, err := s.ActivityForIdentifier(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
}

func activityRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <identifier>",
		Short: "Remove an activity and its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s *store.Store) error {
				if err := s.RemoveActivity(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("removed %s\n", args[0])
				return nil
			})
		},
	}
}

func activitySetEndDateCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "set-end-date <identifier>",
		Short: "End an activity's schedule on a date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			end, err := domain.ParseDate(date)
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), func(ctx context.Context, s *store.Store) error {
				a, err := s.SetEndDate(ctx, args[0], end)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "end date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func eventsCmd() *cobra.Command {
	var date, typ string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show a day's events grouped by activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := resolveDate(date)
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), func(ctx context.Context, s *store.Store) error {
				var types []domain.ActivityType
				if typ != "" {
					types = append(types, domain.ActivityType(typ))
				}
				groups, err := s.EventsOnDate(ctx, d, types...)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(groups)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Activity", "Occurrence", "State", "Result"})
				for _, group := range groups {
					for _, e := range group {
						result := ""
						if e.Result != nil {
							result = e.Result.ValueString + e.Result.UnitString
						}
						tw.AppendRow(table.Row{e.Activity.Identifier, e.OccurrenceIndex, e.State, result})
					}
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&typ, "type", "", "filter by activity type")
	cmd.AddCommand(eventSetStateCmd("complete", domain.EventCompleted, "Mark an event completed"))
	cmd.AddCommand(eventSetStateCmd("miss", domain.EventNotCompleted, "Mark an event not completed"))
	cmd.AddCommand(eventSetStateCmd("reset", domain.EventInitial, "Reset an event to its initial state"))
	return cmd
}

func eventSetStateCmd(use string, state domain.EventState, short string) *cobra.Command {
	var (
		date        string
		occurrence  int
		value, unit string
	)
	cmd := &cobra.Command{
		Use:   use + " <identifier>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := resolveDate(date)
			if err != nil {
				return err
			}
			var result *domain.EventResult
			if value != "" {
				result = &domain.EventResult{ValueString: value, UnitString: unit}
			}
			return withStore(cmd.Context(), func(ctx context.Context, s *store.Store) error {
				e, err := s.UpdateEvent(ctx, args[0], d, occurrence, state, result)
				if err != nil {
					return err
				}
				return printJSONOrTable(e)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date (YYYY-MM-DD, default today)")
	cmd.Flags().IntVar(&occurrence, "occurrence", 0, "occurrence index within the day")
	if use == "complete" {
		cmd.Flags().StringVar(&value, "value", "", "result value")
		cmd.Flags().StringVar(&unit, "unit", "", "result unit")
	}
	return cmd
}

func adherenceCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "adherence",
		Short: "Daily completion status across a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := resolveDate(from)
			if err != nil {
				return err
			}
			t, err := resolveDate(to)
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), func(ctx context.Context, s *store.Store) error {
				type day struct {
					Date      string `json:"date"`
					Completed int    `json:"completed"`
					Total     int    `json:"total"`
				}
				var days []day
				err := s.DailyCompletionStatus(ctx, f, t, func(d domain.Date, completed, total int) bool {
					days = append(days, day{Date: d.String(), Completed: completed, Total: total})
					return true
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(days)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Date", "Completed", "Total"})
				for _, d := range days {
					tw.AppendRow(table.Row{d.Date, d.Completed, d.Total})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first date (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&to, "to", "", "last date (YYYY-MM-DD, default today)")
	return cmd
}

func thresholdsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "thresholds", Short: "Threshold evaluation"}
	cmd.AddCommand(thresholdsCheckCmd())
	return cmd
}

func thresholdsCheckCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "check <identifier>",
		Short: "Evaluate an activity's thresholds for a day",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := resolveDate(date)
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), func(ctx context.Context, s *store.Store) error {
				triggered, err := s.EvaluateThresholds(ctx, args[0], d)
				if err != nil {
					return err
				}
				if len(triggered) == 0 && !viper.GetBool("json") {
					fmt.Println("no thresholds triggered")
					return nil
				}
				return printJSONOrTable(triggered)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date (YYYY-MM-DD, default today)")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Change feed",
		Long:  "The diary of everything that happened to the plan: activities added or removed, events completed, plans imported.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var (
		after int64
		limit int
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show change feed rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s *store.Store) error {
				changes, err := s.Changes(ctx, limit, after)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(changes)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Activity", "Payload"})
				for _, c := range changes {
					tw.AppendRow(table.Row{c.ID, c.TS, c.Type, c.ActivityID, c.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&after, "after", 0, "only rows with id greater than this")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.Open(db.Config{Dir: viper.GetString("dir")})
			if err != nil {
				return err
			}
			defer s.Close()
			authCfg := server.AuthConfig{
				JWTSecret: os.Getenv("CARELINE_JWT_SECRET"),
				DevLogin:  devLogin,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("CARELINE_JWT_SECRET is required for bearer auth")
			}
			plan, err := s.PlanConfig(cmd.Context())
			if err != nil {
				if !errors.Is(err, repo.ErrNotFound) {
					return err
				}
				plan = nil
			}
			handler, stopHooks, err := server.New(server.Config{Store: s, Plan: plan, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			defer stopHooks()
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Careline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8137", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable the dev token endpoint")
	return cmd
}

func withStore(ctx context.Context, fn func(context.Context, *store.Store) error) error {
	s, err := store.Open(db.Config{Dir: viper.GetString("dir")})
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

func resolveDate(s string) (domain.Date, error) {
	if s == "" {
		return domain.DateOf(time.Now()), nil
	}
	return domain.ParseDate(s)
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
