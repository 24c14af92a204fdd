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

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"courtline/internal/app"
	"courtline/internal/caseid"
	"courtline/internal/config"
	"courtline/internal/db"
	"courtline/internal/domain"
	"courtline/internal/engine"
	"courtline/internal/migrate"
	"courtline/internal/notify"
	"courtline/internal/repo"
	"courtline/internal/server"
)

const dateLayout = "2006-01-02"

var rootCmd = &cobra.Command{
	Use:   "cl",
	Short: "Courtline CLI",
	Long: `Courtline drives the procedural lifecycle of judicial cases.
Core concepts:
- Workspace: your .courtline directory holding the database; court.yml configures statutory periods, holidays, and code tables.
- Case: one proceeding moving draft -> filed -> service_pending -> answer_pending -> hearing_scheduled -> hearing_in_progress -> judgment_pending -> judgment -> closed; a judge or admin can suspend it at any point before the end.
- Identifier: YYYY-CCCCC-NNNN-KK with a mod-11 checksum; sequence numbers are never reused.
- Deadlines: statutory periods counted in business days, skipping weekends and the configured holidays.
- Citations: service of process on each defendant; three failed direct attempts escalate to edict (publication) service.
- Hearings: scheduled per case; completing the last one moves the case to judgment_pending.
- Event log: append-only audit trail, view with 'cl log tail'.`,
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
	viper.SetEnvPrefix("COURTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("role", "clerk", "procedural role (representative, clerk, officer, judge, admin)")
	rootCmd.PersistentFlags().String("court", "", "court id (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("role", rootCmd.PersistentFlags().Lookup("role"))
	_ = viper.BindPFlag("court", rootCmd.PersistentFlags().Lookup("court"))
}

func registerCommands() {
	rootCmd.AddCommand(caseCmd())
	rootCmd.AddCommand(citationCmd())
	rootCmd.AddCommand(hearingCmd())
	rootCmd.AddCommand(deadlineCmd())
	rootCmd.AddCommand(idCmd())
	rootCmd.AddCommand(calendarCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func caseCmd() *cobra.Command {
	c := &cobra.Command{Use: "case", Short: "Manage cases"}
	c.AddCommand(caseFileCmd())
	c.AddCommand(caseListCmd())
	c.AddCommand(caseShowCmd())
	c.AddCommand(caseTransitionCmd())
	return c
}

func caseFileCmd() *cobra.Command {
	var materia, venue, subject, judgeID string
	var plaintiffs, defendants []string
	cmd := &cobra.Command{
		Use:   "file",
		Short: "Open a draft case",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.CaseCreateOptions{
					Materia: materia,
					Venue:   venue,
					Subject: subject,
					JudgeID: judgeID,
					ActorID: viper.GetString("actor-id"),
					Role:    viper.GetString("role"),
				}
				for _, name := range plaintiffs {
					opts.Parties = append(opts.Parties, engine.PartyInput{Role: domain.PartyPlaintiff, Name: name})
				}
				for _, name := range defendants {
					opts.Parties = append(opts.Parties, engine.PartyInput{Role: domain.PartyDefendant, Name: name})
				}
				c, err := e.CreateCase(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&materia, "materia", "", "matter (e.g. CIVIL)")
	cmd.Flags().StringVar(&venue, "venue", "", "venue (e.g. LA PAZ)")
	cmd.Flags().StringVar(&subject, "subject", "", "case subject")
	cmd.Flags().StringVar(&judgeID, "judge-id", "", "assigned judge")
	cmd.Flags().StringArrayVar(&plaintiffs, "plaintiff", []string{}, "plaintiff name (repeatable)")
	cmd.Flags().StringArrayVar(&defendants, "defendant", []string{}, "defendant name (repeatable)")
	_ = cmd.MarkFlagRequired("materia")
	_ = cmd.MarkFlagRequired("venue")
	return cmd
}

func caseListCmd() *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListCases(ctx, state)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Materia", "Venue", "State", "Filed At"})
				for _, c := range items {
					filed := ""
					if c.FiledAt != nil {
						filed = *c.FiledAt
					}
					tw.AppendRow(table.Row{c.ID, c.Materia, c.Venue, c.State, filed})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "state filter")
	return cmd
}

func caseShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <case-id>",
		Short: "Show a case with parties",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				c, err := r.GetCase(ctx, args[0])
				if err != nil {
					return err
				}
				parties, err := r.ListParties(ctx, c.ID)
				if err != nil {
					return err
				}
				c.Parties = parties
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func caseTransitionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transition <case-id> <target-state>",
		Short: "Request a case state transition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.RequestTransition(ctx, args[0], args[1], viper.GetString("actor-id"), viper.GetString("role"))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	return cmd
}

func citationCmd() *cobra.Command {
	c := &cobra.Command{Use: "citation", Short: "Manage service of process"}
	c.AddCommand(citationShowCmd())
	c.AddCommand(citationListCmd())
	c.AddCommand(citationAttemptCmd())
	c.AddCommand(citationEdictCmd())
	return c
}

func citationShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <citation-id>",
		Short: "Show a citation with its attempt log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				cit, err := r.GetCitation(ctx, args[0])
				if err != nil {
					return err
				}
				attempts, err := r.ListAttempts(ctx, cit.ID)
				if err != nil {
					return err
				}
				cit.Attempts = attempts
				if viper.GetBool("json") {
					return printJSON(cit)
				}
				fmt.Printf("citation %s party=%s method=%s state=%s\n", cit.ID, cit.PartyID, cit.Method, cit.State)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Seq", "Method", "Outcome", "Officer", "At"})
				for _, a := range attempts {
					tw.AppendRow(table.Row{a.Seq, a.Method, a.Outcome, a.OfficerID, a.TS})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func citationListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <case-id>",
		Short: "List citations of a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListCitationsByCase(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Party", "Method", "State"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.PartyID, c.Method, c.State})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func citationAttemptCmd() *cobra.Command {
	var method, outcome, description, evidenceRef string
	cmd := &cobra.Command{
		Use:   "attempt <citation-id>",
		Short: "Record a service attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.RecordCitationAttempt(ctx, engine.AttemptOptions{
					CitationID:  args[0],
					Method:      method,
					Outcome:     outcome,
					Description: description,
					EvidenceRef: evidenceRef,
					ActorID:     viper.GetString("actor-id"),
					Role:        viper.GetString("role"),
				})
				if err != nil {
					return err
				}
				if res.EdictRequired && !viper.GetBool("json") {
					fmt.Println("direct service exhausted; order edict service with 'cl citation edict'")
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&method, "method", domain.MethodInPerson, "service method (in_person, electronic, cedula, edict)")
	cmd.Flags().StringVar(&outcome, "outcome", "", "attempt outcome (success, failure)")
	cmd.Flags().StringVar(&description, "description", "", "attempt description")
	cmd.Flags().StringVar(&evidenceRef, "evidence-ref", "", "evidence reference")
	_ = cmd.MarkFlagRequired("outcome")
	return cmd
}

func citationEdictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edict <citation-id>",
		Short: "Order publication-based service after exhausted direct attempts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				edict, err := e.OrderEdictService(ctx, args[0], viper.GetString("actor-id"), viper.GetString("role"))
				if err != nil {
					return err
				}
				return printJSONOrTable(edict)
			})
		},
	}
	return cmd
}

func hearingCmd() *cobra.Command {
	h := &cobra.Command{Use: "hearing", Short: "Manage hearings"}
	h.AddCommand(hearingScheduleCmd())
	h.AddCommand(hearingListCmd())
	h.AddCommand(hearingCompleteCmd())
	h.AddCommand(hearingCancelCmd())
	return h
}

func hearingScheduleCmd() *cobra.Command {
	var kind, at string
	cmd := &cobra.Command{
		Use:   "schedule <case-id>",
		Short: "Schedule a hearing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scheduledAt, err := time.Parse(time.RFC3339, at)
			if err != nil {
				return fmt.Errorf("--at must be RFC 3339: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				h, err := e.ScheduleHearing(ctx, args[0], kind, scheduledAt, viper.GetString("actor-id"), viper.GetString("role"))
				if err != nil {
					return err
				}
				return printJSONOrTable(h)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "hearing kind (e.g. preliminary, evidentiary)")
	cmd.Flags().StringVar(&at, "at", "", "scheduled time (RFC 3339)")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("at")
	return cmd
}

func hearingListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <case-id>",
		Short: "List hearings of a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListHearings(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Scheduled At", "Status"})
				for _, h := range items {
					tw.AppendRow(table.Row{h.ID, h.Kind, h.ScheduledAt, h.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func hearingCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <hearing-id>",
		Short: "Mark a hearing completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.CompleteHearing(ctx, args[0], viper.GetString("actor-id"), viper.GetString("role"))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	return cmd
}

func hearingCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <hearing-id>",
		Short: "Cancel a scheduled hearing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.CancelHearing(ctx, args[0], viper.GetString("actor-id"), viper.GetString("role"))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	return cmd
}

func deadlineCmd() *cobra.Command {
	d := &cobra.Command{Use: "deadline", Short: "Inspect and sweep deadlines"}
	d.AddCommand(deadlineListCmd())
	d.AddCommand(deadlineComputeCmd())
	d.AddCommand(deadlineSweepCmd())
	return d
}

func deadlineListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <case-id>",
		Short: "List deadlines of a case with urgency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListDeadlines(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Kind", "Due", "Days", "Status", "Urgency"})
				for _, d := range items {
					urgency := ""
					if d.Status == domain.DeadlineActive {
						if due, perr := time.Parse(dateLayout, d.DueDate); perr == nil {
							urgency = e.ClassifyUrgency(due)
						}
					}
					tw.AppendRow(table.Row{d.Kind, d.DueDate, d.BusinessDays, d.Status, urgency})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func deadlineComputeCmd() *cobra.Command {
	var start string
	var days int
	cmd := &cobra.Command{
		Use:   "compute",
		Short: "Compute a business-day due date",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := time.Parse(dateLayout, start)
			if err != nil {
				return fmt.Errorf("--start must be YYYY-MM-DD: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				due, err := e.ComputeDeadline(from, days)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"start_date":    from.Format(dateLayout),
					"due_date":      due.Format(dateLayout),
					"business_days": days,
					"urgency":       e.ClassifyUrgency(due),
				})
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&days, "days", 0, "business days to add")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("days")
	return cmd
}

func deadlineSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue deadlines and notify parties",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.SweepDeadlines(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"expired": n})
			})
		},
	}
	return cmd
}

func idCmd() *cobra.Command {
	id := &cobra.Command{Use: "id", Short: "Case identifiers"}
	id.AddCommand(idAllocateCmd())
	id.AddCommand(idCheckCmd())
	return id
}

func idAllocateCmd() *cobra.Command {
	var materia, venue string
	cmd := &cobra.Command{
		Use:   "allocate",
		Short: "Allocate a fresh identifier (consumes a sequence number)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.AllocateIdentifier(ctx, materia, venue)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"id": s})
			})
		},
	}
	cmd.Flags().StringVar(&materia, "materia", "", "matter")
	cmd.Flags().StringVar(&venue, "venue", "", "venue")
	_ = cmd.MarkFlagRequired("materia")
	_ = cmd.MarkFlagRequired("venue")
	return cmd
}

func idCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <identifier>",
		Short: "Parse and validate an identifier checksum",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, ok := caseid.Parse(args[0])
			if !ok {
				return fmt.Errorf("malformed identifier %q", args[0])
			}
			return printJSONOrTable(map[string]any{
				"id":    id.String(),
				"year":  id.Year,
				"code":  id.Code,
				"seq":   id.Seq,
				"check": id.Check,
				"valid": caseid.Validate(args[0]),
			})
		},
	}
	return cmd
}

func calendarCmd() *cobra.Command {
	cal := &cobra.Command{Use: "calendar", Short: "Business-day calendar"}
	cal.AddCommand(calendarCheckCmd())
	return cal
}

func calendarCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <date>",
		Short: "Check whether a date is a business day",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := time.Parse(dateLayout, args[0])
			if err != nil {
				return fmt.Errorf("date must be YYYY-MM-DD: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(map[string]any{
					"date":         d.Format(dateLayout),
					"business_day": e.Calendar.IsBusinessDay(d),
					"holiday":      e.Calendar.IsHoliday(d),
					"weekday":      d.Weekday().String(),
				})
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect court configuration",
		Long:  "Configuration holds the court identity, materia/venue code tables, statutory periods in business days, citation attempt limits, urgency thresholds, and the holiday calendar.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var courtID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default court.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(courtID)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&courtID, "court-id", "default-court", "court identifier")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Config.Validate()
			})
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

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The append-only audit trail: case transitions, deadline lifecycle, citation attempts, hearings, and notifications.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var caseID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.ListEvents(ctx, caseID, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Case", "Actor"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.CaseID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&caseID, "case", "", "case filter")
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	cmd.AddCommand(apikeyDeleteCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, role, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key bound to an actor and role",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw := uuid.New().String() + uuid.New().String()
				key := domain.APIKey{
					ID:      uuid.New().String(),
					ActorID: actorID,
					Role:    role,
					Name:    name,
					KeyHash: repo.HashAPIKey(raw),
				}
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := r.EnsureActor(ctx, tx, actorID, time.Now().UTC().Format(time.RFC3339)); err != nil {
					return err
				}
				if err := r.InsertAPIKey(ctx, tx, key); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				// The raw key is shown once and never stored.
				return printJSONOrTable(map[string]string{"id": key.ID, "key": raw})
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "procedural role for this key")
	cmd.Flags().StringVar(&name, "name", "", "label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Role", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Role, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor filter")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var sweepEvery time.Duration
	var devLogin bool
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
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveCourtAndConfig(cmd.Context(), workspace, viper.GetString("court"), r)
			if err != nil {
				return err
			}
			e, err := engine.New(conn, cfg)
			if err != nil {
				return err
			}
			authCfg := server.AuthConfig{
				JWTSecret:     os.Getenv("COURTLINE_JWT_SECRET"),
				AllowDevLogin: devLogin,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("COURTLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			notify.Start(e)
			if sweepEvery > 0 {
				go runSweeper(cmd.Context(), e, sweepEvery)
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Courtline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().DurationVar(&sweepEvery, "sweep-every", time.Hour, "deadline sweep interval (0 disables)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose the dev token mint (local use only)")
	return cmd
}

func runSweeper(ctx context.Context, e engine.Engine, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if n, err := e.SweepDeadlines(ctx, "sweeper"); err != nil {
			fmt.Println("sweep error:", err)
		} else if n > 0 {
			fmt.Printf("sweep expired %d deadlines\n", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// --- helpers ---

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
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveCourtAndConfig(ctx, workspace, viper.GetString("court"), r)
	if err != nil {
		return err
	}
	e, err := engine.New(conn, cfg)
	if err != nil {
		return err
	}
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
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
