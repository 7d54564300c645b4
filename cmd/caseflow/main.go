package main

import (
	"context"
	"encoding/csv"
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

	"caseflow/internal/app"
	"caseflow/internal/config"
	"caseflow/internal/domain"
	"caseflow/internal/repo"
	"caseflow/internal/server"
	caseflowsdk "caseflow/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "caseflow",
	Short: "Caseflow CLI",
	Long: `Caseflow tracks people-search cases through a fixed pipeline:
form -> crm -> legal -> quote -> execution -> report -> finance -> archive.
Each stage has a gate: the case only moves on once the facts the next stage
needs (names, legal approval, signed contract, deposit, report, final payment)
are on record. Every move, payment, document and review lands in the case
timeline. With a remote configured, commands go to the central service first
and fall back to the local store when it is unreachable.`,
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
	viper.SetEnvPrefix("CASEFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", "caseflow.yml", "config file path")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("operator", "", "operator identifier recorded in the timeline")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("operator", rootCmd.PersistentFlags().Lookup("operator"))
}

func registerCommands() {
	rootCmd.AddCommand(caseCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(serveCmd())
}

func caseCmd() *cobra.Command {
	c := &cobra.Command{Use: "case", Short: "Manage cases"}
	c.AddCommand(caseCreateCmd())
	c.AddCommand(caseGetCmd())
	c.AddCommand(caseListCmd())
	c.AddCommand(caseSearchCmd())
	c.AddCommand(caseAdvanceCmd())
	c.AddCommand(caseLegalReviewCmd())
	c.AddCommand(caseQuoteCmd())
	c.AddCommand(casePayCmd())
	c.AddCommand(caseDocCmd())
	c.AddCommand(caseCompleteCmd())
	c.AddCommand(caseTimelineCmd())
	return c
}

func caseCreateCmd() *cobra.Command {
	var in caseflowsdk.CreateCaseParams
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a case from an intake form",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				in.Operator = operator()
				c, err := a.Client.CreateCase(ctx, in)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(c)
				}
				fmt.Printf("Case %s opened at stage %s\n", c.ID, c.CurrentStage)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.ClientName, "client-name", "", "client full name")
	cmd.Flags().StringVar(&in.ClientPhone, "client-phone", "", "client phone")
	cmd.Flags().StringVar(&in.ClientEmail, "client-email", "", "client email")
	cmd.Flags().StringVar(&in.Relationship, "relationship", "", "client relationship to target")
	cmd.Flags().StringVar(&in.TargetName, "target-name", "", "target full name")
	cmd.Flags().StringVar(&in.TargetGender, "target-gender", "", "target gender")
	cmd.Flags().StringVar(&in.TargetAge, "target-age", "", "target age")
	cmd.Flags().StringVar(&in.TargetBirthplace, "target-birthplace", "", "target birthplace")
	cmd.Flags().StringVar(&in.LastKnownLocation, "last-known-location", "", "where the target was last seen")
	cmd.Flags().StringVar(&in.LastContactTime, "last-contact", "", "when the client last heard from the target")
	cmd.Flags().StringVar(&in.TargetInfo, "target-info", "", "additional target information")
	cmd.Flags().StringVar(&in.Reason, "reason", "", "why the client is searching")
	_ = cmd.MarkFlagRequired("client-name")
	return cmd
}

func caseGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <case-id>",
		Short: "Show a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Client.GetCase(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(c)
				}
				printCase(c)
				return nil
			})
		},
	}
	return cmd
}

func caseListCmd() *cobra.Command {
	var f caseflowsdk.ListCasesParams
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cases, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				cases, err := a.Client.ListCases(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cases)
				}
				printCaseTable(cases)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "stage identifier or 'rejected'")
	cmd.Flags().StringVar(&f.AssignedTo, "assigned-to", "", "owning team filter")
	cmd.Flags().StringVar(&f.DateFrom, "date-from", "", "created at or after (RFC3339)")
	cmd.Flags().StringVar(&f.DateTo, "date-to", "", "created at or before (RFC3339)")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "maximum number of cases")
	return cmd
}

func caseSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search by case id, client or target name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				cases, err := a.Client.SearchCases(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cases)
				}
				printCaseTable(cases)
				return nil
			})
		},
	}
	return cmd
}

func caseAdvanceCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "advance <case-id>",
		Short: "Move a case to the next stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Client.AdvanceCase(ctx, args[0], operator(), notes)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(c)
				}
				fmt.Printf("Case %s is now at stage %s", c.ID, c.CurrentStage)
				if c.AssignedTo != nil {
					fmt.Printf(", assigned to %s", *c.AssignedTo)
				}
				fmt.Println()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "note recorded with the move")
	return cmd
}

func caseLegalReviewCmd() *cobra.Command {
	var approve, reject bool
	var reason string
	cmd := &cobra.Command{
		Use:   "legal-review <case-id>",
		Short: "Approve or reject a case at legal review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approve == reject {
				return errors.New("pass exactly one of --approve or --reject")
			}
			if reject && reason == "" {
				return errors.New("--reason is required with --reject")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Client.LegalReview(ctx, args[0], approve, operator(), reason)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(c)
				}
				if c.Status == domain.StatusRejected {
					fmt.Printf("Case %s rejected: %s\n", c.ID, c.RejectionReason)
				} else {
					fmt.Printf("Case %s approved by legal\n", c.ID)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&approve, "approve", false, "approve the case")
	cmd.Flags().BoolVar(&reject, "reject", false, "reject the case, ending it")
	cmd.Flags().StringVar(&reason, "reason", "", "review reason")
	return cmd
}

func caseQuoteCmd() *cobra.Command {
	var in caseflowsdk.QuoteParams
	cmd := &cobra.Command{
		Use:   "quote <case-id>",
		Short: "Generate a quote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				in.Operator = operator()
				q, err := a.Client.GenerateQuote(ctx, args[0], in)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(q)
				}
				fmt.Printf("Quote %s: %.2f %s (%s)\n", q.ID, q.Amount, q.Currency, q.Status)
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&in.Amount, "amount", 0, "quote amount")
	cmd.Flags().StringVar(&in.Currency, "currency", "", "currency (default CNY)")
	cmd.Flags().StringVar(&in.Description, "description", "", "what the quote covers")
	cmd.Flags().StringVar(&in.ValidUntil, "valid-until", "", "expiry (RFC3339)")
	cmd.Flags().StringVar(&in.Terms, "terms", "", "payment terms")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func casePayCmd() *cobra.Command {
	var in caseflowsdk.PaymentParams
	cmd := &cobra.Command{
		Use:   "pay <case-id>",
		Short: "Record a payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				in.Operator = operator()
				p, err := a.Client.RecordPayment(ctx, args[0], in)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("Payment %s: %s %.2f %s (%s)\n", p.ID, p.Type, p.Amount, p.Currency, p.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.Type, "type", "", "deposit or final")
	cmd.Flags().Float64Var(&in.Amount, "amount", 0, "payment amount")
	cmd.Flags().StringVar(&in.Currency, "currency", "", "currency (default CNY)")
	cmd.Flags().StringVar(&in.Method, "method", "", "payment method")
	cmd.Flags().StringVar(&in.TransactionID, "transaction-id", "", "external transaction reference")
	cmd.Flags().StringVar(&in.Status, "status", "", "completed or pending (default completed)")
	cmd.Flags().StringVar(&in.Notes, "notes", "", "payment notes")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func caseDocCmd() *cobra.Command {
	var in caseflowsdk.DocumentParams
	cmd := &cobra.Command{
		Use:   "doc <case-id>",
		Short: "Attach document metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				in.Operator = operator()
				d, err := a.Client.UploadDocument(ctx, args[0], in)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				fmt.Printf("Document %s: %s %s\n", d.ID, d.Type, d.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.Type, "type", "", "contract, report, evidence or other")
	cmd.Flags().StringVar(&in.Name, "name", "", "file name")
	cmd.Flags().StringVar(&in.URL, "url", "", "where the file lives")
	cmd.Flags().Int64Var(&in.Size, "size", 0, "file size in bytes")
	cmd.Flags().StringVar(&in.Description, "description", "", "what the document is")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func caseCompleteCmd() *cobra.Command {
	var success bool
	var notes string
	cmd := &cobra.Command{
		Use:   "complete <case-id>",
		Short: "Record the investigation outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Client.CompleteExecution(ctx, args[0], success, operator(), notes)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(c)
				}
				outcome := "without result"
				if success {
					outcome = "successfully"
				}
				fmt.Printf("Case %s execution completed %s\n", c.ID, outcome)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&success, "success", false, "the target was found")
	cmd.Flags().StringVar(&notes, "notes", "", "outcome notes")
	return cmd
}

func caseTimelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timeline <case-id>",
		Short: "Show the case timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Client.GetCase(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(c.Timeline)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Time", "Stage", "Action", "Operator", "Notes"})
				for _, e := range c.Timeline {
					tw.AppendRow(table.Row{e.Timestamp, e.Stage, e.Action, e.Operator, e.Notes})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show case statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Client.Statistics(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("Cases: %d total, %d rejected\n", s.Total, s.Rejected)
				fmt.Printf("Success rate: %d%%\n", s.SuccessRate)
				fmt.Printf("Monthly revenue: %.2f\n", s.MonthlyRevenue)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Stage", "Cases"})
				for _, st := range domain.Stages() {
					tw.AppendRow(table.Row{st.String(), s.ByStage[st.String()]})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Dump the local case store as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				cases, err := a.Engine.ListCases(ctx, repo.CaseFilters{})
				if err != nil {
					return err
				}
				w := os.Stdout
				if out != "" {
					f, err := os.Create(out)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				cw := csv.NewWriter(w)
				if err := cw.Write([]string{"id", "status", "stage", "client_name", "target_name", "assigned_to", "created_at", "updated_at"}); err != nil {
					return err
				}
				for _, c := range cases {
					assigned := ""
					if c.AssignedTo != nil {
						assigned = *c.AssignedTo
					}
					if err := cw.Write([]string{c.ID, c.Status(), c.Stage.String(), c.Client.Name, c.Target.Name, assigned, c.CreatedAt, c.UpdatedAt}); err != nil {
						return err
					}
				}
				cw.Flush()
				return cw.Error()
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("config"))
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTP.Addr = addr
			}
			if basePath != "" {
				cfg.HTTP.BasePath = basePath
			}
			a, err := app.Open(cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			handler, err := server.New(server.Config{Engine: a.Engine, Stats: a.Stats, BasePath: cfg.HTTP.BasePath})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving case API on http://%s%s (OpenAPI at %s/openapi.json)\n", cfg.HTTP.Addr, cfg.HTTP.BasePath, cfg.HTTP.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (overrides config)")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := config.LoadOptional(viper.GetString("config"))
	if err != nil {
		return err
	}
	a, err := app.Open(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func operator() string {
	return viper.GetString("operator")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printCase(c caseflowsdk.Case) {
	fmt.Printf("Case %s (%s)\n", c.ID, c.Status)
	fmt.Printf("  Client: %s", c.Client.Name)
	if c.Client.Phone != "" {
		fmt.Printf(" (%s)", c.Client.Phone)
	}
	fmt.Println()
	fmt.Printf("  Target: %s", c.Target.Name)
	if c.Target.LastKnownLocation != "" {
		fmt.Printf(", last seen %s", c.Target.LastKnownLocation)
	}
	fmt.Println()
	if c.AssignedTo != nil {
		fmt.Printf("  Assigned to: %s\n", *c.AssignedTo)
	}
	if c.Status == domain.StatusRejected {
		fmt.Printf("  Rejected: %s\n", c.RejectionReason)
	}
	fmt.Printf("  Documents: %d, Payments: %d, Quotes: %d\n", len(c.Documents), len(c.Payments), len(c.Quotes))
	fmt.Printf("  Opened %s, updated %s\n", c.CreatedAt, c.UpdatedAt)
}

func printCaseTable(cases []caseflowsdk.Case) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Status", "Client", "Target", "Assigned", "Updated"})
	for _, c := range cases {
		assigned := ""
		if c.AssignedTo != nil {
			assigned = *c.AssignedTo
		}
		tw.AppendRow(table.Row{c.ID, c.Status, c.Client.Name, c.Target.Name, assigned, c.UpdatedAt})
	}
	tw.Render()
}
