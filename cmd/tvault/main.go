package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tracevault/tracevault/pkg/client"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	cfgFile   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tvault",
	Short: "tracevault audit ledger CLI",
	Long: `tvault is the command-line interface for a tracevault audit ledger.

It records audit events, inspects the chain, and runs integrity
verification against a running ledgerd instance.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.tvault")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.tvault/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "ledgerd base URL (default http://localhost:8080)")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(versionCmd)
}

// newClient builds an SDK client, attaching a token from config when set.
func newClient() *client.Client {
	opts := []client.Option{}
	if token := viper.GetString("token"); token != "" {
		opts = append(opts, client.WithToken(token))
	}
	return client.New(serverURL, opts...)
}

// operatorClient builds a client and authenticates with the operator
// password from flags or config when no token is available.
func operatorClient(ctx context.Context, operatorName, password string) (*client.Client, error) {
	c := newClient()
	if viper.GetString("token") != "" {
		return c, nil
	}
	if password == "" {
		password = viper.GetString("password")
	}
	if password == "" {
		return nil, fmt.Errorf("an operator token or password is required; set --password or token in config")
	}
	if operatorName == "" {
		operatorName = viper.GetString("operator")
	}
	if operatorName == "" {
		operatorName = "operator"
	}
	if err := c.Authenticate(ctx, operatorName, password); err != nil {
		return nil, err
	}
	return c, nil
}

func printEntry(e *client.Entry) {
	fmt.Printf("Sequence:  %d\n", e.Sequence)
	fmt.Printf("Timestamp: %s\n", e.Timestamp.Format("2006-01-02 15:04:05.000000 MST"))
	fmt.Printf("Actor:     %s\n", e.Actor)
	fmt.Printf("Action:    %s\n", e.Action)
	if e.Target != "" {
		fmt.Printf("Target:    %s\n", e.Target)
	}
	if len(e.Details) > 0 {
		b, _ := json.MarshalIndent(e.Details, "           ", "  ")
		fmt.Printf("Details:   %s\n", b)
	}
	fmt.Printf("PrevHash:  %s\n", e.PrevHash)
	fmt.Printf("Hash:      %s\n", e.Hash)
	fmt.Printf("Signature: %s\n", e.Signature)
}

// ── record ───────────────────────────────────────────────────────────────────

var (
	recActor   string
	recAction  string
	recTarget  string
	recDetails string
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a new audit event",
	Long: `Record appends a new event to the audit chain.

  tvault record --actor alice --action funds.deposit --target acct-1 \
      --details '{"amount": 250}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var details map[string]any
		if recDetails != "" {
			if err := json.Unmarshal([]byte(recDetails), &details); err != nil {
				return fmt.Errorf("parse --details: %w", err)
			}
		}

		entry, err := newClient().Record(context.Background(), client.RecordRequest{
			Actor:   recActor,
			Action:  recAction,
			Target:  recTarget,
			Details: details,
		})
		if err != nil {
			return err
		}

		fmt.Printf("recorded entry %d\n", entry.Sequence)
		printEntry(entry)
		return nil
	},
}

func init() {
	recordCmd.Flags().StringVar(&recActor, "actor", "", "Who performed the action (defaults to \"system\")")
	recordCmd.Flags().StringVar(&recAction, "action", "", "What happened, e.g. funds.deposit (required)")
	recordCmd.Flags().StringVar(&recTarget, "target", "", "What was acted upon")
	recordCmd.Flags().StringVar(&recDetails, "details", "", "Event details as a JSON object")
	recordCmd.MarkFlagRequired("action") //nolint:errcheck
}

// ── tail ─────────────────────────────────────────────────────────────────────

var (
	tailCount  int
	tailActor  string
	tailAction string
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the most recent audit entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		page, err := newClient().Entries(context.Background(), client.ListParams{
			PerPage: tailCount,
			Actor:   tailActor,
			Action:  tailAction,
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tTIMESTAMP\tACTOR\tACTION\tTARGET\tHASH")
		for _, e := range page.Entries {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
				e.Sequence,
				e.Timestamp.Format("2006-01-02 15:04:05"),
				e.Actor, e.Action, e.Target,
				e.Hash[:12],
			)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("%d of %d entries\n", len(page.Entries), page.Total)
		return nil
	},
}

func init() {
	tailCmd.Flags().IntVarP(&tailCount, "count", "n", 20, "Number of entries to show")
	tailCmd.Flags().StringVar(&tailActor, "actor", "", "Filter by actor")
	tailCmd.Flags().StringVar(&tailAction, "action", "", "Filter by action")
}

// ── show ─────────────────────────────────────────────────────────────────────

var showCmd = &cobra.Command{
	Use:   "show <seq>",
	Short: "Show a single audit entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var seq int64
		if _, err := fmt.Sscanf(args[0], "%d", &seq); err != nil || seq < 1 {
			return fmt.Errorf("seq must be a positive integer, got %q", args[0])
		}

		entry, err := newClient().Entry(context.Background(), seq)
		if err != nil {
			return err
		}
		printEntry(entry)
		return nil
	},
}

// ── verify ───────────────────────────────────────────────────────────────────

var (
	verifyFrom     int64
	verifyTo       int64
	verifyRecorded bool
	verifyOperator string
	verifyPassword string
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the integrity of the audit chain",
	Long: `Verify replays the hash chain and reports every inconsistency found.

The check never stops at the first finding, so the output shows the full
extent of any tampering. With --record the outcome is appended to the
chain itself, which requires operator credentials.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		var report *client.Report
		var err error
		if verifyRecorded {
			var c *client.Client
			c, err = operatorClient(ctx, verifyOperator, verifyPassword)
			if err != nil {
				return err
			}
			report, err = c.VerifyAndRecord(ctx)
		} else {
			report, err = newClient().Verify(ctx, verifyFrom, verifyTo)
		}
		if err != nil {
			return err
		}

		fmt.Printf("Run:     %s\n", report.RunID)
		fmt.Printf("Range:   [%d, %d]\n", report.From, report.To)
		fmt.Printf("Entries: %d\n", report.Entries)
		if report.Valid {
			fmt.Println("Result:  VALID")
			return nil
		}

		fmt.Printf("Result:  INVALID (%d violations)\n", len(report.Violations))
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tKIND\tDETAIL")
		for _, v := range report.Violations {
			fmt.Fprintf(w, "%d\t%s\t%s\n", v.Sequence, v.Kind, v.Detail)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		return fmt.Errorf("audit chain integrity check failed")
	},
}

func init() {
	verifyCmd.Flags().Int64Var(&verifyFrom, "from", 0, "First sequence to check (0 = start of chain)")
	verifyCmd.Flags().Int64Var(&verifyTo, "to", 0, "Last sequence to check (0 = tail of chain)")
	verifyCmd.Flags().BoolVar(&verifyRecorded, "record", false, "Record the outcome in the chain (operator only)")
	verifyCmd.Flags().StringVar(&verifyOperator, "operator", "", "Operator name for --record")
	verifyCmd.Flags().StringVar(&verifyPassword, "password", "", "Operator password for --record")
}

// ── reset ────────────────────────────────────────────────────────────────────

var (
	resetYes      bool
	resetOperator string
	resetPassword string
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard the whole chain and seed a fresh one (destructive)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resetYes {
			return fmt.Errorf("reset destroys the entire audit history; re-run with --yes to confirm")
		}

		ctx := context.Background()
		c, err := operatorClient(ctx, resetOperator, resetPassword)
		if err != nil {
			return err
		}
		if err := c.Reset(ctx); err != nil {
			return err
		}
		fmt.Println("audit ledger reset; a fresh chain has been seeded")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetYes, "yes", false, "Confirm the destructive reset")
	resetCmd.Flags().StringVar(&resetOperator, "operator", "", "Operator name")
	resetCmd.Flags().StringVar(&resetPassword, "password", "", "Operator password")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the tvault version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tvault %s\n", version)
	},
}
