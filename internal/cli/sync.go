package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/crmhub/crmhub/internal/fortnox"
	"github.com/crmhub/crmhub/internal/models"
	"github.com/crmhub/crmhub/internal/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a Fortnox sync for one user",
	Long: `Run a Fortnox customer or invoice sync outside the HTTP API, using the
credentials stored for the user.

Examples:
  crmhub sync customers --user 6f1c... --workspace acme
  crmhub sync invoices --user 6f1c... --from 2023 --to 2025 --json`,
}

var syncFlags struct {
	User      string
	Workspace string
	NoDetails bool
	FromYear  int
	ToYear    int
}

var syncCustomersCmd = &cobra.Command{
	Use:   "customers",
	Short: "Mirror Fortnox customers into the local store",
	RunE:  runSyncCustomers,
}

var syncInvoicesCmd = &cobra.Command{
	Use:   "invoices",
	Short: "Mirror Fortnox invoices for a range of years",
	RunE:  runSyncInvoices,
}

func init() {
	syncCmd.PersistentFlags().StringVar(&syncFlags.User, "user", "", "User whose Fortnox connection is used (required)")
	syncCmd.PersistentFlags().StringVar(&syncFlags.Workspace, "workspace", "", "Workspace to write into (defaults to the user)")
	_ = syncCmd.MarkPersistentFlagRequired("user")

	syncCustomersCmd.Flags().BoolVar(&syncFlags.NoDetails, "no-details", false, "Skip detail lookups for customers without a valid email")
	syncInvoicesCmd.Flags().IntVar(&syncFlags.FromYear, "from", 0, "First year (defaults to --to)")
	syncInvoicesCmd.Flags().IntVar(&syncFlags.ToYear, "to", 0, "Last year (defaults to the current year)")

	syncCmd.AddCommand(syncCustomersCmd, syncInvoicesCmd)
	RootCmd.AddCommand(syncCmd)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func syncWorkspace() string {
	if syncFlags.Workspace != "" {
		return syncFlags.Workspace
	}
	return syncFlags.User
}

func (a *app) fortnoxClient() (*fortnox.Client, error) {
	session, err := a.sessions.Session(syncFlags.User, models.ServiceFortnox)
	if err != nil {
		return nil, err
	}
	return fortnox.New(session, a.cfg.Integrations.Fortnox, fortnox.WithMetrics(a.metrics)), nil
}

func runSyncCustomers(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	client, err := a.fortnoxClient()
	if err != nil {
		return err
	}

	var bar *progressbar.ProgressBar
	opts := syncer.CustomerOptions{
		FetchDetails: !syncFlags.NoDetails,
		Progress: func(done, total int) {
			if globalFlags.JSON {
				return
			}
			if bar == nil {
				bar = newProgressBar(os.Stderr, total, "Reconciling customers...")
			}
			_ = bar.Set(done)
		},
	}

	report, err := a.syncer.SyncCustomers(ctx, client, syncWorkspace(), syncFlags.User, opts)
	if bar != nil {
		_ = bar.Finish()
	}
	if report != nil {
		printCustomerReport(cmd.OutOrStdout(), report)
	}
	return err
}

func runSyncInvoices(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	to := syncFlags.ToYear
	if to == 0 {
		to = time.Now().Year()
	}
	from := syncFlags.FromYear
	if from == 0 {
		from = to
	}
	if from > to {
		return fmt.Errorf("--from (%d) is after --to (%d)", from, to)
	}

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	client, err := a.fortnoxClient()
	if err != nil {
		return err
	}

	report, err := a.syncer.SyncInvoices(ctx, client, syncWorkspace(), syncFlags.User, from, to)
	if report != nil {
		printInvoiceReport(cmd.OutOrStdout(), report)
	}
	return err
}

func newProgressBar(w io.Writer, total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(20),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionClearOnFinish(),
	)
}

func printCustomerReport(w io.Writer, r *syncer.CustomerReport) {
	if globalFlags.JSON {
		_ = writeJSON(w, r)
		return
	}
	fmt.Fprintf(w, "Fetched %d customers: %d created, %d updated, %d unchanged, %d failed (%d detail lookups)\n",
		r.Fetched, r.Created, r.Updated, r.Unchanged, r.Failed, r.Details)
	if r.Partial {
		fmt.Fprintln(w, "Sync was partial:")
	}
	for _, e := range r.Errors {
		fmt.Fprintln(w, "  -", e)
	}
}

func printInvoiceReport(w io.Writer, r *syncer.InvoiceReport) {
	if globalFlags.JSON {
		_ = writeJSON(w, r)
		return
	}
	for _, y := range r.Years {
		line := fmt.Sprintf("  %d: %d invoices over %d pages", y.Year, y.Fetched, y.Pages)
		if y.Error != "" {
			line += " (" + y.Error + ")"
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "Fetched %d invoices, %d unique, %d written\n", r.Fetched, r.Unique, r.Upserted)
	if r.Partial {
		fmt.Fprintln(w, "Sync was partial.")
	}
}
