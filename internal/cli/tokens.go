package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/crmhub/crmhub/internal/credentials"
	"github.com/crmhub/crmhub/internal/logging"
	"github.com/crmhub/crmhub/internal/models"
)

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Inspect stored integration credentials",
}

var tokensListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List stored credentials and their status",
	Long: `List one row per (user, service) credential with its token status.
Tokens themselves are never printed.

Examples:
  crmhub tokens list
  crmhub tokens list --service fortnox --json`,
	RunE: runTokensList,
}

var backfillCmd = &cobra.Command{
	Use:   "backfill-credentials",
	Short: "Move legacy settings blobs into the flat token columns",
	Long: `Copy access_token, refresh_token and expires_at from the legacy settings
blob into empty flat columns, then drop the blob. Flat values are never
overwritten, so running it twice is safe.

Examples:
  crmhub backfill-credentials --dry-run
  crmhub backfill-credentials --service google`,
	RunE: runBackfill,
}

var tokenFlags struct {
	Service string
	DryRun  bool
}

func init() {
	tokensListCmd.Flags().StringVar(&tokenFlags.Service, "service", "", "Only this integration (fortnox or google)")
	tokensCmd.AddCommand(tokensListCmd)

	backfillCmd.Flags().StringVar(&tokenFlags.Service, "service", "", "Only this integration (fortnox or google)")
	backfillCmd.Flags().BoolVar(&tokenFlags.DryRun, "dry-run", false, "Report what would change without writing")

	RootCmd.AddCommand(tokensCmd, backfillCmd)
}

func serviceFlag() (models.Service, error) {
	if tokenFlags.Service == "" {
		return "", nil
	}
	return models.ParseService(tokenFlags.Service)
}

// TokenRow is one line of `tokens list`.
type TokenRow struct {
	UserID    string             `json:"userId"`
	Service   models.Service     `json:"service"`
	Status    models.TokenStatus `json:"status"`
	ExpiresAt *time.Time         `json:"expiresAt,omitempty"`
	Refresh   bool               `json:"hasRefreshToken"`
	Legacy    bool               `json:"legacySettings"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

func tokenRows(records []*models.CredentialRecord, now time.Time) []TokenRow {
	rows := make([]TokenRow, 0, len(records))
	for _, rec := range records {
		tok := credentials.Merge(rec)
		row := TokenRow{
			UserID:    rec.UserID,
			Service:   rec.Service,
			Status:    rec.Status(now),
			Legacy:    rec.HasBlob(),
			UpdatedAt: rec.UpdatedAt,
		}
		if tok != nil {
			row.ExpiresAt = tok.ExpiresAt
			row.Refresh = tok.CanRefresh()
		}
		rows = append(rows, row)
	}
	return rows
}

func runTokensList(cmd *cobra.Command, args []string) error {
	service, err := serviceFlag()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)
	a, err := loadStore(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.store.ListCredentials(ctx, service)
	if err != nil {
		return err
	}
	rows := tokenRows(records, time.Now())
	if globalFlags.JSON {
		return writeJSON(cmd.OutOrStdout(), rows)
	}
	renderTokenTable(cmd.OutOrStdout(), rows)
	return nil
}

func renderTokenTable(w io.Writer, rows []TokenRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No credentials stored.")
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"User", "Service", "Status", "Expires", "Refresh", "Legacy"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetRowLine(false)
	for _, r := range rows {
		expires := "-"
		if r.ExpiresAt != nil {
			expires = r.ExpiresAt.Local().Format("2006-01-02 15:04")
		}
		table.Append([]string{
			r.UserID,
			string(r.Service),
			string(r.Status),
			expires,
			yesNo(r.Refresh),
			yesNo(r.Legacy),
		})
	}
	table.Render()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func runBackfill(cmd *cobra.Command, args []string) error {
	service, err := serviceFlag()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)
	a, err := loadStore(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := credentials.NewBackfiller(a.store, a.logger).Run(ctx, service, tokenFlags.DryRun)
	if report != nil {
		printBackfillReport(cmd.OutOrStdout(), report)
		if !report.DryRun {
			event := logging.NewAuditEvent(logging.CredentialsBackfilled, "backfill-credentials", logging.StatusSuccess).
				WithResource(tokenFlags.Service).
				WithDetails(map[string]interface{}{"scanned": report.Scanned, "migrated": report.Migrated, "unreadable": report.Unreadable})
			if err != nil {
				event.WithError(err.Error())
			}
			logging.NewLogAuditSink(a.logger).Record(ctx, event)
		}
	}
	return err
}

func printBackfillReport(w io.Writer, r *credentials.BackfillReport) {
	if globalFlags.JSON {
		_ = writeJSON(w, r)
		return
	}
	verb := "Migrated"
	if r.DryRun {
		verb = "Would migrate"
	}
	fmt.Fprintf(w, "%s %d of %d credentials\n", verb, r.Migrated, r.Scanned)
	if r.Unreadable > 0 {
		fmt.Fprintf(w, "Skipped %d unreadable settings_data blobs\n", r.Unreadable)
	}
	for _, c := range r.Changes {
		if c.Error != "" {
			fmt.Fprintf(w, "  %s/%s: unreadable blob: %s\n", c.UserID, c.Service, c.Error)
			continue
		}
		filled := "nothing"
		if len(c.Filled) > 0 {
			filled = strings.Join(c.Filled, ", ")
		}
		fmt.Fprintf(w, "  %s/%s: filled %s, dropped %d unknown keys\n", c.UserID, c.Service, filled, c.Dropped)
	}
}
