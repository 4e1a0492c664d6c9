package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/crmhub/crmhub/internal/config"
	"github.com/crmhub/crmhub/internal/errors"
)

// doctorCmd represents the doctor command
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose configuration issues",
	Long: `Check which features the current configuration can serve.

Each endpoint reports a missing secret as a 500 at request time; doctor lists
them up front, together with database connectivity.

Example:
  crmhub doctor`,
	RunE: runDoctor,
}

func init() {
	RootCmd.AddCommand(doctorCmd)
}

// Doctor check statuses.
const (
	StatusOK   = "OK"
	StatusWarn = "WARN"
	StatusFail = "FAIL"
)

// DoctorReport represents the complete diagnostic report
type DoctorReport struct {
	Timestamp time.Time     `json:"timestamp"`
	Version   VersionInfo   `json:"version"`
	Checks    []DoctorCheck `json:"checks"`
}

// Healthy reports whether no check failed.
func (r DoctorReport) Healthy() bool {
	for _, c := range r.Checks {
		if c.Status == StatusFail {
			return false
		}
	}
	return true
}

// DoctorCheck represents a single diagnostic check
type DoctorCheck struct {
	Category    string `json:"category"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Message     string `json:"message"`
	Remediation string `json:"remediation,omitempty"`
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	report := DoctorReport{Timestamp: time.Now().UTC(), Version: GetVersionInfo()}

	a, err := loadStore(ctx)
	if err != nil {
		report.Checks = append(report.Checks, DoctorCheck{
			Category:    "Config",
			Name:        "Load",
			Status:      StatusFail,
			Message:     err.Error(),
			Remediation: fmt.Sprintf("fix %s or set %s", globalFlags.Config, config.EnvConfigPath),
		})
	} else {
		defer a.Close()
		report.Checks = append(report.Checks, configChecks(a.cfg)...)
		report.Checks = append(report.Checks, databaseCheck(ctx, a))
	}

	out := cmd.OutOrStdout()
	if globalFlags.JSON {
		if err := writeJSON(out, report); err != nil {
			return err
		}
	} else {
		renderDoctorReport(out, report)
	}
	if !report.Healthy() {
		return fmt.Errorf("doctor found failing checks")
	}
	return nil
}

// configChecks reports, per feature, the settings it still needs.
func configChecks(cfg *config.Config) []DoctorCheck {
	var checks []DoctorCheck
	add := func(category, name string, err error, missingStatus, remediation string) {
		c := DoctorCheck{Category: category, Name: name, Status: StatusOK, Message: "configured"}
		if err != nil {
			c.Status = missingStatus
			c.Message = describeMissing(err)
			c.Remediation = remediation
		}
		checks = append(checks, c)
	}

	var authErr error
	if cfg.API.Auth.JWTSecret == "" {
		authErr = &errors.ErrMissingEnv{Names: []string{"api.auth.jwt_secret"}}
	}
	add("API", "Session auth", authErr, StatusFail, "set the auth provider's JWT secret")

	add("Integrations", "Fortnox OAuth", cfg.Integrations.Fortnox.Require("fortnox"), StatusWarn,
		"register the app in the Fortnox developer portal")
	add("Integrations", "Google OAuth", cfg.Integrations.Google.Require("google"), StatusWarn,
		"create an OAuth client in Google Cloud console")

	var stateErr error
	if cfg.Integrations.StateSecret == "" {
		stateErr = &errors.ErrMissingEnv{Names: []string{"integrations.state_secret"}}
	}
	add("Integrations", "OAuth state", stateErr, StatusWarn, "set a random state secret")

	add("Reports", "Cron secret", cfg.Reports.RequireCron(), StatusWarn, "set reports.cron_secret to the scheduler's secret")
	smtpStatus := StatusWarn
	if cfg.Reports.DryRun {
		smtpStatus = StatusOK
	}
	add("Reports", "SMTP", cfg.Reports.RequireSMTP(), smtpStatus, "configure reports.smtp or enable dry_run")

	var unsplashErr error
	if cfg.Unsplash.AccessKey == "" {
		unsplashErr = &errors.ErrMissingEnv{Names: []string{"unsplash.access_key"}}
	}
	add("Blog", "Unsplash images", unsplashErr, StatusWarn, "posts publish without a cover image")

	blog := DoctorCheck{Category: "Blog", Name: "Publish mode", Status: StatusOK, Message: cfg.Blog.PublishMode}
	if cfg.Blog.TestMode() {
		blog.Status = StatusWarn
		blog.Remediation = "published posts are flagged as test posts"
	}
	checks = append(checks, blog)

	tg := DoctorCheck{Category: "Notify", Name: "Telegram", Status: StatusOK, Message: "disabled"}
	if cfg.Telegram.Enabled {
		tg.Message = fmt.Sprintf("chat %d", cfg.Telegram.ChatID)
	}
	checks = append(checks, tg)
	return checks
}

func describeMissing(err error) string {
	var missing *errors.ErrMissingEnv
	if stderrors.As(err, &missing) {
		return "missing " + strings.Join(missing.Names, ", ")
	}
	return err.Error()
}

func databaseCheck(ctx context.Context, a *app) DoctorCheck {
	c := DoctorCheck{Category: "Database", Name: a.cfg.Database.Driver, Status: StatusOK}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.store.Ping(ctx); err != nil {
		c.Status = StatusFail
		c.Message = err.Error()
		return c
	}
	c.Message = "reachable"
	if a.cfg.Database.Driver == "sqlite" {
		c.Message = "reachable at " + a.cfg.Database.Path
	}
	return c
}

func renderDoctorReport(w io.Writer, r DoctorReport) {
	fmt.Fprintf(w, "crmhub %s (%s %s/%s)\n", r.Version.Version, runtime.Version(), r.Version.OS, r.Version.Arch)
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Category", "Check", "Status", "Message", "Remediation"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	for _, c := range r.Checks {
		table.Append([]string{c.Category, c.Name, c.Status, c.Message, c.Remediation})
	}
	table.Render()
}
