package cli

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/crmhub/crmhub/internal/config"
)

// Set at build time with -ldflags "-X github.com/crmhub/crmhub/internal/cli.version=...".
var (
	version   = "0.1.0"
	buildDate = "unknown"
)

// GlobalFlags contains global flags available for all commands
type GlobalFlags struct {
	Config  string
	DBPath  string
	Verbose bool
	JSON    bool
}

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "crmhub",
	Short: "crmhub - CRM integration backend",
	Long: `crmhub is the backend of a small-business CRM. It keeps a local mirror of
Fortnox customers and invoices, reads Google Search Console analytics,
publishes generated articles to the public blog and mails scheduled reports.

Usage:
  crmhub [command] [flags]

Available Commands:
  serve                 Start the HTTP API (main mode)
  sync                  Run a Fortnox customer or invoice sync for one user
  tokens                Inspect stored integration credentials
  backfill-credentials  Move legacy settings blobs into the flat token columns
  migrate               Apply database migrations
  version               Print version information

Flags:
  --config string   Path to configuration file (default "config.yaml")
  --db string       SQLite database path (overrides database settings)
  --verbose         Enable debug logging
  --json            Output in JSON format

Use "crmhub [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// InitRoot initializes the root command with global flags
func InitRoot() {
	RootCmd.PersistentFlags().StringVar(&globalFlags.Config, "config", config.PathFromEnv(), "Path to configuration file")
	RootCmd.PersistentFlags().StringVar(&globalFlags.DBPath, "db", os.Getenv("CRMHUB_DB_PATH"), "SQLite database path (overrides database settings)")
	RootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "Enable debug logging")
	RootCmd.PersistentFlags().BoolVar(&globalFlags.JSON, "json", false, "Output in JSON format")

	RootCmd.AddCommand(versionCmd)
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of crmhub",
	Run: func(cmd *cobra.Command, args []string) {
		printVersion(cmd.OutOrStdout())
	},
}

var globalFlags GlobalFlags

// GetGlobalFlags returns the global flags
func GetGlobalFlags() GlobalFlags {
	return globalFlags
}

func printVersion(w io.Writer) {
	info := GetVersionInfo()
	if globalFlags.JSON {
		_ = writeJSON(w, info)
		return
	}
	fmt.Fprintln(w, "crmhub Version:", info.Version)
	fmt.Fprintln(w, "Go Version:", info.GoVersion)
	fmt.Fprintln(w, "OS/Arch:", info.OS+"/"+info.Arch)
	fmt.Fprintln(w, "Build Date:", info.BuildDate)
}

// VersionInfo contains version information
type VersionInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	BuildDate string `json:"buildDate"`
}

// GetVersionInfo returns version information
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:   version,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		BuildDate: buildDate,
	}
}
