package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/crmhub/crmhub/internal/api"
	"github.com/crmhub/crmhub/internal/config"
	"github.com/crmhub/crmhub/internal/logging"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s", "server", "run"},
	Short:   "Start the crmhub HTTP API",
	Long: `Start the HTTP API.

The server exposes the blog, Fortnox sync, Search Console analytics,
integration OAuth and cron report endpoints. The config file is watched;
log level changes apply without a restart.

Example:
  crmhub serve --config config.yaml`,
	RunE: runServe,
}

var serveFlags struct {
	Host    string
	Port    int
	Timeout time.Duration
	NoWatch bool
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.Host, "host", "", "Server host (overrides config)")
	serveCmd.Flags().IntVar(&serveFlags.Port, "port", 0, "Server port (overrides config)")
	serveCmd.Flags().DurationVar(&serveFlags.Timeout, "timeout", 0, "Shutdown timeout (overrides config)")
	serveCmd.Flags().BoolVar(&serveFlags.NoWatch, "no-watch", false, "Do not reload the config file on change")

	RootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	if serveFlags.Host != "" {
		cfg.Server.Host = serveFlags.Host
	}
	if serveFlags.Port != 0 {
		cfg.Server.HTTPPort = serveFlags.Port
	}
	if serveFlags.Timeout > 0 {
		cfg.Server.ShutdownTimeout = serveFlags.Timeout
	}

	server := api.NewServer(cfg, a.deps())

	if !serveFlags.NoWatch {
		a.loader.SetOnChange(reloadHandler(a.logger))
		if err := a.loader.StartWatcher(); err != nil {
			a.logger.Warn("config watcher disabled", "error", err)
		} else {
			defer a.loader.StopWatcher()
		}
	}

	a.logger.Info("crmhub starting",
		"version", version,
		"database", cfg.Database.Driver,
		"blog_mode", cfg.Blog.PublishMode,
		"reports_dry_run", cfg.Reports.DryRun,
		"telegram", a.notifier != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run()
	}()

	sigCh := api.SetupSignalHandler()
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case sig := <-sigCh:
		a.logger.Info("received signal", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// reloadHandler applies the settings that can change at runtime.
func reloadHandler(logger *logging.Logger) func(*config.Config) {
	return func(next *config.Config) {
		level := logging.ParseLevel(next.Server.LogLevel)
		if globalFlags.Verbose {
			level = logging.LevelDebug
		}
		if level != logger.Level() {
			logger.SetLevel(level)
			logger.Info("log level changed", "level", next.Server.LogLevel)
		}
		logger.Info("config reloaded; restart to apply server, database and integration changes")
	}
}
