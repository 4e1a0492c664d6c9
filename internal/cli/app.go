package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/crmhub/crmhub/internal/api"
	"github.com/crmhub/crmhub/internal/authfetch"
	"github.com/crmhub/crmhub/internal/blog"
	"github.com/crmhub/crmhub/internal/config"
	"github.com/crmhub/crmhub/internal/credentials"
	"github.com/crmhub/crmhub/internal/logging"
	"github.com/crmhub/crmhub/internal/metrics"
	"github.com/crmhub/crmhub/internal/models"
	"github.com/crmhub/crmhub/internal/notify"
	"github.com/crmhub/crmhub/internal/reports"
	"github.com/crmhub/crmhub/internal/store"
	"github.com/crmhub/crmhub/internal/store/postgres"
	"github.com/crmhub/crmhub/internal/syncer"
	"github.com/crmhub/crmhub/internal/unsplash"
)

// app is the wired runtime shared by serve and the one-shot commands.
type app struct {
	cfg      *config.Config
	loader   *config.Loader
	logger   *logging.Logger
	metrics  *metrics.Metrics
	store    store.Store
	notifier *notify.Notifier
	sessions *authfetch.Factory
	oauth    map[models.Service]api.Integration
	syncer   *syncer.Syncer
}

// newLoader builds the config loader with the dotenv files next to the config.
func newLoader(path string, logger *logging.Logger) *config.Loader {
	dir := filepath.Dir(path)
	return config.NewLoader(path,
		config.WithEnvFiles(filepath.Join(dir, ".env"), filepath.Join(dir, ".env.local")),
		config.WithLoaderLogger(logger),
	)
}

// bootLogger is used until the config has been read.
func bootLogger() *logging.Logger {
	return logging.NewLogger(logging.WithOutput(os.Stderr), logging.WithFormat("console"))
}

func newLogger(cfg config.ServerConfig) *logging.Logger {
	level := cfg.LogLevel
	if globalFlags.Verbose {
		level = "debug"
	}
	return logging.NewLogger(
		logging.WithOutput(os.Stderr),
		logging.WithLevel(logging.ParseLevel(level)),
		logging.WithFormat(cfg.LogFormat),
	)
}

// loadStore reads the config and opens the store. Commands that only touch
// local data use it directly.
func loadStore(ctx context.Context) (*app, error) {
	loader := newLoader(globalFlags.Config, bootLogger())
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if globalFlags.DBPath != "" {
		cfg.Database.Driver = "sqlite"
		cfg.Database.Path = globalFlags.DBPath
	}

	a := &app{
		cfg:     cfg,
		loader:  loader,
		logger:  newLogger(cfg.Server),
		metrics: metrics.NewMetrics("crmhub"),
	}

	a.store, err = openStore(ctx, cfg.Database, a.logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// loadApp is loadStore plus the notifier and the integration clients.
func loadApp(ctx context.Context) (*app, error) {
	a, err := loadStore(ctx)
	if err != nil {
		return nil, err
	}
	cfg := a.cfg

	a.notifier, err = notify.New(cfg.Telegram, a.logger)
	if err != nil {
		a.logger.Warn("telegram notifications disabled", "error", err)
	}

	a.oauth = make(map[models.Service]api.Integration)
	refreshers := make(map[models.Service]authfetch.TokenRefresher)
	for service, pc := range map[models.Service]config.ProviderConfig{
		models.ServiceFortnox: cfg.Integrations.Fortnox,
		models.ServiceGoogle:  cfg.Integrations.Google,
	} {
		client := credentials.NewOAuthClient(service, pc, nil)
		refresher := credentials.NewRefresher(client, a.store,
			credentials.WithLogger(a.logger),
			credentials.WithMetrics(a.metrics),
		)
		a.oauth[service] = api.Integration{Client: client, Refresher: refresher}
		refreshers[service] = refresher
	}
	a.sessions = authfetch.NewFactory(credentials.NewLoader(a.store), refreshers,
		authfetch.WithLogger(a.logger),
		authfetch.WithMetrics(a.metrics),
		authfetch.WithFailureHook(a.notifier.ReconnectRequired),
	)
	a.syncer = syncer.New(a.store, a.store, a.logger, a.metrics)
	return a, nil
}

// openStore opens the configured backend. Postgres is migrated first.
func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *logging.Logger) (store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		if err := postgres.Migrate(ctx, cfg.URL); err != nil {
			return nil, fmt.Errorf("failed to migrate postgres: %w", err)
		}
		st, err := postgres.New(ctx, cfg.URL, cfg.MaxConns)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		return st, nil
	default:
		st, err := store.NewSQLiteStore(cfg.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return st, nil
	}
}

// dispatcher builds the report dispatcher. Without SMTP only dry runs work.
func (a *app) dispatcher() *reports.Dispatcher {
	opts := []reports.Option{
		reports.WithAnalytics(reports.NewSearchConsoleSource(a.sessions,
			a.cfg.Integrations.Google, a.cfg.Integrations.SearchConsole, a.metrics)),
		reports.WithNotifier(a.notifier),
		reports.WithLogger(a.logger),
		reports.WithMetrics(a.metrics),
	}
	if mailer, err := reports.NewSMTPMailer(a.cfg.Reports); err == nil {
		opts = append(opts, reports.WithMailer(mailer))
	} else if !a.cfg.Reports.DryRun {
		a.logger.Warn("report mail disabled", "error", err)
	}
	return reports.NewDispatcher(a.store, a.store, a.cfg.Reports, opts...)
}

// deps assembles the HTTP layer's dependencies.
func (a *app) deps() api.Deps {
	images := unsplash.New(a.cfg.Unsplash, nil, a.logger, a.metrics)
	blogOpts := []blog.Option{blog.WithLogger(a.logger)}
	if images.Enabled() {
		blogOpts = append(blogOpts, blog.WithImages(images))
	}
	return api.Deps{
		Store:        a.store,
		Blog:         blog.NewService(a.store, a.cfg.Blog, blogOpts...),
		Sessions:     a.sessions,
		Syncer:       a.syncer,
		Reports:      a.dispatcher(),
		Integrations: a.oauth,
		State:        credentials.NewStateSigner(a.cfg.Integrations.StateSecret, a.cfg.Integrations.StateTTL),
		Metrics:      a.metrics,
		Logger:       a.logger,
	}
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close store", "error", err)
		}
	}
	_ = a.logger.Sync()
}
