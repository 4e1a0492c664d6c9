package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crmhub/crmhub/internal/store/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Apply pending schema migrations.

Postgres migrations are embedded goose files. SQLite databases are migrated
whenever they are opened, so for the sqlite driver this only opens the file.

Examples:
  crmhub migrate
  crmhub migrate --status`,
	RunE: runMigrate,
}

var migrateFlags struct {
	Status bool
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateFlags.Status, "status", false, "Print the current schema version without migrating")
	RootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	loader := newLoader(globalFlags.Config, bootLogger())
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	out := cmd.OutOrStdout()

	if cfg.Database.Driver != "postgres" || globalFlags.DBPath != "" {
		path := cfg.Database.Path
		if globalFlags.DBPath != "" {
			path = globalFlags.DBPath
		}
		a, err := loadStore(ctx)
		if err != nil {
			return err
		}
		a.Close()
		fmt.Fprintf(out, "SQLite database %s is up to date\n", path)
		return nil
	}

	if !migrateFlags.Status {
		if err := postgres.Migrate(ctx, cfg.Database.URL); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
	}
	v, err := postgres.MigrationStatus(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("read migration status: %w", err)
	}
	fmt.Fprintf(out, "Postgres schema version %d\n", v)
	return nil
}
