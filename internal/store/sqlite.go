package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/crmhub/crmhub/internal/errors"
	"github.com/crmhub/crmhub/internal/logging"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on SQLite with WAL mode.
// Writes are serialised through mu; reads go straight to the pool.
type SQLiteStore struct {
	mu     sync.Mutex
	db     *sql.DB
	logger *logging.Logger
	now    func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at dbPath and migrates it.
func NewSQLiteStore(dbPath string, logger *logging.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &errors.ErrDirectoryCreate{Path: dir, Err: err}
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// runMigrations applies the numbered schema steps that have not run yet.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "create migrations table", Err: err}
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "get current migration version", Err: err}
	}

	migrations := []struct {
		version int
		up      string
	}{
		{
			version: 1,
			up: `
				CREATE TABLE IF NOT EXISTS integration_credentials (
					user_id TEXT NOT NULL,
					service TEXT NOT NULL,
					access_token TEXT NOT NULL DEFAULT '',
					refresh_token TEXT NOT NULL DEFAULT '',
					expires_at DATETIME,
					settings_data TEXT,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL,
					PRIMARY KEY (user_id, service)
				);

				CREATE TABLE IF NOT EXISTS customers (
					id TEXT PRIMARY KEY,
					workspace_id TEXT NOT NULL,
					user_id TEXT NOT NULL,
					customer_number TEXT NOT NULL DEFAULT '',
					name TEXT NOT NULL,
					email TEXT NOT NULL DEFAULT '',
					phone TEXT NOT NULL DEFAULT '',
					organisation_number TEXT NOT NULL DEFAULT '',
					address TEXT NOT NULL DEFAULT '',
					zip_code TEXT NOT NULL DEFAULT '',
					city TEXT NOT NULL DEFAULT '',
					country TEXT NOT NULL DEFAULT '',
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_customers_number
					ON customers(workspace_id, customer_number) WHERE customer_number <> '';
				CREATE INDEX IF NOT EXISTS idx_customers_name ON customers(workspace_id, name);

				CREATE TABLE IF NOT EXISTS invoices (
					id TEXT PRIMARY KEY,
					workspace_id TEXT NOT NULL,
					user_id TEXT NOT NULL,
					document_number TEXT NOT NULL,
					customer_number TEXT NOT NULL DEFAULT '',
					customer_name TEXT NOT NULL DEFAULT '',
					invoice_date TEXT NOT NULL DEFAULT '',
					due_date TEXT NOT NULL DEFAULT '',
					total REAL NOT NULL DEFAULT 0,
					balance REAL NOT NULL DEFAULT 0,
					currency TEXT NOT NULL DEFAULT '',
					cancelled INTEGER NOT NULL DEFAULT 0,
					sent INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL,
					UNIQUE (document_number, workspace_id)
				);
			`,
		},
		{
			version: 2,
			up: `
				CREATE TABLE IF NOT EXISTS generated_content (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					title TEXT NOT NULL,
					content TEXT NOT NULL DEFAULT '',
					meta_description TEXT NOT NULL DEFAULT '',
					keywords TEXT NOT NULL DEFAULT '[]',
					image_url TEXT NOT NULL DEFAULT '',
					image_credit TEXT NOT NULL DEFAULT '',
					blog_post_url TEXT NOT NULL DEFAULT '',
					published_to_blog INTEGER NOT NULL DEFAULT 0,
					is_test_post INTEGER NOT NULL DEFAULT 0,
					published_at DATETIME,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_content_published
					ON generated_content(published_to_blog, published_at);
			`,
		},
		{
			version: 3,
			up: `
				CREATE TABLE IF NOT EXISTS cron_jobs (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					workspace_id TEXT NOT NULL DEFAULT '',
					report_type TEXT NOT NULL,
					recipients TEXT NOT NULL DEFAULT '[]',
					interval_seconds INTEGER NOT NULL,
					enabled INTEGER NOT NULL DEFAULT 1,
					next_run_at DATETIME NOT NULL,
					last_run_at DATETIME,
					last_status TEXT NOT NULL DEFAULT 'pending',
					last_error TEXT NOT NULL DEFAULT '',
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_cron_jobs_due ON cron_jobs(enabled, next_run_at);
			`,
		},
	}

	tx, err := db.Begin()
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "begin transaction", Err: err}
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, m := range migrations {
		if m.version > currentVersion {
			if _, err := tx.Exec(m.up); err != nil {
				return &errors.ErrDatabaseMigration{Version: m.version, Err: err}
			}
			if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
				return &errors.ErrDatabaseMigration{Version: m.version, Err: err}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return &errors.ErrDatabaseQuery{Operation: "commit migrations", Err: err}
	}

	return nil
}

// SchemaVersion returns the highest applied migration.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v)
	if err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "schema version", Err: err}
	}
	return v, nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullTime(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
