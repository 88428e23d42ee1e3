package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// migrate runs database migrations
func (p *PostgresDB) migrate() error {
	ctx := context.Background()

	if err := p.createMigrationsTable(ctx); err != nil {
		return err
	}

	migrations := []migration{
		{version: 1, name: "job_state", up: migrateV1},
		{version: 2, name: "medallion_layers", up: migrateV2},
		{version: 3, name: "dashboard_view", up: migrateV3},
	}

	for _, m := range migrations {
		if err := p.runMigration(ctx, m); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}
	}

	return nil
}

type migration struct {
	version int
	name    string
	up      func(context.Context, *sql.Tx) error
}

func (p *PostgresDB) createMigrationsTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`
	_, err := p.db.ExecContext(ctx, query)
	return err
}

func (p *PostgresDB) runMigration(ctx context.Context, m migration) error {
	var count int
	err := p.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schema_migrations WHERE version = $1", m.version).Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil // Already applied
	}

	return p.withTx(ctx, func(tx *sql.Tx) error {
		if err := m.up(ctx, tx); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, name) VALUES ($1, $2) ON CONFLICT (version) DO NOTHING",
			m.version, m.name)
		return err
	})
}

func execAll(ctx context.Context, tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.ExecContext(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

// migrateV1 creates profiles, bundles and jobs
func migrateV1(ctx context.Context, tx *sql.Tx) error {
	return execAll(ctx, tx, []string{
		`CREATE TABLE IF NOT EXISTS profiles (
			id TEXT PRIMARY KEY,
			data JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS job_bundles (
			id TEXT PRIMARY KEY,
			profile_id TEXT NOT NULL,
			status TEXT NOT NULL,
			requested_at TIMESTAMPTZ NOT NULL,
			data JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_job_bundles_profile ON job_bundles(profile_id, requested_at DESC)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			bundle_id TEXT NOT NULL REFERENCES job_bundles(id) ON DELETE CASCADE,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			data JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_bundle ON jobs(bundle_id, created_at)`,
	})
}

// migrateV2 creates the raw, clean and aggregate layers plus freshness and alerts
func migrateV2(ctx context.Context, tx *sql.Tx) error {
	return execAll(ctx, tx, []string{
		`CREATE TABLE IF NOT EXISTS raw_records (
			id TEXT PRIMARY KEY,
			profile_id TEXT NOT NULL,
			domain TEXT NOT NULL,
			fetched_at TIMESTAMPTZ NOT NULL,
			data JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_raw_records_fetched ON raw_records(fetched_at)`,
		`CREATE TABLE IF NOT EXISTS clean_signals (
			id TEXT PRIMARY KEY,
			profile_id TEXT NOT NULL,
			domain TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			data JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_clean_signals_lookup ON clean_signals(profile_id, domain, created_at)`,
		`CREATE TABLE IF NOT EXISTS aggregates (
			profile_id TEXT NOT NULL,
			domain TEXT NOT NULL,
			report_date TEXT NOT NULL,
			data JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (profile_id, domain, report_date)
		)`,
		`CREATE TABLE IF NOT EXISTS freshness (
			profile_id TEXT NOT NULL,
			domain TEXT NOT NULL,
			last_refreshed TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (profile_id, domain)
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			profile_id TEXT NOT NULL,
			acknowledged BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL,
			data JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_profile ON alerts(profile_id, created_at DESC)`,
	})
}

// migrateV3 creates the dashboard materialized view. The unique index is
// required for REFRESH MATERIALIZED VIEW CONCURRENTLY.
func migrateV3(ctx context.Context, tx *sql.Tx) error {
	return execAll(ctx, tx, []string{
		`CREATE MATERIALIZED VIEW IF NOT EXISTS dashboard_latest AS
			SELECT DISTINCT ON (profile_id, domain) profile_id, domain, report_date, data
			FROM aggregates
			ORDER BY profile_id, domain, report_date DESC`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_dashboard_latest ON dashboard_latest(profile_id, domain)`,
		`CREATE TABLE IF NOT EXISTS dashboard_refreshes (
			profile_id TEXT PRIMARY KEY,
			refreshed_at TIMESTAMPTZ NOT NULL
		)`,
	})
}
