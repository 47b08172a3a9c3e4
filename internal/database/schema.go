package database

import "context"

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS pool_config (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		strategy TEXT NOT NULL,
		max_failures INT NOT NULL,
		health_check_interval_secs INT NOT NULL,
		retry_interval_secs INT NOT NULL,
		round_robin_cursor INT NOT NULL,
		is_active BOOLEAN NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS domains (
		id TEXT PRIMARY KEY,
		host TEXT NOT NULL,
		protocol TEXT NOT NULL,
		status TEXT NOT NULL,
		weight INT NOT NULL,
		ord INT NOT NULL,
		health_check_path TEXT NOT NULL,
		consecutive_failures INT NOT NULL DEFAULT 0,
		total_requests BIGINT NOT NULL DEFAULT 0,
		total_failures BIGINT NOT NULL DEFAULT 0,
		last_checked_at TIMESTAMPTZ,
		last_failed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS live_codes (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		distribution_mode TEXT NOT NULL,
		total_pv BIGINT NOT NULL DEFAULT 0,
		main_url TEXT NOT NULL,
		h5_title TEXT,
		h5_description TEXT,
		sub_codes JSONB NOT NULL,
		domain_config JSONB,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS domain_bindings (
		domain_id TEXT NOT NULL,
		host TEXT NOT NULL,
		live_code_id TEXT NOT NULL,
		live_code_name TEXT NOT NULL,
		role TEXT NOT NULL,
		priority INT,
		bound_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (domain_id, live_code_id, role)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_domain_bindings_live_code ON domain_bindings (live_code_id)`,
	`CREATE INDEX IF NOT EXISTS idx_domains_status ON domains (status)`,
}

// EnsureSchema creates the tables this service needs. Statements are
// idempotent so startup can run them unconditionally.
func (d *Database) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := d.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
