package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id UUID PRIMARY KEY,
					provider VARCHAR(32) NOT NULL,
					provider_internal_id VARCHAR(255) NOT NULL,
					login VARCHAR(255) NOT NULL,
					name VARCHAR(255),
					email VARCHAR(320),
					avatar_url TEXT,
					access_token TEXT,
					access_token_secret TEXT,
					refresh_token TEXT,
					allowed_accounts JSONB,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					last_login_at TIMESTAMP,
					UNIQUE(provider, provider_internal_id)
				);

				CREATE INDEX idx_users_provider_login ON users(provider, LOWER(login));
			`,
		},
		{
			Version:     2,
			Description: "Create accounts table",
			SQL: `
				CREATE TABLE IF NOT EXISTS accounts (
					id VARCHAR(255) PRIMARY KEY,
					provider VARCHAR(32) NOT NULL,
					login VARCHAR(255) NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     3,
			Description: "Create saml_provider_configs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS saml_provider_configs (
					id UUID PRIMARY KEY,
					account_id VARCHAR(255) NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
					enabled BOOLEAN NOT NULL DEFAULT FALSE,
					entity_id TEXT NOT NULL,
					sso_url TEXT NOT NULL,
					certificate TEXT NOT NULL,
					audience TEXT,
					email_attribute VARCHAR(255),
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_saml_provider_configs_account_id ON saml_provider_configs(account_id);
			`,
		},
		{
			Version:     4,
			Description: "Create saml_identities table",
			SQL: `
				CREATE TABLE IF NOT EXISTS saml_identities (
					id UUID PRIMARY KEY,
					provider_config_id UUID NOT NULL REFERENCES saml_provider_configs(id) ON DELETE CASCADE,
					external_id VARCHAR(512) NOT NULL,
					email VARCHAR(320),
					linked_user_id UUID REFERENCES users(id) ON DELETE SET NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(provider_config_id, external_id)
				);

				CREATE INDEX idx_saml_identities_linked_user_id ON saml_identities(linked_user_id);
			`,
		},
		{
			Version:     5,
			Description: "Create audit_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_events (
					id BIGSERIAL PRIMARY KEY,
					timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
					event_type VARCHAR(64) NOT NULL,
					status VARCHAR(16) NOT NULL,
					provider VARCHAR(32),
					principal VARCHAR(320),
					user_id UUID,
					saml_identity_id UUID,
					provider_config_id VARCHAR(64),
					ip_address VARCHAR(45),
					user_agent TEXT,
					request_id VARCHAR(100),
					method VARCHAR(10),
					path TEXT,
					error_code VARCHAR(64),
					message TEXT,
					metadata JSONB
				);

				CREATE INDEX idx_audit_events_timestamp ON audit_events(timestamp DESC);
				CREATE INDEX idx_audit_events_principal ON audit_events(principal, timestamp DESC);
				CREATE INDEX idx_audit_events_event_type ON audit_events(event_type);
			`,
		},
	}
}

// RunMigrations applies every migration not yet recorded in schema_migrations
func RunMigrations(ctx context.Context, db *sql.DB, logger logrus.FieldLogger) error {
	if logger == nil {
		logger = logrus.New()
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Running migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
