package webhook

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all webhook migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create hq_oauth_client table",
			SQL: `
				CREATE TABLE IF NOT EXISTS hq_oauth_client (
					domain VARCHAR(255) PRIMARY KEY,
					client_id VARCHAR(255) NOT NULL UNIQUE,
					client_secret TEXT NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     2,
			Description: "Create hq_oauth_token table",
			SQL: `
				CREATE TABLE IF NOT EXISTS hq_oauth_token (
					id BIGSERIAL PRIMARY KEY,
					client_id VARCHAR(255) NOT NULL REFERENCES hq_oauth_client(client_id) ON DELETE CASCADE,
					access_token VARCHAR(255) NOT NULL UNIQUE,
					scope VARCHAR(255) NOT NULL,
					revoked BOOLEAN NOT NULL DEFAULT FALSE,
					issued_at TIMESTAMP NOT NULL DEFAULT NOW(),
					expires_at TIMESTAMP NOT NULL
				);

				CREATE INDEX idx_hq_oauth_token_client_id ON hq_oauth_token(client_id);
				CREATE INDEX idx_hq_oauth_token_expires_at ON hq_oauth_token(expires_at);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS webhook_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM webhook_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO webhook_migrations (version, description) VALUES ($1, $2)",
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
