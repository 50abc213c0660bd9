package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CatalogEntry is the BI-layer descriptor of an ingested table, keyed by
// (table name, schema, target database)
type CatalogEntry struct {
	ID          int64         `json:"id"`
	TableName   string        `json:"table_name"`
	SchemaName  string        `json:"schema_name"`
	DatabaseID  int64         `json:"database_id"`
	Description string        `json:"description"`
	Columns     []TableColumn `json:"columns"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Catalog persists table descriptors for the BI layer
type Catalog struct {
	db *sql.DB
}

// NewCatalog creates a catalog store
func NewCatalog(db *sql.DB) *Catalog {
	return &Catalog{db: db}
}

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all ingest migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create dataset_catalog table",
			SQL: `
				CREATE TABLE IF NOT EXISTS dataset_catalog (
					id BIGSERIAL PRIMARY KEY,
					table_name VARCHAR(255) NOT NULL,
					schema_name VARCHAR(255) NOT NULL,
					database_id BIGINT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					columns JSONB NOT NULL DEFAULT '[]',
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(table_name, schema_name, database_id)
				);

				CREATE INDEX idx_dataset_catalog_schema_name ON dataset_catalog(schema_name);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ingest_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM ingest_migrations ORDER BY version")
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
			"INSERT INTO ingest_migrations (version, description) VALUES ($1, $2)",
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

// Upsert creates or updates a descriptor, replacing its description and
// column metadata
func (c *Catalog) Upsert(ctx context.Context, entry *CatalogEntry) error {
	columnsJSON, err := json.Marshal(entry.Columns)
	if err != nil {
		return fmt.Errorf("failed to marshal catalog columns: %w", err)
	}

	err = c.db.QueryRowContext(ctx, `
		INSERT INTO dataset_catalog (table_name, schema_name, database_id, description, columns, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (table_name, schema_name, database_id)
		DO UPDATE SET description = EXCLUDED.description, columns = EXCLUDED.columns, updated_at = NOW()
		RETURNING id, updated_at
	`, entry.TableName, entry.SchemaName, entry.DatabaseID, entry.Description, string(columnsJSON),
	).Scan(&entry.ID, &entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert catalog entry for %s: %w", entry.TableName, err)
	}
	return nil
}

// Get retrieves a descriptor by its natural key
func (c *Catalog) Get(ctx context.Context, tableName, schemaName string, databaseID int64) (*CatalogEntry, error) {
	var entry CatalogEntry
	var columnsJSON string
	err := c.db.QueryRowContext(ctx, `
		SELECT id, table_name, schema_name, database_id, description, columns, updated_at
		FROM dataset_catalog
		WHERE table_name = $1 AND schema_name = $2 AND database_id = $3
	`, tableName, schemaName, databaseID).Scan(
		&entry.ID, &entry.TableName, &entry.SchemaName, &entry.DatabaseID,
		&entry.Description, &columnsJSON, &entry.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get catalog entry for %s: %w", tableName, err)
	}
	if err := json.Unmarshal([]byte(columnsJSON), &entry.Columns); err != nil {
		return nil, fmt.Errorf("failed to decode catalog columns: %w", err)
	}
	return &entry, nil
}
