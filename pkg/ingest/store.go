package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"
)

// TabularStore writes exported rows into tenant-scoped postgres tables
type TabularStore struct {
	db *sql.DB
}

// NewTabularStore creates a tabular store on the given database
func NewTabularStore(db *sql.DB) *TabularStore {
	return &TabularStore{db: db}
}

func qualifiedTable(schema, table string) string {
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(table)
}

// convertCell maps one CSV cell to its insert parameter
func convertCell(spec ColumnSpec, column, cell string) interface{} {
	switch {
	case spec.IsArray(column):
		return pq.Array(ConvertToArray(cell))
	case spec.IsDate(column):
		return ParseDate(cell)
	default:
		// empty cells in typed columns must land as NULL, not as a
		// failed numeric cast
		if cell == "" || cell == "NaN" {
			if spec.ColumnType(column) != "TEXT" {
				return nil
			}
			if cell == "NaN" {
				return nil
			}
		}
		return cell
	}
}

// WriteChunk writes one chunk of rows in a single transaction. With replace
// set, the target table is dropped and recreated from the column list
// before the rows are inserted; otherwise the rows append.
func (s *TabularStore) WriteChunk(ctx context.Context, schema, table string, columns []string, spec ColumnSpec, rows [][]string, replace bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start chunk transaction: %w", err)
	}
	defer tx.Rollback()

	target := qualifiedTable(schema, table)
	if replace {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+target); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", table, err)
		}
		if _, err := tx.ExecContext(ctx, createTableSQL(target, columns, spec)); err != nil {
			return fmt.Errorf("failed to create table %s: %w", table, err)
		}
	}

	if len(rows) > 0 {
		stmt, err := tx.PrepareContext(ctx, insertSQL(target, columns))
		if err != nil {
			return fmt.Errorf("failed to prepare insert for %s: %w", table, err)
		}
		defer stmt.Close()

		args := make([]interface{}, len(columns))
		for _, row := range rows {
			if len(row) != len(columns) {
				return fmt.Errorf("row has %d cells, expected %d", len(row), len(columns))
			}
			for i, cell := range row {
				args[i] = convertCell(spec, columns[i], cell)
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("failed to insert row into %s: %w", table, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunk: %w", err)
	}
	return nil
}

func createTableSQL(target string, columns []string, spec ColumnSpec) string {
	defs := make([]string, 0, len(columns))
	for _, col := range columns {
		def := pq.QuoteIdentifier(col) + " " + spec.ColumnType(col)
		if col == "doc_id" {
			def += " PRIMARY KEY"
		}
		defs = append(defs, def)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", target, strings.Join(defs, ", "))
}

func insertSQL(target string, columns []string) string {
	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = pq.QuoteIdentifier(col)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		target, strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
}

// UpsertRow inserts a row keyed by doc_id, updating all other columns on
// conflict. The table must exist; callers handle the missing-table case.
func (s *TabularStore) UpsertRow(ctx context.Context, schema, table string, row map[string]interface{}) error {
	if _, ok := row["doc_id"]; !ok {
		return fmt.Errorf("row has no doc_id")
	}

	columns := make([]string, 0, len(row))
	for col := range row {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	args := make([]interface{}, len(columns))
	var updates []string
	for i, col := range columns {
		quoted[i] = pq.QuoteIdentifier(col)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = row[col]
		if col != "doc_id" {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s",
				pq.QuoteIdentifier(col), pq.QuoteIdentifier(col)))
		}
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (doc_id) DO UPDATE SET %s",
		qualifiedTable(schema, table),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(updates, ", "))
	if len(updates) == 0 {
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (doc_id) DO NOTHING",
			qualifiedTable(schema, table),
			strings.Join(quoted, ", "),
			strings.Join(placeholders, ", "))
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert into %s: %w", table, err)
	}
	return nil
}

// DeleteRow removes a row by doc_id. Deleting an absent row is a no-op.
func (s *TabularStore) DeleteRow(ctx context.Context, schema, table, docID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE doc_id = $1", qualifiedTable(schema, table))
	if _, err := s.db.ExecContext(ctx, query, docID); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return nil
}

// HasTable reports whether a table exists in a schema
func (s *TabularStore) HasTable(ctx context.Context, schema, table string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = $2
		)
	`, schema, table).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check table %s.%s: %w", schema, table, err)
	}
	return exists, nil
}

// TableColumn is one physical column of an ingested table
type TableColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TableColumns reads a table's physical column metadata
func (s *TabularStore) TableColumns(ctx context.Context, schema, table string) ([]TableColumn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`, schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var cols []TableColumn
	for rows.Next() {
		var c TableColumn
		if err := rows.Scan(&c.Name, &c.Type); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}
