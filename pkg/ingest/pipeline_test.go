package ingest

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeExportArchive(t *testing.T, csvContent string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "export.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	member, err := zw.Create("export.csv")
	require.NoError(t, err)
	_, err = member.Write([]byte(csvContent))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return path
}

func TestRefreshDatasourceReplacesThenAppends(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	path := writeExportArchive(t, "doc_id,count\ndoc-1,1\ndoc-2,2\ndoc-3,3\n")
	defn := &DatasourceDefinition{
		ID:                   "abc123",
		ConfiguredIndicators: []Indicator{{ColumnID: "count", Datatype: "integer"}},
	}

	// first chunk of 2 replaces
	mock.ExpectBegin()
	mock.ExpectExec(`DROP TABLE IF EXISTS "hqdomain_demo"."abc123"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE "hqdomain_demo"."abc123"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectPrepare(`INSERT INTO "hqdomain_demo"."abc123"`)
	mock.ExpectExec(`INSERT INTO "hqdomain_demo"."abc123"`).
		WithArgs("doc-1", "1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "hqdomain_demo"."abc123"`).
		WithArgs("doc-2", "2").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// second chunk of 1 appends, no DDL
	mock.ExpectBegin()
	mock.ExpectPrepare(`INSERT INTO "hqdomain_demo"."abc123"`)
	mock.ExpectExec(`INSERT INTO "hqdomain_demo"."abc123"`).
		WithArgs("doc-3", "3").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// catalog refresh reads physical columns, then upserts the descriptor
	mock.ExpectQuery("SELECT column_name, data_type").
		WithArgs("hqdomain_demo", "abc123").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type"}).
			AddRow("doc_id", "text").
			AddRow("count", "bigint"))
	mock.ExpectQuery("INSERT INTO dataset_catalog").
		WithArgs("abc123", "hqdomain_demo", int64(1), "My Report", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "updated_at"}).AddRow(int64(10), time.Now()))

	pipeline := NewPipeline(NewTabularStore(db), NewCatalog(db), 1, 2, nil)
	err = pipeline.RefreshDatasource(context.Background(), "demo", "abc123", "My Report", path, defn)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshDatasourceEmptyExportStillResetsTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	path := writeExportArchive(t, "doc_id,count\n")
	defn := &DatasourceDefinition{
		ID:                   "abc123",
		ConfiguredIndicators: []Indicator{{ColumnID: "count", Datatype: "integer"}},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`DROP TABLE IF EXISTS "hqdomain_demo"."abc123"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE "hqdomain_demo"."abc123"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	mock.ExpectQuery("SELECT column_name, data_type").
		WithArgs("hqdomain_demo", "abc123").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type"}).
			AddRow("doc_id", "text").
			AddRow("count", "bigint"))
	mock.ExpectQuery("INSERT INTO dataset_catalog").
		WithArgs("abc123", "hqdomain_demo", int64(1), "My Report", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "updated_at"}).AddRow(int64(10), time.Now()))

	pipeline := NewPipeline(NewTabularStore(db), NewCatalog(db), 1, 2, nil)
	require.NoError(t, pipeline.RefreshDatasource(context.Background(), "demo", "abc123", "My Report", path, defn))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshDatasourceChunkFailureAborts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	path := writeExportArchive(t, "doc_id\ndoc-1\n")
	defn := &DatasourceDefinition{ID: "abc123"}

	mock.ExpectBegin()
	mock.ExpectExec(`DROP TABLE IF EXISTS "hqdomain_demo"."abc123"`).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	pipeline := NewPipeline(NewTabularStore(db), NewCatalog(db), 1, 2, nil)
	err = pipeline.RefreshDatasource(context.Background(), "demo", "abc123", "My Report", path, defn)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenExportCSVRejectsArchiveWithoutCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	member, err := zw.Create("readme.txt")
	require.NoError(t, err)
	_, err = member.Write([]byte("no data here"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	_, _, err = openExportCSV(path)
	assert.Error(t, err)
}
