package ingest

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hq-analytics/hqbridge/pkg/observability"
	"github.com/hq-analytics/hqbridge/pkg/provision"
)

// DefaultChunkSize is how many CSV rows land per transaction
const DefaultChunkSize = 10_000

// Pipeline streams dataset exports into tenant tables and keeps the BI
// catalog in step
type Pipeline struct {
	tables     *TabularStore
	catalog    *Catalog
	databaseID int64
	chunkSize  int
	metrics    *observability.Metrics
	mode       string
}

// NewPipeline creates an ingestion pipeline targeting the catalog database
// entry identified by databaseID. chunkSize <= 0 selects DefaultChunkSize.
func NewPipeline(tables *TabularStore, catalog *Catalog, databaseID int64, chunkSize int, metrics *observability.Metrics) *Pipeline {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Pipeline{
		tables:     tables,
		catalog:    catalog,
		databaseID: databaseID,
		chunkSize:  chunkSize,
		metrics:    metrics,
		mode:       "sync",
	}
}

// WithMode returns a copy of the pipeline whose metrics carry the given
// ingest mode label, e.g. "async" for queued imports
func (p *Pipeline) WithMode(mode string) *Pipeline {
	q := *p
	q.mode = mode
	return &q
}

// RefreshDatasource rebuilds a tenant's table from a downloaded export. The
// first chunk replaces the table, later chunks append, each in its own
// transaction; a failure on any chunk aborts the run with the pending
// transaction rolled back. On success the catalog descriptor is upserted
// with the display name and the table's physical columns.
func (p *Pipeline) RefreshDatasource(ctx context.Context, domain, datasourceID, displayName, filePath string, defn *DatasourceDefinition) (err error) {
	log := observability.FromContext(ctx).
		WithField("hq_domain", domain).
		WithField("datasource_id", datasourceID)

	start := time.Now()
	defer func() {
		if p.metrics == nil {
			return
		}
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.IngestsTotal.WithLabelValues(p.mode, status).Inc()
		p.metrics.IngestDuration.WithLabelValues(p.mode).Observe(time.Since(start).Seconds())
	}()

	spec := ColumnTypes(defn)
	schema := provision.SchemaName(domain)

	reader, closer, err := openExportCSV(filePath)
	if err != nil {
		return err
	}
	defer closer.Close()

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read export header: %w", err)
	}

	var totalRows int64
	chunk := make([][]string, 0, p.chunkSize)
	replace := true

	flush := func() error {
		if err := p.tables.WriteChunk(ctx, schema, datasourceID, header, spec, chunk, replace); err != nil {
			return err
		}
		totalRows += int64(len(chunk))
		replace = false
		chunk = chunk[:0]
		return nil
	}

	for {
		row, readErr := reader.Read()
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("failed to read export row: %w", readErr)
		}
		chunk = append(chunk, row)
		if len(chunk) == p.chunkSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	// the first chunk must always be written, even for an empty export, so
	// replace semantics still reset the table
	if len(chunk) > 0 || replace {
		if err := flush(); err != nil {
			return err
		}
	}

	columns, err := p.tables.TableColumns(ctx, schema, datasourceID)
	if err != nil {
		return err
	}
	entry := &CatalogEntry{
		TableName:   datasourceID,
		SchemaName:  schema,
		DatabaseID:  p.databaseID,
		Description: displayName,
		Columns:     columns,
	}
	if err := p.catalog.Upsert(ctx, entry); err != nil {
		return err
	}

	if p.metrics != nil {
		p.metrics.IngestRowsTotal.WithLabelValues(p.mode).Add(float64(totalRows))
	}
	log.WithField("rows", totalRows).Info("datasource refreshed")
	return nil
}

// openExportCSV opens the single CSV member of a zipped export
func openExportCSV(filePath string) (*csv.Reader, io.Closer, error) {
	archive, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open export archive: %w", err)
	}

	for _, member := range archive.File {
		if member.FileInfo().IsDir() {
			continue
		}
		if !strings.HasSuffix(strings.ToLower(member.Name), ".csv") {
			continue
		}
		f, err := member.Open()
		if err != nil {
			archive.Close()
			return nil, nil, fmt.Errorf("failed to open export member %s: %w", member.Name, err)
		}
		return csv.NewReader(f), &exportCloser{file: f, archive: archive}, nil
	}

	archive.Close()
	return nil, nil, fmt.Errorf("export archive has no CSV member")
}

type exportCloser struct {
	file    io.ReadCloser
	archive *zip.ReadCloser
}

func (c *exportCloser) Close() error {
	c.file.Close()
	return c.archive.Close()
}
