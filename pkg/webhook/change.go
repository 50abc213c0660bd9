package webhook

import (
	"context"
	"errors"

	"github.com/hq-analytics/hqbridge/pkg/ingest"
	"github.com/hq-analytics/hqbridge/pkg/observability"
	"github.com/hq-analytics/hqbridge/pkg/provision"
)

// DataSetChange is the change envelope HQ delivers when a form or case
// behind a datasource is created, updated or deleted. Data carries the
// current rows for the document; an empty Data means the documents named
// by DocID and DocIDs were deleted. HQ batches case deletions into DocIDs.
type DataSetChange struct {
	DataSourceID string                   `json:"data_source_id"`
	DocID        string                   `json:"doc_id"`
	DocIDs       []string                 `json:"doc_ids,omitempty"`
	Data         []map[string]interface{} `json:"data"`
}

// deletedDocIDs collects every document id a deletion envelope addresses
func (c *DataSetChange) deletedDocIDs() []string {
	if c.DocID == "" {
		return c.DocIDs
	}
	return append([]string{c.DocID}, c.DocIDs...)
}

// ErrChangeInvalid is returned when a change envelope is structurally
// unusable
var ErrChangeInvalid = errors.New("could not parse change request")

// Validate checks the envelope can be applied
func (c *DataSetChange) Validate() error {
	if c.DataSourceID == "" {
		return ErrChangeInvalid
	}
	if len(c.Data) == 0 && c.DocID == "" && len(c.DocIDs) == 0 {
		return ErrChangeInvalid
	}
	for _, row := range c.Data {
		docID, ok := row["doc_id"].(string)
		if !ok || docID == "" {
			return ErrChangeInvalid
		}
	}
	return nil
}

// Processor applies validated change envelopes to tenant tables
type Processor struct {
	tables  *ingest.TabularStore
	metrics *observability.Metrics
}

// NewProcessor creates a change processor
func NewProcessor(tables *ingest.TabularStore, metrics *observability.Metrics) *Processor {
	return &Processor{tables: tables, metrics: metrics}
}

func (p *Processor) count(action, status string) {
	if p.metrics != nil {
		p.metrics.WebhookChangesTotal.WithLabelValues(action, status).Inc()
	}
}

// Apply writes a change into the tenant's table. The token scope decides
// the schema, so an envelope can never reach another tenant's tables. A
// missing table means the datasource was never imported; the change is
// dropped silently.
func (p *Processor) Apply(ctx context.Context, domain string, change DataSetChange) error {
	log := observability.FromContext(ctx).
		WithField("hq_domain", domain).
		WithField("datasource_id", change.DataSourceID)

	action := "upsert"
	if len(change.Data) == 0 {
		action = "delete"
	}

	schema := provision.SchemaName(domain)
	exists, err := p.tables.HasTable(ctx, schema, change.DataSourceID)
	if err != nil {
		p.count(action, "error")
		return err
	}
	if !exists {
		log.Debug("change for unimported datasource, dropping")
		p.count(action, "skipped")
		return nil
	}

	if action == "delete" {
		for _, docID := range change.deletedDocIDs() {
			if err := p.tables.DeleteRow(ctx, schema, change.DataSourceID, docID); err != nil {
				p.count(action, "error")
				return err
			}
		}
		p.count(action, "success")
		return nil
	}

	for _, row := range change.Data {
		if err := p.tables.UpsertRow(ctx, schema, change.DataSourceID, row); err != nil {
			p.count(action, "error")
			return err
		}
	}
	p.count(action, "success")
	return nil
}
