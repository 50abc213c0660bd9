package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hq-analytics/hqbridge/pkg/hq"
	"github.com/hq-analytics/hqbridge/pkg/session"
)

// Indicator is one configured column of an HQ datasource
type Indicator struct {
	ColumnID string `json:"column_id"`
	Datatype string `json:"datatype"`
}

// DatasourceDefinition is the schema descriptor HQ serves for a datasource
type DatasourceDefinition struct {
	ID                   string      `json:"id"`
	DisplayName          string      `json:"display_name"`
	ConfiguredIndicators []Indicator `json:"configured_indicators"`
}

// FetchDefinition downloads a datasource's schema descriptor from HQ
func FetchDefinition(ctx context.Context, client *hq.Client, sess *session.Context, domain, datasourceID string) (*DatasourceDefinition, error) {
	resp, err := client.Get(ctx, sess, hq.DatasourceDetailsURL(domain, datasourceID))
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, &hq.APIError{
			Op:         "fetch datasource definition",
			StatusCode: resp.StatusCode,
			Body:       string(resp.Body),
		}
	}

	var defn DatasourceDefinition
	if err := json.Unmarshal(resp.Body, &defn); err != nil {
		return nil, fmt.Errorf("failed to decode datasource definition: %w", err)
	}
	return &defn, nil
}

// Storage column types per HQ indicator datatype. Date-like and array
// indicators are handled out of band, see ColumnTypes.
var indicatorColumnTypes = map[string]string{
	"string":        "TEXT",
	"integer":       "BIGINT",
	"decimal":       "DOUBLE PRECISION",
	"small_integer": "SMALLINT",
}

// ColumnSpec describes how each exported column is typed and converted
type ColumnSpec struct {
	// column name -> storage type, excluding date and array columns
	Types map[string]string

	// parsed through ParseDate, stored as normalized ISO text
	DateColumns []string

	// converted through ConvertToArray, stored as TEXT[]
	ArrayColumns []string
}

// ColumnTypes maps a datasource definition to storage column handling.
// doc_id is always a string column. inserted_at is date-parsed even though
// definitions do not declare it. Unknown indicator datatypes default to
// string.
func ColumnTypes(defn *DatasourceDefinition) ColumnSpec {
	spec := ColumnSpec{
		Types:       map[string]string{"doc_id": "TEXT"},
		DateColumns: []string{"inserted_at"},
	}
	for _, ind := range defn.ConfiguredIndicators {
		datatype := ind.Datatype
		if datatype == "" {
			datatype = "string"
		}
		switch datatype {
		case "array":
			spec.ArrayColumns = append(spec.ArrayColumns, ind.ColumnID)
		case "date", "datetime":
			spec.DateColumns = append(spec.DateColumns, ind.ColumnID)
		default:
			colType, ok := indicatorColumnTypes[datatype]
			if !ok {
				colType = "TEXT"
			}
			spec.Types[ind.ColumnID] = colType
		}
	}
	return spec
}

// IsDate reports whether a column is date-parsed
func (s ColumnSpec) IsDate(column string) bool {
	for _, c := range s.DateColumns {
		if c == column {
			return true
		}
	}
	return false
}

// IsArray reports whether a column is array-converted
func (s ColumnSpec) IsArray(column string) bool {
	for _, c := range s.ArrayColumns {
		if c == column {
			return true
		}
	}
	return false
}

// ColumnType returns the storage type for a column
func (s ColumnSpec) ColumnType(column string) string {
	if s.IsArray(column) {
		return "TEXT[]"
	}
	if s.IsDate(column) {
		// kept as text so an unparseable cell degrades instead of failing
		return "TEXT"
	}
	if t, ok := s.Types[column]; ok {
		return t
	}
	return "TEXT"
}
