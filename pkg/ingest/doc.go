// Package ingest pulls a tenant's tabular dataset export out of HQ and
// streams it into a tenant-scoped table.
//
// The export is a single CSV inside a zip archive. The pipeline reads it in
// fixed-size row chunks; the first chunk drops and recreates the target
// table, later chunks append, each chunk in its own transaction. After the
// data lands, the BI catalog descriptor for the table is created or updated
// and its column metadata refreshed from the physical table.
package ingest
