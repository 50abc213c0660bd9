// Package importer decides whether a dataset refresh runs inline or on the
// background queue, and tracks which imports are in flight.
//
// Small exports refresh inline in the request. Exports at or above the
// size threshold are queued, and a redis marker keyed by domain and
// datasource prevents a second import from piling onto a running one. The
// marker is always cleared when the queued task finishes, success or not.
package importer
