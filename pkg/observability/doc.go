// Package observability provides structured logging, Prometheus metrics and
// panic recovery for the HQ bridge service.
package observability
