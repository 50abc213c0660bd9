// Package server wires the HTTP surface of the bridge: webhook and token
// endpoints reachable by HQ, and session-scoped domain and datasource
// endpoints reachable by the host BI application.
package server
