// Package hq is the HTTP client for the CommCare HQ REST API. It attaches a
// valid OAuth bearer credential to every call, refreshing the session-held
// token when it has expired.
package hq
