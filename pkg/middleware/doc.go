// Package middleware holds the HTTP interceptor chain: request ids, panic
// recovery, metrics, session loading, domain selection and role syncing.
//
// The chain is explicit and composed in the router; nothing here hooks
// into the host framework implicitly. Handlers read the session from the
// request context, never from globals.
package middleware
