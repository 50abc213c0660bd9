// Package provision manages per-domain storage schemas, roles and
// permissions, and rebuilds a user's role set when they switch HQ domains.
//
// All creation operations are idempotent: concurrent first logins to the
// same domain race benignly instead of crashing.
package provision
