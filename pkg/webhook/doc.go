// Package webhook receives dataset change notifications from HQ and issues
// the client-credentials tokens HQ authenticates those deliveries with.
//
// Each HQ domain gets one webhook client whose secret is encrypted at rest.
// Tokens are opaque, expire after a day and follow revoke-on-issue: issuing
// a new token revokes the client's previous ones, so at most one token per
// client is ever live.
package webhook
