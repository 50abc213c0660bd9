// Package access resolves a user's read/write permissions and platform role
// names for an HQ domain. Resolution is fail-closed: any transport error,
// non-200 response or malformed body yields no access.
package access
