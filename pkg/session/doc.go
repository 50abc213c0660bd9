// Package session models the per-user session state the bridge depends on:
// the HQ OAuth credential, the user's accessible domains, the active domain
// and the time the domain role set was last synced.
//
// Core services take an explicit *session.Context instead of reaching into
// ambient request state, so every mutation is visible at the call site.
package session
