package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// Domain is one HQ project space the user may operate against
type Domain struct {
	DomainName  string `json:"domain_name"`
	ProjectName string `json:"project_name"`
}

// Context is the explicit per-user session state passed through the core
// services. It is owned by one user session; concurrent requests from the
// same session serialise through the web handler model, so mutation is
// last-writer-wins by design.
type Context struct {
	ID       string
	UserID   int64
	Username string
	IsAdmin  bool

	// Credential is the user's HQ OAuth token pair. A zero Expiry means the
	// token does not expire.
	Credential *oauth2.Token

	// Domains the user may select, as reported by HQ at login
	Domains []Domain

	// ActiveDomain is the currently selected HQ domain, if any
	ActiveDomain string

	// RoleLastSyncedAt records when the domain role set was last rebuilt
	RoleLastSyncedAt time.Time
}

// DomainNames returns the names of the user's accessible domains. Admins see
// every domain, so their explicit list is empty.
func (c *Context) DomainNames() []string {
	if c.IsAdmin {
		return nil
	}
	names := make([]string, 0, len(c.Domains))
	for _, d := range c.Domains {
		names = append(names, d.DomainName)
	}
	return names
}

// HasDomain reports whether the user may select the given domain
func (c *Context) HasDomain(domain string) bool {
	if c.IsAdmin {
		return true
	}
	for _, d := range c.Domains {
		if d.DomainName == domain {
			return true
		}
	}
	return false
}

// Store persists session contexts. The host application owns the real
// session backend; the bridge only needs load and save.
type Store interface {
	Load(ctx context.Context, id string) (*Context, error)
	Save(ctx context.Context, sess *Context) error
	Delete(ctx context.Context, id string) error
}

// ErrNotFound is returned by Store.Load for unknown session ids
var ErrNotFound = fmt.Errorf("session not found")

// MemoryStore is an in-process Store for tests and single-node deployments
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Context
}

// NewMemoryStore creates an empty in-memory session store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Context)}
}

// Load retrieves a session by id
func (s *MemoryStore) Load(_ context.Context, id string) (*Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Save stores a session, overwriting any previous state
func (s *MemoryStore) Save(_ context.Context, sess *Context) error {
	if sess.ID == "" {
		return fmt.Errorf("session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

// Delete removes a session
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// ctxKey is the context key type for the request-scoped session
type ctxKey struct{}

// WithContext attaches a session to a request context
func WithContext(ctx context.Context, sess *Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, sess)
}

// FromContext retrieves the session from a request context, or nil
func FromContext(ctx context.Context) *Context {
	sess, _ := ctx.Value(ctxKey{}).(*Context)
	return sess
}
