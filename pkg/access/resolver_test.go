package access

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/oauth2"

	"github.com/hq-analytics/hqbridge/pkg/hq"
	"github.com/hq-analytics/hqbridge/pkg/session"
)

// newTestResolver points a resolver at a fake HQ serving the given handler
func newTestResolver(t *testing.T, handler http.HandlerFunc) (*Resolver, *session.Context) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	sessions := session.NewMemoryStore()
	tokens := hq.NewTokenProvider("client-id", "client-secret", server.URL+"/oauth/token/", sessions)
	resolver := NewResolver(hq.NewClient(server.URL+"/", tokens))

	sess := &session.Context{
		ID:         "sess-1",
		Credential: &oauth2.Token{AccessToken: "hq-token"},
	}
	return resolver, sess
}

func TestDomainAccessMapsPermissionsAndRoles(t *testing.T) {
	resolver, sess := newTestResolver(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/a/demo/api/v0.5/analytics-roles/", r.URL.Path)
		assert.Equal(t, "Bearer hq-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"permissions": {"can_view": true, "can_edit": true}, "roles": ["gamma", "sql_lab"]}`))
	})

	access := resolver.DomainAccess(context.Background(), sess, "demo")
	assert.True(t, access.CanRead)
	assert.True(t, access.CanWrite)
	assert.Equal(t, []string{"gamma", "sql_lab"}, access.RoleNames)
	assert.False(t, access.None())
}

func TestDomainAccessMapsReadOnly(t *testing.T) {
	resolver, sess := newTestResolver(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"permissions": {"can_view": true, "can_edit": false}, "roles": []}`))
	})

	access := resolver.DomainAccess(context.Background(), sess, "demo")
	assert.True(t, access.CanRead)
	assert.False(t, access.CanWrite)
	assert.False(t, access.None())
}

func TestDomainAccessDeniedOnRejection(t *testing.T) {
	resolver, sess := newTestResolver(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	access := resolver.DomainAccess(context.Background(), sess, "demo")
	assert.True(t, access.None())
	assert.Empty(t, access.RoleNames)
}

func TestDomainAccessDeniedOnMalformedBody(t *testing.T) {
	resolver, sess := newTestResolver(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not the API you were looking for</html>"))
	})

	access := resolver.DomainAccess(context.Background(), sess, "demo")
	assert.True(t, access.None())
}

func TestDomainAccessDeniedOnTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	sessions := session.NewMemoryStore()
	tokens := hq.NewTokenProvider("client-id", "client-secret", server.URL+"/oauth/token/", sessions)
	resolver := NewResolver(hq.NewClient(server.URL+"/", tokens))
	sess := &session.Context{
		ID:         "sess-1",
		Credential: &oauth2.Token{AccessToken: "hq-token"},
	}

	access := resolver.DomainAccess(context.Background(), sess, "demo")
	assert.True(t, access.None())
}

func TestDomainAccessDeniedWithoutCredential(t *testing.T) {
	resolver, _ := newTestResolver(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for a session without a credential")
	})

	access := resolver.DomainAccess(context.Background(), &session.Context{ID: "sess-2"}, "demo")
	assert.True(t, access.None())
}
