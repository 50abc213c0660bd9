package middleware

import (
	"net/http"

	"github.com/hq-analytics/hqbridge/pkg/httputil"
	"github.com/hq-analytics/hqbridge/pkg/observability"
	"github.com/hq-analytics/hqbridge/pkg/session"
)

// DomainCookie carries the user's selected HQ domain
const DomainCookie = "hq_domain"

// DomainSelected requires a valid selected domain on every request except
// the excluded paths. Admins bypass the check; a valid selection is
// recorded on the session context for downstream handlers.
type DomainSelected struct {
	excluded map[string]bool
}

// NewDomainSelected creates the middleware with paths exempt from domain
// selection, e.g. the domain list/select endpoints themselves
func NewDomainSelected(excludedPaths []string) *DomainSelected {
	excluded := make(map[string]bool, len(excludedPaths))
	for _, p := range excludedPaths {
		excluded[p] = true
	}
	return &DomainSelected{excluded: excluded}
}

// Handler wraps an HTTP handler with the domain selection check
func (m *DomainSelected) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.excluded[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		sess := session.FromContext(r.Context())
		if sess == nil {
			httputil.WriteUnauthorized(w, "Authentication required")
			return
		}

		cookie, err := r.Cookie(DomainCookie)
		domain := ""
		if err == nil {
			domain = cookie.Value
		}

		if sess.IsAdmin {
			// admins reach every domain; an unselected domain is fine too
			sess.ActiveDomain = domain
			next.ServeHTTP(w, r.WithContext(observability.WithDomain(r.Context(), domain)))
			return
		}

		if domain == "" || !sess.HasDomain(domain) {
			httputil.WriteValidationError(w, "Please select a domain to access this page.")
			return
		}

		sess.ActiveDomain = domain
		next.ServeHTTP(w, r.WithContext(observability.WithDomain(r.Context(), domain)))
	})
}
