package middleware

import (
	"errors"
	"net/http"

	"github.com/hq-analytics/hqbridge/pkg/httputil"
	"github.com/hq-analytics/hqbridge/pkg/observability"
	"github.com/hq-analytics/hqbridge/pkg/session"
)

// SessionCookie is the host session id cookie
const SessionCookie = "hqbridge_session"

// Session loads the caller's session and attaches it to the request
// context. Requests without a valid session are rejected; the webhook and
// token endpoints bypass this middleware entirely.
func Session(sessions session.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookie)
			if err != nil || cookie.Value == "" {
				httputil.WriteUnauthorized(w, "Authentication required")
				return
			}

			sess, err := sessions.Load(r.Context(), cookie.Value)
			if err != nil {
				if errors.Is(err, session.ErrNotFound) {
					httputil.WriteUnauthorized(w, "Your session has expired. Please log in again.")
					return
				}
				observability.FromContext(r.Context()).WithError(err).Error("session load failed")
				httputil.WriteInternalError(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(session.WithContext(r.Context(), sess)))
		})
	}
}
