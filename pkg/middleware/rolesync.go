package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/hq-analytics/hqbridge/pkg/httputil"
	"github.com/hq-analytics/hqbridge/pkg/observability"
	"github.com/hq-analytics/hqbridge/pkg/provision"
	"github.com/hq-analytics/hqbridge/pkg/session"
)

// syncThrottle is how long a sync attempt suppresses further attempts for
// the same user and domain, across all instances
const syncThrottle = 30 * time.Second

// RoleSync rebuilds the user's role set when the last sync is older than
// the configured expiry. A distributed throttle keeps concurrent requests
// from piling duplicate syncs onto HQ.
type RoleSync struct {
	engine   *provision.Engine
	sessions session.Store
	redis    *redis.Client
	expiry   time.Duration
	metrics  *observability.Metrics
	excluded map[string]bool
	now      func() time.Time
}

// NewRoleSync creates the role-sync middleware
func NewRoleSync(engine *provision.Engine, sessions session.Store, redisClient *redis.Client, expiry time.Duration, metrics *observability.Metrics, excludedPaths []string) *RoleSync {
	excluded := make(map[string]bool, len(excludedPaths))
	for _, p := range excludedPaths {
		excluded[p] = true
	}
	return &RoleSync{
		engine:   engine,
		sessions: sessions,
		redis:    redisClient,
		expiry:   expiry,
		metrics:  metrics,
		excluded: excluded,
		now:      time.Now,
	}
}

func syncKey(userID int64, domain string) string {
	return fmt.Sprintf("%d_%s_sync_domain_role", userID, domain)
}

func (m *RoleSync) roleExpired(sess *session.Context) bool {
	if sess.RoleLastSyncedAt.IsZero() {
		return true
	}
	return m.now().UTC().Sub(sess.RoleLastSyncedAt) >= m.expiry
}

func (m *RoleSync) count(status string) {
	if m.metrics != nil {
		m.metrics.RoleSyncsTotal.WithLabelValues(status).Inc()
	}
}

// Handler wraps an HTTP handler with the role-sync check
func (m *RoleSync) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := session.FromContext(r.Context())
		if sess == nil || sess.IsAdmin || m.excluded[r.URL.Path] || sess.ActiveDomain == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !m.roleExpired(sess) {
			next.ServeHTTP(w, r)
			return
		}

		log := observability.FromContext(r.Context())

		// another request may already be syncing this user+domain; if so,
		// proceed with the roles we have
		acquired, err := m.redis.SetNX(r.Context(), syncKey(sess.UserID, sess.ActiveDomain), "1", syncThrottle).Result()
		if err != nil {
			log.WithError(err).Warn("role sync throttle unavailable, skipping sync")
			next.ServeHTTP(w, r)
			return
		}
		if !acquired {
			next.ServeHTTP(w, r)
			return
		}
		defer m.redis.Del(r.Context(), syncKey(sess.UserID, sess.ActiveDomain))

		ok, err := m.engine.SyncDomainRole(r.Context(), sess, sess.ActiveDomain)
		if err != nil || !ok {
			if err != nil {
				log.WithError(err).Error("domain role sync failed")
			}
			m.count("failure")
			httputil.WriteValidationError(w, provision.SyncFailureMessage(sess.ActiveDomain))
			return
		}

		sess.RoleLastSyncedAt = m.now().UTC()
		if err := m.sessions.Save(r.Context(), sess); err != nil {
			log.WithError(err).Warn("failed to persist role sync timestamp")
		}
		m.count("success")

		next.ServeHTTP(w, r)
	})
}
