package access

import (
	"context"
	"encoding/json"

	"github.com/hq-analytics/hqbridge/pkg/hq"
	"github.com/hq-analytics/hqbridge/pkg/observability"
	"github.com/hq-analytics/hqbridge/pkg/session"
)

// Access is a user's resolved access level for one HQ domain
type Access struct {
	CanRead   bool
	CanWrite  bool
	RoleNames []string
}

// None reports whether the user has no access at all
func (a Access) None() bool {
	return !a.CanRead && !a.CanWrite
}

type rolesResponse struct {
	Permissions struct {
		CanView bool `json:"can_view"`
		CanEdit bool `json:"can_edit"`
	} `json:"permissions"`
	Roles []string `json:"roles"`
}

// Resolver queries HQ for a user's domain access
type Resolver struct {
	client *hq.Client
}

// NewResolver creates a resolver backed by the given HQ client
func NewResolver(client *hq.Client) *Resolver {
	return &Resolver{client: client}
}

// DomainAccess fetches the user's access level for a domain. Every failure
// mode resolves to no access; the access check never propagates errors.
func (r *Resolver) DomainAccess(ctx context.Context, sess *session.Context, domain string) Access {
	log := observability.FromContext(ctx).WithField("hq_domain", domain)

	resp, err := r.client.Get(ctx, sess, hq.UserDomainRolesURL(domain))
	if err != nil {
		log.WithError(err).Warn("domain access lookup failed, treating as no access")
		return Access{}
	}
	if resp.StatusCode != 200 {
		log.WithField("status", resp.StatusCode).Warn("domain access lookup rejected, treating as no access")
		return Access{}
	}

	var body rolesResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		log.WithError(err).Warn("malformed domain access response, treating as no access")
		return Access{}
	}

	return Access{
		CanRead:   body.Permissions.CanView,
		CanWrite:  body.Permissions.CanEdit,
		RoleNames: body.Roles,
	}
}
