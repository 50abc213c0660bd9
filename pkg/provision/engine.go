package provision

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hq-analytics/hqbridge/pkg/access"
	"github.com/hq-analytics/hqbridge/pkg/observability"
	"github.com/hq-analytics/hqbridge/pkg/session"
)

const platformRoleCacheSize = 256

// AccessResolver resolves a user's HQ access level for a domain
type AccessResolver interface {
	DomainAccess(ctx context.Context, sess *session.Context, domain string) access.Access
}

// Engine provisions per-domain schemas and roles and rebuilds user role
// sets on domain switches
type Engine struct {
	store    *Store
	resolver AccessResolver

	// platform role name -> local role, avoids a lookup per switch
	roleCache *lru.Cache[string, *Role]
}

// NewEngine creates a provisioning engine
func NewEngine(store *Store, resolver AccessResolver) (*Engine, error) {
	cache, err := lru.New[string, *Role](platformRoleCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create role cache: %w", err)
	}
	return &Engine{
		store:     store,
		resolver:  resolver,
		roleCache: cache,
	}, nil
}

// ensureRoleWithPermissions creates a role and binds the given permissions,
// all idempotently
func (e *Engine) ensureRoleWithPermissions(ctx context.Context, name string, perms []Permission) (*Role, error) {
	role, err := e.store.EnsureRole(ctx, name)
	if err != nil {
		return nil, err
	}
	for _, p := range perms {
		permID, err := e.store.EnsurePermission(ctx, p.Name, p.ViewMenu)
		if err != nil {
			return nil, err
		}
		if err := e.store.BindPermission(ctx, role.ID, permID); err != nil {
			return nil, err
		}
	}
	return role, nil
}

// EnsureBaseRole creates the platform-wide base role every HQ user holds
func (e *Engine) EnsureBaseRole(ctx context.Context) (*Role, error) {
	return e.ensureRoleWithPermissions(ctx, BaseRoleName, BasePermissions())
}

// CreateDomainRole provisions a domain: storage schema, schema-access
// permission and the tenant role bound to it. Every step is idempotent, so
// repeat calls and concurrent first logins converge on the same state.
func (e *Engine) CreateDomainRole(ctx context.Context, domain string) (*Role, error) {
	schema := SchemaName(domain)
	if err := e.store.EnsureSchema(ctx, schema); err != nil {
		return nil, err
	}

	permID, err := e.store.EnsurePermission(ctx, SchemaAccessPermission, SchemaAccessViewMenu(schema))
	if err != nil {
		return nil, err
	}

	role, err := e.store.EnsureRole(ctx, RoleName(domain))
	if err != nil {
		return nil, err
	}
	if err := e.store.BindPermission(ctx, role.ID, permID); err != nil {
		return nil, err
	}
	return role, nil
}

// platformRole resolves an HQ analytics role name to a local role, caching
// hits. Unknown names return nil with no error.
func (e *Engine) platformRole(ctx context.Context, name string) (*Role, error) {
	local := name
	if mapped, ok := PlatformRoleMapping[name]; ok {
		local = mapped
	}

	if role, ok := e.roleCache.Get(local); ok {
		return role, nil
	}

	role, err := e.store.GetRoleByName(ctx, local)
	if errors.Is(err, ErrRoleNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.roleCache.Add(local, role)
	return role, nil
}

// AdditionalUserRoles resolves the user's HQ access for a domain into local
// roles beyond the base and tenant roles. A nil slice means the user has no
// access to the domain at all.
func (e *Engine) AdditionalUserRoles(ctx context.Context, sess *session.Context, domain string) ([]*Role, error) {
	log := observability.FromContext(ctx).WithField("hq_domain", domain)

	acc := e.resolver.DomainAccess(ctx, sess, domain)
	if acc.None() {
		return nil, nil
	}

	var roles []*Role
	if acc.CanWrite {
		role, err := e.ensureRoleWithPermissions(ctx, EditorRoleName, EditorPermissions())
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	} else {
		role, err := e.ensureRoleWithPermissions(ctx, ReadOnlyRoleName, ReadOnlyPermissions())
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}

	for _, name := range acc.RoleNames {
		role, err := e.platformRole(ctx, name)
		if err != nil {
			return nil, err
		}
		if role == nil {
			log.WithField("platform_role", name).Warn("unknown platform role, skipping")
			continue
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// SyncDomainRole provisions the domain and replaces the user's role set with
// exactly the roles the domain grants. Returns false without mutating
// anything when HQ denies the user access to the domain.
func (e *Engine) SyncDomainRole(ctx context.Context, sess *session.Context, domain string) (bool, error) {
	additional, err := e.AdditionalUserRoles(ctx, sess, domain)
	if err != nil {
		return false, err
	}
	if len(additional) == 0 {
		return false, nil
	}

	base, err := e.EnsureBaseRole(ctx)
	if err != nil {
		return false, err
	}
	domainRole, err := e.CreateDomainRole(ctx, domain)
	if err != nil {
		return false, err
	}

	roleIDs := []int64{base.ID, domainRole.ID}
	for _, role := range additional {
		roleIDs = append(roleIDs, role.ID)
	}
	if err := e.store.ReplaceUserRoles(ctx, sess.UserID, roleIDs); err != nil {
		return false, err
	}

	return true, nil
}
