package provision

import (
	"fmt"
	"time"
)

// DomainPrefix guards against HQ domain names colliding with built-in
// schema or role names such as "public" or "admin".
const DomainPrefix = "hqdomain_"

// Built-in role names
const (
	BaseRoleName     = "hq_user"
	EditorRoleName   = "hq_editor"
	ReadOnlyRoleName = "hq_read_only"
)

// Permission names
const (
	SchemaAccessPermission = "schema_access"
	MenuAccessPermission   = "menu_access"
	CanReadPermission      = "can_read"
	CanWritePermission     = "can_write"
	CanEditPermission      = "can_edit"
	CanAddPermission       = "can_add"
	CanDeletePermission    = "can_delete"
)

// WritePermissions is the full write permission set granted to editors
var WritePermissions = []string{
	CanWritePermission,
	CanAddPermission,
	CanDeletePermission,
	CanEditPermission,
}

// ConfigurableViewMenus are the BI surfaces domain roles are scoped to
var ConfigurableViewMenus = []string{
	"Chart",
	"Dashboard",
	"Dataset",
	"Datasource",
	"Database",
}

// PlatformRoleMapping maps HQ analytics role names to local role names.
// Names absent from the map resolve by their own name; unknown names are
// skipped silently.
var PlatformRoleMapping = map[string]string{
	"gamma":          "Gamma",
	"dataset_editor": "dataset_editor",
	"sql_lab":        "sql_lab",
}

// Permission is a (name, view menu) pair, mirroring the BI layer's
// permission-view model
type Permission struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ViewMenu string `json:"view_menu"`
}

// Role is a named set of permissions
type Role struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Permissions []Permission `json:"permissions,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// SchemaName derives the storage schema name for an HQ domain
func SchemaName(domain string) string {
	return DomainPrefix + domain
}

// RoleName derives the tenant role name for an HQ domain. The prefix matches
// SchemaName only by coincidence; the two derivations are independent.
func RoleName(domain string) string {
	return DomainPrefix + domain
}

// SchemaAccessViewMenu formats the view-menu name of a schema-scoped
// permission, e.g. "[hq].[hqdomain_demo]"
func SchemaAccessViewMenu(schema string) string {
	return fmt.Sprintf("[hq].[%s]", schema)
}

// SyncFailureMessage is the user-facing message shown when a domain role
// sync fails or HQ denies access
func SyncFailureMessage(domain string) string {
	return fmt.Sprintf(
		"Either your permissions for the project '%s' were revoked or "+
			"your permissions failed to refresh. "+
			"Please select the project space again or login again to resolve. "+
			"If issue persists, please submit a support request.",
		domain,
	)
}

// BasePermissions is the minimal permission set of the platform-wide base role
func BasePermissions() []Permission {
	return []Permission{
		{Name: CanReadPermission, ViewMenu: "Profile"},
		{Name: CanReadPermission, ViewMenu: "RecentActivity"},
	}
}

// ReadOnlyPermissions is the fixed view-only permission set of the lazily
// created read-only role
func ReadOnlyPermissions() []Permission {
	perms := make([]Permission, 0, len(ConfigurableViewMenus))
	for _, menu := range ConfigurableViewMenus {
		perms = append(perms, Permission{Name: CanReadPermission, ViewMenu: menu})
	}
	return perms
}

// EditorPermissions is the full write permission set of the editor role
func EditorPermissions() []Permission {
	perms := make([]Permission, 0, len(ConfigurableViewMenus)*(len(WritePermissions)+1))
	for _, menu := range ConfigurableViewMenus {
		perms = append(perms, Permission{Name: CanReadPermission, ViewMenu: menu})
		for _, name := range WritePermissions {
			perms = append(perms, Permission{Name: name, ViewMenu: menu})
		}
	}
	return perms
}
