package provision

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// ErrRoleNotFound is returned when a named role does not exist
var ErrRoleNotFound = errors.New("role not found")

// Store handles role and permission persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new provisioning store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates a storage schema if it does not exist
func (s *Store) EnsureSchema(ctx context.Context, name string) error {
	query := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pq.QuoteIdentifier(name))
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", name, err)
	}
	return nil
}

// EnsureRole creates a role by name if it does not exist and returns it.
// Safe to call concurrently for the same name.
func (s *Store) EnsureRole(ctx context.Context, name string) (*Role, error) {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO roles (name) VALUES ($1) ON CONFLICT (name) DO NOTHING",
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure role %s: %w", name, err)
	}
	return s.GetRoleByName(ctx, name)
}

// GetRoleByName retrieves a role by its unique name
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	var role Role
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, created_at, updated_at FROM roles WHERE name = $1",
		name,
	).Scan(&role.ID, &role.Name, &role.CreatedAt, &role.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role %s: %w", name, err)
	}
	return &role, nil
}

// EnsurePermission creates a (name, view menu) permission if it does not
// exist and returns its id
func (s *Store) EnsurePermission(ctx context.Context, name, viewMenu string) (int64, error) {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO permissions (name, view_menu) VALUES ($1, $2) ON CONFLICT (name, view_menu) DO NOTHING",
		name, viewMenu,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to ensure permission %s on %s: %w", name, viewMenu, err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx,
		"SELECT id FROM permissions WHERE name = $1 AND view_menu = $2",
		name, viewMenu,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to get permission %s on %s: %w", name, viewMenu, err)
	}
	return id, nil
}

// BindPermission attaches a permission to a role. Binding twice is a no-op.
func (s *Store) BindPermission(ctx context.Context, roleID, permissionID int64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		roleID, permissionID,
	)
	if err != nil {
		return fmt.Errorf("failed to bind permission %d to role %d: %w", permissionID, roleID, err)
	}
	return nil
}

// GetRolePermissions lists the permissions bound to a role
func (s *Store) GetRolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.view_menu
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = $1
		ORDER BY p.view_menu, p.name
	`, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query role permissions: %w", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.ViewMenu); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// ReplaceUserRoles atomically replaces a user's entire role set
func (s *Store) ReplaceUserRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM user_roles WHERE user_id = $1", userID); err != nil {
		return fmt.Errorf("failed to clear user roles: %w", err)
	}

	for _, roleID := range roleIDs {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
			userID, roleID,
		); err != nil {
			return fmt.Errorf("failed to grant role %d: %w", roleID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role replacement: %w", err)
	}
	return nil
}

// GetUserRoleNames lists the names of a user's current roles
func (s *Store) GetUserRoleNames(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.name
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
		ORDER BY r.name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user roles: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan role name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
