package provision

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hq-analytics/hqbridge/pkg/access"
	"github.com/hq-analytics/hqbridge/pkg/session"
)

type fakeResolver struct {
	acc access.Access
}

func (f *fakeResolver) DomainAccess(ctx context.Context, sess *session.Context, domain string) access.Access {
	return f.acc
}

func newTestEngine(t *testing.T, acc access.Access) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	engine, err := NewEngine(NewStore(db), &fakeResolver{acc: acc})
	require.NoError(t, err)
	return engine, mock
}

func expectEnsureRole(mock sqlmock.Sqlmock, name string, id int64) {
	now := time.Now().UTC()
	mock.ExpectExec("INSERT INTO roles").
		WithArgs(name).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, name, created_at, updated_at FROM roles").
		WithArgs(name).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "created_at", "updated_at"}).
			AddRow(id, name, now, now))
}

func expectEnsurePermission(mock sqlmock.Sqlmock, name, viewMenu string, id int64) {
	mock.ExpectExec("INSERT INTO permissions").
		WithArgs(name, viewMenu).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id FROM permissions").
		WithArgs(name, viewMenu).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id))
}

func expectBindPermission(mock sqlmock.Sqlmock, roleID, permID int64) {
	mock.ExpectExec("INSERT INTO role_permissions").
		WithArgs(roleID, permID).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

// expectRoleWithPermissions enqueues the full idempotent create-and-bind
// sequence for a role. Permission ids are assigned from nextPermID upward;
// it returns the next free id.
func expectRoleWithPermissions(mock sqlmock.Sqlmock, name string, roleID int64, perms []Permission, nextPermID int64) int64 {
	expectEnsureRole(mock, name, roleID)
	for _, p := range perms {
		expectEnsurePermission(mock, p.Name, p.ViewMenu, nextPermID)
		expectBindPermission(mock, roleID, nextPermID)
		nextPermID++
	}
	return nextPermID
}

func TestSyncDomainRoleDeniedMakesNoChanges(t *testing.T) {
	engine, mock := newTestEngine(t, access.Access{})

	sess := &session.Context{UserID: 42}
	ok, err := engine.SyncDomainRole(context.Background(), sess, "demo")
	require.NoError(t, err)
	assert.False(t, ok)

	// no SQL at all: denial must not touch roles
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdditionalUserRolesSkipsUnknownPlatformRole(t *testing.T) {
	engine, mock := newTestEngine(t, access.Access{
		CanRead:   true,
		RoleNames: []string{"gamma", "bogus"},
	})

	expectRoleWithPermissions(mock, ReadOnlyRoleName, 3, ReadOnlyPermissions(), 100)

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT id, name, created_at, updated_at FROM roles").
		WithArgs("Gamma").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "created_at", "updated_at"}).
			AddRow(int64(8), "Gamma", now, now))
	mock.ExpectQuery("SELECT id, name, created_at, updated_at FROM roles").
		WithArgs("bogus").
		WillReturnError(sql.ErrNoRows)

	roles, err := engine.AdditionalUserRoles(context.Background(), &session.Context{UserID: 42}, "demo")
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, ReadOnlyRoleName, roles[0].Name)
	assert.Equal(t, "Gamma", roles[1].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdditionalUserRolesCachesPlatformLookups(t *testing.T) {
	engine, mock := newTestEngine(t, access.Access{
		CanRead:   true,
		RoleNames: []string{"gamma"},
	})

	nextPermID := expectRoleWithPermissions(mock, ReadOnlyRoleName, 3, ReadOnlyPermissions(), 100)

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT id, name, created_at, updated_at FROM roles").
		WithArgs("Gamma").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "created_at", "updated_at"}).
			AddRow(int64(8), "Gamma", now, now))

	// second pass re-ensures the read-only role but must not look up Gamma again
	expectRoleWithPermissions(mock, ReadOnlyRoleName, 3, ReadOnlyPermissions(), nextPermID)

	sess := &session.Context{UserID: 42}
	_, err := engine.AdditionalUserRoles(context.Background(), sess, "demo")
	require.NoError(t, err)
	_, err = engine.AdditionalUserRoles(context.Background(), sess, "demo")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncDomainRoleGrantsEditorSet(t *testing.T) {
	engine, mock := newTestEngine(t, access.Access{CanRead: true, CanWrite: true})

	nextPermID := expectRoleWithPermissions(mock, EditorRoleName, 5, EditorPermissions(), 100)
	nextPermID = expectRoleWithPermissions(mock, BaseRoleName, 1, BasePermissions(), nextPermID)

	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS "hqdomain_demo"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	expectEnsurePermission(mock, SchemaAccessPermission, "[hq].[hqdomain_demo]", nextPermID)
	expectEnsureRole(mock, "hqdomain_demo", 2)
	expectBindPermission(mock, 2, nextPermID)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM user_roles").
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	for _, roleID := range []int64{1, 2, 5} {
		mock.ExpectExec("INSERT INTO user_roles").
			WithArgs(int64(42), roleID).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	ok, err := engine.SyncDomainRole(context.Background(), &session.Context{UserID: 42}, "demo")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
