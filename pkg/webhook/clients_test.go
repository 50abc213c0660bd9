package webhook

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClientStore(t *testing.T) (*ClientStore, sqlmock.Sqlmock, *Keyring) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	keyring, err := NewKeyring([]string{testKey(t)})
	require.NoError(t, err)
	return NewClientStore(db, keyring), mock, keyring
}

func TestEnsureClientCreatesOnFirstUse(t *testing.T) {
	store, mock, _ := newTestClientStore(t)

	mock.ExpectQuery("SELECT domain, client_id, client_secret, created_at").
		WithArgs("demo").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO hq_oauth_client").
		WithArgs("demo", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT domain, client_id, client_secret, created_at").
		WithArgs("demo").
		WillReturnRows(sqlmock.NewRows([]string{"domain", "client_id", "client_secret", "created_at"}).
			AddRow("demo", "client-1", "irrelevant", time.Now()))

	clientID, secret, err := store.EnsureClient(context.Background(), "demo")
	require.NoError(t, err)
	assert.Equal(t, "client-1", clientID)
	assert.Len(t, secret, 64)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureClientReusesExisting(t *testing.T) {
	store, mock, keyring := newTestClientStore(t)

	encrypted, err := keyring.Encrypt("existing-secret")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT domain, client_id, client_secret, created_at").
		WithArgs("demo").
		WillReturnRows(sqlmock.NewRows([]string{"domain", "client_id", "client_secret", "created_at"}).
			AddRow("demo", "client-1", encrypted, time.Now()))

	clientID, secret, err := store.EnsureClient(context.Background(), "demo")
	require.NoError(t, err)
	assert.Equal(t, "client-1", clientID)
	assert.Equal(t, "existing-secret", secret)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureClientLosesInsertRace(t *testing.T) {
	store, mock, keyring := newTestClientStore(t)

	encrypted, err := keyring.Encrypt("winner-secret")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT domain, client_id, client_secret, created_at").
		WithArgs("demo").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO hq_oauth_client").
		WithArgs("demo", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	// retry picks up the row the winning request inserted
	mock.ExpectQuery("SELECT domain, client_id, client_secret, created_at").
		WithArgs("demo").
		WillReturnRows(sqlmock.NewRows([]string{"domain", "client_id", "client_secret", "created_at"}).
			AddRow("demo", "client-other", encrypted, time.Now()))

	clientID, secret, err := store.EnsureClient(context.Background(), "demo")
	require.NoError(t, err)
	assert.Equal(t, "client-other", clientID)
	assert.Equal(t, "winner-secret", secret)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifySecret(t *testing.T) {
	store, _, keyring := newTestClientStore(t)

	encrypted, err := keyring.Encrypt("right")
	require.NoError(t, err)
	client := &Client{Domain: "demo", ClientID: "client-1", Secret: encrypted}

	assert.True(t, store.VerifySecret(client, "right"))
	assert.False(t, store.VerifySecret(client, "wrong"))
	assert.False(t, store.VerifySecret(&Client{Secret: "garbage"}, "right"))
}
