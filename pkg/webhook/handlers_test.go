package webhook

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hq-analytics/hqbridge/pkg/async"
	"github.com/hq-analytics/hqbridge/pkg/ingest"
)

func newTestHandler(t *testing.T) (*Handler, sqlmock.Sqlmock, *Keyring) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	keyring, err := NewKeyring([]string{testKey(t)})
	require.NoError(t, err)

	queue := async.NewTaskQueue(context.Background(), 1, "webhook test", time.Second)
	t.Cleanup(func() { queue.Shutdown(time.Second) })

	handler := NewHandler(
		NewClientStore(db, keyring),
		NewTokenStore(db),
		NewProcessor(ingest.NewTabularStore(db), nil),
		queue,
		nil,
	)
	return handler, mock, keyring
}

func expectValidToken(mock sqlmock.Sqlmock, token, domain string) {
	mock.ExpectQuery("SELECT scope, revoked, expires_at").
		WithArgs(token).
		WillReturnRows(sqlmock.NewRows([]string{"scope", "revoked", "expires_at"}).
			AddRow(domain, false, time.Now().UTC().Add(time.Hour)))
}

func postChange(handler *Handler, body string, contentLength int64) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/hq_webhook/change/", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer test-token")
	req.Header.Set("Content-Type", "application/json")
	if contentLength != 0 {
		req.ContentLength = contentLength
	}
	rec := httptest.NewRecorder()
	handler.HandleChange(rec, req)
	return rec
}

func TestHandleChangeInvalidToken(t *testing.T) {
	handler, mock, _ := newTestHandler(t)

	mock.ExpectQuery("SELECT scope, revoked, expires_at").
		WithArgs("test-token").
		WillReturnError(sql.ErrNoRows)

	rec := postChange(handler, `{"data_source_id": "abc123", "doc_id": "def123", "data": []}`, 0)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error": "Invalid client"}`, rec.Body.String())
}

func TestHandleChangeTooLargeByContentLength(t *testing.T) {
	handler, mock, _ := newTestHandler(t)
	expectValidToken(mock, "test-token", "demo")

	rec := postChange(handler, `{}`, MaxChangeBodyBytes+1)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.JSONEq(t, `{"error": "Entity is too large"}`, rec.Body.String())
}

func TestHandleChangeInvalidJSON(t *testing.T) {
	handler, mock, _ := newTestHandler(t)
	expectValidToken(mock, "test-token", "demo")

	rec := postChange(handler, "invalid json", 0)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error": "Invalid JSON syntax"}`, rec.Body.String())
}

func TestHandleChangeUnparseableEnvelope(t *testing.T) {
	handler, mock, _ := newTestHandler(t)
	expectValidToken(mock, "test-token", "demo")

	rec := postChange(handler, `{"foo": "bar"}`, 0)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error": "Could not parse change request"}`, rec.Body.String())
}

func TestHandleChangeAcceptedAndApplied(t *testing.T) {
	handler, mock, _ := newTestHandler(t)
	mock.MatchExpectationsInOrder(false)
	expectValidToken(mock, "test-token", "demo")

	// async apply: table exists, row upserted
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("hqdomain_demo", "abc123").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(`INSERT INTO "hqdomain_demo"."abc123"`).
		WithArgs("def123", "bar").
		WillReturnResult(sqlmock.NewResult(0, 1))

	body := `{"data_source_id": "abc123", "doc_id": "def123", "data": [{"doc_id": "def123", "foo": "bar"}]}`
	rec := postChange(handler, body, 0)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "Dataset change accepted", rec.Body.String())

	require.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandleChangeDeleteWhenDataEmpty(t *testing.T) {
	handler, mock, _ := newTestHandler(t)
	mock.MatchExpectationsInOrder(false)
	expectValidToken(mock, "test-token", "demo")

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("hqdomain_demo", "abc123").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(`DELETE FROM "hqdomain_demo"."abc123"`).
		WithArgs("def123").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := postChange(handler, `{"data_source_id": "abc123", "doc_id": "def123", "data": []}`, 0)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandleTokenIssuesWithFixedExpiry(t *testing.T) {
	handler, mock, keyring := newTestHandler(t)

	encrypted, err := keyring.Encrypt("shhh")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT domain, client_id, client_secret, created_at").
		WithArgs("client-1").
		WillReturnRows(sqlmock.NewRows([]string{"domain", "client_id", "client_secret", "created_at"}).
			AddRow("demo", "client-1", encrypted, time.Now()))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE hq_oauth_token SET revoked").
		WithArgs("client-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("INSERT INTO hq_oauth_token").
		WithArgs("client-1", sqlmock.AnyArg(), "demo", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectCommit()

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"client-1"},
		"client_secret": {"shhh"},
		"scope":         {"demo"},
	}
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	handler.HandleToken(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"expires_in":86400`)
	assert.Contains(t, rec.Body.String(), `"token_type":"Bearer"`)
	assert.Contains(t, rec.Body.String(), `"scope":"demo"`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleTokenRejectsBadSecret(t *testing.T) {
	handler, mock, keyring := newTestHandler(t)

	encrypted, err := keyring.Encrypt("right")
	require.NoError(t, err)
	mock.ExpectQuery("SELECT domain, client_id, client_secret, created_at").
		WithArgs("client-1").
		WillReturnRows(sqlmock.NewRows([]string{"domain", "client_id", "client_secret", "created_at"}).
			AddRow("demo", "client-1", encrypted, time.Now()))

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"client-1"},
		"client_secret": {"wrong"},
	}
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	handler.HandleToken(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error": "Invalid client"}`, rec.Body.String())
}

func TestHandleTokenUnknownClient(t *testing.T) {
	handler, mock, _ := newTestHandler(t)

	mock.ExpectQuery("SELECT domain, client_id, client_secret, created_at").
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"nope"},
		"client_secret": {"whatever"},
	}
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	handler.HandleToken(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error": "Invalid client"}`, rec.Body.String())
}

func TestHandleTokenUnsupportedGrant(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	form := url.Values{"grant_type": {"password"}}
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	handler.HandleToken(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error": "unsupported_grant_type"}`, rec.Body.String())
}

func TestChangeValidate(t *testing.T) {
	valid := DataSetChange{
		DataSourceID: "abc123",
		DocID:        "def123",
		Data:         []map[string]interface{}{{"doc_id": "def123", "foo": "bar"}},
	}
	assert.NoError(t, valid.Validate())

	deletion := DataSetChange{DataSourceID: "abc123", DocID: "def123"}
	assert.NoError(t, deletion.Validate())

	batchDeletion := DataSetChange{DataSourceID: "abc123", DocIDs: []string{"def123", "def456"}}
	assert.NoError(t, batchDeletion.Validate())

	assert.Error(t, (&DataSetChange{DocID: "def123"}).Validate())
	assert.Error(t, (&DataSetChange{DataSourceID: "abc123"}).Validate())
	assert.Error(t, (&DataSetChange{
		DataSourceID: "abc123",
		DocID:        "def123",
		Data:         []map[string]interface{}{{"foo": "bar"}},
	}).Validate())
}

func TestProcessorDeletesEveryListedDoc(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("hqdomain_demo", "abc123").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	for _, docID := range []string{"def123", "def456", "def789"} {
		mock.ExpectExec(`DELETE FROM "hqdomain_demo"."abc123"`).
			WithArgs(docID).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	processor := NewProcessor(ingest.NewTabularStore(db), nil)
	err = processor.Apply(context.Background(), "demo", DataSetChange{
		DataSourceID: "abc123",
		DocID:        "def123",
		DocIDs:       []string{"def456", "def789"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessorSkipsMissingTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("hqdomain_demo", "abc123").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	processor := NewProcessor(ingest.NewTabularStore(db), nil)
	err = processor.Apply(context.Background(), "demo", DataSetChange{
		DataSourceID: "abc123",
		DocID:        "def123",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
