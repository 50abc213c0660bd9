package webhook

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// ErrClientNotFound is returned when no webhook client matches a lookup
var ErrClientNotFound = errors.New("webhook client not found")

// Client is a per-domain webhook client credential. Secret holds the
// encrypted form; use ClientStore.VerifySecret to check a plaintext.
type Client struct {
	Domain    string    `json:"domain"`
	ClientID  string    `json:"client_id"`
	Secret    string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// ClientStore persists per-domain webhook clients with encrypted secrets
type ClientStore struct {
	db      *sql.DB
	keyring *Keyring
}

// NewClientStore creates a client store
func NewClientStore(db *sql.DB, keyring *Keyring) *ClientStore {
	return &ClientStore{db: db, keyring: keyring}
}

func generateSecret() (string, error) {
	raw := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// EnsureClient returns the domain's client credential with the secret in
// plaintext, creating the client on first use. Concurrent first calls for
// the same domain converge on one credential.
func (s *ClientStore) EnsureClient(ctx context.Context, domain string) (string, string, error) {
	client, err := s.GetByDomain(ctx, domain)
	if err == nil {
		secret, err := s.keyring.Decrypt(client.Secret)
		if err != nil {
			return "", "", fmt.Errorf("failed to decrypt secret for %s: %w", domain, err)
		}
		return client.ClientID, secret, nil
	}
	if !errors.Is(err, ErrClientNotFound) {
		return "", "", err
	}

	secret, err := generateSecret()
	if err != nil {
		return "", "", err
	}
	encrypted, err := s.keyring.Encrypt(secret)
	if err != nil {
		return "", "", fmt.Errorf("failed to encrypt secret for %s: %w", domain, err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO hq_oauth_client (domain, client_id, client_secret)
		VALUES ($1, $2, $3)
		ON CONFLICT (domain) DO NOTHING
	`, domain, uuid.NewString(), encrypted)
	if err != nil {
		return "", "", fmt.Errorf("failed to create client for %s: %w", domain, err)
	}

	// losing the insert race means another request created the client;
	// re-read and use that one
	if affected, _ := res.RowsAffected(); affected == 0 {
		return s.EnsureClient(ctx, domain)
	}

	client, err = s.GetByDomain(ctx, domain)
	if err != nil {
		return "", "", err
	}
	return client.ClientID, secret, nil
}

// GetByDomain retrieves a domain's client
func (s *ClientStore) GetByDomain(ctx context.Context, domain string) (*Client, error) {
	return s.getClient(ctx, "domain", domain)
}

// GetByClientID retrieves a client by its client_id
func (s *ClientStore) GetByClientID(ctx context.Context, clientID string) (*Client, error) {
	return s.getClient(ctx, "client_id", clientID)
}

func (s *ClientStore) getClient(ctx context.Context, column, value string) (*Client, error) {
	query := fmt.Sprintf(`
		SELECT domain, client_id, client_secret, created_at
		FROM hq_oauth_client
		WHERE %s = $1
	`, column)

	var c Client
	err := s.db.QueryRowContext(ctx, query, value).
		Scan(&c.Domain, &c.ClientID, &c.Secret, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client by %s: %w", column, err)
	}
	return &c, nil
}

// VerifySecret reports whether a plaintext secret matches the client's
func (s *ClientStore) VerifySecret(client *Client, plaintext string) bool {
	secret, err := s.keyring.Decrypt(client.Secret)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(plaintext)) == 1
}
