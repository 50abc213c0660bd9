package webhook

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"
)

// TokenLifetime is how long issued webhook tokens stay valid
const TokenLifetime = 24 * time.Hour

// ErrTokenInvalid is returned for unknown, revoked or expired tokens
var ErrTokenInvalid = errors.New("invalid token")

// Token is an issued webhook access token. Scope is the HQ domain the
// token's client belongs to.
type Token struct {
	ID          int64     `json:"id"`
	ClientID    string    `json:"client_id"`
	AccessToken string    `json:"access_token"`
	Scope       string    `json:"scope"`
	Revoked     bool      `json:"revoked"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// TokenStore persists issued webhook tokens
type TokenStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewTokenStore creates a token store
func NewTokenStore(db *sql.DB) *TokenStore {
	return &TokenStore{db: db, now: time.Now}
}

// Issue creates a fresh token for a client, revoking every live token the
// client already holds so at most one token per client is ever valid
func (s *TokenStore) Issue(ctx context.Context, clientID, domain string) (*Token, error) {
	raw := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	tok := &Token{
		ClientID:    clientID,
		AccessToken: hex.EncodeToString(raw),
		Scope:       domain,
		IssuedAt:    s.now().UTC(),
	}
	tok.ExpiresAt = tok.IssuedAt.Add(TokenLifetime)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"UPDATE hq_oauth_token SET revoked = TRUE WHERE client_id = $1 AND NOT revoked",
		clientID,
	); err != nil {
		return nil, fmt.Errorf("failed to revoke previous tokens: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO hq_oauth_token (client_id, access_token, scope, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, tok.ClientID, tok.AccessToken, tok.Scope, tok.IssuedAt, tok.ExpiresAt).Scan(&tok.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit token issue: %w", err)
	}
	return tok, nil
}

// Validate resolves an access token to its domain scope. Unknown, revoked
// and expired tokens all fail with ErrTokenInvalid.
func (s *TokenStore) Validate(ctx context.Context, accessToken string) (string, error) {
	var scope string
	var revoked bool
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT scope, revoked, expires_at
		FROM hq_oauth_token
		WHERE access_token = $1
	`, accessToken).Scan(&scope, &revoked, &expiresAt)
	if err == sql.ErrNoRows {
		return "", ErrTokenInvalid
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up token: %w", err)
	}
	if revoked || !expiresAt.After(s.now().UTC()) {
		return "", ErrTokenInvalid
	}
	return scope, nil
}

// PurgeExpired deletes tokens that are expired or revoked and returns how
// many rows went away
func (s *TokenStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM hq_oauth_token WHERE revoked OR expires_at <= $1",
		s.now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged tokens: %w", err)
	}
	return n, nil
}
