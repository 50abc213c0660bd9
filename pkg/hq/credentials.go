package hq

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/hq-analytics/hqbridge/pkg/session"
)

// TokenProvider returns a valid HQ bearer credential for a session,
// transparently refreshing it through HQ's token endpoint when expired.
type TokenProvider struct {
	cfg      *oauth2.Config
	sessions session.Store

	// now is swapped out in tests
	now func() time.Time
}

// NewTokenProvider creates a token provider for the given OAuth client.
// tokenURL is HQ's token-refresh endpoint.
func NewTokenProvider(clientID, clientSecret, tokenURL string, sessions session.Store) *TokenProvider {
	return &TokenProvider{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		},
		sessions: sessions,
		now:      time.Now,
	}
}

// ValidToken returns a usable bearer token for the session.
//
// A missing or empty credential fails with ErrSessionExpired. A credential
// without an expiry is treated as non-expiring and reused without a network
// call. An expired credential is refreshed with its refresh token; the
// refreshed credential overwrites the session-held one. A refresh that is
// impossible (no refresh token) or rejected by HQ also fails with
// ErrSessionExpired.
func (p *TokenProvider) ValidToken(ctx context.Context, sess *session.Context) (*oauth2.Token, error) {
	tok := sess.Credential
	if tok == nil || tok.AccessToken == "" {
		return nil, ErrSessionExpired
	}

	if tok.Expiry.IsZero() || tok.Expiry.After(p.now()) {
		return tok, nil
	}

	if tok.RefreshToken == "" {
		return nil, ErrSessionExpired
	}

	fresh, err := p.cfg.TokenSource(ctx, tok).Token()
	if err != nil {
		return nil, fmt.Errorf("%w: token refresh failed: %v", ErrSessionExpired, err)
	}

	sess.Credential = fresh
	if err := p.sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to persist refreshed credential: %w", err)
	}
	return fresh, nil
}
