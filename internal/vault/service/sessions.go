package service

import (
	"fmt"
	"time"

	"github.com/aussiebroadwan/securevault/internal/vault/domain"
	"github.com/aussiebroadwan/securevault/pkg/jwtx"
)

// SessionIssuer materialises authenticated sessions as signed tokens.
type SessionIssuer struct {
	Signer   jwtx.Signer
	Verifier jwtx.Verifier
	Issuer   string
	TTL      time.Duration
	Now      func() time.Time
}

// Issue signs a session token for user, bound to the browser session sid.
func (s *SessionIssuer) Issue(user domain.User, sid string, amr []string) (domain.AuthSession, error) {
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = jwtx.DefaultSessionTTL
	}

	claims := jwtx.NewSessionClaims(user.ID, sid, user.Username, user.IsAdmin, amr, ttl, s.Issuer, now)
	token, err := s.Signer.Sign(claims)
	if err != nil {
		return domain.AuthSession{}, fmt.Errorf("failed to sign session token: %w", err)
	}

	return domain.AuthSession{
		ID:        claims.ID,
		UserID:    user.ID,
		Username:  user.Username,
		IsAdmin:   user.IsAdmin,
		AMR:       amr,
		Token:     token,
		IssuedAt:  now,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Authenticate verifies a session token.
func (s *SessionIssuer) Authenticate(token string) (jwtx.Claims, error) {
	return s.Verifier.Verify(token)
}
