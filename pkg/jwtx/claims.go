package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultSessionTTL is the lifetime of a session token when the caller does
// not configure one.
const DefaultSessionTTL = 12 * time.Hour

// Authentication Methods Reference values carried in the amr claim.
const (
	AMRPassword   = "pwd"
	AMROTP        = "otp"
	AMRBackupCode = "rec"
	AMRPasskey    = "hwk"
	AMRMFA        = "mfa"
)

// Claims are the session-token claims.
type Claims struct {
	jwt.RegisteredClaims

	// Session ID the token was issued for.
	SID string `json:"sid,omitempty"`

	// Authentication Methods Reference, e.g. ["pwd","otp","mfa"].
	AMR []string `json:"amr,omitempty"`

	Username string `json:"username,omitempty"`
	Admin    bool   `json:"admin,omitempty"`
}

// NewSessionClaims builds claims for an authenticated session.
func NewSessionClaims(
	subject, sid, username string,
	admin bool,
	amr []string,
	ttl time.Duration,
	issuer string,
	now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		SID:      sid,
		AMR:      amr,
		Username: username,
		Admin:    admin,
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// HasAMR reports whether the method was used to authenticate.
func (c *Claims) HasAMR(method string) bool {
	return slices.Contains(c.AMR, method)
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil
	}
	if c.Issuer != expected {
		return ErrIssuer
	}
	return nil
}

// ValidateExpiry ensures the token hasn't expired (exp) and isn't before nbf.
func (c *Claims) ValidateExpiry() error {
	return c.ValidateExpiryWithLeeway(0)
}

// ValidateExpiryWithLeeway adds a small grace period for clock skew.
func (c *Claims) ValidateExpiryWithLeeway(leeway time.Duration) error {
	now := time.Now().UTC()

	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Add(leeway)) {
		return ErrExpired
	}
	if c.NotBefore != nil && now.Before(c.NotBefore.Add(-leeway)) {
		return ErrNotYetValid
	}
	return nil
}
