package jwtx_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/securevault/pkg/jwtx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestValidateIssuer(t *testing.T) {
	c := &jwtx.Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: "securevault"}}

	require.NoError(t, c.ValidateIssuer("securevault"))
	require.NoError(t, c.ValidateIssuer(""))
	require.ErrorIs(t, c.ValidateIssuer("notes-service"), jwtx.ErrIssuer)
}

func TestValidateExpiry(t *testing.T) {
	now := time.Now().UTC()

	t.Run("valid token", func(t *testing.T) {
		c := &jwtx.Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute))}}
		require.NoError(t, c.ValidateExpiry())
	})

	t.Run("expired token", func(t *testing.T) {
		c := &jwtx.Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute))}}
		require.ErrorIs(t, c.ValidateExpiry(), jwtx.ErrExpired)
	})

	t.Run("not yet valid", func(t *testing.T) {
		c := &jwtx.Claims{RegisteredClaims: jwt.RegisteredClaims{NotBefore: jwt.NewNumericDate(now.Add(time.Minute))}}
		require.ErrorIs(t, c.ValidateExpiry(), jwtx.ErrNotYetValid)
	})

	t.Run("leeway absorbs skew", func(t *testing.T) {
		c := &jwtx.Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(-10 * time.Second))}}
		require.NoError(t, c.ValidateExpiryWithLeeway(30*time.Second))
		require.ErrorIs(t, c.ValidateExpiryWithLeeway(time.Second), jwtx.ErrExpired)
	})
}

func TestNewSessionClaims(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	c := jwtx.NewSessionClaims("user-1", "sid-1", "alice", false, []string{jwtx.AMRPasskey}, time.Hour, "securevault", now)

	require.Equal(t, "user-1", c.Subject)
	require.Equal(t, "sid-1", c.SID)
	require.Equal(t, now.Add(time.Hour), c.ExpiresAt.Time)
	require.True(t, c.HasAMR(jwtx.AMRPasskey))
	require.NotEqual(t, c.ID, jwtx.NewJTI())
}
