package jwtx_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/securevault/pkg/cryptox"
	"github.com/aussiebroadwan/securevault/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

const exampleIssuer = "securevault"

func newSigner(t *testing.T, kid string) (*jwtx.EdDSASigner, *jwtx.KeySet) {
	t.Helper()

	pemKey, err := cryptox.GenerateEd25519Key()
	require.NoError(t, err)

	s, err := jwtx.NewSignerEdDSA(kid, pemKey)
	require.NoError(t, err)
	require.NoError(t, s.Validate())

	signer := s.(*jwtx.EdDSASigner)
	keys := jwtx.NewKeySet()
	require.NoError(t, keys.Add(kid, signer.PublicKey()))
	return signer, keys
}

func TestEdDSASignAndVerify(t *testing.T) {
	signer, keys := newSigner(t, "session-key")
	require.Equal(t, "EdDSA", signer.Alg())
	require.Equal(t, "session-key", signer.KID())

	claims := jwtx.NewSessionClaims(
		"user-456",
		"session-1",
		"alice",
		true,
		[]string{jwtx.AMRPassword, jwtx.AMROTP, jwtx.AMRMFA},
		5*time.Minute,
		exampleIssuer,
		time.Now().UTC(),
	)

	token, err := signer.Sign(claims)
	require.NoError(t, err)

	parsed, err := jwtx.NewVerifierEdDSA(keys, exampleIssuer).Verify(token)
	require.NoError(t, err)
	require.Equal(t, claims.Subject, parsed.Subject)
	require.Equal(t, claims.SID, parsed.SID)
	require.Equal(t, "alice", parsed.Username)
	require.True(t, parsed.Admin)
	require.True(t, parsed.HasAMR(jwtx.AMROTP))
	require.False(t, parsed.HasAMR(jwtx.AMRPasskey))
	require.NotEmpty(t, parsed.ID)
}

func TestEdDSAVerifyFailures(t *testing.T) {
	signer, keys := newSigner(t, "session-key")
	now := time.Now().UTC()

	t.Run("wrong issuer", func(t *testing.T) {
		token, err := signer.Sign(jwtx.NewSessionClaims("u", "s", "alice", false, nil, time.Minute, "other", now))
		require.NoError(t, err)

		_, err = jwtx.NewVerifierEdDSA(keys, exampleIssuer).Verify(token)
		require.ErrorIs(t, err, jwtx.ErrIssuer)
	})

	t.Run("expired", func(t *testing.T) {
		token, err := signer.Sign(jwtx.NewSessionClaims("u", "s", "alice", false, nil, time.Minute, exampleIssuer, now.Add(-time.Hour)))
		require.NoError(t, err)

		_, err = jwtx.NewVerifierEdDSA(keys, exampleIssuer).Verify(token)
		require.Error(t, err)
	})

	t.Run("unknown kid", func(t *testing.T) {
		other, _ := newSigner(t, "rotated-away")
		token, err := other.Sign(jwtx.NewSessionClaims("u", "s", "alice", false, nil, time.Minute, exampleIssuer, now))
		require.NoError(t, err)

		_, err = jwtx.NewVerifierEdDSA(keys, exampleIssuer).Verify(token)
		require.ErrorIs(t, err, jwtx.ErrUnknownKID)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := jwtx.NewVerifierEdDSA(keys, exampleIssuer).Verify("not.a.jwt")
		require.Error(t, err)
	})
}

func TestEmptyKIDUsesThumbprint(t *testing.T) {
	pemKey, err := cryptox.GenerateEd25519Key()
	require.NoError(t, err)

	first, err := jwtx.NewSignerEdDSA("", pemKey)
	require.NoError(t, err)
	again, err := jwtx.NewSignerEdDSA("", pemKey)
	require.NoError(t, err)

	require.NotEmpty(t, first.KID())
	require.Equal(t, first.KID(), again.KID())
	require.Equal(t, jwtx.Thumbprint(first.(*jwtx.EdDSASigner).PublicKey()), first.KID())
}

func TestNewSignerRejectsBadPEM(t *testing.T) {
	_, err := jwtx.NewSignerEdDSA("k", []byte("not a key"))
	require.Error(t, err)
}
