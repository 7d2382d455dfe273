package jwtx

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// EdDSASigner signs session tokens with an Ed25519 key.
type EdDSASigner struct {
	kid  string
	priv ed25519.PrivateKey
}

// NewSignerEdDSA parses a PKCS8 PEM Ed25519 key. An empty kid is replaced
// by the key's Thumbprint.
func NewSignerEdDSA(kid string, pemKey []byte) (Signer, error) {
	key, err := jwt.ParseEdPrivateKeyFromPEM(pemKey)
	if err != nil {
		return nil, fmt.Errorf("jwtx: parse Ed25519 key: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("jwtx: not an Ed25519 private key")
	}

	s := &EdDSASigner{kid: kid, priv: priv}
	if s.kid == "" {
		s.kid = Thumbprint(s.PublicKey())
	}
	return s, nil
}

func (s *EdDSASigner) Alg() string { return jwt.SigningMethodEdDSA.Alg() }

func (s *EdDSASigner) KID() string { return s.kid }

// PublicKey is the half a KeySet needs.
func (s *EdDSASigner) PublicKey() ed25519.PublicKey {
	return s.priv.Public().(ed25519.PublicKey)
}

func (s *EdDSASigner) Sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = s.kid
	return token.SignedString(s.priv)
}

func (s *EdDSASigner) Validate() error {
	if len(s.priv) != ed25519.PrivateKeySize {
		return errors.New("jwtx: Ed25519 private key has the wrong size")
	}
	return nil
}
