package jwtx

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
)

// Signer mints session tokens.
type Signer interface {
	Alg() string
	KID() string
	Sign(Claims) (string, error)
	Validate() error
}

// Thumbprint derives a short key id from an Ed25519 public key, so the same
// key file always yields the same kid.
func Thumbprint(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return base64.RawURLEncoding.EncodeToString(sum[:12])
}
