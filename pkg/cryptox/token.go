package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// Sizes in random bytes; the base64url form is 22 and 43 characters.
const (
	TokenSize128 = 16
	TokenSize256 = 32
)

var tokenEncoding = base64.RawURLEncoding

// GenerateToken returns size random bytes encoded as unpadded base64url.
// Challenge references, WebAuthn challenges and browser session ids use it.
func GenerateToken(size int) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("token size must be positive, got %d", size)
	}

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return tokenEncoding.EncodeToString(buf), nil
}

// FingerprintToken is the stored form of a one-time secret: the base64url
// SHA-256 of its normalised plaintext.
func FingerprintToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return tokenEncoding.EncodeToString(sum[:])
}
