package cryptox

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// CodeAlphabet is the Crockford-like uppercase alphabet used for one-time
// recovery codes. Ambiguous glyphs (0/O, 1/I) are left out.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateCode returns a random code of length characters drawn uniformly
// from CodeAlphabet.
func GenerateCode(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("code length must be positive, got %d", length)
	}

	limit := big.NewInt(int64(len(CodeAlphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		out[i] = CodeAlphabet[n.Int64()]
	}
	return string(out), nil
}

// NormalizeCode canonicalises user input for a recovery code: surrounding
// whitespace, inner spaces and dashes are dropped and letters upper-cased.
func NormalizeCode(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range strings.TrimSpace(code) {
		switch r {
		case ' ', '-', '\t':
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}
