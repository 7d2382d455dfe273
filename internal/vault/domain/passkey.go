package domain

import "time"

// PasskeyCredential is a registered WebAuthn public-key credential. ID is the
// base64url credential id and is unique across all users.
type PasskeyCredential struct {
	ID              string
	UserID          string
	PublicKey       []byte
	SignCount       uint32
	Label           string
	AttestationType string
	Transports      []string
	AAGUID          []byte
	CredentialJSON  []byte // full library credential record
	CreatedAt       time.Time
	LastUsedAt      *time.Time
}
