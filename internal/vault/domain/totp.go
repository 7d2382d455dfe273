package domain

import "time"

// TOTPFactor is a confirmed TOTP enrolment. A user has at most one.
type TOTPFactor struct {
	UserID    string
	Secret    string // base32
	Enabled   bool
	CreatedAt time.Time
}

// TOTPEnrollment is handed to the user while the secret is unconfirmed.
type TOTPEnrollment struct {
	Secret      string    `json:"secret"`
	URI         string    `json:"otpauth_uri"`
	Issuer      string    `json:"issuer"`
	AccountName string    `json:"account_name"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// TOTPStatus summarises a user's TOTP state for the security page.
type TOTPStatus struct {
	Enabled              bool      `json:"enabled"`
	EnabledAt            time.Time `json:"enabled_at,omitzero"`
	BackupCodesRemaining int       `json:"backup_codes_remaining"`
}
