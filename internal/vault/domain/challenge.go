package domain

import "time"

type ChallengePurpose string

const (
	PurposeRegistration   ChallengePurpose = "registration"
	PurposeAuthentication ChallengePurpose = "authentication"
	PurposeTOTPEnrollment ChallengePurpose = "totp_enrollment"
)

// Challenge is a single-use, time-bounded ceremony record. ID is the
// reference handed to the client and Value the challenge it must sign.
type Challenge struct {
	ID        string
	Value     string
	Purpose   ChallengePurpose
	UserID    string // empty for discoverable authentication
	Payload   []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the challenge is past its TTL at now.
func (c Challenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
