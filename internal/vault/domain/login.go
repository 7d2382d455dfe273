package domain

import "time"

type LoginStage string

const (
	StageSecondFactor  LoginStage = "second_factor"
	StagePasswordReset LoginStage = "password_reset"
)

// PendingLogin records a primary authentication that still needs another
// step. It is keyed by the caller's browser session and never auto-advances.
type PendingLogin struct {
	ID        string
	SessionID string
	UserID    string
	Stage     LoginStage
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (p PendingLogin) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// AuthSession is a materialised login.
type AuthSession struct {
	ID        string
	UserID    string
	Username  string
	IsAdmin   bool
	AMR       []string
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
