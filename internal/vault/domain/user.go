package domain

import "time"

type User struct {
	ID           string
	Username     string
	PasswordHash string // argon2id PHC string
	IsAdmin      bool
	ForceReset   bool // password must be changed before any session is issued
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
