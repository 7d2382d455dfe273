package http

import (
	"encoding/json"
	"time"

	"github.com/aussiebroadwan/securevault/internal/vault/domain"
	"github.com/aussiebroadwan/securevault/internal/vault/service"
)

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type UserResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

func newUserResponse(u domain.User) UserResponse {
	return UserResponse{ID: u.ID, Username: u.Username, IsAdmin: u.IsAdmin, CreatedAt: u.CreatedAt}
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type PasswordResetRequest struct {
	NewPassword string `json:"new_password"`
}

type SecondFactorRequest struct {
	Method string `json:"method"`
	Code   string `json:"code"`
}

// CeremonyFinishRequest carries the browser's PublicKeyCredential JSON.
type CeremonyFinishRequest struct {
	CeremonyID string          `json:"ceremony_id"`
	Label      string          `json:"label,omitempty"`
	Response   json.RawMessage `json:"response"`
}

type LoginResponse struct {
	State     string    `json:"state"`
	PendingID string    `json:"pending_id,omitempty"`
	Methods   []string  `json:"methods,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
	Token     string    `json:"token,omitempty"`
	AMR       []string  `json:"amr,omitempty"`
}

func newLoginResponse(res service.LoginResult) LoginResponse {
	out := LoginResponse{
		State:     string(res.State),
		PendingID: res.PendingID,
		Methods:   res.Methods,
		ExpiresAt: res.ExpiresAt,
	}
	if res.Session != nil {
		out.Token = res.Session.Token
		out.AMR = res.Session.AMR
	}
	return out
}

type CodeRequest struct {
	Code string `json:"code"`
}

type PasswordRequest struct {
	Password string `json:"password"`
}

type BackupCodesResponse struct {
	Codes []string `json:"backup_codes"`
}

type PasskeyResponse struct {
	ID         string     `json:"id"`
	Label      string     `json:"label"`
	Transports []string   `json:"transports,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

func newPasskeyResponse(c domain.PasskeyCredential) PasskeyResponse {
	return PasskeyResponse{
		ID:         c.ID,
		Label:      c.Label,
		Transports: c.Transports,
		CreatedAt:  c.CreatedAt,
		LastUsedAt: c.LastUsedAt,
	}
}

type SecurityResponse struct {
	User     UserResponse      `json:"user"`
	TOTP     domain.TOTPStatus `json:"totp"`
	Passkeys []PasskeyResponse `json:"passkeys"`

	// SecondFactorConfigured is false until the user enables TOTP or
	// registers a passkey.
	SecondFactorConfigured bool `json:"second_factor_configured"`
}

type HealthChecks struct {
	Database   string `json:"database"`
	Challenges string `json:"challenges"`
	Signer     string `json:"signer"`
}

type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime"`
	Version string        `json:"version"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}
