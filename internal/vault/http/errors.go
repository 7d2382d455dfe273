package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/aussiebroadwan/securevault/internal/vault/service"
	"github.com/aussiebroadwan/securevault/pkg/httpx"
)

// APIError is a JSON error with its HTTP status.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string { return e.Code + ": " + e.Description }

// WriteError writes e as an httpx.ErrorResponse.
func (e *APIError) WriteError(w http.ResponseWriter) {
	httpx.WriteError(w, e.StatusCode, e.Code, e.Description)
}

var (
	ErrInvalidRequest = &APIError{http.StatusBadRequest, "invalid_request", "the request is malformed or missing required fields"}
	ErrInvalidToken   = &APIError{http.StatusUnauthorized, "invalid_token", "missing or invalid session token"}
	ErrNotFound       = &APIError{http.StatusNotFound, "not_found", "resource not found"}
	ErrServerError    = &APIError{http.StatusInternalServerError, "server_error", "internal server error"}
)

// serviceErrors maps core errors onto responses. Anything else is a 500.
var serviceErrors = []struct {
	err error
	api *APIError
}{
	{service.ErrInvalidCredential, &APIError{http.StatusUnauthorized, "invalid_credentials", "invalid username or password"}},
	{service.ErrInvalidCode, &APIError{http.StatusUnauthorized, "invalid_code", "invalid TOTP code"}},
	{service.ErrInvalidBackupCode, &APIError{http.StatusUnauthorized, "invalid_backup_code", "invalid backup code"}},
	{service.ErrUnknownCredential, &APIError{http.StatusUnauthorized, "unknown_credential", "unknown passkey"}},
	{service.ErrNoPendingLogin, &APIError{http.StatusBadRequest, "no_pending_login", "no login is waiting for this step"}},
	{service.ErrNoPendingEnrollment, &APIError{http.StatusBadRequest, "no_pending_enrollment", "start TOTP enrollment first"}},
	{service.ErrChallengeNotFound, &APIError{http.StatusBadRequest, "challenge_not_found", "unknown or already used ceremony"}},
	{service.ErrChallengeExpired, &APIError{http.StatusGone, "challenge_expired", "the ceremony has expired, start again"}},
	{service.ErrAttestationInvalid, &APIError{http.StatusBadRequest, "attestation_invalid", "passkey response failed verification"}},
	{service.ErrDuplicateCredential, &APIError{http.StatusConflict, "duplicate_credential", "this passkey is already registered"}},
	{service.ErrReplayDetected, &APIError{http.StatusForbidden, "replay_detected", "passkey signature counter did not advance"}},
	{service.ErrTOTPAlreadyEnabled, &APIError{http.StatusConflict, "totp_already_enabled", "TOTP is already enabled"}},
	{service.ErrTOTPNotEnabled, &APIError{http.StatusBadRequest, "totp_not_enabled", "TOTP is not enabled"}},
	{service.ErrUsernameTaken, &APIError{http.StatusConflict, "username_taken", "username already exists"}},
	{service.ErrWeakPassword, &APIError{http.StatusBadRequest, "weak_password", "password must be at least 8 characters"}},
	{service.ErrInvalidRequest, ErrInvalidRequest},
}

// apiErrorFor returns the response for err and whether it is an expected
// client error.
func apiErrorFor(err error) (*APIError, bool) {
	for _, m := range serviceErrors {
		if errors.Is(err, m.err) {
			return m.api, true
		}
	}
	return ErrServerError, false
}

// writeServiceError writes the mapped response for err. Client errors are
// logged at WARN, everything else at ERROR.
func writeServiceError(w http.ResponseWriter, log *slog.Logger, msg string, err error) {
	apiErr, expected := apiErrorFor(err)
	if expected {
		log.Warn(msg, "err", err, "code", apiErr.Code)
	} else {
		log.Error(msg, "err", err)
	}
	apiErr.WriteError(w)
}
