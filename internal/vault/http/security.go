package http

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/securevault/internal/vault/service"
	"github.com/aussiebroadwan/securevault/pkg/httpx"
	"github.com/aussiebroadwan/securevault/pkg/slogx"
)

// SecurityHandler serves the account security page: TOTP and passkeys for
// the authenticated user.
type SecurityHandler struct {
	UserService *service.UserService
	TOTP        *service.TOTPEngine
	Passkeys    *service.PasskeyEngine
}

// HandleOverview handles GET /v1/security.
func (h *SecurityHandler) HandleOverview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	userID := httpx.UserIDFromContext(ctx)

	user, err := h.UserService.GetUserByID(ctx, userID)
	if err != nil {
		log.Warn("failed to load user", "err", err)
		ErrInvalidToken.WriteError(w)
		return
	}

	status, err := h.TOTP.Status(ctx, userID)
	if err != nil {
		writeServiceError(w, log, "failed to load TOTP status", err)
		return
	}

	creds, err := h.Passkeys.ListCredentials(ctx, userID)
	if err != nil {
		writeServiceError(w, log, "failed to list passkeys", err)
		return
	}

	passkeys := make([]PasskeyResponse, 0, len(creds))
	for _, c := range creds {
		passkeys = append(passkeys, newPasskeyResponse(c))
	}

	httpx.WriteJSON(w, http.StatusOK, SecurityResponse{
		User:     newUserResponse(user),
		TOTP:     status,
		Passkeys: passkeys,

		SecondFactorConfigured: status.Enabled || len(creds) > 0,
	})
}

// HandleTOTPEnroll handles POST /v1/security/totp/enroll.
func (h *SecurityHandler) HandleTOTPEnroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	user, err := h.UserService.GetUserByID(ctx, httpx.UserIDFromContext(ctx))
	if err != nil {
		log.Warn("failed to load user", "err", err)
		ErrInvalidToken.WriteError(w)
		return
	}

	enrollment, err := h.TOTP.Enroll(ctx, user)
	if err != nil {
		writeServiceError(w, log, "failed to enroll TOTP", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, enrollment)
}

// HandleTOTPConfirm handles POST /v1/security/totp/confirm. The backup
// codes in the response are never shown again.
func (h *SecurityHandler) HandleTOTPConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req CodeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		log.Warn("failed to parse request", "err", err)
		ErrInvalidRequest.WriteError(w)
		return
	}

	codes, err := h.TOTP.ConfirmEnrollment(ctx, httpx.UserIDFromContext(ctx), req.Code)
	if err != nil {
		writeServiceError(w, log, "failed to confirm TOTP", err)
		return
	}

	log.Info("TOTP enabled")
	httpx.WriteJSON(w, http.StatusOK, BackupCodesResponse{Codes: codes})
}

// HandleTOTPDisable handles POST /v1/security/totp/disable.
func (h *SecurityHandler) HandleTOTPDisable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req PasswordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		log.Warn("failed to parse request", "err", err)
		ErrInvalidRequest.WriteError(w)
		return
	}

	if err := h.TOTP.Disable(ctx, httpx.UserIDFromContext(ctx), req.Password); err != nil {
		writeServiceError(w, log, "failed to disable TOTP", err)
		return
	}

	log.Info("TOTP disabled")
	httpx.NoCache(w)
	w.WriteHeader(http.StatusNoContent)
}

// HandleRegenerateBackupCodes handles POST /v1/security/backup-codes.
func (h *SecurityHandler) HandleRegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req CodeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		log.Warn("failed to parse request", "err", err)
		ErrInvalidRequest.WriteError(w)
		return
	}

	codes, err := h.TOTP.RegenerateBackupCodes(ctx, httpx.UserIDFromContext(ctx), req.Code)
	if err != nil {
		writeServiceError(w, log, "failed to regenerate backup codes", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, BackupCodesResponse{Codes: codes})
}

// HandlePasskeyBegin handles POST /v1/security/passkeys/begin.
func (h *SecurityHandler) HandlePasskeyBegin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	user, err := h.UserService.GetUserByID(ctx, httpx.UserIDFromContext(ctx))
	if err != nil {
		log.Warn("failed to load user", "err", err)
		ErrInvalidToken.WriteError(w)
		return
	}

	ceremony, err := h.Passkeys.BeginRegistration(ctx, user)
	if err != nil {
		writeServiceError(w, log, "failed to begin passkey registration", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, ceremony)
}

// HandlePasskeyFinish handles POST /v1/security/passkeys/finish.
func (h *SecurityHandler) HandlePasskeyFinish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req CeremonyFinishRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.CeremonyID == "" || len(req.Response) == 0 {
		log.Warn("invalid passkey finish request", "err", err)
		ErrInvalidRequest.WriteError(w)
		return
	}

	cred, err := h.Passkeys.CompleteRegistration(ctx, httpx.UserIDFromContext(ctx), req.CeremonyID, req.Label, req.Response)
	if err != nil {
		writeServiceError(w, log, "passkey registration failed", err)
		return
	}

	log.Info("passkey registered", "credential_id", cred.ID)
	httpx.WriteJSON(w, http.StatusCreated, newPasskeyResponse(cred))
}

// HandlePasskeyRevoke handles DELETE /v1/security/passkeys/{id}.
func (h *SecurityHandler) HandlePasskeyRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	err := h.Passkeys.RevokeCredential(ctx, httpx.UserIDFromContext(ctx), r.PathValue("id"))
	if errors.Is(err, service.ErrUnknownCredential) {
		ErrNotFound.WriteError(w)
		return
	}
	if err != nil {
		writeServiceError(w, log, "failed to revoke passkey", err)
		return
	}

	httpx.NoCache(w)
	w.WriteHeader(http.StatusNoContent)
}
