package http

import (
	"net/http"

	"github.com/aussiebroadwan/securevault/internal/vault/service"
	"github.com/aussiebroadwan/securevault/pkg/httpx"
	"github.com/aussiebroadwan/securevault/pkg/slogx"
)

// LoginHandler exposes the login state machine.
type LoginHandler struct {
	Login         *service.LoginOrchestrator
	Passkeys      *service.PasskeyEngine
	SecureCookies bool
}

func sessionContext(r *http.Request) service.SessionContext {
	return service.SessionContext{
		SessionID: httpx.SessionIDFromContext(r.Context()),
		IP:        httpx.IPKeyExtractor(r),
		UserAgent: r.UserAgent(),
	}
}

// HandleLogin handles POST /v1/login.
func (h *LoginHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req LoginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		log.Warn("failed to parse request", "err", err)
		ErrInvalidRequest.WriteError(w)
		return
	}

	res, err := h.Login.AttemptLogin(ctx, sessionContext(r), req.Username, req.Password)
	if err != nil {
		writeServiceError(w, log, "login failed", err)
		return
	}
	h.writeResult(w, res)
}

// HandlePasswordReset handles POST /v1/login/reset.
func (h *LoginHandler) HandlePasswordReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req PasswordResetRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		log.Warn("failed to parse request", "err", err)
		ErrInvalidRequest.WriteError(w)
		return
	}

	res, err := h.Login.CompletePasswordReset(ctx, sessionContext(r), req.NewPassword)
	if err != nil {
		writeServiceError(w, log, "password reset failed", err)
		return
	}
	h.writeResult(w, res)
}

// HandleSecondFactor handles POST /v1/login/second-factor for codes.
// Passkeys go through HandlePasskeyFinish.
func (h *LoginHandler) HandleSecondFactor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req SecondFactorRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.Method == service.MethodPasskey {
		log.Warn("invalid second factor request", "err", err, "method", req.Method)
		ErrInvalidRequest.WriteError(w)
		return
	}

	res, err := h.Login.ResolveSecondFactor(ctx, sessionContext(r), service.SecondFactorProof{
		Method: req.Method,
		Code:   req.Code,
	})
	if err != nil {
		writeServiceError(w, log, "second factor failed", err)
		return
	}
	h.writeResult(w, res)
}

// HandlePasskeyBegin handles POST /v1/login/passkey/begin.
func (h *LoginHandler) HandlePasskeyBegin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	ceremony, err := h.Passkeys.BeginAuthentication(ctx)
	if err != nil {
		writeServiceError(w, log, "failed to begin passkey login", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, ceremony)
}

// HandlePasskeyFinish handles POST /v1/login/passkey/finish. It resolves a
// pending second factor if the session has one, otherwise it logs in with
// the passkey alone.
func (h *LoginHandler) HandlePasskeyFinish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req CeremonyFinishRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.CeremonyID == "" || len(req.Response) == 0 {
		log.Warn("invalid passkey finish request", "err", err)
		ErrInvalidRequest.WriteError(w)
		return
	}

	res, err := h.Login.FinishPasskey(ctx, sessionContext(r), req.CeremonyID, req.Response)
	if err != nil {
		writeServiceError(w, log, "passkey login failed", err)
		return
	}
	h.writeResult(w, res)
}

// HandleLogout handles POST /v1/logout.
func (h *LoginHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	if err := h.Login.Logout(ctx, sessionContext(r)); err != nil {
		writeServiceError(w, log, "logout failed", err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     httpx.TokenCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
	httpx.NoCache(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *LoginHandler) writeResult(w http.ResponseWriter, res service.LoginResult) {
	if res.Session != nil {
		http.SetCookie(w, &http.Cookie{
			Name:     httpx.TokenCookieName,
			Value:    res.Session.Token,
			Path:     "/",
			Expires:  res.Session.ExpiresAt,
			HttpOnly: true,
			Secure:   h.SecureCookies,
			SameSite: http.SameSiteStrictMode,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, newLoginResponse(res))
}
