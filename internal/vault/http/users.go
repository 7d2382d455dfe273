package http

import (
	"net/http"

	"github.com/aussiebroadwan/securevault/internal/vault/service"
	"github.com/aussiebroadwan/securevault/pkg/httpx"
	"github.com/aussiebroadwan/securevault/pkg/slogx"
)

type UsersHandler struct {
	UserService *service.UserService
}

// HandleRegister handles POST /v1/users.
func (h *UsersHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req RegisterRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		log.Warn("failed to parse request", "err", err)
		ErrInvalidRequest.WriteError(w)
		return
	}

	user, err := h.UserService.Register(ctx, req.Username, req.Password)
	if err != nil {
		writeServiceError(w, log, "registration failed", err)
		return
	}

	log.Info("user registered", "user_id", user.ID)
	httpx.WriteJSON(w, http.StatusCreated, newUserResponse(user))
}
