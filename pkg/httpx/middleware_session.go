package httpx

import (
	"context"
	"net/http"

	"github.com/aussiebroadwan/securevault/pkg/cryptox"
	"github.com/aussiebroadwan/securevault/pkg/slogx"
)

// SessionCookieName identifies the browser session that pending logins are
// bound to.
const SessionCookieName = "vault_session"

// SessionMiddleware makes sure every request has a browser session id. A
// fresh random id is minted and set as an HttpOnly cookie when the request
// carries none.
func SessionMiddleware(secure bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sid := ""
			if c, err := r.Cookie(SessionCookieName); err == nil && len(c.Value) >= 16 {
				sid = c.Value
			}

			if sid == "" {
				var err error
				sid, err = cryptox.GenerateToken(cryptox.TokenSize128)
				if err != nil {
					slogx.FromContext(r.Context()).Error("failed to mint session id", "err", err)
					WriteError(w, http.StatusInternalServerError, "server_error", "")
					return
				}
				http.SetCookie(w, &http.Cookie{
					Name:     SessionCookieName,
					Value:    sid,
					Path:     "/",
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			ctx := context.WithValue(r.Context(), CtxKeySessionID, sid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
