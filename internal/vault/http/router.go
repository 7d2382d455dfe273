package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/securevault/internal/vault/service"
	"github.com/aussiebroadwan/securevault/internal/vault/store"
	"github.com/aussiebroadwan/securevault/pkg/httpx"
	"github.com/aussiebroadwan/securevault/pkg/jwtx"
	"github.com/aussiebroadwan/securevault/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	keys          *jwtx.KeySet
	verifier      jwtx.Verifier
	buildVersion  string
	startTime     time.Time
	logger        *slog.Logger
	secureCookies bool

	store store.Store

	// ChallengePinger is checked by /readyz when challenges live outside
	// the database.
	ChallengePinger Pinger

	UserService *service.UserService
	Login       *service.LoginOrchestrator
	TOTP        *service.TOTPEngine
	Passkeys    *service.PasskeyEngine
}

func NewRouter(
	keys *jwtx.KeySet,
	verifier jwtx.Verifier,
	buildVersion string,
	st store.Store,
	logger *slog.Logger,
	secureCookies bool,
) *Router {
	r := &Router{
		Mux:           http.NewServeMux(),
		keys:          keys,
		verifier:      verifier,
		buildVersion:  buildVersion,
		startTime:     time.Now(),
		store:         st,
		logger:        logger,
		secureCookies: secureCookies,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
		httpx.SessionMiddleware(secureCookies),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerUsers()
	r.registerLogin()
	r.registerSecurity()
	r.registerSystem()
}

// ServeHTTP applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerUsers() {
	h := &UsersHandler{UserService: r.UserService}

	r.Mux.Handle("POST /v1/users",
		httpx.Chain(http.HandlerFunc(h.HandleRegister),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
}

func (r *Router) registerLogin() {
	h := &LoginHandler{
		Login:         r.Login,
		Passkeys:      r.Passkeys,
		SecureCookies: r.secureCookies,
	}

	// Password guessing is limited per IP and username.
	r.Mux.Handle("POST /v1/login",
		httpx.Chain(http.HandlerFunc(h.HandleLogin),
			httpx.RateLimitByIPAndJSONField(httpx.StrictLimit, "username"),
		),
	)
	r.Mux.Handle("POST /v1/login/reset",
		httpx.Chain(http.HandlerFunc(h.HandlePasswordReset),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /v1/login/second-factor",
		httpx.Chain(http.HandlerFunc(h.HandleSecondFactor),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /v1/login/passkey/begin",
		httpx.Chain(http.HandlerFunc(h.HandlePasskeyBegin),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
	r.Mux.Handle("POST /v1/login/passkey/finish",
		httpx.Chain(http.HandlerFunc(h.HandlePasskeyFinish),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /v1/logout",
		httpx.Chain(http.HandlerFunc(h.HandleLogout),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerSecurity() {
	h := &SecurityHandler{
		UserService: r.UserService,
		TOTP:        r.TOTP,
		Passkeys:    r.Passkeys,
	}

	secured := func(fn http.HandlerFunc, limit httpx.RateLimitConfig) http.Handler {
		return httpx.Chain(fn,
			httpx.AuthnMiddleware(r.verifier),
			httpx.RateLimitByUser(limit),
		)
	}

	r.Mux.Handle("GET /v1/security", secured(h.HandleOverview, httpx.LenientLimit))
	r.Mux.Handle("POST /v1/security/totp/enroll", secured(h.HandleTOTPEnroll, httpx.ModerateLimit))
	// Code and password checks get the strict profile.
	r.Mux.Handle("POST /v1/security/totp/confirm", secured(h.HandleTOTPConfirm, httpx.StrictLimit))
	r.Mux.Handle("POST /v1/security/totp/disable", secured(h.HandleTOTPDisable, httpx.StrictLimit))
	r.Mux.Handle("POST /v1/security/backup-codes", secured(h.HandleRegenerateBackupCodes, httpx.StrictLimit))
	r.Mux.Handle("POST /v1/security/passkeys/begin", secured(h.HandlePasskeyBegin, httpx.ModerateLimit))
	r.Mux.Handle("POST /v1/security/passkeys/finish", secured(h.HandlePasskeyFinish, httpx.ModerateLimit))
	r.Mux.Handle("DELETE /v1/security/passkeys/{id}", secured(h.HandlePasskeyRevoke, httpx.ModerateLimit))
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.ChallengePinger, r.keys),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
}
