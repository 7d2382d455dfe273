package httpx

import (
	"context"

	"github.com/aussiebroadwan/securevault/pkg/jwtx"
)

type ctxKey string

const (
	CtxKeyUserID    ctxKey = "user_id"
	CtxKeySessionID ctxKey = "session_id"
	CtxKeyClaims    ctxKey = "claims"
)

// UserIDFromContext returns the authenticated user id, or "".
func UserIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(CtxKeyUserID).(string)
	return v
}

// SessionIDFromContext returns the browser session id set by
// SessionMiddleware, or "".
func SessionIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(CtxKeySessionID).(string)
	return v
}

// ClaimsFromContext returns the verified session claims.
func ClaimsFromContext(ctx context.Context) (jwtx.Claims, bool) {
	c, ok := ctx.Value(CtxKeyClaims).(jwtx.Claims)
	return c, ok
}
