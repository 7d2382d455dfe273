package httpx_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aussiebroadwan/securevault/pkg/cryptox"
	"github.com/aussiebroadwan/securevault/pkg/httpx"
	"github.com/aussiebroadwan/securevault/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) httpx.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := httpx.Chain(okHandler, mw("a"), mw("b"), mw("c"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, []string{"a", "b", "c"}, order)
}

func TestSessionMiddleware(t *testing.T) {
	var seen string
	h := httpx.SessionMiddleware(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = httpx.SessionIDFromContext(r.Context())
	}))

	t.Run("mints a cookie", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		require.Equal(t, httpx.SessionCookieName, cookies[0].Name)
		require.True(t, cookies[0].HttpOnly)
		require.Equal(t, cookies[0].Value, seen)
	})

	t.Run("reuses an existing cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: httpx.SessionCookieName, Value: "existing-session-id-1234"})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		require.Empty(t, rec.Result().Cookies())
		require.Equal(t, "existing-session-id-1234", seen)
	})
}

func TestAuthnMiddleware(t *testing.T) {
	pemKey, err := cryptox.GenerateEd25519Key()
	require.NoError(t, err)
	s, err := jwtx.NewSignerEdDSA("k1", pemKey)
	require.NoError(t, err)
	signer := s.(*jwtx.EdDSASigner)

	keys := jwtx.NewKeySet()
	require.NoError(t, keys.Add("k1", signer.PublicKey()))

	token, err := signer.Sign(jwtx.NewSessionClaims("user-1", "sid", "alice", false,
		[]string{jwtx.AMRPassword}, time.Minute, "securevault", time.Now()))
	require.NoError(t, err)

	var gotUser string
	h := httpx.AuthnMiddleware(jwtx.NewVerifierEdDSA(keys, "securevault"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = httpx.UserIDFromContext(r.Context())
		claims, ok := httpx.ClaimsFromContext(r.Context())
		require.True(t, ok)
		require.Equal(t, "alice", claims.Username)
	}))

	t.Run("bearer header", func(t *testing.T) {
		gotUser = ""
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "user-1", gotUser)
	})

	t.Run("cookie", func(t *testing.T) {
		gotUser = ""
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: httpx.TokenCookieName, Value: token})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "user-1", gotUser)
	})

	t.Run("missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Contains(t, rec.Header().Get("WWW-Authenticate"), "invalid_token")
	})

	t.Run("tampered", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token+"x")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
