package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	httpapi "github.com/aussiebroadwan/securevault/internal/vault/http"
)

func testConfig(t *testing.T) Config {
	t.Helper()

	cfg, err := LoadConfig()
	require.NoError(t, err)

	dir := t.TempDir()
	cfg.DatabaseFile = filepath.Join(dir, "vault.db")
	cfg.PepperFile = filepath.Join(dir, "pepper")
	cfg.SessionKeyFile = filepath.Join(dir, "session.pem")
	cfg.LogLevel = "error"
	return cfg
}

func readyz(t *testing.T, app *Application) httpapi.HealthResponse {
	t.Helper()

	rec := httptest.NewRecorder()
	app.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body httpapi.HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestNewWithSQLiteChallenges(t *testing.T) {
	app, err := New(testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.closeStores() })

	require.Nil(t, app.redis)
	require.Nil(t, app.router.ChallengePinger)
	require.Equal(t, "ok", readyz(t, app).Checks.Database)
}

func TestNewWithRedisChallenges(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig(t)
	cfg.ChallengeStore = "redis"
	cfg.RedisAddr = mr.Addr()

	app, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.closeStores() })

	require.NotNil(t, app.router.ChallengePinger)
	require.Equal(t, "ok", readyz(t, app).Checks.Challenges)
}

func TestNewFailsWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig(t)
	cfg.ChallengeStore = "redis"
	cfg.RedisAddr = addr

	_, err := New(cfg)
	require.Error(t, err)
}

func TestSessionKeysSurviveRestart(t *testing.T) {
	cfg := testConfig(t)

	first, err := New(cfg)
	require.NoError(t, err)
	kid := first.keys.Signer.KID()
	require.NoError(t, first.closeStores())

	second, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.closeStores() })
	require.Equal(t, kid, second.keys.Signer.KID())
}
