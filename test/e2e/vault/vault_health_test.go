package vault_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Checks  *struct {
		Database   string `json:"database"`
		Challenges string `json:"challenges"`
		Signer     string `json:"signer"`
	} `json:"checks"`
}

func TestLivezEndpoint(t *testing.T) {
	b := newBrowser(t, setupVaultContainer(t, nil))

	var health healthResponse
	require.Equal(t, http.StatusOK, b.do(http.MethodGet, "/livez", nil, &health))
	require.Equal(t, "ok", health.Status)
	require.NotEmpty(t, health.Version)
}

func TestReadyzEndpoint(t *testing.T) {
	b := newBrowser(t, setupVaultContainer(t, nil))

	var health healthResponse
	require.Equal(t, http.StatusOK, b.do(http.MethodGet, "/readyz", nil, &health))
	require.Equal(t, "ok", health.Status)
	require.NotNil(t, health.Checks)
	require.Equal(t, "ok", health.Checks.Database)
	require.Equal(t, "ok", health.Checks.Signer)
}
