package http

import (
	"context"
	"net/http"
	"time"

	"github.com/aussiebroadwan/securevault/pkg/httpx"
	"github.com/aussiebroadwan/securevault/pkg/jwtx"
)

// Pinger is anything with a liveness check, e.g. the store or Redis.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyzHandler reports 503 when the database, the challenge store or the
// session signer is unavailable. challenges may be nil when challenges live
// in the database.
func ReadyzHandler(startTime time.Time, version string, db, challenges Pinger, keys *jwtx.KeySet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := &HealthChecks{Database: "ok", Challenges: "ok", Signer: "ok"}
		status := "ok"
		code := http.StatusOK

		degrade := func(field *string, msg string) {
			*field = "error: " + msg
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		if err := db.Ping(r.Context()); err != nil {
			degrade(&checks.Database, err.Error())
		}
		if challenges != nil {
			if err := challenges.Ping(r.Context()); err != nil {
				degrade(&checks.Challenges, err.Error())
			}
		}
		if !keys.IsReady() {
			degrade(&checks.Signer, "no keys loaded")
		}

		httpx.WriteJSON(w, code, HealthResponse{
			Status:  status,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		})
	}
}
