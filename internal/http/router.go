package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports backend liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterDeps contains everything the router mounts.
type RouterDeps struct {
	Auth   *AuthHandler
	Verify *VerifyHandler
	Admin  *AdminHandler
	Health Pinger
}

// NewRouter assembles the broker's HTTP surface.
func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Recover)
	r.Use(AccessLog)

	d.Auth.Register(r)
	d.Verify.Register(r)
	d.Admin.Register(r)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if d.Health != nil {
			if err := d.Health.Ping(req.Context()); err != nil {
				writeErr(w, "unavailable", "store unreachable", http.StatusServiceUnavailable)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}
