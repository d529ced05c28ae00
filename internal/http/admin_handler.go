package http

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/idbroker/internal/observability/logger"
)

const adminKeyHeader = "X-Admin-API-Key"

// Wiper truncates every identity collection.
type Wiper interface {
	Wipe(ctx context.Context) error
}

// AdminHandler exposes destructive maintenance operations behind an API key.
type AdminHandler struct {
	Store  Wiper
	APIKey string
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Post("/admin/wipe", h.wipe)
}

func (h *AdminHandler) wipe(w http.ResponseWriter, r *http.Request) {
	if h.APIKey == "" {
		writeErr(w, "forbidden", "admin API is not enabled", http.StatusForbidden)
		return
	}
	got := r.Header.Get(adminKeyHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.APIKey)) != 1 {
		writeErr(w, "forbidden", "invalid admin key", http.StatusForbidden)
		return
	}

	if err := h.Store.Wipe(r.Context()); err != nil {
		logger.From(r.Context()).Error("wipe failed", logger.Err(err))
		writeErr(w, "server_error", "wipe failed", http.StatusInternalServerError)
		return
	}
	logger.From(r.Context()).Warn("identity store wiped")
	w.WriteHeader(http.StatusNoContent)
}
