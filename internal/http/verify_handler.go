package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dropDatabas3/idbroker/internal/email"
	"github.com/dropDatabas3/idbroker/internal/observability/logger"
	"github.com/dropDatabas3/idbroker/internal/store/core"
)

// VerificationStore is the slice of the identity adapter the verification
// flow needs.
type VerificationStore interface {
	CreateVerificationToken(ctx context.Context, v core.VerificationToken) (*core.VerificationToken, error)
	UseVerificationToken(ctx context.Context, identifier, token string) (*core.VerificationToken, error)
	GetUserByEmail(ctx context.Context, email string) (*core.User, error)
	UpdateUser(ctx context.Context, id string, p core.UserPatch) (*core.User, error)
}

// VerifyHandler runs the email verification flow: a single-use token, mailed
// as a link, consumed exactly once.
type VerifyHandler struct {
	Store  VerificationStore
	Mailer *email.VerificationMailer
	TTL    time.Duration

	now func() time.Time
}

func (h *VerifyHandler) Register(r chi.Router) {
	r.Post("/auth/verify/start", h.start)
	r.Get("/auth/verify", h.consume)
}

func (h *VerifyHandler) clock() time.Time {
	if h.now != nil {
		return h.now()
	}
	return time.Now()
}

func (h *VerifyHandler) start(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == "" {
		writeErr(w, "invalid_request", "email is required", http.StatusBadRequest)
		return
	}
	identifier := strings.ToLower(strings.TrimSpace(body.Email))

	tok := core.VerificationToken{
		Identifier: identifier,
		Token:      uuid.NewString(),
		Expires:    h.clock().Add(h.TTL),
	}
	if _, err := h.Store.CreateVerificationToken(r.Context(), tok); err != nil {
		logger.From(r.Context()).Error("verification token create failed", logger.Err(err))
		writeErr(w, "server_error", "could not start verification", http.StatusInternalServerError)
		return
	}

	if h.Mailer != nil {
		if err := h.Mailer.SendVerification(identifier, tok.Token, tok.Expires); err != nil {
			logger.From(r.Context()).Error("verification mail failed", logger.Err(err))
			writeErr(w, "server_error", "could not send verification email", http.StatusInternalServerError)
			return
		}
	}

	// Same response whether or not the address is known.
	w.WriteHeader(http.StatusAccepted)
}

func (h *VerifyHandler) consume(w http.ResponseWriter, r *http.Request) {
	identifier := r.URL.Query().Get("identifier")
	token := r.URL.Query().Get("token")
	if identifier == "" || token == "" {
		writeErr(w, "invalid_request", "identifier and token are required", http.StatusBadRequest)
		return
	}

	used, err := h.Store.UseVerificationToken(r.Context(), identifier, token)
	if err != nil {
		logger.From(r.Context()).Error("verification token lookup failed", logger.Err(err))
		writeErr(w, "server_error", "verification failed", http.StatusInternalServerError)
		return
	}
	if used == nil {
		writeErr(w, "invalid_token", "token is unknown or already used", http.StatusBadRequest)
		return
	}
	if h.clock().After(used.Expires) {
		writeErr(w, "invalid_token", "token expired", http.StatusBadRequest)
		return
	}

	// Mark the address verified when a user already carries it.
	if user, err := h.Store.GetUserByEmail(r.Context(), used.Identifier); err == nil && user != nil {
		verifiedAt := h.clock().UTC()
		if _, err := h.Store.UpdateUser(r.Context(), user.ID, core.UserPatch{EmailVerified: &verifiedAt}); err != nil {
			logger.From(r.Context()).Warn("email verified flag update failed",
				logger.UserID(user.ID), logger.Err(err))
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"verified": true, "identifier": used.Identifier})
}
