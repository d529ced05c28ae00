package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/idbroker/internal/oauth"
	"github.com/dropDatabas3/idbroker/internal/observability/logger"
	"github.com/dropDatabas3/idbroker/internal/signin"
)

// AuthHandler serves the sign-in callback and session lifecycle endpoints.
type AuthHandler struct {
	SignIn  signin.Service
	Cookies CookieConfig
}

func (h *AuthHandler) Register(r chi.Router) {
	r.Post("/auth/callback/{provider}", h.callback)
	r.Get("/auth/session", h.session)
	r.Post("/auth/refresh", h.refresh)
	r.Post("/auth/signout", h.signout)
}

// callbackBody is the JSON shape; providers using form_post send the same
// fields urlencoded.
type callbackBody struct {
	Code    string `json:"code"`
	IDToken string `json:"id_token"`
	User    string `json:"user"`
}

// profileWire is the one-shot profile fragment some providers post on first
// authorization only.
type profileWire struct {
	Email string `json:"email"`
	Name  struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	} `json:"name"`
}

func (h *AuthHandler) callback(w http.ResponseWriter, r *http.Request) {
	req := signin.Request{Provider: chi.URLParam(r, "provider")}

	if ct := r.Header.Get("Content-Type"); strings.HasPrefix(ct, "application/json") {
		var body callbackBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeErr(w, "invalid_request", "malformed JSON body", http.StatusBadRequest)
			return
		}
		req.Code, req.IDToken = body.Code, body.IDToken
		req.Profile = parseProfile(body.User)
	} else {
		if err := r.ParseForm(); err != nil {
			writeErr(w, "invalid_request", "malformed form body", http.StatusBadRequest)
			return
		}
		req.Code = r.PostFormValue("code")
		req.IDToken = r.PostFormValue("id_token")
		req.Profile = parseProfile(r.PostFormValue("user"))
	}

	res, err := h.SignIn.SignIn(r.Context(), req)
	if err != nil {
		// Deny with a uniform body; the cause is already logged.
		writeErr(w, "access_denied", "sign-in was not allowed", http.StatusUnauthorized)
		return
	}

	h.Cookies.set(w, res.Artifact)
	writeJSON(w, http.StatusOK, res.View)
}

func (h *AuthHandler) session(w http.ResponseWriter, r *http.Request) {
	artifact := h.artifactFrom(r)
	if artifact == "" {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	view, err := h.SignIn.Resolve(r.Context(), artifact)
	if err != nil {
		logger.From(r.Context()).Debug("session artifact rejected", logger.Err(err))
		h.Cookies.clear(w)
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *AuthHandler) refresh(w http.ResponseWriter, r *http.Request) {
	artifact := h.artifactFrom(r)
	if artifact == "" {
		writeErr(w, "invalid_request", "no session", http.StatusUnauthorized)
		return
	}
	res, err := h.SignIn.Refresh(r.Context(), artifact)
	if err != nil {
		writeErr(w, "access_denied", "refresh was not allowed", http.StatusUnauthorized)
		return
	}
	h.Cookies.set(w, res.Artifact)
	writeJSON(w, http.StatusOK, res.View)
}

func (h *AuthHandler) signout(w http.ResponseWriter, r *http.Request) {
	h.Cookies.clear(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) artifactFrom(r *http.Request) string {
	if c, err := r.Cookie(h.Cookies.Name); err == nil && c.Value != "" {
		return c.Value
	}
	return bearerToken(r)
}

func parseProfile(raw string) *signin.Profile {
	if raw == "" {
		return nil
	}
	var wire profileWire
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil
	}
	return &signin.Profile{
		Email: wire.Email,
		Name:  oauth.Name{First: wire.Name.FirstName, Last: wire.Name.LastName},
	}
}
