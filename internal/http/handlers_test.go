package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/idbroker/internal/email"
	"github.com/dropDatabas3/idbroker/internal/session"
	"github.com/dropDatabas3/idbroker/internal/signin"
	"github.com/dropDatabas3/idbroker/internal/store/adapter"
	"github.com/dropDatabas3/idbroker/internal/store/core"
	"github.com/dropDatabas3/idbroker/internal/store/doc/memory"
)

// fakeSignIn scripts the orchestrator per test.
type fakeSignIn struct {
	signInRes  *signin.Result
	signInErr  error
	refreshRes *signin.Result
	refreshErr error
	resolveErr error

	lastReq signin.Request
}

func (f *fakeSignIn) SignIn(ctx context.Context, req signin.Request) (*signin.Result, error) {
	f.lastReq = req
	return f.signInRes, f.signInErr
}

func (f *fakeSignIn) Refresh(ctx context.Context, artifact string) (*signin.Result, error) {
	return f.refreshRes, f.refreshErr
}

func (f *fakeSignIn) Resolve(ctx context.Context, artifact string) (*session.View, error) {
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	v := session.ViewFrom(&session.Payload{UserID: "user-1"}, time.Now().Add(time.Hour))
	return &v, nil
}

func testCookies() CookieConfig {
	return CookieConfig{Name: "idbroker_session", SameSite: "Lax", TTL: time.Hour}
}

func newAuthRouter(f *fakeSignIn) http.Handler {
	r := chi.NewRouter()
	(&AuthHandler{SignIn: f, Cookies: testCookies()}).Register(r)
	return r
}

func allowedResult() *signin.Result {
	p := session.Payload{UserID: "user-1", Email: "ana@example.com"}
	return &signin.Result{
		UserID:   "user-1",
		Artifact: "signed-artifact",
		View:     session.ViewFrom(&p, time.Now().Add(time.Hour)),
	}
}

func TestCallbackFormPost(t *testing.T) {
	fake := &fakeSignIn{signInRes: allowedResult()}
	r := newAuthRouter(fake)

	form := url.Values{}
	form.Set("code", "the-code")
	form.Set("id_token", "the-idt")
	form.Set("user", `{"email":"ana@example.com","name":{"firstName":"Ana","lastName":"B"}}`)

	req := httptest.NewRequest(http.MethodPost, "/auth/callback/apple", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "apple", fake.lastReq.Provider)
	require.Equal(t, "the-code", fake.lastReq.Code)
	require.Equal(t, "the-idt", fake.lastReq.IDToken)
	require.NotNil(t, fake.lastReq.Profile)
	require.Equal(t, "Ana", fake.lastReq.Profile.Name.First)

	// session cookie set
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, "idbroker_session", cookies[0].Name)
	require.Equal(t, "signed-artifact", cookies[0].Value)
	require.True(t, cookies[0].HttpOnly)

	var view session.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	require.Equal(t, "user-1", view.User.ID)
}

func TestCallbackJSON(t *testing.T) {
	fake := &fakeSignIn{signInRes: allowedResult()}
	r := newAuthRouter(fake)

	body := `{"code":"c","id_token":"i"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/callback/apple", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "c", fake.lastReq.Code)
	require.Equal(t, "i", fake.lastReq.IDToken)
	require.Nil(t, fake.lastReq.Profile)
}

func TestCallbackDeniedIsOpaque(t *testing.T) {
	fake := &fakeSignIn{signInErr: signin.ErrExchangeFailed}
	r := newAuthRouter(fake)

	req := httptest.NewRequest(http.MethodPost, "/auth/callback/apple", strings.NewReader("code=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), "access_denied")
	// no internals leak to the client
	require.NotContains(t, w.Body.String(), "exchange")
	require.Empty(t, w.Result().Cookies())
}

func TestSessionEndpoint(t *testing.T) {
	t.Run("no artifact", func(t *testing.T) {
		r := newAuthRouter(&fakeSignIn{})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/session", nil))
		require.Equal(t, http.StatusOK, w.Code)
		require.JSONEq(t, `{}`, w.Body.String())
	})

	t.Run("valid cookie", func(t *testing.T) {
		r := newAuthRouter(&fakeSignIn{})
		req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
		req.AddCookie(&http.Cookie{Name: "idbroker_session", Value: "artifact"})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		var view session.View
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
		require.Equal(t, "user-1", view.User.ID)
	})

	t.Run("rejected artifact clears cookie", func(t *testing.T) {
		r := newAuthRouter(&fakeSignIn{resolveErr: signin.ErrSessionInvalid})
		req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
		req.AddCookie(&http.Cookie{Name: "idbroker_session", Value: "stale"})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		require.JSONEq(t, `{}`, w.Body.String())
		cookies := w.Result().Cookies()
		require.Len(t, cookies, 1)
		require.Negative(t, cookies[0].MaxAge)
	})

	t.Run("bearer token", func(t *testing.T) {
		r := newAuthRouter(&fakeSignIn{})
		req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
		req.Header.Set("Authorization", "Bearer artifact")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		require.Contains(t, w.Body.String(), "user-1")
	})
}

func TestSignout(t *testing.T) {
	r := newAuthRouter(&fakeSignIn{})
	req := httptest.NewRequest(http.MethodPost, "/auth/signout", nil)
	req.AddCookie(&http.Cookie{Name: "idbroker_session", Value: "artifact"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusNoContent, w.Code)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Negative(t, cookies[0].MaxAge)
}

func TestRefreshEndpoint(t *testing.T) {
	res := allowedResult()
	res.Artifact = "rotated-artifact"
	r := newAuthRouter(&fakeSignIn{refreshRes: res})

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "idbroker_session", Value: "old-artifact"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, "rotated-artifact", cookies[0].Value)
}

// recordingSender captures outgoing mail instead of dialing SMTP.
type recordingSender struct {
	to, subject, html, text string
	err                     error
}

func (s *recordingSender) Send(to, subject, htmlBody, textBody string) error {
	s.to, s.subject, s.html, s.text = to, subject, htmlBody, textBody
	return s.err
}

func TestVerificationFlow(t *testing.T) {
	ctx := context.Background()
	store := adapter.New(memory.New())
	sender := &recordingSender{}
	mailer := email.NewVerificationMailer(sender, "https://broker.example.com", "testapp")

	r := chi.NewRouter()
	(&VerifyHandler{Store: store, Mailer: mailer, TTL: time.Hour}).Register(r)

	// a user who will get the verified flag
	em := "ana@example.com"
	user, err := store.CreateUser(ctx, core.User{Email: &em})
	require.NoError(t, err)

	// start
	req := httptest.NewRequest(http.MethodPost, "/auth/verify/start", strings.NewReader(`{"email":"Ana@Example.com"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, "ana@example.com", sender.to)
	require.Contains(t, sender.text, "https://broker.example.com/auth/verify?")

	// extract the mailed link and consume it
	link := sender.text[strings.Index(sender.text, "https://"):]
	link = strings.Fields(link)[0]
	u, err := url.Parse(link)
	require.NoError(t, err)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/verify?"+u.RawQuery, nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"verified":true`)

	// the user is now marked verified
	got, err := store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, got.EmailVerified)

	// second consumption fails: single use
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/verify?"+u.RawQuery, nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "invalid_token")
}

func TestVerificationExpired(t *testing.T) {
	store := adapter.New(memory.New())
	sender := &recordingSender{}
	mailer := email.NewVerificationMailer(sender, "https://broker.example.com", "testapp")

	r := chi.NewRouter()
	h := &VerifyHandler{Store: store, Mailer: mailer, TTL: -time.Minute}
	h.Register(r)

	req := httptest.NewRequest(http.MethodPost, "/auth/verify/start", strings.NewReader(`{"email":"b@example.com"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	link := sender.text[strings.Index(sender.text, "https://"):]
	u, err := url.Parse(strings.Fields(link)[0])
	require.NoError(t, err)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/verify?"+u.RawQuery, nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVerificationStartMailFailure(t *testing.T) {
	store := adapter.New(memory.New())
	sender := &recordingSender{err: errors.New("relay down")}
	mailer := email.NewVerificationMailer(sender, "https://broker.example.com", "testapp")

	r := chi.NewRouter()
	(&VerifyHandler{Store: store, Mailer: mailer, TTL: time.Hour}).Register(r)

	req := httptest.NewRequest(http.MethodPost, "/auth/verify/start", strings.NewReader(`{"email":"c@example.com"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestAdminWipe(t *testing.T) {
	newRouter := func(key string, store *adapter.Adapter) http.Handler {
		r := chi.NewRouter()
		(&AdminHandler{Store: store, APIKey: key}).Register(r)
		return r
	}

	t.Run("disabled without key", func(t *testing.T) {
		r := newRouter("", adapter.New(memory.New()))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/wipe", nil))
		require.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("wrong key", func(t *testing.T) {
		r := newRouter("sekret", adapter.New(memory.New()))
		req := httptest.NewRequest(http.MethodPost, "/admin/wipe", nil)
		req.Header.Set("X-Admin-API-Key", "guess")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("wipes", func(t *testing.T) {
		ctx := context.Background()
		store := adapter.New(memory.New())
		em := "d@example.com"
		u, err := store.CreateUser(ctx, core.User{Email: &em})
		require.NoError(t, err)

		r := newRouter("sekret", store)
		req := httptest.NewRequest(http.MethodPost, "/admin/wipe", nil)
		req.Header.Set("X-Admin-API-Key", "sekret")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusNoContent, w.Code)

		gone, err := store.GetUser(ctx, u.ID)
		require.NoError(t, err)
		require.Nil(t, gone)
	})
}
