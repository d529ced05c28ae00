package apple

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	cfg, _ := testConfig(t)
	c, err := NewClient(cfg, WithBaseURL(baseURL))
	require.NoError(t, err)
	return c
}

func TestExchangeCode(t *testing.T) {
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/auth/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		gotForm = map[string]string{}
		for k := range r.PostForm {
			gotForm[k] = r.PostFormValue(k)
		}
		_ = json.NewEncoder(w).Encode(TokenResponse{
			AccessToken:  "at",
			TokenType:    "Bearer",
			ExpiresIn:    3600,
			RefreshToken: "rt",
			IDToken:      "idt",
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	tr, err := c.ExchangeCode(context.Background(), "the-code", "https://app.example.com/cb")
	require.NoError(t, err)
	require.Equal(t, "at", tr.AccessToken)
	require.Equal(t, "rt", tr.RefreshToken)
	require.EqualValues(t, 3600, tr.ExpiresIn)

	require.Equal(t, "authorization_code", gotForm["grant_type"])
	require.Equal(t, "the-code", gotForm["code"])
	require.Equal(t, "https://app.example.com/cb", gotForm["redirect_uri"])
	require.Equal(t, "com.example.app", gotForm["client_id"])
	// every call mints a fresh assertion
	require.NotEmpty(t, gotForm["client_secret"])
}

func TestRefreshGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.PostFormValue("grant_type"))
		require.Equal(t, "rt-old", r.PostFormValue("refresh_token"))
		_ = json.NewEncoder(w).Encode(TokenResponse{AccessToken: "at-new", ExpiresIn: 3600})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	tr, err := c.Refresh(context.Background(), "rt-old")
	require.NoError(t, err)
	require.Equal(t, "at-new", tr.AccessToken)
}

func TestTokenProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.ExchangeCode(context.Background(), "bad", "")
	var pErr *ProviderError
	require.ErrorAs(t, err, &pErr)
	require.Equal(t, http.StatusBadRequest, pErr.Status)
	require.Contains(t, pErr.Body, "invalid_grant")
}

func TestUserInfo(t *testing.T) {
	t.Run("returns claims", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodGet, r.Method)
			require.Equal(t, "/auth/userinfo", r.URL.Path)
			require.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{
				"sub": "001234.abcdef",
				"email": "ana@example.com",
				"email_verified": "true"
			}`))
		}))
		defer srv.Close()

		c := newTestClient(t, srv.URL)
		claims, err := c.UserInfo(context.Background(), "at-1")
		require.NoError(t, err)
		require.Equal(t, "001234.abcdef", claims.Sub)
		require.Equal(t, "ana@example.com", claims.Email)
		require.True(t, claims.EmailVerified)
	})

	t.Run("provider error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_token"}`))
		}))
		defer srv.Close()

		c := newTestClient(t, srv.URL)
		_, err := c.UserInfo(context.Background(), "stale")
		var pErr *ProviderError
		require.ErrorAs(t, err, &pErr)
		require.Equal(t, http.StatusUnauthorized, pErr.Status)
		require.Contains(t, pErr.Body, "invalid_token")
	})
}

// signIDToken mints an RS256 ID token the way the stub JWKS endpoint expects.
func signIDToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwtv5.MapClaims) string {
	t.Helper()
	tok := jwtv5.NewWithClaims(jwtv5.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(key)
	require.NoError(t, err)
	return s
}

func jwksJSON(t *testing.T, kid string, pub *rsa.PublicKey) []byte {
	t.Helper()
	b, err := json.Marshal(jwksDoc{Keys: []jwk{{
		Kty: "RSA",
		Kid: kid,
		Use: "sig",
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString([]byte{1, 0, 1}),
	}}})
	require.NoError(t, err)
	return b
}

func TestVerifyIDToken(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	const kid = "test-kid-1"

	var fetches int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/keys", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetches, 1)
		_, _ = w.Write(jwksJSON(t, kid, &rsaKey.PublicKey))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	now := time.Now()
	idToken := signIDToken(t, rsaKey, kid, jwtv5.MapClaims{
		"iss":            srv.URL,
		"aud":            "com.example.app",
		"sub":            "001234.abcdef",
		"email":          "ana@privaterelay.appleid.com",
		"email_verified": "true",
		"is_private_email": "true",
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
	})

	claims, err := c.VerifyIDToken(context.Background(), idToken)
	require.NoError(t, err)
	require.Equal(t, "001234.abcdef", claims.Sub)
	require.Equal(t, "ana@privaterelay.appleid.com", claims.Email)
	require.True(t, claims.EmailVerified)
	require.True(t, claims.IsPrivateEmail)

	// second verification hits the JWKS cache
	_, err = c.VerifyIDToken(context.Background(), idToken)
	require.NoError(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&fetches))
}

func TestJWKSFetchSurvivesCallerCancel(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	const kid = "test-kid-3"

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/keys", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(jwksJSON(t, kid, &rsaKey.PublicKey))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	now := time.Now()
	idToken := signIDToken(t, rsaKey, kid, jwtv5.MapClaims{
		"iss": srv.URL,
		"aud": "com.example.app",
		"sub": "001234.abcdef",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	})

	// the shared fetch must not inherit one caller's cancellation
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	claims, err := c.VerifyIDToken(ctx, idToken)
	require.NoError(t, err)
	require.Equal(t, "001234.abcdef", claims.Sub)
}

func TestVerifyIDTokenRejects(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	const kid = "test-kid-2"

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/keys", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(jwksJSON(t, kid, &rsaKey.PublicKey))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	now := time.Now()
	base := jwtv5.MapClaims{
		"iss": srv.URL,
		"aud": "com.example.app",
		"sub": "001234.abcdef",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}

	t.Run("wrong signing key", func(t *testing.T) {
		tok := signIDToken(t, otherKey, kid, base)
		_, err := c.VerifyIDToken(context.Background(), tok)
		require.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		expired := jwtv5.MapClaims{}
		for k, v := range base {
			expired[k] = v
		}
		expired["exp"] = now.Add(-time.Hour).Unix()
		tok := signIDToken(t, rsaKey, kid, expired)
		_, err := c.VerifyIDToken(context.Background(), tok)
		require.Error(t, err)
	})

	t.Run("wrong audience", func(t *testing.T) {
		other := jwtv5.MapClaims{}
		for k, v := range base {
			other[k] = v
		}
		other["aud"] = "com.other.app"
		tok := signIDToken(t, rsaKey, kid, other)
		_, err := c.VerifyIDToken(context.Background(), tok)
		require.Error(t, err)
	})

	t.Run("not a jwt", func(t *testing.T) {
		_, err := c.VerifyIDToken(context.Background(), "garbage")
		require.Error(t, err)
	})
}

func TestParseClaimsBoolish(t *testing.T) {
	claims, err := parseClaims([]byte(`{
		"sub": "s",
		"email": "e@example.com",
		"email_verified": true,
		"is_private_email": "false",
		"name": {"firstName": "Ana", "lastName": "B"}
	}`))
	require.NoError(t, err)
	require.True(t, claims.EmailVerified)
	require.False(t, claims.IsPrivateEmail)
	require.Equal(t, "Ana", claims.Name.FirstName)

	_, err = parseClaims([]byte(`{"email_verified": "maybe"}`))
	require.Error(t, err)
}
