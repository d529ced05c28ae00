package apple

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/dropDatabas3/idbroker/internal/cache"
)

// TokenResponse is Apple's token-endpoint payload, returned to callers
// exactly as supplied.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
}

// Name is the structured name claim Apple includes on first authorization.
type Name struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// IDClaims are the identity assertions extracted from a verified ID token
// or the userinfo endpoint.
type IDClaims struct {
	Sub            string
	Email          string
	EmailVerified  bool
	IsPrivateEmail bool
	Name           *Name

	Raw jwtv5.MapClaims
}

// Client talks to Apple's identity service. Every token operation mints a
// fresh client-secret assertion first.
type Client struct {
	cfg       Config
	baseURL   string
	signer    *SecretSigner
	http      *http.Client
	keys      *keySource
	jwksCache cache.Cache
}

type Option func(*Client)

// WithBaseURL points the client at a different identity service, used by
// tests with a stub server. The client-secret audience does not change.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the default 10s-timeout HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithCache supplies the cache backing JWKS storage.
func WithCache(cc cache.Cache) Option {
	return func(c *Client) { c.jwksCache = cc }
}

// NewClient validates the credential bundle and builds a client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	signer, err := NewSecretSigner(cfg)
	if err != nil {
		return nil, err
	}
	c := &Client{
		cfg:     cfg,
		baseURL: DefaultBaseURL,
		signer:  signer,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.keys = newKeySource(c.baseURL+"/auth/keys", c.http, c.jwksCache)
	return c, nil
}

// ExchangeCode trades an authorization code for tokens.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	return c.token(ctx, form)
}

// Refresh trades a refresh token for fresh tokens.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return c.token(ctx, form)
}

func (c *Client) token(ctx context.Context, form url.Values) (*TokenResponse, error) {
	secret, err := c.signer.ClientSecret()
	if err != nil {
		return nil, err
	}
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", secret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/auth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: "token", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &ProviderError{Status: resp.StatusCode, Body: string(body)}
	}

	var tr TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("apple: token decode: %w", err)
	}
	return &tr, nil
}

// VerifyIDToken validates signature, expiry, issuer and audience against
// Apple's published keys, then returns the claims. Tokens are never trusted
// on decode alone.
func (c *Client) VerifyIDToken(ctx context.Context, idToken string) (*IDClaims, error) {
	parts := strings.Split(idToken, ".")
	if len(parts) != 3 {
		return nil, errors.New("apple: id token: not a compact JWT")
	}
	var header struct {
		Alg string `json:"alg"`
		Kid string `json:"kid"`
	}
	hb, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("apple: id token header: %w", err)
	}
	if err := json.Unmarshal(hb, &header); err != nil {
		return nil, fmt.Errorf("apple: id token header: %w", err)
	}
	if header.Alg != "RS256" {
		return nil, fmt.Errorf("apple: id token: unexpected alg %q", header.Alg)
	}

	key, err := c.keys.rsaKey(ctx, header.Kid)
	if err != nil {
		return nil, err
	}

	tok, err := jwtv5.Parse(idToken,
		func(t *jwtv5.Token) (any, error) { return key, nil },
		jwtv5.WithValidMethods([]string{"RS256"}),
		jwtv5.WithIssuer(c.baseURL),
		jwtv5.WithAudience(c.cfg.ClientID),
		jwtv5.WithExpirationRequired(),
	)
	if err != nil || !tok.Valid {
		return nil, fmt.Errorf("apple: id token invalid: %w", err)
	}

	claims, err := decodeClaims(idToken)
	if err != nil {
		return nil, err
	}
	if m, ok := tok.Claims.(jwtv5.MapClaims); ok {
		claims.Raw = m
	}
	return claims, nil
}

// UserInfo fetches identity claims with bearer auth.
func (c *Client) UserInfo(ctx context.Context, accessToken string) (*IDClaims, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/userinfo", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: "userinfo", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &ProviderError{Status: resp.StatusCode, Body: string(body)}
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: "userinfo", Err: err}
	}
	return parseClaims(b)
}

// decodeClaims parses the payload segment without trusting it; callers must
// have verified the signature first.
func decodeClaims(idToken string) (*IDClaims, error) {
	parts := strings.Split(idToken, ".")
	if len(parts) < 2 {
		return nil, errors.New("apple: id token: not a compact JWT")
	}
	pb, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("apple: id token payload: %w", err)
	}
	return parseClaims(pb)
}

// wireClaims tolerates Apple's habit of sending booleans as the strings
// "true"/"false" in some fields.
type wireClaims struct {
	Sub            string  `json:"sub"`
	Email          string  `json:"email"`
	EmailVerified  boolish `json:"email_verified"`
	IsPrivateEmail boolish `json:"is_private_email"`
	Name           *Name   `json:"name"`
}

func parseClaims(b []byte) (*IDClaims, error) {
	var w wireClaims
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("apple: claims decode: %w", err)
	}
	return &IDClaims{
		Sub:            w.Sub,
		Email:          w.Email,
		EmailVerified:  bool(w.EmailVerified),
		IsPrivateEmail: bool(w.IsPrivateEmail),
		Name:           w.Name,
	}, nil
}

type boolish bool

func (b *boolish) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	switch s {
	case "true", "1":
		*b = true
	case "false", "0", "", "null":
		*b = false
	default:
		return fmt.Errorf("not a boolean: %s", string(data))
	}
	return nil
}
