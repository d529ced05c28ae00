// Package apple implements Sign in with Apple: the ES256 client-secret
// assertion Apple requires instead of a static secret, the token-endpoint
// exchanges, and ID-token verification against Apple's published keys.
package apple

import (
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultBaseURL is Apple's identity service.
	DefaultBaseURL = "https://appleid.apple.com"

	// clientSecretAudience is fixed by Apple regardless of the endpoint a
	// deployment talks to.
	clientSecretAudience = "https://appleid.apple.com"

	// clientSecretTTL is the six-month maximum lifetime Apple accepts for a
	// client-secret assertion.
	clientSecretTTL = 15777000 * time.Second
)

// Config is the credential bundle for one Apple application. All four fields
// are required.
type Config struct {
	ClientID   string
	TeamID     string
	PrivateKey string // PEM; literal "\n" sequences are normalized
	KeyID      string
}

// Validate reports every missing field in one ConfigError.
func (c Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.ClientID) == "" {
		missing = append(missing, "client_id")
	}
	if strings.TrimSpace(c.TeamID) == "" {
		missing = append(missing, "team_id")
	}
	if strings.TrimSpace(c.PrivateKey) == "" {
		missing = append(missing, "private_key")
	}
	if strings.TrimSpace(c.KeyID) == "" {
		missing = append(missing, "key_id")
	}
	if len(missing) > 0 {
		return &ConfigError{Missing: missing}
	}
	return nil
}

// SecretSigner mints client-secret assertions. Stateless apart from the
// credentials; no network I/O.
type SecretSigner struct {
	cfg Config
	now func() time.Time
}

// NewSecretSigner validates the bundle and returns a signer.
func NewSecretSigner(cfg Config) (*SecretSigner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SecretSigner{cfg: cfg, now: time.Now}, nil
}

// ClientSecret signs a fresh assertion. Assertions are not cached here;
// callers may reuse one across a single sign-in orchestration.
func (s *SecretSigner) ClientSecret() (string, error) {
	key, err := jwtv5.ParseECPrivateKeyFromPEM([]byte(normalizePEM(s.cfg.PrivateKey)))
	if err != nil {
		return "", &SigningError{Err: err}
	}

	now := s.now()
	claims := jwtv5.MapClaims{
		"iss": s.cfg.TeamID,
		"iat": now.Unix(),
		"exp": now.Add(clientSecretTTL).Unix(),
		"aud": clientSecretAudience,
		"sub": s.cfg.ClientID,
	}

	tok := jwtv5.NewWithClaims(jwtv5.SigningMethodES256, claims)
	tok.Header["kid"] = s.cfg.KeyID

	signed, err := tok.SignedString(key)
	if err != nil {
		return "", &SigningError{Err: err}
	}
	return signed, nil
}

// normalizePEM turns literal backslash-n sequences, as env vars and secret
// managers often deliver them, into real newlines.
func normalizePEM(pem string) string {
	return strings.ReplaceAll(pem, `\n`, "\n")
}
