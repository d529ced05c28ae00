// Package session builds and verifies the signed session artifact the
// client carries between requests. The artifact is the source of truth; the
// client-visible session view is derived from it on every request and never
// persisted separately.
package session

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// Payload is what the artifact carries. Token fields stay server-trusted:
// they are inside the signature, and only the derived view reaches clients.
type Payload struct {
	UserID        string
	Email         string
	Name          string
	Picture       string
	EmailVerified *time.Time
	AccessToken   string
	RefreshToken  string
	Provider      string

	// Expires is set when parsing; Sign computes its own from the TTL.
	Expires time.Time
}

// Signer signs and parses artifacts with an HKDF-derived key, never the raw
// configured secret.
type Signer struct {
	key []byte
	ttl time.Duration
}

const keyInfo = "idbroker session signing key"

// NewSigner derives the signing key from the broker secret.
func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("session: signing secret is required")
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("session: key derivation: %w", err)
	}
	return &Signer{key: key, ttl: ttl}, nil
}

// Sign issues a signed artifact valid for the configured TTL.
func (s *Signer) Sign(p Payload) (string, error) {
	now := time.Now()
	claims := jwtv5.MapClaims{
		"sub": p.UserID,
		"iat": now.Unix(),
		"exp": now.Add(s.ttl).Unix(),
	}
	setIf(claims, "email", p.Email)
	setIf(claims, "name", p.Name)
	setIf(claims, "picture", p.Picture)
	setIf(claims, "access_token", p.AccessToken)
	setIf(claims, "refresh_token", p.RefreshToken)
	setIf(claims, "provider", p.Provider)
	if p.EmailVerified != nil {
		claims["email_verified"] = p.EmailVerified.UTC().Format(time.RFC3339)
	}
	return jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims).SignedString(s.key)
}

// Parse verifies the signature and expiry and reconstructs the payload.
func (s *Signer) Parse(token string) (*Payload, error) {
	tok, err := jwtv5.Parse(token,
		func(t *jwtv5.Token) (any, error) { return s.key, nil },
		jwtv5.WithValidMethods([]string{"HS256"}),
		jwtv5.WithExpirationRequired(),
	)
	if err != nil || !tok.Valid {
		return nil, fmt.Errorf("session: invalid artifact: %w", err)
	}
	m, ok := tok.Claims.(jwtv5.MapClaims)
	if !ok {
		return nil, errors.New("session: unexpected claims type")
	}
	p := &Payload{
		UserID:       strClaim(m, "sub"),
		Email:        strClaim(m, "email"),
		Name:         strClaim(m, "name"),
		Picture:      strClaim(m, "picture"),
		AccessToken:  strClaim(m, "access_token"),
		RefreshToken: strClaim(m, "refresh_token"),
		Provider:     strClaim(m, "provider"),
	}
	if v := strClaim(m, "email_verified"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			p.EmailVerified = &t
		}
	}
	if exp, err := m.GetExpirationTime(); err == nil && exp != nil {
		p.Expires = exp.Time
	}
	return p, nil
}

// Expiry reports when an artifact issued now would expire.
func (s *Signer) Expiry() time.Time { return time.Now().Add(s.ttl) }

func setIf(m jwtv5.MapClaims, k, v string) {
	if v != "" {
		m[k] = v
	}
}

func strClaim(m jwtv5.MapClaims, k string) string {
	s, _ := m[k].(string)
	return s
}
