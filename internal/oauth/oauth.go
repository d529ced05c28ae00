// Package oauth defines the per-provider strategy contract the sign-in
// service dispatches on. One implementation per provider; the orchestrator
// never branches on a provider name inline.
package oauth

import (
	"context"
	"fmt"
)

// Tokens is the normalized result of a provider token exchange.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	TokenType    string
	ExpiresIn    int64
}

// Name is a structured person name as asserted by a provider.
type Name struct {
	First string
	Last  string
}

// Full renders the name for the user record, dropping absent parts.
func (n Name) Full() string {
	switch {
	case n.First != "" && n.Last != "":
		return n.First + " " + n.Last
	case n.First != "":
		return n.First
	default:
		return n.Last
	}
}

// Claims are verified identity assertions about the signing-in user.
type Claims struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          *Name
}

// Strategy is one federated identity provider.
type Strategy interface {
	// Name is the provider key ("apple").
	Name() string

	// RequiresExchange reports whether an authorization code must be
	// exchanged server-side before the sign-in can proceed.
	RequiresExchange() bool

	// Exchange trades an authorization code for tokens.
	Exchange(ctx context.Context, code, redirectURI string) (*Tokens, error)

	// Refresh trades a refresh token for fresh tokens.
	Refresh(ctx context.Context, refreshToken string) (*Tokens, error)

	// VerifyIDToken validates a provider ID token and returns its claims.
	VerifyIDToken(ctx context.Context, idToken string) (*Claims, error)

	// UserInfo fetches identity claims with an access token, used to fill
	// what the ID token omitted.
	UserInfo(ctx context.Context, accessToken string) (*Claims, error)
}

// Registry holds the configured strategies by provider name.
type Registry map[string]Strategy

// NewRegistry indexes the given strategies.
func NewRegistry(strategies ...Strategy) Registry {
	r := make(Registry, len(strategies))
	for _, s := range strategies {
		r[s.Name()] = s
	}
	return r
}

// Get resolves a provider or fails with a named error.
func (r Registry) Get(provider string) (Strategy, error) {
	s, ok := r[provider]
	if !ok {
		return nil, fmt.Errorf("oauth: unknown provider %q", provider)
	}
	return s, nil
}
