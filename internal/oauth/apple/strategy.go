package apple

import (
	"context"

	"github.com/dropDatabas3/idbroker/internal/oauth"
)

// Strategy adapts Client to the provider-strategy contract.
type Strategy struct {
	client *Client
}

// NewStrategy wraps an Apple client.
func NewStrategy(c *Client) *Strategy { return &Strategy{client: c} }

var _ oauth.Strategy = (*Strategy)(nil)

func (s *Strategy) Name() string { return "apple" }

// Apple delivers the authorization code via form_post; the broker must
// finish the exchange server-side.
func (s *Strategy) RequiresExchange() bool { return true }

func (s *Strategy) Exchange(ctx context.Context, code, redirectURI string) (*oauth.Tokens, error) {
	tr, err := s.client.ExchangeCode(ctx, code, redirectURI)
	if err != nil {
		return nil, err
	}
	return toTokens(tr), nil
}

func (s *Strategy) Refresh(ctx context.Context, refreshToken string) (*oauth.Tokens, error) {
	tr, err := s.client.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	return toTokens(tr), nil
}

func (s *Strategy) VerifyIDToken(ctx context.Context, idToken string) (*oauth.Claims, error) {
	c, err := s.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, err
	}
	return toClaims(c), nil
}

func (s *Strategy) UserInfo(ctx context.Context, accessToken string) (*oauth.Claims, error) {
	c, err := s.client.UserInfo(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	return toClaims(c), nil
}

func toClaims(c *IDClaims) *oauth.Claims {
	out := &oauth.Claims{
		Subject:       c.Sub,
		Email:         c.Email,
		EmailVerified: c.EmailVerified,
	}
	if c.Name != nil {
		out.Name = &oauth.Name{First: c.Name.FirstName, Last: c.Name.LastName}
	}
	return out
}

func toTokens(tr *TokenResponse) *oauth.Tokens {
	return &oauth.Tokens{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		IDToken:      tr.IDToken,
		TokenType:    tr.TokenType,
		ExpiresIn:    tr.ExpiresIn,
	}
}
