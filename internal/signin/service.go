// Package signin orchestrates a federated sign-in end to end: provider
// exchange, claim merge, identity persistence, session issuance. Every
// failure denies; there is no partial success.
package signin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/idbroker/internal/metrics"
	"github.com/dropDatabas3/idbroker/internal/oauth"
	"github.com/dropDatabas3/idbroker/internal/observability/logger"
	"github.com/dropDatabas3/idbroker/internal/session"
	"github.com/dropDatabas3/idbroker/internal/store/core"
)

// Request is one callback from a provider.
type Request struct {
	Provider    string
	Code        string
	RedirectURI string

	// IDToken is the token as posted by the client. When the provider
	// requires a server-side exchange the exchanged token replaces it.
	IDToken string
	Tokens  oauth.Tokens

	// Profile is the one-shot profile some providers post only on the
	// first authorization. Profile values stand; token claims fill only
	// what the profile omitted.
	Profile *Profile
}

// Profile is the provider-posted profile fragment.
type Profile struct {
	Email string
	Name  oauth.Name
}

// Result of an allowed sign-in.
type Result struct {
	UserID   string
	Artifact string
	View     session.View
}

// IdentityStore is the slice of the identity adapter the orchestrator needs.
type IdentityStore interface {
	GetUserByAccount(ctx context.Context, provider, providerAccountID string) (*core.User, error)
	GetUserByEmail(ctx context.Context, email string) (*core.User, error)
	CreateUser(ctx context.Context, u core.User) (*core.User, error)
	UpdateUser(ctx context.Context, id string, p core.UserPatch) (*core.User, error)
	LinkAccount(ctx context.Context, acct core.LinkedAccount) (*core.LinkedAccount, error)
	UpdateAccountTokens(ctx context.Context, provider, providerAccountID string, tok core.LinkedAccount) error
	IncrementSessionCount(ctx context.Context, userID string) (*core.SessionCount, error)
}

// Service runs sign-ins and maintains issued artifacts.
type Service interface {
	SignIn(ctx context.Context, req Request) (*Result, error)
	Refresh(ctx context.Context, artifact string) (*Result, error)
	Resolve(ctx context.Context, artifact string) (*session.View, error)
}

// Deps contains dependencies for the sign-in service.
type Deps struct {
	Strategies oauth.Registry
	Store      IdentityStore
	Signer     *session.Signer
}

type service struct {
	strategies oauth.Registry
	store      IdentityStore
	signer     *session.Signer
	now        func() time.Time
}

// NewService creates a new sign-in Service.
func NewService(d Deps) Service {
	return &service{
		strategies: d.Strategies,
		store:      d.Store,
		signer:     d.Signer,
		now:        time.Now,
	}
}

// SignIn processes one provider callback.
func (s *service) SignIn(ctx context.Context, req Request) (*Result, error) {
	log := logger.From(ctx).With(logger.Component("signin"), logger.Provider(req.Provider))

	strat, err := s.strategies.Get(req.Provider)
	if err != nil {
		log.Warn("provider not configured")
		metrics.SignInTotal.WithLabelValues(req.Provider, "deny").Inc()
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, req.Provider)
	}

	tokens := req.Tokens
	idToken := req.IDToken
	if strat.RequiresExchange() && req.Code != "" {
		start := s.now()
		fresh, err := strat.Exchange(ctx, req.Code, req.RedirectURI)
		metrics.ExchangeLatency.WithLabelValues(req.Provider).
			Observe(float64(s.now().Sub(start).Milliseconds()))
		if err != nil {
			log.Error("code exchange failed", logger.Err(err))
			metrics.SignInTotal.WithLabelValues(req.Provider, "deny").Inc()
			return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
		}
		tokens = *fresh
		if fresh.IDToken != "" {
			idToken = fresh.IDToken
		}
	}

	if idToken == "" {
		log.Warn("callback carried no id token")
		metrics.SignInTotal.WithLabelValues(req.Provider, "deny").Inc()
		return nil, ErrIDTokenMissing
	}

	claims, err := strat.VerifyIDToken(ctx, idToken)
	if err != nil {
		log.Warn("id token verification failed", logger.Err(err))
		metrics.SignInTotal.WithLabelValues(req.Provider, "deny").Inc()
		return nil, fmt.Errorf("%w: %v", ErrIDTokenInvalid, err)
	}
	if claims.Subject == "" {
		log.Warn("id token missing subject")
		metrics.SignInTotal.WithLabelValues(req.Provider, "deny").Inc()
		return nil, fmt.Errorf("%w: no subject", ErrIDTokenInvalid)
	}

	mergeProfile(claims, req.Profile)

	// Best-effort userinfo fallback when the token and profile both omit
	// the email. A fetch failure leaves the claims as they are.
	if claims.Email == "" && tokens.AccessToken != "" {
		info, err := strat.UserInfo(ctx, tokens.AccessToken)
		if err != nil {
			log.Warn("userinfo fetch failed", logger.Err(err))
		} else if info != nil {
			if info.Email != "" {
				claims.Email = info.Email
				claims.EmailVerified = info.EmailVerified
			}
			if claims.Name == nil && info.Name != nil {
				claims.Name = info.Name
			}
		}
	}

	user, err := s.persist(ctx, req.Provider, claims, tokens)
	if err != nil {
		log.Error("persistence failed", logger.Err(err))
		metrics.SignInTotal.WithLabelValues(req.Provider, "deny").Inc()
		return nil, fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}

	// Session accounting is advisory; a counter failure never denies a
	// sign-in that already persisted.
	if _, err := s.store.IncrementSessionCount(ctx, user.ID); err != nil {
		log.Warn("session count increment failed", logger.UserID(user.ID), logger.Err(err))
		metrics.StoreErrors.WithLabelValues("sessionCounts.increment").Inc()
	}

	payload := session.Payload{
		UserID:        user.ID,
		AccessToken:   tokens.AccessToken,
		RefreshToken:  tokens.RefreshToken,
		Provider:      req.Provider,
		EmailVerified: user.EmailVerified,
	}
	if user.Email != nil {
		payload.Email = *user.Email
	}
	if user.Name != nil {
		payload.Name = *user.Name
	}
	if user.Image != nil {
		payload.Picture = *user.Image
	}

	artifact, err := s.signer.Sign(payload)
	if err != nil {
		log.Error("artifact signing failed", logger.Err(err))
		metrics.SignInTotal.WithLabelValues(req.Provider, "deny").Inc()
		return nil, fmt.Errorf("signin: %w", err)
	}

	log.Info("sign-in allowed", logger.UserID(user.ID))
	metrics.SignInTotal.WithLabelValues(req.Provider, "allow").Inc()
	metrics.SessionsIssued.Inc()

	return &Result{
		UserID:   user.ID,
		Artifact: artifact,
		View:     session.ViewFrom(&payload, s.signer.Expiry()),
	}, nil
}

// persist resolves or creates the user and links the provider account.
// Resolution order: by linked account, then by asserted email, then create.
func (s *service) persist(ctx context.Context, provider string, claims *oauth.Claims, tokens oauth.Tokens) (*core.User, error) {
	user, err := s.store.GetUserByAccount(ctx, provider, claims.Subject)
	if err != nil {
		return nil, err
	}
	if user != nil {
		if err := s.store.UpdateAccountTokens(ctx, provider, claims.Subject, s.accountTokens(tokens)); err != nil {
			return nil, err
		}
		return s.fillUser(ctx, user, claims)
	}

	if claims.Email != "" {
		user, err = s.store.GetUserByEmail(ctx, claims.Email)
		if err != nil {
			return nil, err
		}
	}
	if user == nil {
		u := core.User{}
		if claims.Email != "" {
			u.Email = &claims.Email
		}
		if claims.Name != nil {
			if full := claims.Name.Full(); full != "" {
				u.Name = &full
			}
		}
		if claims.EmailVerified {
			v := s.now().UTC()
			u.EmailVerified = &v
		}
		user, err = s.store.CreateUser(ctx, u)
		if err != nil {
			return nil, err
		}
	}

	acct := s.accountTokens(tokens)
	acct.UserID = user.ID
	acct.Type = "oauth"
	acct.Provider = provider
	acct.ProviderAccountID = claims.Subject
	if _, err := s.store.LinkAccount(ctx, acct); err != nil {
		if !errors.Is(err, core.ErrConflict) {
			return nil, err
		}
		// Lost a concurrent link race; adopt the winner's user.
		owner, lookupErr := s.store.GetUserByAccount(ctx, provider, claims.Subject)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if owner == nil {
			return nil, err
		}
		if err := s.store.UpdateAccountTokens(ctx, provider, claims.Subject, s.accountTokens(tokens)); err != nil {
			return nil, err
		}
		return s.fillUser(ctx, owner, claims)
	}
	return s.fillUser(ctx, user, claims)
}

// fillUser writes claim fields the stored record lacks. A value the record
// already carries is never overwritten.
func (s *service) fillUser(ctx context.Context, user *core.User, claims *oauth.Claims) (*core.User, error) {
	var patch core.UserPatch
	if user.Email == nil && claims.Email != "" {
		patch.Email = &claims.Email
	}
	if user.Name == nil && claims.Name != nil {
		if full := claims.Name.Full(); full != "" {
			patch.Name = &full
		}
	}
	if user.EmailVerified == nil && claims.EmailVerified {
		// only when the verified assertion is about the stored address
		if patch.Email != nil || (user.Email != nil && *user.Email == claims.Email) {
			v := s.now().UTC()
			patch.EmailVerified = &v
		}
	}
	if patch == (core.UserPatch{}) {
		return user, nil
	}
	return s.store.UpdateUser(ctx, user.ID, patch)
}

func (s *service) accountTokens(t oauth.Tokens) core.LinkedAccount {
	var acct core.LinkedAccount
	if t.AccessToken != "" {
		acct.AccessToken = &t.AccessToken
	}
	if t.RefreshToken != "" {
		acct.RefreshToken = &t.RefreshToken
	}
	if t.IDToken != "" {
		acct.IDToken = &t.IDToken
	}
	if t.TokenType != "" {
		acct.TokenType = &t.TokenType
	}
	if t.ExpiresIn > 0 {
		exp := s.now().Unix() + t.ExpiresIn
		acct.ExpiresAt = &exp
	}
	return acct
}

// mergeProfile folds the posted profile into the claims. The profile is
// the already-known identity; token claims fill only what it omitted.
func mergeProfile(claims *oauth.Claims, p *Profile) {
	if p == nil {
		return
	}
	if p.Email != "" {
		if p.Email != claims.Email {
			claims.EmailVerified = false
		}
		claims.Email = p.Email
	}
	if p.Name.First != "" || p.Name.Last != "" {
		n := p.Name
		claims.Name = &n
	}
}

// Refresh re-mints a session artifact using the provider refresh token it
// carries. Provider claims are not re-fetched; the payload identity stands.
func (s *service) Refresh(ctx context.Context, artifact string) (*Result, error) {
	log := logger.From(ctx).With(logger.Component("signin.refresh"))

	payload, err := s.signer.Parse(artifact)
	if err != nil {
		log.Warn("artifact rejected", logger.Err(err))
		return nil, fmt.Errorf("%w: %v", ErrSessionInvalid, err)
	}
	if payload.RefreshToken == "" {
		return nil, ErrRefreshUnavailable
	}
	strat, err := s.strategies.Get(payload.Provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, payload.Provider)
	}

	fresh, err := strat.Refresh(ctx, payload.RefreshToken)
	if err != nil {
		log.Warn("provider refresh failed", logger.Provider(payload.Provider), logger.Err(err))
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}

	payload.AccessToken = fresh.AccessToken
	if fresh.RefreshToken != "" {
		payload.RefreshToken = fresh.RefreshToken
	}

	signed, err := s.signer.Sign(*payload)
	if err != nil {
		return nil, fmt.Errorf("signin: %w", err)
	}
	log.Info("session refreshed", logger.UserID(payload.UserID), logger.Provider(payload.Provider))
	return &Result{
		UserID:   payload.UserID,
		Artifact: signed,
		View:     session.ViewFrom(payload, s.signer.Expiry()),
	}, nil
}

// Resolve verifies an artifact and derives the client session view.
func (s *service) Resolve(ctx context.Context, artifact string) (*session.View, error) {
	payload, err := s.signer.Parse(artifact)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionInvalid, err)
	}
	v := session.ViewFrom(payload, payload.Expires)
	return &v, nil
}
