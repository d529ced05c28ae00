// Package adapter maps the identity entities (users, linked accounts,
// sessions, verification tokens) onto a doc.Store. Persisted field names
// match the layout existing deployments already use, so the adapter can read
// and write data produced by earlier implementations.
//
// Contracts: lookups report "not found" as a nil result, never as an error;
// optional fields are omitted rather than written as null; updatedAt is
// refreshed on every user update; user deletion cascades over linked
// accounts and sessions in one atomic batch; verification tokens are
// consumed exactly once.
package adapter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/idbroker/internal/store/core"
	"github.com/dropDatabas3/idbroker/internal/store/doc"
)

const (
	CollUsers              = "users"
	CollAccounts           = "accounts"
	CollSessions           = "sessions"
	CollVerificationTokens = "verificationTokens"
	CollSessionCounts      = "sessionCounts"
)

// Indexes declares, per collection, the fields lookups query by. Backends
// that need explicit indexes (redis) are configured from this.
func Indexes() map[string][]string {
	return map[string][]string{
		CollUsers:              {"email"},
		CollAccounts:           {"provider", "providerAccountId", "userId"},
		CollSessions:           {"sessionToken", "userId"},
		CollVerificationTokens: {"identifier", "token"},
	}
}

type Adapter struct {
	docs doc.Store
	now  func() time.Time
}

func New(docs doc.Store) *Adapter {
	return &Adapter{docs: docs, now: time.Now}
}

// ---- users ----

// CreateUser assigns the ID and both timestamps.
func (a *Adapter) CreateUser(ctx context.Context, u core.User) (*core.User, error) {
	id := uuid.NewString()
	now := a.now().UTC()
	f := doc.Fields{"id": id, "createdAt": now, "updatedAt": now}
	putStr(f, "name", u.Name)
	putStr(f, "email", u.Email)
	putTime(f, "emailVerified", u.EmailVerified)
	putStr(f, "image", u.Image)
	if err := a.docs.Set(ctx, CollUsers, id, f); err != nil {
		return nil, core.WrapOp("createUser", err)
	}
	out := decodeUser(id, f)
	return &out, nil
}

func (a *Adapter) GetUser(ctx context.Context, id string) (*core.User, error) {
	f, err := a.docs.Get(ctx, CollUsers, id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, core.WrapOp("getUser", err)
	}
	u := decodeUser(id, f)
	return &u, nil
}

func (a *Adapter) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	docs, err := a.docs.Query(ctx, CollUsers, 1, doc.Where("email", email))
	if err != nil {
		return nil, core.WrapOp("getUserByEmail", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	u := decodeUser(docs[0].ID, docs[0].Fields)
	return &u, nil
}

// GetUserByAccount joins the accounts collection to users. This is the sole
// mechanism for resolving whether a federated identity already has a local
// account.
func (a *Adapter) GetUserByAccount(ctx context.Context, provider, providerAccountID string) (*core.User, error) {
	acct, err := a.findAccount(ctx, provider, providerAccountID)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, nil
	}
	return a.GetUser(ctx, acct.UserID)
}

// UpdateUser writes only the supplied fields; updatedAt is always refreshed.
func (a *Adapter) UpdateUser(ctx context.Context, id string, p core.UserPatch) (*core.User, error) {
	f := doc.Fields{"updatedAt": a.now().UTC()}
	putStr(f, "name", p.Name)
	putStr(f, "email", p.Email)
	putTime(f, "emailVerified", p.EmailVerified)
	putStr(f, "image", p.Image)
	if err := a.docs.Update(ctx, CollUsers, id, f); err != nil {
		return nil, core.WrapOp("updateUser", err)
	}
	return a.GetUser(ctx, id)
}

// DeleteUser cascades over the user's linked accounts and sessions in one
// atomic batch; verification tokens are not owned by users and stay.
func (a *Adapter) DeleteUser(ctx context.Context, id string) error {
	refs := []doc.Ref{{Collection: CollUsers, ID: id}}

	accts, err := a.docs.Query(ctx, CollAccounts, 0, doc.Where("userId", id))
	if err != nil {
		return core.WrapOp("deleteUser", err)
	}
	for _, d := range accts {
		refs = append(refs, doc.Ref{Collection: CollAccounts, ID: d.ID})
	}

	sess, err := a.docs.Query(ctx, CollSessions, 0, doc.Where("userId", id))
	if err != nil {
		return core.WrapOp("deleteUser", err)
	}
	for _, d := range sess {
		refs = append(refs, doc.Ref{Collection: CollSessions, ID: d.ID})
	}

	return core.WrapOp("deleteUser", a.docs.DeleteBatch(ctx, refs))
}

// ---- linked accounts ----

// accountDocID derives a deterministic document ID from the composite
// uniqueness key, turning the backend's conditional create into a
// compare-and-swap on (provider, providerAccountId). Lookups still go
// through field queries so records written with random IDs keep working.
func accountDocID(provider, providerAccountID string) string {
	sum := sha256.Sum256([]byte(provider + "\x00" + providerAccountID))
	return hex.EncodeToString(sum[:16])
}

// LinkAccount inserts the account. Unset optional token fields are omitted
// entirely. A second link for the same (provider, providerAccountId)
// fails with core.ErrConflict.
func (a *Adapter) LinkAccount(ctx context.Context, acct core.LinkedAccount) (*core.LinkedAccount, error) {
	id := accountDocID(acct.Provider, acct.ProviderAccountID)
	f := doc.Fields{
		"id":                id,
		"userId":            acct.UserID,
		"type":              acct.Type,
		"provider":          acct.Provider,
		"providerAccountId": acct.ProviderAccountID,
	}
	putStr(f, "refresh_token", acct.RefreshToken)
	putStr(f, "access_token", acct.AccessToken)
	putInt(f, "expires_at", acct.ExpiresAt)
	putStr(f, "token_type", acct.TokenType)
	putStr(f, "scope", acct.Scope)
	putStr(f, "id_token", acct.IDToken)
	putStr(f, "session_state", acct.SessionState)

	if err := a.docs.Create(ctx, CollAccounts, id, f); err != nil {
		return nil, core.WrapOp("linkAccount", err)
	}
	out := decodeAccount(id, f)
	return &out, nil
}

// UnlinkAccount deletes the matching record if present; absent is a no-op.
func (a *Adapter) UnlinkAccount(ctx context.Context, provider, providerAccountID string) error {
	acct, err := a.findAccount(ctx, provider, providerAccountID)
	if err != nil || acct == nil {
		return err
	}
	_, err = a.docs.Delete(ctx, CollAccounts, acct.ID)
	return core.WrapOp("unlinkAccount", err)
}

func (a *Adapter) findAccount(ctx context.Context, provider, providerAccountID string) (*core.LinkedAccount, error) {
	docs, err := a.docs.Query(ctx, CollAccounts, 1,
		doc.Where("provider", provider),
		doc.Where("providerAccountId", providerAccountID),
	)
	if err != nil {
		return nil, core.WrapOp("getAccount", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	acct := decodeAccount(docs[0].ID, docs[0].Fields)
	return &acct, nil
}

// GetAccount returns the linked account for the composite key, nil if absent.
func (a *Adapter) GetAccount(ctx context.Context, provider, providerAccountID string) (*core.LinkedAccount, error) {
	return a.findAccount(ctx, provider, providerAccountID)
}

// UpdateAccountTokens overwrites the token fields of an existing account
// with freshly exchanged provider values.
func (a *Adapter) UpdateAccountTokens(ctx context.Context, provider, providerAccountID string, tok core.LinkedAccount) error {
	acct, err := a.findAccount(ctx, provider, providerAccountID)
	if err != nil {
		return err
	}
	if acct == nil {
		return core.ErrNotFound
	}
	f := doc.Fields{}
	putStr(f, "refresh_token", tok.RefreshToken)
	putStr(f, "access_token", tok.AccessToken)
	putInt(f, "expires_at", tok.ExpiresAt)
	putStr(f, "id_token", tok.IDToken)
	if len(f) == 0 {
		return nil
	}
	return core.WrapOp("updateAccountTokens", a.docs.Update(ctx, CollAccounts, acct.ID, f))
}

// ---- sessions ----

func (a *Adapter) CreateSession(ctx context.Context, sessionToken, userID string, expires time.Time) (*core.Session, error) {
	id := uuid.NewString()
	f := doc.Fields{
		"id":           id,
		"sessionToken": sessionToken,
		"userId":       userID,
		"expires":      expires.UTC(),
	}
	if err := a.docs.Set(ctx, CollSessions, id, f); err != nil {
		return nil, core.WrapOp("createSession", err)
	}
	s := decodeSession(id, f)
	return &s, nil
}

// GetSessionAndUser resolves the session token and joins the owning user.
// Nil if either side is missing.
func (a *Adapter) GetSessionAndUser(ctx context.Context, sessionToken string) (*core.SessionAndUser, error) {
	docs, err := a.docs.Query(ctx, CollSessions, 1, doc.Where("sessionToken", sessionToken))
	if err != nil {
		return nil, core.WrapOp("getSessionAndUser", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	sess := decodeSession(docs[0].ID, docs[0].Fields)
	user, err := a.GetUser(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, nil
	}
	return &core.SessionAndUser{Session: sess, User: *user}, nil
}

func (a *Adapter) UpdateSession(ctx context.Context, sessionToken string, p core.SessionPatch) (*core.Session, error) {
	docs, err := a.docs.Query(ctx, CollSessions, 1, doc.Where("sessionToken", sessionToken))
	if err != nil {
		return nil, core.WrapOp("updateSession", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	f := doc.Fields{}
	putStr(f, "userId", p.UserID)
	putTime(f, "expires", p.Expires)
	if len(f) > 0 {
		if err := a.docs.Update(ctx, CollSessions, docs[0].ID, f); err != nil {
			return nil, core.WrapOp("updateSession", err)
		}
	}
	cur, err := a.docs.Get(ctx, CollSessions, docs[0].ID)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, core.WrapOp("updateSession", err)
	}
	s := decodeSession(docs[0].ID, cur)
	return &s, nil
}

// DeleteSession is a no-op when the token does not resolve.
func (a *Adapter) DeleteSession(ctx context.Context, sessionToken string) error {
	docs, err := a.docs.Query(ctx, CollSessions, 1, doc.Where("sessionToken", sessionToken))
	if err != nil {
		return core.WrapOp("deleteSession", err)
	}
	if len(docs) == 0 {
		return nil
	}
	_, err = a.docs.Delete(ctx, CollSessions, docs[0].ID)
	return core.WrapOp("deleteSession", err)
}

// ---- verification tokens ----

func (a *Adapter) CreateVerificationToken(ctx context.Context, v core.VerificationToken) (*core.VerificationToken, error) {
	id := uuid.NewString()
	f := doc.Fields{
		"identifier": v.Identifier,
		"token":      v.Token,
		"expires":    v.Expires.UTC(),
	}
	if err := a.docs.Set(ctx, CollVerificationTokens, id, f); err != nil {
		return nil, core.WrapOp("createVerificationToken", err)
	}
	out := v
	out.Expires = v.Expires.UTC()
	return &out, nil
}

// UseVerificationToken atomically checks and deletes. The backend's Delete
// reports whether this caller removed the document, so of N concurrent
// consumers exactly one gets the record back; the rest get nil.
func (a *Adapter) UseVerificationToken(ctx context.Context, identifier, token string) (*core.VerificationToken, error) {
	docs, err := a.docs.Query(ctx, CollVerificationTokens, 1,
		doc.Where("identifier", identifier),
		doc.Where("token", token),
	)
	if err != nil {
		return nil, core.WrapOp("useVerificationToken", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	removed, err := a.docs.Delete(ctx, CollVerificationTokens, docs[0].ID)
	if err != nil {
		return nil, core.WrapOp("useVerificationToken", err)
	}
	if !removed {
		// lost the race; the other consumer owns the token
		return nil, nil
	}
	f := docs[0].Fields
	return &core.VerificationToken{
		Identifier: str(f, "identifier"),
		Token:      str(f, "token"),
		Expires:    ts(f, "expires"),
	}, nil
}

// ---- administrative wipe ----

// Wipe empties every collection the broker owns. Idempotent; meant for
// non-production data resets and guarded upstream by an operator key.
func (a *Adapter) Wipe(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, coll := range []string{
		CollUsers, CollAccounts, CollSessions, CollVerificationTokens, CollSessionCounts,
	} {
		coll := coll
		g.Go(func() error { return a.docs.Truncate(ctx, coll) })
	}
	return core.WrapOp("wipe", g.Wait())
}

// ---- field helpers ----

func putStr(f doc.Fields, k string, v *string) {
	if v != nil {
		f[k] = *v
	}
}

func putTime(f doc.Fields, k string, v *time.Time) {
	if v != nil {
		f[k] = v.UTC()
	}
}

func putInt(f doc.Fields, k string, v *int64) {
	if v != nil {
		f[k] = *v
	}
}

func str(f doc.Fields, k string) string {
	s, _ := f[k].(string)
	return s
}

func strPtr(f doc.Fields, k string) *string {
	if s, ok := f[k].(string); ok {
		return &s
	}
	return nil
}

func ts(f doc.Fields, k string) time.Time {
	t, _ := f[k].(time.Time)
	return t
}

func tsPtr(f doc.Fields, k string) *time.Time {
	if t, ok := f[k].(time.Time); ok {
		return &t
	}
	return nil
}

func intPtr(f doc.Fields, k string) *int64 {
	switch v := f[k].(type) {
	case int64:
		return &v
	case float64:
		n := int64(v)
		return &n
	}
	return nil
}

func decodeUser(id string, f doc.Fields) core.User {
	return core.User{
		ID:            id,
		Name:          strPtr(f, "name"),
		Email:         strPtr(f, "email"),
		EmailVerified: tsPtr(f, "emailVerified"),
		Image:         strPtr(f, "image"),
		CreatedAt:     ts(f, "createdAt"),
		UpdatedAt:     ts(f, "updatedAt"),
	}
}

func decodeAccount(id string, f doc.Fields) core.LinkedAccount {
	return core.LinkedAccount{
		ID:                id,
		UserID:            str(f, "userId"),
		Type:              str(f, "type"),
		Provider:          str(f, "provider"),
		ProviderAccountID: str(f, "providerAccountId"),
		RefreshToken:      strPtr(f, "refresh_token"),
		AccessToken:       strPtr(f, "access_token"),
		ExpiresAt:         intPtr(f, "expires_at"),
		TokenType:         strPtr(f, "token_type"),
		Scope:             strPtr(f, "scope"),
		IDToken:           strPtr(f, "id_token"),
		SessionState:      strPtr(f, "session_state"),
	}
}

func decodeSession(id string, f doc.Fields) core.Session {
	return core.Session{
		ID:           id,
		SessionToken: str(f, "sessionToken"),
		UserID:       str(f, "userId"),
		Expires:      ts(f, "expires"),
	}
}
