package adapter_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/idbroker/internal/store/adapter"
	"github.com/dropDatabas3/idbroker/internal/store/core"
	"github.com/dropDatabas3/idbroker/internal/store/doc/memory"
)

func newAdapter() *adapter.Adapter {
	return adapter.New(memory.New())
}

func strp(s string) *string { return &s }

func TestUserLifecycle(t *testing.T) {
	ctx := context.Background()
	a := newAdapter()

	created, err := a.CreateUser(ctx, core.User{Email: strp("ana@example.com"), Name: strp("Ana")})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.False(t, created.CreatedAt.IsZero())
	require.Equal(t, created.CreatedAt, created.UpdatedAt)
	require.Nil(t, created.EmailVerified)

	got, err := a.GetUser(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "ana@example.com", *got.Email)

	byEmail, err := a.GetUserByEmail(ctx, "ana@example.com")
	require.NoError(t, err)
	require.NotNil(t, byEmail)
	require.Equal(t, created.ID, byEmail.ID)

	missing, err := a.GetUser(ctx, "does-not-exist")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestUpdateUserPartial(t *testing.T) {
	ctx := context.Background()
	a := newAdapter()

	u, err := a.CreateUser(ctx, core.User{Email: strp("b@example.com"), Name: strp("Bea")})
	require.NoError(t, err)

	verified := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	updated, err := a.UpdateUser(ctx, u.ID, core.UserPatch{EmailVerified: &verified})
	require.NoError(t, err)
	require.NotNil(t, updated)

	// untouched fields survive, updatedAt moves
	require.Equal(t, "Bea", *updated.Name)
	require.Equal(t, "b@example.com", *updated.Email)
	require.NotNil(t, updated.EmailVerified)
	require.True(t, updated.EmailVerified.Equal(verified))
	require.True(t, updated.UpdatedAt.After(u.UpdatedAt) || updated.UpdatedAt.Equal(u.UpdatedAt))
}

func TestLinkAccountConflict(t *testing.T) {
	ctx := context.Background()
	a := newAdapter()

	u1, err := a.CreateUser(ctx, core.User{Email: strp("c@example.com")})
	require.NoError(t, err)
	u2, err := a.CreateUser(ctx, core.User{Email: strp("d@example.com")})
	require.NoError(t, err)

	acct := core.LinkedAccount{
		UserID:            u1.ID,
		Type:              "oauth",
		Provider:          "apple",
		ProviderAccountID: "sub-123",
		AccessToken:       strp("at"),
	}
	linked, err := a.LinkAccount(ctx, acct)
	require.NoError(t, err)
	require.Equal(t, u1.ID, linked.UserID)
	require.Nil(t, linked.RefreshToken)

	// same composite key for a different user must lose
	acct.UserID = u2.ID
	_, err = a.LinkAccount(ctx, acct)
	require.ErrorIs(t, err, core.ErrConflict)

	owner, err := a.GetUserByAccount(ctx, "apple", "sub-123")
	require.NoError(t, err)
	require.NotNil(t, owner)
	require.Equal(t, u1.ID, owner.ID)
}

func TestUnlinkAccountAbsentIsNoop(t *testing.T) {
	a := newAdapter()
	require.NoError(t, a.UnlinkAccount(context.Background(), "apple", "ghost"))
}

func TestUpdateAccountTokens(t *testing.T) {
	ctx := context.Background()
	a := newAdapter()

	u, err := a.CreateUser(ctx, core.User{Email: strp("e@example.com")})
	require.NoError(t, err)
	_, err = a.LinkAccount(ctx, core.LinkedAccount{
		UserID: u.ID, Type: "oauth", Provider: "apple", ProviderAccountID: "sub-9",
		AccessToken: strp("old-at"), RefreshToken: strp("old-rt"), Scope: strp("name email"),
	})
	require.NoError(t, err)

	err = a.UpdateAccountTokens(ctx, "apple", "sub-9", core.LinkedAccount{
		AccessToken: strp("new-at"),
	})
	require.NoError(t, err)

	acct, err := a.GetAccount(ctx, "apple", "sub-9")
	require.NoError(t, err)
	require.NotNil(t, acct)
	require.Equal(t, "new-at", *acct.AccessToken)
	// untouched token fields keep their values
	require.Equal(t, "old-rt", *acct.RefreshToken)
	require.Equal(t, "name email", *acct.Scope)

	require.ErrorIs(t,
		a.UpdateAccountTokens(ctx, "apple", "missing", core.LinkedAccount{AccessToken: strp("x")}),
		core.ErrNotFound)
}

func TestDeleteUserCascades(t *testing.T) {
	ctx := context.Background()
	a := newAdapter()

	u, err := a.CreateUser(ctx, core.User{Email: strp("f@example.com")})
	require.NoError(t, err)
	_, err = a.LinkAccount(ctx, core.LinkedAccount{
		UserID: u.ID, Type: "oauth", Provider: "apple", ProviderAccountID: "sub-del",
	})
	require.NoError(t, err)
	_, err = a.CreateSession(ctx, "tok-1", u.ID, time.Now().Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, a.DeleteUser(ctx, u.ID))

	gone, err := a.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.Nil(t, gone)

	acct, err := a.GetAccount(ctx, "apple", "sub-del")
	require.NoError(t, err)
	require.Nil(t, acct)

	sess, err := a.GetSessionAndUser(ctx, "tok-1")
	require.NoError(t, err)
	require.Nil(t, sess)
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	a := newAdapter()

	u, err := a.CreateUser(ctx, core.User{Email: strp("g@example.com")})
	require.NoError(t, err)

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	s, err := a.CreateSession(ctx, "tok-s", u.ID, expires)
	require.NoError(t, err)
	require.Equal(t, u.ID, s.UserID)

	su, err := a.GetSessionAndUser(ctx, "tok-s")
	require.NoError(t, err)
	require.NotNil(t, su)
	require.Equal(t, u.ID, su.User.ID)
	require.True(t, su.Session.Expires.Equal(expires))

	later := expires.Add(24 * time.Hour)
	upd, err := a.UpdateSession(ctx, "tok-s", core.SessionPatch{Expires: &later})
	require.NoError(t, err)
	require.NotNil(t, upd)
	require.True(t, upd.Expires.Equal(later))

	upd, err = a.UpdateSession(ctx, "unknown", core.SessionPatch{Expires: &later})
	require.NoError(t, err)
	require.Nil(t, upd)

	require.NoError(t, a.DeleteSession(ctx, "tok-s"))
	require.NoError(t, a.DeleteSession(ctx, "tok-s")) // absent is a no-op

	su, err = a.GetSessionAndUser(ctx, "tok-s")
	require.NoError(t, err)
	require.Nil(t, su)
}

func TestUseVerificationTokenOnce(t *testing.T) {
	ctx := context.Background()
	a := newAdapter()

	_, err := a.CreateVerificationToken(ctx, core.VerificationToken{
		Identifier: "h@example.com",
		Token:      "tok-v",
		Expires:    time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	used, err := a.UseVerificationToken(ctx, "h@example.com", "tok-v")
	require.NoError(t, err)
	require.NotNil(t, used)
	require.Equal(t, "h@example.com", used.Identifier)

	again, err := a.UseVerificationToken(ctx, "h@example.com", "tok-v")
	require.NoError(t, err)
	require.Nil(t, again)
}

func TestUseVerificationTokenConcurrent(t *testing.T) {
	ctx := context.Background()
	a := newAdapter()

	_, err := a.CreateVerificationToken(ctx, core.VerificationToken{
		Identifier: "i@example.com",
		Token:      "tok-race",
		Expires:    time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	const n = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := a.UseVerificationToken(ctx, "i@example.com", "tok-race")
			require.NoError(t, err)
			if got != nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	var count int
	for range wins {
		count++
	}
	require.Equal(t, 1, count)
}

func TestSessionCounts(t *testing.T) {
	ctx := context.Background()
	a := newAdapter()

	u, err := a.CreateUser(ctx, core.User{Email: strp("j@example.com")})
	require.NoError(t, err)

	none, err := a.GetSessionCount(ctx, u.ID)
	require.NoError(t, err)
	require.Nil(t, none)

	for i := 0; i < 3; i++ {
		_, err = a.IncrementSessionCount(ctx, u.ID)
		require.NoError(t, err)
	}
	c, err := a.GetSessionCount(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, c)
	require.EqualValues(t, 3, c.SessionCount)
	require.False(t, c.HasUpgraded)

	require.NoError(t, a.SetUpgraded(ctx, u.ID, true))
	c, err = a.GetSessionCount(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, c.HasUpgraded)

	require.NoError(t, a.ResetSessionCount(ctx, u.ID))
	c, err = a.GetSessionCount(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, c)
	require.EqualValues(t, 0, c.SessionCount)
	require.False(t, c.HasUpgraded)
}

func TestWipe(t *testing.T) {
	ctx := context.Background()
	a := newAdapter()

	u, err := a.CreateUser(ctx, core.User{Email: strp("k@example.com")})
	require.NoError(t, err)
	_, err = a.CreateSession(ctx, "tok-w", u.ID, time.Now().Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, a.Wipe(ctx))

	gone, err := a.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.Nil(t, gone)
	su, err := a.GetSessionAndUser(ctx, "tok-w")
	require.NoError(t, err)
	require.Nil(t, su)
}
