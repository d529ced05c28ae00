// Package core defines the persisted identity entities and the store error
// taxonomy shared by every backend.
package core

import "time"

// User is the identity anchor. ID is store-assigned and immutable. Email is
// not a uniqueness key at this layer; resolution policy lives in the sign-in
// service.
type User struct {
	ID            string
	Name          *string
	Email         *string
	EmailVerified *time.Time
	Image         *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// UserPatch is a partial update. Nil fields are left untouched.
type UserPatch struct {
	Name          *string
	Email         *string
	EmailVerified *time.Time
	Image         *string
}

// LinkedAccount binds one (provider, providerAccountID) credential to exactly
// one user. The pair is unique across all linked accounts. Optional token
// fields are persisted only when set; absence is never written as null.
type LinkedAccount struct {
	ID                string
	UserID            string
	Type              string
	Provider          string
	ProviderAccountID string

	RefreshToken *string
	AccessToken  *string
	ExpiresAt    *int64
	TokenType    *string
	Scope        *string
	IDToken      *string
	SessionState *string
}

// Session is one device's authenticated session. SessionToken is unique and
// is the sole lookup key.
type Session struct {
	ID           string
	SessionToken string
	UserID       string
	Expires      time.Time
}

// SessionPatch is a partial update. Nil fields are left untouched.
type SessionPatch struct {
	UserID  *string
	Expires *time.Time
}

// VerificationToken is single-use proof of control of an identifier. It is
// tied to a user only by the identifier string, never by foreign key.
type VerificationToken struct {
	Identifier string
	Token      string
	Expires    time.Time
}

// SessionCount tracks accepted sign-ins per user.
type SessionCount struct {
	UserID       string
	SessionCount int64
	HasUpgraded  bool
	LastUpdated  time.Time
}

// SessionAndUser is the joined result of a session lookup.
type SessionAndUser struct {
	Session Session
	User    User
}
