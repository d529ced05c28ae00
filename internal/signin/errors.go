package signin

import "errors"

// Sign-in failures. The HTTP layer maps all of these to a deny; the cause
// stays in logs, never in the response body.
var (
	ErrUnknownProvider    = errors.New("signin: unknown provider")
	ErrExchangeFailed     = errors.New("signin: authorization code exchange failed")
	ErrIDTokenMissing     = errors.New("signin: no id token to verify")
	ErrIDTokenInvalid     = errors.New("signin: id token rejected")
	ErrPersistFailed      = errors.New("signin: identity persistence failed")
	ErrSessionInvalid     = errors.New("signin: session artifact rejected")
	ErrRefreshUnavailable = errors.New("signin: no refresh token on session")
)
