package apple

import (
	"fmt"
	"strings"
)

// ConfigError reports every missing credential field at once, so a
// misconfigured deployment fails with one complete message instead of a
// drip of single-field errors.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return "apple: missing configuration: " + strings.Join(e.Missing, ", ")
}

// SigningError wraps a client-secret signing failure. Fatal for the request;
// usually a malformed or mismatched private key.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string { return fmt.Sprintf("apple: client secret signing: %v", e.Err) }
func (e *SigningError) Unwrap() error { return e.Err }

// ProviderError is a non-2xx response from Apple's endpoints. Body carries
// the provider-defined error payload for operator logs.
type ProviderError struct {
	Status int
	Body   string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("apple: provider returned %d: %s", e.Status, e.Body)
}

// NetworkError is a transport-level failure before any provider response.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("apple: %s: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }
