package logger

import (
	"time"

	"go.uber.org/zap"
)

// Standard fields so log keys stay consistent across packages.

// RequestID tags the request correlation ID.
func RequestID(v string) zap.Field { return zap.String("request_id", v) }

// Component tags the emitting component/module.
func Component(v string) zap.Field { return zap.String("component", v) }

// Op tags the operation in flight.
func Op(v string) zap.Field { return zap.String("op", v) }

// Provider tags the identity provider ("apple", ...).
func Provider(v string) zap.Field { return zap.String("provider", v) }

// UserID tags the local user ID.
func UserID(v string) zap.Field { return zap.String("user_id", v) }

// AccountID tags the provider-side account identifier.
func AccountID(v string) zap.Field { return zap.String("provider_account_id", v) }

// State tags the sign-in state machine position.
func State(v string) zap.Field { return zap.String("state", v) }

// Status tags an HTTP status code.
func Status(v int) zap.Field { return zap.Int("status", v) }

// Method tags the HTTP method.
func Method(v string) zap.Field { return zap.String("method", v) }

// Path tags the request path.
func Path(v string) zap.Field { return zap.String("path", v) }

// Duration tags an elapsed time.
func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }

// Collection tags a document-store collection.
func Collection(v string) zap.Field { return zap.String("collection", v) }

// Err tags the error under the conventional "error" key.
func Err(err error) zap.Field { return zap.Error(err) }

// String is a passthrough for ad-hoc fields.
func String(k, v string) zap.Field { return zap.String(k, v) }

// Int is a passthrough for ad-hoc fields.
func Int(k string, v int) zap.Field { return zap.Int(k, v) }
