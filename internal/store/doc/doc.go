// Package doc defines the narrow document-store capability set the identity
// adapter is written against: get, equality queries, set, merge-update,
// conditional create, reporting delete, atomic batch delete and truncate.
// Backends: memory (dev/tests), redis, postgres (jsonb).
package doc

import (
	"context"
)

// Fields is a schemaless document body. Values are limited to string, bool,
// int64, float64, time.Time and nil; backends must round-trip time.Time.
type Fields map[string]any

// Doc is a document together with its ID.
type Doc struct {
	ID     string
	Fields Fields
}

// Ref addresses one document.
type Ref struct {
	Collection string
	ID         string
}

// Cond is a field equality condition.
type Cond struct {
	Field string
	Value any
}

// Where is shorthand for a Cond.
func Where(field string, value any) Cond { return Cond{Field: field, Value: value} }

// Store is the backend contract.
//
// Delete reports whether a document was actually removed. That report must be
// exactly-once under concurrency: of N racing deletes for the same ref, one
// observes true. Create must fail with core.ErrConflict when the ID already
// exists, again atomically; the adapter builds its compare-and-swap
// uniqueness guarantees on these two primitives.
type Store interface {
	// Get returns the document or core.ErrNotFound.
	Get(ctx context.Context, collection, id string) (Fields, error)

	// Query returns documents matching every condition, up to limit
	// (0 = no limit). Backends may require indexed fields; see each
	// implementation.
	Query(ctx context.Context, collection string, limit int, conds ...Cond) ([]Doc, error)

	// Set writes the full document, creating or replacing it.
	Set(ctx context.Context, collection, id string, fields Fields) error

	// Create writes the document only if the ID does not exist, else
	// core.ErrConflict.
	Create(ctx context.Context, collection, id string, fields Fields) error

	// Update merges fields into an existing document, core.ErrNotFound if
	// absent. Untouched fields are preserved.
	Update(ctx context.Context, collection, id string, fields Fields) error

	// Delete removes the document, reporting whether it existed.
	Delete(ctx context.Context, collection, id string) (bool, error)

	// DeleteBatch removes all refs as a single atomic batch: either every
	// listed document is gone afterwards or none of the removals committed.
	DeleteBatch(ctx context.Context, refs []Ref) error

	// Truncate empties a collection. Idempotent.
	Truncate(ctx context.Context, collection string) error

	Ping(ctx context.Context) error
	Close() error
}
