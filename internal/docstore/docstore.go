// Package docstore is a small document-oriented store: schemaless JSON
// documents grouped into collections and keyed by a string id. It mirrors
// the subset of operations the app needs from a hosted document database —
// get, set, and partial update with append-to-array semantics.
package docstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Update when the target document does not exist.
var ErrNotFound = errors.New("document not found")

// Document is a point-in-time read of one document.
type Document struct {
	Exists bool
	Fields map[string]any
}

// ArrayUnion marks an update value as an append to an array field.
// Elements already present in the stored array (deep equality) are skipped,
// so appending the same element twice is a no-op.
type ArrayUnion struct {
	Elems []any
}

// Union builds an ArrayUnion update value.
func Union(elems ...any) ArrayUnion {
	return ArrayUnion{Elems: elems}
}

// Store is the document store abstraction. Implementations: Postgres
// (jsonb-backed) and Memory (map-backed, for dev mode and tests).
type Store interface {
	// Get reads one document. A missing document is not an error; it is
	// reported as Document{Exists: false}.
	Get(ctx context.Context, collection, id string) (Document, error)

	// Set writes the full document, creating or replacing it.
	Set(ctx context.Context, collection, id string, fields map[string]any) error

	// Update applies a partial update to an existing document. Plain values
	// overwrite the field; ArrayUnion values append to an array field with
	// element-level dedup. Returns ErrNotFound when the document is absent.
	Update(ctx context.Context, collection, id string, fields map[string]any) error
}
