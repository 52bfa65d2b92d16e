// Package cache is the durable local store for the serialized session
// blob. One logical writer (the session store) keeps a single value under
// a fixed key so a cold start can recall the last known user before the
// auth backend reports in.
package cache

import "context"

// SessionKey is the fixed key the session blob lives under.
const SessionKey = "user"

// Cache persists one serialized session blob.
type Cache interface {
	// Load returns the stored blob, or nil when nothing is stored.
	Load(ctx context.Context) ([]byte, error)

	// Save overwrites the stored blob.
	Save(ctx context.Context, blob []byte) error

	// Clear removes the stored blob. Clearing an empty cache is a no-op.
	Clear(ctx context.Context) error
}
