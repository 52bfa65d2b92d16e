package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Postgres stores documents as jsonb rows in a single table. ArrayUnion
// updates compile to a containment-guarded append, so the backend gives a
// real append-if-absent primitive on top of the best-effort application
// check.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates the store and ensures its schema exists.
func NewPostgres(ctx context.Context, db *sql.DB) (*Postgres, error) {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			collection  TEXT NOT NULL,
			id          TEXT NOT NULL,
			doc         JSONB NOT NULL DEFAULT '{}'::jsonb,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (collection, id)
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("ensure documents table: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Get reads one document.
func (p *Postgres) Get(ctx context.Context, collection, id string) (Document, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT doc FROM documents WHERE collection = $1 AND id = $2
	`, collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, nil
	}
	if err != nil {
		return Document{}, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Document{}, fmt.Errorf("decode document %s/%s: %w", collection, id, err)
	}
	return Document{Exists: true, Fields: fields}, nil
}

// Set writes the full document.
func (p *Postgres) Set(ctx context.Context, collection, id string, fields map[string]any) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode document %s/%s: %w", collection, id, err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, doc)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection, id) DO UPDATE SET
			doc = EXCLUDED.doc,
			updated_at = NOW()
	`, collection, id, raw)
	return err
}

// Update applies a partial update to an existing document.
func (p *Postgres) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	patch := make(map[string]any)
	unions := make(map[string]ArrayUnion)
	for key, val := range fields {
		if union, ok := val.(ArrayUnion); ok {
			unions[key] = union
			continue
		}
		patch[key] = val
	}

	if len(patch) > 0 {
		raw, err := json.Marshal(patch)
		if err != nil {
			return fmt.Errorf("encode patch %s/%s: %w", collection, id, err)
		}
		res, err := p.db.ExecContext(ctx, `
			UPDATE documents SET doc = doc || $3::jsonb, updated_at = NOW()
			WHERE collection = $1 AND id = $2
		`, collection, id, raw)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
	}

	for key, union := range unions {
		if err := p.appendMissing(ctx, collection, id, key, union.Elems); err != nil {
			return err
		}
	}
	return nil
}

// appendMissing appends each element to the named array field unless the
// stored array already contains it (jsonb @> containment).
func (p *Postgres) appendMissing(ctx context.Context, collection, id, key string, elems []any) error {
	for _, elem := range elems {
		raw, err := json.Marshal([]any{elem})
		if err != nil {
			return fmt.Errorf("encode array element %s/%s.%s: %w", collection, id, key, err)
		}
		res, err := p.db.ExecContext(ctx, `
			UPDATE documents
			SET doc = jsonb_set(doc, ARRAY[$3], COALESCE(doc -> $3, '[]'::jsonb) || $4::jsonb),
			    updated_at = NOW()
			WHERE collection = $1 AND id = $2
			  AND NOT COALESCE(doc -> $3, '[]'::jsonb) @> $4::jsonb
		`, collection, id, key, raw)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Either the document is missing or the element is already
			// stored. Distinguish so callers see ErrNotFound.
			var exists bool
			err := p.db.QueryRowContext(ctx, `
				SELECT TRUE FROM documents WHERE collection = $1 AND id = $2
			`, collection, id).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}
