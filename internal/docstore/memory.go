package docstore

import (
	"context"
	"reflect"
	"sync"
)

// Memory is a map-backed Store for dev mode and tests. Reads and writes
// deep-copy the fields so callers never share mutable state with the store.
type Memory struct {
	mu   sync.Mutex
	docs map[string]map[string]map[string]any
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]map[string]map[string]any)}
}

// Get reads one document.
func (m *Memory) Get(ctx context.Context, collection, id string) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fields, ok := m.docs[collection][id]
	if !ok {
		return Document{}, nil
	}
	return Document{Exists: true, Fields: deepCopyMap(fields)}, nil
}

// Set writes the full document.
func (m *Memory) Set(ctx context.Context, collection, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docs[collection] == nil {
		m.docs[collection] = make(map[string]map[string]any)
	}
	m.docs[collection][id] = deepCopyMap(fields)
	return nil
}

// Update applies a partial update to an existing document.
func (m *Memory) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[collection][id]
	if !ok {
		return ErrNotFound
	}
	for key, val := range fields {
		if union, ok := val.(ArrayUnion); ok {
			arr, _ := doc[key].([]any)
			for _, elem := range union.Elems {
				if !containsElem(arr, elem) {
					arr = append(arr, deepCopyValue(elem))
				}
			}
			doc[key] = arr
			continue
		}
		doc[key] = deepCopyValue(val)
	}
	return nil
}

func containsElem(arr []any, elem any) bool {
	for _, have := range arr {
		if reflect.DeepEqual(have, elem) {
			return true
		}
	}
	return false
}

func deepCopyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return deepCopyMap(tv)
	case []any:
		out := make([]any, len(tv))
		for i, elem := range tv {
			out[i] = deepCopyValue(elem)
		}
		return out
	default:
		return v
	}
}
