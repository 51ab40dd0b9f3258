// Package apply implements the server side of the sync protocol: it takes
// a pushed batch of changes, applies them per tenant through entity and
// inventory collaborators, and reports a per-record outcome. It also builds
// the pull snapshot. The package backs the httptest servers in the client
// tests and any Go server embedding the protocol.
package apply

import (
	"encoding/json"
	"sync"
)

// EntityStore persists server-side entity documents per tenant and table.
// Implementations must be safe for concurrent use.
type EntityStore interface {
	// Upsert writes a document under (tenant, table, id).
	Upsert(tenant, table, id string, doc json.RawMessage) error

	// Delete removes a document. Deleting a missing document is not an
	// error; the client's delete has already converged.
	Delete(tenant, table, id string) error

	// Get returns a document and whether it exists.
	Get(tenant, table, id string) (json.RawMessage, bool, error)

	// List returns all documents of one table keyed by id.
	List(tenant, table string) (map[string]json.RawMessage, error)
}

// MemoryStore is an in-memory EntityStore for tests and single-process
// servers.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]json.RawMessage // tenant/table → id → doc
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string]json.RawMessage)}
}

func storeKey(tenant, table string) string { return tenant + "/" + table }

func (m *MemoryStore) Upsert(tenant, table, id string, doc json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := storeKey(tenant, table)
	if m.data[key] == nil {
		m.data[key] = make(map[string]json.RawMessage)
	}
	cp := make(json.RawMessage, len(doc))
	copy(cp, doc)
	m.data[key][id] = cp
	return nil
}

func (m *MemoryStore) Delete(tenant, table, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data[storeKey(tenant, table)], id)
	return nil
}

func (m *MemoryStore) Get(tenant, table, id string) (json.RawMessage, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.data[storeKey(tenant, table)][id]
	return doc, ok, nil
}

func (m *MemoryStore) List(tenant, table string) (map[string]json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]json.RawMessage)
	for id, doc := range m.data[storeKey(tenant, table)] {
		out[id] = doc
	}
	return out, nil
}
