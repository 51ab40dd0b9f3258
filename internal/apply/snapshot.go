package apply

import (
	"encoding/json"

	"github.com/hyperengineering/brigade"
	"github.com/hyperengineering/brigade/internal/api"
)

// SnapshotBuilder assembles the full pull payload for a tenant.
type SnapshotBuilder struct {
	store EntityStore
}

// NewSnapshotBuilder creates a builder over the entity store.
func NewSnapshotBuilder(store EntityStore) *SnapshotBuilder {
	return &SnapshotBuilder{store: store}
}

// Build returns every collection the sync protocol knows about.
// Soft-deleted documents are excluded; clients prune rows absent from the
// snapshot.
func (b *SnapshotBuilder) Build(tenant string) (api.Snapshot, error) {
	snapshot := make(api.Snapshot)
	for _, entity := range brigade.ValidEntityTypes() {
		docs, err := b.store.List(tenant, string(entity))
		if err != nil {
			return nil, err
		}
		collection := make([]json.RawMessage, 0, len(docs))
		for _, doc := range docs {
			if softDeleted(doc) {
				continue
			}
			collection = append(collection, doc)
		}
		snapshot[string(entity)] = collection
	}
	return snapshot, nil
}

func softDeleted(doc json.RawMessage) bool {
	var probe struct {
		Deleted bool `json:"deleted"`
	}
	if err := json.Unmarshal(doc, &probe); err != nil {
		return false
	}
	return probe.Deleted
}
