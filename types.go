package brigade

import "time"

// EntityType is the logical table name a mutation or replica row belongs to.
// The values match the server's wire names.
type EntityType string

const (
	EntityOrders            EntityType = "orders"
	EntityStockTransactions EntityType = "stockTransactions"
	EntityIngredients       EntityType = "ingredients"
	EntityRecipes           EntityType = "recipes"
	EntityBranches          EntityType = "branches"
	EntityCategories        EntityType = "categories"
	EntityFoodItems         EntityType = "foodItems"
	EntityAddonGroups       EntityType = "addonGroups"
	EntityAddons            EntityType = "addons"
	EntityCounters          EntityType = "counters"
	EntityTables            EntityType = "tables"
	EntityDiscounts         EntityType = "discounts"
	EntityEmployees         EntityType = "employees"
	EntitySettings          EntityType = "settings"
)

// ValidEntityTypes returns every entity type the sync engine knows about.
func ValidEntityTypes() []EntityType {
	return []EntityType{
		EntityOrders,
		EntityStockTransactions,
		EntityIngredients,
		EntityRecipes,
		EntityBranches,
		EntityCategories,
		EntityFoodItems,
		EntityAddonGroups,
		EntityAddons,
		EntityCounters,
		EntityTables,
		EntityDiscounts,
		EntityEmployees,
		EntitySettings,
	}
}

// IsValid checks if the entity type is part of the closed set.
func (e EntityType) IsValid() bool {
	for _, valid := range ValidEntityTypes() {
		if e == valid {
			return true
		}
	}
	return false
}

// Action is the kind of mutation queued against an entity.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// IsValid checks if the action is one of CREATE, UPDATE, DELETE.
func (a Action) IsValid() bool {
	return a == ActionCreate || a == ActionUpdate || a == ActionDelete
}

// MutationStatus is the lifecycle state of a queued mutation.
//
// Transitions: PENDING → IN_FLIGHT → {SYNCED | FAILED}; FAILED may return
// to IN_FLIGHT on retry. At most one IN_FLIGHT pass is active per record.
type MutationStatus string

const (
	StatusPending  MutationStatus = "PENDING"
	StatusInFlight MutationStatus = "IN_FLIGHT"
	StatusSynced   MutationStatus = "SYNCED"
	StatusFailed   MutationStatus = "FAILED"
)

// SyncState is the provenance marker carried by every replica row.
type SyncState string

const (
	SyncStatePending  SyncState = "pending"
	SyncStateSynced   SyncState = "synced"
	SyncStateConflict SyncState = "conflict"
)

// MutationRecord is one queued local change, owned by the mutation log.
type MutationRecord struct {
	ID         int64          `json:"id"`
	EntityType EntityType     `json:"entityType"`
	Action     Action         `json:"action"`
	RecordID   string         `json:"recordId"`
	Payload    Payload        `json:"-"`
	RawPayload []byte         `json:"payload,omitempty"`
	EnqueuedAt time.Time      `json:"enqueuedAt"`
	Status     MutationStatus `json:"status"`
	RetryCount int            `json:"retryCount"`
	LastError  string         `json:"lastError,omitempty"`
	SyncedAt   *time.Time     `json:"syncedAt,omitempty"`
}

// ResultStatus classifies the server's per-record outcome.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "SUCCESS"
	ResultSkipped ResultStatus = "SKIPPED"
	ResultError   ResultStatus = "ERROR"
)

// SyncBatchResult is the per-record outcome of a push.
type SyncBatchResult struct {
	RecordID string       `json:"recordId"`
	Table    EntityType   `json:"table"`
	Status   ResultStatus `json:"status"`
	NewID    string       `json:"newId,omitempty"`
	Error    string       `json:"error,omitempty"`
	Message  string       `json:"message,omitempty"`
}

// ReplicaEntity is a locally cached copy of a server-owned entity plus its
// sync provenance.
type ReplicaEntity struct {
	EntityType EntityType `json:"entityType"`
	RecordID   string     `json:"recordId"`
	Data       []byte     `json:"data"`
	LastSynced *time.Time `json:"lastSynced,omitempty"`
	SyncStatus SyncState  `json:"syncStatus"`
}

// QueueCounts summarises the mutation log by status. Computed via indexed
// counts, never a full-log scan.
type QueueCounts struct {
	Pending        int `json:"pending"`
	InFlight       int `json:"inFlight"`
	Failed         int `json:"failed"`
	NeedsAttention int `json:"needsAttention"`
}

// SyncStatusReport is the orchestrator's externally visible status.
type SyncStatusReport struct {
	IsOnline       bool       `json:"isOnline"`
	IsSyncing      bool       `json:"isSyncing"`
	PendingChanges int        `json:"pendingChanges"`
	FailedChanges  int        `json:"failedChanges"`
	NeedsAttention int        `json:"needsAttention"`
	LastSynced     *time.Time `json:"lastSynced,omitempty"`
}

// PushReport aggregates the outcome of one push pass.
type PushReport struct {
	Synced  int               `json:"synced"`
	Skipped int               `json:"skipped"`
	Failed  int               `json:"failed"`
	Results []SyncBatchResult `json:"results"`
}

// PullReport aggregates the outcome of one pull pass.
type PullReport struct {
	Applied     int       `json:"applied"`
	Preserved   int       `json:"preserved"` // rows left untouched because a local mutation is pending
	Collections int       `json:"collections"`
	PartialErrs []string  `json:"partialErrors,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// SkipReasonOrderDeduction is the message attached to stock transactions
// whose inventory effect is already covered by an order in the same batch.
const SkipReasonOrderDeduction = "Stock already deducted via order sync"
