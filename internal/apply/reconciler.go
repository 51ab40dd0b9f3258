package apply

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hyperengineering/brigade"
	"github.com/hyperengineering/brigade/internal/api"
)

// Reconciler applies a pushed batch for one tenant and reports a per-record
// outcome. One bad record never aborts its siblings.
type Reconciler struct {
	store     EntityStore
	orders    OrderCreator
	inventory InventoryService
	log       *logrus.Entry
}

// NewReconciler wires the batch applier.
func NewReconciler(store EntityStore, orders OrderCreator, inventory InventoryService, log *logrus.Entry) *Reconciler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Reconciler{store: store, orders: orders, inventory: inventory, log: log}
}

// Apply processes the batch. Order CREATEs run first so that a stock
// transaction referencing an order created in the same batch can be
// recognized as already deducted and skipped, mirroring the client-side
// resolver for clients that send both anyway.
func (r *Reconciler) Apply(tenant string, changes []api.ChangeEnvelope) *api.PushResponse {
	ordered := make([]api.ChangeEnvelope, 0, len(changes))
	for _, ch := range changes {
		if ch.Table == string(brigade.EntityOrders) && ch.Action == string(brigade.ActionCreate) {
			ordered = append(ordered, ch)
		}
	}
	for _, ch := range changes {
		if !(ch.Table == string(brigade.EntityOrders) && ch.Action == string(brigade.ActionCreate)) {
			ordered = append(ordered, ch)
		}
	}

	resp := &api.PushResponse{}
	createdOrders := make(map[string]bool) // client record id → created in this batch
	idMap := make(map[string]string)       // table/client id → server id

	for _, ch := range ordered {
		result := r.applyOne(tenant, ch, createdOrders, idMap)
		resp.Results = append(resp.Results, result)
		switch result.Status {
		case string(brigade.ResultSuccess), string(brigade.ResultSkipped):
			resp.Synced++
		default:
			resp.Failed++
		}
	}

	resp.Success = resp.Failed == 0
	return resp
}

func (r *Reconciler) applyOne(tenant string, ch api.ChangeEnvelope, createdOrders map[string]bool, idMap map[string]string) api.BatchResult {
	result := api.BatchResult{RecordID: ch.RecordID, Table: ch.Table}

	table := brigade.EntityType(ch.Table)
	action := brigade.Action(ch.Action)
	if !table.IsValid() || !action.IsValid() {
		result.Status = string(brigade.ResultError)
		result.Error = fmt.Sprintf("unknown table or action: %s %s", ch.Table, ch.Action)
		return result
	}

	// Follow id reassignments made earlier in this batch.
	recordID := ch.RecordID
	if mapped, ok := idMap[ch.Table+"/"+ch.RecordID]; ok {
		recordID = mapped
	}

	if action == brigade.ActionDelete {
		if err := r.store.Delete(tenant, ch.Table, recordID); err != nil {
			result.Status = string(brigade.ResultError)
			result.Error = err.Error()
			return result
		}
		result.Status = string(brigade.ResultSuccess)
		return result
	}

	payload, err := brigade.DecodePayload(table, action, ch.Data)
	if err != nil {
		result.Status = string(brigade.ResultError)
		result.Error = err.Error()
		return result
	}

	switch p := payload.(type) {
	case *brigade.OrderPayload:
		if action == brigade.ActionCreate {
			serverID, err := r.orders.Create(tenant, p)
			if err != nil {
				r.log.WithError(err).WithField("record_id", ch.RecordID).Warn("order create failed")
				result.Status = string(brigade.ResultError)
				result.Error = err.Error()
				return result
			}
			createdOrders[ch.RecordID] = true
			if serverID != ch.RecordID {
				idMap[ch.Table+"/"+ch.RecordID] = serverID
				result.NewID = serverID
			}
			result.Status = string(brigade.ResultSuccess)
			return result
		}
		return r.upsertDocument(tenant, ch.Table, recordID, action, payload, idMap, result)

	case *brigade.StockTransactionPayload:
		if action == brigade.ActionCreate && p.ReferenceID != "" && createdOrders[p.ReferenceID] {
			result.Status = string(brigade.ResultSkipped)
			result.Message = brigade.SkipReasonOrderDeduction
			return result
		}
		if action == brigade.ActionCreate {
			if err := r.applyMovement(tenant, ch.RecordID, p); err != nil {
				result.Status = string(brigade.ResultError)
				result.Error = err.Error()
				return result
			}
		}
		return r.upsertDocument(tenant, ch.Table, recordID, action, payload, idMap, result)

	default:
		return r.upsertDocument(tenant, ch.Table, recordID, action, payload, idMap, result)
	}
}

func (r *Reconciler) applyMovement(tenant, recordID string, tx *brigade.StockTransactionPayload) error {
	ref := "stocktx:" + recordID
	switch tx.Type {
	case brigade.StockAdd:
		return r.inventory.AddStock(tenant, tx.IngredientID, tx.Quantity, ref)
	case brigade.StockDeduct:
		return r.inventory.DeductStock(tenant, tx.IngredientID, tx.Quantity, ref)
	case brigade.StockAdjust:
		return r.inventory.AdjustStock(tenant, tx.IngredientID, tx.Quantity, ref)
	default:
		return fmt.Errorf("unknown stock transaction type %q", tx.Type)
	}
}

// upsertDocument persists a plain CRUD change, assigning a permanent id to
// CREATEs that arrive under a temporary client id.
func (r *Reconciler) upsertDocument(tenant, table, recordID string, action brigade.Action, payload brigade.Payload, idMap map[string]string, result api.BatchResult) api.BatchResult {
	finalID := recordID
	if action == brigade.ActionCreate && isTempID(recordID) {
		finalID = uuid.NewString()
		idMap[table+"/"+recordID] = finalID
		result.NewID = finalID
	}

	doc, err := documentWithID(payload, finalID)
	if err != nil {
		result.Status = string(brigade.ResultError)
		result.Error = err.Error()
		return result
	}
	if err := r.store.Upsert(tenant, table, finalID, doc); err != nil {
		result.Status = string(brigade.ResultError)
		result.Error = err.Error()
		return result
	}
	result.Status = string(brigade.ResultSuccess)
	return result
}

func documentWithID(payload brigade.Payload, id string) (json.RawMessage, error) {
	raw, err := brigade.EncodePayload(payload)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	fields["id"] = id
	return json.Marshal(fields)
}
