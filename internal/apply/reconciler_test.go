package apply

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/hyperengineering/brigade"
	"github.com/hyperengineering/brigade/internal/api"
)

const tenant = "t1"

func newTestReconciler() (*Reconciler, *MemoryStore, *MemoryInventory) {
	store := NewMemoryStore()
	inventory := NewMemoryInventory()
	orders := NewOrderService(store, inventory)
	return NewReconciler(store, orders, inventory, nil), store, inventory
}

func seedMenu(t *testing.T, store *MemoryStore, inventory *MemoryInventory) {
	t.Helper()
	must := func(err error) {
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	must(store.Upsert(tenant, "foodItems", "f1", json.RawMessage(`{
		"id": "f1", "name": "Pizza",
		"variations": [{"id":"v-large","name":"Large","multiplier":"1.5"}]
	}`)))
	must(store.Upsert(tenant, "recipes", "r1", json.RawMessage(`{
		"id": "r1", "foodItemId": "f1",
		"items": [{"ingredientId":"i-dough","quantity":"2"}]
	}`)))
	must(inventory.AddStock(tenant, "i-dough", decimal.NewFromInt(100), "seed"))
}

func orderChange(recordID, variationID, qty string) api.ChangeEnvelope {
	data := `{
		"id": "` + recordID + `",
		"branchId": "b1",
		"items": [{"id":"li1","foodItemId":"f1","variationId":"` + variationID + `","quantity":"` + qty + `","unitPrice":"10"}],
		"total": "10"
	}`
	return api.ChangeEnvelope{
		Table:    string(brigade.EntityOrders),
		Action:   string(brigade.ActionCreate),
		RecordID: recordID,
		Data:     json.RawMessage(data),
	}
}

func stockTxChange(recordID, ref string) api.ChangeEnvelope {
	data := `{"id":"` + recordID + `","ingredientId":"i-dough","type":"deduct","quantity":"3","referenceId":"` + ref + `"}`
	return api.ChangeEnvelope{
		Table:    string(brigade.EntityStockTransactions),
		Action:   string(brigade.ActionCreate),
		RecordID: recordID,
		Data:     json.RawMessage(data),
	}
}

func TestApply_OrderCreateDeductsByRecipeAndMultiplier(t *testing.T) {
	r, store, inventory := newTestReconciler()
	seedMenu(t, store, inventory)

	resp := r.Apply(tenant, []api.ChangeEnvelope{orderChange("tmp-5", "v-large", "2")})
	if !resp.Success || resp.Synced != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	// recipe 2 × qty 2 × multiplier 1.5 = 6
	if got := inventory.Stock(tenant, "i-dough"); !got.Equal(decimal.NewFromInt(94)) {
		t.Errorf("expected stock 94, got %s", got)
	}

	result := resp.Results[0]
	if result.NewID == "" || strings.HasPrefix(result.NewID, "tmp-") {
		t.Errorf("expected permanent server id, got %q", result.NewID)
	}
	if _, ok, _ := store.Get(tenant, "orders", result.NewID); !ok {
		t.Errorf("order not stored under %s", result.NewID)
	}
}

func TestApply_ReplayDoesNotDoubleDeduct(t *testing.T) {
	r, store, inventory := newTestReconciler()
	seedMenu(t, store, inventory)

	batch := []api.ChangeEnvelope{orderChange("tmp-5", "", "1")}
	r.Apply(tenant, batch)
	after := inventory.Stock(tenant, "i-dough")

	// Client retries the same batch after losing the first response.
	r.Apply(tenant, batch)
	if got := inventory.Stock(tenant, "i-dough"); !got.Equal(after) {
		t.Errorf("replay moved stock: %s → %s", after, got)
	}
}

func TestApply_SkipsStockTransactionCoveredByOrder(t *testing.T) {
	r, store, inventory := newTestReconciler()
	seedMenu(t, store, inventory)

	resp := r.Apply(tenant, []api.ChangeEnvelope{
		// Client sends both; order CREATEs run first regardless of batch order.
		stockTxChange("tmp-6", "tmp-5"),
		orderChange("tmp-5", "", "1"),
	})

	var txResult *api.BatchResult
	for i := range resp.Results {
		if resp.Results[i].RecordID == "tmp-6" {
			txResult = &resp.Results[i]
		}
	}
	if txResult == nil || txResult.Status != string(brigade.ResultSkipped) {
		t.Fatalf("expected skipped transaction, got %+v", txResult)
	}
	if txResult.Message != brigade.SkipReasonOrderDeduction {
		t.Errorf("unexpected skip message: %q", txResult.Message)
	}

	// Deducted once via the order (recipe 2 × qty 1), not again via the tx.
	if got := inventory.Stock(tenant, "i-dough"); !got.Equal(decimal.NewFromInt(98)) {
		t.Errorf("expected stock 98, got %s", got)
	}
}

func TestApply_StandaloneStockMovements(t *testing.T) {
	r, _, inventory := newTestReconciler()

	apply := func(id, typ, qty string) {
		data := `{"id":"` + id + `","ingredientId":"i1","type":"` + typ + `","quantity":"` + qty + `"}`
		resp := r.Apply(tenant, []api.ChangeEnvelope{{
			Table:    string(brigade.EntityStockTransactions),
			Action:   string(brigade.ActionCreate),
			RecordID: id,
			Data:     json.RawMessage(data),
		}})
		if !resp.Success {
			t.Fatalf("movement %s failed: %+v", id, resp)
		}
	}

	apply("tx1", "add", "10")
	apply("tx2", "deduct", "4")
	if got := inventory.Stock(tenant, "i1"); !got.Equal(decimal.NewFromInt(6)) {
		t.Errorf("expected 6 after add/deduct, got %s", got)
	}

	apply("tx3", "adjust", "20")
	if got := inventory.Stock(tenant, "i1"); !got.Equal(decimal.NewFromInt(20)) {
		t.Errorf("expected 20 after adjust, got %s", got)
	}
}

func TestApply_BadRecordDoesNotAbortSiblings(t *testing.T) {
	r, store, _ := newTestReconciler()

	resp := r.Apply(tenant, []api.ChangeEnvelope{
		{Table: "widgets", Action: "CREATE", RecordID: "w1", Data: json.RawMessage(`{}`)},
		{Table: "branches", Action: "CREATE", RecordID: "b1", Data: json.RawMessage(`{"id":"b1","name":"Downtown"}`)},
	})

	if resp.Success {
		t.Error("expected batch marked unsuccessful")
	}
	if resp.Synced != 1 || resp.Failed != 1 {
		t.Errorf("expected 1 synced 1 failed, got %+v", resp)
	}
	if _, ok, _ := store.Get(tenant, "branches", "b1"); !ok {
		t.Error("good sibling was not applied")
	}
}

func TestApply_DeleteMissingIsSuccess(t *testing.T) {
	r, _, _ := newTestReconciler()

	resp := r.Apply(tenant, []api.ChangeEnvelope{
		{Table: "branches", Action: "DELETE", RecordID: "never-existed"},
	})
	if !resp.Success || resp.Results[0].Status != string(brigade.ResultSuccess) {
		t.Errorf("delete of missing record should converge: %+v", resp)
	}
}

func TestApply_TempUpdateFollowsReassignedID(t *testing.T) {
	r, store, _ := newTestReconciler()

	resp := r.Apply(tenant, []api.ChangeEnvelope{
		{Table: "branches", Action: "CREATE", RecordID: "tmp-b", Data: json.RawMessage(`{"id":"tmp-b","name":"First"}`)},
		{Table: "branches", Action: "UPDATE", RecordID: "tmp-b", Data: json.RawMessage(`{"id":"tmp-b","name":"Renamed"}`)},
	})
	if !resp.Success {
		t.Fatalf("batch failed: %+v", resp)
	}

	newID := resp.Results[0].NewID
	if newID == "" {
		t.Fatal("expected reassigned id on create")
	}
	doc, ok, _ := store.Get(tenant, "branches", newID)
	if !ok {
		t.Fatalf("branch not stored under %s", newID)
	}
	var fields map[string]any
	_ = json.Unmarshal(doc, &fields)
	if fields["name"] != "Renamed" {
		t.Errorf("update did not follow the reassigned id: %v", fields)
	}
	if _, ok, _ := store.Get(tenant, "branches", "tmp-b"); ok {
		t.Error("temporary id should not persist server-side")
	}
}

func TestSnapshotBuilder_ExcludesSoftDeleted(t *testing.T) {
	store := NewMemoryStore()
	_ = store.Upsert(tenant, "branches", "b1", json.RawMessage(`{"id":"b1"}`))
	_ = store.Upsert(tenant, "branches", "b2", json.RawMessage(`{"id":"b2","deleted":true}`))

	snapshot, err := NewSnapshotBuilder(store).Build(tenant)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	branches := snapshot["branches"]
	if len(branches) != 1 {
		t.Fatalf("expected 1 live branch, got %d", len(branches))
	}
	if extractedID := string(branches[0]); !strings.Contains(extractedID, `"b1"`) {
		t.Errorf("unexpected branch doc: %s", extractedID)
	}
}
