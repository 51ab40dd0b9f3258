package brigade

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hyperengineering/brigade/internal/api"
)

func testConfig() Config {
	return Config{
		TenantID:       "t1",
		MaxRetries:     5,
		RequestTimeout: 5 * time.Second,
	}
}

// pushServer runs an httptest server whose push handler is driven by the
// respond callback. It records every received batch.
func pushServer(t *testing.T, respond func(req api.PushRequest) api.PushResponse) (*httptest.Server, *[]api.PushRequest) {
	t.Helper()
	var received []api.PushRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req api.PushRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode push request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		received = append(received, req)
		resp := respond(req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return server, &received
}

func newTestSyncer(t *testing.T, store *Store, serverURL string) *Syncer {
	t.Helper()
	var client api.Client
	if serverURL != "" {
		client = api.NewHTTPClient(serverURL, "test-key", "test-device")
	}
	return NewSyncer(store, client, testConfig(), nil, nil, nil, nil, nil)
}

func successAll(req api.PushRequest) api.PushResponse {
	resp := api.PushResponse{Success: true}
	for _, ch := range req.Changes {
		resp.Results = append(resp.Results, api.BatchResult{
			RecordID: ch.RecordID,
			Table:    ch.Table,
			Status:   string(ResultSuccess),
		})
		resp.Synced++
	}
	return resp
}

func TestPush_Offline(t *testing.T) {
	store := newTestStore(t)
	syncer := newTestSyncer(t, store, "")

	if _, err := syncer.Push(context.Background()); !errors.Is(err, ErrOffline) {
		t.Errorf("expected ErrOffline, got %v", err)
	}
}

func TestPush_EmptyQueueIsNoOp(t *testing.T) {
	store := newTestStore(t)
	server, received := pushServer(t, successAll)
	syncer := newTestSyncer(t, store, server.URL)

	report, err := syncer.Push(context.Background())
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if report.Synced != 0 || len(*received) != 0 {
		t.Errorf("expected no traffic for empty queue, report=%+v requests=%d", report, len(*received))
	}
}

func TestPush_RekeysTempIDOnSuccess(t *testing.T) {
	store := newTestStore(t)
	server, _ := pushServer(t, func(req api.PushRequest) api.PushResponse {
		resp := api.PushResponse{Success: true, Synced: 1}
		resp.Results = append(resp.Results, api.BatchResult{
			RecordID: req.Changes[0].RecordID,
			Table:    req.Changes[0].Table,
			Status:   string(ResultSuccess),
			NewID:    "uuid-A",
		})
		return resp
	})
	syncer := newTestSyncer(t, store, server.URL)

	rec, err := store.Enqueue(EntityIngredients, ActionCreate, "tmp-1", testIngredient("tmp-1"))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	report, err := syncer.Push(context.Background())
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if report.Synced != 1 {
		t.Errorf("expected 1 synced, got %d", report.Synced)
	}

	got, _ := store.Mutation(rec.ID)
	if got.Status != StatusSynced {
		t.Errorf("expected SYNCED, got %s", got.Status)
	}

	if _, err := store.Entity(EntityIngredients, "tmp-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected temp replica row rekeyed away, got %v", err)
	}
	entity, err := store.Entity(EntityIngredients, "uuid-A")
	if err != nil {
		t.Fatalf("Entity uuid-A failed: %v", err)
	}
	if entity.SyncStatus != SyncStateSynced {
		t.Errorf("expected synced replica row, got %s", entity.SyncStatus)
	}
}

func TestPush_WithholdsStockTransactionBehindOrder(t *testing.T) {
	store := newTestStore(t)
	server, received := pushServer(t, func(req api.PushRequest) api.PushResponse {
		resp := api.PushResponse{Success: true}
		for _, ch := range req.Changes {
			resp.Results = append(resp.Results, api.BatchResult{
				RecordID: ch.RecordID,
				Table:    ch.Table,
				Status:   string(ResultSuccess),
				NewID:    "uuid-order",
			})
			resp.Synced++
		}
		return resp
	})
	syncer := newTestSyncer(t, store, server.URL)

	orderRec, err := store.Enqueue(EntityOrders, ActionCreate, "tmp-5", testOrder("tmp-5"))
	if err != nil {
		t.Fatalf("Enqueue order failed: %v", err)
	}
	txRec, err := store.Enqueue(EntityStockTransactions, ActionCreate, "tmp-6", testStockTx("tmp-6", "tmp-5"))
	if err != nil {
		t.Fatalf("Enqueue stock tx failed: %v", err)
	}

	report, err := syncer.Push(context.Background())
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	// Only the order travels; the deduction rides along with it.
	if len(*received) != 1 || len((*received)[0].Changes) != 1 {
		t.Fatalf("expected exactly the order on the wire, got %+v", *received)
	}
	if (*received)[0].Changes[0].Table != string(EntityOrders) {
		t.Errorf("expected orders change, got %s", (*received)[0].Changes[0].Table)
	}

	if report.Synced != 1 || report.Skipped != 1 {
		t.Errorf("expected 1 synced + 1 skipped, got %+v", report)
	}

	var skipResult *SyncBatchResult
	for i := range report.Results {
		if report.Results[i].RecordID == "tmp-6" {
			skipResult = &report.Results[i]
		}
	}
	if skipResult == nil || skipResult.Status != ResultSkipped || skipResult.Message != SkipReasonOrderDeduction {
		t.Errorf("expected skipped result with deduction message, got %+v", skipResult)
	}

	for _, rec := range []*MutationRecord{orderRec, txRec} {
		got, _ := store.Mutation(rec.ID)
		if got.Status != StatusSynced {
			t.Errorf("mutation %d: expected SYNCED, got %s", rec.ID, got.Status)
		}
	}
}

func TestPush_KeepsStockTransactionWhenOrderFails(t *testing.T) {
	store := newTestStore(t)
	server, _ := pushServer(t, func(req api.PushRequest) api.PushResponse {
		resp := api.PushResponse{}
		for _, ch := range req.Changes {
			resp.Results = append(resp.Results, api.BatchResult{
				RecordID: ch.RecordID,
				Table:    ch.Table,
				Status:   string(ResultError),
				Error:    "branch not found",
			})
			resp.Failed++
		}
		return resp
	})
	syncer := newTestSyncer(t, store, server.URL)

	orderRec, _ := store.Enqueue(EntityOrders, ActionCreate, "tmp-5", testOrder("tmp-5"))
	txRec, _ := store.Enqueue(EntityStockTransactions, ActionCreate, "tmp-6", testStockTx("tmp-6", "tmp-5"))

	report, err := syncer.Push(context.Background())
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if report.Failed != 1 {
		t.Errorf("expected 1 failed, got %d", report.Failed)
	}

	gotOrder, _ := store.Mutation(orderRec.ID)
	if gotOrder.Status != StatusFailed || gotOrder.LastError != "branch not found" {
		t.Errorf("unexpected order mutation: %+v", gotOrder)
	}

	// The withheld transaction must not be lost: it was never sent and
	// stays PENDING for the next cycle.
	gotTx, _ := store.Mutation(txRec.ID)
	if gotTx.Status != StatusPending {
		t.Errorf("expected withheld transaction PENDING, got %s", gotTx.Status)
	}
}

func TestPush_PartialFailure(t *testing.T) {
	store := newTestStore(t)
	server, _ := pushServer(t, func(req api.PushRequest) api.PushResponse {
		resp := api.PushResponse{}
		for _, ch := range req.Changes {
			result := api.BatchResult{RecordID: ch.RecordID, Table: ch.Table, Status: string(ResultSuccess)}
			if ch.RecordID == "b" {
				result.Status = string(ResultError)
				result.Error = "validation failed"
				resp.Failed++
			} else {
				resp.Synced++
			}
			resp.Results = append(resp.Results, result)
		}
		resp.Success = resp.Failed == 0
		return resp
	})
	syncer := newTestSyncer(t, store, server.URL)

	var recs []*MutationRecord
	for _, id := range []string{"a", "b", "c"} {
		rec, err := store.Enqueue(EntityIngredients, ActionCreate, id, testIngredient(id))
		if err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
		recs = append(recs, rec)
	}

	report, err := syncer.Push(context.Background())
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if report.Synced != 2 || report.Failed != 1 {
		t.Errorf("expected 2 synced 1 failed, got %+v", report)
	}

	for i, want := range []MutationStatus{StatusSynced, StatusFailed, StatusSynced} {
		got, _ := store.Mutation(recs[i].ID)
		if got.Status != want {
			t.Errorf("record %s: expected %s, got %s", recs[i].RecordID, want, got.Status)
		}
	}
}

func TestPush_TransportErrorMarksFailedForRetry(t *testing.T) {
	store := newTestStore(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)
	syncer := newTestSyncer(t, store, server.URL)

	rec, _ := store.Enqueue(EntityIngredients, ActionCreate, "r1", testIngredient("r1"))

	_, err := syncer.Push(context.Background())
	var syncErr *SyncError
	if !errors.As(err, &syncErr) {
		t.Fatalf("expected SyncError, got %v", err)
	}
	if syncErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", syncErr.StatusCode)
	}

	got, _ := store.Mutation(rec.ID)
	if got.Status != StatusFailed || got.RetryCount != 1 {
		t.Errorf("expected FAILED with 1 retry, got %+v", got)
	}

	// The failure is retryable on the next drain.
	batch, _ := store.DrainRetryable(5)
	if len(batch) != 1 {
		t.Errorf("expected record eligible for retry, got %d", len(batch))
	}
}

func TestPush_CreateThenUpdateSameRecordSettleInOrder(t *testing.T) {
	store := newTestStore(t)
	server, _ := pushServer(t, func(req api.PushRequest) api.PushResponse {
		resp := api.PushResponse{Success: true}
		for _, ch := range req.Changes {
			result := api.BatchResult{
				RecordID: ch.RecordID,
				Table:    ch.Table,
				Status:   string(ResultSuccess),
			}
			if ch.Action == string(ActionCreate) {
				result.NewID = "uuid-B"
			}
			resp.Results = append(resp.Results, result)
			resp.Synced++
		}
		return resp
	})
	syncer := newTestSyncer(t, store, server.URL)

	// Offline CREATE followed by an UPDATE of the same record before any
	// sync; both travel in one batch and must settle against their own
	// results, not whichever the server listed last.
	create, err := store.Enqueue(EntityIngredients, ActionCreate, "tmp-1", testIngredient("tmp-1"))
	if err != nil {
		t.Fatalf("Enqueue create failed: %v", err)
	}
	updated := testIngredient("tmp-1")
	updated.Name = "Bread Flour"
	update, err := store.Enqueue(EntityIngredients, ActionUpdate, "tmp-1", updated)
	if err != nil {
		t.Fatalf("Enqueue update failed: %v", err)
	}

	report, err := syncer.Push(context.Background())
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if report.Synced != 2 || report.Failed != 0 {
		t.Fatalf("expected both mutations synced, got %+v", report)
	}

	for _, id := range []int64{create.ID, update.ID} {
		got, _ := store.Mutation(id)
		if got.Status != StatusSynced {
			t.Errorf("mutation %d: expected SYNCED, got %s", id, got.Status)
		}
	}

	// The CREATE's reassigned id carries the row; the UPDATE followed it.
	if _, err := store.Entity(EntityIngredients, "tmp-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected temp row rekeyed away, got %v", err)
	}
	row, err := store.Entity(EntityIngredients, "uuid-B")
	if err != nil {
		t.Fatalf("rekeyed row missing: %v", err)
	}
	if row.SyncStatus != SyncStateSynced {
		t.Errorf("expected synced row, got %s", row.SyncStatus)
	}
	rows, err := store.Entities(EntityIngredients)
	if err != nil || len(rows) != 1 {
		t.Errorf("expected exactly 1 replica row, got %d (%v)", len(rows), err)
	}
}
