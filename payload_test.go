package brigade

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodePayload_TypedVariants(t *testing.T) {
	order, err := DecodePayload(EntityOrders, ActionCreate, json.RawMessage(`{
		"id": "tmp-1",
		"branchId": "b1",
		"items": [{"id":"li1","foodItemId":"f1","quantity":"2","unitPrice":"4.50"}],
		"total": "9.00"
	}`))
	if err != nil {
		t.Fatalf("decode order: %v", err)
	}
	op, ok := order.(*OrderPayload)
	if !ok {
		t.Fatalf("expected *OrderPayload, got %T", order)
	}
	if op.Items[0].Quantity.String() != "2" {
		t.Errorf("unexpected quantity: %s", op.Items[0].Quantity)
	}

	tx, err := DecodePayload(EntityStockTransactions, ActionCreate, json.RawMessage(`{
		"id": "tx1", "ingredientId": "i1", "type": "deduct", "quantity": "1.5", "referenceId": "tmp-1"
	}`))
	if err != nil {
		t.Fatalf("decode stock tx: %v", err)
	}
	if tx.(*StockTransactionPayload).ReferenceID != "tmp-1" {
		t.Errorf("referenceId not decoded")
	}
}

func TestDecodePayload_DeleteCarriesNoBody(t *testing.T) {
	p, err := DecodePayload(EntityOrders, ActionDelete, nil)
	if err != nil {
		t.Fatalf("decode delete: %v", err)
	}
	if p != nil {
		t.Errorf("expected nil payload for DELETE, got %T", p)
	}
}

func TestDecodePayload_MissingBody(t *testing.T) {
	if _, err := DecodePayload(EntityOrders, ActionCreate, nil); !errors.Is(err, ErrMissingPayload) {
		t.Errorf("expected ErrMissingPayload, got %v", err)
	}
}

func TestDecodePayload_UnknownEntity(t *testing.T) {
	if _, err := DecodePayload("widgets", ActionCreate, json.RawMessage(`{}`)); !errors.Is(err, ErrInvalidEntityType) {
		t.Errorf("expected ErrInvalidEntityType, got %v", err)
	}
}

func TestDecodePayload_ValidationFailures(t *testing.T) {
	var vErr *ValidationError

	// Order without items.
	_, err := DecodePayload(EntityOrders, ActionCreate, json.RawMessage(`{"id":"o1","branchId":"b1","items":[]}`))
	if !errors.As(err, &vErr) {
		t.Errorf("expected ValidationError for empty items, got %v", err)
	}

	// Stock transaction with an unknown movement type.
	_, err = DecodePayload(EntityStockTransactions, ActionCreate, json.RawMessage(`{"id":"t1","ingredientId":"i1","type":"teleport","quantity":"1"}`))
	if !errors.As(err, &vErr) {
		t.Errorf("expected ValidationError for bad type, got %v", err)
	}

	// Zero-quantity movement is meaningless.
	_, err = DecodePayload(EntityStockTransactions, ActionCreate, json.RawMessage(`{"id":"t1","ingredientId":"i1","type":"add","quantity":"0"}`))
	if !errors.As(err, &vErr) {
		t.Errorf("expected ValidationError for zero quantity, got %v", err)
	}
}

func TestDecodePayload_DocumentFallback(t *testing.T) {
	p, err := DecodePayload(EntityBranches, ActionUpdate, json.RawMessage(`{"id":"b1","name":"Downtown","open":true}`))
	if err != nil {
		t.Fatalf("decode branch: %v", err)
	}
	doc, ok := p.(*DocumentPayload)
	if !ok {
		t.Fatalf("expected *DocumentPayload, got %T", p)
	}
	if doc.Table != EntityBranches || doc.Fields["name"] != "Downtown" {
		t.Errorf("unexpected document: %+v", doc)
	}

	// Round-trip marshals the bare field object, not the wrapper.
	raw, err := EncodePayload(doc)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, hasWrapper := fields["Fields"]; hasWrapper {
		t.Error("document payload leaked its wrapper struct")
	}
	if fields["id"] != "b1" {
		t.Errorf("unexpected round-trip: %v", fields)
	}
}
