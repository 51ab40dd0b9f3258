package apply

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// InventoryService applies stock movements per tenant. Every movement
// carries a reference; a reference that was already applied is a no-op, so
// replays of the same batch never move stock twice.
type InventoryService interface {
	AddStock(tenant, ingredientID string, qty decimal.Decimal, reference string) error
	DeductStock(tenant, ingredientID string, qty decimal.Decimal, reference string) error
	AdjustStock(tenant, ingredientID string, qty decimal.Decimal, reference string) error

	// Stock returns the current level for an ingredient.
	Stock(tenant, ingredientID string) decimal.Decimal
}

// MemoryInventory is an in-memory InventoryService.
type MemoryInventory struct {
	mu      sync.Mutex
	stock   map[string]decimal.Decimal // tenant/ingredient
	applied map[string]bool            // tenant/reference
}

// NewMemoryInventory creates an empty inventory.
func NewMemoryInventory() *MemoryInventory {
	return &MemoryInventory{
		stock:   make(map[string]decimal.Decimal),
		applied: make(map[string]bool),
	}
}

func (m *MemoryInventory) AddStock(tenant, ingredientID string, qty decimal.Decimal, reference string) error {
	return m.move(tenant, ingredientID, qty, reference, false)
}

func (m *MemoryInventory) DeductStock(tenant, ingredientID string, qty decimal.Decimal, reference string) error {
	return m.move(tenant, ingredientID, qty.Neg(), reference, false)
}

// AdjustStock sets the level to qty rather than shifting it.
func (m *MemoryInventory) AdjustStock(tenant, ingredientID string, qty decimal.Decimal, reference string) error {
	return m.move(tenant, ingredientID, qty, reference, true)
}

func (m *MemoryInventory) move(tenant, ingredientID string, qty decimal.Decimal, reference string, absolute bool) error {
	if ingredientID == "" {
		return fmt.Errorf("inventory: ingredient id required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if reference != "" {
		refKey := tenant + "/" + reference
		if m.applied[refKey] {
			return nil
		}
		m.applied[refKey] = true
	}

	key := tenant + "/" + ingredientID
	if absolute {
		m.stock[key] = qty
	} else {
		m.stock[key] = m.stock[key].Add(qty)
	}
	return nil
}

func (m *MemoryInventory) Stock(tenant, ingredientID string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stock[tenant+"/"+ingredientID]
}
