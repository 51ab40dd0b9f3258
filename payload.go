package brigade

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// Payload is the typed body of a queued mutation. Payloads form a closed
// set: one variant per entity type, decoded and validated once at enqueue
// time so handler dispatch is a switch, not stringly-typed branching.
type Payload interface {
	Entity() EntityType
	Validate() error
}

// OrderItem is a single line item of an order.
type OrderItem struct {
	ID          string          `json:"id" validate:"required"`
	FoodItemID  string          `json:"foodItemId" validate:"required"`
	VariationID string          `json:"variationId,omitempty"`
	AddonIDs    []string        `json:"addonIds,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Note        string          `json:"note,omitempty"`
}

// OrderPayload is the body of an orders mutation. Creating an order on the
// server performs its own transactional inventory deduction.
type OrderPayload struct {
	ID            string          `json:"id" validate:"required"`
	BranchID      string          `json:"branchId" validate:"required"`
	CounterID     string          `json:"counterId,omitempty"`
	TableID       string          `json:"tableId,omitempty"`
	EmployeeID    string          `json:"employeeId,omitempty"`
	Items         []OrderItem     `json:"items" validate:"required,min=1,dive"`
	DiscountID    string          `json:"discountId,omitempty"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod string          `json:"paymentMethod,omitempty"`
	Note          string          `json:"note,omitempty"`
}

func (p *OrderPayload) Entity() EntityType { return EntityOrders }

func (p *OrderPayload) Validate() error {
	if err := validate.Struct(p); err != nil {
		return &ValidationError{Field: "orders", Message: err.Error()}
	}
	for i, item := range p.Items {
		if item.Quantity.Sign() <= 0 {
			return &ValidationError{
				Field:   fmt.Sprintf("orders.items[%d].quantity", i),
				Message: "must be positive",
			}
		}
	}
	return nil
}

// StockTransactionType distinguishes the three inventory movements.
type StockTransactionType string

const (
	StockAdd    StockTransactionType = "add"
	StockDeduct StockTransactionType = "deduct"
	StockAdjust StockTransactionType = "adjust"
)

// StockTransactionPayload is the body of a stockTransactions mutation.
// ReferenceID, when set, names the order that caused the movement; the
// idempotency resolver uses it to suppress double deductions.
type StockTransactionPayload struct {
	ID           string               `json:"id" validate:"required"`
	IngredientID string               `json:"ingredientId" validate:"required"`
	Type         StockTransactionType `json:"type" validate:"required,oneof=add deduct adjust"`
	Quantity     decimal.Decimal      `json:"quantity"`
	ReferenceID  string               `json:"referenceId,omitempty"`
	Note         string               `json:"note,omitempty"`
}

func (p *StockTransactionPayload) Entity() EntityType { return EntityStockTransactions }

func (p *StockTransactionPayload) Validate() error {
	if err := validate.Struct(p); err != nil {
		return &ValidationError{Field: "stockTransactions", Message: err.Error()}
	}
	if p.Quantity.IsZero() {
		return &ValidationError{Field: "stockTransactions.quantity", Message: "cannot be zero"}
	}
	return nil
}

// IngredientPayload is the body of an ingredients mutation.
type IngredientPayload struct {
	ID         string          `json:"id" validate:"required"`
	Name       string          `json:"name" validate:"required"`
	Unit       string          `json:"unit,omitempty"`
	Stock      decimal.Decimal `json:"stock"`
	AlertLevel decimal.Decimal `json:"alertLevel"`
}

func (p *IngredientPayload) Entity() EntityType { return EntityIngredients }

func (p *IngredientPayload) Validate() error {
	if err := validate.Struct(p); err != nil {
		return &ValidationError{Field: "ingredients", Message: err.Error()}
	}
	return nil
}

// RecipeItem binds an ingredient quantity to a recipe.
type RecipeItem struct {
	IngredientID string          `json:"ingredientId" validate:"required"`
	Quantity     decimal.Decimal `json:"quantity"`
}

// RecipePayload is the body of a recipes mutation. A recipe maps a food
// item (optionally per variation) to the ingredients it consumes.
type RecipePayload struct {
	ID          string       `json:"id" validate:"required"`
	FoodItemID  string       `json:"foodItemId" validate:"required"`
	VariationID string       `json:"variationId,omitempty"`
	Items       []RecipeItem `json:"items" validate:"required,min=1,dive"`
}

func (p *RecipePayload) Entity() EntityType { return EntityRecipes }

func (p *RecipePayload) Validate() error {
	if err := validate.Struct(p); err != nil {
		return &ValidationError{Field: "recipes", Message: err.Error()}
	}
	for i, item := range p.Items {
		if item.Quantity.Sign() <= 0 {
			return &ValidationError{
				Field:   fmt.Sprintf("recipes.items[%d].quantity", i),
				Message: "must be positive",
			}
		}
	}
	return nil
}

// SettingsPayload is the body of a tenant settings/profile mutation.
type SettingsPayload struct {
	Name          string          `json:"name" validate:"required"`
	Address       string          `json:"address,omitempty"`
	Phone         string          `json:"phone,omitempty"`
	Currency      string          `json:"currency,omitempty"`
	TaxRate       decimal.Decimal `json:"taxRate"`
	ReceiptFooter string          `json:"receiptFooter,omitempty"`
}

func (p *SettingsPayload) Entity() EntityType { return EntitySettings }

func (p *SettingsPayload) Validate() error {
	if err := validate.Struct(p); err != nil {
		return &ValidationError{Field: "settings", Message: err.Error()}
	}
	return nil
}

// DocumentPayload carries the remaining plain CRUD tables (branches,
// categories, food items, add-ons, counters, tables, discounts, employees)
// as an opaque field set. It marshals to the bare field object so the wire
// shape matches what the server handlers expect.
type DocumentPayload struct {
	Table  EntityType
	Fields map[string]any
}

func (p *DocumentPayload) Entity() EntityType { return p.Table }

func (p *DocumentPayload) Validate() error {
	if !p.Table.IsValid() {
		return &ValidationError{Field: "table", Message: "unknown entity type"}
	}
	if len(p.Fields) == 0 {
		return &ValidationError{Field: string(p.Table), Message: "empty field set"}
	}
	return nil
}

func (p *DocumentPayload) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Fields)
}

// DecodePayload parses a raw payload into its typed variant for the given
// entity type. DELETE mutations carry no payload and decode to nil.
func DecodePayload(entity EntityType, action Action, raw json.RawMessage) (Payload, error) {
	if !entity.IsValid() {
		return nil, ErrInvalidEntityType
	}
	if action == ActionDelete {
		return nil, nil
	}
	if len(raw) == 0 {
		return nil, ErrMissingPayload
	}

	var p Payload
	switch entity {
	case EntityOrders:
		p = &OrderPayload{}
	case EntityStockTransactions:
		p = &StockTransactionPayload{}
	case EntityIngredients:
		p = &IngredientPayload{}
	case EntityRecipes:
		p = &RecipePayload{}
	case EntitySettings:
		p = &SettingsPayload{}
	default:
		doc := &DocumentPayload{Table: entity}
		if err := json.Unmarshal(raw, &doc.Fields); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", entity, err)
		}
		if err := doc.Validate(); err != nil {
			return nil, err
		}
		return doc, nil
	}

	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", entity, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// EncodePayload marshals a typed payload back to its wire form.
func EncodePayload(p Payload) (json.RawMessage, error) {
	if p == nil {
		return nil, nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.Entity(), err)
	}
	return raw, nil
}
