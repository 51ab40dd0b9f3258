package apply

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/hyperengineering/brigade"
)

// OrderCreator creates an order and performs its inventory deduction in the
// same logical operation. Returns the permanent server id.
type OrderCreator interface {
	Create(tenant string, order *brigade.OrderPayload) (string, error)
}

// OrderService is the production OrderCreator: it resolves each line item's
// recipe, scales ingredient quantities by item quantity and variation
// multiplier, deducts stock, and persists the order document.
type OrderService struct {
	store     EntityStore
	inventory InventoryService
}

// NewOrderService wires an order creator over the collaborators.
func NewOrderService(store EntityStore, inventory InventoryService) *OrderService {
	return &OrderService{store: store, inventory: inventory}
}

type recipeDoc struct {
	ID          string               `json:"id"`
	FoodItemID  string               `json:"foodItemId"`
	VariationID string               `json:"variationId,omitempty"`
	Items       []brigade.RecipeItem `json:"items"`
}

type foodItemDoc struct {
	ID         string              `json:"id"`
	Variations []brigade.Variation `json:"variations,omitempty"`
}

func (s *OrderService) Create(tenant string, order *brigade.OrderPayload) (string, error) {
	serverID := order.ID
	if isTempID(serverID) {
		serverID = uuid.NewString()
	}

	recipes, err := s.loadRecipes(tenant)
	if err != nil {
		return "", err
	}
	resolver, variations, err := s.loadVariations(tenant)
	if err != nil {
		return "", err
	}

	for _, item := range order.Items {
		recipe := matchRecipe(recipes, item.FoodItemID, item.VariationID)
		if recipe == nil {
			// Items without a recipe consume no tracked ingredients.
			continue
		}
		multiplier := resolver.Resolve(item.VariationID, variations[item.FoodItemID])

		for _, ingredient := range recipe.Items {
			qty := ingredient.Quantity.Mul(item.Quantity).Mul(multiplier)
			ref := fmt.Sprintf("order:%s:%s:%s", order.ID, item.ID, ingredient.IngredientID)
			if err := s.inventory.DeductStock(tenant, ingredient.IngredientID, qty, ref); err != nil {
				return "", fmt.Errorf("deduct %s: %w", ingredient.IngredientID, err)
			}
		}
	}

	doc, err := orderDocument(order, serverID)
	if err != nil {
		return "", err
	}
	if err := s.store.Upsert(tenant, string(brigade.EntityOrders), serverID, doc); err != nil {
		return "", err
	}
	return serverID, nil
}

func (s *OrderService) loadRecipes(tenant string) ([]recipeDoc, error) {
	docs, err := s.store.List(tenant, string(brigade.EntityRecipes))
	if err != nil {
		return nil, err
	}
	recipes := make([]recipeDoc, 0, len(docs))
	for _, raw := range docs {
		var r recipeDoc
		if err := json.Unmarshal(raw, &r); err != nil {
			continue
		}
		recipes = append(recipes, r)
	}
	return recipes, nil
}

// loadVariations indexes each food item's variations and builds a resolver
// over the tenant's shared variation list, if it keeps one in settings.
func (s *OrderService) loadVariations(tenant string) (*brigade.MultiplierResolver, map[string][]brigade.Variation, error) {
	docs, err := s.store.List(tenant, string(brigade.EntityFoodItems))
	if err != nil {
		return nil, nil, err
	}

	perItem := make(map[string][]brigade.Variation)
	var shared []brigade.Variation
	for _, raw := range docs {
		var item foodItemDoc
		if err := json.Unmarshal(raw, &item); err != nil {
			continue
		}
		perItem[item.ID] = item.Variations
		shared = append(shared, item.Variations...)
	}
	return brigade.NewMultiplierResolver(shared), perItem, nil
}

// matchRecipe prefers a (foodItem, variation) match and falls back to the
// food item's base recipe.
func matchRecipe(recipes []recipeDoc, foodItemID, variationID string) *recipeDoc {
	var base *recipeDoc
	for i := range recipes {
		r := &recipes[i]
		if r.FoodItemID != foodItemID {
			continue
		}
		if variationID != "" && r.VariationID == variationID {
			return r
		}
		if r.VariationID == "" {
			base = r
		}
	}
	return base
}

func orderDocument(order *brigade.OrderPayload, serverID string) (json.RawMessage, error) {
	raw, err := json.Marshal(order)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	fields["id"] = serverID
	return json.Marshal(fields)
}

func isTempID(id string) bool {
	return len(id) > 4 && id[:4] == "tmp-"
}
