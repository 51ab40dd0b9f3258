package brigade

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Variation is a sellable variant of a food item (size, portion) with an
// optional price/consumption multiplier. A variation may carry its own
// multiplier, link to a shared variation that does, or carry neither.
type Variation struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Multiplier decimal.Decimal `json:"multiplier"`
	LinkedID   string          `json:"linkedId,omitempty"`
}

// MultiplierResolver resolves the quantity multiplier for a variation. The
// lookup falls back through direct multiplier, linked shared variation, and
// shared-variation name match, and finally defaults to 1. It never errors;
// a missing or malformed variation simply scales by 1.
type MultiplierResolver struct {
	byID   map[string]Variation
	byName map[string]decimal.Decimal
}

// NewMultiplierResolver indexes the shared variations used for linked and
// name-based fallback.
func NewMultiplierResolver(shared []Variation) *MultiplierResolver {
	r := &MultiplierResolver{
		byID:   make(map[string]Variation, len(shared)),
		byName: make(map[string]decimal.Decimal, len(shared)),
	}
	for _, v := range shared {
		r.byID[v.ID] = v
		if v.Multiplier.Sign() > 0 {
			r.byName[strings.ToLower(v.Name)] = v.Multiplier
		}
	}
	return r
}

var one = decimal.NewFromInt(1)

// Resolve returns the multiplier for variationID among the food item's own
// variations.
func (r *MultiplierResolver) Resolve(variationID string, itemVariations []Variation) decimal.Decimal {
	if variationID == "" {
		return one
	}

	var match *Variation
	for i := range itemVariations {
		if itemVariations[i].ID == variationID {
			match = &itemVariations[i]
			break
		}
	}
	if match == nil {
		if shared, ok := r.byID[variationID]; ok {
			match = &shared
		}
	}
	if match == nil {
		return one
	}

	if match.Multiplier.Sign() > 0 {
		return match.Multiplier
	}
	if match.LinkedID != "" {
		if shared, ok := r.byID[match.LinkedID]; ok && shared.Multiplier.Sign() > 0 {
			return shared.Multiplier
		}
	}
	if m, ok := r.byName[strings.ToLower(match.Name)]; ok {
		return m
	}
	return one
}
