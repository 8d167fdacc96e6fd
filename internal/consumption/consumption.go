// Package consumption works out which inventory a single unit of a product
// consumes once the customer's selection is known.
package consumption

import (
	"github.com/shopspring/decimal"

	"dapurstok/backend/internal/categorize"
	"dapurstok/backend/internal/domain"
	"dapurstok/backend/internal/selection"
)

type Requirement struct {
	Ingredient domain.RecipeIngredient
	Group      domain.IngredientGroup
	Source     categorize.Source
	// PerUnit is in the bound inventory item's unit, portion rules applied.
	PerUnit decimal.Decimal
}

type Consumption struct {
	Selection domain.ProductSelection
	Required  []Requirement
	// Unselected are choice ingredients the customer did not pick.
	Unselected []Requirement
}

type Resolver struct {
	parser      *selection.Parser
	categorizer *categorize.Categorizer
}

func NewResolver(parser *selection.Parser, categorizer *categorize.Categorizer) *Resolver {
	return &Resolver{parser: parser, categorizer: categorizer}
}

// Resolve applies the selection in displayName to recipe. Mandatory
// ingredients come first in recipe order, then selected choices.
func (r *Resolver) Resolve(recipe domain.DeployedRecipe, displayName string) Consumption {
	sel := r.parser.Parse(displayName)
	buckets := r.categorizer.Split(recipe.Ingredients)
	portion := r.parser.Portion(sel.VariantKind)

	c := Consumption{Selection: sel}
	for _, entry := range buckets.Mandatory() {
		c.Required = append(c.Required, Requirement{
			Ingredient: entry.Ingredient,
			Group:      entry.Group,
			Source:     entry.Source,
			PerUnit:    entry.Ingredient.InventoryQuantity(entry.Ingredient.Quantity),
		})
	}
	for _, entry := range buckets.Choice {
		req := Requirement{Ingredient: entry.Ingredient, Group: entry.Group, Source: entry.Source}
		if !r.parser.Selected(sel, entry.Ingredient.Name) {
			req.PerUnit = entry.Ingredient.InventoryQuantity(entry.Ingredient.Quantity)
			c.Unselected = append(c.Unselected, req)
			continue
		}
		req.PerUnit = entry.Ingredient.InventoryQuantity(portion.Apply(entry.Ingredient.Quantity))
		c.Required = append(c.Required, req)
	}
	return c
}
