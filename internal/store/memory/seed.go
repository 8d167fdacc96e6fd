package memory

import (
	"github.com/shopspring/decimal"

	"dapurstok/backend/internal/domain"
)

const seedStoreID = "main-store"

// NewSeeded returns a store pre-loaded with a small croffle & coffee menu for
// local development and the in-memory server mode.
func NewSeeded(opts ...Option) *Store {
	s := New(opts...)
	now := s.now()

	items := []domain.InventoryStockItem{
		stock("inv-croffle-dough", "Croffle Dough", "pcs", "120", "20", "2500"),
		stock("inv-whipped-cream", "Whipped Cream", "g", "3000", "500", "45"),
		stock("inv-tiramisu", "Tiramisu", "portion", "60", "10", "1800"),
		stock("inv-peanut", "Peanut", "portion", "60", "10", "900"),
		stock("inv-marshmallow", "Marshmallow", "portion", "60", "10", "1100"),
		stock("inv-choco-flakes", "Choco Flakes", "portion", "60", "10", "1000"),
		stock("inv-biscoff", "Biscoff", "portion", "40", "10", "2200"),
		stock("inv-mini-box", "Mini Croffle Box", "pcs", "200", "40", "1200"),
		stock("inv-paper-bag", "Paper Bag", "pcs", "200", "40", "600"),
		stock("inv-milk", "Milk", "l", "24", "4", "18000"),
		stock("inv-coffee", "Coffee Beans", "kg", "5", "1", "240000"),
		stock("inv-cup", "Plastic Cup", "pcs", "300", "50", "700"),
		stock("inv-lid", "Cup Lid", "pcs", "300", "50", "300"),
	}
	for _, item := range items {
		item.UpdatedAt = now
		s.inventory[item.ID] = item
	}

	catalog := []domain.CatalogItem{
		{Name: "Milk", Unit: "l", UnitCost: dec("18000"), MinimumThreshold: dec("4"), Category: "dairy"},
		{Name: "Coffee Beans", Unit: "kg", UnitCost: dec("240000"), MinimumThreshold: dec("1"), Category: "coffee"},
		{Name: "Syrup", Unit: "ml", UnitCost: dec("60"), MinimumThreshold: dec("250"), Category: "flavoring"},
		{Name: "Croffle Dough", Unit: "pcs", UnitCost: dec("2500"), MinimumThreshold: dec("20"), Category: "bakery"},
		{Name: "Plastic Cup", Unit: "pcs", UnitCost: dec("700"), MinimumThreshold: dec("50"), Category: "packaging"},
	}
	for _, c := range catalog {
		s.catalog[catalogKey(c.Name)] = c
	}

	miniCroffle := domain.RecipeTemplate{
		ID: "tpl-mini-croffle", Name: "Mini Croffle", Category: "croffle", YieldQuantity: dec("1"), Active: true, UpdatedAt: now,
		Ingredients: []domain.TemplateIngredient{
			{Name: "Croffle Dough", Quantity: dec("1"), Unit: "pcs", Cost: dec("2500"), GroupName: "base"},
			{Name: "Whipped Cream", Quantity: dec("15"), Unit: "g", Cost: dec("675"), GroupName: "base"},
			{Name: "Mini Croffle Box", Quantity: dec("1"), Unit: "pcs", Cost: dec("1200"), GroupName: "packaging"},
			{Name: "Tiramisu", Quantity: dec("1"), Unit: "portion", Cost: dec("1800"), Optional: true, GroupName: "choice"},
			{Name: "Peanut", Quantity: dec("1"), Unit: "portion", Cost: dec("900"), Optional: true, GroupName: "choice"},
			{Name: "Marshmallow", Quantity: dec("1"), Unit: "portion", Cost: dec("1100"), Optional: true, GroupName: "choice"},
			{Name: "Choco Flakes", Quantity: dec("1"), Unit: "portion", Cost: dec("1000"), Optional: true, GroupName: "choice"},
		},
	}
	overload := domain.RecipeTemplate{
		ID: "tpl-croffle-overload", Name: "Croffle Overload", Category: "croffle", YieldQuantity: dec("1"), Active: true, UpdatedAt: now,
		Ingredients: []domain.TemplateIngredient{
			{Name: "Croffle Dough", Quantity: dec("2"), Unit: "pcs", Cost: dec("5000"), GroupName: "base"},
			{Name: "Paper Bag", Quantity: dec("1"), Unit: "pcs", Cost: dec("600"), GroupName: "packaging"},
			{Name: "Biscoff", Quantity: dec("3"), Unit: "portion", Cost: dec("6600"), Optional: true, GroupName: "choice"},
			{Name: "Choco Flakes", Quantity: dec("3"), Unit: "portion", Cost: dec("3000"), Optional: true, GroupName: "choice"},
		},
	}
	latte := domain.RecipeTemplate{
		ID: "tpl-iced-latte", Name: "Iced Latte", Category: "beverage", YieldQuantity: dec("1"), Active: true, UpdatedAt: now,
		Ingredients: []domain.TemplateIngredient{
			{Name: "Milk", Quantity: dec("150"), Unit: "ml", Cost: dec("2700")},
			{Name: "Coffee Beans", Quantity: dec("18"), Unit: "g", Cost: dec("4320")},
			{Name: "Plastic Cup", Quantity: dec("1"), Unit: "pcs", Cost: dec("700")},
			{Name: "Cup Lid", Quantity: dec("1"), Unit: "pcs", Cost: dec("300")},
		},
	}
	for _, tpl := range []domain.RecipeTemplate{miniCroffle, overload, latte} {
		s.templates[tpl.ID] = tpl
	}

	bindings := map[string]string{
		"Croffle Dough": "inv-croffle-dough", "Whipped Cream": "inv-whipped-cream",
		"Tiramisu": "inv-tiramisu", "Peanut": "inv-peanut", "Marshmallow": "inv-marshmallow",
		"Choco Flakes": "inv-choco-flakes", "Biscoff": "inv-biscoff",
		"Mini Croffle Box": "inv-mini-box", "Paper Bag": "inv-paper-bag",
		"Milk": "inv-milk", "Coffee Beans": "inv-coffee", "Plastic Cup": "inv-cup", "Cup Lid": "inv-lid",
	}
	factors := map[string]decimal.Decimal{"Milk": dec("0.001"), "Coffee Beans": dec("0.001")}

	deploy := func(recipeID, productID string, tpl domain.RecipeTemplate) {
		ingredients := make([]domain.RecipeIngredient, 0, len(tpl.Ingredients))
		cost := decimal.Zero
		for _, ti := range tpl.Ingredients {
			factor, ok := factors[ti.Name]
			method := domain.MatchExact
			if !ok {
				factor = decimal.NewFromInt(1)
			} else {
				method = domain.MatchUnitConversion
			}
			ingredients = append(ingredients, domain.RecipeIngredient{
				TemplateIngredient: ti,
				InventoryItemID:    bindings[ti.Name],
				ConversionFactor:   factor,
				MatchMethod:        method,
			})
			cost = cost.Add(ti.Cost)
		}
		s.recipes[recipeID] = domain.DeployedRecipe{
			ID: recipeID, TemplateID: tpl.ID, StoreID: seedStoreID, ProductID: productID, Name: tpl.Name,
			Active: true, Ingredients: ingredients, CostSnapshot: cost, UpdatedAt: now,
		}
		s.products[productID] = domain.Product{
			ID: productID, StoreID: seedStoreID, Name: tpl.Name, Category: tpl.Category, RecipeID: recipeID, Active: true,
		}
	}
	deploy("rcp-main-mini-croffle", "prod-mini-croffle", miniCroffle)
	deploy("rcp-main-croffle-overload", "prod-croffle-overload", overload)
	deploy("rcp-main-iced-latte", "prod-iced-latte", latte)

	s.products["prod-affogato"] = domain.Product{
		ID: "prod-affogato", StoreID: seedStoreID, Name: "Affogato", Category: "beverage", Active: true,
	}

	return s
}

func stock(id, name, unit, qty, threshold, cost string) domain.InventoryStockItem {
	return domain.InventoryStockItem{
		ID:               id,
		StoreID:          seedStoreID,
		ItemName:         name,
		Unit:             unit,
		StockQuantity:    dec(qty),
		MinimumThreshold: dec(threshold),
		UnitCost:         dec(cost),
		Active:           true,
		Version:          1,
	}
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}
