package consumption

import (
	"io"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dapurstok/backend/internal/categorize"
	"dapurstok/backend/internal/domain"
	"dapurstok/backend/internal/rules"
	"dapurstok/backend/internal/selection"
)

func newResolver() *Resolver {
	log := logrus.New()
	log.SetOutput(io.Discard)
	r := rules.Default()
	return NewResolver(selection.NewParser(r, log), categorize.New(categorize.NewMetadataFirst(r, nil)))
}

func ri(name, qty, group, factor string) domain.RecipeIngredient {
	return domain.RecipeIngredient{
		TemplateIngredient: domain.TemplateIngredient{Name: name, Quantity: decimal.RequireFromString(qty), Unit: "u", GroupName: group},
		InventoryItemID:    "inv-" + name,
		ConversionFactor:   decimal.RequireFromString(factor),
	}
}

func TestResolveAppliesPortionOnlyToSelectedChoices(t *testing.T) {
	recipe := domain.DeployedRecipe{Name: "Mini Croffle", Ingredients: []domain.RecipeIngredient{
		ri("Dough", "1", "base", "1"),
		ri("Box", "1", "packaging", "1"),
		ri("Tiramisu", "1", "choice", "1"),
		ri("Marshmallow", "1", "choice", "1"),
	}}

	c := newResolver().Resolve(recipe, "Mini Croffle with Tiramisu")

	require.Len(t, c.Required, 3)
	assert.Equal(t, "Tiramisu", c.Required[2].Ingredient.Name)
	assert.True(t, c.Required[2].PerUnit.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, c.Required[0].PerUnit.Equal(decimal.NewFromInt(1)))

	require.Len(t, c.Unselected, 1)
	assert.Equal(t, "Marshmallow", c.Unselected[0].Ingredient.Name)
}

func TestResolveCountsChoicesNamedWithSuffix(t *testing.T) {
	recipe := domain.DeployedRecipe{Name: "Mini Croffle", Ingredients: []domain.RecipeIngredient{
		ri("Dough", "1", "base", "1"),
		ri("Tiramisu Sauce", "1", "choice", "1"),
		ri("Choco Flakes Topping", "1", "choice", "1"),
		ri("Peanut Topping", "1", "choice", "1"),
	}}

	c := newResolver().Resolve(recipe, "Mini Croffle with Tiramisu and Choco Flakes")

	require.Len(t, c.Required, 3)
	assert.Equal(t, "Tiramisu Sauce", c.Required[1].Ingredient.Name)
	assert.Equal(t, "Choco Flakes Topping", c.Required[2].Ingredient.Name)
	require.Len(t, c.Unselected, 1)
	assert.Equal(t, "Peanut Topping", c.Unselected[0].Ingredient.Name)
}

func TestResolveFixedPortionIgnoresNominalQuantity(t *testing.T) {
	recipe := domain.DeployedRecipe{Name: "Croffle Overload", Ingredients: []domain.RecipeIngredient{
		ri("Biscoff", "3", "choice", "1"),
	}}

	c := newResolver().Resolve(recipe, "Croffle Overload with Biscoff")

	require.Len(t, c.Required, 1)
	assert.True(t, c.Required[0].PerUnit.Equal(decimal.NewFromInt(1)))
}

func TestResolveConvertsToInventoryUnit(t *testing.T) {
	recipe := domain.DeployedRecipe{Name: "Iced Latte", Ingredients: []domain.RecipeIngredient{
		ri("Milk", "150", "", "0.001"),
	}}

	c := newResolver().Resolve(recipe, "Iced Latte")

	require.Len(t, c.Required, 1)
	assert.True(t, c.Required[0].PerUnit.Equal(decimal.RequireFromString("0.15")))
	assert.Equal(t, domain.GroupBase, c.Required[0].Group.Kind)
}
