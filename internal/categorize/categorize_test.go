package categorize

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"dapurstok/backend/internal/domain"
	"dapurstok/backend/internal/rules"
)

func ing(name, group string, optional bool) domain.RecipeIngredient {
	return domain.RecipeIngredient{TemplateIngredient: domain.TemplateIngredient{Name: name, GroupName: group, Optional: optional}}
}

func TestSplitTrustsGroupMetadata(t *testing.T) {
	c := New(NewMetadataFirst(rules.Default(), nil))

	// "Peanut" would be a topping by keyword, metadata says base.
	b := c.Split([]domain.RecipeIngredient{
		ing("Peanut", "base", false),
		ing("Sticker", "topping", true),
		ing("Brown Sugar", "Packaging", false),
	})

	assert.Len(t, b.Base, 1)
	assert.Equal(t, "Peanut", b.Base[0].Ingredient.Name)
	assert.Equal(t, SourceMetadata, b.Base[0].Source)

	assert.Len(t, b.Choice, 1)
	assert.Equal(t, domain.ChoiceGroup(true), b.Choice[0].Group)

	assert.Len(t, b.Packaging, 1)
	assert.Equal(t, "Brown Sugar", b.Packaging[0].Ingredient.Name)
}

func TestSplitFallsBackToKeywordHeuristics(t *testing.T) {
	c := New(nil)

	b := c.Split([]domain.RecipeIngredient{
		ing("Croffle Dough", "", false),
		ing("Mini Croffle Box", "", false),
		ing("Plastic Cups", "", false),
		ing("Tiramisu", "", false),
		ing("Vanilla Extract", "", true),
		ing("Milk", "unknown-group", false),
	})

	names := func(entries []Categorized) []string {
		out := []string{}
		for _, e := range entries {
			out = append(out, e.Ingredient.Name)
			assert.Equal(t, SourceHeuristic, e.Source)
		}
		return out
	}
	assert.Equal(t, []string{"Croffle Dough", "Milk"}, names(b.Base))
	assert.Equal(t, []string{"Mini Croffle Box", "Plastic Cups"}, names(b.Packaging))
	assert.Equal(t, []string{"Tiramisu", "Vanilla Extract"}, names(b.Choice))
}

func TestSplitPlacesEveryIngredientOnce(t *testing.T) {
	c := New(nil)
	input := []domain.RecipeIngredient{
		ing("A", "base", false), ing("Cup", "", false), ing("Nutella", "", false),
		ing("B", "", false), ing("Lid", "packaging", false), ing("Caramel", "choice", false),
	}

	b := c.Split(input)

	assert.Equal(t, len(input), b.Len())
	assert.Len(t, b.Mandatory(), len(b.Base)+len(b.Packaging))
}
