package memory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dapurstok/backend/internal/domain"
	"dapurstok/backend/internal/store"
)

func TestCompareAndSetStockRejectsStaleExpectation(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	item, err := s.GetInventoryItem(ctx, "inv-peanut")
	require.NoError(t, err)

	updated, err := s.CompareAndSetStock(ctx, item.ID, item.StockQuantity, item.StockQuantity.Sub(decimal.NewFromInt(2)))
	require.NoError(t, err)
	assert.Equal(t, item.Version+1, updated.Version)

	_, err = s.CompareAndSetStock(ctx, item.ID, item.StockQuantity, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, store.ErrStaleWrite)
}

func TestCompareAndSetStockRejectsNegative(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	item, err := s.GetInventoryItem(ctx, "inv-peanut")
	require.NoError(t, err)

	_, err = s.CompareAndSetStock(ctx, item.ID, item.StockQuantity, decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, store.ErrInvalidInput)
}

func TestListActiveRecipesPages(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	first, err := s.ListActiveRecipes(ctx, "main-store", 0, 2)
	require.NoError(t, err)
	second, err := s.ListActiveRecipes(ctx, "main-store", 2, 2)
	require.NoError(t, err)

	assert.Len(t, first, 2)
	assert.Len(t, second, 1)
	assert.NotEqual(t, first[0].ID, second[0].ID)
}

func TestRecipeReadsAreIsolatedCopies(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	recipe, err := s.GetRecipe(ctx, "rcp-main-iced-latte")
	require.NoError(t, err)
	recipe.Ingredients[0].Name = "Oat Milk"

	again, err := s.GetRecipe(ctx, "rcp-main-iced-latte")
	require.NoError(t, err)
	assert.Equal(t, "Milk", again.Ingredients[0].Name)
}

func TestCreateSaleRecordRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.CreateSaleRecord(ctx, domain.SaleRecord{TransactionID: "sale-1", StoreID: "main-store"}))
	err := s.CreateSaleRecord(ctx, domain.SaleRecord{TransactionID: "sale-1", StoreID: "main-store"})
	assert.ErrorIs(t, err, store.ErrDuplicateTransaction)
}
