package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"dapurstok/backend/internal/domain"
)

func TestWriteLedger(t *testing.T) {
	at := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	entries := []domain.LedgerEntry{
		{
			Kind: domain.LedgerDeduction, TransactionID: "txn-1", StoreID: "main-store", InventoryItemID: "inv-milk",
			IngredientName: "Milk", IngredientGroup: "base", RecipeName: "Iced Latte",
			QuantityDeducted: decimal.RequireFromString("0.3"), PreviousQuantity: decimal.NewFromInt(24),
			NewQuantity: decimal.RequireFromString("23.7"), ActorID: "cashier-1", Timestamp: at,
		},
		{
			Kind: domain.LedgerRollback, TransactionID: "txn-1", StoreID: "main-store", InventoryItemID: "inv-milk",
			IngredientName: "Milk", QuantityDeducted: decimal.RequireFromString("-0.3"),
			PreviousQuantity: decimal.RequireFromString("23.7"), NewQuantity: decimal.NewFromInt(24), Timestamp: at,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteLedger(&buf, entries))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(LedgerSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "transaction_id", rows[0][2])
	assert.Equal(t, "2026-04-02 09:30:00", rows[1][0])
	assert.Equal(t, "deduction", rows[1][1])
	assert.Equal(t, "Iced Latte", rows[1][7])
	assert.Equal(t, "0.3", rows[1][8])
	assert.Equal(t, "rollback", rows[2][1])
	assert.Equal(t, "-0.3", rows[2][8])
}

func catalogWorkbook(t *testing.T, rows [][]interface{}) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return &buf
}

func TestReadCatalog(t *testing.T) {
	buf := catalogWorkbook(t, [][]interface{}{
		{"Category", "Name", "Unit", "Unit_Cost", "minimum_threshold"},
		{"flavoring", "Hazelnut Syrup", "ml", "75", "250"},
		{"", "", "", "", ""},
		{"dairy", "Oat Milk", "l", "32,000", ""},
		{"dairy", "Cheese", "", "10", "1"},
		{"bakery", "Brioche", "pcs", "cheap", "1"},
	})

	items, skipped, err := ReadCatalog(buf)
	require.NoError(t, err)

	require.Len(t, items, 2)
	assert.Equal(t, "Hazelnut Syrup", items[0].Name)
	assert.Equal(t, "flavoring", items[0].Category)
	assert.True(t, items[0].UnitCost.Equal(decimal.NewFromInt(75)))
	assert.True(t, items[1].UnitCost.Equal(decimal.NewFromInt(32000)))
	assert.True(t, items[1].MinimumThreshold.IsZero())

	require.Len(t, skipped, 2)
	assert.Equal(t, 5, skipped[0].Row)
	assert.Equal(t, 6, skipped[1].Row)
	assert.Contains(t, skipped[1].Reason, "unit_cost")
}

func TestReadCatalogRequiresNameAndUnit(t *testing.T) {
	buf := catalogWorkbook(t, [][]interface{}{
		{"name", "cost"},
		{"Milk", "18000"},
	})

	_, _, err := ReadCatalog(buf)
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestReadCatalogRejectsGarbage(t *testing.T) {
	_, _, err := ReadCatalog(bytes.NewBufferString("not a workbook"))
	assert.Error(t, err)
}
