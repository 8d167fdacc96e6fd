// Package report moves ledger and catalog data in and out of XLSX workbooks.
package report

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"dapurstok/backend/internal/domain"
)

const (
	LedgerSheet = "Ledger"
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var ErrMissingColumn = errors.New("catalog sheet is missing a required column")

var ledgerHeader = []interface{}{
	"timestamp", "kind", "transaction_id", "store_id", "inventory_item_id", "ingredient",
	"group", "recipe", "quantity_deducted", "previous_quantity", "new_quantity", "actor",
}

// WriteLedger renders entries as a single-sheet workbook, one row per entry.
func WriteLedger(w io.Writer, entries []domain.LedgerEntry) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(f.GetActiveSheetIndex()), LedgerSheet); err != nil {
		return err
	}
	if err := f.SetSheetRow(LedgerSheet, "A1", &ledgerHeader); err != nil {
		return fmt.Errorf("write ledger header: %w", err)
	}
	for i, e := range entries {
		row := []interface{}{
			e.Timestamp.UTC().Format("2006-01-02 15:04:05"),
			string(e.Kind),
			e.TransactionID,
			e.StoreID,
			e.InventoryItemID,
			e.IngredientName,
			e.IngredientGroup,
			e.RecipeName,
			e.QuantityDeducted.InexactFloat64(),
			e.PreviousQuantity.InexactFloat64(),
			e.NewQuantity.InexactFloat64(),
			e.ActorID,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(LedgerSheet, cell, &row); err != nil {
			return fmt.Errorf("write ledger row %d: %w", i+2, err)
		}
	}
	if err := f.SetPanes(LedgerSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}
	return f.Write(w)
}

// ReadCatalog parses the first sheet of a workbook into catalog items. Columns
// are located by header name, so their order does not matter. Bad rows are
// skipped and reported; the whole read fails only on a malformed workbook or
// a missing name or unit column.
func ReadCatalog(r io.Reader) ([]domain.CatalogItem, []domain.CatalogRowError, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, ErrMissingColumn
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("%w: name", ErrMissingColumn)
	}

	cols := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"name", "unit"} {
		if _, ok := cols[required]; !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrMissingColumn, required)
		}
	}

	var (
		items   []domain.CatalogItem
		skipped []domain.CatalogRowError
	)
	for i, row := range rows[1:] {
		rowNo := i + 2
		get := func(col string) string {
			idx, ok := cols[col]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}
		if strings.Join(row, "") == "" {
			continue
		}

		item := domain.CatalogItem{Name: get("name"), Unit: get("unit"), Category: get("category")}
		if item.Name == "" || item.Unit == "" {
			skipped = append(skipped, domain.CatalogRowError{Row: rowNo, Reason: "name and unit are required"})
			continue
		}
		var bad string
		item.UnitCost, bad = parseAmount(get("unit_cost"), "unit_cost")
		if bad == "" {
			item.MinimumThreshold, bad = parseAmount(get("minimum_threshold"), "minimum_threshold")
		}
		if bad != "" {
			skipped = append(skipped, domain.CatalogRowError{Row: rowNo, Reason: bad})
			continue
		}
		items = append(items, item)
	}
	return items, skipped, nil
}

func parseAmount(raw, column string) (decimal.Decimal, string) {
	if raw == "" {
		return decimal.Zero, ""
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
	if err != nil {
		return decimal.Zero, fmt.Sprintf("%s %q is not a number", column, raw)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Sprintf("%s must not be negative", column)
	}
	return d, ""
}
