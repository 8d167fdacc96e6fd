package deduction

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dapurstok/backend/internal/categorize"
	"dapurstok/backend/internal/consumption"
	"dapurstok/backend/internal/domain"
	"dapurstok/backend/internal/rules"
	"dapurstok/backend/internal/selection"
	"dapurstok/backend/internal/store"
	"dapurstok/backend/internal/store/memory"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newPlanner(repo PlanStore) *Planner {
	log := quietLogger()
	r := rules.Default()
	resolver := consumption.NewResolver(selection.NewParser(r, log), categorize.New(categorize.NewMetadataFirst(r, nil)))
	return NewPlanner(repo, resolver, log)
}

func stockOf(t *testing.T, repo *memory.Store, itemID string) decimal.Decimal {
	t.Helper()
	item, err := repo.GetInventoryItem(context.Background(), itemID)
	require.NoError(t, err)
	return item.StockQuantity
}

func setStock(t *testing.T, repo *memory.Store, itemID, qty string) {
	t.Helper()
	_, err := repo.CompareAndSetStock(context.Background(), itemID, stockOf(t, repo, itemID), decimal.RequireFromString(qty))
	require.NoError(t, err)
}

func deltaFor(plan domain.DeductionPlan, itemID string) (domain.PlannedDelta, bool) {
	for _, d := range plan.Deltas {
		if d.InventoryItemID == itemID {
			return d, true
		}
	}
	return domain.PlannedDelta{}, false
}

func TestMiniCroffleDeductsSelectedChoicesAtHalfPortion(t *testing.T) {
	repo := memory.NewSeeded()
	ctx := context.Background()

	plan, err := newPlanner(repo).Plan(ctx, "main-store", []domain.SaleLineItem{{
		ProductID:     "prod-mini-croffle",
		Quantity:      2,
		SelectionText: "Mini Croffle with Tiramisu and Peanut",
	}})
	require.NoError(t, err)

	tiramisu, ok := deltaFor(plan, "inv-tiramisu")
	require.True(t, ok)
	assert.True(t, tiramisu.Quantity.Equal(decimal.NewFromInt(1)))
	peanut, ok := deltaFor(plan, "inv-peanut")
	require.True(t, ok)
	assert.True(t, peanut.Quantity.Equal(decimal.NewFromInt(1)))
	_, ok = deltaFor(plan, "inv-marshmallow")
	assert.False(t, ok)

	dough, _ := deltaFor(plan, "inv-croffle-dough")
	assert.True(t, dough.Quantity.Equal(decimal.NewFromInt(2)))
	cream, _ := deltaFor(plan, "inv-whipped-cream")
	assert.True(t, cream.Quantity.Equal(decimal.NewFromInt(30)))

	skipped := map[string]string{}
	for _, s := range plan.Skipped {
		skipped[s.IngredientName] = s.Reason
	}
	assert.Equal(t, SkipNotSelected, skipped["Marshmallow"])
	assert.Equal(t, SkipNotSelected, skipped["Choco Flakes"])

	exec, err := NewExecutor(repo, quietLogger()).Execute(ctx, plan, "txn-1", "cashier-1")
	require.NoError(t, err)
	assert.Len(t, exec.Applied, len(plan.Deltas))
	assert.True(t, stockOf(t, repo, "inv-tiramisu").Equal(decimal.NewFromInt(59)))
	assert.True(t, stockOf(t, repo, "inv-peanut").Equal(decimal.NewFromInt(59)))
	assert.True(t, stockOf(t, repo, "inv-marshmallow").Equal(decimal.NewFromInt(60)))

	entries, err := repo.ListLedgerEntries(ctx, domain.LedgerFilter{TransactionID: "txn-1"})
	require.NoError(t, err)
	assert.Len(t, entries, len(plan.Deltas))
	movements, err := repo.ListStockMovements(ctx, "txn-1")
	require.NoError(t, err)
	assert.Len(t, movements, len(plan.Deltas))
}

func TestPlanAggregatesSharedItemsAcrossLines(t *testing.T) {
	plan, err := newPlanner(memory.NewSeeded()).Plan(context.Background(), "main-store", []domain.SaleLineItem{
		{ProductID: "prod-mini-croffle", Quantity: 1},
		{ProductID: "prod-croffle-overload", Quantity: 1, SelectionText: "Croffle Overload with Biscoff"},
	})
	require.NoError(t, err)

	dough, ok := deltaFor(plan, "inv-croffle-dough")
	require.True(t, ok)
	assert.True(t, dough.Quantity.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, "Mini Croffle, Croffle Overload", dough.RecipeName())
	assert.Equal(t, "inv-croffle-dough", plan.Deltas[0].InventoryItemID)

	biscoff, ok := deltaFor(plan, "inv-biscoff")
	require.True(t, ok)
	assert.True(t, biscoff.Quantity.Equal(decimal.NewFromInt(1)))
}

func TestPlanReportsUnresolvedAndUnbound(t *testing.T) {
	repo := memory.NewSeeded()
	ctx := context.Background()
	_, err := repo.CreateRecipe(ctx, domain.DeployedRecipe{
		ID: "rcp-toast", StoreID: "main-store", Name: "Toast", Active: true,
		Ingredients: []domain.RecipeIngredient{{
			TemplateIngredient: domain.TemplateIngredient{Name: "Bread", Quantity: decimal.NewFromInt(1), Unit: "pcs"},
		}},
	})
	require.NoError(t, err)
	_, err = repo.CreateProduct(ctx, domain.Product{ID: "prod-toast", StoreID: "main-store", Name: "Toast", RecipeID: "rcp-toast", Active: true})
	require.NoError(t, err)

	plan, err := newPlanner(repo).Plan(ctx, "main-store", []domain.SaleLineItem{
		{ProductID: "prod-affogato", Quantity: 1},
		{ProductID: "prod-toast", Quantity: 1},
	})
	require.NoError(t, err)

	require.Len(t, plan.Unresolved, 1)
	assert.Equal(t, domain.ReasonNoRecipe, plan.Unresolved[0].Reason)
	require.Len(t, plan.Unbound, 1)
	assert.Equal(t, "Bread", plan.Unbound[0].IngredientName)
	assert.Empty(t, plan.Deltas)
}

func TestExecuteClampsAtZero(t *testing.T) {
	repo := memory.NewSeeded()
	setStock(t, repo, "inv-peanut", "0.25")
	plan := domain.DeductionPlan{StoreID: "main-store", Deltas: []domain.PlannedDelta{{
		InventoryItemID: "inv-peanut", IngredientName: "Peanut", Quantity: decimal.NewFromInt(1), RecipeNames: []string{"Mini Croffle"}, Group: domain.ChoiceGroup(true),
	}}}

	exec, err := NewExecutor(repo, quietLogger()).Execute(context.Background(), plan, "txn-clamp", "cashier-1")
	require.NoError(t, err)

	assert.True(t, stockOf(t, repo, "inv-peanut").IsZero())
	assert.Equal(t, []string{"inv-peanut"}, exec.Clamped)
	assert.True(t, exec.Applied[0].Deducted().Equal(decimal.RequireFromString("0.25")))

	entries, err := repo.ListLedgerEntries(context.Background(), domain.LedgerFilter{TransactionID: "txn-clamp"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].QuantityDeducted.Equal(decimal.RequireFromString("0.25")))
	assert.Equal(t, "choice(optional)", entries[0].IngredientGroup)
}

func TestExecuteStrictRejectsShortfall(t *testing.T) {
	repo := memory.NewSeeded()
	setStock(t, repo, "inv-peanut", "0.25")
	plan := domain.DeductionPlan{StoreID: "main-store", Deltas: []domain.PlannedDelta{
		{InventoryItemID: "inv-tiramisu", IngredientName: "Tiramisu", Quantity: decimal.NewFromInt(1)},
		{InventoryItemID: "inv-peanut", IngredientName: "Peanut", Quantity: decimal.NewFromInt(1)},
	}}

	exec, err := NewExecutor(repo, quietLogger(), WithPolicy(PolicyStrict)).Execute(context.Background(), plan, "txn-strict", "cashier-1")

	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrInsufficientStock)
	var dedErr *domain.DeductionError
	require.ErrorAs(t, err, &dedErr)
	assert.Equal(t, "inv-peanut", dedErr.InventoryItemID)
	require.Len(t, exec.Applied, 1)
	assert.Equal(t, "inv-tiramisu", exec.Applied[0].InventoryItemID)
}

type failingLedger struct {
	*memory.Store
}

func (f failingLedger) AppendLedgerEntry(context.Context, domain.LedgerEntry) error {
	return errors.New("ledger table locked")
}

func TestExecuteSurfacesAuditWarningWithoutFailing(t *testing.T) {
	repo := memory.NewSeeded()
	plan := domain.DeductionPlan{StoreID: "main-store", Deltas: []domain.PlannedDelta{{
		InventoryItemID: "inv-cup", IngredientName: "Plastic Cup", Quantity: decimal.NewFromInt(1),
	}}}

	exec, err := NewExecutor(failingLedger{repo}, quietLogger()).Execute(context.Background(), plan, "txn-audit", "cashier-1")
	require.NoError(t, err)

	require.Len(t, exec.Warnings, 1)
	assert.Equal(t, "ledger", exec.Warnings[0].Record)
	assert.Equal(t, 0, exec.Ledger)
	assert.Equal(t, 1, exec.Movement)
	assert.True(t, stockOf(t, repo, "inv-cup").Equal(decimal.NewFromInt(299)))
}

func TestExecuteTwiceDeductsTwice(t *testing.T) {
	repo := memory.NewSeeded()
	plan := domain.DeductionPlan{StoreID: "main-store", Deltas: []domain.PlannedDelta{{
		InventoryItemID: "inv-lid", IngredientName: "Cup Lid", Quantity: decimal.NewFromInt(2),
	}}}
	exec := NewExecutor(repo, quietLogger())

	_, err := exec.Execute(context.Background(), plan, "txn-dup", "cashier-1")
	require.NoError(t, err)
	_, err = exec.Execute(context.Background(), plan, "txn-dup", "cashier-1")
	require.NoError(t, err)

	assert.True(t, stockOf(t, repo, "inv-lid").Equal(decimal.NewFromInt(296)))
}

type racingStore struct {
	*memory.Store
	races int
}

// CompareAndSetStock simulates another writer landing first.
func (r *racingStore) CompareAndSetStock(ctx context.Context, itemID string, expected, next decimal.Decimal) (*domain.InventoryStockItem, error) {
	if r.races > 0 {
		r.races--
		if _, err := r.Store.CompareAndSetStock(ctx, itemID, expected, expected.Sub(decimal.NewFromInt(1))); err != nil {
			return nil, err
		}
		return nil, store.ErrStaleWrite
	}
	return r.Store.CompareAndSetStock(ctx, itemID, expected, next)
}

func TestExecuteRetriesStaleWrites(t *testing.T) {
	repo := &racingStore{Store: memory.NewSeeded(), races: 1}
	plan := domain.DeductionPlan{StoreID: "main-store", Deltas: []domain.PlannedDelta{{
		InventoryItemID: "inv-cup", IngredientName: "Plastic Cup", Quantity: decimal.NewFromInt(5),
	}}}

	exec, err := NewExecutor(repo, quietLogger()).Execute(context.Background(), plan, "txn-race", "cashier-1")
	require.NoError(t, err)

	assert.True(t, exec.Applied[0].PreviousQuantity.Equal(decimal.NewFromInt(299)))
	assert.True(t, stockOf(t, repo.Store, "inv-cup").Equal(decimal.NewFromInt(294)))
}

func TestExecuteGivesUpAfterRepeatedConflicts(t *testing.T) {
	repo := &racingStore{Store: memory.NewSeeded(), races: 10}
	plan := domain.DeductionPlan{StoreID: "main-store", Deltas: []domain.PlannedDelta{{
		InventoryItemID: "inv-cup", IngredientName: "Plastic Cup", Quantity: decimal.NewFromInt(1),
	}}}

	_, err := NewExecutor(repo, quietLogger(), WithWriteAttempts(2)).Execute(context.Background(), plan, "txn-race", "cashier-1")

	assert.ErrorIs(t, err, store.ErrStaleWrite)
}

func TestRevertRestoresAppliedDeltas(t *testing.T) {
	repo := memory.NewSeeded()
	ctx := context.Background()
	exec := NewExecutor(repo, quietLogger())
	plan := domain.DeductionPlan{StoreID: "main-store", Deltas: []domain.PlannedDelta{
		{InventoryItemID: "inv-cup", IngredientName: "Plastic Cup", Quantity: decimal.NewFromInt(3)},
		{InventoryItemID: "inv-lid", IngredientName: "Cup Lid", Quantity: decimal.NewFromInt(3)},
	}}
	result, err := exec.Execute(ctx, plan, "txn-rb", "cashier-1")
	require.NoError(t, err)

	// Another sale takes a lid in between, so the lid restore must be additive.
	setStock(t, repo, "inv-lid", "296")

	reversal := exec.Revert(ctx, "main-store", result.Applied, "txn-rb", "cashier-1")

	assert.True(t, reversal.Report.Complete())
	assert.Equal(t, 2, reversal.Report.Restored)
	assert.True(t, stockOf(t, repo, "inv-cup").Equal(decimal.NewFromInt(300)))
	assert.True(t, stockOf(t, repo, "inv-lid").Equal(decimal.NewFromInt(299)))

	entries, err := repo.ListLedgerEntries(ctx, domain.LedgerFilter{TransactionID: "txn-rb"})
	require.NoError(t, err)
	rollbacks := 0
	for _, e := range entries {
		if e.Kind == domain.LedgerRollback {
			rollbacks++
		}
	}
	assert.Equal(t, 2, rollbacks)
}

func TestParsePolicy(t *testing.T) {
	assert.Equal(t, PolicyStrict, ParsePolicy("strict"))
	assert.Equal(t, PolicyClamp, ParsePolicy("clamp"))
	assert.Equal(t, PolicyClamp, ParsePolicy(""))
}
