package saletx

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dapurstok/backend/internal/availability"
	"dapurstok/backend/internal/cache"
	"dapurstok/backend/internal/categorize"
	"dapurstok/backend/internal/consumption"
	"dapurstok/backend/internal/deduction"
	"dapurstok/backend/internal/domain"
	"dapurstok/backend/internal/events"
	"dapurstok/backend/internal/rules"
	"dapurstok/backend/internal/selection"
	"dapurstok/backend/internal/store"
	"dapurstok/backend/internal/store/memory"
)

// faultyStore fails chosen writes on top of the memory store.
type faultyStore struct {
	*memory.Store
	failStockFor   string
	failRestoreFor string
	failCommit     bool
	failAudit      bool
}

func (f *faultyStore) CompareAndSetStock(ctx context.Context, itemID string, expected, next decimal.Decimal) (*domain.InventoryStockItem, error) {
	if itemID == f.failStockFor && next.LessThan(expected) {
		return nil, errors.New("disk full")
	}
	if itemID == f.failRestoreFor && next.GreaterThan(expected) {
		return nil, errors.New("replica read-only")
	}
	return f.Store.CompareAndSetStock(ctx, itemID, expected, next)
}

func (f *faultyStore) CreateSaleRecord(ctx context.Context, record domain.SaleRecord) error {
	if f.failCommit {
		return errors.New("connection reset")
	}
	return f.Store.CreateSaleRecord(ctx, record)
}

func (f *faultyStore) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if f.failAudit {
		return errors.New("audit table locked")
	}
	return f.Store.CreateAuditLog(ctx, entry)
}

type recordingPublisher struct {
	events []events.Event
}

func (r *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	r.events = append(r.events, e)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

type harness struct {
	repo      *faultyStore
	publisher *recordingPublisher
	coord     *Coordinator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	repo := &faultyStore{Store: memory.NewSeeded()}
	r := rules.Default()
	resolver := consumption.NewResolver(selection.NewParser(r, log), categorize.New(categorize.NewMetadataFirst(r, nil)))
	snaps := cache.NewSnapshots(cache.NoopInventoryCache{}, repo, time.Minute, log)
	pub := &recordingPublisher{}

	coord := New(Deps{
		Store:     repo,
		Validator: availability.New(repo, resolver, snaps, 0, log),
		Planner:   deduction.NewPlanner(repo, resolver, log),
		Executor:  deduction.NewExecutor(repo, log),
		Cache:     snaps,
		Publisher: pub,
		Log:       log,
	})
	return &harness{repo: repo, publisher: pub, coord: coord}
}

func (h *harness) stock(t *testing.T, itemID string) decimal.Decimal {
	t.Helper()
	item, err := h.repo.GetInventoryItem(context.Background(), itemID)
	require.NoError(t, err)
	return item.StockQuantity
}

func latteSale(txn string) domain.SaleRequest {
	return domain.SaleRequest{
		TransactionID: txn,
		StoreID:       "main-store",
		ActorID:       "cashier-1",
		Lines:         []domain.SaleLineItem{{ProductID: "prod-iced-latte", Quantity: 2}},
	}
}

func TestProcessSaleCommits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	result, err := h.coord.ProcessSale(ctx, domain.SaleRequest{
		TransactionID: "txn-ok",
		StoreID:       "main-store",
		ActorID:       "cashier-1",
		Lines: []domain.SaleLineItem{{
			ProductID: "prod-mini-croffle", Quantity: 2, SelectionText: "Mini Croffle with Tiramisu and Peanut",
		}},
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, domain.PhaseCommit, result.Phase)
	assert.Equal(t, 5, result.Effects.Inventory.ItemsDeducted)
	assert.Len(t, result.Effects.Inventory.SkippedItems, 2)
	assert.Equal(t, 5, result.Effects.Audit.LedgerEntries)
	assert.True(t, result.Effects.Events.Published)
	require.Len(t, h.publisher.events, 1)
	assert.Equal(t, events.TypeSaleCommitted, h.publisher.events[0].Type)

	assert.True(t, h.stock(t, "inv-tiramisu").Equal(decimal.NewFromInt(59)))
	record, err := h.repo.FindSaleRecord(ctx, "txn-ok")
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusCommitted, record.Status)
}

func TestFailureOnSecondItemRollsBackFirst(t *testing.T) {
	h := newHarness(t)
	// Milk is deducted first, coffee second.
	h.repo.failStockFor = "inv-coffee"

	result, err := h.coord.ProcessSale(context.Background(), latteSale("txn-fail"))

	require.Error(t, err)
	var dedErr *domain.DeductionError
	assert.ErrorAs(t, err, &dedErr)
	assert.False(t, result.Success)
	assert.True(t, result.RolledBack)
	assert.Equal(t, domain.PhaseRollback, result.Phase)
	require.NotNil(t, result.Rollback)
	assert.Equal(t, 1, result.Rollback.Attempted)
	assert.Equal(t, 1, result.Rollback.Restored)
	assert.False(t, result.NeedsManualReconciliation)

	assert.True(t, h.stock(t, "inv-milk").Equal(decimal.NewFromInt(24)))
	assert.True(t, h.stock(t, "inv-coffee").Equal(decimal.NewFromInt(5)))

	_, err = h.repo.FindSaleRecord(context.Background(), "txn-fail")
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.Len(t, h.publisher.events, 1)
	assert.Equal(t, events.TypeSaleRolledBack, h.publisher.events[0].Type)
}

func TestCommitFailureRollsBackEverything(t *testing.T) {
	h := newHarness(t)
	h.repo.failCommit = true

	result, err := h.coord.ProcessSale(context.Background(), latteSale("txn-commit"))

	require.Error(t, err)
	assert.True(t, result.RolledBack)
	assert.Equal(t, 4, result.Rollback.Restored)
	assert.True(t, h.stock(t, "inv-cup").Equal(decimal.NewFromInt(300)))
	assert.True(t, h.stock(t, "inv-milk").Equal(decimal.NewFromInt(24)))
}

func TestRollbackKeepsGoingPastAFailedRestore(t *testing.T) {
	h := newHarness(t)
	h.repo.failCommit = true
	h.repo.failRestoreFor = "inv-milk"
	cupBefore := h.stock(t, "inv-cup")
	coffeeBefore := h.stock(t, "inv-coffee")
	milkBefore := h.stock(t, "inv-milk")

	result, err := h.coord.ProcessSale(context.Background(), latteSale("txn-partial"))

	require.Error(t, err)
	assert.True(t, result.RolledBack)
	require.NotNil(t, result.Rollback)
	assert.Equal(t, 4, result.Rollback.Attempted)
	assert.Equal(t, 3, result.Rollback.Restored)
	require.Len(t, result.Rollback.Failed, 1)
	assert.Equal(t, "inv-milk", result.Rollback.Failed[0].InventoryItemID)
	assert.True(t, result.NeedsManualReconciliation)

	assert.True(t, h.stock(t, "inv-cup").Equal(cupBefore))
	assert.True(t, h.stock(t, "inv-coffee").Equal(coffeeBefore))
	assert.True(t, h.stock(t, "inv-milk").LessThan(milkBefore))
}

func TestValidationFailureMutatesNothing(t *testing.T) {
	h := newHarness(t)

	result, err := h.coord.ProcessSale(context.Background(), domain.SaleRequest{
		TransactionID: "txn-bad",
		StoreID:       "main-store",
		Lines: []domain.SaleLineItem{
			{ProductID: "prod-iced-latte", Quantity: 1},
			{ProductID: "prod-affogato", Quantity: 1},
		},
	})

	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, domain.PhasePreValidate, result.Phase)
	require.Len(t, result.ValidationFailures, 1)
	assert.Equal(t, 1, result.ValidationFailures[0].LineIndex)
	assert.Contains(t, result.ValidationFailures[0].Reasons, domain.ReasonNoRecipe)
	assert.True(t, h.stock(t, "inv-milk").Equal(decimal.NewFromInt(24)))
	assert.Empty(t, h.publisher.events)
}

func TestAggregatedShortfallIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.repo.CompareAndSetStock(ctx, "inv-croffle-dough", h.stock(t, "inv-croffle-dough"), decimal.NewFromInt(3))
	require.NoError(t, err)

	result, err := h.coord.ProcessSale(ctx, domain.SaleRequest{
		TransactionID: "txn-shared",
		StoreID:       "main-store",
		Lines: []domain.SaleLineItem{
			{ProductID: "prod-croffle-overload", Quantity: 1},
			{ProductID: "prod-mini-croffle", Quantity: 2},
		},
	})

	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Len(t, result.ValidationFailures, 1)
	assert.Equal(t, WholeSaleLine, result.ValidationFailures[0].LineIndex)
	assert.Equal(t, "inv-croffle-dough", result.ValidationFailures[0].Insufficient[0].InventoryItemID)
	assert.True(t, h.stock(t, "inv-croffle-dough").Equal(decimal.NewFromInt(3)))
}

func TestReplayedTransactionIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.coord.ProcessSale(ctx, latteSale("txn-dup"))
	require.NoError(t, err)
	result, err := h.coord.ProcessSale(ctx, latteSale("txn-dup"))

	assert.ErrorIs(t, err, store.ErrDuplicateTransaction)
	assert.Equal(t, domain.PhaseBegin, result.Phase)
	assert.True(t, h.stock(t, "inv-cup").Equal(decimal.NewFromInt(298)))
}

func TestAuditFailureIsOnlyAWarning(t *testing.T) {
	h := newHarness(t)
	h.repo.failAudit = true

	result, err := h.coord.ProcessSale(context.Background(), latteSale("txn-audit"))

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Effects.Audit.Warnings)
	assert.NotEmpty(t, result.Warnings)
}

func TestEmergencyRollbackFlagsManualReconciliation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.coord.ProcessSale(ctx, latteSale("txn-emg"))
	require.NoError(t, err)

	result, err := h.coord.EmergencyRollback(ctx, domain.EmergencyRollbackRequest{
		TransactionID: "txn-emg", StoreID: "main-store", Reason: "terminal crashed mid-sale",
	}, "manager-1")
	require.NoError(t, err)

	assert.Equal(t, domain.PhaseEmergencyRollback, result.Phase)
	assert.True(t, result.NeedsManualReconciliation)
	assert.True(t, result.Logged)
	assert.Equal(t, 4, result.LedgerEntriesFound)

	logs, err := h.repo.ListAuditLogs(ctx, "main-store", time.Time{}, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	found := false
	for _, l := range logs {
		if l.Action == "sale.emergency_rollback" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestIllegalTransitionIsAnError(t *testing.T) {
	tc := &domain.TransactionContext{Phase: domain.PhasePreValidate}

	assert.ErrorIs(t, advance(tc, domain.PhaseCommit), ErrIllegalTransition)
	assert.ErrorIs(t, advance(tc, domain.PhaseRollback), ErrIllegalTransition)
	require.NoError(t, advance(tc, domain.PhaseBegin))
	assert.Equal(t, domain.PhaseBegin, tc.Phase)
}
