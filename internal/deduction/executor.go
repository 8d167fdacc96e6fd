package deduction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"dapurstok/backend/internal/domain"
	"dapurstok/backend/internal/store"
	"dapurstok/backend/internal/xid"
)

type Policy string

const (
	// PolicyClamp floors stock at zero and reports the shortfall.
	PolicyClamp Policy = "clamp"
	// PolicyStrict refuses a delta that would take stock below zero.
	PolicyStrict Policy = "strict"
)

func ParsePolicy(raw string) Policy {
	if Policy(raw) == PolicyStrict {
		return PolicyStrict
	}
	return PolicyClamp
}

const defaultWriteAttempts = 3

type ExecStore interface {
	GetInventoryItem(ctx context.Context, itemID string) (*domain.InventoryStockItem, error)
	CompareAndSetStock(ctx context.Context, itemID string, expected decimal.Decimal, next decimal.Decimal) (*domain.InventoryStockItem, error)
	AppendLedgerEntry(ctx context.Context, entry domain.LedgerEntry) error
	AppendStockMovement(ctx context.Context, movement domain.StockMovement) error
}

type Execution struct {
	Applied  []domain.AppliedDelta
	Clamped  []string
	Ledger   int
	Movement int
	Warnings []domain.AuditWriteWarning
}

type Reversal struct {
	Report   domain.RollbackReport
	Warnings []domain.AuditWriteWarning
}

// Executor applies a plan to stock. It does not deduplicate: running the same
// plan twice deducts twice.
type Executor struct {
	repo     ExecStore
	journal  store.JournaledInventory
	policy   Policy
	attempts int
	now      func() time.Time
	log      logrus.FieldLogger
}

type ExecutorOption func(*Executor)

func WithPolicy(p Policy) ExecutorOption {
	return func(e *Executor) { e.policy = p }
}

func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

func WithWriteAttempts(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.attempts = n
		}
	}
}

func NewExecutor(repo ExecStore, log logrus.FieldLogger, opts ...ExecutorOption) *Executor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	e := &Executor{
		repo:     repo,
		policy:   PolicyClamp,
		attempts: defaultWriteAttempts,
		now:      time.Now,
		log:      log.WithField("component", "deduction"),
	}
	if j, ok := repo.(store.JournaledInventory); ok {
		e.journal = j
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Policy() Policy { return e.policy }

// Execute applies every delta in order. On failure the returned Execution
// still lists what was applied so the caller can roll it back.
func (e *Executor) Execute(ctx context.Context, plan domain.DeductionPlan, transactionID, actorID string) (Execution, error) {
	var exec Execution
	for _, delta := range plan.Deltas {
		applied, clamped, warnings, err := e.deduct(ctx, plan.StoreID, delta, transactionID, actorID)
		if err != nil {
			return exec, err
		}
		exec.Applied = append(exec.Applied, applied)
		if clamped {
			exec.Clamped = append(exec.Clamped, delta.InventoryItemID)
		}
		exec.Ledger++
		exec.Movement++
		for _, w := range warnings {
			if w.Record == "ledger" {
				exec.Ledger--
			} else {
				exec.Movement--
			}
		}
		exec.Warnings = append(exec.Warnings, warnings...)
	}
	return exec, nil
}

func (e *Executor) deduct(ctx context.Context, storeID string, delta domain.PlannedDelta, transactionID, actorID string) (domain.AppliedDelta, bool, []domain.AuditWriteWarning, error) {
	for attempt := 0; attempt < e.attempts; attempt++ {
		item, err := e.repo.GetInventoryItem(ctx, delta.InventoryItemID)
		if err != nil {
			return domain.AppliedDelta{}, false, nil, &domain.DeductionError{InventoryItemID: delta.InventoryItemID, Err: err}
		}

		previous := item.StockQuantity
		next := previous.Sub(delta.Quantity)
		clamped := false
		if next.IsNegative() {
			if e.policy == PolicyStrict {
				return domain.AppliedDelta{}, false, nil, &domain.DeductionError{
					InventoryItemID: delta.InventoryItemID,
					Err:             fmt.Errorf("%w: need %s, have %s", store.ErrInsufficientStock, delta.Quantity, previous),
				}
			}
			next = decimal.Zero
			clamped = true
		}

		applied := domain.AppliedDelta{
			InventoryItemID:  delta.InventoryItemID,
			IngredientName:   delta.IngredientName,
			RecipeName:       delta.RecipeName(),
			Group:            delta.Group,
			Requested:        delta.Quantity,
			PreviousQuantity: previous,
			NewQuantity:      next,
		}
		at := e.now().UTC()
		ledger := domain.LedgerEntry{
			ID:               xid.New("ledger"),
			Kind:             domain.LedgerDeduction,
			TransactionID:    transactionID,
			StoreID:          storeID,
			InventoryItemID:  delta.InventoryItemID,
			IngredientName:   delta.IngredientName,
			QuantityDeducted: applied.Deducted(),
			PreviousQuantity: previous,
			NewQuantity:      next,
			RecipeName:       applied.RecipeName,
			IngredientGroup:  delta.Group.String(),
			ActorID:          actorID,
			Timestamp:        at,
		}
		movement := domain.StockMovement{
			ID:               xid.New("mv"),
			StoreID:          storeID,
			InventoryItemID:  delta.InventoryItemID,
			MovementType:     domain.MovementSaleDeduction,
			Quantity:         applied.Deducted().Neg(),
			PreviousQuantity: previous,
			NewQuantity:      next,
			ReferenceID:      transactionID,
			CreatedBy:        actorID,
			CreatedAt:        at,
		}
		if clamped {
			movement.Notes = fmt.Sprintf("clamped: requested %s, had %s", delta.Quantity, previous)
			e.log.WithFields(logrus.Fields{
				"transaction_id":    transactionID,
				"inventory_item_id": delta.InventoryItemID,
				"requested":         delta.Quantity.String(),
				"available":         previous.String(),
			}).Warn("deduction clamped at zero stock")
		}

		warnings, err := e.write(ctx, previous, next, ledger, movement)
		if errors.Is(err, store.ErrStaleWrite) {
			continue
		}
		if err != nil {
			return domain.AppliedDelta{}, false, nil, &domain.DeductionError{InventoryItemID: delta.InventoryItemID, Err: err}
		}
		return applied, clamped, warnings, nil
	}
	return domain.AppliedDelta{}, false, nil, &domain.DeductionError{
		InventoryItemID: delta.InventoryItemID,
		Err:             fmt.Errorf("gave up after %d attempts: %w", e.attempts, store.ErrStaleWrite),
	}
}

// write commits the stock change. With a journaled store the audit rows go
// in the same unit; otherwise they follow best-effort.
func (e *Executor) write(ctx context.Context, expected, next decimal.Decimal, ledger domain.LedgerEntry, movement domain.StockMovement) ([]domain.AuditWriteWarning, error) {
	if e.journal != nil {
		_, err := e.journal.ApplyStockChange(ctx, store.StockChange{
			ItemID:   ledger.InventoryItemID,
			Expected: expected,
			Next:     next,
			Ledger:   ledger,
			Movement: movement,
		})
		return nil, err
	}

	if _, err := e.repo.CompareAndSetStock(ctx, ledger.InventoryItemID, expected, next); err != nil {
		return nil, err
	}

	var warnings []domain.AuditWriteWarning
	if err := e.repo.AppendLedgerEntry(ctx, ledger); err != nil {
		warnings = append(warnings, e.auditWarning(ledger, "ledger", err))
	}
	if err := e.repo.AppendStockMovement(ctx, movement); err != nil {
		warnings = append(warnings, e.auditWarning(ledger, "movement", err))
	}
	return warnings, nil
}

func (e *Executor) auditWarning(ledger domain.LedgerEntry, record string, err error) domain.AuditWriteWarning {
	w := domain.AuditWriteWarning{
		TransactionID:   ledger.TransactionID,
		InventoryItemID: ledger.InventoryItemID,
		Record:          record,
		Err:             err,
	}
	e.log.WithError(err).WithFields(logrus.Fields{
		"transaction_id":    ledger.TransactionID,
		"inventory_item_id": ledger.InventoryItemID,
		"record":            record,
	}).Warn("audit write failed after stock update")
	return w
}

// Revert puts back what each applied delta took. Every delta is attempted
// independently. When the row has moved on since the deduction the amount is
// added back instead of restoring the old quantity.
func (e *Executor) Revert(ctx context.Context, storeID string, applied []domain.AppliedDelta, transactionID, actorID string) Reversal {
	var out Reversal
	for i := len(applied) - 1; i >= 0; i-- {
		a := applied[i]
		out.Report.Attempted++
		warnings, err := e.restore(ctx, storeID, a, transactionID, actorID)
		if err != nil {
			out.Report.Failed = append(out.Report.Failed, domain.RollbackFailure{InventoryItemID: a.InventoryItemID, Error: err.Error()})
			e.log.WithError(err).WithFields(logrus.Fields{
				"transaction_id":    transactionID,
				"inventory_item_id": a.InventoryItemID,
			}).Error("rollback of deduction failed")
			continue
		}
		out.Report.Restored++
		out.Warnings = append(out.Warnings, warnings...)
	}
	return out
}

func (e *Executor) restore(ctx context.Context, storeID string, a domain.AppliedDelta, transactionID, actorID string) ([]domain.AuditWriteWarning, error) {
	amount := a.Deducted()
	if amount.IsZero() {
		return nil, nil
	}
	var lastErr error
	for attempt := 0; attempt < e.attempts; attempt++ {
		item, err := e.repo.GetInventoryItem(ctx, a.InventoryItemID)
		if err != nil {
			return nil, err
		}
		current := item.StockQuantity
		next := current.Add(amount)
		if current.Equal(a.NewQuantity) {
			next = a.PreviousQuantity
		}

		at := e.now().UTC()
		ledger := domain.LedgerEntry{
			ID:               xid.New("ledger"),
			Kind:             domain.LedgerRollback,
			TransactionID:    transactionID,
			StoreID:          storeID,
			InventoryItemID:  a.InventoryItemID,
			IngredientName:   a.IngredientName,
			QuantityDeducted: amount.Neg(),
			PreviousQuantity: current,
			NewQuantity:      next,
			RecipeName:       a.RecipeName,
			IngredientGroup:  a.Group.String(),
			ActorID:          actorID,
			Timestamp:        at,
		}
		movement := domain.StockMovement{
			ID:               xid.New("mv"),
			StoreID:          storeID,
			InventoryItemID:  a.InventoryItemID,
			MovementType:     domain.MovementSaleRollback,
			Quantity:         amount,
			PreviousQuantity: current,
			NewQuantity:      next,
			ReferenceID:      transactionID,
			CreatedBy:        actorID,
			Notes:            "sale rolled back",
			CreatedAt:        at,
		}

		warnings, err := e.write(ctx, current, next, ledger, movement)
		if errors.Is(err, store.ErrStaleWrite) {
			lastErr = err
			continue
		}
		return warnings, err
	}
	return nil, fmt.Errorf("gave up after %d attempts: %w", e.attempts, lastErr)
}
