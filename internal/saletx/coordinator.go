// Package saletx runs a sale through validation, deduction, side effects,
// audit and commit, and undoes the deduction when a later phase fails.
package saletx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"dapurstok/backend/internal/deduction"
	"dapurstok/backend/internal/domain"
	"dapurstok/backend/internal/events"
	"dapurstok/backend/internal/metrics"
	"dapurstok/backend/internal/store"
	"dapurstok/backend/internal/xid"
)

// WholeSaleLine marks a validation failure that belongs to the sale as a
// whole, such as several lines together overdrawing one item.
const WholeSaleLine = -1

var ErrIllegalTransition = errors.New("illegal transaction phase transition")

type Store interface {
	GetInventoryItem(ctx context.Context, itemID string) (*domain.InventoryStockItem, error)
	FindSaleRecord(ctx context.Context, transactionID string) (*domain.SaleRecord, error)
	CreateSaleRecord(ctx context.Context, record domain.SaleRecord) error
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListLedgerEntries(ctx context.Context, filter domain.LedgerFilter) ([]domain.LedgerEntry, error)
}

type LineValidator interface {
	ValidateLine(ctx context.Context, storeID string, index int, line domain.SaleLineItem) (domain.LineValidation, error)
}

type Planner interface {
	Plan(ctx context.Context, storeID string, lines []domain.SaleLineItem) (domain.DeductionPlan, error)
}

type Executor interface {
	Execute(ctx context.Context, plan domain.DeductionPlan, transactionID, actorID string) (deduction.Execution, error)
	Revert(ctx context.Context, storeID string, applied []domain.AppliedDelta, transactionID, actorID string) deduction.Reversal
}

type CacheInvalidator interface {
	Invalidate(ctx context.Context, storeID string)
}

type Deps struct {
	Store     Store
	Validator LineValidator
	Planner   Planner
	Executor  Executor
	Cache     CacheInvalidator
	Publisher events.Publisher
	Metrics   *metrics.Recorder
	Log       logrus.FieldLogger
}

type Coordinator struct {
	repo      Store
	validator LineValidator
	planner   Planner
	executor  Executor
	cache     CacheInvalidator
	publisher events.Publisher
	metrics   *metrics.Recorder
	now       func() time.Time
	log       logrus.FieldLogger

	mu       sync.Mutex
	inflight map[string]struct{}
}

func New(d Deps) *Coordinator {
	if d.Publisher == nil {
		d.Publisher = events.NoopPublisher{}
	}
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	return &Coordinator{
		repo:      d.Store,
		validator: d.Validator,
		planner:   d.Planner,
		executor:  d.Executor,
		cache:     d.Cache,
		publisher: d.Publisher,
		metrics:   d.Metrics,
		now:       time.Now,
		log:       d.Log.WithField("component", "saletx"),
		inflight:  make(map[string]struct{}),
	}
}

var transitions = map[domain.TransactionPhase][]domain.TransactionPhase{
	domain.PhasePreValidate: {domain.PhaseBegin},
	domain.PhaseBegin:       {domain.PhaseDeduct},
	domain.PhaseDeduct:      {domain.PhaseSideEffects, domain.PhaseRollback},
	domain.PhaseSideEffects: {domain.PhaseAudit, domain.PhaseRollback},
	domain.PhaseAudit:       {domain.PhaseCommit, domain.PhaseRollback},
	domain.PhaseCommit:      {domain.PhaseRollback},
}

func advance(tc *domain.TransactionContext, next domain.TransactionPhase) error {
	for _, allowed := range transitions[tc.Phase] {
		if allowed == next {
			tc.Phase = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, tc.Phase, next)
}

// ProcessSale returns a result in every case. The error is non-nil when the
// sale did not commit; the result says how far it got and whether stock was
// restored.
func (c *Coordinator) ProcessSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResult, error) {
	started := c.now()
	if req.TransactionID == "" {
		req.TransactionID = xid.New("txn")
	}
	tc := &domain.TransactionContext{
		ID:        req.TransactionID,
		StoreID:   req.StoreID,
		ActorID:   req.ActorID,
		Lines:     req.Lines,
		Phase:     domain.PhasePreValidate,
		StartedAt: started,
	}
	result := domain.SaleResult{
		TransactionID: tc.ID,
		StoreID:       tc.StoreID,
		Phase:         tc.Phase,
		Errors:        []string{},
		Effects: domain.SaleEffects{Inventory: domain.InventoryEffect{
			TotalQuantity: decimal.Zero,
			Applied:       []domain.AppliedDelta{},
			SkippedItems:  []domain.SkippedIngredient{},
		}},
	}
	log := c.log.WithFields(logrus.Fields{"transaction_id": tc.ID, "store_id": tc.StoreID})

	plan, err := c.preValidate(ctx, tc, &result)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		c.metrics.SaleProcessed("rejected", c.now().Sub(started).Seconds())
		return result, err
	}
	result.Effects.Inventory.SkippedItems = plan.Skipped

	if err := c.begin(ctx, tc); err != nil {
		result.Phase = tc.Phase
		result.Errors = append(result.Errors, err.Error())
		c.metrics.SaleProcessed("duplicate", c.now().Sub(started).Seconds())
		return result, err
	}
	defer c.release(tc.ID)

	mustAdvance(tc, domain.PhaseDeduct)
	result.Phase = tc.Phase
	exec, err := c.executor.Execute(ctx, plan, tc.ID, tc.ActorID)
	tc.Applied = exec.Applied
	c.recordExecution(&result, exec)
	if err != nil {
		log.WithError(err).Error("deduction failed, rolling back")
		return c.rollback(ctx, tc, &result, err, started)
	}

	mustAdvance(tc, domain.PhaseSideEffects)
	result.Phase = tc.Phase
	c.sideEffects(ctx, tc, &result, log)

	mustAdvance(tc, domain.PhaseAudit)
	result.Phase = tc.Phase
	c.audit(ctx, tc, &result, log)

	mustAdvance(tc, domain.PhaseCommit)
	result.Phase = tc.Phase
	record := domain.SaleRecord{
		TransactionID: tc.ID,
		StoreID:       tc.StoreID,
		ActorID:       tc.ActorID,
		Status:        domain.SaleStatusCommitted,
		LineCount:     len(tc.Lines),
		CommittedAt:   c.now().UTC(),
	}
	if err := c.repo.CreateSaleRecord(ctx, record); err != nil {
		log.WithError(err).Error("commit failed, rolling back")
		return c.rollback(ctx, tc, &result, fmt.Errorf("commit sale %s: %w", tc.ID, err), started)
	}

	result.Success = true
	c.metrics.SaleProcessed("committed", c.now().Sub(started).Seconds())
	log.WithFields(logrus.Fields{
		"items_deducted": result.Effects.Inventory.ItemsDeducted,
		"skipped":        len(result.Effects.Inventory.SkippedItems),
	}).Info("sale committed")
	return result, nil
}

// mustAdvance is only used for the forward steps of the happy path, which the
// transition table always allows.
func mustAdvance(tc *domain.TransactionContext, next domain.TransactionPhase) {
	if err := advance(tc, next); err != nil {
		panic(err)
	}
}

func (c *Coordinator) preValidate(ctx context.Context, tc *domain.TransactionContext, result *domain.SaleResult) (domain.DeductionPlan, error) {
	if tc.StoreID == "" || len(tc.Lines) == 0 {
		return domain.DeductionPlan{}, fmt.Errorf("%w: sale needs a store and at least one line", store.ErrInvalidInput)
	}

	var failures []domain.LineValidation
	for i, line := range tc.Lines {
		lv, err := c.validator.ValidateLine(ctx, tc.StoreID, i, line)
		if err != nil {
			return domain.DeductionPlan{}, fmt.Errorf("validate line %d: %w", i, err)
		}
		if !lv.OK() {
			failures = append(failures, lv)
		}
	}
	if len(failures) > 0 {
		result.ValidationFailures = failures
		return domain.DeductionPlan{}, &domain.ValidationError{Failures: failures}
	}

	plan, err := c.planner.Plan(ctx, tc.StoreID, tc.Lines)
	if err != nil {
		return plan, fmt.Errorf("plan sale: %w", err)
	}
	if len(plan.Unresolved) > 0 {
		result.Unresolved = plan.Unresolved
		for _, u := range plan.Unresolved {
			failures = append(failures, domain.LineValidation{LineIndex: u.LineIndex, ProductID: u.ProductID, Reasons: []string{u.Reason}})
		}
	}

	// Lines that each fit on their own can still overdraw a shared item together.
	var shortfalls []domain.IngredientShortfall
	for _, d := range plan.Deltas {
		item, err := c.repo.GetInventoryItem(ctx, d.InventoryItemID)
		if err != nil {
			return plan, fmt.Errorf("load inventory item %s: %w", d.InventoryItemID, err)
		}
		if item.StockQuantity.LessThan(d.Quantity) {
			shortfalls = append(shortfalls, domain.IngredientShortfall{
				InventoryItemID: d.InventoryItemID,
				IngredientName:  d.IngredientName,
				Unit:            item.Unit,
				Required:        d.Quantity,
				Available:       item.StockQuantity,
			})
		}
	}
	if len(shortfalls) > 0 {
		failures = append(failures, domain.LineValidation{
			LineIndex:    WholeSaleLine,
			Reasons:      []string{domain.ReasonInsufficientStock},
			Insufficient: shortfalls,
		})
	}
	if len(failures) > 0 {
		result.ValidationFailures = failures
		return plan, &domain.ValidationError{Failures: failures}
	}
	return plan, nil
}

func (c *Coordinator) begin(ctx context.Context, tc *domain.TransactionContext) error {
	if err := advance(tc, domain.PhaseBegin); err != nil {
		return err
	}

	c.mu.Lock()
	if _, busy := c.inflight[tc.ID]; busy {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s is in progress", store.ErrDuplicateTransaction, tc.ID)
	}
	c.inflight[tc.ID] = struct{}{}
	c.mu.Unlock()

	_, err := c.repo.FindSaleRecord(ctx, tc.ID)
	if err == nil {
		c.release(tc.ID)
		return fmt.Errorf("%w: %s", store.ErrDuplicateTransaction, tc.ID)
	}
	if !errors.Is(err, store.ErrNotFound) {
		c.release(tc.ID)
		return fmt.Errorf("check sale record %s: %w", tc.ID, err)
	}
	return nil
}

func (c *Coordinator) release(transactionID string) {
	c.mu.Lock()
	delete(c.inflight, transactionID)
	c.mu.Unlock()
}

func (c *Coordinator) recordExecution(result *domain.SaleResult, exec deduction.Execution) {
	inv := &result.Effects.Inventory
	inv.Applied = append(inv.Applied[:0], exec.Applied...)
	inv.ItemsDeducted = len(exec.Applied)
	inv.ClampedItemIDs = exec.Clamped
	total := decimal.Zero
	for _, a := range exec.Applied {
		total = total.Add(a.Deducted())
		c.metrics.IngredientDeducted(string(a.Group.Kind))
	}
	inv.TotalQuantity = total

	result.Effects.Audit.LedgerEntries = exec.Ledger
	result.Effects.Audit.MovementEntries = exec.Movement
	result.Effects.Audit.Warnings = len(exec.Warnings)
	for _, w := range exec.Warnings {
		result.Warnings = append(result.Warnings, w.Error())
	}
	for _, id := range exec.Clamped {
		result.Warnings = append(result.Warnings, fmt.Sprintf("stock for %s clamped at zero", id))
	}
	c.metrics.DeductionClamped(len(exec.Clamped))
	c.metrics.AuditWarnings(len(exec.Warnings))
}

func (c *Coordinator) sideEffects(ctx context.Context, tc *domain.TransactionContext, result *domain.SaleResult, log logrus.FieldLogger) {
	if c.cache != nil {
		c.cache.Invalidate(ctx, tc.StoreID)
	}
	err := c.publisher.Publish(ctx, events.Event{
		Type:          events.TypeSaleCommitted,
		StoreID:       tc.StoreID,
		TransactionID: tc.ID,
		ActorID:       tc.ActorID,
		ItemCount:     result.Effects.Inventory.ItemsDeducted,
		Quantity:      result.Effects.Inventory.TotalQuantity,
		Timestamp:     c.now().UTC(),
	})
	if err != nil {
		log.WithError(err).Warn("sale event publish failed")
		result.Warnings = append(result.Warnings, "event publish failed: "+err.Error())
		return
	}
	result.Effects.Events.Published = true
}

func (c *Coordinator) audit(ctx context.Context, tc *domain.TransactionContext, result *domain.SaleResult, log logrus.FieldLogger) {
	entry := domain.AuditLog{
		ID:         xid.New("audit"),
		StoreID:    tc.StoreID,
		ActorID:    tc.ActorID,
		Action:     "sale.processed",
		EntityType: "sale",
		EntityID:   tc.ID,
		Detail: fmt.Sprintf("lines=%d items=%d quantity=%s skipped=%d",
			len(tc.Lines), result.Effects.Inventory.ItemsDeducted, result.Effects.Inventory.TotalQuantity, len(result.Effects.Inventory.SkippedItems)),
		CreatedAt: c.now().UTC(),
	}
	if err := c.repo.CreateAuditLog(ctx, entry); err != nil {
		log.WithError(err).Warn("failed to write sale audit log")
		result.Warnings = append(result.Warnings, "audit log write failed: "+err.Error())
		result.Effects.Audit.Warnings++
		c.metrics.AuditWarnings(1)
	}
}

func (c *Coordinator) rollback(ctx context.Context, tc *domain.TransactionContext, result *domain.SaleResult, cause error, started time.Time) (domain.SaleResult, error) {
	if err := advance(tc, domain.PhaseRollback); err != nil {
		return *result, errors.Join(cause, err)
	}
	result.Phase = tc.Phase
	result.Errors = append(result.Errors, cause.Error())

	// Restoring stock must not be cut short by the caller going away.
	ctx = context.WithoutCancel(ctx)
	reversal := c.executor.Revert(ctx, tc.StoreID, tc.Applied, tc.ID, tc.ActorID)
	report := reversal.Report
	result.RolledBack = true
	result.Rollback = &report
	result.NeedsManualReconciliation = !report.Complete()
	for _, w := range reversal.Warnings {
		result.Warnings = append(result.Warnings, w.Error())
	}

	if c.cache != nil {
		c.cache.Invalidate(ctx, tc.StoreID)
	}
	if err := c.publisher.Publish(ctx, events.Event{
		Type:          events.TypeSaleRolledBack,
		StoreID:       tc.StoreID,
		TransactionID: tc.ID,
		ActorID:       tc.ActorID,
		ItemCount:     report.Restored,
		Timestamp:     c.now().UTC(),
	}); err != nil {
		c.log.WithError(err).WithField("transaction_id", tc.ID).Warn("rollback event publish failed")
	}

	c.metrics.Rollback(report.Complete())
	c.metrics.SaleProcessed("rolled_back", c.now().Sub(started).Seconds())
	fields := logrus.Fields{
		"transaction_id": tc.ID,
		"attempted":      report.Attempted,
		"restored":       report.Restored,
		"failed":         len(report.Failed),
	}
	if report.Complete() {
		c.log.WithFields(fields).Warn("sale aborted and stock restored")
	} else {
		c.log.WithFields(fields).Error("sale rollback incomplete, manual reconciliation needed")
	}
	return *result, cause
}

// EmergencyRollback is the last resort when no transaction context survives.
// It records what the ledger knows about the transaction and flags it for a
// person to reconcile. It does not touch stock.
func (c *Coordinator) EmergencyRollback(ctx context.Context, req domain.EmergencyRollbackRequest, actorID string) (domain.EmergencyRollbackResult, error) {
	if req.TransactionID == "" {
		return domain.EmergencyRollbackResult{}, fmt.Errorf("%w: transaction id is required", store.ErrInvalidInput)
	}
	result := domain.EmergencyRollbackResult{
		TransactionID:             req.TransactionID,
		Phase:                     domain.PhaseEmergencyRollback,
		NeedsManualReconciliation: true,
	}

	entries, err := c.repo.ListLedgerEntries(ctx, domain.LedgerFilter{StoreID: req.StoreID, TransactionID: req.TransactionID})
	if err != nil {
		c.log.WithError(err).WithField("transaction_id", req.TransactionID).Warn("could not read ledger during emergency rollback")
	}
	result.LedgerEntriesFound = len(entries)

	c.log.WithFields(logrus.Fields{
		"transaction_id": req.TransactionID,
		"store_id":       req.StoreID,
		"reason":         req.Reason,
		"ledger_entries": len(entries),
	}).Error("emergency rollback requested")

	err = c.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:         xid.New("audit"),
		StoreID:    req.StoreID,
		ActorID:    actorID,
		Action:     "sale.emergency_rollback",
		EntityType: "sale",
		EntityID:   req.TransactionID,
		Detail:     fmt.Sprintf("reason=%q ledger_entries=%d", req.Reason, len(entries)),
		CreatedAt:  c.now().UTC(),
	})
	if err != nil {
		c.log.WithError(err).WithField("transaction_id", req.TransactionID).Warn("failed to write emergency rollback audit log")
		return result, nil
	}
	result.Logged = true
	return result, nil
}
