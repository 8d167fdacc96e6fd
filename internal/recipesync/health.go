package recipesync

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"dapurstok/backend/internal/domain"
	"dapurstok/backend/internal/events"
	"dapurstok/backend/internal/store"
	"dapurstok/backend/internal/xid"
)

const healthActor = "system:health-check"

// RunHealthCheckAndRepair finds and repairs template drift, recipes bound to
// missing inventory rows and negative stock. An empty storeID covers every
// store that has an active recipe.
func (e *Engine) RunHealthCheckAndRepair(ctx context.Context, storeID string) (domain.HealthReport, error) {
	runID := xid.New("health")
	report := domain.HealthReport{
		StoreID:    storeID,
		Categories: map[string]domain.HealthCategory{},
		StartedAt:  e.now().UTC(),
	}
	log := e.log.WithFields(logrus.Fields{"run_id": runID, "store_id": storeID})

	drifted, err := e.DetectDrift(ctx, storeID)
	if err != nil {
		return report, err
	}
	repair := e.RepairDrift(ctx, drifted)
	report.Categories[domain.HealthTemplateDrift] = domain.HealthCategory{
		Detected: len(drifted),
		Repaired: repair.Repaired,
		Failed:   repair.Failed,
	}

	// Scanned after drift repair so recipes fixed above are not counted twice.
	unbound, stores, err := e.findUnbound(ctx, storeID)
	if err != nil {
		return report, err
	}
	rebind := e.RepairDrift(ctx, unbound)
	report.Categories[domain.HealthUnboundIngredients] = domain.HealthCategory{
		Detected: len(unbound),
		Repaired: rebind.Repaired,
		Failed:   rebind.Failed,
	}

	if storeID != "" {
		stores = []string{storeID}
	}
	negative, err := e.repairNegativeStock(ctx, runID, stores)
	if err != nil {
		return report, err
	}
	report.Categories[domain.HealthNegativeStock] = negative

	report.FinishedAt = e.now().UTC()
	for name, cat := range report.Categories {
		e.metrics.HealthDetected(name, cat.Detected)
	}
	if err := e.publisher.Publish(ctx, events.Event{
		Type:      events.TypeHealthCompleted,
		StoreID:   storeID,
		EntityID:  runID,
		ItemCount: len(drifted) + len(unbound) + negative.Detected,
		Timestamp: report.FinishedAt,
	}); err != nil {
		log.WithError(err).Warn("health event publish failed")
	}
	if err := e.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:         xid.New("audit"),
		StoreID:    storeID,
		ActorID:    healthActor,
		Action:     "health.check_and_repair",
		EntityType: "health_run",
		EntityID:   runID,
		Detail:     summarize(report),
		CreatedAt:  report.FinishedAt,
	}); err != nil {
		log.WithError(err).Warn("failed to write health check audit log")
	}
	log.WithField("summary", summarize(report)).Info("health check finished")
	return report, nil
}

func summarize(r domain.HealthReport) string {
	out := ""
	for _, name := range []string{domain.HealthTemplateDrift, domain.HealthUnboundIngredients, domain.HealthNegativeStock} {
		c := r.Categories[name]
		out += fmt.Sprintf("%s=%d/%d/%d ", name, c.Detected, c.Repaired, c.Failed)
	}
	return out[:len(out)-1]
}

// findUnbound returns active recipes with an ingredient that has no inventory
// row, plus every store seen during the scan.
func (e *Engine) findUnbound(ctx context.Context, storeID string) ([]domain.DriftedRecipe, []string, error) {
	var (
		unbound []domain.DriftedRecipe
		stores  []string
		seen    = map[string]bool{}
		exists  = map[string]bool{}
	)
	for offset := 0; ; offset += e.pageSize {
		page, err := e.repo.ListActiveRecipes(ctx, storeID, offset, e.pageSize)
		if err != nil {
			return nil, nil, fmt.Errorf("list active recipes: %w", err)
		}
		for _, recipe := range page {
			if !seen[recipe.StoreID] {
				seen[recipe.StoreID] = true
				stores = append(stores, recipe.StoreID)
			}
			for _, ing := range recipe.Ingredients {
				ok, err := e.itemExists(ctx, ing.InventoryItemID, exists)
				if err != nil {
					return nil, nil, err
				}
				if !ok {
					unbound = append(unbound, domain.DriftedRecipe{
						RecipeID:   recipe.ID,
						TemplateID: recipe.TemplateID,
						StoreID:    recipe.StoreID,
						Reason:     "unbound:" + ing.Name,
					})
					break
				}
			}
		}
		if len(page) < e.pageSize {
			break
		}
	}
	return unbound, stores, nil
}

func (e *Engine) itemExists(ctx context.Context, itemID string, known map[string]bool) (bool, error) {
	if itemID == "" {
		return false, nil
	}
	if ok, cached := known[itemID]; cached {
		return ok, nil
	}
	item, err := e.repo.GetInventoryItem(ctx, itemID)
	if errors.Is(err, store.ErrNotFound) {
		known[itemID] = false
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load inventory item %s: %w", itemID, err)
	}
	known[itemID] = item.Active
	return item.Active, nil
}

// repairNegativeStock floors negative rows at zero and journals the
// adjustment like any other stock change.
func (e *Engine) repairNegativeStock(ctx context.Context, runID string, stores []string) (domain.HealthCategory, error) {
	var cat domain.HealthCategory
	for _, storeID := range stores {
		items, err := e.repo.ListInventoryItems(ctx, storeID)
		if err != nil {
			return cat, fmt.Errorf("list inventory for %s: %w", storeID, err)
		}
		touched := false
		for _, item := range items {
			if !item.StockQuantity.IsNegative() {
				continue
			}
			cat.Detected++
			if err := e.zeroStock(ctx, runID, item); err != nil {
				cat.Failed++
				e.log.WithError(err).WithFields(logrus.Fields{
					"store_id":          storeID,
					"inventory_item_id": item.ID,
				}).Warn("negative stock repair failed")
				continue
			}
			cat.Repaired++
			touched = true
		}
		if touched && e.cache != nil {
			e.cache.Invalidate(ctx, storeID)
		}
	}
	return cat, nil
}

func (e *Engine) zeroStock(ctx context.Context, runID string, item domain.InventoryStockItem) error {
	if _, err := e.repo.CompareAndSetStock(ctx, item.ID, item.StockQuantity, decimal.Zero); err != nil {
		return err
	}
	at := e.now().UTC()
	added := item.StockQuantity.Neg()
	entry := domain.LedgerEntry{
		ID:               xid.New("ledger"),
		Kind:             domain.LedgerRepair,
		TransactionID:    runID,
		StoreID:          item.StoreID,
		InventoryItemID:  item.ID,
		IngredientName:   item.ItemName,
		QuantityDeducted: added.Neg(),
		PreviousQuantity: item.StockQuantity,
		NewQuantity:      decimal.Zero,
		ActorID:          healthActor,
		Timestamp:        at,
	}
	if err := e.repo.AppendLedgerEntry(ctx, entry); err != nil {
		e.log.WithError(err).WithField("inventory_item_id", item.ID).Warn(domain.AuditWriteWarning{
			TransactionID: runID, InventoryItemID: item.ID, Record: "ledger", Err: err,
		}.Error())
	}
	if err := e.repo.AppendStockMovement(ctx, domain.StockMovement{
		ID:               xid.New("mv"),
		StoreID:          item.StoreID,
		InventoryItemID:  item.ID,
		MovementType:     domain.MovementRepair,
		Quantity:         added,
		PreviousQuantity: item.StockQuantity,
		NewQuantity:      decimal.Zero,
		ReferenceID:      runID,
		CreatedBy:        healthActor,
		Notes:            "negative stock floored at zero",
		CreatedAt:        at,
	}); err != nil {
		e.log.WithError(err).WithField("inventory_item_id", item.ID).Warn(domain.AuditWriteWarning{
			TransactionID: runID, InventoryItemID: item.ID, Record: "movement", Err: err,
		}.Error())
	}
	return nil
}
