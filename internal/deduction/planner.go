// Package deduction plans and applies the stock changes a sale causes.
package deduction

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"dapurstok/backend/internal/consumption"
	"dapurstok/backend/internal/domain"
	"dapurstok/backend/internal/store"
)

const SkipNotSelected = "not_selected"

type PlanStore interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
	GetRecipe(ctx context.Context, recipeID string) (*domain.DeployedRecipe, error)
	GetInventoryItem(ctx context.Context, itemID string) (*domain.InventoryStockItem, error)
}

// Planner turns sale lines into one aggregated delta per inventory item.
type Planner struct {
	repo     PlanStore
	resolver *consumption.Resolver
	log      logrus.FieldLogger
}

func NewPlanner(repo PlanStore, resolver *consumption.Resolver, log logrus.FieldLogger) *Planner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Planner{repo: repo, resolver: resolver, log: log.WithField("component", "deduction")}
}

// Plan never fails on a bad line: lines without a recipe land in Unresolved
// and ingredients without an inventory row land in Unbound. Errors are
// storage failures only.
func (p *Planner) Plan(ctx context.Context, storeID string, lines []domain.SaleLineItem) (domain.DeductionPlan, error) {
	plan := domain.DeductionPlan{
		StoreID:    storeID,
		Deltas:     []domain.PlannedDelta{},
		Skipped:    []domain.SkippedIngredient{},
		Unresolved: []domain.UnresolvedLine{},
		Unbound:    []domain.UnboundIngredient{},
	}
	index := make(map[string]int)
	units := make(map[string]string)

	for i, line := range lines {
		product, recipe, reason, err := p.resolveLine(ctx, storeID, line)
		if err != nil {
			return plan, err
		}
		if reason != "" {
			plan.Unresolved = append(plan.Unresolved, domain.UnresolvedLine{LineIndex: i, ProductID: line.ProductID, Reason: reason})
			continue
		}

		displayName := line.SelectionText
		if displayName == "" {
			displayName = product.Name
		}
		use := p.resolver.Resolve(*recipe, displayName)
		lineQty := decimal.NewFromInt(int64(line.Quantity))

		for _, req := range use.Unselected {
			plan.Skipped = append(plan.Skipped, domain.SkippedIngredient{
				LineIndex:       i,
				ProductID:       line.ProductID,
				IngredientName:  req.Ingredient.Name,
				InventoryItemID: req.Ingredient.InventoryItemID,
				Reason:          SkipNotSelected,
			})
		}

		for _, req := range use.Required {
			if !req.PerUnit.IsPositive() {
				continue
			}
			itemID := req.Ingredient.InventoryItemID
			unit, known := units[itemID]
			if itemID != "" && !known {
				item, err := p.repo.GetInventoryItem(ctx, itemID)
				switch {
				case errors.Is(err, store.ErrNotFound):
					itemID = ""
				case err != nil:
					return plan, fmt.Errorf("load inventory item %s: %w", itemID, err)
				default:
					unit = item.Unit
					units[itemID] = unit
				}
			}
			if itemID == "" {
				plan.Unbound = append(plan.Unbound, domain.UnboundIngredient{
					LineIndex:      i,
					ProductID:      line.ProductID,
					RecipeName:     recipe.Name,
					IngredientName: req.Ingredient.Name,
				})
				continue
			}

			qty := req.PerUnit.Mul(lineQty)
			if at, ok := index[itemID]; ok {
				d := &plan.Deltas[at]
				d.Quantity = d.Quantity.Add(qty)
				if !slices.Contains(d.RecipeNames, recipe.Name) {
					d.RecipeNames = append(d.RecipeNames, recipe.Name)
				}
				continue
			}
			index[itemID] = len(plan.Deltas)
			plan.Deltas = append(plan.Deltas, domain.PlannedDelta{
				InventoryItemID: itemID,
				IngredientName:  req.Ingredient.Name,
				Unit:            unit,
				Quantity:        qty,
				RecipeNames:     []string{recipe.Name},
				Group:           req.Group,
			})
		}
	}

	if len(plan.Unbound) > 0 {
		p.log.WithFields(logrus.Fields{"store_id": storeID, "unbound": len(plan.Unbound)}).Warn("sale references ingredients with no inventory row")
	}
	return plan, nil
}

func (p *Planner) resolveLine(ctx context.Context, storeID string, line domain.SaleLineItem) (*domain.Product, *domain.DeployedRecipe, string, error) {
	if line.Quantity < 1 {
		return nil, nil, domain.ReasonInvalidQuantity, nil
	}
	product, err := p.repo.GetProduct(ctx, line.ProductID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, domain.ReasonProductNotFound, nil
	}
	if err != nil {
		return nil, nil, "", fmt.Errorf("load product %s: %w", line.ProductID, err)
	}
	if product.StoreID != storeID {
		return nil, nil, domain.ReasonStoreMismatch, nil
	}
	if product.RecipeID == "" {
		return product, nil, domain.ReasonNoRecipe, nil
	}
	recipe, err := p.repo.GetRecipe(ctx, product.RecipeID)
	if errors.Is(err, store.ErrNotFound) {
		return product, nil, domain.ReasonNoRecipe, nil
	}
	if err != nil {
		return nil, nil, "", fmt.Errorf("load recipe %s: %w", product.RecipeID, err)
	}
	if !recipe.Active {
		return product, nil, domain.ReasonNoRecipe, nil
	}
	return product, recipe, "", nil
}
