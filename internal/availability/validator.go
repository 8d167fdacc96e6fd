// Package availability answers whether products can be sold from current
// store stock and how many units the stock supports.
package availability

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"dapurstok/backend/internal/consumption"
	"dapurstok/backend/internal/domain"
	"dapurstok/backend/internal/store"
)

const defaultChunkSize = 10

type Store interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
	ListProducts(ctx context.Context, storeID string) ([]domain.Product, error)
	GetRecipe(ctx context.Context, recipeID string) (*domain.DeployedRecipe, error)
	GetInventoryItem(ctx context.Context, itemID string) (*domain.InventoryStockItem, error)
}

type InventorySnapshots interface {
	Load(ctx context.Context, storeID string) ([]domain.InventoryStockItem, error)
}

// stockLookup returns nil without error when the item does not exist.
type stockLookup func(ctx context.Context, itemID string) (*domain.InventoryStockItem, error)

type Validator struct {
	repo      Store
	resolver  *consumption.Resolver
	snapshots InventorySnapshots
	chunkSize int
	now       func() time.Time
	log       logrus.FieldLogger
}

func New(repo Store, resolver *consumption.Resolver, snapshots InventorySnapshots, chunkSize int, log logrus.FieldLogger) *Validator {
	if chunkSize < 1 {
		chunkSize = defaultChunkSize
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Validator{
		repo:      repo,
		resolver:  resolver,
		snapshots: snapshots,
		chunkSize: chunkSize,
		now:       time.Now,
		log:       log.WithField("component", "availability"),
	}
}

// ValidateProduct checks one product against stock read straight from the
// store. It never mutates anything, so repeated calls agree while stock is unchanged.
func (v *Validator) ValidateProduct(ctx context.Context, productID string) (domain.ProductAvailability, error) {
	product, err := v.repo.GetProduct(ctx, productID)
	if errors.Is(err, store.ErrNotFound) {
		avail := emptyAvailability(domain.Product{ID: productID})
		avail.Reasons = append(avail.Reasons, domain.ReasonProductNotFound)
		return avail, nil
	}
	if err != nil {
		return domain.ProductAvailability{}, fmt.Errorf("load product %s: %w", productID, err)
	}
	return v.evaluate(ctx, *product, v.fresh)
}

// ValidateLine checks a sale line, counting the selected choice ingredients
// and the requested quantity.
func (v *Validator) ValidateLine(ctx context.Context, storeID string, index int, line domain.SaleLineItem) (domain.LineValidation, error) {
	result := domain.LineValidation{LineIndex: index, ProductID: line.ProductID, Requested: line.Quantity, Reasons: []string{}}
	if line.Quantity < 1 {
		result.Reasons = append(result.Reasons, domain.ReasonInvalidQuantity)
		return result, nil
	}

	product, err := v.repo.GetProduct(ctx, line.ProductID)
	if errors.Is(err, store.ErrNotFound) {
		result.Reasons = append(result.Reasons, domain.ReasonProductNotFound)
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("load product %s: %w", line.ProductID, err)
	}
	if product.StoreID != storeID {
		result.Reasons = append(result.Reasons, domain.ReasonStoreMismatch)
		return result, nil
	}
	if !product.Active {
		result.Reasons = append(result.Reasons, domain.ReasonProductInactive)
		return result, nil
	}

	recipe, err := v.activeRecipe(ctx, *product)
	if err != nil {
		return result, err
	}
	if recipe == nil {
		result.Reasons = append(result.Reasons, domain.ReasonNoRecipe)
		return result, nil
	}

	displayName := line.SelectionText
	if displayName == "" {
		displayName = product.Name
	}
	use := v.resolver.Resolve(*recipe, displayName)
	a, err := assess(ctx, use.Required, line.Quantity, v.fresh)
	if err != nil {
		return result, err
	}
	result.MaxSellable = a.maxSellable
	result.Missing = a.missing
	result.Insufficient = a.insufficient
	if len(a.missing) > 0 {
		result.Reasons = append(result.Reasons, domain.ReasonMissingIngredient)
	}
	if len(a.insufficient) > 0 {
		result.Reasons = append(result.Reasons, domain.ReasonInsufficientStock)
	}
	if line.Quantity > a.maxSellable {
		result.Reasons = append(result.Reasons, domain.ReasonExceedsMaxSellable)
	}
	return result, nil
}

// ValidateBatch validates productIDs, or every product of the store when
// productIDs is empty. Products are processed in fixed-size chunks, each chunk
// concurrently, against one cached inventory snapshot.
func (v *Validator) ValidateBatch(ctx context.Context, storeID string, productIDs []string) (domain.AvailabilityReport, error) {
	report := domain.AvailabilityReport{StoreID: storeID, Products: []domain.ProductAvailability{}, CheckedAt: v.now().UTC()}

	items, err := v.snapshots.Load(ctx, storeID)
	if err != nil {
		return report, fmt.Errorf("load inventory for %s: %w", storeID, err)
	}
	byID := make(map[string]domain.InventoryStockItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	lookup := func(_ context.Context, itemID string) (*domain.InventoryStockItem, error) {
		item, ok := byID[itemID]
		if !ok {
			return nil, nil
		}
		return &item, nil
	}

	var targets []*domain.Product
	if len(productIDs) == 0 {
		products, err := v.repo.ListProducts(ctx, storeID)
		if err != nil {
			return report, fmt.Errorf("list products for %s: %w", storeID, err)
		}
		for i := range products {
			targets = append(targets, &products[i])
		}
	} else {
		targets = make([]*domain.Product, len(productIDs))
	}

	results := make([]domain.ProductAvailability, len(targets))
	for start := 0; start < len(targets); start += v.chunkSize {
		end := min(start+v.chunkSize, len(targets))
		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				product := targets[i]
				if product == nil {
					loaded, err := v.repo.GetProduct(gctx, productIDs[i])
					if errors.Is(err, store.ErrNotFound) {
						avail := emptyAvailability(domain.Product{ID: productIDs[i], StoreID: storeID})
						avail.Reasons = append(avail.Reasons, domain.ReasonProductNotFound)
						results[i] = avail
						return nil
					}
					if err != nil {
						return fmt.Errorf("load product %s: %w", productIDs[i], err)
					}
					product = loaded
				}
				if product.StoreID != storeID {
					avail := emptyAvailability(*product)
					avail.Reasons = append(avail.Reasons, domain.ReasonStoreMismatch)
					results[i] = avail
					return nil
				}
				avail, err := v.evaluate(gctx, *product, lookup)
				if err != nil {
					return err
				}
				results[i] = avail
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return report, err
		}
	}

	report.Products = results
	report.Breakdown = Breakdown(results)
	v.log.WithFields(logrus.Fields{
		"store_id": storeID,
		"products": len(results),
		"sellable": report.Breakdown.Sellable,
	}).Debug("availability batch validated")
	return report, nil
}

// Breakdown counts every failure reason a product carries, so one product can
// count under several reasons.
func Breakdown(products []domain.ProductAvailability) domain.AvailabilityBreakdown {
	var b domain.AvailabilityBreakdown
	for _, p := range products {
		if p.CanSell {
			b.Sellable++
		}
		for _, reason := range p.Reasons {
			switch reason {
			case domain.ReasonNoRecipe:
				b.NoRecipe++
			case domain.ReasonMissingIngredient:
				b.MissingIngredient++
			case domain.ReasonInsufficientStock:
				b.InsufficientStock++
			}
		}
	}
	return b
}

func (v *Validator) evaluate(ctx context.Context, product domain.Product, lookup stockLookup) (domain.ProductAvailability, error) {
	avail := emptyAvailability(product)
	if !product.Active {
		avail.Reasons = append(avail.Reasons, domain.ReasonProductInactive)
		return avail, nil
	}

	recipe, err := v.activeRecipe(ctx, product)
	if err != nil {
		return avail, err
	}
	if recipe == nil {
		avail.Reasons = append(avail.Reasons, domain.ReasonNoRecipe)
		return avail, nil
	}
	avail.HasRecipe = true
	avail.RecipeID = recipe.ID

	use := v.resolver.Resolve(*recipe, product.Name)
	a, err := assess(ctx, use.Required, 1, lookup)
	if err != nil {
		return avail, err
	}
	avail.MaxSellable = a.maxSellable
	avail.Missing = a.missing
	avail.Insufficient = a.insufficient
	if len(a.missing) > 0 {
		avail.Reasons = append(avail.Reasons, domain.ReasonMissingIngredient)
	}
	if len(a.insufficient) > 0 {
		avail.Reasons = append(avail.Reasons, domain.ReasonInsufficientStock)
	}
	avail.CanSell = len(a.missing) == 0 && len(a.insufficient) == 0 && a.maxSellable > 0
	return avail, nil
}

// activeRecipe returns nil when the product has no usable recipe.
func (v *Validator) activeRecipe(ctx context.Context, product domain.Product) (*domain.DeployedRecipe, error) {
	if product.RecipeID == "" {
		return nil, nil
	}
	recipe, err := v.repo.GetRecipe(ctx, product.RecipeID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load recipe %s: %w", product.RecipeID, err)
	}
	if !recipe.Active {
		return nil, nil
	}
	return recipe, nil
}

func (v *Validator) fresh(ctx context.Context, itemID string) (*domain.InventoryStockItem, error) {
	item, err := v.repo.GetInventoryItem(ctx, itemID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load inventory item %s: %w", itemID, err)
	}
	return item, nil
}

type assessment struct {
	maxSellable  int
	missing      []domain.IngredientShortfall
	insufficient []domain.IngredientShortfall
}

// assess sizes stock against per-unit requirements. Requirements bound to the
// same inventory item are summed before dividing.
func assess(ctx context.Context, reqs []consumption.Requirement, qty int, lookup stockLookup) (assessment, error) {
	a := assessment{maxSellable: -1, missing: []domain.IngredientShortfall{}, insufficient: []domain.IngredientShortfall{}}
	lineQty := decimal.NewFromInt(int64(qty))

	type need struct {
		name    string
		unit    string
		perUnit decimal.Decimal
	}
	var order []string
	needs := make(map[string]*need)
	for _, req := range reqs {
		if !req.PerUnit.IsPositive() {
			continue
		}
		if req.Ingredient.InventoryItemID == "" {
			a.missing = append(a.missing, domain.IngredientShortfall{
				IngredientName: req.Ingredient.Name,
				Unit:           req.Ingredient.Unit,
				Required:       req.PerUnit.Mul(lineQty),
				Available:      decimal.Zero,
			})
			continue
		}
		n, ok := needs[req.Ingredient.InventoryItemID]
		if !ok {
			n = &need{name: req.Ingredient.Name, unit: req.Ingredient.Unit}
			needs[req.Ingredient.InventoryItemID] = n
			order = append(order, req.Ingredient.InventoryItemID)
		}
		n.perUnit = n.perUnit.Add(req.PerUnit)
	}

	for _, itemID := range order {
		n := needs[itemID]
		item, err := lookup(ctx, itemID)
		if err != nil {
			return a, err
		}
		required := n.perUnit.Mul(lineQty)
		if item == nil || !item.Active {
			a.missing = append(a.missing, domain.IngredientShortfall{
				InventoryItemID: itemID,
				IngredientName:  n.name,
				Unit:            n.unit,
				Required:        required,
				Available:       decimal.Zero,
			})
			continue
		}
		if fits := unitsFrom(item.StockQuantity, n.perUnit); a.maxSellable < 0 || fits < a.maxSellable {
			a.maxSellable = fits
		}
		if item.StockQuantity.LessThan(required) {
			a.insufficient = append(a.insufficient, domain.IngredientShortfall{
				InventoryItemID: itemID,
				IngredientName:  n.name,
				Unit:            item.Unit,
				Required:        required,
				Available:       item.StockQuantity,
			})
		}
	}

	switch {
	case len(a.missing) > 0:
		a.maxSellable = 0
	case a.maxSellable < 0:
		// Nothing bound to stock limits this recipe.
		a.maxSellable = domain.UnboundedMaxSellable
	}
	return a, nil
}

func unitsFrom(stock, perUnit decimal.Decimal) int {
	if !stock.IsPositive() {
		return 0
	}
	units := stock.Div(perUnit).Floor()
	if units.GreaterThan(decimal.NewFromInt(math.MaxInt32)) {
		return math.MaxInt32
	}
	return int(units.IntPart())
}

func emptyAvailability(product domain.Product) domain.ProductAvailability {
	return domain.ProductAvailability{
		ProductID:    product.ID,
		ProductName:  product.Name,
		StoreID:      product.StoreID,
		Missing:      []domain.IngredientShortfall{},
		Insufficient: []domain.IngredientShortfall{},
		Reasons:      []string{},
	}
}
