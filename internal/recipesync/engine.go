// Package recipesync keeps deployed recipes in step with their central
// templates and repairs what drifts.
package recipesync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"dapurstok/backend/internal/domain"
	"dapurstok/backend/internal/events"
	"dapurstok/backend/internal/matcher"
	"dapurstok/backend/internal/metrics"
	"dapurstok/backend/internal/rules"
	"dapurstok/backend/internal/store"
	"dapurstok/backend/internal/xid"
)

const (
	defaultPageSize    = 50
	defaultConcurrency = 4
)

type Store interface {
	GetTemplate(ctx context.Context, templateID string) (*domain.RecipeTemplate, error)
	GetRecipe(ctx context.Context, recipeID string) (*domain.DeployedRecipe, error)
	CreateRecipe(ctx context.Context, recipe domain.DeployedRecipe) (*domain.DeployedRecipe, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	ListActiveRecipesByTemplate(ctx context.Context, templateID string) ([]domain.DeployedRecipe, error)
	ListActiveRecipes(ctx context.Context, storeID string, offset int, limit int) ([]domain.DeployedRecipe, error)
	ReplaceRecipeIngredients(ctx context.Context, recipeID string, ingredients []domain.RecipeIngredient, cost decimal.Decimal, at time.Time) error
	GetInventoryItem(ctx context.Context, itemID string) (*domain.InventoryStockItem, error)
	ListInventoryItems(ctx context.Context, storeID string) ([]domain.InventoryStockItem, error)
	CompareAndSetStock(ctx context.Context, itemID string, expected decimal.Decimal, next decimal.Decimal) (*domain.InventoryStockItem, error)
	AppendLedgerEntry(ctx context.Context, entry domain.LedgerEntry) error
	AppendStockMovement(ctx context.Context, movement domain.StockMovement) error
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
}

type CacheInvalidator interface {
	Invalidate(ctx context.Context, storeID string)
}

type Deps struct {
	Store       Store
	Provisioner *matcher.Provisioner
	Cache       CacheInvalidator
	Publisher   events.Publisher
	Metrics     *metrics.Recorder
	Log         logrus.FieldLogger
	PageSize    int
	Concurrency int
}

type Engine struct {
	repo        Store
	provisioner *matcher.Provisioner
	cache       CacheInvalidator
	publisher   events.Publisher
	metrics     *metrics.Recorder
	log         logrus.FieldLogger
	pageSize    int
	concurrency int
	now         func() time.Time
}

func New(d Deps) *Engine {
	if d.Publisher == nil {
		d.Publisher = events.NoopPublisher{}
	}
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	if d.PageSize < 1 {
		d.PageSize = defaultPageSize
	}
	if d.Concurrency < 1 {
		d.Concurrency = defaultConcurrency
	}
	return &Engine{
		repo:        d.Store,
		provisioner: d.Provisioner,
		cache:       d.Cache,
		publisher:   d.Publisher,
		metrics:     d.Metrics,
		log:         d.Log.WithField("component", "recipesync"),
		pageSize:    d.PageSize,
		concurrency: d.Concurrency,
		now:         time.Now,
	}
}

// inventories lazily loads one shared snapshot per store for a run.
type inventories struct {
	mu          sync.Mutex
	provisioner *matcher.Provisioner
	byStore     map[string]*matcher.StoreInventory
	provisioned map[string]int
}

func (e *Engine) newInventories() *inventories {
	return &inventories{
		provisioner: e.provisioner,
		byStore:     make(map[string]*matcher.StoreInventory),
		provisioned: make(map[string]int),
	}
}

func (s *inventories) get(ctx context.Context, storeID string) (*matcher.StoreInventory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inv, ok := s.byStore[storeID]; ok {
		return inv, nil
	}
	inv, err := s.provisioner.Load(ctx, storeID)
	if err != nil {
		return nil, err
	}
	s.byStore[storeID] = inv
	return inv, nil
}

func (s *inventories) markProvisioned(storeID string, n int) {
	if n == 0 {
		return
	}
	s.mu.Lock()
	s.provisioned[storeID] += n
	s.mu.Unlock()
}

// bind resolves every template ingredient against the store. Nothing is
// written to the recipe unless all of them resolve.
func (e *Engine) bind(ctx context.Context, inv *matcher.StoreInventory, tpl domain.RecipeTemplate) ([]domain.RecipeIngredient, decimal.Decimal, int, error) {
	ingredients := make([]domain.RecipeIngredient, 0, len(tpl.Ingredients))
	cost := decimal.Zero
	provisioned := 0
	for _, ti := range tpl.Ingredients {
		b, err := e.provisioner.Resolve(ctx, inv, ti)
		if err != nil {
			return nil, decimal.Zero, provisioned, fmt.Errorf("bind %q: %w", ti.Name, err)
		}
		if b.Provisioned {
			provisioned++
		}
		ingredients = append(ingredients, b.Ingredient)
		cost = cost.Add(lineCost(b))
	}
	return ingredients, cost.Round(2), provisioned, nil
}

// lineCost prefers current inventory pricing over the template's stored cost.
func lineCost(b matcher.Binding) decimal.Decimal {
	if b.Item.UnitCost.IsPositive() {
		return b.Item.UnitCost.Mul(b.Ingredient.InventoryQuantity(b.Ingredient.Quantity))
	}
	return b.Ingredient.Cost
}

func (e *Engine) syncRecipe(ctx context.Context, tpl domain.RecipeTemplate, recipe domain.DeployedRecipe, invs *inventories) error {
	inv, err := invs.get(ctx, recipe.StoreID)
	if err != nil {
		return &domain.SyncError{RecipeID: recipe.ID, Err: err}
	}
	ingredients, cost, provisioned, err := e.bind(ctx, inv, tpl)
	invs.markProvisioned(recipe.StoreID, provisioned)
	if err != nil {
		return &domain.SyncError{RecipeID: recipe.ID, Err: err}
	}
	if err := e.repo.ReplaceRecipeIngredients(ctx, recipe.ID, ingredients, cost, e.now().UTC()); err != nil {
		return &domain.SyncError{RecipeID: recipe.ID, Err: err}
	}
	return nil
}

// SyncTemplateToAllRecipes replaces the ingredients of every active recipe
// deployed from templateID. One recipe failing does not stop the others.
func (e *Engine) SyncTemplateToAllRecipes(ctx context.Context, templateID string) (domain.SyncResult, error) {
	result := domain.SyncResult{TemplateID: templateID, Failures: []domain.SyncFailure{}}
	tpl, err := e.repo.GetTemplate(ctx, templateID)
	if err != nil {
		return result, fmt.Errorf("load template %s: %w", templateID, err)
	}
	recipes, err := e.repo.ListActiveRecipesByTemplate(ctx, templateID)
	if err != nil {
		return result, fmt.Errorf("list recipes for template %s: %w", templateID, err)
	}
	result.RecipesTotal = len(recipes)

	invs := e.newInventories()
	for _, recipe := range recipes {
		if err := e.syncRecipe(ctx, *tpl, recipe, invs); err != nil {
			e.log.WithError(err).WithFields(logrus.Fields{
				"template_id": templateID,
				"recipe_id":   recipe.ID,
			}).Warn("recipe sync failed")
			result.Failures = append(result.Failures, domain.SyncFailure{RecipeID: recipe.ID, StoreID: recipe.StoreID, Error: err.Error()})
			continue
		}
		result.RecipesSynced++
	}
	result.Provisioned = e.afterRun(ctx, invs)

	e.metrics.RecipesSynced(result.RecipesSynced, len(result.Failures))
	if err := e.publisher.Publish(ctx, events.Event{
		Type:      events.TypeTemplateSynced,
		EntityID:  templateID,
		ItemCount: result.RecipesSynced,
		Timestamp: e.now().UTC(),
	}); err != nil {
		e.log.WithError(err).WithField("template_id", templateID).Warn("template sync event publish failed")
	}
	e.log.WithFields(logrus.Fields{
		"template_id": templateID,
		"total":       result.RecipesTotal,
		"synced":      result.RecipesSynced,
		"failed":      len(result.Failures),
		"provisioned": result.Provisioned,
	}).Info("template synced to recipes")
	return result, nil
}

// afterRun drops cached inventory for stores that gained rows and returns
// how many rows were provisioned.
func (e *Engine) afterRun(ctx context.Context, invs *inventories) int {
	total := 0
	for storeID, n := range invs.provisioned {
		total += n
		if e.cache != nil {
			e.cache.Invalidate(ctx, storeID)
		}
	}
	return total
}

// DetectDrift pages through active recipes and reports those behind their
// template, either by timestamp or by ingredient content. An empty storeID
// scans every store.
func (e *Engine) DetectDrift(ctx context.Context, storeID string) ([]domain.DriftedRecipe, error) {
	drifted := []domain.DriftedRecipe{}
	templates := make(map[string]*domain.RecipeTemplate)

	for offset := 0; ; offset += e.pageSize {
		page, err := e.repo.ListActiveRecipes(ctx, storeID, offset, e.pageSize)
		if err != nil {
			return drifted, fmt.Errorf("list active recipes: %w", err)
		}
		for _, recipe := range page {
			if recipe.TemplateID == "" {
				continue
			}
			tpl, ok := templates[recipe.TemplateID]
			if !ok {
				tpl, err = e.repo.GetTemplate(ctx, recipe.TemplateID)
				if errors.Is(err, store.ErrNotFound) {
					tpl = nil
				} else if err != nil {
					return drifted, fmt.Errorf("load template %s: %w", recipe.TemplateID, err)
				}
				templates[recipe.TemplateID] = tpl
			}
			if tpl == nil {
				continue
			}
			if reason, ok := driftReason(*tpl, recipe); ok {
				drifted = append(drifted, domain.DriftedRecipe{
					RecipeID:   recipe.ID,
					TemplateID: recipe.TemplateID,
					StoreID:    recipe.StoreID,
					Reason:     reason,
				})
			}
		}
		if len(page) < e.pageSize {
			break
		}
	}
	return drifted, nil
}

func driftReason(tpl domain.RecipeTemplate, recipe domain.DeployedRecipe) (string, bool) {
	if tpl.UpdatedAt.After(recipe.UpdatedAt) {
		return domain.DriftTimestamp, true
	}
	if len(tpl.Ingredients) != len(recipe.Ingredients) {
		return domain.DriftStructural, true
	}
	for i, ti := range tpl.Ingredients {
		ri := recipe.Ingredients[i]
		if rules.Normalize(ti.Name) != rules.Normalize(ri.Name) ||
			!ti.Quantity.Equal(ri.Quantity) ||
			rules.Normalize(ti.Unit) != rules.Normalize(ri.Unit) {
			return domain.DriftStructural, true
		}
	}
	return "", false
}

// RepairDrift resyncs each drifted recipe independently with bounded
// concurrency and counts the outcome.
func (e *Engine) RepairDrift(ctx context.Context, drifted []domain.DriftedRecipe) domain.RepairResult {
	var (
		mu     sync.Mutex
		result = domain.RepairResult{Attempted: len(drifted), Failures: []domain.SyncFailure{}}
	)
	invs := e.newInventories()
	templates := newTemplateCache(e.repo)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, d := range drifted {
		d := d
		g.Go(func() error {
			err := e.repairOne(gctx, d.RecipeID, templates, invs)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				result.Failures = append(result.Failures, domain.SyncFailure{RecipeID: d.RecipeID, StoreID: d.StoreID, Error: err.Error()})
				return nil
			}
			result.Repaired++
			return nil
		})
	}
	_ = g.Wait()
	e.afterRun(ctx, invs)
	e.metrics.RecipesSynced(result.Repaired, result.Failed)
	return result
}

func (e *Engine) repairOne(ctx context.Context, recipeID string, templates *templateCache, invs *inventories) error {
	recipe, err := e.repo.GetRecipe(ctx, recipeID)
	if err != nil {
		return &domain.SyncError{RecipeID: recipeID, Err: err}
	}
	if recipe.TemplateID == "" {
		return &domain.SyncError{RecipeID: recipeID, Err: errors.New("recipe has no template")}
	}
	tpl, err := templates.get(ctx, recipe.TemplateID)
	if err != nil {
		return &domain.SyncError{RecipeID: recipeID, Err: err}
	}
	return e.syncRecipe(ctx, *tpl, *recipe, invs)
}

type templateCache struct {
	mu    sync.Mutex
	repo  Store
	cache map[string]*domain.RecipeTemplate
}

func newTemplateCache(repo Store) *templateCache {
	return &templateCache{repo: repo, cache: make(map[string]*domain.RecipeTemplate)}
}

func (c *templateCache) get(ctx context.Context, templateID string) (*domain.RecipeTemplate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tpl, ok := c.cache[templateID]; ok {
		return tpl, nil
	}
	tpl, err := c.repo.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("load template %s: %w", templateID, err)
	}
	c.cache[templateID] = tpl
	return tpl, nil
}

// Deploy creates a store recipe from a template together with the product
// that sells it. The template and the store inventory load concurrently.
func (e *Engine) Deploy(ctx context.Context, req domain.DeployRequest) (domain.DeployResponse, error) {
	if strings.TrimSpace(req.TemplateID) == "" || strings.TrimSpace(req.StoreID) == "" {
		return domain.DeployResponse{}, fmt.Errorf("%w: template and store are required", store.ErrInvalidInput)
	}

	var (
		tpl *domain.RecipeTemplate
		inv *matcher.StoreInventory
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tpl, err = e.repo.GetTemplate(gctx, req.TemplateID)
		if err != nil {
			return fmt.Errorf("load template %s: %w", req.TemplateID, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		inv, err = e.provisioner.Load(gctx, req.StoreID)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.DeployResponse{}, err
	}
	if !tpl.Active {
		return domain.DeployResponse{}, fmt.Errorf("%w: template %s is inactive", store.ErrInvalidInput, tpl.ID)
	}

	ingredients, cost, provisioned, err := e.bind(ctx, inv, *tpl)
	if provisioned > 0 && e.cache != nil {
		e.cache.Invalidate(ctx, req.StoreID)
	}
	if err != nil {
		return domain.DeployResponse{}, err
	}

	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		productID = xid.New("prod")
	}
	name := strings.TrimSpace(req.ProductName)
	if name == "" {
		name = tpl.Name
	}

	// Product first: a rejected product must not leave an active recipe behind.
	recipeID := xid.New("rcp")
	product, err := e.repo.CreateProduct(ctx, domain.Product{
		ID:       productID,
		StoreID:  req.StoreID,
		Name:     name,
		Category: tpl.Category,
		RecipeID: recipeID,
		Active:   true,
	})
	if err != nil {
		return domain.DeployResponse{}, fmt.Errorf("create product: %w", err)
	}
	recipe, err := e.repo.CreateRecipe(ctx, domain.DeployedRecipe{
		ID:           recipeID,
		TemplateID:   tpl.ID,
		StoreID:      req.StoreID,
		ProductID:    product.ID,
		Name:         tpl.Name,
		Active:       true,
		Ingredients:  ingredients,
		CostSnapshot: cost,
		UpdatedAt:    e.now().UTC(),
	})
	if err != nil {
		return domain.DeployResponse{}, fmt.Errorf("create recipe: %w", err)
	}

	e.log.WithFields(logrus.Fields{
		"template_id": tpl.ID,
		"store_id":    req.StoreID,
		"recipe_id":   recipe.ID,
		"provisioned": provisioned,
	}).Info("template deployed")
	return domain.DeployResponse{Recipe: *recipe, Product: *product}, nil
}
