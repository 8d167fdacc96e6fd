package recipesync

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dapurstok/backend/internal/cache"
	"dapurstok/backend/internal/domain"
	"dapurstok/backend/internal/matcher"
	"dapurstok/backend/internal/rules"
	"dapurstok/backend/internal/store/memory"
)

type engineStore interface {
	Store
	matcher.ProvisionStore
}

func newEngine(repo engineStore) *Engine {
	log := logrus.New()
	log.SetOutput(io.Discard)
	prov := matcher.NewProvisioner(matcher.New(rules.Default()), repo, log)
	return New(Deps{Store: repo, Provisioner: prov, Log: log, PageSize: 2})
}

// tickingClock advances one second per reading so stamps never collide.
type tickingClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *tickingClock {
	return &tickingClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *tickingClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func addItem(t *testing.T, repo *memory.Store, id, storeID, name, unit, qty string) {
	t.Helper()
	_, err := repo.CreateInventoryItem(context.Background(), domain.InventoryStockItem{
		ID: id, StoreID: storeID, ItemName: name, Unit: unit, StockQuantity: dec(qty), Active: true,
	})
	require.NoError(t, err)
}

// simpleLatte is a two-ingredient template deployed to store-b.
func simpleLatte(t *testing.T, repo *memory.Store, e *Engine) (domain.RecipeTemplate, domain.DeployedRecipe) {
	t.Helper()
	ctx := context.Background()
	tpl, err := repo.CreateTemplate(ctx, domain.RecipeTemplate{
		ID: "tpl-simple-latte", Name: "Iced Latte", Category: "beverage", Active: true,
		Ingredients: []domain.TemplateIngredient{
			{Name: "Milk", Quantity: dec("150"), Unit: "ml", Cost: dec("2700")},
			{Name: "Coffee Beans", Quantity: dec("18"), Unit: "g", Cost: dec("4320")},
		},
	})
	require.NoError(t, err)
	addItem(t, repo, "b-milk", "store-b", "Milk", "l", "10")
	addItem(t, repo, "b-coffee", "store-b", "Coffee Beans", "kg", "2")

	deployed, err := e.Deploy(ctx, domain.DeployRequest{TemplateID: tpl.ID, StoreID: "store-b", ProductID: "b-latte"})
	require.NoError(t, err)
	require.Len(t, deployed.Recipe.Ingredients, 2)
	assert.Equal(t, deployed.Recipe.ID, deployed.Product.RecipeID)
	return *tpl, deployed.Recipe
}

func TestSyncAddsTemplateIngredientAndProvisionsIt(t *testing.T) {
	clock := newClock()
	repo := memory.NewSeeded(memory.WithClock(clock.now))
	e := newEngine(repo)
	e.now = clock.now
	ctx := context.Background()
	tpl, recipe := simpleLatte(t, repo, e)

	tpl.Ingredients = append(tpl.Ingredients, domain.TemplateIngredient{Name: "Syrup", Quantity: dec("10"), Unit: "ml", Cost: dec("600")})
	_, err := repo.UpdateTemplate(ctx, tpl)
	require.NoError(t, err)

	drifted, err := e.DetectDrift(ctx, "store-b")
	require.NoError(t, err)
	require.Len(t, drifted, 1)
	assert.Equal(t, domain.DriftTimestamp, drifted[0].Reason)

	result, err := e.SyncTemplateToAllRecipes(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RecipesTotal)
	assert.Equal(t, 1, result.RecipesSynced)
	assert.Equal(t, 1, result.Provisioned)
	assert.Empty(t, result.Failures)

	synced, err := repo.GetRecipe(ctx, recipe.ID)
	require.NoError(t, err)
	require.Len(t, synced.Ingredients, 3)
	syrup := synced.Ingredients[2]
	assert.Equal(t, "Syrup", syrup.Name)
	assert.Equal(t, domain.MatchProvisioned, syrup.MatchMethod)

	item, err := repo.GetInventoryItem(ctx, syrup.InventoryItemID)
	require.NoError(t, err)
	assert.Equal(t, "store-b", item.StoreID)
	assert.True(t, item.StockQuantity.IsZero())
	assert.Equal(t, "ml", item.Unit)

	assert.Equal(t, domain.MatchUnitConversion, synced.Ingredients[0].MatchMethod)
	assert.True(t, synced.Ingredients[0].ConversionFactor.Equal(dec("0.001")))

	drifted, err = e.DetectDrift(ctx, "store-b")
	require.NoError(t, err)
	assert.Empty(t, drifted)
}

type brokenProvisioning struct {
	*memory.Store
	failStore string
}

func (b *brokenProvisioning) CreateInventoryItem(ctx context.Context, item domain.InventoryStockItem) (*domain.InventoryStockItem, error) {
	if item.StoreID == b.failStore {
		return nil, errors.New("quota exceeded")
	}
	return b.Store.CreateInventoryItem(ctx, item)
}

func TestDeployWithTakenProductIDLeavesNoRecipe(t *testing.T) {
	repo := memory.NewSeeded()
	e := newEngine(repo)
	ctx := context.Background()
	tpl, _ := simpleLatte(t, repo, e)

	_, err := e.Deploy(ctx, domain.DeployRequest{TemplateID: tpl.ID, StoreID: "store-b", ProductID: "b-latte"})
	require.Error(t, err)

	recipes, err := repo.ListActiveRecipesByTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Len(t, recipes, 1)
}

func TestSyncFailureInOneRecipeDoesNotBlockOthers(t *testing.T) {
	clock := newClock()
	repo := &brokenProvisioning{Store: memory.NewSeeded(memory.WithClock(clock.now))}
	e := newEngine(repo)
	e.now = clock.now
	ctx := context.Background()
	tpl, _ := simpleLatte(t, repo.Store, e)
	addItem(t, repo.Store, "c-milk", "store-c", "Milk", "l", "10")
	addItem(t, repo.Store, "c-coffee", "store-c", "Coffee Beans", "kg", "2")
	_, err := e.Deploy(ctx, domain.DeployRequest{TemplateID: tpl.ID, StoreID: "store-c"})
	require.NoError(t, err)

	repo.failStore = "store-c"
	tpl.Ingredients = append(tpl.Ingredients, domain.TemplateIngredient{Name: "Syrup", Quantity: dec("10"), Unit: "ml"})
	_, err = repo.UpdateTemplate(ctx, tpl)
	require.NoError(t, err)

	result, err := e.SyncTemplateToAllRecipes(ctx, tpl.ID)
	require.NoError(t, err)

	assert.Equal(t, 2, result.RecipesTotal)
	assert.Equal(t, 1, result.RecipesSynced)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "store-c", result.Failures[0].StoreID)
}

func TestStructuralDriftIsDetectedAndRepaired(t *testing.T) {
	repo := memory.NewSeeded()
	e := newEngine(repo)
	ctx := context.Background()

	recipe, err := repo.GetRecipe(ctx, "rcp-main-iced-latte")
	require.NoError(t, err)
	trimmed := recipe.Ingredients[:2]
	require.NoError(t, repo.ReplaceRecipeIngredients(ctx, recipe.ID, trimmed, recipe.CostSnapshot, time.Now().Add(time.Minute)))

	drifted, err := e.DetectDrift(ctx, "main-store")
	require.NoError(t, err)
	require.Len(t, drifted, 1)
	assert.Equal(t, domain.DriftStructural, drifted[0].Reason)
	assert.Equal(t, "rcp-main-iced-latte", drifted[0].RecipeID)

	repair := e.RepairDrift(ctx, drifted)
	assert.Equal(t, 1, repair.Attempted)
	assert.Equal(t, 1, repair.Repaired)
	assert.Equal(t, 0, repair.Failed)

	fixed, err := repo.GetRecipe(ctx, recipe.ID)
	require.NoError(t, err)
	assert.Len(t, fixed.Ingredients, 4)
}

type negativeRows struct {
	*memory.Store
	negative domain.InventoryStockItem
	zeroed   bool
}

func (n *negativeRows) ListInventoryItems(ctx context.Context, storeID string) ([]domain.InventoryStockItem, error) {
	items, err := n.Store.ListInventoryItems(ctx, storeID)
	if err != nil || storeID != n.negative.StoreID || n.zeroed {
		return items, err
	}
	return append(items, n.negative), nil
}

func (n *negativeRows) CompareAndSetStock(ctx context.Context, itemID string, expected, next decimal.Decimal) (*domain.InventoryStockItem, error) {
	if itemID == n.negative.ID {
		n.zeroed = true
		updated := n.negative
		updated.StockQuantity = next
		return &updated, nil
	}
	return n.Store.CompareAndSetStock(ctx, itemID, expected, next)
}

func TestHealthCheckRepairsUnboundAndNegativeStock(t *testing.T) {
	repo := &negativeRows{
		Store:    memory.NewSeeded(),
		negative: domain.InventoryStockItem{ID: "inv-legacy", StoreID: "main-store", ItemName: "Ice", Unit: "kg", StockQuantity: dec("-3"), Active: true},
	}
	e := newEngine(repo)
	ctx := context.Background()

	tpl, err := repo.GetTemplate(ctx, "tpl-iced-latte")
	require.NoError(t, err)
	unboundIngredients := make([]domain.RecipeIngredient, 0, len(tpl.Ingredients))
	for _, ti := range tpl.Ingredients {
		unboundIngredients = append(unboundIngredients, domain.RecipeIngredient{TemplateIngredient: ti})
	}
	_, err = repo.CreateRecipe(ctx, domain.DeployedRecipe{
		ID: "rcp-orphan", TemplateID: tpl.ID, StoreID: "main-store", Name: "Iced Latte", Active: true,
		Ingredients: unboundIngredients, UpdatedAt: time.Now().Add(time.Minute),
	})
	require.NoError(t, err)

	report, err := e.RunHealthCheckAndRepair(ctx, "")
	require.NoError(t, err)

	assert.Equal(t, domain.HealthCategory{}, report.Categories[domain.HealthTemplateDrift])
	assert.Equal(t, domain.HealthCategory{Detected: 1, Repaired: 1}, report.Categories[domain.HealthUnboundIngredients])
	assert.Equal(t, domain.HealthCategory{Detected: 1, Repaired: 1}, report.Categories[domain.HealthNegativeStock])

	orphan, err := repo.GetRecipe(ctx, "rcp-orphan")
	require.NoError(t, err)
	assert.Equal(t, "inv-milk", orphan.Ingredients[0].InventoryItemID)

	movements, err := repo.ListStockMovements(ctx, "")
	require.NoError(t, err)
	var repairs int
	for _, m := range movements {
		if m.MovementType == domain.MovementRepair {
			repairs++
			assert.True(t, m.Quantity.Equal(dec("3")))
		}
	}
	assert.Equal(t, 1, repairs)
}

func TestSweeperSkipsWhenLockIsHeld(t *testing.T) {
	repo := memory.NewSeeded()
	locker := cache.NewLocalLocker()
	sweeper := NewSweeper(newEngine(repo), locker, time.Minute, "main-store", nil)
	ctx := context.Background()

	release, ok, err := locker.Acquire(ctx, sweepLockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ran, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, ran)

	release()
	report, ran, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Len(t, report.Categories, 3)
}
