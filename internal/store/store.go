package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"dapurstok/backend/internal/domain"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidInput         = errors.New("invalid input")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrStaleWrite           = errors.New("stock changed since read")
	ErrDuplicateTransaction = errors.New("transaction already processed")
)

type Catalog interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
	ListProducts(ctx context.Context, storeID string) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	FindCatalogItem(ctx context.Context, name string) (*domain.CatalogItem, error)
	UpsertCatalogItems(ctx context.Context, items []domain.CatalogItem) (int, error)
}

type Recipes interface {
	GetTemplate(ctx context.Context, templateID string) (*domain.RecipeTemplate, error)
	CreateTemplate(ctx context.Context, tpl domain.RecipeTemplate) (*domain.RecipeTemplate, error)
	UpdateTemplate(ctx context.Context, tpl domain.RecipeTemplate) (*domain.RecipeTemplate, error)
	GetRecipe(ctx context.Context, recipeID string) (*domain.DeployedRecipe, error)
	CreateRecipe(ctx context.Context, recipe domain.DeployedRecipe) (*domain.DeployedRecipe, error)
	ListActiveRecipesByTemplate(ctx context.Context, templateID string) ([]domain.DeployedRecipe, error)
	// ListActiveRecipes pages through active recipes ordered by id; an empty storeID spans all stores.
	ListActiveRecipes(ctx context.Context, storeID string, offset int, limit int) ([]domain.DeployedRecipe, error)
	ReplaceRecipeIngredients(ctx context.Context, recipeID string, ingredients []domain.RecipeIngredient, cost decimal.Decimal, at time.Time) error
}

type Inventory interface {
	GetInventoryItem(ctx context.Context, itemID string) (*domain.InventoryStockItem, error)
	ListInventoryItems(ctx context.Context, storeID string) ([]domain.InventoryStockItem, error)
	CreateInventoryItem(ctx context.Context, item domain.InventoryStockItem) (*domain.InventoryStockItem, error)
	// CompareAndSetStock writes next only while the row still holds expected, otherwise ErrStaleWrite.
	CompareAndSetStock(ctx context.Context, itemID string, expected decimal.Decimal, next decimal.Decimal) (*domain.InventoryStockItem, error)
}

type Ledger interface {
	AppendLedgerEntry(ctx context.Context, entry domain.LedgerEntry) error
	AppendStockMovement(ctx context.Context, movement domain.StockMovement) error
	ListLedgerEntries(ctx context.Context, filter domain.LedgerFilter) ([]domain.LedgerEntry, error)
	ListStockMovements(ctx context.Context, referenceID string) ([]domain.StockMovement, error)
}

// StockChange is one stock write together with the audit rows describing it.
type StockChange struct {
	ItemID   string
	Expected decimal.Decimal
	Next     decimal.Decimal
	Ledger   domain.LedgerEntry
	Movement domain.StockMovement
}

// JournaledInventory is implemented by stores that can commit a stock write and
// its ledger and movement rows as one unit.
type JournaledInventory interface {
	ApplyStockChange(ctx context.Context, change StockChange) (*domain.InventoryStockItem, error)
}

type Sales interface {
	FindSaleRecord(ctx context.Context, transactionID string) (*domain.SaleRecord, error)
	CreateSaleRecord(ctx context.Context, record domain.SaleRecord) error
}

type Audit interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}

type Repository interface {
	Catalog
	Recipes
	Inventory
	Ledger
	Sales
	Audit
}
