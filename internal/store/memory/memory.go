package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"dapurstok/backend/internal/domain"
	"dapurstok/backend/internal/store"
	"dapurstok/backend/internal/xid"
)

type Store struct {
	mu        sync.RWMutex
	now       func() time.Time
	products  map[string]domain.Product
	catalog   map[string]domain.CatalogItem
	templates map[string]domain.RecipeTemplate
	recipes   map[string]domain.DeployedRecipe
	inventory map[string]domain.InventoryStockItem
	ledger    []domain.LedgerEntry
	movements []domain.StockMovement
	sales     map[string]domain.SaleRecord
	auditLogs []domain.AuditLog
}

type Option func(*Store)

// WithClock replaces the wall clock used for UpdatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		now:       func() time.Time { return time.Now().UTC() },
		products:  make(map[string]domain.Product),
		catalog:   make(map[string]domain.CatalogItem),
		templates: make(map[string]domain.RecipeTemplate),
		recipes:   make(map[string]domain.DeployedRecipe),
		inventory: make(map[string]domain.InventoryStockItem),
		ledger:    make([]domain.LedgerEntry, 0, 128),
		movements: make([]domain.StockMovement, 0, 128),
		sales:     make(map[string]domain.SaleRecord),
		auditLogs: make([]domain.AuditLog, 0, 128),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) GetProduct(_ context.Context, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[productID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) ListProducts(_ context.Context, storeID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active || (storeID != "" && p.StoreID != storeID) {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})
	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.StoreID == "" || strings.TrimSpace(product.Name) == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrInvalidInput
	}
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) FindCatalogItem(_ context.Context, name string) (*domain.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.catalog[catalogKey(name)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (s *Store) UpsertCatalogItems(_ context.Context, items []domain.CatalogItem) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, item := range items {
		key := catalogKey(item.Name)
		if key == "" || strings.TrimSpace(item.Unit) == "" {
			continue
		}
		s.catalog[key] = item
		count++
	}
	return count, nil
}

func (s *Store) GetTemplate(_ context.Context, templateID string) (*domain.RecipeTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tpl, ok := s.templates[templateID]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneTemplate(tpl)
	return &dup, nil
}

func (s *Store) CreateTemplate(_ context.Context, tpl domain.RecipeTemplate) (*domain.RecipeTemplate, error) {
	if strings.TrimSpace(tpl.Name) == "" || len(tpl.Ingredients) == 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tpl.ID == "" {
		tpl.ID = xid.New("tpl")
	}
	if _, exists := s.templates[tpl.ID]; exists {
		return nil, store.ErrInvalidInput
	}
	tpl.UpdatedAt = s.now()
	s.templates[tpl.ID] = cloneTemplate(tpl)
	dup := cloneTemplate(tpl)
	return &dup, nil
}

func (s *Store) UpdateTemplate(_ context.Context, tpl domain.RecipeTemplate) (*domain.RecipeTemplate, error) {
	if strings.TrimSpace(tpl.Name) == "" || len(tpl.Ingredients) == 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.templates[tpl.ID]; !exists {
		return nil, store.ErrNotFound
	}
	tpl.UpdatedAt = s.now()
	s.templates[tpl.ID] = cloneTemplate(tpl)
	dup := cloneTemplate(tpl)
	return &dup, nil
}

func (s *Store) GetRecipe(_ context.Context, recipeID string) (*domain.DeployedRecipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recipe, ok := s.recipes[recipeID]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneRecipe(recipe)
	return &dup, nil
}

func (s *Store) CreateRecipe(_ context.Context, recipe domain.DeployedRecipe) (*domain.DeployedRecipe, error) {
	if recipe.StoreID == "" || strings.TrimSpace(recipe.Name) == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if recipe.ID == "" {
		recipe.ID = xid.New("rcp")
	}
	if _, exists := s.recipes[recipe.ID]; exists {
		return nil, store.ErrInvalidInput
	}
	if recipe.UpdatedAt.IsZero() {
		recipe.UpdatedAt = s.now()
	}
	s.recipes[recipe.ID] = cloneRecipe(recipe)
	dup := cloneRecipe(recipe)
	return &dup, nil
}

func (s *Store) ListActiveRecipesByTemplate(_ context.Context, templateID string) ([]domain.DeployedRecipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.DeployedRecipe, 0, 8)
	for _, r := range s.recipes {
		if r.Active && r.TemplateID == templateID {
			result = append(result, cloneRecipe(r))
		}
	}
	slices.SortFunc(result, func(a, b domain.DeployedRecipe) int { return cmpString(a.ID, b.ID) })
	return result, nil
}

func (s *Store) ListActiveRecipes(_ context.Context, storeID string, offset int, limit int) ([]domain.DeployedRecipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]domain.DeployedRecipe, 0, len(s.recipes))
	for _, r := range s.recipes {
		if !r.Active || (storeID != "" && r.StoreID != storeID) {
			continue
		}
		all = append(all, r)
	}
	slices.SortFunc(all, func(a, b domain.DeployedRecipe) int { return cmpString(a.ID, b.ID) })

	if offset >= len(all) {
		return []domain.DeployedRecipe{}, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	result := make([]domain.DeployedRecipe, 0, end-offset)
	for _, r := range all[offset:end] {
		result = append(result, cloneRecipe(r))
	}
	return result, nil
}

func (s *Store) ReplaceRecipeIngredients(_ context.Context, recipeID string, ingredients []domain.RecipeIngredient, cost decimal.Decimal, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recipe, ok := s.recipes[recipeID]
	if !ok {
		return store.ErrNotFound
	}
	recipe.Ingredients = slices.Clone(ingredients)
	recipe.CostSnapshot = cost
	if at.IsZero() {
		at = s.now()
	}
	recipe.UpdatedAt = at
	s.recipes[recipeID] = recipe
	return nil
}

func (s *Store) GetInventoryItem(_ context.Context, itemID string) (*domain.InventoryStockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.inventory[itemID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (s *Store) ListInventoryItems(_ context.Context, storeID string) ([]domain.InventoryStockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.InventoryStockItem, 0, 32)
	for _, item := range s.inventory {
		if storeID != "" && item.StoreID != storeID {
			continue
		}
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b domain.InventoryStockItem) int {
		if a.ItemName == b.ItemName {
			return cmpString(a.ID, b.ID)
		}
		return cmpString(a.ItemName, b.ItemName)
	})
	return items, nil
}

func (s *Store) CreateInventoryItem(_ context.Context, item domain.InventoryStockItem) (*domain.InventoryStockItem, error) {
	if item.StoreID == "" || strings.TrimSpace(item.ItemName) == "" || strings.TrimSpace(item.Unit) == "" {
		return nil, store.ErrInvalidInput
	}
	if item.StockQuantity.IsNegative() {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		item.ID = xid.New("inv")
	}
	if _, exists := s.inventory[item.ID]; exists {
		return nil, store.ErrInvalidInput
	}
	item.Version = 1
	item.UpdatedAt = s.now()
	s.inventory[item.ID] = item
	created := item
	return &created, nil
}

func (s *Store) CompareAndSetStock(_ context.Context, itemID string, expected decimal.Decimal, next decimal.Decimal) (*domain.InventoryStockItem, error) {
	if next.IsNegative() {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.inventory[itemID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !item.StockQuantity.Equal(expected) {
		return nil, store.ErrStaleWrite
	}
	item.StockQuantity = next
	item.Version++
	item.UpdatedAt = s.now()
	s.inventory[itemID] = item
	updated := item
	return &updated, nil
}

func (s *Store) AppendLedgerEntry(_ context.Context, entry domain.LedgerEntry) error {
	if entry.TransactionID == "" || entry.InventoryItemID == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("ledger")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	s.ledger = append(s.ledger, entry)
	return nil
}

func (s *Store) AppendStockMovement(_ context.Context, movement domain.StockMovement) error {
	if movement.InventoryItemID == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if movement.ID == "" {
		movement.ID = xid.New("mv")
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = s.now()
	}
	s.movements = append(s.movements, movement)
	return nil
}

func (s *Store) ListLedgerEntries(_ context.Context, filter domain.LedgerFilter) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.LedgerEntry, 0, 32)
	for _, entry := range s.ledger {
		if filter.StoreID != "" && entry.StoreID != filter.StoreID {
			continue
		}
		if filter.TransactionID != "" && entry.TransactionID != filter.TransactionID {
			continue
		}
		result = append(result, entry)
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[len(result)-filter.Limit:]
	}
	return result, nil
}

func (s *Store) ListStockMovements(_ context.Context, referenceID string) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockMovement, 0, 16)
	for _, mv := range s.movements {
		if referenceID != "" && mv.ReferenceID != referenceID {
			continue
		}
		result = append(result, mv)
	}
	return result, nil
}

func (s *Store) FindSaleRecord(_ context.Context, transactionID string) (*domain.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.sales[transactionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &record, nil
}

func (s *Store) CreateSaleRecord(_ context.Context, record domain.SaleRecord) error {
	if record.TransactionID == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sales[record.TransactionID]; exists {
		return store.ErrDuplicateTransaction
	}
	if record.CommittedAt.IsZero() {
		record.CommittedAt = s.now()
	}
	s.sales[record.TransactionID] = record
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if storeID != "" && entry.StoreID != storeID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func catalogKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneTemplate(src domain.RecipeTemplate) domain.RecipeTemplate {
	dup := src
	dup.Ingredients = slices.Clone(src.Ingredients)
	return dup
}

func cloneRecipe(src domain.DeployedRecipe) domain.DeployedRecipe {
	dup := src
	dup.Ingredients = slices.Clone(src.Ingredients)
	return dup
}
