package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"dapurstok/backend/internal/domain"
	"dapurstok/backend/internal/store"
	"dapurstok/backend/internal/xid"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, store_id, name, category, recipe_id, active
		FROM products
		WHERE id = $1
	`, productID).Scan(&p.ID, &p.StoreID, &p.Name, &p.Category, &p.RecipeID, &p.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context, storeID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, name, category, recipe_id, active
		FROM products
		WHERE active = true AND ($1 = '' OR store_id = $1)
		ORDER BY category, name
	`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.StoreID, &p.Name, &p.Category, &p.RecipeID, &p.Active); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.StoreID == "" || strings.TrimSpace(product.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, store_id, name, category, recipe_id, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
	`, product.ID, product.StoreID, product.Name, product.Category, product.RecipeID, product.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}
	created := product
	return &created, nil
}

func (s *Store) FindCatalogItem(ctx context.Context, name string) (*domain.CatalogItem, error) {
	var item domain.CatalogItem
	err := s.db.QueryRowContext(ctx, `
		SELECT name, unit, unit_cost, minimum_threshold, category
		FROM catalog_items
		WHERE name_key = $1
	`, catalogKey(name)).Scan(&item.Name, &item.Unit, &item.UnitCost, &item.MinimumThreshold, &item.Category)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpsertCatalogItems(ctx context.Context, items []domain.CatalogItem) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	count := 0
	for _, item := range items {
		key := catalogKey(item.Name)
		if key == "" || strings.TrimSpace(item.Unit) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO catalog_items (name_key, name, unit, unit_cost, minimum_threshold, category, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,now())
			ON CONFLICT (name_key)
			DO UPDATE SET name = EXCLUDED.name, unit = EXCLUDED.unit, unit_cost = EXCLUDED.unit_cost,
				minimum_threshold = EXCLUDED.minimum_threshold, category = EXCLUDED.category, updated_at = now()
		`, key, item.Name, item.Unit, item.UnitCost, item.MinimumThreshold, item.Category); err != nil {
			return 0, err
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) GetTemplate(ctx context.Context, templateID string) (*domain.RecipeTemplate, error) {
	var (
		tpl domain.RecipeTemplate
		raw []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, yield_quantity, ingredients, active, updated_at
		FROM recipe_templates
		WHERE id = $1
	`, templateID).Scan(&tpl.ID, &tpl.Name, &tpl.Category, &tpl.YieldQuantity, &raw, &tpl.Active, &tpl.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(raw, &tpl.Ingredients); err != nil {
		return nil, fmt.Errorf("decode template %s ingredients: %w", templateID, err)
	}
	tpl.UpdatedAt = tpl.UpdatedAt.UTC()
	return &tpl, nil
}

func (s *Store) CreateTemplate(ctx context.Context, tpl domain.RecipeTemplate) (*domain.RecipeTemplate, error) {
	if strings.TrimSpace(tpl.Name) == "" || len(tpl.Ingredients) == 0 {
		return nil, store.ErrInvalidInput
	}
	if tpl.ID == "" {
		tpl.ID = xid.New("tpl")
	}
	raw, err := json.Marshal(tpl.Ingredients)
	if err != nil {
		return nil, err
	}
	tpl.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO recipe_templates (id, name, category, yield_quantity, ingredients, active, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, tpl.ID, tpl.Name, tpl.Category, tpl.YieldQuantity, raw, tpl.Active, tpl.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}
	created := tpl
	return &created, nil
}

func (s *Store) UpdateTemplate(ctx context.Context, tpl domain.RecipeTemplate) (*domain.RecipeTemplate, error) {
	if strings.TrimSpace(tpl.Name) == "" || len(tpl.Ingredients) == 0 {
		return nil, store.ErrInvalidInput
	}
	raw, err := json.Marshal(tpl.Ingredients)
	if err != nil {
		return nil, err
	}
	tpl.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE recipe_templates
		SET name = $2, category = $3, yield_quantity = $4, ingredients = $5, active = $6, updated_at = $7
		WHERE id = $1
	`, tpl.ID, tpl.Name, tpl.Category, tpl.YieldQuantity, raw, tpl.Active, tpl.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, store.ErrNotFound
	}
	updated := tpl
	return &updated, nil
}

const recipeColumns = `id, template_id, store_id, product_id, name, active, ingredients, cost_snapshot, updated_at`

func (s *Store) GetRecipe(ctx context.Context, recipeID string) (*domain.DeployedRecipe, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recipeColumns+` FROM deployed_recipes WHERE id = $1`, recipeID)
	recipe, err := scanRecipe(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &recipe, nil
}

func (s *Store) CreateRecipe(ctx context.Context, recipe domain.DeployedRecipe) (*domain.DeployedRecipe, error) {
	if recipe.StoreID == "" || strings.TrimSpace(recipe.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if recipe.ID == "" {
		recipe.ID = xid.New("rcp")
	}
	if recipe.UpdatedAt.IsZero() {
		recipe.UpdatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(recipe.Ingredients)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO deployed_recipes (`+recipeColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, recipe.ID, recipe.TemplateID, recipe.StoreID, recipe.ProductID, recipe.Name, recipe.Active, raw, recipe.CostSnapshot, recipe.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}
	created := recipe
	return &created, nil
}

func (s *Store) ListActiveRecipesByTemplate(ctx context.Context, templateID string) ([]domain.DeployedRecipe, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recipeColumns+`
		FROM deployed_recipes
		WHERE active = true AND template_id = $1
		ORDER BY id
	`, templateID)
	if err != nil {
		return nil, err
	}
	return collectRecipes(rows)
}

func (s *Store) ListActiveRecipes(ctx context.Context, storeID string, offset int, limit int) ([]domain.DeployedRecipe, error) {
	if offset < 0 {
		offset = 0
	}
	query := `
		SELECT ` + recipeColumns + `
		FROM deployed_recipes
		WHERE active = true AND ($1 = '' OR store_id = $1)
		ORDER BY id
		OFFSET $2`
	args := []interface{}{storeID, offset}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectRecipes(rows)
}

func (s *Store) ReplaceRecipeIngredients(ctx context.Context, recipeID string, ingredients []domain.RecipeIngredient, cost decimal.Decimal, at time.Time) error {
	raw, err := json.Marshal(ingredients)
	if err != nil {
		return err
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE deployed_recipes
		SET ingredients = $2, cost_snapshot = $3, updated_at = $4
		WHERE id = $1
	`, recipeID, raw, cost, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

const inventoryColumns = `id, store_id, item_name, unit, stock_quantity, minimum_threshold, unit_cost, active, version, updated_at`

func (s *Store) GetInventoryItem(ctx context.Context, itemID string) (*domain.InventoryStockItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+inventoryColumns+` FROM inventory_items WHERE id = $1`, itemID)
	item, err := scanInventory(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListInventoryItems(ctx context.Context, storeID string) ([]domain.InventoryStockItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+inventoryColumns+`
		FROM inventory_items
		WHERE $1 = '' OR store_id = $1
		ORDER BY item_name, id
	`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.InventoryStockItem, 0, 32)
	for rows.Next() {
		item, err := scanInventory(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CreateInventoryItem(ctx context.Context, item domain.InventoryStockItem) (*domain.InventoryStockItem, error) {
	if item.StoreID == "" || strings.TrimSpace(item.ItemName) == "" || strings.TrimSpace(item.Unit) == "" {
		return nil, store.ErrInvalidInput
	}
	if item.StockQuantity.IsNegative() {
		return nil, store.ErrInvalidInput
	}
	if item.ID == "" {
		item.ID = xid.New("inv")
	}
	item.Version = 1
	item.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_items (`+inventoryColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, item.ID, item.StoreID, item.ItemName, item.Unit, item.StockQuantity, item.MinimumThreshold, item.UnitCost, item.Active, item.Version, item.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}
	created := item
	return &created, nil
}

func (s *Store) CompareAndSetStock(ctx context.Context, itemID string, expected decimal.Decimal, next decimal.Decimal) (*domain.InventoryStockItem, error) {
	if next.IsNegative() {
		return nil, store.ErrInvalidInput
	}
	return compareAndSet(ctx, s.db, itemID, expected, next)
}

// ApplyStockChange writes the stock row, the ledger entry and the stock
// movement in one serializable transaction. A serialization failure is
// reported as ErrStaleWrite so callers re-read and retry.
func (s *Store) ApplyStockChange(ctx context.Context, change store.StockChange) (*domain.InventoryStockItem, error) {
	if change.Next.IsNegative() || change.ItemID == "" {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	updated, err := compareAndSet(ctx, tx, change.ItemID, change.Expected, change.Next)
	if err != nil {
		return nil, classifyTxError(err)
	}
	if err := insertLedgerEntry(ctx, tx, change.Ledger); err != nil {
		return nil, classifyTxError(err)
	}
	if err := insertStockMovement(ctx, tx, change.Movement); err != nil {
		return nil, classifyTxError(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, classifyTxError(err)
	}
	return updated, nil
}

func (s *Store) AppendLedgerEntry(ctx context.Context, entry domain.LedgerEntry) error {
	return insertLedgerEntry(ctx, s.db, entry)
}

func (s *Store) AppendStockMovement(ctx context.Context, movement domain.StockMovement) error {
	return insertStockMovement(ctx, s.db, movement)
}

// ListLedgerEntries returns the newest Limit matching entries, oldest first.
func (s *Store) ListLedgerEntries(ctx context.Context, filter domain.LedgerFilter) ([]domain.LedgerEntry, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 1 << 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, transaction_id, store_id, inventory_item_id, ingredient_name,
			quantity_deducted, previous_quantity, new_quantity, recipe_name, ingredient_group, actor_id, created_at
		FROM (
			SELECT * FROM ledger_entries
			WHERE ($1 = '' OR store_id = $1) AND ($2 = '' OR transaction_id = $2)
			ORDER BY seq DESC
			LIMIT $3
		) recent
		ORDER BY seq
	`, filter.StoreID, filter.TransactionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0, 32)
	for rows.Next() {
		var (
			e    domain.LedgerEntry
			kind string
		)
		if err := rows.Scan(&e.ID, &kind, &e.TransactionID, &e.StoreID, &e.InventoryItemID, &e.IngredientName,
			&e.QuantityDeducted, &e.PreviousQuantity, &e.NewQuantity, &e.RecipeName, &e.IngredientGroup, &e.ActorID, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Kind = domain.LedgerKind(kind)
		e.Timestamp = e.Timestamp.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) ListStockMovements(ctx context.Context, referenceID string) ([]domain.StockMovement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, inventory_item_id, movement_type, quantity, previous_quantity, new_quantity,
			reference_id, created_by, notes, created_at
		FROM stock_movements
		WHERE $1 = '' OR reference_id = $1
		ORDER BY seq
	`, referenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0, 16)
	for rows.Next() {
		var mv domain.StockMovement
		if err := rows.Scan(&mv.ID, &mv.StoreID, &mv.InventoryItemID, &mv.MovementType, &mv.Quantity, &mv.PreviousQuantity,
			&mv.NewQuantity, &mv.ReferenceID, &mv.CreatedBy, &mv.Notes, &mv.CreatedAt); err != nil {
			return nil, err
		}
		mv.CreatedAt = mv.CreatedAt.UTC()
		movements = append(movements, mv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *Store) FindSaleRecord(ctx context.Context, transactionID string) (*domain.SaleRecord, error) {
	var record domain.SaleRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT transaction_id, store_id, actor_id, status, line_count, committed_at
		FROM sale_records
		WHERE transaction_id = $1
	`, transactionID).Scan(&record.TransactionID, &record.StoreID, &record.ActorID, &record.Status, &record.LineCount, &record.CommittedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	record.CommittedAt = record.CommittedAt.UTC()
	return &record, nil
}

func (s *Store) CreateSaleRecord(ctx context.Context, record domain.SaleRecord) error {
	if record.TransactionID == "" {
		return store.ErrInvalidInput
	}
	if record.CommittedAt.IsZero() {
		record.CommittedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sale_records (transaction_id, store_id, actor_id, status, line_count, committed_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, record.TransactionID, record.StoreID, record.ActorID, record.Status, record.LineCount, record.CommittedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateTransaction
		}
		return err
	}
	return nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, store_id, actor_id, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.StoreID, entry.ActorID, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, actor_id, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR store_id = $1)
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, storeID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.StoreID, &entry.ActorID, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func compareAndSet(ctx context.Context, q execer, itemID string, expected decimal.Decimal, next decimal.Decimal) (*domain.InventoryStockItem, error) {
	row := q.QueryRowContext(ctx, `
		UPDATE inventory_items
		SET stock_quantity = $3, version = version + 1, updated_at = now()
		WHERE id = $1 AND stock_quantity = $2
		RETURNING `+inventoryColumns, itemID, expected, next)
	item, err := scanInventory(row)
	if err == nil {
		return &item, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM inventory_items WHERE id = $1)`, itemID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}
	return nil, store.ErrStaleWrite
}

func insertLedgerEntry(ctx context.Context, q execer, entry domain.LedgerEntry) error {
	if entry.TransactionID == "" || entry.InventoryItemID == "" {
		return store.ErrInvalidInput
	}
	if entry.ID == "" {
		entry.ID = xid.New("ledger")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO ledger_entries (
			id, kind, transaction_id, store_id, inventory_item_id, ingredient_name,
			quantity_deducted, previous_quantity, new_quantity, recipe_name, ingredient_group, actor_id, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, entry.ID, string(entry.Kind), entry.TransactionID, entry.StoreID, entry.InventoryItemID, entry.IngredientName,
		entry.QuantityDeducted, entry.PreviousQuantity, entry.NewQuantity, entry.RecipeName, entry.IngredientGroup, entry.ActorID, entry.Timestamp)
	return err
}

func insertStockMovement(ctx context.Context, q execer, mv domain.StockMovement) error {
	if mv.InventoryItemID == "" {
		return store.ErrInvalidInput
	}
	if mv.ID == "" {
		mv.ID = xid.New("mv")
	}
	if mv.CreatedAt.IsZero() {
		mv.CreatedAt = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO stock_movements (
			id, store_id, inventory_item_id, movement_type, quantity, previous_quantity, new_quantity,
			reference_id, created_by, notes, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, mv.ID, mv.StoreID, mv.InventoryItemID, mv.MovementType, mv.Quantity, mv.PreviousQuantity, mv.NewQuantity,
		mv.ReferenceID, mv.CreatedBy, mv.Notes, mv.CreatedAt)
	return err
}

func scanInventory(row scanner) (domain.InventoryStockItem, error) {
	var item domain.InventoryStockItem
	err := row.Scan(&item.ID, &item.StoreID, &item.ItemName, &item.Unit, &item.StockQuantity,
		&item.MinimumThreshold, &item.UnitCost, &item.Active, &item.Version, &item.UpdatedAt)
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, err
}

func scanRecipe(row scanner) (domain.DeployedRecipe, error) {
	var (
		recipe domain.DeployedRecipe
		raw    []byte
	)
	if err := row.Scan(&recipe.ID, &recipe.TemplateID, &recipe.StoreID, &recipe.ProductID, &recipe.Name,
		&recipe.Active, &raw, &recipe.CostSnapshot, &recipe.UpdatedAt); err != nil {
		return domain.DeployedRecipe{}, err
	}
	if err := json.Unmarshal(raw, &recipe.Ingredients); err != nil {
		return domain.DeployedRecipe{}, fmt.Errorf("decode recipe %s ingredients: %w", recipe.ID, err)
	}
	recipe.UpdatedAt = recipe.UpdatedAt.UTC()
	return recipe, nil
}

func collectRecipes(rows *sql.Rows) ([]domain.DeployedRecipe, error) {
	defer rows.Close()

	recipes := make([]domain.DeployedRecipe, 0, 16)
	for rows.Next() {
		recipe, err := scanRecipe(rows)
		if err != nil {
			return nil, err
		}
		recipes = append(recipes, recipe)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return recipes, nil
}

func catalogKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

func classifyTxError(err error) error {
	if isSerializationFailure(err) {
		return store.ErrStaleWrite
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
