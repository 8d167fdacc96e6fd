package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ReasonProductNotFound    = "product_not_found"
	ReasonProductInactive    = "product_inactive"
	ReasonNoRecipe           = "no_recipe"
	ReasonMissingIngredient  = "missing_ingredient"
	ReasonInsufficientStock  = "insufficient_stock"
	ReasonExceedsMaxSellable = "exceeds_max_sellable"
	ReasonInvalidQuantity    = "invalid_quantity"
	ReasonStoreMismatch      = "product_store_mismatch"
)

// UnboundedMaxSellable is reported for recipes with no mandatory ingredient.
const UnboundedMaxSellable = 9999

type IngredientShortfall struct {
	InventoryItemID string          `json:"inventory_item_id,omitempty"`
	IngredientName  string          `json:"ingredient_name"`
	Unit            string          `json:"unit"`
	Required        decimal.Decimal `json:"required"`
	Available       decimal.Decimal `json:"available"`
}

type ProductAvailability struct {
	ProductID    string                `json:"product_id"`
	ProductName  string                `json:"product_name"`
	StoreID      string                `json:"store_id"`
	RecipeID     string                `json:"recipe_id,omitempty"`
	HasRecipe    bool                  `json:"has_recipe"`
	CanSell      bool                  `json:"can_sell"`
	MaxSellable  int                   `json:"max_sellable"`
	Missing      []IngredientShortfall `json:"missing_ingredients"`
	Insufficient []IngredientShortfall `json:"insufficient_ingredients"`
	Reasons      []string              `json:"reasons"`
}

type AvailabilityBreakdown struct {
	Sellable          int `json:"sellable"`
	NoRecipe          int `json:"no_recipe"`
	MissingIngredient int `json:"missing_ingredient"`
	InsufficientStock int `json:"insufficient_stock"`
}

type AvailabilityReport struct {
	StoreID   string                `json:"store_id"`
	Products  []ProductAvailability `json:"products"`
	Breakdown AvailabilityBreakdown `json:"breakdown"`
	CheckedAt time.Time             `json:"checked_at"`
}

type SellableProductsResponse struct {
	StoreID   string                `json:"store_id"`
	Products  []ProductAvailability `json:"products"`
	Breakdown AvailabilityBreakdown `json:"breakdown"`
}

type LineValidation struct {
	LineIndex    int                   `json:"line_index"`
	ProductID    string                `json:"product_id"`
	Requested    int                   `json:"requested"`
	MaxSellable  int                   `json:"max_sellable"`
	Reasons      []string              `json:"reasons"`
	Missing      []IngredientShortfall `json:"missing_ingredients,omitempty"`
	Insufficient []IngredientShortfall `json:"insufficient_ingredients,omitempty"`
}

func (lv LineValidation) OK() bool {
	return len(lv.Reasons) == 0
}

type SaleRequest struct {
	TransactionID string         `json:"transaction_id"`
	StoreID       string         `json:"store_id" validate:"required"`
	ActorID       string         `json:"actor_id"`
	Lines         []SaleLineItem `json:"line_items" validate:"required,min=1,dive"`
}

type InventoryEffect struct {
	ItemsDeducted  int                 `json:"items_deducted"`
	TotalQuantity  decimal.Decimal     `json:"total_quantity"`
	Applied        []AppliedDelta      `json:"applied"`
	SkippedItems   []SkippedIngredient `json:"skipped_items"`
	ClampedItemIDs []string            `json:"clamped_item_ids,omitempty"`
}

type AuditEffect struct {
	LedgerEntries   int `json:"ledger_entries"`
	MovementEntries int `json:"movement_entries"`
	Warnings        int `json:"warnings"`
}

type EventEffect struct {
	Published bool `json:"published"`
}

type SaleEffects struct {
	Inventory InventoryEffect `json:"inventory"`
	Audit     AuditEffect     `json:"audit"`
	Events    EventEffect     `json:"events"`
}

type RollbackFailure struct {
	InventoryItemID string `json:"inventory_item_id"`
	Error           string `json:"error"`
}

type RollbackReport struct {
	Attempted int               `json:"attempted"`
	Restored  int               `json:"restored"`
	Failed    []RollbackFailure `json:"failed,omitempty"`
}

func (r RollbackReport) Complete() bool {
	return len(r.Failed) == 0
}

type SaleResult struct {
	Success                   bool             `json:"success"`
	TransactionID             string           `json:"transaction_id"`
	StoreID                   string           `json:"store_id"`
	Phase                     TransactionPhase `json:"phase"`
	Effects                   SaleEffects      `json:"effects"`
	RolledBack                bool             `json:"rolled_back"`
	Rollback                  *RollbackReport  `json:"rollback,omitempty"`
	NeedsManualReconciliation bool             `json:"needs_manual_reconciliation"`
	Errors                    []string         `json:"errors"`
	Warnings                  []string         `json:"warnings,omitempty"`
	ValidationFailures        []LineValidation `json:"validation_failures,omitempty"`
	Unresolved                []UnresolvedLine `json:"unresolved,omitempty"`
}

type EmergencyRollbackRequest struct {
	TransactionID string `json:"transaction_id"`
	StoreID       string `json:"store_id"`
	Reason        string `json:"reason"`
}

type EmergencyRollbackResult struct {
	TransactionID             string           `json:"transaction_id"`
	Phase                     TransactionPhase `json:"phase"`
	Logged                    bool             `json:"logged"`
	LedgerEntriesFound        int              `json:"ledger_entries_found"`
	NeedsManualReconciliation bool             `json:"needs_manual_reconciliation"`
}

type SyncFailure struct {
	RecipeID string `json:"recipe_id"`
	StoreID  string `json:"store_id"`
	Error    string `json:"error"`
}

type SyncResult struct {
	TemplateID    string        `json:"template_id"`
	RecipesTotal  int           `json:"recipes_total"`
	RecipesSynced int           `json:"recipes_synced"`
	Provisioned   int           `json:"provisioned"`
	Failures      []SyncFailure `json:"failures,omitempty"`
}

const (
	DriftTimestamp  = "template_newer"
	DriftStructural = "ingredients_mismatch"
)

type DriftedRecipe struct {
	RecipeID   string `json:"recipe_id"`
	TemplateID string `json:"template_id"`
	StoreID    string `json:"store_id"`
	Reason     string `json:"reason"`
}

type RepairResult struct {
	Attempted int           `json:"attempted"`
	Repaired  int           `json:"repaired"`
	Failed    int           `json:"failed"`
	Failures  []SyncFailure `json:"failures,omitempty"`
}

const (
	HealthTemplateDrift      = "template_drift"
	HealthUnboundIngredients = "unbound_ingredients"
	HealthNegativeStock      = "negative_stock"
)

type HealthCategory struct {
	Detected int `json:"detected"`
	Repaired int `json:"repaired"`
	Failed   int `json:"failed"`
}

type HealthReport struct {
	StoreID    string                    `json:"store_id,omitempty"`
	Categories map[string]HealthCategory `json:"categories"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt time.Time                 `json:"finished_at"`
}

type TemplateUpdateRequest struct {
	Name          string               `json:"name" validate:"required"`
	Category      string               `json:"category"`
	YieldQuantity decimal.Decimal      `json:"yield_quantity"`
	Ingredients   []TemplateIngredient `json:"ingredients" validate:"required,min=1,dive"`
	Active        *bool                `json:"active,omitempty"`
}

type TemplateUpdateResponse struct {
	Template RecipeTemplate `json:"template"`
	Sync     SyncResult     `json:"sync"`
}

type DeployRequest struct {
	TemplateID  string `json:"template_id"`
	StoreID     string `json:"store_id" validate:"required"`
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
}

type DeployResponse struct {
	Recipe  DeployedRecipe `json:"recipe"`
	Product Product        `json:"product"`
}

// CatalogRowError explains why one spreadsheet row was skipped. Row is 1-based
// as shown in spreadsheet tools.
type CatalogRowError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

type CatalogImportResponse struct {
	Imported int               `json:"imported"`
	Skipped  []CatalogRowError `json:"skipped"`
}
