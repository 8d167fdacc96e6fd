package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

type InventoryStockItem struct {
	ID               string          `json:"id"`
	StoreID          string          `json:"store_id"`
	ItemName         string          `json:"item_name"`
	Unit             string          `json:"unit"`
	StockQuantity    decimal.Decimal `json:"stock_quantity"`
	MinimumThreshold decimal.Decimal `json:"minimum_threshold"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
	Active           bool            `json:"active"`
	Version          int64           `json:"version"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// CatalogItem is a central, store-independent description of an inventory item
// used when a store has to be provisioned with a row it does not have yet.
type CatalogItem struct {
	Name             string          `json:"name"`
	Unit             string          `json:"unit"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
	MinimumThreshold decimal.Decimal `json:"minimum_threshold"`
	Category         string          `json:"category"`
}

type Product struct {
	ID       string `json:"id"`
	StoreID  string `json:"store_id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	RecipeID string `json:"recipe_id"`
	Active   bool   `json:"active"`
}

type TemplateIngredient struct {
	Name      string          `json:"name" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity"`
	Unit      string          `json:"unit" validate:"required"`
	Cost      decimal.Decimal `json:"cost"`
	Optional  bool            `json:"optional"`
	GroupName string          `json:"group_name,omitempty"`
}

type RecipeTemplate struct {
	ID            string               `json:"id"`
	Name          string               `json:"name" validate:"required"`
	Category      string               `json:"category"`
	YieldQuantity decimal.Decimal      `json:"yield_quantity"`
	Ingredients   []TemplateIngredient `json:"ingredients" validate:"required,min=1,dive"`
	Active        bool                 `json:"active"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

type MatchMethod string

const (
	MatchExact          MatchMethod = "exact"
	MatchSynonym        MatchMethod = "synonym"
	MatchUnitConversion MatchMethod = "unit_conversion"
	MatchFuzzy          MatchMethod = "fuzzy"
	MatchProvisioned    MatchMethod = "provisioned"
)

type RecipeIngredient struct {
	TemplateIngredient
	InventoryItemID  string          `json:"inventory_item_id,omitempty"`
	ConversionFactor decimal.Decimal `json:"conversion_factor"`
	MatchMethod      MatchMethod     `json:"match_method,omitempty"`
}

// InventoryQuantity converts the recipe quantity into the bound inventory unit.
func (ri RecipeIngredient) InventoryQuantity(qty decimal.Decimal) decimal.Decimal {
	if ri.ConversionFactor.IsZero() {
		return qty
	}
	return qty.Mul(ri.ConversionFactor)
}

type DeployedRecipe struct {
	ID           string             `json:"id"`
	TemplateID   string             `json:"template_id"`
	StoreID      string             `json:"store_id"`
	ProductID    string             `json:"product_id"`
	Name         string             `json:"name"`
	Active       bool               `json:"active"`
	Ingredients  []RecipeIngredient `json:"ingredients"`
	CostSnapshot decimal.Decimal    `json:"cost_snapshot"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

type GroupKind string

const (
	GroupBase      GroupKind = "base"
	GroupPackaging GroupKind = "packaging"
	GroupChoice    GroupKind = "choice"
)

// IngredientGroup is Base, Packaging or Choice{Optional}.
type IngredientGroup struct {
	Kind     GroupKind `json:"kind"`
	Optional bool      `json:"optional,omitempty"`
}

func BaseGroup() IngredientGroup      { return IngredientGroup{Kind: GroupBase} }
func PackagingGroup() IngredientGroup { return IngredientGroup{Kind: GroupPackaging} }
func ChoiceGroup(optional bool) IngredientGroup {
	return IngredientGroup{Kind: GroupChoice, Optional: optional}
}

// Mandatory reports whether the ingredient is deducted regardless of selection.
func (g IngredientGroup) Mandatory() bool {
	return g.Kind == GroupBase || g.Kind == GroupPackaging
}

func (g IngredientGroup) String() string {
	if g.Kind == GroupChoice && g.Optional {
		return "choice(optional)"
	}
	return string(g.Kind)
}

type SaleLineItem struct {
	ProductID     string `json:"product_id" validate:"required"`
	Quantity      int    `json:"quantity"`
	SelectionText string `json:"selection_text,omitempty"`
}

type VariantKind string

const VariantStandard VariantKind = "standard"

type ProductSelection struct {
	IsComposite     bool        `json:"is_composite"`
	BaseName        string      `json:"base_name"`
	VariantKind     VariantKind `json:"variant_kind"`
	SelectedOptions []string    `json:"selected_options"`
	DroppedTokens   []string    `json:"dropped_tokens,omitempty"`
}

type PlannedDelta struct {
	InventoryItemID string          `json:"inventory_item_id"`
	IngredientName  string          `json:"ingredient_name"`
	Unit            string          `json:"unit"`
	Quantity        decimal.Decimal `json:"quantity"`
	RecipeNames     []string        `json:"recipe_names"`
	Group           IngredientGroup `json:"group"`
}

func (d PlannedDelta) RecipeName() string {
	return strings.Join(d.RecipeNames, ", ")
}

type SkippedIngredient struct {
	LineIndex       int    `json:"line_index"`
	ProductID       string `json:"product_id"`
	IngredientName  string `json:"ingredient_name"`
	InventoryItemID string `json:"inventory_item_id,omitempty"`
	Reason          string `json:"reason"`
}

type UnresolvedLine struct {
	LineIndex int    `json:"line_index"`
	ProductID string `json:"product_id"`
	Reason    string `json:"reason"`
}

type UnboundIngredient struct {
	LineIndex      int    `json:"line_index"`
	ProductID      string `json:"product_id"`
	RecipeName     string `json:"recipe_name"`
	IngredientName string `json:"ingredient_name"`
}

type DeductionPlan struct {
	StoreID    string              `json:"store_id"`
	Deltas     []PlannedDelta      `json:"deltas"`
	Skipped    []SkippedIngredient `json:"skipped_items"`
	Unresolved []UnresolvedLine    `json:"unresolved"`
	Unbound    []UnboundIngredient `json:"unbound"`
}

type AppliedDelta struct {
	InventoryItemID  string          `json:"inventory_item_id"`
	IngredientName   string          `json:"ingredient_name"`
	RecipeName       string          `json:"recipe_name"`
	Group            IngredientGroup `json:"group"`
	Requested        decimal.Decimal `json:"requested"`
	PreviousQuantity decimal.Decimal `json:"previous_quantity"`
	NewQuantity      decimal.Decimal `json:"new_quantity"`
}

// Deducted is what actually left the shelf, which differs from Requested when clamped.
func (a AppliedDelta) Deducted() decimal.Decimal {
	return a.PreviousQuantity.Sub(a.NewQuantity)
}

type TransactionPhase string

const (
	PhasePreValidate       TransactionPhase = "PRE_VALIDATE"
	PhaseBegin             TransactionPhase = "BEGIN"
	PhaseDeduct            TransactionPhase = "DEDUCT"
	PhaseSideEffects       TransactionPhase = "SIDE_EFFECTS"
	PhaseAudit             TransactionPhase = "AUDIT"
	PhaseCommit            TransactionPhase = "COMMIT"
	PhaseRollback          TransactionPhase = "ROLLBACK"
	PhaseEmergencyRollback TransactionPhase = "EMERGENCY_ROLLBACK"
)

type TransactionContext struct {
	ID        string
	StoreID   string
	ActorID   string
	Lines     []SaleLineItem
	Phase     TransactionPhase
	Applied   []AppliedDelta
	StartedAt time.Time
}

type LedgerKind string

const (
	LedgerDeduction LedgerKind = "deduction"
	LedgerRollback  LedgerKind = "rollback"
	LedgerRepair    LedgerKind = "repair"
)

type LedgerEntry struct {
	ID               string          `json:"id"`
	Kind             LedgerKind      `json:"kind"`
	TransactionID    string          `json:"transactionId"`
	StoreID          string          `json:"storeId"`
	InventoryItemID  string          `json:"inventoryItemId"`
	IngredientName   string          `json:"ingredientName"`
	QuantityDeducted decimal.Decimal `json:"quantityDeducted"`
	PreviousQuantity decimal.Decimal `json:"previousQuantity"`
	NewQuantity      decimal.Decimal `json:"newQuantity"`
	RecipeName       string          `json:"recipeName"`
	IngredientGroup  string          `json:"ingredientGroup"`
	ActorID          string          `json:"actorId"`
	Timestamp        time.Time       `json:"timestamp"`
}

type LedgerFilter struct {
	StoreID       string
	TransactionID string
	Limit         int
}

const (
	MovementSaleDeduction = "sale_deduction"
	MovementSaleRollback  = "sale_rollback"
	MovementRepair        = "repair_adjustment"
)

type StockMovement struct {
	ID               string          `json:"id"`
	StoreID          string          `json:"store_id"`
	InventoryItemID  string          `json:"inventory_item_id"`
	MovementType     string          `json:"movement_type"`
	Quantity         decimal.Decimal `json:"quantity"`
	PreviousQuantity decimal.Decimal `json:"previous_quantity"`
	NewQuantity      decimal.Decimal `json:"new_quantity"`
	ReferenceID      string          `json:"reference_id"`
	CreatedBy        string          `json:"created_by"`
	Notes            string          `json:"notes,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

const SaleStatusCommitted = "committed"

type SaleRecord struct {
	TransactionID string    `json:"transaction_id"`
	StoreID       string    `json:"store_id"`
	ActorID       string    `json:"actor_id"`
	Status        string    `json:"status"`
	LineCount     int       `json:"line_count"`
	CommittedAt   time.Time `json:"committed_at"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	StoreID    string    `json:"store_id"`
	ActorID    string    `json:"actor_id"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}
