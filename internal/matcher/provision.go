package matcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"dapurstok/backend/internal/domain"
	"dapurstok/backend/internal/store"
)

type ProvisionStore interface {
	ListInventoryItems(ctx context.Context, storeID string) ([]domain.InventoryStockItem, error)
	CreateInventoryItem(ctx context.Context, item domain.InventoryStockItem) (*domain.InventoryStockItem, error)
	FindCatalogItem(ctx context.Context, name string) (*domain.CatalogItem, error)
}

// StoreInventory is a per-store snapshot shared by all bindings in one sync
// run. Rows provisioned during the run are appended so later recipes reuse them.
type StoreInventory struct {
	mu      sync.Mutex
	StoreID string
	Items   []domain.InventoryStockItem
}

func NewStoreInventory(storeID string, items []domain.InventoryStockItem) *StoreInventory {
	return &StoreInventory{StoreID: storeID, Items: items}
}

type Binding struct {
	Ingredient  domain.RecipeIngredient
	Item        domain.InventoryStockItem
	Provisioned bool
}

type Provisioner struct {
	matcher *Matcher
	repo    ProvisionStore
	log     logrus.FieldLogger
}

func NewProvisioner(m *Matcher, repo ProvisionStore, log logrus.FieldLogger) *Provisioner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Provisioner{matcher: m, repo: repo, log: log.WithField("component", "matcher")}
}

func (p *Provisioner) Matcher() *Matcher {
	return p.matcher
}

// Load reads a store's inventory into a fresh snapshot.
func (p *Provisioner) Load(ctx context.Context, storeID string) (*StoreInventory, error) {
	items, err := p.repo.ListInventoryItems(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("list inventory for %s: %w", storeID, err)
	}
	return NewStoreInventory(storeID, items), nil
}

// Resolve binds a template ingredient to the snapshot's store, creating a
// zero-stock row cloned from the central catalog when nothing matches.
func (p *Provisioner) Resolve(ctx context.Context, inv *StoreInventory, ti domain.TemplateIngredient) (Binding, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	match, err := p.matcher.Match(inv.StoreID, ti.Name, ti.Unit, inv.Items)
	if err == nil {
		return Binding{
			Ingredient: domain.RecipeIngredient{
				TemplateIngredient: ti,
				InventoryItemID:    match.Item.ID,
				ConversionFactor:   match.ConversionFactor,
				MatchMethod:        match.Method,
			},
			Item: match.Item,
		}, nil
	}
	if !domain.IsMatchNotFound(err) {
		return Binding{}, err
	}

	item, factor, err := p.provision(ctx, inv.StoreID, ti)
	if err != nil {
		return Binding{}, fmt.Errorf("provision %q for %s: %w", ti.Name, inv.StoreID, err)
	}
	inv.Items = append(inv.Items, *item)
	p.log.WithFields(logrus.Fields{
		"store_id":          inv.StoreID,
		"ingredient":        ti.Name,
		"inventory_item_id": item.ID,
	}).Info("provisioned missing inventory item")

	return Binding{
		Ingredient: domain.RecipeIngredient{
			TemplateIngredient: ti,
			InventoryItemID:    item.ID,
			ConversionFactor:   factor,
			MatchMethod:        domain.MatchProvisioned,
		},
		Item:        *item,
		Provisioned: true,
	}, nil
}

func (p *Provisioner) provision(ctx context.Context, storeID string, ti domain.TemplateIngredient) (*domain.InventoryStockItem, decimal.Decimal, error) {
	item := domain.InventoryStockItem{
		StoreID:       storeID,
		ItemName:      strings.TrimSpace(ti.Name),
		Unit:          p.matcher.NormalizeUnit(ti.Unit),
		StockQuantity: decimal.Zero,
		Active:        true,
	}
	if ti.Quantity.IsPositive() {
		item.UnitCost = ti.Cost.Div(ti.Quantity)
	}
	factor := decimal.NewFromInt(1)

	catalogItem, err := p.lookupCatalog(ctx, ti.Name)
	if err != nil {
		return nil, decimal.Zero, err
	}
	if catalogItem != nil {
		if f, ok := p.matcher.Factor(ti.Unit, catalogItem.Unit); ok {
			item.ItemName = catalogItem.Name
			item.Unit = p.matcher.NormalizeUnit(catalogItem.Unit)
			item.UnitCost = catalogItem.UnitCost
			item.MinimumThreshold = catalogItem.MinimumThreshold
			factor = f
		} else {
			p.log.WithFields(logrus.Fields{
				"ingredient":   ti.Name,
				"unit":         ti.Unit,
				"catalog_unit": catalogItem.Unit,
			}).Warn("catalog unit not convertible; provisioning in recipe unit")
		}
	}

	created, err := p.repo.CreateInventoryItem(ctx, item)
	if err != nil {
		return nil, decimal.Zero, err
	}
	return created, factor, nil
}

func (p *Provisioner) lookupCatalog(ctx context.Context, name string) (*domain.CatalogItem, error) {
	candidates := []string{name}
	if canonical := p.matcher.CanonicalName(name); canonical != strings.ToLower(name) {
		candidates = append(candidates, canonical)
	}
	for _, n := range candidates {
		item, err := p.repo.FindCatalogItem(ctx, n)
		if err == nil {
			return item, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	return nil, nil
}
