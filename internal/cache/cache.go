package cache

import (
	"context"
	"time"

	"dapurstok/backend/internal/domain"
)

// InventoryCache holds per-store inventory snapshots used by read-heavy batch
// paths. Writers call Invalidate after any stock or binding change.
type InventoryCache interface {
	Get(ctx context.Context, storeID string) ([]domain.InventoryStockItem, bool, error)
	Set(ctx context.Context, storeID string, items []domain.InventoryStockItem, ttl time.Duration) error
	Invalidate(ctx context.Context, storeID string) error
}

type NoopInventoryCache struct{}

func (NoopInventoryCache) Get(_ context.Context, _ string) ([]domain.InventoryStockItem, bool, error) {
	return nil, false, nil
}

func (NoopInventoryCache) Set(_ context.Context, _ string, _ []domain.InventoryStockItem, _ time.Duration) error {
	return nil
}

func (NoopInventoryCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
