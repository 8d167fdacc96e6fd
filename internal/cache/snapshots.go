package cache

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"dapurstok/backend/internal/domain"
)

type InventorySource interface {
	ListInventoryItems(ctx context.Context, storeID string) ([]domain.InventoryStockItem, error)
}

// Snapshots reads store inventory through the cache. Cache failures are
// logged and fall through to the source.
type Snapshots struct {
	cache  InventoryCache
	source InventorySource
	ttl    time.Duration
	log    logrus.FieldLogger
}

func NewSnapshots(c InventoryCache, source InventorySource, ttl time.Duration, log logrus.FieldLogger) *Snapshots {
	if c == nil {
		c = NoopInventoryCache{}
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Snapshots{cache: c, source: source, ttl: ttl, log: log.WithField("component", "cache")}
}

func (s *Snapshots) Load(ctx context.Context, storeID string) ([]domain.InventoryStockItem, error) {
	items, ok, err := s.cache.Get(ctx, storeID)
	if err != nil {
		s.log.WithError(err).WithField("store_id", storeID).Warn("inventory cache read failed")
	}
	if ok {
		return items, nil
	}

	items, err = s.source.ListInventoryItems(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, storeID, items, s.ttl); err != nil {
		s.log.WithError(err).WithField("store_id", storeID).Warn("inventory cache write failed")
	}
	return items, nil
}

func (s *Snapshots) Invalidate(ctx context.Context, storeID string) {
	if err := s.cache.Invalidate(ctx, storeID); err != nil {
		s.log.WithError(err).WithField("store_id", storeID).Warn("inventory cache invalidation failed")
	}
}
