// Package events publishes domain events about sales and recipe maintenance.
package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

const (
	TypeSaleCommitted   = "sale.committed"
	TypeSaleRolledBack  = "sale.rolled_back"
	TypeTemplateSynced  = "template.synced"
	TypeHealthCompleted = "health.completed"
)

type Event struct {
	Type          string          `json:"type"`
	StoreID       string          `json:"store_id"`
	TransactionID string          `json:"transaction_id,omitempty"`
	EntityID      string          `json:"entity_id,omitempty"`
	ActorID       string          `json:"actor_id,omitempty"`
	ItemCount     int             `json:"item_count,omitempty"`
	Quantity      decimal.Decimal `json:"quantity"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Key partitions events so one store's events stay ordered.
func (e Event) Key() string {
	if e.StoreID != "" {
		return e.StoreID
	}
	return e.EntityID
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
func (NoopPublisher) Close() error                        { return nil }
