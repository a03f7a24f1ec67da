package models

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/dinehub/services/orders/internal/order"
)

// Order is the central entity: one table's meal, progressing through the
// fixed lifecycle chain. DeletedAt is an explicit column rather than gorm's
// soft delete because soft-deleted orders stay visible to direct-by-id
// lookups while being excluded from listings.
type Order struct {
	ID         string          `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	TableID    string          `gorm:"not null;index" json:"table_id"`
	Status     order.Status    `gorm:"not null;default:'pending'" json:"status"`
	TotalCents int64           `gorm:"not null;default:0" json:"total_cents"`
	LockedAt   *time.Time      `json:"locked_at"`
	DeletedAt  *time.Time      `gorm:"index" json:"deleted_at"`
	Version    int64           `gorm:"not null;default:1" json:"version"`
	Metadata   json.RawMessage `gorm:"type:jsonb" json:"metadata,omitempty"`
	Items      []OrderItem     `gorm:"foreignKey:OrderID" json:"items"`
}

// OrderItem is one line of an order. Quantities are positive; a line at
// quantity zero is removed rather than stored.
type OrderItem struct {
	ID             string `gorm:"type:uuid;primaryKey" json:"id"`
	OrderID        string `gorm:"type:uuid;not null;index" json:"order_id"`
	ItemID         string `gorm:"not null" json:"item_id"`
	Quantity       int    `gorm:"not null" json:"quantity"`
	UnitPriceCents int64  `gorm:"not null" json:"unit_price_cents"`
	DisplayName    string `json:"display_name"`
	ImageURL       string `json:"image_url,omitempty"`
}

// AuditRecord is an append-only trace of order mutations.
type AuditRecord struct {
	ID         string          `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	Action     string          `gorm:"not null;index" json:"action"`
	EntityType string          `gorm:"not null" json:"entity_type"`
	EntityID   string          `gorm:"not null;index" json:"entity_id"`
	Actor      string          `json:"actor,omitempty"`
	Before     json.RawMessage `gorm:"type:jsonb" json:"before,omitempty"`
	After      json.RawMessage `gorm:"type:jsonb" json:"after,omitempty"`
	Metadata   json.RawMessage `gorm:"type:jsonb" json:"metadata,omitempty"`
}

// ComputeTotal sums unit price times quantity over the order's items.
func (o *Order) ComputeTotal() int64 {
	var total int64
	for _, item := range o.Items {
		total += item.UnitPriceCents * int64(item.Quantity)
	}
	return total
}

// Active reports whether the order still counts as the table's live order.
func (o *Order) Active() bool {
	return o.Status != order.StatusPaid && o.DeletedAt == nil
}

// SetupModels configures GORM models and runs migrations
func SetupModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&Order{},
		&OrderItem{},
		&AuditRecord{},
	)
	if err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}
	return nil
}
