package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/dinehub/services/orders/internal/models"
	"example.com/dinehub/services/orders/internal/order"
)

// OrderFilter narrows listing queries.
type OrderFilter struct {
	Status  order.Status
	TableID string
}

// OrderRepository defines the interface for order persistence
type OrderRepository interface {
	Create(ctx context.Context, o *models.Order) error
	GetByID(ctx context.Context, id string) (*models.Order, error)
	GetActiveByTable(ctx context.Context, tableID string) (*models.Order, error)
	Update(ctx context.Context, o *models.Order) (*models.Order, error)
	ReplaceItems(ctx context.Context, o *models.Order, items []models.OrderItem, totalCents int64) (*models.Order, error)
	List(ctx context.Context, filter OrderFilter) ([]*models.Order, error)
	ListExpiredPending(ctx context.Context, cutoff time.Time) ([]*models.Order, error)
	CountLive(ctx context.Context) (int64, error)
	PruneToCap(ctx context.Context, cap int) (int, error)
}

// orderRepository implements OrderRepository
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

// Create inserts a new order with its items.
func (r *orderRepository) Create(ctx context.Context, o *models.Order) error {
	if err := r.db.WithContext(ctx).Create(o).Error; err != nil {
		return errors.Wrap(err, "failed to create order")
	}
	return nil
}

// GetByID gets an order by ID. Soft-deleted orders are returned; direct-by-id
// lookups see them, listings do not.
func (r *orderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	var o models.Order
	err := r.db.WithContext(ctx).Preload("Items").Where("id = ?", id).First(&o).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

// GetActiveByTable gets the most recent order for a table that is neither paid
// nor soft-deleted.
func (r *orderRepository) GetActiveByTable(ctx context.Context, tableID string) (*models.Order, error) {
	var o models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("table_id = ? AND status <> ? AND deleted_at IS NULL", tableID, order.StatusPaid).
		Order("created_at DESC").
		First(&o).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

// Update persists status, lock, deletion and metadata changes, bumping the
// version column on the way through.
func (r *orderRepository) Update(ctx context.Context, o *models.Order) (*models.Order, error) {
	o.Version++
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", o.ID).
		Select("TableID", "Status", "TotalCents", "LockedAt", "DeletedAt", "Metadata", "Version").
		Updates(o).Error
	if err != nil {
		o.Version--
		return nil, errors.Wrap(err, "failed to update order")
	}
	return o, nil
}

// ReplaceItems swaps the order's item rows and total inside one transaction.
// The order row update is conditional on the version the caller loaded, so a
// concurrent item edit surfaces as ErrVersionConflict instead of a lost update.
func (r *orderRepository) ReplaceItems(ctx context.Context, o *models.Order, items []models.OrderItem, totalCents int64) (*models.Order, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Order{}).
			Where("id = ? AND version = ?", o.ID, o.Version).
			Updates(map[string]interface{}{
				"total_cents": totalCents,
				"version":     o.Version + 1,
			})
		if result.Error != nil {
			return errors.Wrap(result.Error, "failed to update order total")
		}
		if result.RowsAffected == 0 {
			return ErrVersionConflict
		}

		if err := tx.Where("order_id = ?", o.ID).Delete(&models.OrderItem{}).Error; err != nil {
			return errors.Wrap(err, "failed to clear order items")
		}
		if len(items) > 0 {
			if err := tx.Create(&items).Error; err != nil {
				return errors.Wrap(err, "failed to insert order items")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.Items = items
	o.TotalCents = totalCents
	o.Version++
	return o, nil
}

// List returns orders matching the filter, newest first, excluding
// soft-deleted rows.
func (r *orderRepository) List(ctx context.Context, filter OrderFilter) ([]*models.Order, error) {
	query := r.db.WithContext(ctx).
		Preload("Items").
		Where("deleted_at IS NULL").
		Order("created_at DESC")

	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.TableID != "" {
		query = query.Where("table_id = ?", filter.TableID)
	}

	var orders []*models.Order
	if err := query.Find(&orders).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list orders")
	}
	return orders, nil
}

// ListExpiredPending returns pending, non-deleted orders created at or before
// the cutoff. Used by the auto-confirm sweep.
func (r *orderRepository) ListExpiredPending(ctx context.Context, cutoff time.Time) ([]*models.Order, error) {
	var orders []*models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("status = ? AND deleted_at IS NULL AND created_at <= ?", order.StatusPending, cutoff).
		Find(&orders).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list expired pending orders")
	}
	return orders, nil
}

// CountLive counts orders that have not been soft-deleted.
func (r *orderRepository) CountLive(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("deleted_at IS NULL").
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to count orders")
	}
	return count, nil
}

// PruneToCap hard-deletes the oldest non-deleted orders (and their items)
// until at most cap remain. Returns the number of orders removed.
func (r *orderRepository) PruneToCap(ctx context.Context, cap int) (int, error) {
	count, err := r.CountLive(ctx)
	if err != nil {
		return 0, err
	}
	excess := int(count) - cap
	if excess <= 0 {
		return 0, nil
	}

	var ids []string
	err = r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("deleted_at IS NULL").
		Order("created_at ASC").
		Limit(excess).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to select orders for pruning")
	}
	if len(ids) == 0 {
		return 0, nil
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("order_id IN ?", ids).Delete(&models.OrderItem{}).Error; err != nil {
			return errors.Wrap(err, "failed to delete pruned order items")
		}
		if err := tx.Where("id IN ?", ids).Delete(&models.Order{}).Error; err != nil {
			return errors.Wrap(err, "failed to delete pruned orders")
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}
