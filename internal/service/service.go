package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/dinehub/services/orders/internal/audit"
	"example.com/dinehub/services/orders/internal/cache"
	"example.com/dinehub/services/orders/internal/catalog"
	"example.com/dinehub/services/orders/internal/metrics"
	"example.com/dinehub/services/orders/internal/models"
	"example.com/dinehub/services/orders/internal/order"
	"example.com/dinehub/services/orders/internal/repository"
	"example.com/dinehub/services/orders/internal/search"
	"example.com/dinehub/services/orders/internal/task"
)

// activeOrderTTL bounds staleness of the active-order-by-table cache entry.
const activeOrderTTL = 30 * time.Second

// ItemInput is one order line as submitted by a client.
type ItemInput struct {
	ItemID         string `json:"item_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	DisplayName    string `json:"display_name"`
	ImageURL       string `json:"image_url,omitempty"`
}

// CreateOrderRequest carries the fields needed to create an order. ID and
// CreatedAt may be pre-set by offline-originated orders so the edit window
// anchors to the true placement time.
type CreateOrderRequest struct {
	ID         string          `json:"id,omitempty"`
	TableID    string          `json:"table_id"`
	Items      []ItemInput     `json:"items"`
	TotalCents int64           `json:"total_cents"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  *time.Time      `json:"created_at,omitempty"`
}

// OverrideFields is the admin escape hatch: any non-nil field is written
// directly, bypassing the state machine and the edit window.
type OverrideFields struct {
	Items      *[]ItemInput  `json:"items,omitempty"`
	TotalCents *int64        `json:"total_cents,omitempty"`
	TableID    *string       `json:"table_id,omitempty"`
	Status     *order.Status `json:"status,omitempty"`
}

// OrderService is the sole authority that mutates persisted order state. It
// composes the state machine and edit-window policy with persistence, audit
// emission and catalog enrichment.
type OrderService struct {
	repo         repository.OrderRepository
	audit        audit.Recorder
	resolver     catalog.Resolver
	cache        *cache.RedisCache
	elastic      *search.ElasticClient
	metrics      *metrics.Metrics
	tasks        *task.Runner
	clock        clockwork.Clock
	retentionCap int
}

// NewOrderService creates a new order service. cache, elastic and resolver
// may be nil; the corresponding side channels are skipped.
func NewOrderService(
	repo repository.OrderRepository,
	auditRecorder audit.Recorder,
	resolver catalog.Resolver,
	redisCache *cache.RedisCache,
	elastic *search.ElasticClient,
	metricsCollector *metrics.Metrics,
	tasks *task.Runner,
	clock clockwork.Clock,
	retentionCap int,
) *OrderService {
	return &OrderService{
		repo:         repo,
		audit:        auditRecorder,
		resolver:     resolver,
		cache:        redisCache,
		elastic:      elastic,
		metrics:      metricsCollector,
		tasks:        tasks,
		clock:        clock,
		retentionCap: retentionCap,
	}
}

// Create stores a new pending order. Creation always succeeds structurally;
// the client-supplied total is taken as the write-time value. Retention
// cleanup runs detached and never delays or fails the response.
func (s *OrderService) Create(ctx context.Context, req CreateOrderRequest) (*models.Order, error) {
	return s.create(ctx, req, "order.create", req.Metadata)
}

func (s *OrderService) create(ctx context.Context, req CreateOrderRequest, action string, metadata json.RawMessage) (*models.Order, error) {
	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}
	tableID := req.TableID
	if tableID == "" {
		tableID = "unknown"
	}

	o := &models.Order{
		ID:         id,
		TableID:    tableID,
		Status:     order.StatusPending,
		TotalCents: req.TotalCents,
		Metadata:   metadata,
		Version:    1,
		Items:      buildItems(id, req.Items),
		CreatedAt:  s.clock.Now(),
	}
	if req.CreatedAt != nil && !req.CreatedAt.IsZero() {
		o.CreatedAt = *req.CreatedAt
	}

	if err := s.repo.Create(ctx, o); err != nil {
		s.count("order_create_failed")
		return nil, err
	}
	s.count("order_create")

	s.recordMutation(*o, action, "", nil, map[string]interface{}{
		"status":      o.Status,
		"total_cents": o.TotalCents,
	})

	// Retention cleanup is fire-and-forget: its failure is logged only.
	capSize := s.retentionCap
	s.tasks.Go("retention-cleanup", func(taskCtx context.Context) error {
		pruned, err := s.repo.PruneToCap(taskCtx, capSize)
		if err != nil {
			return err
		}
		if pruned > 0 {
			log.Info().Int("pruned", pruned).Msg("Retention cleanup removed old orders")
		}
		return nil
	})

	return o, nil
}

// GetByID gets an order by id. Soft-deleted orders are returned; the caller
// decides whether to mask them.
func (s *OrderService) GetByID(ctx context.Context, id string) (*models.Order, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.enrich(ctx, o)
	return o, nil
}

// GetActiveByTable returns the table's most recent live order, or nil when
// the table has none.
func (s *OrderService) GetActiveByTable(ctx context.Context, tableID string) (*models.Order, error) {
	key := cache.GetActiveOrderCacheKey(tableID)

	if s.cache != nil {
		var cached models.Order
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			s.enrich(ctx, &cached)
			return &cached, nil
		}
	}

	o, err := s.repo.GetActiveByTable(ctx, tableID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, o, activeOrderTTL); err != nil {
			log.Warn().Err(err).Str("table_id", tableID).Msg("Failed to cache active order")
		}
	}

	s.enrich(ctx, o)
	return o, nil
}

// UpdateItems replaces the order's items inside the edit window. The stored
// total is recomputed from the submitted items; the client-supplied total is
// not trusted.
func (s *OrderService) UpdateItems(ctx context.Context, id string, items []ItemInput, totalCents int64) (*models.Order, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.guardItemEdit(o); err != nil {
		s.count("order_update_items_rejected")
		return nil, err
	}

	newItems := buildItems(o.ID, items)
	recomputed := sumItems(newItems)
	if recomputed != totalCents {
		log.Warn().
			Str("order_id", o.ID).
			Int64("client_total", totalCents).
			Int64("recomputed_total", recomputed).
			Msg("Client total disagrees with item sum, storing recomputed total")
	}

	before := map[string]interface{}{"items": o.Items, "total_cents": o.TotalCents}

	updated, err := s.repo.ReplaceItems(ctx, o, newItems, recomputed)
	if errors.Is(err, repository.ErrVersionConflict) {
		// One concurrent edit slipped in; reload, re-guard and replay once.
		o, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := s.guardItemEdit(o); err != nil {
			return nil, err
		}
		updated, err = s.repo.ReplaceItems(ctx, o, newItems, recomputed)
	}
	if err != nil {
		return nil, err
	}
	s.count("order_update_items")

	s.recordMutation(*updated, "order.update_items", "", before, map[string]interface{}{
		"items":       updated.Items,
		"total_cents": updated.TotalCents,
	})

	return updated, nil
}

func (s *OrderService) guardItemEdit(o *models.Order) error {
	if o.DeletedAt != nil {
		return ErrAlreadyDeleted
	}
	if !order.IsEditable(o.CreatedAt, s.clock.Now()) {
		return ErrEditWindowExpired
	}
	if o.Status != order.StatusPending {
		return ErrNotPending
	}
	return nil
}

// UpdateStatus advances the order one step along the lifecycle chain. Role
// gating belongs to the caller; the service only consults the state machine.
func (s *OrderService) UpdateStatus(ctx context.Context, id string, requested order.Status, actor string) (*models.Order, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.DeletedAt != nil {
		return nil, ErrAlreadyDeleted
	}
	return s.transition(ctx, o, requested, actor, "order.update_status")
}

// MarkPaid settles a completed order.
func (s *OrderService) MarkPaid(ctx context.Context, id string, actor string) (*models.Order, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.DeletedAt != nil {
		return nil, ErrAlreadyDeleted
	}
	if o.Status != order.StatusCompleted {
		return nil, ErrNotCompleted
	}
	return s.transition(ctx, o, order.StatusPaid, actor, "order.mark_paid")
}

// SoftDelete hides the order from listings and freezes its lifecycle. The
// status is left as it was; paid orders can never be deleted.
func (s *OrderService) SoftDelete(ctx context.Context, id string, actor string) (*models.Order, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.DeletedAt != nil {
		return nil, ErrAlreadyDeleted
	}
	if o.Status == order.StatusPaid {
		return nil, ErrCannotDeletePaid
	}

	now := s.clock.Now()
	o.DeletedAt = &now
	updated, err := s.repo.Update(ctx, o)
	if err != nil {
		return nil, err
	}
	s.count("order_soft_delete")

	s.recordMutation(*updated, "order.soft_delete", actor, nil, map[string]interface{}{
		"deleted_at": now,
	})
	return updated, nil
}

// AdminOverride writes the given fields directly, bypassing the state machine
// and the edit window. It exists for operator correction and is audited under
// its own action so overrides stand out in the trail.
func (s *OrderService) AdminOverride(ctx context.Context, id string, fields OverrideFields, actor string) (*models.Order, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	before := map[string]interface{}{
		"status":      o.Status,
		"total_cents": o.TotalCents,
		"table_id":    o.TableID,
		"items":       o.Items,
	}

	if fields.Items != nil {
		total := sumItems(buildItems(o.ID, *fields.Items))
		if fields.TotalCents != nil {
			total = *fields.TotalCents
		}
		if o, err = s.repo.ReplaceItems(ctx, o, buildItems(o.ID, *fields.Items), total); err != nil {
			return nil, err
		}
	} else if fields.TotalCents != nil {
		o.TotalCents = *fields.TotalCents
	}

	if fields.TableID != nil {
		o.TableID = *fields.TableID
	}
	if fields.Status != nil {
		o.Status = *fields.Status
		// Keep the lock invariant intact even on an override path.
		if o.Status != order.StatusPending {
			o.LockedAt = order.LockAt(o.LockedAt, s.clock.Now())
		}
	}

	updated, err := s.repo.Update(ctx, o)
	if err != nil {
		return nil, err
	}
	s.count("order_admin_override")

	s.recordMutation(*updated, "order.admin_override", actor, before, map[string]interface{}{
		"status":      updated.Status,
		"total_cents": updated.TotalCents,
		"table_id":    updated.TableID,
		"items":       updated.Items,
	})
	return updated, nil
}

// ConfirmIfExpired performs the pending-to-confirmed transition when the edit
// window has elapsed, and returns the order unchanged otherwise. Safe to call
// repeatedly; the second call on an already-confirmed order is a no-op.
func (s *OrderService) ConfirmIfExpired(ctx context.Context, id string) (*models.Order, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.DeletedAt != nil || o.Status != order.StatusPending {
		return o, nil
	}
	if order.IsEditable(o.CreatedAt, s.clock.Now()) {
		return o, nil
	}
	return s.transition(ctx, o, order.StatusConfirmed, "system", "order.auto_confirm")
}

// SweepExpired runs ConfirmIfExpired over every pending order past the edit
// window. Server-side backstop to the device-local expiry tick.
func (s *OrderService) SweepExpired(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().Add(-order.EditWindow)
	expired, err := s.repo.ListExpiredPending(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	confirmed := 0
	for _, o := range expired {
		if _, err := s.ConfirmIfExpired(ctx, o.ID); err != nil {
			log.Error().Err(err).Str("order_id", o.ID).Msg("Failed to auto-confirm expired order")
			continue
		}
		confirmed++
	}
	return confirmed, nil
}

// SyncBatch upserts offline-originated orders idempotently. Missing orders
// are created with their original placement time and tagged as sync-sourced;
// existing orders are updated only while still pending and editable, and
// returned as-is otherwise.
func (s *OrderService) SyncBatch(ctx context.Context, incoming []CreateOrderRequest) ([]*models.Order, error) {
	results := make([]*models.Order, 0, len(incoming))
	for _, req := range incoming {
		existing, err := s.repo.GetByID(ctx, req.ID)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				return nil, err
			}
			created, err := s.create(ctx, req, "order.sync_create", syncMetadata(req.Metadata))
			if err != nil {
				return nil, err
			}
			results = append(results, created)
			continue
		}

		if s.guardItemEdit(existing) != nil {
			results = append(results, existing)
			continue
		}

		newItems := buildItems(existing.ID, req.Items)
		updated, err := s.repo.ReplaceItems(ctx, existing, newItems, sumItems(newItems))
		if err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				results = append(results, existing)
				continue
			}
			return nil, err
		}
		results = append(results, updated)
	}
	s.count("order_sync_batch")
	return results, nil
}

// List returns non-deleted orders matching the filter, newest first,
// enriched against the catalog.
func (s *OrderService) List(ctx context.Context, filter repository.OrderFilter) ([]*models.Order, error) {
	orders, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		s.enrich(ctx, o)
	}
	return orders, nil
}

// transition applies an accepted state-machine step and its side effects.
func (s *OrderService) transition(ctx context.Context, o *models.Order, requested order.Status, actor, action string) (*models.Order, error) {
	if err := order.AttemptTransition(o.Status, requested); err != nil {
		s.count("order_transition_rejected")
		return nil, ErrInvalidTransition
	}

	before := o.Status
	o.Status = requested
	if requested == order.StatusConfirmed {
		o.LockedAt = order.LockAt(o.LockedAt, s.clock.Now())
	}

	updated, err := s.repo.Update(ctx, o)
	if err != nil {
		return nil, err
	}
	s.count("order_transition")

	s.recordMutation(*updated, action, actor,
		map[string]interface{}{"status": before},
		map[string]interface{}{"status": requested},
	)
	return updated, nil
}

// recordMutation emits the audit record, re-indexes the order and drops the
// table's active-order cache entry. All of it is best-effort background work.
func (s *OrderService) recordMutation(snapshot models.Order, action, actor string, before, after interface{}) {
	s.tasks.Go("audit-append", func(ctx context.Context) error {
		if s.audit == nil {
			return nil
		}
		return s.audit.Append(ctx, audit.Entry{
			Action:   action,
			EntityID: snapshot.ID,
			Actor:    actor,
			Before:   before,
			After:    after,
		})
	})

	s.tasks.Go("search-index", func(ctx context.Context) error {
		if s.elastic == nil {
			return nil
		}
		return s.elastic.IndexOrder(ctx, &snapshot)
	})

	s.tasks.Go("cache-invalidate", func(ctx context.Context) error {
		if s.cache == nil {
			return nil
		}
		return s.cache.Delete(ctx, cache.GetActiveOrderCacheKey(snapshot.TableID))
	})
}

// enrich resolves display fields against the catalog snapshot at read time.
// Unit prices as written stay authoritative for the stored total; a catalog
// miss leaves the item's embedded fallback fields untouched.
func (s *OrderService) enrich(ctx context.Context, o *models.Order) {
	if s.resolver == nil {
		return
	}
	for i := range o.Items {
		resolved, err := s.resolver.Resolve(ctx, o.Items[i].ItemID)
		if err != nil || resolved == nil {
			continue
		}
		if resolved.Name != "" {
			o.Items[i].DisplayName = resolved.Name
		}
		if resolved.ImageURL != "" {
			o.Items[i].ImageURL = resolved.ImageURL
		}
	}
}

func (s *OrderService) count(name string) {
	if s.metrics != nil {
		s.metrics.IncrementCounter(name)
	}
}

func buildItems(orderID string, inputs []ItemInput) []models.OrderItem {
	items := make([]models.OrderItem, 0, len(inputs))
	for _, in := range inputs {
		if in.Quantity <= 0 {
			continue
		}
		items = append(items, models.OrderItem{
			ID:             uuid.New().String(),
			OrderID:        orderID,
			ItemID:         in.ItemID,
			Quantity:       in.Quantity,
			UnitPriceCents: in.UnitPriceCents,
			DisplayName:    in.DisplayName,
			ImageURL:       in.ImageURL,
		})
	}
	return items
}

func sumItems(items []models.OrderItem) int64 {
	var total int64
	for _, item := range items {
		total += item.UnitPriceCents * int64(item.Quantity)
	}
	return total
}

func syncMetadata(existing json.RawMessage) json.RawMessage {
	meta := map[string]interface{}{}
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &meta); err != nil {
			meta = map[string]interface{}{}
		}
	}
	meta["source"] = "sync"
	data, err := json.Marshal(meta)
	if err != nil {
		return existing
	}
	return data
}
