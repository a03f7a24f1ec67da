package client

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"example.com/dinehub/services/orders/internal/order"
)

// OrderCache is the device's optimistic mirror of one table's active order.
// Mutations apply locally first; the sync engine reconciles them with the
// server. Every mutation is persisted so a reload restores in-flight state.
//
// Adding an item is always permitted. Removing or shrinking one is gated:
// only before placement, or while the placed order is still pending inside
// its edit window.
type OrderCache struct {
	mu      sync.Mutex
	tableID string
	snap    *Snapshot
	store   Store
	clock   clockwork.Clock
}

// NewOrderCache creates a cache for one table, restoring any persisted
// snapshot.
func NewOrderCache(tableID string, store Store, clock clockwork.Clock) (*OrderCache, error) {
	snap, err := store.LoadSnapshot(tableID)
	if err != nil {
		return nil, err
	}
	return &OrderCache{
		tableID: tableID,
		snap:    snap,
		store:   store,
		clock:   clock,
	}, nil
}

// AddItem adds one line to the order, creating a cart when none exists yet.
// Adding to an existing item id increments its quantity.
func (c *OrderCache) AddItem(item Item) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snap == nil {
		c.snap = &Snapshot{
			OrderID: uuid.New().String(),
			TableID: c.tableID,
			Status:  order.StatusPending,
		}
	}

	if item.Quantity <= 0 {
		item.Quantity = 1
	}

	found := false
	for i := range c.snap.Items {
		if c.snap.Items[i].ItemID == item.ItemID {
			c.snap.Items[i].Quantity += item.Quantity
			found = true
			break
		}
	}
	if !found {
		c.snap.Items = append(c.snap.Items, item)
	}

	c.finishMutation()
}

// RemoveItem removes the line with the given item id. Silently a no-op when
// the order is no longer editable.
func (c *OrderCache) RemoveItem(itemID string) {
	c.SetQuantity(itemID, 0)
}

// SetQuantity sets a line's quantity; zero or negative removes the line.
// Silently a no-op when the order is no longer editable.
func (c *OrderCache) SetQuantity(itemID string, qty int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snap == nil || !c.canShrink() {
		return
	}

	changed := false
	items := c.snap.Items[:0]
	for _, item := range c.snap.Items {
		if item.ItemID != itemID {
			items = append(items, item)
			continue
		}
		changed = true
		if qty > 0 {
			item.Quantity = qty
			items = append(items, item)
		}
	}
	if !changed {
		return
	}
	c.snap.Items = items

	c.finishMutation()
}

// Place turns the cart into a placed order by stamping the placement time.
// No-op if already placed. Purely local; sending the create request is the
// sync engine's job.
func (c *OrderCache) Place() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snap == nil {
		return nil
	}
	if !c.snap.Placed() {
		c.snap.PlacedAt = c.clock.Now().UnixMilli()
		c.persist()
	}
	return c.copySnapshot()
}

// Snapshot returns a copy of the current local state, or nil when the table
// has no local order.
func (c *OrderCache) Snapshot() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copySnapshot()
}

// HasUnsavedChanges reports whether a placed order carries local edits the
// server has not accepted yet.
func (c *OrderCache) HasUnsavedChanges() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap != nil && c.snap.Dirty
}

// ClearDirty marks local edits as accepted by the server.
func (c *OrderCache) ClearDirty() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap == nil || !c.snap.Dirty {
		return
	}
	c.snap.Dirty = false
	c.persist()
}

// ApplyServerStatus merges a server-observed status into the local snapshot.
// Only the status moves; items and total stay device-owned. Returns true when
// the status actually changed.
func (c *OrderCache) ApplyServerStatus(status order.Status) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snap == nil || !c.snap.Placed() || c.snap.Status == status {
		return false
	}
	c.snap.Status = status
	c.persist()
	return true
}

// ExpireIfDue applies the local auto-confirm once the edit window has elapsed
// for a placed, still-pending order. Idempotent; returns true on the tick
// that performed the transition.
func (c *OrderCache) ExpireIfDue() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snap == nil || !c.snap.Placed() || c.snap.Status != order.StatusPending {
		return false
	}
	if order.IsEditable(c.snap.PlacedTime(), c.clock.Now()) {
		return false
	}
	c.snap.Status = order.StatusConfirmed
	c.persist()
	return true
}

// EditRemaining returns how much of the edit window is left, zero once it has
// elapsed. A cart has the full window ahead of it.
func (c *OrderCache) EditRemaining() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snap == nil {
		return 0
	}
	return order.Remaining(c.snap.PlacedTime(), c.clock.Now()).Milliseconds()
}

// Reset clears the local order, e.g. after it was paid and shown to the
// customer.
func (c *OrderCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.snap = nil
	if err := c.store.DeleteSnapshot(c.tableID); err != nil {
		log.Warn().Err(err).Str("table_id", c.tableID).Msg("Failed to delete order snapshot")
	}
}

// canShrink is the removal gate: a cart is always editable; a placed order
// only while pending inside the edit window. Caller holds the lock.
func (c *OrderCache) canShrink() bool {
	if !c.snap.Placed() {
		return true
	}
	return c.snap.Status == order.StatusPending &&
		order.IsEditable(c.snap.PlacedTime(), c.clock.Now())
}

// finishMutation recomputes the total, marks placed orders dirty and
// persists. Caller holds the lock.
func (c *OrderCache) finishMutation() {
	var total int64
	for _, item := range c.snap.Items {
		total += item.UnitPriceCents * int64(item.Quantity)
	}
	c.snap.TotalCents = total

	if c.snap.Placed() {
		c.snap.Dirty = true
	}
	c.persist()
}

func (c *OrderCache) persist() {
	if err := c.store.SaveSnapshot(c.snap); err != nil {
		log.Warn().Err(err).Str("table_id", c.tableID).Msg("Failed to persist order snapshot")
	}
}

func (c *OrderCache) copySnapshot() *Snapshot {
	if c.snap == nil {
		return nil
	}
	cp := *c.snap
	cp.Items = append([]Item(nil), c.snap.Items...)
	return &cp
}
