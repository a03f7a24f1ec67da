package client

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"example.com/dinehub/services/orders/internal/order"
)

const (
	// flushAttempts bounds one flush invocation; the queue itself is
	// retried on every later trigger, unbounded overall.
	flushAttempts = 3

	pollInterval       = 30 * time.Second
	expiryTickInterval = time.Second

	// paidResetDelay lets the UI show the paid state before the local
	// order is cleared.
	paidResetDelay = 5 * time.Second
)

// PlaceResult tells the caller what happened to their order. Queued means the
// network was down and the order is safely waiting for the next flush; the
// customer is never handed an error for that.
type PlaceResult struct {
	Order  *Snapshot `json:"order"`
	Queued bool      `json:"queued"`
}

// SyncEngine bridges the order cache and the server across an unreliable
// network: it pushes placements and edits out, retries queued writes with
// backoff, and merges server-observed status changes back in.
type SyncEngine struct {
	api   ServerAPI
	cache *OrderCache
	store Store
	clock clockwork.Clock

	mu    sync.Mutex
	queue []PendingSyncEntry
}

// NewSyncEngine creates a sync engine, restoring any persisted queue.
func NewSyncEngine(api ServerAPI, cache *OrderCache, store Store, clock clockwork.Clock) (*SyncEngine, error) {
	queue, err := store.LoadQueue()
	if err != nil {
		return nil, err
	}
	return &SyncEngine{
		api:   api,
		cache: cache,
		store: store,
		clock: clock,
		queue: queue,
	}, nil
}

// PlaceOrder places the local cart: stamp the placement time, then try an
// immediate create. A network failure queues the payload instead of failing;
// a queued placement is a success from the customer's point of view.
func (e *SyncEngine) PlaceOrder(ctx context.Context) (*PlaceResult, error) {
	snap := e.cache.Place()
	if snap == nil {
		return nil, nil
	}

	payload := payloadFromSnapshot(snap)
	if _, err := e.api.CreateOrder(ctx, payload); err != nil {
		if IsRejection(err) {
			return nil, err
		}
		log.Warn().Err(err).Str("order_id", snap.OrderID).Msg("Order placement failed, queueing for sync")
		e.enqueue(payload)
		return &PlaceResult{Order: snap, Queued: true}, nil
	}

	// The create carried the full item list, so nothing is left unsaved.
	e.cache.ClearDirty()

	if err := e.Flush(ctx); err != nil {
		log.Warn().Err(err).Msg("Post-placement flush failed, queue kept")
	}

	return &PlaceResult{Order: snap, Queued: false}, nil
}

// Flush attempts to deliver the whole pending queue through the batch
// endpoint: up to three attempts with 1s and 2s waits between them. On
// success the queue is cleared; on exhaustion it is kept intact and the last
// error returned.
func (e *SyncEngine) Flush(ctx context.Context) error {
	payloads := e.queuedPayloads()
	if len(payloads) == 0 {
		return nil
	}

	var lastErr error
	for attempt := 0; attempt < flushAttempts; attempt++ {
		if attempt > 0 {
			e.clock.Sleep(time.Duration(1<<(attempt-1)) * time.Second)
		}

		results, err := e.api.SyncBatch(ctx, payloads)
		if err != nil {
			lastErr = err
			continue
		}

		e.clearQueue()
		e.mergeSyncResults(results)
		log.Info().Int("orders", len(payloads)).Msg("Pending sync queue flushed")
		return nil
	}

	log.Warn().Err(lastErr).Int("orders", len(payloads)).Msg("Flush exhausted retries, queue kept")
	return lastErr
}

// SyncEdits pushes unsaved local item edits via the item-update path. A
// server rejection means the window closed under us; local edits are dropped
// in favor of the server state on the next poll.
func (e *SyncEngine) SyncEdits(ctx context.Context) {
	if !e.cache.HasUnsavedChanges() {
		return
	}
	snap := e.cache.Snapshot()
	if snap == nil || !snap.Placed() {
		return
	}

	if _, err := e.api.UpdateItems(ctx, snap.OrderID, snap.Items, snap.TotalCents); err != nil {
		if IsRejection(err) {
			log.Warn().Err(err).Str("order_id", snap.OrderID).Msg("Item edit rejected by server, dropping local edits")
			e.cache.ClearDirty()
			return
		}
		log.Warn().Err(err).Str("order_id", snap.OrderID).Msg("Item edit sync failed, will retry")
		return
	}
	e.cache.ClearDirty()
}

// Run drives the engine's timers: a 30-second poll of the canonical order
// and a per-second edit-window countdown. The two ticks are independent and
// the confirm effect they share is idempotent. Run returns when ctx is done
// or when the device no longer has anything to reconcile; placing a new
// order starts a fresh Run.
func (e *SyncEngine) Run(ctx context.Context) {
	poll := e.clock.NewTicker(pollInterval)
	defer poll.Stop()
	expiry := e.clock.NewTicker(expiryTickInterval)
	defer expiry.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.Chan():
			e.pollOnce(ctx)
		case <-expiry.Chan():
			e.expiryTick(ctx)
		}

		if e.idle() {
			return
		}
	}
}

// pollOnce pulls the canonical order and merges its status into the cache.
// Items and total are never taken from the poll; while local edits are
// unsaved, nothing is merged at all so stale server state cannot clobber an
// in-flight edit.
func (e *SyncEngine) pollOnce(ctx context.Context) {
	snap := e.cache.Snapshot()
	if snap == nil || !snap.Placed() || snap.Status == order.StatusPaid {
		return
	}

	remote, err := e.api.GetOrder(ctx, snap.OrderID)
	if err != nil {
		log.Warn().Err(err).Str("order_id", snap.OrderID).Msg("Order poll failed")
		return
	}

	// Successful network activity; opportunistically drain the queue and
	// push any unsaved edits.
	if err := e.Flush(ctx); err != nil {
		log.Warn().Err(err).Msg("Flush after poll failed, queue kept")
	}
	e.SyncEdits(ctx)

	if e.cache.HasUnsavedChanges() {
		return
	}

	if e.cache.ApplyServerStatus(remote.Status) && remote.Status == order.StatusPaid {
		e.clock.AfterFunc(paidResetDelay, e.cache.Reset)
	}
}

// expiryTick applies the local auto-confirm when the edit window runs out
// and nudges the server to do the same. The local effect is optimistic; if
// the server call fails the next poll reconciles.
func (e *SyncEngine) expiryTick(ctx context.Context) {
	if !e.cache.ExpireIfDue() {
		return
	}

	snap := e.cache.Snapshot()
	if snap == nil {
		return
	}
	if _, err := e.api.CheckExpire(ctx, snap.OrderID); err != nil {
		log.Warn().Err(err).Str("order_id", snap.OrderID).Msg("Server expiry check failed, local state already confirmed")
	}
}

// QueueLength reports how many creations are waiting for delivery.
func (e *SyncEngine) QueueLength() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// idle reports that there is nothing left to reconcile: no live local order
// and an empty queue.
func (e *SyncEngine) idle() bool {
	if e.QueueLength() > 0 {
		return false
	}
	snap := e.cache.Snapshot()
	return snap == nil || !snap.Placed()
}

func (e *SyncEngine) enqueue(payload OrderPayload) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.queue {
		if e.queue[i].Payload.ID == payload.ID {
			e.queue[i].Payload = payload
			e.persistQueue()
			return
		}
	}
	e.queue = append(e.queue, PendingSyncEntry{
		Payload:  payload,
		QueuedAt: e.clock.Now(),
	})
	e.persistQueue()
}

func (e *SyncEngine) clearQueue() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue = nil
	e.persistQueue()
}

func (e *SyncEngine) queuedPayloads() []OrderPayload {
	e.mu.Lock()
	defer e.mu.Unlock()

	payloads := make([]OrderPayload, 0, len(e.queue))
	for _, entry := range e.queue {
		payloads = append(payloads, entry.Payload)
	}
	return payloads
}

// mergeSyncResults folds the server's view of flushed orders back into the
// cache, status only.
func (e *SyncEngine) mergeSyncResults(results []*Order) {
	snap := e.cache.Snapshot()
	if snap == nil || e.cache.HasUnsavedChanges() {
		return
	}
	for _, remote := range results {
		if remote != nil && remote.ID == snap.OrderID {
			e.cache.ApplyServerStatus(remote.Status)
			return
		}
	}
}

// persistQueue writes the queue; caller holds the lock.
func (e *SyncEngine) persistQueue() {
	if err := e.store.SaveQueue(e.queue); err != nil {
		log.Warn().Err(err).Msg("Failed to persist sync queue")
	}
}

func payloadFromSnapshot(snap *Snapshot) OrderPayload {
	placedAt := snap.PlacedTime()
	return OrderPayload{
		ID:         snap.OrderID,
		TableID:    snap.TableID,
		Items:      snap.Items,
		TotalCents: snap.TotalCents,
		CreatedAt:  &placedAt,
	}
}
