package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/dinehub/services/orders/internal/order"
)

var errNetwork = errors.New("connection refused")

// MockServerAPI mocks the ServerAPI interface
type MockServerAPI struct {
	mock.Mock
}

func (m *MockServerAPI) CreateOrder(ctx context.Context, payload OrderPayload) (*Order, error) {
	args := m.Called(ctx, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Order), args.Error(1)
}

func (m *MockServerAPI) GetOrder(ctx context.Context, id string) (*Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Order), args.Error(1)
}

func (m *MockServerAPI) UpdateItems(ctx context.Context, id string, items []Item, totalCents int64) (*Order, error) {
	args := m.Called(ctx, id, items, totalCents)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Order), args.Error(1)
}

func (m *MockServerAPI) SyncBatch(ctx context.Context, payloads []OrderPayload) ([]*Order, error) {
	args := m.Called(ctx, payloads)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Order), args.Error(1)
}

func (m *MockServerAPI) CheckExpire(ctx context.Context, id string) (*Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Order), args.Error(1)
}

func newTestEngine(t *testing.T) (*SyncEngine, *MockServerAPI, *OrderCache, *FileStore, *clockwork.FakeClock) {
	t.Helper()

	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	clock := clockwork.NewFakeClock()

	cache, err := NewOrderCache("t007", store, clock)
	require.NoError(t, err)

	api := new(MockServerAPI)
	engine, err := NewSyncEngine(api, cache, store, clock)
	require.NoError(t, err)
	return engine, api, cache, store, clock
}

func serverOrder(snap *Snapshot, status order.Status) *Order {
	return &Order{
		ID:         snap.OrderID,
		TableID:    snap.TableID,
		Status:     status,
		TotalCents: snap.TotalCents,
		Items:      snap.Items,
	}
}

func TestPlaceOrderQueuesOnNetworkFailure(t *testing.T) {
	engine, api, cache, store, _ := newTestEngine(t)

	cache.AddItem(Item{ItemID: "3", UnitPriceCents: 4200, Quantity: 2})
	api.On("CreateOrder", mock.Anything, mock.Anything).Return(nil, errNetwork)

	result, err := engine.PlaceOrder(context.Background())
	require.NoError(t, err)
	require.True(t, result.Queued)
	require.Equal(t, 1, engine.QueueLength())

	// The queue survives a restart.
	saved, err := store.LoadQueue()
	require.NoError(t, err)
	require.Len(t, saved, 1)
	require.Equal(t, result.Order.OrderID, saved[0].Payload.ID)
}

func TestPlaceOrderImmediateSuccess(t *testing.T) {
	engine, api, cache, _, clock := newTestEngine(t)

	cache.AddItem(Item{ItemID: "3", UnitPriceCents: 4200, Quantity: 2})
	api.On("CreateOrder", mock.Anything, mock.MatchedBy(func(p OrderPayload) bool {
		return p.TableID == "t007" && p.TotalCents == 8400 &&
			p.CreatedAt != nil && p.CreatedAt.Equal(clock.Now())
	})).Return(&Order{ID: "any", Status: order.StatusPending}, nil)

	result, err := engine.PlaceOrder(context.Background())
	require.NoError(t, err)
	require.False(t, result.Queued)
	require.Equal(t, 0, engine.QueueLength())
	api.AssertExpectations(t)
}

func TestFlushRetriesWithBackoff(t *testing.T) {
	engine, api, cache, _, clock := newTestEngine(t)

	cache.AddItem(Item{ItemID: "3", UnitPriceCents: 4200, Quantity: 2})
	api.On("CreateOrder", mock.Anything, mock.Anything).Return(nil, errNetwork)
	_, err := engine.PlaceOrder(context.Background())
	require.NoError(t, err)

	snap := cache.Snapshot()
	api.On("SyncBatch", mock.Anything, mock.Anything).Return(nil, errNetwork).Twice()
	api.On("SyncBatch", mock.Anything, mock.Anything).
		Return([]*Order{serverOrder(snap, order.StatusPending)}, nil).Once()

	start := clock.Now()
	done := make(chan error, 1)
	go func() {
		done <- engine.Flush(context.Background())
	}()

	// First failure, then a 1s wait.
	clock.BlockUntil(1)
	clock.Advance(time.Second)
	// Second failure, then a 2s wait.
	clock.BlockUntil(1)
	clock.Advance(2 * time.Second)

	require.NoError(t, <-done)
	require.Equal(t, 0, engine.QueueLength())
	require.Equal(t, 3*time.Second, clock.Now().Sub(start))
	api.AssertExpectations(t)
}

func TestFlushExhaustionKeepsQueue(t *testing.T) {
	engine, api, cache, store, clock := newTestEngine(t)

	cache.AddItem(Item{ItemID: "3", UnitPriceCents: 4200, Quantity: 2})
	api.On("CreateOrder", mock.Anything, mock.Anything).Return(nil, errNetwork)
	_, err := engine.PlaceOrder(context.Background())
	require.NoError(t, err)

	api.On("SyncBatch", mock.Anything, mock.Anything).Return(nil, errNetwork)

	done := make(chan error, 1)
	go func() {
		done <- engine.Flush(context.Background())
	}()

	clock.BlockUntil(1)
	clock.Advance(time.Second)
	clock.BlockUntil(1)
	clock.Advance(2 * time.Second)

	require.ErrorIs(t, <-done, errNetwork)
	require.Equal(t, 1, engine.QueueLength())

	saved, err := store.LoadQueue()
	require.NoError(t, err)
	require.Len(t, saved, 1)
}

func TestPollMergesStatusOnly(t *testing.T) {
	engine, api, cache, _, _ := newTestEngine(t)

	cache.AddItem(Item{ItemID: "3", UnitPriceCents: 4200, Quantity: 2})
	api.On("CreateOrder", mock.Anything, mock.Anything).
		Return(&Order{ID: "any", Status: order.StatusPending}, nil)
	_, err := engine.PlaceOrder(context.Background())
	require.NoError(t, err)

	snap := cache.Snapshot()
	remote := serverOrder(snap, order.StatusConfirmed)
	// The server's item view must never leak into the local cache.
	remote.Items = []Item{{ItemID: "9", UnitPriceCents: 1, Quantity: 99}}
	remote.TotalCents = 99
	api.On("GetOrder", mock.Anything, snap.OrderID).Return(remote, nil)

	engine.pollOnce(context.Background())

	merged := cache.Snapshot()
	require.Equal(t, order.StatusConfirmed, merged.Status)
	require.Equal(t, snap.Items, merged.Items)
	require.Equal(t, snap.TotalCents, merged.TotalCents)
}

func TestPollSkipsMergeWhileEditsUnsaved(t *testing.T) {
	engine, api, cache, _, _ := newTestEngine(t)

	cache.AddItem(Item{ItemID: "3", UnitPriceCents: 4200, Quantity: 2})
	api.On("CreateOrder", mock.Anything, mock.Anything).
		Return(&Order{ID: "any", Status: order.StatusPending}, nil)
	_, err := engine.PlaceOrder(context.Background())
	require.NoError(t, err)

	// A local edit after placement leaves unsaved changes behind.
	cache.AddItem(Item{ItemID: "5", UnitPriceCents: 3200, Quantity: 1})
	require.True(t, cache.HasUnsavedChanges())

	snap := cache.Snapshot()
	api.On("GetOrder", mock.Anything, snap.OrderID).
		Return(serverOrder(snap, order.StatusConfirmed), nil)
	// The piggybacked edit push fails, so the dirty flag stays set.
	api.On("UpdateItems", mock.Anything, snap.OrderID, mock.Anything, mock.Anything).
		Return(nil, errNetwork)

	engine.pollOnce(context.Background())

	// Local wins until the edit is flushed.
	require.Equal(t, order.StatusPending, cache.Snapshot().Status)
	require.True(t, cache.HasUnsavedChanges())
}

func TestPollSyncsEditsThenMerges(t *testing.T) {
	engine, api, cache, _, _ := newTestEngine(t)

	cache.AddItem(Item{ItemID: "3", UnitPriceCents: 4200, Quantity: 2})
	api.On("CreateOrder", mock.Anything, mock.Anything).
		Return(&Order{ID: "any", Status: order.StatusPending}, nil)
	_, err := engine.PlaceOrder(context.Background())
	require.NoError(t, err)

	cache.AddItem(Item{ItemID: "5", UnitPriceCents: 3200, Quantity: 1})

	snap := cache.Snapshot()
	api.On("GetOrder", mock.Anything, snap.OrderID).
		Return(serverOrder(snap, order.StatusPending), nil)
	api.On("UpdateItems", mock.Anything, snap.OrderID, snap.Items, snap.TotalCents).
		Return(serverOrder(snap, order.StatusPending), nil)

	engine.pollOnce(context.Background())

	require.False(t, cache.HasUnsavedChanges())
	api.AssertExpectations(t)
}

func TestPollPaidResetsAfterDelay(t *testing.T) {
	engine, api, cache, _, clock := newTestEngine(t)

	cache.AddItem(Item{ItemID: "3", UnitPriceCents: 4200, Quantity: 2})
	api.On("CreateOrder", mock.Anything, mock.Anything).
		Return(&Order{ID: "any", Status: order.StatusPending}, nil)
	_, err := engine.PlaceOrder(context.Background())
	require.NoError(t, err)

	snap := cache.Snapshot()
	api.On("GetOrder", mock.Anything, snap.OrderID).
		Return(serverOrder(snap, order.StatusPaid), nil)

	engine.pollOnce(context.Background())

	// The paid state stays visible briefly, then the local order clears.
	require.Equal(t, order.StatusPaid, cache.Snapshot().Status)
	clock.Advance(paidResetDelay)
	require.Nil(t, cache.Snapshot())
}

func TestExpiryTickConfirmsAndNudgesServer(t *testing.T) {
	engine, api, cache, _, clock := newTestEngine(t)

	cache.AddItem(Item{ItemID: "3", UnitPriceCents: 4200, Quantity: 2})
	api.On("CreateOrder", mock.Anything, mock.Anything).
		Return(&Order{ID: "any", Status: order.StatusPending}, nil)
	_, err := engine.PlaceOrder(context.Background())
	require.NoError(t, err)

	snap := cache.Snapshot()

	// Inside the window nothing happens.
	engine.expiryTick(context.Background())
	require.Equal(t, order.StatusPending, cache.Snapshot().Status)

	clock.Advance(order.EditWindow + time.Second)

	// The server call failing does not roll back the local confirm.
	api.On("CheckExpire", mock.Anything, snap.OrderID).Return(nil, errNetwork).Once()
	engine.expiryTick(context.Background())
	require.Equal(t, order.StatusConfirmed, cache.Snapshot().Status)

	// Already confirmed, so no second server nudge.
	engine.expiryTick(context.Background())
	api.AssertNumberOfCalls(t, "CheckExpire", 1)
}
