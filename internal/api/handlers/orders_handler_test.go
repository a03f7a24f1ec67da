package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/dinehub/services/orders/config"
	"example.com/dinehub/services/orders/internal/models"
	"example.com/dinehub/services/orders/internal/order"
	"example.com/dinehub/services/orders/internal/repository"
	"example.com/dinehub/services/orders/internal/service"
	"example.com/dinehub/services/orders/internal/tracing"
)

// MockOrderService mocks the OrderService interface
type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) Create(ctx context.Context, req service.CreateOrderRequest) (*models.Order, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockOrderService) GetByID(ctx context.Context, id string) (*models.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockOrderService) GetActiveByTable(ctx context.Context, tableID string) (*models.Order, error) {
	args := m.Called(ctx, tableID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockOrderService) UpdateItems(ctx context.Context, id string, items []service.ItemInput, totalCents int64) (*models.Order, error) {
	args := m.Called(ctx, id, items, totalCents)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockOrderService) UpdateStatus(ctx context.Context, id string, requested order.Status, actor string) (*models.Order, error) {
	args := m.Called(ctx, id, requested, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockOrderService) MarkPaid(ctx context.Context, id string, actor string) (*models.Order, error) {
	args := m.Called(ctx, id, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockOrderService) SoftDelete(ctx context.Context, id string, actor string) (*models.Order, error) {
	args := m.Called(ctx, id, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockOrderService) AdminOverride(ctx context.Context, id string, fields service.OverrideFields, actor string) (*models.Order, error) {
	args := m.Called(ctx, id, fields, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockOrderService) ConfirmIfExpired(ctx context.Context, id string) (*models.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockOrderService) SyncBatch(ctx context.Context, incoming []service.CreateOrderRequest) ([]*models.Order, error) {
	args := m.Called(ctx, incoming)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Order), args.Error(1)
}

func (m *MockOrderService) List(ctx context.Context, filter repository.OrderFilter) ([]*models.Order, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Order), args.Error(1)
}

func setupRouter(t *testing.T, svc *MockOrderService) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tracer, err := tracing.NewTracer(config.TracingConfig{})
	require.NoError(t, err)

	router := gin.New()
	NewOrdersHandler(svc, tracer).RegisterRoutes(router)
	return router
}

func doRequest(router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleCreateOrder(t *testing.T) {
	svc := new(MockOrderService)
	router := setupRouter(t, svc)

	created := &models.Order{ID: "o-1", TableID: "t007", Status: order.StatusPending}
	svc.On("Create", mock.Anything, mock.AnythingOfType("service.CreateOrderRequest")).Return(created, nil)

	rec := doRequest(router, http.MethodPost, "/orders", gin.H{
		"table_id":    "t007",
		"items":       []gin.H{{"item_id": "3", "quantity": 2, "unit_price_cents": 4200}},
		"total_cents": 8400,
	}, nil)

	require.Equal(t, http.StatusCreated, rec.Code)
	var got models.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "o-1", got.ID)
	require.Equal(t, order.StatusPending, got.Status)
}

func TestHandleGetOrderNotFound(t *testing.T) {
	svc := new(MockOrderService)
	router := setupRouter(t, svc)

	svc.On("GetByID", mock.Anything, "missing").Return(nil, repository.ErrNotFound)

	rec := doRequest(router, http.MethodGet, "/orders/missing", nil, nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "NOT_FOUND")
}

func TestHandleUpdateItemsRejection(t *testing.T) {
	svc := new(MockOrderService)
	router := setupRouter(t, svc)

	svc.On("UpdateItems", mock.Anything, "o-1", mock.Anything, int64(4200)).
		Return(nil, service.ErrEditWindowExpired)

	rec := doRequest(router, http.MethodPut, "/orders/o-1/items", gin.H{
		"items":       []gin.H{{"item_id": "3", "quantity": 1, "unit_price_cents": 4200}},
		"total_cents": 4200,
	}, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "EDIT_WINDOW_EXPIRED")
}

func TestHandleUpdateStatusRoleGating(t *testing.T) {
	svc := new(MockOrderService)
	router := setupRouter(t, svc)

	// No role at all.
	rec := doRequest(router, http.MethodPatch, "/orders/o-1/status", gin.H{"status": "preparing"}, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	// A waiter cannot drive kitchen steps.
	rec = doRequest(router, http.MethodPatch, "/orders/o-1/status", gin.H{"status": "preparing"},
		map[string]string{RoleHeader: RoleWaiter})
	require.Equal(t, http.StatusForbidden, rec.Code)

	// A kitchen member cannot settle.
	rec = doRequest(router, http.MethodPatch, "/orders/o-1/status", gin.H{"status": "paid"},
		map[string]string{RoleHeader: RoleKitchen})
	require.Equal(t, http.StatusForbidden, rec.Code)

	svc.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	svc.AssertNotCalled(t, "MarkPaid", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleUpdateStatusKitchenStep(t *testing.T) {
	svc := new(MockOrderService)
	router := setupRouter(t, svc)

	updated := &models.Order{ID: "o-1", Status: order.StatusPreparing}
	svc.On("UpdateStatus", mock.Anything, "o-1", order.StatusPreparing, RoleKitchen).Return(updated, nil)

	rec := doRequest(router, http.MethodPatch, "/orders/o-1/status", gin.H{"status": "preparing"},
		map[string]string{RoleHeader: RoleKitchen})

	require.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)
}

func TestHandleUpdateStatusPaidGoesThroughMarkPaid(t *testing.T) {
	svc := new(MockOrderService)
	router := setupRouter(t, svc)

	updated := &models.Order{ID: "o-1", Status: order.StatusPaid}
	svc.On("MarkPaid", mock.Anything, "o-1", "w-12").Return(updated, nil)

	rec := doRequest(router, http.MethodPatch, "/orders/o-1/status", gin.H{"status": "paid"},
		map[string]string{RoleHeader: RoleWaiter, StaffIDHeader: "w-12"})

	require.Equal(t, http.StatusOK, rec.Code)
	svc.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	svc.AssertExpectations(t)
}

func TestHandleUpdateStatusUnknownStatus(t *testing.T) {
	svc := new(MockOrderService)
	router := setupRouter(t, svc)

	rec := doRequest(router, http.MethodPatch, "/orders/o-1/status", gin.H{"status": "shipped"},
		map[string]string{RoleHeader: RoleAdmin})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "INVALID_STATUS")
}

func TestHandleDeleteOrderRequiresAdmin(t *testing.T) {
	svc := new(MockOrderService)
	router := setupRouter(t, svc)

	rec := doRequest(router, http.MethodDelete, "/orders/o-1", nil,
		map[string]string{RoleHeader: RoleWaiter})
	require.Equal(t, http.StatusForbidden, rec.Code)

	deleted := &models.Order{ID: "o-1", Status: order.StatusPending}
	svc.On("SoftDelete", mock.Anything, "o-1", RoleAdmin).Return(deleted, nil)

	rec = doRequest(router, http.MethodDelete, "/orders/o-1", nil,
		map[string]string{RoleHeader: RoleAdmin})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleGetTableOrderWithoutActiveOrder(t *testing.T) {
	svc := new(MockOrderService)
	router := setupRouter(t, svc)

	svc.On("GetActiveByTable", mock.Anything, "t009").Return(nil, nil)

	rec := doRequest(router, http.MethodGet, "/tables/t009/order", nil, nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "NO_ACTIVE_ORDER")
}

func TestHandleSync(t *testing.T) {
	svc := new(MockOrderService)
	router := setupRouter(t, svc)

	results := []*models.Order{{ID: "o-1", Status: order.StatusPending}}
	svc.On("SyncBatch", mock.Anything, mock.Anything).Return(results, nil)

	rec := doRequest(router, http.MethodPost, "/orders/sync", gin.H{
		"orders": []gin.H{{"id": "o-1", "table_id": "t001", "items": []gin.H{}}},
	}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"o-1"`)
}

func TestHandleListOrdersRequiresStaff(t *testing.T) {
	svc := new(MockOrderService)
	router := setupRouter(t, svc)

	rec := doRequest(router, http.MethodGet, "/orders", nil, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	svc.On("List", mock.Anything, mock.AnythingOfType("repository.OrderFilter")).
		Return([]*models.Order{}, nil)

	rec = doRequest(router, http.MethodGet, "/orders?status=pending", nil,
		map[string]string{RoleHeader: RoleWaiter})
	require.Equal(t, http.StatusOK, rec.Code)
}
