package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/dinehub/services/orders/internal/models"
	"example.com/dinehub/services/orders/internal/order"
	"example.com/dinehub/services/orders/internal/repository"
	"example.com/dinehub/services/orders/internal/service"
	"example.com/dinehub/services/orders/internal/tracing"
)

// OrderService is the slice of the order service the HTTP layer depends on.
type OrderService interface {
	Create(ctx context.Context, req service.CreateOrderRequest) (*models.Order, error)
	GetByID(ctx context.Context, id string) (*models.Order, error)
	GetActiveByTable(ctx context.Context, tableID string) (*models.Order, error)
	UpdateItems(ctx context.Context, id string, items []service.ItemInput, totalCents int64) (*models.Order, error)
	UpdateStatus(ctx context.Context, id string, requested order.Status, actor string) (*models.Order, error)
	MarkPaid(ctx context.Context, id string, actor string) (*models.Order, error)
	SoftDelete(ctx context.Context, id string, actor string) (*models.Order, error)
	AdminOverride(ctx context.Context, id string, fields service.OverrideFields, actor string) (*models.Order, error)
	ConfirmIfExpired(ctx context.Context, id string) (*models.Order, error)
	SyncBatch(ctx context.Context, incoming []service.CreateOrderRequest) ([]*models.Order, error)
	List(ctx context.Context, filter repository.OrderFilter) ([]*models.Order, error)
}

// OrdersHandler handles order-related HTTP requests
type OrdersHandler struct {
	orderService OrderService
	tracer       tracing.Tracer
}

// NewOrdersHandler creates a new orders handler
func NewOrdersHandler(orderService OrderService, tracer tracing.Tracer) *OrdersHandler {
	return &OrdersHandler{
		orderService: orderService,
		tracer:       tracer,
	}
}

// UpdateItemsRequest replaces an order's items
type UpdateItemsRequest struct {
	Items      []service.ItemInput `json:"items" binding:"required"`
	TotalCents int64               `json:"total_cents"`
}

// UpdateStatusRequest advances an order's lifecycle status
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// SyncRequest carries a batch of offline-originated orders
type SyncRequest struct {
	Orders []service.CreateOrderRequest `json:"orders" binding:"required"`
}

// HandleCreateOrder places a new order for a table
func (h *OrdersHandler) HandleCreateOrder(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-create-order")
	defer h.tracer.EndTransaction(txn)

	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Invalid request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	h.tracer.AddAttribute(txn, "table_id", req.TableID)

	created, err := h.orderService.Create(c, req)
	if err != nil {
		h.respondError(c, txn, err, "Failed to create order")
		return
	}

	c.JSON(http.StatusCreated, created)
}

// HandleGetOrder returns a single order by id
func (h *OrdersHandler) HandleGetOrder(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-get-order")
	defer h.tracer.EndTransaction(txn)

	found, err := h.orderService.GetByID(c, c.Param("id"))
	if err != nil {
		h.respondError(c, txn, err, "Failed to get order")
		return
	}

	c.JSON(http.StatusOK, found)
}

// HandleGetTableOrder returns the table's current live order
func (h *OrdersHandler) HandleGetTableOrder(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-get-table-order")
	defer h.tracer.EndTransaction(txn)

	active, err := h.orderService.GetActiveByTable(c, c.Param("tableId"))
	if err != nil {
		h.respondError(c, txn, err, "Failed to get active order")
		return
	}
	if active == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active order for table", "code": "NO_ACTIVE_ORDER"})
		return
	}

	c.JSON(http.StatusOK, active)
}

// HandleUpdateItems replaces the order's items while it is still editable
func (h *OrdersHandler) HandleUpdateItems(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-update-items")
	defer h.tracer.EndTransaction(txn)

	var req UpdateItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Invalid request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	updated, err := h.orderService.UpdateItems(c, c.Param("id"), req.Items, req.TotalCents)
	if err != nil {
		h.respondError(c, txn, err, "Failed to update order items")
		return
	}

	c.JSON(http.StatusOK, updated)
}

// HandleUpdateStatus advances the order one lifecycle step. Kitchen staff
// drive the preparation steps; marking paid is the waiter's settle action.
func (h *OrdersHandler) HandleUpdateStatus(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-update-status")
	defer h.tracer.EndTransaction(txn)

	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Invalid request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	requested := order.Status(req.Status)
	if !requested.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status", "code": "INVALID_STATUS"})
		return
	}

	h.tracer.AddAttribute(txn, "requested_status", req.Status)

	var updated *models.Order
	var err error
	if requested == order.StatusPaid {
		if !hasRole(c, RoleWaiter, RoleAdmin) {
			c.JSON(http.StatusForbidden, gin.H{"error": "insufficient role", "code": "FORBIDDEN"})
			return
		}
		updated, err = h.orderService.MarkPaid(c, c.Param("id"), actor(c))
	} else {
		if !hasRole(c, RoleKitchen, RoleAdmin) {
			c.JSON(http.StatusForbidden, gin.H{"error": "insufficient role", "code": "FORBIDDEN"})
			return
		}
		updated, err = h.orderService.UpdateStatus(c, c.Param("id"), requested, actor(c))
	}
	if err != nil {
		h.respondError(c, txn, err, "Failed to update order status")
		return
	}

	c.JSON(http.StatusOK, updated)
}

// HandleAdminOverride writes order fields directly, bypassing the lifecycle
// guards. Admin only.
func (h *OrdersHandler) HandleAdminOverride(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-admin-override")
	defer h.tracer.EndTransaction(txn)

	var fields service.OverrideFields
	if err := c.ShouldBindJSON(&fields); err != nil {
		log.Error().Err(err).Msg("Invalid request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	if fields.Status != nil && !fields.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status", "code": "INVALID_STATUS"})
		return
	}

	updated, err := h.orderService.AdminOverride(c, c.Param("id"), fields, actor(c))
	if err != nil {
		h.respondError(c, txn, err, "Failed to apply admin override")
		return
	}

	c.JSON(http.StatusOK, updated)
}

// HandleDeleteOrder soft-deletes an order. Admin only.
func (h *OrdersHandler) HandleDeleteOrder(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-delete-order")
	defer h.tracer.EndTransaction(txn)

	deleted, err := h.orderService.SoftDelete(c, c.Param("id"), actor(c))
	if err != nil {
		h.respondError(c, txn, err, "Failed to delete order")
		return
	}

	c.JSON(http.StatusOK, deleted)
}

// HandleCheckExpire confirms the order if its edit window has elapsed and
// returns the current state either way.
func (h *OrdersHandler) HandleCheckExpire(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-check-expire")
	defer h.tracer.EndTransaction(txn)

	checked, err := h.orderService.ConfirmIfExpired(c, c.Param("id"))
	if err != nil {
		h.respondError(c, txn, err, "Failed to check order expiry")
		return
	}

	c.JSON(http.StatusOK, checked)
}

// HandleSync upserts a batch of offline-originated orders
func (h *OrdersHandler) HandleSync(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-sync-orders")
	defer h.tracer.EndTransaction(txn)

	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Invalid request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	results, err := h.orderService.SyncBatch(c, req.Orders)
	if err != nil {
		h.respondError(c, txn, err, "Failed to sync orders")
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": results})
}

// HandleListOrders returns non-deleted orders, newest first. Staff only.
func (h *OrdersHandler) HandleListOrders(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-list-orders")
	defer h.tracer.EndTransaction(txn)

	filter := repository.OrderFilter{
		TableID: c.Query("table_id"),
	}
	if raw := c.Query("status"); raw != "" {
		status := order.Status(raw)
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status", "code": "INVALID_STATUS"})
			return
		}
		filter.Status = status
	}

	orders, err := h.orderService.List(c, filter)
	if err != nil {
		h.respondError(c, txn, err, "Failed to list orders")
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// respondError maps service errors onto HTTP responses: guard rejections are
// client errors with a machine code, missing orders are 404s, the rest is 500.
func (h *OrdersHandler) respondError(c *gin.Context, txn *newrelic.Transaction, err error, msg string) {
	if rejection, ok := service.AsRejection(err); ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": rejection.Message, "code": rejection.Code})
		return
	}
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found", "code": "NOT_FOUND"})
		return
	}

	log.Error().Err(err).Msg(msg)
	h.tracer.RecordError(txn, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// RegisterRoutes registers the handler's routes
func (h *OrdersHandler) RegisterRoutes(router *gin.Engine) {
	router.POST("/orders", h.HandleCreateOrder)
	router.POST("/orders/sync", h.HandleSync)
	router.GET("/orders", RequireRole(RoleWaiter, RoleKitchen, RoleAdmin), h.HandleListOrders)
	router.GET("/orders/:id", h.HandleGetOrder)
	router.PUT("/orders/:id/items", h.HandleUpdateItems)
	router.PATCH("/orders/:id/status", h.HandleUpdateStatus)
	router.PUT("/orders/:id", RequireRole(RoleAdmin), h.HandleAdminOverride)
	router.DELETE("/orders/:id", RequireRole(RoleAdmin), h.HandleDeleteOrder)
	router.POST("/orders/:id/check-expire", h.HandleCheckExpire)
	router.GET("/tables/:tableId/order", h.HandleGetTableOrder)
}
