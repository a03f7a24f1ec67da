package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"example.com/dinehub/services/orders/internal/order"
)

// requestTimeout bounds every outbound call so a dead network degrades to a
// queued write instead of a hung device.
const requestTimeout = 10 * time.Second

// Item is one order line as held on the device and sent over the wire.
type Item struct {
	ItemID         string `json:"item_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	DisplayName    string `json:"display_name"`
	ImageURL       string `json:"image_url,omitempty"`
}

// Order is the server's view of an order as decoded from responses.
type Order struct {
	ID         string       `json:"id"`
	TableID    string       `json:"table_id"`
	Status     order.Status `json:"status"`
	TotalCents int64        `json:"total_cents"`
	Items      []Item       `json:"items"`
	CreatedAt  time.Time    `json:"created_at"`
	LockedAt   *time.Time   `json:"locked_at,omitempty"`
	DeletedAt  *time.Time   `json:"deleted_at,omitempty"`
}

// OrderPayload is the creation/sync body. The device pre-generates the id and
// stamps created_at with the placement time so the server anchors the edit
// window to when the customer actually placed the order.
type OrderPayload struct {
	ID         string     `json:"id"`
	TableID    string     `json:"table_id"`
	Items      []Item     `json:"items"`
	TotalCents int64      `json:"total_cents"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
}

// APIError is a non-2xx response decoded into its reason code.
type APIError struct {
	Message    string `json:"error"`
	Code       string `json:"code"`
	StatusCode int    `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	}
	return e.Message
}

// IsRejection reports whether err is a server guard rejection rather than a
// transport failure. Rejections are final; transport failures are retried.
func IsRejection(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
}

// ServerAPI is the slice of the ordering service the sync engine depends on.
type ServerAPI interface {
	CreateOrder(ctx context.Context, payload OrderPayload) (*Order, error)
	GetOrder(ctx context.Context, id string) (*Order, error)
	UpdateItems(ctx context.Context, id string, items []Item, totalCents int64) (*Order, error)
	SyncBatch(ctx context.Context, payloads []OrderPayload) ([]*Order, error)
	CheckExpire(ctx context.Context, id string) (*Order, error)
}

// APIClient talks to the ordering service over HTTP.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAPIClient creates a new API client for the given base URL.
func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// CreateOrder places a new order.
func (c *APIClient) CreateOrder(ctx context.Context, payload OrderPayload) (*Order, error) {
	var created Order
	if err := c.do(ctx, http.MethodPost, "/orders", payload, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// GetOrder fetches the canonical order state.
func (c *APIClient) GetOrder(ctx context.Context, id string) (*Order, error) {
	var found Order
	if err := c.do(ctx, http.MethodGet, "/orders/"+id, nil, &found); err != nil {
		return nil, err
	}
	return &found, nil
}

// UpdateItems replaces the order's items while the edit window is open.
func (c *APIClient) UpdateItems(ctx context.Context, id string, items []Item, totalCents int64) (*Order, error) {
	body := map[string]interface{}{
		"items":       items,
		"total_cents": totalCents,
	}
	var updated Order
	if err := c.do(ctx, http.MethodPut, "/orders/"+id+"/items", body, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// SyncBatch delivers queued offline orders in one request.
func (c *APIClient) SyncBatch(ctx context.Context, payloads []OrderPayload) ([]*Order, error) {
	body := map[string]interface{}{"orders": payloads}
	var resp struct {
		Orders []*Order `json:"orders"`
	}
	if err := c.do(ctx, http.MethodPost, "/orders/sync", body, &resp); err != nil {
		return nil, err
	}
	return resp.Orders, nil
}

// CheckExpire asks the server to confirm the order if its window has elapsed.
func (c *APIClient) CheckExpire(ctx context.Context, id string) (*Order, error) {
	var checked Order
	if err := c.do(ctx, http.MethodPost, "/orders/"+id+"/check-expire", nil, &checked); err != nil {
		return nil, err
	}
	return &checked, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to encode request body")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response body")
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return errors.Wrap(err, "failed to decode response body")
		}
	}
	return nil
}
