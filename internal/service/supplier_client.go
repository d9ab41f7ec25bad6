package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"fulfillment-service/internal/models"
)

var (
	// ErrSupplierUnavailable marks transient supplier failures (network,
	// rate limit, 5xx) that are worth retrying.
	ErrSupplierUnavailable = errors.New("supplier unavailable")
	// ErrSupplierRejected marks permanent rejections that retrying will not
	// fix.
	ErrSupplierRejected = errors.New("supplier rejected request")
)

// SupplierCreateRequest is the payload for placing a fulfillment order.
type SupplierCreateRequest struct {
	MerchantOrderRef string              `json:"merchant_order_ref"`
	Recipient        SupplierRecipient   `json:"recipient"`
	Items            []SupplierOrderLine `json:"items"`
}

type SupplierRecipient struct {
	Name    string `json:"name"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address"`
	City    string `json:"city"`
	Country string `json:"country"`
	Zip     string `json:"zip"`
}

type SupplierOrderLine struct {
	ProductID int64 `json:"product_id"`
	VariantID int64 `json:"variant_id,omitempty"`
	Quantity  int   `json:"quantity"`
}

// SupplierCreateResponse carries the supplier-assigned order id.
type SupplierCreateResponse struct {
	OrderID string `json:"order_id"`
}

// SupplierStatusResponse is the supplier's view of an in-flight order.
type SupplierStatusResponse struct {
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	TrackingNumber string `json:"tracking_number,omitempty"`
	TrackingURL    string `json:"tracking_url,omitempty"`
}

// SupplierClient is the outbound contract to the dropshipping supplier.
type SupplierClient interface {
	CreateOrder(ctx context.Context, req *SupplierCreateRequest) (*SupplierCreateResponse, error)
	GetOrderStatus(ctx context.Context, externalOrderID string) (*SupplierStatusResponse, error)
	CancelOrder(ctx context.Context, externalOrderID string) error
}

// HTTPSupplierClient talks to the supplier's REST API.
type HTTPSupplierClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPSupplierClient creates a supplier client with a request timeout.
func NewHTTPSupplierClient(baseURL, apiKey string, timeout time.Duration) *HTTPSupplierClient {
	return &HTTPSupplierClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// CreateOrder places a fulfillment order with the supplier.
func (c *HTTPSupplierClient) CreateOrder(ctx context.Context, req *SupplierCreateRequest) (*SupplierCreateResponse, error) {
	var resp SupplierCreateResponse
	if err := c.do(ctx, http.MethodPost, "/v1/orders", req, &resp); err != nil {
		return nil, err
	}
	if resp.OrderID == "" {
		return nil, fmt.Errorf("%w: empty order id in response", ErrSupplierRejected)
	}
	return &resp, nil
}

// GetOrderStatus fetches the supplier's current status for an order.
func (c *HTTPSupplierClient) GetOrderStatus(ctx context.Context, externalOrderID string) (*SupplierStatusResponse, error) {
	var resp SupplierStatusResponse
	path := fmt.Sprintf("/v1/orders/%s", externalOrderID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelOrder asks the supplier to cancel an order.
func (c *HTTPSupplierClient) CancelOrder(ctx context.Context, externalOrderID string) error {
	path := fmt.Sprintf("/v1/orders/%s/cancel", externalOrderID)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

func (c *HTTPSupplierClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSupplierUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", ErrSupplierUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrSupplierRejected, resp.StatusCode, msg)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode supplier response: %w", err)
		}
	}
	return nil
}

// BuildSupplierCreateRequest maps an order and its items onto the supplier
// order-creation payload.
func BuildSupplierCreateRequest(order *models.Order, items []models.OrderItem) *SupplierCreateRequest {
	lines := make([]SupplierOrderLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, SupplierOrderLine{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
		})
	}

	return &SupplierCreateRequest{
		MerchantOrderRef: order.OrderNumber,
		Recipient: SupplierRecipient{
			Name:    order.CustomerName,
			Phone:   order.CustomerPhone,
			Address: order.ShippingAddress,
			City:    order.ShippingCity,
			Country: order.ShippingCountry,
			Zip:     order.ShippingZip,
		},
		Items: lines,
	}
}
