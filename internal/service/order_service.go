package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"fulfillment-service/internal/broker"
	"fulfillment-service/internal/gateway"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrValidation marks malformed order input rejected before any persistence.
var ErrValidation = errors.New("validation failed")

const orderViewTTL = time.Minute

// OrderStore is the slice of the store the order service needs.
type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error
	GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
}

// OrderViewCache caches serialized public order views.
type OrderViewCache interface {
	CacheOrderView(ctx context.Context, orderNumber string, payload []byte, ttl time.Duration) error
	GetOrderView(ctx context.Context, orderNumber string) ([]byte, error)
}

// OrderService handles order creation and public lookups.
type OrderService struct {
	store        OrderStore
	gateways     *gateway.Registry
	publisher    broker.Publisher
	cache        OrderViewCache
	shippingRate decimal.Decimal
	logger       *zap.Logger
}

// NewOrderService creates a new order service. shippingRate is the flat
// shipping cost applied to every order.
func NewOrderService(st OrderStore, gateways *gateway.Registry, publisher broker.Publisher, cache OrderViewCache, shippingRate decimal.Decimal) *OrderService {
	return &OrderService{
		store:        st,
		gateways:     gateways,
		publisher:    publisher,
		cache:        cache,
		shippingRate: shippingRate,
		logger:       util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create an order.
type CreateOrderRequest struct {
	CustomerName    string             `json:"customer_name" binding:"required"`
	CustomerEmail   string             `json:"customer_email" binding:"required,email"`
	CustomerPhone   string             `json:"customer_phone"`
	ShippingAddress string             `json:"shipping_address" binding:"required"`
	ShippingCity    string             `json:"shipping_city" binding:"required"`
	ShippingCountry string             `json:"shipping_country" binding:"required"`
	ShippingZip     string             `json:"shipping_zip" binding:"required"`
	Items           []OrderItemRequest `json:"items" binding:"required,min=1,dive"`
	PaymentMethod   string             `json:"payment_method" binding:"required"`
	// Total is optional and informational only; the server recomputes it and
	// rejects a mismatch rather than trusting the client.
	Total string `json:"total,omitempty"`
}

// OrderItemRequest represents a line item in an order request.
type OrderItemRequest struct {
	ProductID int64  `json:"product_id" binding:"required"`
	VariantID int64  `json:"variant_id"`
	Name      string `json:"name" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
	UnitPrice string `json:"unit_price" binding:"required"`
}

// CreateOrderResponse is returned after creating an order.
type CreateOrderResponse struct {
	OrderID     int64                 `json:"order_id"`
	OrderNumber string                `json:"order_number"`
	Status      string                `json:"status"`
	Payment     *gateway.ChargeHandle `json:"payment"`
}

// CreateOrder validates the request, persists the order in PENDING, and
// creates a charge with the selected payment provider.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	adapter, err := s.gateways.Get(req.PaymentMethod)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("unknown_provider").Inc()
		return nil, fmt.Errorf("%w: unsupported payment method %q", ErrValidation, req.PaymentMethod)
	}

	items, subtotal, err := buildOrderItems(req.Items)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}

	total := subtotal.Add(s.shippingRate)
	if req.Total != "" {
		claimed, err := decimal.NewFromString(req.Total)
		if err != nil || !claimed.Equal(total) {
			util.OrdersFailedTotal.WithLabelValues("total_mismatch").Inc()
			return nil, fmt.Errorf("%w: submitted total %q does not match computed total %s",
				ErrValidation, req.Total, total.StringFixed(2))
		}
	}

	order := &models.Order{
		OrderNumber:     NewOrderNumber(),
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		CustomerPhone:   req.CustomerPhone,
		ShippingAddress: req.ShippingAddress,
		ShippingCity:    req.ShippingCity,
		ShippingCountry: req.ShippingCountry,
		ShippingZip:     req.ShippingZip,
		Subtotal:        subtotal,
		ShippingCost:    s.shippingRate,
		Total:           total,
		Status:          models.OrderStatusPending,
		PaymentStatus:   models.PaymentStatusPending,
		PaymentMethod:   req.PaymentMethod,
	}

	if err := s.store.CreateOrder(ctx, order, items); err != nil {
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("total", total.StringFixed(2)))

	charge, err := adapter.CreateCharge(ctx, order)
	if err != nil {
		// The order stays PENDING; the customer can retry payment against
		// the same order.
		s.logger.Error("Charge creation failed",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to create charge: %w", err)
	}

	if s.publisher != nil {
		go func() {
			pubCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.publisher.PublishOrderCreated(pubCtx, order); err != nil {
				s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
			}
		}()
	}

	return &CreateOrderResponse{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      order.Status,
		Payment:     charge,
	}, nil
}

// OrderView is the customer-facing projection of an order.
type OrderView struct {
	OrderNumber    string          `json:"order_number"`
	Status         string          `json:"status"`
	PaymentStatus  string          `json:"payment_status"`
	TrackingNumber string          `json:"tracking_number,omitempty"`
	TrackingURL    string          `json:"tracking_url,omitempty"`
	Subtotal       string          `json:"subtotal"`
	ShippingCost   string          `json:"shipping_cost"`
	Total          string          `json:"total"`
	Items          []OrderViewItem `json:"items"`
	CreatedAt      time.Time       `json:"created_at"`
}

type OrderViewItem struct {
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	LineTotal string `json:"line_total"`
}

// GetOrderView returns the public view for an order number, served from
// cache when fresh.
func (s *OrderService) GetOrderView(ctx context.Context, orderNumber string) (*OrderView, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrderView")
	defer span.End()

	if s.cache != nil {
		if cached, err := s.cache.GetOrderView(ctx, orderNumber); err == nil && cached != nil {
			var view OrderView
			if err := json.Unmarshal(cached, &view); err == nil {
				return &view, nil
			}
		}
	}

	order, err := s.store.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	items, err := s.store.GetOrderItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}

	view := &OrderView{
		OrderNumber:    order.OrderNumber,
		Status:         order.Status,
		PaymentStatus:  order.PaymentStatus,
		TrackingNumber: order.TrackingNumber,
		TrackingURL:    order.TrackingURL,
		Subtotal:       order.Subtotal.StringFixed(2),
		ShippingCost:   order.ShippingCost.StringFixed(2),
		Total:          order.Total.StringFixed(2),
		CreatedAt:      order.CreatedAt,
	}
	for _, item := range items {
		view.Items = append(view.Items, OrderViewItem{
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.StringFixed(2),
			LineTotal: item.LineTotal.StringFixed(2),
		})
	}

	if s.cache != nil {
		if payload, err := json.Marshal(view); err == nil {
			if err := s.cache.CacheOrderView(ctx, orderNumber, payload, orderViewTTL); err != nil {
				s.logger.Warn("Failed to cache order view", zap.Error(err))
			}
		}
	}

	return view, nil
}

// buildOrderItems parses and validates the requested items, returning the
// persisted item models and the recomputed subtotal.
func buildOrderItems(reqs []OrderItemRequest) ([]models.OrderItem, decimal.Decimal, error) {
	items := make([]models.OrderItem, 0, len(reqs))
	subtotal := decimal.Zero

	for i, req := range reqs {
		unitPrice, err := decimal.NewFromString(req.UnitPrice)
		if err != nil || unitPrice.IsNegative() || unitPrice.IsZero() {
			return nil, decimal.Zero, fmt.Errorf("%w: item %d has invalid unit price %q", ErrValidation, i, req.UnitPrice)
		}
		lineTotal := unitPrice.Mul(decimal.NewFromInt(int64(req.Quantity)))

		items = append(items, models.OrderItem{
			ProductID: req.ProductID,
			VariantID: req.VariantID,
			Name:      req.Name,
			Quantity:  req.Quantity,
			UnitPrice: unitPrice,
			LineTotal: lineTotal,
		})
		subtotal = subtotal.Add(lineTotal)
	}

	return items, subtotal, nil
}

const orderNumberCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewOrderNumber generates a human-facing order number of the form
// ORD-<unix timestamp>-<5 random chars>.
func NewOrderNumber() string {
	suffix := make([]byte, 5)
	for i := range suffix {
		suffix[i] = orderNumberCharset[rand.Intn(len(orderNumberCharset))]
	}
	return fmt.Sprintf("ORD-%d-%s", time.Now().Unix(), suffix)
}
