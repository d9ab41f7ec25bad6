package service

import (
	"context"
	"net/http"
	"regexp"
	"sync"
	"testing"

	"fulfillment-service/internal/gateway"
	"fulfillment-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOrderStore struct {
	mu     sync.Mutex
	nextID int64
	orders map[string]*models.Order
	items  map[int64][]models.OrderItem
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{
		orders: make(map[string]*models.Order),
		items:  make(map[int64][]models.OrderItem),
	}
}

func (f *fakeOrderStore) CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	order.ID = f.nextID
	cp := *order
	f.orders[order.OrderNumber] = &cp
	f.items[order.ID] = items
	return nil
}

func (f *fakeOrderStore) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[orderNumber]
	if !ok {
		return nil, assert.AnError
	}
	cp := *order
	return &cp, nil
}

func (f *fakeOrderStore) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[orderID], nil
}

type stubAdapter struct {
	name string
}

func (a *stubAdapter) Name() string { return a.name }

func (a *stubAdapter) VerifyWebhook(payload []byte, headers http.Header) (*gateway.PaymentOutcome, error) {
	return nil, gateway.ErrVerificationFailed
}

func (a *stubAdapter) CreateCharge(ctx context.Context, order *models.Order) (*gateway.ChargeHandle, error) {
	return &gateway.ChargeHandle{
		Provider:    a.name,
		Reference:   "stub-ref",
		RedirectURL: "https://pay.example.com/" + order.OrderNumber,
	}, nil
}

func testOrderService(st OrderStore) *OrderService {
	registry := gateway.NewRegistry(&stubAdapter{name: "cardpay"})
	return NewOrderService(st, registry, nil, nil, decimal.RequireFromString("4.99"))
}

func validCreateRequest() *CreateOrderRequest {
	return &CreateOrderRequest{
		CustomerName:    "Jane Doe",
		CustomerEmail:   "jane@example.com",
		ShippingAddress: "1 Main St",
		ShippingCity:    "Springfield",
		ShippingCountry: "US",
		ShippingZip:     "12345",
		PaymentMethod:   "cardpay",
		Items: []OrderItemRequest{
			{ProductID: 10, Name: "Mug", Quantity: 2, UnitPrice: "6.77"},
			{ProductID: 11, Name: "Coaster", Quantity: 1, UnitPrice: "4.99"},
		},
	}
}

func TestCreateOrderComputesTotals(t *testing.T) {
	st := newFakeOrderStore()
	svc := testOrderService(st)

	resp, err := svc.CreateOrder(context.Background(), validCreateRequest())
	require.NoError(t, err)
	require.NotNil(t, resp.Payment)
	assert.Equal(t, models.OrderStatusPending, resp.Status)

	order, err := st.GetOrderByNumber(context.Background(), resp.OrderNumber)
	require.NoError(t, err)

	// 2*6.77 + 4.99 = 18.53, plus flat shipping 4.99.
	assert.True(t, order.Subtotal.Equal(decimal.RequireFromString("18.53")), "subtotal %s", order.Subtotal)
	assert.True(t, order.Total.Equal(decimal.RequireFromString("23.52")), "total %s", order.Total)
	assert.True(t, order.Total.Equal(order.Subtotal.Add(order.ShippingCost)))
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)
}

func TestCreateOrderRejectsClientTotalMismatch(t *testing.T) {
	st := newFakeOrderStore()
	svc := testOrderService(st)

	req := validCreateRequest()
	req.Total = "0.01"

	_, err := svc.CreateOrder(context.Background(), req)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, st.orders)
}

func TestCreateOrderAcceptsMatchingClientTotal(t *testing.T) {
	st := newFakeOrderStore()
	svc := testOrderService(st)

	req := validCreateRequest()
	req.Total = "23.52"

	_, err := svc.CreateOrder(context.Background(), req)
	assert.NoError(t, err)
}

func TestCreateOrderRejectsInvalidUnitPrice(t *testing.T) {
	st := newFakeOrderStore()
	svc := testOrderService(st)

	for _, price := range []string{"", "abc", "0", "-1.50"} {
		req := validCreateRequest()
		req.Items[0].UnitPrice = price

		_, err := svc.CreateOrder(context.Background(), req)
		assert.ErrorIs(t, err, ErrValidation, "price %q", price)
	}
	assert.Empty(t, st.orders)
}

func TestCreateOrderRejectsUnknownPaymentMethod(t *testing.T) {
	st := newFakeOrderStore()
	svc := testOrderService(st)

	req := validCreateRequest()
	req.PaymentMethod = "carrier-pigeon"

	_, err := svc.CreateOrder(context.Background(), req)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGetOrderViewProjectsOrder(t *testing.T) {
	st := newFakeOrderStore()
	svc := testOrderService(st)
	ctx := context.Background()

	resp, err := svc.CreateOrder(ctx, validCreateRequest())
	require.NoError(t, err)

	view, err := svc.GetOrderView(ctx, resp.OrderNumber)
	require.NoError(t, err)

	assert.Equal(t, resp.OrderNumber, view.OrderNumber)
	assert.Equal(t, models.OrderStatusPending, view.Status)
	assert.Equal(t, "23.52", view.Total)
	assert.Len(t, view.Items, 2)
	assert.Equal(t, "13.54", view.Items[0].LineTotal)
}

func TestNewOrderNumberFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^ORD-\d{10}-[A-Z0-9]{5}$`)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		number := NewOrderNumber()
		assert.Regexp(t, pattern, number)
		seen[number] = true
	}
	assert.Greater(t, len(seen), 1, "order numbers must vary")
}
