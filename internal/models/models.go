package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order represents a customer order. The contact/shipping snapshot is
// immutable once the order is created; status fields are only mutated
// through the state machine.
type Order struct {
	ID              int64           `db:"id" json:"id"`
	OrderNumber     string          `db:"order_number" json:"order_number"`
	CustomerName    string          `db:"customer_name" json:"customer_name"`
	CustomerEmail   string          `db:"customer_email" json:"customer_email"`
	CustomerPhone   string          `db:"customer_phone" json:"customer_phone,omitempty"`
	ShippingAddress string          `db:"shipping_address" json:"shipping_address"`
	ShippingCity    string          `db:"shipping_city" json:"shipping_city"`
	ShippingCountry string          `db:"shipping_country" json:"shipping_country"`
	ShippingZip     string          `db:"shipping_zip" json:"shipping_zip"`
	Subtotal        decimal.Decimal `db:"subtotal" json:"subtotal"`
	ShippingCost    decimal.Decimal `db:"shipping_cost" json:"shipping_cost"`
	Total           decimal.Decimal `db:"total" json:"total"`
	Status          string          `db:"status" json:"status"`
	PaymentStatus   string          `db:"payment_status" json:"payment_status"`
	PaymentMethod   string          `db:"payment_method" json:"payment_method"`
	PaymentRef      string          `db:"payment_ref" json:"payment_ref,omitempty"`
	TrackingNumber  string          `db:"tracking_number" json:"tracking_number,omitempty"`
	TrackingURL     string          `db:"tracking_url" json:"tracking_url,omitempty"`
	Version         int64           `db:"version" json:"-"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
	ConfirmedAt     *time.Time      `db:"confirmed_at" json:"confirmed_at,omitempty"`
	ShippedAt       *time.Time      `db:"shipped_at" json:"shipped_at,omitempty"`
	DeliveredAt     *time.Time      `db:"delivered_at" json:"delivered_at,omitempty"`
}

// OrderItem represents a line item in an order.
type OrderItem struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   int64           `db:"order_id" json:"order_id"`
	ProductID int64           `db:"product_id" json:"product_id"`
	VariantID int64           `db:"variant_id" json:"variant_id,omitempty"`
	Name      string          `db:"name" json:"name"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	LineTotal decimal.Decimal `db:"line_total" json:"line_total"`
}

// StatusHistoryEntry is an append-only audit record, one per accepted
// transition. The dedup key doubles as the idempotency check for replayed
// external events.
type StatusHistoryEntry struct {
	ID         int64     `db:"id" json:"id"`
	OrderID    int64     `db:"order_id" json:"order_id"`
	FromStatus string    `db:"from_status" json:"from_status"`
	ToStatus   string    `db:"to_status" json:"to_status"`
	Cause      string    `db:"cause" json:"cause"`
	DedupKey   string    `db:"dedup_key" json:"-"`
	Note       string    `db:"note" json:"note,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// SupplierOrder tracks the fulfillment request placed with the dropshipping
// supplier for a confirmed order. The customer-facing Order fields are a
// projection of this record, updated through the state machine.
type SupplierOrder struct {
	ID              int64      `db:"id" json:"id"`
	OrderID         int64      `db:"order_id" json:"order_id"`
	SupplierID      string     `db:"supplier_id" json:"supplier_id"`
	ExternalOrderID string     `db:"external_order_id" json:"external_order_id,omitempty"`
	Status          string     `db:"status" json:"status"`
	TrackingNumber  string     `db:"tracking_number" json:"tracking_number,omitempty"`
	TrackingURL     string     `db:"tracking_url" json:"tracking_url,omitempty"`
	Attempts        int        `db:"attempts" json:"attempts"`
	LastError       string     `db:"last_error" json:"last_error,omitempty"`
	LastSyncedAt    *time.Time `db:"last_synced_at" json:"last_synced_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// Order statuses
const (
	OrderStatusPending    = "PENDING"
	OrderStatusConfirmed  = "CONFIRMED"
	OrderStatusProcessing = "PROCESSING"
	OrderStatusShipped    = "SHIPPED"
	OrderStatusDelivered  = "DELIVERED"
	OrderStatusCancelled  = "CANCELLED"
	OrderStatusRefunded   = "REFUNDED"
	OrderStatusFailed     = "FAILED"
)

// Payment statuses
const (
	PaymentStatusPending  = "PENDING"
	PaymentStatusPaid     = "PAID"
	PaymentStatusFailed   = "FAILED"
	PaymentStatusRefunded = "REFUNDED"
)

// Supplier order statuses
const (
	SupplierStatusPending      = "PENDING"
	SupplierStatusSubmitted    = "SUBMITTED"
	SupplierStatusAcknowledged = "ACKNOWLEDGED"
	SupplierStatusShipped      = "SHIPPED"
	SupplierStatusDelivered    = "DELIVERED"
	SupplierStatusCancelled    = "CANCELLED"
	SupplierStatusSyncFailed   = "SYNC_FAILED"
)

// IsTerminalStatus reports whether an order status permits no further
// transitions.
func IsTerminalStatus(status string) bool {
	switch status {
	case OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}
