package models

import (
	"fmt"
	"time"
)

// Transition event kinds. These are the closed set of inputs the state
// machine accepts; every external signal (webhook, supplier poll, operator
// action) is normalized into one of them before it can touch an order.
const (
	EventPaymentSucceeded     = "PAYMENT_SUCCEEDED"
	EventPaymentFailed        = "PAYMENT_FAILED"
	EventPaymentRefunded      = "PAYMENT_REFUNDED"
	EventSupplierAcknowledged = "SUPPLIER_ACKNOWLEDGED"
	EventSupplierShipped      = "SUPPLIER_SHIPPED"
	EventSupplierDelivered    = "SUPPLIER_DELIVERED"
	EventSupplierCancelled    = "SUPPLIER_CANCELLED"
	EventOperatorConfirm      = "OPERATOR_CONFIRM"
	EventOperatorCancel       = "OPERATOR_CANCEL"
	EventOperatorRefund       = "OPERATOR_REFUND"
)

// TransitionEvent is a canonical, provider-independent order lifecycle
// event. DedupKey uniquely identifies the upstream delivery so replays are
// detected against the status history.
type TransitionEvent struct {
	Kind           string
	DedupKey       string
	Source         string
	Note           string
	PaymentRef     string
	TrackingNumber string
	TrackingURL    string
	OccurredAt     time.Time
}

// PaymentDedupKey builds the dedup key for a payment webhook event.
func PaymentDedupKey(provider, rawEventID string) string {
	return fmt.Sprintf("payment:%s:%s", provider, rawEventID)
}

// SupplierDedupKey builds the dedup key for a supplier status observation.
func SupplierDedupKey(supplierID, externalOrderID, statusLabel string) string {
	return fmt.Sprintf("supplier:%s:%s:%s", supplierID, externalOrderID, statusLabel)
}

// OperatorDedupKey builds the dedup key for a manual operator action.
func OperatorDedupKey(operatorID string, at time.Time) string {
	return fmt.Sprintf("operator:%s:%d", operatorID, at.UnixNano())
}

// Notification event types published to the broker for the external
// notification dispatcher.
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
)

// BaseEvent contains common fields for all published events.
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent is published when a new order is accepted.
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     int64  `json:"order_id"`
	OrderNumber string `json:"order_number"`
	Email       string `json:"email"`
	Total       string `json:"total"`
}

// OrderStatusChangedEvent is published on every accepted transition.
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID        int64  `json:"order_id"`
	OrderNumber    string `json:"order_number"`
	Email          string `json:"email"`
	FromStatus     string `json:"from_status"`
	ToStatus       string `json:"to_status"`
	Cause          string `json:"cause"`
	TrackingNumber string `json:"tracking_number,omitempty"`
	TrackingURL    string `json:"tracking_url,omitempty"`
}
