package broker

import (
	"context"
	"fmt"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"github.com/google/uuid"
)

// Publisher is the sink for notification events consumed by the external
// notification dispatcher. The state machine treats publishes as fire and
// forget; a failed publish never rolls back a committed transition.
type Publisher interface {
	PublishOrderCreated(ctx context.Context, order *models.Order) error
	PublishOrderStatusChanged(ctx context.Context, order *models.Order, entry *models.StatusHistoryEntry) error
}

// EventPublisher publishes notification events to Kafka.
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOrderCreated publishes an OrderCreated event.
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, order *models.Order) error {
	event := &models.OrderCreatedEvent{
		BaseEvent:   newBaseEvent(models.EventTypeOrderCreated),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Email:       order.CustomerEmail,
		Total:       order.Total.StringFixed(2),
	}

	util.NotificationsPublishedTotal.WithLabelValues(event.EventType).Inc()
	return ep.producer.PublishEvent(ctx, orderKey(order.ID), event)
}

// PublishOrderStatusChanged publishes an OrderStatusChanged event for an
// accepted transition.
func (ep *EventPublisher) PublishOrderStatusChanged(ctx context.Context, order *models.Order, entry *models.StatusHistoryEntry) error {
	event := &models.OrderStatusChangedEvent{
		BaseEvent:      newBaseEvent(models.EventTypeOrderStatusChanged),
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		Email:          order.CustomerEmail,
		FromStatus:     entry.FromStatus,
		ToStatus:       entry.ToStatus,
		Cause:          entry.Cause,
		TrackingNumber: order.TrackingNumber,
		TrackingURL:    order.TrackingURL,
	}

	util.NotificationsPublishedTotal.WithLabelValues(event.EventType).Inc()
	return ep.producer.PublishEvent(ctx, orderKey(order.ID), event)
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}
