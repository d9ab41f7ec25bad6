package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fulfillment-service/internal/broker"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// ErrInvalidTransition is returned when an event is not applicable to the
// order's current status. The order is left unmodified.
var ErrInvalidTransition = errors.New("invalid status transition")

// transitionTable is the single authority on which event kinds apply to
// which statuses. An absent entry means the event is rejected.
var transitionTable = map[string]map[string]string{
	models.OrderStatusPending: {
		models.EventPaymentSucceeded: models.OrderStatusConfirmed,
		models.EventPaymentFailed:    models.OrderStatusFailed,
		models.EventOperatorConfirm:  models.OrderStatusConfirmed,
		models.EventOperatorCancel:   models.OrderStatusCancelled,
	},
	models.OrderStatusConfirmed: {
		models.EventSupplierAcknowledged: models.OrderStatusProcessing,
		models.EventSupplierShipped:      models.OrderStatusShipped,
		models.EventSupplierCancelled:    models.OrderStatusCancelled,
		models.EventPaymentRefunded:      models.OrderStatusRefunded,
		models.EventOperatorCancel:       models.OrderStatusCancelled,
		models.EventOperatorRefund:       models.OrderStatusRefunded,
	},
	models.OrderStatusProcessing: {
		models.EventSupplierShipped:   models.OrderStatusShipped,
		models.EventSupplierCancelled: models.OrderStatusCancelled,
		models.EventPaymentRefunded:   models.OrderStatusRefunded,
		models.EventOperatorCancel:    models.OrderStatusCancelled,
		models.EventOperatorRefund:    models.OrderStatusRefunded,
	},
	models.OrderStatusShipped: {
		models.EventSupplierDelivered: models.OrderStatusDelivered,
		models.EventPaymentRefunded:   models.OrderStatusRefunded,
		models.EventOperatorCancel:    models.OrderStatusCancelled,
		models.EventOperatorRefund:    models.OrderStatusRefunded,
	},
	models.OrderStatusFailed: {
		models.EventOperatorCancel: models.OrderStatusCancelled,
	},
}

// NextStatus consults the transition table. The second return is false when
// the event does not apply to the current status.
func NextStatus(current, eventKind string) (string, bool) {
	next, ok := transitionTable[current][eventKind]
	return next, ok
}

// TransitionStore is the slice of the order store the state machine needs.
type TransitionStore interface {
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	HasHistoryEntry(ctx context.Context, dedupKey string) (bool, error)
	TransitionOrder(ctx context.Context, orderID int64, dedupKey string, fn store.TransitionFunc) (*models.Order, error)
}

// ViewCache invalidates cached public order views after a transition.
type ViewCache interface {
	InvalidateOrderView(ctx context.Context, orderNumber string) error
}

// StateMachine is the single entry point through which order status is
// mutated. Webhook handlers, the tracking sync worker, and operator actions
// all feed canonical events into Apply.
type StateMachine struct {
	store       TransitionStore
	publisher   broker.Publisher
	cache       ViewCache
	onConfirmed func(order *models.Order)
	onCancelled func(order *models.Order)
	logger      *zap.Logger
}

// NewStateMachine creates the order state machine.
func NewStateMachine(st TransitionStore, publisher broker.Publisher, cache ViewCache) *StateMachine {
	return &StateMachine{
		store:     st,
		publisher: publisher,
		cache:     cache,
		logger:    util.GetLogger(),
	}
}

// OnConfirmed registers the follow-up invoked (asynchronously) when an order
// enters CONFIRMED. Wired to the supplier orchestrator at startup.
func (sm *StateMachine) OnConfirmed(fn func(order *models.Order)) {
	sm.onConfirmed = fn
}

// OnCancelled registers the follow-up invoked when an order enters CANCELLED,
// used to forward the cancellation to the supplier.
func (sm *StateMachine) OnCancelled(fn func(order *models.Order)) {
	sm.onCancelled = fn
}

// Apply runs a canonical event through the transition table and persists the
// result. Duplicate deliveries (same dedup key) and repeated payment
// confirmations are absorbed as no-ops that return the current order.
func (sm *StateMachine) Apply(ctx context.Context, orderID int64, event *models.TransitionEvent) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "StateMachine.Apply")
	defer span.End()

	// Cheap pre-check outside the transaction. The same check is repeated
	// under the row lock, so a race here only costs one extra round trip.
	seen, err := sm.store.HasHistoryEntry(ctx, event.DedupKey)
	if err != nil {
		return nil, fmt.Errorf("failed to check dedup key: %w", err)
	}
	if seen {
		util.TransitionsDuplicateTotal.Inc()
		sm.logger.Info("Duplicate event ignored",
			zap.Int64("order_id", orderID),
			zap.String("dedup_key", event.DedupKey))
		return sm.store.GetOrderByID(ctx, orderID)
	}

	var applied *models.StatusHistoryEntry

	updated, err := sm.store.TransitionOrder(ctx, orderID, event.DedupKey, func(order *models.Order) (*models.Order, *models.StatusHistoryEntry, error) {
		// An order pays exactly once. A second successful payment event with
		// a fresh event id is still a replay from the order's point of view.
		if event.Kind == models.EventPaymentSucceeded && order.PaymentStatus == models.PaymentStatusPaid {
			return nil, nil, store.ErrDuplicateEvent
		}

		next, ok := NextStatus(order.Status, event.Kind)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s event %s", ErrInvalidTransition, order.Status, event.Kind)
		}

		updated := *order
		updated.Status = next
		applyEventFields(&updated, event)

		entry := &models.StatusHistoryEntry{
			OrderID:    order.ID,
			FromStatus: order.Status,
			ToStatus:   next,
			Cause:      fmt.Sprintf("%s/%s", event.Kind, event.Source),
			DedupKey:   event.DedupKey,
			Note:       event.Note,
		}
		applied = entry
		return &updated, entry, nil
	})

	if errors.Is(err, store.ErrDuplicateEvent) {
		util.TransitionsDuplicateTotal.Inc()
		return updated, nil
	}
	if errors.Is(err, ErrInvalidTransition) {
		util.TransitionsRejectedTotal.WithLabelValues(updated.Status, event.Kind).Inc()
		sm.logger.Warn("Transition rejected",
			zap.Int64("order_id", orderID),
			zap.String("status", updated.Status),
			zap.String("event", event.Kind))
		return updated, err
	}
	if err != nil {
		return nil, err
	}

	util.TransitionsTotal.WithLabelValues(applied.FromStatus, applied.ToStatus).Inc()
	sm.logger.Info("Order transitioned",
		zap.Int64("order_id", updated.ID),
		zap.String("from", applied.FromStatus),
		zap.String("to", applied.ToStatus),
		zap.String("cause", applied.Cause))

	sm.dispatchSideEffects(updated, applied)
	return updated, nil
}

// dispatchSideEffects runs the fire-and-forget follow-ups of a committed
// transition. Failures are logged and retried by their owners; they never
// roll back the transition.
func (sm *StateMachine) dispatchSideEffects(order *models.Order, entry *models.StatusHistoryEntry) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if sm.cache != nil {
			if err := sm.cache.InvalidateOrderView(ctx, order.OrderNumber); err != nil {
				sm.logger.Warn("Failed to invalidate order view cache",
					zap.String("order_number", order.OrderNumber),
					zap.Error(err))
			}
		}

		if sm.publisher != nil {
			if err := sm.publisher.PublishOrderStatusChanged(ctx, order, entry); err != nil {
				sm.logger.Error("Failed to publish status change",
					zap.Int64("order_id", order.ID),
					zap.Error(err))
			}
		}
	}()

	if entry.ToStatus == models.OrderStatusConfirmed && sm.onConfirmed != nil {
		go sm.onConfirmed(order)
	}
	if entry.ToStatus == models.OrderStatusCancelled && sm.onCancelled != nil {
		go sm.onCancelled(order)
	}
}

func applyEventFields(order *models.Order, event *models.TransitionEvent) {
	now := time.Now()

	switch event.Kind {
	case models.EventPaymentSucceeded:
		order.PaymentStatus = models.PaymentStatusPaid
		if event.PaymentRef != "" {
			order.PaymentRef = event.PaymentRef
		}
		order.ConfirmedAt = &now
	case models.EventOperatorConfirm:
		order.PaymentStatus = models.PaymentStatusPaid
		order.ConfirmedAt = &now
	case models.EventPaymentFailed:
		order.PaymentStatus = models.PaymentStatusFailed
	case models.EventPaymentRefunded, models.EventOperatorRefund:
		order.PaymentStatus = models.PaymentStatusRefunded
	case models.EventSupplierShipped:
		if event.TrackingNumber != "" {
			order.TrackingNumber = event.TrackingNumber
			order.TrackingURL = event.TrackingURL
		}
		order.ShippedAt = &now
	case models.EventSupplierDelivered:
		order.DeliveredAt = &now
	}
}
