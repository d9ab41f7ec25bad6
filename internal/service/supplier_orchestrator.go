package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// SupplierStore is the slice of the order store the orchestrator needs.
type SupplierStore interface {
	GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	CreateSupplierOrder(ctx context.Context, so *models.SupplierOrder) error
	GetSupplierOrderByOrderID(ctx context.Context, orderID int64) (*models.SupplierOrder, error)
	UpdateSupplierOrder(ctx context.Context, so *models.SupplierOrder) error
}

// Locker serializes submits for the same order across processes.
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// SupplierOrchestratorConfig tunes the retry behaviour of Submit.
type SupplierOrchestratorConfig struct {
	SupplierID     string
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	AttemptTimeout time.Duration
}

// SupplierOrchestrator ensures a confirmed order has a matching fulfillment
// request at the supplier. Payment has already been collected by the time
// Submit runs, so exhausted retries park the record in SYNC_FAILED for an
// operator instead of dropping the order.
type SupplierOrchestrator struct {
	store  SupplierStore
	client SupplierClient
	locker Locker
	cfg    SupplierOrchestratorConfig
	logger *zap.Logger
}

// NewSupplierOrchestrator creates the supplier orchestrator.
func NewSupplierOrchestrator(st SupplierStore, client SupplierClient, locker Locker, cfg SupplierOrchestratorConfig) *SupplierOrchestrator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 2 * time.Minute
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 15 * time.Second
	}
	return &SupplierOrchestrator{
		store:  st,
		client: client,
		locker: locker,
		cfg:    cfg,
		logger: util.GetLogger(),
	}
}

// Submit creates the supplier-side order for a confirmed order. It is
// idempotent: an existing non-failed supplier order is returned as-is.
func (so *SupplierOrchestrator) Submit(ctx context.Context, order *models.Order) (*models.SupplierOrder, error) {
	ctx, span := util.StartSpan(ctx, "SupplierOrchestrator.Submit")
	defer span.End()

	switch order.Status {
	case models.OrderStatusConfirmed, models.OrderStatusProcessing,
		models.OrderStatusShipped, models.OrderStatusDelivered:
	default:
		return nil, fmt.Errorf("order %d not eligible for fulfillment in status %s", order.ID, order.Status)
	}

	if so.locker != nil {
		lockKey := fmt.Sprintf("supplier-submit:%d", order.ID)
		acquired, err := so.locker.AcquireLock(ctx, lockKey, time.Minute)
		if err != nil {
			so.logger.Warn("Submit lock unavailable, relying on store idempotency", zap.Error(err))
		} else if !acquired {
			existing, err := so.store.GetSupplierOrderByOrderID(ctx, order.ID)
			if err != nil || existing == nil {
				return nil, fmt.Errorf("submit already in progress for order %d", order.ID)
			}
			return existing, nil
		} else {
			defer so.locker.ReleaseLock(ctx, lockKey)
		}
	}

	existing, err := so.store.GetSupplierOrderByOrderID(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing supplier order: %w", err)
	}
	if existing != nil && existing.Status != models.SupplierStatusSyncFailed {
		so.logger.Info("Supplier order already exists",
			zap.Int64("order_id", order.ID),
			zap.String("status", existing.Status))
		return existing, nil
	}

	record := existing
	if record == nil {
		record = &models.SupplierOrder{
			OrderID:    order.ID,
			SupplierID: so.cfg.SupplierID,
			Status:     models.SupplierStatusPending,
		}
		if err := so.store.CreateSupplierOrder(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to create supplier order: %w", err)
		}
	} else {
		// Re-arm a failed record for another round of attempts.
		record.Status = models.SupplierStatusPending
		record.LastError = ""
	}

	items, err := so.store.GetOrderItems(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}
	req := BuildSupplierCreateRequest(order, items)

	start := time.Now()
	defer func() {
		util.SupplierSubmitLatency.Observe(time.Since(start).Seconds())
	}()

	var lastErr error
	for attempt := 1; attempt <= so.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := backoffDelay(attempt-1, so.cfg.BackoffBase, so.cfg.BackoffMax)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = so.cfg.MaxAttempts
			}
			if lastErr != nil {
				break
			}
		}

		util.SupplierSubmitAttemptsTotal.Inc()
		record.Attempts++

		attemptCtx, cancel := context.WithTimeout(ctx, so.cfg.AttemptTimeout)
		resp, err := so.client.CreateOrder(attemptCtx, req)
		cancel()

		if err == nil {
			record.ExternalOrderID = resp.OrderID
			record.Status = models.SupplierStatusSubmitted
			record.LastError = ""
			now := time.Now()
			record.LastSyncedAt = &now
			if err := so.store.UpdateSupplierOrder(ctx, record); err != nil {
				return nil, fmt.Errorf("failed to persist submitted supplier order: %w", err)
			}
			so.logger.Info("Supplier order submitted",
				zap.Int64("order_id", order.ID),
				zap.String("external_order_id", resp.OrderID),
				zap.Int("attempts", record.Attempts))
			return record, nil
		}

		lastErr = err
		so.logger.Warn("Supplier order creation attempt failed",
			zap.Int64("order_id", order.ID),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if errors.Is(err, ErrSupplierRejected) {
			break
		}
	}

	record.Status = models.SupplierStatusSyncFailed
	if lastErr != nil {
		record.LastError = lastErr.Error()
	}
	if err := so.store.UpdateSupplierOrder(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to persist failed supplier order: %w", err)
	}

	util.SupplierSubmitFailuresTotal.WithLabelValues(failureReason(lastErr)).Inc()
	so.logger.Error("Supplier order submission exhausted, flagged for operator",
		zap.Int64("order_id", order.ID),
		zap.Int("attempts", record.Attempts),
		zap.Error(lastErr))

	return record, fmt.Errorf("supplier submission failed for order %d: %w", order.ID, lastErr)
}

// Cancel forwards an order cancellation to the supplier when an active
// supplier order exists.
func (so *SupplierOrchestrator) Cancel(ctx context.Context, order *models.Order) error {
	ctx, span := util.StartSpan(ctx, "SupplierOrchestrator.Cancel")
	defer span.End()

	record, err := so.store.GetSupplierOrderByOrderID(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("failed to load supplier order: %w", err)
	}
	if record == nil || record.ExternalOrderID == "" {
		return nil
	}

	attemptCtx, cancel := context.WithTimeout(ctx, so.cfg.AttemptTimeout)
	defer cancel()

	if err := so.client.CancelOrder(attemptCtx, record.ExternalOrderID); err != nil {
		return fmt.Errorf("failed to cancel supplier order %s: %w", record.ExternalOrderID, err)
	}

	record.Status = models.SupplierStatusCancelled
	return so.store.UpdateSupplierOrder(ctx, record)
}

// backoffDelay returns an exponential delay with jitter, capped at max.
func backoffDelay(retry int, base, max time.Duration) time.Duration {
	delay := base << uint(retry-1)
	if delay > max || delay <= 0 {
		delay = max
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 2))
	return delay/2 + jitter
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrSupplierRejected):
		return "rejected"
	case errors.Is(err, ErrSupplierUnavailable):
		return "unavailable"
	default:
		return "other"
	}
}
