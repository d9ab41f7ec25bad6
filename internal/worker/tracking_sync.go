package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/service"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// supplierStatusMap translates the supplier's status vocabulary onto the
// internal supplier order statuses. Labels missing from this table are
// logged and left unchanged, never guessed.
var supplierStatusMap = map[string]string{
	"created":    models.SupplierStatusAcknowledged,
	"accepted":   models.SupplierStatusAcknowledged,
	"shipped":    models.SupplierStatusShipped,
	"in_transit": models.SupplierStatusShipped,
	"delivered":  models.SupplierStatusDelivered,
	"cancelled":  models.SupplierStatusCancelled,
}

// supplierEventMap maps the internal supplier status onto the transition
// event fed into the state machine.
var supplierEventMap = map[string]string{
	models.SupplierStatusAcknowledged: models.EventSupplierAcknowledged,
	models.SupplierStatusShipped:      models.EventSupplierShipped,
	models.SupplierStatusDelivered:    models.EventSupplierDelivered,
	models.SupplierStatusCancelled:    models.EventSupplierCancelled,
}

// syncStatuses are the supplier order statuses worth polling.
var syncStatuses = []string{
	models.SupplierStatusSubmitted,
	models.SupplierStatusAcknowledged,
	models.SupplierStatusShipped,
}

// SyncStore is the slice of the store the worker needs.
type SyncStore interface {
	ListSupplierOrdersDueForSync(ctx context.Context, statuses []string, staleness time.Duration, limit int) ([]models.SupplierOrder, error)
	UpdateSupplierOrder(ctx context.Context, so *models.SupplierOrder) error
}

// TransitionApplier feeds canonical events into the order state machine.
type TransitionApplier interface {
	Apply(ctx context.Context, orderID int64, event *models.TransitionEvent) (*models.Order, error)
}

// TrackingSyncConfig tunes the scheduler.
type TrackingSyncConfig struct {
	Interval    time.Duration
	Staleness   time.Duration
	BatchSize   int
	Concurrency int
	RatePerSec  float64
	PollTimeout time.Duration
}

// TrackingSyncWorker periodically polls the supplier for in-flight
// fulfillments and feeds observed status changes back through the state
// machine. It never writes Order fields directly.
type TrackingSyncWorker struct {
	store   SyncStore
	client  service.SupplierClient
	machine TransitionApplier
	cfg     TrackingSyncConfig
	limiter *rate.Limiter
	logger  *zap.Logger
	stop    chan struct{}
	stopped sync.Once
}

// NewTrackingSyncWorker creates the tracking sync worker.
func NewTrackingSyncWorker(st SyncStore, client service.SupplierClient, machine TransitionApplier, cfg TrackingSyncConfig) *TrackingSyncWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 15 * time.Second
	}
	return &TrackingSyncWorker{
		store:   st,
		client:  client,
		machine: machine,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		logger:  util.GetLogger(),
		stop:    make(chan struct{}),
	}
}

// Start runs the sync loop until the context is cancelled or Stop is called.
func (w *TrackingSyncWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting tracking sync worker",
		zap.Duration("interval", w.cfg.Interval),
		zap.Int("concurrency", w.cfg.Concurrency))

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// Stop signals the worker to exit.
func (w *TrackingSyncWorker) Stop() {
	w.stopped.Do(func() { close(w.stop) })
}

// RunOnce executes a single sync pass over all due supplier orders. A
// failure on one item never aborts the batch.
func (w *TrackingSyncWorker) RunOnce(ctx context.Context) {
	util.TrackingSyncRunsTotal.Inc()

	due, err := w.store.ListSupplierOrdersDueForSync(ctx, syncStatuses, w.cfg.Staleness, w.cfg.BatchSize)
	if err != nil {
		w.logger.Error("Failed to list supplier orders for sync", zap.Error(err))
		return
	}
	if len(due) == 0 {
		return
	}

	w.logger.Info("Tracking sync pass", zap.Int("due", len(due)))

	sem := make(chan struct{}, w.cfg.Concurrency)
	var wg sync.WaitGroup

	for i := range due {
		if err := w.limiter.Wait(ctx); err != nil {
			break
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(so models.SupplierOrder) {
			defer wg.Done()
			defer func() { <-sem }()
			w.syncOne(ctx, &so)
		}(due[i])
	}

	wg.Wait()
}

func (w *TrackingSyncWorker) syncOne(ctx context.Context, so *models.SupplierOrder) {
	pollCtx, cancel := context.WithTimeout(ctx, w.cfg.PollTimeout)
	defer cancel()

	start := time.Now()
	resp, err := w.client.GetOrderStatus(pollCtx, so.ExternalOrderID)
	util.TrackingSyncLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		// LastSyncedAt is deliberately left unchanged so the next run
		// retries this order.
		util.TrackingSyncPollsTotal.WithLabelValues("error").Inc()
		so.LastError = err.Error()
		if uerr := w.store.UpdateSupplierOrder(ctx, so); uerr != nil {
			w.logger.Error("Failed to record poll error", zap.Int64("order_id", so.OrderID), zap.Error(uerr))
		}
		w.logger.Warn("Supplier status poll failed",
			zap.Int64("order_id", so.OrderID),
			zap.String("external_order_id", so.ExternalOrderID),
			zap.Error(err))
		return
	}

	now := time.Now()
	so.LastSyncedAt = &now
	so.LastError = ""

	mapped, known := supplierStatusMap[resp.Status]
	if !known {
		util.TrackingSyncPollsTotal.WithLabelValues("unknown_status").Inc()
		w.logger.Warn("Unrecognized supplier status, leaving order unchanged",
			zap.Int64("order_id", so.OrderID),
			zap.String("supplier_status", resp.Status))
		if err := w.store.UpdateSupplierOrder(ctx, so); err != nil {
			w.logger.Error("Failed to update supplier order", zap.Int64("order_id", so.OrderID), zap.Error(err))
		}
		return
	}

	if mapped == so.Status {
		util.TrackingSyncPollsTotal.WithLabelValues("unchanged").Inc()
		if err := w.store.UpdateSupplierOrder(ctx, so); err != nil {
			w.logger.Error("Failed to update supplier order", zap.Int64("order_id", so.OrderID), zap.Error(err))
		}
		return
	}

	event := &models.TransitionEvent{
		Kind:           supplierEventMap[mapped],
		DedupKey:       models.SupplierDedupKey(so.SupplierID, so.ExternalOrderID, resp.Status),
		Source:         so.SupplierID,
		TrackingNumber: resp.TrackingNumber,
		TrackingURL:    resp.TrackingURL,
		OccurredAt:     now,
	}

	if _, err := w.machine.Apply(ctx, so.OrderID, event); err != nil {
		if errors.Is(err, service.ErrInvalidTransition) {
			// A regressing or out-of-order supplier status; the order keeps
			// its later state.
			util.TrackingSyncPollsTotal.WithLabelValues("rejected").Inc()
			w.logger.Warn("Supplier status not applicable to order",
				zap.Int64("order_id", so.OrderID),
				zap.String("supplier_status", resp.Status))
		} else {
			util.TrackingSyncPollsTotal.WithLabelValues("error").Inc()
			w.logger.Error("Failed to apply supplier transition",
				zap.Int64("order_id", so.OrderID),
				zap.Error(err))
			so.LastError = err.Error()
			so.LastSyncedAt = nil
			if uerr := w.store.UpdateSupplierOrder(ctx, so); uerr != nil {
				w.logger.Error("Failed to record apply error", zap.Int64("order_id", so.OrderID), zap.Error(uerr))
			}
			return
		}
	} else {
		util.TrackingSyncPollsTotal.WithLabelValues("updated").Inc()
		so.Status = mapped
		so.TrackingNumber = resp.TrackingNumber
		so.TrackingURL = resp.TrackingURL
	}

	if err := w.store.UpdateSupplierOrder(ctx, so); err != nil {
		w.logger.Error("Failed to update supplier order", zap.Int64("order_id", so.OrderID), zap.Error(err))
	}
}
