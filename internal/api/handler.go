package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"fulfillment-service/internal/gateway"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/service"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const webhookDedupTTL = 48 * time.Hour

// TransitionApplier feeds canonical events into the order state machine.
type TransitionApplier interface {
	Apply(ctx context.Context, orderID int64, event *models.TransitionEvent) (*models.Order, error)
}

// OrderLookup resolves orders referenced by inbound webhooks.
type OrderLookup interface {
	GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
}

// EventDeduper is the non-authoritative fast path that short-circuits
// duplicate webhook deliveries before they hit the database.
type EventDeduper interface {
	MarkEventSeen(ctx context.Context, dedupKey string, ttl time.Duration) (bool, error)
	ClearEventSeen(ctx context.Context, dedupKey string) error
}

// Handler contains HTTP handlers
type Handler struct {
	orderService *service.OrderService
	machine      TransitionApplier
	gateways     *gateway.Registry
	orders       OrderLookup
	deduper      EventDeduper
	jwtSecret    string
	logger       *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orderService *service.OrderService,
	machine TransitionApplier,
	gateways *gateway.Registry,
	orders OrderLookup,
	deduper EventDeduper,
	jwtSecret string,
) *Handler {
	return &Handler{
		orderService: orderService,
		machine:      machine,
		gateways:     gateways,
		orders:       orders,
		deduper:      deduper,
		jwtSecret:    jwtSecret,
		logger:       util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/payments/webhooks/:provider", h.paymentWebhook)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/:orderNumber", h.getOrder)

		ops := v1.Group("/", OperatorAuth(h.jwtSecret))
		ops.PATCH("/orders/:id/status", h.updateOrderStatus)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	resp, err := h.orderService.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create order"})
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// getOrder handles the public order lookup by order number
func (h *Handler) getOrder(c *gin.Context) {
	view, err := h.orderService.GetOrderView(c.Request.Context(), c.Param("orderNumber"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load order"})
		return
	}

	c.JSON(http.StatusOK, view)
}

// paymentWebhook verifies and applies an inbound payment provider webhook.
// Once a delivery authenticates, the response is 200 regardless of the
// downstream outcome so providers stop retrying; duplicates and
// inapplicable events are absorbed, not surfaced.
func (h *Handler) paymentWebhook(c *gin.Context) {
	provider := c.Param("provider")

	adapter, err := h.gateways.Get(provider)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	outcome, err := adapter.VerifyWebhook(payload, c.Request.Header)
	if err != nil {
		if errors.Is(err, gateway.ErrVerificationFailed) {
			util.WebhooksReceivedTotal.WithLabelValues(provider, "unverified").Inc()
			h.logger.Warn("Webhook failed verification", zap.String("provider", provider))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "verification failed"})
			return
		}
		util.WebhooksReceivedTotal.WithLabelValues(provider, "malformed").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	event, ok := outcome.TransitionEvent()
	if !ok {
		util.WebhooksReceivedTotal.WithLabelValues(provider, "pending").Inc()
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	ctx := c.Request.Context()

	if h.deduper != nil {
		if seen, err := h.deduper.MarkEventSeen(ctx, event.DedupKey, webhookDedupTTL); err == nil && seen {
			util.WebhooksReceivedTotal.WithLabelValues(provider, "duplicate").Inc()
			c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
			return
		}
	}

	order, err := h.orders.GetOrderByNumber(ctx, outcome.OrderReference)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			util.WebhooksReceivedTotal.WithLabelValues(provider, "unknown_order").Inc()
			h.logger.Warn("Webhook references unknown order",
				zap.String("provider", provider),
				zap.String("order_reference", outcome.OrderReference))
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		h.clearDedupKey(ctx, event.DedupKey)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
		return
	}

	if outcome.Outcome == gateway.OutcomeSucceeded && !outcome.Amount.Equal(order.Total) {
		util.WebhooksReceivedTotal.WithLabelValues(provider, "amount_mismatch").Inc()
		h.logger.Error("Webhook amount does not match order total",
			zap.String("provider", provider),
			zap.String("order_number", order.OrderNumber),
			zap.String("webhook_amount", outcome.Amount.String()),
			zap.String("order_total", order.Total.String()))
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	updated, err := h.machine.Apply(ctx, order.ID, event)
	switch {
	case errors.Is(err, service.ErrInvalidTransition):
		util.WebhooksReceivedTotal.WithLabelValues(provider, "inapplicable").Inc()
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
	case err != nil:
		util.WebhooksReceivedTotal.WithLabelValues(provider, "error").Inc()
		h.clearDedupKey(ctx, event.DedupKey)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
	default:
		util.WebhooksReceivedTotal.WithLabelValues(provider, "accepted").Inc()
		c.JSON(http.StatusOK, gin.H{"status": "ok", "order_status": updated.Status})
	}
}

// clearDedupKey releases the fast-path dedup key after a failed Apply so the
// provider's retry is processed instead of being answered as a duplicate. The
// status history remains the authoritative dedup check.
func (h *Handler) clearDedupKey(ctx context.Context, dedupKey string) {
	if h.deduper == nil {
		return
	}
	if err := h.deduper.ClearEventSeen(ctx, dedupKey); err != nil {
		h.logger.Warn("Failed to clear dedup key after error",
			zap.String("dedup_key", dedupKey),
			zap.Error(err))
	}
}

type updateStatusRequest struct {
	Action string `json:"action" binding:"required,oneof=confirm cancel refund"`
	Note   string `json:"note"`
}

var operatorActions = map[string]string{
	"confirm": models.EventOperatorConfirm,
	"cancel":  models.EventOperatorCancel,
	"refund":  models.EventOperatorRefund,
}

// updateOrderStatus handles manual operator transitions. It routes through
// the same state machine entry point as automated events.
func (h *Handler) updateOrderStatus(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	operatorID := c.GetString(operatorIDKey)
	now := time.Now()

	event := &models.TransitionEvent{
		Kind:       operatorActions[req.Action],
		DedupKey:   models.OperatorDedupKey(operatorID, now),
		Source:     operatorID,
		Note:       req.Note,
		OccurredAt: now,
	}

	updated, err := h.machine.Apply(c.Request.Context(), orderID, event)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
	case errors.Is(err, service.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{
			"error":  "transition not allowed",
			"status": updated.Status,
		})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update order"})
	default:
		c.JSON(http.StatusOK, gin.H{"order": updated})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
