package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed order creations",
	}, []string{"reason"})

	WebhooksReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhooks_received_total",
		Help: "Total number of payment webhooks received",
	}, []string{"provider", "result"})

	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Total number of accepted order status transitions",
	}, []string{"from", "to"})

	TransitionsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_rejected_total",
		Help: "Total number of rejected order status transitions",
	}, []string{"status", "event"})

	TransitionsDuplicateTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_transitions_duplicate_total",
		Help: "Total number of duplicate transition events absorbed",
	})

	SupplierSubmitAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supplier_submit_attempts_total",
		Help: "Total number of supplier order creation attempts",
	})

	SupplierSubmitFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supplier_submit_failures_total",
		Help: "Total number of failed supplier order submissions",
	}, []string{"reason"})

	SupplierSubmitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "supplier_submit_latency_seconds",
		Help:    "Latency of supplier order submission including retries",
		Buckets: prometheus.DefBuckets,
	})

	TrackingSyncRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracking_sync_runs_total",
		Help: "Total number of tracking sync scheduler runs",
	})

	TrackingSyncPollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracking_sync_polls_total",
		Help: "Total number of supplier status polls",
	}, []string{"result"})

	TrackingSyncLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tracking_sync_latency_seconds",
		Help:    "Latency of a single supplier status poll",
		Buckets: prometheus.DefBuckets,
	})

	NotificationsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_published_total",
		Help: "Total number of notification events published",
	}, []string{"type"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
