package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fulfillment-service/config"
	"fulfillment-service/internal/api"
	"fulfillment-service/internal/broker"
	"fulfillment-service/internal/gateway"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/redisclient"
	"fulfillment-service/internal/service"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"
	"fulfillment-service/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting fulfillment service")

	tp, err := util.InitTracer("fulfillment-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrderEvents)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	shippingRate, err := decimal.NewFromString(cfg.Shipping.FlatRate)
	if err != nil {
		log.Fatalf("Invalid shipping flat rate %q: %v", cfg.Shipping.FlatRate, err)
	}

	gateways := gateway.NewRegistry(
		gateway.NewCardpayAdapter(cfg.Payment.CardpaySecret),
		gateway.NewSwiftWalletAdapter(cfg.Payment.SwiftWalletSecret),
	)

	supplierClient := service.NewHTTPSupplierClient(cfg.Supplier.BaseURL, cfg.Supplier.APIKey, cfg.Supplier.Timeout)

	stateMachine := service.NewStateMachine(db, eventPublisher, redisClient)
	orchestrator := service.NewSupplierOrchestrator(db, supplierClient, redisClient, service.SupplierOrchestratorConfig{
		SupplierID:     cfg.Supplier.ID,
		MaxAttempts:    cfg.Supplier.MaxAttempts,
		BackoffBase:    cfg.Supplier.BackoffBase,
		BackoffMax:     cfg.Supplier.BackoffMax,
		AttemptTimeout: cfg.Supplier.Timeout,
	})

	stateMachine.OnConfirmed(func(order *models.Order) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := orchestrator.Submit(ctx, order); err != nil {
			logger.Error("Supplier submission failed",
				zap.Int64("order_id", order.ID),
				zap.Error(err))
		}
	})
	stateMachine.OnCancelled(func(order *models.Order) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := orchestrator.Cancel(ctx, order); err != nil {
			logger.Error("Supplier cancellation failed",
				zap.Int64("order_id", order.ID),
				zap.Error(err))
		}
	})

	orderService := service.NewOrderService(db, gateways, eventPublisher, redisClient, shippingRate)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	syncWorker := worker.NewTrackingSyncWorker(db, supplierClient, stateMachine, worker.TrackingSyncConfig{
		Interval:    cfg.Scheduler.Interval,
		Staleness:   cfg.Scheduler.Staleness,
		BatchSize:   cfg.Scheduler.BatchSize,
		Concurrency: cfg.Scheduler.Concurrency,
		RatePerSec:  cfg.Scheduler.RatePerSec,
		PollTimeout: cfg.Supplier.Timeout,
	})
	go func() {
		if err := syncWorker.Start(workerCtx); err != nil && err != context.Canceled {
			log.Printf("Tracking sync worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(orderService, stateMachine, gateways, db, redisClient, cfg.Auth.JWTSecret)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	syncWorker.Stop()

	log.Println("Server exited")
}
