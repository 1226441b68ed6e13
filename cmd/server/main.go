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

	"storefront-service/config"
	"storefront-service/internal/api"
	"storefront-service/internal/broker"
	"storefront-service/internal/gateway"
	"storefront-service/internal/notify"
	"storefront-service/internal/redisclient"
	"storefront-service/internal/service"
	"storefront-service/internal/store"
	"storefront-service/internal/util"
	"storefront-service/internal/webhook"
	"storefront-service/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting storefront service")

	tp, err := util.InitTracer("storefront-service", cfg.Observ.JaegerEndpoint)
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

	auditProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
	defer auditProducer.Close()
	retryProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicRetry)
	defer retryProducer.Close()
	log.Println("Kafka producers initialized")

	eventPublisher := broker.NewEventPublisher(auditProducer, retryProducer)

	gatewayClient := gateway.NewClient(cfg.Gateway)
	mailer := notify.NewMailer(cfg.Mail)

	orchestrator := service.NewDeliveryOrchestrator(db, mailer, eventPublisher, cfg.Business.DeliveryMaxAttempts)
	ledger := service.NewCommissionLedger(db, eventPublisher, cfg.Business.CommissionRate)
	reconciler := service.NewPaymentReconciler(db, orchestrator, ledger, redisClient, eventPublisher)
	verifier := service.NewPaymentVerifier(gatewayClient, reconciler, db)
	orderService := service.NewOrderService(db, redisClient, gatewayClient, eventPublisher,
		cfg.Gateway.CallbackURL, time.Duration(cfg.Business.CartTTLSeconds)*time.Second)

	limiter := redisclient.NewWebhookLimiter(redisClient,
		time.Duration(cfg.Business.RateLimitWindowSeconds)*time.Second, cfg.Business.RateLimitMax)
	ingress := webhook.NewIngress(cfg.Gateway.WebhookSecret, cfg.Gateway.AllowedIPs, limiter, db)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	retryConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicRetry, cfg.Kafka.ConsumerGroup)
	retryWorker := worker.NewRetryWorker(retryConsumer, orchestrator)
	go func() {
		if err := retryWorker.Start(workerCtx); err != nil {
			log.Printf("Retry worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, verifier, reconciler, ingress, cfg.Gateway.SignatureHeader)
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
	retryWorker.Stop()

	log.Println("Server exited")
}
