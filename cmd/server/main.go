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

	"chargehive/config"
	"chargehive/internal/api"
	"chargehive/internal/broker"
	"chargehive/internal/ledger"
	"chargehive/internal/price"
	"chargehive/internal/redisclient"
	"chargehive/internal/service"
	"chargehive/internal/store"
	"chargehive/internal/util"
	"chargehive/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Observ.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting chargehive settlement service")

	tp, err := util.InitTracer("chargehive", cfg.Server.Env, cfg.Observ.JaegerEndpoint)
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
	if err := db.Migrate(cfg.Database.MigrationsDir); err != nil {
		log.Fatalf("Failed to apply migrations: %v", err)
	}
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicPayments)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	keystore, err := ledger.NewKeystore(cfg.Chain.EncryptionKey)
	if err != nil {
		log.Fatalf("Failed to initialize wallet keystore: %v", err)
	}

	ledgerClient := ledger.NewClient(
		cfg.Chain.GatewayURL,
		cfg.Chain.ServiceAddress,
		cfg.Chain.ServicePrivateKey,
		cfg.Chain.SealTimeout,
		cfg.Chain.PollInterval,
	)

	oracle := price.NewOracle(cfg.Price.FeedURL, cfg.Price.AssetID, cfg.Price.CacheTTL, cfg.Price.Timeout)

	paymentService := service.NewPaymentService(
		db, oracle, ledgerClient, redisClient, eventPublisher, keystore,
		cfg.Payment.Expiry, cfg.Payment.LockTTL,
	)
	walletService := service.NewWalletService(db, ledgerClient, keystore, eventPublisher)
	resourceService := service.NewResourceService(db)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	expiryWorker := worker.NewExpiryWorker(paymentService, cfg.Payment.SweepInterval)
	if err := expiryWorker.Start(workerCtx); err != nil {
		log.Fatalf("Failed to start expiry worker: %v", err)
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(paymentService, walletService, resourceService)
	handler.SetupRoutes(router, cfg.Auth.JWTSecret)

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
	expiryWorker.Stop()

	log.Println("Server exited")
}
