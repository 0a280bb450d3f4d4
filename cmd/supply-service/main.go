package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pharmalink/pharmalink-backend/internal/supply/consumers"
	"github.com/pharmalink/pharmalink-backend/internal/supply/events"
	"github.com/pharmalink/pharmalink-backend/internal/supply/handler"
	"github.com/pharmalink/pharmalink-backend/internal/supply/ledger"
	"github.com/pharmalink/pharmalink-backend/internal/supply/repository"
	"github.com/pharmalink/pharmalink-backend/internal/supply/service"
	"github.com/pharmalink/pharmalink-backend/pkg/actor"
	"github.com/pharmalink/pharmalink-backend/pkg/config"
	"github.com/pharmalink/pharmalink-backend/pkg/database"
	"github.com/pharmalink/pharmalink-backend/pkg/httputil"
	"github.com/pharmalink/pharmalink-backend/pkg/logger"
	"github.com/pharmalink/pharmalink-backend/pkg/messaging"
)

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation("supply-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New("supply-service", cfg.Server.Environment)
	log.Info().Msg("starting Supply Service")

	// Connect to database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Connect to RabbitMQ
	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	// Initialize event publisher
	publisher, err := events.NewSupplyEventPublisher(rmq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}

	// Initialize repositories
	batchRepo := repository.NewBatchRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	consumptionRepo := repository.NewConsumptionRepository(db)
	medicineRepo := repository.NewMedicineCacheRepository(db)

	// Initialize services
	stockLedger := ledger.New(db, batchRepo, log.Logger)
	orderService := service.NewOrderService(orderRepo, batchRepo, medicineRepo, stockLedger,
		publisher, log, cfg.Supply.DispatchMaxAttempts)
	batchService := service.NewBatchService(batchRepo, medicineRepo, publisher, log)
	inventoryService := service.NewInventoryService(orderRepo, consumptionRepo, log)

	// Initialize handlers
	orderHandler := handler.NewOrderHandler(orderService, log)
	batchHandler := handler.NewBatchHandler(batchService, log)
	inventoryHandler := handler.NewInventoryHandler(inventoryService, log)

	// Start catalog event consumer
	medicineConsumer, err := consumers.NewMedicineConsumer(rmq, medicineRepo, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create medicine consumer")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := medicineConsumer.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start medicine consumer")
	}

	// Start expiry scanner
	scanner := service.NewExpiryScanner(batchRepo, publisher, log, cfg.Supply.ExpiringWindowDays)
	scheduler := service.NewExpiryScheduler(scanner, cfg.Supply.ExpiryScanInterval, log)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "X-User-ID", "X-User-Role", "X-Organization", "X-User-Email"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(actor.Middleware) // Extract actor identity from gateway headers

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  "supply-service",
			"database": db.Health(r.Context()),
			"rabbitmq": rmq.Health(),
		})
	})

	// API routes
	r.Route("/api/v1/supply", func(r chi.Router) {
		batchHandler.Routes(r)
		orderHandler.Routes(r)
		inventoryHandler.Routes(r)
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Cancel context to stop the consumer and scheduler
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
