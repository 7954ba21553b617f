package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"

	cfg "github.com/autorenta/p2p-reconciler/config"
	"github.com/autorenta/p2p-reconciler/internal/adapters/bridge"
	"github.com/autorenta/p2p-reconciler/internal/clock"
	"github.com/autorenta/p2p-reconciler/internal/core/ports"
	"github.com/autorenta/p2p-reconciler/internal/handlers"
	"github.com/autorenta/p2p-reconciler/internal/notify"
	"github.com/autorenta/p2p-reconciler/internal/safety"
	"github.com/autorenta/p2p-reconciler/internal/usecases"
	"github.com/autorenta/p2p-reconciler/internal/usecases/mocked"
	repository "github.com/autorenta/p2p-reconciler/internal/usecases/repository"
	"github.com/autorenta/p2p-reconciler/internal/workers"
	"github.com/autorenta/p2p-reconciler/pkg/database"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// Server timeout constants.
const (
	readTimeoutSeconds     = 15
	writeTimeoutSeconds    = 15
	idleTimeoutSeconds     = 60
	shutdownTimeoutSeconds = 5
)

func main() {
	time.Local = time.UTC

	// Parse configuration
	config, err := cfg.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	// Setup logging
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if config.App.Debug {
		opts.Level = slog.LevelDebug
	}

	// Locate migrations relative to the working directory
	migrationsPath := "./migrations"
	if workDir, err := os.Getwd(); err == nil {
		if _, err := os.Stat(filepath.Join(workDir, "migrations")); !os.IsNotExist(err) {
			migrationsPath = filepath.Join(workDir, "migrations")
		} else if _, err := os.Stat(filepath.Join(workDir, "..", "migrations")); !os.IsNotExist(err) {
			migrationsPath = filepath.Join(workDir, "..", "migrations")
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, opts))
	logger.Warn("Starting reconciler with configuration",
		"debug", config.App.Debug,
		"dry_run", config.Daemon.DryRun,
		"poll_interval_seconds", config.Daemon.PollIntervalSeconds,
		"server_port", config.HTTP.Port,
		"bridge_mock", config.Bridge.Mock)

	// Connect to Database
	pg, err := database.New(config.DB.DatabaseURL,
		database.MaxPoolSize(config.DB.PoolMax),
		database.ConnTimeout(config.DB.ConnectTimeout),
		database.HealthCheckPeriod(config.DB.HealthCheckPeriod),
		database.Isolation(pgx.ReadCommitted),
	)
	if err != nil {
		slog.Error("postgres connection failed", slog.String("error", err.Error()))
		return
	}
	defer pg.Close()

	// Run database migrations
	logger.Info("Running database migrations", "path", migrationsPath)
	if err = database.RunMigrations(logger, config.DB.DatabaseURL, migrationsPath); err != nil {
		logger.Error("Failed to run database migrations", "error", err)
		log.Fatal(err)
	}
	logger.Info("Database migrations completed successfully")

	// Create repositories and safety components
	recordsRepository := repository.NewRecordsRepository(logger, pg)

	limiter := safety.NewTransferRateLimiter(safety.Limits{
		MaxPerMinute:   config.Limits.MaxPerMinute,
		MaxPerHour:     config.Limits.MaxPerHour,
		MaxDailyAmount: config.Limits.MaxDailyAmount,
	}, clock.NewSystem())
	locks := safety.NewOrderProcessingLock()

	var notifier ports.Notifier = notify.NewDesktopNotifier(logger,
		config.Notifications.Sound, config.Notifications.Desktop)
	if !config.Notifications.Sound && !config.Notifications.Desktop {
		notifier = notify.NopNotifier{}
	}

	// The bridge drives the real order-book and payment-site sessions; the
	// mocked order book keeps local runs self-contained.
	var source ports.OrderSource
	var executor ports.PaymentExecutor
	if config.Bridge.Mock {
		orderBook := mocked.NewOrderBook(logger)
		source, executor = orderBook, orderBook
	} else {
		client := bridge.NewClient(logger, config.Bridge.BaseURL,
			time.Duration(config.Bridge.RequestTimeoutSeconds)*time.Second)
		source, executor = client, client
	}

	// Create handlers
	eventsManager := handlers.NewEventsManager(logger)
	httpHandler := handlers.NewHTTPHandler(logger, recordsRepository, limiter, locks)

	reconciler := usecases.NewReconciler(
		logger,
		usecases.ReconcilerConfig{
			MaxAttempts:            config.Daemon.MaxAttempts,
			ConfirmationWait:       time.Duration(config.Daemon.ConfirmationWaitSeconds) * time.Second,
			MaxSingleAmount:        config.Limits.MaxSingleAmount,
			WorkerPoolSize:         config.Daemon.WorkerPoolSize,
			VerifyIncomingWindow:   time.Duration(config.Daemon.VerifyWindowMinutes) * time.Minute,
			AmountTolerancePercent: config.Daemon.AmountTolerancePercent,
			DryRun:                 config.Daemon.DryRun,
		},
		clock.NewSystem(),
		source,
		executor,
		recordsRepository,
		limiter,
		locks,
		notifier,
		eventsManager,
	)

	// Run the reconciliation worker
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()

	worker := workers.NewReconcilerWorker(
		logger,
		reconciler,
		notifier,
		time.Duration(config.Daemon.PollIntervalSeconds)*time.Second,
		config.Daemon.ErrorPauseThreshold,
		time.Duration(config.Daemon.ErrorPauseMinutes)*time.Minute,
	)
	go worker.Start(workerCtx)

	// Create router
	router := mux.NewRouter()

	// Register WebSocket routes before HTTP routes
	eventsManager.RegisterRoutes(router)
	httpHandler.RegisterRoutes(router)

	// Configure CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	// Wrap router in CORS middleware
	handler := c.Handler(router)

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         ":" + config.HTTP.Port,
		Handler:      handler,
		ReadTimeout:  readTimeoutSeconds * time.Second,
		WriteTimeout: writeTimeoutSeconds * time.Second,
		IdleTimeout:  idleTimeoutSeconds * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Starting ops server", "address", server.Addr)
		if err = server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			log.Fatal(err)
		}
	}()

	// Set up graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down...")

	// Stop the poll loop first so no new transfers start mid-shutdown.
	stopWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeoutSeconds*time.Second)
	defer cancel()

	if err = server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		return
	}

	logger.Info("Reconciler exited properly")
}
