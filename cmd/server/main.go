package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/clock"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/config"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/database"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/events"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/handlers"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/interfaces"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/services"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/tracing"
)

const version = "1.0.0"

// stores groups the backends picked by store_backend
type stores struct {
	db       interfaces.DatabaseInterface
	ledger   interfaces.LedgerStore
	queue    interfaces.QueueStore
	lease    interfaces.Lease
	checkers map[string]handlers.HealthChecker
	close    func()
}

func setupLogging(cfg config.LogConfig, service string) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = log.With().Str("service", service).Logger()
	zerolog.DefaultContextLogger = &log.Logger
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Store == config.BackendMemory {
		log.Warn().Msg("Using in-memory stores, state is lost on restart and not shared between processes")
		return &stores{
			db:       database.NewMemoryDB(),
			ledger:   database.NewMemoryLedger(),
			queue:    database.NewMemoryQueue(),
			lease:    database.MemoryLease{},
			checkers: map[string]handlers.HealthChecker{},
			close:    func() {},
		}, nil
	}

	log.Info().Msg("Initializing PostgreSQL connection...")
	pgDB, err := database.NewPostgresDB(cfg.Postgres.URL)
	if err != nil {
		return nil, err
	}

	log.Info().Str("addr", cfg.Redis.Addr).Msg("Initializing Redis connection...")
	redisClient, err := database.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		pgDB.Close()
		return nil, err
	}

	return &stores{
		db:     pgDB,
		ledger: database.NewRedisLedger(redisClient),
		queue:  database.NewRedisQueue(redisClient),
		lease:  database.NewRedisLease(redisClient),
		checkers: map[string]handlers.HealthChecker{
			"postgres": pgDB,
			"redis":    redisClient,
		},
		close: func() {
			log.Info().Msg("Closing PostgreSQL connection...")
			pgDB.Close()
			log.Info().Msg("Closing Redis connection...")
			redisClient.Close()
		},
	}, nil
}

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	setupLogging(cfg.Log, cfg.Tracing.ServiceName)

	log.Info().
		Str("store_backend", cfg.Store).
		Str("redis", cfg.Redis.Addr).
		Str("port", cfg.Server.Port).
		Strs("kafka_brokers", cfg.Kafka.Brokers).
		Dur("hold_window", cfg.Checkout.HoldWindow).
		Bool("require_queue_admission", cfg.Checkout.RequireQueueAdmission).
		Bool("reject_pending_order_on_join", cfg.Queue.RejectPendingOrderOnJoin).
		Msg("Starting with configuration")

	tp, err := tracing.InitTracerProvider(cfg.Tracing.ServiceName, cfg.Tracing.JaegerEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tracing")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open stores")
	}
	defer st.close()

	var publisher interfaces.EventPublisher = events.NoopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		log.Info().Str("topic", cfg.Kafka.Topic).Msg("Publishing order events to Kafka")
	}

	// Initialize services
	log.Info().Msg("Initializing services...")
	clk := clock.NewSystem()

	catalog, err := services.NewCatalogService(cfg.Catalog.Products)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid product catalog")
	}
	ledger := services.NewLedgerService(st.ledger, st.db, clk,
		services.WithHoldWindow(cfg.Checkout.HoldWindow),
		services.WithReconcileGrace(cfg.Sweeper.ReconcileGrace),
	)
	queue := services.NewQueueService(st.queue, st.db, clk, cfg.Queue)
	checkout := services.NewCheckoutService(st.db, ledger, queue, publisher, clk, cfg.Checkout)
	sales := services.NewSaleService(st.db, ledger, checkout, catalog, clk)
	sweeper := services.NewSweeper(st.db, sales, checkout, queue, ledger, st.lease, clk, cfg.Sweeper)

	router := handlers.NewRouter(handlers.Handlers{
		Health:   handlers.NewHealthHandler(cfg.Tracing.ServiceName, version, st.checkers),
		Queue:    handlers.NewQueueHandler(queue, cfg.Queue.StreamInterval),
		Checkout: handlers.NewCheckoutHandler(checkout, catalog),
		Orders:   handlers.NewOrderHandler(checkout),
		Admin:    handlers.NewAdminHandler(sales),
	})

	// Configure HTTP server
	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	log.Info().Msg("Starting expiry sweeper...")
	sweeper.Start(ctx)

	go func() {
		log.Info().Str("addr", server.Addr).Msg("Flash sale server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// pending orders keep their durable deadline; the next sweeper run expires them
	checkout.Shutdown()
	sweeper.Stop()

	if err := publisher.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to flush order events")
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Failed to flush traces")
	}

	log.Info().Msg("Server exited")
}
