package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"ms-booking/internal/booking"
	"ms-booking/internal/booking/booking_api"
	bookingdb "ms-booking/internal/booking/db"
	bookingkafka "ms-booking/internal/booking/kafka"
	rediswrap "ms-booking/internal/booking/redis"
	"ms-booking/internal/catalog"
	"ms-booking/internal/config"
	"ms-booking/internal/database/migrations"
	"ms-booking/internal/discount"
	"ms-booking/internal/inventory"
	inventorydb "ms-booking/internal/inventory/db"
	"ms-booking/internal/kafka"
	"ms-booking/internal/logger"
	"ms-booking/internal/payment"
	"ms-booking/internal/pricing"
	"ms-booking/internal/sse"
	ticketdb "ms-booking/internal/tickets/db"
	ticketkafka "ms-booking/internal/tickets/kafka"
	"ms-booking/internal/tickets/qr"
	tickets "ms-booking/internal/tickets/service"
	"ms-booking/internal/tickets/ticket_api"
	"ms-booking/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"golang.org/x/sync/errgroup"
)

func connectPostgres(cfg config.DatabaseConfig, log *logger.Logger) *bun.DB {
	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.DSN)
		if err == nil {
			if err = sqldb.Ping(); err == nil {
				break
			}
		}
		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)
	log.Info("DATABASE", "PostgreSQL connection successful")

	return bun.NewDB(sqldb, pgdialect.New())
}

// connectRedis never fails startup: payment locking degrades and the sweeper
// covers hold expiry while Redis is away.
func connectRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("REDIS", fmt.Sprintf("Redis unreachable at %s: %v", cfg.Addr, err))
		return client
	}
	if err := client.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		log.Warn("REDIS", fmt.Sprintf("Failed to enable keyspace notifications: %v", err))
	}
	log.Info("REDIS", fmt.Sprintf("Redis connection successful to %s (DB: %d)", cfg.Addr, cfg.DB))
	return client
}

func main() {
	cfg, envLoaded := config.Load()

	log := logger.NewLogger(logger.Options{
		Dir:        cfg.Log.Dir,
		FilePrefix: cfg.Log.FilePrefix,
		MinLevel:   logger.ParseLevel(cfg.Log.Level),
	})
	defer log.Close()

	log.Info("APP", "Starting Booking Service initialization")
	if envLoaded {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	} else {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}
	if cfg.QR.SecretKey == "" {
		log.Fatal("CONFIG", "QR_SECRET_KEY not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bunDB := connectPostgres(cfg.Database, log)
	defer bunDB.Close()

	if cfg.Database.AutoMigrate {
		runner := migrations.NewRunner(bunDB, cfg.Database.MigrationsDir, log)
		if err := runner.Up(); err != nil {
			log.Fatal("DATABASE", fmt.Sprintf("Migration failed: %v", err))
		}
		runner.Close()
	}

	redisClient := connectRedis(ctx, cfg.Redis, log)
	defer redisClient.Close()

	// --- Kafka ---
	var publisher kafka.Publisher = kafka.NoopPublisher{}
	if cfg.Kafka.Enabled {
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, cfg.Kafka.Topics.All(), log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		publisher = kafka.NewProducer(cfg.Kafka.Brokers, log)
		log.Info("KAFKA", fmt.Sprintf("Kafka producer initialized for %v", cfg.Kafka.Brokers))
	} else {
		log.Warn("KAFKA", "Kafka disabled, lifecycle events are not published")
	}
	defer publisher.Close()

	// --- Payments ---
	registry := payment.NewRegistry(payment.ManualGateway{})
	var webhooks booking_api.WebhookParser
	if cfg.Payment.UPIPayeeVPA != "" {
		registry.Register(payment.NewUPIGateway(cfg.Payment.UPIPayeeVPA, cfg.Payment.UPIPayeeName))
	}
	if cfg.Payment.StripeSecretKey != "" {
		stripeGateway := payment.NewStripeGateway(cfg.Payment.StripeSecretKey, cfg.Payment.StripeWebhookSecret, log)
		registry.Register(stripeGateway)
		webhooks = stripeGateway
	}
	log.Info("PAYMENT", fmt.Sprintf("Payment methods enabled: %v", registry.Methods()))

	// --- Services ---
	redisLock := rediswrap.NewRedis(redisClient, log, cfg.Booking.PaymentLockTTL)
	ledger := inventory.NewLedger(&inventorydb.DB{Bun: bunDB}, log)
	discounts := discount.NewValidator(&discount.Store{Bun: bunDB}, log)
	bookingService := booking.NewBookingService(
		&bookingdb.DB{Bun: bunDB},
		ledger,
		pricing.NewEngine(cfg.Pricing.FeeRate, cfg.Pricing.MinimumFee),
		discounts,
		registry,
		redisLock,
		bookingkafka.NewBookingPublisher(publisher, cfg.Kafka.Topics),
		log,
		booking.WithHoldTTL(cfg.Booking.HoldTTL),
		booking.WithMaxTicketsPerOrder(cfg.Booking.MaxTicketsPerOrder),
		booking.WithCatalog(catalog.NewClient(cfg.Catalog.BaseURL, cfg.Catalog.Timeout, log)),
	)

	emitter := sse.NewCheckInEmitter()
	var checkIns tickets.CheckInPublisher = emitter
	if cfg.Kafka.Enabled {
		checkIns = ticketkafka.NewCheckInPublisher(publisher, cfg.Kafka.Topics.TicketCheckedIn)
	}
	ticketService := tickets.NewTicketService(&ticketdb.DB{Bun: bunDB}, qr.NewQRGenerator(cfg.QR.SecretKey), checkIns, log)

	// --- Router ---
	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(utils.AccessLog(log))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := bunDB.PingContext(r.Context()); err != nil {
			utils.WriteError(w, http.StatusServiceUnavailable, "Database unavailable", err)
			return
		}
		utils.WriteSuccess(w, http.StatusOK, "ok", nil)
	})
	r.Handle("/metrics", promhttp.Handler())

	booking_api.NewHandler(bookingService, ledger, webhooks, registry, log).Routes(r)
	ticket_api.NewHandler(ticketService, emitter, log).Routes(r)

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	// requests inherit gctx so open SSE streams end on shutdown
	server.BaseContext = func(net.Listener) context.Context { return gctx }

	g.Go(func() error {
		log.Info("HTTP", fmt.Sprintf("Booking Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return booking.NewSweeper(bookingService, cfg.Booking.SweepInterval, log).Run(gctx)
	})

	g.Go(func() error {
		if err := redisLock.SubscribeExpirations(gctx, bookingService.OnHoldMarkerExpired); err != nil {
			log.Warn("REDIS", fmt.Sprintf("Hold expiry notifications unavailable, relying on the sweeper: %v", err))
		}
		return nil
	})

	if cfg.Kafka.Enabled {
		// every instance reads every check-in so its own SSE clients see all doors
		groupID := fmt.Sprintf("ms-booking-checkins-%s", uuid.New().String())
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.TicketCheckedIn, groupID, log)
		g.Go(func() error {
			return consumer.Run(gctx, ticketkafka.Relay(emitter))
		})
	}

	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	if err := g.Wait(); err != nil {
		log.Error("APP", fmt.Sprintf("Service stopped with error: %v", err))
		return
	}
	log.Info("HTTP", "Booking Service shutdown complete")
}
